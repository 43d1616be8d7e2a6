package main

import (
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"TrafficLens/internal/config"
	"TrafficLens/internal/logging"
	"TrafficLens/internal/scoring"

	"go.uber.org/zap"
	"google.golang.org/grpc"
)

func main() {
	configFile := flag.String("config", "configs/config.yaml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	lis, err := net.Listen("tcp", cfg.Scorer.GRPCListenAddr)
	if err != nil {
		logger.Fatal("Failed to listen", zap.String("addr", cfg.Scorer.GRPCListenAddr), zap.Error(err))
	}

	s := grpc.NewServer()
	scoring.RegisterScorerServer(s, scoring.NewZScoreScorer(cfg.Scorer.ZThreshold))

	go func() {
		logger.Info("Outlier scorer gRPC server starting", zap.String("addr", cfg.Scorer.GRPCListenAddr))
		if err := s.Serve(lis); err != nil {
			logger.Fatal("Failed to serve gRPC", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Scorer shutting down")
	s.GracefulStop()
}
