package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"TrafficLens/internal/capture"
	"TrafficLens/internal/config"
	"TrafficLens/internal/logging"
	"TrafficLens/internal/model"
	"TrafficLens/internal/probe"

	"go.uber.org/zap"
)

func main() {
	mode := flag.String("mode", "sub", "Operating mode: 'pub' to capture and publish, 'sub' to subscribe and print.")
	iface := flag.String("iface", "", "Interface to capture packets from (required for pub mode).")
	file := flag.String("file", "", "Replay a pcap file instead of a live interface (pub mode).")
	configFile := flag.String("config", "configs/config.yaml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg.ApplyEnv()
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch *mode {
	case "pub":
		runProbe(ctx, cfg, logger, *iface, *file)
	case "sub":
		runSubscriber(ctx, cfg, logger)
	default:
		fmt.Fprintf(os.Stderr, "Invalid mode: %s\n", *mode)
		flag.Usage()
		os.Exit(1)
	}
}

// runProbe captures packets and publishes the parsed records to NATS.
func runProbe(ctx context.Context, cfg *config.Config, logger *zap.Logger, iface, file string) {
	opts := capture.Options{
		SnapshotLen: cfg.Capture.SnapshotLen,
		Promiscuous: cfg.Capture.Promiscuous,
		ReadTimeout: config.Duration(cfg.Capture.ReadTimeout),
		Logger:      logger,
	}
	var src *capture.PcapSource
	switch {
	case file != "":
		src = capture.NewFileSource(file, opts)
	case iface != "":
		src = capture.NewLiveSource(iface, opts)
	default:
		fmt.Fprintln(os.Stderr, "Error: -iface or -file is required for pub mode.")
		flag.Usage()
		os.Exit(1)
	}

	pub, err := probe.NewPublisher(cfg.NATS.URL, cfg.NATS.PacketSubject, logger)
	if err != nil {
		logger.Fatal("Failed to connect to NATS", zap.Error(err))
	}
	defer pub.Close()

	logger.Info("Capture started, publishing packets", zap.String("source", src.Name()), zap.String("subject", cfg.NATS.PacketSubject))
	published := 0
	err = src.Run(ctx, func(rec model.PacketRecord) {
		if err := pub.Publish(rec); err != nil {
			logger.Warn("Failed to publish packet", zap.Error(err))
			return
		}
		published++
		if published%1000 == 0 {
			logger.Info("Packets published", zap.Int("count", published))
		}
	})
	if err != nil {
		logger.Error("Capture stopped with error", zap.Error(err))
	}
	if err := pub.Flush(); err != nil {
		logger.Warn("Failed to flush publisher", zap.Error(err))
	}
	logger.Info("Probe stopped", zap.Int("published", published))
}

// runSubscriber prints every record seen on the packet subject.
func runSubscriber(ctx context.Context, cfg *config.Config, logger *zap.Logger) {
	sub, err := probe.NewSubscriber(cfg.NATS.URL, cfg.NATS.PacketSubject, logger)
	if err != nil {
		logger.Fatal("Failed to create subscriber", zap.Error(err))
	}
	defer sub.Close()

	err = sub.Start(func(rec model.PacketRecord) {
		fmt.Printf("%s %s -> %s proto=%d %d bytes\n", rec.Timestamp.Format("15:04:05.000"), rec.SrcAddr, rec.DstAddr, rec.Protocol, rec.Size)
	})
	if err != nil {
		logger.Fatal("Subscriber failed to start", zap.Error(err))
	}
	<-ctx.Done()
	logger.Info("Shutdown signal received, cleaning up")
}
