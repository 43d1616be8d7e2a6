package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"TrafficLens/internal/capture"
	"TrafficLens/internal/config"
	"TrafficLens/internal/coordinator"
	"TrafficLens/internal/logging"
	"TrafficLens/internal/model"
	"TrafficLens/internal/monitor"

	"go.uber.org/zap"
)

func main() {
	configFile := flag.String("config", "configs/config.yaml", "Path to the configuration file")
	name := flag.String("session", "", "Session name for the exported recording")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: pcap-analyzer [flags] <path_to_pcap_file>")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}
	path := flag.Arg(0)

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

	ctx := context.Background()
	m, err := monitor.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to build monitor", zap.Error(err))
	}
	defer m.Shutdown(ctx)

	src := capture.NewFileSource(path, capture.Options{SnapshotLen: cfg.Capture.SnapshotLen, Logger: logger})
	if *name == "" {
		*name = "replay"
	}
	if _, err := m.Coordinator.Start(ctx, coordinator.StartRequest{SessionName: *name, Sources: []model.CaptureSource{src}}); err != nil {
		logger.Fatal("Failed to start replay", zap.Error(err))
	}
	logger.Info("Reading packets", zap.String("file", path))

	<-m.Coordinator.Done()
	snap := m.Publisher.Tick(ctx)

	fin, err := m.Coordinator.Stop()
	if err != nil {
		logger.Fatal("Failed to stop replay", zap.Error(err))
	}
	report(snap, fin)
	for _, e := range m.Coordinator.Errors() {
		logger.Warn("Source reported an error", zap.Error(e))
	}
}

func report(snap model.StatsSnapshot, fin model.FinalizedSession) {
	fmt.Printf("Session %s (%s): %d packets recorded\n", fin.Name, fin.ID, fin.PacketCount)
	fmt.Printf("Total: %d packets, %d bytes\n", snap.TotalPackets, snap.TotalBytes)
	for proto, n := range snap.ProtocolCounts {
		fmt.Printf("  protocol %3d: %d\n", proto, n)
	}
	fmt.Println("Top talkers:")
	for _, a := range snap.TopTalkers {
		fmt.Printf("  %-40s sent=%d recv=%d bytes=%d\n", a.Address, a.Sent, a.Received, a.BytesTotal)
	}
	fmt.Printf("Anomalies: %d\n", len(snap.Anomalies))
	for _, a := range snap.Anomalies {
		fmt.Printf("  [%s] %s %s\n", a.Severity, a.Kind, a.Message)
	}
}
