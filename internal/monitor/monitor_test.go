package monitor

import (
	"context"
	"testing"
	"time"

	"TrafficLens/internal/aggregate"
	"TrafficLens/internal/config"
	"TrafficLens/internal/coordinator"
	"TrafficLens/internal/model"
)

type sliceSource struct {
	records []model.PacketRecord
}

func (s sliceSource) Name() string { return "test" }

func (s sliceSource) Run(ctx context.Context, emit func(model.PacketRecord)) error {
	for _, r := range s.records {
		emit(r)
	}
	<-ctx.Done()
	return nil
}

func TestMonitor_EndToEnd(t *testing.T) {
	cfg := config.Default()
	cfg.Server.ListenAddr = "127.0.0.1:0"
	cfg.Publisher.Interval = "10ms"
	cfg.Alerts.SuspiciousAddresses = []string{"10.6.6.6"}
	cfg.Session.ExportDir = t.TempDir()
	cfg.Session.Formats = []string{"csv"}

	m, err := New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer m.Shutdown(context.Background())

	recs := []model.PacketRecord{
		{Timestamp: time.Now(), SrcAddr: "10.6.6.6", DstAddr: "10.0.0.1", Protocol: model.ProtocolTCP, Size: 120},
		{Timestamp: time.Now(), SrcAddr: "10.0.0.2", DstAddr: "10.0.0.1", Protocol: model.ProtocolUDP, Size: 80},
	}
	if _, err := m.Coordinator.Start(context.Background(), coordinator.StartRequest{
		SessionName: "e2e",
		Sources:     []model.CaptureSource{sliceSource{records: recs}},
	}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		snap := m.Store.Snapshot(aggregate.Limits{})
		if len(snap.Anomalies) > 0 {
			if snap.Anomalies[0].RelatedAddress != "10.6.6.6" {
				t.Errorf("Unexpected anomaly %+v", snap.Anomalies[0])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Publisher never evaluated the watchlist")
		}
		time.Sleep(10 * time.Millisecond)
	}

	fin, err := m.Coordinator.Stop()
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if fin.PacketCount != 2 {
		t.Errorf("Expected 2 recorded packets, got %d", fin.PacketCount)
	}
}
