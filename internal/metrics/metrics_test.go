package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.PacketsAccepted.Add(3)
	m.Anomalies.WithLabelValues("HIGH_TRAFFIC").Inc()

	if got := testutil.ToFloat64(m.PacketsAccepted); got != 3 {
		t.Errorf("Expected 3 accepted packets, got %v", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "trafficlens_anomalies_total" {
			found = true
		}
	}
	if !found {
		t.Errorf("trafficlens_anomalies_total not registered")
	}
}
