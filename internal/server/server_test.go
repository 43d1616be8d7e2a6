package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"TrafficLens/internal/aggregate"
	"TrafficLens/internal/anomaly"
	"TrafficLens/internal/capture"
	"TrafficLens/internal/coordinator"
	"TrafficLens/internal/filter"
	"TrafficLens/internal/metrics"
	"TrafficLens/internal/model"
	"TrafficLens/internal/session"

	"github.com/prometheus/client_golang/prometheus"
)

type idleSource struct{ name string }

func (s idleSource) Name() string { return s.name }

func (s idleSource) Run(ctx context.Context, _ func(model.PacketRecord)) error {
	<-ctx.Done()
	return nil
}

func idleSources(specs []string) ([]model.CaptureSource, error) {
	var out []model.CaptureSource
	for _, spec := range specs {
		if strings.HasPrefix(spec, "bad") {
			return nil, fmt.Errorf("unknown capture source %q", spec)
		}
		out = append(out, idleSource{name: spec})
	}
	return out, nil
}

type fakeQuerier struct{}

func (fakeQuerier) QueryPackets(ctx context.Context, from, to time.Time, limit int) ([]model.PacketRecord, error) {
	return []model.PacketRecord{{SrcAddr: "10.0.0.1"}}, nil
}

func (fakeQuerier) QueryStats(ctx context.Context, from, to time.Time, limit int) ([]model.StatsSummary, error) {
	return []model.StatsSummary{{TotalPackets: uint64(limit)}}, nil
}

func (fakeQuerier) QueryAnomalies(ctx context.Context, from, to time.Time, limit int) ([]model.Anomaly, error) {
	return nil, nil
}

type fixture struct {
	srv   *httptest.Server
	store *aggregate.Store
	coord *coordinator.Coordinator
}

func newFixture(t *testing.T, querier model.Querier) *fixture {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	store := aggregate.New()
	engine := anomaly.NewEngine(anomaly.Config{}, nil, nil, m)
	holder := filter.NewHolder(filter.Config{})
	coord := coordinator.New(coordinator.Pipeline{
		Filter:   holder,
		Store:    store,
		Engine:   engine,
		Recorder: session.NewRecorder(),
	}, nil, m)

	s := New(Deps{
		Coordinator:    coord,
		Store:          store,
		Filter:         holder,
		Engine:         engine,
		Sources:        idleSources,
		DefaultSources: []string{"pcap:lo"},
		Querier:        querier,
		Gatherer:       reg,
		Interfaces: func(context.Context) ([]capture.Interface, error) {
			return []capture.Interface{{Name: "lo", Loopback: true, Up: true}}, nil
		},
	}, nil)

	f := &fixture{srv: httptest.NewServer(s.Router()), store: store, coord: coord}
	t.Cleanup(func() {
		f.srv.Close()
		coord.ForceReset()
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var out map[string]any
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("Invalid JSON from %s: %v\n%s", path, err, raw)
		}
	}
	return resp.StatusCode, out
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	code, body := f.do(t, http.MethodGet, "/healthz", "")
	if code != http.StatusOK || body["state"] != "idle" {
		t.Errorf("Unexpected health response %d %v", code, body)
	}
}

func TestCaptureLifecycle(t *testing.T) {
	f := newFixture(t, nil)

	code, body := f.do(t, http.MethodPost, "/api/capture/start", `{"session_name":"S1"}`)
	if code != http.StatusOK {
		t.Fatalf("Start failed: %d %v", code, body)
	}
	if sess := body["session"].(map[string]any); sess["name"] != "S1" {
		t.Errorf("Unexpected session %v", sess)
	}

	code, body = f.do(t, http.MethodGet, "/api/capture/status", "")
	if code != http.StatusOK || body["state"] != "running" {
		t.Errorf("Expected running status, got %d %v", code, body)
	}

	code, body = f.do(t, http.MethodPost, "/api/capture/start", `{"session_name":"S2","interfaces":["pcap:eth0","pcap:eth1"]}`)
	if code != http.StatusOK {
		t.Fatalf("Restart failed: %d %v", code, body)
	}

	code, body = f.do(t, http.MethodPost, "/api/capture/stop", "")
	if code != http.StatusOK {
		t.Fatalf("Stop failed: %d %v", code, body)
	}
	if sess := body["session"].(map[string]any); sess["name"] != "S2" {
		t.Errorf("Expected S2 to be stopped, got %v", sess)
	}

	code, body = f.do(t, http.MethodPost, "/api/capture/stop", "")
	if code != http.StatusConflict || body["status"] != "error" {
		t.Errorf("Expected 409 for stop when idle, got %d %v", code, body)
	}
}

func TestCaptureStart_BadSource(t *testing.T) {
	f := newFixture(t, nil)
	code, body := f.do(t, http.MethodPost, "/api/capture/start", `{"interfaces":["bad:x"]}`)
	if code != http.StatusBadRequest || !strings.Contains(body["message"].(string), "bad:x") {
		t.Errorf("Expected 400 naming the source, got %d %v", code, body)
	}
	code, _ = f.do(t, http.MethodPost, "/api/capture/start", `{not json`)
	if code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed body, got %d", code)
	}
}

func TestCaptureReset(t *testing.T) {
	f := newFixture(t, nil)
	f.do(t, http.MethodPost, "/api/capture/start", "")
	code, body := f.do(t, http.MethodPost, "/api/capture/reset", "")
	if code != http.StatusOK || f.coord.State() != coordinator.Idle {
		t.Errorf("Reset failed: %d %v (state %s)", code, body, f.coord.State())
	}
}

func TestStats(t *testing.T) {
	f := newFixture(t, nil)
	f.store.RecordAccepted(model.PacketRecord{SrcAddr: "10.0.0.1", DstAddr: "10.0.0.2", Protocol: model.ProtocolTCP, Size: 100})

	code, body := f.do(t, http.MethodGet, "/api/stats", "")
	if code != http.StatusOK || body["total_packets"] != float64(1) || body["capture_state"] != "idle" {
		t.Errorf("Unexpected stats %d %v", code, body)
	}
}

func TestFilters(t *testing.T) {
	f := newFixture(t, nil)

	code, body := f.do(t, http.MethodPut, "/api/filters", `{"protocol_filter":"udp","port_filter":"not-a-port"}`)
	if code != http.StatusOK || body["status"] != "partial" {
		t.Fatalf("Expected partial update, got %d %v", code, body)
	}
	if ignored := body["ignored"].(map[string]any); ignored["port_filter"] == nil {
		t.Errorf("port_filter should be reported as ignored: %v", ignored)
	}

	code, body = f.do(t, http.MethodGet, "/api/filters", "")
	if code != http.StatusOK || body["protocol_filter"] != "udp" || body["enabled"] != true {
		t.Errorf("Unexpected filters %d %v", code, body)
	}
}

func TestAlerts(t *testing.T) {
	f := newFixture(t, nil)

	code, body := f.do(t, http.MethodPut, "/api/alerts", `{"high_traffic_threshold":250,"suspicious_ips":["10.6.6.6"]}`)
	if code != http.StatusOK || body["status"] != "success" {
		t.Fatalf("Update failed: %d %v", code, body)
	}
	code, body = f.do(t, http.MethodGet, "/api/alerts", "")
	if code != http.StatusOK || body["high_traffic_threshold"] != float64(250) {
		t.Errorf("Unexpected alerts %d %v", code, body)
	}
}

func TestInterfaces(t *testing.T) {
	f := newFixture(t, nil)
	code, body := f.do(t, http.MethodGet, "/api/interfaces", "")
	if code != http.StatusOK || len(body["interfaces"].([]any)) != 1 {
		t.Errorf("Unexpected interfaces %d %v", code, body)
	}
}

func TestHistory(t *testing.T) {
	f := newFixture(t, nil)
	if code, _ := f.do(t, http.MethodGet, "/api/history/stats", ""); code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 without storage, got %d", code)
	}

	f = newFixture(t, fakeQuerier{})
	code, body := f.do(t, http.MethodGet, "/api/history/stats?from=1700000000&to=2024-01-02T00:00:00Z&limit=7", "")
	if code != http.StatusOK {
		t.Fatalf("History failed: %d %v", code, body)
	}
	rows := body["rows"].([]any)
	if len(rows) != 1 || rows[0].(map[string]any)["total_packets"] != float64(7) {
		t.Errorf("Unexpected rows %v", rows)
	}

	if code, _ := f.do(t, http.MethodGet, "/api/history/stats?from=yesterday", ""); code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid from, got %d", code)
	}
	if code, _ := f.do(t, http.MethodGet, "/api/history/flows", ""); code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown history kind, got %d", code)
	}
}

func TestMetrics(t *testing.T) {
	f := newFixture(t, nil)
	resp, err := http.Get(f.srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(raw), "trafficlens_capture_state") {
		t.Errorf("Metrics output missing capture state gauge")
	}
}
