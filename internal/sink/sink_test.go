package sink

import (
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"TrafficLens/internal/model"

	"github.com/gorilla/websocket"
)

type countingSink struct {
	snapshots, anomalies int
}

func (c *countingSink) PublishSnapshot(model.StatsSnapshot) { c.snapshots++ }
func (c *countingSink) PublishAnomaly(model.Anomaly)        { c.anomalies++ }

func TestFanout(t *testing.T) {
	a, b := &countingSink{}, &countingSink{}
	f := Fanout{a, b}
	f.PublishSnapshot(model.StatsSnapshot{})
	f.PublishAnomaly(model.Anomaly{})
	f.PublishAnomaly(model.Anomaly{})

	for _, s := range []*countingSink{a, b} {
		if s.snapshots != 1 || s.anomalies != 2 {
			t.Errorf("Expected 1 snapshot and 2 anomalies, got %d/%d", s.snapshots, s.anomalies)
		}
	}
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(url, "http"), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	return conn
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d observers, have %d", n, h.Clients())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_Broadcast(t *testing.T) {
	hub := NewHub(nil, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	c1, c2 := dial(t, srv.URL), dial(t, srv.URL)
	defer c1.Close()
	defer c2.Close()
	waitClients(t, hub, 2)

	hub.PublishSnapshot(model.StatsSnapshot{TotalPackets: 42})
	hub.PublishAnomaly(model.Anomaly{Kind: model.KindHighTraffic, Message: "burst"})

	for _, c := range []*websocket.Conn{c1, c2} {
		c.SetReadDeadline(time.Now().Add(2 * time.Second))

		var stats struct {
			Type string              `json:"type"`
			Data model.StatsSnapshot `json:"data"`
		}
		if err := c.ReadJSON(&stats); err != nil {
			t.Fatalf("Failed to read snapshot: %v", err)
		}
		if stats.Type != EventStats || stats.Data.TotalPackets != 42 {
			t.Errorf("Unexpected snapshot event: %+v", stats)
		}

		var alert struct {
			Type string        `json:"type"`
			Data model.Anomaly `json:"data"`
		}
		if err := c.ReadJSON(&alert); err != nil {
			t.Fatalf("Failed to read anomaly: %v", err)
		}
		if alert.Type != EventAnomaly || alert.Data.Message != "burst" {
			t.Errorf("Unexpected anomaly event: %+v", alert)
		}
	}
}

func TestHub_ClientDisconnect(t *testing.T) {
	hub := NewHub(nil, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	c := dial(t, srv.URL)
	waitClients(t, hub, 1)
	c.Close()
	waitClients(t, hub, 0)

	// publishing with no observers is a no-op
	hub.PublishSnapshot(model.StatsSnapshot{})
}

type fakeNotifier struct {
	mu       sync.Mutex
	subjects []string
	err      error
}

func (f *fakeNotifier) Send(subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects = append(f.subjects, subject)
	return f.err
}

func TestNotifySink_SeverityThreshold(t *testing.T) {
	n := &fakeNotifier{}
	s := NewNotifySink(n, model.SeverityAlert, nil)

	s.PublishSnapshot(model.StatsSnapshot{})
	s.PublishAnomaly(model.Anomaly{Kind: model.KindSuspiciousAddress, Severity: model.SeverityWarning})
	s.PublishAnomaly(model.Anomaly{Kind: model.KindHighTraffic, Severity: model.SeverityAlert})
	s.PublishAnomaly(model.Anomaly{Kind: model.KindStatisticalOutlier, Severity: model.SeverityCritical, Message: "<script>"})
	s.Close()

	if len(n.subjects) != 2 {
		t.Fatalf("Expected 2 notifications, got %v", n.subjects)
	}
	if n.subjects[0] != "[TrafficLens ALERT] HIGH_TRAFFIC" {
		t.Errorf("Unexpected subject %q", n.subjects[0])
	}
}

func TestNotifySink_SendFailureIsLogged(t *testing.T) {
	n := &fakeNotifier{err: errors.New("smtp down")}
	s := NewNotifySink(n, model.SeverityWarning, nil)
	s.PublishAnomaly(model.Anomaly{Kind: model.KindHighTraffic})
	s.Close()

	if len(n.subjects) != 1 {
		t.Errorf("Expected one attempt, got %d", len(n.subjects))
	}
}

func TestFormatAnomalyEscapesHTML(t *testing.T) {
	_, body := formatAnomaly(model.Anomaly{Message: "<b>x</b>"})
	if strings.Contains(body, "<b>x</b>") {
		t.Errorf("Message should be escaped: %s", body)
	}
}
