package sink

import (
	"time"

	"TrafficLens/internal/model"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Event types sent to observers.
const (
	EventStats   = "stats_update"
	EventAnomaly = "new_alert"
)

// Event is the envelope every observer message is wrapped in.
type Event struct {
	Type   string    `json:"type"`
	SentAt time.Time `json:"sent_at"`
	Data   any       `json:"data"`
}

func encodeSnapshot(snap model.StatsSnapshot) ([]byte, error) {
	return json.Marshal(Event{Type: EventStats, SentAt: time.Now(), Data: snap})
}

func encodeAnomaly(a model.Anomaly) ([]byte, error) {
	return json.Marshal(Event{Type: EventAnomaly, SentAt: time.Now(), Data: a})
}

// Fanout forwards every event to each of its sinks in order.
type Fanout []model.Sink

// PublishSnapshot implements model.Sink.
func (f Fanout) PublishSnapshot(snap model.StatsSnapshot) {
	for _, s := range f {
		s.PublishSnapshot(snap)
	}
}

// PublishAnomaly implements model.Sink.
func (f Fanout) PublishAnomaly(a model.Anomaly) {
	for _, s := range f {
		s.PublishAnomaly(a)
	}
}
