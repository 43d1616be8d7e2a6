package sink

import (
	"TrafficLens/internal/model"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSSink publishes JSON events on NATS subjects.
type NATSSink struct {
	nc             *nats.Conn
	statsSubject   string
	anomalySubject string
	logger         *zap.Logger
}

// NewNATSSink publishes on an existing connection. Empty subjects disable
// the corresponding events.
func NewNATSSink(nc *nats.Conn, statsSubject, anomalySubject string, logger *zap.Logger) *NATSSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSSink{
		nc:             nc,
		statsSubject:   statsSubject,
		anomalySubject: anomalySubject,
		logger:         logger.Named("nats-sink"),
	}
}

// PublishSnapshot implements model.Sink.
func (s *NATSSink) PublishSnapshot(snap model.StatsSnapshot) {
	if s.statsSubject == "" {
		return
	}
	data, err := encodeSnapshot(snap)
	if err != nil {
		s.logger.Error("Failed to encode snapshot", zap.Error(err))
		return
	}
	s.publish(s.statsSubject, data)
}

// PublishAnomaly implements model.Sink.
func (s *NATSSink) PublishAnomaly(a model.Anomaly) {
	if s.anomalySubject == "" {
		return
	}
	data, err := encodeAnomaly(a)
	if err != nil {
		s.logger.Error("Failed to encode anomaly", zap.Error(err))
		return
	}
	s.publish(s.anomalySubject, data)
}

func (s *NATSSink) publish(subject string, data []byte) {
	if err := s.nc.Publish(subject, data); err != nil {
		s.logger.Warn("Failed to publish event", zap.String("subject", subject), zap.Error(err))
	}
}
