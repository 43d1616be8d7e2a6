package probe

import (
	"fmt"

	"TrafficLens/internal/model"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// PacketHandler processes a received record.
type PacketHandler func(rec model.PacketRecord)

// Subscriber receives packet records from a NATS subject.
type Subscriber struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	subject string
	ownConn bool
	logger  *zap.Logger
}

// NewSubscriber connects to the NATS server at url.
func NewSubscriber(url, subject string, logger *zap.Logger) (*Subscriber, error) {
	nc, err := nats.Connect(url, nats.Name("trafficlens-subscriber"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	s := NewSubscriberWithConn(nc, subject, logger)
	s.ownConn = true
	s.logger.Info("Connected to NATS server", zap.String("url", url))
	return s, nil
}

// NewSubscriberWithConn uses an existing connection; Close leaves it open.
func NewSubscriberWithConn(nc *nats.Conn, subject string, logger *zap.Logger) *Subscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subscriber{nc: nc, subject: subject, logger: logger.Named("probe-subscriber")}
}

// Start subscribes and invokes handler for every decodable record.
// Undecodable messages are logged and skipped.
func (s *Subscriber) Start(handler PacketHandler) error {
	sub, err := s.nc.Subscribe(s.subject, func(msg *nats.Msg) {
		rec, err := Decode(msg.Data)
		if err != nil {
			s.logger.Warn("Dropping undecodable packet record", zap.Error(err))
			return
		}
		handler(rec)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.subject, err)
	}
	s.sub = sub
	s.logger.Info("Subscribed, waiting for messages", zap.String("subject", s.subject))
	return nil
}

// Close unsubscribes and, if the subscriber dialed it, closes the connection.
func (s *Subscriber) Close() {
	if s.sub != nil {
		if err := s.sub.Unsubscribe(); err != nil {
			s.logger.Warn("Failed to unsubscribe", zap.Error(err))
		}
	}
	if s.ownConn && s.nc != nil {
		s.nc.Close()
		s.logger.Info("NATS connection closed")
	}
}
