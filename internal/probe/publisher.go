package probe

import (
	"fmt"

	"TrafficLens/internal/model"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Publisher publishes packet records to a NATS subject.
type Publisher struct {
	nc      *nats.Conn
	subject string
	logger  *zap.Logger
}

// NewPublisher connects to the NATS server at url.
func NewPublisher(url, subject string, logger *zap.Logger) (*Publisher, error) {
	nc, err := nats.Connect(url, nats.Name("trafficlens-probe"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("Connected to NATS server", zap.String("url", url), zap.String("subject", subject))
	return NewPublisherWithConn(nc, subject, logger), nil
}

// NewPublisherWithConn wraps an existing connection. Close drains it.
func NewPublisherWithConn(nc *nats.Conn, subject string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{nc: nc, subject: subject, logger: logger.Named("probe-publisher")}
}

// Publish encodes rec and publishes it.
func (p *Publisher) Publish(rec model.PacketRecord) error {
	return p.nc.Publish(p.subject, Encode(rec))
}

// Flush waits until the server has processed all published records.
func (p *Publisher) Flush() error {
	return p.nc.Flush()
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		if err := p.nc.Drain(); err != nil {
			p.logger.Warn("Failed to drain NATS connection", zap.Error(err))
		}
		p.logger.Info("NATS connection drained and closed")
	}
}
