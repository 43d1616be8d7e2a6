package model

import (
	"context"
	"time"
)

// Store is the durable, append-only destination for pipeline output.
type Store interface {
	WritePackets(ctx context.Context, records []PacketRecord) error
	WriteStats(ctx context.Context, summary StatsSummary) error
	WriteAnomalies(ctx context.Context, anomalies []Anomaly) error
}

// Querier serves timestamp range queries over previously stored rows.
type Querier interface {
	QueryPackets(ctx context.Context, from, to time.Time, limit int) ([]PacketRecord, error)
	QueryStats(ctx context.Context, from, to time.Time, limit int) ([]StatsSummary, error)
	QueryAnomalies(ctx context.Context, from, to time.Time, limit int) ([]Anomaly, error)
}
