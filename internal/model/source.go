package model

import "context"

// CaptureSource produces parsed packet records for one logical interface.
//
// Run blocks, calling emit for every record, until ctx is cancelled or the
// source is exhausted. Sources backed by blocking capture primitives may
// notice cancellation late.
type CaptureSource interface {
	Name() string
	Run(ctx context.Context, emit func(PacketRecord)) error
}

// Sink receives pipeline events. Delivery is best-effort: implementations
// must not block the caller for long and report failures only through logs.
type Sink interface {
	PublishSnapshot(snapshot StatsSnapshot)
	PublishAnomaly(anomaly Anomaly)
}

// Notifier delivers a human-readable message, e.g. by e-mail.
type Notifier interface {
	Send(subject, body string) error
}
