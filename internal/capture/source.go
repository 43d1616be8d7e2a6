package capture

import (
	"context"
	"fmt"
	"strings"
	"time"

	"TrafficLens/internal/model"
	"TrafficLens/internal/probe"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Options carries the settings shared by the sources ParseSpec creates.
type Options struct {
	SnapshotLen int32
	Promiscuous bool
	ReadTimeout time.Duration
	// NATS is required for "nats:" sources.
	NATS   *nats.Conn
	Logger *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.SnapshotLen <= 0 {
		o.SnapshotLen = DefaultSnapshotLen
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// ParseSpec builds a source from "pcap:<iface>", "file:<path>" or
// "nats:<subject>". A bare name is treated as an interface.
func ParseSpec(spec string, opts Options) (model.CaptureSource, error) {
	kind, arg, found := strings.Cut(spec, ":")
	if !found {
		kind, arg = "pcap", spec
	}
	if arg == "" {
		return nil, fmt.Errorf("capture source %q has no target", spec)
	}
	switch kind {
	case "pcap", "iface":
		return NewLiveSource(arg, opts), nil
	case "file":
		return NewFileSource(arg, opts), nil
	case "nats":
		if opts.NATS == nil {
			return nil, fmt.Errorf("capture source %q requires a NATS connection", spec)
		}
		return NewNATSSource(opts.NATS, arg, opts.Logger), nil
	default:
		return nil, fmt.Errorf("unknown capture source kind %q in %q", kind, spec)
	}
}

// ParseSpecs parses every spec, stopping at the first error.
func ParseSpecs(specs []string, opts Options) ([]model.CaptureSource, error) {
	sources := make([]model.CaptureSource, 0, len(specs))
	for _, spec := range specs {
		src, err := ParseSpec(spec, opts)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, nil
}

// NATSSource receives records published by ns-probe.
type NATSSource struct {
	nc      *nats.Conn
	subject string
	logger  *zap.Logger
}

// NewNATSSource subscribes to subject on nc when run.
func NewNATSSource(nc *nats.Conn, subject string, logger *zap.Logger) *NATSSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSSource{nc: nc, subject: subject, logger: logger}
}

// Name implements model.CaptureSource.
func (s *NATSSource) Name() string { return "nats:" + s.subject }

// Run implements model.CaptureSource. It returns once ctx is cancelled.
func (s *NATSSource) Run(ctx context.Context, emit func(model.PacketRecord)) error {
	sub := probe.NewSubscriberWithConn(s.nc, s.subject, s.logger)
	if err := sub.Start(probe.PacketHandler(emit)); err != nil {
		return err
	}
	defer sub.Close()

	<-ctx.Done()
	return nil
}

// ChanSource emits the records received on a channel until it is closed.
type ChanSource struct {
	name string
	ch   <-chan model.PacketRecord
}

// NewChanSource creates a channel-fed source.
func NewChanSource(name string, ch <-chan model.PacketRecord) *ChanSource {
	return &ChanSource{name: name, ch: ch}
}

// Name implements model.CaptureSource.
func (s *ChanSource) Name() string { return s.name }

// Run implements model.CaptureSource.
func (s *ChanSource) Run(ctx context.Context, emit func(model.PacketRecord)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case rec, ok := <-s.ch:
			if !ok {
				return nil
			}
			emit(rec)
		}
	}
}

// SliceSource emits a fixed list of records once.
type SliceSource struct {
	name    string
	records []model.PacketRecord
}

// NewSliceSource creates a source replaying records.
func NewSliceSource(name string, records []model.PacketRecord) *SliceSource {
	return &SliceSource{name: name, records: records}
}

// Name implements model.CaptureSource.
func (s *SliceSource) Name() string { return s.name }

// Run implements model.CaptureSource.
func (s *SliceSource) Run(ctx context.Context, emit func(model.PacketRecord)) error {
	for _, rec := range s.records {
		if ctx.Err() != nil {
			return nil
		}
		emit(rec)
	}
	return nil
}
