package publisher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"TrafficLens/internal/aggregate"
	"TrafficLens/internal/anomaly"
	"TrafficLens/internal/metrics"
	"TrafficLens/internal/model"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

const (
	DefaultInterval        = 2 * time.Second
	DefaultPersistInterval = 10 * time.Second
	DefaultPoolSize        = 8

	writeTimeout = 5 * time.Second
)

// Row kinds used in PersistenceError and metrics.
const (
	KindStats     = "stats"
	KindAnomalies = "anomalies"
)

// PersistenceError reports a durable write that failed or was dropped.
type PersistenceError struct {
	Kind string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to persist %s: %v", e.Kind, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// StateFunc reports the capture state and active session name for snapshots.
type StateFunc func() (state string, session string)

// Options configures a Publisher. Store and Engine are required.
type Options struct {
	Store  *aggregate.Store
	Engine *anomaly.Engine
	Sink   model.Sink
	// Persist may be nil, which disables durable writes.
	Persist model.Store
	State   StateFunc

	Interval        time.Duration
	PersistInterval time.Duration
	Limits          aggregate.Limits
	PoolSize        int

	// OnPersistenceError is called in addition to logging.
	OnPersistenceError func(error)
}

// Publisher periodically turns the aggregate into snapshots and anomalies.
type Publisher struct {
	opts    Options
	pool    *ants.Pool
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu          sync.Mutex // serializes ticks
	lastPersist time.Time
}

// New creates a publisher. The persistence pool never blocks the tick: a
// full pool drops the write.
func New(opts Options, logger *zap.Logger, m *metrics.Metrics) (*Publisher, error) {
	if opts.Store == nil || opts.Engine == nil {
		return nil, errors.New("publisher requires an aggregate store and an anomaly engine")
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.PersistInterval <= 0 {
		opts.PersistInterval = DefaultPersistInterval
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = DefaultPoolSize
	}
	if opts.Limits == (aggregate.Limits{}) {
		opts.Limits = aggregate.DefaultLimits
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.New(nil)
	}

	pool, err := ants.NewPool(opts.PoolSize, ants.WithNonblocking(true))
	if err != nil {
		return nil, fmt.Errorf("failed to create persistence pool: %w", err)
	}
	return &Publisher{
		opts:    opts,
		pool:    pool,
		logger:  logger.Named("publisher"),
		metrics: m,
		now:     time.Now,
	}, nil
}

// Run ticks every interval until ctx is cancelled, then publishes one final
// snapshot.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()
	p.logger.Info("Snapshot publisher started",
		zap.Duration("interval", p.opts.Interval),
		zap.Duration("persist_interval", p.opts.PersistInterval))

	for {
		select {
		case <-ticker.C:
			p.Tick(ctx)
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.Interval)
			p.Tick(final)
			cancel()
			p.logger.Info("Snapshot publisher stopped")
			return nil
		}
	}
}

// Tick runs one publish cycle and returns the snapshot it published.
func (p *Publisher) Tick(ctx context.Context) model.StatsSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	store := p.opts.Store
	store.ComputeTopTalkers()
	anomalies := p.opts.Engine.Evaluate(ctx, store)
	store.ReplaceAnomalies(anomalies)

	snap := store.Snapshot(p.opts.Limits)
	if p.opts.State != nil {
		snap.CaptureState, snap.ActiveSession = p.opts.State()
	}
	if p.opts.Sink != nil {
		p.opts.Sink.PublishSnapshot(snap)
	}

	for _, a := range anomalies {
		p.metrics.Anomalies.WithLabelValues(string(a.Kind)).Inc()
		if p.opts.Sink != nil {
			p.opts.Sink.PublishAnomaly(a)
		}
	}
	if len(anomalies) > 0 {
		p.persistAnomalies(anomalies)
	}

	now := p.now()
	if now.Sub(p.lastPersist) >= p.opts.PersistInterval {
		p.lastPersist = now
		p.persistStats(store.Summary(now))
	}

	p.metrics.PublishTicks.Inc()
	p.logger.Debug("Published snapshot",
		zap.Uint64("packets", snap.TotalPackets),
		zap.Int("anomalies", len(anomalies)))
	return snap
}

// ReportAnomaly injects an externally detected anomaly into the same path
// the detectors use.
func (p *Publisher) ReportAnomaly(a model.Anomaly) {
	if a.Timestamp.IsZero() {
		a.Timestamp = p.now()
	}
	p.opts.Store.AppendAnomaly(a)
	p.metrics.Anomalies.WithLabelValues(string(a.Kind)).Inc()
	if p.opts.Sink != nil {
		p.opts.Sink.PublishAnomaly(a)
	}
	p.persistAnomalies([]model.Anomaly{a})
}

func (p *Publisher) persistStats(summary model.StatsSummary) {
	p.submit(KindStats, func(ctx context.Context, s model.Store) error {
		return s.WriteStats(ctx, summary)
	})
}

func (p *Publisher) persistAnomalies(batch []model.Anomaly) {
	p.submit(KindAnomalies, func(ctx context.Context, s model.Store) error {
		return s.WriteAnomalies(ctx, batch)
	})
}

func (p *Publisher) submit(kind string, write func(context.Context, model.Store) error) {
	store := p.opts.Persist
	if store == nil {
		return
	}
	err := p.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := write(ctx, store); err != nil {
			p.persistenceFailed(&PersistenceError{Kind: kind, Err: err})
		}
	})
	if err != nil {
		p.persistenceFailed(&PersistenceError{Kind: kind, Err: err})
	}
}

func (p *Publisher) persistenceFailed(err *PersistenceError) {
	p.metrics.PersistenceErrors.WithLabelValues(err.Kind).Inc()
	p.logger.Warn("Dropping durable write", zap.String("kind", err.Kind), zap.Error(err.Err))
	if p.opts.OnPersistenceError != nil {
		p.opts.OnPersistenceError(err)
	}
}

// Close waits up to timeout for pending writes and releases the pool.
func (p *Publisher) Close(timeout time.Duration) error {
	return p.pool.ReleaseTimeout(timeout)
}
