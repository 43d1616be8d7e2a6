package storage

import (
	"context"
	"sync"
	"time"

	"TrafficLens/internal/metrics"
	"TrafficLens/internal/model"

	"go.uber.org/zap"
)

const (
	DefaultPacketBuffer  = 10000
	DefaultPacketBatch   = 1000
	DefaultFlushInterval = 5 * time.Second
)

// PacketWriterOptions controls raw packet batching.
type PacketWriterOptions struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
}

// PacketWriter batches accepted records into the durable store on a single
// background goroutine. Enqueue never blocks; a full buffer drops the record.
type PacketWriter struct {
	store   model.Store
	opts    PacketWriterOptions
	records chan model.PacketRecord
	stop    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewPacketWriter creates and starts a writer.
func NewPacketWriter(store model.Store, opts PacketWriterOptions, logger *zap.Logger, m *metrics.Metrics) *PacketWriter {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultPacketBuffer
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultPacketBatch
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.New(nil)
	}

	w := &PacketWriter{
		store:   store,
		opts:    opts,
		records: make(chan model.PacketRecord, opts.BufferSize),
		stop:    make(chan struct{}),
		logger:  logger.Named("packet-writer"),
		metrics: m,
	}
	w.wg.Add(1)
	go w.run()
	w.logger.Info("Packet writer started",
		zap.Int("buffer", opts.BufferSize),
		zap.Int("batch", opts.BatchSize),
		zap.Duration("flush_interval", opts.FlushInterval))
	return w
}

// Enqueue implements coordinator.PacketSink.
func (w *PacketWriter) Enqueue(rec model.PacketRecord) bool {
	select {
	case w.records <- rec:
		return true
	default:
		return false
	}
}

func (w *PacketWriter) run() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.opts.FlushInterval)
	defer ticker.Stop()

	batch := make([]model.PacketRecord, 0, w.opts.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := w.store.WritePackets(ctx, batch); err != nil {
			w.metrics.PersistenceErrors.WithLabelValues("packets").Inc()
			w.logger.Warn("Dropping packet batch", zap.Int("rows", len(batch)), zap.Error(err))
		}
		batch = make([]model.PacketRecord, 0, w.opts.BatchSize)
	}

	for {
		select {
		case rec := <-w.records:
			batch = append(batch, rec)
			if len(batch) >= w.opts.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-w.stop:
			for {
				select {
				case rec := <-w.records:
					batch = append(batch, rec)
					if len(batch) >= w.opts.BatchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

// Stop flushes buffered records and waits for the writer to exit.
func (w *PacketWriter) Stop() {
	w.once.Do(func() { close(w.stop) })
	w.wg.Wait()
	w.logger.Info("Packet writer stopped")
}

const writeTimeout = 10 * time.Second

// Discard is a Store that drops everything, used when storage is disabled.
type Discard struct{}

func (Discard) WritePackets(context.Context, []model.PacketRecord) error { return nil }
func (Discard) WriteStats(context.Context, model.StatsSummary) error     { return nil }
func (Discard) WriteAnomalies(context.Context, []model.Anomaly) error    { return nil }
