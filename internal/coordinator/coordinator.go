package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"TrafficLens/internal/aggregate"
	"TrafficLens/internal/anomaly"
	"TrafficLens/internal/filter"
	"TrafficLens/internal/metrics"
	"TrafficLens/internal/model"
	"TrafficLens/internal/session"

	"go.uber.org/zap"
)

// PeriodicTask is scheduled for the lifetime of a capture run, e.g. the
// snapshot publisher. Run returns once ctx is cancelled.
type PeriodicTask interface {
	Run(ctx context.Context) error
}

// PacketSink receives every accepted record, e.g. for raw packet storage.
// Enqueue must not block.
type PacketSink interface {
	Enqueue(rec model.PacketRecord) bool
}

// Pipeline holds the shared components every ingestion loop feeds.
type Pipeline struct {
	Filter   *filter.Holder
	Store    *aggregate.Store
	Engine   *anomaly.Engine
	Recorder *session.Recorder

	// Optional.
	Task     PeriodicTask
	Exporter model.SessionExporter
	Packets  PacketSink
}

// StartRequest names the session and the sources of a capture run.
type StartRequest struct {
	SessionName string
	Sources     []model.CaptureSource
}

// SourceStatus reports one ingestion loop of the current run.
type SourceStatus struct {
	Name    string `json:"name"`
	Running bool   `json:"running"`
	Packets uint64 `json:"packets"`
	Error   string `json:"error,omitempty"`
}

// Status is a point-in-time view of the coordinator.
type Status struct {
	State   State          `json:"state"`
	Session *model.Session `json:"session,omitempty"`
	Sources []SourceStatus `json:"sources"`
}

type loop struct {
	name    string
	running bool
	packets uint64
	err     error
}

type run struct {
	cancel   context.CancelFunc
	done     chan struct{}
	taskDone chan struct{}

	mu    sync.Mutex
	loops []*loop
}

// Coordinator runs one ingestion loop per capture source and schedules the
// periodic task while capture is running. Start and Stop are serialized by
// lifecycle; mu only guards the fields below and is never held while waiting,
// so the periodic task may call Status at any time.
type Coordinator struct {
	pipeline Pipeline
	logger   *zap.Logger
	metrics  *metrics.Metrics

	lifecycle sync.Mutex

	mu      sync.Mutex
	state   State
	current *run
}

// New creates an idle coordinator.
func New(p Pipeline, logger *zap.Logger, m *metrics.Metrics) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &Coordinator{pipeline: p, logger: logger.Named("coordinator"), metrics: m}
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setStateLocked(s)
}

func (c *Coordinator) setStateLocked(s State) {
	c.state = s
	c.metrics.CaptureState.Set(float64(s))
}

// Start begins a capture run. A running capture is stopped first, which
// finalizes its session. The run outlives ctx; only Stop or ForceReset end it.
func (c *Coordinator) Start(ctx context.Context, req StartRequest) (model.Session, error) {
	if len(req.Sources) == 0 {
		return model.Session{}, ErrNoSources
	}

	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if c.State() == Running {
		c.logger.Info("Capture already running, stopping it before restart")
		if _, err := c.stop(); err != nil && !errors.Is(err, session.ErrNoActiveSession) {
			c.logger.Warn("Auto-stop did not finalize a session", zap.Error(err))
		}
	}

	c.setState(Starting)
	name := req.SessionName
	if name == "" {
		name = "capture-" + time.Now().Format("20060102-150405")
	}
	sess, err := c.pipeline.Recorder.StartSession(name)
	if err != nil {
		c.setState(Idle)
		return model.Session{}, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &run{
		cancel:   cancel,
		done:     make(chan struct{}),
		taskDone: make(chan struct{}),
	}

	var wg sync.WaitGroup
	for _, src := range req.Sources {
		l := &loop{name: src.Name(), running: true}
		r.loops = append(r.loops, l)
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.ingest(runCtx, r, l, src)
		}()
	}
	go func() {
		wg.Wait()
		close(r.done)
	}()

	if task := c.pipeline.Task; task != nil {
		go func() {
			defer close(r.taskDone)
			if err := task.Run(runCtx); err != nil {
				c.logger.Error("Periodic task failed", zap.Error(err))
			}
		}()
	} else {
		close(r.taskDone)
	}

	c.mu.Lock()
	c.current = r
	c.setStateLocked(Running)
	c.mu.Unlock()
	c.logger.Info("Capture started",
		zap.String("session", sess.Name),
		zap.String("session_id", sess.ID),
		zap.Int("sources", len(req.Sources)))
	return sess, nil
}

func (c *Coordinator) ingest(ctx context.Context, r *run, l *loop, src model.CaptureSource) {
	received := c.metrics.PacketsReceived.WithLabelValues(l.name)
	emit := func(rec model.PacketRecord) {
		// Sources may deliver a few records after cancellation.
		if ctx.Err() != nil {
			return
		}
		received.Inc()
		r.mu.Lock()
		l.packets++
		r.mu.Unlock()
		c.Ingest(rec)
	}

	c.logger.Debug("Ingestion loop started", zap.String("source", l.name))
	err := src.Run(ctx, emit)

	r.mu.Lock()
	l.running = false
	if err != nil && ctx.Err() == nil {
		l.err = &CaptureSourceError{Source: l.name, Err: err}
	}
	r.mu.Unlock()

	if l.err != nil {
		c.metrics.SourceErrors.WithLabelValues(l.name).Inc()
		c.logger.Error("Capture source stopped", zap.String("source", l.name), zap.Error(l.err))
		return
	}
	c.logger.Info("Ingestion loop finished", zap.String("source", l.name))
}

// Ingest routes one record through filter, aggregate, anomaly buffer and
// session recorder. It reports whether the record was accepted.
func (c *Coordinator) Ingest(rec model.PacketRecord) bool {
	p := &c.pipeline
	if p.Filter != nil && !p.Filter.Matches(rec) {
		c.metrics.PacketsFiltered.Inc()
		return false
	}
	p.Store.RecordAccepted(rec)
	if p.Engine != nil {
		p.Engine.Observe(rec)
	}
	if p.Recorder != nil {
		p.Recorder.Append(rec)
	}
	if p.Packets != nil && !p.Packets.Enqueue(rec) {
		c.metrics.PacketsDropped.Inc()
	}
	c.metrics.PacketsAccepted.Inc()
	c.metrics.BytesAccepted.Add(float64(rec.Size))
	return true
}

// Stop cancels the ingestion loops, waits for the periodic task and
// finalizes the session. Loops blocked inside their source are not awaited;
// Done reports when they have all returned.
func (c *Coordinator) Stop() (model.FinalizedSession, error) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if c.State() != Running {
		return model.FinalizedSession{}, ErrNotRunning
	}
	return c.stop()
}

// stop requires lifecycle to be held and the state to be Running.
func (c *Coordinator) stop() (model.FinalizedSession, error) {
	c.mu.Lock()
	r := c.current
	if r == nil || c.state != Running {
		c.mu.Unlock()
		return model.FinalizedSession{}, ErrNotRunning
	}
	c.setStateLocked(Stopping)
	c.mu.Unlock()

	r.cancel()
	<-r.taskDone

	fin, err := c.pipeline.Recorder.StopSession()
	c.mu.Lock()
	// A ForceReset while waiting has already moved to Idle.
	if c.state == Stopping {
		c.setStateLocked(Idle)
	}
	c.mu.Unlock()
	if err != nil {
		return model.FinalizedSession{}, err
	}

	c.logger.Info("Capture stopped",
		zap.String("session", fin.Name),
		zap.Duration("duration", fin.Duration),
		zap.Int("packets", fin.PacketCount))

	if c.pipeline.Exporter != nil {
		if err := c.pipeline.Exporter.Export(fin); err != nil {
			c.logger.Error("Failed to export session", zap.String("session", fin.Name), zap.Error(err))
		}
	}
	return fin, nil
}

// ForceReset returns to Idle from any state, even while a Stop is stuck
// waiting. The active session is discarded, the run handles are dropped and
// nothing is awaited; in-flight records may still be counted.
func (c *Coordinator) ForceReset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		c.current.cancel()
		c.current = nil
	}
	c.pipeline.Recorder.Discard()
	c.setStateLocked(Idle)
	c.logger.Warn("Capture force-reset")
}

// Done returns a channel closed once every ingestion loop of the latest run
// has returned. Before any run it is already closed.
func (c *Coordinator) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return c.current.done
}

// Status reports the state, active session and per-source progress.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	st := Status{State: c.state}
	r := c.current
	c.mu.Unlock()

	if sess, ok := c.pipeline.Recorder.Active(); ok {
		st.Session = &sess
	}
	if r == nil {
		return st
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.loops {
		s := SourceStatus{Name: l.name, Running: l.running, Packets: l.packets}
		if l.err != nil {
			s.Error = l.err.Error()
		}
		st.Sources = append(st.Sources, s)
	}
	return st
}

// Errors returns the capture source errors of the latest run.
func (c *Coordinator) Errors() []error {
	c.mu.Lock()
	r := c.current
	c.mu.Unlock()
	if r == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, l := range r.loops {
		if l.err != nil {
			errs = append(errs, l.err)
		}
	}
	return errs
}
