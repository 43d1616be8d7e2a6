package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"TrafficLens/internal/aggregate"
	"TrafficLens/internal/anomaly"
	"TrafficLens/internal/filter"
	"TrafficLens/internal/model"
	"TrafficLens/internal/publisher"
	"TrafficLens/internal/session"
)

type fakeExporter struct {
	mu       sync.Mutex
	sessions []model.FinalizedSession
}

func (e *fakeExporter) Export(s model.FinalizedSession) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessions = append(e.sessions, s)
	return nil
}

func (e *fakeExporter) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

type fakeTask struct {
	started  atomic.Int32
	finished atomic.Int32
}

func (t *fakeTask) Run(ctx context.Context) error {
	t.started.Add(1)
	<-ctx.Done()
	t.finished.Add(1)
	return nil
}

// blockingSource emits until cancelled, then tries to emit once more.
type blockingSource struct {
	name    string
	release chan struct{}
}

func (s *blockingSource) Name() string { return s.name }

func (s *blockingSource) Run(ctx context.Context, emit func(model.PacketRecord)) error {
	emit(record("10.0.0.9", 100))
	<-ctx.Done()
	if s.release != nil {
		<-s.release
	}
	for i := 0; i < 5; i++ {
		emit(record("10.0.0.9", 100))
	}
	return nil
}

type sliceSource struct {
	name    string
	records []model.PacketRecord
}

func newSliceSource(name string, records []model.PacketRecord) *sliceSource {
	return &sliceSource{name: name, records: records}
}

func (s *sliceSource) Name() string { return s.name }

func (s *sliceSource) Run(ctx context.Context, emit func(model.PacketRecord)) error {
	for _, rec := range s.records {
		emit(rec)
	}
	return nil
}

// idleSource emits nothing and returns on cancellation.
type idleSource struct{}

func (idleSource) Name() string { return "idle" }

func (idleSource) Run(ctx context.Context, _ func(model.PacketRecord)) error {
	<-ctx.Done()
	return nil
}

type failingSource struct{}

func (failingSource) Name() string { return "broken" }

func (failingSource) Run(context.Context, func(model.PacketRecord)) error {
	return errors.New("device vanished")
}

func record(src string, size int) model.PacketRecord {
	return model.PacketRecord{
		Timestamp: time.Now(),
		SrcAddr:   src,
		DstAddr:   "192.168.0.1",
		Protocol:  model.ProtocolTCP,
		Size:      size,
	}
}

type harness struct {
	coord    *Coordinator
	store    *aggregate.Store
	filter   *filter.Holder
	exporter *fakeExporter
	task     *fakeTask
}

func newHarness() *harness {
	h := &harness{
		store:    aggregate.New(),
		filter:   filter.NewHolder(filter.Config{}),
		exporter: &fakeExporter{},
		task:     &fakeTask{},
	}
	h.coord = New(Pipeline{
		Filter:   h.filter,
		Store:    h.store,
		Engine:   anomaly.NewEngine(anomaly.Config{}, nil, nil, nil),
		Recorder: session.NewRecorder(),
		Task:     h.task,
		Exporter: h.exporter,
	}, nil, nil)
	return h
}

func waitDone(t *testing.T, c *Coordinator) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Ingestion loops did not finish")
	}
}

func TestCoordinator_ConcurrentLoopsCountEverything(t *testing.T) {
	h := newHarness()

	var sources []model.CaptureSource
	for i := 0; i < 8; i++ {
		recs := make([]model.PacketRecord, 1000)
		for j := range recs {
			recs[j] = record(fmt.Sprintf("10.0.%d.%d", i, j%50), 64)
		}
		sources = append(sources, newSliceSource(fmt.Sprintf("loop-%d", i), recs))
	}

	if _, err := h.coord.Start(context.Background(), StartRequest{SessionName: "load", Sources: sources}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitDone(t, h.coord)

	packets, bytes := h.store.Totals()
	if packets != 8000 || bytes != 8000*64 {
		t.Errorf("Expected 8000 packets / %d bytes, got %d / %d", 8000*64, packets, bytes)
	}

	fin, err := h.coord.Stop()
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if fin.PacketCount != 8000 || fin.Name != "load" {
		t.Errorf("Unexpected finalized session: %s with %d packets", fin.Name, fin.PacketCount)
	}
	if h.coord.State() != Idle {
		t.Errorf("Expected Idle after stop, got %s", h.coord.State())
	}
	if h.exporter.count() != 1 {
		t.Errorf("Expected the session to be exported once, got %d", h.exporter.count())
	}
}

func TestCoordinator_StopWaitsForTask(t *testing.T) {
	h := newHarness()
	src := idleSource{}

	if _, err := h.coord.Start(context.Background(), StartRequest{Sources: []model.CaptureSource{src}}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if h.coord.State() != Running {
		t.Fatalf("Expected Running, got %s", h.coord.State())
	}
	if _, err := h.coord.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if h.task.started.Load() != 1 || h.task.finished.Load() != 1 {
		t.Errorf("Periodic task should have run and finished once, got %d/%d", h.task.started.Load(), h.task.finished.Load())
	}
	waitDone(t, h.coord)
}

func TestCoordinator_StopWhenIdle(t *testing.T) {
	h := newHarness()
	if _, err := h.coord.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Expected ErrNotRunning, got %v", err)
	}
	if _, err := h.coord.Start(context.Background(), StartRequest{}); !errors.Is(err, ErrNoSources) {
		t.Errorf("Expected ErrNoSources, got %v", err)
	}
}

func TestCoordinator_RestartStopsPreviousRun(t *testing.T) {
	h := newHarness()
	src := func() []model.CaptureSource {
		return []model.CaptureSource{idleSource{}}
	}

	first, err := h.coord.Start(context.Background(), StartRequest{SessionName: "first", Sources: src()})
	if err != nil {
		t.Fatalf("First start failed: %v", err)
	}
	second, err := h.coord.Start(context.Background(), StartRequest{SessionName: "second", Sources: src()})
	if err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	if first.ID == second.ID {
		t.Fatal("Restart should open a new session")
	}
	if h.exporter.count() != 1 || h.exporter.sessions[0].Name != "first" {
		t.Errorf("The first session should be finalized on restart")
	}
	if st := h.coord.Status(); st.State != Running || st.Session == nil || st.Session.Name != "second" {
		t.Errorf("Unexpected status after restart: %+v", st)
	}
	h.coord.Stop()
}

func TestCoordinator_RecordsAfterCancelAreDropped(t *testing.T) {
	h := newHarness()
	src := &blockingSource{name: "slow"}

	if _, err := h.coord.Start(context.Background(), StartRequest{Sources: []model.CaptureSource{src}}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for !h.store.HasAddress("10.0.0.9") && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	h.coord.Stop()
	waitDone(t, h.coord)

	if packets, _ := h.store.Totals(); packets != 1 {
		t.Errorf("Records emitted after cancellation must be dropped, got %d packets", packets)
	}
}

func TestCoordinator_ForceReset(t *testing.T) {
	h := newHarness()
	release := make(chan struct{})
	src := &blockingSource{name: "stuck", release: release}

	if _, err := h.coord.Start(context.Background(), StartRequest{SessionName: "doomed", Sources: []model.CaptureSource{src}}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	loopsDone := h.coord.Done()
	h.coord.ForceReset()

	if h.coord.State() != Idle {
		t.Errorf("Expected Idle after force reset, got %s", h.coord.State())
	}
	if _, ok := h.coord.pipeline.Recorder.Active(); ok {
		t.Errorf("Force reset should discard the session")
	}
	if h.exporter.count() != 0 {
		t.Errorf("A discarded session must not be exported")
	}
	select {
	case <-loopsDone:
		t.Errorf("Force reset must not wait for blocked loops")
	default:
	}

	if st := h.coord.Status(); len(st.Sources) != 0 || st.Session != nil {
		t.Errorf("Force reset should drop the run, status still shows %+v", st)
	}

	close(release)
	select {
	case <-loopsDone:
	case <-time.After(5 * time.Second):
		t.Fatal("Released loop did not finish")
	}

	if _, err := h.coord.Start(context.Background(), StartRequest{SessionName: "again", Sources: []model.CaptureSource{newSliceSource("one", []model.PacketRecord{record("10.1.1.1", 10)})}}); err != nil {
		t.Fatalf("Start after force reset failed: %v", err)
	}
	h.coord.Stop()
}

func TestCoordinator_SourceErrorDoesNotStopOthers(t *testing.T) {
	h := newHarness()
	recs := []model.PacketRecord{record("10.2.0.1", 10), record("10.2.0.2", 10)}

	_, err := h.coord.Start(context.Background(), StartRequest{Sources: []model.CaptureSource{
		failingSource{},
		newSliceSource("good", recs),
	}})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitDone(t, h.coord)

	if packets, _ := h.store.Totals(); packets != 2 {
		t.Errorf("Healthy source should still deliver, got %d packets", packets)
	}
	errs := h.coord.Errors()
	var srcErr *CaptureSourceError
	if len(errs) != 1 || !errors.As(errs[0], &srcErr) || srcErr.Source != "broken" {
		t.Fatalf("Expected one CaptureSourceError for broken, got %v", errs)
	}
	if h.coord.State() != Running {
		t.Errorf("A failed source should not stop the run, got %s", h.coord.State())
	}
	h.coord.Stop()
}

func TestCoordinator_IngestAppliesFilter(t *testing.T) {
	h := newHarness()
	h.filter.Set(filter.Config{Enabled: true, SizeRange: filter.SizeRange{Min: 100, Max: 200}})

	if h.coord.Ingest(record("10.3.0.1", 50)) {
		t.Errorf("Record of 50 bytes should be rejected")
	}
	if !h.coord.Ingest(record("10.3.0.1", 150)) {
		t.Errorf("Record of 150 bytes should be accepted")
	}
	if packets, _ := h.store.Totals(); packets != 1 {
		t.Errorf("Expected 1 accepted packet, got %d", packets)
	}
}

type stateSink struct {
	mu     sync.Mutex
	states []string
}

func (s *stateSink) PublishSnapshot(snap model.StatsSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, snap.CaptureState)
}

func (s *stateSink) PublishAnomaly(model.Anomaly) {}

func (s *stateSink) last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.states) == 0 {
		return ""
	}
	return s.states[len(s.states)-1]
}

func TestCoordinator_StopWithPublisherReadingStatus(t *testing.T) {
	store := aggregate.New()
	engine := anomaly.NewEngine(anomaly.Config{}, nil, nil, nil)
	sink := &stateSink{}

	var c *Coordinator
	pub, err := publisher.New(publisher.Options{
		Store:    store,
		Engine:   engine,
		Sink:     sink,
		Interval: 5 * time.Millisecond,
		State: func() (string, string) {
			st := c.Status()
			return st.State.String(), ""
		},
	}, nil, nil)
	if err != nil {
		t.Fatalf("publisher.New failed: %v", err)
	}
	defer pub.Close(time.Second)

	c = New(Pipeline{
		Store:    store,
		Engine:   engine,
		Recorder: session.NewRecorder(),
		Task:     pub,
	}, nil, nil)

	for i := 0; i < 2; i++ {
		if _, err := c.Start(context.Background(), StartRequest{SessionName: "live", Sources: []model.CaptureSource{idleSource{}}}); err != nil {
			t.Fatalf("Start %d failed: %v", i, err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	stopped := make(chan error, 1)
	go func() {
		_, err := c.Stop()
		stopped <- err
	}()
	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("Stop failed: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return while the publisher read the coordinator status")
	}

	if c.State() != Idle {
		t.Errorf("Expected Idle after stop, got %s", c.State())
	}
	if got := sink.last(); got != Stopping.String() {
		t.Errorf("Final snapshot should be taken while stopping, got state %q", got)
	}
}
