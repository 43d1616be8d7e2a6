package monitor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"TrafficLens/internal/aggregate"
	"TrafficLens/internal/anomaly"
	"TrafficLens/internal/capture"
	"TrafficLens/internal/config"
	"TrafficLens/internal/coordinator"
	"TrafficLens/internal/filter"
	"TrafficLens/internal/metrics"
	"TrafficLens/internal/model"
	"TrafficLens/internal/notification"
	"TrafficLens/internal/publisher"
	"TrafficLens/internal/scoring"
	"TrafficLens/internal/server"
	"TrafficLens/internal/session"
	"TrafficLens/internal/sink"
	"TrafficLens/internal/storage"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// Monitor wires the capture pipeline, its sinks and the control server.
type Monitor struct {
	cfg    *config.Config
	logger *zap.Logger

	Registry    *prometheus.Registry
	Metrics     *metrics.Metrics
	Store       *aggregate.Store
	Filter      *filter.Holder
	Engine      *anomaly.Engine
	Recorder    *session.Recorder
	Coordinator *coordinator.Coordinator
	Publisher   *publisher.Publisher
	Hub         *sink.Hub

	nc         *nats.Conn
	clickhouse *storage.ClickHouseStore
	packets    *storage.PacketWriter
	notify     *sink.NotifySink
	grpcScorer *scoring.GRPCScorer
	http       *http.Server
}

// New builds every component described by cfg. External services that are
// enabled must be reachable.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (m *Monitor, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m = &Monitor{
		cfg:      cfg,
		logger:   logger,
		Registry: reg,
		Metrics:  metrics.New(reg),
		Store:    aggregate.New(),
		Filter:   filter.NewHolder(filter.FromConfig(cfg.Filter)),
		Recorder: session.NewRecorder(),
	}
	defer func() {
		if err != nil {
			m.closeResources()
		}
	}()

	scorer, err := m.buildScorer()
	if err != nil {
		return nil, err
	}
	m.Engine = anomaly.NewEngine(anomaly.FromConfig(cfg.Alerts), scorer, logger, m.Metrics)

	if cfg.NATS.Enabled {
		m.nc, err = nats.Connect(cfg.NATS.URL, nats.Name("trafficlens-monitor"))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
		}
		logger.Info("Connected to NATS server", zap.String("url", cfg.NATS.URL))
	}

	var persist model.Store = storage.Discard{}
	var querier model.Querier
	if cfg.Storage.ClickHouse.Enabled {
		m.clickhouse, err = storage.NewClickHouseStore(ctx, cfg.Storage.ClickHouse, logger)
		if err != nil {
			return nil, err
		}
		persist, querier = m.clickhouse, m.clickhouse
		if cfg.Storage.Packets.Enabled {
			m.packets = storage.NewPacketWriter(m.clickhouse, storage.PacketWriterOptions{
				BufferSize:    cfg.Storage.Packets.BufferSize,
				BatchSize:     cfg.Storage.Packets.BatchSize,
				FlushInterval: config.Duration(cfg.Storage.Packets.FlushInterval),
			}, logger, m.Metrics)
		}
	}

	m.Hub = sink.NewHub(logger, m.Metrics)
	sinks := sink.Fanout{m.Hub}
	if m.nc != nil {
		sinks = append(sinks, sink.NewNATSSink(m.nc, cfg.NATS.StatsSubject, cfg.NATS.AnomalySubject, logger))
	}
	if cfg.SMTP.Host != "" {
		notifier, err := notification.NewEmailNotifier(cfg.SMTP)
		if err != nil {
			return nil, fmt.Errorf("failed to create e-mail notifier: %w", err)
		}
		minSeverity, ok := model.ParseSeverity(cfg.SMTP.MinSeverity)
		if !ok {
			return nil, fmt.Errorf("invalid smtp.min_severity %q", cfg.SMTP.MinSeverity)
		}
		m.notify = sink.NewNotifySink(notifier, minSeverity, logger)
		sinks = append(sinks, m.notify)
	}

	m.Publisher, err = publisher.New(publisher.Options{
		Store:           m.Store,
		Engine:          m.Engine,
		Sink:            sinks,
		Persist:         persist,
		State:           m.captureState,
		Interval:        config.Duration(cfg.Publisher.Interval),
		PersistInterval: config.Duration(cfg.Publisher.PersistInterval),
		PoolSize:        cfg.Publisher.PoolSize,
		Limits: aggregate.Limits{
			History:   cfg.Publisher.HistoryLimit,
			Addresses: cfg.Publisher.AddressLimit,
			Anomalies: cfg.Publisher.AnomalyLimit,
		},
	}, logger, m.Metrics)
	if err != nil {
		return nil, err
	}

	pipeline := coordinator.Pipeline{
		Filter:   m.Filter,
		Store:    m.Store,
		Engine:   m.Engine,
		Recorder: m.Recorder,
		Task:     m.Publisher,
	}
	if m.packets != nil {
		pipeline.Packets = m.packets
	}
	if cfg.Session.ExportDir != "" {
		exporter, err := session.NewExporter(cfg.Session.ExportDir, cfg.Session.Formats, logger)
		if err != nil {
			return nil, err
		}
		pipeline.Exporter = exporter
	}
	m.Coordinator = coordinator.New(pipeline, logger, m.Metrics)

	srv := server.New(server.Deps{
		Coordinator:    m.Coordinator,
		Store:          m.Store,
		Filter:         m.Filter,
		Engine:         m.Engine,
		Sources:        m.sources,
		DefaultSources: cfg.Capture.Sources,
		Observers:      m.Hub,
		Querier:        querier,
		Gatherer:       reg,
	}, logger)
	m.http = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return m, nil
}

func (m *Monitor) buildScorer() (model.Scorer, error) {
	st := m.cfg.Alerts.Statistical
	if st.ServiceAddr == "" {
		return scoring.NewZScoreScorer(st.ZThreshold), nil
	}
	s, err := scoring.NewGRPCScorer(st.ServiceAddr, config.Duration(st.Timeout))
	if err != nil {
		return nil, err
	}
	m.grpcScorer = s
	m.logger.Info("Using remote outlier scorer", zap.String("addr", st.ServiceAddr))
	return s, nil
}

func (m *Monitor) sources(specs []string) ([]model.CaptureSource, error) {
	return capture.ParseSpecs(specs, capture.Options{
		SnapshotLen: m.cfg.Capture.SnapshotLen,
		Promiscuous: m.cfg.Capture.Promiscuous,
		ReadTimeout: config.Duration(m.cfg.Capture.ReadTimeout),
		NATS:        m.nc,
		Logger:      m.logger,
	})
}

func (m *Monitor) captureState() (string, string) {
	st := m.Coordinator.Status()
	if st.Session == nil {
		return st.State.String(), ""
	}
	return st.State.String(), st.Session.Name
}

// Start serves HTTP and, when configured, starts capturing right away.
// Serve errors are reported on the returned channel.
func (m *Monitor) Start(ctx context.Context) (<-chan error, error) {
	errc := make(chan error, 1)
	go func() {
		m.logger.Info("HTTP server starting", zap.String("addr", m.http.Addr))
		if err := m.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	if m.cfg.Capture.AutoStart {
		sources, err := m.sources(m.cfg.Capture.Sources)
		if err != nil {
			return errc, err
		}
		if _, err := m.Coordinator.Start(ctx, coordinator.StartRequest{SessionName: m.cfg.Capture.SessionName, Sources: sources}); err != nil {
			return errc, err
		}
	}
	return errc, nil
}

// Shutdown stops capture, finalizing the session, then drains every sink.
func (m *Monitor) Shutdown(ctx context.Context) {
	if m.Coordinator.State() == coordinator.Running {
		if _, err := m.Coordinator.Stop(); err != nil {
			m.logger.Warn("Failed to stop capture", zap.Error(err))
		}
	}
	if err := m.http.Shutdown(ctx); err != nil {
		m.logger.Warn("HTTP server forced to shutdown", zap.Error(err))
	}
	m.Hub.Close()
	if err := m.Publisher.Close(5 * time.Second); err != nil {
		m.logger.Warn("Pending durable writes were abandoned", zap.Error(err))
	}
	m.closeResources()
}

func (m *Monitor) closeResources() {
	if m.packets != nil {
		m.packets.Stop()
	}
	if m.notify != nil {
		m.notify.Close()
	}
	if m.nc != nil {
		m.nc.Drain()
	}
	if m.clickhouse != nil {
		m.clickhouse.Close()
	}
	if m.grpcScorer != nil {
		m.grpcScorer.Close()
	}
}
