package anomaly

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"TrafficLens/internal/config"
	"TrafficLens/internal/metrics"
	"TrafficLens/internal/model"
	"TrafficLens/internal/pkg/ring"

	"go.uber.org/zap"
)

const (
	// FeatureCapacity bounds the sliding feature buffer.
	FeatureCapacity = 1000
	// RateWindow is the number of newest history entries the rate detector inspects.
	RateWindow = 10
	// MinStatisticalPoints is the feature count below which scoring is skipped.
	MinStatisticalPoints = 10
	// StatisticalWindow is the number of newest feature vectors sent for scoring.
	StatisticalWindow = 100

	// DefaultHighTrafficThreshold is in packets per second.
	DefaultHighTrafficThreshold = 1000
)

// StateReader is the read-only view of the aggregate the detectors need.
type StateReader interface {
	HistoryTail(n int) []model.PacketRecord
	HasAddress(addr string) bool
}

// Config holds the detector settings. Updates replace the whole value.
type Config struct {
	HighTrafficThreshold float64  `json:"high_traffic_threshold"`
	SuspiciousAddresses  []string `json:"suspicious_ips"`
	StatisticalEnabled   bool     `json:"ai_detection_enabled"`
}

// FromConfig converts the YAML alerts section.
func FromConfig(c config.AlertsConfig) Config {
	return Config{
		HighTrafficThreshold: c.HighTrafficThreshold,
		SuspiciousAddresses:  slices.Clone(c.SuspiciousAddresses),
		StatisticalEnabled:   c.Statistical.Enabled,
	}
}

// Engine buffers feature vectors for accepted records and runs the detectors.
type Engine struct {
	mu       sync.Mutex
	features *ring.Buffer[model.FeatureVector]

	cfg     atomic.Pointer[Config]
	scorer  model.Scorer
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewEngine creates an engine. scorer may be nil, which disables the
// statistical detector regardless of configuration.
func NewEngine(cfg Config, scorer model.Scorer, logger *zap.Logger, m *metrics.Metrics) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.New(nil)
	}
	e := &Engine{
		features: ring.New[model.FeatureVector](FeatureCapacity),
		scorer:   scorer,
		logger:   logger.Named("anomaly"),
		metrics:  m,
		now:      time.Now,
	}
	e.SetConfig(cfg)
	return e
}

// Config returns a copy of the current detector settings.
func (e *Engine) Config() Config {
	cfg := *e.cfg.Load()
	cfg.SuspiciousAddresses = slices.Clone(cfg.SuspiciousAddresses)
	return cfg
}

// SetConfig replaces the detector settings.
func (e *Engine) SetConfig(cfg Config) {
	cfg.SuspiciousAddresses = slices.Clone(cfg.SuspiciousAddresses)
	cfg = normalize(cfg)
	e.cfg.Store(&cfg)
}

// normalize applies the default threshold and sorts and dedups the watchlist
// in place.
func normalize(cfg Config) Config {
	if cfg.HighTrafficThreshold <= 0 {
		cfg.HighTrafficThreshold = DefaultHighTrafficThreshold
	}
	slices.Sort(cfg.SuspiciousAddresses)
	cfg.SuspiciousAddresses = slices.Compact(cfg.SuspiciousAddresses)
	return cfg
}

// Observe appends the feature vector of an accepted record.
func (e *Engine) Observe(rec model.PacketRecord) {
	v := model.FeatureVector{
		Size:      float64(rec.Size),
		Protocol:  float64(rec.Protocol),
		Timestamp: float64(rec.Timestamp.UnixNano()) / float64(time.Second),
	}
	e.mu.Lock()
	e.features.Push(v)
	e.mu.Unlock()
}

// FeatureCount returns the number of buffered feature vectors.
func (e *Engine) FeatureCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.features.Len()
}

// Reset drops every buffered feature vector.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.features.Reset()
	e.mu.Unlock()
}

// Evaluate runs the rate, watchlist and statistical detectors in that order and
// returns their concatenated results. The statistical detector contributes
// nothing when scoring is disabled or unavailable.
func (e *Engine) Evaluate(ctx context.Context, state StateReader) []model.Anomaly {
	cfg := e.Config()
	now := e.now()

	var out []model.Anomaly
	if a, ok := e.detectRate(state, cfg, now); ok {
		out = append(out, a)
	}
	out = append(out, e.detectWatchlist(state, cfg, now)...)
	if cfg.StatisticalEnabled && e.scorer != nil {
		out = append(out, e.detectStatistical(ctx, state, now)...)
	}

	for _, a := range out {
		e.metrics.Anomalies.WithLabelValues(string(a.Kind)).Inc()
	}
	return out
}

// detectRate flags a packet rate above the threshold over the newest history entries.
func (e *Engine) detectRate(state StateReader, cfg Config, now time.Time) (model.Anomaly, bool) {
	recent := state.HistoryTail(RateWindow)
	if len(recent) < 2 {
		return model.Anomaly{}, false
	}

	span := recent[len(recent)-1].Timestamp.Sub(recent[0].Timestamp).Seconds()
	if span <= 0 {
		return model.Anomaly{}, false
	}

	rate := float64(len(recent)) / span
	if rate <= cfg.HighTrafficThreshold {
		return model.Anomaly{}, false
	}

	return model.Anomaly{
		Kind:      model.KindHighTraffic,
		Severity:  model.SeverityAlert,
		Timestamp: now,
		Message:   fmt.Sprintf("High traffic detected: %.2f packets/sec", rate),
		Context: map[string]any{
			"packets_per_second": rate,
			"threshold":          cfg.HighTrafficThreshold,
		},
	}, true
}

// detectWatchlist flags every suspicious address that has been seen. Active
// addresses are reported again on every cycle.
func (e *Engine) detectWatchlist(state StateReader, cfg Config, now time.Time) []model.Anomaly {
	var out []model.Anomaly
	for _, addr := range cfg.SuspiciousAddresses {
		if !state.HasAddress(addr) {
			continue
		}
		out = append(out, model.Anomaly{
			Kind:           model.KindSuspiciousAddress,
			Severity:       model.SeverityWarning,
			Timestamp:      now,
			RelatedAddress: addr,
			Message:        fmt.Sprintf("Traffic detected from suspicious IP: %s", addr),
		})
	}
	return out
}

// detectStatistical scores the newest feature vectors and maps every
// anomalous label back to the history entry at the same tail offset.
func (e *Engine) detectStatistical(ctx context.Context, state StateReader, now time.Time) []model.Anomaly {
	e.mu.Lock()
	if e.features.Len() < MinStatisticalPoints {
		e.mu.Unlock()
		return nil
	}
	vectors := e.features.Tail(StatisticalWindow)
	e.mu.Unlock()

	labels, err := e.scorer.Score(ctx, vectors)
	if err == nil && len(labels) != len(vectors) {
		err = fmt.Errorf("%w: scorer returned %d labels for %d vectors", model.ErrScoringUnavailable, len(labels), len(vectors))
	}
	if err != nil {
		e.metrics.ScoringUnavailable.Inc()
		if errors.Is(err, model.ErrScoringUnavailable) {
			e.logger.Debug("Statistical detector skipped", zap.Error(err))
		} else {
			e.logger.Warn("Outlier scoring failed, statistical detector skipped", zap.Error(err))
		}
		return nil
	}

	history := state.HistoryTail(len(vectors))
	offset := len(history) - len(vectors)

	var out []model.Anomaly
	for i, label := range labels {
		if label != model.LabelAnomalous {
			continue
		}
		idx := offset + i
		if idx < 0 || idx >= len(history) {
			continue
		}
		rec := history[idx]
		out = append(out, model.Anomaly{
			Kind:           model.KindStatisticalOutlier,
			Severity:       model.SeverityCritical,
			Timestamp:      now,
			RelatedAddress: rec.SrcAddr,
			Message:        fmt.Sprintf("Statistical anomaly detected in packet from %s to %s", rec.SrcAddr, rec.DstAddr),
			Context: map[string]any{
				"src":      rec.SrcAddr,
				"dst":      rec.DstAddr,
				"protocol": rec.Protocol,
				"size":     rec.Size,
			},
		})
	}
	return out
}
