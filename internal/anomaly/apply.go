package anomaly

import (
	"fmt"
	"slices"

	"TrafficLens/internal/model"

	"github.com/spf13/cast"
)

// ApplyConfig merges a loosely typed update into the current settings.
// Recognized keys are high_traffic_threshold, suspicious_ips and
// ai_detection_enabled. Malformed or unknown keys are ignored and reported
// through a *model.ConfigurationError; the prior values are kept.
// Concurrent updates are merged, never lost.
func (e *Engine) ApplyConfig(update map[string]any) error {
	for {
		prev := e.cfg.Load()
		cur := *prev
		cur.SuspiciousAddresses = slices.Clone(cur.SuspiciousAddresses)
		next, cerr := mergeConfig(cur, update)
		next = normalize(next)
		if e.cfg.CompareAndSwap(prev, &next) {
			return cerr.Err()
		}
	}
}

func mergeConfig(cfg Config, update map[string]any) (Config, *model.ConfigurationError) {
	cerr := &model.ConfigurationError{}

	for key, raw := range update {
		switch key {
		case "high_traffic_threshold":
			v, err := cast.ToFloat64E(raw)
			if err != nil || v <= 0 {
				cerr.Ignore(key, fmt.Sprintf("invalid threshold %v", raw))
				continue
			}
			cfg.HighTrafficThreshold = v
		case "suspicious_ips":
			v, err := cast.ToStringSliceE(raw)
			if err != nil {
				cerr.Ignore(key, err.Error())
				continue
			}
			cfg.SuspiciousAddresses = slices.Clone(v)
		case "ai_detection_enabled":
			v, err := cast.ToBoolE(raw)
			if err != nil {
				cerr.Ignore(key, err.Error())
				continue
			}
			cfg.StatisticalEnabled = v
		default:
			cerr.Ignore(key, "unknown field")
		}
	}

	return cfg, cerr
}
