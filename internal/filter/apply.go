package filter

import (
	"fmt"
	"strings"

	"TrafficLens/internal/model"

	"github.com/spf13/cast"
)

// Apply merges a loosely typed update (as decoded from JSON) into the current
// filter. Recognized keys are enabled, ip_filter, protocol_filter,
// port_filter and size_filter{min,max}. A nil value clears the optional
// clauses. Malformed values keep their prior setting. Applying any clause
// enables the filter unless the update sets enabled itself; an update with
// no applicable key leaves Enabled unchanged. Concurrent updates are merged,
// never lost.
func (h *Holder) Apply(update map[string]any) error {
	for {
		prev := h.current.Load()
		next, cerr := merge(*prev, update)
		if h.current.CompareAndSwap(prev, &next) {
			return cerr.Err()
		}
	}
}

func merge(cfg Config, update map[string]any) (Config, *model.ConfigurationError) {
	cerr := &model.ConfigurationError{}
	clauseSet, enabledSet := false, false

	for key, raw := range update {
		switch key {
		case "enabled":
			v, err := cast.ToBoolE(raw)
			if err != nil {
				cerr.Ignore(key, err.Error())
				continue
			}
			cfg.Enabled = v
			enabledSet = true
			continue
		case "ip_filter":
			if raw == nil {
				cfg.Address = ""
				clauseSet = true
				continue
			}
			v, err := cast.ToStringE(raw)
			if err != nil {
				cerr.Ignore(key, err.Error())
				continue
			}
			cfg.Address = strings.TrimSpace(v)
		case "protocol_filter":
			if raw == nil {
				cfg.Protocol = ""
				clauseSet = true
				continue
			}
			v, err := cast.ToStringE(raw)
			if err != nil {
				cerr.Ignore(key, err.Error())
				continue
			}
			if v != "" {
				if _, ok := ProtocolNumber(v); !ok {
					cerr.Ignore(key, fmt.Sprintf("unknown protocol %q", v))
					continue
				}
			}
			cfg.Protocol = v
		case "port_filter":
			if raw == nil {
				cfg.Port = 0
				clauseSet = true
				continue
			}
			v, err := cast.ToIntE(raw)
			if err != nil || v < 0 || v > 65535 {
				cerr.Ignore(key, fmt.Sprintf("invalid port %v", raw))
				continue
			}
			cfg.Port = v
		case "size_filter":
			rng, err := cast.ToStringMapE(raw)
			if err != nil {
				cerr.Ignore(key, err.Error())
				continue
			}
			next := cfg.SizeRange
			lo, minErr := cast.ToIntE(rng["min"])
			hi, maxErr := cast.ToIntE(rng["max"])
			if _, ok := rng["min"]; ok && minErr == nil {
				next.Min = lo
			}
			if _, ok := rng["max"]; ok && maxErr == nil {
				next.Max = hi
			}
			if minErr != nil || maxErr != nil || next.Min < 0 || (next.Max > 0 && next.Max < next.Min) {
				cerr.Ignore(key, fmt.Sprintf("invalid size range %v", raw))
				continue
			}
			cfg.SizeRange = next
		default:
			cerr.Ignore(key, "unknown field")
			continue
		}
		clauseSet = true
	}

	if clauseSet && !enabledSet {
		cfg.Enabled = true
	}
	return cfg, cerr
}
