package filter

import (
	"strconv"
	"strings"
	"sync/atomic"

	"TrafficLens/internal/config"
	"TrafficLens/internal/model"
)

// SizeRange bounds the accepted packet size in bytes, inclusive.
// Max == 0 means there is no upper bound.
type SizeRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Config is the packet filter. The zero value accepts everything.
type Config struct {
	Enabled   bool      `json:"enabled"`
	Address   string    `json:"ip_filter,omitempty"`
	Protocol  string    `json:"protocol_filter,omitempty"`
	Port      int       `json:"port_filter,omitempty"`
	SizeRange SizeRange `json:"size_filter"`
}

// FromConfig converts the YAML filter section.
func FromConfig(c config.FilterConfig) Config {
	return Config{
		Enabled:   c.Enabled,
		Address:   c.Address,
		Protocol:  c.Protocol,
		Port:      c.Port,
		SizeRange: SizeRange{Min: c.SizeMin, Max: c.SizeMax},
	}
}

var protocolNames = map[string]uint8{
	"icmp": model.ProtocolICMP,
	"tcp":  model.ProtocolTCP,
	"udp":  model.ProtocolUDP,
}

// ProtocolNumber resolves a symbolic (tcp, udp, icmp) or numeric protocol.
func ProtocolNumber(name string) (uint8, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if n, ok := protocolNames[name]; ok {
		return n, true
	}
	n, err := strconv.ParseUint(name, 10, 8)
	if err != nil {
		return 0, false
	}
	return uint8(n), true
}

// Matches reports whether rec should be counted under cfg.
//
// Clauses are evaluated in order: size range, address, protocol, port. When a
// port filter is set, records without transport ports never match, even if
// every other clause does.
func Matches(rec model.PacketRecord, cfg Config) bool {
	if !cfg.Enabled {
		return true
	}

	if rec.Size < cfg.SizeRange.Min {
		return false
	}
	if cfg.SizeRange.Max > 0 && rec.Size > cfg.SizeRange.Max {
		return false
	}

	if cfg.Address != "" && rec.SrcAddr != cfg.Address && rec.DstAddr != cfg.Address {
		return false
	}

	if cfg.Protocol != "" {
		proto, ok := ProtocolNumber(cfg.Protocol)
		if !ok || rec.Protocol != proto {
			return false
		}
	}

	if cfg.Port != 0 {
		if !rec.HasPorts {
			return false
		}
		port := uint16(cfg.Port)
		if rec.SrcPort != port && rec.DstPort != port {
			return false
		}
	}

	return true
}

// Holder publishes the current filter to concurrent readers. Updates replace
// the whole Config; the last writer wins.
type Holder struct {
	current atomic.Pointer[Config]
}

// NewHolder creates a Holder with an initial filter.
func NewHolder(cfg Config) *Holder {
	h := &Holder{}
	h.Set(cfg)
	return h
}

// Get returns the current filter.
func (h *Holder) Get() Config {
	return *h.current.Load()
}

// Set replaces the current filter.
func (h *Holder) Set(cfg Config) {
	h.current.Store(&cfg)
}

// Disable turns filtering off but keeps the other fields for later re-enabling.
func (h *Holder) Disable() {
	for {
		prev := h.current.Load()
		next := *prev
		next.Enabled = false
		if h.current.CompareAndSwap(prev, &next) {
			return
		}
	}
}

// Matches evaluates rec against the current filter.
func (h *Holder) Matches(rec model.PacketRecord) bool {
	return Matches(rec, h.Get())
}
