package aggregate

import (
	"maps"
	"sort"
	"sync"
	"time"

	"TrafficLens/internal/model"
	"TrafficLens/internal/pkg/ring"
)

const (
	// HistoryCapacity bounds the packet history.
	HistoryCapacity = 1000
	// AnomalyCapacity bounds the retained anomalies.
	AnomalyCapacity = 50
	// TopTalkersLimit is the length of the top talkers view.
	TopTalkersLimit = 10
)

// Limits bounds a Snapshot. Zero or negative values mean "everything".
type Limits struct {
	History   int
	Addresses int
	Anomalies int
}

// DefaultLimits are the bounds used for published snapshots.
var DefaultLimits = Limits{History: 50, Addresses: 50, Anomalies: 20}

// Store holds the live traffic aggregate. A single mutex guards every field,
// so a Snapshot never observes a half-applied RecordAccepted.
type Store struct {
	mu sync.Mutex

	totalPackets   uint64
	totalBytes     uint64
	protocolCounts map[uint8]uint64
	addresses      map[string]*model.AddressStats
	order          []string // first-seen order of addresses

	history    *ring.Buffer[model.PacketRecord]
	topTalkers []model.AddressStats
	anomalies  *ring.Buffer[model.Anomaly]
}

// New creates an empty aggregate store.
func New() *Store {
	return &Store{
		protocolCounts: make(map[uint8]uint64),
		addresses:      make(map[string]*model.AddressStats),
		history:        ring.New[model.PacketRecord](HistoryCapacity),
		anomalies:      ring.New[model.Anomaly](AnomalyCapacity),
	}
}

// RecordAccepted counts a record that passed the filter.
func (s *Store) RecordAccepted(rec model.PacketRecord) {
	size := uint64(rec.Size)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalPackets++
	s.totalBytes += size
	s.protocolCounts[rec.Protocol]++

	src := s.addressLocked(rec.SrcAddr)
	src.Sent++
	src.BytesTotal += size

	dst := s.addressLocked(rec.DstAddr)
	dst.Received++
	dst.BytesTotal += size

	s.history.Push(rec)
}

// addressLocked returns the stats entry for addr, creating it on first use.
func (s *Store) addressLocked(addr string) *model.AddressStats {
	st, ok := s.addresses[addr]
	if !ok {
		st = &model.AddressStats{Address: addr}
		s.addresses[addr] = st
		s.order = append(s.order, addr)
	}
	return st
}

// ComputeTopTalkers recomputes the top talkers view from a copy of the
// address stats and returns it. Equal byte totals keep first-seen order.
func (s *Store) ComputeTopTalkers() []model.AddressStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]model.AddressStats, 0, len(s.order))
	for _, addr := range s.order {
		all = append(all, *s.addresses[addr])
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].BytesTotal > all[j].BytesTotal
	})
	if len(all) > TopTalkersLimit {
		all = all[:TopTalkersLimit]
	}

	s.topTalkers = all
	return append([]model.AddressStats(nil), all...)
}

// TopTalkers returns the view computed by the last ComputeTopTalkers call.
func (s *Store) TopTalkers() []model.AddressStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.AddressStats(nil), s.topTalkers...)
}

// Snapshot returns a deep copy of the state bounded by limits.
func (s *Store) Snapshot(limits Limits) model.StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.order)
	if limits.Addresses > 0 && limits.Addresses < n {
		n = limits.Addresses
	}
	addrs := make([]model.AddressStats, 0, n)
	for _, addr := range s.order[:n] {
		addrs = append(addrs, *s.addresses[addr])
	}

	return model.StatsSnapshot{
		Timestamp:      time.Now(),
		TotalPackets:   s.totalPackets,
		TotalBytes:     s.totalBytes,
		ProtocolCounts: maps.Clone(s.protocolCounts),
		Addresses:      addrs,
		TopTalkers:     append([]model.AddressStats(nil), s.topTalkers...),
		History:        s.history.Tail(limits.History),
		Anomalies:      s.anomalies.Tail(limits.Anomalies),
	}
}

// Summary condenses the current state into a durable statistics row.
func (s *Store) Summary(now time.Time) model.StatsSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	summary := model.StatsSummary{
		Timestamp:         now,
		TotalPackets:      s.totalPackets,
		TotalBytes:        s.totalBytes,
		DistinctAddresses: len(s.addresses),
		TCPPackets:        s.protocolCounts[model.ProtocolTCP],
		UDPPackets:        s.protocolCounts[model.ProtocolUDP],
		ICMPPackets:       s.protocolCounts[model.ProtocolICMP],
	}
	if len(s.topTalkers) > 0 {
		summary.TopTalker = s.topTalkers[0].Address
		summary.TopTalkerBytes = s.topTalkers[0].BytesTotal
	}
	return summary
}

// ReplaceAnomalies swaps the retained anomalies for the latest evaluation batch.
func (s *Store) ReplaceAnomalies(batch []model.Anomaly) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anomalies.Replace(batch)
}

// AppendAnomaly adds one externally produced anomaly, e.g. a threat-intel hit.
func (s *Store) AppendAnomaly(a model.Anomaly) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anomalies.Push(a)
}

// HistoryTail returns a copy of the newest n history entries, oldest first.
func (s *Store) HistoryTail(n int) []model.PacketRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Tail(n)
}

// HasAddress reports whether addr has been seen in any accepted record.
func (s *Store) HasAddress(addr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.addresses[addr]
	return ok
}

// Address returns a copy of the stats for addr.
func (s *Store) Address(addr string) (model.AddressStats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.addresses[addr]
	if !ok {
		return model.AddressStats{}, false
	}
	return *st, true
}

// Totals returns the packet and byte counters.
func (s *Store) Totals() (packets, bytes uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalPackets, s.totalBytes
}

// Reset clears all counters and buffers.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalPackets = 0
	s.totalBytes = 0
	s.protocolCounts = make(map[uint8]uint64)
	s.addresses = make(map[string]*model.AddressStats)
	s.order = nil
	s.history.Reset()
	s.topTalkers = nil
	s.anomalies.Reset()
}
