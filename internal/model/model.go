package model

import (
	"time"
)

// Well-known IP protocol numbers.
const (
	ProtocolICMP uint8 = 1
	ProtocolTCP  uint8 = 6
	ProtocolUDP  uint8 = 17
)

// PacketRecord holds the already-parsed fields of a single observed packet.
// It is immutable once produced by a capture source.
type PacketRecord struct {
	Timestamp time.Time `json:"timestamp"`
	SrcAddr   string    `json:"src"`
	DstAddr   string    `json:"dst"`
	Protocol  uint8     `json:"protocol"`
	Size      int       `json:"size"`

	// Transport ports are only meaningful when HasPorts is set.
	SrcPort  uint16 `json:"src_port,omitempty"`
	DstPort  uint16 `json:"dst_port,omitempty"`
	HasPorts bool   `json:"has_ports"`

	// Interface names the capture source that produced the record.
	Interface string `json:"interface,omitempty"`
}

// AddressStats accumulates per-address traffic counters.
type AddressStats struct {
	Address    string `json:"address"`
	Sent       uint64 `json:"sent"`
	Received   uint64 `json:"received"`
	BytesTotal uint64 `json:"bytes"`
}

// StatsSnapshot is an immutable, bounded copy of the aggregate state taken at
// one point in time. Nothing in it aliases live mutable state.
type StatsSnapshot struct {
	Timestamp      time.Time        `json:"timestamp"`
	TotalPackets   uint64           `json:"total_packets"`
	TotalBytes     uint64           `json:"total_bytes"`
	ProtocolCounts map[uint8]uint64 `json:"protocols"`
	Addresses      []AddressStats   `json:"ips"`
	TopTalkers     []AddressStats   `json:"top_talkers"`
	History        []PacketRecord   `json:"packet_history"`
	Anomalies      []Anomaly        `json:"anomalies"`
	CaptureState   string           `json:"capture_state,omitempty"`
	ActiveSession  string           `json:"active_session,omitempty"`
}

// StatsSummary is the periodic statistics row written to durable storage.
type StatsSummary struct {
	Timestamp         time.Time `json:"timestamp"`
	TotalPackets      uint64    `json:"total_packets"`
	TotalBytes        uint64    `json:"total_bytes"`
	DistinctAddresses int       `json:"distinct_addresses"`
	TCPPackets        uint64    `json:"tcp_packets"`
	UDPPackets        uint64    `json:"udp_packets"`
	ICMPPackets       uint64    `json:"icmp_packets"`
	TopTalker         string    `json:"top_talker,omitempty"`
	TopTalkerBytes    uint64    `json:"top_talker_bytes"`
}
