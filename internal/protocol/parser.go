package protocol

import (
	"errors"
	"time"

	"TrafficLens/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// ErrNotIP is returned for frames without an IPv4 or IPv6 layer.
var ErrNotIP = errors.New("not an IP packet")

// ParseFrame decodes raw frame bytes of the given link type.
func ParseFrame(data []byte, linkType layers.LinkType, iface string) (model.PacketRecord, error) {
	packet := gopacket.NewPacket(data, linkType, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	return ParsePacket(packet, iface)
}

// ParsePacket extracts a PacketRecord from a decoded packet. The record size
// is the wire length when capture metadata is present.
func ParsePacket(packet gopacket.Packet, iface string) (model.PacketRecord, error) {
	rec := model.PacketRecord{
		Timestamp: time.Now(),
		Size:      len(packet.Data()),
		Interface: iface,
	}
	if meta := packet.Metadata(); meta != nil {
		if !meta.Timestamp.IsZero() {
			rec.Timestamp = meta.Timestamp
		}
		if meta.Length > 0 {
			rec.Size = meta.Length
		}
	}

	if l := packet.Layer(layers.LayerTypeIPv4); l != nil {
		ip := l.(*layers.IPv4)
		rec.SrcAddr = ip.SrcIP.String()
		rec.DstAddr = ip.DstIP.String()
		rec.Protocol = uint8(ip.Protocol)
	} else if l := packet.Layer(layers.LayerTypeIPv6); l != nil {
		ip := l.(*layers.IPv6)
		rec.SrcAddr = ip.SrcIP.String()
		rec.DstAddr = ip.DstIP.String()
		rec.Protocol = uint8(ip.NextHeader)
	} else {
		return model.PacketRecord{}, ErrNotIP
	}

	if l := packet.Layer(layers.LayerTypeTCP); l != nil {
		tcp := l.(*layers.TCP)
		rec.SrcPort = uint16(tcp.SrcPort)
		rec.DstPort = uint16(tcp.DstPort)
		rec.Protocol = model.ProtocolTCP
		rec.HasPorts = true
	} else if l := packet.Layer(layers.LayerTypeUDP); l != nil {
		udp := l.(*layers.UDP)
		rec.SrcPort = uint16(udp.SrcPort)
		rec.DstPort = uint16(udp.DstPort)
		rec.Protocol = model.ProtocolUDP
		rec.HasPorts = true
	}

	return rec, nil
}
