package probe

import (
	"testing"
	"time"

	"TrafficLens/internal/model"

	"google.golang.org/protobuf/encoding/protowire"
)

func TestEncodeDecode(t *testing.T) {
	tests := []struct {
		name string
		rec  model.PacketRecord
	}{
		{
			name: "tcp with ports",
			rec: model.PacketRecord{
				Timestamp: time.Unix(1700000000, 123456789),
				SrcAddr:   "192.168.1.10", DstAddr: "10.0.0.1",
				Protocol: model.ProtocolTCP, Size: 1514,
				SrcPort: 51000, DstPort: 443, HasPorts: true, Interface: "eth0",
			},
		},
		{
			name: "icmp without ports",
			rec: model.PacketRecord{
				Timestamp: time.Unix(1700000001, 0),
				SrcAddr:   "fe80::1", DstAddr: "fe80::2",
				Protocol: model.ProtocolICMP, Size: 64,
			},
		},
		{
			name: "zero value",
			rec:  model.PacketRecord{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(Encode(tt.rec))
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if !got.Timestamp.Equal(tt.rec.Timestamp) {
				t.Errorf("Timestamp: expected %s, got %s", tt.rec.Timestamp, got.Timestamp)
			}
			got.Timestamp, tt.rec.Timestamp = time.Time{}, time.Time{}
			if got != tt.rec {
				t.Errorf("Expected %+v, got %+v", tt.rec, got)
			}
		})
	}
}

func TestDecode_SkipsUnknownFields(t *testing.T) {
	b := Encode(model.PacketRecord{SrcAddr: "10.0.0.1", Size: 99})
	b = protowire.AppendTag(b, 42, protowire.BytesType)
	b = protowire.AppendString(b, "future field")
	b = protowire.AppendTag(b, 43, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, 7)

	rec, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if rec.SrcAddr != "10.0.0.1" || rec.Size != 99 {
		t.Errorf("Unexpected record: %+v", rec)
	}
}

func TestDecode_Truncated(t *testing.T) {
	b := Encode(model.PacketRecord{SrcAddr: "192.168.100.200", Size: 1500})
	if _, err := Decode(b[:len(b)-5]); err == nil {
		t.Fatal("Expected an error for a truncated record")
	}
}
