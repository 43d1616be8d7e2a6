package probe

import (
	"errors"
	"fmt"
	"time"

	"TrafficLens/internal/model"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the PacketRecord wire message.
const (
	fieldTimestamp protowire.Number = 1 // int64 unix nanoseconds
	fieldSrcAddr   protowire.Number = 2
	fieldDstAddr   protowire.Number = 3
	fieldProtocol  protowire.Number = 4
	fieldSize      protowire.Number = 5
	fieldSrcPort   protowire.Number = 6
	fieldDstPort   protowire.Number = 7
	fieldHasPorts  protowire.Number = 8
	fieldInterface protowire.Number = 9
)

var errTruncated = errors.New("truncated packet record")

// Encode serializes rec in protobuf wire format.
func Encode(rec model.PacketRecord) []byte {
	b := make([]byte, 0, 64+len(rec.SrcAddr)+len(rec.DstAddr)+len(rec.Interface))
	if !rec.Timestamp.IsZero() {
		b = appendVarint(b, fieldTimestamp, uint64(rec.Timestamp.UnixNano()))
	}
	b = appendString(b, fieldSrcAddr, rec.SrcAddr)
	b = appendString(b, fieldDstAddr, rec.DstAddr)
	b = appendVarint(b, fieldProtocol, uint64(rec.Protocol))
	b = appendVarint(b, fieldSize, uint64(rec.Size))
	b = appendVarint(b, fieldSrcPort, uint64(rec.SrcPort))
	b = appendVarint(b, fieldDstPort, uint64(rec.DstPort))
	if rec.HasPorts {
		b = appendVarint(b, fieldHasPorts, 1)
	}
	b = appendString(b, fieldInterface, rec.Interface)
	return b
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// Decode parses a record produced by Encode. Unknown fields are skipped.
func Decode(b []byte) (model.PacketRecord, error) {
	var rec model.PacketRecord
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return model.PacketRecord{}, fmt.Errorf("%w: %v", errTruncated, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return model.PacketRecord{}, fmt.Errorf("%w: %v", errTruncated, protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldTimestamp:
				rec.Timestamp = time.Unix(0, int64(v))
			case fieldProtocol:
				rec.Protocol = uint8(v)
			case fieldSize:
				rec.Size = int(v)
			case fieldSrcPort:
				rec.SrcPort = uint16(v)
			case fieldDstPort:
				rec.DstPort = uint16(v)
			case fieldHasPorts:
				rec.HasPorts = v != 0
			}
		case typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return model.PacketRecord{}, fmt.Errorf("%w: %v", errTruncated, protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldSrcAddr:
				rec.SrcAddr = v
			case fieldDstAddr:
				rec.DstAddr = v
			case fieldInterface:
				rec.Interface = v
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return model.PacketRecord{}, fmt.Errorf("%w: %v", errTruncated, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return rec, nil
}
