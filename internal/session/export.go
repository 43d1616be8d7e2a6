package session

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"TrafficLens/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

// Supported export formats.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
	FormatText = "text"
	FormatPCAP = "pcap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Exporter writes finalized sessions into a directory, one file per format.
type Exporter struct {
	dir     string
	formats []string
	logger  *zap.Logger
}

// NewExporter creates an exporter. Unknown formats are rejected.
func NewExporter(dir string, formats []string, logger *zap.Logger) (*Exporter, error) {
	if dir == "" {
		return nil, fmt.Errorf("session export directory is empty")
	}
	for _, f := range formats {
		switch f {
		case FormatCSV, FormatJSON, FormatText, FormatPCAP:
		default:
			return nil, fmt.Errorf("unknown session export format %q", f)
		}
	}
	if len(formats) == 0 {
		formats = []string{FormatJSON}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{dir: dir, formats: formats, logger: logger.Named("session-export")}, nil
}

// Export implements model.SessionExporter. Every format is attempted; the
// first error is returned.
func (e *Exporter) Export(s model.FinalizedSession) error {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}

	var firstErr error
	for _, format := range e.formats {
		path := e.Path(s.Session, format)
		if err := e.writeFile(path, format, s); err != nil {
			e.logger.Error("Session export failed", zap.String("format", format), zap.String("path", path), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		e.logger.Info("Session exported",
			zap.String("session", s.Name),
			zap.String("format", format),
			zap.String("path", path),
			zap.Int("records", len(s.Records)))
	}
	return firstErr
}

// Path returns the file a session is exported to in the given format.
func (e *Exporter) Path(s model.Session, format string) string {
	name := unsafeName.ReplaceAllString(s.Name, "_")
	if name == "" {
		name = "session"
	}
	id := s.ID
	if len(id) > 8 {
		id = id[:8]
	}
	ext := format
	if format == FormatText {
		ext = "txt"
	}
	return filepath.Join(e.dir, fmt.Sprintf("%s_%s_%s.%s", name, s.StartTime.UTC().Format("20060102T150405"), id, ext))
}

func (e *Exporter) writeFile(path, format string, s model.FinalizedSession) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	w := bufio.NewWriter(f)
	if format == FormatPCAP {
		skipped, err := WritePCAP(w, s)
		if err != nil {
			return err
		}
		if skipped > 0 {
			e.logger.Warn("Skipped records that cannot be written as frames",
				zap.String("session", s.Name), zap.Int("skipped", skipped))
		}
	} else if err := Write(w, format, s); err != nil {
		return err
	}
	return w.Flush()
}

// Write renders s to w in the given format.
func Write(w io.Writer, format string, s model.FinalizedSession) error {
	switch format {
	case FormatCSV:
		return WriteCSV(w, s)
	case FormatJSON:
		return WriteJSON(w, s)
	case FormatText:
		return WriteText(w, s)
	case FormatPCAP:
		_, err := WritePCAP(w, s)
		return err
	default:
		return fmt.Errorf("unknown session export format %q", format)
	}
}

var csvHeader = []string{"timestamp", "src_ip", "dst_ip", "protocol", "size", "src_port", "dst_port", "interface"}

// WriteCSV writes one row per record.
func WriteCSV(w io.Writer, s model.FinalizedSession) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range s.Records {
		row := []string{
			r.Timestamp.UTC().Format(time.RFC3339Nano),
			r.SrcAddr,
			r.DstAddr,
			strconv.Itoa(int(r.Protocol)),
			strconv.Itoa(r.Size),
			portField(r, r.SrcPort),
			portField(r, r.DstPort),
			r.Interface,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func portField(r model.PacketRecord, port uint16) string {
	if !r.HasPorts {
		return ""
	}
	return strconv.Itoa(int(port))
}

// WriteJSON writes the session and its records as one JSON document.
func WriteJSON(w io.Writer, s model.FinalizedSession) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

// WriteText writes a human readable summary followed by one line per record.
func WriteText(w io.Writer, s model.FinalizedSession) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "Session:  %s (%s)\n", s.Name, s.ID)
	fmt.Fprintf(bw, "Start:    %s\n", s.StartTime.UTC().Format(time.RFC3339))
	fmt.Fprintf(bw, "End:      %s\n", s.EndTime.UTC().Format(time.RFC3339))
	fmt.Fprintf(bw, "Duration: %s\n", s.Duration)
	fmt.Fprintf(bw, "Packets:  %d (%d buffered)\n\n", s.PacketCount, len(s.Records))
	for _, r := range s.Records {
		src, dst := r.SrcAddr, r.DstAddr
		if r.HasPorts {
			src = net.JoinHostPort(src, strconv.Itoa(int(r.SrcPort)))
			dst = net.JoinHostPort(dst, strconv.Itoa(int(r.DstPort)))
		}
		fmt.Fprintf(bw, "%s %-5s %s -> %s %d bytes\n",
			r.Timestamp.UTC().Format(time.RFC3339Nano), protocolName(r.Protocol), src, dst, r.Size)
	}
	return bw.Flush()
}

func protocolName(p uint8) string {
	switch p {
	case model.ProtocolTCP:
		return "TCP"
	case model.ProtocolUDP:
		return "UDP"
	case model.ProtocolICMP:
		return "ICMP"
	default:
		return strconv.Itoa(int(p))
	}
}

// WritePCAP synthesizes an Ethernet frame per record and writes a pcap file.
// Frames carry the recorded addresses, protocol and ports and are zero-padded
// to the recorded size; payload bytes were never captured. Records that
// cannot be framed, e.g. with a non-IP address, are skipped and counted.
func WritePCAP(w io.Writer, s model.FinalizedSession) (skipped int, err error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(65535, layers.LinkTypeEthernet); err != nil {
		return 0, err
	}
	for _, r := range s.Records {
		frame, err := synthesizeFrame(r)
		if err != nil {
			skipped++
			continue
		}
		ci := gopacket.CaptureInfo{
			Timestamp:     r.Timestamp,
			CaptureLength: len(frame),
			Length:        max(len(frame), r.Size),
		}
		if err := pw.WritePacket(ci, frame); err != nil {
			return skipped, err
		}
	}
	return skipped, nil
}

const ethernetHeaderLen = 14

func synthesizeFrame(r model.PacketRecord) ([]byte, error) {
	src, dst := net.ParseIP(r.SrcAddr), net.ParseIP(r.DstAddr)
	if src == nil || dst == nil {
		return nil, fmt.Errorf("invalid address %q -> %q", r.SrcAddr, r.DstAddr)
	}

	eth := &layers.Ethernet{
		SrcMAC: net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC: net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
	}
	var network gopacket.NetworkLayer
	var stack []gopacket.SerializableLayer
	headerLen := ethernetHeaderLen

	if src4, dst4 := src.To4(), dst.To4(); src4 != nil && dst4 != nil {
		eth.EthernetType = layers.EthernetTypeIPv4
		ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocol(r.Protocol), SrcIP: src4, DstIP: dst4}
		network = ip
		stack = append(stack, eth, ip)
		headerLen += 20
	} else {
		eth.EthernetType = layers.EthernetTypeIPv6
		ip := &layers.IPv6{Version: 6, HopLimit: 64, NextHeader: layers.IPProtocol(r.Protocol), SrcIP: src.To16(), DstIP: dst.To16()}
		network = ip
		stack = append(stack, eth, ip)
		headerLen += 40
	}

	switch {
	case r.Protocol == model.ProtocolTCP && r.HasPorts:
		tcp := &layers.TCP{SrcPort: layers.TCPPort(r.SrcPort), DstPort: layers.TCPPort(r.DstPort), Window: 65535}
		if err := tcp.SetNetworkLayerForChecksum(network); err != nil {
			return nil, err
		}
		stack = append(stack, tcp)
		headerLen += 20
	case r.Protocol == model.ProtocolUDP && r.HasPorts:
		udp := &layers.UDP{SrcPort: layers.UDPPort(r.SrcPort), DstPort: layers.UDPPort(r.DstPort)}
		if err := udp.SetNetworkLayerForChecksum(network); err != nil {
			return nil, err
		}
		stack = append(stack, udp)
		headerLen += 8
	}

	pad := r.Size - headerLen
	if pad < 0 {
		pad = 0
	}
	stack = append(stack, gopacket.Payload(make([]byte, pad)))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, stack...); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
