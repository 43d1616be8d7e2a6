package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"TrafficLens/internal/model"
	"TrafficLens/internal/protocol"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
	"go.uber.org/zap"
)

const (
	DefaultSnapshotLen int32 = 1600
	DefaultReadTimeout       = 500 * time.Millisecond
)

// PcapSource captures from a live interface or replays a pcap file.
type PcapSource struct {
	device      string
	file        string
	snapshotLen int32
	promiscuous bool
	readTimeout time.Duration
	logger      *zap.Logger
}

// NewLiveSource captures from the named interface. The read timeout bounds
// how long a blocked read can delay cancellation.
func NewLiveSource(device string, opts Options) *PcapSource {
	opts = opts.withDefaults()
	return &PcapSource{
		device:      device,
		snapshotLen: opts.SnapshotLen,
		promiscuous: opts.Promiscuous,
		readTimeout: opts.ReadTimeout,
		logger:      opts.Logger.Named("pcap").With(zap.String("device", device)),
	}
}

// NewFileSource replays the packets of a pcap file once.
func NewFileSource(path string, opts Options) *PcapSource {
	opts = opts.withDefaults()
	return &PcapSource{
		file:   path,
		logger: opts.Logger.Named("pcap").With(zap.String("file", path)),
	}
}

// Name implements model.CaptureSource.
func (s *PcapSource) Name() string {
	if s.file != "" {
		return "file:" + s.file
	}
	return "pcap:" + s.device
}

func (s *PcapSource) open() (*pcap.Handle, error) {
	if s.file != "" {
		return pcap.OpenOffline(s.file)
	}
	return pcap.OpenLive(s.device, s.snapshotLen, s.promiscuous, s.readTimeout)
}

// Run implements model.CaptureSource. Frames that are not IP are skipped.
// A file source returns nil at end of file.
func (s *PcapSource) Run(ctx context.Context, emit func(model.PacketRecord)) error {
	handle, err := s.open()
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", s.Name(), err)
	}
	defer handle.Close()

	s.logger.Info("Capture started", zap.String("link_type", handle.LinkType().String()))
	source := gopacket.NewPacketSource(handle, handle.LinkType())
	source.DecodeOptions = gopacket.DecodeOptions{Lazy: true, NoCopy: true}

	var skipped uint64
	for {
		if ctx.Err() != nil {
			return nil
		}
		packet, err := source.NextPacket()
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			s.logger.Info("End of capture file", zap.Uint64("skipped", skipped))
			return nil
		case errors.Is(err, pcap.NextErrorTimeoutExpired):
			continue
		default:
			return fmt.Errorf("failed to read from %s: %w", s.Name(), err)
		}

		rec, err := protocol.ParsePacket(packet, s.device)
		if err != nil {
			skipped++
			continue
		}
		emit(rec)
	}
}
