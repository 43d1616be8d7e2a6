package capture

import (
	"context"
	"fmt"
	"slices"

	psnet "github.com/shirou/gopsutil/v3/net"
)

// Interface describes a network interface packets can be captured from.
type Interface struct {
	Name         string   `json:"name"`
	HardwareAddr string   `json:"hardware_addr,omitempty"`
	Addresses    []string `json:"addresses"`
	MTU          int      `json:"mtu"`
	Up           bool     `json:"up"`
	Loopback     bool     `json:"loopback"`
	BytesSent    uint64   `json:"bytes_sent"`
	BytesRecv    uint64   `json:"bytes_recv"`
}

// ListInterfaces returns the host's interfaces with their I/O counters.
func ListInterfaces(ctx context.Context) ([]Interface, error) {
	stats, err := psnet.InterfacesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}
	// counters are best effort; some platforms do not expose them
	counters, _ := psnet.IOCountersWithContext(ctx, true)
	byName := make(map[string]psnet.IOCountersStat, len(counters))
	for _, c := range counters {
		byName[c.Name] = c
	}

	out := make([]Interface, 0, len(stats))
	for _, s := range stats {
		iface := Interface{
			Name:         s.Name,
			HardwareAddr: s.HardwareAddr,
			MTU:          s.MTU,
			Up:           slices.Contains(s.Flags, "up"),
			Loopback:     slices.Contains(s.Flags, "loopback"),
		}
		for _, a := range s.Addrs {
			iface.Addresses = append(iface.Addresses, a.Addr)
		}
		if c, ok := byName[s.Name]; ok {
			iface.BytesSent = c.BytesSent
			iface.BytesRecv = c.BytesRecv
		}
		out = append(out, iface)
	}
	return out, nil
}
