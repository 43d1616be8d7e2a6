package filter

import (
	"errors"
	"sync"
	"testing"

	"TrafficLens/internal/model"
)

func tcpRecord(size int) model.PacketRecord {
	return model.PacketRecord{
		SrcAddr:  "192.168.0.1",
		DstAddr:  "8.8.8.8",
		Protocol: model.ProtocolTCP,
		Size:     size,
		SrcPort:  51000,
		DstPort:  443,
		HasPorts: true,
	}
}

func TestMatches(t *testing.T) {
	icmp := model.PacketRecord{SrcAddr: "10.0.0.1", DstAddr: "10.0.0.2", Protocol: model.ProtocolICMP, Size: 84}

	tests := []struct {
		name string
		rec  model.PacketRecord
		cfg  Config
		want bool
	}{
		{name: "disabled accepts everything", rec: tcpRecord(50), cfg: Config{SizeRange: SizeRange{Min: 100, Max: 200}}, want: true},
		{name: "below size range", rec: tcpRecord(50), cfg: Config{Enabled: true, SizeRange: SizeRange{Min: 100, Max: 200}}, want: false},
		{name: "inside size range", rec: tcpRecord(50), cfg: Config{Enabled: true, SizeRange: SizeRange{Min: 0, Max: 100}}, want: true},
		{name: "above size range", rec: tcpRecord(1500), cfg: Config{Enabled: true, SizeRange: SizeRange{Max: 1000}}, want: false},
		{name: "no upper bound", rec: tcpRecord(9000), cfg: Config{Enabled: true}, want: true},
		{name: "address matches source", rec: tcpRecord(60), cfg: Config{Enabled: true, Address: "192.168.0.1"}, want: true},
		{name: "address matches destination", rec: tcpRecord(60), cfg: Config{Enabled: true, Address: "8.8.8.8"}, want: true},
		{name: "address mismatch", rec: tcpRecord(60), cfg: Config{Enabled: true, Address: "1.1.1.1"}, want: false},
		{name: "protocol by name", rec: tcpRecord(60), cfg: Config{Enabled: true, Protocol: "TCP"}, want: true},
		{name: "protocol by number", rec: tcpRecord(60), cfg: Config{Enabled: true, Protocol: "6"}, want: true},
		{name: "protocol mismatch", rec: tcpRecord(60), cfg: Config{Enabled: true, Protocol: "udp"}, want: false},
		{name: "unknown protocol name", rec: tcpRecord(60), cfg: Config{Enabled: true, Protocol: "sctp"}, want: false},
		{name: "port matches destination", rec: tcpRecord(60), cfg: Config{Enabled: true, Port: 443}, want: true},
		{name: "port mismatch", rec: tcpRecord(60), cfg: Config{Enabled: true, Port: 22}, want: false},
		{name: "port filter without ports never matches", rec: icmp, cfg: Config{Enabled: true, Port: 443}, want: false},
		{name: "all clauses", rec: tcpRecord(60), cfg: Config{Enabled: true, Address: "8.8.8.8", Protocol: "tcp", Port: 51000, SizeRange: SizeRange{Min: 40, Max: 1500}}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Matches(tt.rec, tt.cfg); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProtocolNumber(t *testing.T) {
	tests := map[string]uint8{"tcp": 6, "UDP": 17, "icmp": 1, " 47 ": 47}
	for name, want := range tests {
		got, ok := ProtocolNumber(name)
		if !ok || got != want {
			t.Errorf("ProtocolNumber(%q) = %d, %v; want %d", name, got, ok, want)
		}
	}
	if _, ok := ProtocolNumber("300"); ok {
		t.Errorf("Expected 300 to be rejected")
	}
}

func TestHolder_ApplyKeepsPriorValueOnMalformedField(t *testing.T) {
	h := NewHolder(Config{Port: 53})

	err := h.Apply(map[string]any{
		"ip_filter":       "10.1.1.1",
		"protocol_filter": "udp",
		"port_filter":     "not-a-port",
		"size_filter":     map[string]any{"min": 0, "max": 512},
		"colour":          "red",
	})

	var cerr *model.ConfigurationError
	if !errors.As(err, &cerr) {
		t.Fatalf("Expected a ConfigurationError, got %v", err)
	}
	if _, ok := cerr.Ignored["port_filter"]; !ok {
		t.Errorf("Expected port_filter to be reported, got %v", cerr.Ignored)
	}
	if _, ok := cerr.Ignored["colour"]; !ok {
		t.Errorf("Expected unknown key to be reported, got %v", cerr.Ignored)
	}

	got := h.Get()
	if !got.Enabled || got.Address != "10.1.1.1" || got.Protocol != "udp" {
		t.Errorf("Valid fields were not applied: %+v", got)
	}
	if got.Port != 53 {
		t.Errorf("Expected prior port 53 to be kept, got %d", got.Port)
	}
	if got.SizeRange != (SizeRange{Min: 0, Max: 512}) {
		t.Errorf("Unexpected size range %+v", got.SizeRange)
	}
}

func TestHolder_ApplyClearsOnNil(t *testing.T) {
	h := NewHolder(Config{Enabled: true, Address: "1.2.3.4", Port: 80})
	if err := h.Apply(map[string]any{"ip_filter": nil, "port_filter": nil}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	got := h.Get()
	if got.Address != "" || got.Port != 0 {
		t.Errorf("Expected cleared clauses, got %+v", got)
	}
}

func TestHolder_ConcurrentReplace(t *testing.T) {
	h := NewHolder(Config{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			h.Set(Config{Enabled: true, Port: i + 1})
		}(i)
		go func() {
			defer wg.Done()
			_ = h.Matches(tcpRecord(64))
		}()
	}
	wg.Wait()

	if p := h.Get().Port; p < 1 || p > 8 {
		t.Errorf("Expected one of the written configs to win, got port %d", p)
	}
}

func TestHolder_ApplyEmptyUpdateKeepsEnabled(t *testing.T) {
	h := NewHolder(Config{Port: 53})
	if err := h.Apply(map[string]any{}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if got := h.Get(); got.Enabled || got.Port != 53 {
		t.Errorf("An empty update must not change the filter, got %+v", got)
	}

	if err := h.Apply(map[string]any{"port_filter": 80, "enabled": false}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if got := h.Get(); got.Enabled || got.Port != 80 {
		t.Errorf("Explicit enabled=false should win, got %+v", got)
	}
}

func TestHolder_ConcurrentApplyMergesFields(t *testing.T) {
	for round := 0; round < 50; round++ {
		h := NewHolder(Config{})
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = h.Apply(map[string]any{"ip_filter": "10.0.0.1"})
		}()
		go func() {
			defer wg.Done()
			_ = h.Apply(map[string]any{"port_filter": 443})
		}()
		wg.Wait()

		got := h.Get()
		if got.Address != "10.0.0.1" || got.Port != 443 || !got.Enabled {
			t.Fatalf("Round %d: concurrent updates lost a field: %+v", round, got)
		}
	}
}
