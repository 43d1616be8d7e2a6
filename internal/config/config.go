package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// CaptureConfig describes where packets come from.
type CaptureConfig struct {
	// Sources lists capture source specs: "pcap:<iface>", "file:<path>" or "nats:<subject>".
	Sources     []string `yaml:"sources"`
	SessionName string   `yaml:"session_name"`
	SnapshotLen int32    `yaml:"snapshot_len"`
	Promiscuous bool     `yaml:"promiscuous"`
	ReadTimeout string   `yaml:"read_timeout"`
	AutoStart   bool     `yaml:"auto_start"`
}

// FilterConfig mirrors filter.Config in YAML form.
type FilterConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Address  string `yaml:"address"`
	Protocol string `yaml:"protocol"`
	Port     int    `yaml:"port"`
	SizeMin  int    `yaml:"size_min"`
	SizeMax  int    `yaml:"size_max"`
}

// StatisticalConfig configures the model-based anomaly detector.
type StatisticalConfig struct {
	Enabled bool `yaml:"enabled"`
	// ServiceAddr selects a remote gRPC scorer; empty uses the in-process z-score scorer.
	ServiceAddr string  `yaml:"service_addr"`
	Timeout     string  `yaml:"timeout"`
	ZThreshold  float64 `yaml:"z_threshold"`
}

// AlertsConfig holds the anomaly detection thresholds.
type AlertsConfig struct {
	HighTrafficThreshold float64           `yaml:"high_traffic_threshold"`
	SuspiciousAddresses  []string          `yaml:"suspicious_addresses"`
	Statistical          StatisticalConfig `yaml:"statistical"`
}

// PublisherConfig controls the snapshot cadence and snapshot bounds.
type PublisherConfig struct {
	Interval        string `yaml:"interval"`
	PersistInterval string `yaml:"persist_interval"`
	HistoryLimit    int    `yaml:"history_limit"`
	AnomalyLimit    int    `yaml:"anomaly_limit"`
	AddressLimit    int    `yaml:"address_limit"`
	PoolSize        int    `yaml:"pool_size"`
}

// NATSConfig holds the NATS connection and subject names.
type NATSConfig struct {
	Enabled        bool   `yaml:"enabled"`
	URL            string `yaml:"url"`
	PacketSubject  string `yaml:"packet_subject"`
	StatsSubject   string `yaml:"stats_subject"`
	AnomalySubject string `yaml:"anomaly_subject"`
}

// ClickHouseConfig holds ClickHouse connection details.
type ClickHouseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// PacketWriterConfig controls raw packet batching into the durable store.
type PacketWriterConfig struct {
	Enabled       bool   `yaml:"enabled"`
	BufferSize    int    `yaml:"buffer_size"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval string `yaml:"flush_interval"`
}

// StorageConfig groups durable storage settings.
type StorageConfig struct {
	ClickHouse ClickHouseConfig   `yaml:"clickhouse"`
	Packets    PacketWriterConfig `yaml:"packets"`
}

// SessionConfig controls where finalized sessions are exported.
type SessionConfig struct {
	ExportDir string   `yaml:"export_dir"`
	Formats   []string `yaml:"formats"`
}

// SMTPConfig holds the e-mail notifier settings.
type SMTPConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	From        string `yaml:"from"`
	To          string `yaml:"to"`
	MinSeverity string `yaml:"min_severity"`
}

// ServerConfig holds the HTTP listen address for observers and control.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// ScorerServiceConfig configures the standalone scoring service.
type ScorerServiceConfig struct {
	GRPCListenAddr string  `yaml:"grpc_listen_addr"`
	ZThreshold     float64 `yaml:"z_threshold"`
}

// LoggingConfig selects the zap logger flavour.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Capture   CaptureConfig       `yaml:"capture"`
	Filter    FilterConfig        `yaml:"filter"`
	Alerts    AlertsConfig        `yaml:"alerts"`
	Publisher PublisherConfig     `yaml:"publisher"`
	NATS      NATSConfig          `yaml:"nats"`
	Storage   StorageConfig       `yaml:"storage"`
	Session   SessionConfig       `yaml:"session"`
	SMTP      SMTPConfig          `yaml:"smtp"`
	Server    ServerConfig        `yaml:"server"`
	Scorer    ScorerServiceConfig `yaml:"scorer"`
	Logging   LoggingConfig       `yaml:"logging"`
}

// LoadConfig reads the configuration from a YAML file and returns a Config struct
// with defaults applied. Unknown keys are rejected.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a Config populated only with defaults.
func Default() *Config {
	var cfg Config
	cfg.ApplyDefaults()
	return &cfg
}

// ApplyDefaults fills every unset field with its documented default.
func (c *Config) ApplyDefaults() {
	if c.Capture.SnapshotLen <= 0 {
		c.Capture.SnapshotLen = 1600
	}
	if c.Capture.ReadTimeout == "" {
		c.Capture.ReadTimeout = "500ms"
	}
	if c.Capture.SessionName == "" {
		c.Capture.SessionName = "live"
	}
	if c.Alerts.HighTrafficThreshold <= 0 {
		c.Alerts.HighTrafficThreshold = 1000
	}
	if c.Alerts.Statistical.Timeout == "" {
		c.Alerts.Statistical.Timeout = "2s"
	}
	if c.Alerts.Statistical.ZThreshold <= 0 {
		c.Alerts.Statistical.ZThreshold = 3
	}
	if c.Publisher.Interval == "" {
		c.Publisher.Interval = "2s"
	}
	if c.Publisher.PersistInterval == "" {
		c.Publisher.PersistInterval = "10s"
	}
	if c.Publisher.HistoryLimit <= 0 {
		c.Publisher.HistoryLimit = 50
	}
	if c.Publisher.AnomalyLimit <= 0 {
		c.Publisher.AnomalyLimit = 20
	}
	if c.Publisher.AddressLimit <= 0 {
		c.Publisher.AddressLimit = 50
	}
	if c.Publisher.PoolSize <= 0 {
		c.Publisher.PoolSize = 8
	}
	if c.NATS.URL == "" {
		c.NATS.URL = "nats://127.0.0.1:4222"
	}
	if c.NATS.PacketSubject == "" {
		c.NATS.PacketSubject = "trafficlens.packets.raw"
	}
	if c.NATS.StatsSubject == "" {
		c.NATS.StatsSubject = "trafficlens.stats"
	}
	if c.NATS.AnomalySubject == "" {
		c.NATS.AnomalySubject = "trafficlens.anomalies"
	}
	if c.Storage.ClickHouse.Host == "" {
		c.Storage.ClickHouse.Host = "127.0.0.1"
	}
	if c.Storage.ClickHouse.Port == 0 {
		c.Storage.ClickHouse.Port = 9000
	}
	if c.Storage.ClickHouse.Database == "" {
		c.Storage.ClickHouse.Database = "default"
	}
	if c.Storage.Packets.BufferSize <= 0 {
		c.Storage.Packets.BufferSize = 10000
	}
	if c.Storage.Packets.BatchSize <= 0 {
		c.Storage.Packets.BatchSize = 500
	}
	if c.Storage.Packets.FlushInterval == "" {
		c.Storage.Packets.FlushInterval = "5s"
	}
	if c.SMTP.MinSeverity == "" {
		c.SMTP.MinSeverity = "CRITICAL"
	}
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":5000"
	}
	if c.Scorer.GRPCListenAddr == "" {
		c.Scorer.GRPCListenAddr = ":50061"
	}
	if c.Scorer.ZThreshold <= 0 {
		c.Scorer.ZThreshold = 3
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks that every duration parses and that ranges are sane.
func (c *Config) Validate() error {
	durations := map[string]string{
		"capture.read_timeout":           c.Capture.ReadTimeout,
		"alerts.statistical.timeout":     c.Alerts.Statistical.Timeout,
		"publisher.interval":             c.Publisher.Interval,
		"publisher.persist_interval":     c.Publisher.PersistInterval,
		"storage.packets.flush_interval": c.Storage.Packets.FlushInterval,
	}
	for key, value := range durations {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be a positive duration", key)
		}
	}
	if c.Filter.SizeMin < 0 || (c.Filter.SizeMax > 0 && c.Filter.SizeMax < c.Filter.SizeMin) {
		return fmt.Errorf("invalid filter size range [%d, %d]", c.Filter.SizeMin, c.Filter.SizeMax)
	}
	if c.Filter.Port < 0 || c.Filter.Port > 65535 {
		return fmt.Errorf("invalid filter port %d", c.Filter.Port)
	}
	return nil
}

// Duration parses a duration already checked by Validate.
func Duration(value string) time.Duration {
	d, _ := time.ParseDuration(value)
	return d
}
