package storage

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"TrafficLens/internal/config"
	"TrafficLens/internal/model"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var schema = []string{`
CREATE TABLE IF NOT EXISTS packets (
    Timestamp  DateTime64(9),
    SrcIP      String,
    DstIP      String,
    Protocol   UInt8,
    Size       UInt32,
    SrcPort    Nullable(UInt16),
    DstPort    Nullable(UInt16),
    Interface  String
) ENGINE = MergeTree()
PARTITION BY toYYYYMMDD(Timestamp)
ORDER BY (Timestamp, SrcIP);
`, `
CREATE TABLE IF NOT EXISTS stats_summary (
    Timestamp         DateTime64(3),
    TotalPackets      UInt64,
    TotalBytes        UInt64,
    DistinctAddresses UInt32,
    TCPPackets        UInt64,
    UDPPackets        UInt64,
    ICMPPackets       UInt64,
    TopTalker         String,
    TopTalkerBytes    UInt64
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(Timestamp)
ORDER BY Timestamp;
`, `
CREATE TABLE IF NOT EXISTS anomalies (
    Timestamp      DateTime64(3),
    Kind           LowCardinality(String),
    Severity       LowCardinality(String),
    Message        String,
    RelatedAddress String,
    Context        String
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(Timestamp)
ORDER BY (Timestamp, Kind);
`}

// ClickHouseStore persists packets, statistics summaries and anomalies.
type ClickHouseStore struct {
	conn   driver.Conn
	logger *zap.Logger
}

// NewClickHouseStore connects and ensures the tables exist.
func NewClickHouseStore(ctx context.Context, cfg config.ClickHouseConfig, logger *zap.Logger) (*ClickHouseStore, error) {
	conn, err := connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	for _, stmt := range schema {
		if err := conn.Exec(ctx, stmt); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create table: %w", err)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("clickhouse")
	logger.Info("Connected to ClickHouse and ensured tables exist", zap.String("host", cfg.Host), zap.String("database", cfg.Database))
	return &ClickHouseStore{conn: conn, logger: logger}, nil
}

func connect(ctx context.Context, cfg config.ClickHouseConfig) (driver.Conn, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return conn, nil
}

// Close closes the connection.
func (s *ClickHouseStore) Close() error {
	return s.conn.Close()
}

// WritePackets implements model.Store.
func (s *ClickHouseStore) WritePackets(ctx context.Context, records []model.PacketRecord) error {
	if len(records) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO packets")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for _, r := range records {
		var srcPort, dstPort *uint16
		if r.HasPorts {
			srcPort, dstPort = &r.SrcPort, &r.DstPort
		}
		if err := batch.Append(r.Timestamp, r.SrcAddr, r.DstAddr, r.Protocol, uint32(r.Size), srcPort, dstPort, r.Interface); err != nil {
			return fmt.Errorf("failed to append packet to batch: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	s.logger.Debug("Wrote packets", zap.Int("rows", len(records)))
	return nil
}

// WriteStats implements model.Store.
func (s *ClickHouseStore) WriteStats(ctx context.Context, st model.StatsSummary) error {
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO stats_summary")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	err = batch.Append(st.Timestamp, st.TotalPackets, st.TotalBytes, uint32(st.DistinctAddresses),
		st.TCPPackets, st.UDPPackets, st.ICMPPackets, st.TopTalker, st.TopTalkerBytes)
	if err != nil {
		return fmt.Errorf("failed to append summary to batch: %w", err)
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

// WriteAnomalies implements model.Store.
func (s *ClickHouseStore) WriteAnomalies(ctx context.Context, anomalies []model.Anomaly) error {
	if len(anomalies) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO anomalies")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for _, a := range anomalies {
		extra, err := encodeContext(a.Context)
		if err != nil {
			return err
		}
		if err := batch.Append(a.Timestamp, string(a.Kind), a.Severity.String(), a.Message, a.RelatedAddress, extra); err != nil {
			return fmt.Errorf("failed to append anomaly to batch: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

func encodeContext(ctx map[string]any) (string, error) {
	if len(ctx) == 0 {
		return "", nil
	}
	b, err := json.Marshal(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to encode anomaly context: %w", err)
	}
	return string(b), nil
}

func decodeContext(s string) map[string]any {
	if s == "" {
		return nil
	}
	var out map[string]any
	if err := json.UnmarshalFromString(s, &out); err != nil {
		return map[string]any{"raw": s}
	}
	return out
}

// rangeQuery builds a SELECT over [from, to] ordered by time. Zero bounds
// are open and limit <= 0 means no limit.
func rangeQuery(table string, columns []string, from, to time.Time, limit int) (string, []any) {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(columns, ", "))
	b.WriteString(" FROM ")
	b.WriteString(table)

	var where []string
	var args []any
	if !from.IsZero() {
		where = append(where, "Timestamp >= ?")
		args = append(args, from)
	}
	if !to.IsZero() {
		where = append(where, "Timestamp <= ?")
		args = append(args, to)
	}
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY Timestamp DESC")
	if limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, limit)
	}
	return b.String(), args
}

// QueryPackets implements model.Querier.
func (s *ClickHouseStore) QueryPackets(ctx context.Context, from, to time.Time, limit int) ([]model.PacketRecord, error) {
	query, args := rangeQuery("packets",
		[]string{"Timestamp", "SrcIP", "DstIP", "Protocol", "Size", "SrcPort", "DstPort", "Interface"},
		from, to, limit)
	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var out []model.PacketRecord
	for rows.Next() {
		var r model.PacketRecord
		var size uint32
		var srcPort, dstPort *uint16
		if err := rows.Scan(&r.Timestamp, &r.SrcAddr, &r.DstAddr, &r.Protocol, &size, &srcPort, &dstPort, &r.Interface); err != nil {
			return nil, fmt.Errorf("failed to scan packet row: %w", err)
		}
		r.Size = int(size)
		if srcPort != nil && dstPort != nil {
			r.SrcPort, r.DstPort, r.HasPorts = *srcPort, *dstPort, true
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// QueryStats implements model.Querier.
func (s *ClickHouseStore) QueryStats(ctx context.Context, from, to time.Time, limit int) ([]model.StatsSummary, error) {
	query, args := rangeQuery("stats_summary",
		[]string{"Timestamp", "TotalPackets", "TotalBytes", "DistinctAddresses", "TCPPackets", "UDPPackets", "ICMPPackets", "TopTalker", "TopTalkerBytes"},
		from, to, limit)
	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var out []model.StatsSummary
	for rows.Next() {
		var st model.StatsSummary
		var distinct uint32
		if err := rows.Scan(&st.Timestamp, &st.TotalPackets, &st.TotalBytes, &distinct,
			&st.TCPPackets, &st.UDPPackets, &st.ICMPPackets, &st.TopTalker, &st.TopTalkerBytes); err != nil {
			return nil, fmt.Errorf("failed to scan summary row: %w", err)
		}
		st.DistinctAddresses = int(distinct)
		out = append(out, st)
	}
	return out, rows.Err()
}

// QueryAnomalies implements model.Querier.
func (s *ClickHouseStore) QueryAnomalies(ctx context.Context, from, to time.Time, limit int) ([]model.Anomaly, error) {
	query, args := rangeQuery("anomalies",
		[]string{"Timestamp", "Kind", "Severity", "Message", "RelatedAddress", "Context"},
		from, to, limit)
	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var out []model.Anomaly
	for rows.Next() {
		var a model.Anomaly
		var kind, severity, extra string
		if err := rows.Scan(&a.Timestamp, &kind, &severity, &a.Message, &a.RelatedAddress, &extra); err != nil {
			return nil, fmt.Errorf("failed to scan anomaly row: %w", err)
		}
		a.Kind = model.AnomalyKind(kind)
		a.Severity, _ = model.ParseSeverity(severity)
		a.Context = decodeContext(extra)
		out = append(out, a)
	}
	return out, rows.Err()
}
