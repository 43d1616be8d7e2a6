package model

import "time"

// AnomalyKind classifies what triggered an anomaly.
type AnomalyKind string

const (
	KindHighTraffic        AnomalyKind = "HIGH_TRAFFIC"
	KindSuspiciousAddress  AnomalyKind = "SUSPICIOUS_IP"
	KindThreatIntel        AnomalyKind = "THREAT_INTEL"
	KindStatisticalOutlier AnomalyKind = "AI_ANOMALY"
)

// Severity ranks anomalies. Higher values are more severe.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityAlert
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "WARNING"
	case SeverityAlert:
		return "ALERT"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// ParseSeverity maps a severity name back to its value.
func ParseSeverity(name string) (Severity, bool) {
	switch name {
	case "WARNING", "warning":
		return SeverityWarning, true
	case "ALERT", "alert":
		return SeverityAlert, true
	case "CRITICAL", "critical":
		return SeverityCritical, true
	}
	return SeverityWarning, false
}

// MarshalText encodes the severity by name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a severity name; unknown names decode as Warning.
func (s *Severity) UnmarshalText(text []byte) error {
	*s, _ = ParseSeverity(string(text))
	return nil
}

// Anomaly is a single detection result. It is immutable once created.
type Anomaly struct {
	Kind           AnomalyKind    `json:"type"`
	Message        string         `json:"message"`
	Severity       Severity       `json:"severity"`
	Timestamp      time.Time      `json:"timestamp"`
	RelatedAddress string         `json:"ip,omitempty"`
	Context        map[string]any `json:"details,omitempty"`
}
