package model

import "time"

// Session describes a named, time-bounded capture recording.
type Session struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	StartTime   time.Time     `json:"start_time"`
	EndTime     time.Time     `json:"end_time,omitempty"`
	Duration    time.Duration `json:"duration"`
	PacketCount int           `json:"packet_count"`
}

// FinalizedSession is a stopped session together with its buffered records.
type FinalizedSession struct {
	Session
	Records []PacketRecord `json:"packets"`
}

// SessionExporter receives finalized sessions, e.g. to write them to disk.
type SessionExporter interface {
	Export(session FinalizedSession) error
}
