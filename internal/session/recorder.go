package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"TrafficLens/internal/model"
	"TrafficLens/internal/pkg/ring"

	"github.com/google/uuid"
)

// Capacity bounds the records buffered for one session.
const Capacity = 10000

// ErrNoActiveSession is returned by StopSession when nothing is recording.
var ErrNoActiveSession = errors.New("no active session")

// AlreadyActiveError is returned by StartSession while another session is open.
type AlreadyActiveError struct {
	Active model.Session
}

func (e *AlreadyActiveError) Error() string {
	return fmt.Sprintf("session %q (%s) is already active", e.Active.Name, e.Active.ID)
}

type active struct {
	info    model.Session
	records *ring.Buffer[model.PacketRecord]
}

// Recorder buffers the records of the active capture session.
type Recorder struct {
	mu      sync.Mutex
	current *active
	now     func() time.Time
}

// NewRecorder creates a recorder with no active session.
func NewRecorder() *Recorder {
	return &Recorder{now: time.Now}
}

// StartSession opens a new session named name.
func (r *Recorder) StartSession(name string) (model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil {
		return model.Session{}, &AlreadyActiveError{Active: r.current.info}
	}
	r.current = &active{
		info: model.Session{
			ID:        uuid.NewString(),
			Name:      name,
			StartTime: r.now(),
		},
		records: ring.New[model.PacketRecord](Capacity),
	}
	return r.current.info, nil
}

// Append buffers rec if a session is active and reports whether it did.
func (r *Recorder) Append(rec model.PacketRecord) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == nil {
		return false
	}
	r.current.records.Push(rec)
	r.current.info.PacketCount++
	return true
}

// StopSession finalizes the active session and clears it.
// PacketCount is the number of records appended, including evicted ones.
func (r *Recorder) StopSession() (model.FinalizedSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == nil {
		return model.FinalizedSession{}, ErrNoActiveSession
	}
	info := r.current.info
	info.EndTime = r.now()
	info.Duration = info.EndTime.Sub(info.StartTime)
	records := r.current.records.Items()
	r.current = nil

	return model.FinalizedSession{Session: info, Records: records}, nil
}

// Active returns the active session, if any.
func (r *Recorder) Active() (model.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == nil {
		return model.Session{}, false
	}
	return r.current.info, true
}

// Discard drops the active session without finalizing it.
func (r *Recorder) Discard() {
	r.mu.Lock()
	r.current = nil
	r.mu.Unlock()
}
