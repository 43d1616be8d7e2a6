package sink

import (
	"fmt"
	"html"
	"sync"
	"time"

	"TrafficLens/internal/model"

	"go.uber.org/zap"
)

const notifyQueueLen = 32

// NotifySink e-mails anomalies at or above a minimum severity. Sending
// happens on a background goroutine; a full queue drops the notification.
type NotifySink struct {
	notifier    model.Notifier
	minSeverity model.Severity
	queue       chan model.Anomaly
	logger      *zap.Logger

	wg   sync.WaitGroup
	once sync.Once
}

// NewNotifySink starts the delivery goroutine. Call Close to stop it.
func NewNotifySink(n model.Notifier, minSeverity model.Severity, logger *zap.Logger) *NotifySink {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &NotifySink{
		notifier:    n,
		minSeverity: minSeverity,
		queue:       make(chan model.Anomaly, notifyQueueLen),
		logger:      logger.Named("notify-sink"),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// PublishSnapshot implements model.Sink; snapshots are not e-mailed.
func (s *NotifySink) PublishSnapshot(model.StatsSnapshot) {}

// PublishAnomaly implements model.Sink.
func (s *NotifySink) PublishAnomaly(a model.Anomaly) {
	if a.Severity < s.minSeverity {
		return
	}
	select {
	case s.queue <- a:
	default:
		s.logger.Warn("Notification queue full, dropping anomaly", zap.String("kind", string(a.Kind)))
	}
}

func (s *NotifySink) run() {
	defer s.wg.Done()
	for a := range s.queue {
		subject, body := formatAnomaly(a)
		if err := s.notifier.Send(subject, body); err != nil {
			s.logger.Error("Failed to send notification", zap.Error(err))
			continue
		}
		s.logger.Info("Notification sent", zap.String("kind", string(a.Kind)), zap.String("severity", a.Severity.String()))
	}
}

// Close stops accepting anomalies and waits for queued ones to be sent.
// PublishAnomaly must not be called after Close.
func (s *NotifySink) Close() {
	s.once.Do(func() { close(s.queue) })
	s.wg.Wait()
}

func formatAnomaly(a model.Anomaly) (string, string) {
	subject := fmt.Sprintf("[TrafficLens %s] %s", a.Severity, a.Kind)
	body := fmt.Sprintf(`<h3>%s</h3>
<p>%s</p>
<table>
<tr><td>Severity</td><td>%s</td></tr>
<tr><td>Address</td><td>%s</td></tr>
<tr><td>Time</td><td>%s</td></tr>
</table>`,
		html.EscapeString(string(a.Kind)),
		html.EscapeString(a.Message),
		a.Severity,
		html.EscapeString(a.RelatedAddress),
		a.Timestamp.UTC().Format(time.RFC3339))
	return subject, body
}
