// Package notify carries user-facing outcome messages from the console
// core to whatever renders them.
package notify

import (
	"log/slog"
	"sync"
	"time"

	"github.com/passdeck/passdeck/internal/batch"
)

// Level is the severity of a notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is one message for the operator.
type Notification struct {
	Seq     uint64        `json:"seq"`
	Level   Level         `json:"level"`
	Title   string        `json:"title"`
	Message string        `json:"message"`
	Time    time.Time     `json:"time"`
	Batch   *batch.Result `json:"batch,omitempty"`
}

// Sink receives notifications.
type Sink interface {
	Notify(Notification)
}

// LogSink writes notifications to the structured log.
type LogSink struct{}

func (LogSink) Notify(n Notification) {
	attrs := []any{"title", n.Title, "message", n.Message}
	switch n.Level {
	case LevelError:
		slog.Error("notification", attrs...)
	case LevelWarning:
		slog.Warn("notification", attrs...)
	default:
		slog.Info("notification", attrs...)
	}
}

// Multi fans a notification out to several sinks.
type Multi []Sink

func (m Multi) Notify(n Notification) {
	for _, s := range m {
		s.Notify(n)
	}
}

// DefaultFeedSize bounds a Feed created with a non-positive size.
const DefaultFeedSize = 100

// Feed keeps the most recent notifications in a ring buffer so clients
// can poll for what they have not seen yet.
type Feed struct {
	mu    sync.Mutex
	buf   []Notification
	start int
	n     int
	seq   uint64
	now   func() time.Time
}

// NewFeed creates a feed holding up to size notifications.
func NewFeed(size int) *Feed {
	if size < 1 {
		size = DefaultFeedSize
	}
	return &Feed{buf: make([]Notification, size), now: time.Now}
}

// Notify appends n, assigning its sequence number and time.
func (f *Feed) Notify(n Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	n.Seq = f.seq
	if n.Time.IsZero() {
		n.Time = f.now()
	}
	end := (f.start + f.n) % len(f.buf)
	f.buf[end] = n
	if f.n < len(f.buf) {
		f.n++
	} else {
		f.start = (f.start + 1) % len(f.buf)
	}
}

// Since returns retained notifications with Seq greater than after,
// oldest first.
func (f *Feed) Since(after uint64) []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Notification, 0, f.n)
	for i := 0; i < f.n; i++ {
		n := f.buf[(f.start+i)%len(f.buf)]
		if n.Seq > after {
			out = append(out, n)
		}
	}
	return out
}

// LastSeq returns the sequence number of the newest notification.
func (f *Feed) LastSeq() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seq
}

// FromBatch turns a batch result into exactly one notification.
func FromBatch(res batch.Result) Notification {
	n := Notification{
		Title:   string(res.Action) + " " + string(res.Kind),
		Message: res.Summary(),
		Time:    res.FinishedAt,
		Batch:   &res,
	}
	switch res.Outcome {
	case batch.OutcomeSuccess:
		n.Level = LevelSuccess
	case batch.OutcomePartial:
		n.Level = LevelWarning
	case batch.OutcomeFailure:
		n.Level = LevelError
	default:
		n.Level = LevelInfo
	}
	return n
}

// BatchPublisher adapts a Sink to batch.Sink.
type BatchPublisher struct {
	Sink Sink
}

func (p BatchPublisher) Publish(res batch.Result) {
	p.Sink.Notify(FromBatch(res))
}
