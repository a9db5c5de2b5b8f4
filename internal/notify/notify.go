// Package notify is the toast surface the wizard reports to.
package notify

import (
	"log"
	"sync"
	"time"
)

type Kind string

const (
	Info    Kind = "info"
	Warning Kind = "warning"
	Error   Kind = "error"
)

// Notification is one message shown to the user.
type Notification struct {
	Kind    Kind      `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Notifier receives user-facing messages.
type Notifier interface {
	Notify(kind Kind, message string)
}

// Func adapts a function to Notifier.
type Func func(kind Kind, message string)

func (f Func) Notify(kind Kind, message string) {
	if f != nil {
		f(kind, message)
	}
}

type nop struct{}

func (nop) Notify(Kind, string) {}

// Nop discards everything.
var Nop Notifier = nop{}

// Log writes notifications to the standard logger, prefixed so GELF picks the level.
type Log struct {
	Scope string
}

func (l Log) Notify(kind Kind, message string) {
	switch kind {
	case Warning:
		log.Printf("Warning: [%s] %s", l.Scope, message)
	case Error:
		log.Printf("Error: [%s] %s", l.Scope, message)
	default:
		log.Printf("[%s] %s", l.Scope, message)
	}
}

// Recorder keeps notifications so they can be returned to the client.
type Recorder struct {
	mu    sync.Mutex
	items []Notification
	limit int
}

// NewRecorder keeps at most limit notifications, dropping the oldest; 0 keeps all.
func NewRecorder(limit int) *Recorder {
	return &Recorder{limit: limit}
}

func (r *Recorder) Notify(kind Kind, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, Notification{Kind: kind, Message: message, At: time.Now().UTC()})
	if r.limit > 0 && len(r.items) > r.limit {
		r.items = r.items[len(r.items)-r.limit:]
	}
}

// All returns a copy of the recorded notifications.
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.items...)
}

// Count returns how many recorded notifications have kind.
func (r *Recorder) Count(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, it := range r.items {
		if it.Kind == kind {
			n++
		}
	}
	return n
}

// Multi fans a notification out to several notifiers.
type Multi []Notifier

func (m Multi) Notify(kind Kind, message string) {
	for _, n := range m {
		if n != nil {
			n.Notify(kind, message)
		}
	}
}
