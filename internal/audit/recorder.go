package audit

import (
	"context"
	"sync"
	"time"
)

// Recorder keeps the most recent events in memory. It backs the audit
// query endpoint when no database is configured and lets tests assert on
// emitted events.
type Recorder struct {
	mu       sync.Mutex
	events   []Event
	capacity int
	now      func() time.Time
}

// NewRecorder keeps at most capacity events; capacity <= 0 means 1000.
func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Recorder{capacity: capacity, now: time.Now}
}

func (r *Recorder) Log(_ context.Context, event Event) {
	event = stamp(event, r.now())
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == r.capacity {
		copy(r.events, r.events[1:])
		r.events = r.events[:len(r.events)-1]
	}
	r.events = append(r.events, event)
}

func (r *Recorder) Close() error { return nil }

// Events returns a copy of the recorded events, oldest first.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Actions returns the recorded action names, oldest first.
func (r *Recorder) Actions() []string {
	events := r.Events()
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Action
	}
	return out
}

// ListEvents returns matching events newest first.
func (r *Recorder) ListEvents(_ context.Context, p ListEventsParams) ([]Event, error) {
	events := r.Events()
	out := []Event{}
	for i := len(events) - 1; i >= 0; i-- {
		if !p.matches(events[i]) {
			continue
		}
		out = append(out, events[i])
		if p.Limit > 0 && len(out) == p.Limit {
			break
		}
	}
	return out, nil
}
