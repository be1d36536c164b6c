package telemetry

import (
	"context"
	"sync"
	"time"
)

// Recorder is an in-memory EventEmitter for tests and local runs.
type Recorder struct {
	mu     sync.Mutex
	events []*Event
	signal chan struct{}
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{signal: make(chan struct{}, 1)}
}

// Emit stores a copy of event.
func (r *Recorder) Emit(_ context.Context, event *Event) error {
	if event == nil {
		return nil
	}
	cp := *event
	r.mu.Lock()
	r.events = append(r.events, &cp)
	r.mu.Unlock()
	select {
	case r.signal <- struct{}{}:
	default:
	}
	return nil
}

// Events returns the recorded events in emit order.
func (r *Recorder) Events() []*Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Event, len(r.events))
	copy(out, r.events)
	return out
}

// WaitFor blocks until at least n events were recorded or timeout elapses,
// then returns what it has.
func (r *Recorder) WaitFor(n int, timeout time.Duration) []*Event {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		if ev := r.Events(); len(ev) >= n {
			return ev
		}
		select {
		case <-r.signal:
		case <-deadline.C:
			return r.Events()
		}
	}
}
