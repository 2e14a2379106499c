package supervisor

import (
	"context"
	"errors"
	"time"
)

// EventKind names a lifecycle transition.
type EventKind string

const (
	EventStarted   EventKind = "started"
	EventReady     EventKind = "ready"
	EventStop      EventKind = "stop"
	EventEscalated EventKind = "escalated"
	EventExit      EventKind = "exit"
	EventAnomaly   EventKind = "anomaly"
)

// Event is one recorded lifecycle transition.
type Event struct {
	ID       string    `json:"id"`
	HandleID string    `json:"handle_id"`
	Kind     EventKind `json:"kind"`
	PID      int       `json:"pid"`
	Port     int       `json:"port"`
	Detail   string    `json:"detail,omitempty"`
	At       time.Time `json:"at"`
}

// EventSink receives lifecycle events.
type EventSink interface {
	Record(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Record(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Sinks fans an event out to every sink.
type Sinks []EventSink

func (s Sinks) Record(ctx context.Context, ev Event) error {
	var errs []error
	for _, sink := range s {
		if sink == nil {
			continue
		}
		if err := sink.Record(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
