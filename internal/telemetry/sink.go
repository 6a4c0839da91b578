package telemetry

import (
	"context"

	"sessionauth/internal/session/domain"
)

// SessionSink receives engine events. Satisfied by the audit logger and by Sink.
type SessionSink interface {
	SessionEvent(ctx context.Context, e domain.Event)
}

// Sink forwards engine events to emitters asynchronously.
type Sink struct {
	emitters []EventEmitter
}

// NewSink returns a Sink over the non-nil emitters.
func NewSink(emitters ...EventEmitter) *Sink {
	s := &Sink{}
	for _, e := range emitters {
		if e != nil {
			s.emitters = append(s.emitters, e)
		}
	}
	return s
}

// SessionEvent converts e and emits it to every emitter without blocking.
func (s *Sink) SessionEvent(ctx context.Context, e domain.Event) {
	if len(s.emitters) == 0 {
		return
	}
	ev := FromSessionEvent(e)
	for _, em := range s.emitters {
		EmitAsync(em, ctx, ev)
	}
}

// Fanout delivers each event to every sink in order.
type Fanout []SessionSink

// SessionEvent implements SessionSink.
func (f Fanout) SessionEvent(ctx context.Context, e domain.Event) {
	for _, s := range f {
		if s != nil {
			s.SessionEvent(ctx, e)
		}
	}
}
