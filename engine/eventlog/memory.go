package eventlog

import (
	"context"
	"sync"
)

// MemoryLog is an in-process Log used by tests and ephemeral runs.
type MemoryLog struct {
	mu     sync.RWMutex
	events []*Event
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

func (l *MemoryLog) Append(_ context.Context, event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	return nil
}

func (l *MemoryLog) ListByCase(_ context.Context, caseID string) ([]*Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Event, 0)
	for _, event := range l.events {
		if event.CaseID == caseID {
			out = append(out, event)
		}
	}
	return out, nil
}

func (l *MemoryLog) List(_ context.Context, limit int) ([]*Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	events := l.events
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	out := make([]*Event, len(events))
	copy(out, events)
	return out, nil
}

// Kinds returns the in-order kinds recorded for a case. Test helper.
func (l *MemoryLog) Kinds(caseID string) []Kind {
	events, _ := l.ListByCase(context.Background(), caseID)
	out := make([]Kind, len(events))
	for i, event := range events {
		out[i] = event.Kind
	}
	return out
}
