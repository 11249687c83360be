package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultMaxEvents = 10000

// MemoryRecorder keeps events in memory, newest first. It is bounded: once
// maxEvents is reached the oldest events are dropped.
type MemoryRecorder struct {
	mu        sync.RWMutex
	events    []*Event
	maxEvents int
}

// MemoryOption configures a MemoryRecorder.
type MemoryOption func(*MemoryRecorder)

// WithMaxEvents sets the retention bound.
func WithMaxEvents(n int) MemoryOption {
	return func(m *MemoryRecorder) {
		if n > 0 {
			m.maxEvents = n
		}
	}
}

// NewMemoryRecorder creates an in-memory audit recorder.
func NewMemoryRecorder(opts ...MemoryOption) *MemoryRecorder {
	m := &MemoryRecorder{maxEvents: defaultMaxEvents}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemoryRecorder) Record(_ context.Context, event *Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.events = append([]*Event{event}, m.events...)
	if len(m.events) > m.maxEvents {
		m.events = m.events[:m.maxEvents]
	}
	return nil
}

func (m *MemoryRecorder) List(_ context.Context, opts ListOptions) ([]*Event, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var filtered []*Event
	for _, e := range m.events {
		if matches(e, opts) {
			filtered = append(filtered, e)
		}
	}
	total := len(filtered)

	if opts.Offset > 0 {
		if opts.Offset >= len(filtered) {
			return nil, total, nil
		}
		filtered = filtered[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(filtered) {
		filtered = filtered[:opts.Limit]
	}
	return filtered, total, nil
}

func (m *MemoryRecorder) Close() error { return nil }
