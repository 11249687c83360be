// Package audit records every pipeline state transition so operators can
// reconstruct what happened to an account and when.
package audit

import (
	"context"
	"time"
)

// Event is one recorded pipeline transition.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
	Developer string    `json:"developer"`
	AccountID string    `json:"account_id,omitempty"`
	Pipeline  string    `json:"pipeline"` // "provision" or "offboard"
	Step      string    `json:"step"`
	FromState string    `json:"from_state,omitempty"`
	ToState   string    `json:"to_state,omitempty"`
	Outcome   string    `json:"outcome"` // "ok", "noop", "skipped", "warning", "failed"
	Detail    string    `json:"detail,omitempty"`
}

// Outcomes for audit events.
const (
	OutcomeOK      = "ok"
	OutcomeNoop    = "noop"
	OutcomeSkipped = "skipped"
	OutcomeWarning = "warning"
	OutcomeFailed  = "failed"
)

// Pipelines for audit events.
const (
	PipelineProvision = "provision"
	PipelineOffboard  = "offboard"
)

// ListOptions filters and paginates event listings.
type ListOptions struct {
	Limit     int
	Offset    int
	Developer string
	Pipeline  string
	Outcome   string
	Since     *time.Time
}

// Recorder is the interface for audit logging.
type Recorder interface {
	// Record stores an event. An empty ID and zero Timestamp are filled in.
	Record(ctx context.Context, event *Event) error

	// List retrieves events, newest first, with the total match count.
	List(ctx context.Context, opts ListOptions) ([]*Event, int, error)

	// Close releases resources held by the recorder.
	Close() error
}

// matches reports whether an event passes the filter.
func matches(e *Event, opts ListOptions) bool {
	if opts.Developer != "" && e.Developer != opts.Developer {
		return false
	}
	if opts.Pipeline != "" && e.Pipeline != opts.Pipeline {
		return false
	}
	if opts.Outcome != "" && e.Outcome != opts.Outcome {
		return false
	}
	if opts.Since != nil && e.Timestamp.Before(*opts.Since) {
		return false
	}
	return true
}
