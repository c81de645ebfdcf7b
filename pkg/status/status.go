// Package status persists the per-message processing state machine.
package status

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// State is one step of the processing lifecycle.
type State string

const (
	Pending    State = "pending"
	Processing State = "processing"
	Completed  State = "completed"
	Failed     State = "failed"
)

var (
	// ErrNotFound is returned by Get for unknown ids.
	ErrNotFound = errors.New("status record not found")
	// ErrInvalidTransition is returned for any move the lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// States lists every state in lifecycle order.
func States() []State {
	return []State{Pending, Processing, Completed, Failed}
}

// ParseState accepts a state name, case-insensitively.
func ParseState(value string) (State, error) {
	state := State(strings.ToLower(strings.TrimSpace(value)))
	if !state.Valid() {
		return "", fmt.Errorf("unknown status %q", value)
	}
	return state, nil
}

func (s State) Valid() bool {
	switch s {
	case Pending, Processing, Completed, Failed:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves the state.
func (s State) Terminal() bool {
	return s == Completed || s == Failed
}

// CanTransition reports whether from -> to is allowed. The lifecycle is
// strictly forward: pending -> processing -> completed | failed.
func (s State) CanTransition(to State) bool {
	switch s {
	case Pending:
		return to == Processing
	case Processing:
		return to == Completed || to == Failed
	}
	return false
}

// Record is the persisted status of one message, keyed by message id.
type Record struct {
	ID          string     `json:"id"`
	Status      State      `json:"status"`
	Endpoint    string     `json:"endpoint"`
	Filename    string     `json:"filename"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	Summary     string     `json:"summary,omitempty"`
}

// NewRecord starts a record in the pending state.
func NewRecord(id string, endpoint string, filename string, now time.Time) Record {
	return Record{
		ID:        id,
		Status:    Pending,
		Endpoint:  endpoint,
		Filename:  filename,
		CreatedAt: now.UTC(),
	}
}

// Start moves a pending record to processing.
func (r Record) Start() (Record, error) {
	return r.transition(Processing, time.Time{})
}

// Complete moves a processing record to completed with the handler summary.
func (r Record) Complete(summary string, now time.Time) (Record, error) {
	next, err := r.transition(Completed, now)
	if err != nil {
		return r, err
	}
	next.Summary = summary
	next.Error = ""
	return next, nil
}

// Fail moves a processing record to failed with the failure description.
func (r Record) Fail(cause error, now time.Time) (Record, error) {
	next, err := r.transition(Failed, now)
	if err != nil {
		return r, err
	}
	if cause != nil {
		next.Error = cause.Error()
	}
	next.Summary = ""
	return next, nil
}

func (r Record) transition(to State, now time.Time) (Record, error) {
	if !r.Status.CanTransition(to) {
		return r, fmt.Errorf("%w: %s -> %s for %q", ErrInvalidTransition, r.Status, to, r.ID)
	}

	next := r
	next.Status = to
	if to.Terminal() {
		processed := now.UTC()
		next.ProcessedAt = &processed
	}
	return next, nil
}

func (r Record) validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("status record id is required")
	}
	if !r.Status.Valid() {
		return fmt.Errorf("status record %q has invalid status %q", r.ID, r.Status)
	}
	return nil
}

// Filter narrows List results. A zero Filter lists everything.
type Filter struct {
	Status State
	Limit  int
}

// Store is the durable status table. Upsert always replaces the full record.
type Store interface {
	Upsert(ctx context.Context, record Record) error
	Get(ctx context.Context, id string) (Record, error)
	// List returns records ordered by creation time, newest first.
	List(ctx context.Context, filter Filter) ([]Record, error)
	// Clear removes every record. Maintenance and tests only.
	Clear(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// timeLayout is the ISO-8601 form stored in text columns. It is fixed width
// so text comparison orders chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// setTimes parses the stored created_at and processed_at columns.
func (r *Record) setTimes(createdAt string, processedAt *string) error {
	created, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return fmt.Errorf("parse created_at for %q: %w", r.ID, err)
	}
	r.CreatedAt = created

	r.ProcessedAt = nil
	if processedAt != nil {
		processed, err := time.Parse(timeLayout, *processedAt)
		if err != nil {
			return fmt.Errorf("parse processed_at for %q: %w", r.ID, err)
		}
		r.ProcessedAt = &processed
	}
	return nil
}
