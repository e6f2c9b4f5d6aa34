// Package store persists optimization runs and their observations.
package store

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/copyleftdev/hypertune/internal/optimization"
)

// Status is the lifecycle status of a run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the run will not change any more.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Run is the persisted record of one optimization study execution.
type Run struct {
	ID          string                    `json:"id"`
	Name        string                    `json:"name,omitempty"`
	Status      Status                    `json:"status"`
	State       string                    `json:"state"`
	StopReason  string                    `json:"stop_reason,omitempty"`
	Error       string                    `json:"error,omitempty"`
	Evaluations int                       `json:"evaluations"`
	Iterations  int                       `json:"iterations"`
	Budget      int                       `json:"budget"`
	Best        *optimization.Observation `json:"best,omitempty"`
	CreatedAt   time.Time                 `json:"created_at"`
	StartedAt   *time.Time                `json:"started_at,omitempty"`
	FinishedAt  *time.Time                `json:"finished_at,omitempty"`
}

// Progress is the fraction of the evaluation budget spent, in [0, 1].
func (r *Run) Progress() float64 {
	if r.Budget <= 0 {
		return 0
	}
	p := float64(r.Evaluations) / float64(r.Budget)
	if p > 1 || r.Status.Terminal() {
		return 1
	}
	return p
}

// Store defines persistence for runs. Implementations must be safe for
// concurrent use.
//
// Error handling conventions:
//   - ErrNotFound (matched with errors.Is) when the run does not exist
//   - ErrExists from CreateRun when the ID is taken
type Store interface {
	// CreateRun saves a new run.
	CreateRun(ctx context.Context, run *Run) error

	// UpdateRun overwrites an existing run.
	UpdateRun(ctx context.Context, run *Run) error

	// GetRun returns the run with the given ID.
	GetRun(ctx context.Context, id string) (*Run, error)

	// ListRuns returns all runs, oldest first.
	ListRuns(ctx context.Context) ([]*Run, error)

	// AppendObservation adds obs to the run's observation log.
	AppendObservation(ctx context.Context, id string, obs optimization.Observation) error

	// Observations returns the run's observations in evaluation order.
	Observations(ctx context.Context, id string) ([]optimization.Observation, error)

	// Close releases resources. It is safe to call more than once.
	Close() error
}

// ErrNotFound is returned when a requested run does not exist.
var ErrNotFound = &NotFoundError{}

// NotFoundError represents a missing run.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return "run not found: " + e.ID
	}
	return "run not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}

// ErrExists is returned by CreateRun when the ID is already in use.
var ErrExists = fmt.Errorf("run already exists")

var validID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

func validateID(id string) error {
	if !validID.MatchString(id) {
		return fmt.Errorf("invalid run id %q: only alphanumeric, hyphens, and underscores allowed", id)
	}
	return nil
}
