package kernel

import (
	"time"

	"github.com/sage3/foresight/pkg/models"
)

// State is the lifecycle position of a pending execution.
type State int

const (
	Submitted State = iota
	Completed
	TimedOut
	Cancelled
)

func (s State) String() string {
	switch s {
	case Submitted:
		return "submitted"
	case Completed:
		return "completed"
	case TimedOut:
		return "timed_out"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Outcome is what a callback receives when its execution reaches a
// terminal state. Result is set only for Completed; Err is set for
// TimedOut, Cancelled, and for completed executions where the kernel raised.
type Outcome struct {
	RequestID string
	AppID     string
	State     State
	Result    *models.ExecResult
	Err       error
}

// Callback receives the outcome of an execution exactly once.
type Callback func(Outcome)

// PendingExecution correlates an outstanding request with its callback.
type PendingExecution struct {
	RequestID   string    `json:"request_id"`
	AppID       string    `json:"app_id"`
	Kernel      string    `json:"kernel,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
	Deadline    time.Time `json:"deadline"`

	callback   Callback
	submitting bool
	held       *resolution
}

// resolution is a terminal event that reached an entry while it was still
// being submitted.
type resolution struct {
	result    *models.ExecResult
	cancelled string
}
