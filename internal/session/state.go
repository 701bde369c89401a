package session

import "fmt"

// State is the lifecycle position of a session.
type State int

const (
	StateNotInitialized State = iota
	StateNotCapturing
	StateCapturing
	// StateInAsyncTask covers device calls and the stop drain.
	StateInAsyncTask
)

func (s State) String() string {
	switch s {
	case StateNotInitialized:
		return "not_initialized"
	case StateNotCapturing:
		return "not_capturing"
	case StateCapturing:
		return "capturing"
	case StateInAsyncTask:
		return "in_async_task"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// TaskID identifies one decode request. IDs start at 1 and are never reused
// within a session.
type TaskID uint64

// NoTask is returned when a request is not accepted.
const NoTask TaskID = 0

// Result is the outcome of one decode task. Found is false when nothing was
// read, including when capture or decode failed.
type Result struct {
	TaskID  TaskID `json:"task_id"`
	Barcode string `json:"barcode,omitempty"`
	Found   bool   `json:"found"`
}

// Callback receives every result exactly once, on the owner goroutine.
type Callback func(id TaskID, result Result)
