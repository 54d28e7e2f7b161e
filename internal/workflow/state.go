// File: internal/workflow/state.go
package workflow

// State is the single active state of the relay loop.
type State int

const (
	StateIdle State = iota
	StateCopyingPrompt
	StateSendingPrompt
	StateAwaitingResponse
	StateCopyingResponse
	StatePastingResponse
	StatePaused
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCopyingPrompt:
		return "copying_prompt"
	case StateSendingPrompt:
		return "sending_prompt"
	case StateAwaitingResponse:
		return "awaiting_response"
	case StateCopyingResponse:
		return "copying_response"
	case StatePastingResponse:
		return "pasting_response"
	case StatePaused:
		return "paused"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// steps is the fixed order of work states in one iteration.
var steps = []State{
	StateCopyingPrompt,
	StateSendingPrompt,
	StateAwaitingResponse,
	StateCopyingResponse,
	StatePastingResponse,
}

// Transition is one edge taken by the state machine.
type Transition struct {
	From State
	To   State
}

// Outcome is how an iteration ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeAbandoned Outcome = "abandoned"
	OutcomeCancelled Outcome = "cancelled"
)

// Report summarizes one iteration.
type Report struct {
	Iteration  int
	Outcome    Outcome
	Retries    int
	ViaBrowser bool
	// Err is the failure that abandoned the iteration, or the cancellation cause.
	Err error
}
