// File: internal/workflow/pause.go
package workflow

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/xkilldash9x/humanrelay/internal/clock"
)

// DefaultPausePoll is how often a paused loop re-checks the flag.
const DefaultPausePoll = time.Second

// PauseController is the process-wide pause flag. The hotkey listener
// writes it; the workflow reads it only at step boundaries.
type PauseController struct {
	paused atomic.Bool
	poll   time.Duration
	clock  clock.Clock
}

// NewPauseController creates an unpaused controller.
func NewPauseController(clk clock.Clock, poll time.Duration) *PauseController {
	if clk == nil {
		clk = clock.New()
	}
	if poll <= 0 {
		poll = DefaultPausePoll
	}
	return &PauseController{poll: poll, clock: clk}
}

// Toggle flips the flag atomically and returns the new value.
func (p *PauseController) Toggle() bool {
	for {
		old := p.paused.Load()
		if p.paused.CompareAndSwap(old, !old) {
			return !old
		}
	}
}

// Set stores v and returns the previous value.
func (p *PauseController) Set(v bool) bool { return p.paused.Swap(v) }

// Paused reports the current value.
func (p *PauseController) Paused() bool { return p.paused.Load() }

// Wait blocks while paused, re-checking every poll interval. It returns
// early only when ctx is done.
func (p *PauseController) Wait(ctx context.Context) error {
	for p.paused.Load() {
		if err := p.clock.Sleep(ctx, p.poll); err != nil {
			return err
		}
	}
	return nil
}
