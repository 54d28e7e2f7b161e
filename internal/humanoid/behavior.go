package humanoid

import (
	"context"
	"time"
)

// CognitivePause simulates the moment a user takes before the next action.
// The duration is drawn from a normal distribution and never negative.
func (h *Humanoid) CognitivePause(ctx context.Context, mean, stdDev time.Duration) error {
	h.mu.Lock()
	jitter := h.rng.NormFloat64() * float64(stdDev)
	h.mu.Unlock()

	duration := mean + time.Duration(jitter)
	if duration <= 0 {
		return ctx.Err()
	}
	return h.executor.Sleep(ctx, duration)
}

// calculateButtonsBitfield converts the internal MouseButton state into the
// bitfield carried by mouse events.
func (h *Humanoid) calculateButtonsBitfield(buttonState MouseButton) int64 {
	var buttons int64
	switch buttonState {
	case ButtonLeft:
		buttons = 1
	case ButtonRight:
		buttons = 2
	case ButtonMiddle:
		buttons = 4
	}
	return buttons
}
