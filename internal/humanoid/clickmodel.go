package humanoid

import (
	"context"
	"fmt"
	"time"
)

// IntelligentClick combines movement, timing, and clicking at (x, y).
func (h *Humanoid) IntelligentClick(ctx context.Context, x, y int) error {
	// 1. Movement.
	if err := h.MoveTo(ctx, x, y); err != nil {
		return err
	}

	// 2. Mouse down.
	h.mu.Lock()
	px, py := h.currentPos.Round()
	h.mu.Unlock()

	mouseDownData := MouseEventData{
		Type:    MousePress,
		X:       px,
		Y:       py,
		Button:  ButtonLeft,
		Buttons: 1,
	}
	if err := h.executor.DispatchMouseEvent(ctx, mouseDownData); err != nil {
		return fmt.Errorf("humanoid: press at (%d,%d): %w", px, py, err)
	}

	h.mu.Lock()
	h.currentButtonState = ButtonLeft
	h.mu.Unlock()

	// 3. Realistic hold duration. The release is always attempted so a
	// cancelled hold never leaves the button stuck down.
	holdErr := h.executor.Sleep(ctx, h.holdDuration())

	// 4. Mouse up.
	mouseUpData := MouseEventData{
		Type:    MouseRelease,
		X:       px,
		Y:       py,
		Button:  ButtonLeft,
		Buttons: 0,
	}
	releaseCtx := context.WithoutCancel(ctx)
	if err := h.executor.DispatchMouseEvent(releaseCtx, mouseUpData); err != nil {
		return fmt.Errorf("humanoid: release at (%d,%d): %w", px, py, err)
	}

	h.mu.Lock()
	h.currentButtonState = ButtonNone
	h.mu.Unlock()

	return holdErr
}

// holdDuration draws a press duration uniformly from the configured range.
func (h *Humanoid) holdDuration() time.Duration {
	lo, hi := h.cfg.ClickHoldMin, h.cfg.ClickHoldMax
	if hi <= lo {
		return lo
	}
	h.mu.Lock()
	n := h.rng.Int63n(int64(hi - lo))
	h.mu.Unlock()
	return lo + time.Duration(n)
}
