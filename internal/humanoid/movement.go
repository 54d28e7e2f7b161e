package humanoid

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// MoveTo moves the pointer to (x, y). The first movement of a session jumps
// directly because the starting position is unknown; later movements follow
// an eased path.
func (h *Humanoid) MoveTo(ctx context.Context, x, y int) error {
	target := vec(x, y)

	h.mu.Lock()
	start := h.currentPos
	known := h.positionKnown
	buttons := h.calculateButtonsBitfield(h.currentButtonState)
	h.mu.Unlock()

	path := []Vector2D{target}
	if known {
		path = planPath(start, target, h.cfg.MoveStepPixels, h.cfg.MoveMaxSteps)
	}

	for i, p := range path {
		if err := ctx.Err(); err != nil {
			return err
		}
		px, py := p.Round()
		err := h.executor.DispatchMouseEvent(ctx, MouseEventData{
			Type:    MouseMove,
			X:       px,
			Y:       py,
			Button:  ButtonNone,
			Buttons: buttons,
		})
		if err != nil {
			return fmt.Errorf("humanoid: move to (%d,%d): %w", x, y, err)
		}

		h.mu.Lock()
		h.currentPos = p
		h.positionKnown = true
		h.mu.Unlock()

		if i < len(path)-1 && h.cfg.MoveStepDelay > 0 {
			if err := h.executor.Sleep(ctx, h.cfg.MoveStepDelay); err != nil {
				return err
			}
		}
	}

	h.logger.Debug("Pointer moved", zap.Int("x", x), zap.Int("y", y), zap.Int("steps", len(path)))
	return nil
}
