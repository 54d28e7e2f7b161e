// -- internal/humanoid/keyboard.go --
package humanoid

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// softNewline inserts a line break in chat inputs and editors without
// submitting.
var softNewline = []string{"shift", "Return"}

// Type enters text into the focused element. Line breaks are typed as a
// soft newline so a multi-line text never submits a chat input early.
func (h *Humanoid) Type(ctx context.Context, text string) error {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")

	for i, line := range lines {
		if i > 0 {
			if err := h.executor.PressChord(ctx, softNewline...); err != nil {
				return fmt.Errorf("humanoid: newline: %w", err)
			}
			if err := h.keyPause(ctx); err != nil {
				return err
			}
		}
		if line == "" {
			continue
		}
		if err := h.executor.SendKeys(ctx, line); err != nil {
			return fmt.Errorf("humanoid: type line %d: %w", i+1, err)
		}
	}

	h.logger.Debug("Typed text", zap.Int("chars", len(text)), zap.Int("lines", len(lines)))
	return nil
}

// Hotkey presses a key chord and pauses for one key delay afterwards.
func (h *Humanoid) Hotkey(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return fmt.Errorf("humanoid: empty key chord")
	}
	if err := h.executor.PressChord(ctx, keys...); err != nil {
		return fmt.Errorf("humanoid: chord %s: %w", strings.Join(keys, "+"), err)
	}
	return h.keyPause(ctx)
}

func (h *Humanoid) keyPause(ctx context.Context) error {
	if h.cfg.KeyDelay <= 0 {
		return nil
	}
	return h.executor.Sleep(ctx, h.cfg.KeyDelay)
}

// KeyDelay exposes the per-character delay so executors that type whole
// strings in one call can apply it themselves.
func (h *Humanoid) KeyDelay() time.Duration { return h.cfg.KeyDelay }
