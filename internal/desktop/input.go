// File: internal/desktop/input.go
package desktop

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xkilldash9x/humanrelay/internal/clock"
	"github.com/xkilldash9x/humanrelay/internal/humanoid"
)

// xdotoolExecutor implements humanoid.Executor with xdotool.
type xdotoolExecutor struct {
	runner   Runner
	clock    clock.Clock
	keyDelay time.Duration
}

var _ humanoid.Executor = (*xdotoolExecutor)(nil)

func (e *xdotoolExecutor) Sleep(ctx context.Context, d time.Duration) error {
	return e.clock.Sleep(ctx, d)
}

func (e *xdotoolExecutor) DispatchMouseEvent(ctx context.Context, data humanoid.MouseEventData) error {
	x, y := strconv.Itoa(data.X), strconv.Itoa(data.Y)
	var args []string
	switch data.Type {
	case humanoid.MouseMove:
		args = []string{"mousemove", x, y}
	case humanoid.MousePress:
		args = []string{"mousemove", x, y, "mousedown", buttonNumber(data.Button)}
	case humanoid.MouseRelease:
		args = []string{"mouseup", buttonNumber(data.Button)}
	default:
		return fmt.Errorf("unsupported mouse event %q", data.Type)
	}
	_, err := e.runner.Run(ctx, Command{Name: "xdotool", Args: args})
	return err
}

func (e *xdotoolExecutor) SendKeys(ctx context.Context, text string) error {
	delay := strconv.FormatInt(e.keyDelay.Milliseconds(), 10)
	_, err := e.runner.Run(ctx, Command{Name: "xdotool", Args: []string{"type", "--delay", delay, "--", text}})
	return err
}

func (e *xdotoolExecutor) PressChord(ctx context.Context, keys ...string) error {
	_, err := e.runner.Run(ctx, Command{Name: "xdotool", Args: []string{"key", "--clearmodifiers", strings.Join(keys, "+")}})
	return err
}

// buttonNumber maps to X11 button numbers.
func buttonNumber(b humanoid.MouseButton) string {
	switch b {
	case humanoid.ButtonMiddle:
		return "2"
	case humanoid.ButtonRight:
		return "3"
	default:
		return "1"
	}
}
