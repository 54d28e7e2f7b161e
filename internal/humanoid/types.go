// internal/humanoid/types.go
package humanoid

import (
	"context"
	"time"
)

// MouseEventType defines the type of mouse event.
type MouseEventType string

const (
	MouseMove    MouseEventType = "mouseMoved"
	MousePress   MouseEventType = "mousePressed"
	MouseRelease MouseEventType = "mouseReleased"
)

// MouseButton defines the mouse button.
type MouseButton string

const (
	ButtonNone   MouseButton = "none"
	ButtonLeft   MouseButton = "left"
	ButtonRight  MouseButton = "right"
	ButtonMiddle MouseButton = "middle"
)

// MouseEventData holds the data required to dispatch a mouse event in
// absolute screen coordinates.
type MouseEventData struct {
	Type   MouseEventType
	X      int
	Y      int
	Button MouseButton
	// Buttons is a bitfield of the buttons currently held (1: Left, 2: Right, 4: Middle).
	Buttons int64
}

// Executor is the input backend the humanoid drives. It is agnostic of the
// technology behind it (an X11 tool, a test recorder).
type Executor interface {
	// Sleep pauses execution, respecting context cancellation.
	Sleep(ctx context.Context, d time.Duration) error

	// DispatchMouseEvent sends a single mouse event.
	DispatchMouseEvent(ctx context.Context, data MouseEventData) error

	// SendKeys types literal text into whatever currently has focus.
	// The text never contains a newline.
	SendKeys(ctx context.Context, text string) error

	// PressChord presses the keys together and releases them in reverse
	// order, e.g. ("ctrl", "v").
	PressChord(ctx context.Context, keys ...string) error
}
