// File: internal/bridge/bridge.go
package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/xkilldash9x/humanrelay/internal/detection"
)

// Bridge is the narrow surface through which the workflow touches the
// desktop. Every call is synchronous and blocking; a returned error means the
// action did not happen (or did not verifiably happen) and the caller should
// treat the step as failed.
type Bridge interface {
	// Focus raises the first window whose title contains title.
	Focus(ctx context.Context, title string) error
	// Click presses and releases the primary button at p.
	Click(ctx context.Context, p detection.Point) error
	// MoveTo moves the pointer to p without clicking (hover).
	MoveTo(ctx context.Context, p detection.Point) error
	// TypeText types s into the focused element.
	TypeText(ctx context.Context, s string) error
	// Hotkey presses a key chord such as ("ctrl", "v").
	Hotkey(ctx context.Context, keys ...string) error
	// ReadClipboard returns the clipboard text.
	ReadClipboard(ctx context.Context) (string, error)
	// WriteClipboard replaces the clipboard text.
	WriteClipboard(ctx context.Context, s string) error
}

var (
	// ErrWindowNotFound is wrapped by Focus when no window matches.
	ErrWindowNotFound = errors.New("window not found")
	// ErrClipboardEmpty is returned when the clipboard holds no text.
	ErrClipboardEmpty = errors.New("clipboard is empty")
)

// Fault wraps any failure of a bridge operation. All bridge faults are
// recoverable and feed the retry policy.
type Fault struct {
	Op  string
	Err error
}

func (f *Fault) Error() string { return fmt.Sprintf("bridge %s: %v", f.Op, f.Err) }

func (f *Fault) Unwrap() error { return f.Err }

// Wrap returns err as a *Fault for op, leaving nil and existing faults alone.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var f *Fault
	if errors.As(err, &f) {
		return err
	}
	return &Fault{Op: op, Err: err}
}
