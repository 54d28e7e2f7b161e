// File: internal/desktop/desktop.go
package desktop

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"go.uber.org/zap"

	"github.com/xkilldash9x/humanrelay/internal/bridge"
	"github.com/xkilldash9x/humanrelay/internal/clock"
	"github.com/xkilldash9x/humanrelay/internal/detection"
	"github.com/xkilldash9x/humanrelay/internal/humanoid"
)

// focusSettle is the pause after activating a window before input is sent.
const (
	focusSettleMean   = 150 * time.Millisecond
	focusSettleStdDev = 40 * time.Millisecond
)

// Options configures a Desktop. Nil Clipboard and Grabber use the system
// clipboard and the display capture.
type Options struct {
	Humanoid  humanoid.Config
	Clock     clock.Clock
	Clipboard Clipboard
	Grabber   Grabber
}

// Clipboard reads and writes the system clipboard as text.
type Clipboard interface {
	ReadAll() (string, error)
	WriteAll(text string) error
}

// systemClipboard delegates to xclip, xsel or wl-clipboard, whichever is
// installed.
type systemClipboard struct{}

func (systemClipboard) ReadAll() (string, error) {
	if clipboard.Unsupported {
		return "", fmt.Errorf("%w: xclip, xsel or wl-clipboard", ErrToolNotFound)
	}
	return clipboard.ReadAll()
}

func (systemClipboard) WriteAll(text string) error {
	if clipboard.Unsupported {
		return fmt.Errorf("%w: xclip, xsel or wl-clipboard", ErrToolNotFound)
	}
	return clipboard.WriteAll(text)
}

// Desktop drives an X11 session. Input and focus go through xdotool and
// wmctrl. It implements bridge.Bridge and detection.Screen.
type Desktop struct {
	runner    Runner
	logger    *zap.Logger
	human     *humanoid.Humanoid
	clipboard Clipboard
	grabber   Grabber
}

var (
	_ bridge.Bridge    = (*Desktop)(nil)
	_ detection.Screen = (*Desktop)(nil)
)

// New creates a Desktop. A nil runner uses os/exec for xdotool and wmctrl.
func New(runner Runner, logger *zap.Logger, opts Options) *Desktop {
	if runner == nil {
		runner = ExecRunner{}
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Clipboard == nil {
		opts.Clipboard = systemClipboard{}
	}
	if opts.Grabber == nil {
		opts.Grabber = displayGrabber{}
	}
	logger = logger.Named("desktop")
	input := &xdotoolExecutor{runner: runner, clock: opts.Clock, keyDelay: opts.Humanoid.KeyDelay}
	return &Desktop{
		runner:    runner,
		logger:    logger,
		human:     humanoid.New(opts.Humanoid, input, logger),
		clipboard: opts.Clipboard,
		grabber:   opts.Grabber,
	}
}

// Focus activates the first window whose title contains title.
func (d *Desktop) Focus(ctx context.Context, title string) error {
	// 1. wmctrl matches a title substring and raises across desktops.
	_, err := d.runner.Run(ctx, Command{Name: "wmctrl", Args: []string{"-a", title}})
	if err == nil {
		d.logger.Debug("Window focused", zap.String("title", title), zap.String("tool", "wmctrl"))
		return bridge.Wrap("focus", d.human.CognitivePause(ctx, focusSettleMean, focusSettleStdDev))
	}
	if ctx.Err() != nil {
		return bridge.Wrap("focus", ctx.Err())
	}
	d.logger.Debug("wmctrl could not focus window, trying xdotool", zap.String("title", title), zap.Error(err))

	// 2. xdotool fallback for window managers without EWMH support.
	_, err = d.runner.Run(ctx, Command{
		Name: "xdotool",
		Args: []string{"search", "--limit", "1", "--name", title, "windowactivate", "--sync"},
	})
	if err != nil {
		if ctx.Err() != nil {
			return bridge.Wrap("focus", ctx.Err())
		}
		return bridge.Wrap("focus", fmt.Errorf("%w: %q: %v", bridge.ErrWindowNotFound, title, err))
	}
	d.logger.Debug("Window focused", zap.String("title", title), zap.String("tool", "xdotool"))
	return bridge.Wrap("focus", d.human.CognitivePause(ctx, focusSettleMean, focusSettleStdDev))
}

func (d *Desktop) Click(ctx context.Context, p detection.Point) error {
	return bridge.Wrap("click", d.human.IntelligentClick(ctx, p.X, p.Y))
}

func (d *Desktop) MoveTo(ctx context.Context, p detection.Point) error {
	return bridge.Wrap("move", d.human.MoveTo(ctx, p.X, p.Y))
}

func (d *Desktop) TypeText(ctx context.Context, s string) error {
	return bridge.Wrap("type", d.human.Type(ctx, s))
}

func (d *Desktop) Hotkey(ctx context.Context, keys ...string) error {
	return bridge.Wrap("hotkey", d.human.Hotkey(ctx, keys...))
}

// ReadClipboard returns the text content of the system clipboard. An
// empty clipboard yields bridge.ErrClipboardEmpty.
func (d *Desktop) ReadClipboard(ctx context.Context) (string, error) {
	var text string
	err := withContext(ctx, func() error {
		var err error
		text, err = d.clipboard.ReadAll()
		return err
	})
	if err != nil {
		// xclip and xsel exit non-zero when the selection has no text target.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", bridge.Wrap("read clipboard", fmt.Errorf("%w: %v", bridge.ErrClipboardEmpty, err))
		}
		return "", bridge.Wrap("read clipboard", err)
	}
	if text == "" {
		return "", bridge.Wrap("read clipboard", bridge.ErrClipboardEmpty)
	}
	return text, nil
}

func (d *Desktop) WriteClipboard(ctx context.Context, s string) error {
	return bridge.Wrap("write clipboard", withContext(ctx, func() error { return d.clipboard.WriteAll(s) }))
}

// SyncPointer seeds the humanoid with the real pointer position so the
// first movement follows a path instead of jumping.
func (d *Desktop) SyncPointer(ctx context.Context) error {
	out, err := d.runner.Run(ctx, Command{Name: "xdotool", Args: []string{"getmouselocation", "--shell"}})
	if err != nil {
		return bridge.Wrap("pointer location", err)
	}
	x, y, err := parseMouseLocation(string(out))
	if err != nil {
		return bridge.Wrap("pointer location", err)
	}
	d.human.SetPosition(x, y)
	return nil
}

// parseMouseLocation reads the X= and Y= lines of `xdotool getmouselocation --shell`.
func parseMouseLocation(out string) (int, int, error) {
	var (
		x, y         int
		haveX, haveY bool
	)
	for _, line := range strings.Split(out, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			continue
		}
		switch key {
		case "X":
			x, haveX = n, true
		case "Y":
			y, haveY = n, true
		}
	}
	if !haveX || !haveY {
		return 0, 0, errors.New("unexpected getmouselocation output")
	}
	return x, y, nil
}

// withContext runs a blocking call that takes no context. On cancellation
// the call is left to finish in the background.
func withContext(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
