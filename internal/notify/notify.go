// File: internal/notify/notify.go
package notify

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/humanrelay/internal/desktop"
)

// Notifier delivers a short user-facing message. Delivery is best effort;
// callers log the returned error and carry on.
type Notifier interface {
	Notify(ctx context.Context, title, message string) error
}

// Nop discards every notification.
type Nop struct{}

func (Nop) Notify(context.Context, string, string) error { return nil }

// -- Desktop sink --

// Desktop shows notifications with notify-send on Linux and osascript on
// macOS. Other platforms only log.
type Desktop struct {
	runner desktop.Runner
	goos   string
	logger *zap.Logger
}

// NewDesktop creates a desktop sink. A nil runner uses os/exec.
func NewDesktop(runner desktop.Runner, logger *zap.Logger) *Desktop {
	if runner == nil {
		runner = desktop.ExecRunner{}
	}
	return &Desktop{runner: runner, goos: runtime.GOOS, logger: logger.Named("notify")}
}

func (d *Desktop) Notify(ctx context.Context, title, message string) error {
	var cmd desktop.Command
	switch d.goos {
	case "linux", "freebsd", "openbsd":
		cmd = desktop.Command{Name: "notify-send", Args: []string{"--app-name=humanrelay", title, message}}
	case "darwin":
		script := fmt.Sprintf("display notification %s with title %s", strconv.Quote(message), strconv.Quote(title))
		cmd = desktop.Command{Name: "osascript", Args: []string{"-e", script}}
	default:
		d.logger.Info("Notification", zap.String("title", title), zap.String("message", message))
		return nil
	}
	if _, err := d.runner.Run(ctx, cmd); err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	return nil
}

// -- Rate limiting --

// Limited drops notifications that arrive faster than one per interval so a
// retry storm does not flood the desktop.
type Limited struct {
	next    Notifier
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewLimited wraps next. A non-positive interval disables limiting.
func NewLimited(next Notifier, interval time.Duration, logger *zap.Logger) Notifier {
	if interval <= 0 {
		return next
	}
	return &Limited{
		next:    next,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		logger:  logger.Named("notify"),
	}
}

func (l *Limited) Notify(ctx context.Context, title, message string) error {
	if !l.limiter.Allow() {
		l.logger.Debug("Notification dropped by rate limit", zap.String("title", title))
		return nil
	}
	return l.next.Notify(ctx, title, message)
}

// -- Safe wrapper --

type safe struct {
	next   Notifier
	logger *zap.Logger
}

// Safe wraps next so that delivery errors and panics are logged and never
// reach the caller.
func Safe(next Notifier, logger *zap.Logger) Notifier {
	return &safe{next: next, logger: logger.Named("notify")}
}

func (s *safe) Notify(ctx context.Context, title, message string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Notifier panicked", zap.Any("panic", r), zap.String("title", title))
			err = nil
		}
	}()
	if nerr := s.next.Notify(ctx, title, message); nerr != nil {
		s.logger.Warn("Notification failed", zap.String("title", title), zap.Error(nerr))
	}
	return nil
}
