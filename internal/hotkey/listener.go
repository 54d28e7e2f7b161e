// File: internal/hotkey/listener.go
package hotkey

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/humanrelay/internal/notify"
)

// DefaultDebounce ignores repeated toggles that arrive closer than this.
const DefaultDebounce = time.Second

const notifyTimeout = 5 * time.Second

// Toggler flips the pause flag and returns its new value.
// *workflow.PauseController satisfies it.
type Toggler interface {
	Toggle() bool
}

// Options configure a Listener.
type Options struct {
	// Input, when set, is read line by line. A line equal to Key toggles.
	Input io.Reader
	Key   string
	// Signals enables the OS toggle signal (SIGUSR1).
	Signals bool
	// Global, when set, is registered for the lifetime of Run. A failed
	// registration leaves the other sources working.
	Global   GlobalHotkey
	Debounce time.Duration
}

// Listener turns external events into pause toggles. It never touches
// workflow state other than through the Toggler.
type Listener struct {
	pause    Toggler
	notifier notify.Notifier
	logger   *zap.Logger
	limiter  *rate.Limiter
	opts     Options

	sigs chan os.Signal
}

// New creates a listener. A nil notifier disables notifications.
func New(pause Toggler, notifier notify.Notifier, logger *zap.Logger, opts Options) *Listener {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if opts.Key == "" {
		opts.Key = "p"
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	return &Listener{
		pause:    pause,
		notifier: notifier,
		logger:   logger.Named("hotkey"),
		limiter:  rate.NewLimiter(rate.Every(opts.Debounce), 1),
		opts:     opts,
		sigs:     make(chan os.Signal, 1),
	}
}

// Run blocks until ctx is done.
func (l *Listener) Run(ctx context.Context) error {
	if l.opts.Signals {
		if sigs := toggleSignals(); len(sigs) > 0 {
			signal.Notify(l.sigs, sigs...)
			defer signal.Stop(l.sigs)
		}
	}

	var lines <-chan string
	if l.opts.Input != nil {
		lines = l.readLines(ctx, l.opts.Input)
	}

	var pressed <-chan struct{}
	if g := l.opts.Global; g != nil {
		if err := g.Register(); err != nil {
			l.logger.Warn("Global hotkey unavailable", zap.Error(err))
		} else {
			pressed = g.Pressed()
			defer func() {
				if err := g.Unregister(); err != nil {
					l.logger.Debug("Failed to release global hotkey", zap.Error(err))
				}
			}()
		}
	}

	l.logger.Info("Pause toggle listener started",
		zap.Bool("signals", l.opts.Signals),
		zap.Bool("stdin", l.opts.Input != nil),
		zap.Bool("global", pressed != nil),
		zap.String("key", l.opts.Key))

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-l.sigs:
			l.toggle(ctx, "signal "+sig.String())
		case <-pressed:
			l.toggle(ctx, "global hotkey")
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			if strings.EqualFold(strings.TrimSpace(line), l.opts.Key) {
				l.toggle(ctx, "input")
			}
		}
	}
}

// readLines forwards lines from r until EOF or ctx is done. A blocked Read
// on a terminal cannot be interrupted; the goroutine ends at the next line
// or when r is closed.
func (l *Listener) readLines(ctx context.Context, r io.Reader) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case out <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			l.logger.Debug("Input reader stopped", zap.Error(err))
		}
	}()
	return out
}

func (l *Listener) toggle(ctx context.Context, source string) {
	if !l.limiter.Allow() {
		l.logger.Debug("Toggle ignored (debounce)", zap.String("source", source))
		return
	}
	paused := l.pause.Toggle()

	title, message := "Relay resumed", "Automation resumed"
	if paused {
		title, message = "Relay paused", "Automation paused"
	}
	l.logger.Info(message, zap.String("source", source))

	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := l.notifier.Notify(nctx, title, message); err != nil {
		l.logger.Debug("Notification failed", zap.Error(err))
	}
}
