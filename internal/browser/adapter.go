// internal/browser/adapter.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/humanrelay/internal/clock"
)

// Supported backends.
const (
	BackendChromedp   = "chromedp"
	BackendPlaywright = "playwright"
)

const (
	// sendAttempts and sendRetryDelay bound PasteAndRun's internal retries.
	sendAttempts   = 3
	sendRetryDelay = time.Second
	// defaultResponsePoll is the interval between response snapshots.
	defaultResponsePoll = time.Second
	// startTimeout bounds launching the browser and loading the chat page.
	startTimeout = 90 * time.Second
)

// ErrNotStarted is returned by adapter calls made before Start succeeded.
var ErrNotStarted = errors.New("browser adapter not started")

// errRunButtonMissing is returned when no enabled run button was found.
var errRunButtonMissing = errors.New("run button not found or disabled")

// Adapter drives the chat surface programmatically. Any error it returns is
// a *Fault and means "use the UI path for this step".
type Adapter interface {
	Start(ctx context.Context) error
	// PasteAndRun replaces the chat input with text and submits it.
	PasteAndRun(ctx context.Context, text string) error
	// ExtractResponse waits for the response to the last PasteAndRun and
	// returns its text.
	ExtractResponse(ctx context.Context) (string, error)
	Close(ctx context.Context) error
}

// Selectors locate the chat page elements.
type Selectors struct {
	Textarea string
	// RunButtonText is matched against the visible text of buttons.
	RunButtonText string
	Response      string
}

// DefaultSelectors match the AI Studio chat page.
func DefaultSelectors() Selectors {
	return Selectors{Textarea: "textarea", RunButtonText: "Run", Response: "pre"}
}

// Config selects and configures a backend.
type Config struct {
	Backend         string
	URL             string
	Headless        bool
	ExecPath        string
	Selectors       Selectors
	ResponseTimeout time.Duration
	PollInterval    time.Duration
	Clock           clock.Clock
}

func (c *Config) normalize() {
	if c.Backend == "" {
		c.Backend = BackendChromedp
	}
	def := DefaultSelectors()
	if c.Selectors.Textarea == "" {
		c.Selectors.Textarea = def.Textarea
	}
	if c.Selectors.RunButtonText == "" {
		c.Selectors.RunButtonText = def.RunButtonText
	}
	if c.Selectors.Response == "" {
		c.Selectors.Response = def.Response
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultResponsePoll
	}
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = 5 * time.Minute
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
}

// Fault is any failure of the browser adapter.
type Fault struct {
	Op      string
	Backend string
	Err     error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("browser %s (%s): %v", f.Op, f.Backend, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// IsFault reports whether err carries a *Fault.
func IsFault(err error) bool {
	var f *Fault
	return errors.As(err, &f)
}

func wrap(op, backend string, err error) error {
	if err == nil {
		return nil
	}
	var f *Fault
	if errors.As(err, &f) {
		return err
	}
	return &Fault{Op: op, Backend: backend, Err: err}
}

// New returns the adapter for cfg.Backend. The browser is not launched until
// Start.
func New(cfg Config, logger *zap.Logger) (Adapter, error) {
	cfg.normalize()
	switch strings.ToLower(cfg.Backend) {
	case BackendChromedp:
		return newChromedpAdapter(cfg, logger), nil
	case BackendPlaywright:
		return newPlaywrightAdapter(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown browser backend %q", cfg.Backend)
	}
}

// -- Shared flow --

// snapshot is what a backend reports about the response blocks on the page.
type snapshot struct {
	Count int    `json:"count"`
	Last  string `json:"last"`
}

// retry runs fn up to attempts times, sleeping delay between failures.
func retry(ctx context.Context, clk clock.Clock, logger *zap.Logger, op string, attempts int, delay time.Duration, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn("Browser operation attempt failed",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Error(err),
		)
		if attempt < attempts {
			if serr := clk.Sleep(ctx, delay); serr != nil {
				return serr
			}
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, attempts, err)
}

// waitForResponse polls probe until a block beyond baseline exists and its
// text is unchanged across two consecutive polls, or timeout elapses.
func waitForResponse(ctx context.Context, clk clock.Clock, poll, timeout time.Duration, baseline int, probe func(ctx context.Context) (snapshot, error)) (string, error) {
	deadline := clk.Now().Add(timeout)
	var (
		previous string
		seen     bool
	)
	for {
		snap, err := probe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", fmt.Errorf("read response blocks: %w", err)
		}

		text := strings.TrimSpace(snap.Last)
		if snap.Count > baseline && text != "" {
			if seen && text == previous {
				return text, nil
			}
			previous, seen = text, true
		}

		remaining := deadline.Sub(clk.Now())
		if remaining <= 0 {
			if seen {
				return "", fmt.Errorf("response still changing after %s", timeout)
			}
			return "", fmt.Errorf("no new response block within %s", timeout)
		}
		wait := poll
		if remaining < wait {
			wait = remaining
		}
		if err := clk.Sleep(ctx, wait); err != nil {
			return "", err
		}
	}
}
