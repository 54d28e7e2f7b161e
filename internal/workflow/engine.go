// File: internal/workflow/engine.go
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/humanrelay/internal/bridge"
	"github.com/xkilldash9x/humanrelay/internal/browser"
	"github.com/xkilldash9x/humanrelay/internal/clock"
	"github.com/xkilldash9x/humanrelay/internal/detection"
	"github.com/xkilldash9x/humanrelay/internal/notify"
)

// Target names the relay acts on.
const (
	TargetEditorCopyButton     = "editor_copy_button"
	TargetEditorTextarea       = "editor_textarea"
	TargetEditorSubmitButton   = "editor_submit_button"
	TargetChatTextarea         = "chat_textarea"
	TargetChatRunButton        = "chat_run_button"
	TargetChatResponseComplete = "chat_response_complete"
	TargetChatCopyResponse     = "chat_copy_response"
	TargetChatResponseBlock    = "chat_response_block"
	TargetChatMoreOptions      = "chat_more_options"
)

// RequiredTargets must all be configured before the loop can start.
var RequiredTargets = []string{
	TargetEditorCopyButton,
	TargetEditorTextarea,
	TargetEditorSubmitButton,
	TargetChatTextarea,
	TargetChatRunButton,
	TargetChatResponseComplete,
	TargetChatCopyResponse,
}

const notifyTimeout = 5 * time.Second

// Detector locates targets on screen. *detection.Engine satisfies it.
type Detector interface {
	Detect(ctx context.Context, target detection.Target, timeout, pollInterval time.Duration) (detection.Result, error)
}

// Metrics receives state machine observations. Implementations must be
// safe for concurrent use.
type Metrics interface {
	SetState(state string, ordinal int)
	ObserveStepFailure(state, kind string)
	ObserveIteration(outcome string)
}

type nopMetrics struct{}

func (nopMetrics) SetState(string, int)              {}
func (nopMetrics) ObserveStepFailure(string, string) {}
func (nopMetrics) ObserveIteration(string)           {}

// Settings are the static parameters of the relay loop.
type Settings struct {
	EditorWindow string
	ChatWindow   string

	Targets map[string]detection.Target

	DetectionTimeout time.Duration
	ResponseTimeout  time.Duration
	PollInterval     time.Duration
	// ActionTimeout bounds each bridge call independently of the run context.
	ActionTimeout time.Duration
	// OperationDelay is the settle time after focus, clicks and pastes.
	OperationDelay time.Duration
	// IterationDelay separates consecutive iterations.
	IterationDelay time.Duration
	PasteKeys      []string
	// SelectAllKeys is sent before pasting the prompt so leftover chat
	// input is replaced.
	SelectAllKeys []string

	Policy RetryPolicy
}

// DefaultSettings returns the timing defaults. Window titles and targets
// must still be filled in.
func DefaultSettings() Settings {
	return Settings{
		DetectionTimeout: 120 * time.Second,
		ResponseTimeout:  300 * time.Second,
		PollInterval:     detection.DefaultPollInterval,
		ActionTimeout:    10 * time.Second,
		OperationDelay:   time.Second,
		IterationDelay:   time.Second,
		PasteKeys:        []string{"ctrl", "v"},
		SelectAllKeys:    []string{"ctrl", "a"},
		Policy:           DefaultRetryPolicy(),
	}
}

func (s *Settings) validate() error {
	var missing []string
	for _, name := range RequiredTargets {
		if _, ok := s.Targets[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required targets: %v", missing)
	}
	if s.EditorWindow == "" || s.ChatWindow == "" {
		return errors.New("editor and chat window titles are required")
	}
	if s.DetectionTimeout <= 0 || s.ResponseTimeout <= 0 {
		return errors.New("detection and response timeouts must be positive")
	}
	if s.Policy.MaxRetries < 0 {
		return errors.New("max retries cannot be negative")
	}
	if s.PollInterval <= 0 {
		s.PollInterval = detection.DefaultPollInterval
	}
	if s.ActionTimeout <= 0 {
		s.ActionTimeout = 10 * time.Second
	}
	if len(s.PasteKeys) == 0 {
		s.PasteKeys = []string{"ctrl", "v"}
	}
	if len(s.SelectAllKeys) == 0 {
		s.SelectAllKeys = []string{"ctrl", "a"}
	}
	return nil
}

// Option configures an Engine.
type Option func(*Engine)

// WithBrowser enables the browser path for the chat side.
func WithBrowser(a browser.Adapter) Option {
	return func(e *Engine) { e.browser = a }
}

// WithNotifier sets the user notification sink.
func WithNotifier(n notify.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithClock replaces the real clock.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTransitionHook registers fn to observe every state change. It runs
// synchronously on the loop goroutine.
func WithTransitionHook(fn func(from, to State)) Option {
	return func(e *Engine) { e.hook = fn }
}

// Engine is the relay state machine. One Engine drives one loop; Run and
// RunIteration must not be called concurrently.
type Engine struct {
	detector Detector
	bridge   bridge.Bridge
	browser  browser.Adapter
	pause    *PauseController
	notifier notify.Notifier
	metrics  Metrics
	clock    clock.Clock
	settings Settings
	logger   *zap.Logger
	hook     func(from, to State)

	mu        sync.RWMutex
	state     State
	iteration atomic.Int64
}

// NewEngine validates settings and builds an Engine in the Idle state.
func NewEngine(detector Detector, br bridge.Bridge, pause *PauseController, settings Settings, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if detector == nil || br == nil || pause == nil {
		return nil, errors.New("workflow: detector, bridge and pause controller are required")
	}
	if err := settings.validate(); err != nil {
		return nil, fmt.Errorf("workflow: %w", err)
	}
	e := &Engine{
		detector: detector,
		bridge:   br,
		pause:    pause,
		notifier: notify.Nop{},
		metrics:  nopMetrics{},
		clock:    clock.New(),
		settings: settings,
		logger:   logger.Named("workflow"),
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.metrics.SetState(StateIdle.String(), int(StateIdle))
	return e, nil
}

// State returns the current state. Safe for concurrent use.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Run executes iterations until ctx is cancelled. An in-flight step is
// allowed to finish before the loop exits.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("Relay loop started",
		zap.String("editor_window", e.settings.EditorWindow),
		zap.String("chat_window", e.settings.ChatWindow),
		zap.Bool("browser", e.browser != nil))

	for ctx.Err() == nil {
		report := e.RunIteration(ctx)
		if report.Outcome == OutcomeCancelled {
			break
		}
		if err := e.clock.Sleep(ctx, e.settings.IterationDelay); err != nil {
			break
		}
	}

	e.logger.Info("Relay loop stopped", zap.Int64("iterations", e.iteration.Load()))
	e.notify(ctx, "Relay stopped", "Automation stopped by user")
	return nil
}

// RunIteration performs one prompt/response round trip. It always leaves
// the engine Idle.
func (e *Engine) RunIteration(ctx context.Context) Report {
	it := &iteration{
		number: int(e.iteration.Add(1)),
		retry:  NewRetryState(e.settings.Policy),
	}
	log := e.logger.With(zap.Int("iteration", it.number))
	log.Debug("Iteration started")

	for i := 0; i < len(steps); {
		state := steps[i]
		if err := e.boundary(ctx, state); err != nil {
			return e.finish(log, it, OutcomeCancelled, err)
		}

		err := e.runStep(ctx, state, it)
		if err == nil {
			i++
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return e.finish(log, it, OutcomeCancelled, ctxErr)
		}

		kind := failureKind(err)
		e.metrics.ObserveStepFailure(state.String(), kind)

		if kind == "fault" {
			log.Error("Detection fault, abandoning iteration", zap.Stringer("state", state), zap.Error(err))
			e.notify(ctx, "Relay iteration skipped", fmt.Sprintf("Iteration #%d: %v", it.number, err))
			return e.finish(log, it, OutcomeAbandoned, err)
		}

		wait, retry := it.retry.Fail()
		log.Warn("Step failed",
			zap.Stringer("state", state),
			zap.String("kind", kind),
			zap.Int("attempt", it.retry.Attempt),
			zap.Error(err))
		e.notify(ctx, "Relay step failed", fmt.Sprintf("Attempt %d failed: %v", it.retry.Attempt, err))
		if !retry {
			e.notify(ctx, "Relay iteration skipped", fmt.Sprintf("Max retries reached. Skipping iteration #%d", it.number))
			return e.finish(log, it, OutcomeAbandoned, err)
		}

		log.Info("Retrying step", zap.Stringer("state", state), zap.Duration("backoff", wait))
		if err := e.clock.Sleep(ctx, wait); err != nil {
			return e.finish(log, it, OutcomeCancelled, err)
		}
	}

	return e.finish(log, it, OutcomeCompleted, nil)
}

// boundary enters state and is the only place the pause flag and
// cancellation are observed. A pause entered here resumes into the same state.
func (e *Engine) boundary(ctx context.Context, state State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.transition(state)
	if !e.pause.Paused() {
		return nil
	}
	e.transition(StatePaused)
	e.logger.Info("Relay paused", zap.Stringer("resume_state", state))
	if err := e.pause.Wait(ctx); err != nil {
		return err
	}
	e.transition(state)
	e.logger.Info("Relay resumed", zap.Stringer("state", state))
	return nil
}

func (e *Engine) finish(log *zap.Logger, it *iteration, outcome Outcome, err error) Report {
	if outcome == OutcomeAbandoned {
		e.transition(StateFailed)
	}
	e.transition(StateIdle)
	e.metrics.ObserveIteration(string(outcome))

	report := Report{
		Iteration:  it.number,
		Outcome:    outcome,
		Retries:    it.retry.Attempt,
		ViaBrowser: it.viaBrowser,
		Err:        err,
	}
	switch outcome {
	case OutcomeCompleted:
		log.Info("Iteration completed", zap.Int("retries", report.Retries), zap.Bool("via_browser", report.ViaBrowser))
		e.notify(context.Background(), "Relay iteration completed", fmt.Sprintf("Relay iteration #%d completed", it.number))
	case OutcomeAbandoned:
		log.Warn("Iteration abandoned", zap.Int("retries", report.Retries), zap.Error(err))
	default:
		log.Info("Iteration cancelled")
	}
	return report
}

func (e *Engine) transition(to State) {
	e.mu.Lock()
	from := e.state
	if from == to {
		e.mu.Unlock()
		return
	}
	e.state = to
	e.mu.Unlock()

	e.logger.Debug("State transition", zap.Stringer("from", from), zap.Stringer("to", to))
	e.metrics.SetState(to.String(), int(to))
	if e.hook != nil {
		e.hook(from, to)
	}
}

// notify is best effort and never blocks the loop on a cancelled context.
func (e *Engine) notify(ctx context.Context, title, message string) {
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := e.notifier.Notify(nctx, title, message); err != nil {
		e.logger.Debug("Notification failed", zap.String("title", title), zap.Error(err))
	}
}

func failureKind(err error) string {
	var (
		bf *bridge.Fault
		wf *browser.Fault
	)
	switch {
	case detection.IsFault(err):
		return "fault"
	case detection.IsMiss(err):
		return "miss"
	case errors.As(err, &bf):
		return "bridge"
	case errors.As(err, &wf):
		return "browser"
	default:
		return "other"
	}
}
