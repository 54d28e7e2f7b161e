// File: internal/workflow/engine_test.go
package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/humanrelay/internal/bridge"
	"github.com/xkilldash9x/humanrelay/internal/browser"
	"github.com/xkilldash9x/humanrelay/internal/detection"
	"github.com/xkilldash9x/humanrelay/internal/mocks"
)

func newNotifier() *mocks.MockNotifier {
	n := new(mocks.MockNotifier)
	n.On("Notify", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	return n
}

func browserFault(op string) error {
	return &browser.Fault{Op: op, Backend: browser.BackendChromedp, Err: errors.New("target closed")}
}

func TestNewEngine_Validation(t *testing.T) {
	logger := zaptest.NewLogger(t)
	pause := NewPauseController(nil, 0)

	_, err := NewEngine(nil, &fakeDesk{}, pause, testSettings(), logger)
	assert.Error(t, err)

	s := testSettings()
	delete(s.Targets, TargetChatRunButton)
	_, err = NewEngine(newFakeDetector(), &fakeDesk{}, pause, s, logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), TargetChatRunButton)

	s = testSettings()
	s.ChatWindow = ""
	_, err = NewEngine(newFakeDetector(), &fakeDesk{}, pause, s, logger)
	assert.Error(t, err)

	s = testSettings()
	s.PollInterval = 0
	s.PasteKeys = nil
	s.SelectAllKeys = nil
	e, err := NewEngine(newFakeDetector(), &fakeDesk{}, pause, s, logger)
	require.NoError(t, err)
	assert.Equal(t, detection.DefaultPollInterval, e.settings.PollInterval)
	assert.Equal(t, []string{"ctrl", "v"}, e.settings.PasteKeys)
	assert.Equal(t, []string{"ctrl", "a"}, e.settings.SelectAllKeys)
	assert.Equal(t, StateIdle, e.State())
}

func TestRunIteration_RoundTrip(t *testing.T) {
	notifier := newNotifier()
	h := newHarness(t, testSettings(), WithNotifier(notifier))

	report := h.engine.RunIteration(context.Background())

	assert.Equal(t, OutcomeCompleted, report.Outcome)
	assert.Equal(t, 0, report.Retries)
	assert.False(t, report.ViaBrowser)
	assert.NoError(t, report.Err)
	assert.Equal(t, "Hello", h.desk.chatSubmitted, "the prompt reaches the chat")
	assert.Equal(t, "World", h.desk.editorSubmitted, "the response reaches the editor")
	assert.Equal(t, StateIdle, h.engine.State())
	if diff := cmp.Diff(happyPath, h.transitions); diff != "" {
		t.Errorf("transitions mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, h.backoffSleeps())
	assert.Equal(t, []string{"completed"}, h.metrics.iterations)
	assert.Empty(t, h.metrics.failures)
	notifier.AssertCalled(t, "Notify", mock.Anything, "Relay iteration completed", "Relay iteration #1 completed")
}

func TestRunIteration_ActionOrder(t *testing.T) {
	h := newHarness(t, testSettings())
	h.engine.RunIteration(context.Background())

	want := []string{
		"focus Editor",
		"click " + TargetEditorCopyButton,
		"focus Chat",
		"click " + TargetChatTextarea,
		"hotkey ctrl+a",
		"hotkey ctrl+v",
		"click " + TargetChatRunButton,
		"focus Chat",
		"click " + TargetChatCopyResponse,
		"focus Editor",
		"click " + TargetEditorTextarea,
		"hotkey ctrl+v",
		"click " + TargetEditorSubmitButton,
	}
	if diff := cmp.Diff(want, h.desk.actions); diff != "" {
		t.Errorf("actions mismatch (-want +got):\n%s", diff)
	}
}

func TestRunIteration_SixthFailureAbandons(t *testing.T) {
	notifier := newNotifier()
	h := newHarness(t, testSettings(), WithNotifier(notifier))
	h.detector.misses[TargetEditorCopyButton] = -1

	report := h.engine.RunIteration(context.Background())

	assert.Equal(t, OutcomeAbandoned, report.Outcome)
	assert.Equal(t, 6, report.Retries)
	assert.True(t, detection.IsMiss(report.Err))
	assert.Len(t, h.detector.called(TargetEditorCopyButton), 6)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 30 * time.Second}, h.backoffSleeps())

	want := []Transition{
		{StateIdle, StateCopyingPrompt},
		{StateCopyingPrompt, StateFailed},
		{StateFailed, StateIdle},
	}
	if diff := cmp.Diff(want, h.transitions); diff != "" {
		t.Errorf("transitions mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, StateIdle, h.engine.State())
	assert.Equal(t, []string{"abandoned"}, h.metrics.iterations)
	notifier.AssertCalled(t, "Notify", mock.Anything, "Relay step failed", mock.MatchedBy(func(msg string) bool {
		return strings.HasPrefix(msg, "Attempt 6 failed")
	}))
	notifier.AssertCalled(t, "Notify", mock.Anything, "Relay iteration skipped", "Max retries reached. Skipping iteration #1")
}

func TestRunIteration_RecoversWithinBudget(t *testing.T) {
	h := newHarness(t, testSettings())
	h.detector.misses[TargetChatRunButton] = 2

	report := h.engine.RunIteration(context.Background())

	assert.Equal(t, OutcomeCompleted, report.Outcome)
	assert.Equal(t, 2, report.Retries)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, h.backoffSleeps())
	assert.Equal(t, []string{"sending_prompt/miss", "sending_prompt/miss"}, h.metrics.failures)
	if diff := cmp.Diff(happyPath, h.transitions); diff != "" {
		t.Errorf("a retried step must not re-enter its state (-want +got):\n%s", diff)
	}
	assert.Equal(t, "Hello", h.desk.chatSubmitted)
	assert.Equal(t, "World", h.desk.editorSubmitted)
}

func TestRunIteration_BridgeFaultIsRetried(t *testing.T) {
	h := newHarness(t, testSettings())
	h.desk.clickErrs = []error{errors.New("xdotool exited 1")}

	report := h.engine.RunIteration(context.Background())

	assert.Equal(t, OutcomeCompleted, report.Outcome)
	assert.Equal(t, 1, report.Retries)
	assert.Equal(t, []string{"copying_prompt/bridge"}, h.metrics.failures)
}

func TestRunIteration_DetectionFaultAbandonsImmediately(t *testing.T) {
	h := newHarness(t, testSettings())
	h.detector.faults[TargetEditorCopyButton] = &detection.Fault{
		Target:   TargetEditorCopyButton,
		Strategy: detection.StrategyTemplate,
		Asset:    "editor_copy_button.png",
		Err:      errors.New("unexpected EOF"),
	}

	report := h.engine.RunIteration(context.Background())

	assert.Equal(t, OutcomeAbandoned, report.Outcome)
	assert.Equal(t, 0, report.Retries)
	assert.True(t, detection.IsFault(report.Err))
	assert.Empty(t, h.backoffSleeps())
	assert.Len(t, h.detector.called(TargetEditorCopyButton), 1)
	assert.Equal(t, []string{"copying_prompt/fault"}, h.metrics.failures)
	assert.Equal(t, StateIdle, h.engine.State())
}

func TestRunIteration_EmptyClipboard(t *testing.T) {
	s := testSettings()
	s.Policy.MaxRetries = 1
	h := newHarness(t, s)
	h.desk.editorPrompt = "  \n"

	report := h.engine.RunIteration(context.Background())

	assert.Equal(t, OutcomeAbandoned, report.Outcome)
	assert.ErrorIs(t, report.Err, bridge.ErrClipboardEmpty)
	assert.Equal(t, 2, report.Retries)
}

func TestRunIteration_UnchangedClipboardIsFailure(t *testing.T) {
	s := testSettings()
	s.Policy.MaxRetries = 0
	h := newHarness(t, s)
	h.desk.chatResponse = "Hello"

	report := h.engine.RunIteration(context.Background())

	assert.Equal(t, OutcomeAbandoned, report.Outcome)
	assert.ErrorIs(t, report.Err, errResponseUnchanged)
	assert.Empty(t, h.desk.editorSubmitted)
}

func TestRunIteration_OptionalResponseTargets(t *testing.T) {
	s := testSettings()
	s.Targets[TargetChatResponseBlock] = detection.Target{Name: TargetChatResponseBlock, Text: "response"}
	s.Targets[TargetChatMoreOptions] = detection.Target{Name: TargetChatMoreOptions, TemplatePath: "more.png"}
	h := newHarness(t, s)

	report := h.engine.RunIteration(context.Background())

	require.Equal(t, OutcomeCompleted, report.Outcome)
	assert.Equal(t, []string{TargetChatResponseBlock}, h.desk.hovered)
	assert.Equal(t, []string{TargetChatResponseBlock}, h.detector.called(TargetChatResponseBlock))
	assert.Contains(t, h.desk.actions, "click "+TargetChatMoreOptions)
}

func TestRunIteration_PauseTakesEffectAtBoundary(t *testing.T) {
	h := newHarness(t, testSettings())
	h.desk.onClick = func(target string) {
		if target == TargetEditorCopyButton {
			h.pause.Set(true)
		}
	}
	polls := 0
	h.clock.OnSleep = func(d time.Duration) {
		if d == time.Second && h.pause.Paused() {
			polls++
			if polls == 3 {
				h.pause.Set(false)
			}
		}
	}

	report := h.engine.RunIteration(context.Background())

	assert.Equal(t, OutcomeCompleted, report.Outcome)
	assert.Equal(t, 3, polls)
	assert.Equal(t, "Hello", h.desk.chatSubmitted, "the in-flight copy finished before pausing")
	want := []Transition{
		{StateIdle, StateCopyingPrompt},
		{StateCopyingPrompt, StateSendingPrompt},
		{StateSendingPrompt, StatePaused},
		{StatePaused, StateSendingPrompt},
		{StateSendingPrompt, StateAwaitingResponse},
		{StateAwaitingResponse, StateCopyingResponse},
		{StateCopyingResponse, StatePastingResponse},
		{StatePastingResponse, StateIdle},
	}
	if diff := cmp.Diff(want, h.transitions); diff != "" {
		t.Errorf("transitions mismatch (-want +got):\n%s", diff)
	}
}

func TestRunIteration_CancelledWhilePaused(t *testing.T) {
	h := newHarness(t, testSettings())
	h.pause.Set(true)
	ctx, cancel := context.WithCancel(context.Background())
	h.clock.OnSleep = func(time.Duration) { cancel() }

	report := h.engine.RunIteration(ctx)

	assert.Equal(t, OutcomeCancelled, report.Outcome)
	assert.Empty(t, h.desk.actions)
	assert.Equal(t, StateIdle, h.engine.State())
}

func TestRunIteration_CancellationLetsActionFinish(t *testing.T) {
	h := newHarness(t, testSettings())
	ctx, cancel := context.WithCancel(context.Background())
	h.desk.onClick = func(target string) {
		if target == TargetChatRunButton {
			cancel()
		}
	}

	report := h.engine.RunIteration(ctx)

	assert.Equal(t, OutcomeCancelled, report.Outcome)
	assert.Equal(t, "Hello", h.desk.chatSubmitted, "the click in flight completes")
	assert.Empty(t, h.desk.editorSubmitted)
	assert.Equal(t, 0, report.Retries, "cancellation is not a retryable failure")
	assert.Equal(t, StateIdle, h.engine.State())
}

func TestRun_StopsOnCancel(t *testing.T) {
	notifier := newNotifier()
	h := newHarness(t, testSettings(), WithNotifier(notifier))
	ctx, cancel := context.WithCancel(context.Background())
	submits := 0
	h.desk.onClick = func(target string) {
		if target == TargetEditorSubmitButton {
			submits++
			if submits == 2 {
				cancel()
			}
		}
	}

	require.NoError(t, h.engine.Run(ctx))

	assert.Equal(t, 2, submits)
	assert.Equal(t, []string{"completed", "cancelled"}, h.metrics.iterations)
	notifier.AssertCalled(t, "Notify", mock.Anything, "Relay stopped", "Automation stopped by user")
}

func TestRunIteration_BridgeCallsHaveTheirOwnDeadline(t *testing.T) {
	s := testSettings()
	s.Policy.MaxRetries = 0
	br := new(mocks.MockBridge)
	hasDeadline := mock.MatchedBy(func(ctx context.Context) bool {
		_, ok := ctx.Deadline()
		return ok
	})
	br.On("Focus", hasDeadline, "Editor").Return(bridge.ErrWindowNotFound).Once()

	h := newHarness(t, s)
	e, err := NewEngine(h.detector, br, h.pause, s, zaptest.NewLogger(t), WithClock(h.clock))
	require.NoError(t, err)

	report := e.RunIteration(context.Background())

	assert.Equal(t, OutcomeAbandoned, report.Outcome)
	assert.ErrorIs(t, report.Err, bridge.ErrWindowNotFound)
	assert.Empty(t, h.detector.called(""), "nothing is detected once focus fails")
	br.AssertExpectations(t)
}

func TestRunIteration_DetectorUsesConfiguredTimeouts(t *testing.T) {
	s := testSettings()
	s.DetectionTimeout = 7 * time.Second
	s.PollInterval = 250 * time.Millisecond

	det := new(mocks.MockDetector)
	isCopyButton := mock.MatchedBy(func(target detection.Target) bool {
		return target.Name == TargetEditorCopyButton
	})
	fault := &detection.Fault{Target: TargetEditorCopyButton, Strategy: detection.StrategyTemplate, Asset: "copy.png", Err: errors.New("bad png")}
	det.On("Detect", mock.Anything, isCopyButton, 7*time.Second, 250*time.Millisecond).
		Return(detection.Result{}, fault).Once()

	h := newHarness(t, s)
	e, err := NewEngine(det, h.desk, h.pause, s, zaptest.NewLogger(t), WithClock(h.clock))
	require.NoError(t, err)

	report := e.RunIteration(context.Background())

	assert.Equal(t, OutcomeAbandoned, report.Outcome)
	assert.Zero(t, report.Retries)
	assert.True(t, detection.IsFault(report.Err))
	det.AssertExpectations(t)
}

// -- Browser path --

func TestRunIteration_BrowserPath(t *testing.T) {
	adapter := new(mocks.MockAdapter)
	adapter.On("PasteAndRun", mock.Anything, "Hello").Return(nil).Once()
	adapter.On("ExtractResponse", mock.Anything).Return("World from the page", nil).Once()
	h := newHarness(t, testSettings(), WithBrowser(adapter))

	report := h.engine.RunIteration(context.Background())

	assert.Equal(t, OutcomeCompleted, report.Outcome)
	assert.True(t, report.ViaBrowser)
	assert.Equal(t, "World from the page", h.desk.editorSubmitted)
	assert.Empty(t, h.detector.called("chat_"), "the chat UI is not touched on the browser path")
	if diff := cmp.Diff(happyPath, h.transitions); diff != "" {
		t.Errorf("transitions mismatch (-want +got):\n%s", diff)
	}
	adapter.AssertExpectations(t)
}

func TestRunIteration_BrowserSendFaultDemotesStep(t *testing.T) {
	notifier := newNotifier()
	adapter := new(mocks.MockAdapter)
	adapter.On("PasteAndRun", mock.Anything, "Hello").Return(browserFault("paste_and_run")).Once()
	h := newHarness(t, testSettings(), WithBrowser(adapter), WithNotifier(notifier))

	report := h.engine.RunIteration(context.Background())

	assert.Equal(t, OutcomeCompleted, report.Outcome)
	assert.LessOrEqual(t, report.Retries, 1)
	assert.False(t, report.ViaBrowser)
	assert.Equal(t, "Hello", h.desk.chatSubmitted, "the UI path sent the prompt")
	assert.Equal(t, "World", h.desk.editorSubmitted)
	assert.Equal(t, []string{"sending_prompt/browser"}, h.metrics.failures)
	adapter.AssertNotCalled(t, "ExtractResponse", mock.Anything)
	notifier.AssertCalled(t, "Notify", mock.Anything, "Relay fallback", "Browser automation failed, falling back to UI automation")
}

func TestRunIteration_BrowserExtractFaultFallsBackToUI(t *testing.T) {
	adapter := new(mocks.MockAdapter)
	adapter.On("PasteAndRun", mock.Anything, "Hello").Return(nil).Once()
	adapter.On("ExtractResponse", mock.Anything).Return("", browserFault("extract_response")).Once()
	h := newHarness(t, testSettings(), WithBrowser(adapter))

	report := h.engine.RunIteration(context.Background())

	assert.Equal(t, OutcomeCompleted, report.Outcome)
	assert.Equal(t, 0, report.Retries)
	assert.Equal(t, "World", h.desk.editorSubmitted)
	assert.Equal(t, []string{TargetChatResponseComplete, TargetChatCopyResponse}, h.detector.called("chat_"),
		"the UI copy waits for the response to finish first")
	adapter.AssertExpectations(t)
}

func TestRunIteration_ExtractFallbackWaitsForResponse(t *testing.T) {
	adapter := new(mocks.MockAdapter)
	adapter.On("PasteAndRun", mock.Anything, "Hello").Return(nil).Once()
	adapter.On("ExtractResponse", mock.Anything).Return("", browserFault("extract_response")).Once()
	h := newHarness(t, testSettings(), WithBrowser(adapter))
	// Generation is still running at the first completion check.
	h.detector.misses[TargetChatResponseComplete] = 1

	report := h.engine.RunIteration(context.Background())

	assert.Equal(t, OutcomeCompleted, report.Outcome)
	assert.Equal(t, 1, report.Retries, "a miss on completion is retried like any other")
	assert.Equal(t, []string{TargetChatResponseComplete, TargetChatResponseComplete, TargetChatCopyResponse}, h.detector.called("chat_"))
	assert.Equal(t, "World", h.desk.editorSubmitted)
	adapter.AssertExpectations(t)
}

func TestRunIteration_UIFallbackReplacesLeftoverInput(t *testing.T) {
	var h *harness
	adapter := new(mocks.MockAdapter)
	adapter.On("PasteAndRun", mock.Anything, "Hello").
		Run(func(mock.Arguments) {
			// The page accepted the text but the run button never appeared.
			h.desk.mu.Lock()
			h.desk.chatInput = "Hello"
			h.desk.mu.Unlock()
		}).
		Return(browserFault("paste_and_run")).Once()
	h = newHarness(t, testSettings(), WithBrowser(adapter))

	report := h.engine.RunIteration(context.Background())

	assert.Equal(t, OutcomeCompleted, report.Outcome)
	assert.Equal(t, "Hello", h.desk.chatSubmitted, "the prompt is sent once, not appended to the leftover")
	assert.Subset(t, h.desk.actions, []string{"hotkey ctrl+a", "hotkey ctrl+v"})
	adapter.AssertExpectations(t)
}

func TestRunIteration_DemotionLastsOneIteration(t *testing.T) {
	adapter := new(mocks.MockAdapter)
	adapter.On("PasteAndRun", mock.Anything, "Hello").Return(browserFault("paste_and_run")).Once()
	adapter.On("PasteAndRun", mock.Anything, "Hello").Return(nil).Once()
	adapter.On("ExtractResponse", mock.Anything).Return("World", nil).Once()
	h := newHarness(t, testSettings(), WithBrowser(adapter))

	first := h.engine.RunIteration(context.Background())
	second := h.engine.RunIteration(context.Background())

	assert.False(t, first.ViaBrowser)
	assert.True(t, second.ViaBrowser)
	assert.Equal(t, 2, second.Iteration)
	adapter.AssertExpectations(t)
}

func TestFailureKind(t *testing.T) {
	cases := map[string]error{
		"fault":   &detection.Fault{Target: "x", Err: errors.New("bad")},
		"miss":    &detection.MissError{Target: "x"},
		"bridge":  bridge.Wrap("click", errors.New("bad")),
		"browser": browserFault("start"),
		"other":   errors.New("bad"),
	}
	for want, err := range cases {
		assert.Equal(t, want, failureKind(err))
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "awaiting_response", StateAwaitingResponse.String())
	assert.Equal(t, "unknown", State(99).String())
}
