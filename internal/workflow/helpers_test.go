// File: internal/workflow/helpers_test.go
package workflow

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/humanrelay/internal/clock"
	"github.com/xkilldash9x/humanrelay/internal/detection"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func pointFor(i int) detection.Point { return detection.Point{X: 100 + 10*i, Y: 50} }

func testSettings() Settings {
	s := DefaultSettings()
	s.EditorWindow = "Editor"
	s.ChatWindow = "Chat"
	s.OperationDelay = 500 * time.Millisecond
	s.Targets = make(map[string]detection.Target)
	for _, name := range RequiredTargets {
		s.Targets[name] = detection.Target{Name: name, TemplatePath: name + ".png"}
	}
	return s
}

// fakeDetector finds every target at a fixed point unless scripted otherwise.
type fakeDetector struct {
	mu     sync.Mutex
	points map[string]detection.Point
	misses map[string]int
	faults map[string]error
	calls  []string
}

func newFakeDetector() *fakeDetector {
	d := &fakeDetector{
		points: make(map[string]detection.Point),
		misses: make(map[string]int),
		faults: make(map[string]error),
	}
	names := append(append([]string{}, RequiredTargets...), TargetChatResponseBlock, TargetChatMoreOptions)
	for i, name := range names {
		d.points[name] = pointFor(i)
	}
	return d
}

func (d *fakeDetector) Detect(ctx context.Context, t detection.Target, timeout, _ time.Duration) (detection.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, t.Name)
	if err := d.faults[t.Name]; err != nil {
		return detection.Result{}, err
	}
	if d.misses[t.Name] != 0 {
		if d.misses[t.Name] > 0 {
			d.misses[t.Name]--
		}
		return detection.Result{Found: false, Sweeps: 3}, nil
	}
	return detection.Result{
		Found:      true,
		Location:   d.points[t.Name],
		Strategy:   detection.StrategyTemplate,
		Confidence: 0.95,
		Sweeps:     1,
	}, nil
}

func (d *fakeDetector) called(prefix string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for _, c := range d.calls {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

// fakeDesk simulates the editor and chat windows behind the clipboard.
type fakeDesk struct {
	mu      sync.Mutex
	targets map[detection.Point]string

	clipboard string
	focused   string

	editorPrompt string
	chatResponse string

	chatSubmitted   string
	editorSubmitted string
	chatInput       string
	editorInput     string
	// selected is set by the select-all chord; the next paste replaces the
	// input instead of appending to it.
	selected bool

	hovered []string
	actions []string

	// onClick runs after a click on the named target completed.
	onClick func(target string)
	// clickErrs fails the next clicks in order.
	clickErrs []error
}

func newFakeDesk(det *fakeDetector, prompt, response string) *fakeDesk {
	d := &fakeDesk{
		targets:      make(map[detection.Point]string),
		editorPrompt: prompt,
		chatResponse: response,
	}
	for name, p := range det.points {
		d.targets[p] = name
	}
	return d
}

func (d *fakeDesk) Focus(_ context.Context, title string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.focused = title
	d.actions = append(d.actions, "focus "+title)
	return nil
}

func (d *fakeDesk) Click(_ context.Context, p detection.Point) error {
	d.mu.Lock()
	if len(d.clickErrs) > 0 {
		err := d.clickErrs[0]
		d.clickErrs = d.clickErrs[1:]
		d.mu.Unlock()
		return err
	}
	name := d.targets[p]
	d.actions = append(d.actions, "click "+name)
	switch name {
	case TargetEditorCopyButton:
		d.clipboard = d.editorPrompt
	case TargetChatCopyResponse:
		d.clipboard = d.chatResponse
	case TargetChatRunButton:
		d.chatSubmitted = d.chatInput
		d.chatInput = ""
	case TargetEditorSubmitButton:
		d.editorSubmitted = d.editorInput
		d.editorInput = ""
	}
	hook := d.onClick
	d.mu.Unlock()

	if hook != nil {
		hook(name)
	}
	return nil
}

func (d *fakeDesk) MoveTo(_ context.Context, p detection.Point) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hovered = append(d.hovered, d.targets[p])
	return nil
}

func (d *fakeDesk) TypeText(_ context.Context, s string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.actions = append(d.actions, "type "+s)
	return nil
}

func (d *fakeDesk) Hotkey(_ context.Context, keys ...string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	chord := strings.Join(keys, "+")
	d.actions = append(d.actions, "hotkey "+chord)
	if chord == "ctrl+a" {
		d.selected = true
		return nil
	}
	input := &d.chatInput
	if d.focused == "Editor" {
		input = &d.editorInput
	}
	if d.selected {
		*input = ""
		d.selected = false
	}
	*input += d.clipboard
	return nil
}

func (d *fakeDesk) ReadClipboard(context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clipboard, nil
}

func (d *fakeDesk) WriteClipboard(_ context.Context, s string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clipboard = s
	return nil
}

// recordingMetrics captures what the engine reports.
type recordingMetrics struct {
	mu         sync.Mutex
	states     []string
	failures   []string
	iterations []string
}

func (m *recordingMetrics) SetState(state string, _ int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = append(m.states, state)
}

func (m *recordingMetrics) ObserveStepFailure(state, kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, state+"/"+kind)
}

func (m *recordingMetrics) ObserveIteration(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.iterations = append(m.iterations, outcome)
}

type harness struct {
	engine      *Engine
	detector    *fakeDetector
	desk        *fakeDesk
	clock       *clock.Fake
	pause       *PauseController
	metrics     *recordingMetrics
	transitions []Transition
}

func newHarness(t *testing.T, settings Settings, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		detector: newFakeDetector(),
		clock:    clock.NewFake(epoch),
		metrics:  &recordingMetrics{},
	}
	h.desk = newFakeDesk(h.detector, "Hello", "World")
	h.pause = NewPauseController(h.clock, time.Second)

	base := []Option{
		WithClock(h.clock),
		WithMetrics(h.metrics),
		WithTransitionHook(func(from, to State) {
			h.transitions = append(h.transitions, Transition{From: from, To: to})
		}),
	}
	e, err := NewEngine(h.detector, h.desk, h.pause, settings, zaptest.NewLogger(t), append(base, opts...)...)
	require.NoError(t, err)
	h.engine = e
	return h
}

// backoffSleeps filters out settle and pause sleeps.
func (h *harness) backoffSleeps() []time.Duration {
	var out []time.Duration
	for _, d := range h.clock.Sleeps() {
		if d >= 2*time.Second {
			out = append(out, d)
		}
	}
	return out
}

var happyPath = []Transition{
	{StateIdle, StateCopyingPrompt},
	{StateCopyingPrompt, StateSendingPrompt},
	{StateSendingPrompt, StateAwaitingResponse},
	{StateAwaitingResponse, StateCopyingResponse},
	{StateCopyingResponse, StatePastingResponse},
	{StatePastingResponse, StateIdle},
}
