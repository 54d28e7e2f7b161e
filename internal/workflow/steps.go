// File: internal/workflow/steps.go
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/humanrelay/internal/bridge"
	"github.com/xkilldash9x/humanrelay/internal/detection"
)

var errResponseUnchanged = errors.New("clipboard still holds the prompt")

// iteration carries the data of one round trip. It is discarded when the
// iteration ends, so demotions never outlive it.
type iteration struct {
	number   int
	prompt   string
	response string
	retry    *RetryState

	// viaBrowser is set when the prompt was submitted by the adapter.
	viaBrowser  bool
	sendDemoted bool
	copyDemoted bool
}

func (e *Engine) runStep(ctx context.Context, state State, it *iteration) error {
	switch state {
	case StateCopyingPrompt:
		return e.copyPrompt(ctx, it)
	case StateSendingPrompt:
		return e.sendPrompt(ctx, it)
	case StateAwaitingResponse:
		return e.awaitResponse(ctx, it)
	case StateCopyingResponse:
		return e.copyResponse(ctx, it)
	case StatePastingResponse:
		return e.pasteResponse(ctx, it)
	default:
		return fmt.Errorf("no step for state %s", state)
	}
}

// -- Editor side --

func (e *Engine) copyPrompt(ctx context.Context, it *iteration) error {
	if err := e.focus(ctx, e.settings.EditorWindow); err != nil {
		return err
	}
	if err := e.clickTarget(ctx, TargetEditorCopyButton, e.settings.DetectionTimeout); err != nil {
		return err
	}
	text, err := e.readClipboard(ctx)
	if err != nil {
		return err
	}
	it.prompt = text
	e.logger.Debug("Prompt copied", zap.Int("iteration", it.number), zap.Int("length", len(text)))
	return nil
}

func (e *Engine) pasteResponse(ctx context.Context, it *iteration) error {
	if err := e.focus(ctx, e.settings.EditorWindow); err != nil {
		return err
	}
	if err := e.act(ctx, "write clipboard", func(actx context.Context) error {
		return e.bridge.WriteClipboard(actx, it.response)
	}); err != nil {
		return err
	}
	if err := e.clickTarget(ctx, TargetEditorTextarea, e.settings.DetectionTimeout); err != nil {
		return err
	}
	if err := e.paste(ctx); err != nil {
		return err
	}
	return e.clickTarget(ctx, TargetEditorSubmitButton, e.settings.DetectionTimeout)
}

// -- Chat side --

func (e *Engine) sendPrompt(ctx context.Context, it *iteration) error {
	if e.browser != nil && !it.sendDemoted {
		err := e.browser.PasteAndRun(ctx, it.prompt)
		if err == nil {
			it.viaBrowser = true
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		e.demote(ctx, StateSendingPrompt, err)
		it.sendDemoted = true
	}
	it.viaBrowser = false

	if err := e.focus(ctx, e.settings.ChatWindow); err != nil {
		return err
	}
	if err := e.act(ctx, "write clipboard", func(actx context.Context) error {
		return e.bridge.WriteClipboard(actx, it.prompt)
	}); err != nil {
		return err
	}
	if err := e.clickTarget(ctx, TargetChatTextarea, e.settings.DetectionTimeout); err != nil {
		return err
	}
	// A failed browser send may have left the prompt in the textarea.
	if err := e.act(ctx, "select all", func(actx context.Context) error {
		return e.bridge.Hotkey(actx, e.settings.SelectAllKeys...)
	}); err != nil {
		return err
	}
	if err := e.paste(ctx); err != nil {
		return err
	}
	return e.clickTarget(ctx, TargetChatRunButton, e.settings.DetectionTimeout)
}

func (e *Engine) awaitResponse(ctx context.Context, it *iteration) error {
	// The adapter waits for completion itself during extraction.
	if it.viaBrowser {
		return nil
	}
	if _, err := e.locate(ctx, TargetChatResponseComplete, e.settings.ResponseTimeout); err != nil {
		return err
	}
	return e.settle(ctx)
}

func (e *Engine) copyResponse(ctx context.Context, it *iteration) error {
	if it.viaBrowser && !it.copyDemoted {
		text, err := e.browser.ExtractResponse(ctx)
		if err == nil {
			it.response = text
			e.logger.Debug("Response extracted", zap.Int("iteration", it.number), zap.Int("length", len(text)))
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		e.demote(ctx, StateCopyingResponse, err)
		it.copyDemoted = true
	}
	if it.viaBrowser {
		// AwaitingResponse was skipped for the browser send.
		if _, err := e.locate(ctx, TargetChatResponseComplete, e.settings.ResponseTimeout); err != nil {
			return err
		}
		if err := e.settle(ctx); err != nil {
			return err
		}
	}

	if err := e.focus(ctx, e.settings.ChatWindow); err != nil {
		return err
	}
	if _, ok := e.settings.Targets[TargetChatResponseBlock]; ok {
		p, err := e.locate(ctx, TargetChatResponseBlock, e.settings.DetectionTimeout)
		if err != nil {
			return err
		}
		if err := e.act(ctx, "move", func(actx context.Context) error { return e.bridge.MoveTo(actx, p) }); err != nil {
			return err
		}
		if err := e.settle(ctx); err != nil {
			return err
		}
	}
	if _, ok := e.settings.Targets[TargetChatMoreOptions]; ok {
		if err := e.clickTarget(ctx, TargetChatMoreOptions, e.settings.DetectionTimeout); err != nil {
			return err
		}
	}
	if err := e.clickTarget(ctx, TargetChatCopyResponse, e.settings.DetectionTimeout); err != nil {
		return err
	}
	text, err := e.readClipboard(ctx)
	if err != nil {
		return err
	}
	if text == it.prompt {
		return bridge.Wrap("read clipboard", errResponseUnchanged)
	}
	it.response = text
	return nil
}

// -- Primitives --

func (e *Engine) demote(ctx context.Context, state State, err error) {
	e.metrics.ObserveStepFailure(state.String(), "browser")
	e.logger.Warn("Browser automation failed, falling back to UI automation",
		zap.Stringer("state", state), zap.Error(err))
	e.notify(ctx, "Relay fallback", "Browser automation failed, falling back to UI automation")
}

// act runs one bridge call under its own timeout. The call is detached from
// ctx so cancellation never interrupts an action halfway.
func (e *Engine) act(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.settings.ActionTimeout)
	defer cancel()
	return bridge.Wrap(op, fn(actx))
}

func (e *Engine) settle(ctx context.Context) error {
	return e.clock.Sleep(ctx, e.settings.OperationDelay)
}

func (e *Engine) focus(ctx context.Context, title string) error {
	if err := e.act(ctx, "focus", func(actx context.Context) error { return e.bridge.Focus(actx, title) }); err != nil {
		return err
	}
	return e.settle(ctx)
}

func (e *Engine) paste(ctx context.Context) error {
	if err := e.act(ctx, "paste", func(actx context.Context) error {
		return e.bridge.Hotkey(actx, e.settings.PasteKeys...)
	}); err != nil {
		return err
	}
	return e.settle(ctx)
}

func (e *Engine) readClipboard(ctx context.Context) (string, error) {
	var text string
	err := e.act(ctx, "read clipboard", func(actx context.Context) error {
		var err error
		text, err = e.bridge.ReadClipboard(actx)
		return err
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", bridge.Wrap("read clipboard", bridge.ErrClipboardEmpty)
	}
	return text, nil
}

func (e *Engine) clickTarget(ctx context.Context, name string, timeout time.Duration) error {
	p, err := e.locate(ctx, name, timeout)
	if err != nil {
		return err
	}
	if err := e.act(ctx, "click", func(actx context.Context) error { return e.bridge.Click(actx, p) }); err != nil {
		return err
	}
	return e.settle(ctx)
}

// locate turns a not-found result into a *detection.MissError.
func (e *Engine) locate(ctx context.Context, name string, timeout time.Duration) (detection.Point, error) {
	target := e.settings.Targets[name]
	res, err := e.detector.Detect(ctx, target, timeout, e.settings.PollInterval)
	if err != nil {
		return detection.Point{}, err
	}
	if !res.Found {
		return detection.Point{}, &detection.MissError{Target: name, Timeout: timeout, Sweeps: res.Sweeps}
	}
	e.logger.Debug("Target located",
		zap.String("target", name),
		zap.Stringer("strategy", res.Strategy),
		zap.Float64("confidence", res.Confidence),
		zap.Stringer("at", res.Location))
	return res.Location, nil
}
