// internal/browser/chromedp.go
package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// chromedpAdapter drives a Chrome tab over the DevTools protocol.
type chromedpAdapter struct {
	cfg    Config
	logger *zap.Logger

	mu          sync.Mutex
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc
	baseline    int
}

func newChromedpAdapter(cfg Config, logger *zap.Logger) *chromedpAdapter {
	return &chromedpAdapter{cfg: cfg, logger: logger.Named("browser.chromedp")}
}

func (a *chromedpAdapter) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", a.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(1280, 900),
	)
	if a.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(a.cfg.ExecPath))
	}
	return opts
}

// Start launches the browser and opens the chat page. The tab outlives ctx;
// only Close tears it down.
func (a *chromedpAdapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.tabCtx != nil {
		return nil
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), a.allocatorOptions()...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(a.logger.Sugar().Debugf))

	startCtx, cancel := context.WithTimeout(tabCtx, startTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(startCtx,
		chromedp.Navigate(a.cfg.URL),
		chromedp.WaitVisible(a.cfg.Selectors.Textarea, chromedp.ByQuery),
	)
	if err != nil {
		tabCancel()
		allocCancel()
		return wrap("start", BackendChromedp, fmt.Errorf("open %s: %w", a.cfg.URL, err))
	}

	a.tabCtx, a.tabCancel, a.allocCancel = tabCtx, tabCancel, allocCancel
	a.logger.Info("Chat page opened", zap.String("url", a.cfg.URL), zap.Bool("headless", a.cfg.Headless))
	return nil
}

// run executes actions on the tab, aborting when ctx is done.
func (a *chromedpAdapter) run(ctx context.Context, actions ...chromedp.Action) error {
	a.mu.Lock()
	tab := a.tabCtx
	a.mu.Unlock()
	if tab == nil {
		return ErrNotStarted
	}
	opCtx, cancel := context.WithCancel(tab)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(opCtx, actions...)
}

func (a *chromedpAdapter) evaluate(ctx context.Context, script string, res interface{}) error {
	return a.run(ctx, chromedp.Evaluate(script, res, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}))
}

func (a *chromedpAdapter) PasteAndRun(ctx context.Context, text string) error {
	err := retry(ctx, a.cfg.Clock, a.logger, "paste and run", sendAttempts, sendRetryDelay, func(ctx context.Context) error {
		snap, err := a.snapshot(ctx)
		if err != nil {
			return err
		}

		script, err := fillScript(a.cfg.Selectors.Textarea, text)
		if err != nil {
			return err
		}
		var filled bool
		if err := a.evaluate(ctx, script, &filled); err != nil {
			return fmt.Errorf("fill input: %w", err)
		}
		if !filled {
			return fmt.Errorf("input %q not found", a.cfg.Selectors.Textarea)
		}

		script, err = clickButtonScript(a.cfg.Selectors.RunButtonText)
		if err != nil {
			return err
		}
		var clicked bool
		if err := a.evaluate(ctx, script, &clicked); err != nil {
			return fmt.Errorf("click run: %w", err)
		}
		if !clicked {
			return errRunButtonMissing
		}

		a.mu.Lock()
		a.baseline = snap.Count
		a.mu.Unlock()
		return nil
	})
	if err != nil {
		return wrap("paste and run", BackendChromedp, err)
	}
	a.logger.Info("Prompt submitted through browser", zap.Int("chars", len(text)))
	return nil
}

func (a *chromedpAdapter) ExtractResponse(ctx context.Context) (string, error) {
	a.mu.Lock()
	baseline := a.baseline
	a.mu.Unlock()

	text, err := waitForResponse(ctx, a.cfg.Clock, a.cfg.PollInterval, a.cfg.ResponseTimeout, baseline, a.snapshot)
	if err != nil {
		return "", wrap("extract response", BackendChromedp, err)
	}
	a.logger.Info("Response extracted through browser", zap.Int("chars", len(text)))
	return text, nil
}

func (a *chromedpAdapter) snapshot(ctx context.Context) (snapshot, error) {
	script, err := snapshotScript(a.cfg.Selectors.Response)
	if err != nil {
		return snapshot{}, err
	}
	var snap snapshot
	if err := a.evaluate(ctx, script, &snap); err != nil {
		return snapshot{}, err
	}
	return snap, nil
}

func (a *chromedpAdapter) Close(ctx context.Context) error {
	a.mu.Lock()
	tabCancel, allocCancel := a.tabCancel, a.allocCancel
	a.tabCtx, a.tabCancel, a.allocCancel = nil, nil, nil
	a.mu.Unlock()

	if tabCancel == nil {
		return nil
	}
	tabCancel()
	allocCancel()
	a.logger.Info("Browser closed")
	return nil
}

// -- Page scripts --

func jsString(s string) (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encode script argument: %w", err)
	}
	return string(b), nil
}

// fillScript sets the input value and fires the input event frameworks
// listen for. It evaluates to false when the input is missing.
func fillScript(selector, text string) (string, error) {
	sel, err := jsString(selector)
	if err != nil {
		return "", err
	}
	val, err := jsString(text)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`(() => {
	const el = document.querySelector(%s);
	if (!el) return false;
	el.focus();
	el.value = %s;
	el.dispatchEvent(new Event('input', { bubbles: true }));
	el.dispatchEvent(new Event('change', { bubbles: true }));
	return true;
})()`, sel, val), nil
}

// clickButtonScript clicks the first enabled button whose text contains label.
func clickButtonScript(label string) (string, error) {
	l, err := jsString(label)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`(() => {
	for (const btn of document.querySelectorAll('button')) {
		if (btn.disabled) continue;
		if ((btn.innerText || '').includes(%s)) { btn.click(); return true; }
	}
	return false;
})()`, l), nil
}

func snapshotScript(selector string) (string, error) {
	sel, err := jsString(selector)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`(() => {
	const blocks = document.querySelectorAll(%s);
	const last = blocks.length ? (blocks[blocks.length - 1].innerText || '') : '';
	return { count: blocks.length, last: last };
})()`, sel), nil
}
