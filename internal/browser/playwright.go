// internal/browser/playwright.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"
)

const playwrightInstallTimeout = 5 * time.Minute

// playwrightAdapter drives the chat page through the Playwright driver.
type playwrightAdapter struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	pw       *playwright.Playwright
	browser  playwright.Browser
	page     playwright.Page
	baseline int
}

func newPlaywrightAdapter(cfg Config, logger *zap.Logger) *playwrightAdapter {
	return &playwrightAdapter{cfg: cfg, logger: logger.Named("browser.playwright")}
}

func (a *playwrightAdapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.page != nil {
		return nil
	}

	// 1. Ensure the driver and Chromium are installed.
	if err := a.ensureInstallation(ctx); err != nil {
		return wrap("start", BackendPlaywright, err)
	}

	// 2. Start the driver.
	pw, err := playwright.Run()
	if err != nil {
		return wrap("start", BackendPlaywright, fmt.Errorf("failed to start playwright driver: %w", err))
	}

	// 3. Launch Chromium and open the chat page.
	browser, err := pw.Chromium.Launch(a.launchOptions())
	if err != nil {
		_ = pw.Stop()
		return wrap("start", BackendPlaywright, fmt.Errorf("failed to launch browser instance: %w", err))
	}
	page, err := browser.NewPage()
	if err == nil {
		_, err = page.Goto(a.cfg.URL, playwright.PageGotoOptions{Timeout: playwright.Float(ms(startTimeout))})
	}
	if err == nil {
		err = page.Locator(a.cfg.Selectors.Textarea).First().WaitFor(playwright.LocatorWaitForOptions{
			State:   playwright.WaitForSelectorStateVisible,
			Timeout: playwright.Float(ms(startTimeout)),
		})
	}
	if err != nil {
		_ = browser.Close()
		_ = pw.Stop()
		return wrap("start", BackendPlaywright, fmt.Errorf("open %s: %w", a.cfg.URL, err))
	}

	a.pw, a.browser, a.page = pw, browser, page
	a.logger.Info("Chat page opened", zap.String("url", a.cfg.URL), zap.String("browser_version", browser.Version()))
	return nil
}

func (a *playwrightAdapter) ensureInstallation(ctx context.Context) error {
	installCtx, cancel := context.WithTimeout(ctx, playwrightInstallTimeout)
	defer cancel()

	// Install blocks without a context, so it runs in its own goroutine.
	errCh := make(chan error, 1)
	go func() {
		if err := playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}}); err != nil {
			errCh <- fmt.Errorf("failed to install playwright browsers: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-installCtx.Done():
		return fmt.Errorf("timeout waiting for Playwright installation: %w", installCtx.Err())
	}
}

func (a *playwrightAdapter) launchOptions() playwright.BrowserTypeLaunchOptions {
	opts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(a.cfg.Headless),
		Args:     []string{"--disable-gpu", "--disable-dev-shm-usage"},
		Timeout:  playwright.Float(60000),
	}
	if a.cfg.ExecPath != "" {
		opts.ExecutablePath = playwright.String(a.cfg.ExecPath)
	}
	return opts
}

func (a *playwrightAdapter) currentPage() (playwright.Page, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.page == nil {
		return nil, ErrNotStarted
	}
	return a.page, nil
}

func (a *playwrightAdapter) PasteAndRun(ctx context.Context, text string) error {
	page, err := a.currentPage()
	if err != nil {
		return wrap("paste and run", BackendPlaywright, err)
	}

	err = retry(ctx, a.cfg.Clock, a.logger, "paste and run", sendAttempts, sendRetryDelay, func(ctx context.Context) error {
		snap, err := a.snapshot(ctx)
		if err != nil {
			return err
		}
		timeout := playwright.Float(ms(sendRetryDelay * 10))
		if err := page.Locator(a.cfg.Selectors.Textarea).First().Fill(text, playwright.LocatorFillOptions{Timeout: timeout}); err != nil {
			return fmt.Errorf("fill input: %w", err)
		}
		button := page.Locator("button:not([disabled])", playwright.PageLocatorOptions{
			HasText: a.cfg.Selectors.RunButtonText,
		}).First()
		if n, err := button.Count(); err != nil || n == 0 {
			return errRunButtonMissing
		}
		if err := button.Click(playwright.LocatorClickOptions{Timeout: timeout}); err != nil {
			return fmt.Errorf("click run: %w", err)
		}

		a.mu.Lock()
		a.baseline = snap.Count
		a.mu.Unlock()
		return nil
	})
	if err != nil {
		return wrap("paste and run", BackendPlaywright, err)
	}
	a.logger.Info("Prompt submitted through browser", zap.Int("chars", len(text)))
	return nil
}

func (a *playwrightAdapter) ExtractResponse(ctx context.Context) (string, error) {
	a.mu.Lock()
	baseline := a.baseline
	a.mu.Unlock()

	text, err := waitForResponse(ctx, a.cfg.Clock, a.cfg.PollInterval, a.cfg.ResponseTimeout, baseline, a.snapshot)
	if err != nil {
		return "", wrap("extract response", BackendPlaywright, err)
	}
	a.logger.Info("Response extracted through browser", zap.Int("chars", len(text)))
	return text, nil
}

func (a *playwrightAdapter) snapshot(ctx context.Context) (snapshot, error) {
	if err := ctx.Err(); err != nil {
		return snapshot{}, err
	}
	page, err := a.currentPage()
	if err != nil {
		return snapshot{}, err
	}
	texts, err := page.Locator(a.cfg.Selectors.Response).AllInnerTexts()
	if err != nil {
		return snapshot{}, err
	}
	snap := snapshot{Count: len(texts)}
	if len(texts) > 0 {
		snap.Last = texts[len(texts)-1]
	}
	return snap, nil
}

func (a *playwrightAdapter) Close(ctx context.Context) error {
	a.mu.Lock()
	pw, browser := a.pw, a.browser
	a.pw, a.browser, a.page = nil, nil, nil
	a.mu.Unlock()

	if pw == nil {
		return nil
	}
	var errs []error
	if err := browser.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := pw.Stop(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return wrap("close", BackendPlaywright, errors.Join(errs...))
	}
	a.logger.Info("Browser closed")
	return nil
}

func ms(d time.Duration) float64 { return float64(d.Milliseconds()) }
