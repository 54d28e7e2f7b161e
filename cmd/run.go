// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/humanrelay/internal/bridge"
	"github.com/xkilldash9x/humanrelay/internal/browser"
	"github.com/xkilldash9x/humanrelay/internal/config"
	"github.com/xkilldash9x/humanrelay/internal/desktop"
	"github.com/xkilldash9x/humanrelay/internal/detection"
	"github.com/xkilldash9x/humanrelay/internal/hotkey"
	"github.com/xkilldash9x/humanrelay/internal/notify"
	"github.com/xkilldash9x/humanrelay/internal/observability"
	"github.com/xkilldash9x/humanrelay/internal/workflow"
)

const adapterCloseTimeout = 10 * time.Second

// desk is the desktop surface the relay needs: input, clipboard and
// screen capture.
type desk interface {
	bridge.Bridge
	detection.Screen
	SyncPointer(ctx context.Context) error
}

// relayDeps holds the collaborators of a relay run. Zero fields are filled
// with the production implementations.
type relayDeps struct {
	desk       desk
	recognizer detection.TextRecognizer
	notifier   notify.Notifier
	newAdapter func(browser.Config, *zap.Logger) (browser.Adapter, error)
	newGlobal  func(combo string) (hotkey.GlobalHotkey, error)
	input      io.Reader
	metrics    *observability.Metrics
}

func (d *relayDeps) fill(cfg *config.Config, logger *zap.Logger) {
	if d.desk == nil {
		d.desk = desktop.New(nil, logger, desktop.Options{Humanoid: cfg.HumanoidSettings()})
	}
	if d.recognizer == nil && cfg.OCR.Enabled {
		d.recognizer = desktop.NewTesseract(nil, cfg.OCR.Command, logger)
	}
	if d.notifier == nil {
		if cfg.Notifications.Enabled {
			d.notifier = notify.Safe(notify.NewLimited(notify.NewDesktop(nil, logger), cfg.Notifications.MinInterval, logger), logger)
		} else {
			d.notifier = notify.Nop{}
		}
	}
	if d.newAdapter == nil {
		d.newAdapter = browser.New
	}
	if d.newGlobal == nil {
		d.newGlobal = hotkey.NewGlobal
	}
	if d.input == nil && cfg.Hotkey.Stdin {
		d.input = os.Stdin
	}
	if d.metrics == nil {
		d.metrics = observability.NewMetrics()
	}
}

func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Start the relay loop",
		Long: `Starts the relay loop. It runs until interrupted (Ctrl+C or SIGTERM).
Press the global hotkey (ctrl+alt+p by default), type the pause key
followed by Enter, send SIGUSR1 or use "humanrelay toggle" to pause and
resume between steps.`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationRunLog: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runRelay(ctx, cfg, observability.GetLogger(), relayDeps{})
		},
	}

	runCmd.Flags().Bool("browser", false, "drive the chat through a browser instead of the desktop UI")
	runCmd.Flags().String("backend", "", "browser backend: chromedp or playwright")
	runCmd.Flags().Bool("headless", false, "run the automated browser headless")
	runCmd.Flags().Bool("ocr", false, "enable the OCR strategy")
	runCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address")
	runCmd.Flags().Bool("stdin", true, "read the pause key from stdin")
	runCmd.Flags().String("pid-file", "", "write the process id here for the toggle command")
	return runCmd
}

// runRelay wires every component and blocks until ctx is cancelled or a
// component fails.
func runRelay(ctx context.Context, cfg *config.Config, logger *zap.Logger, deps relayDeps) error {
	deps.fill(cfg, logger)

	settings, err := cfg.WorkflowSettings()
	if err != nil {
		return err
	}

	if path := cfg.Hotkey.PIDFile; path != "" {
		if err := writePIDFile(path); err != nil {
			return err
		}
		defer func() {
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				logger.Warn("Failed to remove pid file", zap.String("path", path), zap.Error(err))
			}
		}()
	}

	// Fail fast when the session cannot be captured at all; every target
	// would otherwise time out one by one.
	if _, err := deps.desk.Capture(ctx); err != nil {
		return fmt.Errorf("screen capture unavailable: %w", err)
	}
	if err := deps.desk.SyncPointer(ctx); err != nil {
		logger.Warn("Could not read pointer position", zap.Error(err))
	}

	detOpts := []detection.Option{detection.WithRecorder(deps.metrics)}
	if cfg.OCR.Enabled && deps.recognizer != nil {
		detOpts = append(detOpts, detection.WithTextRecognizer(deps.recognizer, cfg.OCR.Language))
	}
	detector := detection.NewEngine(deps.desk, logger, detOpts...)
	if err := detector.Preload(targetList(settings.Targets)); err != nil {
		return fmt.Errorf("failed to load target assets: %w", err)
	}

	wfOpts := []workflow.Option{
		workflow.WithNotifier(deps.notifier),
		workflow.WithMetrics(deps.metrics),
	}
	if cfg.Browser.Enabled {
		if adapter := startAdapter(ctx, cfg, logger, deps); adapter != nil {
			defer func() {
				cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), adapterCloseTimeout)
				defer cancel()
				if err := adapter.Close(cctx); err != nil {
					logger.Warn("Browser adapter did not close cleanly", zap.Error(err))
				}
			}()
			wfOpts = append(wfOpts, workflow.WithBrowser(adapter))
		}
	}

	pause := workflow.NewPauseController(nil, 0)
	engine, err := workflow.NewEngine(detector, deps.desk, pause, settings, logger, wfOpts...)
	if err != nil {
		return err
	}

	hkOpts := hotkey.Options{
		Input:    deps.input,
		Key:      cfg.Hotkey.Key,
		Signals:  true,
		Debounce: cfg.Hotkey.Debounce,
	}
	if combo := cfg.Hotkey.Global; combo != "" {
		global, err := deps.newGlobal(combo)
		if err != nil {
			logger.Warn("Global hotkey disabled", zap.String("combo", combo), zap.Error(err))
		} else {
			hkOpts.Global = global
		}
	}
	listener := hotkey.New(pause, deps.notifier, logger, hkOpts)

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error { return listener.Run(gctx) })
	if addr := cfg.Metrics.ListenAddr; addr != "" {
		g.Go(func() error { return deps.metrics.Serve(gctx, addr, logger) })
	}
	g.Go(func() error {
		// The loop only returns once ctx is done; stop the others with it.
		defer stop()
		return engine.Run(gctx)
	})

	logger.Info("Relay running",
		zap.String("log_file", observability.LogFile()),
		zap.Bool("browser", cfg.Browser.Enabled),
		zap.Bool("ocr", cfg.OCR.Enabled))

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// startAdapter launches the browser adapter. A failure disables the browser
// path for the whole run; the UI path still works.
func startAdapter(ctx context.Context, cfg *config.Config, logger *zap.Logger, deps relayDeps) browser.Adapter {
	adapter, err := deps.newAdapter(cfg.AdapterConfig(), logger)
	if err == nil {
		err = adapter.Start(ctx)
		if err != nil {
			cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), adapterCloseTimeout)
			_ = adapter.Close(cctx)
			cancel()
		}
	}
	if err == nil {
		return adapter
	}

	logger.Warn("Browser automation unavailable, using UI automation only", zap.Error(err))
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if nerr := deps.notifier.Notify(nctx, "Relay fallback", "Browser automation unavailable, using UI automation"); nerr != nil {
		logger.Debug("Notification failed", zap.Error(nerr))
	}
	return nil
}

func targetList(m map[string]detection.Target) []detection.Target {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]detection.Target, 0, len(names))
	for _, name := range names {
		out = append(out, m[name])
	}
	return out
}

func writePIDFile(path string) error {
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write pid file: %w", err)
	}
	return nil
}
