// File: cmd/run_test.go
package cmd

import (
	"context"
	"errors"
	"image/color"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/humanrelay/internal/browser"
	"github.com/xkilldash9x/humanrelay/internal/hotkey"
	"github.com/xkilldash9x/humanrelay/internal/observability"
)

func TestRunRelay_CaptureFailureAborts(t *testing.T) {
	cfg := testConfig(t)
	screen := newFakeScreen(color.Black)
	screen.captureErr = errors.New("no display")

	err := runRelay(context.Background(), cfg, zaptest.NewLogger(t), relayDeps{
		desk:     screen,
		notifier: &recordingNotifier{},
		metrics:  observability.NewMetrics(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "screen capture unavailable")
	assert.NoFileExists(t, cfg.Hotkey.PIDFile, "pid file is removed on exit")
}

func TestRunRelay_BrokenTemplateAborts(t *testing.T) {
	cfg := testConfig(t)
	tc := cfg.Targets["editor_textarea"]
	tc.Template = cfg.Hotkey.PIDFile + ".missing.png"
	cfg.Targets["editor_textarea"] = tc

	err := runRelay(context.Background(), cfg, zaptest.NewLogger(t), relayDeps{
		desk:     newFakeScreen(color.Black),
		notifier: &recordingNotifier{},
		metrics:  observability.NewMetrics(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load target assets")
}

func TestRunRelay_RunsUntilCancelled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Browser.Enabled = true
	notifier := &recordingNotifier{}
	var adapterCalls int

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runRelay(ctx, cfg, zaptest.NewLogger(t), relayDeps{
			desk:     newFakeScreen(color.Black),
			notifier: notifier,
			metrics:  observability.NewMetrics(),
			newAdapter: func(browser.Config, *zap.Logger) (browser.Adapter, error) {
				adapterCalls++
				return nil, errors.New("no chrome")
			},
		})
	}()

	// The pid file appears once the relay is up.
	require.Eventually(t, func() bool {
		raw, err := os.ReadFile(cfg.Hotkey.PIDFile)
		return err == nil && strings.TrimSpace(string(raw)) == strconv.Itoa(os.Getpid())
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not stop after cancellation")
	}

	assert.Equal(t, 1, adapterCalls)
	titles := notifier.seen()
	assert.Contains(t, titles, "Relay fallback", "a failed browser start falls back to the UI path")
	assert.Contains(t, titles, "Relay stopped")
	assert.NoFileExists(t, cfg.Hotkey.PIDFile)
}

func TestRunRelay_RegistersGlobalHotkey(t *testing.T) {
	cfg := testConfig(t)
	cfg.Hotkey.Global = "ctrl+alt+p"
	global := &stubGlobal{pressed: make(chan struct{})}
	var combo string

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runRelay(ctx, cfg, zaptest.NewLogger(t), relayDeps{
			desk:     newFakeScreen(color.Black),
			notifier: &recordingNotifier{},
			metrics:  observability.NewMetrics(),
			newGlobal: func(c string) (hotkey.GlobalHotkey, error) {
				combo = c
				return global, nil
			},
		})
	}()

	require.Eventually(t, func() bool {
		registered, _ := global.counts()
		return registered == 1
	}, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not stop after cancellation")
	}
	assert.Equal(t, "ctrl+alt+p", combo)
	_, released := global.counts()
	assert.Equal(t, 1, released)
}

func TestRunRelay_UnsupportedGlobalHotkeyIsNotFatal(t *testing.T) {
	cfg := testConfig(t)
	cfg.Hotkey.Global = "ctrl+alt+p"

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := runRelay(ctx, cfg, zaptest.NewLogger(t), relayDeps{
		desk:     newFakeScreen(color.Black),
		notifier: &recordingNotifier{},
		metrics:  observability.NewMetrics(),
		newGlobal: func(string) (hotkey.GlobalHotkey, error) {
			return nil, hotkey.ErrGlobalUnsupported
		},
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded, "the relay keeps running without the chord")
}

func TestTargetList_Sorted(t *testing.T) {
	cfg := testConfig(t)
	targets, err := cfg.DetectionTargets()
	require.NoError(t, err)

	list := targetList(targets)
	require.Len(t, list, len(targets))
	for i := 1; i < len(list); i++ {
		assert.Less(t, list[i-1].Name, list[i].Name)
	}
}
