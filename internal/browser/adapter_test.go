// internal/browser/adapter_test.go
package browser

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/humanrelay/internal/clock"
)

var epoch = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func TestNew_SelectsBackend(t *testing.T) {
	logger := zaptest.NewLogger(t)

	a, err := New(Config{}, logger)
	require.NoError(t, err)
	assert.IsType(t, &chromedpAdapter{}, a, "chromedp is the default backend")

	a, err = New(Config{Backend: "Playwright"}, logger)
	require.NoError(t, err)
	assert.IsType(t, &playwrightAdapter{}, a)

	_, err = New(Config{Backend: "selenium"}, logger)
	assert.ErrorContains(t, err, `unknown browser backend "selenium"`)
}

func TestConfigNormalize(t *testing.T) {
	cfg := Config{Selectors: Selectors{Response: "div.answer"}}
	cfg.normalize()
	assert.Equal(t, BackendChromedp, cfg.Backend)
	assert.Equal(t, "textarea", cfg.Selectors.Textarea)
	assert.Equal(t, "Run", cfg.Selectors.RunButtonText)
	assert.Equal(t, "div.answer", cfg.Selectors.Response)
	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.NotNil(t, cfg.Clock)
}

func TestCallsBeforeStartAreFaults(t *testing.T) {
	clk := clock.NewFake(epoch)
	for _, backend := range []string{BackendChromedp, BackendPlaywright} {
		t.Run(backend, func(t *testing.T) {
			a, err := New(Config{Backend: backend, Clock: clk, ResponseTimeout: time.Second}, zaptest.NewLogger(t))
			require.NoError(t, err)

			err = a.PasteAndRun(context.Background(), "Hello")
			require.Error(t, err)
			assert.True(t, IsFault(err))
			assert.ErrorIs(t, err, ErrNotStarted)

			_, err = a.ExtractResponse(context.Background())
			assert.True(t, IsFault(err))

			assert.NoError(t, a.Close(context.Background()), "closing an unstarted adapter is a no-op")
		})
	}
}

func TestFault(t *testing.T) {
	inner := errors.New("target closed")
	err := wrap("extract response", BackendChromedp, inner)
	assert.EqualError(t, err, "browser extract response (chromedp): target closed")
	assert.ErrorIs(t, err, inner)
	assert.Same(t, err, wrap("other", BackendPlaywright, err), "existing faults are not re-wrapped")
	assert.NoError(t, wrap("op", BackendChromedp, nil))
}

func TestRetry(t *testing.T) {
	logger := zaptest.NewLogger(t)

	t.Run("succeeds on third attempt", func(t *testing.T) {
		clk := clock.NewFake(epoch)
		calls := 0
		err := retry(context.Background(), clk, logger, "paste and run", 3, time.Second, func(context.Context) error {
			calls++
			if calls < 3 {
				return errRunButtonMissing
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
		assert.Equal(t, []time.Duration{time.Second, time.Second}, clk.Sleeps())
	})

	t.Run("gives up", func(t *testing.T) {
		clk := clock.NewFake(epoch)
		err := retry(context.Background(), clk, logger, "paste and run", 3, time.Second, func(context.Context) error {
			return errRunButtonMissing
		})
		assert.ErrorIs(t, err, errRunButtonMissing)
		assert.ErrorContains(t, err, "after 3 attempts")
		assert.Len(t, clk.Sleeps(), 2, "no sleep after the final attempt")
	})
}

// scriptedProbe replays snapshots, repeating the last one forever.
func scriptedProbe(snaps ...snapshot) func(context.Context) (snapshot, error) {
	i := 0
	return func(context.Context) (snapshot, error) {
		s := snaps[i]
		if i < len(snaps)-1 {
			i++
		}
		return s, nil
	}
}

func TestWaitForResponse(t *testing.T) {
	t.Run("waits for a new block to stabilize", func(t *testing.T) {
		clk := clock.NewFake(epoch)
		probe := scriptedProbe(
			snapshot{Count: 2, Last: "old answer"},
			snapshot{Count: 3, Last: "Wor"},
			snapshot{Count: 3, Last: "World"},
			snapshot{Count: 3, Last: "World\n"},
		)
		text, err := waitForResponse(context.Background(), clk, time.Second, time.Minute, 2, probe)
		require.NoError(t, err)
		assert.Equal(t, "World", text)
		assert.Len(t, clk.Sleeps(), 3)
	})

	t.Run("old blocks never count", func(t *testing.T) {
		clk := clock.NewFake(epoch)
		probe := scriptedProbe(snapshot{Count: 2, Last: "old answer"})
		_, err := waitForResponse(context.Background(), clk, time.Second, 5*time.Second, 2, probe)
		assert.ErrorContains(t, err, "no new response block within 5s")
		assert.Equal(t, 5*time.Second, clk.Now().Sub(epoch))
	})

	t.Run("probe failure", func(t *testing.T) {
		clk := clock.NewFake(epoch)
		boom := errors.New("session lost")
		_, err := waitForResponse(context.Background(), clk, time.Second, time.Minute, 0, func(context.Context) (snapshot, error) {
			return snapshot{}, boom
		})
		assert.ErrorIs(t, err, boom)
	})
}

func TestPageScriptsEscapeArguments(t *testing.T) {
	script, err := fillScript("textarea", "He said \"hi\"\nbye")
	require.NoError(t, err)
	assert.Contains(t, script, `document.querySelector("textarea")`)
	assert.Contains(t, script, `el.value = "He said \"hi\"\nbye";`)

	script, err = clickButtonScript("Run")
	require.NoError(t, err)
	assert.True(t, strings.Contains(script, `.includes("Run")`))

	script, err = snapshotScript("pre")
	require.NoError(t, err)
	assert.Contains(t, script, `document.querySelectorAll("pre")`)
}
