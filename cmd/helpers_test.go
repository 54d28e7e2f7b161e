// File: cmd/helpers_test.go
package cmd

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/draw"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/humanrelay/internal/config"
	"github.com/xkilldash9x/humanrelay/internal/detection"
	"github.com/xkilldash9x/humanrelay/internal/workflow"
)

// executeRoot runs a fresh command tree and returns its combined output.
func executeRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// testConfig returns a config whose targets are all white pixel probes.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.WindowTitles.Editor = "Editor"
	cfg.WindowTitles.Chat = "Chat"
	cfg.Timeouts.Detection = 50 * time.Millisecond
	cfg.Detection.PollInterval = 10 * time.Millisecond
	cfg.Delays.Operation = time.Millisecond
	cfg.Hotkey.Stdin = false
	cfg.Hotkey.Global = ""
	cfg.Hotkey.PIDFile = filepath.Join(t.TempDir(), "relay.pid")
	x, y := 10, 10
	cfg.Targets = make(map[string]config.TargetConfig)
	for _, name := range workflow.RequiredTargets {
		cfg.Targets[name] = config.TargetConfig{
			Pixels: []config.PixelConfig{{X: &x, Y: &y, Color: []int{255, 255, 255}, Tolerance: 10}},
		}
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

// fakeScreen serves one solid-color frame and records desktop calls.
type fakeScreen struct {
	mu         sync.Mutex
	fill       color.Color
	captureErr error
	focused    []string
	captures   int
}

func newFakeScreen(c color.Color) *fakeScreen { return &fakeScreen{fill: c} }

func (s *fakeScreen) Capture(context.Context) (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.captures++
	if s.captureErr != nil {
		return nil, s.captureErr
	}
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: s.fill}, image.Point{}, draw.Src)
	return img, nil
}

func (s *fakeScreen) SyncPointer(context.Context) error { return nil }

func (s *fakeScreen) Focus(_ context.Context, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.focused = append(s.focused, title)
	return nil
}

func (s *fakeScreen) Click(context.Context, detection.Point) error   { return nil }
func (s *fakeScreen) MoveTo(context.Context, detection.Point) error  { return nil }
func (s *fakeScreen) TypeText(context.Context, string) error         { return nil }
func (s *fakeScreen) Hotkey(context.Context, ...string) error        { return nil }
func (s *fakeScreen) ReadClipboard(context.Context) (string, error) { return "", nil }
func (s *fakeScreen) WriteClipboard(context.Context, string) error   { return nil }

// stubGlobal counts registrations of the global pause chord.
type stubGlobal struct {
	mu         sync.Mutex
	registered int
	released   int
	pressed    chan struct{}
}

func (g *stubGlobal) Register() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.registered++
	return nil
}

func (g *stubGlobal) Unregister() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.released++
	return nil
}

func (g *stubGlobal) Pressed() <-chan struct{} { return g.pressed }

func (g *stubGlobal) counts() (int, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.registered, g.released
}

// recordingNotifier keeps every notification title.
type recordingNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (n *recordingNotifier) Notify(_ context.Context, title, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.titles = append(n.titles, title)
	return nil
}

func (n *recordingNotifier) seen() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.titles...)
}
