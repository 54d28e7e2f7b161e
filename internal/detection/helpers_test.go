// File: internal/detection/helpers_test.go
package detection

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// -- Synthetic screens --

// blockyImage fills a w x h canvas with 6x6 blocks of seeded random gray
// levels. Blocks keep the pattern distinctive after downscaling.
func blockyImage(w, h int, seed int64) *image.RGBA {
	rng := rand.New(rand.NewSource(seed))
	const block = 6
	bw, bh := w/block+1, h/block+1
	levels := make([]uint8, bw*bh)
	for i := range levels {
		levels[i] = uint8(rng.Intn(256))
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := levels[(y/block)*bw+x/block]
			img.SetRGBA(x, y, color.RGBA{R: v, G: v, B: v, A: 0xff})
		}
	}
	return img
}

func solidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

// crop copies r out of src into a new image anchored at the origin.
func crop(src *image.RGBA, r image.Rectangle) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	for y := 0; y < r.Dy(); y++ {
		for x := 0; x < r.Dx(); x++ {
			dst.SetRGBA(x, y, src.RGBAAt(r.Min.X+x, r.Min.Y+y))
		}
	}
	return dst
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// matcherWithAssets returns a TemplateMatcher whose filesystem is the
// provided map of path to encoded bytes.
func matcherWithAssets(assets map[string][]byte) *TemplateMatcher {
	m := NewTemplateMatcher()
	m.open = func(path string) (io.ReadCloser, error) {
		data, ok := assets[path]
		if !ok {
			return nil, errors.New("no such file")
		}
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	return m
}

// -- Fakes --

type fakeScreen struct {
	mu    sync.Mutex
	img   image.Image
	errs  []error
	calls int
}

func (s *fakeScreen) Capture(ctx context.Context) (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return s.img, nil
}

func (s *fakeScreen) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeRecognizer struct {
	mu        sync.Mutex
	words     []Word
	err       error
	calls     int
	languages []string
	bounds    []image.Rectangle
}

func (r *fakeRecognizer) Recognize(_ context.Context, img image.Image, language string) ([]Word, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.languages = append(r.languages, language)
	r.bounds = append(r.bounds, img.Bounds())
	return r.words, r.err
}

func (r *fakeRecognizer) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type observation struct {
	target     string
	strategy   Strategy
	found      bool
	confidence float64
}

type fakeRecorder struct {
	observations []observation
}

func (r *fakeRecorder) ObserveDetection(target string, strategy Strategy, found bool, confidence float64) {
	r.observations = append(r.observations, observation{target, strategy, found, confidence})
}
