// File: internal/detection/template.go
package detection

import (
	"context"
	"fmt"
	"image"
	"io"
	"math"
	"os"
	"sort"
	"sync"

	// Registered decoders for reference images.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	// coarseMinSide is the smallest template side we accept after downscaling.
	// Below this the coarse correlation peak stops being meaningful.
	coarseMinSide = 8
	// maxCoarseFactor bounds the pyramid so small UI elements survive.
	maxCoarseFactor = 4
	// coarsePeaks is how many coarse candidates get refined at full resolution.
	coarsePeaks = 3

	varianceEpsilon = 1e-6
)

// TemplateMatcher locates reference images on a screen capture using
// normalized cross-correlation. Decoded references are cached by path.
type TemplateMatcher struct {
	mu    sync.Mutex
	cache map[string]*image.Gray

	// open is swapped in tests.
	open func(path string) (io.ReadCloser, error)
}

// NewTemplateMatcher creates a matcher reading assets from the filesystem.
func NewTemplateMatcher() *TemplateMatcher {
	return &TemplateMatcher{
		cache: make(map[string]*image.Gray),
		open:  func(path string) (io.ReadCloser, error) { return os.Open(path) },
	}
}

// Load decodes and caches the reference image at path. Failures are not
// cached, so a repaired asset is picked up on the next attempt.
func (m *TemplateMatcher) Load(path string) (*image.Gray, error) {
	m.mu.Lock()
	if g, ok := m.cache[path]; ok {
		m.mu.Unlock()
		return g, nil
	}
	m.mu.Unlock()

	f, err := m.open(path)
	if err != nil {
		return nil, fmt.Errorf("open reference image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode reference image: %w", err)
	}
	g := toGray(img)
	if g.Rect.Dx() == 0 || g.Rect.Dy() == 0 {
		return nil, fmt.Errorf("reference image %s is empty", path)
	}

	m.mu.Lock()
	m.cache[path] = g
	m.mu.Unlock()
	return g, nil
}

func (m *TemplateMatcher) locate(ctx context.Context, target Target, f *frame) (candidate, error) {
	tmpl, err := m.Load(target.TemplatePath)
	if err != nil {
		return candidate{}, &Fault{Target: target.Name, Strategy: StrategyTemplate, Asset: target.TemplatePath, Err: err}
	}

	screen := f.grayWithin(target.SearchRegion)
	if screen == nil {
		return candidate{}, nil
	}

	pos, score, ok, err := matchTemplate(ctx, screen, tmpl)
	if err != nil || !ok {
		return candidate{}, err
	}

	box := image.Rectangle{Min: pos, Max: pos.Add(tmpl.Rect.Size())}.Add(screen.Rect.Min)
	return candidate{
		located:    true,
		region:     regionFromRect(box),
		confidence: math.Max(0, math.Min(1, score)),
	}, nil
}

// -- Correlation --

// grayView is a zero-copy window over an *image.Gray, addressed from (0,0).
type grayView struct {
	pix    []uint8
	stride int
	w, h   int
}

func viewOf(g *image.Gray) grayView {
	r := g.Rect
	if r.Empty() {
		return grayView{}
	}
	return grayView{
		pix:    g.Pix[g.PixOffset(r.Min.X, r.Min.Y):],
		stride: g.Stride,
		w:      r.Dx(),
		h:      r.Dy(),
	}
}

func (v grayView) at(x, y int) float64 { return float64(v.pix[y*v.stride+x]) }

// integral holds summed-area tables of intensity and squared intensity.
type integral struct {
	w, h    int
	sum, sq []float64
}

func newIntegral(v grayView) *integral {
	in := &integral{w: v.w, h: v.h}
	n := (v.w + 1) * (v.h + 1)
	in.sum = make([]float64, n)
	in.sq = make([]float64, n)
	for y := 0; y < v.h; y++ {
		var rowSum, rowSq float64
		for x := 0; x < v.w; x++ {
			p := v.at(x, y)
			rowSum += p
			rowSq += p * p
			i := (y+1)*(v.w+1) + x + 1
			above := y*(v.w+1) + x + 1
			in.sum[i] = in.sum[above] + rowSum
			in.sq[i] = in.sq[above] + rowSq
		}
	}
	return in
}

func (in *integral) rect(x, y, w, h int) (sum, sq float64) {
	stride := in.w + 1
	a := y*stride + x
	b := y*stride + x + w
	c := (y+h)*stride + x
	d := (y+h)*stride + x + w
	return in.sum[d] - in.sum[b] - in.sum[c] + in.sum[a], in.sq[d] - in.sq[b] - in.sq[c] + in.sq[a]
}

// prepared is a template reduced to its zero-mean form.
type prepared struct {
	view  grayView
	zero  []float64
	norm  float64
	mean  float64
	count float64
}

func prepare(t grayView) prepared {
	n := float64(t.w * t.h)
	var total float64
	for y := 0; y < t.h; y++ {
		for x := 0; x < t.w; x++ {
			total += t.at(x, y)
		}
	}
	mean := total / n
	zero := make([]float64, t.w*t.h)
	var norm float64
	for y := 0; y < t.h; y++ {
		for x := 0; x < t.w; x++ {
			d := t.at(x, y) - mean
			zero[y*t.w+x] = d
			norm += d * d
		}
	}
	return prepared{view: t, zero: zero, norm: norm, mean: mean, count: n}
}

// score computes the correlation coefficient of the template placed at (x,y).
func (p prepared) score(s grayView, in *integral, x, y int) float64 {
	sum, sq := in.rect(x, y, p.view.w, p.view.h)
	variance := sq - sum*sum/p.count

	if p.norm < varianceEpsilon {
		// Flat template: correlation is undefined, compare mean and spread.
		mean := sum / p.count
		spread := math.Sqrt(math.Max(variance, 0) / p.count)
		return 1 - (math.Abs(mean-p.mean)+spread)/255
	}
	if variance < varianceEpsilon {
		return 0
	}

	var num float64
	for j := 0; j < p.view.h; j++ {
		row := (y+j)*s.stride + x
		tRow := j * p.view.w
		for i := 0; i < p.view.w; i++ {
			num += float64(s.pix[row+i]) * p.zero[tRow+i]
		}
	}
	return num / math.Sqrt(p.norm*variance)
}

type peak struct {
	pos   image.Point
	score float64
}

// search evaluates every placement inside window (in placement coordinates)
// and returns up to k best peaks, best first.
func search(ctx context.Context, s grayView, in *integral, p prepared, window image.Rectangle, k int) ([]peak, error) {
	var peaks []peak
	for y := window.Min.Y; y < window.Max.Y; y++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for x := window.Min.X; x < window.Max.X; x++ {
			sc := p.score(s, in, x, y)
			if len(peaks) < k || sc > peaks[len(peaks)-1].score {
				peaks = insertPeak(peaks, peak{pos: image.Pt(x, y), score: sc}, k)
			}
		}
	}
	return peaks, nil
}

func insertPeak(peaks []peak, pk peak, k int) []peak {
	peaks = append(peaks, pk)
	sort.SliceStable(peaks, func(i, j int) bool { return peaks[i].score > peaks[j].score })
	if len(peaks) > k {
		peaks = peaks[:k]
	}
	return peaks
}

// matchTemplate finds the best placement of tmpl inside screen. Placement is
// relative to screen.Rect.Min. ok is false when the template does not fit.
func matchTemplate(ctx context.Context, screen, tmpl *image.Gray) (image.Point, float64, bool, error) {
	sv, tv := viewOf(screen), viewOf(tmpl)
	if tv.w == 0 || tv.h == 0 || tv.w > sv.w || tv.h > sv.h {
		return image.Point{}, 0, false, nil
	}
	full := image.Rect(0, 0, sv.w-tv.w+1, sv.h-tv.h+1)
	sInt := newIntegral(sv)
	tp := prepare(tv)

	factor := coarseFactor(tv.w, tv.h)
	if factor == 1 {
		peaks, err := search(ctx, sv, sInt, tp, full, 1)
		if err != nil || len(peaks) == 0 {
			return image.Point{}, 0, false, err
		}
		return peaks[0].pos, peaks[0].score, true, nil
	}

	// Coarse pass on downscaled copies.
	cs, ct := downscale(screen, factor), downscale(tmpl, factor)
	csv, ctv := viewOf(cs), viewOf(ct)
	coarse, err := search(ctx, csv, newIntegral(csv), prepare(ctv),
		image.Rect(0, 0, csv.w-ctv.w+1, csv.h-ctv.h+1), coarsePeaks)
	if err != nil {
		return image.Point{}, 0, false, err
	}
	if len(coarse) == 0 {
		// Rounding left no coarse placement; the template barely fits.
		peaks, err := search(ctx, sv, sInt, tp, full, 1)
		if err != nil || len(peaks) == 0 {
			return image.Point{}, 0, false, err
		}
		return peaks[0].pos, peaks[0].score, true, nil
	}

	// Fine pass around each coarse peak at full resolution.
	best := peak{score: math.Inf(-1)}
	radius := factor * 2
	for _, c := range coarse {
		center := c.pos.Mul(factor)
		window := image.Rect(center.X-radius, center.Y-radius, center.X+radius+1, center.Y+radius+1).Intersect(full)
		if window.Empty() {
			continue
		}
		fine, err := search(ctx, sv, sInt, tp, window, 1)
		if err != nil {
			return image.Point{}, 0, false, err
		}
		if len(fine) > 0 && fine[0].score > best.score {
			best = fine[0]
		}
	}
	if math.IsInf(best.score, -1) {
		return image.Point{}, 0, false, nil
	}
	return best.pos, best.score, true, nil
}

func coarseFactor(w, h int) int {
	side := w
	if h < side {
		side = h
	}
	f := side / coarseMinSide
	if f > maxCoarseFactor {
		f = maxCoarseFactor
	}
	if f < 1 {
		f = 1
	}
	return f
}

// -- Image helpers --

func toGray(src image.Image) *image.Gray {
	if g, ok := src.(*image.Gray); ok {
		return g
	}
	b := src.Bounds()
	g := image.NewGray(b)
	draw.Draw(g, b, src, b.Min, draw.Src)
	return g
}

func downscale(src *image.Gray, factor int) *image.Gray {
	b := src.Bounds()
	w, h := b.Dx()/factor, b.Dy()/factor
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	dst := image.NewGray(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}
