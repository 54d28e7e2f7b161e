// File: internal/detection/engine.go
package detection

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"go.uber.org/zap"
	"golang.org/x/image/draw"

	"github.com/xkilldash9x/humanrelay/internal/clock"
)

// DefaultPollInterval is used when Detect is called without a poll interval.
const DefaultPollInterval = 500 * time.Millisecond

// Screen supplies the current screen contents. Bounds of the returned image
// are absolute screen coordinates.
type Screen interface {
	Capture(ctx context.Context) (image.Image, error)
}

// Recorder receives one observation per Detect call.
type Recorder interface {
	ObserveDetection(target string, strategy Strategy, found bool, confidence float64)
}

// locator is the evaluation contract shared by the three strategies.
type locator interface {
	locate(ctx context.Context, target Target, f *frame) (candidate, error)
}

// Engine runs the fixed Template -> OCR -> Pixel fallback chain inside a
// timeout/poll loop.
type Engine struct {
	screen   Screen
	clock    clock.Clock
	logger   *zap.Logger
	recorder Recorder

	template locator
	ocr      locator
	pixel    locator

	templates *TemplateMatcher
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the clock used for polling.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithTextRecognizer enables the OCR strategy. Without it, targets that only
// declare text can never be found.
func WithTextRecognizer(r TextRecognizer, language string) Option {
	return func(e *Engine) {
		if r != nil {
			e.ocr = &ocrLocator{recognizer: r, language: language}
		}
	}
}

// WithTemplateMatcher replaces the default template matcher.
func WithTemplateMatcher(m *TemplateMatcher) Option {
	return func(e *Engine) {
		e.templates = m
		e.template = m
	}
}

// NewEngine creates a detection engine reading from screen.
func NewEngine(screen Screen, logger *zap.Logger, opts ...Option) *Engine {
	tm := NewTemplateMatcher()
	e := &Engine{
		screen:    screen,
		clock:     clock.New(),
		logger:    logger.Named("detection"),
		template:  tm,
		templates: tm,
		pixel:     pixelLocator{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Preload decodes every reference image up front so broken assets are
// reported at startup. Each failure is a *Fault; all are joined.
func (e *Engine) Preload(targets []Target) error {
	var errs []error
	for _, t := range targets {
		if t.TemplatePath == "" || e.templates == nil {
			continue
		}
		if _, err := e.templates.Load(t.TemplatePath); err != nil {
			errs = append(errs, &Fault{Target: t.Name, Strategy: StrategyTemplate, Asset: t.TemplatePath, Err: err})
		}
	}
	return errors.Join(errs...)
}

// Detect looks for target until it is found or timeout elapses. A miss is
// reported as Result{Found: false} with a nil error; the error return is
// reserved for *Fault and context cancellation.
func (e *Engine) Detect(ctx context.Context, target Target, timeout, pollInterval time.Duration) (Result, error) {
	threshold := target.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	strategies := e.applicable(target)
	if len(strategies) == 0 {
		return Result{}, &Fault{Target: target.Name, Err: errors.New("no usable detection strategy declared")}
	}

	log := e.logger.With(zap.String("target", target.Name))
	deadline := e.clock.Now().Add(timeout)
	log.Debug("Detecting target",
		zap.Duration("timeout", timeout),
		zap.Duration("poll_interval", pollInterval),
		zap.Stringers("strategies", strategies),
	)

	// best tracks the highest sub-threshold confidence for diagnostics.
	var best Result
	for sweep := 1; ; sweep++ {
		res, err := e.sweep(ctx, log, target, strategies, threshold, &best)
		if err != nil {
			return Result{Sweeps: sweep}, err
		}
		if res.Found {
			res.Sweeps = sweep
			log.Info("Target found",
				zap.Stringer("strategy", res.Strategy),
				zap.Float64("confidence", res.Confidence),
				zap.Stringer("location", res.Location),
				zap.Int("sweeps", sweep),
			)
			e.record(target.Name, res)
			return res, nil
		}

		remaining := deadline.Sub(e.clock.Now())
		if remaining <= 0 {
			best.Found = false
			best.Sweeps = sweep
			log.Warn("Target not found before timeout",
				zap.Duration("timeout", timeout),
				zap.Int("sweeps", sweep),
				zap.Stringer("best_strategy", best.Strategy),
				zap.Float64("best_confidence", best.Confidence),
			)
			e.record(target.Name, best)
			return best, nil
		}

		wait := pollInterval
		if remaining < wait {
			wait = remaining
		}
		if err := e.clock.Sleep(ctx, wait); err != nil {
			return Result{Sweeps: sweep}, err
		}
	}
}

// sweep runs one pass of the fallback chain against a fresh capture.
func (e *Engine) sweep(ctx context.Context, log *zap.Logger, target Target, strategies []Strategy, threshold float64, best *Result) (Result, error) {
	img, err := e.screen.Capture(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		log.Warn("Screen capture failed, treating sweep as a miss", zap.Error(err))
		return Result{}, nil
	}
	f := &frame{img: img}

	for _, s := range strategies {
		cand, err := e.evaluate(ctx, s, target, f)
		if err != nil {
			var fault *Fault
			if errors.As(err, &fault) {
				return Result{}, err
			}
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			log.Warn("Strategy failed, falling through", zap.Stringer("strategy", s), zap.Error(err))
			continue
		}
		if !cand.located {
			log.Debug("Strategy did not locate target", zap.Stringer("strategy", s))
			continue
		}
		if cand.confidence >= threshold {
			return Result{
				Found:      true,
				Location:   cand.region.Center(),
				Region:     cand.region,
				Confidence: cand.confidence,
				Strategy:   s,
			}, nil
		}
		log.Debug("Strategy below threshold",
			zap.Stringer("strategy", s),
			zap.Float64("confidence", cand.confidence),
			zap.Float64("threshold", threshold),
		)
		if cand.confidence > best.Confidence {
			*best = Result{Region: cand.region, Location: cand.region.Center(), Confidence: cand.confidence, Strategy: s}
		}
	}
	return Result{}, nil
}

// evaluate dispatches on the closed strategy set.
func (e *Engine) evaluate(ctx context.Context, s Strategy, target Target, f *frame) (candidate, error) {
	switch s {
	case StrategyTemplate:
		return e.template.locate(ctx, target, f)
	case StrategyOCR:
		return e.ocr.locate(ctx, target, f)
	case StrategyPixel:
		return e.pixel.locate(ctx, target, f)
	default:
		return candidate{}, fmt.Errorf("unknown strategy %d", int(s))
	}
}

// applicable filters the target's declared strategies by what this engine
// can run. OCR is dropped when no recognizer is configured.
func (e *Engine) applicable(target Target) []Strategy {
	declared := target.Strategies()
	out := declared[:0:0]
	for _, s := range declared {
		if s == StrategyOCR && e.ocr == nil {
			continue
		}
		out = append(out, s)
	}
	return out
}

func (e *Engine) record(target string, res Result) {
	if e.recorder != nil {
		e.recorder.ObserveDetection(target, res.Strategy, res.Found, res.Confidence)
	}
}

// -- Frame --

// frame is one screen capture shared by every strategy of a sweep. The gray
// conversion is computed at most once.
type frame struct {
	img  image.Image
	gray *image.Gray
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// within returns the part of the capture inside r, or the full capture when
// r is nil. It returns nil when r lies outside the capture.
func (f *frame) within(r *Region) image.Image {
	if r == nil {
		return f.img
	}
	rect := r.Rect().Intersect(f.img.Bounds())
	if rect.Empty() {
		return nil
	}
	if s, ok := f.img.(subImager); ok {
		return s.SubImage(rect)
	}
	dst := image.NewRGBA(rect)
	draw.Draw(dst, rect, f.img, rect.Min, draw.Src)
	return dst
}

func (f *frame) grayWithin(r *Region) *image.Gray {
	if f.gray == nil {
		f.gray = toGray(f.img)
	}
	if r == nil {
		return f.gray
	}
	rect := r.Rect().Intersect(f.gray.Rect)
	if rect.Empty() {
		return nil
	}
	return f.gray.SubImage(rect).(*image.Gray)
}
