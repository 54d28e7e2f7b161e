// File: internal/detection/target.go
package detection

import (
	"fmt"
	"image"
	"image/color"
)

// DefaultThreshold is the confidence a strategy must reach when a target does
// not declare its own threshold.
const DefaultThreshold = 0.7

// DefaultPixelTolerance is the per-channel tolerance applied to probes that
// do not declare one.
const DefaultPixelTolerance = 10

// Strategy identifies one of the three detection methods. The set is closed:
// the engine evaluates them in the fixed order Template, OCR, Pixel.
type Strategy int

const (
	StrategyNone Strategy = iota
	StrategyTemplate
	StrategyOCR
	StrategyPixel
)

func (s Strategy) String() string {
	switch s {
	case StrategyTemplate:
		return "template"
	case StrategyOCR:
		return "ocr"
	case StrategyPixel:
		return "pixel"
	default:
		return "none"
	}
}

// Point is an absolute screen coordinate.
type Point struct {
	X int
	Y int
}

func (p Point) String() string { return fmt.Sprintf("(%d,%d)", p.X, p.Y) }

// Region is an axis-aligned screen rectangle.
type Region struct {
	Left   int
	Top    int
	Width  int
	Height int
}

// Center returns the midpoint of the region, rounded down like the
// integer division used when clicking the center of a box.
func (r Region) Center() Point {
	return Point{X: r.Left + r.Width/2, Y: r.Top + r.Height/2}
}

// Rect converts the region into an image.Rectangle.
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.Left, r.Top, r.Left+r.Width, r.Top+r.Height)
}

// Empty reports whether the region covers no pixels.
func (r Region) Empty() bool { return r.Width <= 0 || r.Height <= 0 }

func regionFromRect(r image.Rectangle) Region {
	return Region{Left: r.Min.X, Top: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

// PixelProbe is one color heuristic. Exactly one of Point or Region is set:
// a point compares a single pixel, a region compares its average color.
type PixelProbe struct {
	Point     *Point
	Region    *Region
	Color     color.RGBA
	Tolerance int
}

// Target describes a UI element to locate. Any combination of descriptors
// may be present; the engine only runs the strategies a target declares.
type Target struct {
	Name string

	// TemplatePath is the reference image for template matching.
	TemplatePath string

	// Text is the OCR pattern, matched case-insensitively.
	Text     string
	Language string

	// SearchRegion restricts template and OCR matching to part of the
	// screen. Nil means the full screen.
	SearchRegion *Region

	Pixels []PixelProbe

	// Threshold is the minimum confidence a strategy must reach.
	Threshold float64
}

// Strategies returns the strategies this target declares, in fallback order.
func (t Target) Strategies() []Strategy {
	out := make([]Strategy, 0, 3)
	if t.TemplatePath != "" {
		out = append(out, StrategyTemplate)
	}
	if t.Text != "" {
		out = append(out, StrategyOCR)
	}
	if len(t.Pixels) > 0 {
		out = append(out, StrategyPixel)
	}
	return out
}

// Result is the immutable outcome of one Detect call.
type Result struct {
	Found bool
	// Location is the point to act on. Only meaningful when Found.
	Location Point
	// Region is the matched box. Pixel point probes yield a 1x1 region.
	Region     Region
	Confidence float64
	Strategy   Strategy
	// Sweeps is the number of complete fallback-chain passes performed.
	Sweeps int
}

// candidate is what a single strategy reports for a single sweep.
type candidate struct {
	located    bool
	region     Region
	confidence float64
}
