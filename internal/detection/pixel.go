// File: internal/detection/pixel.go
package detection

import (
	"context"
	"image"
	"image/color"
)

type pixelLocator struct{}

// locate evaluates probes in declaration order; the first probe whose color
// is within tolerance on every channel wins.
func (pixelLocator) locate(_ context.Context, target Target, f *frame) (candidate, error) {
	bounds := f.img.Bounds()
	for _, probe := range target.Pixels {
		var (
			actual color.RGBA
			region Region
		)
		switch {
		case probe.Point != nil:
			p := image.Pt(probe.Point.X, probe.Point.Y)
			if !p.In(bounds) {
				continue
			}
			actual = rgbaAt(f.img, p.X, p.Y)
			region = Region{Left: p.X, Top: p.Y, Width: 1, Height: 1}
		case probe.Region != nil:
			r := probe.Region.Rect().Intersect(bounds)
			if r.Empty() {
				continue
			}
			actual = averageColor(f.img, r)
			region = *probe.Region
		default:
			continue
		}

		tol := probe.Tolerance
		if tol <= 0 {
			tol = DefaultPixelTolerance
		}
		diff := maxChannelDiff(actual, probe.Color)
		if diff > tol {
			continue
		}
		return candidate{
			located:    true,
			region:     region,
			confidence: 1 - float64(diff)/255,
		}, nil
	}
	return candidate{}, nil
}

func rgbaAt(img image.Image, x, y int) color.RGBA {
	return color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
}

// averageColor returns the floored per-channel mean over r.
func averageColor(img image.Image, r image.Rectangle) color.RGBA {
	var sr, sg, sb, n int
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			c := rgbaAt(img, x, y)
			sr += int(c.R)
			sg += int(c.G)
			sb += int(c.B)
			n++
		}
	}
	if n == 0 {
		return color.RGBA{}
	}
	return color.RGBA{R: uint8(sr / n), G: uint8(sg / n), B: uint8(sb / n), A: 0xff}
}

func maxChannelDiff(a, b color.RGBA) int {
	d := absDiff(a.R, b.R)
	if g := absDiff(a.G, b.G); g > d {
		d = g
	}
	if bl := absDiff(a.B, b.B); bl > d {
		d = bl
	}
	return d
}

func absDiff(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}
