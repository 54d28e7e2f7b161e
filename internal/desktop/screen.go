// File: internal/desktop/screen.go
package desktop

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/kbinani/screenshot"
)

// Grabber captures the whole virtual screen.
type Grabber interface {
	Grab() (*image.RGBA, error)
}

// displayGrabber captures the union of all active displays. On X11 it talks
// to the server directly, without cgo or helper binaries.
type displayGrabber struct{}

func (displayGrabber) Grab() (*image.RGBA, error) {
	n := screenshot.NumActiveDisplays()
	if n == 0 {
		return nil, errors.New("no active display")
	}
	var bounds image.Rectangle
	for i := 0; i < n; i++ {
		bounds = bounds.Union(screenshot.GetDisplayBounds(i))
	}
	return screenshot.CaptureRect(bounds)
}

// Capture grabs the screen. The returned image is anchored at (0,0), which
// is the screen origin.
func (d *Desktop) Capture(ctx context.Context) (image.Image, error) {
	var img *image.RGBA
	err := withContext(ctx, func() error {
		var err error
		img, err = d.grabber.Grab()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("capture screen: %w", err)
	}
	if img == nil || img.Bounds().Empty() {
		return nil, errors.New("capture screen: empty frame")
	}
	if origin := img.Bounds().Min; origin != (image.Point{}) {
		// Detection reads coordinates straight from the frame.
		shifted := *img
		shifted.Rect = img.Rect.Sub(origin)
		img = &shifted
	}
	return img, nil
}
