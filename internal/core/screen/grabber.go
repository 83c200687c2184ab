package screen

import (
	"fmt"
	"image"

	"github.com/kbinani/screenshot"
)

// ErrNoDisplay reports that no capturable display exists, which the
// orchestrator treats as a permission-style failure at start.
var ErrNoDisplay = fmt.Errorf("screen: no active display")

// DisplayGrabber captures one physical display, or the union of all
// displays when index is -1.
type DisplayGrabber struct {
	Display int
}

func (g DisplayGrabber) Grab() (image.Image, error) {
	n := screenshot.NumActiveDisplays()
	if n == 0 {
		return nil, ErrNoDisplay
	}
	if g.Display >= n {
		return nil, fmt.Errorf("screen: display %d out of range (have %d)", g.Display, n)
	}

	var bounds image.Rectangle
	if g.Display < 0 {
		bounds = screenshot.GetDisplayBounds(0)
		for i := 1; i < n; i++ {
			bounds = bounds.Union(screenshot.GetDisplayBounds(i))
		}
	} else {
		bounds = screenshot.GetDisplayBounds(g.Display)
	}
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return nil, ErrNoDisplay
	}

	img, err := screenshot.CaptureRect(bounds)
	if err != nil {
		return nil, fmt.Errorf("screen: capture: %w", err)
	}
	return img, nil
}
