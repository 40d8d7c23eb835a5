// Package display draws the count and wait time over frames and shows them in
// a desktop window.
package display

import (
	"fmt"
	"image"
	"image/color"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-traffic/pkg/policy"
)

// WindowName is the title of the preview window.
const WindowName = "Vehicle Counting"

// QuitKey closes the window loop.
const QuitKey = 'q'

var (
	overlayColor = color.RGBA{G: 255, A: 255}
	countOrigin  = image.Pt(10, 30)
	waitOrigin   = image.Pt(10, 60)
)

const (
	fontScale     = 1.0
	fontThickness = 2
	jpegQuality   = 85
)

// Lines returns the overlay text for a decision.
func Lines(d policy.Decision) (count, wait string) {
	return fmt.Sprintf("Vehicles: %d", d.Count), fmt.Sprintf("Wait Time: %ds", d.WaitSeconds())
}

// Overlay draws the decision onto img in place.
func Overlay(img *gocv.Mat, d policy.Decision) error {
	count, wait := Lines(d)
	if err := gocv.PutText(img, count, countOrigin, gocv.FontHersheySimplex, fontScale, overlayColor, fontThickness); err != nil {
		return fmt.Errorf("draw count: %w", err)
	}
	if err := gocv.PutText(img, wait, waitOrigin, gocv.FontHersheySimplex, fontScale, overlayColor, fontThickness); err != nil {
		return fmt.Errorf("draw wait time: %w", err)
	}
	return nil
}

// Annotate decodes jpeg, draws the overlay and re-encodes it.
func Annotate(jpeg []byte, d policy.Decision) ([]byte, error) {
	img, err := gocv.IMDecode(jpeg, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	defer img.Close()
	if img.Empty() {
		return nil, fmt.Errorf("decode frame: empty image")
	}

	if err := Overlay(&img, d); err != nil {
		return nil, err
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, img, []int{int(gocv.IMWriteJpegQuality), jpegQuality})
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

// Window is an OpenCV preview window.
type Window struct {
	win *gocv.Window

	mu     sync.Mutex
	quit   bool
	closed bool
}

// NewWindow opens the preview window. It requires a display server.
func NewWindow() *Window {
	return &Window{win: gocv.NewWindow(WindowName)}
}

// Show draws the overlay on the frame and displays it, then polls the
// keyboard once.
func (w *Window) Show(jpeg []byte, d policy.Decision) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}

	img, err := gocv.IMDecode(jpeg, gocv.IMReadColor)
	if err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	defer img.Close()
	if img.Empty() {
		return nil
	}
	if err := Overlay(&img, d); err != nil {
		return err
	}

	w.win.IMShow(img)
	w.poll()
	return nil
}

// QuitRequested polls the keyboard and reports whether q has been pressed.
func (w *Window) QuitRequested() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	w.poll()
	return w.quit
}

func (w *Window) poll() {
	if w.win.WaitKey(1)&0xFF == QuitKey {
		w.quit = true
	}
}

// Close destroys the window. It is safe to call more than once.
func (w *Window) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.win.Close()
}
