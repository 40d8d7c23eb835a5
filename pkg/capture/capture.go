// Package capture reads frames from a camera device or network stream with OpenCV.
package capture

import (
	"fmt"
	"sync"
	"time"

	"github.com/teslashibe/go-traffic/pkg/frame"
	"gocv.io/x/gocv"
)

// Config holds capture configuration.
type Config struct {
	JPEGQuality int `yaml:"jpeg_quality"` // JPEG quality 1-100 (default 90)
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{JPEGQuality: 90}
}

// Camera is a frame.Source backed by gocv.VideoCapture.
type Camera struct {
	id     string
	vc     *gocv.VideoCapture
	mat    gocv.Mat
	params []int
	seq    uint64

	mu     sync.Mutex
	closed bool
}

// Open opens a device index ("0") or a stream URL / file path.
func Open(id string, cfg Config) (*Camera, error) {
	vc, err := gocv.OpenVideoCapture(frame.ParseSource(id))
	if err != nil {
		return nil, fmt.Errorf("open video source %s: %w", id, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("video source %s is not opened", id)
	}

	q := cfg.JPEGQuality
	if q <= 0 || q > 100 {
		q = DefaultConfig().JPEGQuality
	}

	return &Camera{
		id:     id,
		vc:     vc,
		mat:    gocv.NewMat(),
		params: []int{int(gocv.IMWriteJpegQuality), q},
	}, nil
}

// Opener adapts Open to frame.Opener.
func Opener(cfg Config) frame.Opener {
	return func(id string) (frame.Source, error) {
		return Open(id, cfg)
	}
}

// Read grabs the next frame and encodes it as JPEG.
// A failed or empty grab is reported as frame.ErrEndOfStream.
func (c *Camera) Read() (frame.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return frame.Frame{}, frame.ErrEndOfStream
	}

	if ok := c.vc.Read(&c.mat); !ok || c.mat.Empty() {
		return frame.Frame{}, frame.ErrEndOfStream
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, c.mat, c.params)
	if err != nil {
		return frame.Frame{}, fmt.Errorf("encode frame from %s: %w", c.id, err)
	}
	defer buf.Close()

	data := make([]byte, buf.Len())
	copy(data, buf.GetBytes())

	c.seq++
	return frame.Frame{
		JPEG:   data,
		Width:  c.mat.Cols(),
		Height: c.mat.Rows(),
		Seq:    c.seq,
		Time:   time.Now(),
	}, nil
}

// Close releases the capture device. Subsequent calls are no-ops.
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.mat.Close()
	return c.vc.Close()
}

var _ frame.Source = (*Camera)(nil)
