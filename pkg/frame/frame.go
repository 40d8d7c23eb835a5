// Package frame defines the frame source contract used by the control loop
// and the bounded-retry open that guards it.
package frame

import (
	"errors"
	"strconv"
	"time"
)

// ErrEndOfStream is returned by Source.Read when no more frames are available.
// It marks normal completion, not a failure.
var ErrEndOfStream = errors.New("frame: end of stream")

// Frame is a single captured image encoded as JPEG.
// A frame belongs to the loop iteration that read it and is not retained.
type Frame struct {
	JPEG   []byte
	Width  int
	Height int
	Seq    uint64
	Time   time.Time
}

// Source supplies frames from a device or network stream.
type Source interface {
	// Read returns the next frame, or ErrEndOfStream.
	Read() (Frame, error)

	// Close releases the underlying capture resources.
	Close() error
}

// Opener opens the source named by id.
type Opener func(id string) (Source, error)

// ParseSource interprets a source identifier. An all-digit identifier is a
// local device index and is returned as int; anything else (stream URL,
// file path) is returned unchanged.
func ParseSource(id string) any {
	if id == "" {
		return 0
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return id
		}
	}
	n, err := strconv.Atoi(id)
	if err != nil {
		return id
	}
	return n
}
