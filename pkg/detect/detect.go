// Package detect provides the vehicle detection abstraction.
//
// Two backends satisfy Detector: the Cloud Vision object localizer
// (pkg/detect/cloud) and a local YOLO model (pkg/detect/yolo). A Selector
// picks one of them once at startup and turns every per-frame failure into a
// zero count.
//
// Example usage:
//
//	sel := detect.NewSelector(detect.SelectorConfig{
//	    Cloud: cloudDetector,
//	    Local: yoloDetector,
//	})
//	sel.Init(ctx)
//	n := sel.Count(ctx, frame.JPEG)
package detect

import (
	"context"
	"strings"
)

// Detector finds objects in a JPEG-encoded image.
type Detector interface {
	// Name identifies the backend in logs ("cloud", "local").
	Name() string

	// Detect returns every object the backend localized in the image.
	Detect(ctx context.Context, jpeg []byte) ([]Object, error)

	// Close releases any resources held by the backend.
	Close() error
}

// Prober is implemented by backends that support a one-time credential check.
type Prober interface {
	// Probe sends a minimal request and reports whether the backend is
	// reachable and authorized.
	Probe(ctx context.Context) error
}

// Box is a bounding box normalized to 0-1.
type Box struct {
	X, Y, W, H float64
}

// Object is one detected object.
type Object struct {
	Label      string
	Confidence float64
	Box        Box
}

// LabelSet is a case-insensitive set of class labels.
type LabelSet map[string]struct{}

// NewLabelSet builds a set from labels.
func NewLabelSet(labels ...string) LabelSet {
	s := make(LabelSet, len(labels))
	for _, l := range labels {
		s[strings.ToLower(strings.TrimSpace(l))] = struct{}{}
	}
	return s
}

// Contains reports whether label is in the set, ignoring case.
func (s LabelSet) Contains(label string) bool {
	_, ok := s[strings.ToLower(strings.TrimSpace(label))]
	return ok
}

// Vehicle label sets for each backend.
var (
	// CloudVehicleLabels matches Cloud Vision localized object names.
	CloudVehicleLabels = NewLabelSet("vehicle", "car", "truck")

	// LocalVehicleLabels matches COCO class names from the YOLO model.
	LocalVehicleLabels = NewLabelSet("car", "truck")
)

// CountVehicles returns how many objects carry a label in labels.
func CountVehicles(objects []Object, labels LabelSet) int {
	n := 0
	for _, o := range objects {
		if labels.Contains(o.Label) {
			n++
		}
	}
	return n
}
