package yolo

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewMissingModel(t *testing.T) {
	_, err := New(Config{ModelPath: filepath.Join(t.TempDir(), "nope.onnx")}, nil)
	if err == nil {
		t.Fatal("expected error for missing model")
	}
	if !strings.Contains(err.Error(), "model file not found") {
		t.Errorf("err = %v", err)
	}
}

// tensor builds a channel-major [4+classes, anchors] buffer.
func tensor(classes int, anchors ...[]float32) ([]float32, int, int) {
	attrs := 4 + classes
	n := len(anchors)
	data := make([]float32, attrs*n)
	for i, a := range anchors {
		for c, v := range a {
			data[c*n+i] = v
		}
	}
	return data, attrs, n
}

func TestDecode(t *testing.T) {
	cfg := DefaultConfig()
	classes := len(COCOClasses)

	car := make([]float32, 4+classes)
	copy(car, []float32{320, 320, 64, 32})
	car[4+2] = 0.9

	weak := make([]float32, 4+classes)
	copy(weak, []float32{100, 100, 10, 10})
	weak[4+7] = 0.3

	truck := make([]float32, 4+classes)
	copy(truck, []float32{160, 480, 100, 50})
	truck[4+7] = 0.6
	truck[4+2] = 0.55

	data, attrs, anchors := tensor(classes, car, weak, truck)
	got := decode(data, attrs, anchors, cfg, 1280, 640)

	if len(got) != 2 {
		t.Fatalf("got %d candidates, want 2", len(got))
	}
	if ClassName(got[0].class) != "car" || ClassName(got[1].class) != "truck" {
		t.Errorf("classes = %q, %q", ClassName(got[0].class), ClassName(got[1].class))
	}

	// x is scaled by 1280/640, y is unscaled.
	if b := got[0].box; b.Min.X != 576 || b.Max.X != 704 || b.Min.Y != 304 || b.Max.Y != 336 {
		t.Errorf("car box = %v", b)
	}
}

func TestDecodeRejectsShortBuffer(t *testing.T) {
	if got := decode(make([]float32, 10), 84, 8400, DefaultConfig(), 640, 640); got != nil {
		t.Errorf("got %d candidates from a short buffer", len(got))
	}
	if got := decode(nil, 4, 1, DefaultConfig(), 640, 640); got != nil {
		t.Error("no class scores should yield nothing")
	}
}

func TestClassName(t *testing.T) {
	if len(COCOClasses) != 80 {
		t.Fatalf("COCOClasses has %d entries, want 80", len(COCOClasses))
	}
	tests := map[int]string{2: "car", 7: "truck", 5: "bus", 80: "class_80", -1: "class_-1"}
	for id, want := range tests {
		if got := ClassName(id); got != want {
			t.Errorf("ClassName(%d) = %q, want %q", id, got, want)
		}
	}
}

func TestDetectWithModel(t *testing.T) {
	path := os.Getenv("YOLO_MODEL_PATH")
	if path == "" {
		path = DefaultConfig().ModelPath
	}
	if _, err := os.Stat(path); err != nil {
		t.Skipf("model not available at %s", path)
	}

	d, err := New(Config{ModelPath: path}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Close()

	if d.Name() != "local" {
		t.Errorf("Name = %q", d.Name())
	}
	if _, err := d.Detect(context.Background(), nil); err == nil {
		t.Error("empty image should fail")
	}
	if err := d.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := d.Detect(context.Background(), []byte{0xFF, 0xD8}); err == nil {
		t.Error("Detect after Close should fail")
	}
}
