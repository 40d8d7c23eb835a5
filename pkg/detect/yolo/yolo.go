// Package yolo runs a YOLOv8 ONNX model through OpenCV DNN.
package yolo

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"sync"

	"gocv.io/x/gocv"

	tlog "github.com/teslashibe/go-traffic/internal/log"
	"github.com/teslashibe/go-traffic/pkg/detect"
)

const providerName = "local"

// Config holds YOLO detector configuration.
type Config struct {
	ModelPath        string  `yaml:"model_path"`
	ConfidenceThresh float32 `yaml:"confidence"`
	NMSThresh        float32 `yaml:"nms"`
	InputWidth       int     `yaml:"-"`
	InputHeight      int     `yaml:"-"`
}

// DefaultConfig returns production defaults for YOLOv8n.
func DefaultConfig() Config {
	return Config{
		ModelPath:        "models/yolov8n.onnx",
		ConfidenceThresh: 0.5,
		NMSThresh:        0.45,
		InputWidth:       640,
		InputHeight:      640,
	}
}

// Detector implements detect.Detector with a YOLOv8 network.
type Detector struct {
	net       gocv.Net
	config    Config
	inputSize image.Point
	logger    *slog.Logger

	mu     sync.Mutex
	closed bool
}

// New loads the model. It fails when the file is missing or OpenCV cannot
// parse it.
func New(cfg Config, logger *slog.Logger) (*Detector, error) {
	def := DefaultConfig()
	if cfg.ModelPath == "" {
		cfg.ModelPath = def.ModelPath
	}
	if cfg.ConfidenceThresh <= 0 {
		cfg.ConfidenceThresh = def.ConfidenceThresh
	}
	if cfg.NMSThresh <= 0 {
		cfg.NMSThresh = def.NMSThresh
	}
	if cfg.InputWidth <= 0 || cfg.InputHeight <= 0 {
		cfg.InputWidth, cfg.InputHeight = def.InputWidth, def.InputHeight
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("model file not found: %s", cfg.ModelPath)
		}
		return nil, fmt.Errorf("stat model: %w", err)
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load YOLO model from %s", cfg.ModelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &Detector{
		net:       net,
		config:    cfg,
		inputSize: image.Pt(cfg.InputWidth, cfg.InputHeight),
		logger:    tlog.For(logger, "detect.yolo"),
	}, nil
}

// Name returns "local".
func (d *Detector) Name() string {
	return providerName
}

// Detect finds objects in the JPEG image. Inference is not interruptible;
// ctx is only checked before it starts.
func (d *Detector) Detect(ctx context.Context, jpeg []byte) ([]detect.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(jpeg) == 0 {
		return nil, detect.WrapError(providerName, detect.ErrEmptyImage)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, detect.WrapError(providerName, errors.New("detector closed"))
	}

	img, err := gocv.IMDecode(jpeg, gocv.IMReadColor)
	if err != nil {
		return nil, detect.WrapError(providerName, fmt.Errorf("decode image: %w", err))
	}
	defer img.Close()
	if img.Empty() {
		return nil, detect.WrapError(providerName, detect.ErrEmptyImage)
	}

	blob := gocv.BlobFromImage(img, 1.0/255.0, d.inputSize, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	// YOLOv8 output is [1, 4+classes, anchors].
	dims := output.Size()
	if len(dims) < 2 {
		return nil, detect.WrapError(providerName, fmt.Errorf("unexpected output shape %v", dims))
	}
	attrs, anchors := dims[len(dims)-2], dims[len(dims)-1]

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, detect.WrapError(providerName, fmt.Errorf("read output: %w", err))
	}

	cands := decode(data, attrs, anchors, d.config, img.Cols(), img.Rows())
	objects := d.suppress(cands, float64(img.Cols()), float64(img.Rows()))

	d.logger.Debug("inference complete", "candidates", len(cands), "objects", len(objects))
	return objects, nil
}

// candidate is a pre-NMS detection in pixel coordinates.
type candidate struct {
	box   image.Rectangle
	score float32
	class int
}

// decode extracts candidates above the confidence threshold from a
// channel-major YOLOv8 tensor of shape [attrs, anchors].
func decode(data []float32, attrs, anchors int, cfg Config, imgW, imgH int) []candidate {
	if attrs <= 4 || anchors <= 0 || len(data) < attrs*anchors {
		return nil
	}
	sx := float32(imgW) / float32(cfg.InputWidth)
	sy := float32(imgH) / float32(cfg.InputHeight)

	var out []candidate
	for i := 0; i < anchors; i++ {
		best, cls := float32(0), 0
		for c := 4; c < attrs; c++ {
			if s := data[c*anchors+i]; s > best {
				best, cls = s, c-4
			}
		}
		if best < cfg.ConfidenceThresh {
			continue
		}

		cx, cy := data[i], data[anchors+i]
		w, h := data[2*anchors+i], data[3*anchors+i]
		out = append(out, candidate{
			box: image.Rect(
				int((cx-w/2)*sx), int((cy-h/2)*sy),
				int((cx+w/2)*sx), int((cy+h/2)*sy),
			),
			score: best,
			class: cls,
		})
	}
	return out
}

func (d *Detector) suppress(cands []candidate, imgW, imgH float64) []detect.Object {
	if len(cands) == 0 {
		return nil
	}
	boxes := make([]image.Rectangle, len(cands))
	scores := make([]float32, len(cands))
	for i, c := range cands {
		boxes[i], scores[i] = c.box, c.score
	}

	keep := gocv.NMSBoxes(boxes, scores, d.config.ConfidenceThresh, d.config.NMSThresh)
	objects := make([]detect.Object, 0, len(keep))
	for _, idx := range keep {
		c := cands[idx]
		objects = append(objects, detect.Object{
			Label:      ClassName(c.class),
			Confidence: float64(c.score),
			Box: detect.Box{
				X: float64(c.box.Min.X) / imgW,
				Y: float64(c.box.Min.Y) / imgH,
				W: float64(c.box.Dx()) / imgW,
				H: float64(c.box.Dy()) / imgH,
			},
		})
	}
	return objects
}

// Close releases the network. It is safe to call more than once.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.net.Close()
}

// ClassName returns the COCO name for id, or "class_<id>" when out of range.
func ClassName(id int) string {
	if id >= 0 && id < len(COCOClasses) {
		return COCOClasses[id]
	}
	return fmt.Sprintf("class_%d", id)
}

// COCOClasses contains the 80 COCO class names.
var COCOClasses = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat",
	"dog", "horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack",
	"umbrella", "handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball",
	"kite", "baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket",
	"bottle", "wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple",
	"sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair",
	"couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink", "refrigerator",
	"book", "clock", "vase", "scissors", "teddy bear", "hair drier", "toothbrush",
}

var _ detect.Detector = (*Detector)(nil)
