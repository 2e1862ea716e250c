// Package opencv implements the camera and object detector on top of gocv.
package opencv

import (
	"fmt"
	"image"
	"log/slog"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-tacton/pkg/detection"
)

// YOLOConfig holds YOLO detector configuration
type YOLOConfig struct {
	ModelPath   string
	NMSThresh   float32
	InputWidth  int
	InputHeight int
}

// YOLO detects COCO objects with a YOLOv8 ONNX model.
// Batches carry the background class at index 0, so COCO class i is
// reported at index i+1.
type YOLO struct {
	net       gocv.Net
	config    YOLOConfig
	names     []string
	log       *slog.Logger
	mu        sync.Mutex
	inputSize image.Point
}

var _ detection.Detector = (*YOLO)(nil)

// NewYOLO loads the model.
func NewYOLO(cfg YOLOConfig, log *slog.Logger) (*YOLO, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", cfg.ModelPath)
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load YOLO model from %s", cfg.ModelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	log.Info("yolo model loaded", "path", cfg.ModelPath, "input", fmt.Sprintf("%dx%d", cfg.InputWidth, cfg.InputHeight))
	return &YOLO{
		net:       net,
		config:    cfg,
		names:     detection.WithBackground(detection.COCOClasses),
		log:       log,
		inputSize: image.Pt(cfg.InputWidth, cfg.InputHeight),
	}, nil
}

// Detect finds objects in the JPEG frame.
func (d *YOLO) Detect(frame []byte, threshold float64) (detection.Batch, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	img, err := gocv.IMDecode(frame, gocv.IMReadColor)
	if err != nil {
		return detection.Batch{}, fmt.Errorf("decode image: %w", err)
	}
	defer img.Close()
	if img.Empty() {
		return detection.Batch{}, fmt.Errorf("empty image")
	}

	blob := gocv.BlobFromImage(img, 1.0/255.0, d.inputSize, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	// Output shape: [1, 84, 8400]; 84 = 4 bbox + 80 classes
	data, err := output.DataPtrFloat32()
	if err != nil {
		return detection.Batch{}, fmt.Errorf("read output: %w", err)
	}

	scale := [2]float32{
		float32(img.Cols()) / float32(d.config.InputWidth),
		float32(img.Rows()) / float32(d.config.InputHeight),
	}
	cands := decode(data, output.Cols(), output.Rows(), float32(threshold), scale)
	if len(cands) == 0 {
		return group(d.names, nil, nil, img.Cols(), img.Rows()), nil
	}

	boxes := make([]image.Rectangle, len(cands))
	scores := make([]float32, len(cands))
	for i, c := range cands {
		boxes[i] = c.box
		scores[i] = c.score
	}
	keep := gocv.NMSBoxes(boxes, scores, float32(threshold), d.config.NMSThresh)

	return group(d.names, cands, keep, img.Cols(), img.Rows()), nil
}

// Close releases the detector resources
func (d *YOLO) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.net.Close()
	return nil
}

type candidate struct {
	box   image.Rectangle
	score float32
	class int // COCO index
}

// decode reads a transposed YOLOv8 tensor of cols rows by rows
// detections. Entries below thresh are dropped.
func decode(data []float32, rows, cols int, thresh float32, scale [2]float32) []candidate {
	if rows <= 0 || cols <= 4 || len(data) < rows*cols {
		return nil
	}

	var out []candidate
	for i := 0; i < rows; i++ {
		best := float32(0)
		class := 0
		for c := 4; c < cols; c++ {
			if s := data[c*rows+i]; s > best {
				best = s
				class = c - 4
			}
		}
		if best < thresh {
			continue
		}

		cx := data[0*rows+i]
		cy := data[1*rows+i]
		w := data[2*rows+i]
		h := data[3*rows+i]
		out = append(out, candidate{
			box: image.Rect(
				int((cx-w/2)*scale[0]),
				int((cy-h/2)*scale[1]),
				int((cx+w/2)*scale[0]),
				int((cy+h/2)*scale[1]),
			),
			score: best,
			class: class,
		})
	}
	return out
}

// group sorts the kept candidates into per-class lists, shifting classes
// up by one for the background slot.
func group(names []string, cands []candidate, keep []int, imgW, imgH int) detection.Batch {
	b := detection.Batch{
		Names:   names,
		Classes: make([][]detection.Detection, len(names)),
	}
	for _, idx := range keep {
		if idx < 0 || idx >= len(cands) {
			continue
		}
		c := cands[idx]
		slot := c.class + 1
		if slot >= len(b.Classes) {
			continue
		}
		b.Classes[slot] = append(b.Classes[slot], detection.Detection{
			X:          float64(c.box.Min.X) / float64(imgW),
			Y:          float64(c.box.Min.Y) / float64(imgH),
			W:          float64(c.box.Dx()) / float64(imgW),
			H:          float64(c.box.Dy()) / float64(imgH),
			Confidence: float64(c.score),
		})
	}
	return b
}
