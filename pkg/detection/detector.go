// Package detection defines the object detector and camera contracts the
// controller consumes, plus simulated implementations.
// The OpenCV-backed implementations live in detection/opencv.
package detection

import "fmt"

// BackgroundClass is the reserved class index that never names an object.
const BackgroundClass = 0

// DefaultConfidence is the minimum score for a detection to count.
const DefaultConfidence = 0.6

// Detection is one object hit.
type Detection struct {
	X, Y       float64 // Top-left corner (0-1 normalized)
	W, H       float64 // Width and height (0-1 normalized)
	Confidence float64 // Detection confidence (0-1)
}

// Area returns the area of the bounding box
func (d Detection) Area() float64 {
	return d.W * d.H
}

// Batch is the per-class result of one detector call.
// Classes[i] holds the hits for the class named Names[i].
type Batch struct {
	Names   []string
	Classes [][]Detection
}

// Labels lists the classes that were hit, in class-index order, skipping
// the background class and classes without hits.
func (b Batch) Labels() []string {
	var out []string
	for i, hits := range b.Classes {
		if i == BackgroundClass || len(hits) == 0 {
			continue
		}
		out = append(out, b.Name(i))
	}
	return out
}

// Name returns the label of class i.
func (b Batch) Name(i int) string {
	if i >= 0 && i < len(b.Names) {
		return b.Names[i]
	}
	return fmt.Sprintf("class_%d", i)
}

// Best returns the most confident hit of class i, or nil.
func (b Batch) Best(i int) *Detection {
	if i < 0 || i >= len(b.Classes) {
		return nil
	}
	var best *Detection
	for j := range b.Classes[i] {
		if best == nil || b.Classes[i][j].Confidence > best.Confidence {
			best = &b.Classes[i][j]
		}
	}
	return best
}

// Detector finds objects in a JPEG frame.
type Detector interface {
	// Detect returns one list per class; class 0 is background.
	Detect(frame []byte, threshold float64) (Batch, error)

	// Close releases resources
	Close() error
}

// Camera captures JPEG frames.
type Camera interface {
	Capture() ([]byte, error)
	Close() error
}

// COCOClasses contains the 80 COCO class names
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

// WithBackground prefixes names with the background class.
func WithBackground(names []string) []string {
	out := make([]string, 0, len(names)+1)
	out = append(out, "background")
	return append(out, names...)
}
