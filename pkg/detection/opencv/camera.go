package opencv

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-tacton/pkg/detection"
)

// ErrNoFrame is returned when the capture device yields nothing.
var ErrNoFrame = errors.New("camera returned no frame")

// CameraConfig holds capture settings.
type CameraConfig struct {
	Device string // Device index ("0") or path/URL
	Window int    // Side of the square center crop; 0 keeps the full frame
}

// Camera captures JPEG frames from a video device.
type Camera struct {
	cfg CameraConfig

	mu  sync.Mutex
	cap *gocv.VideoCapture
	img gocv.Mat
}

var _ detection.Camera = (*Camera)(nil)

// OpenCamera opens the capture device.
func OpenCamera(cfg CameraConfig) (*Camera, error) {
	vc, err := gocv.OpenVideoCapture(cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("open camera %q: %w", cfg.Device, err)
	}
	return &Camera{cfg: cfg, cap: vc, img: gocv.NewMat()}, nil
}

// Capture grabs one frame, crops it to the center window and encodes it as
// JPEG.
func (c *Camera) Capture() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ok := c.cap.Read(&c.img); !ok || c.img.Empty() {
		return nil, ErrNoFrame
	}

	frame := c.img
	if c.cfg.Window > 0 {
		r := centerWindow(c.img.Cols(), c.img.Rows(), c.cfg.Window)
		region := c.img.Region(r)
		defer region.Close()
		frame = region
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...), nil
}

// Close releases the capture device.
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.img.Close()
	return c.cap.Close()
}

// centerWindow returns the largest square of at most side pixels centered
// in a cols x rows frame.
func centerWindow(cols, rows, side int) image.Rectangle {
	if side > cols {
		side = cols
	}
	if side > rows {
		side = rows
	}
	x := (cols - side) / 2
	y := (rows - side) / 2
	return image.Rect(x, y, x+side, y+side)
}
