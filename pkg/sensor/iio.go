package sensor

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// IIOProximity reads a distance from a Linux industrial-I/O sysfs attribute,
// e.g. /sys/bus/iio/devices/iio:device0/in_distance_raw.
type IIOProximity struct {
	path  string
	scale float64
}

// NewIIOProximity creates a reader. scale multiplies the raw value; 0 means 1.
func NewIIOProximity(path string, scale float64) *IIOProximity {
	if scale == 0 {
		scale = 1
	}
	return &IIOProximity{path: path, scale: scale}
}

// Read returns the scaled sample.
func (p *IIOProximity) Read() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", p.path, err)
	}
	raw, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", p.path, err)
	}
	return int(float64(raw) * p.scale), nil
}
