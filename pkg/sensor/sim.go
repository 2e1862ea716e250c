package sensor

import (
	"bufio"
	"io"
	"strings"
	"sync"
	"time"
)

// Sweep simulates an obstacle walking back and forth between Near and Far
// over Period.
type Sweep struct {
	Near, Far int
	Period    time.Duration

	start time.Time
	now   func() time.Time
}

// NewSweep starts a sweep at Far.
func NewSweep(near, far int, period time.Duration) *Sweep {
	return &Sweep{
		Near:   near,
		Far:    far,
		Period: period,
		start:  time.Now(),
		now:    time.Now,
	}
}

// Read returns the simulated distance: a triangle wave Far -> Near -> Far.
func (s *Sweep) Read() (int, error) {
	if s.Period <= 0 {
		return s.Far, nil
	}
	phase := float64(s.now().Sub(s.start)%s.Period) / float64(s.Period)
	span := float64(s.Far - s.Near)
	if phase < 0.5 {
		return s.Far - int(span*phase*2), nil
	}
	return s.Near + int(span*(phase-0.5)*2), nil
}

// LineButton simulates the mode button from a line-oriented reader, usually
// stdin. Each line is one press: an empty line is a short press, a line
// starting with "l" is a long press.
type LineButton struct {
	ShortHold time.Duration
	LongHold  time.Duration

	mu           sync.Mutex
	pressedUntil time.Time
	now          func() time.Time
}

// NewLineButton starts consuming r in the background until EOF.
func NewLineButton(r io.Reader) *LineButton {
	b := &LineButton{
		ShortHold: 100 * time.Millisecond,
		LongHold:  800 * time.Millisecond,
		now:       time.Now,
	}
	go b.consume(r)
	return b
}

func (b *LineButton) consume(r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		hold := b.ShortHold
		if strings.HasPrefix(strings.TrimSpace(sc.Text()), "l") {
			hold = b.LongHold
		}
		b.Press(hold)
	}
}

// Press holds the simulated button down for d.
func (b *LineButton) Press(d time.Duration) {
	b.mu.Lock()
	b.pressedUntil = b.now().Add(d)
	b.mu.Unlock()
}

// ReadLevel reads low while a simulated press is in progress.
func (b *LineButton) ReadLevel() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.now().Before(b.pressedUntil), nil
}
