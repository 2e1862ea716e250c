package sensor

import (
	"fmt"
	"sync"

	"github.com/brian-armstrong/gpio"
)

// GPIOButton reads a button on a Linux sysfs GPIO line.
type GPIOButton struct {
	mu     sync.Mutex
	pin    gpio.Pin
	closed bool
}

// OpenGPIOButton exports the BCM line as an input.
func OpenGPIOButton(line uint) *GPIOButton {
	return &GPIOButton{pin: gpio.NewInput(line)}
}

// ReadLevel returns true for a high line.
func (b *GPIOButton) ReadLevel() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false, ErrClosed
	}
	v, err := b.pin.Read()
	if err != nil {
		return false, fmt.Errorf("read gpio %d: %w", b.pin.Number, err)
	}
	return v != 0, nil
}

// Close unexports the line.
func (b *GPIOButton) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		b.pin.Close()
	}
	return nil
}
