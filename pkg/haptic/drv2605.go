package haptic

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// Default I2C addresses.
const (
	DefaultMuxAddr    = 0x70 // PCA9546A
	DefaultDriverAddr = 0x5A // DRV2605
)

// DRV2605 registers used by the controller.
const (
	regMode       = 0x01
	regRTPIn      = 0x02
	regLibrary    = 0x03
	regWaveSeq1   = 0x04
	regGo         = 0x0C
	regOverdrive  = 0x0D
	regSustainPos = 0x0E
	regSustainNeg = 0x0F
	regBrake      = 0x10
	regAudioMax   = 0x13
	regFeedback   = 0x1A
	regControl3   = 0x1D
)

// DRV2605 drives TI DRV2605 haptic controllers sitting behind a PCA9546A
// multiplexer. All actuators share the driver address; the mux decides which
// one answers.
type DRV2605 struct {
	mu     sync.Mutex
	bus    i2c.Bus
	closer func() error
	mux    *i2c.Dev
	dev    *i2c.Dev
	closed bool
}

// OpenDRV2605 initializes the host drivers and opens the named I2C bus.
// An empty name opens the first bus found.
func OpenDRV2605(busName string, muxAddr, driverAddr uint16) (*DRV2605, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init host drivers: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", busName, err)
	}
	d := NewDRV2605(bus, muxAddr, driverAddr)
	d.closer = bus.Close
	return d, nil
}

// NewDRV2605 wraps an already opened bus.
func NewDRV2605(bus i2c.Bus, muxAddr, driverAddr uint16) *DRV2605 {
	return &DRV2605{
		bus: bus,
		mux: &i2c.Dev{Bus: bus, Addr: muxAddr},
		dev: &i2c.Dev{Bus: bus, Addr: driverAddr},
	}
}

// SelectChannel routes the bus to one actuator.
func (d *DRV2605) SelectChannel(ch Channel) error {
	if !ch.Valid() {
		return fmt.Errorf("%w: 0x%02x", ErrUnknownChannel, uint8(ch))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	return d.mux.Tx([]byte{byte(ch)}, nil)
}

// Initialize takes the selected driver out of standby and configures it for
// an ERM motor in open loop.
func (d *DRV2605) Initialize() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}

	writes := [][2]byte{
		{regMode, byte(ModeInternalTrigger)},
		{regRTPIn, 0x00},
		{regWaveSeq1, WaveformMin},
		{regWaveSeq1 + 1, WaveformEnd},
		{regOverdrive, 0},
		{regSustainPos, 0},
		{regSustainNeg, 0},
		{regBrake, 0},
		{regAudioMax, 0x64},
	}
	for _, w := range writes {
		if err := d.write(w[0], w[1]); err != nil {
			return err
		}
	}

	// ERM rather than LRA.
	if err := d.update(regFeedback, func(v byte) byte { return v & 0x7F }); err != nil {
		return err
	}
	// ERM open loop.
	return d.update(regControl3, func(v byte) byte { return v | 0x20 })
}

// SetLibrary selects the waveform ROM library.
func (d *DRV2605) SetLibrary(id uint8) error {
	return d.locked(func() error { return d.write(regLibrary, id) })
}

// SetMode sets the operating mode.
func (d *DRV2605) SetMode(mode Mode) error {
	return d.locked(func() error { return d.write(regMode, byte(mode)) })
}

// PlayWaveform loads a waveform into one of the eight sequencer slots.
func (d *DRV2605) PlayWaveform(slot, waveform uint8) error {
	if slot >= WaveformSequences {
		return fmt.Errorf("%w: %d", ErrInvalidSlot, slot)
	}
	return d.locked(func() error { return d.write(regWaveSeq1+slot, waveform) })
}

// Start fires the loaded sequence.
func (d *DRV2605) Start() error {
	return d.locked(func() error { return d.write(regGo, 1) })
}

// Stop halts playback.
func (d *DRV2605) Stop() error {
	return d.locked(func() error { return d.write(regGo, 0) })
}

// Close releases the bus if this driver opened it.
func (d *DRV2605) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.closer != nil {
		return d.closer()
	}
	return nil
}

func (d *DRV2605) locked(fn func() error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	return fn()
}

func (d *DRV2605) write(reg, val byte) error {
	if err := d.dev.Tx([]byte{reg, val}, nil); err != nil {
		return fmt.Errorf("write reg 0x%02x: %w", reg, err)
	}
	return nil
}

func (d *DRV2605) read(reg byte) (byte, error) {
	var buf [1]byte
	if err := d.dev.Tx([]byte{reg}, buf[:]); err != nil {
		return 0, fmt.Errorf("read reg 0x%02x: %w", reg, err)
	}
	return buf[0], nil
}

func (d *DRV2605) update(reg byte, fn func(byte) byte) error {
	v, err := d.read(reg)
	if err != nil {
		return err
	}
	return d.write(reg, fn(v))
}

var _ Driver = (*DRV2605)(nil)
