// Package haptic drives the vibrotactile actuators of the wearable.
//
// Every actuator sits behind one multiplexer on a single I2C control bus, so
// the package splits the concern in two: a Driver speaks to whichever actuator
// is currently selected, and a Bus serializes select-then-operate
// transactions so two callers can never interleave register writes.
package haptic

import (
	"fmt"
	"strings"
)

// Channel is the multiplexer selector byte addressing one actuator.
type Channel uint8

// Actuator channels. Values are the selector bytes written to the mux.
const (
	ChannelLeft   Channel = 0x03
	ChannelCenter Channel = 0x06
	ChannelRight  Channel = 0x09
)

// Channels lists every actuator channel in left-to-right order.
var Channels = []Channel{ChannelLeft, ChannelCenter, ChannelRight}

// String returns the channel name.
func (c Channel) String() string {
	switch c {
	case ChannelLeft:
		return "left"
	case ChannelCenter:
		return "center"
	case ChannelRight:
		return "right"
	}
	return fmt.Sprintf("channel(0x%02x)", uint8(c))
}

// Valid reports whether c is one of the known actuator channels.
func (c Channel) Valid() bool {
	for _, known := range Channels {
		if c == known {
			return true
		}
	}
	return false
}

// ParseChannel maps a channel name ("left", "center", "right") to a Channel.
func ParseChannel(name string) (Channel, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "left":
		return ChannelLeft, nil
	case "center", "centre":
		return ChannelCenter, nil
	case "right":
		return ChannelRight, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownChannel, name)
}

// MarshalText implements encoding.TextMarshaler.
func (c Channel) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Channel) UnmarshalText(text []byte) error {
	ch, err := ParseChannel(string(text))
	if err != nil {
		return err
	}
	*c = ch
	return nil
}

// Mode is the driver operating mode.
type Mode uint8

// Driver operating modes (DRV2605 MODE register values).
const (
	ModeInternalTrigger Mode = 0x00
	ModeExternalEdge    Mode = 0x01
	ModeExternalLevel   Mode = 0x02
	ModePWMAnalog       Mode = 0x03
	ModeAudioToVibe     Mode = 0x04
	ModeRealtime        Mode = 0x05
	ModeDiagnostics     Mode = 0x06
	ModeAutoCalibrate   Mode = 0x07
)

// Waveform ids used by the controller. The ROM library holds effects 1..123.
const (
	WaveformEnd       uint8 = 0
	WaveformMin       uint8 = 1
	WaveformMax       uint8 = 123
	WaveformClick     uint8 = 17 // strong click 100%
	WaveformSequences       = 8
)

// Driver is the capability contract of one haptic driver chip.
// Calls other than SelectChannel act on the currently selected actuator.
type Driver interface {
	SelectChannel(ch Channel) error
	Initialize() error
	SetLibrary(id uint8) error
	SetMode(mode Mode) error
	PlayWaveform(slot, waveform uint8) error
	Start() error
	Stop() error
}

// Player is the slice of Bus the feedback controllers need.
// A controller claims a channel before playing on it and releases it after
// the final Stop, so two controllers never drive one actuator at once.
type Player interface {
	Claim(ch Channel, owner string) error
	Release(ch Channel, owner string)
	Play(ch Channel, waveform uint8) error
	Stop(ch Channel) error
}

var _ Player = (*Bus)(nil)
