package haptic

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// BusStats is a snapshot of bus activity.
type BusStats struct {
	Transactions uint64 `json:"transactions"`
	Errors       uint64 `json:"errors"`
	Selected     string `json:"selected,omitempty"` // Last selected channel, "" before the first
	Conflicts    uint64 `json:"conflicts"`          // Claims refused because another owner held the channel

	Owners map[string]string `json:"owners,omitempty"` // Channel name -> owner
}

// Bus serializes access to the shared actuator bus.
// Each exported call selects its channel and finishes every register
// operation before another caller can touch the bus.
type Bus struct {
	mu       sync.Mutex
	driver   Driver
	selected Channel
	log      *slog.Logger

	claimMu sync.Mutex
	owners  map[Channel]string

	transactions atomic.Uint64
	errors       atomic.Uint64
	conflicts    atomic.Uint64
}

// NewBus wraps a driver. A nil logger discards output.
func NewBus(driver Driver, log *slog.Logger) *Bus {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Bus{
		driver: driver,
		log:    log,
		owners: make(map[Channel]string),
	}
}

// Claim reserves ch for owner. Claiming a channel the owner already holds
// succeeds; a channel held by someone else fails with ErrChannelBusy.
func (b *Bus) Claim(ch Channel, owner string) error {
	if !ch.Valid() {
		return fmt.Errorf("%w: 0x%02x", ErrUnknownChannel, uint8(ch))
	}
	b.claimMu.Lock()
	defer b.claimMu.Unlock()
	if cur, ok := b.owners[ch]; ok && cur != owner {
		b.conflicts.Add(1)
		return fmt.Errorf("%w: %s held by %s", ErrChannelBusy, ch, cur)
	}
	b.owners[ch] = owner
	return nil
}

// Release gives ch back. Only the current owner can release it.
func (b *Bus) Release(ch Channel, owner string) {
	b.claimMu.Lock()
	defer b.claimMu.Unlock()
	if b.owners[ch] == owner {
		delete(b.owners, ch)
	}
}

// Owner returns who holds ch, or "" when it is free.
func (b *Bus) Owner(ch Channel) string {
	b.claimMu.Lock()
	defer b.claimMu.Unlock()
	return b.owners[ch]
}

// Init brings every listed actuator out of standby: select, initialize,
// load the waveform library and switch to internal trigger mode.
// It stops at the first failing channel.
func (b *Bus) Init(channels []Channel, library uint8) error {
	for _, ch := range channels {
		err := b.transact(ch, func(d Driver) (string, error) {
			if err := d.Initialize(); err != nil {
				return "initialize", err
			}
			if err := d.SetLibrary(library); err != nil {
				return "set library", err
			}
			if err := d.SetMode(ModeInternalTrigger); err != nil {
				return "set mode", err
			}
			return "", nil
		})
		if err != nil {
			return err
		}
		b.log.Debug("actuator initialized", "channel", ch, "library", library)
	}
	return nil
}

// Play loads waveform into the first sequencer slot of ch and fires it.
func (b *Bus) Play(ch Channel, waveform uint8) error {
	if waveform < WaveformMin || waveform > WaveformMax {
		return fmt.Errorf("%w: %d", ErrInvalidWaveform, waveform)
	}
	return b.transact(ch, func(d Driver) (string, error) {
		if err := d.SetMode(ModeInternalTrigger); err != nil {
			return "set mode", err
		}
		if err := d.PlayWaveform(0, waveform); err != nil {
			return "play waveform", err
		}
		if err := d.PlayWaveform(1, WaveformEnd); err != nil {
			return "play waveform", err
		}
		if err := d.Start(); err != nil {
			return "start", err
		}
		return "", nil
	})
}

// Stop halts playback on ch.
func (b *Bus) Stop(ch Channel) error {
	return b.transact(ch, func(d Driver) (string, error) {
		if err := d.Stop(); err != nil {
			return "stop", err
		}
		return "", nil
	})
}

// Stats returns a snapshot of bus counters.
func (b *Bus) Stats() BusStats {
	b.mu.Lock()
	selected := b.selected
	b.mu.Unlock()
	st := BusStats{
		Transactions: b.transactions.Load(),
		Errors:       b.errors.Load(),
		Conflicts:    b.conflicts.Load(),
	}
	if selected.Valid() {
		st.Selected = selected.String()
	}
	b.claimMu.Lock()
	if len(b.owners) > 0 {
		st.Owners = make(map[string]string, len(b.owners))
		for ch, owner := range b.owners {
			st.Owners[ch.String()] = owner
		}
	}
	b.claimMu.Unlock()
	return st
}

// transact runs fn with ch selected, holding the bus for the whole sequence.
func (b *Bus) transact(ch Channel, fn func(Driver) (string, error)) error {
	if !ch.Valid() {
		return fmt.Errorf("%w: 0x%02x", ErrUnknownChannel, uint8(ch))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.transactions.Add(1)

	if err := b.driver.SelectChannel(ch); err != nil {
		b.errors.Add(1)
		b.selected = 0
		return &BusError{Channel: ch, Op: "select channel", Err: err}
	}
	b.selected = ch

	if op, err := fn(b.driver); err != nil {
		b.errors.Add(1)
		return &BusError{Channel: ch, Op: op, Err: err}
	}
	return nil
}
