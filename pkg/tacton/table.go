// Package tacton turns detected objects into tactons: short vibration
// patterns whose waveform and actuator identify the most urgent object in
// view.
package tacton

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/teslashibe/go-tacton/pkg/haptic"
)

// ErrInvalidTable is wrapped by every table validation problem.
var ErrInvalidTable = errors.New("invalid priority table")

// Entry describes the tacton for one object label.
type Entry struct {
	Waveform uint8          `yaml:"waveform" json:"waveform"`
	Priority int            `yaml:"priority" json:"priority"` // 1 is most urgent
	Channel  haptic.Channel `yaml:"channel" json:"channel"`
}

// Table maps object labels to tactons.
type Table map[string]Entry

// DefaultTable returns the device table. Hazards buzz the center, people
// the right, furniture and fixtures the left.
func DefaultTable() Table {
	return Table{
		"car":    {Waveform: 84, Priority: 1, Channel: haptic.ChannelCenter},
		"dog":    {Waveform: 85, Priority: 1, Channel: haptic.ChannelCenter},
		"person": {Waveform: 86, Priority: 2, Channel: haptic.ChannelRight},
		"chair":  {Waveform: 87, Priority: 3, Channel: haptic.ChannelLeft},
		"sink":   {Waveform: 88, Priority: 3, Channel: haptic.ChannelLeft},
	}
}

// Labels returns the table labels sorted by priority, then name.
func (t Table) Labels() []string {
	labels := make([]string, 0, len(t))
	for label := range t {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		a, b := t[labels[i]], t[labels[j]]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return labels[i] < labels[j]
	})
	return labels
}

// Validate reports every problem in the table.
// A priority rank must map to exactly one channel and a channel to exactly
// one rank, so the actuator alone tells the wearer how urgent an object is.
func (t Table) Validate() error {
	if len(t) == 0 {
		return fmt.Errorf("%w: no entries", ErrInvalidTable)
	}

	var errs []error
	rankChannel := make(map[int]haptic.Channel)
	channelRank := make(map[haptic.Channel]int)

	for _, label := range t.Labels() {
		e := t[label]
		if strings.TrimSpace(label) == "" {
			errs = append(errs, fmt.Errorf("%w: empty label", ErrInvalidTable))
		}
		if e.Priority < 1 {
			errs = append(errs, fmt.Errorf("%w: %q: priority %d < 1", ErrInvalidTable, label, e.Priority))
		}
		if e.Waveform < haptic.WaveformMin || e.Waveform > haptic.WaveformMax {
			errs = append(errs, fmt.Errorf("%w: %q: waveform %d outside %d..%d",
				ErrInvalidTable, label, e.Waveform, haptic.WaveformMin, haptic.WaveformMax))
		}
		if !e.Channel.Valid() {
			errs = append(errs, fmt.Errorf("%w: %q: %v", ErrInvalidTable, label, haptic.ErrUnknownChannel))
			continue
		}
		if ch, ok := rankChannel[e.Priority]; ok && ch != e.Channel {
			errs = append(errs, fmt.Errorf("%w: %q: priority %d already uses channel %s",
				ErrInvalidTable, label, e.Priority, ch))
		} else if !ok {
			rankChannel[e.Priority] = e.Channel
		}
		if rank, ok := channelRank[e.Channel]; ok && rank != e.Priority {
			errs = append(errs, fmt.Errorf("%w: %q: channel %s already carries priority %d",
				ErrInvalidTable, label, e.Channel, rank))
		} else if !ok {
			channelRank[e.Channel] = e.Priority
		}
	}
	return errors.Join(errs...)
}

// Select picks the most urgent known label. Among equal ranks the label
// that comes first in labels wins. Unknown labels are ignored.
func (t Table) Select(labels []string) (string, Entry, bool) {
	var (
		best  string
		entry Entry
		found bool
	)
	for _, label := range labels {
		e, ok := t[label]
		if !ok {
			continue
		}
		if !found || e.Priority < entry.Priority {
			best, entry, found = label, e, true
		}
	}
	return best, entry, found
}
