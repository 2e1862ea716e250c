package telemetry

import (
	"time"

	"github.com/teslashibe/go-tacton/pkg/click"
	"github.com/teslashibe/go-tacton/pkg/haptic"
	"github.com/teslashibe/go-tacton/pkg/mode"
	"github.com/teslashibe/go-tacton/pkg/proximity"
	"github.com/teslashibe/go-tacton/pkg/scheduler"
	"github.com/teslashibe/go-tacton/pkg/tacton"
)

// Status is the controller state shown on the dashboard.
type Status struct {
	Time      time.Time           `json:"time"`
	Uptime    string              `json:"uptime"`
	Mode      string              `json:"mode"`
	Scheduler *scheduler.Stats    `json:"scheduler,omitempty"`
	Tacton    *tacton.Stats       `json:"tacton,omitempty"`
	Sighting  *tacton.Sighting    `json:"sighting,omitempty"`
	Click     *click.State        `json:"click,omitempty"`
	Distance  *proximity.Snapshot `json:"distance,omitempty"`
	Bus       *haptic.BusStats    `json:"bus,omitempty"`
	Clients   int                 `json:"clients"`
}

// Sources are the components the dashboard reads. Nil fields are left out
// of the status.
type Sources struct {
	Mode       *mode.State
	Scheduler  *scheduler.Scheduler
	Dispatcher *tacton.Dispatcher
	Detection  *tacton.DetectionTask
	Click      *click.Controller
	Proximity  *proximity.Task
	Bus        *haptic.Bus
}

func (s Sources) status(started time.Time) Status {
	now := time.Now()
	st := Status{
		Time:   now,
		Uptime: now.Sub(started).Truncate(time.Second).String(),
	}
	if s.Mode != nil {
		st.Mode = s.Mode.Get().String()
	}
	if s.Scheduler != nil {
		v := s.Scheduler.Stats()
		st.Scheduler = &v
	}
	if s.Dispatcher != nil {
		v := s.Dispatcher.Stats()
		st.Tacton = &v
	}
	if s.Detection != nil {
		v := s.Detection.Sighting()
		st.Sighting = &v
	}
	if s.Click != nil {
		v := s.Click.State()
		st.Click = &v
	}
	if s.Proximity != nil {
		v := s.Proximity.Snapshot()
		st.Distance = &v
	}
	if s.Bus != nil {
		v := s.Bus.Stats()
		st.Bus = &v
	}
	return st
}
