package tacton

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-tacton/pkg/detection"
	"github.com/teslashibe/go-tacton/pkg/events"
	"github.com/teslashibe/go-tacton/pkg/haptic"
	"github.com/teslashibe/go-tacton/pkg/mode"
)

// fakeClock is a settable time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) set(ms int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = time.Unix(1000, 0).Add(time.Duration(ms) * time.Millisecond)
}

// heldSpawner keeps spawned functions so tests can run them when they like.
type heldSpawner struct {
	mu    sync.Mutex
	names []string
	fns   []func(context.Context) error
}

func (h *heldSpawner) Spawn(name string, fn func(context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.names = append(h.names, name)
	h.fns = append(h.fns, fn)
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *haptic.Recorder, *fakeClock) {
	t.Helper()
	rec := haptic.NewRecorder(nil)
	d := NewDispatcher(DefaultTable(), haptic.NewBus(rec, nil), time.Nanosecond, nil, nil)
	clk := &fakeClock{}
	clk.set(0)
	d.now = clk.now
	return d, rec, clk
}

func TestDefaultTable_Valid(t *testing.T) {
	if err := DefaultTable().Validate(); err != nil {
		t.Fatalf("default table invalid: %v", err)
	}
}

func TestTable_Validate(t *testing.T) {
	tests := []struct {
		name    string
		table   Table
		wantErr string
	}{
		{
			name:    "empty",
			table:   Table{},
			wantErr: "no entries",
		},
		{
			name:    "empty label",
			table:   Table{" ": {Waveform: 84, Priority: 1, Channel: haptic.ChannelCenter}},
			wantErr: "empty label",
		},
		{
			name:    "rank below one",
			table:   Table{"car": {Waveform: 84, Priority: 0, Channel: haptic.ChannelCenter}},
			wantErr: "priority 0 < 1",
		},
		{
			name:    "waveform zero",
			table:   Table{"car": {Waveform: 0, Priority: 1, Channel: haptic.ChannelCenter}},
			wantErr: "waveform 0 outside",
		},
		{
			name:    "waveform past library",
			table:   Table{"car": {Waveform: 124, Priority: 1, Channel: haptic.ChannelCenter}},
			wantErr: "waveform 124 outside",
		},
		{
			name:    "unknown channel",
			table:   Table{"car": {Waveform: 84, Priority: 1, Channel: haptic.Channel(0x70)}},
			wantErr: "unknown",
		},
		{
			name: "rank on two channels",
			table: Table{
				"car": {Waveform: 84, Priority: 1, Channel: haptic.ChannelCenter},
				"dog": {Waveform: 85, Priority: 1, Channel: haptic.ChannelLeft},
			},
			wantErr: "priority 1 already uses channel center",
		},
		{
			name: "channel with two ranks",
			table: Table{
				"car":    {Waveform: 84, Priority: 1, Channel: haptic.ChannelCenter},
				"person": {Waveform: 86, Priority: 2, Channel: haptic.ChannelCenter},
			},
			wantErr: "channel center already carries priority 1",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.table.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, ErrInvalidTable) {
				t.Errorf("error %v does not wrap ErrInvalidTable", err)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestTable_Select(t *testing.T) {
	table := DefaultTable()
	tests := []struct {
		labels []string
		want   string
		found  bool
	}{
		{[]string{"chair", "car"}, "car", true},
		{[]string{"person", "chair"}, "person", true},
		{[]string{"sink", "chair"}, "sink", true},
		{[]string{"chair", "sink"}, "chair", true},
		{[]string{"dog", "car"}, "dog", true},
		{[]string{"banana", "person"}, "person", true},
		{[]string{"banana"}, "", false},
		{nil, "", false},
	}
	for _, tc := range tests {
		got, _, found := table.Select(tc.labels)
		if got != tc.want || found != tc.found {
			t.Errorf("Select(%v) = %q, %v; want %q, %v", tc.labels, got, found, tc.want, tc.found)
		}
	}
}

func TestTable_Labels(t *testing.T) {
	want := []string{"car", "dog", "person", "chair", "sink"}
	if got := DefaultTable().Labels(); !reflect.DeepEqual(got, want) {
		t.Errorf("Labels() = %v, want %v", got, want)
	}
}

func TestDispatcher_PlaysHighestPriority(t *testing.T) {
	d, rec, _ := newTestDispatcher(t)

	disp, err := d.Dispatch(context.Background(), DefaultCooldown, []string{"chair", "car"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if disp.Label != "car" || disp.Channel != haptic.ChannelCenter || disp.Waveform != 84 || disp.Running {
		t.Errorf("dispatch = %+v, want finished car on center", disp)
	}
	if disp.ID == "" {
		t.Error("dispatch has no id")
	}

	calls := rec.Calls()
	var wf []uint8
	for _, c := range calls {
		if c.Op == "PlayWaveform" && c.Arg == 0 {
			wf = append(wf, c.Waveform)
		}
	}
	if !reflect.DeepEqual(wf, []uint8{84}) {
		t.Errorf("waveforms = %v, want [84]", wf)
	}
	if rec.Count("Start", haptic.ChannelCenter) != 1 || rec.Count("Stop", haptic.ChannelCenter) != 1 {
		t.Errorf("calls = %v, want one start and one stop on center", calls)
	}
	if rec.Playing(haptic.ChannelCenter) {
		t.Error("center still playing after dispatch")
	}
	if d.Running() {
		t.Error("dispatcher still running")
	}
}

func TestDispatcher_Cooldown(t *testing.T) {
	d, rec, clk := newTestDispatcher(t)
	ctx := context.Background()
	labels := []string{"person"}

	clk.set(0)
	if _, err := d.Dispatch(ctx, DefaultCooldown, labels); err != nil {
		t.Fatalf("t=0: %v", err)
	}
	if !d.Last().Equal(clk.now()) {
		t.Errorf("last = %v, want %v", d.Last(), clk.now())
	}

	clk.set(3000)
	if _, err := d.Dispatch(ctx, DefaultCooldown, labels); !errors.Is(err, ErrCoolingDown) {
		t.Fatalf("t=3000: err = %v, want ErrCoolingDown", err)
	}

	clk.set(6000)
	if _, err := d.Dispatch(ctx, DefaultCooldown, labels); err != nil {
		t.Fatalf("t=6000: %v", err)
	}

	if n := rec.Count("Start", haptic.ChannelRight); n != 2 {
		t.Errorf("right started %d times, want 2", n)
	}
	st := d.Stats()
	if st.Dispatched != 2 || st.CoolingDown != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestDispatcher_NoCandidate(t *testing.T) {
	d, rec, _ := newTestDispatcher(t)

	if _, err := d.Dispatch(context.Background(), DefaultCooldown, []string{"banana"}); !errors.Is(err, ErrNoCandidate) {
		t.Fatalf("err = %v, want ErrNoCandidate", err)
	}
	if len(rec.Calls()) != 0 {
		t.Errorf("driver touched: %v", rec.Calls())
	}
	if !d.Last().IsZero() {
		t.Error("no-op dispatch recorded a timestamp")
	}
}

func TestDispatcher_Busy(t *testing.T) {
	rec := haptic.NewRecorder(nil)
	d := NewDispatcher(DefaultTable(), haptic.NewBus(rec, nil), time.Hour, nil, nil)
	sink := &events.Recorder{}
	d.sink = sink

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := d.Dispatch(ctx, DefaultCooldown, []string{"car"})
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !d.Running() {
		if time.Now().After(deadline) {
			t.Fatal("dispatch never started")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := d.Dispatch(context.Background(), 0, []string{"person"}); !errors.Is(err, ErrBusy) {
		t.Fatalf("second dispatch err = %v, want ErrBusy", err)
	}
	if st := d.Stats(); st.Current == nil || st.Current.Label != "car" || st.Busy != 1 {
		t.Errorf("stats = %+v, want car running and one busy", st)
	}
	if rec.Count("Start", haptic.ChannelRight) != 0 {
		t.Error("busy dispatch touched the right actuator")
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("first dispatch err = %v, want context.Canceled", err)
	}
	if d.Running() || rec.Playing(haptic.ChannelCenter) {
		t.Error("cancelled dispatch left state behind")
	}
	if sink.Count(events.TactonFinished) != 1 || sink.Count(events.TactonSkipped) != 1 {
		t.Errorf("events = %v", sink.Events())
	}
}

func TestDispatcher_ConcurrentStartsOnce(t *testing.T) {
	rec := haptic.NewRecorder(nil)
	d := NewDispatcher(DefaultTable(), haptic.NewBus(rec, nil), 50*time.Millisecond, nil, nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	played := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := d.Dispatch(context.Background(), DefaultCooldown, []string{"dog"}); err == nil {
				mu.Lock()
				played++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if played != 1 {
		t.Errorf("%d dispatches played, want 1", played)
	}
	if n := rec.Count("Start", haptic.ChannelCenter); n != 1 {
		t.Errorf("center started %d times, want 1", n)
	}
}

func TestDispatcher_FailureReleases(t *testing.T) {
	d, rec, _ := newTestDispatcher(t)
	rec.FailFunc = func(op string, ch haptic.Channel) error {
		if op == "Start" {
			return errors.New("nack")
		}
		return nil
	}

	_, err := d.Dispatch(context.Background(), DefaultCooldown, []string{"chair"})
	if err == nil {
		t.Fatal("expected error")
	}
	if IsSkip(err) || !haptic.IsBusError(err) {
		t.Errorf("err = %v, want bus error", err)
	}
	if d.Running() {
		t.Error("failed dispatch left the flag set")
	}
	if !d.Last().IsZero() {
		t.Error("failed dispatch recorded a timestamp")
	}
	if rec.Count("Stop", haptic.ChannelLeft) != 1 {
		t.Error("failed dispatch did not try to stop the actuator")
	}

	rec.FailFunc = nil
	if _, err := d.Dispatch(context.Background(), DefaultCooldown, []string{"chair"}); err != nil {
		t.Errorf("retry after failure: %v", err)
	}
	if st := d.Stats(); st.Failed != 1 || st.Dispatched != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestDispatcher_YieldsToClickAlarm(t *testing.T) {
	rec := haptic.NewRecorder(nil)
	bus := haptic.NewBus(rec, nil)
	d := NewDispatcher(DefaultTable(), bus, time.Nanosecond, nil, nil)

	if err := bus.Claim(haptic.ChannelCenter, "click"); err != nil {
		t.Fatal(err)
	}
	_, err := d.Dispatch(context.Background(), DefaultCooldown, []string{"car"})
	if !errors.Is(err, ErrBusy) || !errors.Is(err, haptic.ErrChannelBusy) || !IsSkip(err) {
		t.Fatalf("err = %v, want ErrBusy wrapping ErrChannelBusy", err)
	}
	if len(rec.Calls()) != 0 {
		t.Errorf("actuator touched while the click alarm held it: %v", rec.Calls())
	}
	if d.Running() || !d.Last().IsZero() || d.Stats().Busy != 1 {
		t.Errorf("stats = %+v, want one busy skip and no cooldown", d.Stats())
	}
	if got := bus.Owner(haptic.ChannelCenter); got != "click" {
		t.Errorf("owner = %q, want click untouched", got)
	}

	// Other channels stay available.
	if _, err := d.Dispatch(context.Background(), DefaultCooldown, []string{"person"}); err != nil {
		t.Fatalf("person on right: %v", err)
	}

	bus.Release(haptic.ChannelCenter, "click")
	if _, err := d.Dispatch(context.Background(), 0, []string{"car"}); err != nil {
		t.Fatalf("car after release: %v", err)
	}
	for _, ch := range haptic.Channels {
		if owner := bus.Owner(ch); owner != "" {
			t.Errorf("%s still owned by %q after dispatch", ch, owner)
		}
	}
}

func TestDispatcher_HoldsChannelUntilStopped(t *testing.T) {
	rec := haptic.NewRecorder(nil)
	bus := haptic.NewBus(rec, nil)
	d := NewDispatcher(DefaultTable(), bus, time.Hour, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := d.Dispatch(ctx, DefaultCooldown, []string{"dog"})
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !rec.Playing(haptic.ChannelCenter) {
		if time.Now().After(deadline) {
			t.Fatal("tacton never started")
		}
		time.Sleep(time.Millisecond)
	}
	if err := bus.Claim(haptic.ChannelCenter, "click"); !errors.Is(err, haptic.ErrChannelBusy) {
		t.Errorf("claim during hold err = %v, want ErrChannelBusy", err)
	}

	cancel()
	<-done
	if err := bus.Claim(haptic.ChannelCenter, "click"); err != nil {
		t.Errorf("claim after tacton: %v", err)
	}
}

func TestDispatcher_FailureFreesChannel(t *testing.T) {
	rec := haptic.NewRecorder(nil)
	rec.FailFunc = func(op string, ch haptic.Channel) error {
		if op == "Start" {
			return errors.New("nack")
		}
		return nil
	}
	bus := haptic.NewBus(rec, nil)
	d := NewDispatcher(DefaultTable(), bus, time.Nanosecond, nil, nil)

	if _, err := d.Dispatch(context.Background(), DefaultCooldown, []string{"sink"}); err == nil {
		t.Fatal("expected error")
	}
	if got := bus.Owner(haptic.ChannelLeft); got != "" {
		t.Errorf("left owned by %q after failed tacton", got)
	}
}

func TestDetectionTask_Step(t *testing.T) {
	tests := []struct {
		name      string
		mode      mode.Mode
		frames    [][]string
		wantSpawn int
		wantLabel string
	}{
		{"proximity mode is ignored", mode.Proximity, [][]string{{"car"}}, 0, ""},
		{"empty frame", mode.Detection, [][]string{nil}, 0, ""},
		{"unknown objects still spawn", mode.Detection, [][]string{{"banana"}}, 1, ""},
		{"priority pick", mode.Detection, [][]string{{"chair", "car"}}, 1, "car"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d, rec, _ := newTestDispatcher(t)
			sp := &heldSpawner{}
			sink := &events.Recorder{}
			task := NewDetectionTask(DefaultDetectionConfig(),
				detection.StaticCamera{Frame: []byte{0xFF, 0xD8}},
				detection.NewScript(tc.frames...),
				mode.NewState(tc.mode, nil, nil), d, sp, nil, sink)

			if err := task.Step(context.Background()); err != nil {
				t.Fatalf("Step: %v", err)
			}
			if len(sp.fns) != tc.wantSpawn {
				t.Fatalf("spawned %d, want %d", len(sp.fns), tc.wantSpawn)
			}
			if tc.wantSpawn == 0 {
				return
			}
			if sp.names[0] != "tacton" {
				t.Errorf("sub-task name = %q", sp.names[0])
			}
			if sink.Count(events.ObjectsDetected) != 1 {
				t.Error("objects.detected not emitted")
			}
			if err := sp.fns[0](context.Background()); err != nil {
				t.Fatalf("sub-task: %v", err)
			}
			last := d.Stats()
			if tc.wantLabel == "" {
				if last.Dispatched != 0 || last.NoCandidate != 1 {
					t.Errorf("stats = %+v, want one no-candidate", last)
				}
				return
			}
			if last.Dispatched != 1 || rec.Count("Start", DefaultTable()[tc.wantLabel].Channel) != 1 {
				t.Errorf("stats = %+v, calls = %v", last, rec.Calls())
			}
		})
	}
}

func TestDetectionTask_SkipsWhileRunning(t *testing.T) {
	rec := haptic.NewRecorder(nil)
	d := NewDispatcher(DefaultTable(), haptic.NewBus(rec, nil), time.Hour, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Dispatch(ctx, 0, []string{"person"})

	deadline := time.Now().Add(2 * time.Second)
	for !d.Running() {
		if time.Now().After(deadline) {
			t.Fatal("dispatch never started")
		}
		time.Sleep(time.Millisecond)
	}

	sp := &heldSpawner{}
	task := NewDetectionTask(DefaultDetectionConfig(),
		detection.StaticCamera{}, detection.NewScript([]string{"car"}),
		mode.NewState(mode.Detection, nil, nil), d, sp, nil, nil)
	if err := task.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if len(sp.fns) != 0 {
		t.Error("spawned while a tacton was playing")
	}
	if got := task.Sighting().Labels; !reflect.DeepEqual(got, []string{"car"}) {
		t.Errorf("sighting = %v", got)
	}
}

type failingCamera struct{}

func (failingCamera) Capture() ([]byte, error) { return nil, errors.New("no frame") }
func (failingCamera) Close() error             { return nil }

func TestDetectionTask_CaptureErrorSkipsCycle(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	sp := &heldSpawner{}
	task := NewDetectionTask(DefaultDetectionConfig(), failingCamera{},
		detection.NewScript([]string{"car"}), mode.NewState(mode.Detection, nil, nil), d, sp, nil, nil)

	err := task.Step(context.Background())
	if err == nil || !strings.Contains(err.Error(), "capture frame") {
		t.Fatalf("err = %v, want capture error", err)
	}
	if len(sp.fns) != 0 {
		t.Error("spawned after failed capture")
	}
}
