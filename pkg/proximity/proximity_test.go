package proximity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/teslashibe/go-tacton/pkg/mode"
)

func TestMapPeriod(t *testing.T) {
	tests := []struct {
		name   string
		sample int
		want   time.Duration
	}{
		{"domain start", 200, 100 * time.Millisecond},
		{"domain end", 4000, 3000 * time.Millisecond},
		{"midpoint", 2100, 1550 * time.Millisecond},
		{"below domain clamps", 100, 100 * time.Millisecond},
		{"far below domain clamps", -500, 100 * time.Millisecond},
		{"above domain clamps", 5000, 3000 * time.Millisecond},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := MapPeriod(tc.sample); got != tc.want {
				t.Errorf("MapPeriod(%d) = %v, want %v", tc.sample, got, tc.want)
			}
		})
	}
}

func TestMapPeriod_Monotonic(t *testing.T) {
	prev := MapPeriod(200)
	for d := 201; d <= 4000; d++ {
		p := MapPeriod(d)
		if p < prev {
			t.Fatalf("MapPeriod(%d) = %v < MapPeriod(%d) = %v", d, p, d-1, prev)
		}
		if p%time.Millisecond != 0 {
			t.Fatalf("MapPeriod(%d) = %v is not whole milliseconds", d, p)
		}
		prev = p
	}
}

func TestMapping_DegenerateDomain(t *testing.T) {
	m := Mapping{DistanceMin: 500, DistanceMax: 500, PeriodMin: time.Second, PeriodMax: 2 * time.Second}
	if got := m.Period(500); got != time.Second {
		t.Errorf("Period = %v, want PeriodMin", got)
	}
}

func TestWindow_EvictsOldest(t *testing.T) {
	w := NewWindow(3)
	if w.Mean() != 0 {
		t.Errorf("empty mean = %v, want 0", w.Mean())
	}

	for _, v := range []int{10, 20, 30, 40} {
		w.Push(v)
	}

	got := w.Samples()
	want := []int{20, 30, 40}
	if len(got) != len(want) {
		t.Fatalf("samples = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("samples = %v, want %v", got, want)
		}
	}
	if w.Mean() != 30 {
		t.Errorf("mean = %v, want 30", w.Mean())
	}
}

func TestWindow_DefaultSize(t *testing.T) {
	w := NewWindow(0)
	for i := 0; i < 120; i++ {
		w.Push(i)
	}
	if w.Len() != DefaultWindowSize {
		t.Errorf("len = %d, want %d", w.Len(), DefaultWindowSize)
	}
	if s := w.Samples(); s[0] != 70 {
		t.Errorf("oldest = %d, want 70", s[0])
	}
}

type fakeSensor struct {
	values []int
	err    error
	i      int
}

func (f *fakeSensor) Read() (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	v := f.values[f.i%len(f.values)]
	f.i++
	return v, nil
}

type fakeClicker struct {
	periods []time.Duration
}

func (f *fakeClicker) Request(ctx context.Context, p time.Duration) error {
	f.periods = append(f.periods, p)
	return nil
}

func TestTask_GatedByMode(t *testing.T) {
	state := mode.NewState(mode.Detection, nil, nil)
	clicks := &fakeClicker{}
	task := NewTask(DefaultConfig(), &fakeSensor{values: []int{200}}, state, clicks, nil)

	if err := task.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if len(clicks.periods) != 0 {
		t.Error("detection mode must not request clicks")
	}

	state.Set(mode.Proximity)
	if err := task.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if len(clicks.periods) != 1 || clicks.periods[0] != 100*time.Millisecond {
		t.Errorf("periods = %v, want [100ms]", clicks.periods)
	}
}

func TestTask_MapsRawSampleNotMean(t *testing.T) {
	state := mode.NewState(mode.Proximity, nil, nil)
	clicks := &fakeClicker{}
	task := NewTask(DefaultConfig(), &fakeSensor{values: []int{4000, 200}}, state, clicks, nil)

	task.Step(context.Background())
	task.Step(context.Background())

	// Second sample is 200 raw, while the mean is 2100.
	if clicks.periods[1] != 100*time.Millisecond {
		t.Errorf("period = %v, want 100ms from the raw sample", clicks.periods[1])
	}
	snap := task.Snapshot()
	if snap.Mean != 2100 || snap.Sample != 200 || snap.Samples != 2 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestTask_UseSmoothed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UseSmoothed = true
	state := mode.NewState(mode.Proximity, nil, nil)
	clicks := &fakeClicker{}
	task := NewTask(cfg, &fakeSensor{values: []int{4000, 200}}, state, clicks, nil)

	task.Step(context.Background())
	task.Step(context.Background())

	if clicks.periods[1] != 1550*time.Millisecond {
		t.Errorf("period = %v, want 1550ms from the mean", clicks.periods[1])
	}
}

func TestTask_ReadFailureSkipsCycle(t *testing.T) {
	boom := errors.New("i2c timeout")
	state := mode.NewState(mode.Proximity, nil, nil)
	clicks := &fakeClicker{}
	task := NewTask(DefaultConfig(), &fakeSensor{err: boom}, state, clicks, nil)

	if err := task.Step(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Step error = %v, want wrapped sensor error", err)
	}
	if len(clicks.periods) != 0 || task.Window().Len() != 0 {
		t.Error("a failed read must not touch the window or request a click")
	}
}
