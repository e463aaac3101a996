package emulator

import (
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"edgecap/pkg/device"
	"edgecap/pkg/mode"
	"edgecap/pkg/port"

	"github.com/womat/debug"
)

func TestMain(m *testing.M) {
	debug.SetDebug(os.Stderr, debug.Standard)
	os.Exit(m.Run())
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2021, 7, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// newEmulator returns a 100 kHz, 50% emulator: period 640 cycles, high 320 cycles.
func newEmulator(t *testing.T) (*Emulator, *fakeClock) {
	t.Helper()
	c := newFakeClock()
	e, err := New(Config{Frequency: 1e5, DutyCycle: 0.5}, c.Now)
	if err != nil {
		t.Fatal(err)
	}
	return e, c
}

func arm(t *testing.T, e *Emulator, cfg device.ArmConfig) {
	t.Helper()
	if cfg.Prescaler == 0 {
		cfg.Prescaler = 1
	}
	if cfg.CounterBits == 0 {
		cfg.CounterBits = 32
	}
	if err := e.Arm(cfg); err != nil {
		t.Fatal(err)
	}
}

func read(t *testing.T, e *Emulator) []port.Sample {
	t.Helper()
	buf := make([]port.Sample, mode.MaxSamples)
	n, err := e.ReadBuffer(buf)
	if err != nil {
		t.Fatal(err)
	}
	return buf[:n]
}

func TestNewRejectsInvalidSignal(t *testing.T) {
	tests := []Config{
		{Frequency: 0, DutyCycle: 0.5},
		{Frequency: 1e9, DutyCycle: 0.5},
		{Frequency: 100, DutyCycle: 0},
		{Frequency: 100, DutyCycle: 1},
	}
	for _, cfg := range tests {
		if _, err := New(cfg, nil); !errors.Is(err, port.ErrInvalidParam) {
			t.Errorf("New(%+v) error = %v, want ErrInvalidParam", cfg, err)
		}
	}
}

func TestNotArmed(t *testing.T) {
	e, _ := newEmulator(t)
	if _, err := e.Poll(); !errors.Is(err, device.ErrNotArmed) {
		t.Errorf("Poll() error = %v", err)
	}
	if _, err := e.ReadBuffer(make([]port.Sample, 1)); !errors.Is(err, device.ErrNotArmed) {
		t.Errorf("ReadBuffer() error = %v", err)
	}
}

func TestAnyEdges(t *testing.T) {
	e, c := newEmulator(t)
	arm(t, e, device.ArmConfig{Channels: []port.Channel{port.ID1}, Modes: []mode.Mode{mode.Any.Mode()}, Events: 10})

	c.Advance(100 * time.Microsecond)

	counts, err := e.Poll()
	if err != nil || len(counts) != 1 || counts[0] != 10 {
		t.Fatalf("Poll() = %v, %v; want [10]", counts, err)
	}

	samples := read(t, e)
	if len(samples) != 10 {
		t.Fatalf("got %d samples, want 10", len(samples))
	}
	for i, s := range samples {
		if want := uint32(i * 320); s.Ticks != want || s.Stream != 0 {
			t.Errorf("sample %d = %+v, want ticks %d", i, s, want)
		}
	}
}

func TestDivisorSpacing(t *testing.T) {
	e, c := newEmulator(t)
	arm(t, e, device.ArmConfig{
		Channels: []port.Channel{port.ID1, port.ID2, port.ID3},
		Modes:    []mode.Mode{mode.Rising.Mode(), mode.FourRising.Mode(), mode.SixteenRising.Mode()},
		Events:   3,
	})

	c.Advance(time.Millisecond)

	want := [][]uint32{
		{0, 640, 1280},
		{3 * 640, 7 * 640, 11 * 640},
		{15 * 640, 31 * 640, 47 * 640},
	}
	got := make([][]uint32, 3)
	var last uint32
	for _, s := range read(t, e) {
		if s.Ticks < last {
			t.Errorf("samples not in arrival order: %d after %d", s.Ticks, last)
		}
		last = s.Ticks
		got[s.Stream] = append(got[s.Stream], s.Ticks)
	}
	for i := range want {
		if len(got[i]) != len(want[i]) {
			t.Fatalf("stream %d = %v, want %v", i, got[i], want[i])
		}
		for j := range want[i] {
			if got[i][j] != want[i][j] {
				t.Errorf("stream %d[%d] = %d, want %d", i, j, got[i][j], want[i][j])
			}
		}
	}
}

func TestTrigger(t *testing.T) {
	e, c := newEmulator(t)
	c.Advance(time.Microsecond) // 64 cycles into a high phase

	arm(t, e, device.ArmConfig{
		Channels: []port.Channel{port.ID1},
		Modes:    []mode.Mode{mode.Any.Mode()},
		Events:   2,
		Trigger:  &device.Trigger{Channel: port.ID1, Edge: port.EdgeFalling},
	})

	if counts, _ := e.Poll(); counts[0] != 0 {
		t.Errorf("captured %d events before the trigger edge", counts[0])
	}

	c.Advance(10 * time.Microsecond)

	samples := read(t, e)
	if len(samples) != 2 || samples[0].Ticks != 0 || samples[1].Ticks != 320 {
		t.Errorf("samples = %+v, want ticks [0 320]", samples)
	}
}

func TestStopFreezesCapture(t *testing.T) {
	e, c := newEmulator(t)
	arm(t, e, device.ArmConfig{Channels: []port.Channel{port.ID1}, Modes: []mode.Mode{mode.Any.Mode()}, Events: 100})

	c.Advance(5 * time.Microsecond)
	if err := e.Stop(); err != nil {
		t.Fatal(err)
	}
	c.Advance(time.Millisecond)
	_ = e.Stop()

	counts, _ := e.Poll()
	if counts[0] != 2 {
		t.Errorf("Poll() after stop = %v, want [2]", counts)
	}
	if n := len(read(t, e)); n != 2 {
		t.Errorf("ReadBuffer() after stop = %d samples, want 2", n)
	}
}

func TestCounterWraps(t *testing.T) {
	c := newFakeClock()
	e, err := New(Config{Frequency: 100, DutyCycle: 0.5}, c.Now)
	if err != nil {
		t.Fatal(err)
	}
	arm(t, e, device.ArmConfig{
		Channels:    []port.Channel{port.ID1, port.ID2, port.ID3},
		Modes:       []mode.Mode{mode.Rising.Mode(), mode.Rising.Mode(), mode.Rising.Mode()},
		Events:      3,
		CounterBits: 16,
		Prescaler:   1,
	})

	c.Advance(25 * time.Millisecond)

	for _, s := range read(t, e) {
		if s.Ticks > 0xffff {
			t.Errorf("ticks %d exceed the 16 bit counter", s.Ticks)
		}
	}
	if counts, _ := e.Poll(); counts[0] != 3 {
		t.Errorf("Poll() = %v", counts)
	}
}

func TestReadStates(t *testing.T) {
	c := newFakeClock()
	e, err := New(Config{Frequency: 1e5, DutyCycle: 0.5, Phase: [4]time.Duration{0, 0, 0, 5 * time.Microsecond}}, c.Now)
	if err != nil {
		t.Fatal(err)
	}

	c.Advance(time.Microsecond)
	s, _ := e.ReadStates()
	if want := [4]bool{true, true, true, false}; s != want {
		t.Errorf("ReadStates() = %v, want %v", s, want)
	}

	c.Advance(5 * time.Microsecond)
	s, _ = e.ReadStates()
	if want := [4]bool{false, false, false, true}; s != want {
		t.Errorf("ReadStates() = %v, want %v", s, want)
	}
}

func TestStartStates(t *testing.T) {
	c := newFakeClock()
	e, err := New(Config{Frequency: 1e5, DutyCycle: 0.5, Phase: [4]time.Duration{0, 0, 0, 5 * time.Microsecond}}, c.Now)
	if err != nil {
		t.Fatal(err)
	}
	if _, err = e.StartStates(); !errors.Is(err, device.ErrNotArmed) {
		t.Errorf("StartStates() before arm error = %v", err)
	}

	// ID1..ID3 rise at the arm cycle: the edges are captured, the start levels are low
	arm(t, e, device.ArmConfig{Channels: []port.Channel{port.ID1}, Modes: []mode.Mode{mode.Any.Mode()}, Events: 10})
	s, _ := e.StartStates()
	if want := [4]bool{false, false, false, true}; s != want {
		t.Errorf("StartStates() = %v, want %v", s, want)
	}
	if now, _ := e.ReadStates(); now == s {
		t.Errorf("ReadStates() = %v, equal to the start levels", now)
	}

	arm(t, e, device.ArmConfig{
		Channels: []port.Channel{port.ID1},
		Modes:    []mode.Mode{mode.Any.Mode()},
		Events:   10,
		Trigger:  &device.Trigger{Channel: port.ID1, Edge: port.EdgeFalling},
	})
	s, _ = e.StartStates()
	if want := [4]bool{true, true, true, false}; s != want {
		t.Errorf("StartStates() with falling trigger = %v, want %v", s, want)
	}
}

func TestEdgeCounter(t *testing.T) {
	e, c := newEmulator(t)
	if n, _ := e.ReadCount(); n != 0 {
		t.Errorf("ReadCount() before start = %d", n)
	}
	if err := e.StartCounting(port.ID2); err != nil {
		t.Fatal(err)
	}
	c.Advance(time.Millisecond)
	if n, _ := e.ReadCount(); n != 201 {
		t.Errorf("ReadCount() = %d, want 201", n)
	}
	if err := e.StartCounting(port.Channel(9)); !errors.Is(err, port.ErrInvalidParam) {
		t.Errorf("StartCounting(9) error = %v", err)
	}
}
