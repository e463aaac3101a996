// Package raspberry is the capture device on the gpio lines of a Raspberry Pi.
//
// Edges are reported by the kernel gpio character device with their event timestamps.
// The timestamps are converted to counter ticks of the configured prescaler relative to the
// capture start, so a gpio capture produces the same raw samples as the capture hardware.
package raspberry

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"edgecap/pkg/device"
	"edgecap/pkg/mode"
	"edgecap/pkg/port"
)

// ErrUnsupported is returned by Open on platforms without gpio character devices.
var ErrUnsupported = errors.New("gpio character device not supported on this platform")

// Bias is the line terminator.
type Bias int

const (
	BiasNone Bias = iota
	PullUp
	PullDown
)

// ParseBias converts pullup, pulldown or none to a Bias.
func ParseBias(s string) (Bias, error) {
	switch strings.ToLower(s) {
	case "pullup":
		return PullUp, nil
	case "pulldown":
		return PullDown, nil
	case "none", "":
		return BiasNone, nil
	}
	return BiasNone, fmt.Errorf("%w: unknown bias %q", port.ErrInvalidParam, s)
}

// Config defines the gpio lines used as input ports.
type Config struct {
	// Chip is the gpio chip name, e.g. gpiochip0.
	Chip string
	// Lines are the line offsets of ID1..ID4.
	Lines [port.NumChannels]int
	Bias  Bias
}

// recorder turns timestamped line events into raw capture samples.
// Timestamps are durations on the kernel event clock.
type recorder struct {
	mu sync.Mutex

	armed   bool
	running bool
	cfg     device.ArmConfig
	mask    uint64

	// triggered is set once timing started; start is the event time of tick 0.
	triggered bool
	start     time.Duration

	// level follows the line events, initial is the level right before start.
	level   [port.NumChannels]bool
	initial [port.NumChannels]bool

	// edges counts the qualifying edges per stream, used for the divisors.
	edges   []int
	counts  []int
	samples []port.Sample

	counting bool
	countCh  port.Channel
	since    time.Duration
	count    int
}

func (r *recorder) arm(cfg device.ArmConfig, now time.Duration) error {
	if len(cfg.Channels) == 0 || len(cfg.Channels) != len(cfg.Modes) {
		return fmt.Errorf("%w: %d channels, %d modes", port.ErrInvalidParam, len(cfg.Channels), len(cfg.Modes))
	}
	if cfg.Prescaler < 1 || cfg.CounterBits == 0 || cfg.CounterBits > 32 {
		return fmt.Errorf("%w: prescaler %d, counter bits %d", port.ErrInvalidParam, cfg.Prescaler, cfg.CounterBits)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.cfg = cfg
	r.cfg.Channels = append([]port.Channel(nil), cfg.Channels...)
	r.cfg.Modes = append([]mode.Mode(nil), cfg.Modes...)
	r.mask = mode.CounterMax(cfg.CounterBits)
	r.edges = make([]int, len(cfg.Channels))
	r.counts = make([]int, len(cfg.Channels))
	r.samples = make([]port.Sample, 0, mode.MaxSamples)
	r.armed, r.running = true, true

	r.start = now
	r.triggered = cfg.Trigger == nil || cfg.Trigger.Edge == port.EdgeNone
	r.initial = r.level
	return nil
}

// setLevels sets the line levels read from the device.
func (r *recorder) setLevels(levels [port.NumChannels]bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.level = levels
}

func (r *recorder) startStates() ([port.NumChannels]bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.armed {
		return r.initial, device.ErrNotArmed
	}
	return r.initial, nil
}

// event records an edge on ch at ts.
func (r *recorder) event(ch port.Channel, edge port.Edge, ts time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.counting && ch == r.countCh && ts >= r.since {
		r.count++
	}

	// events are delivered in order, but may arrive after the capture start they precede
	before := r.level
	r.level[ch] = edge == port.EdgeRising
	if r.armed && ts < r.start {
		r.initial[ch] = r.level[ch]
	}

	if !r.running || ts < r.start {
		return
	}

	if !r.triggered {
		if t := r.cfg.Trigger; ch != t.Channel || !t.Edge.Matches(edge) {
			return
		}
		r.triggered = true
		r.start = ts
		r.initial = before
	}

	for i, c := range r.cfg.Channels {
		m := r.cfg.Modes[i]
		if c != ch || !m.Edge.Matches(edge) || r.counts[i] >= r.cfg.Events {
			continue
		}

		r.edges[i]++
		if r.edges[i]%m.Divisor != 0 || len(r.samples) == cap(r.samples) {
			continue
		}

		r.counts[i]++
		r.samples = append(r.samples, port.Sample{Stream: uint8(i), Ticks: uint32(r.ticks(ts) & r.mask)})
	}
}

// ticks converts an event time to prescaled counter ticks since start.
func (r *recorder) ticks(ts time.Duration) uint64 {
	d := uint64(ts - r.start)
	s, ns := d/uint64(time.Second), d%uint64(time.Second)
	cyc := s*mode.ClockRate + ns*mode.ClockRate/uint64(time.Second)
	return cyc / uint64(r.cfg.Prescaler)
}

func (r *recorder) poll() ([]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.armed {
		return nil, device.ErrNotArmed
	}
	return append([]int(nil), r.counts...), nil
}

func (r *recorder) read(dst []port.Sample) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.armed {
		return 0, device.ErrNotArmed
	}
	return copy(dst, r.samples), nil
}

func (r *recorder) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = false
}

func (r *recorder) startCounting(ch port.Channel, now time.Duration) error {
	if !ch.Valid() {
		return fmt.Errorf("%w: channel %v", port.ErrInvalidParam, ch)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.counting = true
	r.countCh = ch
	r.since = now
	r.count = 0
	return nil
}

func (r *recorder) readCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
