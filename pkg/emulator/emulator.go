// Package emulator is a software capture device fed by a free running square wave on all input lines.
//
// All edge times are computed in base clock cycles from the wall clock, so an emulated capture
// is exact to one clock cycle and independent of scheduling jitter.
package emulator

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"edgecap/pkg/device"
	"edgecap/pkg/mode"
	"edgecap/pkg/port"

	"github.com/womat/debug"
)

// Config defines the emulated test signal.
type Config struct {
	// Frequency of the square wave (Hz).
	Frequency float64
	// DutyCycle is the high time of one period (0..1).
	DutyCycle float64
	// Phase delays the signal on a single input line.
	Phase [port.NumChannels]time.Duration
}

// Emulator implements device.Device and device.EdgeCounter.
type Emulator struct {
	mu sync.Mutex

	// now is the wall clock, epoch the origin of the signal.
	now   func() time.Time
	epoch time.Time

	// period and high time of the signal in clock cycles
	period int64
	high   int64
	offset [port.NumChannels]int64

	armed   bool
	running bool
	cfg     device.ArmConfig
	// start is the cycle the capture starts timing (arm time or trigger edge).
	start int64
	// end is the cycle the capture was stopped.
	end int64

	counting   bool
	countCh    port.Channel
	countStart int64
}

// New creates an emulator. If now is nil, time.Now is used.
func New(cfg Config, now func() time.Time) (*Emulator, error) {
	if cfg.Frequency <= 0 || cfg.Frequency > mode.ClockRate/2 {
		return nil, fmt.Errorf("%w: frequency %v Hz", port.ErrInvalidParam, cfg.Frequency)
	}
	if cfg.DutyCycle <= 0 || cfg.DutyCycle >= 1 {
		return nil, fmt.Errorf("%w: duty cycle %v", port.ErrInvalidParam, cfg.DutyCycle)
	}
	if now == nil {
		now = time.Now
	}

	e := &Emulator{now: now, epoch: now()}
	e.period = int64(float64(mode.ClockRate)/cfg.Frequency + 0.5)
	e.high = int64(float64(e.period)*cfg.DutyCycle + 0.5)
	if e.high < 1 {
		e.high = 1
	}
	if e.high >= e.period {
		e.high = e.period - 1
	}
	for i, p := range cfg.Phase {
		e.offset[i] = cycles(p)
	}

	debug.DebugLog.Printf("emulator: period %d cycles, high %d cycles", e.period, e.high)
	return e, nil
}

// Period returns the signal period in clock cycles.
func (e *Emulator) Period() int64 {
	return e.period
}

// Arm starts a capture.
func (e *Emulator) Arm(cfg device.ArmConfig) error {
	if len(cfg.Channels) == 0 || len(cfg.Channels) != len(cfg.Modes) {
		return fmt.Errorf("%w: %d channels, %d modes", port.ErrInvalidParam, len(cfg.Channels), len(cfg.Modes))
	}
	if cfg.Prescaler < 1 || cfg.CounterBits == 0 || cfg.CounterBits > 32 {
		return fmt.Errorf("%w: prescaler %d, counter bits %d", port.ErrInvalidParam, cfg.Prescaler, cfg.CounterBits)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.cycle()
	e.cfg = cfg
	e.cfg.Channels = append([]port.Channel(nil), cfg.Channels...)
	e.cfg.Modes = append([]mode.Mode(nil), cfg.Modes...)
	e.armed, e.running = true, true
	e.start = now

	if t := cfg.Trigger; t != nil && t.Edge != port.EdgeNone {
		e.start = e.nthEdge(t.Channel, t.Edge, now, 1)
	}
	return nil
}

// Poll returns the number of captured events per stream.
func (e *Emulator) Poll() ([]int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.armed {
		return nil, device.ErrNotArmed
	}

	upTo := e.upTo()
	counts := make([]int, len(e.cfg.Channels))
	for i := range counts {
		counts[i] = e.recorded(i, upTo)
	}
	return counts, nil
}

type event struct {
	at     int64
	stream int
}

// ReadBuffer copies the captured samples in arrival order into dst.
func (e *Emulator) ReadBuffer(dst []port.Sample) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.armed {
		return 0, device.ErrNotArmed
	}

	upTo := e.upTo()
	var events []event
	for i, ch := range e.cfg.Channels {
		m := e.cfg.Modes[i]
		for j := 1; j <= e.recorded(i, upTo); j++ {
			events = append(events, event{at: e.nthEdge(ch, m.Edge, e.start, j*m.Divisor), stream: i})
		}
	}
	sort.SliceStable(events, func(a, b int) bool {
		if events[a].at != events[b].at {
			return events[a].at < events[b].at
		}
		return events[a].stream < events[b].stream
	})

	mask := mode.CounterMax(e.cfg.CounterBits)
	n := 0
	for _, ev := range events {
		if n == len(dst) {
			break
		}
		ticks := uint64(ev.at-e.start) / uint64(e.cfg.Prescaler)
		dst[n] = port.Sample{Stream: uint8(ev.stream), Ticks: uint32(ticks & mask)}
		n++
	}
	return n, nil
}

// Stop freezes the capture.
func (e *Emulator) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		e.end = e.cycle()
		e.running = false
	}
	return nil
}

// ReadStates returns the current level of every input line.
func (e *Emulator) ReadStates() ([port.NumChannels]bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.levels(e.cycle()), nil
}

// StartStates returns the levels one cycle before the capture start. Edges at the start cycle are
// recorded, so they are not part of the start levels.
func (e *Emulator) StartStates() ([port.NumChannels]bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.armed {
		return [port.NumChannels]bool{}, device.ErrNotArmed
	}
	return e.levels(e.start - 1), nil
}

func (e *Emulator) levels(at int64) [port.NumChannels]bool {
	var s [port.NumChannels]bool
	for _, ch := range port.Channels {
		s[ch] = floorMod(at-e.offset[ch], e.period) < e.high
	}
	return s
}

// StartCounting counts every edge on ch from now on.
func (e *Emulator) StartCounting(ch port.Channel) error {
	if !ch.Valid() {
		return fmt.Errorf("%w: channel %v", port.ErrInvalidParam, ch)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.counting = true
	e.countCh = ch
	e.countStart = e.cycle()
	return nil
}

// ReadCount returns the number of edges since StartCounting.
func (e *Emulator) ReadCount() (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.counting {
		return 0, nil
	}
	return int(e.edgeCount(e.countCh, port.EdgeBoth, e.countStart, e.cycle())), nil
}

// Close releases the emulator.
func (e *Emulator) Close() error {
	return e.Stop()
}

// cycle returns the current time in clock cycles since epoch.
func (e *Emulator) cycle() int64 {
	return cycles(e.now().Sub(e.epoch))
}

func (e *Emulator) upTo() int64 {
	if e.running {
		return e.cycle()
	}
	return e.end
}

// recorded returns the number of events of stream i up to cycle upTo.
func (e *Emulator) recorded(i int, upTo int64) int {
	m := e.cfg.Modes[i]
	n := int(e.edgeCount(e.cfg.Channels[i], m.Edge, e.start, upTo)) / m.Divisor
	if n > e.cfg.Events {
		n = e.cfg.Events
	}
	return n
}

// edgeCount returns the number of edges of the given polarity on ch within [from, to].
func (e *Emulator) edgeCount(ch port.Channel, edge port.Edge, from, to int64) int64 {
	rising := e.offset[ch]
	falling := rising + e.high

	switch edge {
	case port.EdgeRising:
		return countIn(from, to, rising, e.period)
	case port.EdgeFalling:
		return countIn(from, to, falling, e.period)
	case port.EdgeBoth:
		return countIn(from, to, rising, e.period) + countIn(from, to, falling, e.period)
	}
	return 0
}

// nthEdge returns the cycle of the n-th (n >= 1) edge of the given polarity on ch at or after from.
func (e *Emulator) nthEdge(ch port.Channel, edge port.Edge, from int64, n int) int64 {
	r := atOrAfter(from, e.offset[ch], e.period)
	f := atOrAfter(from, e.offset[ch]+e.high, e.period)
	k := int64(n - 1)

	switch edge {
	case port.EdgeRising:
		return r + k*e.period
	case port.EdgeFalling:
		return f + k*e.period
	}

	first, second := r, f
	if f < r {
		first, second = f, r
	}
	if n%2 == 1 {
		return first + k/2*e.period
	}
	return second + (k-1)/2*e.period
}

// cycles converts a duration to clock cycles.
func cycles(d time.Duration) int64 {
	s := int64(d / time.Second)
	rem := int64(d % time.Second)
	return s*mode.ClockRate + rem*mode.ClockRate/int64(time.Second)
}

// countIn returns the number of k with from <= offset + k*period <= to.
func countIn(from, to, offset, period int64) int64 {
	if to < from {
		return 0
	}
	n := floorDiv(to-offset, period) - ceilDiv(from-offset, period) + 1
	if n < 0 {
		return 0
	}
	return n
}

// atOrAfter returns the first offset + k*period >= x.
func atOrAfter(x, offset, period int64) int64 {
	return offset + ceilDiv(x-offset, period)*period
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

func ceilDiv(a, b int64) int64 {
	return -floorDiv(-a, b)
}

func floorMod(a, b int64) int64 {
	return a - floorDiv(a, b)*b
}
