// Package capture runs edge capture sessions on a device.
//
// A session is armed on a device, watched by a background goroutine which polls the device
// until all requested events are captured, the timeout elapses or the session is stopped,
// and finally drains the device buffer into the session's sample arena.
//
//	Idle -> Armed -> Completed | TimedOut | Stopped
package capture

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"edgecap/pkg/decoder"
	"edgecap/pkg/device"
	"edgecap/pkg/mode"
	"edgecap/pkg/port"

	"github.com/womat/debug"
)

var (
	ErrTooManyChannels = fmt.Errorf("%w: channel count must be 1-%d", port.ErrInvalidParam, port.NumChannels)
	ErrBufferOverflow  = fmt.Errorf("%w: requested events exceed the sample buffer", port.ErrInvalidParam)
	ErrTimeout         = errors.New("capture timed out")
)

const (
	// DefaultTimeout is used for sessions without a timeout.
	DefaultTimeout = time.Second
	// pollInterval is the period the device is polled for progress.
	pollInterval = 2 * time.Millisecond
)

// State is the state of a capture session.
type State int

const (
	// Idle is the state before the device is armed.
	Idle State = iota
	// Armed is the state while the device captures.
	Armed
	// Completed is the state after all requested events are captured.
	Completed
	// TimedOut is the state after the timeout elapsed.
	TimedOut
	// Stopped is the state after Stop or a device error.
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Completed:
		return "completed"
	case TimedOut:
		return "timed out"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Config holds the parameters of a capture session.
type Config struct {
	// Channels are captured one stream each; a channel may be repeated with another mode.
	Channels []port.Channel
	// Modes are aligned with Channels.
	Modes []mode.Mode
	// Events is the number of events to capture per stream.
	Events int
	// E2E is the expected time between two recorded events of a stream. It selects the prescaler.
	E2E time.Duration
	// Timeout is measured from arm time. Zero means DefaultTimeout.
	Timeout time.Duration
	// Trigger is optional.
	Trigger *device.Trigger
}

// Validate checks the configuration against the device limits.
func (c Config) Validate() error {
	n := len(c.Channels)
	if n < 1 || n > port.NumChannels {
		return fmt.Errorf("%w, got %d", ErrTooManyChannels, n)
	}
	for _, ch := range c.Channels {
		if !ch.Valid() {
			return fmt.Errorf("%w: channel %v", port.ErrInvalidParam, ch)
		}
	}
	if len(c.Modes) != n {
		return fmt.Errorf("%w: %d modes for %d channels", port.ErrInvalidParam, len(c.Modes), n)
	}
	if c.Events < 1 {
		return fmt.Errorf("%w: %d events", port.ErrInvalidParam, c.Events)
	}
	if c.Events > mode.MaxChannelSamples || c.Events*n > mode.MaxSamples {
		return fmt.Errorf("%w: %d events on %d channels, at most %d per channel", ErrBufferOverflow, c.Events, n, mode.MaxChannelSamples)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("%w: negative timeout %v", port.ErrInvalidParam, c.Timeout)
	}
	if t := c.Trigger; t != nil && (!t.Channel.Valid() || t.Edge < port.EdgeNone || t.Edge > port.EdgeBoth) {
		return fmt.Errorf("%w: trigger %v %v", port.ErrInvalidParam, t.Channel, t.Edge)
	}
	return nil
}

// Session is one capture on a device.
type Session struct {
	dev       device.Device
	slot      *Slot
	cfg       Config
	prescaler int
	bits      uint
	started   time.Time

	// mu guards state, progress, err, buf and initial.
	mu       sync.Mutex
	state    State
	progress []int
	err      error
	buf      decoder.Buffer
	initial  [port.NumChannels]bool

	// quit stops the watcher
	quit     chan struct{}
	stopOnce sync.Once
	// done signals that the watcher is terminated
	done chan struct{}
}

// Arm validates cfg, selects the prescaler, takes the device slot and arms the device.
// All parameter errors are returned before any device I/O.
func Arm(dev device.Device, slot *Slot, cfg Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	prescaler, err := mode.SelectPrescaler(cfg.Modes, cfg.E2E, len(cfg.Channels))
	if err != nil {
		return nil, err
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	cfg.Channels = append([]port.Channel(nil), cfg.Channels...)
	cfg.Modes = append([]mode.Mode(nil), cfg.Modes...)

	if err = slot.TryAcquire(); err != nil {
		return nil, err
	}

	s := &Session{
		dev:       dev,
		slot:      slot,
		cfg:       cfg,
		prescaler: prescaler,
		bits:      mode.CounterBits(len(cfg.Channels)),
		state:     Idle,
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	err = dev.Arm(device.ArmConfig{
		Channels:    cfg.Channels,
		Modes:       cfg.Modes,
		Prescaler:   prescaler,
		CounterBits: s.bits,
		Events:      cfg.Events,
		Trigger:     cfg.Trigger,
	})
	if err != nil {
		slot.Release()
		return nil, fmt.Errorf("arm device: %w", err)
	}

	s.started = time.Now()
	s.state = Armed
	debug.DebugLog.Printf("capture armed: channels %v, modes %v, %d events, prescaler %d, %d bit counter, timeout %v",
		cfg.Channels, cfg.Modes, cfg.Events, prescaler, s.bits, cfg.Timeout)

	go s.run()
	return s, nil
}

// run polls the device until the session leaves Armed.
func (s *Session) run() {
	defer close(s.done)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	timeout := time.NewTimer(s.cfg.Timeout - time.Since(s.started))
	defer timeout.Stop()

	for {
		select {
		case <-s.quit:
			s.finish(Stopped, s.dev.Stop())
			return
		case <-timeout.C:
			s.finish(TimedOut, s.dev.Stop())
			return
		case <-ticker.C:
			counts, err := s.dev.Poll()
			if err != nil {
				debug.ErrorLog.Printf("poll device: %v", err)
				s.finish(Stopped, errors.Join(fmt.Errorf("poll device: %w", err), s.dev.Stop()))
				return
			}

			debug.TraceLog.Printf("capture progress: %v", counts)
			if s.complete(counts) {
				s.finish(Completed, s.dev.Stop())
				return
			}
		}
	}
}

func (s *Session) complete(counts []int) bool {
	if len(counts) < len(s.cfg.Channels) {
		return false
	}
	for i := range s.cfg.Channels {
		if counts[i] < s.cfg.Events {
			return false
		}
	}
	return true
}

// finish drains the device buffer, sets the final state and releases the device slot.
func (s *Session) finish(state State, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, rerr := s.buf.ReadFrom(s.dev); rerr != nil && err == nil {
		err = fmt.Errorf("read buffer: %w", rerr)
	}
	initial, serr := s.dev.StartStates()
	if serr != nil && err == nil {
		err = fmt.Errorf("read start states: %w", serr)
	}
	s.initial = initial

	s.progress = s.buf.Counts(len(s.cfg.Channels))
	for i, n := range s.progress {
		if n > s.cfg.Events {
			s.progress[i] = s.cfg.Events
		}
	}

	s.state = state
	s.err = err
	s.slot.Release()

	if err != nil {
		debug.ErrorLog.Printf("capture %v: %v", state, err)
	}
	debug.DebugLog.Printf("capture %v after %v, events %v", state, time.Since(s.started), s.progress)
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Progress returns the number of events captured per stream.
// It does not change the session state and may be called at any time.
func (s *Session) Progress() ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Armed {
		return append([]int(nil), s.progress...), nil
	}

	counts, err := s.dev.Poll()
	if err != nil {
		return nil, fmt.Errorf("poll device: %w", err)
	}

	p := make([]int, len(s.cfg.Channels))
	for i := range p {
		if i < len(counts) {
			p[i] = counts[i]
		}
		if p[i] > s.cfg.Events {
			p[i] = s.cfg.Events
		}
	}
	return p, nil
}

// Wait blocks until the session left Armed.
func (s *Session) Wait() State {
	<-s.done
	return s.State()
}

// Done returns a channel which is closed when the session left Armed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Stop aborts the capture. Events captured so far are kept.
// Stop is idempotent and may be called concurrently with Wait or Fetch.
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.quit) })
	<-s.done
}

// Fetch waits until the session left Armed and returns the decoded timestamps (µs) per stream.
// After a timeout or stop the streams may be shorter than requested, their lengths match Progress.
func (s *Session) Fetch() ([][]float64, error) {
	<-s.done

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}

	ts := decoder.Decode(s.buf.Samples(), len(s.cfg.Channels), s.prescaler, s.bits)
	for i := range ts {
		if len(ts[i]) > s.cfg.Events {
			ts[i] = ts[i][:s.cfg.Events]
		}
	}
	return ts, nil
}

// Config returns the session configuration.
func (s *Session) Config() Config {
	return s.cfg
}

// Prescaler returns the selected clock divisor.
func (s *Session) Prescaler() int {
	return s.prescaler
}

// CounterBits returns the width of the counter used.
func (s *Session) CounterBits() uint {
	return s.bits
}

// InitialStates returns the input levels right before the capture start (the trigger edge of a
// triggered capture). They are latched by the device and valid once the session left Armed.
func (s *Session) InitialStates() [port.NumChannels]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initial
}

// Started returns the arm time.
func (s *Session) Started() time.Time {
	return s.started
}
