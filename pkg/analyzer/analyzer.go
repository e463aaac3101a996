// Package analyzer is the logic analyzer front end of a capture device.
//
// It turns capture requests into capture sessions, holds the one shot trigger, reads static
// input states and derives measurements from short blocking captures.
package analyzer

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"edgecap/pkg/capture"
	"edgecap/pkg/device"
	"edgecap/pkg/measure"
	"edgecap/pkg/mode"
	"edgecap/pkg/port"

	"github.com/womat/debug"
)

// ErrNoCapture is returned when data or progress is requested before any capture was started.
var ErrNoCapture = errors.New("no capture started")

// Request is a capture request on the first Channels input lines (ID1..IDn), or on Lines.
type Request struct {
	// Channels is the number of input lines to capture (1-4).
	Channels int
	// Lines selects the input lines explicitly. If set, Channels is zero or len(Lines).
	Lines []port.Channel
	// Events per channel, defaults to mode.MaxChannelSamples.
	Events int
	// Modes per channel, defaults to "any" for every channel.
	Modes []mode.Name
	// E2E is the expected time between two recorded events, used to select the prescaler.
	E2E time.Duration
	// Timeout defaults to capture.DefaultTimeout.
	Timeout time.Duration
}

// Analyzer drives captures on one device.
type Analyzer struct {
	dev  device.Device
	slot capture.Slot

	mu      sync.Mutex
	trigger *device.Trigger
	// session is the last capture requested by Capture or Start. Measurement captures are not kept.
	session *capture.Session
}

// Result is a finished capture.
type Result struct {
	State      capture.State
	Channels   []port.Channel
	Modes      []mode.Mode
	Timestamps [][]float64
	// initial are the input levels right before the capture start
	initial [port.NumChannels]bool
}

// XY reconstructs the level traces of the result.
func (r *Result) XY() []measure.Trace {
	return traces(r.Channels, r.Modes, r.initial, r.Timestamps)
}

// New creates an analyzer for the device.
func New(dev device.Device) *Analyzer {
	return &Analyzer{dev: dev}
}

// Device returns the underlying device.
func (a *Analyzer) Device() device.Device {
	return a.dev
}

// config converts a request into a session configuration.
func (r Request) config() (capture.Config, error) {
	lines := r.Lines
	switch {
	case len(lines) == 0:
		if r.Channels < 1 || r.Channels > port.NumChannels {
			return capture.Config{}, fmt.Errorf("%w, got %d", capture.ErrTooManyChannels, r.Channels)
		}
		lines = port.Channels[:r.Channels]
	case len(lines) > port.NumChannels:
		return capture.Config{}, fmt.Errorf("%w, got %d lines", capture.ErrTooManyChannels, len(lines))
	case r.Channels != 0 && r.Channels != len(lines):
		return capture.Config{}, fmt.Errorf("%w: %d channels for %d lines", port.ErrInvalidParam, r.Channels, len(lines))
	}
	n := len(lines)

	cfg := capture.Config{
		Channels: append([]port.Channel(nil), lines...),
		Events:   r.Events,
		E2E:      r.E2E,
		Timeout:  r.Timeout,
	}
	if cfg.Events == 0 {
		cfg.Events = mode.MaxChannelSamples
	}

	names := r.Modes
	if len(names) == 0 {
		names = make([]mode.Name, n)
	}
	if len(names) != n {
		return capture.Config{}, fmt.Errorf("%w: %d modes for %d channels", port.ErrInvalidParam, len(names), n)
	}
	for _, n := range names {
		cfg.Modes = append(cfg.Modes, n.Mode())
	}
	return cfg, nil
}

// Capture arms a capture and blocks until it completed or timed out.
// A timed out capture returns the events captured so far; if no channel captured any event
// ErrTimeout is returned.
func (a *Analyzer) Capture(r Request) ([][]float64, error) {
	res, err := a.CaptureResult(r)
	if res == nil {
		return nil, err
	}
	return res.Timestamps, err
}

// CaptureResult is Capture returning the result with its channels, modes and state.
// A timed out capture without events returns the empty result together with ErrTimeout.
func (a *Analyzer) CaptureResult(r Request) (*Result, error) {
	cfg, err := r.config()
	if err != nil {
		return nil, err
	}

	s, err := a.arm(cfg, true, true)
	if err != nil {
		return nil, err
	}
	return newResult(s)
}

// Start arms a capture and returns immediately. Use Progress, Stop and FetchData to follow it.
func (a *Analyzer) Start(r Request) error {
	cfg, err := r.config()
	if err != nil {
		return err
	}

	_, err = a.arm(cfg, true, true)
	return err
}

// FetchData blocks until the last capture left the armed state and returns its timestamps (µs).
func (a *Analyzer) FetchData() ([][]float64, error) {
	res, err := a.FetchResult()
	if res == nil {
		return nil, err
	}
	return res.Timestamps, err
}

// FetchResult is FetchData returning the result with its channels, modes and state.
func (a *Analyzer) FetchResult() (*Result, error) {
	s, err := a.last()
	if err != nil {
		return nil, err
	}
	return newResult(s)
}

// Progress returns the number of events captured per channel by the last capture.
func (a *Analyzer) Progress() ([]int, error) {
	s, err := a.last()
	if err != nil {
		return nil, err
	}
	return s.Progress()
}

// State returns the state of the last capture.
func (a *Analyzer) State() capture.State {
	s, err := a.last()
	if err != nil {
		return capture.Idle
	}
	return s.State()
}

// Stop aborts the last capture. Captured events stay available through FetchData.
func (a *Analyzer) Stop() error {
	s, err := a.last()
	if err != nil {
		return err
	}
	s.Stop()
	return nil
}

// Streams returns the channels and modes of the last capture.
func (a *Analyzer) Streams() ([]port.Channel, []mode.Mode, error) {
	s, err := a.last()
	if err != nil {
		return nil, nil, err
	}
	cfg := s.Config()
	return cfg.Channels, cfg.Modes, nil
}

// ConfigureTrigger sets a one shot trigger for the next capture: timing starts with the first
// edge of the given polarity on ch. port.EdgeNone clears the trigger.
func (a *Analyzer) ConfigureTrigger(ch port.Channel, edge port.Edge) error {
	if !ch.Valid() {
		return fmt.Errorf("%w: trigger channel %v", port.ErrInvalidParam, ch)
	}
	if edge < port.EdgeNone || edge > port.EdgeBoth {
		return fmt.Errorf("%w: trigger edge %v", port.ErrInvalidParam, edge)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if edge == port.EdgeNone {
		a.trigger = nil
		return nil
	}
	a.trigger = &device.Trigger{Channel: ch, Edge: edge}
	debug.DebugLog.Printf("trigger configured: %v %v", ch, edge)
	return nil
}

// Trigger returns the pending trigger, if any.
func (a *Analyzer) Trigger() *device.Trigger {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.trigger == nil {
		return nil
	}
	t := *a.trigger
	return &t
}

// States reads the instantaneous logic level of all input lines.
func (a *Analyzer) States() (map[port.Channel]bool, error) {
	s, err := a.dev.ReadStates()
	if err != nil {
		return nil, fmt.Errorf("read states: %w", err)
	}

	states := make(map[port.Channel]bool, port.NumChannels)
	for _, ch := range port.Channels {
		states[ch] = s[ch]
	}
	return states, nil
}

// XY reconstructs the level traces of timestamps returned by the last capture.
// The level before the first edge is the input level the device latched at the capture start,
// right before the trigger edge of a triggered capture.
func (a *Analyzer) XY(timestamps [][]float64) ([]measure.Trace, error) {
	s, err := a.last()
	if err != nil {
		return nil, err
	}

	cfg := s.Config()
	if len(timestamps) != len(cfg.Channels) {
		return nil, fmt.Errorf("%w: %d timestamp sequences for %d channels", port.ErrInvalidParam, len(timestamps), len(cfg.Channels))
	}

	s.Wait()
	return traces(cfg.Channels, cfg.Modes, s.InitialStates(), timestamps), nil
}

// traces reconstructs the level of every stream; the level before the first event is the input
// level latched at the capture start.
func traces(channels []port.Channel, modes []mode.Mode, initial [port.NumChannels]bool, timestamps [][]float64) []measure.Trace {
	tr := make([]measure.Trace, len(timestamps))
	for i, ts := range timestamps {
		tr[i] = measure.XY(ts, modes[i], initial[channels[i]])
	}
	return tr
}

// arm starts a session. If withTrigger is set the pending trigger is attached and cleared.
// If record is set the session becomes the last capture for Start, Progress, Stop and FetchData.
func (a *Analyzer) arm(cfg capture.Config, withTrigger, record bool) (*capture.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if withTrigger && a.trigger != nil {
		cfg.Trigger = a.trigger
	}

	s, err := capture.Arm(a.dev, &a.slot, cfg)
	if err != nil {
		return nil, err
	}

	if cfg.Trigger != nil {
		a.trigger = nil
	}
	if record {
		a.session = s
	}
	return s, nil
}

func (a *Analyzer) last() (*capture.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session == nil {
		return nil, ErrNoCapture
	}
	return a.session, nil
}

// newResult fetches the timestamps of a session. A session which timed out without any event is an error.
func newResult(s *capture.Session) (*Result, error) {
	ts, err := s.Fetch()
	if err != nil {
		return nil, err
	}

	cfg := s.Config()
	res := &Result{
		State:      s.State(),
		Channels:   cfg.Channels,
		Modes:      cfg.Modes,
		Timestamps: ts,
		initial:    s.InitialStates(),
	}
	if res.State == capture.TimedOut && total(ts) == 0 {
		return res, fmt.Errorf("%w: no events within %v", capture.ErrTimeout, cfg.Timeout)
	}
	return res, nil
}

func total(ts [][]float64) int {
	n := 0
	for _, t := range ts {
		n += len(t)
	}
	return n
}
