//go:build linux
// +build linux

package raspberry

import (
	"fmt"
	"time"

	"edgecap/pkg/device"
	"edgecap/pkg/port"

	"github.com/warthog618/gpiod"
	"github.com/womat/debug"
	"golang.org/x/sys/unix"
)

// Device is a capture device on four gpio lines. It implements device.Device and device.EdgeCounter.
type Device struct {
	chip  *gpiod.Chip
	lines *gpiod.Lines
	// channel maps a line offset to its input port
	channel map[int]port.Channel
	rec     recorder
}

// Open requests the configured lines as inputs and watches them for edges.
func Open(cfg Config) (*Device, error) {
	d := &Device{channel: map[int]port.Channel{}}
	offsets := make([]int, 0, port.NumChannels)
	for _, ch := range port.Channels {
		o := cfg.Lines[ch]
		if _, ok := d.channel[o]; ok {
			return nil, fmt.Errorf("%w: line %d used twice", port.ErrInvalidParam, o)
		}
		d.channel[o] = ch
		offsets = append(offsets, o)
	}

	opts := []gpiod.LineReqOption{gpiod.AsInput, gpiod.WithBothEdges, gpiod.WithEventHandler(d.handler)}
	switch cfg.Bias {
	case PullUp:
		opts = append(opts, gpiod.WithPullUp)
	case PullDown:
		opts = append(opts, gpiod.WithPullDown)
	default:
		opts = append(opts, gpiod.WithBiasDisabled)
	}

	c, err := gpiod.NewChip(cfg.Chip, gpiod.WithConsumer("edgecap"))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %q: %w", cfg.Chip, err)
	}
	d.chip = c

	if d.lines, err = c.RequestLines(offsets, opts...); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("request lines %v: %w", offsets, err)
	}

	levels, err := d.ReadStates()
	if err != nil {
		_ = d.Close()
		return nil, err
	}
	d.rec.setLevels(levels)

	debug.InfoLog.Printf("gpio capture device on %s, lines %v", cfg.Chip, offsets)
	return d, nil
}

// handler is called by gpiod for every edge on the requested lines.
func (d *Device) handler(evt gpiod.LineEvent) {
	ch, ok := d.channel[evt.Offset]
	if !ok {
		return
	}

	switch evt.Type {
	case gpiod.LineEventRisingEdge:
		d.rec.event(ch, port.EdgeRising, evt.Timestamp)
	case gpiod.LineEventFallingEdge:
		d.rec.event(ch, port.EdgeFalling, evt.Timestamp)
	default:
		debug.ErrorLog.Printf("invalid line event type %v on line %d", evt.Type, evt.Offset)
	}
}

// Arm starts a capture; edges reported before the arm time are ignored.
func (d *Device) Arm(cfg device.ArmConfig) error {
	now, err := monotonic()
	if err != nil {
		return err
	}
	return d.rec.arm(cfg, now)
}

func (d *Device) Poll() ([]int, error) {
	return d.rec.poll()
}

func (d *Device) ReadBuffer(dst []port.Sample) (int, error) {
	return d.rec.read(dst)
}

func (d *Device) Stop() error {
	d.rec.stop()
	return nil
}

// ReadStates reads the current level of all lines.
func (d *Device) ReadStates() ([port.NumChannels]bool, error) {
	var s [port.NumChannels]bool

	values := make([]int, port.NumChannels)
	if err := d.lines.Values(values); err != nil {
		return s, fmt.Errorf("read line values: %w", err)
	}
	for i, v := range values {
		s[i] = v == 1
	}
	return s, nil
}

// StartStates returns the line levels right before the capture start.
func (d *Device) StartStates() ([port.NumChannels]bool, error) {
	return d.rec.startStates()
}

func (d *Device) StartCounting(ch port.Channel) error {
	now, err := monotonic()
	if err != nil {
		return err
	}
	return d.rec.startCounting(ch, now)
}

func (d *Device) ReadCount() (int, error) {
	return d.rec.readCount(), nil
}

// Close releases the lines and the chip.
//
// Close waits for a running event handler to return, so it must not be called from the handler.
func (d *Device) Close() error {
	d.rec.stop()
	if err := d.lines.Close(); err != nil {
		return err
	}
	return d.chip.Close()
}

// monotonic returns the time of the clock the kernel uses for line event timestamps.
func monotonic() (time.Duration, error) {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0, fmt.Errorf("read monotonic clock: %w", err)
	}
	return time.Duration(ts.Nano()), nil
}
