package mode

import (
	"fmt"
	"time"

	"edgecap/pkg/port"
)

// ErrUnsupportedFrequency is returned when no prescaler can time the requested event spacing.
var ErrUnsupportedFrequency = fmt.Errorf("%w: unsupported frequency", port.ErrInvalidParam)

const (
	// ClockRate is the base frequency of the hardware timer (Hz).
	ClockRate = 64_000_000
	// MaxSamples is the capacity of the device sample buffer, shared by all channels.
	MaxSamples = 10000
	// MaxChannelSamples is the per channel share of MaxSamples.
	MaxChannelSamples = MaxSamples / port.NumChannels
)

// Prescalers is the ordered table of clock divisors, finest first.
var Prescalers = [...]int{1, 8, 64, 256}

// CounterBits returns the width of the hardware counter used for a capture on the given number of channels.
// One or two channels get a 32 bit timer each, three or four channels share a 16 bit timer.
func CounterBits(channels int) uint {
	if channels <= 2 {
		return 32
	}
	return 16
}

// CounterMax returns the maximum value of a counter with the given width.
func CounterMax(bits uint) uint64 {
	return 1<<bits - 1
}

// TickDuration returns the duration of one counter tick for the prescaler.
func TickDuration(prescaler int) time.Duration {
	return cyclesToDuration(uint64(prescaler))
}

// Span returns the time the counter needs to wrap around with the prescaler.
func Span(prescaler int, bits uint) time.Duration {
	return cyclesToDuration(CounterMax(bits) * uint64(prescaler))
}

// cyclesToDuration converts base clock cycles to a duration, truncated to nanoseconds.
func cyclesToDuration(cycles uint64) time.Duration {
	s := cycles / ClockRate
	ns := cycles % ClockRate * uint64(time.Second) / ClockRate
	return time.Duration(s)*time.Second + time.Duration(ns)
}

// SelectPrescaler returns the finest prescaler whose counter span exceeds the expected time between
// two recorded events (e2e). The modes must be aligned with the channel count.
// A zero e2e selects the finest prescaler.
func SelectPrescaler(modes []Mode, e2e time.Duration, channels int) (int, error) {
	if channels < 1 || channels > port.NumChannels {
		return 0, fmt.Errorf("%w: channel count %d", port.ErrInvalidParam, channels)
	}
	if len(modes) != channels {
		return 0, fmt.Errorf("%w: %d modes for %d channels", port.ErrInvalidParam, len(modes), channels)
	}
	for _, m := range modes {
		if m.Divisor < 1 || m.Edge == port.EdgeNone {
			return 0, fmt.Errorf("%w: %v", ErrInvalidMode, m)
		}
	}
	if e2e < 0 {
		return 0, fmt.Errorf("%w: negative e2e time %v", port.ErrInvalidParam, e2e)
	}

	bits := CounterBits(channels)
	for _, p := range Prescalers {
		if Span(p, bits) > e2e {
			return p, nil
		}
	}

	last := Prescalers[len(Prescalers)-1]
	return 0, fmt.Errorf("%w: %v between events exceeds counter span %v", ErrUnsupportedFrequency, e2e, Span(last, bits))
}
