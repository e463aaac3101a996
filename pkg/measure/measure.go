// Package measure derives frequency, interval, duty cycle, pulse count and level traces
// from decoded edge timestamps (µs). All functions are pure.
package measure

import (
	"errors"
	"fmt"
	"sort"

	"edgecap/pkg/mode"
	"edgecap/pkg/port"
)

// ErrInsufficientData is returned when the timestamps do not contain the edges needed.
var ErrInsufficientData = errors.New("insufficient edges captured")

// Trace is a level sequence reconstructed from edge timestamps.
// Levels[i] is the logic level right after the edge at Times[i].
type Trace struct {
	Times  []float64 `json:"times"`
	Levels []bool    `json:"levels"`
}

// Frequency returns the frequency (Hz) of a signal from timestamps of consecutive edges of
// both polarities ("any" mode). The period is the median distance between edges of the same
// polarity, i.e. between timestamps two apart.
func Frequency(anyEdges []float64) (float64, error) {
	if len(anyEdges) < 3 {
		return 0, fmt.Errorf("%w: %d edges, need 3", ErrInsufficientData, len(anyEdges))
	}

	periods := make([]float64, 0, len(anyEdges)-2)
	for i := 2; i < len(anyEdges); i++ {
		periods = append(periods, anyEdges[i]-anyEdges[i-2])
	}

	p := median(periods)
	if p <= 0 {
		return 0, fmt.Errorf("%w: zero period", ErrInsufficientData)
	}
	return 1e6 / p, nil
}

// Interval returns the time (µs) from the first edge in first to the first edge in second
// which occurs at or after it. If strict is set the second edge must occur after the first one;
// this is used when both sequences were captured on the same line, where one physical edge
// must not open and close the interval.
func Interval(first, second []float64, strict bool) (float64, error) {
	if len(first) == 0 {
		return 0, fmt.Errorf("%w: no edge on first channel", ErrInsufficientData)
	}

	t0 := first[0]
	for _, t := range second {
		if t > t0 || (!strict && t == t0) {
			return t - t0, nil
		}
	}
	return 0, fmt.Errorf("%w: no edge on second channel after %.3f µs", ErrInsufficientData, t0)
}

// DutyCycle returns the period (µs) and the high time fraction from rising and falling edge
// timestamps of the same line.
func DutyCycle(rising, falling []float64) (period, duty float64, err error) {
	if len(rising) < 2 {
		return 0, 0, fmt.Errorf("%w: %d rising edges, need 2", ErrInsufficientData, len(rising))
	}

	period = rising[1] - rising[0]
	if period <= 0 {
		return 0, 0, fmt.Errorf("%w: zero period", ErrInsufficientData)
	}

	high, err := Interval(rising[:1], falling, true)
	if err != nil {
		return 0, 0, err
	}
	if high > period {
		return 0, 0, fmt.Errorf("%w: no falling edge within one period", ErrInsufficientData)
	}

	return period, high / period, nil
}

// Pulses returns the number of complete pulses (one rising and one falling edge) in an edge count.
func Pulses(edges int) int {
	if edges < 0 {
		return 0
	}
	return edges / 2
}

// XY reconstructs the level sequence of a capture in mode m.
// initial is the level before the first edge; it only matters for "any" mode captures,
// where the level alternates with every edge. Rising edge captures report high levels,
// falling edge captures low levels.
func XY(timestamps []float64, m mode.Mode, initial bool) Trace {
	tr := Trace{
		Times:  append([]float64(nil), timestamps...),
		Levels: make([]bool, len(timestamps)),
	}

	level := initial
	for i := range tr.Levels {
		switch m.Edge {
		case port.EdgeRising:
			level = true
		case port.EdgeFalling:
			level = false
		default:
			level = !level
		}
		tr.Levels[i] = level
	}
	return tr
}

func median(v []float64) float64 {
	s := append([]float64(nil), v...)
	sort.Float64s(s)

	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}
