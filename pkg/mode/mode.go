// Package mode is the registry of edge capture modes and the clock prescaler selection.
package mode

import (
	"fmt"
	"strings"

	"edgecap/pkg/port"
)

// ErrInvalidMode is returned for unknown capture mode names.
var ErrInvalidMode = fmt.Errorf("%w: invalid capture mode", port.ErrInvalidParam)

// Name identifies one of the capture modes supported by the device.
type Name int

const (
	// Any records every edge.
	Any Name = iota
	// Rising records every rising edge.
	Rising
	// Falling records every falling edge.
	Falling
	// FourRising records every fourth rising edge.
	FourRising
	// SixteenRising records every sixteenth rising edge.
	SixteenRising
)

// Names lists all capture modes.
var Names = []Name{Any, Rising, Falling, FourRising, SixteenRising}

// Mode is the edge polarity and edge-skip divisor of a capture channel.
type Mode struct {
	Edge    port.Edge
	Divisor int
}

func (n Name) String() string {
	switch n {
	case Any:
		return "any"
	case Rising:
		return "rising"
	case Falling:
		return "falling"
	case FourRising:
		return "four rising"
	case SixteenRising:
		return "sixteen rising"
	}
	return fmt.Sprintf("Name(%d)", int(n))
}

// Mode returns the polarity and divisor of n.
func (n Name) Mode() Mode {
	switch n {
	case Rising:
		return Mode{Edge: port.EdgeRising, Divisor: 1}
	case Falling:
		return Mode{Edge: port.EdgeFalling, Divisor: 1}
	case FourRising:
		return Mode{Edge: port.EdgeRising, Divisor: 4}
	case SixteenRising:
		return Mode{Edge: port.EdgeRising, Divisor: 16}
	}
	return Mode{Edge: port.EdgeBoth, Divisor: 1}
}

func (m Mode) String() string {
	for _, n := range Names {
		if n.Mode() == m {
			return n.String()
		}
	}
	return fmt.Sprintf("%v/%d", m.Edge, m.Divisor)
}

// Parse converts a mode name ("any", "rising", "falling", "four rising", "sixteen rising") to a Name.
// Underscores and dashes are accepted in place of blanks.
func Parse(s string) (Name, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer("_", " ", "-", " ").Replace(s)
	for _, n := range Names {
		if n.String() == s {
			return n, nil
		}
	}
	return Any, fmt.Errorf("%w %q", ErrInvalidMode, s)
}

// Resolve maps a mode name to its polarity and divisor.
func Resolve(s string) (Mode, error) {
	n, err := Parse(s)
	if err != nil {
		return Mode{}, err
	}
	return n.Mode(), nil
}

// ResolveAll maps a list of mode names.
func ResolveAll(names []string) ([]Mode, error) {
	modes := make([]Mode, 0, len(names))
	for _, s := range names {
		m, err := Resolve(s)
		if err != nil {
			return nil, err
		}
		modes = append(modes, m)
	}
	return modes, nil
}
