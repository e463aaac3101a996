// Package port holds the definition of the physical input ports of the capture device
package port

import (
	"fmt"
	"strings"
)

// ErrInvalidParam is the root of all invalid parameter conditions.
var ErrInvalidParam = fmt.Errorf("invalid parameters")

// NumChannels is the number of digital input lines of the device.
const NumChannels = 4

// Channel identifies one of the digital input lines.
type Channel int

const (
	ID1 Channel = iota
	ID2
	ID3
	ID4
)

// Channels lists all input lines in device order.
var Channels = [NumChannels]Channel{ID1, ID2, ID3, ID4}

func (c Channel) String() string {
	if !c.Valid() {
		return fmt.Sprintf("Channel(%d)", int(c))
	}
	return fmt.Sprintf("ID%d", int(c)+1)
}

// Valid reports whether c is one of ID1..ID4.
func (c Channel) Valid() bool {
	return c >= ID1 && c <= ID4
}

// ParseChannel converts a channel name (ID1..ID4, case insensitive) to a Channel.
func ParseChannel(s string) (Channel, error) {
	for _, c := range Channels {
		if strings.EqualFold(strings.TrimSpace(s), c.String()) {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown channel %q", ErrInvalidParam, s)
}

// Edge indicates the type of a line state change.
type Edge int

const (
	// EdgeNone indicates no edge (a disabled trigger).
	EdgeNone Edge = iota
	// EdgeRising indicates an inactive to active event (low to high).
	EdgeRising
	// EdgeFalling indicates an active to inactive event (high to low).
	EdgeFalling
	// EdgeBoth indicates either a rising or a falling edge.
	EdgeBoth
)

func (e Edge) String() string {
	switch e {
	case EdgeNone:
		return "disabled"
	case EdgeRising:
		return "rising"
	case EdgeFalling:
		return "falling"
	case EdgeBoth:
		return "any"
	}
	return fmt.Sprintf("Edge(%d)", int(e))
}

// Matches reports whether an edge of polarity got qualifies for e.
func (e Edge) Matches(got Edge) bool {
	switch e {
	case EdgeBoth:
		return got == EdgeRising || got == EdgeFalling
	case EdgeRising, EdgeFalling:
		return got == e
	}
	return false
}

// ParseEdge converts an edge name (disabled, rising, falling, any) to an Edge.
func ParseEdge(s string) (Edge, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "disabled", "none", "":
		return EdgeNone, nil
	case "rising":
		return EdgeRising, nil
	case "falling":
		return EdgeFalling, nil
	case "any", "both":
		return EdgeBoth, nil
	}
	return EdgeNone, fmt.Errorf("%w: unknown edge %q", ErrInvalidParam, s)
}

// Sample is one entry of the raw sample buffer returned by the device.
type Sample struct {
	// Stream is the index into the channel list of the capture the sample belongs to.
	Stream uint8
	// Ticks is the hardware counter value latched at the edge.
	Ticks uint32
}

type StateType int

const (
	// High indicates a logical 1.
	High StateType = 1
	// Low indicates a logical 0.
	Low StateType = 0
	// Invalid indicates an unknown or invalid state.
	Invalid StateType = -1
)

func (s StateType) String() string {
	switch s {
	case High:
		return "1"
	case Low:
		return "0"
	}
	return "x"
}
