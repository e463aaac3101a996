// Package device defines the command boundary of an edge capture device.
package device

import (
	"errors"

	"edgecap/pkg/mode"
	"edgecap/pkg/port"
)

// ErrNotArmed is returned by devices asked for capture data before the first arm.
var ErrNotArmed = errors.New("device not armed")

// Trigger is a one shot precondition: timing starts with the first Edge on Channel.
type Trigger struct {
	Channel port.Channel
	Edge    port.Edge
}

// ArmConfig holds the parameters of an arm command.
type ArmConfig struct {
	// Channels are the input lines to capture, one stream each. A line may appear more than once.
	Channels []port.Channel
	// Modes are aligned with Channels.
	Modes []mode.Mode
	// Prescaler is the clock divisor of the counter.
	Prescaler int
	// CounterBits is the width of the counter; latched tick values wrap at 2^CounterBits.
	CounterBits uint
	// Events is the number of events to capture per stream.
	Events int
	// Trigger is optional.
	Trigger *Trigger
}

// Device is the blocking request/response interface to the capture hardware.
// Implementations must be safe for concurrent use.
type Device interface {
	// Arm clears the sample buffer and starts a capture.
	Arm(cfg ArmConfig) error
	// Poll returns the number of events captured so far per stream.
	Poll() ([]int, error)
	// ReadBuffer copies the raw samples captured so far, in arrival order, into dst.
	ReadBuffer(dst []port.Sample) (int, error)
	// Stop aborts a running capture. Samples captured up to the abort point are kept.
	Stop() error
	// ReadStates returns the instantaneous logic level of every input line.
	ReadStates() ([port.NumChannels]bool, error)
	// StartStates returns the level of every input line right before the capture start of the
	// last Arm, i.e. before the trigger edge of a triggered capture.
	StartStates() ([port.NumChannels]bool, error)
	// Close releases the device.
	Close() error
}

// EdgeCounter is implemented by devices with a dedicated edge counter which is not limited
// by the sample buffer.
type EdgeCounter interface {
	// StartCounting resets the counter and counts every edge on ch from now on.
	StartCounting(ch port.Channel) error
	// ReadCount returns the number of edges counted since StartCounting.
	ReadCount() (int, error)
}
