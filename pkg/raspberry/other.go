//go:build !linux
// +build !linux

package raspberry

import (
	"edgecap/pkg/device"
	"edgecap/pkg/port"
)

// Device is not supported without gpio character devices. Every method returns ErrUnsupported.
type Device struct{}

// Open is not supported without gpio character devices.
func Open(Config) (*Device, error) {
	return nil, ErrUnsupported
}

func (d *Device) Arm(device.ArmConfig) error {
	return ErrUnsupported
}

func (d *Device) Poll() ([]int, error) {
	return nil, ErrUnsupported
}

func (d *Device) ReadBuffer([]port.Sample) (int, error) {
	return 0, ErrUnsupported
}

func (d *Device) Stop() error {
	return ErrUnsupported
}

func (d *Device) ReadStates() ([port.NumChannels]bool, error) {
	return [port.NumChannels]bool{}, ErrUnsupported
}

func (d *Device) StartStates() ([port.NumChannels]bool, error) {
	return [port.NumChannels]bool{}, ErrUnsupported
}

func (d *Device) StartCounting(port.Channel) error {
	return ErrUnsupported
}

func (d *Device) ReadCount() (int, error) {
	return 0, ErrUnsupported
}

func (d *Device) Close() error {
	return nil
}
