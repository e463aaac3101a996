package capture

import (
	"errors"
	"sync"
)

// ErrDeviceBusy is returned when a capture is armed while another one still holds the device.
var ErrDeviceBusy = errors.New("device busy: a capture is already armed")

// Slot is the exclusive right to arm the hardware counter of one device.
// Acquisition fails fast instead of queuing.
type Slot struct {
	mu   sync.Mutex
	held bool
}

// TryAcquire takes the slot or returns ErrDeviceBusy.
func (s *Slot) TryAcquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.held {
		return ErrDeviceBusy
	}
	s.held = true
	return nil
}

// Release frees the slot. Releasing a free slot is a no-op.
func (s *Slot) Release() {
	s.mu.Lock()
	s.held = false
	s.mu.Unlock()
}

// Held reports whether the slot is taken.
func (s *Slot) Held() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held
}
