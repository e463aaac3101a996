// Package dlbus is the decoder of the DL-bus protocol from Technische Alternative.
package dlbus

import (
	"edgecap/pkg/port"

	"github.com/womat/debug"
)

const (
	// synchronizing is the process state to synchronize the dlbus.
	synchronizing stateType = iota
	// synchronized is the process state to receive bitstream.
	synchronized
)

// SyncBits is the count of consecutive high bits which separates two frames.
const SyncBits = 16

// stateType represents the state of the decoding process.
type stateType int

// handler holds the state of a DL-bus decoding run.
type handler struct {
	// syncCounter is the count of consecutive high bits.
	syncCounter int
	// state contains the current decoding state (synchronizing/synchronized).
	state stateType
	// rxBit is the number of the currently received bit of the rxRegister.
	rxBit int
	// rxRegister is the buffer of the currently received byte.
	rxRegister byte
	// rxBuffer is the received data record between two syncs.
	rxBuffer []byte
	// frames are the completed data records.
	frames [][]byte
}

// Frames extracts all complete DL-bus frames of a manchester decoded bit stream.
// A frame is only complete if it is followed by the next sync sequence; an invalid bit
// or a missing stop bit drops the current frame.
func Frames(bits []port.StateType) [][]byte {
	h := handler{state: synchronizing}

	for _, b := range bits {
		switch b {
		case port.High, port.Low:
			h.decoder(b)
		default:
			debug.DebugLog.Println("invalid data stream, wait for dlbus sync")
			h.reset()
		}
	}
	return h.frames
}

// reset restarts synchronizing the dl bus.
func (h *handler) reset() {
	h.rxBuffer = h.rxBuffer[:0]
	h.syncCounter = 0
	h.state = synchronizing
}

// decoder decodes the dlbus dataframe
//
//	the dataframe starts and ends with 16 high bits (sync).
//	each data byte consists of one start bit (low), eight data bits (LSB first) and one stop bit (high)
func (h *handler) decoder(bit port.StateType) {
	switch h.state {
	case synchronizing:
		switch bit {
		case port.High:
			h.syncCounter++
		case port.Low:
			if h.syncCounter < SyncBits {
				h.syncCounter = 0
				return
			}

			// it looks like a start bit after sync
			h.state = synchronized
			h.rxBit = 0
			h.rxBuffer = h.rxBuffer[:0]
			h.low()
		}

	case synchronized:
		switch bit {
		case port.High:
			h.high()
		case port.Low:
			h.low()
		}
	}
}

// high handles high data bits, stop bits and recognizes a starting sync sequence.
// The stop bit completes the rxRegister and adds it to the rxBuffer.
// If a sync sequence starts, the rxBuffer is complete.
func (h *handler) high() {
	switch h.rxBit {
	case 0:
		// no start bit: the dataframe is complete and a new sync sequence starts
		debug.DebugLog.Printf("rxBuffer: %v", h.rxBuffer)
		if len(h.rxBuffer) > 0 {
			h.frames = append(h.frames, append([]byte(nil), h.rxBuffer...))
		}
		h.state = synchronizing
		h.syncCounter = 1
	case 9:
		// stop bit received
		h.rxBuffer = append(h.rxBuffer, h.rxRegister)
		h.rxBit = 0
	default:
		h.rxRegister |= 1 << (h.rxBit - 1)
		h.rxBit++
	}
}

// low handles start bits and low data bits.
func (h *handler) low() {
	switch h.rxBit {
	case 0:
		// start bit received
		h.rxRegister = 0
		h.rxBit = 1
	case 9:
		debug.DebugLog.Print("missing stop bit, wait for dlbus sync")
		h.reset()
	default:
		h.rxBit++
	}
}
