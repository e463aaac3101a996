package dlbus

import (
	"bytes"
	"os"
	"testing"

	"edgecap/pkg/manchester"
	"edgecap/pkg/measure"
	"edgecap/pkg/port"

	"github.com/womat/debug"
)

func TestMain(m *testing.M) {
	debug.SetDebug(os.Stderr, debug.Standard)
	os.Exit(m.Run())
}

func syncSeq(n int) []port.StateType {
	bits := make([]port.StateType, n)
	for i := range bits {
		bits[i] = port.High
	}
	return bits
}

// frame encodes data bytes with start bit, LSB first data bits and stop bit.
func frame(data ...byte) []port.StateType {
	var bits []port.StateType
	for _, b := range data {
		bits = append(bits, port.Low)
		for i := 0; i < 8; i++ {
			if b&(1<<i) != 0 {
				bits = append(bits, port.High)
			} else {
				bits = append(bits, port.Low)
			}
		}
		bits = append(bits, port.High)
	}
	return bits
}

func concat(parts ...[]port.StateType) []port.StateType {
	var bits []port.StateType
	for _, p := range parts {
		bits = append(bits, p...)
	}
	return bits
}

func TestFrames(t *testing.T) {
	tests := []struct {
		name string
		bits []port.StateType
		want [][]byte
	}{
		{
			name: "one frame",
			bits: concat(syncSeq(16), frame(0x20, 0x10, 0xff), syncSeq(16)),
			want: [][]byte{{0x20, 0x10, 0xff}},
		},
		{
			name: "two frames",
			bits: concat(syncSeq(20), frame(0x01), syncSeq(16), frame(0xa5, 0x5a), syncSeq(16)),
			want: [][]byte{{0x01}, {0xa5, 0x5a}},
		},
		{
			name: "short sync",
			bits: concat(syncSeq(15), frame(0x42), syncSeq(16)),
		},
		{
			name: "incomplete frame",
			bits: concat(syncSeq(16), frame(0x42)),
		},
		{
			name: "missing stop bit",
			bits: concat(syncSeq(16), frame(0x42)[:9], []port.StateType{port.Low}, frame(0x43), syncSeq(16)),
		},
		{
			name: "invalid bit",
			bits: concat(syncSeq(16), frame(0x42), []port.StateType{port.Invalid}, syncSeq(16), frame(0x43), syncSeq(16)),
			want: [][]byte{{0x43}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Frames(tt.bits)
			if len(got) != len(tt.want) {
				t.Fatalf("Frames() = %x, want %x", got, tt.want)
			}
			for i := range got {
				if !bytes.Equal(got[i], tt.want[i]) {
					t.Errorf("frame %d = %x, want %x", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestFramesFromTrace(t *testing.T) {
	const halfBit = 512.0 // µs

	bits := concat([]port.StateType{port.Low, port.High}, syncSeq(16), frame(0x30, 0x0c, 0x81), syncSeq(16))

	var levels []bool
	for _, b := range bits {
		levels = append(levels, b == port.High, b != port.High)
	}
	var tr measure.Trace
	for i := 1; i < len(levels); i++ {
		if levels[i] != levels[i-1] {
			tr.Times = append(tr.Times, float64(i)*halfBit)
			tr.Levels = append(tr.Levels, levels[i])
		}
	}

	decoded, _, err := manchester.Decode(tr)
	if err != nil {
		t.Fatal(err)
	}
	got := Frames(decoded)
	if len(got) != 1 || !bytes.Equal(got[0], []byte{0x30, 0x0c, 0x81}) {
		t.Errorf("Frames() = %x", got)
	}
}
