// Package decoder converts raw hardware counter samples into per channel microsecond timestamps
package decoder

import (
	"io"

	"edgecap/pkg/mode"
	"edgecap/pkg/port"
)

// SampleReader is implemented by devices which hand out their raw sample buffer.
type SampleReader interface {
	ReadBuffer(dst []port.Sample) (int, error)
}

// Buffer is a fixed capacity arena holding the raw samples of one capture.
type Buffer struct {
	samples [mode.MaxSamples]port.Sample
	n       int
}

// ReadFrom drains the device buffer into the arena.
// Samples already held are discarded.
func (b *Buffer) ReadFrom(r SampleReader) (int, error) {
	b.n = 0
	n, err := r.ReadBuffer(b.samples[:])
	if n > len(b.samples) {
		n = len(b.samples)
	}
	if n < 0 {
		n = 0
	}
	b.n = n
	if err == io.EOF {
		err = nil
	}
	return n, err
}

// Reset empties the arena.
func (b *Buffer) Reset() {
	b.n = 0
}

// Len returns the number of samples held.
func (b *Buffer) Len() int {
	return b.n
}

// Samples returns the held samples in arrival order.
func (b *Buffer) Samples() []port.Sample {
	return b.samples[:b.n]
}

// Counts returns the number of samples per stream.
func (b *Buffer) Counts(streams int) []int {
	return count(b.Samples(), streams)
}

func count(samples []port.Sample, streams int) []int {
	c := make([]int, streams)
	for _, s := range samples {
		if int(s.Stream) < streams {
			c[s.Stream]++
		}
	}
	return c
}

// ToMicroseconds converts counter ticks at the given prescaler to microseconds.
func ToMicroseconds(ticks uint64, prescaler int) float64 {
	return float64(ticks) * float64(prescaler) * 1e6 / mode.ClockRate
}

// Decode demultiplexes the interleaved samples by stream and converts them to microseconds.
//
// The counter value of each sample wraps at 2^bits. Per stream, a sample smaller than its
// predecessor is taken as one wrap of the counter; the prescaler selection guarantees that two
// consecutive events of a stream are less than one counter span apart.
// Samples with a stream index outside [0, streams) are dropped.
// All returned slices share one backing array.
func Decode(samples []port.Sample, streams int, prescaler int, bits uint) [][]float64 {
	counts := count(samples, streams)

	total := 0
	for _, c := range counts {
		total += c
	}

	arena := make([]float64, total)
	out := make([][]float64, streams)
	offset := 0
	for i, c := range counts {
		out[i] = arena[offset : offset : offset+c]
		offset += c
	}

	mask := uint64(mode.CounterMax(bits))
	wrap := mask + 1
	last := make([]uint64, streams)
	epoch := make([]uint64, streams)

	for _, s := range samples {
		i := int(s.Stream)
		if i >= streams {
			continue
		}

		raw := uint64(s.Ticks) & mask
		if len(out[i]) > 0 && raw < last[i] {
			epoch[i] += wrap
		}
		last[i] = raw

		out[i] = append(out[i], ToMicroseconds(epoch[i]+raw, prescaler))
	}

	return out
}
