// Package manchester is a software decoder for manchester code captured as an edge trace.
// https://en.wikipedia.org/wiki/Manchester_code

// https://www.microchip.com/content/dam/mchp/documents/OTH/ApplicationNotes/ApplicationNotes/Atmel-9164-Manchester-Coding-Basics_Application-Note.pdf

package manchester

import (
	"fmt"
	"sort"
	"time"

	"edgecap/pkg/measure"
	"edgecap/pkg/port"

	"github.com/womat/debug"
)

const (
	// SensitivityFactor is the time tolerance to detect bit periods (fraction of a half bit period).
	SensitivityFactor = 0.6
	// eventSamples is the maximum count of edge intervals used to calculate the clock.
	eventSamples = 500
	// minSamples is the minimum count of edge intervals needed to calculate the clock.
	minSamples = 8
)

// Clock holds the bit periods recovered from an edge trace.
type Clock struct {
	// HalfBit is the duration of a half bit period (SignalT).
	HalfBit time.Duration
	// FullBit is the duration of a full bit period.
	FullBit time.Duration
	// Sensitivity is the tolerance applied when an edge is assigned to a bit period.
	Sensitivity time.Duration
}

// Frequency returns the bit rate in Hz.
func (c Clock) Frequency() float64 {
	if c.FullBit <= 0 {
		return 0
	}
	return 1 / c.FullBit.Seconds()
}

// Decode decodes the edge trace of an "any" mode capture to a bit stream.
// Every edge in tr must be captured; tr.Levels[i] is the level after the edge at tr.Times[i] (µs).
// The bits before the decoder is synchronized to the first full bit period are dropped.
// A bit period which cannot be assigned produces port.Invalid and restarts synchronization.
func Decode(tr measure.Trace) ([]port.StateType, Clock, error) {
	timestamps := make([]time.Duration, len(tr.Times))
	for i, t := range tr.Times {
		timestamps[i] = time.Duration(t * float64(time.Microsecond))
	}

	intervals := make([]time.Duration, 0, eventSamples)
	for i := 1; i < len(timestamps) && len(intervals) < eventSamples; i++ {
		intervals = append(intervals, timestamps[i]-timestamps[i-1])
	}
	if len(intervals) < minSamples {
		return nil, Clock{}, fmt.Errorf("%w: %d edges, need %d to synchronize the clock", measure.ErrInsufficientData, len(timestamps), minSamples+1)
	}

	halfPeriod, fullPeriod := calcBitPeriods(intervals)
	if halfPeriod <= 0 {
		return nil, Clock{}, fmt.Errorf("%w: zero bit period", measure.ErrInsufficientData)
	}
	clk := Clock{
		HalfBit:     halfPeriod,
		FullBit:     fullPeriod,
		Sensitivity: time.Duration(float64(halfPeriod) * SensitivityFactor),
	}
	debug.DebugLog.Printf("manchester clock: %.1f Hz, SignalT: %v, sensitivity: %v", clk.Frequency(), clk.HalfBit, clk.Sensitivity)

	d := decoder{Clock: clk, lastPeriod: -1}
	for i := 1; i < len(timestamps); i++ {
		d.edge(timestamps[i], timestamps[i]-timestamps[i-1], tr.Levels[i])
	}
	return d.bits, clk, nil
}

// decoder assigns edges to bit periods.
type decoder struct {
	Clock
	// lastPeriod is the start of the current bit period, -1 while not synchronized.
	lastPeriod time.Duration
	bits       []port.StateType
}

// edge decodes one edge:
//   - High: falling edge in the middle of a bit period
//   - Low:  rising edge in the middle of a bit period
//
// edges on the boundary of two bit periods only move the period start.
func (d *decoder) edge(ts, period time.Duration, rising bool) {
	if d.lastPeriod == -1 {
		// a full bit period since the last edge: this edge is in the middle of a bit period
		if (period-d.Sensitivity)/d.HalfBit < 1 {
			return
		}
		d.lastPeriod = ts - d.HalfBit
		return
	}

	switch interval := int((ts-d.lastPeriod-d.Sensitivity)/d.HalfBit) + 1; interval {
	case 2:
		d.lastPeriod = ts
	case 1, 3:
		if rising {
			d.bits = append(d.bits, port.Low)
		} else {
			d.bits = append(d.bits, port.High)
		}
		d.lastPeriod = ts - d.HalfBit
	default:
		debug.TraceLog.Printf("invalid interval: %v (%v)", interval, ts-d.lastPeriod)
		d.bits = append(d.bits, port.Invalid)
		d.lastPeriod = -1
	}
}

// calcBitPeriods calculates the manchester bit periods from edge intervals.
func calcBitPeriods(intervals []time.Duration) (halfBitPeriod, fullBitPeriod time.Duration) {
	samples := append([]time.Duration(nil), intervals...)

	// after sorting, the first entry is a half bit period
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })

	// drop the lowest and highest sample
	samples = samples[1 : len(samples)-1]

	halfBitPeriodSum := time.Duration(0)
	fullBitPeriodSum := time.Duration(0)

	halfBitPeriod = samples[0]
	fullBitPeriod = halfBitPeriod * 2

	ixFull := 1
	ixHalf := 1

	// both periods are averages of the received half and full bit periods
	for _, t := range samples {
		// greater than 150% of a half bit period is a full bit period
		if t > halfBitPeriod+halfBitPeriod/2 {
			fullBitPeriodSum += t
			fullBitPeriod = fullBitPeriodSum / time.Duration(ixFull)
			ixFull++
			continue
		}

		halfBitPeriodSum += t
		halfBitPeriod = halfBitPeriodSum / time.Duration(ixHalf)
		ixHalf++
	}

	return halfBitPeriod, fullBitPeriod
}
