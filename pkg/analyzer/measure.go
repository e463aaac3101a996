package analyzer

import (
	"errors"
	"fmt"
	"time"

	"edgecap/pkg/capture"
	"edgecap/pkg/device"
	"edgecap/pkg/measure"
	"edgecap/pkg/mode"
	"edgecap/pkg/port"

	"github.com/womat/debug"
)

// pollInterval is the period a measurement capture is checked for sufficient data.
const pollInterval = 2 * time.Millisecond

// MeasureFrequency returns the frequency (Hz) of the signal on ch.
func (a *Analyzer) MeasureFrequency(ch port.Channel, timeout time.Duration) (float64, error) {
	ts, err := a.collect(capture.Config{
		Channels: []port.Channel{ch},
		Modes:    []mode.Mode{mode.Any.Mode()},
		Events:   4,
		Timeout:  timeout,
	}, nil)
	if err != nil {
		return 0, err
	}

	f, err := measure.Frequency(ts[0])
	if err != nil {
		return 0, insufficient(err)
	}
	debug.DebugLog.Printf("frequency %v: %.3f Hz", ch, f)
	return f, nil
}

// MeasureInterval returns the time (µs) from the first edge of modes[0] on channels[0] to the
// first edge of modes[1] on channels[1] occurring at or after it.
// On a single channel the second edge must be a later edge than the first one.
func (a *Analyzer) MeasureInterval(channels [2]port.Channel, modes [2]mode.Name, timeout time.Duration) (float64, error) {
	m1, m2 := modes[0].Mode(), modes[1].Mode()

	// at most 2*d1/d2 events of the second stream occur up to the first event of the first stream
	events := 2*m1.Divisor/m2.Divisor + 2
	if events > mode.MaxChannelSamples {
		events = mode.MaxChannelSamples
	}

	ts, err := a.collect(capture.Config{
		Channels: channels[:],
		Modes:    []mode.Mode{m1, m2},
		Events:   events,
		Timeout:  timeout,
	}, func(p []int) bool {
		return p[0] >= 1 && p[1] >= events
	})
	if err != nil {
		return 0, err
	}

	iv, err := measure.Interval(ts[0], ts[1], channels[0] == channels[1])
	if err != nil {
		return 0, insufficient(err)
	}
	debug.DebugLog.Printf("interval %v %v -> %v %v: %.3f µs", channels[0], modes[0], channels[1], modes[1], iv)
	return iv, nil
}

// MeasureDutyCycle returns the period (µs) and the high time fraction of the signal on ch.
func (a *Analyzer) MeasureDutyCycle(ch port.Channel, timeout time.Duration) (period, duty float64, err error) {
	ts, err := a.collect(capture.Config{
		Channels: []port.Channel{ch, ch},
		Modes:    []mode.Mode{mode.Rising.Mode(), mode.Falling.Mode()},
		Events:   2,
		Timeout:  timeout,
	}, nil)
	if err != nil {
		return 0, 0, err
	}

	period, duty, err = measure.DutyCycle(ts[0], ts[1])
	if err != nil {
		return 0, 0, insufficient(err)
	}
	debug.DebugLog.Printf("duty cycle %v: period %.3f µs, duty %.3f", ch, period, duty)
	return period, duty, nil
}

// CountPulses counts the pulses (rising and falling edge pairs) on ch within interval.
// Devices with a dedicated edge counter are not limited by the sample buffer.
func (a *Analyzer) CountPulses(ch port.Channel, interval time.Duration) (int, error) {
	if !ch.Valid() {
		return 0, fmt.Errorf("%w: channel %v", port.ErrInvalidParam, ch)
	}
	if interval <= 0 {
		return 0, fmt.Errorf("%w: interval %v", port.ErrInvalidParam, interval)
	}

	counter, ok := a.dev.(device.EdgeCounter)
	if !ok {
		return a.countCaptured(ch, interval)
	}

	if err := a.slot.TryAcquire(); err != nil {
		return 0, err
	}
	defer a.slot.Release()

	if err := counter.StartCounting(ch); err != nil {
		return 0, fmt.Errorf("start counting: %w", err)
	}
	time.Sleep(interval)

	edges, err := counter.ReadCount()
	if err != nil {
		return 0, fmt.Errorf("read count: %w", err)
	}
	debug.DebugLog.Printf("counted %d edges on %v within %v", edges, ch, interval)
	return measure.Pulses(edges), nil
}

// countCaptured counts pulses with a buffer capture; the count saturates at the per channel share of the buffer.
func (a *Analyzer) countCaptured(ch port.Channel, interval time.Duration) (int, error) {
	s, err := a.arm(capture.Config{
		Channels: []port.Channel{ch},
		Modes:    []mode.Mode{mode.Any.Mode()},
		Events:   mode.MaxChannelSamples,
		Timeout:  interval,
	}, false, false)
	if err != nil {
		return 0, err
	}

	if st := s.Wait(); st == capture.Completed {
		debug.InfoLog.Printf("pulse count on %v saturated the sample buffer", ch)
	}
	p, err := s.Progress()
	if err != nil {
		return 0, err
	}
	return measure.Pulses(p[0]), nil
}

// collect runs a capture until enough reports sufficient progress, the capture completes or it times out.
// A nil enough waits for completion. The capture does not replace the last capture of the analyzer.
func (a *Analyzer) collect(cfg capture.Config, enough func([]int) bool) ([][]float64, error) {
	s, err := a.arm(cfg, true, false)
	if err != nil {
		return nil, err
	}

	if enough != nil {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()

	wait:
		for {
			select {
			case <-s.Done():
				break wait
			case <-ticker.C:
				p, err := s.Progress()
				if err != nil {
					s.Stop()
					return nil, err
				}
				if enough(p) {
					s.Stop()
					break wait
				}
			}
		}
	}

	res, err := newResult(s)
	if err != nil {
		return nil, err
	}
	return res.Timestamps, nil
}

func insufficient(err error) error {
	if errors.Is(err, measure.ErrInsufficientData) {
		return fmt.Errorf("%w: %v", capture.ErrTimeout, err)
	}
	return err
}
