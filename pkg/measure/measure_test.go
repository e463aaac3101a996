package measure

import (
	"errors"
	"math"
	"testing"

	"edgecap/pkg/mode"
)

func TestFrequency(t *testing.T) {
	tests := []struct {
		name    string
		edges   []float64
		want    float64
		wantErr error
	}{
		{name: "100 kHz", edges: []float64{0, 5, 10, 15}, want: 1e5},
		{name: "asymmetric duty", edges: []float64{2, 3, 12, 13, 22}, want: 1e5},
		{name: "median ignores outlier", edges: []float64{0, 5, 10, 15, 20, 35, 40}, want: 1e5},
		{name: "two edges", edges: []float64{0, 5}, wantErr: ErrInsufficientData},
		{name: "zero period", edges: []float64{1, 1, 1}, wantErr: ErrInsufficientData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Frequency(tt.edges)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Frequency() error = %v, want %v", err, tt.wantErr)
			}
			if math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("Frequency() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInterval(t *testing.T) {
	tests := []struct {
		name          string
		first, second []float64
		strict        bool
		want          float64
		wantErr       error
	}{
		{name: "second later", first: []float64{5, 15}, second: []float64{0, 10, 20}, want: 5},
		{name: "coincident edges", first: []float64{10}, second: []float64{10, 20}, want: 0},
		{name: "strict skips coincident edge", first: []float64{10}, second: []float64{10, 20}, strict: true, want: 10},
		{name: "no first edge", second: []float64{1}, wantErr: ErrInsufficientData},
		{name: "no later second edge", first: []float64{10}, second: []float64{1, 2}, wantErr: ErrInsufficientData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Interval(tt.first, tt.second, tt.strict)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Interval() error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Interval() = %v, want %v", got, tt.want)
			}
			if got < 0 {
				t.Errorf("negative interval %v", got)
			}
		})
	}
}

func TestDutyCycle(t *testing.T) {
	tests := []struct {
		name         string
		rising       []float64
		falling      []float64
		period, duty float64
		wantErr      error
	}{
		{name: "50%", rising: []float64{0, 10}, falling: []float64{5, 15}, period: 10, duty: 0.5},
		{name: "falling edge before first rising", rising: []float64{3, 13}, falling: []float64{1, 5.5}, period: 10, duty: 0.25},
		{name: "one rising edge", rising: []float64{0}, falling: []float64{5}, wantErr: ErrInsufficientData},
		{name: "no falling edge", rising: []float64{0, 10}, falling: []float64{}, wantErr: ErrInsufficientData},
		{name: "falling edge too late", rising: []float64{0, 10}, falling: []float64{25}, wantErr: ErrInsufficientData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			period, duty, err := DutyCycle(tt.rising, tt.falling)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("DutyCycle() error = %v, want %v", err, tt.wantErr)
			}
			if period != tt.period || math.Abs(duty-tt.duty) > 1e-9 {
				t.Errorf("DutyCycle() = %v, %v, want %v, %v", period, duty, tt.period, tt.duty)
			}
		})
	}
}

func TestPulses(t *testing.T) {
	for edges, want := range map[int]int{0: 0, 1: 0, 2: 1, 41: 20, -3: 0} {
		if got := Pulses(edges); got != want {
			t.Errorf("Pulses(%d) = %d, want %d", edges, got, want)
		}
	}
}

func TestXY(t *testing.T) {
	ts := []float64{0, 5, 10, 15}

	tests := []struct {
		name    string
		m       mode.Name
		initial bool
		want    []bool
	}{
		{name: "any from low", m: mode.Any, initial: false, want: []bool{true, false, true, false}},
		{name: "any from high", m: mode.Any, initial: true, want: []bool{false, true, false, true}},
		{name: "rising", m: mode.Rising, want: []bool{true, true, true, true}},
		{name: "sixteen rising", m: mode.SixteenRising, initial: true, want: []bool{true, true, true, true}},
		{name: "falling", m: mode.Falling, initial: true, want: []bool{false, false, false, false}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := XY(ts, tt.m.Mode(), tt.initial)
			if len(tr.Times) != len(ts) || len(tr.Levels) != len(ts) {
				t.Fatalf("lengths %d/%d, want %d", len(tr.Times), len(tr.Levels), len(ts))
			}
			for i := range tt.want {
				if tr.Levels[i] != tt.want[i] {
					t.Errorf("Levels = %v, want %v", tr.Levels, tt.want)
					break
				}
			}
		})
	}
}
