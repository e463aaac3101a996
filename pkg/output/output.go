// Package output renders captures, measurements and input states for the terminal.
package output

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"edgecap/pkg/mode"
	"edgecap/pkg/port"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Format selects the rendering.
type Format int

const (
	Table Format = iota
	JSON
)

// ParseFormat converts table or json to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "table", "":
		return Table, nil
	case "json":
		return JSON, nil
	}
	return Table, fmt.Errorf("%w: unknown output format %q", port.ErrInvalidParam, s)
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// ChannelSummary describes the timestamps captured on one stream (µs).
type ChannelSummary struct {
	Channel    string    `json:"channel"`
	Mode       string    `json:"mode"`
	Events     int       `json:"events"`
	First      float64   `json:"first"`
	Last       float64   `json:"last"`
	Spacing    float64   `json:"spacing"`
	Timestamps []float64 `json:"timestamps"`
}

// Summarize returns the summaries of a capture. channels, modes and timestamps are aligned.
func Summarize(channels []port.Channel, modes []mode.Mode, timestamps [][]float64) []ChannelSummary {
	s := make([]ChannelSummary, len(timestamps))
	for i, ts := range timestamps {
		s[i] = ChannelSummary{Events: len(ts), Timestamps: ts}
		if i < len(channels) {
			s[i].Channel = channels[i].String()
		}
		if i < len(modes) {
			s[i].Mode = modes[i].String()
		}
		if n := len(ts); n > 0 {
			s[i].First, s[i].Last = ts[0], ts[n-1]
			if n > 1 {
				s[i].Spacing = (ts[n-1] - ts[0]) / float64(n-1)
			}
		}
	}
	return s
}

// Value is a named measurement result.
type Value struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
}

// Formatter writes results to w.
type Formatter struct {
	w      io.Writer
	format Format
}

// New creates a Formatter.
func New(w io.Writer, f Format) *Formatter {
	return &Formatter{w: w, format: f}
}

// Capture writes one summary line per stream.
func (f *Formatter) Capture(channels []port.Channel, modes []mode.Mode, timestamps [][]float64) error {
	summaries := Summarize(channels, modes, timestamps)
	if f.format == JSON {
		return f.json(summaries)
	}

	rows := make([][]string, 0, len(summaries))
	for _, s := range summaries {
		rows = append(rows, []string{s.Channel, s.Mode, strconv.Itoa(s.Events), us(s.First), us(s.Last), us(s.Spacing)})
	}
	return f.table([]string{"channel", "mode", "events", "first µs", "last µs", "spacing µs"}, rows)
}

// Values writes measurement results.
func (f *Formatter) Values(values ...Value) error {
	if f.format == JSON {
		return f.json(values)
	}

	rows := make([][]string, 0, len(values))
	for _, v := range values {
		rows = append(rows, []string{v.Name, strconv.FormatFloat(v.Value, 'f', -1, 64), v.Unit})
	}
	return f.table([]string{"measurement", "value", "unit"}, rows)
}

// States writes the level of every input line.
func (f *Formatter) States(states map[port.Channel]bool) error {
	channels := make([]port.Channel, 0, len(states))
	for ch := range states {
		channels = append(channels, ch)
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i] < channels[j] })

	if f.format == JSON {
		m := make(map[string]bool, len(states))
		for _, ch := range channels {
			m[ch.String()] = states[ch]
		}
		return f.json(m)
	}

	rows := make([][]string, 0, len(channels))
	for _, ch := range channels {
		level := "low"
		if states[ch] {
			level = "high"
		}
		rows = append(rows, []string{ch.String(), level})
	}
	return f.table([]string{"channel", "level"}, rows)
}

// Bits writes a decoded bit stream.
func (f *Formatter) Bits(bits []port.StateType) error {
	var b strings.Builder
	for _, s := range bits {
		b.WriteString(s.String())
	}

	if f.format == JSON {
		return f.json(map[string]interface{}{"bits": b.String(), "count": len(bits)})
	}
	_, err := fmt.Fprintln(f.w, b.String())
	return err
}

// Frames writes decoded data frames as hex.
func (f *Formatter) Frames(frames [][]byte) error {
	if f.format == JSON {
		h := make([]string, len(frames))
		for i, fr := range frames {
			h[i] = hex.EncodeToString(fr)
		}
		return f.json(h)
	}

	rows := make([][]string, 0, len(frames))
	for i, fr := range frames {
		rows = append(rows, []string{strconv.Itoa(i + 1), strconv.Itoa(len(fr)), hex.EncodeToString(fr)})
	}
	return f.table([]string{"frame", "bytes", "data"}, rows)
}

func (f *Formatter) table(headers []string, rows [][]string) error {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...).
		Rows(rows...)

	_, err := fmt.Fprintln(f.w, t.String())
	return err
}

func (f *Formatter) json(v interface{}) error {
	enc := json.NewEncoder(f.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func us(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
