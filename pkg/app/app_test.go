package app

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"edgecap/pkg/app/config"

	"github.com/womat/debug"
)

func TestMain(m *testing.M) {
	debug.SetDebug(os.Stderr, debug.Standard)
	os.Exit(m.Run())
}

// newTestApp returns an initialized app on a 10 kHz emulator without web server and mqtt broker.
func newTestApp(t *testing.T, webservices map[string]bool) *App {
	t.Helper()

	cfg := config.NewConfig()
	cfg.Emulator.Frequency = 1e4
	for k, v := range webservices {
		cfg.Webserver.Webservices[k] = v
	}

	a, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err = a.init(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

// request sends a request to the app and decodes the JSON response into v.
func request(t *testing.T, a *App, method, target string, v interface{}) int {
	t.Helper()

	resp, err := a.web.Test(httptest.NewRequest(method, target, nil), 5000)
	if err != nil {
		t.Fatalf("%s %s: %v", method, target, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if v != nil && resp.StatusCode < 300 {
		if err = json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("%s %s: decode response: %v", method, target, err)
		}
	}
	return resp.StatusCode
}

func TestVersionAndHealth(t *testing.T) {
	a := newTestApp(t, nil)

	var v map[string]string
	if code := request(t, a, http.MethodGet, "/version", &v); code != http.StatusOK {
		t.Fatalf("GET /version status %d", code)
	}
	if v["description"] != MODULE || v["version"] != VERSION {
		t.Errorf("GET /version = %v", v)
	}

	var h struct {
		Device  string
		Capture string
	}
	if code := request(t, a, http.MethodGet, "/health", &h); code != http.StatusOK {
		t.Fatalf("GET /health status %d", code)
	}
	if h.Device != "emulator" || h.Capture != "idle" {
		t.Errorf("GET /health = %+v", h)
	}
}

func TestStates(t *testing.T) {
	a := newTestApp(t, nil)

	var states map[string]bool
	if code := request(t, a, http.MethodGet, "/states", &states); code != http.StatusOK {
		t.Fatalf("GET /states status %d", code)
	}
	for _, ch := range []string{"ID1", "ID2", "ID3", "ID4"} {
		if _, ok := states[ch]; !ok {
			t.Errorf("GET /states: %s missing in %v", ch, states)
		}
	}
}

func TestCapture(t *testing.T) {
	a := newTestApp(t, nil)

	var resp captureResponse
	code := request(t, a, http.MethodGet, "/capture?channels=2&events=100&modes=any,four_rising&xy=true", &resp)
	if code != http.StatusOK {
		t.Fatalf("GET /capture status %d", code)
	}

	if resp.State != "completed" || len(resp.Channels) != 2 {
		t.Fatalf("GET /capture = %+v", resp)
	}
	if c := resp.Channels[1]; c.Channel != "ID2" || c.Mode != "four rising" || c.Events != 100 {
		t.Errorf("second channel = %+v", c)
	}
	// four rising edges of a 10 kHz signal
	if s := resp.Channels[1].Spacing; math.Abs(s-400) > 0.1 {
		t.Errorf("spacing = %v µs, want 400", s)
	}
	if len(resp.Traces) != 2 || len(resp.Traces[1].Levels) != 100 || !resp.Traces[1].Levels[0] {
		t.Errorf("traces = %+v", resp.Traces)
	}
}

func TestCaptureErrors(t *testing.T) {
	a := newTestApp(t, nil)

	tests := []struct {
		method string
		target string
		want   int
	}{
		{method: http.MethodGet, target: "/capture/data", want: http.StatusNotFound},
		{method: http.MethodGet, target: "/capture/progress", want: http.StatusNotFound},
		{method: http.MethodGet, target: "/capture?channels=5", want: http.StatusBadRequest},
		{method: http.MethodGet, target: "/capture?channels=1&events=2501", want: http.StatusBadRequest},
		{method: http.MethodGet, target: "/capture?modes=eight_rising", want: http.StatusBadRequest},
		{method: http.MethodGet, target: "/capture?channels=x", want: http.StatusBadRequest},
		{method: http.MethodGet, target: "/capture?timeout=-1", want: http.StatusBadRequest},
		{method: http.MethodPost, target: "/trigger?channel=ID1&edge=up", want: http.StatusBadRequest},
		{method: http.MethodPost, target: "/trigger?channel=ID9&edge=rising", want: http.StatusBadRequest},
		{method: http.MethodGet, target: "/measure/interval?mode2=sideways", want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		if code := request(t, a, tt.method, tt.target, nil); code != tt.want {
			t.Errorf("%s %s status %d, want %d", tt.method, tt.target, code, tt.want)
		}
	}
}

func TestCaptureControl(t *testing.T) {
	a := newTestApp(t, nil)

	// 100 sixteen rising events of a 10 kHz signal take 160 ms
	var p progressResponse
	if code := request(t, a, http.MethodPost, "/capture/start?channels=1&events=100&modes=sixteen_rising&timeout=5000", &p); code != http.StatusAccepted {
		t.Fatalf("POST /capture/start status %d", code)
	}
	if p.State != "armed" {
		t.Errorf("state after start = %q", p.State)
	}

	if code := request(t, a, http.MethodPost, "/capture/start?channels=1", nil); code != http.StatusConflict {
		t.Errorf("second POST /capture/start status %d, want %d", code, http.StatusConflict)
	}

	time.Sleep(20 * time.Millisecond)
	if code := request(t, a, http.MethodPost, "/capture/stop", &p); code != http.StatusOK {
		t.Fatalf("POST /capture/stop status %d", code)
	}
	if p.State != "stopped" || len(p.Progress) != 1 || p.Progress[0] >= 100 {
		t.Errorf("after stop = %+v", p)
	}

	var resp captureResponse
	if code := request(t, a, http.MethodGet, "/capture/data", &resp); code != http.StatusOK {
		t.Fatalf("GET /capture/data status %d", code)
	}
	if resp.Channels[0].Events != p.Progress[0] || resp.Channels[0].Mode != "sixteen rising" {
		t.Errorf("GET /capture/data = %+v, progress %v", resp.Channels[0], p.Progress)
	}
}

func TestTriggeredCapture(t *testing.T) {
	a := newTestApp(t, nil)

	var tr map[string]string
	if code := request(t, a, http.MethodPost, "/trigger?channel=ID1&edge=falling", &tr); code != http.StatusOK {
		t.Fatalf("POST /trigger status %d", code)
	}
	if tr["channel"] != "ID1" || tr["edge"] != "falling" {
		t.Errorf("POST /trigger = %v", tr)
	}

	var resp captureResponse
	if code := request(t, a, http.MethodGet, "/capture?channels=1&events=10&xy=true", &resp); code != http.StatusOK {
		t.Fatalf("GET /capture status %d", code)
	}
	if first := resp.Channels[0].First; first != 0 {
		t.Errorf("first edge at %v µs, want the trigger edge at 0", first)
	}
	if resp.Traces[0].Levels[0] {
		t.Error("level after the falling trigger edge is high")
	}
}

func TestMeasure(t *testing.T) {
	a := newTestApp(t, nil)

	var f map[string]interface{}
	if code := request(t, a, http.MethodGet, "/measure/frequency?channel=ID2", &f); code != http.StatusOK {
		t.Fatalf("GET /measure/frequency status %d", code)
	}
	if v, _ := f["frequency"].(float64); math.Abs(v-1e4) > 1e-3 {
		t.Errorf("frequency = %v", f)
	}

	var d map[string]float64
	if code := request(t, a, http.MethodGet, "/measure/dutycycle?channel=ID3", &d); code != http.StatusOK {
		t.Fatalf("GET /measure/dutycycle status %d", code)
	}
	if math.Abs(d["period"]-100) > 0.1 || math.Abs(d["dutycycle"]-0.5) > 0.01 {
		t.Errorf("duty cycle = %v", d)
	}

	var iv map[string]float64
	if code := request(t, a, http.MethodGet, "/measure/interval?channel1=ID1&mode1=rising&channel2=ID1&mode2=falling", &iv); code != http.StatusOK {
		t.Fatalf("GET /measure/interval status %d", code)
	}
	if math.Abs(iv["interval"]-50) > 0.1 {
		t.Errorf("interval = %v", iv)
	}

	var p map[string]interface{}
	if code := request(t, a, http.MethodGet, "/measure/pulses?channel=ID4&interval=100", &p); code != http.StatusOK {
		t.Fatalf("GET /measure/pulses status %d", code)
	}
	if v, _ := p["pulses"].(float64); v < 900 || v > 1100 {
		t.Errorf("pulses = %v", p)
	}
}

func TestDisabledWebservice(t *testing.T) {
	a := newTestApp(t, map[string]bool{"measure": false, "control": false})

	if code := request(t, a, http.MethodGet, "/measure/frequency", nil); code != http.StatusNotFound {
		t.Errorf("GET /measure/frequency status %d, want %d", code, http.StatusNotFound)
	}
	if code := request(t, a, http.MethodPost, "/capture/start", nil); code != http.StatusNotFound && code != http.StatusMethodNotAllowed {
		t.Errorf("POST /capture/start status %d", code)
	}
}

func TestValidateMeasurement(t *testing.T) {
	a := newTestApp(t, nil)
	a.config.MQTT.Interval = time.Minute
	a.config.MQTT.DeltaFrequency = 5

	t0 := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name      string
		at        time.Duration
		frequency float64
		want      bool
	}{
		{name: "first measurement", at: 0, frequency: 1000, want: true},
		{name: "small change", at: time.Second, frequency: 1004, want: false},
		{name: "frequency change", at: 2 * time.Second, frequency: 1010, want: true},
		{name: "unchanged", at: 30 * time.Second, frequency: 1010, want: false},
		{name: "interval elapsed", at: 62 * time.Second, frequency: 1010, want: true},
	}
	for _, tt := range tests {
		m := Measurement{TimeStamp: t0.Add(tt.at), Channel: "ID1", Frequency: tt.frequency}
		if got := a.validateMeasurement(m); got != tt.want {
			t.Errorf("%s: validateMeasurement() = %v, want %v", tt.name, got, tt.want)
		}
	}

	var last Measurement
	if code := request(t, a, http.MethodGet, "/measurement", &last); code != http.StatusOK {
		t.Fatalf("GET /measurement status %d", code)
	}
	if last.Frequency != 1010 || !last.TimeStamp.Equal(t0.Add(62*time.Second)) {
		t.Errorf("GET /measurement = %+v", last)
	}
}

func TestMonitorMeasure(t *testing.T) {
	a := newTestApp(t, nil)
	a.config.MQTT.Channel = 1

	m, err := a.measure()
	if err != nil {
		t.Fatal(err)
	}
	if m.Channel != "ID2" || math.Abs(m.Frequency-1e4) > 1e-3 || math.Abs(m.Period-100) > 0.1 || math.Abs(m.DutyCycle-0.5) > 0.01 {
		t.Errorf("measure() = %+v", m)
	}
}

func TestCaptureLines(t *testing.T) {
	a := newTestApp(t, nil)

	var resp captureResponse
	if code := request(t, a, http.MethodGet, "/capture?lines=ID2,ID4&events=10", &resp); code != http.StatusOK {
		t.Fatalf("GET /capture status %d", code)
	}
	if len(resp.Channels) != 2 || resp.Channels[0].Channel != "ID2" || resp.Channels[1].Channel != "ID4" {
		t.Errorf("GET /capture?lines = %+v", resp.Channels)
	}

	for _, target := range []string{"/capture?lines=ID2,ID5", "/capture?lines=ID1&channels=2"} {
		if code := request(t, a, http.MethodGet, target, nil); code != http.StatusBadRequest {
			t.Errorf("GET %s status %d, want %d", target, code, http.StatusBadRequest)
		}
	}
}

func TestCaptureDataAfterMeasurement(t *testing.T) {
	a := newTestApp(t, nil)

	if code := request(t, a, http.MethodPost, "/capture/start?channels=2&events=50", nil); code != http.StatusAccepted {
		t.Fatalf("POST /capture/start status %d", code)
	}
	var before captureResponse
	if code := request(t, a, http.MethodGet, "/capture/data", &before); code != http.StatusOK {
		t.Fatalf("GET /capture/data status %d", code)
	}

	for _, target := range []string{"/measure/frequency?channel=ID3", "/measure/dutycycle?channel=ID4", "/measure/pulses?channel=ID1&interval=10"} {
		if code := request(t, a, http.MethodGet, target, nil); code != http.StatusOK {
			t.Fatalf("GET %s status %d", target, code)
		}
	}
	if _, err := a.measure(); err != nil {
		t.Fatal(err)
	}

	var after captureResponse
	if code := request(t, a, http.MethodGet, "/capture/data", &after); code != http.StatusOK {
		t.Fatalf("GET /capture/data status %d", code)
	}
	if len(after.Channels) != 2 || after.Channels[1].Events != 50 || after.Channels[0].First != before.Channels[0].First {
		t.Errorf("GET /capture/data after measurements = %+v", after.Channels)
	}
}
