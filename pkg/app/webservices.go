package app

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"edgecap/pkg/analyzer"
	"edgecap/pkg/capture"
	"edgecap/pkg/measure"
	"edgecap/pkg/mode"
	"edgecap/pkg/output"
	"edgecap/pkg/port"

	"github.com/gofiber/fiber/v2"
	"github.com/womat/debug"
)

// captureResponse is the result of a capture request.
type captureResponse struct {
	State    string                  `json:"state"`
	Channels []output.ChannelSummary `json:"channels"`
	Traces   []measure.Trace         `json:"traces,omitempty"`
}

// progressResponse is the state of the last capture.
type progressResponse struct {
	State    string `json:"state"`
	Progress []int  `json:"progress"`
}

// runWebServer starts the applications web server and listens for web requests.
//
//	It's designed to run in a separate go function to not block the main go function.
//	e.g.: go runWebServer()
//	See app.Run()
func (app *App) runWebServer() {
	err := app.web.Listen(app.urlParsed.Host)
	debug.ErrorLog.Print(err)
}

// HandleStates returns the levels of all input lines.
func (app *App) HandleStates() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		debug.InfoLog.Print("web request states")

		states, err := app.analyzer.States()
		if err != nil {
			return sendError(ctx, err)
		}

		m := make(map[string]bool, len(states))
		for ch, s := range states {
			m[ch.String()] = s
		}
		return ctx.JSON(m)
	}
}

// HandleCapture runs a blocking capture.
//
//	GET /capture?channels=2&events=100&modes=any,rising&e2e=10&timeout=1000
//	GET /capture?lines=ID2,ID4&events=100
//	e2e is given in µs, timeout in ms
func (app *App) HandleCapture() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		debug.InfoLog.Print("web request capture")

		r, err := app.captureRequest(ctx)
		if err != nil {
			return sendError(ctx, err)
		}

		res, err := app.analyzer.CaptureResult(r)
		if err != nil {
			return sendError(ctx, err)
		}
		return sendCapture(ctx, res, ctx.Query("xy") == "true")
	}
}

// HandleCaptureStart arms a capture and returns immediately.
func (app *App) HandleCaptureStart() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		debug.InfoLog.Print("web request capture start")

		r, err := app.captureRequest(ctx)
		if err != nil {
			return sendError(ctx, err)
		}
		if err = app.analyzer.Start(r); err != nil {
			return sendError(ctx, err)
		}

		ctx.Status(fiber.StatusAccepted)
		p, err := app.analyzer.Progress()
		if err != nil {
			return sendError(ctx, err)
		}
		return ctx.JSON(progressResponse{State: app.analyzer.State().String(), Progress: p})
	}
}

// HandleCaptureProgress returns the number of events captured by the last capture.
func (app *App) HandleCaptureProgress() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		debug.TraceLog.Print("web request capture progress")
		return app.sendProgress(ctx)
	}
}

// HandleCaptureStop aborts the last capture.
func (app *App) HandleCaptureStop() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		debug.InfoLog.Print("web request capture stop")

		if err := app.analyzer.Stop(); err != nil {
			return sendError(ctx, err)
		}
		return app.sendProgress(ctx)
	}
}

// HandleCaptureData waits for the last capture and returns its data.
func (app *App) HandleCaptureData() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		debug.InfoLog.Print("web request capture data")

		res, err := app.analyzer.FetchResult()
		if err != nil {
			return sendError(ctx, err)
		}
		return sendCapture(ctx, res, ctx.Query("xy") == "true")
	}
}

// HandleTrigger configures the one shot trigger of the next capture.
//
//	POST /trigger?channel=ID1&edge=rising
func (app *App) HandleTrigger() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		debug.InfoLog.Print("web request trigger")

		ch, err := port.ParseChannel(ctx.Query("channel", "ID1"))
		if err != nil {
			return sendError(ctx, err)
		}
		edge, err := port.ParseEdge(ctx.Query("edge"))
		if err != nil {
			return sendError(ctx, err)
		}
		if err = app.analyzer.ConfigureTrigger(ch, edge); err != nil {
			return sendError(ctx, err)
		}

		return ctx.JSON(fiber.Map{"channel": ch.String(), "edge": edge.String()})
	}
}

// HandleFrequency measures the signal frequency (Hz) on a channel.
func (app *App) HandleFrequency() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		debug.InfoLog.Print("web request frequency")

		ch, timeout, err := app.measureParams(ctx)
		if err != nil {
			return sendError(ctx, err)
		}

		f, err := app.analyzer.MeasureFrequency(ch, timeout)
		if err != nil {
			return sendError(ctx, err)
		}
		return ctx.JSON(fiber.Map{"channel": ch.String(), "frequency": f})
	}
}

// HandleDutyCycle measures period (µs) and duty cycle on a channel.
func (app *App) HandleDutyCycle() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		debug.InfoLog.Print("web request duty cycle")

		ch, timeout, err := app.measureParams(ctx)
		if err != nil {
			return sendError(ctx, err)
		}

		period, duty, err := app.analyzer.MeasureDutyCycle(ch, timeout)
		if err != nil {
			return sendError(ctx, err)
		}
		return ctx.JSON(fiber.Map{"channel": ch.String(), "period": period, "dutycycle": duty})
	}
}

// HandleInterval measures the time (µs) between two edges.
//
//	GET /measure/interval?channel1=ID1&mode1=rising&channel2=ID2&mode2=falling&timeout=1000
func (app *App) HandleInterval() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		debug.InfoLog.Print("web request interval")

		var channels [2]port.Channel
		var modes [2]mode.Name
		for i := range channels {
			var err error
			n := strconv.Itoa(i + 1)
			if channels[i], err = port.ParseChannel(ctx.Query("channel"+n, "ID1")); err != nil {
				return sendError(ctx, err)
			}
			if modes[i], err = mode.Parse(ctx.Query("mode"+n, "rising")); err != nil {
				return sendError(ctx, err)
			}
		}
		timeout, err := queryDuration(ctx, "timeout", time.Millisecond, app.config.Capture.Timeout)
		if err != nil {
			return sendError(ctx, err)
		}

		iv, err := app.analyzer.MeasureInterval(channels, modes, timeout)
		if err != nil {
			return sendError(ctx, err)
		}
		return ctx.JSON(fiber.Map{"interval": iv})
	}
}

// HandlePulses counts pulses on a channel within interval (ms).
func (app *App) HandlePulses() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		debug.InfoLog.Print("web request pulses")

		ch, err := port.ParseChannel(ctx.Query("channel", "ID1"))
		if err != nil {
			return sendError(ctx, err)
		}
		interval, err := queryDuration(ctx, "interval", time.Millisecond, time.Second)
		if err != nil {
			return sendError(ctx, err)
		}

		n, err := app.analyzer.CountPulses(ch, interval)
		if err != nil {
			return sendError(ctx, err)
		}
		return ctx.JSON(fiber.Map{"channel": ch.String(), "pulses": n, "interval": interval.Seconds()})
	}
}

// HandleMeasurement returns the last measurement of the monitor.
func (app *App) HandleMeasurement() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		debug.InfoLog.Print("web request measurement")

		app.measurement.Lock()
		defer app.measurement.Unlock()
		return ctx.JSON(app.measurement.last)
	}
}

func (app *App) sendProgress(ctx *fiber.Ctx) error {
	p, err := app.analyzer.Progress()
	if err != nil {
		return sendError(ctx, err)
	}
	return ctx.JSON(progressResponse{State: app.analyzer.State().String(), Progress: p})
}

func sendCapture(ctx *fiber.Ctx, res *analyzer.Result, xy bool) error {
	resp := captureResponse{
		State:    res.State.String(),
		Channels: output.Summarize(res.Channels, res.Modes, res.Timestamps),
	}
	if xy {
		resp.Traces = res.XY()
	}
	return ctx.JSON(resp)
}

// captureRequest parses the capture query parameters, using the configured defaults.
func (app *App) captureRequest(ctx *fiber.Ctx) (r analyzer.Request, err error) {
	if s := ctx.Query("lines"); s != "" {
		for _, name := range strings.Split(s, ",") {
			ch, err := port.ParseChannel(name)
			if err != nil {
				return r, err
			}
			r.Lines = append(r.Lines, ch)
		}
	}
	def := 1
	if len(r.Lines) > 0 {
		def = len(r.Lines)
	}
	if r.Channels, err = queryInt(ctx, "channels", def); err != nil {
		return r, err
	}
	if r.Events, err = queryInt(ctx, "events", app.config.Capture.Events); err != nil {
		return r, err
	}
	if s := ctx.Query("modes"); s != "" {
		for _, name := range strings.Split(s, ",") {
			n, err := mode.Parse(name)
			if err != nil {
				return r, err
			}
			r.Modes = append(r.Modes, n)
		}
	}
	if r.E2E, err = queryDuration(ctx, "e2e", time.Microsecond, 0); err != nil {
		return r, err
	}
	r.Timeout, err = queryDuration(ctx, "timeout", time.Millisecond, app.config.Capture.Timeout)
	return r, err
}

func (app *App) measureParams(ctx *fiber.Ctx) (port.Channel, time.Duration, error) {
	ch, err := port.ParseChannel(ctx.Query("channel", "ID1"))
	if err != nil {
		return ch, 0, err
	}
	timeout, err := queryDuration(ctx, "timeout", time.Millisecond, app.config.Capture.Timeout)
	return ch, timeout, err
}

func queryInt(ctx *fiber.Ctx, key string, def int) (int, error) {
	s := ctx.Query(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", port.ErrInvalidParam, key, s)
	}
	return v, nil
}

// queryDuration parses a decimal query parameter in multiples of unit.
func queryDuration(ctx *fiber.Ctx, key string, unit, def time.Duration) (time.Duration, error) {
	s := ctx.Query(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: %s=%q", port.ErrInvalidParam, key, s)
	}
	return time.Duration(v * float64(unit)), nil
}

// sendError maps analyzer errors to http status codes.
func sendError(ctx *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, port.ErrInvalidParam):
		status = fiber.StatusBadRequest
	case errors.Is(err, capture.ErrDeviceBusy):
		status = fiber.StatusConflict
	case errors.Is(err, capture.ErrTimeout):
		status = fiber.StatusGatewayTimeout
	case errors.Is(err, analyzer.ErrNoCapture):
		status = fiber.StatusNotFound
	}

	if status == fiber.StatusInternalServerError {
		debug.ErrorLog.Printf("web request %s: %v", ctx.Path(), err)
	} else {
		debug.DebugLog.Printf("web request %s: %v", ctx.Path(), err)
	}
	return ctx.Status(status).JSON(fiber.Map{"error": err.Error()})
}
