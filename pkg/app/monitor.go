package app

import (
	"errors"
	"math"
	"time"

	"edgecap/pkg/capture"
	"edgecap/pkg/mqtt"

	"github.com/womat/debug"
)

// measureEvery is the period the monitored channel is measured.
const measureEvery = time.Second

// Measurement is the signal measured on the monitored channel.
type Measurement struct {
	TimeStamp time.Time `json:"timestamp"`
	Channel   string    `json:"channel"`
	// Frequency in Hz
	Frequency float64 `json:"frequency"`
	// Period in µs
	Period    float64 `json:"period"`
	DutyCycle float64 `json:"dutycycle"`
}

// monitor measures the configured channel until quit is closed and sends measurements to the mqtt broker.
func (app *App) monitor() {
	defer close(app.monitorDone)

	every := measureEvery
	if app.config.MQTT.Interval < every {
		every = app.config.MQTT.Interval
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-app.quit:
			return
		case <-ticker.C:
			m, err := app.measure()
			if err != nil {
				if errors.Is(err, capture.ErrDeviceBusy) {
					debug.DebugLog.Print("device busy, measurement skipped")
				} else {
					debug.ErrorLog.Printf("measure %v: %v", app.config.MQTT.Channel, err)
				}
				continue
			}

			if app.validateMeasurement(m) {
				app.sendMQTT(m)
			}
		}
	}
}

// measure takes frequency and duty cycle of the monitored channel.
func (app *App) measure() (Measurement, error) {
	ch := app.config.MQTT.Channel

	f, err := app.analyzer.MeasureFrequency(ch, app.config.Capture.Timeout)
	if err != nil {
		return Measurement{}, err
	}
	period, duty, err := app.analyzer.MeasureDutyCycle(ch, app.config.Capture.Timeout)
	if err != nil {
		return Measurement{}, err
	}

	return Measurement{
		TimeStamp: time.Now(),
		Channel:   ch.String(),
		Frequency: f,
		Period:    period,
		DutyCycle: duty,
	}, nil
}

// validateMeasurement saves m as the last measurement and checks it against the last published one.
// It reports whether the publish interval elapsed or the frequency changed by more than the configured delta.
func (app *App) validateMeasurement(m Measurement) bool {
	app.measurement.Lock()
	defer app.measurement.Unlock()

	app.measurement.last = m

	deltaT := m.TimeStamp.Sub(app.measurement.sent.TimeStamp)
	deltaF := math.Abs(m.Frequency - app.measurement.sent.Frequency)

	if deltaT < app.config.MQTT.Interval && deltaF <= app.config.MQTT.DeltaFrequency {
		return false
	}

	app.measurement.sent = m
	return true
}

// sendMQTT sends the measurement to the mqtt broker.
func (app *App) sendMQTT(m Measurement) {
	msg, err := mqtt.NewMessage(app.config.MQTT.Topic, m)
	if err != nil {
		debug.ErrorLog.Printf("sendMQTT: %v", err)
		return
	}

	debug.TraceLog.Printf("prepare mqtt message %v %s", msg.Topic, msg.Payload)
	select {
	case app.mqtt.C <- msg:
	case <-app.quit:
	}
}
