package app

import (
	"fmt"
	"net/url"
	"sync"

	"edgecap/pkg/analyzer"
	"edgecap/pkg/app/config"
	"edgecap/pkg/device"
	"edgecap/pkg/emulator"
	"edgecap/pkg/mqtt"
	"edgecap/pkg/port"
	"edgecap/pkg/raspberry"

	"github.com/gofiber/fiber/v2"
	"github.com/womat/debug"
)

// App is the main application struct.
// App is where the application is wired up.
type App struct {
	// web is the fiber web framework instance
	web *fiber.App

	// config is the application configuration
	config *config.Config

	// urlParsed contains the parsed Config.Url parameter
	// and makes it easier to get params out of e.g.
	// url: https://0.0.0.0:7844/?minTls=1.2&bodyLimit=50MB
	urlParsed *url.URL

	// mqtt is the handler to the mqtt broker
	mqtt *mqtt.Handler

	// dev is the capture device, analyzer drives captures on it
	dev      device.Device
	analyzer *analyzer.Analyzer

	// measurement holds the last measurement and the last one published to mqtt
	measurement struct {
		sync.Mutex
		last Measurement
		sent Measurement
	}

	// restart signals application restart
	restart chan struct{}
	// shutdown signals application shutdown
	shutdown chan struct{}
	// quit stops the monitor, monitorDone signals that it is terminated
	quit        chan struct{}
	monitorDone chan struct{}
	closeOnce   sync.Once
}

// New checks the Web server URL and initialize the main app structure
func New(config *config.Config) (*App, error) {
	u, err := url.Parse(config.Webserver.URL)
	if err != nil {
		debug.ErrorLog.Printf("Error parsing url %q: %s", config.Webserver.URL, err.Error())
		return &App{}, err
	}

	return &App{
		config:    config,
		urlParsed: u,

		web:  fiber.New(fiber.Config{DisableStartupMessage: true}),
		mqtt: mqtt.New(),

		restart:  make(chan struct{}),
		shutdown: make(chan struct{}),
		quit:     make(chan struct{}),
	}, err
}

// Run starts the application.
func (app *App) Run() error {
	if err := app.init(); err != nil {
		return err
	}

	go app.mqtt.Service()
	go app.runWebServer()

	if app.config.MQTT.Connection != "" && app.config.MQTT.Interval > 0 {
		app.monitorDone = make(chan struct{})
		go app.monitor()
	}

	return nil
}

// init initializes the application.
func (app *App) init() (err error) {
	if app.dev, err = OpenDevice(app.config); err != nil {
		debug.ErrorLog.Printf("can't open capture device: %v", err)
		return err
	}
	app.analyzer = analyzer.New(app.dev)

	if err = app.mqtt.Connect(app.config.MQTT.Connection, MODULE); err != nil {
		debug.ErrorLog.Printf("can't open mqtt broker %v", err)
		return err
	}

	// initDefaultRoutes should be always called last because it accesses the analyzer
	app.initDefaultRoutes()

	return nil
}

// OpenDevice opens the configured capture device.
func OpenDevice(cfg *config.Config) (device.Device, error) {
	switch cfg.Device {
	case "gpio":
		bias, err := raspberry.ParseBias(cfg.Gpio.Bias)
		if err != nil {
			return nil, err
		}
		d, err := raspberry.Open(raspberry.Config{Chip: cfg.Gpio.Chip, Lines: cfg.Gpio.Offsets, Bias: bias})
		if err != nil {
			return nil, err
		}
		return d, nil
	case "emulator":
		e, err := emulator.New(emulator.Config{
			Frequency: cfg.Emulator.Frequency,
			DutyCycle: cfg.Emulator.DutyCycle,
			Phase:     cfg.Emulator.Phase,
		}, nil)
		if err != nil {
			return nil, err
		}
		return e, nil
	}
	return nil, fmt.Errorf("%w: unknown device %q", port.ErrInvalidParam, cfg.Device)
}

// Restart returns the read only restart channel.
// Restart is used to be able to react on application restart. (see cmd/edgecap.go)
func (app *App) Restart() <-chan struct{} {
	return app.restart
}

// Shutdown returns the read only shutdown channel.
// Shutdown is used to be able to react on application shutdown. (see cmd/edgecap.go)
func (app *App) Shutdown() <-chan struct{} {
	return app.shutdown
}

// Close stops the monitor, aborts a running capture and releases the device.
func (app *App) Close() error {
	var err error

	app.closeOnce.Do(func() {
		if app.quit != nil {
			close(app.quit)
		}
		if app.monitorDone != nil {
			<-app.monitorDone
		}

		if app.mqtt != nil {
			_ = app.mqtt.Disconnect()
		}
		if app.web != nil {
			_ = app.web.Shutdown()
		}

		if app.analyzer != nil {
			_ = app.analyzer.Stop()
		}
		if app.dev != nil {
			err = app.dev.Close()
		}
	})

	return err
}
