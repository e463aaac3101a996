package app

// initDefaultRoutes initializes the applications routes.
//
//	version, health:   application information
//	states:            static input levels
//	capture, control:  blocking and non-blocking captures, trigger configuration
//	measure:           derived measurements
func (app *App) initDefaultRoutes() {
	api := app.web.Group("/")
	if app.config.Webserver.Webservices["version"] {
		api.Get("/version", app.HandleVersion())
	}
	if app.config.Webserver.Webservices["health"] {
		api.Get("/health", app.HandleHealth())
	}
	if app.config.Webserver.Webservices["states"] {
		api.Get("/states", app.HandleStates())
	}
	if app.config.Webserver.Webservices["capture"] {
		api.Get("/capture", app.HandleCapture())
		api.Get("/capture/data", app.HandleCaptureData())
		api.Get("/capture/progress", app.HandleCaptureProgress())
	}
	if app.config.Webserver.Webservices["control"] {
		api.Post("/capture/start", app.HandleCaptureStart())
		api.Post("/capture/stop", app.HandleCaptureStop())
		api.Post("/trigger", app.HandleTrigger())
	}
	if app.config.Webserver.Webservices["measure"] {
		measure := api.Group("/measure")
		measure.Get("/frequency", app.HandleFrequency())
		measure.Get("/dutycycle", app.HandleDutyCycle())
		measure.Get("/interval", app.HandleInterval())
		measure.Get("/pulses", app.HandlePulses())
		api.Get("/measurement", app.HandleMeasurement())
	}
}
