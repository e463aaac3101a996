package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"edgecap/pkg/mode"
	"edgecap/pkg/port"

	"github.com/womat/debug"
	"gopkg.in/yaml.v2"
)

// Config holds the application configuration.
// Config defines the struct of global config and the struct of the configuration file
type Config struct {
	Device    string          `yaml:"device"`
	Gpio      GpioConfig      `yaml:"gpio"`
	Emulator  EmulatorConfig  `yaml:"emulator"`
	Capture   CaptureConfig   `yaml:"capture"`
	Flag      FlagConfig      `yaml:"-"`
	Debug     DebugConfig     `yaml:"debug"`
	Webserver WebserverConfig `yaml:"webserver"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
}

// FlagConfig defines the configured flags (parameters)
type FlagConfig struct {
	LogLevel   string
	ConfigFile string
}

// GpioConfig defines the gpio lines used as input ports.
type GpioConfig struct {
	Chip string `yaml:"chip"`
	// Lines maps the channel names ID1..ID4 to line offsets.
	Lines map[string]int `yaml:"lines"`
	// Bias is pullup, pulldown or none.
	Bias string `yaml:"bias"`
	// Offsets are the line offsets in channel order.
	Offsets [port.NumChannels]int `yaml:"-"`
}

// EmulatorConfig defines the test signal of the software device.
type EmulatorConfig struct {
	Frequency float64 `yaml:"frequency"`
	DutyCycle float64 `yaml:"dutycycle"`
	// PhaseInt maps the channel names ID1..ID4 to a signal delay in µs.
	PhaseInt map[string]int                  `yaml:"phase"`
	Phase    [port.NumChannels]time.Duration `yaml:"-"`
}

// CaptureConfig defines the defaults of capture requests.
type CaptureConfig struct {
	TimeoutInt int           `yaml:"timeout"`
	Timeout    time.Duration `yaml:"-"`
	Events     int           `yaml:"events"`
}

// WebserverConfig defines the struct of the webserver and webservice configuration and configuration file
type WebserverConfig struct {
	URL         string          `yaml:"url"`
	Webservices map[string]bool `yaml:"webservices"`
}

// MQTTConfig defines the struct of the mqtt client configuration and configuration file
type MQTTConfig struct {
	Connection     string        `yaml:"connection"`
	Interval       time.Duration `yaml:"-"`
	IntervalInt    int           `yaml:"interval"`
	Topic          string        `yaml:"topic"`
	ChannelString  string        `yaml:"channel"`
	Channel        port.Channel  `yaml:"-"`
	DeltaFrequency float64       `yaml:"deltafrequency"`
}

// DebugConfig defines the struct of the debug configuration and configuration file
type DebugConfig struct {
	File       io.WriteCloser `yaml:"-"`
	Flag       int            `yaml:"-"`
	FlagString string         `yaml:"flag"`
	FileString string         `yaml:"file"`
}

func NewConfig() *Config {
	return &Config{
		Device: "emulator",
		Gpio: GpioConfig{
			Chip:  "gpiochip0",
			Lines: map[string]int{"ID1": 17, "ID2": 27, "ID3": 22, "ID4": 23},
			Bias:  "none",
		},
		Emulator: EmulatorConfig{
			Frequency: 1000,
			DutyCycle: 0.5,
		},
		Capture: CaptureConfig{
			TimeoutInt: 1000,
			Timeout:    time.Second,
			Events:     mode.MaxChannelSamples,
		},
		Flag: FlagConfig{},
		Debug: DebugConfig{
			FileString: "stderr",
			FlagString: "standard",
		},
		Webserver: WebserverConfig{
			URL: "http://0.0.0.0:4000",
			Webservices: map[string]bool{
				"version": true,
				"health":  true,
				"states":  true,
				"capture": true,
				"measure": true,
				"control": true,
			},
		},
		MQTT: MQTTConfig{
			Connection:     "",
			IntervalInt:    10,
			Interval:       10 * time.Second,
			Topic:          "edgecap/measurement",
			ChannelString:  "ID1",
			Channel:        port.ID1,
			DeltaFrequency: 1,
		},
	}
}

// LoadConfig reads the configuration file, applies the command line flags
// and converts the configured values.
func (c *Config) LoadConfig() error {
	if err := c.readConfigFile(); err != nil {
		return fmt.Errorf("error reading config file %q: %w", c.Flag.ConfigFile, err)
	}

	if c.Flag.LogLevel != "" {
		c.Debug.FlagString = c.Flag.LogLevel
	}
	if err := c.setDebugConfig(); err != nil {
		return fmt.Errorf("debug config %q: %w", c.Debug.FileString, err)
	}

	return c.convert()
}

func (c *Config) readConfigFile() error {
	file, err := os.Open(c.Flag.ConfigFile)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	decoder := yaml.NewDecoder(file)
	if err = decoder.Decode(c); err != nil {
		return err
	}

	return nil
}

// convert checks the configured values and converts them to their runtime types.
func (c *Config) convert() (err error) {
	switch c.Device {
	case "emulator", "gpio":
	default:
		return fmt.Errorf("%w: unknown device %q", port.ErrInvalidParam, c.Device)
	}

	for name, offset := range c.Gpio.Lines {
		ch, err := port.ParseChannel(name)
		if err != nil {
			return fmt.Errorf("gpio lines: %w", err)
		}
		c.Gpio.Offsets[ch] = offset
	}

	for name, us := range c.Emulator.PhaseInt {
		ch, err := port.ParseChannel(name)
		if err != nil {
			return fmt.Errorf("emulator phase: %w", err)
		}
		c.Emulator.Phase[ch] = time.Duration(us) * time.Microsecond
	}

	if c.MQTT.Channel, err = port.ParseChannel(c.MQTT.ChannelString); err != nil {
		return fmt.Errorf("mqtt channel: %w", err)
	}

	c.MQTT.Interval = time.Duration(c.MQTT.IntervalInt) * time.Second
	c.Capture.Timeout = time.Duration(c.Capture.TimeoutInt) * time.Millisecond

	return nil
}

func (c *Config) setDebugConfig() (err error) {
	// defines Debug section of global.Config
	switch c.Debug.FlagString {
	case "trace", "full":
		c.Debug.Flag = debug.Full
	case "debug":
		c.Debug.Flag = debug.Warning | debug.Info | debug.Error | debug.Fatal | debug.Debug
	case "standard":
		c.Debug.Flag = debug.Standard
	default:
		return fmt.Errorf("%w: unknown log level %q", port.ErrInvalidParam, c.Debug.FlagString)
	}

	switch c.Debug.FileString {
	case "stderr":
		c.Debug.File = os.Stderr
	case "stdout":
		c.Debug.File = os.Stdout
	default:
		if c.Debug.File, err = os.OpenFile(c.Debug.FileString, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666); err != nil {
			return
		}
	}

	return
}
