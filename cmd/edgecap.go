package main

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"edgecap/pkg/analyzer"
	"edgecap/pkg/app"
	"edgecap/pkg/app/config"
	"edgecap/pkg/dlbus"
	"edgecap/pkg/manchester"
	"edgecap/pkg/mode"
	"edgecap/pkg/output"
	"edgecap/pkg/port"

	"github.com/urfave/cli/v2"
	"github.com/womat/debug"
)

const defaultConfigFile = "/opt/womat/config/" + app.MODULE + ".yaml"

func main() {
	exitCode := 1
	defer func() {
		os.Exit(exitCode)
	}()

	// cfg holds the application configuration
	cfg := config.NewConfig()
	var format string

	cliApp := &cli.App{
		Name:    app.MODULE,
		Usage:   "four channel edge capture and logic analyzer",
		Version: app.VERSION,
		Description: "Capture edge timestamps on up to four digital inputs, measure frequency, duty cycle," +
			"\n intervals and pulse counts, and publish measurements to mqtt." +
			"\n Without a command the web service is started.",
		UsageText: "edgecap [--config <file>] [--log standard|debug|trace] [--output table|json] [command [options]]" +
			"\n\nEXAMPLE:" +
			"\n\tstart the web service and use the configuration file edgecap.yaml" +
			"\n\t\tedgecap --config /opt/womat/edgecap.yaml" +
			"\n\tmeasure the frequency on input ID2" +
			"\n\t\tedgecap frequency --channel ID2",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Destination: &cfg.Flag.ConfigFile, Value: defaultConfigFile, Usage: "load configuration from `FILE`"},
			&cli.StringFlag{Name: "log", Aliases: []string{"l"}, Destination: &cfg.Flag.LogLevel, Value: "standard", Usage: "`LEVEL` defines the log level (standard|debug|trace)"},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Destination: &format, Value: "table", Usage: "`FORMAT` of command results (table|json)"},
		},
		Action: func(ctx *cli.Context) error {
			if err := setup(cfg); err != nil {
				return err
			}
			defer closeDebug(cfg)

			a, err := app.New(cfg)
			defer func() {
				debug.InfoLog.Printf("closing app %s", app.Version())
				_ = a.Close()
			}()

			if err != nil {
				return err
			}

			debug.InfoLog.Printf("starting app %s", app.Version())
			if err = a.Run(); err != nil {
				return err
			}

			// capture exit signals to ensure resources are released on exit.
			quit := make(chan os.Signal, 1)
			signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(quit)

			// wait for am os.Interrupt signal (CTRL C)
			select {
			case sig := <-quit:
				debug.InfoLog.Printf("Got %s signal. Aborting...", sig)
			case <-a.Shutdown():
				debug.InfoLog.Print("shutdown requested")
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "capture",
				Usage: "capture edge timestamps (µs) on the first channels or on --lines",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "channels", Aliases: []string{"n"}, Usage: "number of input lines ID1..IDn (1-4, default 1)"},
					&cli.StringFlag{Name: "lines", Usage: "comma separated input lines, e.g. ID2,ID4"},
					&cli.IntFlag{Name: "events", Aliases: []string{"e"}, Usage: "events per channel (default from config)"},
					&cli.StringFlag{Name: "modes", Aliases: []string{"m"}, Usage: "comma separated capture modes (any|rising|falling|four_rising|sixteen_rising)"},
					&cli.DurationFlag{Name: "e2e", Usage: "expected time between two events, selects the clock prescaler"},
					&cli.DurationFlag{Name: "timeout", Aliases: []string{"t"}, Usage: "capture timeout (default from config)"},
					&cli.StringFlag{Name: "trigger", Usage: "start timing with the first `EDGE` (rising|falling|any) on --trigger-channel"},
					&cli.StringFlag{Name: "trigger-channel", Value: "ID1", Usage: "trigger `CHANNEL`"},
				},
				Action: func(ctx *cli.Context) error {
					return withAnalyzer(cfg, format, func(a *analyzer.Analyzer, out *output.Formatter) error {
						r, err := captureRequest(ctx, cfg)
						if err != nil {
							return err
						}
						if err = configureTrigger(ctx, a); err != nil {
							return err
						}

						res, err := a.CaptureResult(r)
						if err != nil {
							return err
						}
						return out.Capture(res.Channels, res.Modes, res.Timestamps)
					})
				},
			},
			{
				Name:  "states",
				Usage: "read the level of all input lines",
				Action: func(ctx *cli.Context) error {
					return withAnalyzer(cfg, format, func(a *analyzer.Analyzer, out *output.Formatter) error {
						states, err := a.States()
						if err != nil {
							return err
						}
						return out.States(states)
					})
				},
			},
			{
				Name:  "frequency",
				Usage: "measure the signal frequency of a channel",
				Flags: measureFlags(),
				Action: func(ctx *cli.Context) error {
					return withAnalyzer(cfg, format, func(a *analyzer.Analyzer, out *output.Formatter) error {
						ch, err := port.ParseChannel(ctx.String("channel"))
						if err != nil {
							return err
						}
						f, err := a.MeasureFrequency(ch, timeout(ctx, cfg))
						if err != nil {
							return err
						}
						return out.Values(output.Value{Name: ch.String() + " frequency", Value: f, Unit: "Hz"})
					})
				},
			},
			{
				Name:  "dutycycle",
				Usage: "measure period and duty cycle of a channel",
				Flags: measureFlags(),
				Action: func(ctx *cli.Context) error {
					return withAnalyzer(cfg, format, func(a *analyzer.Analyzer, out *output.Formatter) error {
						ch, err := port.ParseChannel(ctx.String("channel"))
						if err != nil {
							return err
						}
						period, duty, err := a.MeasureDutyCycle(ch, timeout(ctx, cfg))
						if err != nil {
							return err
						}
						return out.Values(
							output.Value{Name: ch.String() + " period", Value: period, Unit: "µs"},
							output.Value{Name: ch.String() + " duty cycle", Value: duty},
						)
					})
				},
			},
			{
				Name:      "interval",
				Usage:     "measure the time between an edge on a channel and the following edge on a second channel",
				UsageText: "edgecap interval --from ID1:rising --to ID2:falling",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "from", Value: "ID1:rising", Usage: "first `CHANNEL:MODE`"},
					&cli.StringFlag{Name: "to", Value: "ID1:falling", Usage: "second `CHANNEL:MODE`"},
					&cli.DurationFlag{Name: "timeout", Aliases: []string{"t"}, Usage: "measurement timeout (default from config)"},
				},
				Action: func(ctx *cli.Context) error {
					return withAnalyzer(cfg, format, func(a *analyzer.Analyzer, out *output.Formatter) error {
						var channels [2]port.Channel
						var modes [2]mode.Name
						for i, key := range []string{"from", "to"} {
							var err error
							if channels[i], modes[i], err = parseStream(ctx.String(key)); err != nil {
								return err
							}
						}

						iv, err := a.MeasureInterval(channels, modes, timeout(ctx, cfg))
						if err != nil {
							return err
						}
						return out.Values(output.Value{Name: ctx.String("from") + " -> " + ctx.String("to"), Value: iv, Unit: "µs"})
					})
				},
			},
			{
				Name:  "pulses",
				Usage: "count the pulses of a channel within an interval",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "channel", Aliases: []string{"ch"}, Value: "ID1", Usage: "input `CHANNEL` (ID1..ID4)"},
					&cli.DurationFlag{Name: "interval", Aliases: []string{"i"}, Value: defaultPulseInterval, Usage: "counting interval"},
				},
				Action: func(ctx *cli.Context) error {
					return withAnalyzer(cfg, format, func(a *analyzer.Analyzer, out *output.Formatter) error {
						ch, err := port.ParseChannel(ctx.String("channel"))
						if err != nil {
							return err
						}
						n, err := a.CountPulses(ch, ctx.Duration("interval"))
						if err != nil {
							return err
						}
						return out.Values(output.Value{Name: ch.String() + " pulses", Value: float64(n)})
					})
				},
			},
			{
				Name:  "decode",
				Usage: "capture a manchester coded signal and decode its bits",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "channel", Aliases: []string{"ch"}, Value: "ID1", Usage: "input `CHANNEL` (ID1..ID4)"},
					&cli.IntFlag{Name: "events", Aliases: []string{"e"}, Value: mode.MaxChannelSamples, Usage: "edges to capture"},
					&cli.DurationFlag{Name: "e2e", Usage: "expected time between two edges, selects the clock prescaler"},
					&cli.DurationFlag{Name: "timeout", Aliases: []string{"t"}, Usage: "capture timeout (default from config)"},
					&cli.BoolFlag{Name: "dlbus", Usage: "split the bits into DL-Bus frames"},
				},
				Action: func(ctx *cli.Context) error {
					return withAnalyzer(cfg, format, func(a *analyzer.Analyzer, out *output.Formatter) error {
						return decode(ctx, cfg, a, out)
					})
				},
			},
		},
	}

	// we expect to have more command line flags in the future - sort them
	sort.Sort(cli.FlagsByName(cliApp.Flags))
	sort.Sort(cli.CommandsByName(cliApp.Commands))

	err := cliApp.Run(os.Args)
	if err != nil {
		debug.FatalLog.Print(err)
		exitCode = 1
		return
	}

	exitCode = 0
}

const defaultPulseInterval = time.Second

// setup loads the configuration and initializes the logger.
func setup(cfg *config.Config) error {
	if err := cfg.LoadConfig(); err != nil {
		return err
	}

	debug.SetDebug(cfg.Debug.File, cfg.Debug.Flag)
	return nil
}

func closeDebug(cfg *config.Config) {
	if cfg.Debug.File == nil || cfg.Debug.File == os.Stderr || cfg.Debug.File == os.Stdout {
		return
	}
	debug.InfoLog.Printf("closing debug file %s", cfg.Debug.FileString)
	_ = cfg.Debug.File.Close()
}

// withAnalyzer opens the configured device and runs f with an analyzer on it.
func withAnalyzer(cfg *config.Config, format string, f func(*analyzer.Analyzer, *output.Formatter) error) error {
	of, err := output.ParseFormat(format)
	if err != nil {
		return err
	}
	if err = setup(cfg); err != nil {
		return err
	}
	defer closeDebug(cfg)

	dev, err := app.OpenDevice(cfg)
	if err != nil {
		return fmt.Errorf("open %s device: %w", cfg.Device, err)
	}
	defer func() { _ = dev.Close() }()

	a := analyzer.New(dev)
	defer func() { _ = a.Stop() }()

	return f(a, output.New(os.Stdout, of))
}

func measureFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "channel", Aliases: []string{"ch"}, Value: "ID1", Usage: "input `CHANNEL` (ID1..ID4)"},
		&cli.DurationFlag{Name: "timeout", Aliases: []string{"t"}, Usage: "measurement timeout (default from config)"},
	}
}

func timeout(ctx *cli.Context, cfg *config.Config) (d time.Duration) {
	if d = ctx.Duration("timeout"); d == 0 {
		d = cfg.Capture.Timeout
	}
	return d
}

func captureRequest(ctx *cli.Context, cfg *config.Config) (r analyzer.Request, err error) {
	if s := ctx.String("lines"); s != "" {
		if r.Lines, err = parseLines(s); err != nil {
			return r, err
		}
	}
	r = analyzer.Request{
		Lines:    r.Lines,
		Channels: ctx.Int("channels"),
		Events:   ctx.Int("events"),
		E2E:      ctx.Duration("e2e"),
		Timeout:  timeout(ctx, cfg),
	}
	if r.Events == 0 {
		r.Events = cfg.Capture.Events
	}
	if r.Channels == 0 && len(r.Lines) == 0 {
		r.Channels = 1
	}

	if s := ctx.String("modes"); s != "" {
		for _, name := range strings.Split(s, ",") {
			n, err := mode.Parse(name)
			if err != nil {
				return r, err
			}
			r.Modes = append(r.Modes, n)
		}
	}
	return r, nil
}

func configureTrigger(ctx *cli.Context, a *analyzer.Analyzer) error {
	edge, err := port.ParseEdge(ctx.String("trigger"))
	if err != nil {
		return err
	}
	if edge == port.EdgeNone {
		return nil
	}
	ch, err := port.ParseChannel(ctx.String("trigger-channel"))
	if err != nil {
		return err
	}
	return a.ConfigureTrigger(ch, edge)
}

// parseLines parses a comma separated list of input lines.
func parseLines(s string) ([]port.Channel, error) {
	var lines []port.Channel
	for _, name := range strings.Split(s, ",") {
		ch, err := port.ParseChannel(name)
		if err != nil {
			return nil, err
		}
		lines = append(lines, ch)
	}
	return lines, nil
}

// parseStream parses CHANNEL:MODE, e.g. ID2:falling.
func parseStream(s string) (port.Channel, mode.Name, error) {
	c, m, ok := strings.Cut(s, ":")
	if !ok {
		m = "rising"
	}
	ch, err := port.ParseChannel(c)
	if err != nil {
		return ch, 0, err
	}
	n, err := mode.Parse(m)
	return ch, n, err
}

// decodeRequest captures every edge of ch only. A single line capture runs on a 32 bit counter,
// which does not wrap for minutes at the finest prescaler.
func decodeRequest(ch port.Channel, events int, e2e, timeout time.Duration) analyzer.Request {
	return analyzer.Request{
		Lines:   []port.Channel{ch},
		Modes:   []mode.Name{mode.Any},
		Events:  events,
		E2E:     e2e,
		Timeout: timeout,
	}
}

// decode captures every edge of a channel and decodes the manchester bit stream.
func decode(ctx *cli.Context, cfg *config.Config, a *analyzer.Analyzer, out *output.Formatter) error {
	ch, err := port.ParseChannel(ctx.String("channel"))
	if err != nil {
		return err
	}

	res, err := a.CaptureResult(decodeRequest(ch, ctx.Int("events"), ctx.Duration("e2e"), timeout(ctx, cfg)))
	if err != nil {
		return err
	}

	bits, clock, err := manchester.Decode(res.XY()[0])
	if err != nil {
		return err
	}
	debug.InfoLog.Printf("%v: manchester clock %.1f Hz, half bit %v", ch, clock.Frequency(), clock.HalfBit)

	if !ctx.Bool("dlbus") {
		return out.Bits(bits)
	}
	return out.Frames(dlbus.Frames(bits))
}
