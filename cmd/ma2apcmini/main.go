package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"gitlab.com/gomidi/midi/v2"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"github.com/Local9/ma2apcmini/internal/bridge"
	"github.com/Local9/ma2apcmini/internal/clock"
	"github.com/Local9/ma2apcmini/internal/config"
	"github.com/Local9/ma2apcmini/internal/device"
	"github.com/Local9/ma2apcmini/internal/diag"
	"github.com/Local9/ma2apcmini/internal/remote"
	"github.com/Local9/ma2apcmini/internal/session"
)

func main() {
	defer midi.CloseDriver()
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		midi.CloseDriver()
		os.Exit(1)
	}
}

type options struct {
	configPath  string
	url         string
	wing        int
	in          string
	out         string
	debug       bool
	listDevices bool
}

func run(args []string) error {
	var opts options
	flagSet := pflag.NewFlagSet("ma2apcmini", pflag.ContinueOnError)
	flagSet.StringVar(&opts.configPath, "config", "", "path to YAML config file")
	flagSet.StringVar(&opts.url, "url", "", "console address or web remote URL (overrides WS_URL)")
	flagSet.IntVar(&opts.wing, "wing", 0, "wing layout 1..3 (overrides WING_CONFIGURATION)")
	flagSet.StringVar(&opts.in, "in", "", "MIDI input device name (overrides MIDI_IN_DEVICE)")
	flagSet.StringVar(&opts.out, "out", "", "MIDI output device name (overrides MIDI_OUT_DEVICE)")
	flagSet.BoolVar(&opts.debug, "debug", false, "debug logging, event history and status reports")
	flagSet.BoolVar(&opts.listDevices, "list-devices", false, "print MIDI ports and exit")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if flagSet.NArg() > 0 {
		return fmt.Errorf("unexpected argument: %s", flagSet.Arg(0))
	}

	if opts.listDevices {
		printPorts(device.ListPorts())
		return nil
	}

	cfg, err := loadConfig(flagSet, opts)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Debug.Enabled)
	slog.SetDefault(logger)
	logger.Info("starting ma2apcmini",
		"url", cfg.Remote.URL,
		"in", cfg.Device.Input,
		"out", cfg.Device.Output,
		"wing", cfg.Device.Wing,
		"page", cfg.Remote.PageIndex,
	)

	var status bridge.StatusSource
	if cfg.Debug.Enabled {
		sampler, err := diag.NewSampler()
		if err != nil {
			logger.Warn("status reports disabled", "err", err)
		} else {
			status = sampler
		}
	}

	dev := device.NewMIDI(cfg.Device.Input, cfg.Device.Output, logger.With("component", "device"))
	newRemote := func(h remote.Handler) bridge.Remote {
		return remote.NewClient(cfg.Remote.URL, h, logger.With("component", "remote"))
	}
	d := bridge.New(cfg, dev, newRemote, status, clock.Real(), logger.With("component", "bridge"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := d.Run(ctx); err != nil {
		if errors.Is(err, session.ErrFatalSession) {
			logger.Error("stopping: enable Web Remote on the console and check the remote password")
		}
		return err
	}
	logger.Info("stopped")
	return nil
}

// loadConfig layers defaults, the YAML file, the environment and the
// command line, in that order.
func loadConfig(flagSet *pflag.FlagSet, opts options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if flagSet.Changed("url") {
		cfg.Remote.URL = opts.url
	}
	if flagSet.Changed("wing") {
		cfg.Device.Wing = opts.wing
	}
	if flagSet.Changed("in") {
		cfg.Device.Input = opts.in
	}
	if flagSet.Changed("out") {
		cfg.Device.Output = opts.out
	}
	if flagSet.Changed("debug") {
		cfg.Debug.Enabled = opts.debug
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Normalize()
	return cfg, nil
}

func newLogger(debug bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if debug {
		opts.Level = slog.LevelDebug
		opts.AddSource = true
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func printPorts(p device.Ports) {
	fmt.Println("MIDI inputs:")
	for _, name := range p.Inputs {
		fmt.Printf("  %s\n", name)
	}
	fmt.Println("MIDI outputs:")
	for _, name := range p.Outputs {
		fmt.Printf("  %s\n", name)
	}
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `ma2apcmini bridges an APC mini style MIDI controller to the grandMA2
web remote.

Settings are read from the defaults, then the --config file, then the
environment (WS_URL, MIDI_IN_DEVICE, MIDI_OUT_DEVICE, WING_CONFIGURATION,
MA2_USERNAME, MA2_PASSWORD, PAGE_INDEX, INTERVAL_DELAY, REQUEST_THRESHOLD,
INITIALIZATION_DELAY, DEBUG_MODE, MAX_MIDI_HISTORY), then flags.

Usage:
  ma2apcmini [flags]

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
