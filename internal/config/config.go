package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Remote     RemoteConfig     `yaml:"remote"`
	Device     DeviceConfig     `yaml:"device"`
	Controller ControllerConfig `yaml:"controller"`
	Timing     TimingConfig     `yaml:"timing"`
	Reconnect  ReconnectConfig  `yaml:"reconnect"`
	Debug      DebugConfig      `yaml:"debug"`
	LED        LEDConfig        `yaml:"led"`

	// Buttons and Faders are keyed by wing layout (1..3).
	Buttons    ButtonMapping `yaml:"buttons"`
	Faders     ButtonMapping `yaml:"faders"`
	FaderCurve []CurvePoint  `yaml:"fader_curve"`

	curve FaderCurve
}

type RemoteConfig struct {
	URL       string `yaml:"url"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	PageIndex int    `yaml:"page_index"`

	// LoginQuota is the maxRequests value sent with the login request,
	// DataQuota the one sent with each getdata request.
	LoginQuota       int `yaml:"login_max_requests"`
	DataQuota        int `yaml:"data_max_requests"`
	RequestThreshold int `yaml:"request_threshold"`
}

type DeviceConfig struct {
	Input  string `yaml:"input"`
	Output string `yaml:"output"`
	Wing   int    `yaml:"wing"`
}

// ControllerConfig describes the note and CC layout of the grid. All
// ranges are inclusive.
type ControllerConfig struct {
	SmallButtonStart    int `yaml:"small_button_start"`
	SmallButtonEnd      int `yaml:"small_button_end"`
	ExecutorButtonStart int `yaml:"executor_button_start"`
	ExecutorButtonEnd   int `yaml:"executor_button_end"`
	FaderStart          int `yaml:"fader_start"`
	FaderEnd            int `yaml:"fader_end"`
	FaderLEDOffset      int `yaml:"fader_led_offset"`
}

type TimingConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	StartupDelay time.Duration `yaml:"startup_delay"`
	RefreshDelay time.Duration `yaml:"refresh_delay"`
}

type ReconnectConfig struct {
	BaseDelay time.Duration `yaml:"base_delay"`
	MaxDelay  time.Duration `yaml:"max_delay"`
	// MaxAttempts is only reported in logs; reconnection never gives up.
	MaxAttempts int `yaml:"max_attempts"`
}

type DebugConfig struct {
	Enabled        bool          `yaml:"enabled"`
	MaxHistory     int           `yaml:"max_history"`
	StatusInterval time.Duration `yaml:"status_interval"`
}

// LEDConfig holds the velocity/channel pair written for a lit executor.
type LEDConfig struct {
	OnVelocity  int `yaml:"on_velocity"`
	OffVelocity int `yaml:"off_velocity"`
	Channel     int `yaml:"channel"`
}

// TotalLEDs is the size of the controller LED matrix.
const TotalLEDs = 128

func Default() *Config {
	return &Config{
		Remote: RemoteConfig{
			URL:              "localhost",
			Username:         "apcmini",
			Password:         "remote",
			LoginQuota:       10,
			DataQuota:        1,
			RequestThreshold: 10,
		},
		Device: DeviceConfig{
			Input:  "APC mini",
			Output: "APC mini",
			Wing:   1,
		},
		Controller: ControllerConfig{
			SmallButtonStart:    16,
			SmallButtonEnd:      47,
			ExecutorButtonStart: 56,
			ExecutorButtonEnd:   87,
			FaderStart:          48,
			FaderEnd:            55,
			FaderLEDOffset:      48,
		},
		Timing: TimingConfig{
			PollInterval: 100 * time.Millisecond,
			StartupDelay: 2 * time.Second,
			RefreshDelay: time.Second,
		},
		Reconnect: ReconnectConfig{
			BaseDelay:   time.Second,
			MaxDelay:    30 * time.Second,
			MaxAttempts: 5,
		},
		Debug: DebugConfig{
			MaxHistory:     50,
			StatusInterval: 30 * time.Second,
		},
		LED: LEDConfig{
			OnVelocity: 1,
		},
		Buttons:    sequentialMapping(32),
		Faders:     sequentialMapping(8),
		FaderCurve: defaultCurvePoints(),
	}
}

// Load reads a YAML file over the defaults. An empty path yields the
// defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Curve returns the fader curve built by Normalize.
func (c *Config) Curve() FaderCurve {
	return c.curve
}

// ButtonFor resolves a small-button note to its executor index for the
// configured wing. Notes outside the small-button range report false.
func (c *Config) ButtonFor(note int) (int, bool) {
	ctl := c.Controller
	if note < ctl.SmallButtonStart || note > ctl.SmallButtonEnd {
		return 0, false
	}
	return c.Buttons.Lookup(c.Device.Wing, note-ctl.SmallButtonStart)
}

func (c *Config) IsExecutorButton(note int) bool {
	return note >= c.Controller.ExecutorButtonStart && note <= c.Controller.ExecutorButtonEnd
}

// FaderFor resolves a fader CC number to its position on the controller
// and the executor it drives.
func (c *Config) FaderFor(controller int) (index, exec int, ok bool) {
	ctl := c.Controller
	if controller < ctl.FaderStart || controller > ctl.FaderEnd {
		return 0, 0, false
	}
	index = controller - ctl.FaderStart
	exec, ok = c.Faders.Lookup(c.Device.Wing, index)
	return index, exec, ok
}

// NoteForExecutor is the reverse of ButtonFor, used to light the button
// bound to an executor.
func (c *Config) NoteForExecutor(exec int) (int, bool) {
	k, ok := c.Buttons.IndexOf(c.Device.Wing, exec)
	if !ok {
		return 0, false
	}
	return c.Controller.SmallButtonStart + k, true
}

// FaderLEDForExecutor returns the LED index under the fader bound to exec.
func (c *Config) FaderLEDForExecutor(exec int) (int, bool) {
	k, ok := c.Faders.IndexOf(c.Device.Wing, exec)
	if !ok {
		return 0, false
	}
	return c.Controller.FaderLEDOffset + k, true
}
