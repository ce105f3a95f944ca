package config

import (
	"fmt"
	"strconv"
	"time"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays the environment variables understood by the original
// web remote bridge. Durations are given in milliseconds.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	parse := func(key string) (int, bool, error) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return 0, false, nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, false, fmt.Errorf("%s: %w", key, err)
		}
		return n, true, nil
	}
	num := func(key string, dst *int) error {
		n, ok, err := parse(key)
		if ok {
			*dst = n
		}
		return err
	}
	millis := func(key string, dst *time.Duration) error {
		n, ok, err := parse(key)
		if ok {
			*dst = time.Duration(n) * time.Millisecond
		}
		return err
	}

	str("WS_URL", &c.Remote.URL)
	str("MIDI_IN_DEVICE", &c.Device.Input)
	str("MIDI_OUT_DEVICE", &c.Device.Output)
	str("MA2_USERNAME", &c.Remote.Username)
	str("MA2_PASSWORD", &c.Remote.Password)

	if v, ok := lookup("DEBUG_MODE"); ok && v != "" {
		c.Debug.Enabled = v == "true"
	}

	for _, step := range []error{
		num("WING_CONFIGURATION", &c.Device.Wing),
		num("REQUEST_THRESHOLD", &c.Remote.RequestThreshold),
		num("MAX_MIDI_HISTORY", &c.Debug.MaxHistory),
		num("PAGE_INDEX", &c.Remote.PageIndex),
		millis("INTERVAL_DELAY", &c.Timing.PollInterval),
		millis("INITIALIZATION_DELAY", &c.Timing.StartupDelay),
	} {
		if step != nil {
			return step
		}
	}
	return nil
}
