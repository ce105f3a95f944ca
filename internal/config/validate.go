package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalid wraps every error reported by Validate.
var ErrInvalid = errors.New("invalid configuration")

type span struct {
	name       string
	start, end int
}

func (s span) size() int { return s.end - s.start + 1 }

// Validate checks configuration correctness. It performs declarative
// validation only and MUST NOT mutate the configuration.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Remote.URL == "" {
		fail("remote.url is required")
	}
	if c.Remote.Username == "" {
		fail("remote.username is required")
	}
	if c.Remote.PageIndex < 0 {
		fail("remote.page_index must be >= 0, got %d", c.Remote.PageIndex)
	}
	if c.Remote.RequestThreshold < 1 {
		fail("remote.request_threshold must be >= 1, got %d", c.Remote.RequestThreshold)
	}
	if c.Remote.LoginQuota < 0 || c.Remote.DataQuota < 0 {
		fail("remote max_requests quotas must be >= 0")
	}
	if c.Device.Wing < 1 || c.Device.Wing > 3 {
		fail("device.wing must be 1, 2 or 3, got %d", c.Device.Wing)
	}

	ctl := c.Controller
	spans := []span{
		{"small buttons", ctl.SmallButtonStart, ctl.SmallButtonEnd},
		{"executor buttons", ctl.ExecutorButtonStart, ctl.ExecutorButtonEnd},
	}
	for _, s := range append(spans, span{"faders", ctl.FaderStart, ctl.FaderEnd}) {
		if s.start < 0 || s.end > 127 || s.start > s.end {
			fail("controller %s range %d-%d invalid", s.name, s.start, s.end)
		}
	}
	// Both button ranges are note numbers and must not overlap; the
	// fader range is CC numbers and lives in its own space.
	if a, b := spans[0], spans[1]; !(a.end < b.start || b.end < a.start) {
		fail("controller %s %d-%d overlap %s %d-%d", a.name, a.start, a.end, b.name, b.start, b.end)
	}
	faderLEDs := span{"fader LEDs", ctl.FaderLEDOffset, ctl.FaderLEDOffset + ctl.FaderEnd - ctl.FaderStart}
	if faderLEDs.start < 0 || faderLEDs.end >= TotalLEDs {
		fail("controller fader_led_offset %d puts LEDs outside 0..%d", ctl.FaderLEDOffset, TotalLEDs-1)
	}

	faderCount := span{"faders", ctl.FaderStart, ctl.FaderEnd}.size()
	for wing := 1; wing <= 3; wing++ {
		if got, want := len(c.Buttons[wing]), spans[0].size(); got != want {
			fail("buttons[%d] has %d entries, small button range needs %d", wing, got, want)
		}
		if got, want := len(c.Faders[wing]), faderCount; got != want {
			fail("faders[%d] has %d entries, fader range needs %d", wing, got, want)
		}
	}

	if err := checkCurvePoints(c.FaderCurve); err != nil {
		errs = append(errs, err)
	}

	t := c.Timing
	if t.PollInterval <= 0 {
		fail("timing.poll_interval must be > 0")
	}
	if t.StartupDelay < 0 || t.RefreshDelay < 0 {
		fail("timing delays must be >= 0")
	}
	r := c.Reconnect
	if r.BaseDelay <= 0 || r.MaxDelay < r.BaseDelay {
		fail("reconnect delays invalid: base=%v max=%v", r.BaseDelay, r.MaxDelay)
	}
	if c.Debug.MaxHistory < 0 {
		fail("debug.max_history must be >= 0")
	}
	if c.Debug.StatusInterval < 0 {
		fail("debug.status_interval must be >= 0")
	}

	for name, v := range map[string]int{
		"led.on_velocity":  c.LED.OnVelocity,
		"led.off_velocity": c.LED.OffVelocity,
	} {
		if v < 0 || v > 127 {
			fail("%s must be 0..127, got %d", name, v)
		}
	}
	if c.LED.Channel < 0 || c.LED.Channel > 15 {
		fail("led.channel must be 0..15, got %d", c.LED.Channel)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

// Normalize applies post-validation normalization. It is allowed to
// mutate the configuration and MUST be called only after Validate.
func (c *Config) Normalize() {
	c.Remote.URL = normalizeURL(c.Remote.URL)
	c.curve = buildCurve(c.FaderCurve)
}

// normalizeURL turns a bare console host into the web remote endpoint.
func normalizeURL(raw string) string {
	if !strings.Contains(raw, "://") {
		raw = "ws://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if (u.Path == "" || u.Path == "/") && u.RawQuery == "" {
		u.Path = "/"
		u.RawQuery = "ma=1"
	}
	return u.String()
}
