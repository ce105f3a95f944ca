// Package translate maps controller input to console requests and
// console playback state back to controller LEDs.
package translate

import (
	"log/slog"

	"github.com/Local9/ma2apcmini/internal/clock"
	"github.com/Local9/ma2apcmini/internal/config"
	"github.com/Local9/ma2apcmini/internal/device"
	"github.com/Local9/ma2apcmini/internal/protocol"
	"github.com/Local9/ma2apcmini/internal/session"
)

// LEDOutput is the controller side of the translator.
type LEDOutput interface {
	SendNoteOn(channel, key, velocity uint8) error
}

// Translator is not safe for concurrent use; the dispatcher calls it
// from its loop only.
type Translator struct {
	cfg    *config.Config
	state  *session.ConnectionState
	remote session.Sender
	leds   LEDOutput
	logger *slog.Logger

	matrix  [config.TotalLEDs]uint8
	history *History
}

func New(cfg *config.Config, state *session.ConnectionState, remote session.Sender, leds LEDOutput, clk clock.Clock, logger *slog.Logger) *Translator {
	t := &Translator{
		cfg:    cfg,
		state:  state,
		remote: remote,
		leds:   leds,
		logger: logger,
	}
	if cfg.Debug.Enabled {
		t.history = NewHistory(cfg.Debug.MaxHistory, clk)
	}
	return t
}

// HandleEvent routes one controller event.
func (t *Translator) HandleEvent(ev device.Event) {
	if t.history != nil {
		t.history.Add(ev)
	}
	switch ev.Kind {
	case device.NoteOn:
		t.noteOn(int(ev.Key))
	case device.NoteOff:
		t.logger.Debug("note off", "note", ev.Key)
	case device.ControlChange:
		t.controlChange(int(ev.Key), int(ev.Value))
	case device.Error:
		t.logger.Error("midi input error", "err", ev.Err)
	}
}

func (t *Translator) noteOn(note int) {
	t.logger.Debug("note on", "note", note)

	if exec, ok := t.cfg.ButtonFor(note); ok {
		t.remote.Send(protocol.NewButtonPress(exec, t.cfg.Remote.PageIndex, t.state.Session))
		return
	}
	if t.cfg.IsExecutorButton(note) {
		t.logger.Info("executor button pressed", "note", note)
		return
	}
	t.logger.Debug("note not mapped", "note", note)
}

func (t *Translator) controlChange(controller, value int) {
	index, exec, ok := t.cfg.FaderFor(controller)
	if !ok {
		t.logger.Debug("controller not mapped", "cc", controller, "value", value)
		return
	}
	v := t.cfg.Curve().Value(value)
	t.logger.Debug("fader moved", "fader", index, "exec", exec, "value", v)
	t.remote.Send(protocol.NewFaderMove(exec, t.cfg.Remote.PageIndex, v, t.state.Session))
}

// ApplyPlaybacks updates the LED matrix from a playbacks response and
// sends only the LEDs whose state changed.
func (t *Translator) ApplyPlaybacks(msg *protocol.Inbound) {
	var lookup func(int) (int, bool)
	switch msg.ResponseSubType {
	case protocol.SubTypeButton:
		lookup = t.cfg.NoteForExecutor
	case protocol.SubTypeFader:
		lookup = t.cfg.FaderLEDForExecutor
	default:
		t.logger.Debug("playbacks sub type ignored", "subType", msg.ResponseSubType)
		return
	}

	for _, item := range msg.Executors() {
		led, ok := lookup(item.ExecIndex)
		if !ok || led < 0 || led >= config.TotalLEDs {
			continue
		}
		vel := t.cfg.LED.OffVelocity
		if item.Running() {
			vel = t.cfg.LED.OnVelocity
		}
		t.setLED(led, uint8(vel))
	}
}

func (t *Translator) setLED(led int, vel uint8) {
	if t.matrix[led] == vel {
		return
	}
	t.matrix[led] = vel
	if err := t.leds.SendNoteOn(uint8(t.cfg.LED.Channel), uint8(led), vel); err != nil {
		t.logger.Debug("led update dropped", "led", led, "err", err)
	}
}

// ClearAll switches every LED off unconditionally.
func (t *Translator) ClearAll() {
	for i := range t.matrix {
		t.matrix[i] = 0
		if err := t.leds.SendNoteOn(0, uint8(i), 0); err != nil {
			t.logger.Debug("led clear skipped", "err", err)
			t.matrix = [config.TotalLEDs]uint8{}
			return
		}
	}
}

// Refresh asks the console for the current state of every mapped button
// and fader so the LEDs can be rebuilt.
func (t *Translator) Refresh() {
	page, session := t.cfg.Remote.PageIndex, t.state.Session
	ctl := t.cfg.Controller
	buttons := ctl.SmallButtonEnd - ctl.SmallButtonStart + 1
	faders := ctl.FaderEnd - ctl.FaderStart + 1

	t.logger.Info("refreshing LED state", "buttons", buttons, "faders", faders)
	t.remote.Send(protocol.NewPlaybacks(protocol.SubTypeButton, 0, buttons, page, session))
	t.remote.Send(protocol.NewPlaybacks(protocol.SubTypeFader, 0, faders, page, session))
}

// LED returns the last state sent for one LED.
func (t *Translator) LED(i int) uint8 {
	return t.matrix[i]
}

// History returns the retained controller events, oldest first. It is
// empty unless debug mode is on.
func (t *Translator) History() []Entry {
	if t.history == nil {
		return nil
	}
	return t.history.Entries()
}
