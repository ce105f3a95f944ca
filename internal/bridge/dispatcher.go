// Package bridge runs the event loop that ties the controller, the
// console link, the session machine and the reconnect supervisor
// together.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Local9/ma2apcmini/internal/clock"
	"github.com/Local9/ma2apcmini/internal/config"
	"github.com/Local9/ma2apcmini/internal/device"
	"github.com/Local9/ma2apcmini/internal/diag"
	"github.com/Local9/ma2apcmini/internal/protocol"
	"github.com/Local9/ma2apcmini/internal/reconnect"
	"github.com/Local9/ma2apcmini/internal/remote"
	"github.com/Local9/ma2apcmini/internal/session"
	"github.com/Local9/ma2apcmini/internal/translate"
)

const eventBuffer = 256

// Device is the controller transport.
type Device interface {
	Connect() bool
	SetHandler(device.Handler)
	SendNoteOn(channel, key, velocity uint8) error
	SendNoteOff(channel, key, velocity uint8) error
	Close() error
}

// Remote is the console transport.
type Remote interface {
	Connect()
	Send(msg any)
	IsOpen() bool
	Generation() uint64
	Close()
}

// RemoteFactory builds the console transport around the dispatcher's
// event handler.
type RemoteFactory func(remote.Handler) Remote

// StatusSource supplies the periodic debug status line.
type StatusSource interface {
	Snapshot() (diag.Snapshot, error)
}

type eventKind int

const (
	evDevice eventKind = iota + 1
	evRemote
	evConnectDue
	evReconnectDue
	evRefreshDue
)

type event struct {
	kind   eventKind
	device device.Event
	remote remote.Event
}

// Dispatcher owns all mutable bridge state. Everything except the
// Handle*Event entry points runs on the goroutine that called Run.
type Dispatcher struct {
	cfg    *config.Config
	clock  clock.Clock
	logger *slog.Logger

	dev        Device
	remote     Remote
	state      *session.ConnectionState
	machine    *session.Machine
	translator *translate.Translator
	supervisor *reconnect.Supervisor
	status     StatusSource

	events chan event
	done   chan struct{}
	poller *clock.Ticker
	ticker *clock.Ticker
	closed bool
}

// New wires the components. status may be nil.
func New(cfg *config.Config, dev Device, newRemote RemoteFactory, status StatusSource, clk clock.Clock, logger *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		cfg:    cfg,
		clock:  clk,
		logger: logger,
		dev:    dev,
		state:  &session.ConnectionState{},
		status: status,
		events: make(chan event, eventBuffer),
		done:   make(chan struct{}),
	}
	d.remote = newRemote(d)
	d.machine = session.NewMachine(cfg, d.state, d.remote, d, logger.With("component", "session"))
	d.translator = translate.New(cfg, d.state, d.remote, dev, clk, logger.With("component", "translate"))
	d.supervisor = reconnect.New(cfg.Reconnect, d.state, clk,
		func() { d.post(event{kind: evReconnectDue}) },
		d, logger.With("component", "reconnect"))
	return d
}

// State returns a copy of the connection bookkeeping.
func (d *Dispatcher) State() session.ConnectionState {
	return *d.state
}

// HandleDeviceEvent queues a controller event for the loop.
func (d *Dispatcher) HandleDeviceEvent(ev device.Event) {
	d.post(event{kind: evDevice, device: ev})
}

// HandleRemoteEvent queues a console transport event for the loop.
func (d *Dispatcher) HandleRemoteEvent(ev remote.Event) {
	d.post(event{kind: evRemote, remote: ev})
}

func (d *Dispatcher) post(ev event) {
	select {
	case d.events <- ev:
	case <-d.done:
	}
}

// Run starts the controller, connects to the console after the startup
// delay and processes events until ctx is cancelled or the console
// rejects the session. Both paths clear the LEDs and close the
// transports before returning.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer close(d.done)
	d.startup()

	var statusC <-chan time.Time
	if d.cfg.Debug.Enabled && d.status != nil {
		d.ticker = d.clock.NewTicker(d.cfg.Debug.StatusInterval)
		statusC = d.ticker.C
	}

	for {
		var pollC <-chan time.Time
		if d.poller != nil {
			pollC = d.poller.C
		}
		select {
		case <-ctx.Done():
			d.logger.Info("shutting down")
			d.teardown()
			return nil
		case ev := <-d.events:
			if err := d.handle(ev); err != nil {
				d.teardown()
				return err
			}
		case <-pollC:
			d.poll()
		case <-statusC:
			d.reportStatus()
		}
	}
}

func (d *Dispatcher) startup() {
	d.logger.Info("connecting to controller", "in", d.cfg.Device.Input, "out", d.cfg.Device.Output)
	d.dev.Connect()
	d.dev.SetHandler(d)
	d.translator.ClearAll()

	d.logger.Info("waiting before console connect", "delay", d.cfg.Timing.StartupDelay)
	d.clock.AfterFunc(d.cfg.Timing.StartupDelay, func() { d.post(event{kind: evConnectDue}) })
}

func (d *Dispatcher) handle(ev event) error {
	switch ev.kind {
	case evDevice:
		d.translator.HandleEvent(ev.device)
	case evRemote:
		return d.handleRemote(ev.remote)
	case evConnectDue:
		d.logger.Info("connecting to console", "url", d.cfg.Remote.URL)
		d.remote.Connect()
	case evReconnectDue:
		d.supervisor.Due()
	case evRefreshDue:
		if d.state.IsConnected {
			d.translator.Refresh()
		}
	}
	return nil
}

func (d *Dispatcher) handleRemote(ev remote.Event) error {
	if ev.Gen != d.remote.Generation() {
		d.logger.Debug("stale console event dropped", "kind", ev.Kind, "gen", ev.Gen)
		return nil
	}

	switch ev.Kind {
	case remote.Opened:
		d.logger.Info("console connection open")
		d.machine.TransportOpened()

	case remote.Closed:
		d.logger.Warn("console connection closed", "err", ev.Err)
		d.machine.TransportLost()
		d.supervisor.Schedule()

	case remote.Error:
		if errors.Is(ev.Err, remote.ErrBinaryFrame) {
			d.logger.Warn("binary frame discarded")
			return nil
		}
		d.logger.Error("console connection error", "err", ev.Err)
		d.machine.TransportLost()
		d.supervisor.Schedule()

	case remote.Message:
		msg, err := protocol.Decode(ev.Data)
		if err != nil {
			d.logger.Warn("malformed console message discarded", "err", err)
			return nil
		}
		if err := d.machine.Handle(msg); err != nil {
			if errors.Is(err, session.ErrFatalSession) {
				return fmt.Errorf("bridge: %w", err)
			}
			d.logger.Error("console message not handled", "err", err)
		}
	}
	return nil
}

func (d *Dispatcher) poll() {
	if d.remote.IsOpen() {
		d.remote.Send(protocol.SessionEcho{Session: d.state.Session})
	}
}

func (d *Dispatcher) reportStatus() {
	snap, err := d.status.Snapshot()
	if err != nil {
		d.logger.Debug("status unavailable", "err", err)
		return
	}
	st := d.state
	d.logger.Debug("status",
		"process", snap,
		"phase", st.Phase,
		"connected", st.IsConnected,
		"session", st.Session,
		"attempts", st.ReconnectAttempts,
		"pending", st.PendingRequestCount,
		"history", len(d.translator.History()),
	)
}

// teardown clears the LEDs and closes both transports. Later calls do
// nothing.
func (d *Dispatcher) teardown() {
	if d.closed {
		return
	}
	d.closed = true

	d.supervisor.Stop()
	if d.poller != nil {
		d.poller.Stop()
	}
	if d.ticker != nil {
		d.ticker.Stop()
	}
	d.translator.ClearAll()
	if err := d.dev.Close(); err != nil {
		d.logger.Warn("closing controller", "err", err)
	}
	d.remote.Close()
	d.state.Session = session.NoSession
}

// StartPoller implements session.Callbacks.
func (d *Dispatcher) StartPoller() {
	if d.poller == nil {
		d.poller = d.clock.NewTicker(d.cfg.Timing.PollInterval)
	}
}

// ScheduleRefresh implements session.Callbacks.
func (d *Dispatcher) ScheduleRefresh(delay time.Duration) {
	d.clock.AfterFunc(delay, func() { d.post(event{kind: evRefreshDue}) })
}

// ScheduleReconnection implements session.Callbacks.
func (d *Dispatcher) ScheduleReconnection() {
	d.supervisor.Schedule()
}

// Playbacks implements session.Callbacks.
func (d *Dispatcher) Playbacks(msg *protocol.Inbound) {
	d.translator.ApplyPlaybacks(msg)
}

// RebuildDevice implements reconnect.Rebuilder. A reopened controller
// starts dark, so the LED matrix is cleared with it.
func (d *Dispatcher) RebuildDevice() bool {
	ok := d.dev.Connect()
	d.dev.SetHandler(d)
	if ok {
		d.translator.ClearAll()
	}
	return ok
}

// RebuildRemote implements reconnect.Rebuilder.
func (d *Dispatcher) RebuildRemote() {
	d.remote.Connect()
}
