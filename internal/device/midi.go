// Package device talks to the grid controller over MIDI.
package device

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
)

// ErrNotConnected is returned by the send methods while no output port
// is open.
var ErrNotConnected = errors.New("device: not connected")

// MIDI is the controller connection: one input port and one output port
// opened by name. A MIDI driver must be registered by the program.
type MIDI struct {
	inName  string
	outName string
	logger  *slog.Logger

	hmu     sync.RWMutex
	handler Handler

	mu   sync.Mutex
	in   drivers.In
	out  drivers.Out
	send func(midi.Message) error
	stop func()
}

func NewMIDI(inName, outName string, logger *slog.Logger) *MIDI {
	return &MIDI{inName: inName, outName: outName, logger: logger}
}

// SetHandler sets the receiver for input events. It may be called before
// or after Connect.
func (m *MIDI) SetHandler(h Handler) {
	m.hmu.Lock()
	m.handler = h
	m.hmu.Unlock()
}

// Connect closes any open ports and opens both configured ports. Failures
// are logged and reported as false; the output stays usable even if the
// input could not be opened.
func (m *MIDI) Connect() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeLocked()

	ok := true
	if err := m.openOutput(); err != nil {
		m.logger.Error("midi output unavailable", "device", m.outName, "err", err)
		ok = false
	}
	if err := m.openInput(); err != nil {
		m.logger.Error("midi input unavailable", "device", m.inName, "err", err)
		ok = false
	}
	if ok {
		m.logger.Info("midi connected", "in", m.inName, "out", m.outName)
	}
	return ok
}

func (m *MIDI) openOutput() error {
	out, err := midi.FindOutPort(m.outName)
	if err != nil {
		return err
	}
	send, err := midi.SendTo(out)
	if err != nil {
		return fmt.Errorf("open %q: %w", m.outName, err)
	}
	m.out = out
	m.send = send
	return nil
}

func (m *MIDI) openInput() error {
	in, err := midi.FindInPort(m.inName)
	if err != nil {
		return err
	}
	stop, err := midi.ListenTo(in, func(msg midi.Message, _ int32) {
		ev, ok := Decode(msg)
		if !ok {
			m.logger.Debug("midi message ignored", "msg", msg.String())
			return
		}
		m.dispatch(ev)
	}, midi.HandleError(func(err error) {
		m.dispatch(Event{Kind: Error, Err: err})
	}))
	if err != nil {
		_ = in.Close()
		return fmt.Errorf("listen %q: %w", m.inName, err)
	}
	m.in = in
	m.stop = stop
	return nil
}

func (m *MIDI) dispatch(ev Event) {
	m.hmu.RLock()
	h := m.handler
	m.hmu.RUnlock()
	if h != nil {
		h.HandleDeviceEvent(ev)
	}
}

func (m *MIDI) SendNoteOn(channel, key, velocity uint8) error {
	return m.write(midi.NoteOn(channel, key, velocity))
}

func (m *MIDI) SendNoteOff(channel, key, velocity uint8) error {
	return m.write(midi.NoteOffVelocity(channel, key, velocity))
}

func (m *MIDI) write(msg midi.Message) error {
	m.mu.Lock()
	send := m.send
	m.mu.Unlock()
	if send == nil {
		return ErrNotConnected
	}
	if err := send(msg); err != nil {
		return fmt.Errorf("device: send %s: %w", msg, err)
	}
	return nil
}

// Close releases both ports. It is safe to call more than once.
func (m *MIDI) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeLocked()
}

func (m *MIDI) closeLocked() error {
	if m.stop != nil {
		m.stop()
		m.stop = nil
	}
	var errs []error
	if m.in != nil {
		errs = append(errs, m.in.Close())
		m.in = nil
	}
	if m.out != nil {
		errs = append(errs, m.out.Close())
		m.out = nil
	}
	m.send = nil
	return errors.Join(errs...)
}

// Ports lists the MIDI port names known to the registered driver.
type Ports struct {
	Inputs  []string
	Outputs []string
}

func ListPorts() Ports {
	var p Ports
	for _, in := range midi.GetInPorts() {
		p.Inputs = append(p.Inputs, in.String())
	}
	for _, out := range midi.GetOutPorts() {
		p.Outputs = append(p.Outputs, out.String())
	}
	return p
}
