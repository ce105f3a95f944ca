package device

import (
	"fmt"

	"gitlab.com/gomidi/midi/v2"
)

type Kind int

const (
	NoteOn Kind = iota + 1
	NoteOff
	ControlChange
	Error
)

var kindNames = map[Kind]string{
	NoteOn:        "noteon",
	NoteOff:       "noteoff",
	ControlChange: "cc",
	Error:         "error",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Event is one message from the controller. For notes Key is the note
// number and Value the velocity; for control changes Key is the
// controller number.
type Event struct {
	Kind    Kind
	Channel uint8
	Key     uint8
	Value   uint8
	Err     error
}

func (e Event) String() string {
	if e.Kind == Error {
		return fmt.Sprintf("error: %v", e.Err)
	}
	return fmt.Sprintf("%s ch=%d key=%d value=%d", e.Kind, e.Channel, e.Key, e.Value)
}

// Handler receives controller events. It is called from the MIDI driver
// goroutine and must not block.
type Handler interface {
	HandleDeviceEvent(Event)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(Event)

func (f HandlerFunc) HandleDeviceEvent(ev Event) { f(ev) }

// Decode converts a raw MIDI message. A note on with velocity 0 is a
// note off. Messages the bridge has no use for report false.
func Decode(msg midi.Message) (Event, bool) {
	var ch, key, val uint8
	switch {
	case msg.GetNoteStart(&ch, &key, &val):
		return Event{Kind: NoteOn, Channel: ch, Key: key, Value: val}, true
	case msg.GetNoteOff(&ch, &key, &val):
		return Event{Kind: NoteOff, Channel: ch, Key: key, Value: val}, true
	case msg.GetNoteOn(&ch, &key, &val):
		return Event{Kind: NoteOff, Channel: ch, Key: key}, true
	case msg.GetControlChange(&ch, &key, &val):
		return Event{Kind: ControlChange, Channel: ch, Key: key, Value: val}, true
	}
	return Event{}, false
}
