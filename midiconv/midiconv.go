// Package midiconv translates between raw MIDI messages and engine events and
// follows an external MIDI clock.
package midiconv

import (
	"math"

	"gitlab.com/gomidi/midi/v2"

	"github.com/shaban/rthost/event"
)

// ModulationController is the controller number mapped to modulation events.
const ModulationController = 1

func norm7(v uint8) float32 { return float32(v) / 127 }

func to7(v float32) uint8 {
	return uint8(math.Round(float64(min(max(v, 0), 1)) * 127))
}

// ToEvent converts a MIDI message into an event for target at offset.
// Channel voice messages map to structured keyboard events; other messages of
// up to four bytes are wrapped. Longer messages are rejected.
func ToEvent(msg midi.Message, target event.ObjectID, offset int) (event.Event, bool) {
	var ch, key, vel, cc, val uint8
	var rel int16
	var abs uint16

	switch {
	case msg.GetNoteStart(&ch, &key, &vel):
		return event.NoteOn(target, offset, int(ch), int(key), norm7(vel)), true
	case msg.GetNoteOff(&ch, &key, &vel):
		return event.NoteOff(target, offset, int(ch), int(key), norm7(vel)), true
	case msg.GetNoteEnd(&ch, &key):
		// note on with zero velocity
		return event.NoteOff(target, offset, int(ch), int(key), 0), true
	case msg.GetPolyAfterTouch(&ch, &key, &val):
		return event.NoteAftertouch(target, offset, int(ch), int(key), norm7(val)), true
	case msg.GetAfterTouch(&ch, &val):
		return event.Aftertouch(target, offset, int(ch), norm7(val)), true
	case msg.GetPitchBend(&ch, &rel, &abs):
		return event.PitchBend(target, offset, int(ch), max(float32(rel)/8192, -1)), true
	case msg.GetControlChange(&ch, &cc, &val) && cc == ModulationController:
		return event.Modulation(target, offset, int(ch), norm7(val)), true
	}
	if len(msg) == 0 || len(msg) > 4 {
		return event.Event{}, false
	}
	return event.WrappedMidi(target, offset, msg), true
}

// FromEvent converts a keyboard event back into a MIDI message.
func FromEvent(ev event.Event) (midi.Message, bool) {
	ch := uint8(ev.Channel() & 0x0F)
	key := uint8(ev.Note() & 0x7F)
	switch ev.Kind() {
	case event.KindNoteOn:
		return midi.NoteOn(ch, key, to7(ev.Velocity())), true
	case event.KindNoteOff:
		return midi.NoteOffVelocity(ch, key, to7(ev.Velocity())), true
	case event.KindNoteAftertouch:
		return midi.PolyAfterTouch(ch, key, to7(ev.Value())), true
	case event.KindAftertouch:
		return midi.AfterTouch(ch, to7(ev.Value())), true
	case event.KindPitchBend:
		v := min(max(ev.Value(), -1), 1)
		return midi.Pitchbend(ch, int16(math.Round(float64(v)*8191))), true
	case event.KindModulation:
		return midi.ControlChange(ch, ModulationController, to7(ev.Value())), true
	case event.KindWrappedMidi:
		raw, n := ev.Midi()
		return midi.Message(append([]byte(nil), raw[:n]...)), true
	}
	return nil, false
}
