package midiconv

import (
	"math"
	"testing"
	"time"

	"gitlab.com/gomidi/midi/v2"

	"github.com/shaban/rthost/event"
)

func TestToEvent(t *testing.T) {
	cases := []struct {
		name string
		msg  midi.Message
		kind event.Kind
	}{
		{"note on", midi.NoteOn(2, 60, 127), event.KindNoteOn},
		{"note off", midi.NoteOffVelocity(2, 60, 64), event.KindNoteOff},
		{"note on zero velocity", midi.NoteOn(2, 60, 0), event.KindNoteOff},
		{"poly pressure", midi.PolyAfterTouch(2, 60, 10), event.KindNoteAftertouch},
		{"channel pressure", midi.AfterTouch(2, 10), event.KindAftertouch},
		{"pitch bend", midi.Pitchbend(2, -8192), event.KindPitchBend},
		{"mod wheel", midi.ControlChange(2, 1, 127), event.KindModulation},
		{"other cc", midi.ControlChange(2, 7, 100), event.KindWrappedMidi},
		{"clock", midi.Message{0xF8}, event.KindWrappedMidi},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ev, ok := ToEvent(c.msg, 5, 3)
			if !ok || ev.Kind() != c.kind {
				t.Fatalf("kind = %v (%v), want %v", ev.Kind(), ok, c.kind)
			}
			if ev.Target() != 5 || ev.Offset() != 3 {
				t.Fatalf("addressing lost: %d@%d", ev.Target(), ev.Offset())
			}
		})
	}

	ev, _ := ToEvent(midi.NoteOn(9, 36, 127), 1, 0)
	if ev.Channel() != 9 || ev.Note() != 36 || ev.Velocity() != 1 {
		t.Fatalf("note payload = %d/%d/%v", ev.Channel(), ev.Note(), ev.Velocity())
	}
	pb, _ := ToEvent(midi.Pitchbend(0, -8192), 1, 0)
	if pb.Value() != -1 {
		t.Fatalf("full bend down = %v", pb.Value())
	}

	if _, ok := ToEvent(midi.Message{0xF0, 1, 2, 3, 4, 0xF7}, 1, 0); ok {
		t.Fatalf("long sysex accepted")
	}
}

func TestFromEventRoundTrip(t *testing.T) {
	events := []event.Event{
		event.NoteOn(1, 0, 3, 64, 1),
		event.NoteOff(1, 0, 3, 64, 0),
		event.NoteAftertouch(1, 0, 3, 64, 0.5),
		event.Aftertouch(1, 0, 3, 0.5),
		event.Modulation(1, 0, 3, 1),
		event.WrappedMidi(1, 0, []byte{0xB3, 7, 100}),
	}
	for _, in := range events {
		msg, ok := FromEvent(in)
		if !ok {
			t.Fatalf("%v not converted", in.Kind())
		}
		out, ok := ToEvent(msg, 1, 0)
		if !ok || out.Kind() != in.Kind() || out.Channel() != in.Channel() {
			t.Fatalf("%v round trip gave %v ch %d", in.Kind(), out.Kind(), out.Channel())
		}
		if math.Abs(float64(out.Value()-in.Value())) > 0.01 {
			t.Fatalf("%v value %v -> %v", in.Kind(), in.Value(), out.Value())
		}
	}

	bend, _ := FromEvent(event.PitchBend(1, 0, 0, 1))
	var ch uint8
	var rel int16
	var abs uint16
	if !bend.GetPitchBend(&ch, &rel, &abs) || rel != 8191 {
		t.Fatalf("bend = %d", rel)
	}

	if _, ok := FromEvent(event.ParameterChange(1, 0, 0, 1)); ok {
		t.Fatalf("parameter change converted to MIDI")
	}
}

func TestClockFollower(t *testing.T) {
	c := NewClockFollower()
	if u := c.Handle(midi.Message{start}, 0); u.Action != ClockStart {
		t.Fatalf("start = %v", u.Action)
	}

	// 120 BPM: 24 pulses per half second
	interval := 500 * time.Millisecond / PulsesPerQuarter
	var updates []ClockUpdate
	at := time.Duration(0)
	for i := 0; i < 24*4+1; i++ {
		if u := c.Handle(midi.Message{timingClock}, at); u.Action == ClockTempo {
			updates = append(updates, u)
		}
		at += interval
	}
	if len(updates) != 1 {
		t.Fatalf("tempo reports = %d, want 1 (steady clock)", len(updates))
	}
	if math.Abs(updates[0].Tempo-120) > 0.01 {
		t.Fatalf("tempo = %v", updates[0].Tempo)
	}

	// speed up to 150 BPM
	interval = 400 * time.Millisecond / PulsesPerQuarter
	var last float64
	for i := 0; i < 24*3; i++ {
		if u := c.Handle(midi.Message{timingClock}, at); u.Action == ClockTempo {
			last = u.Tempo
		}
		at += interval
	}
	if math.Abs(last-150) > 0.01 {
		t.Fatalf("tempo after change = %v", last)
	}

	if u := c.Handle(midi.Message{stop}, at); u.Action != ClockStop {
		t.Fatalf("stop = %v", u.Action)
	}
	if u := c.Handle(midi.Message{cont}, at); u.Action != ClockContinue {
		t.Fatalf("continue = %v", u.Action)
	}
	if u := c.Handle(midi.NoteOn(0, 1, 1), at); u.Action != ClockNone {
		t.Fatalf("note = %v", u.Action)
	}
}
