package frontend

import (
	"cmp"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/shaban/rthost/event"
	"github.com/shaban/rthost/midiconv"
)

// ReadSMF schedules the events of a Standard MIDI File for target at
// sampleRate. Channel messages become keyboard events, tempo meta events
// become transport tempo changes and other meta events are skipped. It also
// returns the time of the file's last event.
func ReadSMF(r io.Reader, target event.ObjectID, sampleRate float64) (Sequence, time.Duration, error) {
	s, err := smf.ReadFrom(r)
	if err != nil {
		return nil, 0, fmt.Errorf("read MIDI file: %w", err)
	}

	var (
		seq    Sequence
		length time.Duration
	)
	for _, tr := range s.Tracks {
		var ticks int64
		for _, ev := range tr {
			ticks += int64(ev.Delta)
			at := time.Duration(s.TimeAt(ticks)) * time.Microsecond
			length = max(length, at)
			frame := framesIn(at, sampleRate)

			var bpm float64
			switch {
			case ev.Message.GetMetaTempo(&bpm):
				seq = append(seq, Cue{Frame: frame, Event: event.TempoChange(0, float32(bpm), true)})
			case ev.Message.IsMeta(), !ev.Message.IsPlayable():
			default:
				if e, ok := midiconv.ToEvent(midi.Message(ev.Message), target, 0); ok {
					seq = append(seq, Cue{Frame: frame, Event: e})
				}
			}
		}
	}
	slices.SortStableFunc(seq, func(a, b Cue) int { return cmp.Compare(a.Frame, b.Frame) })
	return seq, length, nil
}

// LoadSMF reads a Standard MIDI File from path.
func LoadSMF(path string, target event.ObjectID, sampleRate float64) (Sequence, time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	return ReadSMF(f, target, sampleRate)
}
