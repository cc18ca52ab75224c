package plugins

import (
	"math"
	"sync/atomic"

	"github.com/shaban/rthost/buffer"
	"github.com/shaban/rthost/event"
	"github.com/shaban/rthost/processor"
)

func init() {
	register(PluginInfo{UID: "transposer", Name: "Transposer", Category: CategoryMidi,
		Description: "Shifts note events by a number of semitones"},
		func(name string, _ Clock) processor.Processor { return NewTransposer(name) })
	register(PluginInfo{UID: "arpeggiator", Name: "Arpeggiator", Category: CategoryMidi,
		Description: "Plays held notes one at a time in step with the transport"},
		func(name string, clock Clock) processor.Processor { return NewArpeggiator(name, clock) })
}

const (
	midiChannels = 16
	midiNotes    = 128
)

// Transposer shifts notes. Note offs use the shift that was applied to the
// matching note on so held notes are released after a parameter change.
type Transposer struct {
	*processor.Base
	transpose *processor.Parameter
	applied   [midiChannels][midiNotes]int8
}

func NewTransposer(name string) *Transposer {
	t := &Transposer{Base: processor.NewBase(name, "Transposer", 2, 2)}
	t.transpose = t.RegisterIntParameter("transpose", "Transpose", "semitones", 0, -24, 24)
	return t
}

func (t *Transposer) ProcessAudio(in, out buffer.Buffer) {
	processor.BypassProcess(in, out)
}

func (t *Transposer) ProcessEvent(ev event.Event) {
	if !ev.IsKeyboard() {
		t.Base.ProcessEvent(ev)
		return
	}
	if t.Bypassed() {
		t.Emit(ev)
		return
	}
	ch, note := ev.Channel()&0x0F, ev.Note()&0x7F
	switch ev.Kind() {
	case event.KindNoteOn:
		shift := t.transpose.Int()
		if n := note + shift; n >= 0 && n < midiNotes {
			t.applied[ch][note] = int8(shift)
			t.Emit(event.NoteOn(ev.Target(), ev.Offset(), ch, n, ev.Velocity()))
		}
	case event.KindNoteOff:
		if n := note + int(t.applied[ch][note]); n >= 0 && n < midiNotes {
			t.Emit(event.NoteOff(ev.Target(), ev.Offset(), ch, n, ev.Velocity()))
		}
	case event.KindNoteAftertouch:
		if n := note + int(t.applied[ch][note]); n >= 0 && n < midiNotes {
			t.Emit(event.NoteAftertouch(ev.Target(), ev.Offset(), ch, n, ev.Value()))
		}
	default:
		t.Emit(ev)
	}
}

// ArpPattern orders the held notes of an Arpeggiator.
type ArpPattern int

const (
	PatternUp ArpPattern = iota
	PatternDown
	PatternUpDown
)

var patternNames = [...]string{"up", "down", "updown"}

func (p ArpPattern) String() string { return patternNames[p] }

// ParsePattern maps a pattern name to its value.
func ParsePattern(s string) (ArpPattern, bool) {
	for i, name := range patternNames {
		if name == s {
			return ArpPattern(i), true
		}
	}
	return PatternUp, false
}

// PatternProperty is the id of the arpeggiator's string property.
const PatternProperty event.ObjectID = 0

const maxHeldNotes = 16

var _ processor.Properties = (*Arpeggiator)(nil)

// Arpeggiator replaces held notes with a sequence of single notes, one per
// step of the transport grid. It only runs while the transport plays.
type Arpeggiator struct {
	*processor.Base
	clock Clock

	division *processor.Parameter
	octaves  *processor.Parameter
	pattern  atomic.Int32

	held     [maxHeldNotes]int
	nheld    int
	channel  int
	velocity float32

	step    int
	playing int
}

func NewArpeggiator(name string, clock Clock) *Arpeggiator {
	a := &Arpeggiator{
		Base:     processor.NewBase(name, "Arpeggiator", 2, 2),
		clock:    clock,
		velocity: 1,
		playing:  -1,
	}
	a.division = a.RegisterIntParameter("division", "Steps per beat", "", 4, 1, 8)
	a.octaves = a.RegisterIntParameter("octaves", "Octave range", "", 1, 1, 4)
	return a
}

// Pattern returns the active pattern.
func (a *Arpeggiator) Pattern() ArpPattern { return ArpPattern(a.pattern.Load()) }

// PropertyNames implements processor.Properties.
func (a *Arpeggiator) PropertyNames() []string { return []string{"pattern"} }

// Property implements processor.Properties.
func (a *Arpeggiator) Property(name string) (event.ObjectID, string, bool) {
	if name != "pattern" {
		return 0, "", false
	}
	return PatternProperty, a.Pattern().String(), true
}

// Held returns the number of held notes.
func (a *Arpeggiator) Held() int { return a.nheld }

func (a *Arpeggiator) ProcessEvent(ev event.Event) {
	switch {
	case ev.Kind() == event.KindStringPropertyChange:
		if ev.Param() != PatternProperty {
			return
		}
		if p, ok := ParsePattern(ev.Text()); ok {
			a.pattern.Store(int32(p))
			a.Emit(event.StringPropertyChange(a.ID(), ev.Offset(), PatternProperty, p.String()))
		}
	case !ev.IsKeyboard():
		a.Base.ProcessEvent(ev)
	case a.Bypassed():
		a.Emit(ev)
	case ev.Kind() == event.KindNoteOn:
		a.channel = ev.Channel()
		a.velocity = ev.Velocity()
		a.hold(ev.Note())
	case ev.Kind() == event.KindNoteOff:
		a.release(ev.Note())
	default:
		a.Emit(ev)
	}
}

// hold inserts note keeping the held notes sorted.
func (a *Arpeggiator) hold(note int) {
	i := 0
	for i < a.nheld && a.held[i] < note {
		i++
	}
	if i < a.nheld && a.held[i] == note {
		return
	}
	if a.nheld == maxHeldNotes {
		return
	}
	copy(a.held[i+1:a.nheld+1], a.held[i:a.nheld])
	a.held[i] = note
	a.nheld++
}

func (a *Arpeggiator) release(note int) {
	for i := 0; i < a.nheld; i++ {
		if a.held[i] == note {
			copy(a.held[i:a.nheld-1], a.held[i+1:a.nheld])
			a.nheld--
			return
		}
	}
}

// sequenceLen returns the length of one pattern cycle.
func (a *Arpeggiator) sequenceLen() int {
	n := a.nheld * a.octaves.Int()
	if a.Pattern() == PatternUpDown && n > 1 {
		return 2*n - 2
	}
	return n
}

// noteAt returns the note at position i of the pattern cycle.
func (a *Arpeggiator) noteAt(i int) int {
	n := a.nheld * a.octaves.Int()
	switch a.Pattern() {
	case PatternDown:
		i = n - 1 - i
	case PatternUpDown:
		if i >= n {
			i = 2*n - 2 - i
		}
	}
	return a.held[i%a.nheld] + 12*(i/a.nheld)
}

func (a *Arpeggiator) stopNote(offset int) {
	if a.playing >= 0 {
		a.Emit(event.NoteOff(a.ID(), offset, a.channel, a.playing, 0))
		a.playing = -1
	}
}

func (a *Arpeggiator) ProcessAudio(in, out buffer.Buffer) {
	processor.BypassProcess(in, out)

	if a.clock == nil || !a.clock.Playing() || a.nheld == 0 || a.Bypassed() {
		a.stopNote(0)
		a.step = 0
		return
	}

	frames := out.Frames()
	start := a.clock.CurrentBeats(0)
	end := a.clock.CurrentBeats(frames)
	span := end - start
	if span <= 0 {
		return
	}
	div := float64(a.division.Int())
	for k := math.Ceil(start * div); k/div < end; k++ {
		offset := min(int((k/div-start)/span*float64(frames)), frames-1)
		a.stopNote(offset)
		seq := a.sequenceLen()
		note := a.noteAt(a.step % seq)
		a.step = (a.step + 1) % seq
		if note < midiNotes {
			a.Emit(event.NoteOn(a.ID(), offset, a.channel, note, a.velocity))
			a.playing = note
		}
	}
}
