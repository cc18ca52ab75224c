package testutil

import (
	"github.com/shaban/rthost/buffer"
	"github.com/shaban/rthost/event"
	"github.com/shaban/rthost/processor"
)

// Passthrough copies its input to its output and records the events it receives.
type Passthrough struct {
	*processor.Base
	Received []event.Event
	Forward  bool
}

// NewPassthrough creates a processor supporting up to maxChannels in and out.
// With forward set, received keyboard events are sent back on the event output.
func NewPassthrough(name string, maxChannels int, forward bool) *Passthrough {
	return &Passthrough{
		Base:     processor.NewBase(name, name, maxChannels, maxChannels),
		Received: make([]event.Event, 0, 64),
		Forward:  forward,
	}
}

func (p *Passthrough) ProcessEvent(ev event.Event) {
	p.Received = append(p.Received, ev)
	if p.Forward && ev.IsKeyboard() {
		p.Emit(ev)
		return
	}
	p.Base.ProcessEvent(ev)
}

func (p *Passthrough) ProcessAudio(in, out buffer.Buffer) {
	processor.BypassProcess(in, out)
}

// NewMonoOnly creates a passthrough limited to one channel.
func NewMonoOnly(name string) *Passthrough {
	return NewPassthrough(name, 1, false)
}

// NewRequiresStereo creates a passthrough that refuses to run on fewer than two inputs.
func NewRequiresStereo(name string) *Passthrough {
	p := NewPassthrough(name, 2, false)
	p.SetMinInputChannels(2)
	return p
}

// Scaler multiplies its input by a constant and honors bypass.
type Scaler struct {
	*processor.Base
	Factor float32
}

// NewScaler creates a stereo scaler.
func NewScaler(name string, factor float32) *Scaler {
	return &Scaler{Base: processor.NewBase(name, name, 2, 2), Factor: factor}
}

func (s *Scaler) ProcessAudio(in, out buffer.Buffer) {
	if !s.BypassManager().Begin() {
		processor.BypassProcess(in, out)
		return
	}
	processor.BypassProcess(in, out)
	out.ApplyGain(s.Factor)
	s.BypassManager().Crossfade(in, out)
}

// NoteSource emits one note on at the given offset every block.
type NoteSource struct {
	*processor.Base
	Note   int
	Offset int
}

// NewNoteSource creates a stereo passthrough that also emits notes.
func NewNoteSource(name string, note, offset int) *NoteSource {
	return &NoteSource{Base: processor.NewBase(name, name, 2, 2), Note: note, Offset: offset}
}

func (n *NoteSource) ProcessAudio(in, out buffer.Buffer) {
	processor.BypassProcess(in, out)
	n.Emit(event.NoteOn(n.ID(), n.Offset, 0, n.Note, 1))
}

// Constant ignores its input and writes Value to every output channel.
type Constant struct {
	*processor.Base
	Value float32
}

// NewConstant creates a stereo signal source.
func NewConstant(name string, value float32) *Constant {
	return &Constant{Base: processor.NewBase(name, name, 2, 2), Value: value}
}

func (c *Constant) ProcessAudio(_, out buffer.Buffer) {
	out.Fill(c.Value)
}
