package processor

import (
	"fmt"
	"sync/atomic"

	"github.com/shaban/rthost/buffer"
	"github.com/shaban/rthost/event"
)

// Base implements the bookkeeping part of Processor. Concrete processors embed
// a *Base and provide ProcessAudio, overriding ProcessEvent when they react to
// more than parameter and bypass changes.
type Base struct {
	id    event.ObjectID
	name  string
	label string

	maxIn  int
	maxOut int
	minIn  int
	in     int
	out    int

	sampleRate float64
	enabled    atomic.Bool
	bypass     BypassManager

	params []*Parameter
	output EventPipe
}

// NewBase creates the base of a processor with a fresh id. The processor
// starts with its maximum channel counts.
func NewBase(name, label string, maxIn, maxOut int) *Base {
	return &Base{
		id:     NewID(),
		name:   name,
		label:  label,
		maxIn:  maxIn,
		maxOut: maxOut,
		in:     maxIn,
		out:    maxOut,
	}
}

func (b *Base) ID() event.ObjectID { return b.id }
func (b *Base) Name() string       { return b.name }
func (b *Base) Label() string      { return b.label }

// SetName renames the processor. Only valid before it is registered.
func (b *Base) SetName(name string) { b.name = name }

// Init stores the sample rate.
func (b *Base) Init(sampleRate float64) error {
	if sampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %v", sampleRate)
	}
	b.sampleRate = sampleRate
	return nil
}

// SampleRate returns the rate passed to Init.
func (b *Base) SampleRate() float64 { return b.sampleRate }

func (b *Base) Enabled() bool           { return b.enabled.Load() }
func (b *Base) SetEnabled(enabled bool) { b.enabled.Store(enabled) }

func (b *Base) Bypassed() bool            { return b.bypass.Bypassed() }
func (b *Base) SetBypassed(bypassed bool) { b.bypass.Set(bypassed) }

// BypassManager exposes the crossfade state for ProcessAudio implementations.
func (b *Base) BypassManager() *BypassManager { return &b.bypass }

func (b *Base) InputChannels() int     { return b.in }
func (b *Base) OutputChannels() int    { return b.out }
func (b *Base) MaxInputChannels() int  { return b.maxIn }
func (b *Base) MaxOutputChannels() int { return b.maxOut }
func (b *Base) MinInputChannels() int  { return b.minIn }

// SetMinInputChannels declares that the processor cannot run with fewer inputs.
func (b *Base) SetMinInputChannels(n int) { b.minIn = n }

// SetMaxChannels changes the channel capabilities, clamping the current counts.
func (b *Base) SetMaxChannels(maxIn, maxOut int) {
	b.maxIn, b.maxOut = maxIn, maxOut
	b.in = min(b.in, maxIn)
	b.out = min(b.out, maxOut)
}

func (b *Base) SetInputChannels(n int)  { b.in = max(0, min(n, b.maxIn)) }
func (b *Base) SetOutputChannels(n int) { b.out = max(0, min(n, b.maxOut)) }

func (b *Base) SetEventOutput(out EventPipe) { b.output = out }

// Emit forwards ev to the event output, if any.
func (b *Base) Emit(ev event.Event) {
	if b.output != nil {
		b.output.SendEvent(ev)
	}
}

// RegisterFloatParameter adds a float parameter; ids are assigned in registration order.
func (b *Base) RegisterFloatParameter(name, label, unit string, def, lo, hi float32, scale Scale) *Parameter {
	p := newParameter(event.ObjectID(len(b.params)), name, label, unit, FloatParameter, def, lo, hi)
	p.Scale = scale
	b.params = append(b.params, p)
	return p
}

// RegisterIntParameter adds an integer parameter.
func (b *Base) RegisterIntParameter(name, label, unit string, def, lo, hi int) *Parameter {
	p := newParameter(event.ObjectID(len(b.params)), name, label, unit, IntParameter, float32(def), float32(lo), float32(hi))
	b.params = append(b.params, p)
	return p
}

// RegisterBoolParameter adds an on/off parameter.
func (b *Base) RegisterBoolParameter(name, label string, def bool) *Parameter {
	var d float32
	if def {
		d = 1
	}
	p := newParameter(event.ObjectID(len(b.params)), name, label, "", BoolParameter, d, 0, 1)
	b.params = append(b.params, p)
	return p
}

func (b *Base) Parameters() []*Parameter { return b.params }

func (b *Base) Parameter(id event.ObjectID) *Parameter {
	if int(id) >= len(b.params) {
		return nil
	}
	return b.params[id]
}

func (b *Base) ParameterByName(name string) *Parameter {
	for _, p := range b.params {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// ProcessEvent applies parameter changes and bypass requests addressed to the
// processor and reports applied parameter values on the event output.
func (b *Base) ProcessEvent(ev event.Event) {
	switch ev.Kind() {
	case event.KindParameterChange:
		p := b.Parameter(ev.Param())
		if p == nil {
			return
		}
		p.SetNormalized(ev.Value())
		b.Emit(event.ParameterChangeNotification(b.id, ev.Offset(), p.ID, p.Normalized()))
	case event.KindSetBypass:
		b.SetBypassed(ev.Bypassed())
	}
}

// State captures the parameter values in registration order.
func (b *Base) State() State {
	s := State{Bypassed: b.Bypassed()}
	s.Parameters = make([]ParameterValue, 0, len(b.params))
	for _, p := range b.params {
		s.Parameters = append(s.Parameters, ParameterValue{ID: p.ID, Value: p.Normalized()})
	}
	return s
}

// SetState applies a captured state. Values for unknown parameters fail the
// whole call before anything is changed.
func (b *Base) SetState(s State) error {
	for _, v := range s.Parameters {
		if b.Parameter(v.ID) == nil {
			return fmt.Errorf("%s: parameter %d: %w", b.name, v.ID, ErrParameterNotFound)
		}
	}
	for _, v := range s.Parameters {
		b.params[v.ID].SetNormalized(v.Value)
	}
	b.SetBypassed(s.Bypassed)
	return nil
}

// BypassProcess copies in to out, duplicating a mono input to every output
// channel and zeroing outputs without a source.
func BypassProcess(in, out buffer.Buffer) {
	switch {
	case in.Channels() == 0:
		out.Clear()
	case in.Channels() == 1:
		for c := 0; c < out.Channels(); c++ {
			copy(out.Channel(c), in.Channel(0))
		}
	default:
		out.Replace(in)
		out.ClearFrom(in.Channels())
	}
}
