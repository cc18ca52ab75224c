// Package processor defines the contract between tracks and the units of
// audio and event processing they host, together with the shared base
// implementation, parameter handling and the processor arena.
package processor

import (
	"errors"
	"sync/atomic"

	"github.com/shaban/rthost/buffer"
	"github.com/shaban/rthost/event"
)

var (
	ErrNotFound          = errors.New("processor not found")
	ErrDuplicateName     = errors.New("processor name already in use")
	ErrParameterNotFound = errors.New("parameter not found")
)

// EventPipe receives events emitted by a processor.
type EventPipe interface {
	SendEvent(ev event.Event)
}

// Processor is a unit of audio and event processing hosted in a track.
//
// ProcessAudio and ProcessEvent run on the audio goroutine and must not
// block or allocate. in and out have the processor's current input and output
// channel counts and share the block size.
type Processor interface {
	ID() event.ObjectID
	Name() string
	Label() string

	Init(sampleRate float64) error
	ProcessAudio(in, out buffer.Buffer)
	ProcessEvent(ev event.Event)

	Enabled() bool
	SetEnabled(enabled bool)
	Bypassed() bool
	SetBypassed(bypassed bool)

	InputChannels() int
	OutputChannels() int
	MaxInputChannels() int
	MaxOutputChannels() int
	MinInputChannels() int
	SetInputChannels(n int)
	SetOutputChannels(n int)

	SetEventOutput(out EventPipe)

	Parameters() []*Parameter
	Parameter(id event.ObjectID) *Parameter
	ParameterByName(name string) *Parameter

	State() State
	SetState(s State) error
}

// Properties is implemented by processors with string properties. Changes
// arrive as StringPropertyChange events; reads are safe from any goroutine.
type Properties interface {
	PropertyNames() []string
	Property(name string) (id event.ObjectID, value string, ok bool)
}

var idGen atomic.Uint32

// NewID returns a process-wide unique processor id.
func NewID() event.ObjectID {
	return event.ObjectID(idGen.Add(1))
}

// MonoOnly reports whether p can only run with one input and one output channel.
func MonoOnly(p Processor) bool {
	return p.MaxInputChannels() == 1 && p.MaxOutputChannels() == 1
}
