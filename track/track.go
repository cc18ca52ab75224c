// Package track implements the unit of the render graph: an ordered chain of
// processors sharing a channel layout, with per-bus gain and pan.
//
// A Track is itself a processor. Its chain is mutated only while it is not
// rendering; the engine guarantees this by applying structural changes
// between blocks.
package track

import (
	"fmt"
	"math"
	"slices"
	"sync/atomic"
	"time"

	"github.com/shaban/rthost/buffer"
	"github.com/shaban/rthost/dsp"
	"github.com/shaban/rthost/event"
	"github.com/shaban/rthost/perf"
	"github.com/shaban/rthost/processor"
)

const (
	MaxProcessors = 32
	MaxChannels   = 10

	// GainSmoothingTime is the lag applied to gain and pan changes.
	GainSmoothingTime = 20 * time.Millisecond

	keyboardBufferSize = 256
	pendingEventsSize  = 256
)

type busGain struct {
	gain  *processor.Parameter
	pan   *processor.Parameter
	left  dsp.Smoother
	right dsp.Smoother
}

var _ processor.Processor = (*Track)(nil)

// Track hosts a processor chain.
type Track struct {
	*processor.Base

	buses      []busGain
	processors []processor.Processor

	input   buffer.Buffer
	output  buffer.Buffer
	scratch [2]buffer.Buffer

	keyboard *event.Fifo
	pending  [pendingEventsSize]event.Event
	npending int
	dropped  atomic.Uint64

	muted atomic.Bool
	timer *perf.Entry
}

// New creates a track with one gain/pan bus and the given channel count.
// The buffers hold at least two channels so a mono track can be panned.
func New(name string, channels, blockSize int) (*Track, error) {
	if channels < 1 || channels > MaxChannels {
		return nil, fmt.Errorf("track %q: channel count %d out of range 1..%d", name, channels, MaxChannels)
	}
	t := newTrack(name, max(channels, 2), blockSize, 1)
	t.SetChannels(channels, channels)
	return t, nil
}

// NewMultibus creates a track of stereo buses with independent gain and pan.
func NewMultibus(name string, inputBuses, outputBuses, blockSize int) (*Track, error) {
	buses := max(inputBuses, outputBuses)
	if inputBuses < 1 || outputBuses < 1 || buses*2 > MaxChannels {
		return nil, fmt.Errorf("track %q: bus layout %d/%d out of range", name, inputBuses, outputBuses)
	}
	t := newTrack(name, buses*2, blockSize, buses)
	t.SetChannels(inputBuses*2, outputBuses*2)
	return t, nil
}

func newTrack(name string, capacity, blockSize, buses int) *Track {
	t := &Track{
		Base:       processor.NewBase(name, name, capacity, capacity),
		processors: make([]processor.Processor, 0, MaxProcessors),
		input:      buffer.New(capacity, blockSize),
		output:     buffer.New(capacity, blockSize),
		scratch:    [2]buffer.Buffer{buffer.New(capacity, blockSize), buffer.New(capacity, blockSize)},
		keyboard:   event.NewFifo(keyboardBufferSize),
		buses:      make([]busGain, buses),
	}
	for i := range t.buses {
		gainName, panName := "gain", "pan"
		if i > 0 {
			gainName = fmt.Sprintf("gain_sub_%d", i)
			panName = fmt.Sprintf("pan_sub_%d", i)
		}
		t.buses[i].gain = t.RegisterFloatParameter(gainName, "Gain", "dB", 0, -120, 24, processor.Decibel)
		t.buses[i].pan = t.RegisterFloatParameter(panName, "Pan", "", 0, -1, 1, processor.Linear)
	}
	t.SetEnabled(true)
	return t
}

// Init configures gain smoothing for the sample rate.
func (t *Track) Init(sampleRate float64) error {
	if err := t.Base.Init(sampleRate); err != nil {
		return err
	}
	for i := range t.buses {
		b := &t.buses[i]
		left, right := t.busTargets(b)
		b.left.SetLagTime(GainSmoothingTime, sampleRate)
		b.right.SetLagTime(GainSmoothingTime, sampleRate)
		b.left.SetDirect(left)
		b.right.SetDirect(right)
	}
	return nil
}

// Input returns the buffer the engine writes the track input into.
func (t *Track) Input() buffer.Buffer { return t.input.Slice(0, t.InputChannels()) }

// Output returns the rendered block.
func (t *Track) Output() buffer.Buffer { return t.output.Slice(0, t.OutputChannels()) }

// Buses returns the number of gain/pan buses.
func (t *Track) Buses() int { return len(t.buses) }

// SetTimer attaches a load measurement slot. nil disables measurement.
func (t *Track) SetTimer(e *perf.Entry) { t.timer = e }

// SetMuted silences the track output with a smoothed fade.
func (t *Track) SetMuted(muted bool) { t.muted.Store(muted) }

// Muted reports the mute state.
func (t *Track) Muted() bool { return t.muted.Load() }

// Dropped returns how many events were lost because the track buffers were full.
func (t *Track) Dropped() uint64 { return t.dropped.Load() }

// Processors returns a copy of the chain in processing order.
func (t *Track) Processors() []processor.Processor {
	return slices.Clone(t.processors)
}

// Add inserts p before the processor with id before, or at the end when
// before is nil. It returns false without changing the chain if p is the
// track itself, already in the chain, cannot run with the track's channel
// count, the chain is full, or before is not in the chain.
func (t *Track) Add(p processor.Processor, before *event.ObjectID) bool {
	if p == nil || p.ID() == t.ID() || len(t.processors) >= MaxProcessors {
		return false
	}
	if t.index(p.ID()) >= 0 {
		return false
	}
	pos := len(t.processors)
	if before != nil {
		pos = t.index(*before)
		if pos < 0 {
			return false
		}
	}
	if !chainFits(t.processors, p, pos, t.InputChannels(), t.OutputChannels()) {
		return false
	}
	t.processors = slices.Insert(t.processors, pos, p)
	p.SetEventOutput(t)
	p.SetEnabled(true)
	t.updateChannelConfig()
	return true
}

// Remove takes the processor with the given id out of the chain.
func (t *Track) Remove(id event.ObjectID) bool {
	i := t.index(id)
	if i < 0 {
		return false
	}
	p := t.processors[i]
	t.processors = slices.Delete(t.processors, i, i+1)
	p.SetEnabled(false)
	p.SetEventOutput(nil)
	t.updateChannelConfig()
	return true
}

func (t *Track) index(id event.ObjectID) int {
	for i, p := range t.processors {
		if p.ID() == id {
			return i
		}
	}
	return -1
}

// channelFlow follows the channel count through a chain.
type channelFlow struct{ prev, outputs int }

// next reports whether p gets the input channels it needs and advances.
func (f *channelFlow) next(p processor.Processor) bool {
	if processor.MonoOnly(p) {
		f.prev = 1
		return true
	}
	if p.MinInputChannels() > f.prev {
		return false
	}
	f.prev = min(f.outputs, p.MaxOutputChannels())
	return true
}

// chainFits reports whether every processor of chain, with extra inserted
// at position at when extra is not nil, gets at least its minimum input
// channel count when the chain runs with the given layout.
func chainFits(chain []processor.Processor, extra processor.Processor, at, inputs, outputs int) bool {
	f := channelFlow{prev: inputs, outputs: outputs}
	for i := 0; i <= len(chain); i++ {
		if extra != nil && i == at && !f.next(extra) {
			return false
		}
		if i < len(chain) && !f.next(chain[i]) {
			return false
		}
	}
	return true
}

// Accepts reports whether Add(p, before) would succeed on the channel layout.
func (t *Track) Accepts(p processor.Processor, before *event.ObjectID) bool {
	pos := len(t.processors)
	if before != nil {
		if pos = t.index(*before); pos < 0 {
			return false
		}
	}
	return chainFits(t.processors, p, pos, t.InputChannels(), t.OutputChannels())
}

// SupportsChannels reports whether SetChannels(inputs, outputs) would be
// applied: both counts must fit the track's capacity and every hosted
// processor must still get the channels it needs.
func (t *Track) SupportsChannels(inputs, outputs int) bool {
	if inputs < 1 || inputs > t.MaxInputChannels() || outputs < 1 || outputs > t.MaxOutputChannels() {
		return false
	}
	return chainFits(t.processors, nil, 0, inputs, outputs)
}

// SupportsInputChannels reports whether ChangeInputChannels(n) would be applied.
func (t *Track) SupportsInputChannels(n int) bool {
	return t.SupportsChannels(n, t.OutputChannels())
}

// SupportsOutputChannels reports whether ChangeOutputChannels(n) would be applied.
func (t *Track) SupportsOutputChannels(n int) bool {
	return t.SupportsChannels(t.InputChannels(), n)
}

// SetChannels changes both channel counts and reconfigures the chain. It
// returns false and changes nothing when the layout is refused.
func (t *Track) SetChannels(inputs, outputs int) bool {
	if !t.SupportsChannels(inputs, outputs) {
		return false
	}
	t.Base.SetInputChannels(inputs)
	t.Base.SetOutputChannels(outputs)
	t.updateChannelConfig()
	return true
}

// ChangeInputChannels changes the input channel count and reconfigures the
// chain. It returns false and changes nothing when n is refused.
func (t *Track) ChangeInputChannels(n int) bool { return t.SetChannels(n, t.OutputChannels()) }

// ChangeOutputChannels changes the output channel count and reconfigures the
// chain. It returns false and changes nothing when n is refused.
func (t *Track) ChangeOutputChannels(n int) bool { return t.SetChannels(t.InputChannels(), n) }

// SetInputChannels implements processor.Processor for nested tracks.
// Refused counts are ignored.
func (t *Track) SetInputChannels(n int) { t.ChangeInputChannels(n) }

// SetOutputChannels implements processor.Processor for nested tracks.
func (t *Track) SetOutputChannels(n int) { t.ChangeOutputChannels(n) }

func (t *Track) updateChannelConfig() {
	prev := t.InputChannels()
	for _, p := range t.processors {
		if processor.MonoOnly(p) {
			p.SetInputChannels(1)
			p.SetOutputChannels(1)
			prev = 1
			continue
		}
		p.SetInputChannels(min(max(prev, p.MinInputChannels()), p.MaxInputChannels()))
		p.SetOutputChannels(min(t.OutputChannels(), p.MaxOutputChannels()))
		prev = p.OutputChannels()
	}
}

// SetBypassed bypasses the track and every hosted processor.
func (t *Track) SetBypassed(bypassed bool) {
	t.Base.SetBypassed(bypassed)
	for _, p := range t.processors {
		p.SetBypassed(bypassed)
	}
}

// SendEvent receives events emitted by hosted processors. Keyboard events
// continue down the chain, everything else leaves the track unchanged.
func (t *Track) SendEvent(ev event.Event) {
	if ev.IsKeyboard() {
		if !t.keyboard.Push(ev) {
			t.dropped.Add(1)
		}
		return
	}
	t.Emit(ev)
}

// ProcessEvent accepts an event addressed to the track or to one of its
// processors. Events for hosted processors are delivered in offset order
// during the next Render, when the chain reaches their processor.
func (t *Track) ProcessEvent(ev event.Event) {
	if ev.Target() != t.ID() {
		if t.npending == len(t.pending) {
			t.dropped.Add(1)
			return
		}
		t.pending[t.npending] = ev
		t.npending++
		return
	}
	switch {
	case ev.IsKeyboard():
		if !t.keyboard.Push(ev) {
			t.dropped.Add(1)
		}
	case ev.Kind() == event.KindSetBypass:
		t.SetBypassed(ev.Bypassed())
	default:
		t.Base.ProcessEvent(ev)
	}
}

// ProcessAudio renders in into out through the chain. It lets a track be
// nested like any other processor.
func (t *Track) ProcessAudio(in, out buffer.Buffer) {
	t.Input().Replace(in)
	t.Render()
	out.Replace(t.Output())
}

// Render processes one block from the input buffer to the output buffer.
func (t *Track) Render() {
	start := t.timer.Start()

	t.sortPending()
	t.renderChain()
	t.clearPending()
	t.applyGainPan()

	for n := t.keyboard.Len(); n > 0; n-- {
		ev, _ := t.keyboard.Pop()
		t.Emit(ev.WithTarget(t.ID()))
	}

	t.timer.Stop(start)
}

// sortPending orders the buffered events by offset.
func (t *Track) sortPending() {
	pending := t.pending[:t.npending]
	// insertion sort: stable and allocation free
	for i := 1; i < len(pending); i++ {
		for j := i; j > 0 && pending[j].Offset() < pending[j-1].Offset(); j-- {
			pending[j], pending[j-1] = pending[j-1], pending[j]
		}
	}
}

// deliverPending hands p the buffered events addressed to it.
func (t *Track) deliverPending(p processor.Processor) {
	id := p.ID()
	for i := range t.pending[:t.npending] {
		if t.pending[i].Target() == id {
			p.ProcessEvent(t.pending[i])
		}
	}
}

func (t *Track) clearPending() {
	clear(t.pending[:t.npending])
	t.npending = 0
}

func (t *Track) renderChain() {
	src := t.input.Slice(0, t.InputChannels())
	for i, p := range t.processors {
		// Output of upstream processors first, then events addressed to p.
		// Whatever p emits continues at the next processor.
		for n := t.keyboard.Len(); n > 0; n-- {
			ev, _ := t.keyboard.Pop()
			p.ProcessEvent(ev)
		}
		t.deliverPending(p)
		dst := t.scratch[i%2].Slice(0, p.OutputChannels())
		in := src.Slice(0, p.InputChannels())
		if p.Enabled() {
			p.ProcessAudio(in, dst)
		} else {
			processor.BypassProcess(in, dst)
		}
		src = dst
	}

	out := t.output
	out.Replace(src)
	channels := src.Channels()
	if channels == 1 && t.OutputChannels() > 1 {
		copy(out.Channel(1), out.Channel(0))
		channels = 2
	}
	out.ClearFrom(channels)
}

func (t *Track) busTargets(b *busGain) (left, right float32) {
	if t.muted.Load() {
		return 0, 0
	}
	return CalcLRGain(b.gain.Processed(), b.pan.Domain())
}

func (t *Track) applyGainPan() {
	outChannels := t.OutputChannels()
	for i := range t.buses {
		b := &t.buses[i]
		first := i * 2
		if first >= outChannels {
			break
		}
		if first+1 >= outChannels {
			// single output channel: gain only
			g := b.gain.Processed()
			if t.muted.Load() {
				g = 0
			}
			b.left.Set(g)
			applySmoothed(&b.left, t.output.Channel(first))
			continue
		}
		left, right := t.busTargets(b)
		b.left.Set(left)
		b.right.Set(right)
		applySmoothed(&b.left, t.output.Channel(first))
		applySmoothed(&b.right, t.output.Channel(first+1))
	}
}

func applySmoothed(s *dsp.Smoother, samples []float32) {
	if s.Stationary() {
		g := s.Value()
		if g == 1 {
			return
		}
		for i := range samples {
			samples[i] *= g
		}
		return
	}
	for i := range samples {
		samples[i] *= s.Next()
	}
}

// CalcLRGain returns left and right channel gains for a bus gain and a pan
// position in [-1,1]. Center leaves both channels at gain; hard right
// silences the left channel and raises the right by 3 dB.
func CalcLRGain(gain, pan float32) (left, right float32) {
	pan = min(max(pan, -1), 1)
	angle := float64(pan+1) * math.Pi / 4
	g := float64(gain) * math.Sqrt2
	return float32(g * math.Cos(angle)), float32(g * math.Sin(angle))
}
