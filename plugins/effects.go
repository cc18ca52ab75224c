package plugins

import (
	"time"

	"github.com/shaban/rthost/buffer"
	"github.com/shaban/rthost/dsp"
	"github.com/shaban/rthost/event"
	"github.com/shaban/rthost/processor"
	"github.com/shaban/rthost/track"
)

const (
	gainSmoothingTime = 20 * time.Millisecond

	// MaxDelaySamples bounds the sample_delay parameter.
	MaxDelaySamples = 48000
)

func init() {
	register(PluginInfo{UID: "passthrough", Name: "Passthrough", Category: CategoryUtility,
		Description: "Copies audio and keyboard events unchanged"},
		func(name string, _ Clock) processor.Processor { return NewPassthrough(name) })
	register(PluginInfo{UID: "gain", Name: "Gain", Category: CategoryEffect,
		Description: "Smoothed gain in decibels"},
		func(name string, _ Clock) processor.Processor { return NewGain(name) })
	register(PluginInfo{UID: "mono_summing", Name: "Mono summing", Category: CategoryUtility,
		Description: "Sums every input channel into every output channel"},
		func(name string, _ Clock) processor.Processor { return NewMonoSumming(name) })
	register(PluginInfo{UID: "sample_delay", Name: "Sample delay", Category: CategoryEffect,
		Description: "Delays audio by a whole number of samples"},
		func(name string, _ Clock) processor.Processor { return NewSampleDelay(name) })
}

// forwardKeyboard sends keyboard events on and hands the rest to the base.
func forwardKeyboard(b *processor.Base, ev event.Event) {
	if ev.IsKeyboard() {
		b.Emit(ev)
		return
	}
	b.ProcessEvent(ev)
}

// Passthrough copies audio and forwards keyboard events.
type Passthrough struct {
	*processor.Base
}

func NewPassthrough(name string) *Passthrough {
	return &Passthrough{Base: processor.NewBase(name, "Passthrough", track.MaxChannels, track.MaxChannels)}
}

func (p *Passthrough) ProcessEvent(ev event.Event) { forwardKeyboard(p.Base, ev) }

func (p *Passthrough) ProcessAudio(in, out buffer.Buffer) {
	processor.BypassProcess(in, out)
}

// Gain scales the signal by a smoothed decibel gain.
type Gain struct {
	*processor.Base
	gain     *processor.Parameter
	smoother dsp.Smoother
}

func NewGain(name string) *Gain {
	g := &Gain{Base: processor.NewBase(name, "Gain", track.MaxChannels, track.MaxChannels)}
	g.gain = g.RegisterFloatParameter("gain", "Gain", "dB", 0, -120, 24, processor.Decibel)
	return g
}

func (g *Gain) Init(sampleRate float64) error {
	if err := g.Base.Init(sampleRate); err != nil {
		return err
	}
	g.smoother.SetLagTime(gainSmoothingTime, sampleRate)
	g.smoother.SetDirect(g.gain.Processed())
	return nil
}

func (g *Gain) ProcessEvent(ev event.Event) { forwardKeyboard(g.Base, ev) }

func (g *Gain) ProcessAudio(in, out buffer.Buffer) {
	bm := g.BypassManager()
	if !bm.Begin() {
		processor.BypassProcess(in, out)
		return
	}
	processor.BypassProcess(in, out)
	g.smoother.Set(g.gain.Processed())
	if g.smoother.Stationary() {
		if v := g.smoother.Value(); v != 1 {
			out.ApplyGain(v)
		}
	} else {
		frames := out.Frames()
		for i := 0; i < frames; i++ {
			v := g.smoother.Next()
			for c := 0; c < out.Channels(); c++ {
				out.Channel(c)[i] *= v
			}
		}
	}
	bm.Crossfade(in, out)
}

// MonoSumming writes the sum of all inputs to every output channel.
type MonoSumming struct {
	*processor.Base
}

func NewMonoSumming(name string) *MonoSumming {
	return &MonoSumming{Base: processor.NewBase(name, "Mono summing", track.MaxChannels, track.MaxChannels)}
}

func (m *MonoSumming) ProcessEvent(ev event.Event) { forwardKeyboard(m.Base, ev) }

func (m *MonoSumming) ProcessAudio(in, out buffer.Buffer) {
	if m.Bypassed() || out.Channels() == 0 {
		processor.BypassProcess(in, out)
		return
	}
	sum := out.Channel(0)
	if in.Channels() == 0 {
		clear(sum)
	} else {
		copy(sum, in.Channel(0))
		for c := 1; c < in.Channels(); c++ {
			for i, s := range in.Channel(c) {
				sum[i] += s
			}
		}
	}
	for c := 1; c < out.Channels(); c++ {
		copy(out.Channel(c), sum)
	}
}

// SampleDelay delays every channel by the "delay" parameter in samples.
type SampleDelay struct {
	*processor.Base
	delay *processor.Parameter
	lines [track.MaxChannels][]float32
	write int
}

func NewSampleDelay(name string) *SampleDelay {
	d := &SampleDelay{Base: processor.NewBase(name, "Sample delay", track.MaxChannels, track.MaxChannels)}
	d.delay = d.RegisterIntParameter("delay", "Delay", "samples", 0, 0, MaxDelaySamples)
	return d
}

func (d *SampleDelay) Init(sampleRate float64) error {
	if err := d.Base.Init(sampleRate); err != nil {
		return err
	}
	for c := range d.lines {
		if d.lines[c] == nil {
			d.lines[c] = make([]float32, MaxDelaySamples+1)
		} else {
			clear(d.lines[c])
		}
	}
	d.write = 0
	return nil
}

func (d *SampleDelay) ProcessEvent(ev event.Event) { forwardKeyboard(d.Base, ev) }

func (d *SampleDelay) ProcessAudio(in, out buffer.Buffer) {
	processor.BypassProcess(in, out)
	delay := d.delay.Int()
	if d.Bypassed() || delay == 0 || d.lines[0] == nil {
		return
	}
	size := len(d.lines[0])
	for c := 0; c < out.Channels(); c++ {
		line := d.lines[c]
		w := d.write
		samples := out.Channel(c)
		for i, s := range samples {
			line[w] = s
			r := w - delay
			if r < 0 {
				r += size
			}
			samples[i] = line[r]
			if w++; w == size {
				w = 0
			}
		}
	}
	d.write = (d.write + out.Frames()) % size
}
