package plugins

import (
	"github.com/shaban/rthost/buffer"
	"github.com/shaban/rthost/dsp"
	"github.com/shaban/rthost/event"
	"github.com/shaban/rthost/processor"
	"github.com/shaban/rthost/track"
)

// MeterRefreshRate is how many times per second levels are reported.
const MeterRefreshRate = 25

const (
	meterFloor   = -120
	meterCeiling = 24
)

func init() {
	register(PluginInfo{UID: "peak_meter", Name: "Peak meter", Category: CategoryMeter,
		Description: "Reports stereo peak levels and clipping"},
		func(name string, _ Clock) processor.Processor { return NewPeakMeter(name) })
}

// PeakMeter passes audio through and publishes the peak level of the first
// two channels as parameter change notifications.
type PeakMeter struct {
	*processor.Base
	levels   [2]*processor.Parameter
	peaks    [2]float32
	clipped  [2]bool
	interval int
	elapsed  int
}

func NewPeakMeter(name string) *PeakMeter {
	m := &PeakMeter{Base: processor.NewBase(name, "Peak meter", track.MaxChannels, track.MaxChannels)}
	m.levels[0] = m.RegisterFloatParameter("level_0", "Left", "dB", meterFloor, meterFloor, meterCeiling, processor.Decibel)
	m.levels[1] = m.RegisterFloatParameter("level_1", "Right", "dB", meterFloor, meterFloor, meterCeiling, processor.Decibel)
	for _, p := range m.levels {
		p.Automatable = false
	}
	return m
}

func (m *PeakMeter) Init(sampleRate float64) error {
	if err := m.Base.Init(sampleRate); err != nil {
		return err
	}
	m.interval = max(1, int(sampleRate/MeterRefreshRate))
	m.elapsed = 0
	m.peaks = [2]float32{}
	return nil
}

func (m *PeakMeter) ProcessEvent(ev event.Event) { forwardKeyboard(m.Base, ev) }

func (m *PeakMeter) ProcessAudio(in, out buffer.Buffer) {
	processor.BypassProcess(in, out)
	if m.interval == 0 {
		return
	}
	for c := 0; c < min(len(m.peaks), out.Channels()); c++ {
		m.peaks[c] = max(m.peaks[c], out.Peak(c))
		if !m.clipped[c] && out.CountClipped(c) > 0 {
			m.clipped[c] = true
			m.Emit(event.ClipNotification(m.ID(), 0, c))
		}
	}
	m.elapsed += out.Frames()
	if m.elapsed < m.interval {
		return
	}
	m.elapsed = 0
	for c, p := range m.levels {
		db := min(max(float32(dsp.LinearToDB(float64(m.peaks[c]))), meterFloor), meterCeiling)
		p.SetDomain(db)
		m.Emit(event.ParameterChangeNotification(m.ID(), 0, p.ID, p.Normalized()))
		m.peaks[c] = 0
		m.clipped[c] = false
	}
}
