package rthost

import (
	"math"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/shaban/rthost/transport"
)

// Position is a snapshot of the transport taken at the start of the last
// processed block.
type Position struct {
	Samples       int64
	Time          time.Duration
	Beats         float64
	BarStartBeats float64
	Tempo         float64
	TimeSignature transport.TimeSignature
	PlayingMode   transport.PlayingMode
	SyncMode      transport.SyncMode
}

// positionCell publishes a Position from the audio goroutine to any number
// of readers. Writers bump seq to odd before and back to even after writing.
type positionCell struct {
	seq       atomic.Uint64
	samples   atomic.Int64
	elapsed   atomic.Int64
	beats     atomic.Uint64
	barStart  atomic.Uint64
	tempo     atomic.Uint64
	numerator atomic.Int32
	denom     atomic.Int32
	mode      atomic.Int32
	syncMode  atomic.Int32
}

func (c *positionCell) store(t *transport.Transport) {
	c.seq.Add(1)
	c.samples.Store(t.Position())
	c.elapsed.Store(int64(t.CurrentProcessTime()))
	c.beats.Store(math.Float64bits(t.CurrentBeats(0)))
	c.barStart.Store(math.Float64bits(t.CurrentBarStartBeats()))
	c.tempo.Store(math.Float64bits(t.CurrentTempo()))
	sig := t.TimeSignature()
	c.numerator.Store(int32(sig.Numerator))
	c.denom.Store(int32(sig.Denominator))
	c.mode.Store(int32(t.PlayingMode()))
	c.syncMode.Store(int32(t.SyncMode()))
	c.seq.Add(1)
}

func (c *positionCell) load() Position {
	for {
		seq := c.seq.Load()
		if seq&1 != 0 {
			runtime.Gosched()
			continue
		}
		p := Position{
			Samples:       c.samples.Load(),
			Time:          time.Duration(c.elapsed.Load()),
			Beats:         math.Float64frombits(c.beats.Load()),
			BarStartBeats: math.Float64frombits(c.barStart.Load()),
			Tempo:         math.Float64frombits(c.tempo.Load()),
			TimeSignature: transport.TimeSignature{
				Numerator:   int(c.numerator.Load()),
				Denominator: int(c.denom.Load()),
			},
			PlayingMode: transport.PlayingMode(c.mode.Load()),
			SyncMode:    transport.SyncMode(c.syncMode.Load()),
		}
		if c.seq.Load() == seq {
			return p
		}
	}
}
