// Package frontend drives an engine. A frontend owns the goroutine that calls
// ProcessChunk once per block, which makes that goroutine the engine's audio
// goroutine.
package frontend

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shaban/rthost"
	"github.com/shaban/rthost/event"
)

// Frontend renders an engine until its context is cancelled, it runs out of
// material or the engine faults.
type Frontend interface {
	Run(ctx context.Context) error
}

// Options are shared by all frontends.
type Options struct {
	// Length stops rendering after this much audio. Zero runs until the
	// context is cancelled; the offline frontend requires it.
	Length time.Duration
	// Sequence is fed to the engine as block input events.
	Sequence Sequence
	Logger   logrus.FieldLogger
}

func (o Options) logger() logrus.FieldLogger {
	if o.Logger == nil {
		return logrus.StandardLogger()
	}
	return o.Logger
}

// Cue is an event due at an absolute sample position.
type Cue struct {
	Frame int64
	Event event.Event
}

// Sequence is a list of cues ordered by frame.
type Sequence []Cue

// End returns the frame of the last cue.
func (s Sequence) End() int64 {
	if len(s) == 0 {
		return 0
	}
	return s[len(s)-1].Frame
}

// feeder hands out the cues falling into consecutive blocks.
type feeder struct {
	seq  Sequence
	next int
}

// fill sets b.InEvents to the cues in [start, start+frames). Cues that do not
// fit into the block's event capacity move to the start of the next block.
func (f *feeder) fill(b *rthost.Block, start int64, frames int) {
	b.InEvents = b.InEvents[:0]
	end := start + int64(frames)
	for f.next < len(f.seq) && f.seq[f.next].Frame < end {
		if len(b.InEvents) == cap(b.InEvents) {
			return
		}
		c := f.seq[f.next]
		b.InEvents = append(b.InEvents, c.Event.WithOffset(int(max(0, c.Frame-start))))
		f.next++
	}
}

// blockTime converts a sample position to the frontend clock.
func blockTime(frames int64, sampleRate float64) time.Duration {
	return time.Duration(float64(frames) / sampleRate * float64(time.Second))
}

// framesIn returns how many frames d covers at sampleRate.
func framesIn(d time.Duration, sampleRate float64) int64 {
	return int64(d.Seconds() * sampleRate)
}
