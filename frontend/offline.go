package frontend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/sirupsen/logrus"
	"github.com/youpy/go-wav"

	"github.com/shaban/rthost"
	"github.com/shaban/rthost/buffer"
)

// wavBits is the sample depth of rendered files.
const wavBits = 16

// pollBlocks is how many blocks the offline frontend renders between two
// dispatcher polls when no dispatch loop runs.
const pollBlocks = 64

// Offline renders as fast as possible into a 16 bit WAV stream. Realtime
// processing must be disabled; the engine applies changes immediately.
type Offline struct {
	engine *rthost.Engine
	out    io.Writer
	opts   Options
	frames int64
}

// NewOffline creates an offline frontend writing to out. Files hold at most
// two channels; further engine outputs are left out.
func NewOffline(e *rthost.Engine, out io.Writer, opts Options) *Offline {
	return &Offline{engine: e, out: out, opts: opts}
}

// Frames returns the number of frames written so far.
func (o *Offline) Frames() int64 { return o.frames }

func (o *Offline) Run(ctx context.Context) error {
	if o.engine.Realtime() {
		return fmt.Errorf("%w: offline rendering needs realtime processing disabled", rthost.ErrInvalidArgument)
	}
	if o.opts.Length <= 0 {
		return fmt.Errorf("%w: offline rendering needs a length", rthost.ErrInvalidArgument)
	}
	cfg := o.engine.Config()
	channels := min(cfg.OutputChannels, 2)
	if channels == 0 {
		return fmt.Errorf("%w: engine has no outputs", rthost.ErrInvalidChannels)
	}

	bs := cfg.BlockSize
	total := framesIn(o.opts.Length, cfg.SampleRate)
	blocks := int((total + int64(bs) - 1) / int64(bs))
	log := o.opts.logger().WithFields(logrus.Fields{"frontend": "offline", "blocks": blocks})
	log.Info("rendering")

	w := wav.NewWriter(o.out, uint32(blocks*bs), uint16(channels), uint32(cfg.SampleRate), wavBits)
	b := o.engine.NewBlock()
	samples := make([]wav.Sample, bs)
	feed := feeder{seq: o.opts.Sequence}
	d := o.engine.Dispatcher()

	for i := 0; i < blocks; i++ {
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.Canceled) {
				log.WithField("frames", o.frames).Warn("rendering cancelled")
			}
			return err
		}
		b.SampleCount = int64(i * bs)
		b.Time = blockTime(b.SampleCount, cfg.SampleRate)
		b.OutEvents = b.OutEvents[:0]
		feed.fill(b, b.SampleCount, bs)
		if err := o.engine.ProcessChunk(b); err != nil {
			return err
		}

		toWav(samples, b.Out, channels)
		if err := w.WriteSamples(samples); err != nil {
			return fmt.Errorf("write WAV: %w", err)
		}
		o.frames += int64(bs)

		if i%pollBlocks == 0 && !d.IsRunning() {
			d.Poll()
		}
	}
	if !d.IsRunning() {
		d.Poll()
	}
	log.WithField("frames", o.frames).Info("rendering done")
	return nil
}

func toWav(dst []wav.Sample, src buffer.Buffer, channels int) {
	for c := 0; c < channels; c++ {
		for i, s := range src.Channel(c) {
			dst[i].Values[c] = pcm16(s)
		}
	}
}

func pcm16(s float32) int {
	s = max(-1, min(1, s))
	return int(math.Round(float64(s) * math.MaxInt16))
}
