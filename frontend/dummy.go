package frontend

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shaban/rthost"
)

// Dummy renders in step with the wall clock and discards the output. It
// runs the engine without audio hardware.
type Dummy struct {
	engine *rthost.Engine
	opts   Options
	blocks atomic.Int64
	peak   atomic.Uint32 // float32 bits
}

// NewDummy creates a wall clock paced frontend.
func NewDummy(e *rthost.Engine, opts Options) *Dummy {
	return &Dummy{engine: e, opts: opts}
}

// Blocks returns the number of blocks rendered.
func (d *Dummy) Blocks() int64 { return d.blocks.Load() }

// Peak returns the highest absolute output sample of the last block.
func (d *Dummy) Peak() float32 { return math.Float32frombits(d.peak.Load()) }

// Run enables realtime processing and renders every block that is due until
// ctx is cancelled or Options.Length has been rendered.
func (d *Dummy) Run(ctx context.Context) error {
	cfg := d.engine.Config()
	bs := int64(cfg.BlockSize)
	limit := framesIn(d.opts.Length, cfg.SampleRate)
	log := d.opts.logger().WithFields(logrus.Fields{"frontend": "dummy", "block_period": cfg.BlockPeriod()})

	d.engine.EnableRealtime(true)
	defer d.engine.EnableRealtime(false)
	log.Info("rendering")

	b := d.engine.NewBlock()
	feed := feeder{seq: d.opts.Sequence}
	ticker := time.NewTicker(cfg.BlockPeriod())
	defer ticker.Stop()

	start := time.Now()
	var frames int64
	for {
		select {
		case <-ctx.Done():
			log.WithField("blocks", d.Blocks()).Info("stopped")
			return nil
		case <-ticker.C:
		}

		// Catch up on ticks the runtime dropped.
		due := framesIn(time.Since(start), cfg.SampleRate)
		for frames+bs <= due {
			if limit > 0 && frames >= limit {
				log.WithField("blocks", d.Blocks()).Info("length reached")
				return nil
			}
			b.SampleCount = frames
			b.Time = blockTime(frames, cfg.SampleRate)
			b.OutEvents = b.OutEvents[:0]
			feed.fill(b, frames, int(bs))
			if err := d.engine.ProcessChunk(b); err != nil {
				return err
			}
			var peak float32
			for c := 0; c < b.Out.Channels(); c++ {
				peak = max(peak, b.Out.Peak(c))
			}
			d.peak.Store(math.Float32bits(peak))
			d.blocks.Add(1)
			frames += bs
		}
	}
}
