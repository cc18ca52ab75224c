//go:build !headless

package frontend

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/sirupsen/logrus"

	"github.com/shaban/rthost"
)

// otoBufferBlocks is the device buffer length in blocks.
const otoBufferBlocks = 4

// Oto plays the engine's output through the system audio device. The oto
// reader goroutine calls Read, which renders blocks on demand and is therefore
// the engine's audio goroutine.
type Oto struct {
	engine *rthost.Engine
	opts   Options

	block    *rthost.Block
	feed     feeder
	frames   int64
	samples  []float32 // one interleaved block
	pending  []float32 // rendered samples not yet handed to oto
	channels int
	rate     float64

	fault  atomic.Pointer[error]
	blocks atomic.Int64
}

// NewOto creates a frontend for the default output device.
func NewOto(e *rthost.Engine, opts Options) *Oto {
	return &Oto{engine: e, opts: opts}
}

// Blocks returns the number of blocks rendered.
func (o *Oto) Blocks() int64 { return o.blocks.Load() }

// Read implements io.Reader for the oto player.
func (o *Oto) Read(p []byte) (int, error) {
	n := 0
	for n+4 <= len(p) {
		if len(o.pending) == 0 {
			o.render()
		}
		binary.LittleEndian.PutUint32(p[n:], math.Float32bits(o.pending[0]))
		o.pending = o.pending[1:]
		n += 4
	}
	return n, nil
}

func (o *Oto) render() {
	b := o.block
	if o.fault.Load() == nil {
		bs := b.Out.Frames()
		b.SampleCount = o.frames
		b.Time = blockTime(o.frames, o.rate)
		b.OutEvents = b.OutEvents[:0]
		o.feed.fill(b, o.frames, bs)
		if err := o.engine.ProcessChunk(b); err != nil {
			o.fault.Store(&err)
			b.Out.Clear()
		}
		o.frames += int64(bs)
		o.blocks.Add(1)
	}
	b.Out.Interleave(o.samples)
	o.pending = o.samples
}

// Run opens the device and plays until ctx is cancelled, Options.Length has
// been played or the engine faults.
func (o *Oto) Run(ctx context.Context) error {
	cfg := o.engine.Config()
	if cfg.OutputChannels < 1 || cfg.OutputChannels > 2 {
		return fmt.Errorf("%w: oto plays one or two channels, engine has %d", rthost.ErrInvalidChannels, cfg.OutputChannels)
	}
	o.channels = cfg.OutputChannels
	o.rate = cfg.SampleRate
	o.block = o.engine.NewBlock()
	o.samples = make([]float32, cfg.BlockSize*o.channels)
	o.feed = feeder{seq: o.opts.Sequence}
	log := o.opts.logger().WithFields(logrus.Fields{"frontend": "oto", "sample_rate": cfg.SampleRate})

	octx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   int(cfg.SampleRate),
		ChannelCount: o.channels,
		Format:       oto.FormatFloat32LE,
		BufferSize:   cfg.BlockPeriod() * otoBufferBlocks,
	})
	if err != nil {
		return fmt.Errorf("open audio device: %w", err)
	}
	<-ready

	o.engine.EnableRealtime(true)
	defer o.engine.EnableRealtime(false)

	player := octx.NewPlayer(o)
	defer player.Close()
	player.Play()
	log.Info("playing")

	limit := framesIn(o.opts.Length, cfg.SampleRate)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.WithField("blocks", o.Blocks()).Info("stopped")
			return nil
		case <-ticker.C:
		}
		if errp := o.fault.Load(); errp != nil {
			return *errp
		}
		if err := player.Err(); err != nil {
			return fmt.Errorf("audio device: %w", err)
		}
		if limit > 0 && o.Blocks()*int64(cfg.BlockSize) >= limit {
			log.WithField("blocks", o.Blocks()).Info("length reached")
			return nil
		}
	}
}
