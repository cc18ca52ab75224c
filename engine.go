// Package rthost is a headless real-time audio processing host. An Engine
// owns tracks of processors, renders them block by block for an audio
// frontend and reports what happened through notifications.
package rthost

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/shaban/rthost/buffer"
	"github.com/shaban/rthost/event"
	"github.com/shaban/rthost/graph"
	"github.com/shaban/rthost/internal/queue"
	"github.com/shaban/rthost/midiconv"
	"github.com/shaban/rthost/notify"
	"github.com/shaban/rthost/perf"
	"github.com/shaban/rthost/processor"
	"github.com/shaban/rthost/track"
	"github.com/shaban/rthost/transport"
)

// Defaults applied by NewEngine to zero fields of EngineConfig.
const (
	DefaultSampleRate       = 48000
	DefaultBlockSize        = 64
	DefaultChannels         = 2
	DefaultMaxTracksPerCore = 32
	DefaultMaxProcessors    = 1024
	DefaultEventQueueSize   = 1024
	DefaultDeadlineFactor   = 4
	DefaultOpTimeout        = time.Second
	opQueueSize             = 64
)

// clipInterval is the minimum time between two clip notifications of one
// output channel.
const clipInterval = 500 * time.Millisecond

// EngineConfig holds configuration for engine initialization
type EngineConfig struct {
	SampleRate     float64 // Hz, 8000..384000
	BlockSize      int     // frames per ProcessChunk call, 16..4096
	InputChannels  int     // engine audio inputs
	OutputChannels int     // engine audio outputs

	Cores            int // render workers, 1..runtime.NumCPU()
	MaxTracksPerCore int
	MaxProcessors    int // arena size, tracks included
	EventQueueSize   int // capacity of every event channel
	PinCPUs          bool

	// DeadlineFactor bounds a multi-core render pass to this many block
	// periods before the graph faults.
	DeadlineFactor float64
	// OpTimeout bounds how long a structural call waits for the audio
	// goroutine while realtime processing is enabled.
	OpTimeout time.Duration

	ClipDetection bool
	Timing        bool

	Logger       logrus.FieldLogger // Optional: defaults to logrus.StandardLogger()
	ErrorHandler ErrorHandler       // Optional: defaults to DefaultErrorHandler
	Metrics      perf.MetricsHook   // Optional: defaults to perf.NopHook
}

// Validate applies defaults to zero fields and rejects values out of range.
func (c *EngineConfig) Validate() error {
	switch {
	case c.SampleRate == 0:
		c.SampleRate = DefaultSampleRate
	case c.SampleRate < 8000:
		return fmt.Errorf("%w: SampleRate must be at least 8000 Hz, got %.0f", ErrInvalidArgument, c.SampleRate)
	case c.SampleRate > 384000:
		return fmt.Errorf("%w: SampleRate cannot exceed 384000 Hz, got %.0f", ErrInvalidArgument, c.SampleRate)
	}

	switch {
	case c.BlockSize == 0:
		c.BlockSize = DefaultBlockSize
	case c.BlockSize < 16:
		return fmt.Errorf("%w: BlockSize must be at least 16 samples, got %d", ErrInvalidArgument, c.BlockSize)
	case c.BlockSize > 4096:
		return fmt.Errorf("%w: BlockSize cannot exceed 4096 samples, got %d", ErrInvalidArgument, c.BlockSize)
	}

	if c.InputChannels == 0 {
		c.InputChannels = DefaultChannels
	}
	if c.OutputChannels == 0 {
		c.OutputChannels = DefaultChannels
	}
	if c.InputChannels < 0 || c.OutputChannels < 0 {
		return fmt.Errorf("%w: negative channel count %d/%d", ErrInvalidChannels, c.InputChannels, c.OutputChannels)
	}

	if c.Cores == 0 {
		c.Cores = 1
	}
	if c.Cores < 0 || c.Cores > runtime.NumCPU() {
		return fmt.Errorf("%w: Cores must be within 1..%d, got %d", ErrOutOfRange, runtime.NumCPU(), c.Cores)
	}
	if c.MaxTracksPerCore <= 0 {
		c.MaxTracksPerCore = DefaultMaxTracksPerCore
	}
	if c.MaxProcessors <= 0 {
		c.MaxProcessors = DefaultMaxProcessors
	}
	if c.EventQueueSize <= 0 {
		c.EventQueueSize = DefaultEventQueueSize
	}
	if c.DeadlineFactor <= 0 {
		c.DeadlineFactor = DefaultDeadlineFactor
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = DefaultOpTimeout
	}

	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	if c.ErrorHandler == nil {
		c.ErrorHandler = &DefaultErrorHandler{Logger: c.Logger}
	}
	if c.Metrics == nil {
		c.Metrics = perf.NopHook{}
	}
	return nil
}

// BlockPeriod returns the wall clock duration of one block.
func (c EngineConfig) BlockPeriod() time.Duration {
	return time.Duration(float64(c.BlockSize) / c.SampleRate * float64(time.Second))
}

// Block is one unit of work handed to ProcessChunk by a frontend.
type Block struct {
	In  buffer.Buffer
	Out buffer.Buffer

	// InEvents are delivered before rendering, in addition to events sent
	// with SendEvent.
	InEvents []event.Event
	// OutEvents receives keyboard events leaving tracks, up to its capacity.
	// The frontend resets its length before each call.
	OutEvents []event.Event

	Time        time.Duration // frontend clock at the start of the block
	SampleCount int64         // absolute sample position of the first frame
}

// NewBlock allocates a block matching the engine's configuration.
func (e *Engine) NewBlock() *Block {
	return &Block{
		In:        buffer.New(e.cfg.InputChannels, e.cfg.BlockSize),
		Out:       buffer.New(e.cfg.OutputChannels, e.cfg.BlockSize),
		InEvents:  make([]event.Event, 0, e.cfg.EventQueueSize),
		OutEvents: make([]event.Event, 0, e.cfg.EventQueueSize),
	}
}

// AudioConnection routes one engine channel to or from one track channel.
type AudioConnection struct {
	EngineChannel int            `json:"engine_channel"`
	Track         event.ObjectID `json:"track"`
	TrackChannel  int            `json:"track_channel"`
}

// topology is the routing state read by the audio goroutine. The control
// side builds a new one for every change and swaps it in between blocks.
type topology struct {
	routes  map[event.ObjectID]*track.Track // processor or track id -> owning track
	tracks  []*track.Track
	inputs  []AudioConnection
	outputs []AudioConnection
}

func (t *topology) clone() *topology {
	next := &topology{
		routes:  make(map[event.ObjectID]*track.Track, len(t.routes)+1),
		tracks:  append([]*track.Track(nil), t.tracks...),
		inputs:  append([]AudioConnection(nil), t.inputs...),
		outputs: append([]AudioConnection(nil), t.outputs...),
	}
	for id, tr := range t.routes {
		next.routes[id] = tr
	}
	return next
}

type faultState struct{ err error }

// Engine represents the host: processor arena, tracks, render graph,
// transport, event channels and notification hub.
type Engine struct {
	// Core identity (UUID hybrid pattern)
	id  uuid.UUID
	cfg EngineConfig
	log logrus.FieldLogger

	// Control side, serialized by mu
	mu         sync.Mutex
	processors *processor.Registry
	tracks     map[event.ObjectID]*track.Track
	owner      map[event.ObjectID]event.ObjectID // processor -> track
	uids       map[event.ObjectID]string         // processor -> plugin uid
	ctl        *topology

	// Structural operations reach the audio goroutine through ops while
	// realtime processing is enabled; otherwise they run inline under rtMu.
	rtMu     sync.Mutex
	realtime atomic.Bool
	ops      *queue.Queue

	// Audio goroutine state
	rt           *topology
	graph        *graph.Graph
	transport    *transport.Transport
	engineTiming *perf.Entry
	clipCounters []int
	clipInterval int

	// Event channels
	inMu     sync.Mutex
	mainIn   *event.Fifo
	control  *event.Fifo
	mainOut  *event.Fifo
	unrouted atomic.Uint64

	timer      *perf.Timer
	hub        *notify.Hub
	dispatcher *Dispatcher
	serializer *Serializer

	clockMu sync.Mutex
	clock   *midiconv.ClockFollower

	position positionCell
	fault    atomic.Pointer[faultState]
	closed   atomic.Bool
}

// NewEngine creates an engine with the specified configuration. Realtime
// processing starts disabled.
func NewEngine(config EngineConfig) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	period := config.BlockPeriod()
	mainOut := event.NewFifo(config.EventQueueSize)
	e := &Engine{
		id:           uuid.New(),
		cfg:          config,
		processors:   processor.NewRegistry(config.MaxProcessors),
		tracks:       make(map[event.ObjectID]*track.Track),
		owner:        make(map[event.ObjectID]event.ObjectID),
		uids:         make(map[event.ObjectID]string),
		ctl:          &topology{routes: map[event.ObjectID]*track.Track{}},
		ops:          queue.New(opQueueSize),
		transport:    transport.New(config.SampleRate, mainOut),
		mainIn:       event.NewFifo(config.EventQueueSize),
		control:      event.NewFifo(config.EventQueueSize),
		mainOut:      mainOut,
		timer:        perf.NewTimer(period),
		hub:          notify.NewHub(),
		clock:        midiconv.NewClockFollower(),
		clipCounters: make([]int, config.OutputChannels),
	}
	e.log = config.Logger.WithField("engine", e.id.String())
	e.rt = e.ctl
	e.graph = graph.New(config.Cores, config.MaxTracksPerCore,
		graph.WithDeadline(time.Duration(float64(period)*config.DeadlineFactor)),
		graph.WithCPUPinning(config.PinCPUs),
		graph.WithEventQueueSize(config.EventQueueSize),
	)
	e.engineTiming = e.timer.Entry(perf.EngineNode)
	e.clipInterval = max(0, int(config.SampleRate*clipInterval.Seconds())-config.BlockSize)
	for i := range e.clipCounters {
		e.clipCounters[i] = e.clipInterval
	}
	e.position.store(e.transport)

	e.dispatcher = NewDispatcher(e)
	e.serializer = NewSerializer(e)

	e.log.WithFields(logrus.Fields{
		"sample_rate": config.SampleRate,
		"block_size":  config.BlockSize,
		"cores":       config.Cores,
	}).Debug("engine created")
	return e, nil
}

// ID returns the engine instance id.
func (e *Engine) ID() uuid.UUID { return e.id }

// Config returns the validated configuration.
func (e *Engine) Config() EngineConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// SampleRate returns the current sample rate.
func (e *Engine) SampleRate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.SampleRate
}

// Notifications returns the hub notifications are published on.
func (e *Engine) Notifications() *notify.Hub { return e.hub }

// Timer returns the performance timer.
func (e *Engine) Timer() *perf.Timer { return e.timer }

// Dispatcher returns the event dispatcher.
func (e *Engine) Dispatcher() *Dispatcher { return e.dispatcher }

// Serializer returns the topology serializer.
func (e *Engine) Serializer() *Serializer { return e.serializer }

// Start enables realtime processing and starts the event dispatcher.
func (e *Engine) Start() error {
	if e.closed.Load() {
		return fmt.Errorf("%w: engine closed", ErrFaulted)
	}
	e.EnableRealtime(true)
	if err := e.dispatcher.Start(); err != nil {
		e.EnableRealtime(false)
		return err
	}
	return nil
}

// Stop disables realtime processing and stops the dispatcher after a final
// drain of pending notifications.
func (e *Engine) Stop() error {
	e.EnableRealtime(false)
	return e.dispatcher.Stop()
}

// Close stops everything and releases the render workers.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := e.Stop()
	e.ops.Close()
	e.rtMu.Lock()
	e.graph.Close()
	e.rtMu.Unlock()
	e.hub.Close()
	return err
}

// EnableRealtime switches between realtime processing, where a frontend
// goroutine calls ProcessChunk and structural changes are handed to it, and
// offline mode, where changes apply immediately. Stop the frontend before
// disabling realtime processing.
func (e *Engine) EnableRealtime(enabled bool) {
	e.rtMu.Lock()
	defer e.rtMu.Unlock()
	if e.realtime.Load() == enabled {
		return
	}
	e.realtime.Store(enabled)
	e.timer.SetEnabled(enabled && e.cfg.Timing)
	if !enabled {
		e.ops.Drain()
	}
	e.log.WithField("realtime", enabled).Info("realtime processing changed")
}

// Realtime reports whether realtime processing is enabled.
func (e *Engine) Realtime() bool { return e.realtime.Load() }

// Faulted returns the error that stopped rendering, if any.
func (e *Engine) Faulted() error {
	if f := e.fault.Load(); f != nil {
		return f.err
	}
	return nil
}

// ProcessChunk renders one block. It must only be called from one goroutine
// at a time, the frontend's audio goroutine. It does not block on the
// control side, allocate or log while realtime processing is enabled.
func (e *Engine) ProcessChunk(b *Block) error {
	if !e.realtime.Load() {
		e.rtMu.Lock()
		defer e.rtMu.Unlock()
	}
	if f := e.fault.Load(); f != nil {
		b.Out.Clear()
		return f.err
	}
	if b.Out.Frames() != e.cfg.BlockSize {
		return fmt.Errorf("%w: block of %d frames, engine runs %d", ErrInvalidArgument, b.Out.Frames(), e.cfg.BlockSize)
	}
	start := e.engineTiming.Start()

	e.transport.SetTime(b.Time, b.SampleCount)
	e.ops.Drain()

	for n := e.control.Len(); n > 0; n-- {
		ev, _ := e.control.Pop()
		e.transport.ProcessEvent(ev)
	}
	for _, ev := range b.InEvents {
		e.route(ev)
	}
	for n := e.mainIn.Len(); n > 0; n-- {
		ev, _ := e.mainIn.Pop()
		e.route(ev)
	}

	e.copyInputs(b.In)
	if err := e.graph.Render(); err != nil {
		b.Out.Clear()
		err = fmt.Errorf("%w: %w", ErrFaulted, err)
		e.fault.Store(&faultState{err: err})
		return err
	}
	e.collectEvents(b)
	e.mixOutputs(b.Out)
	if e.cfg.ClipDetection {
		e.detectClipping(b.Out)
	}
	e.position.store(e.transport)

	e.engineTiming.Stop(start)
	return nil
}

func (e *Engine) route(ev event.Event) {
	if ev.IsTransport() {
		e.transport.ProcessEvent(ev)
		return
	}
	t, ok := e.rt.routes[ev.Target()]
	if !ok {
		e.unrouted.Add(1)
		return
	}
	t.ProcessEvent(ev)
}

func (e *Engine) copyInputs(in buffer.Buffer) {
	for _, t := range e.rt.tracks {
		t.Input().Clear()
	}
	for _, c := range e.rt.inputs {
		t := e.rt.routes[c.Track]
		dst := t.Input()
		if c.EngineChannel >= in.Channels() || c.TrackChannel >= dst.Channels() {
			continue
		}
		copy(dst.Channel(c.TrackChannel), in.Channel(c.EngineChannel))
	}
}

func (e *Engine) collectEvents(b *Block) {
	for _, out := range e.graph.EventOutputs() {
		for n := out.Len(); n > 0; n-- {
			ev, _ := out.Pop()
			if ev.IsKeyboard() && len(b.OutEvents) < cap(b.OutEvents) {
				b.OutEvents = append(b.OutEvents, ev)
			}
			e.mainOut.Push(ev)
		}
	}
}

func (e *Engine) mixOutputs(out buffer.Buffer) {
	out.Clear()
	for _, c := range e.rt.outputs {
		t := e.rt.routes[c.Track]
		src := t.Output()
		if c.EngineChannel >= out.Channels() || c.TrackChannel >= src.Channels() {
			continue
		}
		dst := out.Channel(c.EngineChannel)
		for i, s := range src.Channel(c.TrackChannel) {
			dst[i] += s
		}
	}
}

func (e *Engine) detectClipping(out buffer.Buffer) {
	for c := 0; c < min(out.Channels(), len(e.clipCounters)); c++ {
		if out.CountClipped(c) > 0 && e.clipCounters[c] >= e.clipInterval {
			e.mainOut.Push(event.ClipNotification(event.NoTarget, 0, c))
			e.clipCounters[c] = 0
			continue
		}
		e.clipCounters[c] += out.Frames()
	}
}
