package rthost

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shaban/rthost/event"
	"github.com/shaban/rthost/internal/queue"
	"github.com/shaban/rthost/plugins"
	"github.com/shaban/rthost/processor"
	"github.com/shaban/rthost/track"
)

// TrackInfo describes a track for control-plane listings.
type TrackInfo struct {
	ID             event.ObjectID   `json:"id"`
	Name           string           `json:"name"`
	InputChannels  int              `json:"input_channels"`
	OutputChannels int              `json:"output_channels"`
	Buses          int              `json:"buses"`
	Muted          bool             `json:"muted"`
	Bypassed       bool             `json:"bypassed"`
	Core           int              `json:"core"`
	Processors     []event.ObjectID `json:"processors"`
}

// ProcessorInfo describes a processor for control-plane listings.
type ProcessorInfo struct {
	ID       event.ObjectID `json:"id"`
	UID      string         `json:"uid,omitempty"`
	Name     string         `json:"name"`
	Label    string         `json:"label"`
	Track    event.ObjectID `json:"track,omitempty"` // zero when not on a track
	Bypassed bool           `json:"bypassed"`
}

// runRT applies fn to the render state. Without realtime processing fn runs
// on the calling goroutine under rtMu; otherwise it is queued for the audio
// goroutine and the call waits until it has run or OpTimeout expires.
func (e *Engine) runRT(name string, target event.ObjectID, fn func()) error {
	begin := time.Now()
	defer func() { e.cfg.Metrics.OnStructuralOp(name, target, time.Since(begin)) }()

	if !e.realtime.Load() {
		e.rtMu.Lock()
		if !e.realtime.Load() {
			fn()
			e.rtMu.Unlock()
			return nil
		}
		e.rtMu.Unlock()
	}

	err := e.ops.RunSync(func(context.Context) error {
		fn()
		return nil
	}, e.cfg.OpTimeout)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, queue.ErrTimeout):
		return fmt.Errorf("%s: %w", name, ErrTimeout)
	case errors.Is(err, queue.ErrFull):
		return fmt.Errorf("%s: %w", name, ErrQueueFull)
	}
	return fmt.Errorf("%s: %w", name, err)
}

// CreateTrack creates a track with one stereo bus and adds it to the graph.
func (e *Engine) CreateTrack(name string, channels int) (event.ObjectID, error) {
	t, err := track.New(name, channels, e.cfg.BlockSize)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidChannels, err)
	}
	return e.addTrack(t)
}

// CreateMultibusTrack creates a track with independent stereo buses.
func (e *Engine) CreateMultibusTrack(name string, inputBuses, outputBuses int) (event.ObjectID, error) {
	t, err := track.NewMultibus(name, inputBuses, outputBuses, e.cfg.BlockSize)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidChannels, err)
	}
	return e.addTrack(t)
}

func (e *Engine) addTrack(t *track.Track) (event.ObjectID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := t.Init(e.cfg.SampleRate); err != nil {
		return 0, err
	}
	if err := e.processors.Add(t); err != nil {
		return 0, err
	}
	t.SetTimer(e.timer.Entry(t.ID()))

	next := e.ctl.clone()
	next.routes[t.ID()] = t
	next.tracks = append(next.tracks, t)

	added := false
	err := e.runRT("create_track", t.ID(), func() {
		if !e.graph.Add(t) {
			return
		}
		added = true
		e.rt = next
		e.mainOut.Push(event.TrackAdded(t.ID()))
	})
	if err == nil && !added {
		err = fmt.Errorf("track %q: %w: graph is full", t.Name(), ErrOutOfRange)
	}
	if err != nil {
		e.processors.Remove(t.ID())
		e.timer.Remove(t.ID())
		return 0, err
	}

	e.ctl = next
	e.tracks[t.ID()] = t
	e.log.WithFields(logrus.Fields{"track": t.Name(), "id": t.ID(), "core": e.graph.Core(t)}).Debug("track created")
	return t.ID(), nil
}

// DeleteTrack removes an empty track and its audio connections.
func (e *Engine) DeleteTrack(id event.ObjectID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.tracks[id]
	if !ok {
		return fmt.Errorf("track %d: %w", id, ErrNotFound)
	}
	if len(t.Processors()) > 0 {
		return fmt.Errorf("track %q still hosts processors: %w", t.Name(), ErrAlreadyInUse)
	}

	next := e.ctl.clone()
	delete(next.routes, id)
	next.tracks = slices.DeleteFunc(next.tracks, func(x *track.Track) bool { return x == t })
	next.inputs = slices.DeleteFunc(next.inputs, func(c AudioConnection) bool { return c.Track == id })
	next.outputs = slices.DeleteFunc(next.outputs, func(c AudioConnection) bool { return c.Track == id })

	err := e.runRT("delete_track", id, func() {
		e.graph.Remove(t)
		e.rt = next
		e.mainOut.Push(event.TrackRemoved(id))
	})
	if err != nil {
		return err
	}

	e.ctl = next
	delete(e.tracks, id)
	e.processors.Remove(id)
	e.timer.Remove(id)
	e.log.WithField("track", t.Name()).Debug("track deleted")
	return nil
}

// CreateProcessor instantiates a built-in plugin and registers it. The
// processor is initialized but not yet on a track.
func (e *Engine) CreateProcessor(uid, name string) (event.ObjectID, error) {
	p, err := plugins.New(uid, name, e.transport)
	if err != nil {
		return 0, err
	}
	if err := e.AddProcessor(p); err != nil {
		return 0, err
	}
	e.mu.Lock()
	e.uids[p.ID()] = uid
	e.mu.Unlock()
	return p.ID(), nil
}

// AddProcessor initializes and registers an externally built processor.
func (e *Engine) AddProcessor(p processor.Processor) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := p.Init(e.cfg.SampleRate); err != nil {
		return fmt.Errorf("processor %q: %w", p.Name(), err)
	}
	if err := e.processors.Add(p); err != nil {
		return err
	}
	e.log.WithFields(logrus.Fields{"processor": p.Name(), "id": p.ID()}).Debug("processor created")
	return nil
}

// DeleteProcessor unregisters a processor that is not on any track.
func (e *Engine) DeleteProcessor(id event.ObjectID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.processors.Get(id)
	if !ok || e.isTrack(id) {
		return fmt.Errorf("processor %d: %w", id, ErrNotFound)
	}
	if _, busy := e.owner[id]; busy {
		return fmt.Errorf("processor %q is on a track: %w", p.Name(), ErrAlreadyInUse)
	}
	e.processors.Remove(id)
	delete(e.uids, id)
	return nil
}

func (e *Engine) isTrack(id event.ObjectID) bool {
	_, ok := e.tracks[id]
	return ok
}

// AddProcessorToTrack inserts a processor into a track's chain, before the
// processor with id before or at the end when before is nil.
func (e *Engine) AddProcessorToTrack(proc, trackID event.ObjectID, before *event.ObjectID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, t, err := e.lookupPair(proc, trackID)
	if err != nil {
		return err
	}
	if owner, busy := e.owner[proc]; busy {
		return fmt.Errorf("processor %q is on track %d: %w", p.Name(), owner, ErrAlreadyInUse)
	}
	if before != nil && e.owner[*before] != trackID {
		return fmt.Errorf("processor %d is not on track %q: %w", *before, t.Name(), ErrNotFound)
	}
	if !t.Accepts(p, before) {
		return fmt.Errorf("processor %q needs %d channels, track %q cannot provide them: %w",
			p.Name(), p.MinInputChannels(), t.Name(), ErrInvalidChannels)
	}
	return e.insert(p, t, before)
}

func (e *Engine) insert(p processor.Processor, t *track.Track, before *event.ObjectID) error {
	next := e.ctl.clone()
	next.routes[p.ID()] = t

	added := false
	err := e.runRT("add_processor", p.ID(), func() {
		if !t.Add(p, before) {
			return
		}
		added = true
		e.rt = next
		e.mainOut.Push(event.ProcessorAdded(p.ID(), t.ID()))
	})
	if err == nil && !added {
		err = fmt.Errorf("track %q rejected processor %q: %w", t.Name(), p.Name(), ErrOutOfRange)
	}
	if err != nil {
		return err
	}

	e.ctl = next
	e.owner[p.ID()] = t.ID()
	e.log.WithFields(logrus.Fields{"processor": p.Name(), "track": t.Name()}).Debug("processor added to track")
	return nil
}

// RemoveProcessorFromTrack takes a processor out of a track's chain. The
// processor stays registered.
func (e *Engine) RemoveProcessorFromTrack(proc, trackID event.ObjectID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, t, err := e.lookupPair(proc, trackID)
	if err != nil {
		return err
	}
	if e.owner[proc] != trackID {
		return fmt.Errorf("processor %q is not on track %q: %w", p.Name(), t.Name(), ErrNotFound)
	}
	return e.detach(p, t)
}

func (e *Engine) detach(p processor.Processor, t *track.Track) error {
	next := e.ctl.clone()
	delete(next.routes, p.ID())

	err := e.runRT("remove_processor", p.ID(), func() {
		t.Remove(p.ID())
		e.rt = next
		e.mainOut.Push(event.ProcessorRemoved(p.ID(), t.ID()))
	})
	if err != nil {
		return err
	}

	e.ctl = next
	delete(e.owner, p.ID())
	e.log.WithFields(logrus.Fields{"processor": p.Name(), "track": t.Name()}).Debug("processor removed from track")
	return nil
}

// MoveProcessor moves a processor from one track to another. When the
// destination rejects it the processor is put back where it was.
func (e *Engine) MoveProcessor(proc, from, to event.ObjectID, before *event.ObjectID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, src, err := e.lookupPair(proc, from)
	if err != nil {
		return err
	}
	dst, ok := e.tracks[to]
	if !ok {
		return fmt.Errorf("track %d: %w", to, ErrNotFound)
	}
	if e.owner[proc] != from {
		return fmt.Errorf("processor %q is not on track %q: %w", p.Name(), src.Name(), ErrNotFound)
	}
	if before != nil && e.owner[*before] != to {
		return fmt.Errorf("processor %d is not on track %q: %w", *before, dst.Name(), ErrNotFound)
	}
	if !dst.Accepts(p, before) {
		return fmt.Errorf("processor %q needs %d channels, track %q cannot provide them: %w",
			p.Name(), p.MinInputChannels(), dst.Name(), ErrInvalidChannels)
	}

	var after *event.ObjectID
	chain := src.Processors()
	if i := slices.IndexFunc(chain, func(x processor.Processor) bool { return x.ID() == proc }); i+1 < len(chain) {
		id := chain[i+1].ID()
		after = &id
	}
	if err := e.detach(p, src); err != nil {
		return err
	}
	if err := e.insert(p, dst, before); err != nil {
		if rerr := e.insert(p, src, after); rerr != nil {
			e.log.WithError(rerr).WithField("processor", p.Name()).Error("could not restore processor after failed move")
		}
		return err
	}
	return nil
}

func (e *Engine) lookupPair(proc, trackID event.ObjectID) (processor.Processor, *track.Track, error) {
	t, ok := e.tracks[trackID]
	if !ok {
		return nil, nil, fmt.Errorf("track %d: %w", trackID, ErrNotFound)
	}
	p, ok := e.processors.Get(proc)
	if !ok || e.isTrack(proc) {
		return nil, nil, fmt.Errorf("processor %d: %w", proc, ErrNotFound)
	}
	return p, t, nil
}

// ConnectAudioInput feeds engine input channel engineCh into a track channel.
func (e *Engine) ConnectAudioInput(engineCh int, trackID event.ObjectID, trackCh int) error {
	return e.connect(true, AudioConnection{EngineChannel: engineCh, Track: trackID, TrackChannel: trackCh})
}

// ConnectAudioOutput mixes a track output channel into engine output channel engineCh.
func (e *Engine) ConnectAudioOutput(engineCh int, trackID event.ObjectID, trackCh int) error {
	return e.connect(false, AudioConnection{EngineChannel: engineCh, Track: trackID, TrackChannel: trackCh})
}

func (e *Engine) connect(input bool, c AudioConnection) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.tracks[c.Track]
	if !ok {
		return fmt.Errorf("track %d: %w", c.Track, ErrNotFound)
	}
	engineChannels, trackChannels := e.cfg.OutputChannels, t.MaxOutputChannels()
	if input {
		engineChannels, trackChannels = e.cfg.InputChannels, t.MaxInputChannels()
	}
	if c.EngineChannel < 0 || c.EngineChannel >= engineChannels {
		return fmt.Errorf("engine channel %d: %w", c.EngineChannel, ErrOutOfRange)
	}
	if c.TrackChannel < 0 || c.TrackChannel >= trackChannels {
		return fmt.Errorf("track %q channel %d: %w", t.Name(), c.TrackChannel, ErrOutOfRange)
	}

	next := e.ctl.clone()
	list := &next.outputs
	if input {
		list = &next.inputs
	}
	if slices.Contains(*list, c) {
		return fmt.Errorf("connection %+v: %w", c, ErrAlreadyInUse)
	}
	*list = append(*list, c)
	if err := e.runRT("connect_audio", c.Track, func() { e.rt = next }); err != nil {
		return err
	}
	e.ctl = next
	return nil
}

// DisconnectAudioInput removes an input connection.
func (e *Engine) DisconnectAudioInput(engineCh int, trackID event.ObjectID, trackCh int) error {
	return e.disconnect(true, AudioConnection{EngineChannel: engineCh, Track: trackID, TrackChannel: trackCh})
}

// DisconnectAudioOutput removes an output connection.
func (e *Engine) DisconnectAudioOutput(engineCh int, trackID event.ObjectID, trackCh int) error {
	return e.disconnect(false, AudioConnection{EngineChannel: engineCh, Track: trackID, TrackChannel: trackCh})
}

func (e *Engine) disconnect(input bool, c AudioConnection) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.ctl.clone()
	list := &next.outputs
	if input {
		list = &next.inputs
	}
	i := slices.Index(*list, c)
	if i < 0 {
		return fmt.Errorf("connection %+v: %w", c, ErrNotFound)
	}
	*list = slices.Delete(*list, i, i+1)
	if err := e.runRT("disconnect_audio", c.Track, func() { e.rt = next }); err != nil {
		return err
	}
	e.ctl = next
	return nil
}

// AudioInputs returns the input connections.
func (e *Engine) AudioInputs() []AudioConnection {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.ctl.inputs)
}

// AudioOutputs returns the output connections.
func (e *Engine) AudioOutputs() []AudioConnection {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.ctl.outputs)
}

// SetTrackBypass bypasses a track and every processor it hosts.
func (e *Engine) SetTrackBypass(id event.ObjectID, bypassed bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tracks[id]
	if !ok {
		return fmt.Errorf("track %d: %w", id, ErrNotFound)
	}
	return e.runRT("bypass_track", id, func() { t.SetBypassed(bypassed) })
}

// SetTrackMute silences a track's output.
func (e *Engine) SetTrackMute(id event.ObjectID, muted bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tracks[id]
	if !ok {
		return fmt.Errorf("track %d: %w", id, ErrNotFound)
	}
	t.SetMuted(muted)
	return nil
}

// SetProcessorBypass bypasses a single processor, with a crossfade. A track
// id bypasses the whole track as SetTrackBypass does.
func (e *Engine) SetProcessorBypass(id event.ObjectID, bypassed bool) error {
	e.mu.Lock()
	isTrack := e.isTrack(id)
	e.mu.Unlock()
	if isTrack {
		return e.SetTrackBypass(id, bypassed)
	}
	p, ok := e.processors.Get(id)
	if !ok {
		return fmt.Errorf("processor %d: %w", id, ErrNotFound)
	}
	p.SetBypassed(bypassed)
	return nil
}

// SetTrackChannels changes a track's input and output channel counts and
// reconfigures its chain. Nothing changes when either count is refused.
func (e *Engine) SetTrackChannels(id event.ObjectID, inputs, outputs int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tracks[id]
	if !ok {
		return fmt.Errorf("track %d: %w", id, ErrNotFound)
	}
	if !t.SupportsChannels(inputs, outputs) {
		return fmt.Errorf("track %q: %d/%d channels: %w", t.Name(), inputs, outputs, ErrInvalidChannels)
	}
	return e.runRT("set_track_channels", id, func() { t.SetChannels(inputs, outputs) })
}

// Track returns the track with the given id.
func (e *Engine) Track(id event.ObjectID) (*track.Track, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tracks[id]
	return t, ok
}

// TrackByName returns the track with the given name.
func (e *Engine) TrackByName(name string) (*track.Track, bool) {
	p, ok := e.processors.ByName(name)
	if !ok {
		return nil, false
	}
	return e.Track(p.ID())
}

// Processor returns the registered processor with the given id. Tracks are
// processors too.
func (e *Engine) Processor(id event.ObjectID) (processor.Processor, bool) {
	return e.processors.Get(id)
}

// ProcessorByName returns the registered processor with the given name.
func (e *Engine) ProcessorByName(name string) (processor.Processor, bool) {
	return e.processors.ByName(name)
}

// Tracks lists the tracks in creation order.
func (e *Engine) Tracks() []TrackInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	infos := make([]TrackInfo, 0, len(e.ctl.tracks))
	for _, t := range e.ctl.tracks {
		info := TrackInfo{
			ID:             t.ID(),
			Name:           t.Name(),
			InputChannels:  t.InputChannels(),
			OutputChannels: t.OutputChannels(),
			Buses:          t.Buses(),
			Muted:          t.Muted(),
			Bypassed:       t.Bypassed(),
			Core:           e.graph.Core(t),
		}
		for _, p := range t.Processors() {
			info.Processors = append(info.Processors, p.ID())
		}
		infos = append(infos, info)
	}
	return infos
}

// Processors lists every registered processor that is not a track, ordered by id.
func (e *Engine) Processors() []ProcessorInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	var infos []ProcessorInfo
	for _, p := range e.processors.All() {
		if e.isTrack(p.ID()) {
			continue
		}
		infos = append(infos, ProcessorInfo{
			ID:       p.ID(),
			UID:      e.uids[p.ID()],
			Name:     p.Name(),
			Label:    p.Label(),
			Track:    e.owner[p.ID()],
			Bypassed: p.Bypassed(),
		})
	}
	return infos
}
