package rthost

import (
	"fmt"
	"time"

	"gitlab.com/gomidi/midi/v2"

	"github.com/shaban/rthost/event"
	"github.com/shaban/rthost/midiconv"
	"github.com/shaban/rthost/transport"
)

// SendEvent queues an event for the next block. Transport events go to the
// control channel, everything else to the main input channel and from there
// to the track hosting the target.
func (e *Engine) SendEvent(ev event.Event) error {
	if ev.IsTransport() {
		return e.applyTransport(ev)
	}
	if ev.IsNotification() || ev.IsLifecycle() {
		return fmt.Errorf("%w: %s events are produced by the engine", ErrInvalidArgument, ev.Kind())
	}
	if _, ok := e.processors.Get(ev.Target()); !ok {
		return fmt.Errorf("event target %d: %w", ev.Target(), ErrNotFound)
	}
	if ev.Offset() < 0 || ev.Offset() >= e.cfg.BlockSize {
		return fmt.Errorf("event offset %d: %w", ev.Offset(), ErrOutOfRange)
	}
	return e.push(e.mainIn, ev)
}

func (e *Engine) push(f *event.Fifo, ev event.Event) error {
	e.inMu.Lock()
	ok := f.Push(ev)
	e.inMu.Unlock()
	if !ok {
		return ErrQueueFull
	}
	return nil
}

// applyTransport changes the transport immediately when realtime processing
// is off and through the control channel otherwise.
func (e *Engine) applyTransport(ev event.Event) error {
	if !e.realtime.Load() {
		e.rtMu.Lock()
		if !e.realtime.Load() {
			e.transport.ProcessEvent(ev)
			e.position.store(e.transport)
			e.rtMu.Unlock()
			return nil
		}
		e.rtMu.Unlock()
	}
	return e.push(e.control, ev)
}

// SetTempo sets the tempo in BPM.
func (e *Engine) SetTempo(bpm float64) error {
	if bpm < transport.MinTempo || bpm > transport.MaxTempo {
		return fmt.Errorf("tempo %.2f: %w", bpm, ErrOutOfRange)
	}
	return e.applyTransport(event.TempoChange(0, float32(bpm), true))
}

// SetTimeSignature sets the meter.
func (e *Engine) SetTimeSignature(sig transport.TimeSignature) error {
	if !sig.Valid() {
		return fmt.Errorf("%w: time signature %d/%d", ErrInvalidArgument, sig.Numerator, sig.Denominator)
	}
	return e.applyTransport(event.TimeSignatureChange(0, sig.Numerator, sig.Denominator, true))
}

// SetPlayingMode starts, stops or arms the transport.
func (e *Engine) SetPlayingMode(mode transport.PlayingMode) error {
	if mode < transport.Stopped || mode > transport.Recording {
		return fmt.Errorf("%w: playing mode %d", ErrInvalidArgument, mode)
	}
	return e.applyTransport(event.PlayingModeChange(0, int(mode), true))
}

// SetSyncMode selects the tempo source. Switching to MIDI resets the clock
// follower.
func (e *Engine) SetSyncMode(mode transport.SyncMode) error {
	if mode < transport.Internal || mode > transport.Link {
		return fmt.Errorf("%w: sync mode %d", ErrInvalidArgument, mode)
	}
	if mode == transport.Midi {
		e.clockMu.Lock()
		e.clock.Reset()
		e.clockMu.Unlock()
	}
	return e.applyTransport(event.SyncModeChange(0, int(mode), true))
}

// HandleMidiRealtime feeds a MIDI system realtime message received at time
// at to the clock follower. It is ignored unless the transport follows MIDI
// clock. Tempo updates are applied without notification, start, continue
// and stop change the playing mode.
func (e *Engine) HandleMidiRealtime(msg midi.Message, at time.Duration) error {
	if e.position.load().SyncMode != transport.Midi {
		return nil
	}
	e.clockMu.Lock()
	upd := e.clock.Handle(msg, at)
	e.clockMu.Unlock()

	switch upd.Action {
	case midiconv.ClockTempo:
		return e.applyTransport(event.TempoChange(0, float32(upd.Tempo), false))
	case midiconv.ClockStart, midiconv.ClockContinue:
		return e.applyTransport(event.PlayingModeChange(0, int(transport.Playing), true))
	case midiconv.ClockStop:
		return e.applyTransport(event.PlayingModeChange(0, int(transport.Stopped), true))
	}
	return nil
}

// SetSampleRate changes the sample rate and initializes every processor
// again. Realtime processing must be off.
func (e *Engine) SetSampleRate(rate float64) error {
	if rate < 8000 || rate > 384000 {
		return fmt.Errorf("sample rate %.0f: %w", rate, ErrOutOfRange)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rtMu.Lock()
	defer e.rtMu.Unlock()
	if e.realtime.Load() {
		return fmt.Errorf("%w: sample rate cannot change while realtime processing runs", ErrInvalidArgument)
	}

	e.cfg.SampleRate = rate
	e.transport.SetSampleRate(rate)
	e.timer.SetPeriod(e.cfg.BlockPeriod())
	e.clipInterval = max(0, int(rate*clipInterval.Seconds())-e.cfg.BlockSize)
	for _, p := range e.processors.All() {
		if err := p.Init(rate); err != nil {
			return fmt.Errorf("processor %q: %w", p.Name(), err)
		}
	}
	e.position.store(e.transport)
	e.log.WithField("sample_rate", rate).Info("sample rate changed")
	return nil
}

// SetOutputLatency sets the latency added to the transport's process time.
func (e *Engine) SetOutputLatency(latency time.Duration) error {
	if latency < 0 {
		return fmt.Errorf("latency %v: %w", latency, ErrOutOfRange)
	}
	return e.runRT("set_latency", event.NoTarget, func() { e.transport.SetLatency(latency) })
}

// Position returns the transport state at the start of the last block.
func (e *Engine) Position() Position {
	return e.position.load()
}

// SetParameterValue sets a normalized parameter value. Processors on a track
// receive it sample accurately with the next block, others immediately.
func (e *Engine) SetParameterValue(proc, param event.ObjectID, normalized float32) error {
	p, ok := e.processors.Get(proc)
	if !ok {
		return fmt.Errorf("processor %d: %w", proc, ErrNotFound)
	}
	prm := p.Parameter(param)
	if prm == nil {
		return fmt.Errorf("processor %q parameter %d: %w", p.Name(), param, ErrNotFound)
	}
	if normalized < 0 || normalized > 1 {
		return fmt.Errorf("parameter %q value %v: %w", prm.Name, normalized, ErrOutOfRange)
	}

	e.mu.Lock()
	_, hosted := e.owner[proc]
	hosted = hosted || e.isTrack(proc)
	e.mu.Unlock()
	if !hosted {
		prm.SetNormalized(normalized)
		return nil
	}
	return e.push(e.mainIn, event.ParameterChange(proc, 0, param, normalized))
}

// SetParameterByName sets a parameter in its domain units, looked up by name.
func (e *Engine) SetParameterByName(proc event.ObjectID, name string, value float32) error {
	p, ok := e.processors.Get(proc)
	if !ok {
		return fmt.Errorf("processor %d: %w", proc, ErrNotFound)
	}
	prm := p.ParameterByName(name)
	if prm == nil {
		return fmt.Errorf("processor %q parameter %q: %w", p.Name(), name, ErrNotFound)
	}
	if value < prm.Min || value > prm.Max {
		return fmt.Errorf("parameter %q value %v outside %v..%v: %w", name, value, prm.Min, prm.Max, ErrOutOfRange)
	}
	return e.SetParameterValue(proc, prm.ID, prm.ToNormalized(value))
}

// ParameterValue returns a normalized parameter value.
func (e *Engine) ParameterValue(proc, param event.ObjectID) (float32, error) {
	p, ok := e.processors.Get(proc)
	if !ok {
		return 0, fmt.Errorf("processor %d: %w", proc, ErrNotFound)
	}
	prm := p.Parameter(param)
	if prm == nil {
		return 0, fmt.Errorf("processor %q parameter %d: %w", p.Name(), param, ErrNotFound)
	}
	return prm.Normalized(), nil
}

// SetStringProperty changes a string property of a processor.
func (e *Engine) SetStringProperty(proc, property event.ObjectID, value string) error {
	p, ok := e.processors.Get(proc)
	if !ok {
		return fmt.Errorf("processor %d: %w", proc, ErrNotFound)
	}
	ev := event.StringPropertyChange(proc, 0, property, value)

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, hosted := e.owner[proc]; !hosted {
		// Not rendering, so the processor can take the event here.
		p.ProcessEvent(ev)
		return nil
	}
	return e.push(e.mainIn, ev)
}

// SendNoteOn plays a note on a track or processor.
func (e *Engine) SendNoteOn(target event.ObjectID, channel, note int, velocity float32) error {
	if err := checkNote(channel, note, velocity); err != nil {
		return err
	}
	return e.SendEvent(event.NoteOn(target, 0, channel, note, velocity))
}

// SendNoteOff releases a note on a track or processor.
func (e *Engine) SendNoteOff(target event.ObjectID, channel, note int, velocity float32) error {
	if err := checkNote(channel, note, velocity); err != nil {
		return err
	}
	return e.SendEvent(event.NoteOff(target, 0, channel, note, velocity))
}

func checkNote(channel, note int, velocity float32) error {
	if channel < 0 || channel > 15 || note < 0 || note > 127 || velocity < 0 || velocity > 1 {
		return fmt.Errorf("note %d channel %d velocity %v: %w", note, channel, velocity, ErrOutOfRange)
	}
	return nil
}

// SendMidi converts a MIDI message to an event for target and queues it.
func (e *Engine) SendMidi(target event.ObjectID, msg midi.Message) error {
	ev, ok := midiconv.ToEvent(msg, target, 0)
	if !ok {
		return fmt.Errorf("%w: unsupported MIDI message % X", ErrInvalidArgument, []byte(msg))
	}
	return e.SendEvent(ev)
}

// Dropped returns the number of events lost on the engine's channels.
func (e *Engine) Dropped() map[string]uint64 {
	dropped := map[string]uint64{
		"main_in":  e.mainIn.Dropped(),
		"control":  e.control.Dropped(),
		"main_out": e.mainOut.Dropped(),
		"unrouted": e.unrouted.Load(),
	}
	var tracks uint64
	for _, t := range e.Tracks() {
		if tr, ok := e.Track(t.ID); ok {
			tracks += tr.Dropped()
		}
	}
	dropped["tracks"] = tracks
	return dropped
}
