// Package transport implements the master musical clock. It converts the
// hardware sample position into wall time and musical time and tracks tempo,
// time signature, play state and sync source.
//
// A Transport is owned by the audio goroutine while realtime processing runs.
// Other goroutines change it by sending transport events that the owner applies
// through ProcessEvent.
package transport

import (
	"math"
	"time"

	"github.com/shaban/rthost/event"
)

// PlayingMode is the requested play state.
type PlayingMode int

const (
	Stopped PlayingMode = iota
	Playing
	Recording
)

func (m PlayingMode) String() string {
	switch m {
	case Stopped:
		return "stopped"
	case Playing:
		return "playing"
	case Recording:
		return "recording"
	}
	return "unknown"
}

// SyncMode selects the tempo source.
type SyncMode int

const (
	Internal SyncMode = iota
	Midi
	Link
)

func (m SyncMode) String() string {
	switch m {
	case Internal:
		return "internal"
	case Midi:
		return "midi"
	case Link:
		return "link"
	}
	return "unknown"
}

// PlayStateChange is the play state edge seen by the current block.
type PlayStateChange int

const (
	Unchanged PlayStateChange = iota
	Starting
	Stopping
)

func (c PlayStateChange) String() string {
	switch c {
	case Starting:
		return "starting"
	case Stopping:
		return "stopping"
	}
	return "unchanged"
}

// TimeSignature is a musical meter such as 4/4 or 6/8.
type TimeSignature struct {
	Numerator   int `json:"numerator"`
	Denominator int `json:"denominator"`
}

// Valid reports whether ts has a positive numerator and a power of two denominator.
func (ts TimeSignature) Valid() bool {
	return ts.Numerator > 0 && ts.Denominator > 0 && ts.Denominator&(ts.Denominator-1) == 0
}

// BeatsPerBar returns the bar length in quarter note beats.
func (ts TimeSignature) BeatsPerBar() float64 {
	return float64(ts.Numerator) * 4 / float64(ts.Denominator)
}

const (
	DefaultTempo = 120.0
	MinTempo     = 1.0
	MaxTempo     = 1000.0
)

// Transport is the sample-accurate clock every processor synchronizes to.
type Transport struct {
	sampleRate float64
	latency    time.Duration

	tempo    float64
	sig      TimeSignature
	mode     PlayingMode
	syncMode SyncMode

	elapsed     time.Duration
	position    int64
	wasPlaying  bool
	stateChange PlayStateChange

	out *event.Fifo
}

// New creates a stopped transport at 120 BPM in 4/4. Changes made with the
// notify flag set are announced on out, which may be nil.
func New(sampleRate float64, out *event.Fifo) *Transport {
	return &Transport{
		sampleRate: sampleRate,
		tempo:      DefaultTempo,
		sig:        TimeSignature{Numerator: 4, Denominator: 4},
		out:        out,
	}
}

// SetTime advances the clock to the start of a new block. elapsed is the
// frontend's wall clock time and sampleCount the absolute sample position.
// The play state edge is recomputed here, so a mode change becomes visible
// to exactly one block.
func (t *Transport) SetTime(elapsed time.Duration, sampleCount int64) {
	t.elapsed = elapsed
	t.position = sampleCount

	playing := t.mode != Stopped
	switch {
	case playing && !t.wasPlaying:
		t.stateChange = Starting
	case !playing && t.wasPlaying:
		t.stateChange = Stopping
	default:
		t.stateChange = Unchanged
	}
	t.wasPlaying = playing
}

// SetSampleRate changes the rate used to convert positions to seconds.
func (t *Transport) SetSampleRate(rate float64) {
	if rate > 0 {
		t.sampleRate = rate
	}
}

// SetLatency sets the output latency added to CurrentProcessTime.
func (t *Transport) SetLatency(latency time.Duration) {
	t.latency = latency
}

// SetTempo changes the tempo. Values outside [MinTempo, MaxTempo] are clamped.
func (t *Transport) SetTempo(bpm float64, notify bool) {
	bpm = math.Max(MinTempo, math.Min(MaxTempo, bpm))
	t.tempo = bpm
	if notify {
		t.publish(event.TempoChange(0, float32(bpm), false))
	}
}

// SetTimeSignature changes the meter. Invalid signatures are ignored.
func (t *Transport) SetTimeSignature(sig TimeSignature, notify bool) {
	if !sig.Valid() {
		return
	}
	t.sig = sig
	if notify {
		t.publish(event.TimeSignatureChange(0, sig.Numerator, sig.Denominator, false))
	}
}

// SetPlayingMode requests a play state. The matching edge is reported by
// CurrentStateChange after the next SetTime.
func (t *Transport) SetPlayingMode(mode PlayingMode, notify bool) {
	if mode < Stopped || mode > Recording {
		return
	}
	t.mode = mode
	if notify {
		t.publish(event.PlayingModeChange(0, int(mode), false))
	}
}

// SetSyncMode selects the tempo source.
func (t *Transport) SetSyncMode(mode SyncMode, notify bool) {
	if mode < Internal || mode > Link {
		return
	}
	t.syncMode = mode
	if notify {
		t.publish(event.SyncModeChange(0, int(mode), false))
	}
}

// ProcessEvent applies a transport event. Other kinds are ignored.
func (t *Transport) ProcessEvent(ev event.Event) {
	switch ev.Kind() {
	case event.KindTempo:
		t.SetTempo(float64(ev.Tempo()), ev.Notify())
	case event.KindTimeSignature:
		num, den := ev.TimeSignature()
		t.SetTimeSignature(TimeSignature{Numerator: num, Denominator: den}, ev.Notify())
	case event.KindPlayingMode:
		t.SetPlayingMode(PlayingMode(ev.Mode()), ev.Notify())
	case event.KindSyncMode:
		t.SetSyncMode(SyncMode(ev.Mode()), ev.Notify())
	}
}

func (t *Transport) publish(ev event.Event) {
	if t.out != nil {
		t.out.Push(ev)
	}
}

// CurrentProcessTime is the time at which the current block will be heard.
func (t *Transport) CurrentProcessTime() time.Duration {
	return t.elapsed + t.latency
}

// CurrentBeats returns the position in quarter note beats at a sample offset
// inside the current block.
func (t *Transport) CurrentBeats(offset int) float64 {
	seconds := float64(t.position+int64(offset)) / t.sampleRate
	return seconds * t.tempo / 60
}

// CurrentBarBeats returns the position inside the current bar.
func (t *Transport) CurrentBarBeats(offset int) float64 {
	return math.Mod(t.CurrentBeats(offset), t.sig.BeatsPerBar())
}

// CurrentBarStartBeats returns the beat position where the current bar began.
func (t *Transport) CurrentBarStartBeats() float64 {
	beats := t.CurrentBeats(0)
	return beats - math.Mod(beats, t.sig.BeatsPerBar())
}

// CurrentTempo returns the tempo in BPM.
func (t *Transport) CurrentTempo() float64 { return t.tempo }

// TimeSignature returns the current meter.
func (t *Transport) TimeSignature() TimeSignature { return t.sig }

// PlayingMode returns the requested play state.
func (t *Transport) PlayingMode() PlayingMode { return t.mode }

// SyncMode returns the tempo source.
func (t *Transport) SyncMode() SyncMode { return t.syncMode }

// Playing reports whether the transport is playing or recording.
func (t *Transport) Playing() bool { return t.mode != Stopped }

// CurrentStateChange returns the play state edge of the current block.
func (t *Transport) CurrentStateChange() PlayStateChange { return t.stateChange }

// SampleRate returns the current sample rate.
func (t *Transport) SampleRate() float64 { return t.sampleRate }

// Position returns the absolute sample position of the current block.
func (t *Transport) Position() int64 { return t.position }

// Latency returns the configured output latency.
func (t *Transport) Latency() time.Duration { return t.latency }
