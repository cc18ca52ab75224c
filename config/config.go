// Package config describes a host setup as JSON: audio settings, initial
// transport state, tracks with their processors and audio connections.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid host config")

// LatencyClass is a coarse latency preference that maps to block sizes.
type LatencyClass string

const (
	LatencyLow    LatencyClass = "low"    // prioritize minimal latency
	LatencyMedium LatencyClass = "medium" // balanced default
	LatencyHigh   LatencyClass = "high"   // prioritize stability
)

// MapLatencyToBlockSize maps a LatencyClass to a block size in frames.
func MapLatencyToBlockSize(c LatencyClass) int {
	switch c {
	case LatencyLow:
		return 64
	case LatencyHigh:
		return 1024
	case LatencyMedium:
		fallthrough
	default:
		return 256
	}
}

// AudioSpec captures the engine's audio settings.
type AudioSpec struct {
	SampleRate float64 `json:"sample_rate,omitempty"`
	// Coarse latency preference; used when BlockSize is zero.
	LatencyHint LatencyClass `json:"latency_hint,omitempty"`
	// Explicit block size in frames. Overrides LatencyHint if set > 0.
	BlockSize      int `json:"block_size,omitempty"`
	Cores          int `json:"cores,omitempty"`
	InputChannels  int `json:"input_channels,omitempty"`
	OutputChannels int `json:"output_channels,omitempty"`
}

// ResolveBlockSize returns the explicit block size, or the one implied by the
// latency hint.
func (a AudioSpec) ResolveBlockSize() int {
	if a.BlockSize > 0 {
		return a.BlockSize
	}
	return MapLatencyToBlockSize(a.LatencyHint)
}

// TimeSignature is a bar layout such as 6/8.
type TimeSignature struct {
	Numerator   int `json:"numerator"`
	Denominator int `json:"denominator"`
}

// Transport is the initial transport state.
type Transport struct {
	Tempo         float64        `json:"tempo,omitempty"`
	TimeSignature *TimeSignature `json:"time_signature,omitempty"`
	PlayingMode   string         `json:"playing_mode,omitempty"`
	SyncMode      string         `json:"sync_mode,omitempty"`
}

// Connection links an engine audio channel to a track channel.
type Connection struct {
	EngineChannel int `json:"engine_channel"`
	TrackChannel  int `json:"track_channel"`
}

// Processor is a processor instance on a track. Parameter values are given
// in the parameter's own range, keyed by parameter name.
type Processor struct {
	UID        string             `json:"uid"`
	Name       string             `json:"name"`
	Bypassed   bool               `json:"bypassed,omitempty"`
	Parameters map[string]float32 `json:"parameters,omitempty"`
	Properties map[string]string  `json:"properties,omitempty"`
}

// Track is a track with its chain. A track with InputBuses or OutputBuses
// set is created as a multibus track and ignores Channels.
type Track struct {
	Name        string             `json:"name"`
	Channels    int                `json:"channels,omitempty"`
	InputBuses  int                `json:"input_buses,omitempty"`
	OutputBuses int                `json:"output_buses,omitempty"`
	Muted       bool               `json:"muted,omitempty"`
	Bypassed    bool               `json:"bypassed,omitempty"`
	Parameters  map[string]float32 `json:"parameters,omitempty"`
	Processors  []Processor        `json:"processors,omitempty"`
	Inputs      []Connection       `json:"inputs,omitempty"`
	Outputs     []Connection       `json:"outputs,omitempty"`
}

// Multibus reports whether the track is laid out in stereo buses.
func (t Track) Multibus() bool { return t.InputBuses > 0 || t.OutputBuses > 0 }

// Host is the complete description of a host setup.
type Host struct {
	Audio     AudioSpec `json:"audio"`
	Transport Transport `json:"transport"`
	Tracks    []Track   `json:"tracks"`
}

// MaxTrackChannels mirrors the widest track the engine supports.
const MaxTrackChannels = 10

var (
	playingModes = map[string]bool{"": true, "stopped": true, "playing": true, "recording": true}
	syncModes    = map[string]bool{"": true, "internal": true, "midi": true, "link": true}
)

// Validate checks the description for errors the engine would reject later.
func (h *Host) Validate() error {
	a := h.Audio
	if a.SampleRate < 0 || a.BlockSize < 0 || a.Cores < 0 || a.InputChannels < 0 || a.OutputChannels < 0 {
		return fmt.Errorf("%w: negative audio setting", ErrInvalid)
	}
	switch a.LatencyHint {
	case "", LatencyLow, LatencyMedium, LatencyHigh:
	default:
		return fmt.Errorf("%w: latency hint %q", ErrInvalid, a.LatencyHint)
	}

	tr := h.Transport
	if tr.Tempo < 0 {
		return fmt.Errorf("%w: tempo %v", ErrInvalid, tr.Tempo)
	}
	if ts := tr.TimeSignature; ts != nil {
		if ts.Numerator <= 0 || ts.Denominator <= 0 {
			return fmt.Errorf("%w: time signature %d/%d", ErrInvalid, ts.Numerator, ts.Denominator)
		}
	}
	if !playingModes[tr.PlayingMode] {
		return fmt.Errorf("%w: playing mode %q", ErrInvalid, tr.PlayingMode)
	}
	if !syncModes[tr.SyncMode] {
		return fmt.Errorf("%w: sync mode %q", ErrInvalid, tr.SyncMode)
	}

	names := make(map[string]bool)
	claim := func(kind, name string) error {
		if name == "" {
			return fmt.Errorf("%w: %s without name", ErrInvalid, kind)
		}
		if names[name] {
			return fmt.Errorf("%w: duplicate name %q", ErrInvalid, name)
		}
		names[name] = true
		return nil
	}
	for _, t := range h.Tracks {
		if err := claim("track", t.Name); err != nil {
			return err
		}
		if t.Channels < 0 || t.Channels > MaxTrackChannels {
			return fmt.Errorf("%w: track %q: %d channels", ErrInvalid, t.Name, t.Channels)
		}
		if t.InputBuses < 0 || t.OutputBuses < 0 || 2*max(t.InputBuses, t.OutputBuses) > MaxTrackChannels {
			return fmt.Errorf("%w: track %q: %d/%d buses", ErrInvalid, t.Name, t.InputBuses, t.OutputBuses)
		}
		for _, p := range t.Processors {
			if p.UID == "" {
				return fmt.Errorf("%w: track %q: processor %q without uid", ErrInvalid, t.Name, p.Name)
			}
			if err := claim("processor", p.Name); err != nil {
				return err
			}
		}
		for _, c := range append(append([]Connection(nil), t.Inputs...), t.Outputs...) {
			if c.EngineChannel < 0 || c.TrackChannel < 0 || c.TrackChannel >= MaxTrackChannels {
				return fmt.Errorf("%w: track %q: connection %d -> %d", ErrInvalid, t.Name, c.EngineChannel, c.TrackChannel)
			}
		}
	}
	return nil
}

// Parse decodes and validates a JSON host description. Unknown fields are errors.
func Parse(data []byte) (*Host, error) {
	var h Host
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&h); err != nil {
		return nil, fmt.Errorf("parse host config: %w", err)
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}
	return &h, nil
}

// Load reads a host description from path.
func Load(path string) (*Host, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read host config: %w", err)
	}
	return Parse(data)
}

// Marshal encodes h as indented JSON.
func (h *Host) Marshal() ([]byte, error) {
	return json.MarshalIndent(h, "", "  ")
}

// Save writes h to path.
func (h *Host) Save(path string) error {
	data, err := h.Marshal()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
