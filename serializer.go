package rthost

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shaban/rthost/config"
	"github.com/shaban/rthost/event"
	"github.com/shaban/rthost/processor"
	"github.com/shaban/rthost/transport"
)

// StateVersion is the format version written by the Serializer.
const StateVersion = "1.0.0"

// EngineState represents the serializable topology of the engine
type EngineState struct {
	Version   string                 `json:"version"`
	Host      *config.Host           `json:"host"`
	Timestamp int64                  `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Serializer handles engine topology persistence and restoration
type Serializer struct {
	engine  *Engine
	mu      sync.Mutex
	version string
}

// NewSerializer creates a new serializer
func NewSerializer(engine *Engine) *Serializer {
	return &Serializer{
		engine:  engine,
		version: StateVersion,
	}
}

// GetState captures tracks, processors, connections and transport.
func (s *Serializer) GetState() EngineState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return EngineState{
		Version:   s.version,
		Host:      s.engine.Snapshot(),
		Timestamp: time.Now().Unix(),
		Metadata:  map[string]interface{}{"engine": s.engine.ID().String()},
	}
}

// SetState replaces the engine topology with the given state
func (s *Serializer) SetState(state EngineState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if state.Version != s.version {
		return fmt.Errorf("incompatible state version: got %s, expected %s", state.Version, s.version)
	}
	if state.Host == nil {
		return fmt.Errorf("%w: state without host description", ErrInvalidArgument)
	}
	if err := s.engine.Clear(); err != nil {
		return fmt.Errorf("failed to clear engine during state restore: %w", err)
	}
	return s.engine.ApplyConfig(state.Host)
}

// SaveToWriter saves the engine state to a writer (JSON format)
func (s *Serializer) SaveToWriter(writer io.Writer) error {
	state := s.GetState()

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(state); err != nil {
		return fmt.Errorf("failed to encode engine state: %w", err)
	}
	return nil
}

// LoadFromReader loads engine state from a reader (JSON format)
func (s *Serializer) LoadFromReader(reader io.Reader) error {
	var state EngineState

	decoder := json.NewDecoder(reader)
	if err := decoder.Decode(&state); err != nil {
		return fmt.Errorf("failed to decode engine state: %w", err)
	}
	if state.Host != nil {
		if err := state.Host.Validate(); err != nil {
			return err
		}
	}
	return s.SetState(state)
}

// EngineConfigFromHost overlays the audio settings of h on base.
func EngineConfigFromHost(h *config.Host, base EngineConfig) EngineConfig {
	a := h.Audio
	if a.SampleRate > 0 {
		base.SampleRate = a.SampleRate
	}
	if a.BlockSize > 0 || a.LatencyHint != "" {
		base.BlockSize = a.ResolveBlockSize()
	}
	if a.Cores > 0 {
		base.Cores = a.Cores
	}
	if a.InputChannels > 0 {
		base.InputChannels = a.InputChannels
	}
	if a.OutputChannels > 0 {
		base.OutputChannels = a.OutputChannels
	}
	return base
}

func parsePlayingMode(s string) (transport.PlayingMode, bool) {
	for m := transport.Stopped; m <= transport.Recording; m++ {
		if m.String() == s {
			return m, true
		}
	}
	return transport.Stopped, false
}

func parseSyncMode(s string) (transport.SyncMode, bool) {
	for m := transport.Internal; m <= transport.Link; m++ {
		if m.String() == s {
			return m, true
		}
	}
	return transport.Internal, false
}

// ApplyConfig builds the tracks, processors and connections of h on top of
// the current topology and applies its transport settings. Audio settings
// are not applied; use EngineConfigFromHost when creating the engine.
func (e *Engine) ApplyConfig(h *config.Host) error {
	if err := h.Validate(); err != nil {
		return err
	}

	tr := h.Transport
	if tr.Tempo > 0 {
		if err := e.SetTempo(tr.Tempo); err != nil {
			return err
		}
	}
	if ts := tr.TimeSignature; ts != nil {
		if err := e.SetTimeSignature(transport.TimeSignature{Numerator: ts.Numerator, Denominator: ts.Denominator}); err != nil {
			return err
		}
	}
	if m, ok := parseSyncMode(tr.SyncMode); ok && tr.SyncMode != "" {
		if err := e.SetSyncMode(m); err != nil {
			return err
		}
	}
	if m, ok := parsePlayingMode(tr.PlayingMode); ok && tr.PlayingMode != "" {
		if err := e.SetPlayingMode(m); err != nil {
			return err
		}
	}

	for _, t := range h.Tracks {
		if err := e.applyTrack(t); err != nil {
			return fmt.Errorf("track %q: %w", t.Name, err)
		}
	}
	return nil
}

func (e *Engine) applyTrack(t config.Track) error {
	var (
		id  event.ObjectID
		err error
	)
	if t.Multibus() {
		id, err = e.CreateMultibusTrack(t.Name, max(t.InputBuses, 1), max(t.OutputBuses, 1))
	} else {
		channels := t.Channels
		if channels == 0 {
			channels = DefaultChannels
		}
		id, err = e.CreateTrack(t.Name, channels)
	}
	if err != nil {
		return err
	}

	for name, v := range t.Parameters {
		if err := e.SetParameterByName(id, name, v); err != nil {
			return err
		}
	}
	for _, pc := range t.Processors {
		if err := e.applyProcessor(id, pc); err != nil {
			return fmt.Errorf("processor %q: %w", pc.Name, err)
		}
	}
	for _, c := range t.Inputs {
		if err := e.ConnectAudioInput(c.EngineChannel, id, c.TrackChannel); err != nil {
			return err
		}
	}
	for _, c := range t.Outputs {
		if err := e.ConnectAudioOutput(c.EngineChannel, id, c.TrackChannel); err != nil {
			return err
		}
	}
	if err := e.SetTrackMute(id, t.Muted); err != nil {
		return err
	}
	if t.Bypassed {
		return e.SetTrackBypass(id, true)
	}
	return nil
}

func (e *Engine) applyProcessor(trackID event.ObjectID, pc config.Processor) error {
	id, err := e.CreateProcessor(pc.UID, pc.Name)
	if err != nil {
		return err
	}
	p, _ := e.Processor(id)

	// Settings go in before the processor joins the track so the first
	// rendered block already uses them.
	for name, v := range pc.Parameters {
		if err := e.SetParameterByName(id, name, v); err != nil {
			return err
		}
	}
	if len(pc.Properties) > 0 {
		props, ok := p.(processor.Properties)
		if !ok {
			return fmt.Errorf("%w: %s has no properties", ErrNotFound, pc.UID)
		}
		for name, v := range pc.Properties {
			pid, _, ok := props.Property(name)
			if !ok {
				return fmt.Errorf("property %q: %w", name, ErrNotFound)
			}
			if err := e.SetStringProperty(id, pid, v); err != nil {
				return err
			}
		}
	}
	if pc.Bypassed {
		if err := e.SetProcessorBypass(id, true); err != nil {
			return err
		}
	}
	return e.AddProcessorToTrack(id, trackID, nil)
}

// Snapshot describes the current topology as a host config. Processors
// that were not created from a plugin uid are left out.
func (e *Engine) Snapshot() *config.Host {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos := e.position.load()
	cfg := e.cfg
	h := &config.Host{
		Audio: config.AudioSpec{
			SampleRate:     cfg.SampleRate,
			BlockSize:      cfg.BlockSize,
			Cores:          cfg.Cores,
			InputChannels:  cfg.InputChannels,
			OutputChannels: cfg.OutputChannels,
		},
		Transport: config.Transport{
			Tempo: pos.Tempo,
			TimeSignature: &config.TimeSignature{
				Numerator:   pos.TimeSignature.Numerator,
				Denominator: pos.TimeSignature.Denominator,
			},
			PlayingMode: pos.PlayingMode.String(),
			SyncMode:    pos.SyncMode.String(),
		},
		Tracks: []config.Track{},
	}

	for _, t := range e.ctl.tracks {
		tc := config.Track{
			Name:       t.Name(),
			Muted:      t.Muted(),
			Bypassed:   t.Bypassed(),
			Parameters: parameterValues(t),
		}
		if t.Buses() > 1 {
			tc.InputBuses = t.InputChannels() / 2
			tc.OutputBuses = t.OutputChannels() / 2
		} else {
			tc.Channels = t.InputChannels()
		}
		for _, p := range t.Processors() {
			uid, ok := e.uids[p.ID()]
			if !ok {
				e.log.WithField("processor", p.Name()).Warn("processor without plugin uid left out of snapshot")
				continue
			}
			pc := config.Processor{
				UID:        uid,
				Name:       p.Name(),
				Bypassed:   p.Bypassed() && !t.Bypassed(),
				Parameters: parameterValues(p),
			}
			if props, ok := p.(processor.Properties); ok {
				pc.Properties = make(map[string]string)
				for _, name := range props.PropertyNames() {
					if _, v, ok := props.Property(name); ok {
						pc.Properties[name] = v
					}
				}
			}
			tc.Processors = append(tc.Processors, pc)
		}
		for _, c := range e.ctl.inputs {
			if c.Track == t.ID() {
				tc.Inputs = append(tc.Inputs, config.Connection{EngineChannel: c.EngineChannel, TrackChannel: c.TrackChannel})
			}
		}
		for _, c := range e.ctl.outputs {
			if c.Track == t.ID() {
				tc.Outputs = append(tc.Outputs, config.Connection{EngineChannel: c.EngineChannel, TrackChannel: c.TrackChannel})
			}
		}
		h.Tracks = append(h.Tracks, tc)
	}
	return h
}

func parameterValues(p processor.Processor) map[string]float32 {
	values := make(map[string]float32)
	for _, prm := range p.Parameters() {
		if prm.Automatable {
			values[prm.Name] = prm.Domain()
		}
	}
	if len(values) == 0 {
		return nil
	}
	return values
}

// Clear removes every processor and track.
func (e *Engine) Clear() error {
	var errs []error
	for _, t := range e.Tracks() {
		for _, proc := range t.Processors {
			if err := e.RemoveProcessorFromTrack(proc, t.ID); err != nil {
				errs = append(errs, err)
			}
		}
		if err := e.DeleteTrack(t.ID); err != nil {
			errs = append(errs, err)
		}
	}
	for _, p := range e.Processors() {
		if err := e.DeleteProcessor(p.ID); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	e.log.WithFields(logrus.Fields{"tracks": 0, "processors": e.processors.Len()}).Debug("engine cleared")
	return nil
}
