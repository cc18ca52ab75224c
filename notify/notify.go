// Package notify delivers engine notifications to control-plane subscribers.
// Each category has its own broadcaster and lock, so a slow keyboard listener
// never delays parameter or engine notifications.
package notify

import (
	"github.com/shaban/rthost/event"
	"github.com/shaban/rthost/perf"
	"github.com/shaban/rthost/transport"
)

// Notification is the closed set of messages published by the engine.
type Notification interface {
	notification()
}

// TransportField names the transport property that changed.
type TransportField int

const (
	TempoChanged TransportField = iota
	TimeSignatureChanged
	PlayingModeChanged
	SyncModeChanged
)

func (f TransportField) String() string {
	switch f {
	case TempoChanged:
		return "tempo"
	case TimeSignatureChanged:
		return "time_signature"
	case PlayingModeChanged:
		return "playing_mode"
	case SyncModeChanged:
		return "sync_mode"
	}
	return "unknown"
}

// TransportNotification reports a transport change. Only the field named by
// Field is meaningful.
type TransportNotification struct {
	Field         TransportField
	Tempo         float64
	TimeSignature transport.TimeSignature
	PlayingMode   transport.PlayingMode
	SyncMode      transport.SyncMode
}

// Action distinguishes additions from removals.
type Action int

const (
	Added Action = iota
	Removed
)

func (a Action) String() string {
	if a == Removed {
		return "removed"
	}
	return "added"
}

// TrackNotification reports a track joining or leaving the graph.
type TrackNotification struct {
	Action Action
	Track  event.ObjectID
}

// ProcessorNotification reports a processor entering or leaving a track.
type ProcessorNotification struct {
	Action    Action
	Processor event.ObjectID
	Track     event.ObjectID
}

// ParameterChangeNotification reports an applied parameter value.
type ParameterChangeNotification struct {
	Processor  event.ObjectID
	Parameter  event.ObjectID
	Normalized float32
}

// PropertyChangeNotification reports a string property change.
type PropertyChangeNotification struct {
	Processor event.ObjectID
	Property  event.ObjectID
	Value     string
}

// CpuTimingNotification carries the periodic load report.
type CpuTimingNotification struct {
	Timings []perf.Timings
}

// KeyboardNotification carries a keyboard event emitted by a track.
type KeyboardNotification struct {
	Event event.Event
}

// ClipNotification reports that a track output exceeded full scale.
type ClipNotification struct {
	Track   event.ObjectID
	Channel int
}

func (TransportNotification) notification()       {}
func (TrackNotification) notification()           {}
func (ProcessorNotification) notification()       {}
func (ParameterChangeNotification) notification() {}
func (PropertyChangeNotification) notification()  {}
func (CpuTimingNotification) notification()       {}
func (KeyboardNotification) notification()        {}
func (ClipNotification) notification()            {}

// FromEvent converts an event emitted by the render graph into a
// notification. The second result is false for events that have no
// control-plane meaning.
func FromEvent(ev event.Event) (Notification, bool) {
	switch ev.Kind() {
	case event.KindTempo:
		return TransportNotification{Field: TempoChanged, Tempo: float64(ev.Tempo())}, true
	case event.KindTimeSignature:
		num, den := ev.TimeSignature()
		return TransportNotification{
			Field:         TimeSignatureChanged,
			TimeSignature: transport.TimeSignature{Numerator: num, Denominator: den},
		}, true
	case event.KindPlayingMode:
		return TransportNotification{Field: PlayingModeChanged, PlayingMode: transport.PlayingMode(ev.Mode())}, true
	case event.KindSyncMode:
		return TransportNotification{Field: SyncModeChanged, SyncMode: transport.SyncMode(ev.Mode())}, true
	case event.KindTrackAdded:
		return TrackNotification{Action: Added, Track: ev.Track()}, true
	case event.KindTrackRemoved:
		return TrackNotification{Action: Removed, Track: ev.Track()}, true
	case event.KindProcessorAdded:
		return ProcessorNotification{Action: Added, Processor: ev.Target(), Track: ev.Track()}, true
	case event.KindProcessorRemoved:
		return ProcessorNotification{Action: Removed, Processor: ev.Target(), Track: ev.Track()}, true
	case event.KindParameterChangeNotification:
		return ParameterChangeNotification{Processor: ev.Target(), Parameter: ev.Param(), Normalized: ev.Value()}, true
	case event.KindStringPropertyChange:
		return PropertyChangeNotification{Processor: ev.Target(), Property: ev.Param(), Value: ev.Text()}, true
	case event.KindClipNotification:
		return ClipNotification{Track: ev.Target(), Channel: ev.Channel()}, true
	}
	if ev.IsKeyboard() {
		return KeyboardNotification{Event: ev}, true
	}
	return nil, false
}
