// Package event defines the fixed-size control messages that travel through
// the render graph alongside audio, and the lock-free queue that carries them
// across goroutine boundaries.
package event

// ObjectID identifies a processor or a track. Zero is never assigned.
type ObjectID uint32

// NoTarget is used by events that are not addressed to a processor,
// such as transport changes.
const NoTarget ObjectID = 0

// Kind is the variant tag of an Event.
type Kind uint8

const (
	KindNoteOn Kind = iota
	KindNoteOff
	KindNoteAftertouch
	KindAftertouch
	KindPitchBend
	KindModulation
	KindWrappedMidi
	KindParameterChange
	KindStringPropertyChange
	KindDataPropertyChange
	KindSetBypass
	KindTempo
	KindTimeSignature
	KindPlayingMode
	KindSyncMode
	KindProcessorAdded
	KindProcessorRemoved
	KindTrackAdded
	KindTrackRemoved
	KindParameterChangeNotification
	KindClipNotification

	kindCount
)

var kindNames = [kindCount]string{
	KindNoteOn:                      "note_on",
	KindNoteOff:                     "note_off",
	KindNoteAftertouch:              "note_aftertouch",
	KindAftertouch:                  "aftertouch",
	KindPitchBend:                   "pitch_bend",
	KindModulation:                  "modulation",
	KindWrappedMidi:                 "wrapped_midi",
	KindParameterChange:             "parameter_change",
	KindStringPropertyChange:        "string_property_change",
	KindDataPropertyChange:          "data_property_change",
	KindSetBypass:                   "set_bypass",
	KindTempo:                       "tempo",
	KindTimeSignature:               "time_signature",
	KindPlayingMode:                 "playing_mode",
	KindSyncMode:                    "sync_mode",
	KindProcessorAdded:              "processor_added",
	KindProcessorRemoved:            "processor_removed",
	KindTrackAdded:                  "track_added",
	KindTrackRemoved:                "track_removed",
	KindParameterChangeNotification: "parameter_change_notification",
	KindClipNotification:            "clip_notification",
}

func (k Kind) String() string {
	if k >= kindCount {
		return "unknown"
	}
	return kindNames[k]
}

// Kinds returns every defined variant tag in declaration order.
func Kinds() []Kind {
	kinds := make([]Kind, 0, kindCount)
	for k := Kind(0); k < kindCount; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

// Event is an immutable value describing one discrete occurrence at a sample
// offset inside the current block. The payload fields are shared between
// variants; use the typed accessors matching Kind to read them.
//
// Copying an Event never allocates. String and blob payloads reference memory
// owned by the producer, which must not mutate it after sending.
type Event struct {
	kind    Kind
	flag    bool
	channel int16
	note    int16
	offset  int32
	target  ObjectID
	ref     ObjectID
	value   float32
	midi    [4]byte
	text    string
	data    []byte
}

// Kind returns the variant tag.
func (e Event) Kind() Kind { return e.kind }

// Target returns the addressed processor or track.
func (e Event) Target() ObjectID { return e.target }

// Offset returns the sample offset inside the current block.
func (e Event) Offset() int { return int(e.offset) }

// WithTarget returns a copy of e addressed to id.
func (e Event) WithTarget(id ObjectID) Event {
	e.target = id
	return e
}

// WithOffset returns a copy of e at the given sample offset.
func (e Event) WithOffset(offset int) Event {
	e.offset = int32(offset)
	return e
}

// IsKeyboard reports whether e is a note, note expression or raw MIDI event.
// Keyboard events flow through a track's processor chain.
func (e Event) IsKeyboard() bool {
	return e.kind <= KindWrappedMidi
}

// IsParameterChange reports whether e changes a parameter, property or bypass state.
func (e Event) IsParameterChange() bool {
	return e.kind >= KindParameterChange && e.kind <= KindSetBypass
}

// IsTransport reports whether e is a transport change.
func (e Event) IsTransport() bool {
	return e.kind >= KindTempo && e.kind <= KindSyncMode
}

// IsLifecycle reports whether e announces a structural change.
func (e Event) IsLifecycle() bool {
	return e.kind >= KindProcessorAdded && e.kind <= KindTrackRemoved
}

// IsNotification reports whether e only informs the control plane.
func (e Event) IsNotification() bool {
	return e.kind >= KindParameterChangeNotification && e.kind < kindCount
}

// Channel returns the MIDI channel of a keyboard event, or the audio channel
// of a clip notification.
func (e Event) Channel() int { return int(e.channel) }

// Note returns the note number of a note event.
func (e Event) Note() int { return int(e.note) }

// Velocity returns the velocity of a note on/off event, normalized to [0,1].
func (e Event) Velocity() float32 { return e.value }

// Value returns the payload value of aftertouch, pitch bend, modulation and
// parameter change events. Parameter values are normalized to [0,1].
func (e Event) Value() float32 { return e.value }

// Param returns the parameter or property id of a parameter event.
func (e Event) Param() ObjectID { return e.ref }

// Track returns the track id carried by lifecycle events.
func (e Event) Track() ObjectID { return e.ref }

// Text returns the payload of a string property change.
func (e Event) Text() string { return e.text }

// Data returns the payload of a binary property change.
func (e Event) Data() []byte { return e.data }

// Bypassed returns the requested state of a SetBypass event.
func (e Event) Bypassed() bool { return e.flag }

// Notify reports whether a transport change should be announced to the
// control plane when applied.
func (e Event) Notify() bool { return e.flag }

// Tempo returns the BPM of a tempo event.
func (e Event) Tempo() float32 { return e.value }

// TimeSignature returns numerator and denominator of a time signature event.
func (e Event) TimeSignature() (numerator, denominator int) {
	return int(e.channel), int(e.note)
}

// Mode returns the playing or sync mode of a transport event.
func (e Event) Mode() int { return int(e.note) }

// Midi returns the raw bytes of a wrapped MIDI event and its length.
func (e Event) Midi() ([4]byte, int) { return e.midi, int(e.note) }

func keyboard(kind Kind, target ObjectID, offset, channel, note int, value float32) Event {
	return Event{
		kind:    kind,
		target:  target,
		offset:  int32(offset),
		channel: int16(channel),
		note:    int16(note),
		value:   value,
	}
}

// NoteOn creates a note on event with velocity in [0,1].
func NoteOn(target ObjectID, offset, channel, note int, velocity float32) Event {
	return keyboard(KindNoteOn, target, offset, channel, note, velocity)
}

// NoteOff creates a note off event with release velocity in [0,1].
func NoteOff(target ObjectID, offset, channel, note int, velocity float32) Event {
	return keyboard(KindNoteOff, target, offset, channel, note, velocity)
}

// NoteAftertouch creates a polyphonic pressure event.
func NoteAftertouch(target ObjectID, offset, channel, note int, value float32) Event {
	return keyboard(KindNoteAftertouch, target, offset, channel, note, value)
}

// Aftertouch creates a channel pressure event.
func Aftertouch(target ObjectID, offset, channel int, value float32) Event {
	return keyboard(KindAftertouch, target, offset, channel, 0, value)
}

// PitchBend creates a pitch bend event with value in [-1,1].
func PitchBend(target ObjectID, offset, channel int, value float32) Event {
	return keyboard(KindPitchBend, target, offset, channel, 0, value)
}

// Modulation creates a modulation wheel event with value in [0,1].
func Modulation(target ObjectID, offset, channel int, value float32) Event {
	return keyboard(KindModulation, target, offset, channel, 0, value)
}

// WrappedMidi carries up to four raw MIDI bytes that have no structured variant.
func WrappedMidi(target ObjectID, offset int, data []byte) Event {
	e := Event{kind: KindWrappedMidi, target: target, offset: int32(offset)}
	n := copy(e.midi[:], data)
	e.note = int16(n)
	return e
}

// ParameterChange sets parameter param of target to a normalized value.
func ParameterChange(target ObjectID, offset int, param ObjectID, value float32) Event {
	return Event{kind: KindParameterChange, target: target, offset: int32(offset), ref: param, value: value}
}

// StringPropertyChange sets a string property of target.
func StringPropertyChange(target ObjectID, offset int, property ObjectID, value string) Event {
	return Event{kind: KindStringPropertyChange, target: target, offset: int32(offset), ref: property, text: value}
}

// DataPropertyChange sets a binary property of target.
func DataPropertyChange(target ObjectID, offset int, property ObjectID, data []byte) Event {
	return Event{kind: KindDataPropertyChange, target: target, offset: int32(offset), ref: property, data: data}
}

// SetBypass changes the bypass state of target.
func SetBypass(target ObjectID, offset int, bypassed bool) Event {
	return Event{kind: KindSetBypass, target: target, offset: int32(offset), flag: bypassed}
}

// TempoChange announces or requests a new tempo in BPM.
func TempoChange(offset int, bpm float32, notify bool) Event {
	return Event{kind: KindTempo, offset: int32(offset), value: bpm, flag: notify}
}

// TimeSignatureChange announces or requests a new time signature.
func TimeSignatureChange(offset, numerator, denominator int, notify bool) Event {
	return Event{
		kind:    KindTimeSignature,
		offset:  int32(offset),
		channel: int16(numerator),
		note:    int16(denominator),
		flag:    notify,
	}
}

// PlayingModeChange announces or requests a new playing mode.
func PlayingModeChange(offset, mode int, notify bool) Event {
	return Event{kind: KindPlayingMode, offset: int32(offset), note: int16(mode), flag: notify}
}

// SyncModeChange announces or requests a new sync mode.
func SyncModeChange(offset, mode int, notify bool) Event {
	return Event{kind: KindSyncMode, offset: int32(offset), note: int16(mode), flag: notify}
}

// ProcessorAdded announces that processor was inserted into track.
func ProcessorAdded(processor, track ObjectID) Event {
	return Event{kind: KindProcessorAdded, target: processor, ref: track}
}

// ProcessorRemoved announces that processor was taken out of track.
func ProcessorRemoved(processor, track ObjectID) Event {
	return Event{kind: KindProcessorRemoved, target: processor, ref: track}
}

// TrackAdded announces that track joined the graph.
func TrackAdded(track ObjectID) Event {
	return Event{kind: KindTrackAdded, target: track, ref: track}
}

// TrackRemoved announces that track left the graph.
func TrackRemoved(track ObjectID) Event {
	return Event{kind: KindTrackRemoved, target: track, ref: track}
}

// ParameterChangeNotification reports the new normalized value of a parameter.
func ParameterChangeNotification(processor ObjectID, offset int, param ObjectID, value float32) Event {
	return Event{kind: KindParameterChangeNotification, target: processor, offset: int32(offset), ref: param, value: value}
}

// ClipNotification reports that an audio channel of target exceeded full scale.
func ClipNotification(target ObjectID, offset, channel int) Event {
	return Event{kind: KindClipNotification, target: target, offset: int32(offset), channel: int16(channel)}
}
