package processor

import "github.com/shaban/rthost/event"

// ParameterValue is one entry of a processor state.
type ParameterValue struct {
	ID    event.ObjectID `json:"id"`
	Value float32        `json:"value"`
}

// State is an opaque snapshot of a processor: normalized parameter values in
// registration order plus the bypass flag.
type State struct {
	Bypassed   bool             `json:"bypassed"`
	Parameters []ParameterValue `json:"parameters,omitempty"`
}

// Value returns the stored value for parameter id.
func (s State) Value(id event.ObjectID) (float32, bool) {
	for _, p := range s.Parameters {
		if p.ID == id {
			return p.Value, true
		}
	}
	return 0, false
}
