//go:build headless

package frontend

import "github.com/shaban/rthost"

// Oto falls back to the wall clock paced Dummy in headless builds.
type Oto struct {
	*Dummy
}

// NewOto creates a Dummy in place of the audio device.
func NewOto(e *rthost.Engine, opts Options) *Oto {
	return &Oto{Dummy: NewDummy(e, opts)}
}
