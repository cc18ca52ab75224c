package processor

import (
	"sync/atomic"

	"github.com/shaban/rthost/buffer"
)

// BypassManager crossfades between processed and dry signal over one block
// whenever the bypass state flips. Set may be called from any goroutine;
// Begin and Crossfade belong to the audio goroutine.
type BypassManager struct {
	requested atomic.Bool
	active    bool
	ramping   bool
}

// Set requests a new bypass state.
func (m *BypassManager) Set(bypassed bool) { m.requested.Store(bypassed) }

// Bypassed returns the requested state.
func (m *BypassManager) Bypassed() bool { return m.requested.Load() }

// Begin latches the requested state for the current block and reports whether
// the processed path has to run.
func (m *BypassManager) Begin() bool {
	req := m.requested.Load()
	m.ramping = req != m.active
	m.active = req
	return !m.active || m.ramping
}

// Ramping reports whether the current block crossfades.
func (m *BypassManager) Ramping() bool { return m.ramping }

// Crossfade blends the dry input into the processed output during a
// transition block. It does nothing outside transitions.
func (m *BypassManager) Crossfade(dry, out buffer.Buffer) {
	if !m.ramping {
		return
	}
	if m.active {
		out.Ramp(1, 0)
		out.AddWithRamp(dry, 0, 1)
	} else {
		out.Ramp(0, 1)
		out.AddWithRamp(dry, 1, 0)
	}
}
