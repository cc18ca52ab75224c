package midiconv

import (
	"math"
	"time"

	"gitlab.com/gomidi/midi/v2"
)

// Realtime status bytes.
const (
	timingClock = 0xF8
	start       = 0xFA
	cont        = 0xFB
	stop        = 0xFC
)

// PulsesPerQuarter is the MIDI clock resolution.
const PulsesPerQuarter = 24

// ClockAction tells the caller what a realtime message changed.
type ClockAction int

const (
	ClockNone ClockAction = iota
	ClockTempo
	ClockStart
	ClockContinue
	ClockStop
)

// ClockUpdate is the result of feeding one message to a ClockFollower.
type ClockUpdate struct {
	Action ClockAction
	Tempo  float64
}

// ClockFollower estimates tempo from MIDI timing clock pulses. It reports a
// new tempo at most once per quarter note and only when it moved by more than
// Threshold BPM. Not safe for concurrent use.
type ClockFollower struct {
	Threshold float64

	last      time.Duration
	haveLast  bool
	intervals [PulsesPerQuarter]time.Duration
	count     int
	pulses    int
	tempo     float64
}

// NewClockFollower creates a follower reporting changes above 0.05 BPM.
func NewClockFollower() *ClockFollower {
	return &ClockFollower{Threshold: 0.05}
}

// Tempo returns the last reported tempo, or zero before the first estimate.
func (c *ClockFollower) Tempo() float64 { return c.tempo }

// Reset forgets the pulse history.
func (c *ClockFollower) Reset() {
	c.haveLast = false
	c.count = 0
	c.pulses = 0
}

// Handle processes a realtime message received at time at.
func (c *ClockFollower) Handle(msg midi.Message, at time.Duration) ClockUpdate {
	if len(msg) != 1 {
		return ClockUpdate{}
	}
	switch msg[0] {
	case start:
		c.Reset()
		return ClockUpdate{Action: ClockStart}
	case cont:
		return ClockUpdate{Action: ClockContinue}
	case stop:
		return ClockUpdate{Action: ClockStop}
	case timingClock:
		return c.pulse(at)
	}
	return ClockUpdate{}
}

func (c *ClockFollower) pulse(at time.Duration) ClockUpdate {
	if !c.haveLast {
		c.last, c.haveLast = at, true
		return ClockUpdate{}
	}
	interval := at - c.last
	c.last = at
	if interval <= 0 {
		return ClockUpdate{}
	}
	c.intervals[c.count%PulsesPerQuarter] = interval
	c.count++
	c.pulses++
	if c.count < PulsesPerQuarter || c.pulses < PulsesPerQuarter {
		return ClockUpdate{}
	}
	c.pulses = 0

	var sum time.Duration
	for _, d := range c.intervals {
		sum += d
	}
	bpm := 60 / sum.Seconds()
	if math.Abs(bpm-c.tempo) <= c.Threshold {
		return ClockUpdate{}
	}
	c.tempo = bpm
	return ClockUpdate{Action: ClockTempo, Tempo: bpm}
}
