// Package dsp contains the small signal helpers shared by tracks and the
// built-in processors.
package dsp

import (
	"math"
	"time"
)

// DBToLinear converts decibels to a linear amplitude factor.
func DBToLinear(db float64) float64 {
	return math.Pow(10, db/20)
}

// LinearToDB converts a linear amplitude factor to decibels. Zero maps to -inf.
func LinearToDB(v float64) float64 {
	return 20 * math.Log10(v)
}

const stationaryThreshold = 1e-6

// Smoother is a one-pole lag used to remove zipper noise from parameter changes.
// Next must be called once per sample.
type Smoother struct {
	current float32
	target  float32
	coeff   float32
}

// SetLagTime sets the time constant of the lag at the given sample rate.
func (s *Smoother) SetLagTime(lag time.Duration, sampleRate float64) {
	samples := lag.Seconds() * sampleRate
	if samples <= 0 {
		s.coeff = 0
		return
	}
	s.coeff = float32(math.Exp(-1 / samples))
}

// Set moves the target; the output approaches it over the lag time.
func (s *Smoother) Set(target float32) {
	s.target = target
}

// SetDirect jumps to v without smoothing.
func (s *Smoother) SetDirect(v float32) {
	s.target = v
	s.current = v
}

// Next advances one sample and returns the smoothed value.
func (s *Smoother) Next() float32 {
	if s.current == s.target {
		return s.current
	}
	s.current = s.target + (s.current-s.target)*s.coeff
	if d := s.current - s.target; d < stationaryThreshold && d > -stationaryThreshold {
		s.current = s.target
	}
	return s.current
}

// Value returns the current smoothed value without advancing.
func (s *Smoother) Value() float32 { return s.current }

// Target returns the value being approached.
func (s *Smoother) Target() float32 { return s.target }

// Stationary reports whether the output has reached the target.
func (s *Smoother) Stationary() bool { return s.current == s.target }
