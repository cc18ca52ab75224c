package processor

import (
	"math"
	"sync/atomic"

	"github.com/shaban/rthost/dsp"
	"github.com/shaban/rthost/event"
)

// ParameterType describes how a normalized value maps to the domain value.
type ParameterType int

const (
	FloatParameter ParameterType = iota
	IntParameter
	BoolParameter
)

func (t ParameterType) String() string {
	switch t {
	case IntParameter:
		return "int"
	case BoolParameter:
		return "bool"
	}
	return "float"
}

// Scale selects the processed representation of a float parameter.
type Scale int

const (
	Linear Scale = iota
	Decibel
)

// Parameter is an automatable value of a processor. The value is stored
// normalized to [0,1] and can be read from any goroutine.
type Parameter struct {
	ID          event.ObjectID
	Name        string
	Label       string
	Unit        string
	Type        ParameterType
	Min         float32
	Max         float32
	Default     float32
	Automatable bool
	Scale       Scale

	normalized atomic.Uint32
}

func newParameter(id event.ObjectID, name, label, unit string, typ ParameterType, def, lo, hi float32) *Parameter {
	p := &Parameter{
		ID:          id,
		Name:        name,
		Label:       label,
		Unit:        unit,
		Type:        typ,
		Min:         lo,
		Max:         hi,
		Default:     def,
		Automatable: true,
	}
	p.SetDomain(def)
	return p
}

// Normalized returns the value in [0,1].
func (p *Parameter) Normalized() float32 {
	return math.Float32frombits(p.normalized.Load())
}

// SetNormalized stores a value in [0,1]; out of range values are clamped.
func (p *Parameter) SetNormalized(v float32) {
	v = min(max(v, 0), 1)
	p.normalized.Store(math.Float32bits(v))
}

// Domain returns the value in the parameter's own range.
func (p *Parameter) Domain() float32 {
	n := p.Normalized()
	switch p.Type {
	case BoolParameter:
		if n >= 0.5 {
			return 1
		}
		return 0
	case IntParameter:
		return float32(math.Round(float64(p.Min + n*(p.Max-p.Min))))
	}
	return p.Min + n*(p.Max-p.Min)
}

// SetDomain stores a value given in the parameter's own range.
func (p *Parameter) SetDomain(v float32) {
	p.SetNormalized(p.ToNormalized(v))
}

// ToNormalized maps a domain value to [0,1] without storing it.
func (p *Parameter) ToNormalized(v float32) float32 {
	if p.Max == p.Min {
		return 0
	}
	return min(max((v-p.Min)/(p.Max-p.Min), 0), 1)
}

// Processed returns the value a DSP routine consumes: linear gain for
// decibel parameters, the domain value otherwise.
func (p *Parameter) Processed() float32 {
	v := p.Domain()
	if p.Scale == Decibel {
		return float32(dsp.DBToLinear(float64(v)))
	}
	return v
}

// Bool returns the value of a bool parameter.
func (p *Parameter) Bool() bool { return p.Domain() != 0 }

// Int returns the value of an int parameter.
func (p *Parameter) Int() int { return int(p.Domain()) }
