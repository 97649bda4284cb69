// Package probe reads temperature probes and turns raw hardware signals
// into readings. Two sensor technologies are supported: an ADC-driven
// thermistor on a voltage divider and a MAX31855 digital thermocouple.
package probe

import "time"

// Sampler takes one reading from all configured probes.
// On an I/O failure it returns an invalid Reading together with the error;
// it never reuses previous data.
type Sampler interface {
	Sample() (Reading, error)
}

// Faults are the thermocouple fault flags reported by the converter.
type Faults struct {
	Fault       bool // summary fault bit
	OpenCircuit bool
	ShortGND    bool
	ShortVCC    bool
}

// Any reports whether any fault flag is set.
func (f Faults) Any() bool {
	return f.Fault || f.OpenCircuit || f.ShortGND || f.ShortVCC
}

// Channel is the decoded state of a single probe.
// Nil fields mean the value is unavailable for this tick.
type Channel struct {
	TempC *float64

	// Thermistor signal
	Voltage    *float64
	Resistance *float64

	// Thermocouple signal
	InternalC *float64
	Faults    Faults
}

// Valid reports whether the channel carries a temperature.
func (c Channel) Valid() bool {
	return c.TempC != nil
}

// Reading is one sample of every probe. It is a value type and is never
// modified after creation.
type Reading struct {
	Time      time.Time
	Primary   Channel // oil / pit probe, drives the controller
	Secondary Channel // food probe
}

// PrimaryTemp returns the primary temperature in Celsius if valid.
func (r Reading) PrimaryTemp() (float64, bool) {
	if r.Primary.TempC == nil {
		return 0, false
	}
	return *r.Primary.TempC, true
}

// SecondaryTemp returns the secondary temperature in Celsius if valid.
func (r Reading) SecondaryTemp() (float64, bool) {
	if r.Secondary.TempC == nil {
		return 0, false
	}
	return *r.Secondary.TempC, true
}

func ptr(v float64) *float64 {
	return &v
}
