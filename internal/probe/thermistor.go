package probe

import (
	"fmt"
	"time"

	"github.com/sweeney/burner-controller/internal/calibration"
)

// VoltageReader reads the voltage on an ADC input.
type VoltageReader interface {
	Voltage(channel int) (float64, error)
}

// Divider describes the thermistor voltage divider.
// The thermistor sits on the low side: Vout = Vsupply·R/(Rfixed+R).
type Divider struct {
	FixedOhms   float64
	SupplyVolts float64
}

// DefaultDivider is a 10kΩ fixed resistor on a 3.3V rail.
var DefaultDivider = Divider{FixedOhms: 10000, SupplyVolts: 3.3}

// Thermistor samples NTC thermistor probes through an ADC.
type Thermistor struct {
	adc       VoltageReader
	divider   Divider
	curve     calibration.Coefficients
	primary   int
	secondary int // negative disables
	now       func() time.Time
}

// NewThermistor creates a thermistor sampler. A negative secondary channel
// disables the second probe.
func NewThermistor(adc VoltageReader, divider Divider, curve calibration.Coefficients, primary, secondary int) *Thermistor {
	return &Thermistor{
		adc:       adc,
		divider:   divider,
		curve:     curve,
		primary:   primary,
		secondary: secondary,
		now:       time.Now,
	}
}

// Sample reads every configured channel. Any ADC error invalidates the
// whole reading.
func (t *Thermistor) Sample() (Reading, error) {
	r := Reading{Time: t.now()}

	pv, err := t.adc.Voltage(t.primary)
	if err != nil {
		return r, fmt.Errorf("read adc channel %d: %w", t.primary, err)
	}

	var sv float64
	if t.secondary >= 0 {
		sv, err = t.adc.Voltage(t.secondary)
		if err != nil {
			return r, fmt.Errorf("read adc channel %d: %w", t.secondary, err)
		}
	}

	r.Primary = t.Convert(pv)
	if t.secondary >= 0 {
		r.Secondary = t.Convert(sv)
	}
	return r, nil
}

// Convert turns a divider voltage into a channel. Voltages at or outside
// the rails, and any domain error on the curve, yield a channel without
// temperature or resistance.
func (t *Thermistor) Convert(volts float64) Channel {
	ch := Channel{Voltage: ptr(volts)}

	if volts <= 0 || volts >= t.divider.SupplyVolts {
		return ch
	}

	ohms := t.divider.FixedOhms * (volts / (t.divider.SupplyVolts - volts))
	c, err := t.curve.Celsius(ohms)
	if err != nil {
		return ch
	}

	ch.Resistance = ptr(ohms)
	ch.TempC = ptr(c)
	return ch
}
