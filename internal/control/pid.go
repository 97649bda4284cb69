package control

import (
	"math"
	"time"

	"go.einride.tech/pid"
)

// Output limits of the PID loop, in percent.
const (
	OutputMin = 0.0
	OutputMax = 100.0
)

// defaultSampleInterval is used for the first update and whenever the clock
// fails to advance between ticks.
const defaultSampleInterval = time.Second

// pidLoop wraps a pid.Controller with output limits and integral anti-windup.
type pidLoop struct {
	c      pid.Controller
	primed bool
	last   time.Time
}

func newPIDLoop(g Gains) *pidLoop {
	p := &pidLoop{}
	p.setGains(g)
	return p
}

func (p *pidLoop) setGains(g Gains) {
	p.c.Config = pid.ControllerConfig{
		ProportionalGain: g.Kp,
		IntegralGain:     g.Ki,
		DerivativeGain:   g.Kd,
	}
}

// update advances the loop one sample and returns the clamped output.
func (p *pidLoop) update(target, actual float64, now time.Time) float64 {
	dt := defaultSampleInterval
	if p.primed {
		if d := now.Sub(p.last); d > 0 {
			dt = d
		}
	}

	p.c.Update(pid.ControllerInput{
		ReferenceSignal:  target,
		ActualSignal:     actual,
		SamplingInterval: dt,
	})

	s := &p.c.State
	if !p.primed {
		// No previous error to differentiate against.
		s.ControlErrorDerivative = 0
	}
	if ki := p.c.Config.IntegralGain; ki > 0 {
		s.ControlErrorIntegral = clamp(s.ControlErrorIntegral, OutputMin/ki, OutputMax/ki)
	} else {
		s.ControlErrorIntegral = 0
	}
	s.ControlSignal = p.c.Config.ProportionalGain*s.ControlError +
		p.c.Config.IntegralGain*s.ControlErrorIntegral +
		p.c.Config.DerivativeGain*s.ControlErrorDerivative
	s.ControlSignal = clamp(s.ControlSignal, OutputMin, OutputMax)

	p.primed = true
	p.last = now
	return s.ControlSignal
}

// reset clears integrator and derivative memory.
func (p *pidLoop) reset() {
	p.c.Reset()
	p.primed = false
	p.last = time.Time{}
}

// terms returns the proportional, integral and derivative contributions of
// the last update.
func (p *pidLoop) terms() (float64, float64, float64) {
	s := p.c.State
	cfg := p.c.Config
	return cfg.ProportionalGain * s.ControlError,
		cfg.IntegralGain * s.ControlErrorIntegral,
		cfg.DerivativeGain * s.ControlErrorDerivative
}

// clamp passes NaN through so callers can detect it.
func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
