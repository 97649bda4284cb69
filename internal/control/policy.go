package control

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidPolicy is returned by Policy.Validate.
var ErrInvalidPolicy = errors.New("control: invalid policy")

// Gains are the PID tuning constants.
type Gains struct {
	Kp float64 `toml:"kp"`
	Ki float64 `toml:"ki"`
	Kd float64 `toml:"kd"`
}

// Policy holds the tunable thresholds and timers. Thresholds are PID output
// percentages in [0,100].
type Policy struct {
	Stages int `toml:"stages"` // 1 for on/off burners, 2 for staged

	Stage1On  float64 `toml:"stage1_on"`
	Stage1Off float64 `toml:"stage1_off"`
	Stage2On  float64 `toml:"stage2_on"`
	Stage2Off float64 `toml:"stage2_off"`

	Stage1Cooldown time.Duration `toml:"stage1_cooldown"`
	Stage2Cooldown time.Duration `toml:"stage2_cooldown"`

	PID Gains `toml:"pid"`

	// FallbackTempC stands in for the primary probe until the first reading
	// is recorded.
	FallbackTempC float64 `toml:"fallback_temp_c"`
}

// DefaultPolicy matches the two-stage 250k BTU burner.
func DefaultPolicy() Policy {
	return Policy{
		Stages:         2,
		Stage1On:       35,
		Stage1Off:      25,
		Stage2On:       75,
		Stage2Off:      65,
		Stage1Cooldown: 3 * time.Second,
		Stage2Cooldown: 3 * time.Second,
		PID:            Gains{Kp: 5, Ki: 0.05, Kd: 20},
		FallbackTempC:  21.1,
	}
}

// SingleStagePolicy is for burners with one on/off valve.
func SingleStagePolicy() Policy {
	p := DefaultPolicy()
	p.Stages = 1
	p.Stage1On = 50
	p.Stage1Off = 40
	p.Stage2On = 0
	p.Stage2Off = 0
	p.Stage2Cooldown = 0
	return p
}

// Cooldown returns the dwell time for the given stage.
func (p Policy) Cooldown(stage int) time.Duration {
	if stage == Stage2 {
		return p.Stage2Cooldown
	}
	return p.Stage1Cooldown
}

// Validate checks that every band has off below on and that the bands are
// ordered and in range.
func (p Policy) Validate() error {
	if p.Stages != 1 && p.Stages != 2 {
		return fmt.Errorf("%w: stages must be 1 or 2, got %d", ErrInvalidPolicy, p.Stages)
	}
	if err := checkBand("stage1", p.Stage1Off, p.Stage1On); err != nil {
		return err
	}
	if p.Stage1Cooldown < 0 {
		return fmt.Errorf("%w: negative stage1 cooldown", ErrInvalidPolicy)
	}
	if p.Stages == 2 {
		if err := checkBand("stage2", p.Stage2Off, p.Stage2On); err != nil {
			return err
		}
		if p.Stage1On > p.Stage2On || p.Stage1Off > p.Stage2Off {
			return fmt.Errorf("%w: stage1 band must sit below stage2 band", ErrInvalidPolicy)
		}
		if p.Stage2Cooldown < 0 {
			return fmt.Errorf("%w: negative stage2 cooldown", ErrInvalidPolicy)
		}
	}
	for _, g := range []float64{p.PID.Kp, p.PID.Ki, p.PID.Kd} {
		if g < 0 || math.IsNaN(g) || math.IsInf(g, 0) {
			return fmt.Errorf("%w: pid gains must be finite and non-negative", ErrInvalidPolicy)
		}
	}
	if math.IsNaN(p.FallbackTempC) || math.IsInf(p.FallbackTempC, 0) {
		return fmt.Errorf("%w: fallback temperature must be finite", ErrInvalidPolicy)
	}
	return nil
}

func checkBand(name string, off, on float64) error {
	if off < 0 || on > OutputMax || math.IsNaN(off) || math.IsNaN(on) {
		return fmt.Errorf("%w: %s thresholds must be within [0,%v]", ErrInvalidPolicy, name, OutputMax)
	}
	if off >= on {
		return fmt.Errorf("%w: %s off threshold %v must be below on threshold %v", ErrInvalidPolicy, name, off, on)
	}
	return nil
}
