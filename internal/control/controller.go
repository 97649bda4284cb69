package control

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Controller maps a PID signal onto up to two relay stages.
// Step and ForceOff are called from the control task; SetPolicy may be
// called concurrently by the config watcher.
type Controller struct {
	mu         sync.Mutex
	policy     Policy
	pid        *pidLoop
	on         [2]bool
	lastToggle [2]time.Time
}

// New creates a controller with both stages off.
func New(policy Policy) (*Controller, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &Controller{
		policy: policy,
		pid:    newPIDLoop(policy.PID),
	}, nil
}

// SetPolicy swaps in new thresholds, timers and gains. Stage state, dwell
// timers and PID memory carry over.
func (c *Controller) SetPolicy(p Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.policy = p
	c.pid.setGains(p.PID)
	c.mu.Unlock()
	return nil
}

// Policy returns the active policy.
func (c *Controller) Policy() Policy {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.policy
}

// Step runs one control tick.
func (c *Controller) Step(in Input) Output {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !in.Running {
		c.pid.reset()
		trans := c.forceOff(in.Time)
		return c.output(StageOff, 0, nil, trans)
	}

	temp := c.policy.FallbackTempC
	var fault error
	switch {
	case in.NoHistory:
	case in.TempValid:
		temp = in.TempC
	default:
		fault = ErrNoTemperature
	}

	var out float64
	requested := StageOff
	if fault == nil {
		out = c.pid.update(in.TargetC, temp, in.Time)
		if math.IsNaN(out) || math.IsInf(out, 0) {
			fault = fmt.Errorf("%w: target %v actual %v", ErrBadOutput, in.TargetC, temp)
			c.pid.reset()
			out = 0
		} else {
			requested = c.request(out)
		}
	}

	trans := c.apply(requested, in.Time)
	return c.output(requested, out, fault, trans)
}

// ForceOff turns every stage off immediately, ignoring dwell timers, and
// clears PID memory. Used after an actuator failure and on shutdown.
func (c *Controller) ForceOff(now time.Time) []Transition {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pid.reset()
	return c.forceOff(now)
}

// LastToggle returns when each stage last changed. Zero means never.
func (c *Controller) LastToggle() map[int]time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return map[int]time.Time{
		Stage1: c.lastToggle[0],
		Stage2: c.lastToggle[1],
	}
}

// PIDTerms returns the P, I and D contributions of the last update.
func (c *Controller) PIDTerms() (p, i, d float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pid.terms()
}

// request maps the PID output to a stage. The thresholds used depend on the
// current stage so a firing stage holds until output drops below its off
// threshold.
func (c *Controller) request(out float64) int {
	p := c.policy
	s1, s2 := c.on[0], c.on[1]

	if p.Stages == 1 {
		if out >= p.Stage1On || (s1 && out >= p.Stage1Off) {
			return Stage1
		}
		return StageOff
	}

	switch {
	case s2:
		if out >= p.Stage2Off {
			return Stage2
		}
		if out >= p.Stage1Off {
			return Stage1
		}
	case s1:
		if out >= p.Stage2On {
			return Stage2
		}
		if out >= p.Stage1Off {
			return Stage1
		}
	default:
		if out >= p.Stage2On {
			return Stage2
		}
		if out >= p.Stage1On {
			return Stage1
		}
	}
	return StageOff
}

// apply moves the relays toward the requested stage as far as dwell timers
// and sequencing allow. Stage 2 drops before stage 1, stage 1 lights before
// stage 2, and stage 2 waits until stage 1 has been lit for its full dwell.
func (c *Controller) apply(requested int, now time.Time) []Transition {
	want1 := requested >= Stage1
	want2 := requested >= Stage2 && c.policy.Stages == 2

	var trans []Transition
	if !want2 && c.on[1] && c.canToggle(Stage2, now) {
		trans = append(trans, c.toggle(Stage2, false, now, false))
	}
	if want1 && !c.on[0] && c.canToggle(Stage1, now) {
		trans = append(trans, c.toggle(Stage1, true, now, false))
	}
	if !want1 && c.on[0] && !c.on[1] && c.canToggle(Stage1, now) {
		trans = append(trans, c.toggle(Stage1, false, now, false))
	}
	if want2 && !c.on[1] && c.on[0] && c.canToggle(Stage1, now) && c.canToggle(Stage2, now) {
		trans = append(trans, c.toggle(Stage2, true, now, false))
	}
	return trans
}

func (c *Controller) forceOff(now time.Time) []Transition {
	var trans []Transition
	if c.on[1] {
		trans = append(trans, c.toggle(Stage2, false, now, true))
	}
	if c.on[0] {
		trans = append(trans, c.toggle(Stage1, false, now, true))
	}
	return trans
}

// canToggle reports whether the stage's dwell time has elapsed. A stage
// that has never toggled may always toggle.
func (c *Controller) canToggle(stage int, now time.Time) bool {
	last := c.lastToggle[stage-1]
	if last.IsZero() {
		return true
	}
	return now.Sub(last) >= c.policy.Cooldown(stage)
}

func (c *Controller) toggle(stage int, on bool, now time.Time, forced bool) Transition {
	c.on[stage-1] = on
	c.lastToggle[stage-1] = now
	return Transition{Stage: stage, On: on, Time: now, Forced: forced}
}

func (c *Controller) output(requested int, out float64, fault error, trans []Transition) Output {
	return Output{
		Stage1:      c.on[0],
		Stage2:      c.on[1],
		Requested:   requested,
		PIDOutput:   out,
		Fault:       fault,
		Transitions: trans,
	}
}
