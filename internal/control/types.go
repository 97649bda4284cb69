// Package control contains the pure burner control logic: a PID loop feeding
// a staged, hysteretic relay state machine with per-stage dwell timers.
// This package has NO hardware, MQTT, or OS dependencies.
// Time is always injectable via time.Time parameters.
package control

import (
	"errors"
	"time"
)

// Stage numbers. Stage 0 means every relay is off.
const (
	StageOff = 0
	Stage1   = 1
	Stage2   = 2
)

var (
	// ErrNoTemperature means the newest reading carried no valid primary temperature.
	ErrNoTemperature = errors.New("control: no valid primary temperature")
	// ErrBadOutput means the PID produced a non-finite control signal.
	ErrBadOutput = errors.New("control: non-finite pid output")
)

// Input is everything one control tick needs. The caller copies these
// values out of shared state before calling Step.
type Input struct {
	Time    time.Time
	Running bool
	TargetC float64

	// TempC is the newest primary temperature, used when TempValid is set.
	TempC     float64
	TempValid bool

	// NoHistory means nothing has been recorded yet; the policy's
	// FallbackTempC is used in place of a reading.
	NoHistory bool
}

// Transition records one relay change made during a tick.
type Transition struct {
	Stage int
	On    bool
	Time  time.Time
	// Forced is set when the change ignored the dwell timer (run flag cleared
	// or ForceOff).
	Forced bool
}

// Output is the result of one tick, written to shared state as a group.
type Output struct {
	Stage1      bool
	Stage2      bool
	Requested   int
	PIDOutput   float64
	Fault       error
	Transitions []Transition
}

// BurnerOn reports whether any stage is firing.
func (o Output) BurnerOn() bool {
	return o.Stage1 || o.Stage2
}
