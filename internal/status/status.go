// Package status provides the thread-safe shared control state for the
// burner controller. It is written by the control task and read by HTTP
// handlers, the websocket stream and MQTT heartbeats.
package status

import (
	"errors"
	"math"
	"sync"
	"time"
)

// DefaultTargetC is 350°F, a typical frying temperature.
const DefaultTargetC = (350.0 - 32.0) * 5.0 / 9.0

// ErrInvalidTarget is returned for a target that is not a finite positive number.
var ErrInvalidTarget = errors.New("status: target temperature must be a finite positive number")

// NetworkInfo contains network state. This is a local copy to avoid
// importing internal/mqtt from status.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	PollMs      int64
	HeartbeatMs int64
	Broker      string
	HTTPPort    string
	Sensor      string
	Stages      int
	PinStage1   int
	PinStage2   int
}

// Inputs are the operator-controlled values the control task reads each tick.
type Inputs struct {
	Running bool
	TargetC float64
}

// Actuation is the result of one control tick, written as a group.
type Actuation struct {
	Stage1On       bool
	Stage2On       bool
	RequestedStage int
	PIDOutput      float64
	Fault          string
	LastToggle     map[int]time.Time
	Time           time.Time // when the tick ran; zero means now
}

// Snapshot is a point-in-time view of the control state.
// It is a value type and safe to use after the lock is released.
type Snapshot struct {
	Running        bool
	TargetC        float64
	Stage1On       bool
	Stage2On       bool
	BurnerOn       bool
	RequestedStage int
	PIDOutput      float64
	Fault          string
	Connected      bool
	LastToggle     map[int]time.Time

	// Accumulated on-time per stage, including the current run of a lit
	// stage up to Now. Stage 1 is lit whenever the burner is, so Stage1Burn
	// is also the total burner time.
	Stage1Burn time.Duration
	Stage2Burn time.Duration

	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable control state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot

	burned  [2]time.Duration // completed runs
	onSince [2]time.Time     // start of the current run; zero when off
}

// NewTracker creates a stopped Tracker at the default target.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			TargetC:    DefaultTargetC,
			LastToggle: map[int]time.Time{},
			StartTime:  startTime,
			Config:     cfg,
		},
	}
}

// ControlInputs copies out what the control task needs for one tick.
func (t *Tracker) ControlInputs() Inputs {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Inputs{Running: t.snap.Running, TargetC: t.snap.TargetC}
}

// ApplyControl writes the outputs of a control tick.
// Called from the control task on every tick.
func (t *Tracker) ApplyControl(a Actuation) {
	toggles := make(map[int]time.Time, len(a.LastToggle))
	for k, v := range a.LastToggle {
		toggles[k] = v
	}

	now := a.Time
	if now.IsZero() {
		now = time.Now()
	}

	t.mu.Lock()
	t.trackBurn(0, t.snap.Stage1On, a.Stage1On, now)
	t.trackBurn(1, t.snap.Stage2On, a.Stage2On, now)
	t.snap.Stage1On = a.Stage1On
	t.snap.Stage2On = a.Stage2On
	t.snap.BurnerOn = a.Stage1On || a.Stage2On
	t.snap.RequestedStage = a.RequestedStage
	t.snap.PIDOutput = a.PIDOutput
	t.snap.Fault = a.Fault
	t.snap.LastToggle = toggles
	t.mu.Unlock()
}

// trackBurn accumulates on-time for one stage across a tick. Caller holds mu.
func (t *Tracker) trackBurn(i int, was, is bool, now time.Time) {
	switch {
	case !was && is:
		t.onSince[i] = now
	case was && !is:
		t.burned[i] += nonNegative(now.Sub(t.onSince[i]))
		t.onSince[i] = time.Time{}
	}
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

// SetTargetTemperature validates and stores a new target in Celsius.
// Nothing changes on error.
func (t *Tracker) SetTargetTemperature(c float64) error {
	if math.IsNaN(c) || math.IsInf(c, 0) || c <= 0 {
		return ErrInvalidTarget
	}
	t.mu.Lock()
	t.snap.TargetC = c
	t.mu.Unlock()
	return nil
}

// ToggleRunning flips the run flag and returns the new value.
func (t *Tracker) ToggleRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Running = !t.snap.Running
	return t.snap.Running
}

// SetRunning sets the run flag.
func (t *Tracker) SetRunning(running bool) {
	t.mu.Lock()
	t.snap.Running = running
	t.mu.Unlock()
}

// SetConnected records whether the last probe read succeeded.
func (t *Tracker) SetConnected(connected bool) {
	t.mu.Lock()
	t.snap.Connected = connected
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the control state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.LastToggle = make(map[int]time.Time, len(t.snap.LastToggle))
	for k, v := range t.snap.LastToggle {
		s.LastToggle[k] = v
	}
	burned, onSince := t.burned, t.onSince
	t.mu.RUnlock()
	s.Now = time.Now()

	for i := range burned {
		if !onSince[i].IsZero() {
			burned[i] += nonNegative(s.Now.Sub(onSince[i]))
		}
	}
	s.Stage1Burn, s.Stage2Burn = burned[0], burned[1]
	return s
}
