// Package engine runs the acquisition and control tasks and is the single
// entry point the HTTP and MQTT layers use to read and steer the burner.
//
// Locking: the history store and the status tracker each guard themselves.
// The engine never holds one while taking the other, and never holds either
// across a probe read or a relay write.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sweeney/burner-controller/internal/control"
	"github.com/sweeney/burner-controller/internal/gpio"
	"github.com/sweeney/burner-controller/internal/history"
	"github.com/sweeney/burner-controller/internal/probe"
	"github.com/sweeney/burner-controller/internal/status"
)

// Defaults.
const (
	DefaultReadTimeout  = 750 * time.Millisecond
	DefaultSummaryEvery = 10 * time.Second
)

var (
	// ErrReadTimeout means the probe did not answer within ReadTimeout.
	ErrReadTimeout = errors.New("engine: probe read timed out")
	// ErrReadInFlight means the previous read has not returned yet.
	ErrReadInFlight = errors.New("engine: previous probe read still in flight")
	// ErrStagesChanged means a new policy asked for a different number of
	// stages than the relays were opened with.
	ErrStagesChanged = errors.New("engine: stage count cannot change while running")
)

// Engine wires the sampler, store, controller and relays together.
type Engine struct {
	sampler    probe.Sampler
	store      *history.Store
	tracker    *status.Tracker
	controller *control.Controller
	relays     gpio.Relays

	// ReadTimeout bounds each probe read.
	ReadTimeout time.Duration
	// SummaryEvery is how often the PID state is logged while running.
	SummaryEvery time.Duration

	now         func() time.Time
	reading     chan struct{} // holds a token while a read is in flight
	lastSummary time.Time
	lastFault   string // control task only
}

// New creates an engine. Nothing runs until RunAcquisition and RunControl
// are started.
func New(sampler probe.Sampler, store *history.Store, tracker *status.Tracker, controller *control.Controller, relays gpio.Relays) *Engine {
	return &Engine{
		sampler:      sampler,
		store:        store,
		tracker:      tracker,
		controller:   controller,
		relays:       relays,
		ReadTimeout:  DefaultReadTimeout,
		SummaryEvery: DefaultSummaryEvery,
		now:          time.Now,
		reading:      make(chan struct{}, 1),
	}
}

// RunAcquisition samples the probes on every tick until ctx is cancelled.
func (e *Engine) RunAcquisition(ctx context.Context, tick <-chan time.Time) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			if err := e.Acquire(); err != nil {
				slog.Warn("probe: read failed", "err", err)
			}
		}
	}
}

// RunControl runs one control step on every tick until ctx is cancelled.
func (e *Engine) RunControl(ctx context.Context, tick <-chan time.Time) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			e.Step(e.now())
		}
	}
}

type sample struct {
	reading probe.Reading
	err     error
}

// Acquire takes one reading and records it. A failed or timed out read is
// recorded as a reading with no valid channels and marks the probe
// disconnected. At most one read is in flight; a read that outlives its
// timeout keeps the slot until it returns.
func (e *Engine) Acquire() error {
	select {
	case e.reading <- struct{}{}:
	default:
		e.recordFailure()
		return ErrReadInFlight
	}

	done := make(chan sample, 1)
	go func() {
		r, err := e.sampler.Sample()
		<-e.reading
		done <- sample{reading: r, err: err}
	}()

	timer := time.NewTimer(e.ReadTimeout)
	defer timer.Stop()

	var s sample
	select {
	case s = <-done:
	case <-timer.C:
		s.err = ErrReadTimeout
	}

	if s.err != nil {
		e.recordFailure()
		return fmt.Errorf("sample probes: %w", s.err)
	}

	e.store.Record(s.reading)
	// An open thermocouple still answers on the bus.
	e.tracker.SetConnected(!s.reading.Primary.Faults.OpenCircuit)
	return nil
}

func (e *Engine) recordFailure() {
	e.store.Record(probe.Reading{Time: e.now()})
	e.tracker.SetConnected(false)
}

// Step runs one control tick: copy inputs out, compute, drive the relays,
// then publish the result to shared state.
func (e *Engine) Step(now time.Time) control.Output {
	inputs := e.tracker.ControlInputs()
	in := control.Input{
		Time:    now,
		Running: inputs.Running,
		TargetC: inputs.TargetC,
	}
	if latest, ok := e.store.Latest(); ok {
		in.TempC, in.TempValid = latest.PrimaryTemp()
	} else {
		in.NoHistory = true
	}

	out := e.controller.Step(in)

	if err := e.relays.Set(out.Stage1, out.Stage2); err != nil {
		slog.Error("relay: write failed, forcing off", "err", err)
		out.Transitions = append(out.Transitions, e.controller.ForceOff(now)...)
		if offErr := e.relays.Off(); offErr != nil {
			slog.Error("relay: off failed", "err", offErr)
		}
		out.Stage1, out.Stage2 = false, false
		out.Requested = control.StageOff
		out.Fault = fmt.Errorf("write relays: %w", err)
	}

	e.publish(out, now)

	for _, t := range out.Transitions {
		slog.Info("relay: stage changed", "stage", t.Stage, "on", t.On, "forced", t.Forced)
	}
	e.logFault(out.Fault)
	if in.Running && now.Sub(e.lastSummary) >= e.SummaryEvery {
		e.lastSummary = now
		p, i, d := e.controller.PIDTerms()
		slog.Info("control: pid",
			"target_c", in.TargetC, "temp_c", in.TempC, "valid", in.TempValid,
			"output", out.PIDOutput, "p", p, "i", i, "d", d,
			"stage1", out.Stage1, "stage2", out.Stage2)
	}
	return out
}

// logFault logs when a control fault starts, changes or clears, so a
// persistent fault shows up once rather than on every tick.
func (e *Engine) logFault(fault error) {
	msg := ""
	if fault != nil {
		msg = fault.Error()
	}
	if msg == e.lastFault {
		return
	}
	if fault != nil {
		slog.Warn("control: fault", "err", fault)
	} else {
		slog.Info("control: fault cleared", "was", e.lastFault)
	}
	e.lastFault = msg
}

func (e *Engine) publish(out control.Output, now time.Time) {
	a := status.Actuation{
		Time:           now,
		Stage1On:       out.Stage1,
		Stage2On:       out.Stage2,
		RequestedStage: out.Requested,
		PIDOutput:      out.PIDOutput,
		LastToggle:     e.controller.LastToggle(),
	}
	if out.Fault != nil {
		a.Fault = out.Fault.Error()
	}
	e.tracker.ApplyControl(a)
}

// Shutdown forces every stage off and drives the relays low. Call it after
// both tasks have returned.
func (e *Engine) Shutdown(now time.Time) error {
	trans := e.controller.ForceOff(now)
	for _, t := range trans {
		slog.Info("relay: stage changed", "stage", t.Stage, "on", t.On, "forced", t.Forced)
	}
	err := e.relays.Off()
	e.publish(control.Output{}, now)
	if err != nil {
		return fmt.Errorf("relays off: %w", err)
	}
	return nil
}

// SetPolicy applies a new control policy. The stage count is fixed by the
// relay wiring at startup, so a policy that changes it is rejected.
func (e *Engine) SetPolicy(p control.Policy) error {
	var err error
	if cur := e.controller.Policy().Stages; p.Stages != cur {
		err = fmt.Errorf("%w: wired for %d, got %d", ErrStagesChanged, cur, p.Stages)
	} else {
		err = e.controller.SetPolicy(p)
	}
	if err != nil {
		slog.Warn("control: policy rejected", "err", err)
		return err
	}
	slog.Info("control: policy applied", "kp", p.PID.Kp, "ki", p.PID.Ki, "kd", p.PID.Kd)
	return nil
}

// LatestReading returns the newest recorded reading.
func (e *Engine) LatestReading() (probe.Reading, bool) {
	return e.store.Latest()
}

// History returns the merged recent and decimated series, resampled to at
// most maxPoints entries when maxPoints > 0.
func (e *Engine) History(maxPoints int) []history.Point {
	return e.store.Query(maxPoints)
}

// Window returns one decimation window by name.
func (e *Engine) Window(name string) ([]history.Point, bool) {
	return e.store.Window(name)
}

// Status returns a snapshot of the control state.
func (e *Engine) Status() status.Snapshot {
	return e.tracker.Snapshot()
}

// SetTargetTemperature sets the target in Celsius.
func (e *Engine) SetTargetTemperature(c float64) error {
	if err := e.tracker.SetTargetTemperature(c); err != nil {
		return err
	}
	slog.Info("control: target set", "target_c", c)
	return nil
}

// ToggleRunning flips the run flag and returns the new value. Clearing it
// turns the burner off on the next control tick regardless of dwell timers.
func (e *Engine) ToggleRunning() bool {
	running := e.tracker.ToggleRunning()
	slog.Info("control: run state toggled", "running", running)
	return running
}
