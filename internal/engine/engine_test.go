package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/lmittmann/tint"

	"github.com/sweeney/burner-controller/internal/control"
	"github.com/sweeney/burner-controller/internal/gpio"
	"github.com/sweeney/burner-controller/internal/history"
	"github.com/sweeney/burner-controller/internal/logbuf"
	"github.com/sweeney/burner-controller/internal/probe"
	"github.com/sweeney/burner-controller/internal/status"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func at(sec int) time.Time {
	return t0.Add(time.Duration(sec) * time.Second)
}

type rig struct {
	engine  *Engine
	sampler *probe.FakeSampler
	relays  *gpio.FakeRelays
	tracker *status.Tracker
	store   *history.Store
}

func newRig(t *testing.T, temps ...float64) *rig {
	t.Helper()
	return newRigWithPolicy(t, control.DefaultPolicy(), temps...)
}

func newRigWithPolicy(t *testing.T, policy control.Policy, temps ...float64) *rig {
	t.Helper()

	store, err := history.New(history.DefaultConfig(), t0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	ctrl, err := control.New(policy)
	if err != nil {
		t.Fatalf("controller: %v", err)
	}
	sampler := probe.NewFakeSampler(temps...)
	sampler.Now = func() time.Time { return t0 }
	relays := gpio.NewFakeRelays()
	tracker := status.NewTracker(t0, status.Config{})

	e := New(sampler, store, tracker, ctrl, relays)
	e.now = func() time.Time { return t0 }
	return &rig{engine: e, sampler: sampler, relays: relays, tracker: tracker, store: store}
}

func TestAcquireRecordsReading(t *testing.T) {
	r := newRig(t, 150)

	if err := r.engine.Acquire(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	latest, ok := r.engine.LatestReading()
	if !ok {
		t.Fatal("expected a reading")
	}
	if temp, ok := latest.PrimaryTemp(); !ok || temp != 150 {
		t.Errorf("expected 150, got %v (valid=%v)", temp, ok)
	}
	if !r.tracker.Snapshot().Connected {
		t.Error("expected connected after a good read")
	}
}

func TestAcquireErrorRecordsInvalidReading(t *testing.T) {
	r := newRig(t, 150)
	r.sampler.SampleError = errors.New("i2c nack")

	err := r.engine.Acquire()
	if err == nil {
		t.Fatal("expected error")
	}

	latest, ok := r.engine.LatestReading()
	if !ok {
		t.Fatal("failed reads are still recorded")
	}
	if _, ok := latest.PrimaryTemp(); ok {
		t.Error("failed read should carry no valid temperature")
	}
	if !latest.Time.Equal(t0) {
		t.Errorf("unexpected time: %v", latest.Time)
	}
	if r.tracker.Snapshot().Connected {
		t.Error("expected disconnected after a failed read")
	}
}

func TestAcquireOpenThermocoupleIsDisconnected(t *testing.T) {
	r := newRig(t, 150)
	r.sampler.Faults = probe.Faults{Fault: true, OpenCircuit: true}

	if err := r.engine.Acquire(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.tracker.Snapshot().Connected {
		t.Error("open circuit should mark the sensor disconnected")
	}

	// Other faults leave the sensor connected.
	r.sampler.Faults = probe.Faults{Fault: true, ShortGND: true}
	r.engine.Acquire()
	if !r.tracker.Snapshot().Connected {
		t.Error("short to GND should not mark the sensor disconnected")
	}
	latest, _ := r.engine.LatestReading()
	if _, ok := latest.PrimaryTemp(); ok {
		t.Error("faulted channel should carry no temperature")
	}
}

func TestAcquireTimeout(t *testing.T) {
	r := newRig(t, 150)
	r.sampler.Delay = 200 * time.Millisecond
	r.engine.ReadTimeout = 20 * time.Millisecond

	start := time.Now()
	err := r.engine.Acquire()
	if !errors.Is(err, ErrReadTimeout) {
		t.Fatalf("expected ErrReadTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Errorf("acquire blocked for %v", elapsed)
	}
	if r.tracker.Snapshot().Connected {
		t.Error("timeout should mark the probe disconnected")
	}

	// The slow read still holds the slot.
	if err := r.engine.Acquire(); !errors.Is(err, ErrReadInFlight) {
		t.Errorf("expected ErrReadInFlight, got %v", err)
	}
	if n := r.store.Len(); n != 2 {
		t.Errorf("expected 2 recorded failures, got %d", n)
	}

	// Once it returns, the next tick may read again.
	time.Sleep(300 * time.Millisecond)
	if err := r.engine.Acquire(); !errors.Is(err, ErrReadTimeout) {
		t.Errorf("expected a fresh read to time out, got %v", err)
	}
}

func TestStepStoppedKeepsRelaysOff(t *testing.T) {
	r := newRig(t, 20)
	r.engine.Acquire()

	out := r.engine.Step(at(0))

	if out.BurnerOn() {
		t.Errorf("stopped burner fired: %+v", out)
	}
	if got := r.relays.Current(); got.Stage1 || got.Stage2 {
		t.Errorf("relays on while stopped: %+v", got)
	}
	if r.relays.WriteCount() != 1 {
		t.Errorf("expected relays asserted once per tick, got %d writes", r.relays.WriteCount())
	}
}

func TestStepStagesUpWhenCold(t *testing.T) {
	r := newRig(t, 20)
	r.engine.Acquire()
	r.engine.ToggleRunning()

	out := r.engine.Step(at(0))
	if !out.Stage1 || out.Stage2 {
		t.Fatalf("tick 0: expected stage 1 only, got %+v", out)
	}
	if out.Requested != control.Stage2 {
		t.Errorf("tick 0: expected stage 2 requested, got %d", out.Requested)
	}
	if got := r.relays.Current(); !got.Stage1 || got.Stage2 {
		t.Errorf("tick 0: relays %+v", got)
	}

	// Stage 2 waits out the stage 1 dwell.
	r.engine.Step(at(1))
	r.engine.Step(at(2))
	if got := r.relays.Current(); got.Stage2 {
		t.Errorf("stage 2 fired before stage 1 dwell elapsed")
	}

	out = r.engine.Step(at(3))
	if !out.Stage1 || !out.Stage2 {
		t.Fatalf("tick 3: expected both stages, got %+v", out)
	}

	snap := r.tracker.Snapshot()
	if !snap.Stage1On || !snap.Stage2On || !snap.BurnerOn {
		t.Errorf("status not updated: %+v", snap)
	}
	if snap.PIDOutput != control.OutputMax {
		t.Errorf("expected saturated output, got %v", snap.PIDOutput)
	}
	if !snap.LastToggle[control.Stage1].Equal(at(0)) || !snap.LastToggle[control.Stage2].Equal(at(3)) {
		t.Errorf("unexpected toggle times: %v", snap.LastToggle)
	}
}

func TestStepTracksBurnTime(t *testing.T) {
	r := newRig(t, 20)
	r.engine.Acquire()
	r.engine.ToggleRunning()

	for sec := 0; sec <= 5; sec++ {
		r.engine.Step(at(sec))
	}
	r.engine.ToggleRunning()
	r.engine.Step(at(8))

	snap := r.engine.Status()
	// Stage 1 from 0s to 8s, stage 2 from 3s to 8s.
	if snap.Stage1Burn != 8*time.Second || snap.Stage2Burn != 5*time.Second {
		t.Errorf("burn: got stage1 %v stage2 %v, want 8s and 5s", snap.Stage1Burn, snap.Stage2Burn)
	}
}

func TestStepUsesFallbackWithoutHistory(t *testing.T) {
	r := newRig(t, 20)
	r.engine.ToggleRunning()

	out := r.engine.Step(at(0))
	if out.Fault != nil {
		t.Errorf("empty history should not fault: %v", out.Fault)
	}
	if !out.Stage1 {
		t.Errorf("expected heat from the fallback temperature, got %+v", out)
	}
}

func TestStepFaultsOnInvalidReading(t *testing.T) {
	r := newRig(t, math.NaN())
	r.engine.Acquire()
	r.engine.ToggleRunning()

	out := r.engine.Step(at(0))
	if !errors.Is(out.Fault, control.ErrNoTemperature) {
		t.Fatalf("expected ErrNoTemperature, got %v", out.Fault)
	}
	if out.BurnerOn() {
		t.Errorf("burner fired without a temperature: %+v", out)
	}
	if snap := r.tracker.Snapshot(); snap.Fault == "" || snap.RequestedStage != control.StageOff {
		t.Errorf("fault not published: %+v", snap)
	}
}

func TestStepRelayFailureForcesOff(t *testing.T) {
	r := newRig(t, 20)
	r.engine.Acquire()
	r.engine.ToggleRunning()
	r.engine.Step(at(0))

	r.relays.SetFailure(errors.New("gpio busy"))
	out := r.engine.Step(at(1))
	if out.Fault == nil {
		t.Fatal("expected a fault")
	}
	if out.BurnerOn() {
		t.Errorf("expected forced off, got %+v", out)
	}
	if len(out.Transitions) != 1 || !out.Transitions[0].Forced || out.Transitions[0].On {
		t.Errorf("expected one forced off transition, got %+v", out.Transitions)
	}
	snap := r.tracker.Snapshot()
	if snap.Stage1On || snap.Fault == "" {
		t.Errorf("status should show off with a fault: %+v", snap)
	}

	// Writes recover; stage 1 stays off for its dwell after the forced off.
	r.relays.SetFailure(nil)
	r.engine.Step(at(2))
	if got := r.relays.Current(); got.Stage1 || got.Stage2 {
		t.Errorf("relays on during dwell: %+v", got)
	}
	if out := r.engine.Step(at(4)); !out.Stage1 {
		t.Errorf("expected stage 1 back after dwell, got %+v", out)
	}
}

func TestStopBypassesDwell(t *testing.T) {
	r := newRig(t, 20)
	r.engine.Acquire()
	r.engine.ToggleRunning()
	r.engine.Step(at(0))

	r.engine.ToggleRunning()
	out := r.engine.Step(at(1))
	if out.BurnerOn() {
		t.Errorf("stop must turn the burner off at once, got %+v", out)
	}
	if got := r.relays.Current(); got.Stage1 || got.Stage2 {
		t.Errorf("relays on after stop: %+v", got)
	}
}

func TestShutdown(t *testing.T) {
	r := newRig(t, 20)
	r.engine.Acquire()
	r.engine.ToggleRunning()
	r.engine.Step(at(0))

	if err := r.engine.Shutdown(at(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := r.relays.Current(); got.Stage1 || got.Stage2 {
		t.Errorf("relays on after shutdown: %+v", got)
	}
	if snap := r.tracker.Snapshot(); snap.BurnerOn {
		t.Errorf("status shows burner on after shutdown: %+v", snap)
	}
}

func TestShutdownRelayError(t *testing.T) {
	r := newRig(t, 20)
	r.relays.SetFailure(errors.New("gpio gone"))

	if err := r.engine.Shutdown(at(0)); err == nil {
		t.Error("expected error")
	}
}

func TestSetTargetTemperature(t *testing.T) {
	r := newRig(t, 20)

	if err := r.engine.SetTargetTemperature(180); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := r.engine.Status().TargetC; got != 180 {
		t.Errorf("expected 180, got %v", got)
	}

	for _, bad := range []float64{math.NaN(), math.Inf(1), 0, -10} {
		if err := r.engine.SetTargetTemperature(bad); !errors.Is(err, status.ErrInvalidTarget) {
			t.Errorf("%v: expected ErrInvalidTarget, got %v", bad, err)
		}
	}
	if got := r.engine.Status().TargetC; got != 180 {
		t.Errorf("rejected targets must not change state, got %v", got)
	}
}

func TestSetPolicy(t *testing.T) {
	r := newRig(t, 20)

	tuned := control.DefaultPolicy()
	tuned.PID.Kp = 8
	if err := r.engine.SetPolicy(tuned); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := r.engine.controller.Policy().PID.Kp; got != 8 {
		t.Errorf("Kp: got %v, want 8", got)
	}

	bad := control.DefaultPolicy()
	bad.Stage1Off = bad.Stage1On + 1
	if err := r.engine.SetPolicy(bad); !errors.Is(err, control.ErrInvalidPolicy) {
		t.Errorf("expected ErrInvalidPolicy, got %v", err)
	}
}

func TestSetPolicyRejectsStageCountChange(t *testing.T) {
	r := newRigWithPolicy(t, control.SingleStagePolicy(), 20)

	if err := r.engine.SetPolicy(control.DefaultPolicy()); !errors.Is(err, ErrStagesChanged) {
		t.Fatalf("expected ErrStagesChanged, got %v", err)
	}
	if got := r.engine.controller.Policy().Stages; got != 1 {
		t.Fatalf("stages: got %d, want 1", got)
	}

	// Cold oil with full PID output must never report a stage 2 that is
	// not wired.
	r.engine.Acquire()
	r.engine.ToggleRunning()
	for sec := 0; sec <= 10; sec++ {
		if out := r.engine.Step(at(sec)); out.Stage2 {
			t.Fatalf("t=%d: stage 2 on with a single-stage burner", sec)
		}
	}
	if snap := r.engine.Status(); snap.Stage2On || !snap.Stage1On {
		t.Errorf("unexpected status: stage1=%v stage2=%v", snap.Stage1On, snap.Stage2On)
	}
	for i, w := range r.relays.Writes {
		if w.Stage2 {
			t.Errorf("write %d drove stage 2", i)
		}
	}
}

func TestHistoryFacade(t *testing.T) {
	r := newRig(t, 20)
	for i := 0; i < 5; i++ {
		sec := i
		r.sampler.Now = func() time.Time { return at(sec) }
		r.engine.Acquire()
	}

	// Five raw readings plus one 30min average flushed at 3s.
	if got := len(r.engine.History(0)); got != 6 {
		t.Errorf("expected 6 points, got %d", got)
	}
	if got := len(r.engine.History(2)); got != 2 {
		t.Errorf("expected 2 points, got %d", got)
	}
	if _, ok := r.engine.Window("5min"); !ok {
		t.Error("expected 5min window")
	}
	if _, ok := r.engine.Window("1day"); ok {
		t.Error("unexpected window")
	}
}

func TestRunLoopsStopOnCancel(t *testing.T) {
	r := newRig(t, 20)
	r.engine.ToggleRunning()

	ctx, cancel := context.WithCancel(context.Background())
	acqTick := make(chan time.Time)
	ctlTick := make(chan time.Time)
	acqDone := make(chan struct{})
	ctlDone := make(chan struct{})

	go func() {
		r.engine.RunAcquisition(ctx, acqTick)
		close(acqDone)
	}()
	go func() {
		r.engine.RunControl(ctx, ctlTick)
		close(ctlDone)
	}()

	acqTick <- t0
	ctlTick <- t0
	acqTick <- t0
	ctlTick <- t0

	cancel()
	for _, done := range []chan struct{}{acqDone, ctlDone} {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("loop did not stop")
		}
	}

	if r.store.Len() < 1 {
		t.Error("expected acquisition to record readings")
	}
	if r.relays.WriteCount() < 1 {
		t.Error("expected control to drive relays")
	}
}

// captureLogs routes the default logger through a line buffer for the
// duration of the test.
func captureLogs(t *testing.T) *logbuf.Handler {
	t.Helper()
	h := logbuf.New(tint.NewHandler(io.Discard, &tint.Options{NoColor: true}), logbuf.DefaultLines)
	prev := slog.Default()
	slog.SetDefault(slog.New(h))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return h
}

func countLines(lines []string, substr string) int {
	n := 0
	for _, l := range lines {
		if strings.Contains(l, substr) {
			n++
		}
	}
	return n
}

func TestStepLogsFaultStartAndClear(t *testing.T) {
	logs := captureLogs(t)
	nan := math.NaN()
	r := newRig(t, 20, nan, nan, nan, 20)
	r.engine.ToggleRunning()

	for sec := 0; sec < 5; sec++ {
		r.engine.Acquire()
		r.engine.Step(at(sec))
	}

	lines := logs.Lines()
	if n := countLines(lines, "WARN control: fault"); n != 1 {
		t.Errorf("expected the fault logged once, got %d in %q", n, lines)
	}
	if n := countLines(lines, "err="+control.ErrNoTemperature.Error()); n != 1 {
		t.Errorf("expected the fault reason logged, got %q", lines)
	}
	if n := countLines(lines, "control: fault cleared"); n != 1 {
		t.Errorf("expected the fault clearing logged once, got %d in %q", n, lines)
	}
}

func TestSetPolicyRejectionIsLogged(t *testing.T) {
	logs := captureLogs(t)
	r := newRigWithPolicy(t, control.SingleStagePolicy(), 20)

	r.engine.SetPolicy(control.DefaultPolicy())

	if n := countLines(logs.Lines(), "WARN control: policy rejected"); n != 1 {
		t.Errorf("expected one rejection line, got %q", logs.Lines())
	}
}
