package main

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/sweeney/burner-controller/internal/config"
	"github.com/sweeney/burner-controller/internal/control"
	"github.com/sweeney/burner-controller/internal/engine"
	"github.com/sweeney/burner-controller/internal/gpio"
	"github.com/sweeney/burner-controller/internal/history"
	"github.com/sweeney/burner-controller/internal/mqtt"
	"github.com/sweeney/burner-controller/internal/probe"
	"github.com/sweeney/burner-controller/internal/status"
)

// TestEnvVarNames verifies the env var constants match what pi-helper writes
// to /run/pi-helper.env. If pi-helper changes its var names, this test fails
// and we update the constants, not the other way around.
func TestEnvVarNames(t *testing.T) {
	// These are the canonical names from pi-helper.
	want := map[string]string{
		"NETWORK_TYPE":        envNetworkType,
		"NETWORK_IP":          envNetworkIP,
		"NETWORK_STATUS":      envNetworkStatus,
		"NETWORK_GATEWAY":     envNetworkGateway,
		"NETWORK_WIFI_STATUS": envNetworkWifiStatus,
		"NETWORK_WIFI_SSID":   envNetworkWifiSSID,
	}
	for canonical, got := range want {
		if got != canonical {
			t.Errorf("env var constant: got %q, want %q", got, canonical)
		}
	}
}

func TestReadNetworkInfoAllSet(t *testing.T) {
	t.Setenv(envNetworkType, "wifi")
	t.Setenv(envNetworkIP, "192.168.1.100")
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkGateway, "192.168.1.1")
	t.Setenv(envNetworkWifiStatus, "connected")
	t.Setenv(envNetworkWifiSSID, "MyNetwork")

	info := readNetworkInfo()
	if info == nil {
		t.Fatal("expected non-nil NetworkInfo")
	}

	want := status.NetworkInfo{
		Type:       "wifi",
		IP:         "192.168.1.100",
		Status:     "connected",
		Gateway:    "192.168.1.1",
		WifiStatus: "connected",
		SSID:       "MyNetwork",
	}
	if *info != want {
		t.Errorf("got %+v, want %+v", *info, want)
	}
}

func TestReadNetworkInfoNoneSet(t *testing.T) {
	info := readNetworkInfo()
	if info != nil {
		t.Errorf("expected nil when NETWORK_STATUS is unset, got %+v", info)
	}
}

func TestReadNetworkInfoPartial(t *testing.T) {
	t.Setenv(envNetworkStatus, "connected")

	info := readNetworkInfo()
	if info == nil {
		t.Fatal("expected non-nil NetworkInfo when NETWORK_STATUS is set")
	}
	if info.Status != "connected" {
		t.Errorf("Status: got %q, want %q", info.Status, "connected")
	}
	if info.Type != "" || info.IP != "" || info.Gateway != "" || info.WifiStatus != "" || info.SSID != "" {
		t.Errorf("expected only Status set, got %+v", info)
	}
}

// --- config and flags ---

func baseOptions() options {
	return options{
		poll:      time.Second,
		sensor:    config.SensorThermistor,
		pinStage1: gpio.PinStage1,
		pinStage2: gpio.PinStage2,
		set:       map[string]bool{},
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(baseOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Probe.Sensor != config.SensorThermistor || cfg.Relays.Stage1Pin != gpio.PinStage1 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.History.PollPeriod != time.Second {
		t.Errorf("poll period: got %v", cfg.History.PollPeriod)
	}
}

func TestLoadConfigFlagsOverrideOnlyWhenSet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "burner.toml")
	if err := os.WriteFile(path, []byte("[relays]\nstage1_pin = 5\nstage2_pin = 6\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	o := baseOptions()
	o.configPath = path
	o.pinStage2 = 13
	o.set["pin-stage2"] = true

	cfg, err := loadConfig(o)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Relays.Stage1Pin != 5 {
		t.Errorf("unset flag must not override the file: got %d", cfg.Relays.Stage1Pin)
	}
	if cfg.Relays.Stage2Pin != 13 {
		t.Errorf("set flag must override the file: got %d", cfg.Relays.Stage2Pin)
	}
}

func TestLoadConfigPollPeriod(t *testing.T) {
	path := filepath.Join(t.TempDir(), "burner.toml")
	if err := os.WriteFile(path, []byte("[history]\npoll_period = \"2s\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	o := baseOptions()
	o.configPath = path
	cfg, err := loadConfig(o)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.History.PollPeriod != 2*time.Second {
		t.Errorf("file poll period ignored: got %v", cfg.History.PollPeriod)
	}

	o.poll = 500 * time.Millisecond
	o.set["poll"] = true
	cfg, err = loadConfig(o)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.History.PollPeriod != 500*time.Millisecond {
		t.Errorf("-poll should override the file: got %v", cfg.History.PollPeriod)
	}
}

func TestLoadConfigRejectsBadSensor(t *testing.T) {
	o := baseOptions()
	o.sensor = "rtd"
	o.set["sensor"] = true

	if _, err := loadConfig(o); !errors.Is(err, config.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestTempString(t *testing.T) {
	c := 100.0
	if got := tempString(probe.Channel{TempC: &c}); got != "212.0°F (100.0°C)" {
		t.Errorf("got %q", got)
	}
	if got := tempString(probe.Channel{}); got != "--" {
		t.Errorf("got %q", got)
	}
	if got := tempString(probe.Channel{Faults: probe.Faults{OpenCircuit: true}}); got != "FAULT" {
		t.Errorf("got %q", got)
	}
}

// --- runLoop tests ---

// fakeClock returns a function that yields start, start+step, start+2*step, ...
// on successive calls. Not safe for concurrent use (only called from runLoop's goroutine).
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type harness struct {
	eng     *engine.Engine
	tracker *status.Tracker
	relays  *gpio.FakeRelays
	pub     *mqtt.FakePublisher
	stops   int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := history.New(history.DefaultConfig(), t0)
	if err != nil {
		t.Fatal(err)
	}
	ctrl, err := control.New(control.DefaultPolicy())
	if err != nil {
		t.Fatal(err)
	}
	sampler := probe.NewFakeSampler(20)
	sampler.Now = func() time.Time { return t0 }
	h := &harness{
		tracker: status.NewTracker(t0, status.Config{Stages: 2}),
		relays:  gpio.NewFakeRelays(),
		pub:     mqtt.NewFakePublisher(),
	}
	h.eng = engine.New(sampler, store, h.tracker, ctrl, h.relays)
	return h
}

// light records a cold reading and fires stage 1.
func (h *harness) light(t *testing.T) {
	t.Helper()
	if err := h.eng.Acquire(); err != nil {
		t.Fatal(err)
	}
	h.eng.ToggleRunning()
	if out := h.eng.Step(t0); !out.Stage1 {
		t.Fatalf("expected stage 1 lit, got %+v", out)
	}
}

// run drives runLoop with the given status ticks and heartbeats, then sends sig.
func (h *harness) run(t *testing.T, ticks, heartbeats int, sig os.Signal) error {
	t.Helper()
	tick := make(chan time.Time)
	hb := make(chan time.Time)
	sigCh := make(chan os.Signal, 1)
	clock := fakeClock(t0, time.Minute)

	errCh := make(chan error, 1)
	go func() {
		errCh <- runLoop(h.eng, h.tracker, h.pub, h.pub, clock, tick, hb, sigCh, func() { h.stops++ })
	}()

	for i := 0; i < ticks; i++ {
		tick <- time.Time{}
	}
	for i := 0; i < heartbeats; i++ {
		hb <- time.Time{}
	}
	sigCh <- sig

	return <-errCh
}

func TestRunLoopShutdownSIGINT(t *testing.T) {
	h := newHarness(t)
	h.light(t)

	if err := h.run(t, 0, 0, syscall.SIGINT); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if h.stops != 1 {
		t.Errorf("expected tasks stopped once, got %d", h.stops)
	}
	if got := h.relays.Current(); got.Stage1 || got.Stage2 {
		t.Errorf("relays left on after shutdown: %+v", got)
	}

	if len(h.pub.SystemEvents) != 1 {
		t.Fatalf("expected 1 system event, got %d", len(h.pub.SystemEvents))
	}
	se := h.pub.SystemEvents[0]
	if se.Event != "SHUTDOWN" || se.Reason != "SIGINT" || !se.Retained {
		t.Errorf("unexpected shutdown event: %+v", se)
	}

	var sj status.StatusJSON
	if err := json.Unmarshal(h.pub.SystemPayloads[0], &sj); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if sj.Status.Event != "SHUTDOWN" || sj.Status.BurnerOn {
		t.Errorf("shutdown payload should show the burner off: %+v", sj.Status)
	}
}

func TestRunLoopShutdownSIGTERM(t *testing.T) {
	h := newHarness(t)

	if err := h.run(t, 0, 0, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
	if se := h.pub.SystemEvents[0]; se.Reason != "SIGTERM" {
		t.Errorf("expected reason SIGTERM, got %q", se.Reason)
	}
}

func TestRunLoopShutdownRelayError(t *testing.T) {
	h := newHarness(t)
	h.relays.SetFailure(errors.New("gpio gone"))

	if err := h.run(t, 0, 0, syscall.SIGTERM); err == nil {
		t.Error("expected relay error to be returned")
	}
	if len(h.pub.SystemEvents) != 1 || h.pub.SystemEvents[0].Event != "SHUTDOWN" {
		t.Errorf("SHUTDOWN must still be published: %v", h.pub.SystemEventNames())
	}
}

func TestRunLoopTickUpdatesMQTTStatus(t *testing.T) {
	h := newHarness(t)
	h.pub.Connected = true

	if err := h.run(t, 1, 0, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
	if !h.tracker.Snapshot().MQTTConnected {
		t.Error("expected MQTT connected in status")
	}
}

func TestRunLoopHeartbeat(t *testing.T) {
	h := newHarness(t)
	h.light(t)

	if err := h.run(t, 0, 2, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	want := []string{"HEARTBEAT", "HEARTBEAT", "SHUTDOWN"}
	names := h.pub.SystemEventNames()
	if len(names) != len(want) {
		t.Fatalf("expected %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("event %d: got %s, want %s", i, names[i], want[i])
		}
	}
	if h.pub.SystemEvents[0].Retained {
		t.Error("HEARTBEAT should not be retained")
	}

	if h.pub.TelemetryCount() != 2 {
		t.Fatalf("expected 2 telemetry messages, got %d", h.pub.TelemetryCount())
	}
	tel := h.pub.Telemetry[0]
	if temp, ok := tel.Reading.PrimaryTemp(); !ok || temp != 20 {
		t.Errorf("telemetry reading: got %v", temp)
	}
	if !tel.Running || !tel.Stage1On {
		t.Errorf("telemetry control state: %+v", tel)
	}
}

func TestRunLoopHeartbeatWithoutReading(t *testing.T) {
	h := newHarness(t)

	if err := h.run(t, 0, 1, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
	if h.pub.TelemetryCount() != 0 {
		t.Errorf("expected no telemetry before the first reading, got %d", h.pub.TelemetryCount())
	}
	if names := h.pub.SystemEventNames(); len(names) != 2 || names[0] != "HEARTBEAT" {
		t.Errorf("unexpected events: %v", names)
	}
}

func TestRunLoopPublishError(t *testing.T) {
	h := newHarness(t)
	h.light(t)
	h.pub.PublishError = errors.New("broker down")
	h.pub.PublishSystemError = errors.New("broker down")

	if err := h.run(t, 1, 2, syscall.SIGTERM); err != nil {
		t.Fatalf("publish errors must not stop the loop: %v", err)
	}
	if got := h.relays.Current(); got.Stage1 || got.Stage2 {
		t.Errorf("relays left on: %+v", got)
	}
}

func TestRunLoopHeartbeatIncludesNetworkInfo(t *testing.T) {
	// Set network env vars so readNetworkInfo() returns data, then trigger
	// a heartbeat and verify the system event carries the network info through.
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkType, "wifi")
	t.Setenv(envNetworkIP, "192.168.1.42")
	t.Setenv(envNetworkGateway, "192.168.1.1")
	t.Setenv(envNetworkWifiStatus, "associated")
	t.Setenv(envNetworkWifiSSID, "HomeNet")

	h := newHarness(t)
	if err := h.run(t, 0, 1, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	var sj status.StatusJSON
	if err := json.Unmarshal(h.pub.SystemPayloads[0], &sj); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if sj.Status.Event != "HEARTBEAT" {
		t.Fatalf("expected HEARTBEAT first, got %q", sj.Status.Event)
	}
	n := sj.Status.Network
	if n == nil {
		t.Fatal("HEARTBEAT event missing Network info")
	}
	if n.Status != "connected" || n.Type != "wifi" || n.IP != "192.168.1.42" ||
		n.Gateway != "192.168.1.1" || n.WifiStatus != "associated" || n.SSID != "HomeNet" {
		t.Errorf("unexpected network info: %+v", n)
	}
}
