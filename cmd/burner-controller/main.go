// Command burner-controller holds a fryer or smoker at a target temperature
// by driving staged burner relays from thermistor or thermocouple probes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/sweeney/burner-controller/internal/calibration"
	"github.com/sweeney/burner-controller/internal/config"
	"github.com/sweeney/burner-controller/internal/control"
	"github.com/sweeney/burner-controller/internal/engine"
	"github.com/sweeney/burner-controller/internal/gpio"
	"github.com/sweeney/burner-controller/internal/history"
	"github.com/sweeney/burner-controller/internal/logbuf"
	"github.com/sweeney/burner-controller/internal/mqtt"
	"github.com/sweeney/burner-controller/internal/probe"
	"github.com/sweeney/burner-controller/internal/status"
	"github.com/sweeney/burner-controller/internal/web"
)

type options struct {
	poll       time.Duration
	heartbeat  time.Duration
	broker     string
	httpAddr   string
	configPath string
	printState bool

	// Overrides for the config file, applied only when the flag is given.
	sensor    string
	pinStage1 int
	pinStage2 int
	set       map[string]bool
}

func main() {
	var o options
	flag.DurationVar(&o.poll, "poll", time.Second, "Probe and control period (overrides [history] poll_period)")
	flag.DurationVar(&o.heartbeat, "heartbeat", time.Minute, "Heartbeat and telemetry interval (0 to disable)")
	flag.StringVar(&o.broker, "broker", "tcp://192.168.1.200:1883", "MQTT broker address (empty to disable)")
	flag.StringVar(&o.httpAddr, "http", ":80", "HTTP address (empty to disable)")
	flag.StringVar(&o.configPath, "config", "", "TOML config file; the [control] section is reloaded on change")
	flag.BoolVar(&o.printState, "print-state", false, "Read the probes once, print and exit")
	flag.StringVar(&o.sensor, "sensor", config.SensorThermistor, "Probe type: thermistor or thermocouple")
	flag.IntVar(&o.pinStage1, "pin-stage1", gpio.PinStage1, "BCM pin number for the stage 1 relay")
	flag.IntVar(&o.pinStage2, "pin-stage2", gpio.PinStage2, "BCM pin number for the stage 2 relay")

	flag.Parse()

	o.set = map[string]bool{}
	flag.Visit(func(f *flag.Flag) { o.set[f.Name] = true })

	logs := logbuf.New(tint.NewHandler(os.Stderr, nil), logbuf.DefaultLines)
	slog.SetDefault(slog.New(logs))

	if err := run(o, logs); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, if any, and applies flag overrides.
func loadConfig(o options) (config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		var err error
		if cfg, err = config.Load(o.configPath); err != nil {
			return config.Config{}, err
		}
	}
	if o.set["sensor"] {
		cfg.Probe.Sensor = o.sensor
	}
	if o.set["pin-stage1"] {
		cfg.Relays.Stage1Pin = o.pinStage1
	}
	if o.set["pin-stage2"] {
		cfg.Relays.Stage2Pin = o.pinStage2
	}
	if o.set["poll"] {
		cfg.History.PollPeriod = o.poll
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// openSampler opens the probe hardware described by p.
func openSampler(p config.Probe, curve calibration.Coefficients) (probe.Sampler, io.Closer, error) {
	switch p.Sensor {
	case config.SensorThermocouple:
		spi, err := probe.OpenSPIFrames()
		if err != nil {
			return nil, nil, fmt.Errorf("init thermocouple: %w", err)
		}
		return probe.NewThermocouple(spi, p.PrimaryChannel, p.SecondaryChannel), spi, nil
	default:
		gain, err := p.ADCGain()
		if err != nil {
			return nil, nil, err
		}
		adc, err := probe.OpenADS1115(byte(p.I2CAddress), gain)
		if err != nil {
			return nil, nil, fmt.Errorf("init thermistor adc: %w", err)
		}
		return probe.NewThermistor(adc, p.Divider(), curve, p.PrimaryChannel, p.SecondaryChannel), adc, nil
	}
}

func run(o options, logs *logbuf.Handler) error {
	cfg, err := loadConfig(o)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	poll := cfg.History.PollPeriod

	curve, err := calibration.Fit(calibration.DefaultTable)
	if err != nil {
		return fmt.Errorf("fit thermistor curve: %w", err)
	}

	// Initialize probes
	sampler, probes, err := openSampler(cfg.Probe, curve)
	if err != nil {
		return err
	}
	defer probes.Close()

	// Print state mode
	if o.printState {
		r, err := sampler.Sample()
		if err != nil {
			return fmt.Errorf("read probes: %w", err)
		}
		fmt.Printf("Primary: %s, Secondary: %s\n", tempString(r.Primary), tempString(r.Secondary))
		return nil
	}

	// Initialize relays; they come up off.
	pin2 := cfg.Relays.Stage2Pin
	if cfg.Control.Stages == 1 {
		pin2 = gpio.NoPin
	}
	relays, err := gpio.NewRealRelays(cfg.Relays.Stage1Pin, pin2)
	if err != nil {
		return fmt.Errorf("init relays: %w", err)
	}
	defer relays.Close()

	// Initialize MQTT
	var publisher mqtt.Publisher = mqtt.NopPublisher{}
	var mqttStatus mqtt.ConnectionStatus = mqtt.NopPublisher{}
	if o.broker != "" {
		rp := mqtt.NewRealPublisher(o.broker)
		publisher, mqttStatus = rp, rp
	}
	defer publisher.Close()

	startTime := time.Now()
	store, err := history.New(cfg.History, startTime)
	if err != nil {
		return fmt.Errorf("init history: %w", err)
	}
	controller, err := control.New(cfg.Control)
	if err != nil {
		return fmt.Errorf("init controller: %w", err)
	}

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(startTime, status.Config{
		PollMs:      poll.Milliseconds(),
		HeartbeatMs: o.heartbeat.Milliseconds(),
		Broker:      o.broker,
		HTTPPort:    o.httpAddr,
		Sensor:      cfg.Probe.Sensor,
		Stages:      cfg.Control.Stages,
		PinStage1:   cfg.Relays.Stage1Pin,
		PinStage2:   pin2,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	eng := engine.New(sampler, store, tracker, controller, relays)
	eng.ReadTimeout = cfg.Probe.ReadTimeout

	if o.configPath != "" {
		// SetPolicy logs rejections itself.
		w, err := config.Watch(o.configPath, cfg.Control, func(p control.Policy) { _ = eng.SetPolicy(p) })
		if err != nil {
			slog.Warn("config: hot reload disabled", "err", err)
		} else {
			defer w.Close()
		}
	}

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		slog.Warn("mqtt: publish startup event", "err", err)
	}

	// Start HTTP server
	if o.httpAddr != "" {
		srv := web.New(o.httpAddr, eng, logs.Lines, poll)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("http: server error", "err", err)
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(ctx)
		}()
		slog.Info("http: listening", "addr", o.httpAddr)
	}

	// Start the acquisition and control tasks.
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	acqTicker := time.NewTicker(poll)
	defer acqTicker.Stop()
	ctlTicker := time.NewTicker(poll)
	defer ctlTicker.Stop()
	wg.Add(2)
	go func() {
		defer wg.Done()
		eng.RunAcquisition(ctx, acqTicker.C)
	}()
	go func() {
		defer wg.Done()
		eng.RunControl(ctx, ctlTicker.C)
	}()
	stopTasks := func() {
		cancel()
		wg.Wait()
	}

	slog.Info("started",
		"poll", poll, "sensor", cfg.Probe.Sensor, "stages", cfg.Control.Stages,
		"broker", o.broker, "heartbeat", o.heartbeat)

	statusTicker := time.NewTicker(poll)
	defer statusTicker.Stop()

	var heartbeat <-chan time.Time
	if o.heartbeat > 0 {
		hb := time.NewTicker(o.heartbeat)
		defer hb.Stop()
		heartbeat = hb.C
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(eng, tracker, publisher, mqttStatus, time.Now, statusTicker.C, heartbeat, sigCh, stopTasks)
}

// runLoop keeps the MQTT and network status fresh and publishes heartbeats
// until a signal arrives. It then stops the engine tasks, forces the burner
// off and publishes SHUTDOWN.
func runLoop(eng *engine.Engine, tracker *status.Tracker, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, now func() time.Time, tick, heartbeat <-chan time.Time, sig <-chan os.Signal, stopTasks func()) error {
	for {
		select {
		case s := <-sig:
			slog.Info("shutting down", "signal", s)
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}

			stopTasks()
			offErr := eng.Shutdown(now())
			if offErr != nil {
				slog.Error("relay: shutdown failed", "err", offErr)
			}

			if mqttStatus != nil {
				tracker.SetMQTTConnected(mqttStatus.IsConnected())
			}
			snap := tracker.Snapshot()
			event := mqtt.SystemEvent{
				Timestamp:  now(),
				Event:      "SHUTDOWN",
				Reason:     signalName,
				Retained:   true,
				RawPayload: status.FormatStatusEvent(snap, "SHUTDOWN", signalName),
			}
			if err := publisher.PublishSystem(event); err != nil {
				slog.Warn("mqtt: publish shutdown event", "err", err)
			} else {
				slog.Info("mqtt: published shutdown event")
			}
			return offErr

		case <-tick:
			if mqttStatus != nil {
				tracker.SetMQTTConnected(mqttStatus.IsConnected())
			}

		case <-heartbeat:
			t := now()
			if mqttStatus != nil {
				tracker.SetMQTTConnected(mqttStatus.IsConnected())
			}
			// Refresh network info for heartbeat
			if net := readNetworkInfo(); net != nil {
				tracker.SetNetwork(net)
			}
			snap := tracker.Snapshot()

			hbEvent := mqtt.SystemEvent{
				Timestamp:  t,
				Event:      "HEARTBEAT",
				RawPayload: status.FormatStatusEvent(snap, "HEARTBEAT", ""),
			}
			if err := publisher.PublishSystem(hbEvent); err != nil {
				slog.Warn("mqtt: heartbeat publish", "err", err)
			}

			if r, ok := eng.LatestReading(); ok {
				if err := publisher.PublishTelemetry(mqtt.NewTelemetry(r, snap)); err != nil {
					slog.Warn("mqtt: telemetry publish", "err", err)
				}
			}

			slog.Info("heartbeat",
				"uptime", snap.Uptime().Truncate(time.Second),
				"running", snap.Running, "burner_on", snap.BurnerOn, "connected", snap.Connected)
		}
	}
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}

func tempString(c probe.Channel) string {
	if c.TempC == nil {
		if c.Faults.Any() {
			return "FAULT"
		}
		return "--"
	}
	return fmt.Sprintf("%.1f°F (%.1f°C)", calibration.CelsiusToFahrenheit(*c.TempC), *c.TempC)
}
