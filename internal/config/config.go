// Package config loads the controller's TOML configuration file and
// watches it for tuning changes.
//
// Flags in main cover the daemon surface (poll period, broker, HTTP port).
// The file covers what a cook retunes between sessions: the control policy,
// probe wiring and history windows. Every key is optional; missing keys keep
// the values from Default.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/sweeney/burner-controller/internal/control"
	"github.com/sweeney/burner-controller/internal/gpio"
	"github.com/sweeney/burner-controller/internal/history"
	"github.com/sweeney/burner-controller/internal/probe"
)

// Sensor kinds.
const (
	SensorThermistor   = "thermistor"
	SensorThermocouple = "thermocouple"
)

// ErrInvalidConfig is returned for a config that fails validation.
var ErrInvalidConfig = errors.New("config: invalid")

// Probe describes how the temperature probes are wired.
type Probe struct {
	Sensor string `toml:"sensor"`

	// ADC input (thermistor) or SPI chip select (thermocouple).
	PrimaryChannel int `toml:"primary_channel"`
	// Negative disables the secondary probe.
	SecondaryChannel int `toml:"secondary_channel"`

	I2CAddress  int     `toml:"i2c_address"`
	Gain        string  `toml:"gain"`
	FixedOhms   float64 `toml:"fixed_ohms"`
	SupplyVolts float64 `toml:"supply_volts"`

	ReadTimeout time.Duration `toml:"read_timeout"`
}

// Relays holds the BCM line offsets of the burner relays.
type Relays struct {
	Stage1Pin int `toml:"stage1_pin"`
	Stage2Pin int `toml:"stage2_pin"`
}

// Config is the full file.
type Config struct {
	Probe   Probe          `toml:"probe"`
	Relays  Relays         `toml:"relays"`
	History history.Config `toml:"history"`
	Control control.Policy `toml:"control"`
}

// Default is the stock fryer: an oil thermistor on AIN0, a food
// thermistor on AIN1, and a two-stage 250k BTU burner.
func Default() Config {
	return Config{
		Probe: Probe{
			Sensor:           SensorThermistor,
			PrimaryChannel:   0,
			SecondaryChannel: 1,
			I2CAddress:       probe.DefaultADS1115Addr,
			Gain:             "1",
			FixedOhms:        probe.DefaultDivider.FixedOhms,
			SupplyVolts:      probe.DefaultDivider.SupplyVolts,
			ReadTimeout:      750 * time.Millisecond,
		},
		Relays: Relays{
			Stage1Pin: gpio.PinStage1,
			Stage2Pin: gpio.PinStage2,
		},
		History: history.DefaultConfig(),
		Control: control.DefaultPolicy(),
	}
}

// Load reads the file at path over the defaults. Unknown keys are an
// error so a typo does not silently fall back to a default.
func Load(path string) (Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("decode config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("%w: unknown keys in %s: %s", ErrInvalidConfig, path, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := c.Probe.Validate(); err != nil {
		return err
	}
	if c.Relays.Stage1Pin < 0 {
		return fmt.Errorf("%w: relays.stage1_pin must be set", ErrInvalidConfig)
	}
	if c.Control.Stages == 2 && c.Relays.Stage2Pin < 0 {
		return fmt.Errorf("%w: relays.stage2_pin must be set for a two-stage burner", ErrInvalidConfig)
	}
	if c.Relays.Stage1Pin == c.Relays.Stage2Pin {
		return fmt.Errorf("%w: relays share pin %d", ErrInvalidConfig, c.Relays.Stage1Pin)
	}
	if err := c.History.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := c.Control.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Validate checks the probe wiring.
func (p Probe) Validate() error {
	switch p.Sensor {
	case SensorThermistor:
		if p.PrimaryChannel < 0 || p.PrimaryChannel > 3 || p.SecondaryChannel > 3 {
			return fmt.Errorf("%w: ADS1115 channels are 0-3", ErrInvalidConfig)
		}
		if p.FixedOhms <= 0 || p.SupplyVolts <= 0 {
			return fmt.Errorf("%w: divider needs positive fixed_ohms and supply_volts", ErrInvalidConfig)
		}
		if p.I2CAddress < 0x48 || p.I2CAddress > 0x4B {
			return fmt.Errorf("%w: i2c_address 0x%02X is not an ADS1115 address", ErrInvalidConfig, p.I2CAddress)
		}
		if _, err := p.ADCGain(); err != nil {
			return err
		}
	case SensorThermocouple:
		if p.PrimaryChannel < 0 || p.PrimaryChannel > 2 || p.SecondaryChannel > 2 {
			return fmt.Errorf("%w: SPI chip selects are 0-2", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown sensor %q", ErrInvalidConfig, p.Sensor)
	}
	if p.SecondaryChannel >= 0 && p.SecondaryChannel == p.PrimaryChannel {
		return fmt.Errorf("%w: primary and secondary share channel %d", ErrInvalidConfig, p.PrimaryChannel)
	}
	if p.ReadTimeout <= 0 {
		return fmt.Errorf("%w: read_timeout must be positive", ErrInvalidConfig)
	}
	return nil
}

// ADCGain maps the gain setting to the ADS1115 PGA value.
func (p Probe) ADCGain() (probe.Gain, error) {
	switch p.Gain {
	case "2/3":
		return probe.Gain2_3, nil
	case "1", "":
		return probe.Gain1, nil
	case "2":
		return probe.Gain2, nil
	case "4":
		return probe.Gain4, nil
	case "8":
		return probe.Gain8, nil
	case "16":
		return probe.Gain16, nil
	}
	return 0, fmt.Errorf("%w: unknown gain %q", ErrInvalidConfig, p.Gain)
}

// Divider returns the thermistor divider.
func (p Probe) Divider() probe.Divider {
	return probe.Divider{FixedOhms: p.FixedOhms, SupplyVolts: p.SupplyVolts}
}
