package probe

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"
)

// I2CBus is the subset of an I2C bus the ADS1115 driver needs.
// github.com/reef-pi/rpi/i2c.Bus satisfies it.
type I2CBus interface {
	ReadFromReg(addr, reg byte, value []byte) error
	WriteToReg(addr, reg byte, value []byte) error
	Close() error
}

// ADS1115 registers and config bits.
const (
	regConversion = 0x00
	regConfig     = 0x01

	configOsSingle    = 0x8000
	configMuxSingle0  = 0x4000 // AIN0 vs GND; AINn adds n<<12
	configModeSingle  = 0x0100
	configDataRate860 = 0x00E0
	configCompQueNone = 0x0003

	// DefaultADS1115Addr is the address with ADDR tied to GND.
	DefaultADS1115Addr = 0x48
)

// Gain selects the ADS1115 programmable gain amplifier range.
type Gain uint16

const (
	Gain2_3 Gain = 0x0000 // ±6.144V
	Gain1   Gain = 0x0200 // ±4.096V
	Gain2   Gain = 0x0400 // ±2.048V
	Gain4   Gain = 0x0600 // ±1.024V
	Gain8   Gain = 0x0800 // ±0.512V
	Gain16  Gain = 0x0A00 // ±0.256V
)

// FullScale returns the full-scale voltage for the gain.
func (g Gain) FullScale() (float64, bool) {
	switch g {
	case Gain2_3:
		return 6.144, true
	case Gain1:
		return 4.096, true
	case Gain2:
		return 2.048, true
	case Gain4:
		return 1.024, true
	case Gain8:
		return 0.512, true
	case Gain16:
		return 0.256, true
	}
	return 0, false
}

var (
	errConversionTimeout = errors.New("ads1115: conversion timeout")
	errBadChannel        = errors.New("ads1115: channel out of range")
)

// ADS1115 reads single-ended voltages from a TI ADS1115 ADC.
type ADS1115 struct {
	mu        sync.Mutex
	bus       I2CBus
	addr      byte
	gain      Gain
	fullScale float64
	timeout   time.Duration
	pollWait  time.Duration
}

// NewADS1115 creates a driver on an already opened bus.
func NewADS1115(bus I2CBus, addr byte, gain Gain) (*ADS1115, error) {
	fs, ok := gain.FullScale()
	if !ok {
		return nil, fmt.Errorf("ads1115: unknown gain 0x%04X", uint16(gain))
	}
	return &ADS1115{
		bus:       bus,
		addr:      addr,
		gain:      gain,
		fullScale: fs,
		timeout:   50 * time.Millisecond,
		pollWait:  time.Millisecond,
	}, nil
}

// Voltage runs a single-shot conversion on the given input (0-3).
func (a *ADS1115) Voltage(channel int) (float64, error) {
	if channel < 0 || channel > 3 {
		return 0, fmt.Errorf("%w: %d", errBadChannel, channel)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	raw, err := a.convert(channel)
	if err != nil {
		return 0, err
	}
	return countsToVolts(raw, a.fullScale), nil
}

func (a *ADS1115) convert(channel int) (int16, error) {
	cfg := configWord(channel, a.gain)
	if err := a.bus.WriteToReg(a.addr, regConfig, []byte{byte(cfg >> 8), byte(cfg)}); err != nil {
		return 0, fmt.Errorf("ads1115: write config: %w", err)
	}

	deadline := time.Now().Add(a.timeout)
	buf := make([]byte, 2)
	for {
		if err := a.bus.ReadFromReg(a.addr, regConfig, buf); err != nil {
			return 0, fmt.Errorf("ads1115: read config: %w", err)
		}
		if binary.BigEndian.Uint16(buf)&configOsSingle != 0 {
			break
		}
		if time.Now().After(deadline) {
			return 0, errConversionTimeout
		}
		time.Sleep(a.pollWait)
	}

	if err := a.bus.ReadFromReg(a.addr, regConversion, buf); err != nil {
		return 0, fmt.Errorf("ads1115: read conversion: %w", err)
	}
	return int16(binary.BigEndian.Uint16(buf)), nil
}

// Close releases the bus.
func (a *ADS1115) Close() error {
	return a.bus.Close()
}

func configWord(channel int, gain Gain) uint16 {
	return configOsSingle |
		(configMuxSingle0 + uint16(channel)<<12) |
		uint16(gain) |
		configModeSingle |
		configDataRate860 |
		configCompQueNone
}

// countsToVolts scales a conversion result. -32768 maps to -FS and
// 32767 to FS minus one LSB.
func countsToVolts(raw int16, fullScale float64) float64 {
	return float64(raw) / 32768.0 * fullScale
}
