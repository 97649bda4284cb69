//go:build linux

package probe

import (
	"fmt"
	"sync"

	"github.com/reef-pi/rpi/i2c"
	rpio "github.com/stianeikeland/go-rpio/v4"
)

// OpenADS1115 opens the I2C bus and returns an ADS1115 driver on it.
func OpenADS1115(addr byte, gain Gain) (*ADS1115, error) {
	bus, err := i2c.New()
	if err != nil {
		return nil, fmt.Errorf("open i2c bus: %w", err)
	}
	adc, err := NewADS1115(bus, addr, gain)
	if err != nil {
		bus.Close()
		return nil, err
	}
	return adc, nil
}

// SPIFrames reads MAX31855 frames over the Raspberry Pi SPI0 peripheral.
type SPIFrames struct {
	mu sync.Mutex
}

// OpenSPIFrames maps the GPIO/SPI registers and configures SPI0 for the
// MAX31855 (mode 0, 1MHz).
func OpenSPIFrames() (*SPIFrames, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("open gpio memory: %w", err)
	}
	if err := rpio.SpiBegin(rpio.Spi0); err != nil {
		rpio.Close()
		return nil, fmt.Errorf("begin spi0: %w", err)
	}
	rpio.SpiSpeed(1000000)
	rpio.SpiMode(0, 0)
	return &SPIFrames{}, nil
}

// ReadFrame selects the chip and clocks in four bytes.
func (s *SPIFrames) ReadFrame(chip int) ([4]byte, error) {
	var frame [4]byte
	if chip < 0 || chip > 2 {
		return frame, fmt.Errorf("spi: invalid chip select %d", chip)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rpio.SpiChipSelect(uint8(chip))
	b := rpio.SpiReceive(len(frame))
	if len(b) != len(frame) {
		return frame, fmt.Errorf("spi: short read %d bytes", len(b))
	}
	copy(frame[:], b)
	return frame, nil
}

// Close releases SPI0 and unmaps the registers.
func (s *SPIFrames) Close() error {
	rpio.SpiEnd(rpio.Spi0)
	return rpio.Close()
}
