//go:build !linux

package probe

import "errors"

var errUnsupported = errors.New("probe: hardware not supported on this platform (requires Linux)")

// OpenADS1115 returns an error on non-Linux platforms.
func OpenADS1115(addr byte, gain Gain) (*ADS1115, error) {
	return nil, errUnsupported
}

// SPIFrames is not available on non-Linux platforms.
type SPIFrames struct{}

// OpenSPIFrames returns an error on non-Linux platforms.
func OpenSPIFrames() (*SPIFrames, error) {
	return nil, errUnsupported
}

// ReadFrame is not implemented on non-Linux platforms.
func (s *SPIFrames) ReadFrame(chip int) ([4]byte, error) {
	return [4]byte{}, errUnsupported
}

// Close is not implemented on non-Linux platforms.
func (s *SPIFrames) Close() error {
	return nil
}
