//go:build !linux

package gpio

import "errors"

// RealRelays is not available on non-Linux platforms.
type RealRelays struct{}

// NewRealRelays returns an error on non-Linux platforms.
func NewRealRelays(pinStage1, pinStage2 int) (*RealRelays, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// Set is not implemented on non-Linux platforms.
func (r *RealRelays) Set(stage1, stage2 bool) error {
	return errors.New("gpio: not supported")
}

// Off is not implemented on non-Linux platforms.
func (r *RealRelays) Off() error {
	return errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (r *RealRelays) Close() error {
	return nil
}
