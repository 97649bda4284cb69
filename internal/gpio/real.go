//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealRelays drives relay outputs on actual hardware using the Linux GPIO
// character device.
type RealRelays struct {
	chip   *gpiocdev.Chip
	stage1 *gpiocdev.Line
	stage2 *gpiocdev.Line // nil for single-stage burners
}

// NewRealRelays requests the relay lines as outputs, initially low.
// Pass NoPin for pinStage2 on a single-stage burner.
func NewRealRelays(pinStage1, pinStage2 int) (*RealRelays, error) {
	chip, err := gpiocdev.NewChip("gpiochip0")
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	s1, err := chip.RequestLine(pinStage1, gpiocdev.AsOutput(0))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request stage1 pin %d: %w", pinStage1, err)
	}

	r := &RealRelays{chip: chip, stage1: s1}
	if pinStage2 != NoPin {
		s2, err := chip.RequestLine(pinStage2, gpiocdev.AsOutput(0))
		if err != nil {
			s1.Close()
			chip.Close()
			return nil, fmt.Errorf("request stage2 pin %d: %w", pinStage2, err)
		}
		r.stage2 = s2
	}
	return r, nil
}

// Set drives the stage outputs. Stage 2 is written first when turning off
// and last when turning on so it is never high while stage 1 is low.
func (r *RealRelays) Set(stage1, stage2 bool) error {
	if r.stage2 != nil && !stage2 {
		if err := r.stage2.SetValue(0); err != nil {
			return fmt.Errorf("write stage2 pin: %w", err)
		}
	}
	if err := r.stage1.SetValue(level(stage1)); err != nil {
		return fmt.Errorf("write stage1 pin: %w", err)
	}
	if r.stage2 != nil && stage2 {
		if err := r.stage2.SetValue(1); err != nil {
			return fmt.Errorf("write stage2 pin: %w", err)
		}
	}
	return nil
}

// Off drives every output low.
func (r *RealRelays) Off() error {
	return r.Set(false, false)
}

// Close turns the relays off and releases GPIO resources.
// Reconfigures pins to input with pull-down (matching Pi boot defaults) so
// the relay drivers stay de-energised after exit.
func (r *RealRelays) Close() error {
	var errs []error

	if err := r.Off(); err != nil {
		errs = append(errs, err)
	}
	for name, line := range map[string]*gpiocdev.Line{"stage1": r.stage1, "stage2": r.stage2} {
		if line == nil {
			continue
		}
		if err := line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure %s pin: %w", name, err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s pin: %w", name, err))
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

func level(on bool) int {
	if on {
		return 1
	}
	return 0
}
