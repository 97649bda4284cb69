// Package gpio drives the burner relays with hardware abstraction.
// The real implementation uses Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Relays switches the burner stage relays.
type Relays interface {
	// Set drives both stage outputs. Implementations without a second stage
	// ignore stage2.
	Set(stage1, stage2 bool) error

	// Off drives every output low.
	Off() error

	// Close releases GPIO resources, leaving the outputs off.
	Close() error
}

// Pin definitions (BCM numbering). Both relays are active high.
const (
	PinStage1 = 21
	PinStage2 = 20
)

// NoPin disables a stage output.
const NoPin = -1
