package probe

import (
	"encoding/binary"
	"fmt"
	"time"
)

// FrameReader reads one raw 32-bit MAX31855 frame from the given chip select.
type FrameReader interface {
	ReadFrame(chip int) ([4]byte, error)
}

// MAX31855 frame layout (big-endian 32 bits):
//
//	31..18  thermocouple temperature, 14-bit two's complement, 0.25°C/LSB
//	16      fault
//	15..4   reference junction temperature, 12-bit two's complement, 0.0625°C/LSB
//	2       short to VCC
//	1       short to GND
//	0       open circuit
const (
	probeShift     = 18
	probeBits      = 14
	probeScale     = 0.25
	internalShift  = 4
	internalBits   = 12
	internalScale  = 0.0625
	faultBit       = 1 << 16
	shortVCCBit    = 1 << 2
	shortGNDBit    = 1 << 1
	openCircuitBit = 1 << 0
)

// Frame is a decoded MAX31855 frame.
type Frame struct {
	Raw       uint32
	ProbeC    *float64 // nil when the fault bit is set
	InternalC float64
	Faults    Faults
}

// SignExtend interprets the low bits of v as a two's complement number.
func SignExtend(v uint32, bits uint) int32 {
	mask := uint32(1)<<bits - 1
	v &= mask
	if v&(1<<(bits-1)) != 0 {
		return int32(int64(v) - int64(1)<<bits)
	}
	return int32(v)
}

// DecodeFrame decodes every field of a frame. A set fault bit invalidates
// the probe temperature only.
func DecodeFrame(b [4]byte) Frame {
	raw := binary.BigEndian.Uint32(b[:])

	f := Frame{
		Raw:       raw,
		InternalC: float64(SignExtend(raw>>internalShift, internalBits)) * internalScale,
		Faults: Faults{
			Fault:       raw&faultBit != 0,
			OpenCircuit: raw&openCircuitBit != 0,
			ShortGND:    raw&shortGNDBit != 0,
			ShortVCC:    raw&shortVCCBit != 0,
		},
	}
	if !f.Faults.Fault {
		f.ProbeC = ptr(float64(SignExtend(raw>>probeShift, probeBits)) * probeScale)
	}
	return f
}

// Channel converts the frame into a probe channel.
func (f Frame) Channel() Channel {
	return Channel{
		TempC:     f.ProbeC,
		InternalC: ptr(f.InternalC),
		Faults:    f.Faults,
	}
}

// Thermocouple samples MAX31855 thermocouple converters.
type Thermocouple struct {
	spi       FrameReader
	primary   int
	secondary int // negative disables
	now       func() time.Time
}

// NewThermocouple creates a thermocouple sampler. A negative secondary chip
// select disables the second probe.
func NewThermocouple(spi FrameReader, primary, secondary int) *Thermocouple {
	return &Thermocouple{
		spi:       spi,
		primary:   primary,
		secondary: secondary,
		now:       time.Now,
	}
}

// Sample reads every configured chip. Any bus error invalidates the whole
// reading.
func (t *Thermocouple) Sample() (Reading, error) {
	r := Reading{Time: t.now()}

	pf, err := t.spi.ReadFrame(t.primary)
	if err != nil {
		return r, fmt.Errorf("read spi chip %d: %w", t.primary, err)
	}

	var sf [4]byte
	if t.secondary >= 0 {
		sf, err = t.spi.ReadFrame(t.secondary)
		if err != nil {
			return r, fmt.Errorf("read spi chip %d: %w", t.secondary, err)
		}
	}

	r.Primary = DecodeFrame(pf).Channel()
	if t.secondary >= 0 {
		r.Secondary = DecodeFrame(sf).Channel()
	}
	return r, nil
}
