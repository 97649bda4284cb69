package probe

import (
	"errors"
	"math"
	"sync"
	"time"
)

// FakeADC is a test double that returns fixed voltages per channel.
type FakeADC struct {
	mu sync.Mutex

	// Volts maps channel number to the voltage returned.
	Volts map[int]float64

	// ReadError, if set, will be returned by Voltage().
	ReadError error

	// Reads counts calls to Voltage().
	Reads int
}

// NewFakeADC creates a FakeADC with the given channel voltages.
func NewFakeADC(volts map[int]float64) *FakeADC {
	return &FakeADC{Volts: volts}
}

// Voltage returns the configured voltage for the channel.
func (f *FakeADC) Voltage(channel int) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Reads++
	if f.ReadError != nil {
		return 0, f.ReadError
	}
	v, ok := f.Volts[channel]
	if !ok {
		return 0, errors.New("no voltage configured")
	}
	return v, nil
}

// Set changes the voltage on a channel.
func (f *FakeADC) Set(channel int, volts float64) {
	f.mu.Lock()
	f.Volts[channel] = volts
	f.mu.Unlock()
}

// FakeFrames is a test double that returns fixed MAX31855 frames per chip.
type FakeFrames struct {
	Frames    map[int][4]byte
	ReadError error
}

// ReadFrame returns the configured frame for the chip.
func (f *FakeFrames) ReadFrame(chip int) ([4]byte, error) {
	if f.ReadError != nil {
		return [4]byte{}, f.ReadError
	}
	b, ok := f.Frames[chip]
	if !ok {
		return [4]byte{}, errors.New("no frame configured")
	}
	return b, nil
}

// FakeSampler returns scripted temperatures. Each call to Sample() consumes
// the next entry; the last entry repeats once the script is exhausted.
type FakeSampler struct {
	mu sync.Mutex

	// Temps contains scripted primary temperatures; NaN yields an invalid channel.
	Temps []float64

	// SampleError, if set, will be returned by Sample().
	SampleError error

	// Delay blocks each Sample() call, for timeout tests.
	Delay time.Duration

	// Faults, if any flag is set, are reported on the primary channel in
	// place of a temperature.
	Faults Faults

	// Now stamps readings; defaults to time.Now.
	Now func() time.Time

	index int
	Calls int
}

// NewFakeSampler creates a FakeSampler with the given primary temperatures.
func NewFakeSampler(temps ...float64) *FakeSampler {
	return &FakeSampler{Temps: temps}
}

// Sample returns the next scripted reading.
func (f *FakeSampler) Sample() (Reading, error) {
	f.mu.Lock()
	delay := f.Delay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls++

	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	r := Reading{Time: now()}

	if f.SampleError != nil {
		return r, f.SampleError
	}
	if len(f.Temps) == 0 {
		return r, errors.New("no samples configured")
	}

	t := f.Temps[f.index]
	if f.index < len(f.Temps)-1 {
		f.index++
	}
	if f.Faults.Any() {
		r.Primary.Faults = f.Faults
		return r, nil
	}
	if !math.IsNaN(t) {
		r.Primary.TempC = ptr(t)
	}
	return r, nil
}
