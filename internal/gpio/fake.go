package gpio

import "sync"

// State is one pair of relay outputs.
type State struct {
	Stage1 bool
	Stage2 bool
}

// FakeRelays is a test double that records every write.
type FakeRelays struct {
	mu sync.Mutex

	// Writes contains every state passed to Set or Off, in order.
	Writes []State

	// SetError, if set, will be returned by Set() and Off().
	SetError error

	// Closed tracks if Close was called
	Closed bool

	current State
}

// NewFakeRelays creates a FakeRelays with both outputs off.
func NewFakeRelays() *FakeRelays {
	return &FakeRelays{}
}

// Set records the write. On error the outputs are left unchanged.
func (f *FakeRelays) Set(stage1, stage2 bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetError != nil {
		return f.SetError
	}
	f.current = State{Stage1: stage1, Stage2: stage2}
	f.Writes = append(f.Writes, f.current)
	return nil
}

// Off records a write with both outputs low.
func (f *FakeRelays) Off() error {
	return f.Set(false, false)
}

// Close marks the relays as closed and turns them off.
func (f *FakeRelays) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	f.current = State{}
	return nil
}

// Current returns the outputs as last written.
func (f *FakeRelays) Current() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// WriteCount returns the number of successful writes.
func (f *FakeRelays) WriteCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Writes)
}

// SetFailure sets or clears the error returned by writes.
func (f *FakeRelays) SetFailure(err error) {
	f.mu.Lock()
	f.SetError = err
	f.mu.Unlock()
}
