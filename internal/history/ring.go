package history

// ring is a fixed-capacity FIFO that evicts the oldest entry when full.
// Not safe for concurrent use; the Store holds its lock around every call.
type ring[T any] struct {
	buf   []T
	head  int // next write position
	count int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &ring[T]{buf: make([]T, capacity)}
}

func (r *ring[T]) push(v T) {
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// at returns the i-th entry, oldest first.
func (r *ring[T]) at(i int) T {
	start := (r.head - r.count + len(r.buf)) % len(r.buf)
	return r.buf[(start+i)%len(r.buf)]
}

func (r *ring[T]) last() (T, bool) {
	if r.count == 0 {
		var zero T
		return zero, false
	}
	return r.at(r.count - 1), true
}

// items returns a copy of all entries, oldest first.
func (r *ring[T]) items() []T {
	out := make([]T, r.count)
	for i := range out {
		out[i] = r.at(i)
	}
	return out
}

func (r *ring[T]) len() int {
	return r.count
}

func (r *ring[T]) capacity() int {
	return len(r.buf)
}
