// Package ringbuf provides a fixed-capacity overwrite ring of finalized
// bars, the bounded per-series history window. Oldest bars are evicted
// silently once capacity is reached. The engine runs on a single logical
// thread, so no synchronization is used. Capacity is rounded up to a power
// of two for mask arithmetic.
package ringbuf

import "indicator-systemv1/internal/model"

// Ring is a bounded append-only history of finalized bars.
type Ring struct {
	buf  []model.Bar
	mask uint64
	head uint64 // total bars ever appended
}

// New creates a ring. capacity is rounded up to the next power of two.
// Minimum capacity is 2.
func New(capacity int) *Ring {
	c := nextPow2(capacity)
	if c < 2 {
		c = 2
	}
	return &Ring{
		buf:  make([]model.Bar, c),
		mask: uint64(c - 1),
	}
}

// Append adds a finalized bar, evicting the oldest if the ring is full.
func (r *Ring) Append(b model.Bar) {
	r.buf[r.head&r.mask] = b
	r.head++
}

// Len returns the number of bars currently retained.
func (r *Ring) Len() int {
	if r.head < uint64(len(r.buf)) {
		return int(r.head)
	}
	return len(r.buf)
}

// Cap returns the ring capacity.
func (r *Ring) Cap() int { return len(r.buf) }

// Evicted returns how many bars have been dropped past the window.
func (r *Ring) Evicted() uint64 {
	if r.head < uint64(len(r.buf)) {
		return 0
	}
	return r.head - uint64(len(r.buf))
}

// Last returns the most recently appended bar.
func (r *Ring) Last() (model.Bar, bool) {
	return r.At(0)
}

// At returns the i-th most recent bar (0 = latest). Returns false when i
// reaches past the retained window.
func (r *Ring) At(i int) (model.Bar, bool) {
	if i < 0 || i >= r.Len() {
		return model.Bar{}, false
	}
	idx := r.head - 1 - uint64(i)
	return r.buf[idx&r.mask], true
}

// Recent copies up to n retained bars, oldest first. Used for backfill.
func (r *Ring) Recent(n int) []model.Bar {
	if n > r.Len() {
		n = r.Len()
	}
	if n <= 0 {
		return nil
	}
	out := make([]model.Bar, n)
	for i := 0; i < n; i++ {
		b, _ := r.At(n - 1 - i)
		out[i] = b
	}
	return out
}

// nextPow2 returns the smallest power of 2 >= n.
func nextPow2(n int) int {
	if n <= 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
