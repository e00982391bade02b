// Package stats implements the fixed-window running statistics used by
// diagnostics: mean via a ring buffer with a running sum, and min/max via
// sequence-tagged monotonic deques for amortised O(1) updates.
package stats

// Window is a fixed-capacity running-statistics accumulator over the last W
// values added.
type Window struct {
	w    int
	ring []float64
	head int
	n    int
	sum  float64

	seq      uint64
	minDeque []tagged
	maxDeque []tagged
}

type tagged struct {
	seq   uint64
	value float64
}

// NewWindow returns a Window over the last w added values. w must be > 0.
func NewWindow(w int) *Window {
	return &Window{
		w:    w,
		ring: make([]float64, w),
	}
}

// Add records one value, evicting the oldest once the window is full.
func (s *Window) Add(v float64) {
	if s.n == s.w {
		s.sum -= s.ring[s.head]
	} else {
		s.n++
	}
	s.ring[s.head] = v
	s.sum += v
	s.head = (s.head + 1) % s.w

	s.seq++
	s.pushMonotonic(&s.minDeque, v, s.seq, func(a, b float64) bool { return a >= b })
	s.pushMonotonic(&s.maxDeque, v, s.seq, func(a, b float64) bool { return a <= b })
	s.expire(&s.minDeque)
	s.expire(&s.maxDeque)
}

// pushMonotonic drops trailing entries dominated by v (per evict, which
// decides whether the existing tail entry should be evicted in favour of v)
// then appends v tagged with seq.
func (s *Window) pushMonotonic(dq *[]tagged, v float64, seq uint64, evict func(existing, v float64) bool) {
	d := *dq
	for len(d) > 0 && evict(d[len(d)-1].value, v) {
		d = d[:len(d)-1]
	}
	*dq = append(d, tagged{seq: seq, value: v})
}

func (s *Window) expire(dq *[]tagged) {
	if s.seq < uint64(s.w) {
		return
	}
	cutoff := s.seq - uint64(s.w)
	d := *dq
	for len(d) > 0 && d[0].seq <= cutoff {
		d = d[1:]
	}
	*dq = d
}

// Len reports how many values are currently in the window (≤ w).
func (s *Window) Len() int { return s.n }

// Mean returns the running average, or 0 if no values have been added.
func (s *Window) Mean() float64 {
	if s.n == 0 {
		return 0
	}
	return s.sum / float64(s.n)
}

// Min returns the smallest value currently in the window.
func (s *Window) Min() (float64, bool) {
	if len(s.minDeque) == 0 {
		return 0, false
	}
	return s.minDeque[0].value, true
}

// Max returns the largest value currently in the window.
func (s *Window) Max() (float64, bool) {
	if len(s.maxDeque) == 0 {
		return 0, false
	}
	return s.maxDeque[0].value, true
}
