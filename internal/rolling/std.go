package rolling

import "math"

// Std maintains the population standard deviation of the last `window`
// values using Welford-style running mean/M2 updates, which avoids the
// catastrophic cancellation of the naive sum-of-squares formulation.
type Std struct {
	window int
	buf    []float64 // preallocated circular buffer
	idx    int
	count  int
	mean   float64
	m2     float64 // sum of squared deviations from the mean
	pushes int
}

// NewStd creates a rolling population standard deviation over the window.
func NewStd(window int) *Std {
	return &Std{
		window: window,
		buf:    make([]float64, window),
	}
}

// Push adds a value and returns the current standard deviation
// (0 until the window is satisfied).
func (s *Std) Push(v float64) float64 {
	if s.count < s.window {
		// Growing phase: standard Welford accumulation
		s.count++
		delta := v - s.mean
		s.mean += delta / float64(s.count)
		s.m2 += delta * (v - s.mean)
		s.buf[s.idx] = v
	} else {
		// Sliding phase: replace the evicted value in one combined update
		old := s.buf[s.idx]
		oldMean := s.mean
		s.mean += (v - old) / float64(s.window)
		s.m2 += (v - old) * (v - s.mean + old - oldMean)
		s.buf[s.idx] = v
		s.count++
	}
	s.idx = (s.idx + 1) % s.window

	// Float subtraction can leave m2 a hair below zero on constant input
	if s.m2 < 0 {
		s.m2 = 0
	}

	s.pushes++
	if s.pushes >= resumInterval {
		s.recompute()
		s.pushes = 0
	}

	return s.Value()
}

// Value returns the current population standard deviation.
func (s *Std) Value() float64 {
	n := s.count
	if n > s.window {
		n = s.window
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(s.m2 / float64(n))
}

// Ready reports whether the window has seen `window` values.
func (s *Std) Ready() bool { return s.count >= s.window }

// Window returns the configured window length.
func (s *Std) Window() int { return s.window }

// recompute rebuilds mean and M2 exactly from the buffer (two-pass),
// bounding drift from the incremental updates.
func (s *Std) recompute() {
	n := s.count
	if n > s.window {
		n = s.window
	}
	if n == 0 {
		return
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += s.buf[i]
	}
	mean := sum / float64(n)
	m2 := 0.0
	for i := 0; i < n; i++ {
		d := s.buf[i] - mean
		m2 += d * d
	}
	s.mean = mean
	s.m2 = m2
}

// Reset clears the aggregator for reuse.
func (s *Std) Reset() {
	s.idx = 0
	s.count = 0
	s.mean = 0
	s.m2 = 0
	s.pushes = 0
	for i := range s.buf {
		s.buf[i] = 0
	}
}

// StdState is the serializable state of a Std, for checkpointing.
type StdState struct {
	Window int       `json:"window"`
	Buf    []float64 `json:"buf"`
	Idx    int       `json:"idx"`
	Count  int       `json:"count"`
	Mean   float64   `json:"mean"`
	M2     float64   `json:"m2"`
}

// State captures the aggregator state.
func (s *Std) State() StdState {
	buf := make([]float64, len(s.buf))
	copy(buf, s.buf)
	return StdState{
		Window: s.window,
		Buf:    buf,
		Idx:    s.idx,
		Count:  s.count,
		Mean:   s.mean,
		M2:     s.m2,
	}
}

// RestoreState restores the aggregator from a checkpoint.
func (s *Std) RestoreState(st StdState) {
	s.window = st.Window
	s.idx = st.Idx
	s.count = st.Count
	s.mean = st.Mean
	s.m2 = st.M2
	s.pushes = 0
	if len(st.Buf) == st.Window {
		s.buf = make([]float64, len(st.Buf))
		copy(s.buf, st.Buf)
	} else {
		s.buf = make([]float64, st.Window)
	}
}
