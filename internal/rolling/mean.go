// Package rolling provides incremental window aggregators: rolling mean,
// rolling population standard deviation, rolling min/max, and exponential
// moving average. Every aggregator is O(1) amortized per push and holds
// O(window) state. Instances are not safe for concurrent use — each belongs
// to exactly one evaluation stream.
package rolling

// resumInterval is how often bounded-window sums are recomputed exactly
// from the buffer, keeping accumulated float drift bounded.
const resumInterval = 10000

// Mean maintains the arithmetic mean of the last `window` values.
// Uses a preallocated circular buffer with a running sum for a
// zero-allocation hot path.
type Mean struct {
	window  int
	buf     []float64 // preallocated circular buffer
	idx     int       // current write position
	count   int       // total values received
	sum     float64
	current float64
	pushes  int // pushes since last exact resummation
}

// NewMean creates a rolling mean over the given window.
func NewMean(window int) *Mean {
	return &Mean{
		window: window,
		buf:    make([]float64, window),
	}
}

// Push adds a value, evicting the oldest when the window is full, and
// returns the current mean (0 until the window is satisfied).
func (m *Mean) Push(v float64) float64 {
	if m.count >= m.window {
		// Subtract the oldest value being overwritten
		m.sum -= m.buf[m.idx]
	}

	m.buf[m.idx] = v
	m.sum += v
	m.idx = (m.idx + 1) % m.window
	m.count++

	m.pushes++
	if m.pushes >= resumInterval {
		m.resum()
		m.pushes = 0
	}

	if m.count >= m.window {
		m.current = m.sum / float64(m.window)
	}
	return m.current
}

// Value returns the current mean. Meaningless until Ready.
func (m *Mean) Value() float64 { return m.current }

// Ready reports whether the window has seen `window` values.
func (m *Mean) Ready() bool { return m.count >= m.window }

// Window returns the configured window length.
func (m *Mean) Window() int { return m.window }

// resum recomputes the running sum exactly from the buffer contents.
func (m *Mean) resum() {
	n := m.count
	if n > m.window {
		n = m.window
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += m.buf[i]
	}
	m.sum = sum
}

// Reset clears the aggregator for reuse.
func (m *Mean) Reset() {
	m.idx = 0
	m.count = 0
	m.sum = 0
	m.current = 0
	m.pushes = 0
	for i := range m.buf {
		m.buf[i] = 0
	}
}

// MeanState is the serializable state of a Mean, for checkpointing.
type MeanState struct {
	Window  int       `json:"window"`
	Buf     []float64 `json:"buf"`
	Idx     int       `json:"idx"`
	Count   int       `json:"count"`
	Sum     float64   `json:"sum"`
	Current float64   `json:"current"`
}

// State captures the aggregator state.
func (m *Mean) State() MeanState {
	buf := make([]float64, len(m.buf))
	copy(buf, m.buf)
	return MeanState{
		Window:  m.window,
		Buf:     buf,
		Idx:     m.idx,
		Count:   m.count,
		Sum:     m.sum,
		Current: m.current,
	}
}

// RestoreState restores the aggregator from a checkpoint.
func (m *Mean) RestoreState(st MeanState) {
	m.window = st.Window
	m.idx = st.Idx
	m.count = st.Count
	m.sum = st.Sum
	m.current = st.Current
	m.pushes = 0
	if len(st.Buf) == st.Window {
		m.buf = make([]float64, len(st.Buf))
		copy(m.buf, st.Buf)
	} else {
		m.buf = make([]float64, st.Window)
	}
}
