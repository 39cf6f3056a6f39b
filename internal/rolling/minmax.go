package rolling

// sample pairs a value with the push sequence number that produced it,
// so stale extrema can be evicted lazily.
type sample struct {
	seq uint64
	val float64
}

// extrema is the shared monotonic-deque core behind Min and Max.
// The deque holds candidate extrema in dominance order: the front is the
// current extreme of the window, and every push evicts dominated entries
// from the back. Each value enters and leaves the deque at most once,
// so pushes are O(1) amortized — no O(window) rescans.
type extrema struct {
	window int
	deq    []sample
	seq    uint64
	// dominates reports whether a makes b redundant as a candidate.
	dominates func(a, b float64) bool
}

// Push adds a value and returns the current extreme.
func (e *extrema) Push(v float64) float64 {
	// Evict candidates the new value dominates
	for len(e.deq) > 0 && e.dominates(v, e.deq[len(e.deq)-1].val) {
		e.deq = e.deq[:len(e.deq)-1]
	}
	e.deq = append(e.deq, sample{seq: e.seq, val: v})
	e.seq++

	// Evict the front if it fell out of the window
	if e.deq[0].seq+uint64(e.window) <= e.seq-1 {
		e.deq = e.deq[1:]
	}
	return e.deq[0].val
}

// Value returns the current extreme of the window. Meaningless until Ready.
func (e *extrema) Value() float64 {
	if len(e.deq) == 0 {
		return 0
	}
	return e.deq[0].val
}

// Ready reports whether the window has seen `window` values.
func (e *extrema) Ready() bool { return e.seq >= uint64(e.window) }

// Window returns the configured window length.
func (e *extrema) Window() int { return e.window }

// Reset clears the aggregator for reuse.
func (e *extrema) Reset() {
	e.deq = e.deq[:0]
	e.seq = 0
}

// MinMaxState is the serializable state of a Min or Max, for checkpointing.
type MinMaxState struct {
	Window int       `json:"window"`
	Seq    uint64    `json:"seq"`
	Seqs   []uint64  `json:"seqs"`
	Vals   []float64 `json:"vals"`
}

// State captures the aggregator state.
func (e *extrema) State() MinMaxState {
	st := MinMaxState{
		Window: e.window,
		Seq:    e.seq,
		Seqs:   make([]uint64, len(e.deq)),
		Vals:   make([]float64, len(e.deq)),
	}
	for i, s := range e.deq {
		st.Seqs[i] = s.seq
		st.Vals[i] = s.val
	}
	return st
}

// RestoreState restores the aggregator from a checkpoint.
func (e *extrema) RestoreState(st MinMaxState) {
	e.window = st.Window
	e.seq = st.Seq
	e.deq = make([]sample, 0, len(st.Vals))
	for i := range st.Vals {
		e.deq = append(e.deq, sample{seq: st.Seqs[i], val: st.Vals[i]})
	}
}

// Min maintains the minimum of the last `window` values.
type Min struct{ extrema }

// NewMin creates a rolling minimum over the given window.
func NewMin(window int) *Min {
	return &Min{extrema{
		window:    window,
		dominates: func(a, b float64) bool { return a <= b },
	}}
}

// Max maintains the maximum of the last `window` values.
type Max struct{ extrema }

// NewMax creates a rolling maximum over the given window.
func NewMax(window int) *Max {
	return &Max{extrema{
		window:    window,
		dominates: func(a, b float64) bool { return a >= b },
	}}
}
