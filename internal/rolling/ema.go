package rolling

// EMA maintains an exponential moving average with smoothing factor
// α = 2/(span+1). The first value seeds the average directly (no warm-up
// bias correction), so the EMA is defined from the very first push.
// O(1) per update — no window storage needed.
type EMA struct {
	span    int
	alpha   float64
	current float64
	count   int
}

// NewEMA creates an EMA with the given span.
func NewEMA(span int) *EMA {
	return &EMA{
		span:  span,
		alpha: 2.0 / float64(span+1),
	}
}

// Push adds a value and returns the current average.
func (e *EMA) Push(v float64) float64 {
	e.count++
	if e.count == 1 {
		e.current = v
		return e.current
	}
	e.current = v*e.alpha + e.current*(1-e.alpha)
	return e.current
}

// Value returns the current average. Meaningless until Ready.
func (e *EMA) Value() float64 { return e.current }

// Ready reports whether at least one value has been pushed.
func (e *EMA) Ready() bool { return e.count >= 1 }

// Span returns the configured span.
func (e *EMA) Span() int { return e.span }

// Reset clears the aggregator for reuse.
func (e *EMA) Reset() {
	e.current = 0
	e.count = 0
}

// EMAState is the serializable state of an EMA, for checkpointing.
type EMAState struct {
	Span    int     `json:"span"`
	Current float64 `json:"current"`
	Count   int     `json:"count"`
}

// State captures the aggregator state.
func (e *EMA) State() EMAState {
	return EMAState{Span: e.span, Current: e.current, Count: e.count}
}

// RestoreState restores the aggregator from a checkpoint.
func (e *EMA) RestoreState(st EMAState) {
	e.span = st.Span
	e.alpha = 2.0 / float64(st.Span+1)
	e.current = st.Current
	e.count = st.Count
}
