package indicator

import (
	"stock-evalv1/internal/model"
	"stock-evalv1/internal/rolling"
)

// Stochastic calculates the stochastic %K oscillator:
//
//	%K = 100 · (Close − min(Low, window)) / (max(High, window) − min(Low, window))
//
// A zero high-low range (flat window) yields %K = 0 by convention —
// a valid market condition, never NaN. Defined after window bars.
type Stochastic struct {
	name    string
	window  int
	count   int
	lowMin  *rolling.Min
	highMax *rolling.Max
	current float64
}

// NewStochastic creates a stochastic %K indicator with the given window.
func NewStochastic(window int) *Stochastic {
	return &Stochastic{
		name:    TypeStochastic + "_" + model.Itoa(window),
		window:  window,
		lowMin:  rolling.NewMin(window),
		highMax: rolling.NewMax(window),
	}
}

func (s *Stochastic) Name() string { return s.name }

func (s *Stochastic) Update(bar model.Bar) {
	low := s.lowMin.Push(bar.LowDollars())
	high := s.highMax.Push(bar.HighDollars())
	s.count++
	if s.count < s.window {
		return
	}

	span := high - low
	if span == 0 {
		s.current = 0.0
		return
	}
	s.current = 100.0 * (bar.CloseDollars() - low) / span
}

func (s *Stochastic) Value() float64 { return s.current }
func (s *Stochastic) Ready() bool    { return s.count >= s.window }

// Snapshot serializes the state for checkpoint persistence.
func (s *Stochastic) Snapshot() Snapshot {
	lo := s.lowMin.State()
	hi := s.highMax.State()
	return Snapshot{
		Type:    TypeStochastic,
		Name:    s.name,
		Period:  s.window,
		Count:   s.count,
		Current: s.current,
		LowMin:  &lo,
		HighMax: &hi,
	}
}

// RestoreFromSnapshot restores the state from a checkpoint.
func (s *Stochastic) RestoreFromSnapshot(snap Snapshot) error {
	if snap.LowMin == nil || snap.HighMax == nil {
		return errMissingState(snap.Name, "low/high extrema")
	}
	s.name = snap.Name
	s.window = snap.Period
	s.count = snap.Count
	s.current = snap.Current
	s.lowMin.RestoreState(*snap.LowMin)
	s.highMax.RestoreState(*snap.HighMax)
	return nil
}
