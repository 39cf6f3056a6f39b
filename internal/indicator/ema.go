package indicator

import (
	"stock-evalv1/internal/model"
	"stock-evalv1/internal/rolling"
)

// EMA calculates the Exponential Moving Average of close prices.
// Seeded by the first close, so it is defined from the first bar.
type EMA struct {
	name string
	ema  *rolling.EMA
}

// NewEMA creates an EMA indicator with the given span.
func NewEMA(span int) *EMA {
	return &EMA{
		name: TypeEMA + "_" + model.Itoa(span),
		ema:  rolling.NewEMA(span),
	}
}

func (e *EMA) Name() string { return e.name }

func (e *EMA) Update(bar model.Bar) {
	e.ema.Push(bar.CloseDollars())
}

func (e *EMA) Value() float64 { return e.ema.Value() }
func (e *EMA) Ready() bool    { return e.ema.Ready() }

// Snapshot serializes the EMA state for checkpoint persistence.
func (e *EMA) Snapshot() Snapshot {
	st := e.ema.State()
	return Snapshot{
		Type:   TypeEMA,
		Name:   e.name,
		Period: st.Span,
		EMA:    &st,
	}
}

// RestoreFromSnapshot restores EMA state from a checkpoint.
func (e *EMA) RestoreFromSnapshot(snap Snapshot) error {
	if snap.EMA == nil {
		return errMissingState(snap.Name, "ema")
	}
	e.name = snap.Name
	e.ema.RestoreState(*snap.EMA)
	return nil
}
