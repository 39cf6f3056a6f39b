package indicator

import (
	"stock-evalv1/internal/model"
	"stock-evalv1/internal/rolling"
)

// Bollinger calculates volatility bands at ±k standard deviations around
// an EMA of close prices. The center EMA is a dependency owned by the same
// evaluation stream and updated before this indicator on every bar, so
// Update only maintains the deviation window. Defined once both the EMA
// and the deviation window are ready.
type Bollinger struct {
	name   string
	window int
	k      float64
	center Indicator
	std    *rolling.Std
}

// NewBollinger creates Bollinger bands over the given window with band
// width k, centered on the supplied indicator (the matching EMA).
func NewBollinger(window int, k float64, center Indicator) *Bollinger {
	return &Bollinger{
		name:   TypeBollinger + "_" + model.Itoa(window),
		window: window,
		k:      k,
		center: center,
		std:    rolling.NewStd(window),
	}
}

func (b *Bollinger) Name() string { return b.name }

func (b *Bollinger) Update(bar model.Bar) {
	b.std.Push(bar.CloseDollars())
}

// Value returns the middle band (the center EMA).
func (b *Bollinger) Value() float64 { return b.center.Value() }

func (b *Bollinger) Ready() bool { return b.center.Ready() && b.std.Ready() }

// Bands returns (upper, middle, lower).
func (b *Bollinger) Bands() (float64, float64, float64) {
	mid := b.center.Value()
	spread := b.k * b.std.Value()
	return mid + spread, mid, mid - spread
}

// Outputs emits the upper and lower bands alongside the middle value.
func (b *Bollinger) Outputs() map[string]float64 {
	upper, _, lower := b.Bands()
	return map[string]float64{
		b.name + "_UPPER": upper,
		b.name + "_LOWER": lower,
	}
}

// Snapshot serializes the deviation window for checkpoint persistence.
// The center EMA checkpoints itself as its own stream indicator.
func (b *Bollinger) Snapshot() Snapshot {
	st := b.std.State()
	return Snapshot{
		Type:   TypeBollinger,
		Name:   b.name,
		Period: b.window,
		K:      b.k,
		Std:    &st,
	}
}

// RestoreFromSnapshot restores the deviation window from a checkpoint.
func (b *Bollinger) RestoreFromSnapshot(snap Snapshot) error {
	if snap.Std == nil {
		return errMissingState(snap.Name, "std")
	}
	b.name = snap.Name
	b.window = snap.Period
	if snap.K != 0 {
		b.k = snap.K
	}
	b.std.RestoreState(*snap.Std)
	return nil
}
