package indicator

import (
	"stock-evalv1/internal/model"
	"stock-evalv1/internal/rolling"
)

// RSI calculates the Relative Strength Index using simple rolling-mean
// smoothing of gains and losses:
//
//	RSI = 100 − 100/(1 + mean(gains, window)/mean(losses, window))
//
// A zero loss average means an all-gain window and yields exactly 100 —
// a valid market condition, never NaN. Defined after window+1 bars
// (the first bar produces no delta).
type RSI struct {
	name      string
	window    int
	count     int
	prevClose float64
	gains     *rolling.Mean
	losses    *rolling.Mean
	current   float64
}

// NewRSI creates an RSI indicator with the given window (typically 14).
func NewRSI(window int) *RSI {
	return &RSI{
		name:   TypeRSI + "_" + model.Itoa(window),
		window: window,
		gains:  rolling.NewMean(window),
		losses: rolling.NewMean(window),
	}
}

func (r *RSI) Name() string { return r.name }

func (r *RSI) Update(bar model.Bar) {
	price := bar.CloseDollars()
	r.count++

	if r.count == 1 {
		// First bar — just record price, no delta yet
		r.prevClose = price
		return
	}

	delta := price - r.prevClose
	r.prevClose = price

	gain, loss := 0.0, 0.0
	if delta > 0 {
		gain = delta
	} else {
		loss = -delta
	}

	avgGain := r.gains.Push(gain)
	avgLoss := r.losses.Push(loss)
	if !r.gains.Ready() {
		return
	}

	if avgLoss == 0 {
		r.current = 100.0
		return
	}
	rs := avgGain / avgLoss
	r.current = 100.0 - (100.0 / (1.0 + rs))
}

func (r *RSI) Value() float64 { return r.current }
func (r *RSI) Ready() bool    { return r.count >= r.window+1 }

// Snapshot serializes the RSI state for checkpoint persistence.
func (r *RSI) Snapshot() Snapshot {
	gains := r.gains.State()
	losses := r.losses.State()
	return Snapshot{
		Type:      TypeRSI,
		Name:      r.name,
		Period:    r.window,
		Count:     r.count,
		PrevClose: r.prevClose,
		Current:   r.current,
		Gains:     &gains,
		Losses:    &losses,
	}
}

// RestoreFromSnapshot restores RSI state from a checkpoint.
func (r *RSI) RestoreFromSnapshot(snap Snapshot) error {
	if snap.Gains == nil || snap.Losses == nil {
		return errMissingState(snap.Name, "gains/losses")
	}
	r.name = snap.Name
	r.window = snap.Period
	r.count = snap.Count
	r.prevClose = snap.PrevClose
	r.current = snap.Current
	r.gains.RestoreState(*snap.Gains)
	r.losses.RestoreState(*snap.Losses)
	return nil
}
