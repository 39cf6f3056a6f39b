package indicator

import "stock-evalv1/internal/model"

// RSIWilder calculates the Relative Strength Index using Wilder's
// exponential smoothing. This is a distinct indicator variant, not a
// substitute for the rolling-mean RSI: the two disagree on all but
// trivial inputs. Update is O(1) per bar — no history scans.
type RSIWilder struct {
	name      string
	window    int
	count     int
	prevClose float64
	avgGain   float64
	avgLoss   float64
	current   float64
}

// NewRSIWilder creates a Wilder-smoothed RSI with the given window.
func NewRSIWilder(window int) *RSIWilder {
	return &RSIWilder{
		name:   TypeRSIWilder + "_" + model.Itoa(window),
		window: window,
	}
}

func (r *RSIWilder) Name() string { return r.name }

func (r *RSIWilder) Update(bar model.Bar) {
	price := bar.CloseDollars()
	r.count++

	if r.count == 1 {
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

	if r.count <= r.window+1 {
		// Accumulation phase: build initial averages
		r.avgGain += gain
		r.avgLoss += loss

		if r.count == r.window+1 {
			r.avgGain /= float64(r.window)
			r.avgLoss /= float64(r.window)
			r.recalc()
		}
		return
	}

	// Wilder smoothing: avg = (prevAvg*(window-1) + x) / window
	w := float64(r.window)
	r.avgGain = (r.avgGain*(w-1) + gain) / w
	r.avgLoss = (r.avgLoss*(w-1) + loss) / w
	r.recalc()
}

func (r *RSIWilder) recalc() {
	if r.avgLoss == 0 {
		r.current = 100.0
		return
	}
	rs := r.avgGain / r.avgLoss
	r.current = 100.0 - (100.0 / (1.0 + rs))
}

func (r *RSIWilder) Value() float64 { return r.current }
func (r *RSIWilder) Ready() bool    { return r.count >= r.window+1 }

// Snapshot serializes the state for checkpoint persistence.
func (r *RSIWilder) Snapshot() Snapshot {
	return Snapshot{
		Type:      TypeRSIWilder,
		Name:      r.name,
		Period:    r.window,
		Count:     r.count,
		PrevClose: r.prevClose,
		AvgGain:   r.avgGain,
		AvgLoss:   r.avgLoss,
		Current:   r.current,
	}
}

// RestoreFromSnapshot restores state from a checkpoint.
func (r *RSIWilder) RestoreFromSnapshot(snap Snapshot) error {
	r.name = snap.Name
	r.window = snap.Period
	r.count = snap.Count
	r.prevClose = snap.PrevClose
	r.avgGain = snap.AvgGain
	r.avgLoss = snap.AvgLoss
	r.current = snap.Current
	return nil
}
