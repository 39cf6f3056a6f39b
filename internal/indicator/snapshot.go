package indicator

import (
	"fmt"

	"stock-evalv1/internal/rolling"
)

// Snapshottable is implemented by indicators that support state serialization.
type Snapshottable interface {
	Indicator
	Snapshot() Snapshot
	RestoreFromSnapshot(snap Snapshot) error
}

// Snapshot holds the serialized state of a single indicator instance.
// Only the fields relevant to the indicator type are populated.
type Snapshot struct {
	Type   string  `json:"type"`
	Name   string  `json:"name"`
	Period int     `json:"period"`
	K      float64 `json:"k,omitempty"`

	Count     int     `json:"count,omitempty"`
	PrevClose float64 `json:"prev_close,omitempty"`
	Current   float64 `json:"current,omitempty"`

	// Wilder RSI running averages
	AvgGain float64 `json:"avg_gain,omitempty"`
	AvgLoss float64 `json:"avg_loss,omitempty"`

	// Rolling aggregator states
	EMA     *rolling.EMAState    `json:"ema,omitempty"`
	Gains   *rolling.MeanState   `json:"gains,omitempty"`
	Losses  *rolling.MeanState   `json:"losses,omitempty"`
	Std     *rolling.StdState    `json:"std,omitempty"`
	LowMin  *rolling.MinMaxState `json:"low_min,omitempty"`
	HighMax *rolling.MinMaxState `json:"high_max,omitempty"`
}

func errMissingState(name, field string) error {
	return fmt.Errorf("indicator snapshot for %s: missing %s state", name, field)
}
