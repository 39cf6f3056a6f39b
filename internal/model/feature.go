package model

import (
	"encoding/json"
	"time"
)

// FeatureValue is one computed indicator output. Ready is false while the
// indicator's lookback window is not yet satisfied — the explicit "undefined"
// marker; Value is meaningless in that case.
type FeatureValue struct {
	Value float64 `json:"value"`
	Ready bool    `json:"ready"`
}

// FeatureRecord is the merged per-bar output of one evaluation stream:
// a mapping from indicator name (e.g. "EMA_20", "RSI_14") to its value.
// Records are derived data — produced once per bar, never mutated, and
// recomputable at any time from the series and the indicator definitions.
type FeatureRecord struct {
	Symbol   string                  `json:"symbol"`
	TS       time.Time               `json:"ts"`
	Features map[string]FeatureValue `json:"features"`
}

// StreamKey returns the Redis stream key: "feat:{symbol}".
func (r *FeatureRecord) StreamKey() string {
	return "feat:" + r.Symbol
}

// PubSubChannel returns the pubsub channel for real-time subscribers.
func (r *FeatureRecord) PubSubChannel() string {
	return "pub:feat:" + r.Symbol
}

// JSON returns the JSON-encoded record.
func (r *FeatureRecord) JSON() []byte {
	data, _ := json.Marshal(r)
	return data
}

// Ready reports whether the named feature is present and defined.
func (r *FeatureRecord) Ready(name string) bool {
	fv, ok := r.Features[name]
	return ok && fv.Ready
}

// Value returns the named feature value and whether it is defined.
func (r *FeatureRecord) Value(name string) (float64, bool) {
	fv, ok := r.Features[name]
	if !ok || !fv.Ready {
		return 0, false
	}
	return fv.Value, true
}
