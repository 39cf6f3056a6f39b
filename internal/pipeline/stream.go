package pipeline

import (
	"time"

	"stock-evalv1/internal/indicator"
	"stock-evalv1/internal/model"
	"stock-evalv1/internal/series"
)

// Stream evaluates one instrument's bars against a fixed indicator set.
// Indicators are updated in dependency order, so a Bollinger always sees
// its center EMA already advanced to the current bar.
//
// Apply is atomic per bar: a rejected bar (duplicate or out-of-order
// timestamp) leaves the series and every indicator untouched.
type Stream struct {
	symbol string
	series *series.Series
	order  []indicator.Indicator // topological update order
	byName map[string]indicator.Indicator
	lastTS time.Time // survives snapshot restore, unlike series content
}

// newStream builds a stream from definitions that are already validated,
// dependency-closed and topologically sorted.
func newStream(symbol string, sorted []indicator.Definition, ser *series.Series) (*Stream, error) {
	st := &Stream{
		symbol: symbol,
		series: ser,
		order:  make([]indicator.Indicator, 0, len(sorted)),
		byName: make(map[string]indicator.Indicator, len(sorted)),
	}
	for _, d := range sorted {
		ind, err := indicator.New(d, st.byName)
		if err != nil {
			return nil, err
		}
		st.order = append(st.order, ind)
		st.byName[ind.Name()] = ind
	}
	if last, ok := ser.Last(); ok {
		st.lastTS = last.TS
	}
	return st, nil
}

// NewStream creates a stream with a fresh series for the symbol.
func NewStream(symbol string, defs []indicator.Definition) (*Stream, error) {
	sorted, err := sortDefinitions(defs)
	if err != nil {
		return nil, err
	}
	return newStream(symbol, sorted, series.New(symbol))
}

func (st *Stream) Symbol() string         { return st.symbol }
func (st *Stream) Series() *series.Series { return st.series }

// Indicator returns the named indicator instance, or nil.
func (st *Stream) Indicator(name string) indicator.Indicator { return st.byName[name] }

// Indicators returns the instances in update order.
func (st *Stream) Indicators() []indicator.Indicator { return st.order }

// LastTS returns the timestamp of the last accepted bar (zero if none).
func (st *Stream) LastTS() time.Time { return st.lastTS }

// Apply appends the bar and advances every indicator, producing the feature
// record for this timestamp. On a rejected timestamp no state changes:
// series.ErrDuplicate for a replayed timestamp, series.ErrOutOfOrder for a
// late one.
func (st *Stream) Apply(bar model.Bar) (model.FeatureRecord, error) {
	// The series check alone is not enough after a snapshot restore, where
	// history is empty but indicator state reflects bars up to lastTS.
	if !st.lastTS.IsZero() {
		if bar.TS.Equal(st.lastTS) {
			return model.FeatureRecord{}, series.ErrDuplicate
		}
		if bar.TS.Before(st.lastTS) {
			return model.FeatureRecord{}, series.ErrOutOfOrder
		}
	}
	if err := st.series.Append(bar); err != nil {
		return model.FeatureRecord{}, err
	}
	st.lastTS = bar.TS

	rec := model.FeatureRecord{
		Symbol:   st.symbol,
		TS:       bar.TS,
		Features: make(map[string]model.FeatureValue, len(st.order)+2),
	}
	for _, ind := range st.order {
		ind.Update(bar)
		ready := ind.Ready()
		rec.Features[ind.Name()] = model.FeatureValue{Value: ind.Value(), Ready: ready}
		if mo, ok := ind.(indicator.MultiOutput); ok {
			for name, v := range mo.Outputs() {
				rec.Features[name] = model.FeatureValue{Value: v, Ready: ready}
			}
		}
	}
	return rec, nil
}

// TrimBefore bounds series memory; indicator state is self-contained and
// unaffected by dropped history.
func (st *Stream) TrimBefore(cutoff time.Time) int {
	return st.series.TrimBefore(cutoff)
}
