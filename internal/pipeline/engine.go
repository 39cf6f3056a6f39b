package pipeline

import (
	"context"
	"fmt"

	"stock-evalv1/internal/indicator"
	"stock-evalv1/internal/model"
	"stock-evalv1/internal/series"
)

// Engine evaluates one indicator set across multiple instruments.
// Designed for single-goroutine usage — no locks needed. Streams are
// created lazily on the first bar of each symbol; independent symbols
// never share state.
type Engine struct {
	sorted  []indicator.Definition // validated, dependency-closed, topo order
	streams map[string]*Stream
}

// NewEngine validates the definitions, closes over their dependencies and
// fixes the evaluation order. Invalid definitions, duplicates and cycles
// fail here, before any bar is processed.
func NewEngine(defs []indicator.Definition) (*Engine, error) {
	sorted, err := sortDefinitions(defs)
	if err != nil {
		return nil, err
	}
	return &Engine{
		sorted:  sorted,
		streams: make(map[string]*Stream, 64),
	}, nil
}

// Definitions returns the active definition set in evaluation order.
func (e *Engine) Definitions() []indicator.Definition { return e.sorted }

// Stream returns the evaluation stream for a symbol, or nil if no bar for
// it has been processed yet.
func (e *Engine) Stream(symbol string) *Stream { return e.streams[symbol] }

// Symbols returns all symbols with an active stream.
func (e *Engine) Symbols() []string {
	out := make([]string, 0, len(e.streams))
	for sym := range e.streams {
		out = append(out, sym)
	}
	return out
}

// MaxLookback returns the number of bars needed to warm up the slowest
// indicator from a cold start. RSI variants consume one extra bar for the
// first close-to-close delta.
func (e *Engine) MaxLookback() int {
	max := 0
	for _, d := range e.sorted {
		need := d.Period
		if d.Type == indicator.TypeRSI || d.Type == indicator.TypeRSIWilder {
			need++
		}
		if need > max {
			max = need
		}
	}
	return max
}

// Process takes one finalized bar and computes all features for its symbol.
// The returned record carries every configured feature, not-ready ones
// flagged with Ready=false. Rejected bars return series.ErrDuplicate or
// series.ErrOutOfOrder with no state change.
func (e *Engine) Process(bar model.Bar) (model.FeatureRecord, error) {
	st, exists := e.streams[bar.Symbol]
	if !exists {
		// First bar for this symbol — create the stream
		var err error
		st, err = newStream(bar.Symbol, e.sorted, series.New(bar.Symbol))
		if err != nil {
			return model.FeatureRecord{}, err
		}
		e.streams[bar.Symbol] = st
	}
	return st.Apply(bar)
}

// Replay drains a cursor through Process and returns one record per bar.
// Feeding the same bars one at a time through Process yields records equal
// to a single Replay over them.
func (e *Engine) Replay(cur *series.Cursor) ([]model.FeatureRecord, error) {
	out := make([]model.FeatureRecord, 0, cur.Remaining())
	for {
		bar, ok := cur.Next()
		if !ok {
			return out, nil
		}
		rec, err := e.Process(bar)
		if err != nil {
			return out, fmt.Errorf("replay %s at %s: %w", bar.Symbol, bar.TS.Format("2006-01-02T15:04:05Z"), err)
		}
		out = append(out, rec)
	}
}

// Run consumes bars and emits feature records. Blocks until ctx done or the
// input channel closes. Rejected bars are counted by the caller's sink via
// the error callback; nil onErr drops them silently.
func (e *Engine) Run(ctx context.Context, barCh <-chan model.Bar, recordCh chan<- model.FeatureRecord, onErr func(model.Bar, error)) {
	for {
		select {
		case <-ctx.Done():
			return
		case bar, ok := <-barCh:
			if !ok {
				return
			}
			rec, err := e.Process(bar)
			if err != nil {
				if onErr != nil {
					onErr(bar, err)
				}
				continue
			}
			select {
			case recordCh <- rec:
			default:
				// drop if channel full
			}
		}
	}
}
