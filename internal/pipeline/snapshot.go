package pipeline

import (
	"log"
	"time"

	"stock-evalv1/internal/indicator"
	"stock-evalv1/internal/series"
)

// StreamSnapshot holds indicator snapshots for a single symbol.
type StreamSnapshot struct {
	Symbol     string               `json:"symbol"`
	LastTSMs   int64                `json:"last_ts_ms"` // last accepted bar timestamp
	Indicators []indicator.Snapshot `json:"indicators"`
}

// EngineSnapshot holds the full state of a pipeline engine.
type EngineSnapshot struct {
	StreamID string           `json:"stream_id"` // Redis Stream ID at checkpoint time
	Streams  []StreamSnapshot `json:"streams"`
	Version  int              `json:"version"` // schema version for forward compat
}

// SnapshotEngine captures the state of every active stream. Bar history is
// not serialized; the restore path rebuilds warmth from indicator state and
// guards ordering with the recorded last timestamp.
func SnapshotEngine(e *Engine, streamID string) *EngineSnapshot {
	snap := &EngineSnapshot{
		StreamID: streamID,
		Version:  1,
		Streams:  make([]StreamSnapshot, 0, len(e.streams)),
	}
	for sym, st := range e.streams {
		ss := StreamSnapshot{
			Symbol:     sym,
			LastTSMs:   st.lastTS.UnixMilli(),
			Indicators: make([]indicator.Snapshot, 0, len(st.order)),
		}
		for _, ind := range st.order {
			si, ok := ind.(indicator.Snapshottable)
			if !ok {
				continue // stays cold after restore
			}
			ss.Indicators = append(ss.Indicators, si.Snapshot())
		}
		snap.Streams = append(snap.Streams, ss)
	}
	return snap
}

// RestoreEngine rebuilds an engine from a snapshot. It is tolerant of
// definition changes — indicators are matched by name rather than by index.
// Matching indicators get their state restored; new ones start fresh (cold);
// removed ones are silently skipped.
func RestoreEngine(defs []indicator.Definition, snap *EngineSnapshot) (*Engine, error) {
	e, err := NewEngine(defs)
	if err != nil {
		return nil, err
	}

	for _, ss := range snap.Streams {
		st, err := newStream(ss.Symbol, e.sorted, series.New(ss.Symbol))
		if err != nil {
			return nil, err
		}
		if ss.LastTSMs > 0 {
			st.lastTS = time.UnixMilli(ss.LastTSMs).UTC()
		}

		snapByName := make(map[string]indicator.Snapshot, len(ss.Indicators))
		for _, is := range ss.Indicators {
			snapByName[is.Name] = is
		}

		restored, cold := 0, 0
		for _, ind := range st.order {
			is, found := snapByName[ind.Name()]
			if !found {
				cold++
				continue // new indicator — stays fresh/zero
			}
			si, ok := ind.(indicator.Snapshottable)
			if !ok {
				cold++
				continue
			}
			if err := si.RestoreFromSnapshot(is); err != nil {
				// Non-fatal: leave cold rather than refuse the whole restore
				cold++
				continue
			}
			restored++
		}
		if cold > 0 {
			log.Printf("[restorer] symbol=%s: restored %d, cold-started %d indicators",
				ss.Symbol, restored, cold)
		}

		e.streams[ss.Symbol] = st
	}
	return e, nil
}
