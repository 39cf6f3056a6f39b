package pipeline

import (
	"log"

	"stock-evalv1/internal/indicator"
)

// ReloadDefinitions swaps the engine onto a new definition set without
// losing accumulated warmup state. Indicators present in both sets carry
// their state over (matched by name, moved via snapshot so dependency
// wiring is rebuilt cleanly); genuinely new indicators cold-start.
// Returns the number of preserved and new indicator instances per stream,
// summed across streams.
func (e *Engine) ReloadDefinitions(newDefs []indicator.Definition) (preserved, created int, err error) {
	sorted, err := sortDefinitions(newDefs)
	if err != nil {
		return 0, 0, err
	}

	if definitionSetsEqual(e.sorted, sorted) {
		e.sorted = sorted
		log.Printf("[reload] definitions unchanged, preserved %d streams", len(e.streams))
		return len(e.streams) * len(sorted), 0, nil
	}

	newStreams := make(map[string]*Stream, len(e.streams))
	for sym, old := range e.streams {
		// Keep the old series: history continuity across reloads.
		st, err := newStream(sym, sorted, old.series)
		if err != nil {
			return 0, 0, err
		}
		st.lastTS = old.lastTS

		for _, ind := range st.order {
			oldInd, exists := old.byName[ind.Name()]
			if !exists {
				created++
				continue
			}
			oldSnap, okOld := oldInd.(indicator.Snapshottable)
			newSnap, okNew := ind.(indicator.Snapshottable)
			if !okOld || !okNew {
				created++
				continue
			}
			if err := newSnap.RestoreFromSnapshot(oldSnap.Snapshot()); err != nil {
				created++
				continue
			}
			preserved++
		}
		newStreams[sym] = st
	}

	e.sorted = sorted
	e.streams = newStreams
	log.Printf("[reload] definitions reloaded: %d defs, %d preserved, %d new across %d streams",
		len(sorted), preserved, created, len(newStreams))
	return preserved, created, nil
}

// definitionSetsEqual checks whether two definition slices describe the same
// indicator set (order-independent).
func definitionSetsEqual(a, b []indicator.Definition) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, d := range a {
		set[d.Name()] = true
	}
	for _, d := range b {
		if !set[d.Name()] {
			return false
		}
	}
	return true
}
