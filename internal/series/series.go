// Package series provides the append-only OHLCV bar store that all
// indicator computation reads from. One Series holds the ordered history
// of a single instrument; a Store keys independent Series by symbol.
package series

import (
	"errors"
	"sort"
	"sync"
	"time"

	"stock-evalv1/internal/model"
)

// ErrOutOfOrder is returned when a bar's timestamp is not strictly after
// the last appended bar.
var ErrOutOfOrder = errors.New("series: bar timestamp out of order")

// ErrDuplicate is returned when a bar's timestamp equals an already
// appended timestamp.
var ErrDuplicate = errors.New("series: duplicate bar timestamp")

// Series is an ordered, append-only sequence of bars for one instrument.
// Timestamps are strictly increasing. The only permitted mutation of
// historical data is TrimBefore, used to bound memory on long-running streams.
type Series struct {
	symbol string

	mu   sync.RWMutex
	bars []model.Bar
}

// New creates an empty Series for the given symbol.
func New(symbol string) *Series {
	return &Series{symbol: symbol}
}

// Symbol returns the instrument this series belongs to.
func (s *Series) Symbol() string { return s.symbol }

// Append adds a bar to the end of the series. The series is left unchanged
// when the bar is rejected: ErrDuplicate if the timestamp was already
// appended, ErrOutOfOrder if it precedes the last appended timestamp.
func (s *Series) Append(bar model.Bar) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.bars); n > 0 {
		last := s.bars[n-1].TS
		if bar.TS.Equal(last) {
			return ErrDuplicate
		}
		if bar.TS.Before(last) {
			return ErrOutOfOrder
		}
	}
	s.bars = append(s.bars, bar)
	return nil
}

// Len returns the number of bars currently held.
func (s *Series) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bars)
}

// Last returns the most recent bar, if any.
func (s *Series) Last() (model.Bar, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.bars) == 0 {
		return model.Bar{}, false
	}
	return s.bars[len(s.bars)-1], true
}

// Range returns a cursor over bars with start <= TS < end, ascending.
// The cursor sees a consistent view as of the call: bars appended afterwards
// are not included, and TrimBefore on the series does not invalidate it.
func (s *Series) Range(start, end time.Time) *Cursor {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lo := sort.Search(len(s.bars), func(i int) bool {
		return !s.bars[i].TS.Before(start)
	})
	hi := sort.Search(len(s.bars), func(i int) bool {
		return !s.bars[i].TS.Before(end)
	})
	return &Cursor{bars: s.bars[lo:hi]}
}

// All returns a cursor over every bar currently in the series.
func (s *Series) All() *Cursor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &Cursor{bars: s.bars}
}

// TrimBefore drops all bars with TS < cutoff and returns how many were
// dropped. This is the retention operation for bounded-memory streams;
// ordering of the remaining bars is untouched.
func (s *Series) TrimBefore(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := sort.Search(len(s.bars), func(i int) bool {
		return !s.bars[i].TS.Before(cutoff)
	})
	if k == 0 {
		return 0
	}
	// Reslice rather than copy: existing cursors keep their snapshot view.
	s.bars = s.bars[k:]
	return k
}

// Cursor is a lazy, finite, restartable iterator over a fixed range of bars.
type Cursor struct {
	bars []model.Bar
	next int
}

// Next returns the next bar in ascending time order, or false when exhausted.
func (c *Cursor) Next() (model.Bar, bool) {
	if c.next >= len(c.bars) {
		return model.Bar{}, false
	}
	bar := c.bars[c.next]
	c.next++
	return bar, true
}

// Reset rewinds the cursor to the beginning of its range.
func (c *Cursor) Reset() { c.next = 0 }

// Remaining returns how many bars are left to iterate.
func (c *Cursor) Remaining() int { return len(c.bars) - c.next }

// Store holds one Series per symbol. Safe for concurrent use; each Series
// guards its own state, so independent instruments never contend.
type Store struct {
	mu sync.RWMutex
	m  map[string]*Series
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{m: make(map[string]*Series, 64)}
}

// Get returns the series for symbol, or nil if none exists.
func (st *Store) Get(symbol string) *Series {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.m[symbol]
}

// GetOrCreate returns the series for symbol, creating it if needed.
func (st *Store) GetOrCreate(symbol string) *Series {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.m[symbol]
	if !ok {
		s = New(symbol)
		st.m[symbol] = s
	}
	return s
}

// Symbols returns all symbols with a series, in no particular order.
func (st *Store) Symbols() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]string, 0, len(st.m))
	for sym := range st.m {
		out = append(out, sym)
	}
	return out
}
