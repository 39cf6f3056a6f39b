package series

import (
	"errors"
	"testing"
	"time"

	"stock-evalv1/internal/model"
)

func bar(symbol string, ts time.Time, closeCents int64) model.Bar {
	return model.Bar{
		Symbol: symbol,
		TS:     ts,
		Open:   closeCents,
		High:   closeCents + 50,
		Low:    closeCents - 50,
		Close:  closeCents,
		Volume: 1000,
	}
}

var t0 = time.Date(2024, 6, 3, 14, 30, 0, 0, time.UTC)

func minuteBar(i int, closeCents int64) model.Bar {
	return bar("AAPL", t0.Add(time.Duration(i)*time.Minute), closeCents)
}

func TestSeries_AppendOrdered(t *testing.T) {
	s := New("AAPL")
	for i := 0; i < 5; i++ {
		if err := s.Append(minuteBar(i, int64(10000+i*100))); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if s.Len() != 5 {
		t.Fatalf("expected len=5, got %d", s.Len())
	}
	last, ok := s.Last()
	if !ok || last.Close != 10400 {
		t.Fatalf("expected last close=10400, got %v ok=%v", last.Close, ok)
	}
}

func TestSeries_RejectsDuplicate(t *testing.T) {
	s := New("AAPL")
	if err := s.Append(minuteBar(0, 10000)); err != nil {
		t.Fatalf("append: %v", err)
	}
	err := s.Append(minuteBar(0, 20000))
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	// Series must be unchanged after rejection
	if s.Len() != 1 {
		t.Fatalf("expected len=1 after rejected append, got %d", s.Len())
	}
	last, _ := s.Last()
	if last.Close != 10000 {
		t.Fatalf("rejected append mutated series: close=%d", last.Close)
	}
}

func TestSeries_RejectsOutOfOrder(t *testing.T) {
	s := New("AAPL")
	s.Append(minuteBar(0, 10000))
	s.Append(minuteBar(2, 10200))

	err := s.Append(minuteBar(1, 10100))
	if !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("expected ErrOutOfOrder, got %v", err)
	}
	if s.Len() != 2 {
		t.Fatalf("expected len=2 after rejected append, got %d", s.Len())
	}
}

func TestSeries_GapsAreNotErrors(t *testing.T) {
	// Missing trading days are simply absent timestamps.
	s := New("AAPL")
	if err := s.Append(minuteBar(0, 10000)); err != nil {
		t.Fatal(err)
	}
	if err := s.Append(minuteBar(100, 10100)); err != nil {
		t.Fatalf("gap append should succeed: %v", err)
	}
}

func TestSeries_RangeCursor(t *testing.T) {
	s := New("AAPL")
	for i := 0; i < 10; i++ {
		s.Append(minuteBar(i, int64(10000+i)))
	}

	cur := s.Range(t0.Add(2*time.Minute), t0.Add(6*time.Minute))
	var got []int64
	for {
		b, ok := cur.Next()
		if !ok {
			break
		}
		got = append(got, b.Close)
	}
	want := []int64{10002, 10003, 10004, 10005}
	if len(got) != len(want) {
		t.Fatalf("expected %d bars, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("bar %d: expected close=%d, got %d", i, want[i], got[i])
		}
	}
}

func TestSeries_CursorRestartable(t *testing.T) {
	s := New("AAPL")
	for i := 0; i < 4; i++ {
		s.Append(minuteBar(i, int64(10000+i)))
	}

	cur := s.All()
	first, _ := cur.Next()
	cur.Next()
	cur.Reset()
	again, ok := cur.Next()
	if !ok || !again.TS.Equal(first.TS) {
		t.Fatalf("cursor did not restart: first=%v again=%v", first.TS, again.TS)
	}
	if cur.Remaining() != 3 {
		t.Fatalf("expected 3 remaining after reset+next, got %d", cur.Remaining())
	}
}

func TestSeries_CursorUnaffectedByLaterAppends(t *testing.T) {
	s := New("AAPL")
	for i := 0; i < 3; i++ {
		s.Append(minuteBar(i, int64(10000+i)))
	}
	cur := s.All()
	s.Append(minuteBar(3, 99999))

	count := 0
	for {
		if _, ok := cur.Next(); !ok {
			break
		}
		count++
	}
	if count != 3 {
		t.Fatalf("cursor saw %d bars, expected snapshot of 3", count)
	}
}

func TestSeries_TrimBefore(t *testing.T) {
	s := New("AAPL")
	for i := 0; i < 10; i++ {
		s.Append(minuteBar(i, int64(10000+i)))
	}

	dropped := s.TrimBefore(t0.Add(4 * time.Minute))
	if dropped != 4 {
		t.Fatalf("expected 4 dropped, got %d", dropped)
	}
	if s.Len() != 6 {
		t.Fatalf("expected len=6 after trim, got %d", s.Len())
	}

	// Appends still validate against the surviving tail
	err := s.Append(minuteBar(9, 10009))
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate after trim, got %v", err)
	}
	if err := s.Append(minuteBar(10, 10010)); err != nil {
		t.Fatalf("append after trim: %v", err)
	}
}

func TestStore_IndependentSeries(t *testing.T) {
	st := NewStore()
	a := st.GetOrCreate("AAPL")
	m := st.GetOrCreate("MSFT")
	if a == m {
		t.Fatal("expected distinct series per symbol")
	}
	if st.GetOrCreate("AAPL") != a {
		t.Fatal("expected same series on repeat lookup")
	}
	if st.Get("GOOG") != nil {
		t.Fatal("expected nil for unknown symbol")
	}

	a.Append(minuteBar(0, 10000))
	if m.Len() != 0 {
		t.Fatal("append leaked across series")
	}
	if len(st.Symbols()) != 2 {
		t.Fatalf("expected 2 symbols, got %d", len(st.Symbols()))
	}
}
