package indicator

import (
	"math"
	"testing"

	"stock-evalv1/internal/model"
)

// ────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────

func closeBar(closeCents int64) model.Bar {
	return model.Bar{
		Symbol: "TEST",
		Open:   closeCents,
		High:   closeCents + 50,
		Low:    closeCents - 50,
		Close:  closeCents,
	}
}

func hlcBar(highCents, lowCents, closeCents int64) model.Bar {
	return model.Bar{
		Symbol: "TEST",
		High:   highCents,
		Low:    lowCents,
		Close:  closeCents,
	}
}

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

// ────────────────────────────────────────────────────────────
// EMA Correctness
// ────────────────────────────────────────────────────────────

func TestEMA_DefinedFromFirstBar(t *testing.T) {
	ema := NewEMA(9)
	ema.Update(closeBar(10000))
	if !ema.Ready() {
		t.Fatal("EMA must be defined from the first bar")
	}
	assertClose(t, "EMA seed", ema.Value(), 100.0, 1e-9)
}

func TestEMA_ConstantSequence(t *testing.T) {
	// EMA(3) on closes [10,10,10,10] must yield [10,10,10,10].
	ema := NewEMA(3)
	for i := 0; i < 4; i++ {
		ema.Update(closeBar(1000))
		assertClose(t, "EMA constant", ema.Value(), 10.0, 1e-12)
	}
}

func TestEMA_Correctness_Span3(t *testing.T) {
	// EMA(3): α = 2/(3+1) = 0.5, seeded with the first close.
	// Closes (dollars): 100, 102, 104, 103
	// Bar 1: 100
	// Bar 2: 102*0.5 + 100*0.5  = 101
	// Bar 3: 104*0.5 + 101*0.5  = 102.5
	// Bar 4: 103*0.5 + 102.5*0.5 = 102.75
	ema := NewEMA(3)
	prices := []int64{10000, 10200, 10400, 10300}
	expected := []float64{100.0, 101.0, 102.5, 102.75}

	for i, p := range prices {
		ema.Update(closeBar(p))
		assertClose(t, "EMA(3)", ema.Value(), expected[i], 1e-9)
	}
}

// ────────────────────────────────────────────────────────────
// RSI Correctness (simple rolling-mean smoothing)
// ────────────────────────────────────────────────────────────

func TestRSI_Correctness_Window3(t *testing.T) {
	// Closes: 10, 12, 11, 13 → deltas +2, −1, +2
	// gains mean = (2+0+2)/3 = 4/3, losses mean = (0+1+0)/3 = 1/3
	// RS = 4 → RSI = 100 − 100/5 = 80
	rsi := NewRSI(3)
	for _, p := range []int64{1000, 1200, 1100, 1300} {
		rsi.Update(closeBar(p))
	}
	if !rsi.Ready() {
		t.Fatal("RSI(3) must be defined after 4 bars")
	}
	assertClose(t, "RSI(3)", rsi.Value(), 80.0, 1e-9)
}

func TestRSI_LookbackAndRange(t *testing.T) {
	// RSI(3) is defined starting at the 4th bar and stays within [0, 100].
	rsi := NewRSI(3)
	closes := []int64{1000, 1200, 1100, 1300, 1500, 1400, 1600, 1800, 1700, 1900}
	for i, p := range closes {
		rsi.Update(closeBar(p))
		wantReady := i >= 3
		if rsi.Ready() != wantReady {
			t.Errorf("bar %d: Ready()=%v, want %v", i, rsi.Ready(), wantReady)
		}
		if rsi.Ready() {
			if v := rsi.Value(); v < 0 || v > 100 {
				t.Errorf("bar %d: RSI=%v outside [0,100]", i, v)
			}
		}
	}
}

func TestRSI_AllGainsIsHundred(t *testing.T) {
	// Monotonically rising closes → zero loss average → RSI = 100 exactly.
	rsi := NewRSI(3)
	for i := 0; i < 10; i++ {
		rsi.Update(closeBar(int64(1000 + i*100)))
	}
	assertClose(t, "RSI all gains", rsi.Value(), 100.0, 1e-12)
}

func TestRSI_AllLossesIsZero(t *testing.T) {
	rsi := NewRSI(3)
	for i := 0; i < 10; i++ {
		rsi.Update(closeBar(int64(5000 - i*100)))
	}
	assertClose(t, "RSI all losses", rsi.Value(), 0.0, 1e-12)
}

func TestRSI_FlatClosesIsHundred(t *testing.T) {
	// Zero deltas mean zero losses AND zero gains: by the zero-denominator
	// convention the value is pinned at 100, not NaN.
	rsi := NewRSI(3)
	for i := 0; i < 8; i++ {
		rsi.Update(closeBar(1000))
	}
	assertClose(t, "RSI flat", rsi.Value(), 100.0, 1e-12)
	if math.IsNaN(rsi.Value()) {
		t.Fatal("RSI must never be NaN")
	}
}

// ────────────────────────────────────────────────────────────
// Wilder RSI (distinct variant)
// ────────────────────────────────────────────────────────────

func TestRSIWilder_SeedMatchesSimpleMean(t *testing.T) {
	// The first Wilder value is seeded from plain averages, so at bar
	// window+1 both variants agree; they diverge afterwards.
	simple := NewRSI(3)
	wilder := NewRSIWilder(3)
	closes := []int64{1000, 1200, 1100, 1300}
	for _, p := range closes {
		simple.Update(closeBar(p))
		wilder.Update(closeBar(p))
	}
	assertClose(t, "Wilder seed", wilder.Value(), simple.Value(), 1e-9)
}

func TestRSIWilder_Smoothing(t *testing.T) {
	// Continue from the seed: closes 10,12,11,13 then 12.
	// Seed: avgGain=4/3, avgLoss=1/3.
	// Bar 5 delta = −1: avgGain=(4/3*2)/3=8/9, avgLoss=(1/3*2+1)/3=5/9
	// RS = 8/5 → RSI = 100 − 100/(1+1.6) = 61.538461...
	wilder := NewRSIWilder(3)
	for _, p := range []int64{1000, 1200, 1100, 1300, 1200} {
		wilder.Update(closeBar(p))
	}
	assertClose(t, "Wilder RSI", wilder.Value(), 100.0-100.0/(1.0+1.6), 1e-9)
}

// ────────────────────────────────────────────────────────────
// Bollinger Bands
// ────────────────────────────────────────────────────────────

func TestBollinger_Correctness(t *testing.T) {
	// Window 3, k=2, closes 100, 102, 104.
	// Center EMA(3): 100 → 101 → 102.5
	// Population std of [100,102,104] = sqrt(8/3)
	ema := NewEMA(3)
	boll := NewBollinger(3, 2.0, ema)

	for _, p := range []int64{10000, 10200, 10400} {
		b := closeBar(p)
		ema.Update(b)
		boll.Update(b)
	}
	if !boll.Ready() {
		t.Fatal("Bollinger(3) must be ready after 3 bars")
	}

	std := math.Sqrt(8.0 / 3.0)
	upper, mid, lower := boll.Bands()
	assertClose(t, "BOLL mid", mid, 102.5, 1e-9)
	assertClose(t, "BOLL upper", upper, 102.5+2*std, 1e-9)
	assertClose(t, "BOLL lower", lower, 102.5-2*std, 1e-9)

	outs := boll.Outputs()
	assertClose(t, "BOLL upper output", outs["BOLL_3_UPPER"], upper, 1e-12)
	assertClose(t, "BOLL lower output", outs["BOLL_3_LOWER"], lower, 1e-12)
}

func TestBollinger_ZeroVolatilityCollapses(t *testing.T) {
	ema := NewEMA(4)
	boll := NewBollinger(4, 2.0, ema)
	for i := 0; i < 10; i++ {
		b := closeBar(20000)
		ema.Update(b)
		boll.Update(b)
	}
	upper, mid, lower := boll.Bands()
	assertClose(t, "BOLL flat upper", upper, 200.0, 1e-9)
	assertClose(t, "BOLL flat mid", mid, 200.0, 1e-9)
	assertClose(t, "BOLL flat lower", lower, 200.0, 1e-9)
}

func TestBollinger_NotReadyUntilWindow(t *testing.T) {
	// EMA is ready from bar 1 but the deviation window needs 3 bars.
	ema := NewEMA(3)
	boll := NewBollinger(3, 2.0, ema)
	for i := 0; i < 2; i++ {
		b := closeBar(10000)
		ema.Update(b)
		boll.Update(b)
		if boll.Ready() {
			t.Fatalf("ready after %d bars, window=3", i+1)
		}
	}
}

// ────────────────────────────────────────────────────────────
// Stochastic %K
// ────────────────────────────────────────────────────────────

func TestStochastic_Correctness(t *testing.T) {
	// Window 3: highs 10.50, 12.50, 11.50; lows 9.50, 10.50, 10.50; close 11.
	// %K = 100·(11 − 9.5)/(12.5 − 9.5) = 50
	st := NewStochastic(3)
	st.Update(hlcBar(1050, 950, 1000))
	st.Update(hlcBar(1250, 1050, 1200))
	if st.Ready() {
		t.Fatal("stochastic ready before window satisfied")
	}
	st.Update(hlcBar(1150, 1050, 1100))
	if !st.Ready() {
		t.Fatal("stochastic must be ready after window bars")
	}
	assertClose(t, "%K", st.Value(), 50.0, 1e-9)
}

func TestStochastic_RangeAndFlatWindow(t *testing.T) {
	// %K stays in [0,100]; a flat window (High==Low throughout) yields 0.
	st := NewStochastic(3)
	for i := 0; i < 10; i++ {
		st.Update(hlcBar(1000, 1000, 1000))
		if st.Ready() {
			assertClose(t, "%K flat", st.Value(), 0.0, 1e-12)
		}
	}

	st2 := NewStochastic(3)
	highs := []int64{1100, 1300, 1200, 1400, 1250}
	for i, h := range highs {
		st2.Update(hlcBar(h, h-200, h-100))
		if st2.Ready() {
			if v := st2.Value(); v < 0 || v > 100 {
				t.Errorf("bar %d: %%K=%v outside [0,100]", i, v)
			}
		}
	}
}

// ────────────────────────────────────────────────────────────
// Definitions
// ────────────────────────────────────────────────────────────

func TestDefinition_Validation(t *testing.T) {
	cases := []struct {
		def     Definition
		wantErr bool
	}{
		{Definition{Type: TypeEMA, Period: 20}, false},
		{Definition{Type: TypeRSI, Period: 14}, false},
		{Definition{Type: TypeBollinger, Period: 20, K: 2}, false},
		{Definition{Type: TypeStochastic, Period: 14}, false},
		{Definition{Type: TypeEMA, Period: 0}, true},
		{Definition{Type: TypeRSI, Period: -3}, true},
		{Definition{Type: "MACD", Period: 12}, true},
		{Definition{Type: TypeBollinger, Period: 20, K: -1}, true},
	}
	for _, tc := range cases {
		err := tc.def.Validate()
		if (err != nil) != tc.wantErr {
			t.Errorf("%+v: err=%v, wantErr=%v", tc.def, err, tc.wantErr)
		}
	}
}

func TestDefinition_FailsAtDefinitionTimeNotCompute(t *testing.T) {
	_, err := New(Definition{Type: TypeRSI, Period: 0}, nil)
	if err == nil {
		t.Fatal("expected error for window<=0 at construction")
	}
}

func TestValidateDefinitions_RejectsDuplicates(t *testing.T) {
	defs := []Definition{
		{Type: TypeEMA, Period: 20},
		{Type: TypeEMA, Period: 20},
	}
	if err := ValidateDefinitions(defs); err == nil {
		t.Fatal("expected duplicate definition error")
	}
}
