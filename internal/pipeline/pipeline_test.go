package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"reflect"
	"testing"
	"time"

	"stock-evalv1/internal/indicator"
	"stock-evalv1/internal/model"
	"stock-evalv1/internal/series"
)

var testT0 = time.Date(2024, 6, 3, 14, 30, 0, 0, time.UTC)

func pipeBar(symbol string, i int, closeCents int64) model.Bar {
	return model.Bar{
		Symbol: symbol,
		TS:     testT0.Add(time.Duration(i) * time.Minute),
		Open:   closeCents,
		High:   closeCents + 50,
		Low:    closeCents - 50,
		Close:  closeCents,
		Volume: 1000,
	}
}

func walkBars(symbol string, n int, seed int64) []model.Bar {
	rng := rand.New(rand.NewSource(seed))
	bars := make([]model.Bar, n)
	price := int64(10000)
	for i := range bars {
		price += int64(rng.Intn(401)) - 200
		if price < 100 {
			price = 100
		}
		bars[i] = pipeBar(symbol, i, price)
	}
	return bars
}

func stdDefs() []indicator.Definition {
	return []indicator.Definition{
		{Type: indicator.TypeEMA, Period: 9},
		{Type: indicator.TypeRSI, Period: 14},
		{Type: indicator.TypeRSIWilder, Period: 14},
		{Type: indicator.TypeBollinger, Period: 9, K: 2},
		{Type: indicator.TypeStochastic, Period: 14},
	}
}

func TestEngine_BatchMatchesIncremental(t *testing.T) {
	bars := walkBars("AAPL", 300, 42)

	incremental, err := NewEngine(stdDefs())
	if err != nil {
		t.Fatal(err)
	}
	var incRecords []model.FeatureRecord
	for _, b := range bars {
		rec, err := incremental.Process(b)
		if err != nil {
			t.Fatalf("incremental process: %v", err)
		}
		incRecords = append(incRecords, rec)
	}

	src := series.New("AAPL")
	for _, b := range bars {
		if err := src.Append(b); err != nil {
			t.Fatal(err)
		}
	}
	batch, err := NewEngine(stdDefs())
	if err != nil {
		t.Fatal(err)
	}
	batchRecords, err := batch.Replay(src.All())
	if err != nil {
		t.Fatalf("replay: %v", err)
	}

	if len(batchRecords) != len(incRecords) {
		t.Fatalf("record count: batch=%d incremental=%d", len(batchRecords), len(incRecords))
	}
	for i := range incRecords {
		if !reflect.DeepEqual(incRecords[i], batchRecords[i]) {
			t.Fatalf("record %d diverges:\nincremental: %+v\nbatch:       %+v",
				i, incRecords[i], batchRecords[i])
		}
	}
}

func TestEngine_MaterializesBollingerCenter(t *testing.T) {
	// Asking for BOLL alone pulls in its EMA center, evaluated first.
	e, err := NewEngine([]indicator.Definition{
		{Type: indicator.TypeBollinger, Period: 3, K: 2},
	})
	if err != nil {
		t.Fatal(err)
	}

	var rec model.FeatureRecord
	for i, c := range []int64{10000, 10200, 10400} {
		rec, err = e.Process(pipeBar("MSFT", i, c))
		if err != nil {
			t.Fatal(err)
		}
	}

	emaFV, ok := rec.Features["EMA_3"]
	if !ok {
		t.Fatal("materialized EMA_3 missing from record")
	}
	bollFV := rec.Features["BOLL_3"]
	if !bollFV.Ready {
		t.Fatal("BOLL_3 not ready after 3 bars")
	}
	if math.Abs(bollFV.Value-emaFV.Value) > 1e-12 {
		t.Errorf("band mid %v != center EMA %v", bollFV.Value, emaFV.Value)
	}

	std := math.Sqrt(8.0 / 3.0)
	upper := rec.Features["BOLL_3_UPPER"]
	lower := rec.Features["BOLL_3_LOWER"]
	if math.Abs(upper.Value-(102.5+2*std)) > 1e-9 {
		t.Errorf("upper band: got %v", upper.Value)
	}
	if math.Abs(lower.Value-(102.5-2*std)) > 1e-9 {
		t.Errorf("lower band: got %v", lower.Value)
	}
}

func TestTopoOrder_DependencyBeforeDependent(t *testing.T) {
	sorted, err := sortDefinitions([]indicator.Definition{
		{Type: indicator.TypeBollinger, Period: 20, K: 2},
		{Type: indicator.TypeRSI, Period: 14},
	})
	if err != nil {
		t.Fatal(err)
	}
	pos := make(map[string]int, len(sorted))
	for i, d := range sorted {
		pos[d.Name()] = i
	}
	if pos["EMA_20"] > pos["BOLL_20"] {
		t.Fatalf("EMA_20 at %d must precede BOLL_20 at %d", pos["EMA_20"], pos["BOLL_20"])
	}
}

func TestTopoOrder_CycleRejected(t *testing.T) {
	_, err := topoOrder(
		[]string{"A", "B", "C"},
		map[string][]string{"A": {"C"}, "B": {"A"}, "C": {"B"}},
	)
	if !errors.Is(err, indicator.ErrInvalidConfig) {
		t.Fatalf("cycle: got %v, want ErrInvalidConfig", err)
	}
}

func TestNewEngine_InvalidConfigFailsFast(t *testing.T) {
	cases := [][]indicator.Definition{
		{{Type: indicator.TypeEMA, Period: 0}},
		{{Type: "VWAP", Period: 10}},
		{{Type: indicator.TypeRSI, Period: 14}, {Type: indicator.TypeRSI, Period: 14}},
	}
	for i, defs := range cases {
		if _, err := NewEngine(defs); !errors.Is(err, indicator.ErrInvalidConfig) {
			t.Errorf("case %d: got %v, want ErrInvalidConfig", i, err)
		}
	}
}

func TestEngine_RejectedBarIsAtomic(t *testing.T) {
	bars := walkBars("AAPL", 30, 7)

	clean, err := NewEngine(stdDefs())
	if err != nil {
		t.Fatal(err)
	}
	dirty, err := NewEngine(stdDefs())
	if err != nil {
		t.Fatal(err)
	}

	for i, b := range bars[:20] {
		if _, err := clean.Process(b); err != nil {
			t.Fatal(err)
		}
		if _, err := dirty.Process(b); err != nil {
			t.Fatal(err)
		}
		if i == 10 {
			// Replay of the current timestamp and a late bar both bounce.
			if _, err := dirty.Process(b); !errors.Is(err, series.ErrDuplicate) {
				t.Fatalf("duplicate: got %v", err)
			}
			late := bars[3]
			late.Close += 999
			if _, err := dirty.Process(late); !errors.Is(err, series.ErrOutOfOrder) {
				t.Fatalf("out of order: got %v", err)
			}
		}
	}

	for _, b := range bars[20:] {
		want, err := clean.Process(b)
		if err != nil {
			t.Fatal(err)
		}
		got, err := dirty.Process(b)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(want, got) {
			t.Fatalf("rejected bars leaked state:\nwant %+v\ngot  %+v", want, got)
		}
	}
}

func TestEngine_SymbolIsolation(t *testing.T) {
	aapl := walkBars("AAPL", 60, 1)
	msft := walkBars("MSFT", 60, 2)

	mixed, err := NewEngine(stdDefs())
	if err != nil {
		t.Fatal(err)
	}
	solo, err := NewEngine(stdDefs())
	if err != nil {
		t.Fatal(err)
	}

	var mixedAAPL []model.FeatureRecord
	for i := range aapl {
		rec, err := mixed.Process(aapl[i])
		if err != nil {
			t.Fatal(err)
		}
		mixedAAPL = append(mixedAAPL, rec)
		if _, err := mixed.Process(msft[i]); err != nil {
			t.Fatal(err)
		}
	}

	for i := range aapl {
		want, err := solo.Process(aapl[i])
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(want, mixedAAPL[i]) {
			t.Fatalf("bar %d: interleaved MSFT bars changed AAPL features", i)
		}
	}

	if got := len(mixed.Symbols()); got != 2 {
		t.Fatalf("symbols: got %d, want 2", got)
	}
}

func TestSnapshotRestore_ResumeMatchesContinuous(t *testing.T) {
	bars := walkBars("AAPL", 200, 99)

	continuous, err := NewEngine(stdDefs())
	if err != nil {
		t.Fatal(err)
	}
	for _, b := range bars[:120] {
		if _, err := continuous.Process(b); err != nil {
			t.Fatal(err)
		}
	}

	// Round-trip through JSON, matching how checkpoints are persisted.
	data, err := json.Marshal(SnapshotEngine(continuous, "1700000000000-0"))
	if err != nil {
		t.Fatal(err)
	}
	var snap EngineSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatal(err)
	}
	resumed, err := RestoreEngine(stdDefs(), &snap)
	if err != nil {
		t.Fatal(err)
	}

	// A restored stream still rejects bars at or before the checkpoint.
	if _, err := resumed.Process(bars[119]); !errors.Is(err, series.ErrDuplicate) {
		t.Fatalf("bar at checkpoint TS: got %v, want ErrDuplicate", err)
	}
	if _, err := resumed.Process(bars[50]); !errors.Is(err, series.ErrOutOfOrder) {
		t.Fatalf("bar before checkpoint: got %v, want ErrOutOfOrder", err)
	}

	for _, b := range bars[120:] {
		want, err := continuous.Process(b)
		if err != nil {
			t.Fatal(err)
		}
		got, err := resumed.Process(b)
		if err != nil {
			t.Fatal(err)
		}
		for name, wv := range want.Features {
			gv := got.Features[name]
			if wv.Ready != gv.Ready {
				t.Fatalf("%s at %s: ready mismatch after resume", name, b.TS)
			}
			if math.Abs(wv.Value-gv.Value) > 1e-9 {
				t.Fatalf("%s at %s: diverged after resume: %v vs %v", name, b.TS, wv.Value, gv.Value)
			}
		}
	}
}

func TestReloadDefinitions_PreservesWarmState(t *testing.T) {
	bars := walkBars("AAPL", 100, 5)

	control, err := NewEngine([]indicator.Definition{{Type: indicator.TypeEMA, Period: 9}})
	if err != nil {
		t.Fatal(err)
	}
	reloaded, err := NewEngine([]indicator.Definition{{Type: indicator.TypeEMA, Period: 9}})
	if err != nil {
		t.Fatal(err)
	}

	for _, b := range bars[:50] {
		if _, err := control.Process(b); err != nil {
			t.Fatal(err)
		}
		if _, err := reloaded.Process(b); err != nil {
			t.Fatal(err)
		}
	}

	preserved, created, err := reloaded.ReloadDefinitions([]indicator.Definition{
		{Type: indicator.TypeEMA, Period: 9},
		{Type: indicator.TypeRSI, Period: 14},
	})
	if err != nil {
		t.Fatal(err)
	}
	if preserved != 1 || created != 1 {
		t.Fatalf("preserved=%d created=%d, want 1/1", preserved, created)
	}

	for _, b := range bars[50:] {
		want, err := control.Process(b)
		if err != nil {
			t.Fatal(err)
		}
		got, err := reloaded.Process(b)
		if err != nil {
			t.Fatal(err)
		}
		wv := want.Features["EMA_9"]
		gv := got.Features["EMA_9"]
		if math.Abs(wv.Value-gv.Value) > 1e-12 {
			t.Fatalf("EMA lost warmup across reload: %v vs %v", gv.Value, wv.Value)
		}
		if rsi, ok := got.Features["RSI_14"]; !ok {
			t.Fatal("RSI_14 missing after reload")
		} else if rsi.Ready {
			if v := rsi.Value; v < 0 || v > 100 {
				t.Fatalf("RSI=%v outside [0,100]", v)
			}
		}
	}

	// Reload onto an invalid set must not touch the engine.
	if _, _, err := reloaded.ReloadDefinitions([]indicator.Definition{
		{Type: indicator.TypeEMA, Period: -1},
	}); !errors.Is(err, indicator.ErrInvalidConfig) {
		t.Fatalf("invalid reload: got %v", err)
	}
	if reloaded.Stream("AAPL") == nil {
		t.Fatal("failed reload dropped streams")
	}
}

func TestEngine_MaxLookback(t *testing.T) {
	e, err := NewEngine(stdDefs())
	if err != nil {
		t.Fatal(err)
	}
	// RSIW_14 needs window+1 bars for its first delta.
	if got := e.MaxLookback(); got != 15 {
		t.Fatalf("MaxLookback=%d, want 15", got)
	}
}

func TestEngine_Run(t *testing.T) {
	bars := walkBars("AAPL", 20, 3)
	e, err := NewEngine([]indicator.Definition{{Type: indicator.TypeEMA, Period: 5}})
	if err != nil {
		t.Fatal(err)
	}

	barCh := make(chan model.Bar, len(bars)+1)
	recCh := make(chan model.FeatureRecord, len(bars)+1)
	for _, b := range bars {
		barCh <- b
	}
	barCh <- bars[10] // stale timestamp, must be skipped not fatal
	close(barCh)

	var rejected int
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	e.Run(ctx, barCh, recCh, func(model.Bar, error) { rejected++ })
	close(recCh)

	var n int
	for range recCh {
		n++
	}
	if n != len(bars) {
		t.Fatalf("records: got %d, want %d", n, len(bars))
	}
	if rejected != 1 {
		t.Fatalf("rejected: got %d, want 1", rejected)
	}
}
