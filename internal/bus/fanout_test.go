package bus

import (
	"context"
	"testing"
	"time"

	"stock-evalv1/internal/model"
)

func TestFanOut_BroadcastsToAll(t *testing.T) {
	fo := New(10)
	out1 := fo.Subscribe()
	out2 := fo.Subscribe()

	input := make(chan model.FeatureRecord, 10)
	ctx, cancel := context.WithCancel(context.Background())
	go fo.Run(ctx, input)

	rec := model.FeatureRecord{
		Symbol: "AAPL",
		TS:     time.Date(2024, 6, 3, 14, 30, 0, 0, time.UTC),
		Features: map[string]model.FeatureValue{
			"EMA_20": {Value: 101.5, Ready: true},
		},
	}

	input <- rec
	time.Sleep(50 * time.Millisecond)

	select {
	case r := <-out1:
		if r.Symbol != "AAPL" {
			t.Errorf("out1: expected symbol AAPL, got %s", r.Symbol)
		}
	case <-time.After(time.Second):
		t.Fatal("out1: timed out waiting for record")
	}

	select {
	case r := <-out2:
		if r.Symbol != "AAPL" {
			t.Errorf("out2: expected symbol AAPL, got %s", r.Symbol)
		}
		if v, ok := r.Value("EMA_20"); !ok || v != 101.5 {
			t.Errorf("out2: EMA_20 = %v ok=%v", v, ok)
		}
	case <-time.After(time.Second):
		t.Fatal("out2: timed out waiting for record")
	}

	cancel()
}

func TestFanOut_SlowConsumerDrops(t *testing.T) {
	fo := New(1)
	_ = fo.Subscribe() // never drained

	drops := 0
	fo.OnDrop = func(int) { drops++ }

	input := make(chan model.FeatureRecord, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fo.Run(ctx, input)

	for i := 0; i < 5; i++ {
		input <- model.FeatureRecord{Symbol: "AAPL"}
	}
	time.Sleep(100 * time.Millisecond)

	// Buffer holds 1; the rest must be dropped, not block Run.
	if drops < 3 {
		t.Fatalf("expected at least 3 drops, got %d", drops)
	}
}
