package featengine

import (
	"testing"

	"stock-evalv1/internal/indicator"
)

func TestParseDefinitionSpecs(t *testing.T) {
	defs := ParseDefinitionSpecs("EMA:20, rsi:14,BOLL:20:2.5,STOCH:14,RSIW:14")
	want := []indicator.Definition{
		{Type: indicator.TypeEMA, Period: 20},
		{Type: indicator.TypeRSI, Period: 14},
		{Type: indicator.TypeBollinger, Period: 20, K: 2.5},
		{Type: indicator.TypeStochastic, Period: 14},
		{Type: indicator.TypeRSIWilder, Period: 14},
	}
	if len(defs) != len(want) {
		t.Fatalf("got %d defs, want %d: %v", len(defs), len(want), defs)
	}
	for i := range want {
		if defs[i] != want[i] {
			t.Errorf("def %d: got %+v, want %+v", i, defs[i], want[i])
		}
	}
}

func TestParseDefinitionSpecs_SkipsInvalid(t *testing.T) {
	defs := ParseDefinitionSpecs("EMA:20,BADSPEC,RSI:-3,EMA:abc,STOCH:5")
	if len(defs) != 2 {
		t.Fatalf("got %d defs, want 2: %v", len(defs), defs)
	}
	if defs[0].Name() != "EMA_20" || defs[1].Name() != "STOCH_5" {
		t.Errorf("unexpected defs: %v", defs)
	}
}

func TestParseDefinitionSpecs_EmptyUsesDefaults(t *testing.T) {
	defs := ParseDefinitionSpecs("")
	if len(defs) == 0 {
		t.Fatal("expected non-empty defaults")
	}
	if err := indicator.ValidateDefinitions(defs); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestParseSymbols(t *testing.T) {
	got := parseSymbols(" aapl, MSFT ,,tsla")
	want := []string{"AAPL", "MSFT", "TSLA"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("symbol %d: got %q, want %q", i, got[i], want[i])
		}
	}
}
