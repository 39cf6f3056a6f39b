// Package indicator provides technical indicator calculations over bar data.
//
// All indicators implement the Indicator interface, receiving bars and
// producing float64 values. Indicators are built from the rolling package's
// window aggregators and updated exactly once per bar, in timestamp order.
package indicator

import (
	"errors"
	"fmt"

	"stock-evalv1/internal/model"
)

// ErrInvalidConfig is returned for definitions that can never compute:
// non-positive windows, unknown types, unresolvable or cyclic dependencies.
// Detected at definition/pipeline-build time, never during bar processing.
var ErrInvalidConfig = errors.New("indicator: invalid configuration")

// Indicator is the interface for all technical indicators.
type Indicator interface {
	// Name returns the indicator name (e.g. "EMA_20", "RSI_14").
	Name() string

	// Update feeds a new bar and recalculates.
	Update(bar model.Bar)

	// Value returns the current calculated value. Returns 0 if not enough data.
	Value() float64

	// Ready returns true when the lookback window has been satisfied.
	Ready() bool
}

// MultiOutput is implemented by indicators that emit more than one named
// series per bar (e.g. Bollinger upper/lower bands).
type MultiOutput interface {
	Outputs() map[string]float64
}

// Supported definition types.
const (
	TypeEMA        = "EMA"   // exponential moving average of close
	TypeRSI        = "RSI"   // relative strength index, simple rolling-mean smoothing
	TypeRSIWilder  = "RSIW"  // relative strength index, Wilder smoothing
	TypeBollinger  = "BOLL"  // volatility bands around an EMA
	TypeStochastic = "STOCH" // stochastic %K oscillator
)

// DefaultBollingerK is the band width in standard deviations when a
// Bollinger definition leaves K zero.
const DefaultBollingerK = 2.0

// Definition is a stateless indicator descriptor: many series may be
// evaluated against the same definition. Period is the lookback window
// (EMA span for EMA). K is the Bollinger band width in standard deviations.
type Definition struct {
	Type   string  `json:"type"`
	Period int     `json:"period"`
	K      float64 `json:"k,omitempty"`
}

// Name returns the canonical feature name, e.g. "EMA_20", "BOLL_20".
func (d Definition) Name() string {
	return d.Type + "_" + model.Itoa(d.Period)
}

// DependsOn returns the names of indicator outputs this definition reads.
// Bollinger bands are centered on the EMA of the same window.
func (d Definition) DependsOn() []string {
	if d.Type == TypeBollinger {
		return []string{TypeEMA + "_" + model.Itoa(d.Period)}
	}
	return nil
}

// Validate fails fast on configurations that could never compute.
func (d Definition) Validate() error {
	switch d.Type {
	case TypeEMA, TypeRSI, TypeRSIWilder, TypeBollinger, TypeStochastic:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidConfig, d.Type)
	}
	if d.Period <= 0 {
		return fmt.Errorf("%w: %s window must be positive, got %d", ErrInvalidConfig, d.Type, d.Period)
	}
	if d.K < 0 {
		return fmt.Errorf("%w: %s band width must not be negative, got %v", ErrInvalidConfig, d.Type, d.K)
	}
	return nil
}

// New instantiates an indicator for the definition. deps maps dependency
// names (from DependsOn) to already-constructed indicator instances owned
// by the same evaluation stream.
func New(d Definition, deps map[string]Indicator) (Indicator, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	switch d.Type {
	case TypeEMA:
		return NewEMA(d.Period), nil
	case TypeRSI:
		return NewRSI(d.Period), nil
	case TypeRSIWilder:
		return NewRSIWilder(d.Period), nil
	case TypeBollinger:
		k := d.K
		if k == 0 {
			k = DefaultBollingerK
		}
		center, ok := deps[d.DependsOn()[0]]
		if !ok {
			return nil, fmt.Errorf("%w: %s missing dependency %s", ErrInvalidConfig, d.Name(), d.DependsOn()[0])
		}
		return NewBollinger(d.Period, k, center), nil
	case TypeStochastic:
		return NewStochastic(d.Period), nil
	}
	// unreachable after Validate
	return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidConfig, d.Type)
}

// ValidateDefinitions checks a definition set for per-definition errors
// and duplicate names.
func ValidateDefinitions(defs []Definition) error {
	seen := make(map[string]bool, len(defs))
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return err
		}
		name := d.Name()
		if seen[name] {
			return fmt.Errorf("%w: duplicate definition %s", ErrInvalidConfig, name)
		}
		seen[name] = true
	}
	return nil
}
