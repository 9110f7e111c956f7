package clip

import (
	"fmt"
	"math/big"
	"strings"

	nativecommon "nhbcdp/native/common"
	"nhbcdp/native/fixed"
)

// Calc maps the starting price of a sale and the seconds elapsed since it
// started to the current price. Prices are ray.
type Calc interface {
	Price(top *big.Int, dur uint64) *big.Int
}

// LinearDecrease falls from top to zero over Tau seconds.
type LinearDecrease struct {
	Tau uint64
}

func (l LinearDecrease) Price(top *big.Int, dur uint64) *big.Int {
	if dur >= l.Tau {
		return fixed.Zero()
	}
	ratio := new(big.Int).Mul(new(big.Int).SetUint64(l.Tau-dur), fixed.RAY)
	ratio.Quo(ratio, new(big.Int).SetUint64(l.Tau))
	return fixed.RMul(top, ratio)
}

// StairstepExponentialDecrease multiplies the price by Cut every Step
// seconds.
type StairstepExponentialDecrease struct {
	Step uint64
	Cut  *big.Int // [ray]
}

func (s StairstepExponentialDecrease) Price(top *big.Int, dur uint64) *big.Int {
	if s.Step == 0 {
		return fixed.Clone(top)
	}
	return fixed.RMul(top, fixed.RPow(s.Cut, dur/s.Step, fixed.RAY))
}

// ExponentialDecrease multiplies the price by Cut every second.
type ExponentialDecrease struct {
	Cut *big.Int // [ray]
}

func (x ExponentialDecrease) Price(top *big.Int, dur uint64) *big.Int {
	return fixed.RMul(top, fixed.RPow(x.Cut, dur, fixed.RAY))
}

const (
	CalcLinear      = "linear"
	CalcStairstep   = "stairstep"
	CalcExponential = "exponential"
)

var ErrInvalidCalc = fmt.Errorf("clip: invalid price function: %w", nativecommon.ErrInvalidInput)

// CalcConfig is the persisted description of a price function.
type CalcConfig struct {
	Kind string
	Tau  uint64
	Step uint64
	Cut  *big.Int
}

func (c CalcConfig) Clone() CalcConfig {
	c.Cut = fixed.Clone(c.Cut)
	return c
}

// Validate checks the parameters required by the configured kind.
func (c CalcConfig) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Kind)) {
	case CalcLinear:
		if c.Tau == 0 {
			return fmt.Errorf("%w: tau must be positive", ErrInvalidCalc)
		}
	case CalcStairstep:
		if c.Step == 0 {
			return fmt.Errorf("%w: step must be positive", ErrInvalidCalc)
		}
		if err := validCut(c.Cut); err != nil {
			return err
		}
	case CalcExponential:
		if err := validCut(c.Cut); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidCalc, c.Kind)
	}
	return nil
}

// Build returns the price function described by the config.
func (c CalcConfig) Build() (Calc, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	switch strings.ToLower(strings.TrimSpace(c.Kind)) {
	case CalcLinear:
		return LinearDecrease{Tau: c.Tau}, nil
	case CalcStairstep:
		return StairstepExponentialDecrease{Step: c.Step, Cut: fixed.Clone(c.Cut)}, nil
	default:
		return ExponentialDecrease{Cut: fixed.Clone(c.Cut)}, nil
	}
}

func validCut(cut *big.Int) error {
	if cut == nil || cut.Sign() <= 0 || cut.Cmp(fixed.RAY) > 0 {
		return fmt.Errorf("%w: cut must be in (0, 1]", ErrInvalidCalc)
	}
	return nil
}
