package vat

import (
	"math/big"

	"nhbcdp/native/fixed"
)

// Ilk is the ledger view of a collateral type.
type Ilk struct {
	Art  *big.Int // total normalized debt [wad]
	Rate *big.Int // accumulated rates [ray]
	Spot *big.Int // price with safety margin [ray]
	Line *big.Int // debt ceiling [rad]
	Dust *big.Int // debt floor [rad]
}

// Clone returns a deep copy of the ilk with nil fields replaced by zero.
func (i *Ilk) Clone() *Ilk {
	if i == nil {
		return nil
	}
	return &Ilk{
		Art:  fixed.Clone(i.Art),
		Rate: fixed.Clone(i.Rate),
		Spot: fixed.Clone(i.Spot),
		Line: fixed.Clone(i.Line),
		Dust: fixed.Clone(i.Dust),
	}
}

// Debt returns Art × Rate in rad.
func (i *Ilk) Debt() *big.Int {
	if i == nil {
		return fixed.Zero()
	}
	return fixed.Mul(i.Art, i.Rate)
}

// Urn is a single position: locked collateral and normalized debt.
type Urn struct {
	Ink *big.Int // locked collateral [wad]
	Art *big.Int // normalized debt [wad]
}

func (u *Urn) Clone() *Urn {
	if u == nil {
		return &Urn{Ink: fixed.Zero(), Art: fixed.Zero()}
	}
	return &Urn{Ink: fixed.Clone(u.Ink), Art: fixed.Clone(u.Art)}
}

// IsEmpty reports whether the position holds neither collateral nor debt.
func (u *Urn) IsEmpty() bool {
	return u == nil || (fixed.IsZero(u.Ink) && fixed.IsZero(u.Art))
}

// Globals carries the ledger wide totals.
type Globals struct {
	Debt *big.Int // total issued stable [rad]
	Vice *big.Int // total unbacked debt [rad]
	Line *big.Int // total debt ceiling [rad]
	Live bool
}

func (g *Globals) Clone() *Globals {
	if g == nil {
		return DefaultGlobals()
	}
	return &Globals{
		Debt: fixed.Clone(g.Debt),
		Vice: fixed.Clone(g.Vice),
		Line: fixed.Clone(g.Line),
		Live: g.Live,
	}
}

// DefaultGlobals is the state of a freshly deployed ledger.
func DefaultGlobals() *Globals {
	return &Globals{Debt: fixed.Zero(), Vice: fixed.Zero(), Line: fixed.Zero(), Live: true}
}
