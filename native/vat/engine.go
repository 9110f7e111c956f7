package vat

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"nhbcdp/crypto"
	nativecommon "nhbcdp/native/common"
	"nhbcdp/native/fixed"
)

const moduleName = "vat"

var (
	errNilState = errors.New("vat: state not configured")

	ErrIlkAlreadyInit    = fmt.Errorf("vat: ilk-already-init: %w", nativecommon.ErrState)
	ErrIlkNotInit        = fmt.Errorf("vat: ilk-not-init: %w", nativecommon.ErrState)
	ErrNotLive           = fmt.Errorf("vat: not-live: %w", nativecommon.ErrState)
	ErrUnrecognizedParam = fmt.Errorf("vat: unrecognized-param: %w", nativecommon.ErrInvalidInput)
	ErrInvalidAmount     = fmt.Errorf("vat: amount out of range: %w", nativecommon.ErrInvalidInput)
	ErrNotAllowed        = fmt.Errorf("vat: not-allowed: %w", nativecommon.ErrUnauthorized)
	ErrCeilingExceeded   = fmt.Errorf("vat: ceiling-exceeded: %w", nativecommon.ErrSolvency)
	ErrNotSafe           = fmt.Errorf("vat: not-safe: %w", nativecommon.ErrSolvency)
	ErrDust              = fmt.Errorf("vat: dust: %w", nativecommon.ErrSolvency)
	ErrInsufficient      = fmt.Errorf("vat: insufficient balance: %w", nativecommon.ErrSolvency)
)

type engineState interface {
	nativecommon.WardStore
	GetIlk(ilk string) (*Ilk, error)
	PutIlk(ilk string, record *Ilk) error
	GetUrn(ilk string, owner crypto.Address) (*Urn, error)
	PutUrn(ilk string, owner crypto.Address, urn *Urn) error
	GetGem(ilk string, owner crypto.Address) (*big.Int, error)
	PutGem(ilk string, owner crypto.Address, wad *big.Int) error
	GetDai(owner crypto.Address) (*big.Int, error)
	PutDai(owner crypto.Address, rad *big.Int) error
	GetSin(owner crypto.Address) (*big.Int, error)
	PutSin(owner crypto.Address, rad *big.Int) error
	GetGlobals() (*Globals, error)
	PutGlobals(g *Globals) error
	GetCan(owner, delegate crypto.Address) (bool, error)
	PutCan(owner, delegate crypto.Address, allowed bool) error
}

// Engine is the core ledger. It records collateral and debt for every
// position, the internal stable and unbacked debt balances, and enforces the
// solvency, ceiling and floor rules on every position change.
type Engine struct {
	state  engineState
	auth   nativecommon.Auth
	pauses nativecommon.PauseView
}

func NewEngine() *Engine { return &Engine{} }

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) {
	e.state = state
	e.auth = nativecommon.NewAuth(moduleName, state)
}

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// Auth exposes the ward set so deployment code can bootstrap it.
func (e *Engine) Auth() nativecommon.Auth { return e.auth }

func (e *Engine) Rely(caller, usr crypto.Address) error { return e.auth.Rely(caller, usr) }
func (e *Engine) Deny(caller, usr crypto.Address) error { return e.auth.Deny(caller, usr) }

// Hope lets usr act on positions and balances owned by caller.
func (e *Engine) Hope(caller, usr crypto.Address) error {
	if e.state == nil {
		return errNilState
	}
	return e.state.PutCan(caller, usr, true)
}

// Nope revokes a delegation granted with Hope.
func (e *Engine) Nope(caller, usr crypto.Address) error {
	if e.state == nil {
		return errNilState
	}
	return e.state.PutCan(caller, usr, false)
}

// Behalf lets a ward grant or revoke delegation on behalf of bit. The facade
// uses it to act on user positions it created.
func (e *Engine) Behalf(caller, bit, usr crypto.Address, allowed bool) error {
	if err := e.auth.Require(caller); err != nil {
		return err
	}
	return e.state.PutCan(bit, usr, allowed)
}

// Can reports whether delegate may act for owner.
func (e *Engine) Can(owner, delegate crypto.Address) (bool, error) {
	return e.wish(owner, delegate)
}

func (e *Engine) wish(bit, usr crypto.Address) (bool, error) {
	if e.state == nil {
		return false, errNilState
	}
	if bit.Equal(usr) {
		return true, nil
	}
	return e.state.GetCan(bit, usr)
}

func (e *Engine) requireWish(bit, usr crypto.Address, role string) error {
	ok, err := e.wish(bit, usr)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotAllowed, role)
	}
	return nil
}

// Init registers a collateral type with a unit accumulated rate.
func (e *Engine) Init(caller crypto.Address, ilk string) error {
	if err := e.auth.Require(caller); err != nil {
		return err
	}
	name := strings.TrimSpace(ilk)
	if name == "" {
		return fmt.Errorf("%w: empty ilk", ErrInvalidAmount)
	}
	existing, err := e.state.GetIlk(name)
	if err != nil {
		return err
	}
	if existing != nil && !fixed.IsZero(existing.Rate) {
		return ErrIlkAlreadyInit
	}
	return e.state.PutIlk(name, &Ilk{
		Art:  fixed.Zero(),
		Rate: fixed.Clone(fixed.RAY),
		Spot: fixed.Zero(),
		Line: fixed.Zero(),
		Dust: fixed.Zero(),
	})
}

// File sets a global parameter. Only "Line" is recognised.
func (e *Engine) File(caller crypto.Address, what string, value *big.Int) error {
	if err := e.auth.Require(caller); err != nil {
		return err
	}
	g, err := e.liveGlobals()
	if err != nil {
		return err
	}
	if !nonNegative(value) {
		return ErrInvalidAmount
	}
	switch what {
	case "Line":
		g.Line = fixed.Clone(value)
	default:
		return fmt.Errorf("%w: %s", ErrUnrecognizedParam, what)
	}
	return e.state.PutGlobals(g)
}

// FileIlk sets a per type parameter: spot, line or dust.
func (e *Engine) FileIlk(caller crypto.Address, ilk, what string, value *big.Int) error {
	if err := e.auth.Require(caller); err != nil {
		return err
	}
	if _, err := e.liveGlobals(); err != nil {
		return err
	}
	if !nonNegative(value) {
		return ErrInvalidAmount
	}
	record, err := e.loadIlk(ilk)
	if err != nil {
		return err
	}
	switch what {
	case "spot":
		record.Spot = fixed.Clone(value)
	case "line":
		record.Line = fixed.Clone(value)
	case "dust":
		record.Dust = fixed.Clone(value)
	default:
		return fmt.Errorf("%w: %s", ErrUnrecognizedParam, what)
	}
	return e.state.PutIlk(ilk, record)
}

// Cage halts every live-gated mutation.
func (e *Engine) Cage(caller crypto.Address) error {
	if err := e.auth.Require(caller); err != nil {
		return err
	}
	g, err := e.loadGlobals()
	if err != nil {
		return err
	}
	g.Live = false
	return e.state.PutGlobals(g)
}

// Slip credits or debits unlocked collateral. Called by escrow adapters.
func (e *Engine) Slip(caller crypto.Address, ilk string, usr crypto.Address, wad *big.Int) error {
	if err := e.auth.Require(caller); err != nil {
		return err
	}
	if !fixed.InInt256(wad) {
		return ErrInvalidAmount
	}
	if _, err := e.loadIlk(ilk); err != nil {
		return err
	}
	gem, err := e.state.GetGem(ilk, usr)
	if err != nil {
		return err
	}
	next, ok := fixed.Add(gem, wad)
	if !ok {
		return fmt.Errorf("%w: gem", ErrInsufficient)
	}
	return e.state.PutGem(ilk, usr, next)
}

// Flux moves unlocked collateral between addresses.
func (e *Engine) Flux(caller crypto.Address, ilk string, src, dst crypto.Address, wad *big.Int) error {
	if e.state == nil {
		return errNilState
	}
	if !nonNegative(wad) {
		return ErrInvalidAmount
	}
	if err := e.requireWish(src, caller, "source"); err != nil {
		return err
	}
	from, err := e.state.GetGem(ilk, src)
	if err != nil {
		return err
	}
	remaining, ok := fixed.Sub(from, wad)
	if !ok {
		return fmt.Errorf("%w: gem", ErrInsufficient)
	}
	if err := e.state.PutGem(ilk, src, remaining); err != nil {
		return err
	}
	to, err := e.state.GetGem(ilk, dst)
	if err != nil {
		return err
	}
	return e.state.PutGem(ilk, dst, new(big.Int).Add(fixed.Clone(to), wad))
}

// Move transfers internal stable balance between addresses.
func (e *Engine) Move(caller, src, dst crypto.Address, rad *big.Int) error {
	if e.state == nil {
		return errNilState
	}
	if !nonNegative(rad) {
		return ErrInvalidAmount
	}
	if err := e.requireWish(src, caller, "source"); err != nil {
		return err
	}
	from, err := e.state.GetDai(src)
	if err != nil {
		return err
	}
	remaining, ok := fixed.Sub(from, rad)
	if !ok {
		return fmt.Errorf("%w: dai", ErrInsufficient)
	}
	if err := e.state.PutDai(src, remaining); err != nil {
		return err
	}
	to, err := e.state.GetDai(dst)
	if err != nil {
		return err
	}
	return e.state.PutDai(dst, new(big.Int).Add(fixed.Clone(to), rad))
}

// Frob modifies the position of u. Collateral is drawn from or returned to
// the gem balance of v and debt is issued to or repaid from the dai balance
// of w.
func (e *Engine) Frob(caller crypto.Address, ilk string, u, v, w crypto.Address, dink, dart *big.Int) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if !fixed.InInt256(dink) || !fixed.InInt256(dart) {
		return ErrInvalidAmount
	}
	dink, dart = fixed.Clone(dink), fixed.Clone(dart)
	g, err := e.liveGlobals()
	if err != nil {
		return err
	}
	record, err := e.loadIlk(ilk)
	if err != nil {
		return err
	}
	urn, err := e.loadUrn(ilk, u)
	if err != nil {
		return err
	}

	ink, ok := fixed.Add(urn.Ink, dink)
	if !ok {
		return fmt.Errorf("%w: ink", ErrInsufficient)
	}
	art, ok := fixed.Add(urn.Art, dart)
	if !ok {
		return fmt.Errorf("%w: art", ErrInsufficient)
	}
	ilkArt, ok := fixed.Add(record.Art, dart)
	if !ok {
		return fmt.Errorf("%w: ilk art", ErrInsufficient)
	}
	dtab := fixed.Mul(record.Rate, dart)
	tab := fixed.Mul(record.Rate, art)
	debt, ok := fixed.Add(g.Debt, dtab)
	if !ok {
		return fmt.Errorf("%w: debt", ErrInsufficient)
	}

	if dart.Sign() > 0 {
		if fixed.Mul(ilkArt, record.Rate).Cmp(record.Line) > 0 || debt.Cmp(g.Line) > 0 {
			return ErrCeilingExceeded
		}
	}
	lessRisky := dart.Sign() <= 0 && dink.Sign() >= 0
	if !lessRisky && tab.Cmp(fixed.Mul(ink, record.Spot)) > 0 {
		return ErrNotSafe
	}
	if !lessRisky {
		if err := e.requireWish(u, caller, "position owner"); err != nil {
			return err
		}
	}
	if dink.Sign() > 0 {
		if err := e.requireWish(v, caller, "collateral source"); err != nil {
			return err
		}
	}
	if dart.Sign() < 0 {
		if err := e.requireWish(w, caller, "debt source"); err != nil {
			return err
		}
	}
	if art.Sign() != 0 && tab.Cmp(record.Dust) < 0 {
		return ErrDust
	}

	gem, err := e.state.GetGem(ilk, v)
	if err != nil {
		return err
	}
	nextGem, ok := fixed.Sub(gem, dink)
	if !ok {
		return fmt.Errorf("%w: gem", ErrInsufficient)
	}
	dai, err := e.state.GetDai(w)
	if err != nil {
		return err
	}
	nextDai, ok := fixed.Add(dai, dtab)
	if !ok {
		return fmt.Errorf("%w: dai", ErrInsufficient)
	}

	record.Art = ilkArt
	g.Debt = debt
	if err := e.state.PutUrn(ilk, u, &Urn{Ink: ink, Art: art}); err != nil {
		return err
	}
	if err := e.state.PutIlk(ilk, record); err != nil {
		return err
	}
	if err := e.state.PutGlobals(g); err != nil {
		return err
	}
	if err := e.state.PutGem(ilk, v, nextGem); err != nil {
		return err
	}
	return e.state.PutDai(w, nextDai)
}

// Fork splits a position, moving dink collateral and dart debt from src to
// dst. Both sides must consent and both must remain safe and above the floor.
func (e *Engine) Fork(caller crypto.Address, ilk string, src, dst crypto.Address, dink, dart *big.Int) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if !fixed.InInt256(dink) || !fixed.InInt256(dart) {
		return ErrInvalidAmount
	}
	record, err := e.loadIlk(ilk)
	if err != nil {
		return err
	}
	from, err := e.loadUrn(ilk, src)
	if err != nil {
		return err
	}
	srcInk, ok1 := fixed.Sub(from.Ink, dink)
	srcArt, ok2 := fixed.Sub(from.Art, dart)
	if !ok1 || !ok2 {
		return fmt.Errorf("%w: source position", ErrInsufficient)
	}
	to := &Urn{Ink: srcInk, Art: srcArt}
	if !src.Equal(dst) {
		if to, err = e.loadUrn(ilk, dst); err != nil {
			return err
		}
	}
	dstInk, ok1 := fixed.Add(to.Ink, dink)
	dstArt, ok2 := fixed.Add(to.Art, dart)
	if !ok1 || !ok2 {
		return fmt.Errorf("%w: destination position", ErrInsufficient)
	}

	if err := e.requireWish(src, caller, "source"); err != nil {
		return err
	}
	if err := e.requireWish(dst, caller, "destination"); err != nil {
		return err
	}
	srcTab := fixed.Mul(srcArt, record.Rate)
	dstTab := fixed.Mul(dstArt, record.Rate)
	if srcTab.Cmp(fixed.Mul(srcInk, record.Spot)) > 0 {
		return fmt.Errorf("%w: source", ErrNotSafe)
	}
	if dstTab.Cmp(fixed.Mul(dstInk, record.Spot)) > 0 {
		return fmt.Errorf("%w: destination", ErrNotSafe)
	}
	if srcArt.Sign() != 0 && srcTab.Cmp(record.Dust) < 0 {
		return fmt.Errorf("%w: source", ErrDust)
	}
	if dstArt.Sign() != 0 && dstTab.Cmp(record.Dust) < 0 {
		return fmt.Errorf("%w: destination", ErrDust)
	}

	if err := e.state.PutUrn(ilk, src, &Urn{Ink: srcInk, Art: srcArt}); err != nil {
		return err
	}
	return e.state.PutUrn(ilk, dst, &Urn{Ink: dstInk, Art: dstArt})
}

// Grab seizes a position without any safety check. The collateral moves to
// the gem balance of v and the debt becomes unbacked debt of w.
func (e *Engine) Grab(caller crypto.Address, ilk string, u, v, w crypto.Address, dink, dart *big.Int) error {
	if err := e.auth.Require(caller); err != nil {
		return err
	}
	if !fixed.InInt256(dink) || !fixed.InInt256(dart) {
		return ErrInvalidAmount
	}
	g, err := e.loadGlobals()
	if err != nil {
		return err
	}
	record, err := e.loadIlk(ilk)
	if err != nil {
		return err
	}
	urn, err := e.loadUrn(ilk, u)
	if err != nil {
		return err
	}
	ink, ok1 := fixed.Add(urn.Ink, dink)
	art, ok2 := fixed.Add(urn.Art, dart)
	ilkArt, ok3 := fixed.Add(record.Art, dart)
	if !ok1 || !ok2 || !ok3 {
		return fmt.Errorf("%w: position", ErrInsufficient)
	}
	dtab := fixed.Mul(record.Rate, dart)

	gem, err := e.state.GetGem(ilk, v)
	if err != nil {
		return err
	}
	nextGem, ok := fixed.Sub(gem, dink)
	if !ok {
		return fmt.Errorf("%w: gem", ErrInsufficient)
	}
	sin, err := e.state.GetSin(w)
	if err != nil {
		return err
	}
	nextSin, ok := fixed.Sub(sin, dtab)
	if !ok {
		return fmt.Errorf("%w: sin", ErrInsufficient)
	}
	vice, ok := fixed.Sub(g.Vice, dtab)
	if !ok {
		return fmt.Errorf("%w: vice", ErrInsufficient)
	}

	record.Art = ilkArt
	g.Vice = vice
	if err := e.state.PutUrn(ilk, u, &Urn{Ink: ink, Art: art}); err != nil {
		return err
	}
	if err := e.state.PutIlk(ilk, record); err != nil {
		return err
	}
	if err := e.state.PutGem(ilk, v, nextGem); err != nil {
		return err
	}
	if err := e.state.PutSin(w, nextSin); err != nil {
		return err
	}
	return e.state.PutGlobals(g)
}

// Heal cancels rad of the caller's unbacked debt against its stable balance.
func (e *Engine) Heal(caller crypto.Address, rad *big.Int) error {
	if e.state == nil {
		return errNilState
	}
	if !nonNegative(rad) {
		return ErrInvalidAmount
	}
	g, err := e.loadGlobals()
	if err != nil {
		return err
	}
	sin, err := e.state.GetSin(caller)
	if err != nil {
		return err
	}
	dai, err := e.state.GetDai(caller)
	if err != nil {
		return err
	}
	nextSin, ok1 := fixed.Sub(sin, rad)
	nextDai, ok2 := fixed.Sub(dai, rad)
	vice, ok3 := fixed.Sub(g.Vice, rad)
	debt, ok4 := fixed.Sub(g.Debt, rad)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return fmt.Errorf("%w: heal", ErrInsufficient)
	}
	g.Vice, g.Debt = vice, debt
	if err := e.state.PutSin(caller, nextSin); err != nil {
		return err
	}
	if err := e.state.PutDai(caller, nextDai); err != nil {
		return err
	}
	return e.state.PutGlobals(g)
}

// Suck mints rad of stable to v backed by unbacked debt assigned to u.
func (e *Engine) Suck(caller, u, v crypto.Address, rad *big.Int) error {
	if err := e.auth.Require(caller); err != nil {
		return err
	}
	if !nonNegative(rad) {
		return ErrInvalidAmount
	}
	g, err := e.loadGlobals()
	if err != nil {
		return err
	}
	sin, err := e.state.GetSin(u)
	if err != nil {
		return err
	}
	if err := e.state.PutSin(u, new(big.Int).Add(fixed.Clone(sin), rad)); err != nil {
		return err
	}
	dai, err := e.state.GetDai(v)
	if err != nil {
		return err
	}
	if err := e.state.PutDai(v, new(big.Int).Add(fixed.Clone(dai), rad)); err != nil {
		return err
	}
	g.Vice = new(big.Int).Add(g.Vice, rad)
	g.Debt = new(big.Int).Add(g.Debt, rad)
	return e.state.PutGlobals(g)
}

// Fold adjusts the accumulated rate of a type by rate and credits the
// resulting change in debt to u.
func (e *Engine) Fold(caller crypto.Address, ilk string, u crypto.Address, rate *big.Int) error {
	if err := e.auth.Require(caller); err != nil {
		return err
	}
	if !fixed.InInt256(rate) {
		return ErrInvalidAmount
	}
	g, err := e.liveGlobals()
	if err != nil {
		return err
	}
	record, err := e.loadIlk(ilk)
	if err != nil {
		return err
	}
	nextRate, ok := fixed.Add(record.Rate, rate)
	if !ok {
		return fmt.Errorf("%w: rate", ErrInsufficient)
	}
	rad := fixed.Mul(record.Art, rate)
	dai, err := e.state.GetDai(u)
	if err != nil {
		return err
	}
	nextDai, ok1 := fixed.Add(dai, rad)
	debt, ok2 := fixed.Add(g.Debt, rad)
	if !ok1 || !ok2 {
		return fmt.Errorf("%w: fold", ErrInsufficient)
	}
	record.Rate = nextRate
	g.Debt = debt
	if err := e.state.PutIlk(ilk, record); err != nil {
		return err
	}
	if err := e.state.PutDai(u, nextDai); err != nil {
		return err
	}
	return e.state.PutGlobals(g)
}

// Ilk returns a copy of the collateral type record.
func (e *Engine) Ilk(ilk string) (*Ilk, error) {
	return e.loadIlk(ilk)
}

// Urn returns a copy of the position of owner, zero when absent.
func (e *Engine) Urn(ilk string, owner crypto.Address) (*Urn, error) {
	if e.state == nil {
		return nil, errNilState
	}
	return e.loadUrn(ilk, owner)
}

func (e *Engine) Gem(ilk string, owner crypto.Address) (*big.Int, error) {
	if e.state == nil {
		return nil, errNilState
	}
	v, err := e.state.GetGem(ilk, owner)
	return fixed.Clone(v), err
}

func (e *Engine) Dai(owner crypto.Address) (*big.Int, error) {
	if e.state == nil {
		return nil, errNilState
	}
	v, err := e.state.GetDai(owner)
	return fixed.Clone(v), err
}

func (e *Engine) Sin(owner crypto.Address) (*big.Int, error) {
	if e.state == nil {
		return nil, errNilState
	}
	v, err := e.state.GetSin(owner)
	return fixed.Clone(v), err
}

// Globals returns a copy of the ledger wide totals.
func (e *Engine) Globals() (*Globals, error) {
	return e.loadGlobals()
}

func (e *Engine) loadGlobals() (*Globals, error) {
	if e.state == nil {
		return nil, errNilState
	}
	g, err := e.state.GetGlobals()
	if err != nil {
		return nil, err
	}
	return g.Clone(), nil
}

func (e *Engine) liveGlobals() (*Globals, error) {
	g, err := e.loadGlobals()
	if err != nil {
		return nil, err
	}
	if !g.Live {
		return nil, ErrNotLive
	}
	return g, nil
}

func (e *Engine) loadIlk(ilk string) (*Ilk, error) {
	if e.state == nil {
		return nil, errNilState
	}
	record, err := e.state.GetIlk(ilk)
	if err != nil {
		return nil, err
	}
	if record == nil || fixed.IsZero(record.Rate) {
		return nil, ErrIlkNotInit
	}
	return record.Clone(), nil
}

func (e *Engine) loadUrn(ilk string, owner crypto.Address) (*Urn, error) {
	urn, err := e.state.GetUrn(ilk, owner)
	if err != nil {
		return nil, err
	}
	return urn.Clone(), nil
}

func nonNegative(v *big.Int) bool {
	return v != nil && v.Sign() >= 0 && fixed.InUint256(v)
}
