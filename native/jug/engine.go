package jug

import (
	"errors"
	"fmt"
	"math/big"

	"nhbcdp/core/events"
	"nhbcdp/crypto"
	nativecommon "nhbcdp/native/common"
	"nhbcdp/native/fixed"
	"nhbcdp/native/vat"
)

const moduleName = "jug"

var (
	errNilState  = errors.New("jug: state not configured")
	errNilLedger = errors.New("jug: ledger not configured")

	ErrIlkAlreadyInit    = fmt.Errorf("jug: ilk-already-init: %w", nativecommon.ErrState)
	ErrIlkNotInit        = fmt.Errorf("jug: ilk-not-init: %w", nativecommon.ErrState)
	ErrRhoNotUpdated     = fmt.Errorf("jug: rho-not-updated: %w", nativecommon.ErrState)
	ErrInvalidNow        = fmt.Errorf("jug: invalid-now: %w", nativecommon.ErrState)
	ErrVowNotSet         = fmt.Errorf("jug: vow not configured: %w", nativecommon.ErrState)
	ErrUnrecognizedParam = fmt.Errorf("jug: unrecognized-param: %w", nativecommon.ErrInvalidInput)
	ErrInvalidValue      = fmt.Errorf("jug: value out of range: %w", nativecommon.ErrInvalidInput)
)

// IlkRate holds the stability fee of one collateral type.
type IlkRate struct {
	Duty *big.Int // per second fee [ray]
	Rho  uint64   // last drip [unix seconds]
}

func (r *IlkRate) Clone() *IlkRate {
	if r == nil {
		return nil
	}
	return &IlkRate{Duty: fixed.Clone(r.Duty), Rho: r.Rho}
}

// Globals holds the base fee added to every type and the surplus sink that
// receives accrued fees.
type Globals struct {
	Base *big.Int
	Vow  crypto.Address
}

func (g *Globals) Clone() *Globals {
	if g == nil {
		return &Globals{Base: fixed.Zero()}
	}
	return &Globals{Base: fixed.Clone(g.Base), Vow: g.Vow}
}

type engineState interface {
	nativecommon.WardStore
	GetIlkRate(ilk string) (*IlkRate, error)
	PutIlkRate(ilk string, rate *IlkRate) error
	GetJugGlobals() (*Globals, error)
	PutJugGlobals(g *Globals) error
}

type ledger interface {
	Ilk(ilk string) (*vat.Ilk, error)
	Fold(caller crypto.Address, ilk string, u crypto.Address, rate *big.Int) error
}

// Engine accrues stability fees by compounding each type's accumulated rate
// forward in time.
type Engine struct {
	state   engineState
	vat     ledger
	auth    nativecommon.Auth
	clock   nativecommon.Clock
	emitter events.Emitter
	address crypto.Address
}

func NewEngine(v ledger) *Engine {
	return &Engine{
		vat:     v,
		clock:   nativecommon.SystemClock{},
		emitter: events.NoopEmitter{},
		address: crypto.ModuleAddress(moduleName),
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) {
	e.state = state
	e.auth = nativecommon.NewAuth(moduleName, state)
}

func (e *Engine) SetClock(clock nativecommon.Clock) {
	if clock == nil {
		clock = nativecommon.SystemClock{}
	}
	e.clock = clock
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// Address is the identity the engine presents to the ledger.
func (e *Engine) Address() crypto.Address { return e.address }

func (e *Engine) Auth() nativecommon.Auth { return e.auth }

func (e *Engine) Rely(caller, usr crypto.Address) error { return e.auth.Rely(caller, usr) }
func (e *Engine) Deny(caller, usr crypto.Address) error { return e.auth.Deny(caller, usr) }

// Init starts fee accrual for a type at a unit duty.
func (e *Engine) Init(caller crypto.Address, ilk string) error {
	if err := e.auth.Require(caller); err != nil {
		return err
	}
	existing, err := e.state.GetIlkRate(ilk)
	if err != nil {
		return err
	}
	if existing != nil && !fixed.IsZero(existing.Duty) {
		return ErrIlkAlreadyInit
	}
	return e.state.PutIlkRate(ilk, &IlkRate{Duty: fixed.Clone(fixed.RAY), Rho: nativecommon.Unix(e.clock)})
}

// FileIlk sets the per type duty. The type must have been dripped at the
// current instant so the old duty is fully applied.
func (e *Engine) FileIlk(caller crypto.Address, ilk, what string, value *big.Int) error {
	if err := e.auth.Require(caller); err != nil {
		return err
	}
	if value == nil || value.Sign() < 0 {
		return ErrInvalidValue
	}
	record, err := e.loadIlkRate(ilk)
	if err != nil {
		return err
	}
	if record.Rho != nativecommon.Unix(e.clock) {
		return ErrRhoNotUpdated
	}
	switch what {
	case "duty":
		if value.Sign() == 0 {
			return ErrInvalidValue
		}
		record.Duty = fixed.Clone(value)
	default:
		return fmt.Errorf("%w: %s", ErrUnrecognizedParam, what)
	}
	return e.state.PutIlkRate(ilk, record)
}

// File sets the global base fee.
func (e *Engine) File(caller crypto.Address, what string, value *big.Int) error {
	if err := e.auth.Require(caller); err != nil {
		return err
	}
	if value == nil || value.Sign() < 0 {
		return ErrInvalidValue
	}
	g, err := e.Globals()
	if err != nil {
		return err
	}
	switch what {
	case "base":
		g.Base = fixed.Clone(value)
	default:
		return fmt.Errorf("%w: %s", ErrUnrecognizedParam, what)
	}
	return e.state.PutJugGlobals(g)
}

// FileAddress sets the surplus sink.
func (e *Engine) FileAddress(caller crypto.Address, what string, addr crypto.Address) error {
	if err := e.auth.Require(caller); err != nil {
		return err
	}
	g, err := e.Globals()
	if err != nil {
		return err
	}
	switch what {
	case "vow":
		g.Vow = addr
	default:
		return fmt.Errorf("%w: %s", ErrUnrecognizedParam, what)
	}
	return e.state.PutJugGlobals(g)
}

// Drip compounds the accumulated rate of ilk up to now and returns the new
// rate. Calling it twice at the same instant is a no-op.
func (e *Engine) Drip(ilk string) (*big.Int, error) {
	if e.vat == nil {
		return nil, errNilLedger
	}
	record, err := e.loadIlkRate(ilk)
	if err != nil {
		return nil, err
	}
	now := nativecommon.Unix(e.clock)
	if now < record.Rho {
		return nil, ErrInvalidNow
	}
	current, err := e.vat.Ilk(ilk)
	if err != nil {
		return nil, err
	}
	if now == record.Rho {
		return fixed.Clone(current.Rate), nil
	}
	g, err := e.Globals()
	if err != nil {
		return nil, err
	}
	factor := fixed.RPow(new(big.Int).Add(g.Base, record.Duty), now-record.Rho, fixed.RAY)
	rate := fixed.RMul(factor, current.Rate)
	delta := new(big.Int).Sub(rate, current.Rate)
	if delta.Sign() != 0 {
		if g.Vow.IsZero() {
			return nil, ErrVowNotSet
		}
		if err := e.vat.Fold(e.address, ilk, g.Vow, delta); err != nil {
			return nil, err
		}
	}
	record.Rho = now
	if err := e.state.PutIlkRate(ilk, record); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.RateAccrued{
		Ilk:       ilk,
		Rate:      rate,
		Fee:       fixed.Mul(current.Art, delta),
		Timestamp: now,
	})
	return rate, nil
}

// IlkRate returns a copy of the fee record of ilk.
func (e *Engine) IlkRate(ilk string) (*IlkRate, error) {
	return e.loadIlkRate(ilk)
}

func (e *Engine) Globals() (*Globals, error) {
	if e.state == nil {
		return nil, errNilState
	}
	g, err := e.state.GetJugGlobals()
	if err != nil {
		return nil, err
	}
	return g.Clone(), nil
}

func (e *Engine) loadIlkRate(ilk string) (*IlkRate, error) {
	if e.state == nil {
		return nil, errNilState
	}
	record, err := e.state.GetIlkRate(ilk)
	if err != nil {
		return nil, err
	}
	if record == nil || fixed.IsZero(record.Duty) {
		return nil, ErrIlkNotInit
	}
	return record.Clone(), nil
}
