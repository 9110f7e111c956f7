package dog

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"nhbcdp/core/events"
	"nhbcdp/crypto"
	nativecommon "nhbcdp/native/common"
	"nhbcdp/native/fixed"
	"nhbcdp/native/vat"
)

const moduleName = "dog"

var (
	errNilState  = errors.New("dog: state not configured")
	errNilLedger = errors.New("dog: ledger not configured")

	ErrNotLive           = fmt.Errorf("dog: not-live: %w", nativecommon.ErrState)
	ErrNoAuctioneer      = fmt.Errorf("dog: auction engine not configured: %w", nativecommon.ErrState)
	ErrNotUnsafe         = fmt.Errorf("dog: not-unsafe: %w", nativecommon.ErrSolvency)
	ErrLiquidationLimit  = fmt.Errorf("dog: liquidation-limit-hit: %w", nativecommon.ErrBudget)
	ErrDustyAuction      = fmt.Errorf("dog: dusty-auction-from-partial-liquidation: %w", nativecommon.ErrSolvency)
	ErrNullAuction       = fmt.Errorf("dog: null-auction: %w", nativecommon.ErrSolvency)
	ErrDirtUnderflow     = fmt.Errorf("dog: dirt underflow: %w", nativecommon.ErrState)
	ErrUnrecognizedParam = fmt.Errorf("dog: unrecognized-param: %w", nativecommon.ErrInvalidInput)
	ErrInvalidValue      = fmt.Errorf("dog: value out of range: %w", nativecommon.ErrInvalidInput)
)

// IlkParams holds the liquidation settings of one collateral type.
type IlkParams struct {
	Clip crypto.Address // auction engine
	Chop *big.Int       // penalty multiplier [wad]
	Hole *big.Int       // max debt in liquidation for this type [rad]
	Dirt *big.Int       // debt currently in liquidation for this type [rad]
}

func (p *IlkParams) Clone() *IlkParams {
	if p == nil {
		return &IlkParams{Chop: fixed.Zero(), Hole: fixed.Zero(), Dirt: fixed.Zero()}
	}
	return &IlkParams{Clip: p.Clip, Chop: fixed.Clone(p.Chop), Hole: fixed.Clone(p.Hole), Dirt: fixed.Clone(p.Dirt)}
}

// Globals holds the system wide liquidation budget.
type Globals struct {
	Hole *big.Int // [rad]
	Dirt *big.Int // [rad]
	Vow  crypto.Address
	Live bool
}

func (g *Globals) Clone() *Globals {
	if g == nil {
		return &Globals{Hole: fixed.Zero(), Dirt: fixed.Zero(), Live: true}
	}
	return &Globals{Hole: fixed.Clone(g.Hole), Dirt: fixed.Clone(g.Dirt), Vow: g.Vow, Live: g.Live}
}

type engineState interface {
	nativecommon.WardStore
	GetDogIlk(ilk string) (*IlkParams, error)
	PutDogIlk(ilk string, params *IlkParams) error
	GetDogGlobals() (*Globals, error)
	PutDogGlobals(g *Globals) error
}

type ledger interface {
	Ilk(ilk string) (*vat.Ilk, error)
	Urn(ilk string, owner crypto.Address) (*vat.Urn, error)
	Grab(caller crypto.Address, ilk string, u, v, w crypto.Address, dink, dart *big.Int) error
}

// Auctioneer sells seized collateral. Kick returns the new sale id.
type Auctioneer interface {
	Address() crypto.Address
	Kick(caller crypto.Address, tab, lot *big.Int, usr, kpr crypto.Address) (uint64, error)
}

// Engine seizes unsafe positions and hands them to the auction engine of
// their type, within per type and global liquidation budgets.
type Engine struct {
	state   engineState
	vat     ledger
	auth    nativecommon.Auth
	emitter events.Emitter
	pauses  nativecommon.PauseView
	address crypto.Address

	mu          sync.RWMutex
	auctioneers map[string]Auctioneer
}

func NewEngine(v ledger) *Engine {
	return &Engine{
		vat:         v,
		emitter:     events.NoopEmitter{},
		address:     crypto.ModuleAddress(moduleName),
		auctioneers: make(map[string]Auctioneer),
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) {
	e.state = state
	e.auth = nativecommon.NewAuth(moduleName, state)
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

func (e *Engine) Address() crypto.Address { return e.address }
func (e *Engine) Auth() nativecommon.Auth { return e.auth }

func (e *Engine) Rely(caller, usr crypto.Address) error { return e.auth.Rely(caller, usr) }
func (e *Engine) Deny(caller, usr crypto.Address) error { return e.auth.Deny(caller, usr) }

// SetAuctioneer binds the auction engine of ilk and records its address.
func (e *Engine) SetAuctioneer(caller crypto.Address, ilk string, a Auctioneer) error {
	if err := e.auth.Require(caller); err != nil {
		return err
	}
	if err := e.requireLive(); err != nil {
		return err
	}
	params, err := e.IlkParams(ilk)
	if err != nil {
		return err
	}
	e.mu.Lock()
	if a == nil {
		delete(e.auctioneers, ilk)
		params.Clip = crypto.Address{}
	} else {
		e.auctioneers[ilk] = a
		params.Clip = a.Address()
	}
	e.mu.Unlock()
	return e.state.PutDogIlk(ilk, params)
}

// Attach rebinds the auction engine of ilk after a restart without touching
// persisted state. It exists for wiring only.
func (e *Engine) Attach(ilk string, a Auctioneer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if a == nil {
		delete(e.auctioneers, ilk)
		return
	}
	e.auctioneers[ilk] = a
}

func (e *Engine) auctioneer(ilk string) (Auctioneer, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	a, ok := e.auctioneers[ilk]
	return a, ok
}

// File sets the global budget.
func (e *Engine) File(caller crypto.Address, what string, value *big.Int) error {
	if err := e.auth.Require(caller); err != nil {
		return err
	}
	if value == nil || value.Sign() < 0 {
		return ErrInvalidValue
	}
	g, err := e.liveGlobals()
	if err != nil {
		return err
	}
	switch what {
	case "Hole":
		g.Hole = fixed.Clone(value)
	default:
		return fmt.Errorf("%w: %s", ErrUnrecognizedParam, what)
	}
	return e.state.PutDogGlobals(g)
}

// FileAddress sets the surplus sink that takes on seized debt.
func (e *Engine) FileAddress(caller crypto.Address, what string, addr crypto.Address) error {
	if err := e.auth.Require(caller); err != nil {
		return err
	}
	g, err := e.liveGlobals()
	if err != nil {
		return err
	}
	switch what {
	case "vow":
		g.Vow = addr
	default:
		return fmt.Errorf("%w: %s", ErrUnrecognizedParam, what)
	}
	return e.state.PutDogGlobals(g)
}

// FileIlk sets chop (at least one wad) or hole for ilk.
func (e *Engine) FileIlk(caller crypto.Address, ilk, what string, value *big.Int) error {
	if err := e.auth.Require(caller); err != nil {
		return err
	}
	if value == nil || value.Sign() < 0 {
		return ErrInvalidValue
	}
	if err := e.requireLive(); err != nil {
		return err
	}
	params, err := e.IlkParams(ilk)
	if err != nil {
		return err
	}
	switch what {
	case "chop":
		if value.Cmp(fixed.WAD) < 0 {
			return fmt.Errorf("%w: chop below one", ErrInvalidValue)
		}
		params.Chop = fixed.Clone(value)
	case "hole":
		params.Hole = fixed.Clone(value)
	default:
		return fmt.Errorf("%w: %s", ErrUnrecognizedParam, what)
	}
	return e.state.PutDogIlk(ilk, params)
}

// Cage halts new liquidations.
func (e *Engine) Cage(caller crypto.Address) error {
	if err := e.auth.Require(caller); err != nil {
		return err
	}
	g, err := e.Globals()
	if err != nil {
		return err
	}
	g.Live = false
	return e.state.PutDogGlobals(g)
}

// Chop returns the penalty multiplier of ilk [wad].
func (e *Engine) Chop(ilk string) (*big.Int, error) {
	params, err := e.IlkParams(ilk)
	if err != nil {
		return nil, err
	}
	return params.Chop, nil
}

// Bark liquidates the unsafe position of urn, fully or partially depending on
// the remaining budget, and returns the id of the sale that took it over. kpr
// receives the keeper incentive.
func (e *Engine) Bark(caller crypto.Address, ilk string, urn, kpr crypto.Address) (uint64, error) {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return 0, err
	}
	if e.vat == nil {
		return 0, errNilLedger
	}
	g, err := e.liveGlobals()
	if err != nil {
		return 0, err
	}
	clipper, ok := e.auctioneer(ilk)
	if !ok {
		return 0, ErrNoAuctioneer
	}
	params, err := e.IlkParams(ilk)
	if err != nil {
		return 0, err
	}
	record, err := e.vat.Ilk(ilk)
	if err != nil {
		return 0, err
	}
	position, err := e.vat.Urn(ilk, urn)
	if err != nil {
		return 0, err
	}
	ink, art := position.Ink, position.Art

	if record.Spot.Sign() <= 0 || fixed.Mul(ink, record.Spot).Cmp(fixed.Mul(art, record.Rate)) >= 0 {
		return 0, ErrNotUnsafe
	}

	room := fixed.Min(headroom(g.Hole, g.Dirt), headroom(params.Hole, params.Dirt))
	if room.Sign() <= 0 || room.Cmp(record.Dust) < 0 {
		return 0, ErrLiquidationLimit
	}

	dart := fixed.Min(art, fixed.Div(fixed.Div(fixed.Mul(room, fixed.WAD), record.Rate), params.Chop))
	if art.Cmp(dart) > 0 {
		rest := fixed.Mul(new(big.Int).Sub(art, dart), record.Rate)
		if rest.Cmp(record.Dust) < 0 {
			dart = fixed.Clone(art)
		} else if fixed.Mul(dart, record.Rate).Cmp(record.Dust) < 0 {
			return 0, ErrDustyAuction
		}
	}
	dink := fixed.Div(fixed.Mul(ink, dart), art)
	if dink.Sign() <= 0 {
		return 0, ErrNullAuction
	}

	if err := e.vat.Grab(e.address, ilk, urn, clipper.Address(), g.Vow,
		new(big.Int).Neg(dink), new(big.Int).Neg(dart)); err != nil {
		return 0, err
	}
	due := fixed.Mul(dart, record.Rate)
	tab := fixed.WMul(due, params.Chop)
	g.Dirt = new(big.Int).Add(g.Dirt, tab)
	params.Dirt = new(big.Int).Add(params.Dirt, tab)
	if err := e.state.PutDogGlobals(g); err != nil {
		return 0, err
	}
	if err := e.state.PutDogIlk(ilk, params); err != nil {
		return 0, err
	}

	id, err := clipper.Kick(e.address, tab, dink, urn, kpr)
	if err != nil {
		return 0, err
	}
	e.emitter.Emit(events.Liquidated{
		Ilk: ilk, Owner: urn, Ink: dink, Art: dart, Due: due, Clip: clipper.Address(), AuctionID: id,
	})
	return id, nil
}

// Digs releases rad of liquidation budget once an auction has raised it or
// was cancelled. Called by auction engines.
func (e *Engine) Digs(caller crypto.Address, ilk string, rad *big.Int) error {
	if err := e.auth.Require(caller); err != nil {
		return err
	}
	if rad == nil || rad.Sign() < 0 {
		return ErrInvalidValue
	}
	g, err := e.Globals()
	if err != nil {
		return err
	}
	params, err := e.IlkParams(ilk)
	if err != nil {
		return err
	}
	dirt, ok1 := fixed.Sub(g.Dirt, rad)
	ilkDirt, ok2 := fixed.Sub(params.Dirt, rad)
	if !ok1 || !ok2 {
		return ErrDirtUnderflow
	}
	g.Dirt, params.Dirt = dirt, ilkDirt
	if err := e.state.PutDogGlobals(g); err != nil {
		return err
	}
	return e.state.PutDogIlk(ilk, params)
}

// IlkParams returns a copy of the liquidation settings of ilk.
func (e *Engine) IlkParams(ilk string) (*IlkParams, error) {
	if e.state == nil {
		return nil, errNilState
	}
	params, err := e.state.GetDogIlk(ilk)
	if err != nil {
		return nil, err
	}
	return params.Clone(), nil
}

func (e *Engine) Globals() (*Globals, error) {
	if e.state == nil {
		return nil, errNilState
	}
	g, err := e.state.GetDogGlobals()
	if err != nil {
		return nil, err
	}
	return g.Clone(), nil
}

func (e *Engine) liveGlobals() (*Globals, error) {
	g, err := e.Globals()
	if err != nil {
		return nil, err
	}
	if !g.Live {
		return nil, ErrNotLive
	}
	return g, nil
}

func (e *Engine) requireLive() error {
	_, err := e.liveGlobals()
	return err
}

func headroom(limit, used *big.Int) *big.Int {
	if used.Cmp(limit) >= 0 {
		return fixed.Zero()
	}
	return new(big.Int).Sub(limit, used)
}
