package spot

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"nhbcdp/core/events"
	"nhbcdp/crypto"
	nativecommon "nhbcdp/native/common"
	"nhbcdp/native/fixed"
)

const moduleName = "spot"

var (
	errNilState  = errors.New("spot: state not configured")
	errNilLedger = errors.New("spot: ledger not configured")

	ErrNoPrice           = fmt.Errorf("spot: no price: %w", nativecommon.ErrPrice)
	ErrNoFeed            = fmt.Errorf("spot: feed not configured: %w", nativecommon.ErrPrice)
	ErrNotLive           = fmt.Errorf("spot: not-live: %w", nativecommon.ErrState)
	ErrIlkNotInit        = fmt.Errorf("spot: ilk-not-init: %w", nativecommon.ErrState)
	ErrUnrecognizedParam = fmt.Errorf("spot: unrecognized-param: %w", nativecommon.ErrInvalidInput)
	ErrInvalidValue      = fmt.Errorf("spot: value out of range: %w", nativecommon.ErrInvalidInput)
)

// PriceFeed reports the current market price of one unit of collateral in
// wad. ok is false when no valid price is available.
type PriceFeed interface {
	Peek() (*big.Int, bool)
}

// IlkConfig holds the liquidation ratio of a type.
type IlkConfig struct {
	Mat *big.Int // [ray]
}

func (c *IlkConfig) Clone() *IlkConfig {
	if c == nil {
		return nil
	}
	return &IlkConfig{Mat: fixed.Clone(c.Mat)}
}

// Globals carries the reference peg and the shutdown flag.
type Globals struct {
	Par  *big.Int // [ray]
	Live bool
}

func (g *Globals) Clone() *Globals {
	if g == nil {
		return &Globals{Par: fixed.Clone(fixed.RAY), Live: true}
	}
	return &Globals{Par: fixed.Clone(g.Par), Live: g.Live}
}

type engineState interface {
	nativecommon.WardStore
	GetSpotIlk(ilk string) (*IlkConfig, error)
	PutSpotIlk(ilk string, cfg *IlkConfig) error
	GetSpotGlobals() (*Globals, error)
	PutSpotGlobals(g *Globals) error
}

type ledger interface {
	FileIlk(caller crypto.Address, ilk, what string, value *big.Int) error
}

// Engine turns feed prices into the risk adjusted spot the ledger uses for
// solvency checks.
type Engine struct {
	state   engineState
	vat     ledger
	auth    nativecommon.Auth
	emitter events.Emitter
	address crypto.Address

	mu    sync.RWMutex
	feeds map[string]PriceFeed
}

func NewEngine(v ledger) *Engine {
	return &Engine{
		vat:     v,
		emitter: events.NoopEmitter{},
		address: crypto.ModuleAddress(moduleName),
		feeds:   make(map[string]PriceFeed),
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

func (e *Engine) Address() crypto.Address { return e.address }
func (e *Engine) Auth() nativecommon.Auth { return e.auth }

func (e *Engine) Rely(caller, usr crypto.Address) error { return e.auth.Rely(caller, usr) }
func (e *Engine) Deny(caller, usr crypto.Address) error { return e.auth.Deny(caller, usr) }

// SetFeed binds the price source of ilk. Feeds are held in memory and must
// be rebound after a restart.
func (e *Engine) SetFeed(caller crypto.Address, ilk string, feed PriceFeed) error {
	if err := e.auth.Require(caller); err != nil {
		return err
	}
	if err := e.requireLive(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if feed == nil {
		delete(e.feeds, ilk)
		return nil
	}
	e.feeds[ilk] = feed
	return nil
}

// Feed returns the price source bound to ilk.
func (e *Engine) Feed(ilk string) (PriceFeed, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	feed, ok := e.feeds[ilk]
	return feed, ok
}

// File sets the reference peg.
func (e *Engine) File(caller crypto.Address, what string, value *big.Int) error {
	if err := e.auth.Require(caller); err != nil {
		return err
	}
	g, err := e.Globals()
	if err != nil {
		return err
	}
	if !g.Live {
		return ErrNotLive
	}
	if value == nil || value.Sign() <= 0 {
		return ErrInvalidValue
	}
	switch what {
	case "par":
		g.Par = fixed.Clone(value)
	default:
		return fmt.Errorf("%w: %s", ErrUnrecognizedParam, what)
	}
	return e.state.PutSpotGlobals(g)
}

// FileIlk sets the liquidation ratio of ilk.
func (e *Engine) FileIlk(caller crypto.Address, ilk, what string, value *big.Int) error {
	if err := e.auth.Require(caller); err != nil {
		return err
	}
	if err := e.requireLive(); err != nil {
		return err
	}
	if value == nil || value.Sign() <= 0 {
		return ErrInvalidValue
	}
	switch what {
	case "mat":
		return e.state.PutSpotIlk(ilk, &IlkConfig{Mat: fixed.Clone(value)})
	default:
		return fmt.Errorf("%w: %s", ErrUnrecognizedParam, what)
	}
}

// Cage freezes configuration.
func (e *Engine) Cage(caller crypto.Address) error {
	if err := e.auth.Require(caller); err != nil {
		return err
	}
	g, err := e.Globals()
	if err != nil {
		return err
	}
	g.Live = false
	return e.state.PutSpotGlobals(g)
}

// Poke reads the feed of ilk and pushes the resulting spot into the ledger.
// A feed without a valid price leaves every record untouched.
func (e *Engine) Poke(ilk string) (*big.Int, error) {
	if e.vat == nil {
		return nil, errNilLedger
	}
	cfg, err := e.IlkConfig(ilk)
	if err != nil {
		return nil, err
	}
	val, ok, err := e.peek(ilk)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoPrice
	}
	g, err := e.Globals()
	if err != nil {
		return nil, err
	}
	spot := fixed.RDiv(fixed.RDiv(fixed.Mul(val, fixed.BLN), g.Par), cfg.Mat)
	if err := e.vat.FileIlk(e.address, ilk, "spot", spot); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.SpotUpdated{Ilk: ilk, Price: val, Spot: spot})
	return spot, nil
}

// FeedPrice returns the feed price of ilk divided by the peg, in ray. The
// auction engine uses it to set starting prices.
func (e *Engine) FeedPrice(ilk string) (*big.Int, error) {
	val, ok, err := e.peek(ilk)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoPrice
	}
	g, err := e.Globals()
	if err != nil {
		return nil, err
	}
	return fixed.RDiv(fixed.Mul(val, fixed.BLN), g.Par), nil
}

// IlkConfig returns a copy of the liquidation ratio record of ilk.
func (e *Engine) IlkConfig(ilk string) (*IlkConfig, error) {
	if e.state == nil {
		return nil, errNilState
	}
	cfg, err := e.state.GetSpotIlk(ilk)
	if err != nil {
		return nil, err
	}
	if cfg == nil || fixed.IsZero(cfg.Mat) {
		return nil, ErrIlkNotInit
	}
	return cfg.Clone(), nil
}

func (e *Engine) Globals() (*Globals, error) {
	if e.state == nil {
		return nil, errNilState
	}
	g, err := e.state.GetSpotGlobals()
	if err != nil {
		return nil, err
	}
	return g.Clone(), nil
}

func (e *Engine) requireLive() error {
	g, err := e.Globals()
	if err != nil {
		return err
	}
	if !g.Live {
		return ErrNotLive
	}
	return nil
}

func (e *Engine) peek(ilk string) (*big.Int, bool, error) {
	feed, ok := e.Feed(ilk)
	if !ok {
		return nil, false, ErrNoFeed
	}
	val, ok := feed.Peek()
	if !ok || val == nil || val.Sign() <= 0 {
		return nil, false, nil
	}
	return fixed.Clone(val), true, nil
}
