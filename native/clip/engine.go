package clip

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

var (
	errNilState = errors.New("clip: state not configured")
	errNilDeps  = errors.New("clip: ledger, pricer or liquidator not configured")

	ErrStopped           = fmt.Errorf("clip: stopped-incorrect: %w", nativecommon.ErrState)
	ErrNotRunning        = fmt.Errorf("clip: not-running-auction: %w", nativecommon.ErrState)
	ErrNeedsReset        = fmt.Errorf("clip: needs-reset: %w", nativecommon.ErrState)
	ErrCannotReset       = fmt.Errorf("clip: cannot-reset: %w", nativecommon.ErrState)
	ErrTooExpensive      = fmt.Errorf("clip: too-expensive: %w", nativecommon.ErrPrice)
	ErrZeroTopPrice      = fmt.Errorf("clip: zero-top-price: %w", nativecommon.ErrPrice)
	ErrZeroTab           = fmt.Errorf("clip: zero-tab: %w", nativecommon.ErrInvalidInput)
	ErrZeroLot           = fmt.Errorf("clip: zero-lot: %w", nativecommon.ErrInvalidInput)
	ErrZeroUsr           = fmt.Errorf("clip: zero-usr: %w", nativecommon.ErrInvalidInput)
	ErrInvalidValue      = fmt.Errorf("clip: value out of range: %w", nativecommon.ErrInvalidInput)
	ErrUnrecognizedParam = fmt.Errorf("clip: unrecognized-param: %w", nativecommon.ErrInvalidInput)
)

type engineState interface {
	nativecommon.WardStore
	GetClipParams(ilk string) (*Params, error)
	PutClipParams(ilk string, params *Params) error
	GetSale(ilk string, id uint64) (*Sale, error)
	PutSale(ilk string, sale *Sale) error
	DeleteSale(ilk string, id uint64) error
	GetActive(ilk string) ([]uint64, error)
	PutActive(ilk string, ids []uint64) error
	GetKicks(ilk string) (uint64, error)
	PutKicks(ilk string, kicks uint64) error
}

type ledger interface {
	Ilk(ilk string) (*vat.Ilk, error)
	Flux(caller crypto.Address, ilk string, src, dst crypto.Address, wad *big.Int) error
	Move(caller, src, dst crypto.Address, rad *big.Int) error
	Suck(caller, u, v crypto.Address, rad *big.Int) error
}

// Pricer supplies the feed price divided by the peg [ray].
type Pricer interface {
	FeedPrice(ilk string) (*big.Int, error)
}

// Liquidator is the trigger that opened the sale. It is told when debt
// leaves liquidation so its budget frees up.
type Liquidator interface {
	Chop(ilk string) (*big.Int, error)
	Digs(caller crypto.Address, ilk string, rad *big.Int) error
}

// Engine runs the decreasing price auctions of one collateral type.
type Engine struct {
	ilk     string
	state   engineState
	vat     ledger
	spotter Pricer
	dog     Liquidator
	auth    nativecommon.Auth
	clock   nativecommon.Clock
	emitter events.Emitter
	pauses  nativecommon.PauseView
	address crypto.Address
}

// ModuleName is the ward scope and address seed of the auction engine of ilk.
func ModuleName(ilk string) string { return "clip:" + ilk }

func NewEngine(ilk string, v ledger, spotter Pricer) *Engine {
	return &Engine{
		ilk:     ilk,
		vat:     v,
		spotter: spotter,
		clock:   nativecommon.SystemClock{},
		emitter: events.NoopEmitter{},
		address: crypto.ModuleAddress(ModuleName(ilk)),
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) {
	e.state = state
	e.auth = nativecommon.NewAuth(ModuleName(e.ilk), state)
}

// SetLiquidator binds the trigger notified through Digs.
func (e *Engine) SetLiquidator(dog Liquidator) { e.dog = dog }

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

func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

func (e *Engine) Ilk() string             { return e.ilk }
func (e *Engine) Address() crypto.Address { return e.address }
func (e *Engine) Auth() nativecommon.Auth { return e.auth }

func (e *Engine) Rely(caller, usr crypto.Address) error { return e.auth.Rely(caller, usr) }
func (e *Engine) Deny(caller, usr crypto.Address) error { return e.auth.Deny(caller, usr) }

// Params returns a copy of the engine configuration.
func (e *Engine) Params() (*Params, error) {
	if e.state == nil {
		return nil, errNilState
	}
	p, err := e.state.GetClipParams(e.ilk)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return DefaultParams(), nil
	}
	return p.Clone(), nil
}

// File sets a numeric parameter: buf, tail, cusp, chip, tip, chost or stopped.
func (e *Engine) File(caller crypto.Address, what string, value *big.Int) error {
	if err := e.auth.Require(caller); err != nil {
		return err
	}
	if value == nil || value.Sign() < 0 || !fixed.InUint256(value) {
		return ErrInvalidValue
	}
	p, err := e.Params()
	if err != nil {
		return err
	}
	switch what {
	case "buf":
		p.Buf = fixed.Clone(value)
	case "tail":
		if !value.IsUint64() {
			return ErrInvalidValue
		}
		p.Tail = value.Uint64()
	case "cusp":
		p.Cusp = fixed.Clone(value)
	case "chip":
		p.Chip = fixed.Clone(value)
	case "tip":
		p.Tip = fixed.Clone(value)
	case "chost":
		p.Chost = fixed.Clone(value)
	case "stopped":
		if value.Cmp(big.NewInt(3)) > 0 {
			return ErrInvalidValue
		}
		p.Stopped = uint8(value.Uint64())
	default:
		return fmt.Errorf("%w: %s", ErrUnrecognizedParam, what)
	}
	return e.state.PutClipParams(e.ilk, p)
}

// FileAddress sets the surplus sink that receives auction proceeds.
func (e *Engine) FileAddress(caller crypto.Address, what string, addr crypto.Address) error {
	if err := e.auth.Require(caller); err != nil {
		return err
	}
	p, err := e.Params()
	if err != nil {
		return err
	}
	switch what {
	case "vow":
		p.Vow = addr
	default:
		return fmt.Errorf("%w: %s", ErrUnrecognizedParam, what)
	}
	return e.state.PutClipParams(e.ilk, p)
}

// FileCalc replaces the price function.
func (e *Engine) FileCalc(caller crypto.Address, calc CalcConfig) error {
	if err := e.auth.Require(caller); err != nil {
		return err
	}
	if err := calc.Validate(); err != nil {
		return err
	}
	p, err := e.Params()
	if err != nil {
		return err
	}
	p.Calc = calc.Clone()
	return e.state.PutClipParams(e.ilk, p)
}

// Upchost refreshes the minimum remaining tab from the ledger floor and the
// liquidation penalty.
func (e *Engine) Upchost() error {
	if e.vat == nil || e.dog == nil {
		return errNilDeps
	}
	ilk, err := e.vat.Ilk(e.ilk)
	if err != nil {
		return err
	}
	chop, err := e.dog.Chop(e.ilk)
	if err != nil {
		return err
	}
	p, err := e.Params()
	if err != nil {
		return err
	}
	p.Chost = fixed.WMul(ilk.Dust, chop)
	return e.state.PutClipParams(e.ilk, p)
}

// Kick starts a sale of lot collateral to raise tab. The keeper kpr is paid
// the configured incentive out of unbacked debt.
func (e *Engine) Kick(caller crypto.Address, tab, lot *big.Int, usr, kpr crypto.Address) (uint64, error) {
	if err := e.auth.Require(caller); err != nil {
		return 0, err
	}
	if err := e.ready(); err != nil {
		return 0, err
	}
	p, err := e.Params()
	if err != nil {
		return 0, err
	}
	if p.Stopped >= 1 {
		return 0, ErrStopped
	}
	if fixed.IsZero(tab) || tab.Sign() < 0 {
		return 0, ErrZeroTab
	}
	if fixed.IsZero(lot) || lot.Sign() < 0 {
		return 0, ErrZeroLot
	}
	if usr.IsZero() {
		return 0, ErrZeroUsr
	}
	feedPrice, err := e.spotter.FeedPrice(e.ilk)
	if err != nil {
		return 0, err
	}
	top := fixed.RMul(feedPrice, p.Buf)
	if top.Sign() <= 0 {
		return 0, ErrZeroTopPrice
	}

	kicks, err := e.state.GetKicks(e.ilk)
	if err != nil {
		return 0, err
	}
	active, err := e.state.GetActive(e.ilk)
	if err != nil {
		return 0, err
	}
	id := kicks + 1
	sale := &Sale{
		ID:  id,
		Pos: uint64(len(active)),
		Tab: fixed.Clone(tab),
		Lot: fixed.Clone(lot),
		Usr: usr,
		Tic: nativecommon.Unix(e.clock),
		Top: top,
	}
	if err := e.state.PutKicks(e.ilk, id); err != nil {
		return 0, err
	}
	if err := e.state.PutActive(e.ilk, append(active, id)); err != nil {
		return 0, err
	}
	if err := e.state.PutSale(e.ilk, sale); err != nil {
		return 0, err
	}

	coin := fixed.Zero()
	if !fixed.IsZero(p.Tip) || !fixed.IsZero(p.Chip) {
		coin = new(big.Int).Add(p.Tip, fixed.WMul(tab, p.Chip))
		if err := e.vat.Suck(e.address, p.Vow, kpr, coin); err != nil {
			return 0, err
		}
	}
	e.emitter.Emit(events.AuctionKicked{
		Ilk: e.ilk, ID: id, Top: top, Tab: sale.Tab, Lot: sale.Lot, Usr: usr, Kpr: kpr, Coin: coin,
	})
	return id, nil
}

// Redo restarts a stale sale at a fresh starting price.
func (e *Engine) Redo(caller crypto.Address, id uint64, kpr crypto.Address) error {
	if err := nativecommon.Guard(e.pauses, ModuleName(e.ilk)); err != nil {
		return err
	}
	if err := e.ready(); err != nil {
		return err
	}
	p, err := e.Params()
	if err != nil {
		return err
	}
	if p.Stopped >= 2 {
		return ErrStopped
	}
	sale, err := e.loadSale(id)
	if err != nil {
		return err
	}
	calc, err := p.Calc.Build()
	if err != nil {
		return err
	}
	now := nativecommon.Unix(e.clock)
	done, _ := e.status(p, calc, sale, now)
	if !done {
		return ErrCannotReset
	}
	feedPrice, err := e.spotter.FeedPrice(e.ilk)
	if err != nil {
		return err
	}
	top := fixed.RMul(feedPrice, p.Buf)
	if top.Sign() <= 0 {
		return ErrZeroTopPrice
	}
	sale.Tic = now
	sale.Top = top
	if err := e.state.PutSale(e.ilk, sale); err != nil {
		return err
	}

	coin := fixed.Zero()
	if !fixed.IsZero(p.Tip) || !fixed.IsZero(p.Chip) {
		if sale.Tab.Cmp(p.Chost) >= 0 && fixed.Mul(sale.Lot, feedPrice).Cmp(p.Chost) >= 0 {
			coin = new(big.Int).Add(p.Tip, fixed.WMul(sale.Tab, p.Chip))
			if err := e.vat.Suck(e.address, p.Vow, kpr, coin); err != nil {
				return err
			}
		}
	}
	e.emitter.Emit(events.AuctionReset{
		Ilk: e.ilk, ID: id, Top: top, Tab: sale.Tab, Lot: sale.Lot, Usr: sale.Usr, Kpr: kpr, Coin: coin,
	})
	return nil
}

// Take buys up to amt collateral from sale id at no more than maxPrice [ray] per
// unit. Collateral goes to who; caller pays from its internal stable balance,
// which requires caller to have delegated to the engine in the ledger.
//
// A purchase that would leave less than chost of debt behind buys the whole
// remaining lot instead, so no auction is left that nobody can afford to
// finish.
func (e *Engine) Take(caller crypto.Address, id uint64, amt, maxPrice *big.Int, who crypto.Address) (owe, slice *big.Int, err error) {
	if err := nativecommon.Guard(e.pauses, ModuleName(e.ilk)); err != nil {
		return nil, nil, err
	}
	if err := e.ready(); err != nil {
		return nil, nil, err
	}
	if amt == nil || amt.Sign() < 0 || maxPrice == nil || maxPrice.Sign() < 0 {
		return nil, nil, ErrInvalidValue
	}
	p, err := e.Params()
	if err != nil {
		return nil, nil, err
	}
	if p.Stopped >= 3 {
		return nil, nil, ErrStopped
	}
	sale, err := e.loadSale(id)
	if err != nil {
		return nil, nil, err
	}
	calc, err := p.Calc.Build()
	if err != nil {
		return nil, nil, err
	}
	done, price := e.status(p, calc, sale, nativecommon.Unix(e.clock))
	if done {
		return nil, nil, ErrNeedsReset
	}
	if maxPrice.Cmp(price) < 0 {
		return nil, nil, ErrTooExpensive
	}

	slice = fixed.Min(sale.Lot, amt)
	owe = fixed.Mul(slice, price)
	if owe.Cmp(sale.Tab) > 0 {
		owe = fixed.Clone(sale.Tab)
		slice = fixed.Div(owe, price)
	} else if owe.Cmp(sale.Tab) < 0 && slice.Cmp(sale.Lot) < 0 {
		left := new(big.Int).Sub(sale.Tab, owe)
		if left.Cmp(p.Chost) < 0 {
			slice = fixed.Clone(sale.Lot)
			owe = fixed.Mul(slice, price)
			if owe.Cmp(sale.Tab) > 0 {
				owe = fixed.Clone(sale.Tab)
				slice = fixed.Div(owe, price)
			}
		}
	}

	sale.Tab = new(big.Int).Sub(sale.Tab, owe)
	sale.Lot = new(big.Int).Sub(sale.Lot, slice)

	if err := e.vat.Flux(e.address, e.ilk, e.address, who, slice); err != nil {
		return nil, nil, err
	}
	if err := e.vat.Move(e.address, caller, p.Vow, owe); err != nil {
		return nil, nil, err
	}
	released := owe
	if sale.Lot.Sign() == 0 {
		released = new(big.Int).Add(sale.Tab, owe)
	}
	if err := e.dog.Digs(e.address, e.ilk, released); err != nil {
		return nil, nil, err
	}

	switch {
	case sale.Lot.Sign() == 0:
		err = e.remove(id)
	case sale.Tab.Sign() == 0:
		if err = e.vat.Flux(e.address, e.ilk, e.address, sale.Usr, sale.Lot); err == nil {
			err = e.remove(id)
		}
	default:
		err = e.state.PutSale(e.ilk, sale)
	}
	if err != nil {
		return nil, nil, err
	}
	e.emitter.Emit(events.AuctionTaken{
		Ilk: e.ilk, ID: id, Max: maxPrice, Price: price, Owe: owe, Slice: slice,
		Tab: sale.Tab, Lot: sale.Lot, Usr: sale.Usr, Buyer: who,
	})
	return owe, slice, nil
}

// Yank removes a running sale and hands its collateral to caller.
func (e *Engine) Yank(caller crypto.Address, id uint64) error {
	if err := e.auth.Require(caller); err != nil {
		return err
	}
	if err := e.ready(); err != nil {
		return err
	}
	sale, err := e.loadSale(id)
	if err != nil {
		return err
	}
	if err := e.dog.Digs(e.address, e.ilk, sale.Tab); err != nil {
		return err
	}
	if err := e.vat.Flux(e.address, e.ilk, e.address, caller, sale.Lot); err != nil {
		return err
	}
	if err := e.remove(id); err != nil {
		return err
	}
	e.emitter.Emit(events.AuctionYanked{Ilk: e.ilk, ID: id})
	return nil
}

// Status reports whether sale id needs a reset along with its current price,
// lot and tab.
func (e *Engine) Status(id uint64) (*Status, error) {
	p, err := e.Params()
	if err != nil {
		return nil, err
	}
	sale, err := e.loadSale(id)
	if err != nil {
		return nil, err
	}
	calc, err := p.Calc.Build()
	if err != nil {
		return nil, err
	}
	done, price := e.status(p, calc, sale, nativecommon.Unix(e.clock))
	return &Status{NeedsRedo: done, Price: price, Lot: sale.Lot, Tab: sale.Tab}, nil
}

// Sale returns a copy of the running sale id.
func (e *Engine) Sale(id uint64) (*Sale, error) {
	return e.loadSale(id)
}

// List returns the ids of all running sales.
func (e *Engine) List() ([]uint64, error) {
	if e.state == nil {
		return nil, errNilState
	}
	ids, err := e.state.GetActive(e.ilk)
	if err != nil {
		return nil, err
	}
	return append([]uint64(nil), ids...), nil
}

// Count returns the number of running sales.
func (e *Engine) Count() (int, error) {
	ids, err := e.List()
	return len(ids), err
}

// Kicks returns the number of sales ever started.
func (e *Engine) Kicks() (uint64, error) {
	if e.state == nil {
		return 0, errNilState
	}
	return e.state.GetKicks(e.ilk)
}

func (e *Engine) status(p *Params, calc Calc, sale *Sale, now uint64) (bool, *big.Int) {
	var dur uint64
	if now > sale.Tic {
		dur = now - sale.Tic
	}
	price := calc.Price(sale.Top, dur)
	done := dur > p.Tail || fixed.RDiv(price, sale.Top).Cmp(p.Cusp) < 0
	return done, price
}

func (e *Engine) loadSale(id uint64) (*Sale, error) {
	if e.state == nil {
		return nil, errNilState
	}
	sale, err := e.state.GetSale(e.ilk, id)
	if err != nil {
		return nil, err
	}
	if sale == nil || sale.Usr.IsZero() {
		return nil, fmt.Errorf("%w: %d", ErrNotRunning, id)
	}
	return sale.Clone(), nil
}

// remove drops id from the active list by moving the last entry into its
// slot.
func (e *Engine) remove(id uint64) error {
	sale, err := e.state.GetSale(e.ilk, id)
	if err != nil {
		return err
	}
	active, err := e.state.GetActive(e.ilk)
	if err != nil {
		return err
	}
	if sale == nil || len(active) == 0 {
		return fmt.Errorf("%w: %d", ErrNotRunning, id)
	}
	last := active[len(active)-1]
	if last != id {
		pos := sale.Pos
		if pos >= uint64(len(active)) || active[pos] != id {
			return fmt.Errorf("clip: active index corrupt for sale %d: %w", id, nativecommon.ErrState)
		}
		moved, err := e.state.GetSale(e.ilk, last)
		if err != nil {
			return err
		}
		if moved == nil {
			return fmt.Errorf("clip: active index corrupt for sale %d: %w", last, nativecommon.ErrState)
		}
		active[pos] = last
		moved.Pos = pos
		if err := e.state.PutSale(e.ilk, moved); err != nil {
			return err
		}
	}
	if err := e.state.PutActive(e.ilk, active[:len(active)-1]); err != nil {
		return err
	}
	return e.state.DeleteSale(e.ilk, id)
}

func (e *Engine) ready() error {
	if e.state == nil {
		return errNilState
	}
	if e.vat == nil || e.spotter == nil || e.dog == nil {
		return errNilDeps
	}
	return nil
}
