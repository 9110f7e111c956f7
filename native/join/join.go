// Package join connects external token balances to the ledger. GemJoin
// escrows collateral tokens and credits the ledger's unlocked collateral;
// StableJoin converts internal stable balances into the stable token and
// back.
package join

import (
	"errors"
	"fmt"
	"math/big"

	"nhbcdp/crypto"
	nativecommon "nhbcdp/native/common"
	"nhbcdp/native/fixed"
)

var (
	errNilLedger = errors.New("join: ledger not configured")
	errNilTokens = errors.New("join: token engine not configured")
	errNilState  = errors.New("join: state not configured")

	ErrNotLive       = fmt.Errorf("join: not-live: %w", nativecommon.ErrState)
	ErrInvalidAmount = fmt.Errorf("join: amount out of range: %w", nativecommon.ErrInvalidInput)
)

type ledger interface {
	Slip(caller crypto.Address, ilk string, usr crypto.Address, wad *big.Int) error
	Move(caller, src, dst crypto.Address, rad *big.Int) error
}

// Store persists the adapters' wards and whether they were caged. A nil
// store leaves an adapter permanently live.
type Store interface {
	nativecommon.WardStore
	JoinCaged(module string) (bool, error)
	CageJoin(module string) error
}

type tokens interface {
	Transfer(caller crypto.Address, symbol string, from, to crypto.Address, amount *big.Int) error
	Mint(caller crypto.Address, symbol string, to crypto.Address, amount *big.Int) error
	Burn(caller crypto.Address, symbol string, from crypto.Address, amount *big.Int) error
}

// GemJoin is the escrow adapter of one collateral type.
type GemJoin struct {
	Ilk    string
	Symbol string

	vat     ledger
	tokens  tokens
	store   Store
	name    string
	auth    nativecommon.Auth
	address crypto.Address
}

// NewGemJoin builds the adapter for ilk backed by the token symbol. Wards and
// the cage flag are kept under the module name "join:<ilk>".
func NewGemJoin(ilk, symbol string, v ledger, t tokens, store Store) *GemJoin {
	name := "join:" + ilk
	return &GemJoin{
		Ilk:     ilk,
		Symbol:  symbol,
		vat:     v,
		tokens:  t,
		store:   store,
		name:    name,
		auth:    nativecommon.NewAuth(name, wardStore(store)),
		address: crypto.ModuleAddress(name),
	}
}

func (j *GemJoin) Address() crypto.Address { return j.address }
func (j *GemJoin) Auth() nativecommon.Auth { return j.auth }

// Cage stops new deposits. Withdrawals stay open.
func (j *GemJoin) Cage(caller crypto.Address) error {
	return cage(j.auth, j.store, j.name, caller)
}

// Live reports whether the adapter still accepts deposits.
func (j *GemJoin) Live() (bool, error) {
	return live(j.store, j.name)
}

// Join escrows wad tokens held by caller and credits them to usr inside the
// ledger.
func (j *GemJoin) Join(caller, usr crypto.Address, wad *big.Int) error {
	if err := j.ready(); err != nil {
		return err
	}
	if err := requireLive(j.store, j.name); err != nil {
		return err
	}
	if !validAmount(wad) {
		return ErrInvalidAmount
	}
	if err := j.vat.Slip(j.address, j.Ilk, usr, wad); err != nil {
		return err
	}
	return j.tokens.Transfer(j.address, j.Symbol, caller, j.address, wad)
}

// Exit debits wad of caller's unlocked collateral and releases the tokens
// to usr.
func (j *GemJoin) Exit(caller, usr crypto.Address, wad *big.Int) error {
	if err := j.ready(); err != nil {
		return err
	}
	if !validAmount(wad) {
		return ErrInvalidAmount
	}
	if err := j.vat.Slip(j.address, j.Ilk, caller, new(big.Int).Neg(wad)); err != nil {
		return err
	}
	return j.tokens.Transfer(j.address, j.Symbol, j.address, usr, wad)
}

func (j *GemJoin) ready() error {
	if j.vat == nil {
		return errNilLedger
	}
	if j.tokens == nil {
		return errNilTokens
	}
	return nil
}

// StableJoin converts between internal stable balances [rad] and the stable
// token [wad].
type StableJoin struct {
	Symbol string

	vat     ledger
	tokens  tokens
	store   Store
	auth    nativecommon.Auth
	address crypto.Address
}

const stableJoinName = "join:stable"

func NewStableJoin(symbol string, v ledger, t tokens, store Store) *StableJoin {
	return &StableJoin{
		Symbol:  symbol,
		vat:     v,
		tokens:  t,
		store:   store,
		auth:    nativecommon.NewAuth(stableJoinName, wardStore(store)),
		address: crypto.ModuleAddress(stableJoinName),
	}
}

func (j *StableJoin) Address() crypto.Address { return j.address }
func (j *StableJoin) Auth() nativecommon.Auth { return j.auth }

// Cage stops minting. Burning back into the ledger stays open.
func (j *StableJoin) Cage(caller crypto.Address) error {
	return cage(j.auth, j.store, stableJoinName, caller)
}

// Live reports whether the adapter still mints.
func (j *StableJoin) Live() (bool, error) {
	return live(j.store, stableJoinName)
}

// Join burns wad stable tokens held by caller and credits usr's internal
// balance.
func (j *StableJoin) Join(caller, usr crypto.Address, wad *big.Int) error {
	if err := j.ready(); err != nil {
		return err
	}
	if !validAmount(wad) {
		return ErrInvalidAmount
	}
	if err := j.vat.Move(j.address, j.address, usr, fixed.Mul(wad, fixed.RAY)); err != nil {
		return err
	}
	return j.tokens.Burn(j.address, j.Symbol, caller, wad)
}

// Exit debits caller's internal balance and mints wad stable tokens to usr.
// caller must have delegated to the adapter in the ledger.
func (j *StableJoin) Exit(caller, usr crypto.Address, wad *big.Int) error {
	if err := j.ready(); err != nil {
		return err
	}
	if err := requireLive(j.store, stableJoinName); err != nil {
		return err
	}
	if !validAmount(wad) {
		return ErrInvalidAmount
	}
	if err := j.vat.Move(j.address, caller, j.address, fixed.Mul(wad, fixed.RAY)); err != nil {
		return err
	}
	return j.tokens.Mint(j.address, j.Symbol, usr, wad)
}

func (j *StableJoin) ready() error {
	if j.vat == nil {
		return errNilLedger
	}
	if j.tokens == nil {
		return errNilTokens
	}
	return nil
}

func cage(auth nativecommon.Auth, store Store, name string, caller crypto.Address) error {
	if store == nil {
		return errNilState
	}
	if err := auth.Require(caller); err != nil {
		return err
	}
	return store.CageJoin(name)
}

func live(store Store, name string) (bool, error) {
	if store == nil {
		return true, nil
	}
	caged, err := store.JoinCaged(name)
	if err != nil {
		return false, err
	}
	return !caged, nil
}

func requireLive(store Store, name string) error {
	ok, err := live(store, name)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotLive
	}
	return nil
}

// wardStore keeps a nil Store a nil interface inside Auth.
func wardStore(store Store) nativecommon.WardStore {
	if store == nil {
		return nil
	}
	return store
}

func validAmount(v *big.Int) bool {
	return v != nil && v.Sign() >= 0 && fixed.InUint256(new(big.Int).Mul(v, fixed.RAY))
}
