package token

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"nhbcdp/crypto"
	nativecommon "nhbcdp/native/common"
	"nhbcdp/native/fixed"
)

const moduleName = "token"

var (
	errNilState = errors.New("token: state not configured")

	ErrUnknownToken      = fmt.Errorf("token: not registered: %w", nativecommon.ErrState)
	ErrAlreadyRegistered = fmt.Errorf("token: already registered: %w", nativecommon.ErrState)
	ErrMintPaused        = fmt.Errorf("token: mint paused: %w", nativecommon.ErrState)
	ErrNotMintAuthority  = fmt.Errorf("token: caller is not the mint authority: %w", nativecommon.ErrUnauthorized)
	ErrNotOperator       = fmt.Errorf("token: caller may not move this balance: %w", nativecommon.ErrUnauthorized)
	ErrInsufficient      = fmt.Errorf("token: insufficient balance: %w", nativecommon.ErrSolvency)
	ErrInvalidAmount     = fmt.Errorf("token: amount must not be negative: %w", nativecommon.ErrInvalidInput)
	ErrInvalidSymbol     = fmt.Errorf("token: symbol must not be empty: %w", nativecommon.ErrInvalidInput)
)

// Metadata describes a registered token.
type Metadata struct {
	Symbol        string
	Name          string
	Decimals      uint8
	MintAuthority crypto.Address
	MintPaused    bool
}

func (m *Metadata) Clone() *Metadata {
	if m == nil {
		return nil
	}
	out := *m
	return &out
}

type engineState interface {
	nativecommon.WardStore
	GetToken(symbol string) (*Metadata, error)
	PutToken(symbol string, meta *Metadata) error
	GetTokenList() ([]string, error)
	PutTokenList(symbols []string) error
	GetBalance(symbol string, owner crypto.Address) (*big.Int, error)
	PutBalance(symbol string, owner crypto.Address, amount *big.Int) error
	GetSupply(symbol string) (*big.Int, error)
	PutSupply(symbol string, amount *big.Int) error
}

// Engine keeps symbol scoped balances and total supply. Module wards act as
// operators that may move any balance; everyone else moves only their own.
type Engine struct {
	state engineState
	auth  nativecommon.Auth
}

func NewEngine() *Engine { return &Engine{} }

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) {
	e.state = state
	e.auth = nativecommon.NewAuth(moduleName, state)
}

func (e *Engine) Auth() nativecommon.Auth { return e.auth }

func (e *Engine) Rely(caller, usr crypto.Address) error { return e.auth.Rely(caller, usr) }
func (e *Engine) Deny(caller, usr crypto.Address) error { return e.auth.Deny(caller, usr) }

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Register records a new token and adds it to the sorted token index.
func (e *Engine) Register(caller crypto.Address, symbol, name string, decimals uint8) error {
	if err := e.auth.Require(caller); err != nil {
		return err
	}
	normalized := normalize(symbol)
	if normalized == "" {
		return ErrInvalidSymbol
	}
	if existing, err := e.state.GetToken(normalized); err != nil {
		return err
	} else if existing != nil {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, normalized)
	}
	list, err := e.state.GetTokenList()
	if err != nil {
		return err
	}
	list = append(list, normalized)
	sort.Strings(list)
	if err := e.state.PutTokenList(list); err != nil {
		return err
	}
	if strings.TrimSpace(name) == "" {
		name = normalized
	}
	return e.state.PutToken(normalized, &Metadata{Symbol: normalized, Name: name, Decimals: decimals})
}

// SetMintAuthority assigns the single address allowed to mint symbol.
func (e *Engine) SetMintAuthority(caller crypto.Address, symbol string, authority crypto.Address) error {
	if err := e.auth.Require(caller); err != nil {
		return err
	}
	meta, err := e.Token(symbol)
	if err != nil {
		return err
	}
	meta.MintAuthority = authority
	return e.state.PutToken(meta.Symbol, meta)
}

func (e *Engine) SetMintPaused(caller crypto.Address, symbol string, paused bool) error {
	if err := e.auth.Require(caller); err != nil {
		return err
	}
	meta, err := e.Token(symbol)
	if err != nil {
		return err
	}
	meta.MintPaused = paused
	return e.state.PutToken(meta.Symbol, meta)
}

// Token returns the metadata of symbol.
func (e *Engine) Token(symbol string) (*Metadata, error) {
	if e.state == nil {
		return nil, errNilState
	}
	normalized := normalize(symbol)
	meta, err := e.state.GetToken(normalized)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, normalized)
	}
	return meta.Clone(), nil
}

// Tokens lists every registered symbol in sorted order.
func (e *Engine) Tokens() ([]string, error) {
	if e.state == nil {
		return nil, errNilState
	}
	return e.state.GetTokenList()
}

func (e *Engine) BalanceOf(symbol string, owner crypto.Address) (*big.Int, error) {
	if e.state == nil {
		return nil, errNilState
	}
	balance, err := e.state.GetBalance(normalize(symbol), owner)
	return fixed.Clone(balance), err
}

func (e *Engine) TotalSupply(symbol string) (*big.Int, error) {
	if e.state == nil {
		return nil, errNilState
	}
	supply, err := e.state.GetSupply(normalize(symbol))
	return fixed.Clone(supply), err
}

// Mint creates amount of symbol for to. Only the mint authority may call it.
func (e *Engine) Mint(caller crypto.Address, symbol string, to crypto.Address, amount *big.Int) error {
	if !validAmount(amount) {
		return ErrInvalidAmount
	}
	meta, err := e.Token(symbol)
	if err != nil {
		return err
	}
	if meta.MintPaused {
		return ErrMintPaused
	}
	if meta.MintAuthority.IsZero() || !meta.MintAuthority.Equal(caller) {
		return ErrNotMintAuthority
	}
	balance, err := e.state.GetBalance(meta.Symbol, to)
	if err != nil {
		return err
	}
	supply, err := e.state.GetSupply(meta.Symbol)
	if err != nil {
		return err
	}
	if err := e.state.PutBalance(meta.Symbol, to, new(big.Int).Add(fixed.Clone(balance), amount)); err != nil {
		return err
	}
	return e.state.PutSupply(meta.Symbol, new(big.Int).Add(fixed.Clone(supply), amount))
}

// Burn destroys amount of symbol held by from. The holder and the mint
// authority may burn.
func (e *Engine) Burn(caller crypto.Address, symbol string, from crypto.Address, amount *big.Int) error {
	if !validAmount(amount) {
		return ErrInvalidAmount
	}
	meta, err := e.Token(symbol)
	if err != nil {
		return err
	}
	if !caller.Equal(from) && (meta.MintAuthority.IsZero() || !meta.MintAuthority.Equal(caller)) {
		return ErrNotOperator
	}
	balance, err := e.state.GetBalance(meta.Symbol, from)
	if err != nil {
		return err
	}
	remaining, ok := fixed.Sub(balance, amount)
	if !ok {
		return ErrInsufficient
	}
	supply, err := e.state.GetSupply(meta.Symbol)
	if err != nil {
		return err
	}
	nextSupply, ok := fixed.Sub(supply, amount)
	if !ok {
		return ErrInsufficient
	}
	if err := e.state.PutBalance(meta.Symbol, from, remaining); err != nil {
		return err
	}
	return e.state.PutSupply(meta.Symbol, nextSupply)
}

// Transfer moves amount of symbol from one holder to another. Callers other
// than the holder must be module wards.
func (e *Engine) Transfer(caller crypto.Address, symbol string, from, to crypto.Address, amount *big.Int) error {
	if !validAmount(amount) {
		return ErrInvalidAmount
	}
	meta, err := e.Token(symbol)
	if err != nil {
		return err
	}
	if !caller.Equal(from) {
		ok, err := e.auth.IsWard(caller)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotOperator
		}
	}
	balance, err := e.state.GetBalance(meta.Symbol, from)
	if err != nil {
		return err
	}
	remaining, ok := fixed.Sub(balance, amount)
	if !ok {
		return ErrInsufficient
	}
	if err := e.state.PutBalance(meta.Symbol, from, remaining); err != nil {
		return err
	}
	dest, err := e.state.GetBalance(meta.Symbol, to)
	if err != nil {
		return err
	}
	return e.state.PutBalance(meta.Symbol, to, new(big.Int).Add(fixed.Clone(dest), amount))
}

func validAmount(v *big.Int) bool {
	return v != nil && v.Sign() >= 0 && fixed.InUint256(v)
}
