package state

import (
	"math/big"

	"nhbcdp/crypto"
	"nhbcdp/native/token"
)

type storedToken struct {
	Symbol        string
	Name          string
	Decimals      uint8
	MintAuthority storedAddress
	MintPaused    bool
}

func (m *Manager) GetToken(symbol string) (*token.Metadata, error) {
	var stored storedToken
	ok, err := m.KVGet(tokenMetaKey(symbol), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &token.Metadata{
		Symbol:        stored.Symbol,
		Name:          stored.Name,
		Decimals:      stored.Decimals,
		MintAuthority: stored.MintAuthority.decode(),
		MintPaused:    stored.MintPaused,
	}, nil
}

func (m *Manager) PutToken(symbol string, meta *token.Metadata) error {
	return m.KVPut(tokenMetaKey(symbol), storedToken{
		Symbol:        meta.Symbol,
		Name:          meta.Name,
		Decimals:      meta.Decimals,
		MintAuthority: encodeAddress(meta.MintAuthority),
		MintPaused:    meta.MintPaused,
	})
}

// GetTokenList returns all registered token symbols in sorted order.
func (m *Manager) GetTokenList() ([]string, error) {
	var list []string
	if err := m.KVGetList(tokenListKey, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (m *Manager) PutTokenList(symbols []string) error {
	return m.KVPut(tokenListKey, symbols)
}

func (m *Manager) GetBalance(symbol string, owner crypto.Address) (*big.Int, error) {
	return m.getWord(tokenBalanceKey(symbol, owner))
}

func (m *Manager) PutBalance(symbol string, owner crypto.Address, amount *big.Int) error {
	return m.putWord(tokenBalanceKey(symbol, owner), amount)
}

// GetSupply returns the persisted total supply. Missing entries default to
// zero.
func (m *Manager) GetSupply(symbol string) (*big.Int, error) {
	return m.getWord(tokenSupplyKey(symbol))
}

func (m *Manager) PutSupply(symbol string, amount *big.Int) error {
	return m.putWord(tokenSupplyKey(symbol), amount)
}
