package vat

import (
	"math/big"

	"nhbcdp/crypto"
)

type mockState struct {
	ilks    map[string]*Ilk
	urns    map[string]*Urn
	gem     map[string]*big.Int
	dai     map[string]*big.Int
	sin     map[string]*big.Int
	can     map[string]bool
	wards   map[string]bool
	globals *Globals
}

func newMockState() *mockState {
	return &mockState{
		ilks:  make(map[string]*Ilk),
		urns:  make(map[string]*Urn),
		gem:   make(map[string]*big.Int),
		dai:   make(map[string]*big.Int),
		sin:   make(map[string]*big.Int),
		can:   make(map[string]bool),
		wards: make(map[string]bool),
	}
}

func pairKey(scope string, addr crypto.Address) string { return scope + "/" + addr.Key() }

func (m *mockState) IsWard(module string, addr crypto.Address) (bool, error) {
	return m.wards[pairKey(module, addr)], nil
}

func (m *mockState) SetWard(module string, addr crypto.Address, ward bool) error {
	m.wards[pairKey(module, addr)] = ward
	return nil
}

func (m *mockState) GetIlk(ilk string) (*Ilk, error) { return m.ilks[ilk].Clone(), nil }

func (m *mockState) PutIlk(ilk string, record *Ilk) error {
	m.ilks[ilk] = record.Clone()
	return nil
}

func (m *mockState) GetUrn(ilk string, owner crypto.Address) (*Urn, error) {
	return m.urns[pairKey(ilk, owner)].Clone(), nil
}

func (m *mockState) PutUrn(ilk string, owner crypto.Address, urn *Urn) error {
	m.urns[pairKey(ilk, owner)] = urn.Clone()
	return nil
}

func (m *mockState) GetGem(ilk string, owner crypto.Address) (*big.Int, error) {
	return clone(m.gem[pairKey(ilk, owner)]), nil
}

func (m *mockState) PutGem(ilk string, owner crypto.Address, wad *big.Int) error {
	m.gem[pairKey(ilk, owner)] = clone(wad)
	return nil
}

func (m *mockState) GetDai(owner crypto.Address) (*big.Int, error) {
	return clone(m.dai[owner.Key()]), nil
}

func (m *mockState) PutDai(owner crypto.Address, rad *big.Int) error {
	m.dai[owner.Key()] = clone(rad)
	return nil
}

func (m *mockState) GetSin(owner crypto.Address) (*big.Int, error) {
	return clone(m.sin[owner.Key()]), nil
}

func (m *mockState) PutSin(owner crypto.Address, rad *big.Int) error {
	m.sin[owner.Key()] = clone(rad)
	return nil
}

func (m *mockState) GetGlobals() (*Globals, error) {
	if m.globals == nil {
		return nil, nil
	}
	return m.globals.Clone(), nil
}

func (m *mockState) PutGlobals(g *Globals) error {
	m.globals = g.Clone()
	return nil
}

func (m *mockState) GetCan(owner, delegate crypto.Address) (bool, error) {
	return m.can[owner.Key()+"/"+delegate.Key()], nil
}

func (m *mockState) PutCan(owner, delegate crypto.Address, allowed bool) error {
	m.can[owner.Key()+"/"+delegate.Key()] = allowed
	return nil
}

func clone(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
