package state

import (
	"math/big"

	"nhbcdp/crypto"
	"nhbcdp/native/vat"
)

type storedIlk struct {
	Art  []byte
	Rate []byte
	Spot []byte
	Line []byte
	Dust []byte
}

type storedUrn struct {
	Ink []byte
	Art []byte
}

type storedVatGlobals struct {
	Debt []byte
	Vice []byte
	Line []byte
	Live bool
}

// IsWard reports whether addr belongs to the ward set of module.
func (m *Manager) IsWard(module string, addr crypto.Address) (bool, error) {
	return m.getFlag(WardKey(module, addr))
}

// SetWard adds or removes addr from the ward set of module.
func (m *Manager) SetWard(module string, addr crypto.Address, ward bool) error {
	return m.putFlag(WardKey(module, addr), ward)
}

// JoinCaged reports whether the token adapter registered as module was
// caged.
func (m *Manager) JoinCaged(module string) (bool, error) {
	return m.getFlag(joinCagedKey(module))
}

// CageJoin records module as caged. Caging is permanent.
func (m *Manager) CageJoin(module string) error {
	return m.putFlag(joinCagedKey(module), true)
}

func (m *Manager) GetIlk(ilk string) (*vat.Ilk, error) {
	var stored storedIlk
	ok, err := m.KVGet(VatIlkKey(ilk), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &vat.Ilk{
		Art:  fromWord(stored.Art),
		Rate: fromWord(stored.Rate),
		Spot: fromWord(stored.Spot),
		Line: fromWord(stored.Line),
		Dust: fromWord(stored.Dust),
	}, nil
}

func (m *Manager) PutIlk(ilk string, record *vat.Ilk) error {
	w, err := words(record.Art, record.Rate, record.Spot, record.Line, record.Dust)
	if err != nil {
		return err
	}
	return m.KVPut(VatIlkKey(ilk), storedIlk{Art: w[0], Rate: w[1], Spot: w[2], Line: w[3], Dust: w[4]})
}

// GetUrn returns the position of owner, or an empty position.
func (m *Manager) GetUrn(ilk string, owner crypto.Address) (*vat.Urn, error) {
	var stored storedUrn
	ok, err := m.KVGet(VatUrnKey(ilk, owner), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &vat.Urn{Ink: new(big.Int), Art: new(big.Int)}, nil
	}
	return &vat.Urn{Ink: fromWord(stored.Ink), Art: fromWord(stored.Art)}, nil
}

// PutUrn stores the position, dropping it once it is empty.
func (m *Manager) PutUrn(ilk string, owner crypto.Address, urn *vat.Urn) error {
	if urn.IsEmpty() {
		return m.KVDelete(VatUrnKey(ilk, owner))
	}
	w, err := words(urn.Ink, urn.Art)
	if err != nil {
		return err
	}
	return m.KVPut(VatUrnKey(ilk, owner), storedUrn{Ink: w[0], Art: w[1]})
}

func (m *Manager) GetGem(ilk string, owner crypto.Address) (*big.Int, error) {
	return m.getWord(vatGemKey(ilk, owner))
}

func (m *Manager) PutGem(ilk string, owner crypto.Address, wad *big.Int) error {
	return m.putWord(vatGemKey(ilk, owner), wad)
}

func (m *Manager) GetDai(owner crypto.Address) (*big.Int, error) {
	return m.getWord(vatDaiKey(owner))
}

func (m *Manager) PutDai(owner crypto.Address, rad *big.Int) error {
	return m.putWord(vatDaiKey(owner), rad)
}

func (m *Manager) GetSin(owner crypto.Address) (*big.Int, error) {
	return m.getWord(vatSinKey(owner))
}

func (m *Manager) PutSin(owner crypto.Address, rad *big.Int) error {
	return m.putWord(vatSinKey(owner), rad)
}

// GetGlobals returns nil until the ledger totals were first written.
func (m *Manager) GetGlobals() (*vat.Globals, error) {
	var stored storedVatGlobals
	ok, err := m.KVGet(vatGlobalsKey, &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &vat.Globals{
		Debt: fromWord(stored.Debt),
		Vice: fromWord(stored.Vice),
		Line: fromWord(stored.Line),
		Live: stored.Live,
	}, nil
}

func (m *Manager) PutGlobals(g *vat.Globals) error {
	w, err := words(g.Debt, g.Vice, g.Line)
	if err != nil {
		return err
	}
	return m.KVPut(vatGlobalsKey, storedVatGlobals{Debt: w[0], Vice: w[1], Line: w[2], Live: g.Live})
}

func (m *Manager) GetCan(owner, delegate crypto.Address) (bool, error) {
	return m.getFlag(vatCanKey(owner, delegate))
}

func (m *Manager) PutCan(owner, delegate crypto.Address, allowed bool) error {
	return m.putFlag(vatCanKey(owner, delegate), allowed)
}
