package state

import (
	"nhbcdp/native/clip"
	"nhbcdp/native/dog"
)

type storedDogIlk struct {
	Clip storedAddress
	Chop []byte
	Hole []byte
	Dirt []byte
}

type storedDogGlobals struct {
	Hole []byte
	Dirt []byte
	Vow  storedAddress
	Live bool
}

type storedCalc struct {
	Kind string
	Tau  uint64
	Step uint64
	Cut  []byte
}

type storedClipParams struct {
	Buf     []byte
	Tail    uint64
	Cusp    []byte
	Chip    []byte
	Tip     []byte
	Chost   []byte
	Stopped uint8
	Vow     storedAddress
	Calc    storedCalc
}

type storedSale struct {
	ID  uint64
	Pos uint64
	Tab []byte
	Lot []byte
	Usr storedAddress
	Tic uint64
	Top []byte
}

func (m *Manager) GetDogIlk(ilk string) (*dog.IlkParams, error) {
	var stored storedDogIlk
	ok, err := m.KVGet(dogIlkKey(ilk), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &dog.IlkParams{
		Clip: stored.Clip.decode(),
		Chop: fromWord(stored.Chop),
		Hole: fromWord(stored.Hole),
		Dirt: fromWord(stored.Dirt),
	}, nil
}

func (m *Manager) PutDogIlk(ilk string, params *dog.IlkParams) error {
	w, err := words(params.Chop, params.Hole, params.Dirt)
	if err != nil {
		return err
	}
	return m.KVPut(dogIlkKey(ilk), storedDogIlk{Clip: encodeAddress(params.Clip), Chop: w[0], Hole: w[1], Dirt: w[2]})
}

func (m *Manager) GetDogGlobals() (*dog.Globals, error) {
	var stored storedDogGlobals
	ok, err := m.KVGet(dogGlobalsKey, &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &dog.Globals{
		Hole: fromWord(stored.Hole),
		Dirt: fromWord(stored.Dirt),
		Vow:  stored.Vow.decode(),
		Live: stored.Live,
	}, nil
}

func (m *Manager) PutDogGlobals(g *dog.Globals) error {
	w, err := words(g.Hole, g.Dirt)
	if err != nil {
		return err
	}
	return m.KVPut(dogGlobalsKey, storedDogGlobals{Hole: w[0], Dirt: w[1], Vow: encodeAddress(g.Vow), Live: g.Live})
}

func (m *Manager) GetClipParams(ilk string) (*clip.Params, error) {
	var stored storedClipParams
	ok, err := m.KVGet(clipParamsKey(ilk), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &clip.Params{
		Buf:     fromWord(stored.Buf),
		Tail:    stored.Tail,
		Cusp:    fromWord(stored.Cusp),
		Chip:    fromWord(stored.Chip),
		Tip:     fromWord(stored.Tip),
		Chost:   fromWord(stored.Chost),
		Stopped: stored.Stopped,
		Vow:     stored.Vow.decode(),
		Calc: clip.CalcConfig{
			Kind: stored.Calc.Kind,
			Tau:  stored.Calc.Tau,
			Step: stored.Calc.Step,
			Cut:  fromWord(stored.Calc.Cut),
		},
	}, nil
}

func (m *Manager) PutClipParams(ilk string, p *clip.Params) error {
	w, err := words(p.Buf, p.Cusp, p.Chip, p.Tip, p.Chost, p.Calc.Cut)
	if err != nil {
		return err
	}
	return m.KVPut(clipParamsKey(ilk), storedClipParams{
		Buf:     w[0],
		Tail:    p.Tail,
		Cusp:    w[1],
		Chip:    w[2],
		Tip:     w[3],
		Chost:   w[4],
		Stopped: p.Stopped,
		Vow:     encodeAddress(p.Vow),
		Calc:    storedCalc{Kind: p.Calc.Kind, Tau: p.Calc.Tau, Step: p.Calc.Step, Cut: w[5]},
	})
}

func (m *Manager) GetSale(ilk string, id uint64) (*clip.Sale, error) {
	var stored storedSale
	ok, err := m.KVGet(ClipSaleKey(ilk, id), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &clip.Sale{
		ID:  stored.ID,
		Pos: stored.Pos,
		Tab: fromWord(stored.Tab),
		Lot: fromWord(stored.Lot),
		Usr: stored.Usr.decode(),
		Tic: stored.Tic,
		Top: fromWord(stored.Top),
	}, nil
}

func (m *Manager) PutSale(ilk string, sale *clip.Sale) error {
	w, err := words(sale.Tab, sale.Lot, sale.Top)
	if err != nil {
		return err
	}
	return m.KVPut(ClipSaleKey(ilk, sale.ID), storedSale{
		ID:  sale.ID,
		Pos: sale.Pos,
		Tab: w[0],
		Lot: w[1],
		Usr: encodeAddress(sale.Usr),
		Tic: sale.Tic,
		Top: w[2],
	})
}

func (m *Manager) DeleteSale(ilk string, id uint64) error {
	return m.KVDelete(ClipSaleKey(ilk, id))
}

func (m *Manager) GetActive(ilk string) ([]uint64, error) {
	var ids []uint64
	if err := m.KVGetList(clipActiveKey(ilk), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (m *Manager) PutActive(ilk string, ids []uint64) error {
	if len(ids) == 0 {
		return m.KVDelete(clipActiveKey(ilk))
	}
	return m.KVPut(clipActiveKey(ilk), ids)
}

func (m *Manager) GetKicks(ilk string) (uint64, error) {
	var kicks uint64
	if _, err := m.KVGet(clipKicksKey(ilk), &kicks); err != nil {
		return 0, err
	}
	return kicks, nil
}

func (m *Manager) PutKicks(ilk string, kicks uint64) error {
	return m.KVPut(clipKicksKey(ilk), kicks)
}
