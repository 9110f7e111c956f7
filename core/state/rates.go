package state

import (
	"nhbcdp/native/jug"
	"nhbcdp/native/spot"
)

type storedIlkRate struct {
	Duty []byte
	Rho  uint64
}

type storedJugGlobals struct {
	Base []byte
	Vow  storedAddress
}

type storedSpotGlobals struct {
	Par  []byte
	Live bool
}

func (m *Manager) GetIlkRate(ilk string) (*jug.IlkRate, error) {
	var stored storedIlkRate
	ok, err := m.KVGet(jugIlkKey(ilk), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &jug.IlkRate{Duty: fromWord(stored.Duty), Rho: stored.Rho}, nil
}

func (m *Manager) PutIlkRate(ilk string, rate *jug.IlkRate) error {
	duty, err := toWord(rate.Duty)
	if err != nil {
		return err
	}
	return m.KVPut(jugIlkKey(ilk), storedIlkRate{Duty: duty, Rho: rate.Rho})
}

func (m *Manager) GetJugGlobals() (*jug.Globals, error) {
	var stored storedJugGlobals
	ok, err := m.KVGet(jugGlobalsKey, &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &jug.Globals{Base: fromWord(stored.Base), Vow: stored.Vow.decode()}, nil
}

func (m *Manager) PutJugGlobals(g *jug.Globals) error {
	base, err := toWord(g.Base)
	if err != nil {
		return err
	}
	return m.KVPut(jugGlobalsKey, storedJugGlobals{Base: base, Vow: encodeAddress(g.Vow)})
}

func (m *Manager) GetSpotIlk(ilk string) (*spot.IlkConfig, error) {
	var raw []byte
	ok, err := m.KVGet(spotIlkKey(ilk), &raw)
	if err != nil || !ok {
		return nil, err
	}
	return &spot.IlkConfig{Mat: fromWord(raw)}, nil
}

func (m *Manager) PutSpotIlk(ilk string, cfg *spot.IlkConfig) error {
	mat, err := toWord(cfg.Mat)
	if err != nil {
		return err
	}
	return m.KVPut(spotIlkKey(ilk), mat)
}

func (m *Manager) GetSpotGlobals() (*spot.Globals, error) {
	var stored storedSpotGlobals
	ok, err := m.KVGet(spotGlobalsKey, &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &spot.Globals{Par: fromWord(stored.Par), Live: stored.Live}, nil
}

func (m *Manager) PutSpotGlobals(g *spot.Globals) error {
	par, err := toWord(g.Par)
	if err != nil {
		return err
	}
	return m.KVPut(spotGlobalsKey, storedSpotGlobals{Par: par, Live: g.Live})
}
