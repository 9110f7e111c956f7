package jug

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"nhbcdp/core/events"
	"nhbcdp/crypto"
	nativecommon "nhbcdp/native/common"
	"nhbcdp/native/fixed"
	"nhbcdp/native/vat"
)

const testIlk = "ETH-A"

type mockState struct {
	rates   map[string]*IlkRate
	globals *Globals
	wards   map[string]bool
}

func newMockState() *mockState {
	return &mockState{rates: make(map[string]*IlkRate), wards: make(map[string]bool)}
}

func (m *mockState) IsWard(module string, addr crypto.Address) (bool, error) {
	return m.wards[module+"/"+addr.Key()], nil
}

func (m *mockState) SetWard(module string, addr crypto.Address, ward bool) error {
	m.wards[module+"/"+addr.Key()] = ward
	return nil
}

func (m *mockState) GetIlkRate(ilk string) (*IlkRate, error) { return m.rates[ilk].Clone(), nil }

func (m *mockState) PutIlkRate(ilk string, rate *IlkRate) error {
	m.rates[ilk] = rate.Clone()
	return nil
}

func (m *mockState) GetJugGlobals() (*Globals, error) {
	if m.globals == nil {
		return nil, nil
	}
	return m.globals.Clone(), nil
}

func (m *mockState) PutJugGlobals(g *Globals) error {
	m.globals = g.Clone()
	return nil
}

type fakeLedger struct {
	ilk   *vat.Ilk
	dai   map[string]*big.Int
	folds int
}

func (f *fakeLedger) Ilk(string) (*vat.Ilk, error) { return f.ilk.Clone(), nil }

func (f *fakeLedger) Fold(_ crypto.Address, _ string, u crypto.Address, rate *big.Int) error {
	f.folds++
	f.ilk.Rate = new(big.Int).Add(f.ilk.Rate, rate)
	prev := f.dai[u.Key()]
	if prev == nil {
		prev = big.NewInt(0)
	}
	f.dai[u.Key()] = new(big.Int).Add(prev, fixed.Mul(f.ilk.Art, rate))
	return nil
}

type collector struct{ events []events.Event }

func (c *collector) Emit(evt events.Event) { c.events = append(c.events, evt) }

func newTestJug(t *testing.T) (*Engine, *fakeLedger, *nativecommon.ManualClock, crypto.Address, crypto.Address) {
	t.Helper()
	ledger := &fakeLedger{
		ilk: &vat.Ilk{Art: new(big.Int).Mul(big.NewInt(1_000), fixed.WAD), Rate: fixed.Clone(fixed.RAY)},
		dai: make(map[string]*big.Int),
	}
	clock := nativecommon.NewManualClock(time.Unix(1_700_000_000, 0))
	engine := NewEngine(ledger)
	engine.SetState(newMockState())
	engine.SetClock(clock)
	admin := crypto.ModuleAddress("admin")
	vow := crypto.ModuleAddress("vow")
	if err := engine.Auth().Bootstrap(admin); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if err := engine.Init(admin, testIlk); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := engine.FileAddress(admin, "vow", vow); err != nil {
		t.Fatalf("file vow: %v", err)
	}
	// 5% a year
	if err := engine.FileIlk(admin, testIlk, "duty", fixed.Ray("1.000000001547125957863212448")); err != nil {
		t.Fatalf("file duty: %v", err)
	}
	return engine, ledger, clock, admin, vow
}

func TestDripCompoundsAndCreditsVow(t *testing.T) {
	engine, ledger, clock, _, vow := newTestJug(t)
	sink := &collector{}
	engine.SetEmitter(sink)

	clock.Advance(365 * 24 * time.Hour)
	rate, err := engine.Drip(testIlk)
	if err != nil {
		t.Fatalf("drip: %v", err)
	}
	if rate.Cmp(fixed.Ray("1.0499")) < 0 || rate.Cmp(fixed.Ray("1.0501")) > 0 {
		t.Fatalf("unexpected yearly rate %s", fixed.Format(rate, 27))
	}
	fee := ledger.dai[vow.Key()]
	want := fixed.Mul(ledger.ilk.Art, new(big.Int).Sub(rate, fixed.RAY))
	if fee == nil || fee.Cmp(want) != 0 {
		t.Fatalf("unexpected fee %v want %s", fee, want)
	}
	if len(sink.events) != 1 || sink.events[0].EventType() != events.TypeRateAccrued {
		t.Fatalf("expected one drip event, got %d", len(sink.events))
	}
}

func TestDripIdempotentWithinInstant(t *testing.T) {
	engine, ledger, clock, _, _ := newTestJug(t)
	clock.Advance(time.Hour)
	first, err := engine.Drip(testIlk)
	if err != nil {
		t.Fatalf("drip: %v", err)
	}
	second, err := engine.Drip(testIlk)
	if err != nil {
		t.Fatalf("second drip: %v", err)
	}
	if first.Cmp(second) != 0 || ledger.folds != 1 {
		t.Fatalf("second drip at the same instant changed state: %s -> %s folds=%d", first, second, ledger.folds)
	}
}

func TestDripMonotonic(t *testing.T) {
	engine, _, clock, _, _ := newTestJug(t)
	prev := fixed.Clone(fixed.RAY)
	for i := 0; i < 20; i++ {
		clock.Advance(time.Duration(i*37+1) * time.Second)
		rate, err := engine.Drip(testIlk)
		if err != nil {
			t.Fatalf("drip %d: %v", i, err)
		}
		if rate.Cmp(prev) < 0 {
			t.Fatalf("rate decreased at step %d: %s < %s", i, rate, prev)
		}
		prev = rate
	}
}

func TestDutyRequiresFreshRho(t *testing.T) {
	engine, _, clock, admin, _ := newTestJug(t)
	clock.Advance(time.Minute)
	if err := engine.FileIlk(admin, testIlk, "duty", fixed.RAY); !errors.Is(err, ErrRhoNotUpdated) {
		t.Fatalf("expected stale rho rejection, got %v", err)
	}
	if _, err := engine.Drip(testIlk); err != nil {
		t.Fatalf("drip: %v", err)
	}
	if err := engine.FileIlk(admin, testIlk, "duty", fixed.RAY); err != nil {
		t.Fatalf("file duty after drip: %v", err)
	}
	if err := engine.FileIlk(admin, testIlk, "rho", fixed.RAY); !errors.Is(err, ErrUnrecognizedParam) {
		t.Fatalf("expected unknown key rejection, got %v", err)
	}
}

func TestDripRejectsClockRewind(t *testing.T) {
	engine, _, clock, _, _ := newTestJug(t)
	clock.Advance(-time.Minute)
	if _, err := engine.Drip(testIlk); !errors.Is(err, ErrInvalidNow) {
		t.Fatalf("expected invalid-now, got %v", err)
	}
}

func TestInitRequiresWard(t *testing.T) {
	engine, _, _, admin, _ := newTestJug(t)
	if err := engine.Init(crypto.ModuleAddress("nobody"), "BTC-A"); !errors.Is(err, nativecommon.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := engine.Init(admin, testIlk); !errors.Is(err, ErrIlkAlreadyInit) {
		t.Fatalf("expected duplicate init rejection, got %v", err)
	}
	if _, err := engine.Drip("BTC-A"); !errors.Is(err, ErrIlkNotInit) {
		t.Fatalf("expected uninitialised drip rejection, got %v", err)
	}
}
