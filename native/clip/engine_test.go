package clip

import (
	"errors"
	"fmt"
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
	params map[string]*Params
	sales  map[string]*Sale
	active map[string][]uint64
	kicks  map[string]uint64
	wards  map[string]bool
}

func newMockState() *mockState {
	return &mockState{
		params: make(map[string]*Params),
		sales:  make(map[string]*Sale),
		active: make(map[string][]uint64),
		kicks:  make(map[string]uint64),
		wards:  make(map[string]bool),
	}
}

func saleKey(ilk string, id uint64) string { return fmt.Sprintf("%s/%d", ilk, id) }

func (m *mockState) IsWard(module string, addr crypto.Address) (bool, error) {
	return m.wards[module+"/"+addr.Key()], nil
}

func (m *mockState) SetWard(module string, addr crypto.Address, ward bool) error {
	m.wards[module+"/"+addr.Key()] = ward
	return nil
}

func (m *mockState) GetClipParams(ilk string) (*Params, error) { return m.params[ilk].Clone(), nil }

func (m *mockState) PutClipParams(ilk string, p *Params) error {
	m.params[ilk] = p.Clone()
	return nil
}

func (m *mockState) GetSale(ilk string, id uint64) (*Sale, error) {
	return m.sales[saleKey(ilk, id)].Clone(), nil
}

func (m *mockState) PutSale(ilk string, sale *Sale) error {
	m.sales[saleKey(ilk, sale.ID)] = sale.Clone()
	return nil
}

func (m *mockState) DeleteSale(ilk string, id uint64) error {
	delete(m.sales, saleKey(ilk, id))
	return nil
}

func (m *mockState) GetActive(ilk string) ([]uint64, error) {
	return append([]uint64(nil), m.active[ilk]...), nil
}

func (m *mockState) PutActive(ilk string, ids []uint64) error {
	m.active[ilk] = append([]uint64(nil), ids...)
	return nil
}

func (m *mockState) GetKicks(ilk string) (uint64, error) { return m.kicks[ilk], nil }

func (m *mockState) PutKicks(ilk string, kicks uint64) error {
	m.kicks[ilk] = kicks
	return nil
}

type fakeLedger struct {
	ilk *vat.Ilk
	gem map[string]*big.Int
	dai map[string]*big.Int
	sin map[string]*big.Int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		ilk: &vat.Ilk{Art: fixed.Zero(), Rate: fixed.Clone(fixed.RAY), Spot: fixed.Zero(), Line: fixed.Zero(), Dust: fixed.Zero()},
		gem: make(map[string]*big.Int),
		dai: make(map[string]*big.Int),
		sin: make(map[string]*big.Int),
	}
}

func balance(m map[string]*big.Int, addr crypto.Address) *big.Int {
	if v, ok := m[addr.Key()]; ok {
		return v
	}
	return fixed.Zero()
}

func shift(m map[string]*big.Int, src, dst crypto.Address, amount *big.Int) error {
	next, ok := fixed.Sub(balance(m, src), amount)
	if !ok {
		return errors.New("insufficient balance")
	}
	m[src.Key()] = next
	m[dst.Key()] = new(big.Int).Add(balance(m, dst), amount)
	return nil
}

func (f *fakeLedger) Ilk(string) (*vat.Ilk, error) { return f.ilk.Clone(), nil }

func (f *fakeLedger) Flux(_ crypto.Address, _ string, src, dst crypto.Address, wad *big.Int) error {
	return shift(f.gem, src, dst, wad)
}

func (f *fakeLedger) Move(_ crypto.Address, src, dst crypto.Address, rad *big.Int) error {
	return shift(f.dai, src, dst, rad)
}

func (f *fakeLedger) Suck(_ crypto.Address, u, v crypto.Address, rad *big.Int) error {
	f.sin[u.Key()] = new(big.Int).Add(balance(f.sin, u), rad)
	f.dai[v.Key()] = new(big.Int).Add(balance(f.dai, v), rad)
	return nil
}

type fakePricer struct{ price *big.Int }

func (f *fakePricer) FeedPrice(string) (*big.Int, error) { return fixed.Clone(f.price), nil }

type fakeDog struct {
	chop *big.Int
	dug  *big.Int
}

func (f *fakeDog) Chop(string) (*big.Int, error) { return fixed.Clone(f.chop), nil }

func (f *fakeDog) Digs(_ crypto.Address, _ string, rad *big.Int) error {
	f.dug = new(big.Int).Add(f.dug, rad)
	return nil
}

type collector struct{ events []events.Event }

func (c *collector) Emit(evt events.Event) { c.events = append(c.events, evt) }

type pausedModules map[string]bool

func (p pausedModules) IsPaused(module string) bool { return p[module] }

type harness struct {
	engine *Engine
	ledger *fakeLedger
	pricer *fakePricer
	dog    *fakeDog
	clock  *nativecommon.ManualClock
	admin  crypto.Address
	vow    crypto.Address
	usr    crypto.Address
}

func wad(v int64) *big.Int { return new(big.Int).Mul(big.NewInt(v), fixed.WAD) }
func rad(v int64) *big.Int { return new(big.Int).Mul(big.NewInt(v), fixed.RAD) }

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		ledger: newFakeLedger(),
		pricer: &fakePricer{price: fixed.Ray("2000")},
		dog:    &fakeDog{chop: fixed.Wad("1.13"), dug: fixed.Zero()},
		clock:  nativecommon.NewManualClock(time.Unix(1_700_000_000, 0)),
		admin:  crypto.ModuleAddress("admin"),
		vow:    crypto.ModuleAddress("vow"),
		usr:    crypto.ModuleAddress("owner"),
	}
	h.engine = NewEngine(testIlk, h.ledger, h.pricer)
	h.engine.SetState(newMockState())
	h.engine.SetLiquidator(h.dog)
	h.engine.SetClock(h.clock)
	if err := h.engine.Auth().Bootstrap(h.admin); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if err := h.engine.FileAddress(h.admin, "vow", h.vow); err != nil {
		t.Fatalf("file vow: %v", err)
	}
	if err := h.engine.FileCalc(h.admin, CalcConfig{Kind: CalcLinear, Tau: 3600}); err != nil {
		t.Fatalf("file calc: %v", err)
	}
	if err := h.engine.File(h.admin, "tail", big.NewInt(1800)); err != nil {
		t.Fatalf("file tail: %v", err)
	}
	return h
}

// kick parks lot collateral with the engine the way a liquidation would and
// opens a sale over it.
func (h *harness) kick(t *testing.T, tab, lot *big.Int) uint64 {
	t.Helper()
	addr := h.engine.Address()
	h.ledger.gem[addr.Key()] = new(big.Int).Add(balance(h.ledger.gem, addr), lot)
	id, err := h.engine.Kick(h.admin, tab, lot, h.usr, h.admin)
	if err != nil {
		t.Fatalf("kick: %v", err)
	}
	return id
}

func (h *harness) fund(buyer crypto.Address, amount *big.Int) {
	h.ledger.dai[buyer.Key()] = new(big.Int).Add(balance(h.ledger.dai, buyer), amount)
}

func TestPriceFunctions(t *testing.T) {
	top := fixed.Ray("1000")
	linear := LinearDecrease{Tau: 100}
	if got := linear.Price(top, 0); got.Cmp(top) != 0 {
		t.Fatalf("linear at start: %s", got)
	}
	if got := linear.Price(top, 50); got.Cmp(fixed.Ray("500")) != 0 {
		t.Fatalf("linear halfway: %s", got)
	}
	if got := linear.Price(top, 100); got.Sign() != 0 {
		t.Fatalf("linear after tau: %s", got)
	}

	stairs := StairstepExponentialDecrease{Step: 90, Cut: fixed.Ray("0.99")}
	if got := stairs.Price(top, 89); got.Cmp(top) != 0 {
		t.Fatalf("stairstep before first step: %s", got)
	}
	if got := stairs.Price(top, 180); got.Cmp(fixed.Ray("980.1")) != 0 {
		t.Fatalf("stairstep after two steps: %s", got)
	}

	exp := ExponentialDecrease{Cut: fixed.Ray("0.5")}
	if got := exp.Price(top, 3); got.Cmp(fixed.Ray("125")) != 0 {
		t.Fatalf("exponential after three seconds: %s", got)
	}

	if _, err := (CalcConfig{Kind: CalcLinear}).Build(); !errors.Is(err, ErrInvalidCalc) {
		t.Fatalf("expected zero tau rejection, got %v", err)
	}
	if _, err := (CalcConfig{Kind: CalcExponential, Cut: fixed.Ray("1.1")}).Build(); !errors.Is(err, ErrInvalidCalc) {
		t.Fatalf("expected cut above one rejection, got %v", err)
	}
	if _, err := (CalcConfig{Kind: "dutch"}).Build(); !errors.Is(err, ErrInvalidCalc) {
		t.Fatalf("expected unknown kind rejection, got %v", err)
	}
}

func TestKickSetsTopAndPaysKeeper(t *testing.T) {
	h := newHarness(t)
	sink := &collector{}
	h.engine.SetEmitter(sink)
	if err := h.engine.File(h.admin, "buf", fixed.Ray("1.2")); err != nil {
		t.Fatalf("file buf: %v", err)
	}
	if err := h.engine.File(h.admin, "tip", rad(100)); err != nil {
		t.Fatalf("file tip: %v", err)
	}
	if err := h.engine.File(h.admin, "chip", fixed.Wad("0.01")); err != nil {
		t.Fatalf("file chip: %v", err)
	}

	id := h.kick(t, rad(20_000), wad(10))
	sale, err := h.engine.Sale(id)
	if err != nil {
		t.Fatalf("sale: %v", err)
	}
	if sale.Top.Cmp(fixed.Ray("2400")) != 0 {
		t.Fatalf("unexpected top %s", fixed.Format(sale.Top, 27))
	}
	if sale.Tic != nativecommon.Unix(h.clock) {
		t.Fatalf("unexpected tic %d", sale.Tic)
	}
	if got := balance(h.ledger.dai, h.admin); got.Cmp(rad(300)) != 0 {
		t.Fatalf("expected keeper incentive of 300, got %s", got)
	}
	if got := balance(h.ledger.sin, h.vow); got.Cmp(rad(300)) != 0 {
		t.Fatalf("expected incentive drawn as unbacked debt, got %s", got)
	}
	if kicks, _ := h.engine.Kicks(); kicks != 1 {
		t.Fatalf("unexpected kick counter %d", kicks)
	}
	if len(sink.events) != 1 || sink.events[0].EventType() != events.TypeAuctionKicked {
		t.Fatalf("expected kick event")
	}

	if _, err := h.engine.Kick(h.usr, rad(1), wad(1), h.usr, h.usr); !errors.Is(err, nativecommon.ErrUnauthorized) {
		t.Fatalf("expected non-ward kick rejection, got %v", err)
	}
	if _, err := h.engine.Kick(h.admin, fixed.Zero(), wad(1), h.usr, h.usr); !errors.Is(err, ErrZeroTab) {
		t.Fatalf("expected zero tab rejection, got %v", err)
	}
	if _, err := h.engine.Kick(h.admin, rad(1), fixed.Zero(), h.usr, h.usr); !errors.Is(err, ErrZeroLot) {
		t.Fatalf("expected zero lot rejection, got %v", err)
	}
	if _, err := h.engine.Kick(h.admin, rad(1), wad(1), crypto.Address{}, h.usr); !errors.Is(err, ErrZeroUsr) {
		t.Fatalf("expected zero usr rejection, got %v", err)
	}
	h.pricer.price = fixed.Zero()
	if _, err := h.engine.Kick(h.admin, rad(1), wad(1), h.usr, h.usr); !errors.Is(err, ErrZeroTopPrice) {
		t.Fatalf("expected zero top rejection, got %v", err)
	}
}

func TestTwoBuyersClearAuction(t *testing.T) {
	h := newHarness(t)
	id := h.kick(t, rad(20_000), wad(10))
	first := crypto.ModuleAddress("buyer-1")
	second := crypto.ModuleAddress("buyer-2")
	h.fund(first, rad(8_000))
	h.fund(second, rad(12_000))

	owe, slice, err := h.engine.Take(first, id, wad(4), fixed.Ray("2000"), first)
	if err != nil {
		t.Fatalf("first take: %v", err)
	}
	if owe.Cmp(rad(8_000)) != 0 || slice.Cmp(wad(4)) != 0 {
		t.Fatalf("unexpected first fill owe=%s slice=%s", owe, slice)
	}
	status, err := h.engine.Status(id)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Tab.Cmp(rad(12_000)) != 0 || status.Lot.Cmp(wad(6)) != 0 {
		t.Fatalf("unexpected remainder tab=%s lot=%s", status.Tab, status.Lot)
	}

	if _, _, err := h.engine.Take(second, id, wad(6), fixed.Ray("2000"), second); err != nil {
		t.Fatalf("second take: %v", err)
	}
	if _, err := h.engine.Sale(id); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected sale removed, got %v", err)
	}
	if n, _ := h.engine.Count(); n != 0 {
		t.Fatalf("expected empty active index, got %d", n)
	}
	if got := balance(h.ledger.gem, h.usr); got.Sign() != 0 {
		t.Fatalf("expected no leftover collateral for owner, got %s", got)
	}
	if got := balance(h.ledger.gem, first); got.Cmp(wad(4)) != 0 {
		t.Fatalf("first buyer collateral %s", got)
	}
	if got := balance(h.ledger.gem, second); got.Cmp(wad(6)) != 0 {
		t.Fatalf("second buyer collateral %s", got)
	}
	if got := balance(h.ledger.dai, h.vow); got.Cmp(rad(20_000)) != 0 {
		t.Fatalf("expected proceeds at vow, got %s", got)
	}
	if h.dog.dug.Cmp(rad(20_000)) != 0 {
		t.Fatalf("expected full tab released from liquidation, got %s", h.dog.dug)
	}
}

func TestTakeCoveringTabReturnsLeftoverCollateral(t *testing.T) {
	h := newHarness(t)
	id := h.kick(t, rad(10_000), wad(10))
	buyer := crypto.ModuleAddress("buyer")
	h.fund(buyer, rad(10_000))

	owe, slice, err := h.engine.Take(buyer, id, wad(10), fixed.Ray("2000"), buyer)
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	if owe.Cmp(rad(10_000)) != 0 || slice.Cmp(wad(5)) != 0 {
		t.Fatalf("unexpected fill owe=%s slice=%s", owe, slice)
	}
	if got := balance(h.ledger.gem, h.usr); got.Cmp(wad(5)) != 0 {
		t.Fatalf("expected leftover returned to owner, got %s", got)
	}
	if h.dog.dug.Cmp(rad(10_000)) != 0 {
		t.Fatalf("unexpected release %s", h.dog.dug)
	}
	if n, _ := h.engine.Count(); n != 0 {
		t.Fatalf("expected sale removed, got %d active", n)
	}
}

func TestTakeWithinChostBuysWholeLot(t *testing.T) {
	h := newHarness(t)
	if err := h.engine.File(h.admin, "chost", rad(5_000)); err != nil {
		t.Fatalf("file chost: %v", err)
	}
	id := h.kick(t, rad(20_000), wad(10))
	buyer := crypto.ModuleAddress("buyer")
	h.fund(buyer, rad(20_000))

	owe, slice, err := h.engine.Take(buyer, id, wad(8), fixed.Ray("2000"), buyer)
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	if slice.Cmp(wad(10)) != 0 || owe.Cmp(rad(20_000)) != 0 {
		t.Fatalf("expected whole lot bought, owe=%s slice=%s", owe, slice)
	}
	if n, _ := h.engine.Count(); n != 0 {
		t.Fatalf("expected sale removed, got %d active", n)
	}
}

func TestTakeWithinChostCapsAtTab(t *testing.T) {
	h := newHarness(t)
	if err := h.engine.File(h.admin, "chost", rad(5_000)); err != nil {
		t.Fatalf("file chost: %v", err)
	}
	id := h.kick(t, rad(19_000), wad(10))
	buyer := crypto.ModuleAddress("buyer")
	h.fund(buyer, rad(19_000))

	owe, slice, err := h.engine.Take(buyer, id, wad(9), fixed.Ray("2000"), buyer)
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	if owe.Cmp(rad(19_000)) != 0 || slice.Cmp(fixed.Wad("9.5")) != 0 {
		t.Fatalf("unexpected fill owe=%s slice=%s", owe, slice)
	}
	if got := balance(h.ledger.gem, h.usr); got.Cmp(fixed.Wad("0.5")) != 0 {
		t.Fatalf("expected remaining collateral returned, got %s", got)
	}
}

func TestTakeConservesAuction(t *testing.T) {
	h := newHarness(t)
	id := h.kick(t, rad(50_000), wad(40))
	buyer := crypto.ModuleAddress("buyer")
	h.fund(buyer, rad(50_000))

	prevTab, prevLot := rad(50_000), wad(40)
	soldTotal, paidTotal := fixed.Zero(), fixed.Zero()
	for i := 0; i < 6; i++ {
		h.clock.Advance(137 * time.Second)
		status, err := h.engine.Status(id)
		if err != nil {
			if errors.Is(err, ErrNotRunning) {
				break
			}
			t.Fatalf("status: %v", err)
		}
		owe, slice, err := h.engine.Take(buyer, id, wad(3), status.Price, buyer)
		if err != nil {
			t.Fatalf("take %d: %v", i, err)
		}
		if owe.Cmp(fixed.Mul(slice, status.Price)) != 0 {
			t.Fatalf("take %d: owe %s is not slice times price", i, owe)
		}
		soldTotal.Add(soldTotal, slice)
		paidTotal.Add(paidTotal, owe)
		next, err := h.engine.Sale(id)
		if err != nil {
			t.Fatalf("sale: %v", err)
		}
		if next.Tab.Cmp(prevTab) > 0 || next.Lot.Cmp(prevLot) > 0 {
			t.Fatalf("take %d increased the auction", i)
		}
		if new(big.Int).Add(next.Lot, soldTotal).Cmp(wad(40)) != 0 {
			t.Fatalf("take %d: collateral not conserved", i)
		}
		if new(big.Int).Add(next.Tab, paidTotal).Cmp(rad(50_000)) != 0 {
			t.Fatalf("take %d: debt not conserved", i)
		}
		prevTab, prevLot = next.Tab, next.Lot
	}
	if got := balance(h.ledger.gem, buyer); got.Cmp(soldTotal) != 0 {
		t.Fatalf("buyer holds %s, sold %s", got, soldTotal)
	}
	if h.dog.dug.Cmp(paidTotal) != 0 {
		t.Fatalf("released %s, raised %s", h.dog.dug, paidTotal)
	}
}

func TestStaleAuctionRequiresRedo(t *testing.T) {
	h := newHarness(t)
	if err := h.engine.File(h.admin, "tip", rad(50)); err != nil {
		t.Fatalf("file tip: %v", err)
	}
	id := h.kick(t, rad(20_000), wad(10))
	keeper := crypto.ModuleAddress("keeper")
	buyer := crypto.ModuleAddress("buyer")
	h.fund(buyer, rad(20_000))

	if err := h.engine.Redo(keeper, id, keeper); !errors.Is(err, ErrCannotReset) {
		t.Fatalf("expected fresh sale reset rejection, got %v", err)
	}

	h.clock.Advance(1801 * time.Second)
	status, err := h.engine.Status(id)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.NeedsRedo {
		t.Fatalf("expected sale past tail to need a reset")
	}
	if _, _, err := h.engine.Take(buyer, id, wad(1), fixed.Ray("5000"), buyer); !errors.Is(err, ErrNeedsReset) {
		t.Fatalf("expected stale take rejection, got %v", err)
	}

	h.pricer.price = fixed.Ray("1500")
	if err := h.engine.Redo(keeper, id, keeper); err != nil {
		t.Fatalf("redo: %v", err)
	}
	sale, err := h.engine.Sale(id)
	if err != nil {
		t.Fatalf("sale: %v", err)
	}
	if sale.Top.Cmp(fixed.Ray("1500")) != 0 || sale.Tic != nativecommon.Unix(h.clock) {
		t.Fatalf("expected fresh top and timer, got top=%s tic=%d", sale.Top, sale.Tic)
	}
	if got := balance(h.ledger.dai, keeper); got.Cmp(rad(50)) != 0 {
		t.Fatalf("expected reset incentive, got %s", got)
	}
	owe, _, err := h.engine.Take(buyer, id, wad(1), fixed.Ray("1500"), buyer)
	if err != nil {
		t.Fatalf("take after redo: %v", err)
	}
	if owe.Cmp(rad(1_500)) != 0 {
		t.Fatalf("unexpected owe after redo %s", owe)
	}
}

func TestCuspTriggersReset(t *testing.T) {
	h := newHarness(t)
	if err := h.engine.File(h.admin, "cusp", fixed.Ray("0.6")); err != nil {
		t.Fatalf("file cusp: %v", err)
	}
	id := h.kick(t, rad(1_000), wad(1))
	h.clock.Advance(1000 * time.Second)
	status, err := h.engine.Status(id)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.NeedsRedo {
		t.Fatalf("price above cusp should not need a reset")
	}
	h.clock.Advance(600 * time.Second)
	status, err = h.engine.Status(id)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.NeedsRedo {
		t.Fatalf("price below cusp should need a reset, price %s", status.Price)
	}
}

func TestTakeRejectsPriceAboveLimit(t *testing.T) {
	h := newHarness(t)
	id := h.kick(t, rad(20_000), wad(10))
	buyer := crypto.ModuleAddress("buyer")
	h.fund(buyer, rad(20_000))
	if _, _, err := h.engine.Take(buyer, id, wad(1), fixed.Ray("1999"), buyer); !errors.Is(err, ErrTooExpensive) {
		t.Fatalf("expected too expensive, got %v", err)
	}
	if _, _, err := h.engine.Take(buyer, 42, wad(1), fixed.Ray("2000"), buyer); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected unknown sale rejection, got %v", err)
	}
	poor := crypto.ModuleAddress("poor")
	if _, _, err := h.engine.Take(poor, id, wad(1), fixed.Ray("2000"), poor); err == nil {
		t.Fatalf("expected unfunded buyer to fail")
	}
}

func TestStoppedLevels(t *testing.T) {
	h := newHarness(t)
	id := h.kick(t, rad(20_000), wad(10))
	buyer := crypto.ModuleAddress("buyer")
	h.fund(buyer, rad(20_000))

	if err := h.engine.File(h.admin, "stopped", big.NewInt(1)); err != nil {
		t.Fatalf("stop kicks: %v", err)
	}
	if _, err := h.engine.Kick(h.admin, rad(1), wad(1), h.usr, h.admin); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected kick stopped, got %v", err)
	}
	h.clock.Advance(1801 * time.Second)
	if err := h.engine.Redo(buyer, id, buyer); err != nil {
		t.Fatalf("redo should still run at level 1: %v", err)
	}

	if err := h.engine.File(h.admin, "stopped", big.NewInt(2)); err != nil {
		t.Fatalf("stop redo: %v", err)
	}
	h.clock.Advance(1801 * time.Second)
	if err := h.engine.Redo(buyer, id, buyer); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected redo stopped, got %v", err)
	}

	if err := h.engine.File(h.admin, "stopped", big.NewInt(3)); err != nil {
		t.Fatalf("stop take: %v", err)
	}
	if _, _, err := h.engine.Take(buyer, id, wad(1), fixed.Ray("5000"), buyer); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected take stopped, got %v", err)
	}
	if err := h.engine.File(h.admin, "stopped", big.NewInt(4)); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("expected invalid stop level, got %v", err)
	}
}

func TestPausedTake(t *testing.T) {
	h := newHarness(t)
	id := h.kick(t, rad(20_000), wad(10))
	h.engine.SetPauses(pausedModules{ModuleName(testIlk): true})
	buyer := crypto.ModuleAddress("buyer")
	if _, _, err := h.engine.Take(buyer, id, wad(1), fixed.Ray("2000"), buyer); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected paused take, got %v", err)
	}
}

func TestYankReturnsCollateralToCaller(t *testing.T) {
	h := newHarness(t)
	sink := &collector{}
	h.engine.SetEmitter(sink)
	id := h.kick(t, rad(20_000), wad(10))
	if err := h.engine.Yank(h.usr, id); !errors.Is(err, nativecommon.ErrUnauthorized) {
		t.Fatalf("expected non-ward yank rejection, got %v", err)
	}
	if err := h.engine.Yank(h.admin, id); err != nil {
		t.Fatalf("yank: %v", err)
	}
	if got := balance(h.ledger.gem, h.admin); got.Cmp(wad(10)) != 0 {
		t.Fatalf("expected collateral with caller, got %s", got)
	}
	if h.dog.dug.Cmp(rad(20_000)) != 0 {
		t.Fatalf("expected tab released, got %s", h.dog.dug)
	}
	if _, err := h.engine.Sale(id); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected sale removed, got %v", err)
	}
	last := sink.events[len(sink.events)-1]
	if last.EventType() != events.TypeAuctionYanked {
		t.Fatalf("expected yank event, got %s", last.EventType())
	}
}

func TestRemoveKeepsActiveIndexConsistent(t *testing.T) {
	h := newHarness(t)
	first := h.kick(t, rad(2_000), wad(1))
	second := h.kick(t, rad(2_000), wad(1))
	third := h.kick(t, rad(2_000), wad(1))

	if err := h.engine.Yank(h.admin, first); err != nil {
		t.Fatalf("yank: %v", err)
	}
	ids, err := h.engine.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 2 || ids[0] != third || ids[1] != second {
		t.Fatalf("unexpected active list %v", ids)
	}
	for pos, id := range ids {
		sale, err := h.engine.Sale(id)
		if err != nil {
			t.Fatalf("sale %d: %v", id, err)
		}
		if sale.Pos != uint64(pos) {
			t.Fatalf("sale %d at %d records pos %d", id, pos, sale.Pos)
		}
	}

	if err := h.engine.Yank(h.admin, second); err != nil {
		t.Fatalf("yank last: %v", err)
	}
	ids, _ = h.engine.List()
	if len(ids) != 1 || ids[0] != third {
		t.Fatalf("unexpected active list after removing tail %v", ids)
	}
	if kicks, _ := h.engine.Kicks(); kicks != 3 {
		t.Fatalf("kick counter must not shrink, got %d", kicks)
	}
}

func TestUpchostUsesFloorAndPenalty(t *testing.T) {
	h := newHarness(t)
	h.ledger.ilk.Dust = rad(500)
	if err := h.engine.Upchost(); err != nil {
		t.Fatalf("upchost: %v", err)
	}
	p, err := h.engine.Params()
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	if p.Chost.Cmp(fixed.Rad("565")) != 0 {
		t.Fatalf("unexpected chost %s", fixed.Format(p.Chost, 45))
	}
	if err := h.engine.File(h.admin, "bogus", big.NewInt(1)); !errors.Is(err, ErrUnrecognizedParam) {
		t.Fatalf("expected unknown parameter rejection, got %v", err)
	}
}
