package cdp_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"nhbcdp/core/events"
	"nhbcdp/core/state"
	"nhbcdp/crypto"
	"nhbcdp/native/cdp"
	"nhbcdp/native/clip"
	nativecommon "nhbcdp/native/common"
	"nhbcdp/native/dog"
	"nhbcdp/native/fixed"
	"nhbcdp/native/join"
	"nhbcdp/native/spot"
	"nhbcdp/native/vat"
	"nhbcdp/storage"
)

const (
	weth   = "WETH"
	wethA  = "WETH-A"
	stable = "USDX"
)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Emit(evt events.Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

func (r *recorder) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, evt := range r.events {
		if evt.EventType() == eventType {
			n++
		}
	}
	return n
}

type harness struct {
	t     *testing.T
	ctx   context.Context
	mgr   *state.Manager
	ix    *cdp.Interaction
	clock *nativecommon.ManualClock
	feed  *spot.StaticFeed
	sink  *recorder
	admin crypto.Address
	alice crypto.Address
	bob   crypto.Address
	carol crypto.Address
}

func participant(b byte) crypto.Address {
	raw := make([]byte, 20)
	raw[19] = b
	return crypto.NewAddress(crypto.NHBPrefix, raw)
}

// newHarness lists WETH with mat 2.5 behind a feed at 4, so spot starts at
// 1.6. Auctions start at 1.2x the feed and decay linearly over an hour.
func newHarness(t *testing.T, dust string) *harness {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	h := &harness{
		t:     t,
		ctx:   context.Background(),
		mgr:   state.NewManager(db),
		clock: nativecommon.NewManualClock(time.Unix(1_700_000_000, 0)),
		feed:  spot.NewStaticFeed(fixed.Wad("4")),
		sink:  &recorder{},
		admin: participant(1),
		alice: participant(2),
		bob:   participant(3),
		carol: participant(4),
	}
	h.ix = h.open()
	require.NoError(t, h.ix.SetSystem(h.ctx, h.admin, cdp.SystemParams{
		Line: fixed.Rad("1000000"),
		Hole: fixed.Rad("1000000"),
	}))
	require.NoError(t, h.mgr.Update(func() error {
		tokens := h.ix.Tokens()
		if err := tokens.Register(h.admin, weth, "Wrapped Ether", 18); err != nil {
			return err
		}
		if err := tokens.SetMintAuthority(h.admin, weth, h.admin); err != nil {
			return err
		}
		for _, usr := range []crypto.Address{h.alice, h.bob, h.carol} {
			if err := tokens.Mint(h.admin, weth, usr, fixed.Wad("1000")); err != nil {
				return err
			}
		}
		return nil
	}))
	require.NoError(t, h.ix.SetCollateralType(h.ctx, h.admin, cdp.CollateralParams{
		Token: weth,
		Ilk:   wethA,
		Mat:   fixed.Ray("2.5"),
		Line:  fixed.Rad("20000"),
		Dust:  fixed.Rad(dust),
		Duty:  fixed.Clone(fixed.RAY),
		Chop:  fixed.Wad("1.13"),
		Hole:  fixed.Rad("1000000"),
		Buf:   fixed.Ray("1.2"),
		Tail:  3600,
		Calc:  clip.CalcConfig{Kind: clip.CalcLinear, Tau: 3600},
		Feed:  h.feed,
	}))
	h.poke()
	return h
}

func (h *harness) open() *cdp.Interaction {
	h.t.Helper()
	ix, err := cdp.New(h.mgr, cdp.Config{
		StableSymbol: stable,
		Admin:        h.admin,
		Clock:        h.clock,
		Emitter:      h.sink,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(h.t, err)
	return ix
}

func (h *harness) poke() {
	h.t.Helper()
	_, err := h.ix.Poke(h.ctx, weth)
	require.NoError(h.t, err)
}

func (h *harness) openPosition(usr crypto.Address, ink, debt string) {
	h.t.Helper()
	require.NoError(h.t, h.ix.Deposit(h.ctx, usr, usr, weth, fixed.Wad(ink)))
	require.NoError(h.t, h.ix.Borrow(h.ctx, usr, weth, fixed.Wad(debt)))
}

func (h *harness) balance(symbol string, usr crypto.Address) *big.Int {
	h.t.Helper()
	bal, err := h.ix.Tokens().BalanceOf(symbol, usr)
	require.NoError(h.t, err)
	return bal
}

func requireAmount(t *testing.T, want, got *big.Int, msgAndArgs ...interface{}) {
	t.Helper()
	require.NotNil(t, got, msgAndArgs...)
	require.Equalf(t, 0, want.Cmp(got), "want %s got %s", want, got)
}

func TestBorrowWithinSpotAndRejectUnsafe(t *testing.T) {
	h := newHarness(t, "500")
	h.openPosition(h.alice, "400", "550")

	requireAmount(t, fixed.Wad("550"), h.balance(stable, h.alice))
	requireAmount(t, fixed.Wad("600"), h.balance(weth, h.alice))

	err := h.ix.Borrow(h.ctx, h.alice, weth, fixed.Wad("100"))
	require.ErrorIs(t, err, vat.ErrNotSafe)
	require.ErrorIs(t, err, nativecommon.ErrSolvency)
	var opErr *cdp.OpError
	require.True(t, errors.As(err, &opErr))
	require.Equal(t, "borrow", opErr.Op)
	require.Equal(t, wethA, opErr.Ilk)

	requireAmount(t, fixed.Wad("550"), h.balance(stable, h.alice), "a failed borrow mints nothing")
	pos, err := h.ix.Position(h.ctx, weth, h.alice)
	require.NoError(t, err)
	requireAmount(t, fixed.Wad("400"), pos.Locked)
	requireAmount(t, fixed.Wad("550"), pos.Borrowed)
	requireAmount(t, fixed.Wad("3.4375"), pos.LiquidationPrice)

	avail, err := h.ix.AvailableToBorrow(h.ctx, weth, h.alice)
	require.NoError(t, err)
	requireAmount(t, fixed.Wad("90"), avail)
	more, err := h.ix.WillBorrow(h.ctx, weth, h.alice, fixed.Wad("100"))
	require.NoError(t, err)
	requireAmount(t, fixed.Wad("250"), more)
	est, err := h.ix.EstimatedLiquidationPrice(h.ctx, weth, h.alice, fixed.Wad("100"), fixed.Wad("-50"))
	require.NoError(t, err)
	requireAmount(t, fixed.Wad("2.5"), est)
}

func TestBorrowBelowFloorRejected(t *testing.T) {
	h := newHarness(t, "500")
	require.NoError(t, h.ix.Deposit(h.ctx, h.alice, h.alice, weth, fixed.Wad("400")))
	err := h.ix.Borrow(h.ctx, h.alice, weth, fixed.Wad("499"))
	require.ErrorIs(t, err, vat.ErrDust)
	requireAmount(t, fixed.Zero(), h.balance(stable, h.alice))
}

func TestPaybackCapsAndKeepsFloor(t *testing.T) {
	h := newHarness(t, "500")
	h.openPosition(h.alice, "400", "550")

	err := h.ix.Payback(h.ctx, h.alice, weth, fixed.Wad("100"))
	require.ErrorIs(t, err, cdp.ErrBelowFloor)
	require.ErrorIs(t, err, vat.ErrDust)
	requireAmount(t, fixed.Wad("550"), h.balance(stable, h.alice), "rolled back payback burns nothing")

	require.NoError(t, h.ix.Payback(h.ctx, h.alice, weth, fixed.Wad("5000")))
	requireAmount(t, fixed.Zero(), h.balance(stable, h.alice))
	borrowed, err := h.ix.Borrowed(h.ctx, weth, h.alice)
	require.NoError(t, err)
	requireAmount(t, fixed.Zero(), borrowed)

	require.ErrorIs(t, h.ix.Payback(h.ctx, h.alice, weth, fixed.Wad("1")), cdp.ErrNoDebt)

	require.NoError(t, h.ix.Withdraw(h.ctx, h.alice, h.alice, weth, fixed.Wad("400")))
	requireAmount(t, fixed.Wad("1000"), h.balance(weth, h.alice))
	tvl, err := h.ix.DepositTVL(h.ctx, weth)
	require.NoError(t, err)
	requireAmount(t, fixed.Zero(), tvl)
	supply, err := h.ix.Tokens().TotalSupply(stable)
	require.NoError(t, err)
	requireAmount(t, fixed.Zero(), supply)
}

func TestWithdrawNeedsDelegationAndSafety(t *testing.T) {
	h := newHarness(t, "500")
	h.openPosition(h.alice, "400", "550")

	require.ErrorIs(t, h.ix.Withdraw(h.ctx, h.bob, h.alice, weth, fixed.Wad("10")), cdp.ErrNotDelegated)
	require.ErrorIs(t, h.ix.Withdraw(h.ctx, h.alice, h.alice, weth, fixed.Wad("100")), vat.ErrNotSafe)

	require.NoError(t, h.ix.Hope(h.ctx, h.alice, h.bob))
	require.NoError(t, h.ix.Withdraw(h.ctx, h.bob, h.alice, weth, fixed.Wad("10")))
	requireAmount(t, fixed.Wad("610"), h.balance(weth, h.alice), "tokens go to the position owner")
}

func TestStabilityFeesAccrueToSink(t *testing.T) {
	h := newHarness(t, "500")
	h.openPosition(h.alice, "400", "550")
	require.NoError(t, h.mgr.Update(func() error {
		return h.ix.Jug().FileIlk(h.admin, wethA, "duty", fixed.Ray("1.000000001"))
	}))

	h.clock.Advance(24 * time.Hour)
	projected, err := h.ix.Borrowed(h.ctx, weth, h.alice)
	require.NoError(t, err)
	require.Equal(t, 1, projected.Cmp(fixed.Wad("550")))

	rate, err := h.ix.Drip(h.ctx, weth)
	require.NoError(t, err)
	require.Equal(t, 1, rate.Cmp(fixed.RAY))
	again, err := h.ix.Drip(h.ctx, weth)
	require.NoError(t, err)
	requireAmount(t, rate, again, "a second drip at the same instant is a no-op")

	surplus, err := h.ix.Vat().Dai(h.ix.Vow())
	require.NoError(t, err)
	requireAmount(t, fixed.Mul(fixed.Wad("550"), new(big.Int).Sub(rate, fixed.RAY)), surplus)

	borrowed, err := h.ix.Borrowed(h.ctx, weth, h.alice)
	require.NoError(t, err)
	requireAmount(t, projected, borrowed)
	require.Equal(t, 1, h.sink.count(events.TypeRateAccrued))

	apr, err := h.ix.BorrowAPR(h.ctx, weth)
	require.NoError(t, err)
	require.Equal(t, 1, apr.Cmp(fixed.Wad("3.2")))
	require.Equal(t, -1, apr.Cmp(fixed.Wad("3.21")))
}

func TestCollateralAnalytics(t *testing.T) {
	h := newHarness(t, "500")
	h.openPosition(h.alice, "400", "550")

	price, err := h.ix.CollateralPrice(h.ctx, weth)
	require.NoError(t, err)
	requireAmount(t, fixed.Wad("4"), price)
	ratio, err := h.ix.CollateralRate(h.ctx, weth)
	require.NoError(t, err)
	requireAmount(t, fixed.Wad("0.4"), ratio)
	tvl, err := h.ix.DepositTVL(h.ctx, weth)
	require.NoError(t, err)
	requireAmount(t, fixed.Wad("400"), tvl)
	value, err := h.ix.CollateralTVL(h.ctx, weth)
	require.NoError(t, err)
	requireAmount(t, fixed.Wad("1600"), value)
	apr, err := h.ix.BorrowAPR(h.ctx, weth)
	require.NoError(t, err)
	requireAmount(t, fixed.Zero(), apr)
	debt, err := h.ix.TotalDebt(h.ctx, weth)
	require.NoError(t, err)
	requireAmount(t, fixed.Rad("550"), debt)
}

func TestAvailableToBorrowFloorsShortfall(t *testing.T) {
	h := newHarness(t, "0")
	one := big.NewInt(1)
	require.NoError(t, h.ix.Deposit(h.ctx, h.alice, h.alice, weth, one))
	require.NoError(t, h.ix.Borrow(h.ctx, h.alice, weth, one))

	avail, err := h.ix.AvailableToBorrow(h.ctx, weth, h.alice)
	require.NoError(t, err)
	requireAmount(t, fixed.Zero(), avail, "0.6 units of room round down to nothing")

	// Spot 0.96 leaves the position 0.04 units short.
	h.feed.Set(fixed.Wad("2.4"))
	h.poke()
	avail, err = h.ix.AvailableToBorrow(h.ctx, weth, h.alice)
	require.NoError(t, err)
	requireAmount(t, big.NewInt(-1), avail, "a fractional shortfall still reports negative")
}

func TestLiquidationOpensAuction(t *testing.T) {
	h := newHarness(t, "500")
	h.openPosition(h.alice, "400", "550")

	_, err := h.ix.StartAuction(h.ctx, h.bob, weth, h.alice, h.bob)
	require.ErrorIs(t, err, dog.ErrNotUnsafe)

	h.feed.Set(fixed.Wad("3"))
	h.poke()
	id, err := h.ix.StartAuction(h.ctx, h.bob, weth, h.alice, h.bob)
	require.NoError(t, err)
	require.Equal(t, uint64(1), id)

	sale, err := h.ix.AuctionStatus(h.ctx, weth, id)
	require.NoError(t, err)
	requireAmount(t, fixed.Wad("400"), sale.Lot)
	requireAmount(t, fixed.Rad("621.5"), sale.Tab)
	requireAmount(t, fixed.Ray("3.6"), sale.Top)
	require.False(t, sale.NeedsRedo)
	require.True(t, sale.Usr.Equal(h.alice))

	pos, err := h.ix.Position(h.ctx, weth, h.alice)
	require.NoError(t, err)
	requireAmount(t, fixed.Zero(), pos.Locked)
	requireAmount(t, fixed.Zero(), pos.Borrowed)
	sin, err := h.ix.Vat().Sin(h.ix.Vow())
	require.NoError(t, err)
	requireAmount(t, fixed.Rad("550"), sin)
	require.Equal(t, 1, h.sink.count(events.TypeLiquidated))
	require.Equal(t, 1, h.sink.count(events.TypeAuctionKicked))
}

func TestTwoBuyersClearAuction(t *testing.T) {
	h := newHarness(t, "100")
	h.openPosition(h.alice, "400", "550")
	h.openPosition(h.bob, "1000", "1000")
	h.openPosition(h.carol, "500", "300")

	h.feed.Set(fixed.Wad("3"))
	h.poke()
	id, err := h.ix.StartAuction(h.ctx, h.bob, weth, h.alice, h.bob)
	require.NoError(t, err)

	// A quarter of the way into the decay the price is 0.9.
	h.clock.Advance(2700 * time.Second)
	sale, err := h.ix.AuctionStatus(h.ctx, weth, id)
	require.NoError(t, err)
	requireAmount(t, fixed.Ray("0.9"), sale.Price)

	bought, err := h.ix.BuyFromAuction(h.ctx, h.bob, weth, id, fixed.Wad("150"), fixed.Ray("1"), h.bob)
	require.NoError(t, err)
	requireAmount(t, fixed.Rad("135"), bought.Owe)
	requireAmount(t, fixed.Wad("150"), bought.Slice)
	requireAmount(t, fixed.Wad("15"), bought.Refunded)
	requireAmount(t, fixed.Wad("865"), h.balance(stable, h.bob))
	requireAmount(t, fixed.Wad("150"), h.balance(weth, h.bob))

	bought, err = h.ix.BuyFromAuction(h.ctx, h.carol, weth, id, fixed.Wad("250"), fixed.Ray("0.9"), h.carol)
	require.NoError(t, err)
	requireAmount(t, fixed.Rad("225"), bought.Owe)
	requireAmount(t, fixed.Wad("250"), bought.Slice)
	requireAmount(t, fixed.Wad("75"), h.balance(stable, h.carol))
	requireAmount(t, fixed.Wad("750"), h.balance(weth, h.carol))

	_, err = h.ix.AuctionStatus(h.ctx, weth, id)
	require.ErrorIs(t, err, clip.ErrNotRunning)
	active, err := h.ix.ActiveAuctions(h.ctx, weth)
	require.NoError(t, err)
	require.Empty(t, active)

	free, err := h.ix.Free(h.ctx, weth, h.alice)
	require.NoError(t, err)
	requireAmount(t, fixed.Zero(), free, "the whole lot was sold")
	surplus, err := h.ix.Vat().Dai(h.ix.Vow())
	require.NoError(t, err)
	requireAmount(t, fixed.Rad("360"), surplus)
	dirt, err := h.ix.Dog().Globals()
	require.NoError(t, err)
	requireAmount(t, fixed.Zero(), dirt.Dirt)

	tvl, err := h.ix.DepositTVL(h.ctx, weth)
	require.NoError(t, err)
	requireAmount(t, fixed.Wad("1500"), tvl)
	escrowed := h.balance(weth, mustCollateral(t, h.ix).Escrow.Address())
	requireAmount(t, tvl, escrowed, "escrow balance tracks the deposit total")

	require.NoError(t, h.ix.HealSurplus(h.ctx, h.admin, fixed.Rad("360")))
	sin, err := h.ix.Vat().Sin(h.ix.Vow())
	require.NoError(t, err)
	requireAmount(t, fixed.Rad("190"), sin)
	require.ErrorIs(t, h.ix.HealSurplus(h.ctx, h.alice, fixed.Rad("1")), nativecommon.ErrUnauthorized)
}

func TestPartialBuyBelowFloorTakesWholeLot(t *testing.T) {
	h := newHarness(t, "100")
	h.openPosition(h.alice, "400", "550")
	h.openPosition(h.bob, "1000", "1000")
	h.feed.Set(fixed.Wad("3"))
	h.poke()
	id, err := h.ix.StartAuction(h.ctx, h.bob, weth, h.alice, h.bob)
	require.NoError(t, err)

	// 145 at 3.6 owes 522 and would leave 99.5 of the 621.5 tab, under the
	// 113 floor, so the sale settles the whole tab instead.
	bought, err := h.ix.BuyFromAuction(h.ctx, h.bob, weth, id, fixed.Wad("145"), fixed.Ray("3.6"), h.bob)
	require.NoError(t, err)
	slice := fixed.Div(fixed.Rad("621.5"), fixed.Ray("3.6"))
	requireAmount(t, fixed.Rad("621.5"), bought.Owe)
	requireAmount(t, slice, bought.Slice)
	require.Equal(t, 1, bought.Slice.Cmp(fixed.Wad("145")), "the buyer receives more than asked")
	requireAmount(t, fixed.Zero(), bought.Refunded)
	requireAmount(t, fixed.Wad("378.5"), h.balance(stable, h.bob))
	requireAmount(t, slice, h.balance(weth, h.bob))

	_, err = h.ix.AuctionStatus(h.ctx, weth, id)
	require.ErrorIs(t, err, clip.ErrNotRunning)
	free, err := h.ix.Free(h.ctx, weth, h.alice)
	require.NoError(t, err)
	requireAmount(t, new(big.Int).Sub(fixed.Wad("400"), slice), free, "the unsold lot returns to the owner")
	surplus, err := h.ix.Vat().Dai(h.ix.Vow())
	require.NoError(t, err)
	requireAmount(t, fixed.Rad("621.5"), surplus)
}

func TestPartialBuyRefundsUnusedBudget(t *testing.T) {
	h := newHarness(t, "100")
	h.openPosition(h.alice, "400", "550")
	h.openPosition(h.bob, "1000", "1000")
	h.feed.Set(fixed.Wad("3"))
	h.poke()
	id, err := h.ix.StartAuction(h.ctx, h.bob, weth, h.alice, h.bob)
	require.NoError(t, err)

	bought, err := h.ix.BuyFromAuction(h.ctx, h.bob, weth, id, fixed.Wad("100"), fixed.Ray("3.6"), h.bob)
	require.NoError(t, err)
	requireAmount(t, fixed.Rad("360"), bought.Owe)
	requireAmount(t, fixed.Wad("100"), bought.Slice)
	requireAmount(t, fixed.Wad("261.5"), bought.Refunded)
	requireAmount(t, fixed.Wad("640"), h.balance(stable, h.bob))
}

func TestStaleAuctionNeedsReset(t *testing.T) {
	h := newHarness(t, "100")
	h.openPosition(h.alice, "400", "550")
	h.openPosition(h.bob, "1000", "1000")
	h.feed.Set(fixed.Wad("3"))
	h.poke()
	id, err := h.ix.StartAuction(h.ctx, h.bob, weth, h.alice, h.bob)
	require.NoError(t, err)

	require.ErrorIs(t, h.ix.ResetAuction(h.ctx, h.bob, weth, id, h.bob), clip.ErrCannotReset)

	h.clock.Advance(3601 * time.Second)
	sale, err := h.ix.AuctionStatus(h.ctx, weth, id)
	require.NoError(t, err)
	require.True(t, sale.NeedsRedo)
	_, err = h.ix.BuyFromAuction(h.ctx, h.bob, weth, id, fixed.Wad("10"), fixed.Ray("5"), h.bob)
	require.ErrorIs(t, err, clip.ErrNeedsReset)
	requireAmount(t, fixed.Wad("1000"), h.balance(stable, h.bob), "the rejected purchase burned nothing")

	h.feed.Set(fixed.Wad("2.5"))
	require.NoError(t, h.ix.ResetAuction(h.ctx, h.bob, weth, id, h.bob))
	sale, err = h.ix.AuctionStatus(h.ctx, weth, id)
	require.NoError(t, err)
	require.False(t, sale.NeedsRedo)
	requireAmount(t, fixed.Ray("3"), sale.Top)
	require.Equal(t, uint64(h.clock.Now().Unix()), sale.Tic)

	bought, err := h.ix.BuyFromAuction(h.ctx, h.bob, weth, id, fixed.Wad("10"), fixed.Ray("3"), h.bob)
	require.NoError(t, err)
	requireAmount(t, fixed.Rad("30"), bought.Owe)
}

func TestWhitelistGatesPositions(t *testing.T) {
	h := newHarness(t, "500")
	require.NoError(t, h.ix.EnableWhitelist(h.ctx, h.admin))

	err := h.ix.Deposit(h.ctx, h.alice, h.alice, weth, fixed.Wad("1"))
	require.ErrorIs(t, err, cdp.ErrNotWhitelisted)

	require.ErrorIs(t, h.ix.SetWhitelistOperator(h.ctx, h.alice, h.alice), nativecommon.ErrUnauthorized)
	require.NoError(t, h.ix.SetWhitelistOperator(h.ctx, h.admin, h.bob))
	require.ErrorIs(t, h.ix.AddToWhitelist(h.ctx, h.admin, h.alice), cdp.ErrNotOperator)
	require.NoError(t, h.ix.AddToWhitelist(h.ctx, h.bob, h.alice))

	ok, err := h.ix.Whitelisted(h.ctx, h.alice)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, h.ix.Deposit(h.ctx, h.alice, h.alice, weth, fixed.Wad("1")))

	require.NoError(t, h.ix.RemoveFromWhitelist(h.ctx, h.bob, h.alice))
	require.ErrorIs(t, h.ix.Deposit(h.ctx, h.alice, h.alice, weth, fixed.Wad("1")), cdp.ErrNotWhitelisted)

	require.NoError(t, h.ix.DisableWhitelist(h.ctx, h.admin))
	require.NoError(t, h.ix.Deposit(h.ctx, h.carol, h.carol, weth, fixed.Wad("1")))
}

func TestCollateralRegistryLifecycle(t *testing.T) {
	h := newHarness(t, "500")
	require.Equal(t, []string{weth}, h.ix.Collaterals())

	err := h.ix.SetCollateralType(h.ctx, h.admin, cdp.CollateralParams{Token: weth, Ilk: "WETH-B", Mat: fixed.Ray("1.5"), Tail: 3600})
	require.ErrorIs(t, err, cdp.ErrAlreadyInitialized)
	err = h.ix.SetCollateralType(h.ctx, h.alice, cdp.CollateralParams{Token: "WBTC", Ilk: "WBTC-A", Mat: fixed.Ray("1.5"), Tail: 3600})
	require.ErrorIs(t, err, nativecommon.ErrNotWard)

	h.openPosition(h.alice, "400", "550")
	require.NoError(t, h.ix.RemoveCollateralType(h.ctx, h.admin, weth))
	require.ErrorIs(t, h.ix.Deposit(h.ctx, h.bob, h.bob, weth, fixed.Wad("1")), cdp.ErrCollateralInactive)
	require.ErrorIs(t, h.ix.Borrow(h.ctx, h.alice, weth, fixed.Wad("1")), cdp.ErrCollateralInactive)
	require.ErrorIs(t, h.ix.RemoveCollateralType(h.ctx, h.admin, weth), cdp.ErrCollateralInactive)

	require.NoError(t, h.ix.Payback(h.ctx, h.alice, weth, fixed.Wad("550")))
	require.NoError(t, h.ix.Withdraw(h.ctx, h.alice, h.alice, weth, fixed.Wad("400")))
	rec, err := h.ix.Record(h.ctx, weth)
	require.NoError(t, err)
	require.False(t, rec.Live)
	require.Equal(t, 1, h.sink.count(events.TypeCollateralRemoved))
}

func TestCageStopsMintingAcrossRestart(t *testing.T) {
	h := newHarness(t, "500")
	h.openPosition(h.alice, "400", "550")

	require.ErrorIs(t, h.ix.Cage(h.ctx, h.alice), nativecommon.ErrUnauthorized)
	caged, err := h.ix.Caged(h.ctx)
	require.NoError(t, err)
	require.False(t, caged)

	require.NoError(t, h.ix.Cage(h.ctx, h.admin))
	require.Equal(t, 1, h.sink.count(events.TypeSystemCaged))
	require.ErrorIs(t, h.ix.Cage(h.ctx, h.admin), cdp.ErrCaged)

	for round, ix := range []*cdp.Interaction{h.ix, h.open()} {
		caged, err := ix.Caged(h.ctx)
		require.NoError(t, err)
		require.True(t, caged, "round %d", round)

		require.ErrorIs(t, ix.Deposit(h.ctx, h.bob, h.bob, weth, fixed.Wad("1")), join.ErrNotLive, "round %d", round)
		require.ErrorIs(t, ix.Borrow(h.ctx, h.alice, weth, fixed.Wad("1")), vat.ErrNotLive, "round %d", round)
		err = h.mgr.Update(func() error {
			return mustCollateral(t, ix).Escrow.Join(h.bob, h.bob, fixed.Wad("1"))
		})
		require.ErrorIs(t, err, join.ErrNotLive, "round %d", round)
		err = ix.SetCollateralType(h.ctx, h.admin, cdp.CollateralParams{Token: "WBTC", Ilk: "WBTC-A", Mat: fixed.Ray("1.5"), Tail: 3600})
		require.ErrorIs(t, err, cdp.ErrCaged, "round %d", round)
	}
	requireAmount(t, fixed.Wad("550"), h.balance(stable, h.alice))
	requireAmount(t, fixed.Wad("1000"), h.balance(weth, h.bob))
}

func TestFailedOperationEmitsNothing(t *testing.T) {
	h := newHarness(t, "500")
	before := h.sink.count(events.TypePositionModified)
	err := h.ix.Deposit(h.ctx, h.alice, h.alice, weth, fixed.Wad("5000"))
	require.Error(t, err)
	require.Equal(t, before, h.sink.count(events.TypePositionModified))
	requireAmount(t, fixed.Wad("1000"), h.balance(weth, h.alice))
	gem, err := h.ix.Vat().Gem(wethA, h.alice)
	require.NoError(t, err)
	requireAmount(t, fixed.Zero(), gem, "the ledger credit is reverted with the failed transfer")
}

func TestRevertedCallDropsEngineEvents(t *testing.T) {
	h := newHarness(t, "500")
	h.openPosition(h.alice, "400", "550")
	require.NoError(t, h.mgr.Update(func() error {
		return h.ix.Jug().FileIlk(h.admin, wethA, "duty", fixed.Ray("1.000000001"))
	}))
	before := h.sink.count(events.TypeRateAccrued)

	// The borrow accrues fees before the safety check rejects it.
	h.clock.Advance(time.Hour)
	err := h.ix.Borrow(h.ctx, h.alice, weth, fixed.Wad("1000"))
	require.ErrorIs(t, err, vat.ErrNotSafe)
	require.Equal(t, before, h.sink.count(events.TypeRateAccrued))

	_, err = h.ix.Drip(h.ctx, weth)
	require.NoError(t, err)
	require.Equal(t, before+1, h.sink.count(events.TypeRateAccrued))
}

func TestConcurrentCallsDeliverCommittedEventsOnce(t *testing.T) {
	h := newHarness(t, "500")
	h.openPosition(h.alice, "400", "550")
	before := h.sink.count(events.TypePositionModified)

	const rounds = 24
	deposits := make(chan error, rounds)
	borrows := make(chan error, rounds)
	var wg sync.WaitGroup
	for n := 0; n < rounds; n++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			deposits <- h.ix.Deposit(h.ctx, h.bob, h.bob, weth, fixed.Wad("1"))
		}()
		go func() {
			defer wg.Done()
			borrows <- h.ix.Borrow(h.ctx, h.alice, weth, fixed.Wad("1000"))
		}()
	}
	wg.Wait()
	close(deposits)
	close(borrows)
	for err := range deposits {
		require.NoError(t, err)
	}
	for err := range borrows {
		require.ErrorIs(t, err, vat.ErrNotSafe)
	}

	require.Equal(t, before+rounds, h.sink.count(events.TypePositionModified))
	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	for _, evt := range h.sink.events[len(h.sink.events)-rounds:] {
		modified, ok := evt.(events.PositionModified)
		require.True(t, ok)
		require.Equal(t, "deposit", modified.Action)
		require.True(t, modified.Owner.Equal(h.bob))
	}
}

func TestRestartRestoresRegistry(t *testing.T) {
	h := newHarness(t, "500")
	h.openPosition(h.alice, "400", "550")

	h.ix = h.open()
	require.Equal(t, []string{weth}, h.ix.Collaterals())
	pos, err := h.ix.Position(h.ctx, weth, h.alice)
	require.NoError(t, err)
	requireAmount(t, fixed.Wad("550"), pos.Borrowed)

	_, err = h.ix.Poke(h.ctx, weth)
	require.ErrorIs(t, err, spot.ErrNoFeed, "feeds are rebound after a restart")
	require.NoError(t, h.ix.SetPriceFeed(h.ctx, h.admin, weth, h.feed))
	h.feed.Set(fixed.Wad("3"))
	h.poke()
	id, err := h.ix.StartAuction(h.ctx, h.bob, weth, h.alice, h.bob)
	require.NoError(t, err)
	require.Equal(t, uint64(1), id)
}

func TestPausedFacadeRejectsMutations(t *testing.T) {
	h := newHarness(t, "500")
	pauses := pausedModules{"cdp": true}
	ix, err := cdp.New(h.mgr, cdp.Config{StableSymbol: stable, Clock: h.clock, Pauses: pauses})
	require.NoError(t, err)
	err = ix.Deposit(h.ctx, h.alice, h.alice, weth, fixed.Wad("1"))
	require.ErrorIs(t, err, nativecommon.ErrModulePaused)
}

// spanLog keeps the trace id carried by the context of every record.
type spanLog struct {
	mu     sync.Mutex
	traces map[string]trace.TraceID
}

func (l *spanLog) Enabled(context.Context, slog.Level) bool { return true }
func (l *spanLog) WithAttrs([]slog.Attr) slog.Handler       { return l }
func (l *spanLog) WithGroup(string) slog.Handler            { return l }

func (l *spanLog) Handle(ctx context.Context, rec slog.Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.traces[rec.Message] = trace.SpanContextFromContext(ctx).TraceID()
	return nil
}

func TestOperationLogsJoinTheirSpan(t *testing.T) {
	spans := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	h := newHarness(t, "500")
	logs := &spanLog{traces: make(map[string]trace.TraceID)}
	ix, err := cdp.New(h.mgr, cdp.Config{StableSymbol: stable, Clock: h.clock, Logger: slog.New(logs)})
	require.NoError(t, err)
	require.NoError(t, ix.Deposit(h.ctx, h.alice, h.alice, weth, fixed.Wad("1")))
	require.Error(t, ix.Deposit(h.ctx, h.alice, h.alice, weth, fixed.Wad("5000")))

	byName := make(map[string][]sdktrace.ReadOnlySpan)
	for _, span := range spans.Ended() {
		byName[span.Name()] = append(byName[span.Name()], span)
	}
	deposits := byName["cdp.deposit"]
	require.Len(t, deposits, 2)

	logs.mu.Lock()
	defer logs.mu.Unlock()
	applied, failed := logs.traces["operation applied"], logs.traces["operation failed"]
	require.True(t, applied.IsValid())
	require.True(t, failed.IsValid())
	require.Equal(t, deposits[0].SpanContext().TraceID(), applied)
	require.Equal(t, deposits[1].SpanContext().TraceID(), failed)
}

type pausedModules map[string]bool

func (p pausedModules) IsPaused(module string) bool { return p[module] }

func mustCollateral(t *testing.T, ix *cdp.Interaction) *cdp.CollateralType {
	t.Helper()
	ct, err := ix.Collateral(weth)
	require.NoError(t, err)
	return ct
}
