package state

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"nhbcdp/crypto"
	"nhbcdp/native/clip"
	"nhbcdp/native/dog"
	"nhbcdp/native/fixed"
	"nhbcdp/native/jug"
	"nhbcdp/native/spot"
	"nhbcdp/native/token"
	"nhbcdp/native/vat"
	"nhbcdp/storage"
)

func newTestManager(t *testing.T) (*Manager, *storage.MemDB) {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	return NewManager(db), db
}

func TestKeyFormats(t *testing.T) {
	owner := crypto.NewAddress(crypto.NHBPrefix, make([]byte, 20))
	require.Equal(t, "vat/ilk/ETH-A", string(VatIlkKey("ETH-A")))
	require.Equal(t, "vat/urn/ETH-A/0000000000000000000000000000000000000000", string(VatUrnKey("ETH-A", owner)))
	require.Equal(t, "clip/sale/ETH-A/7", string(ClipSaleKey("ETH-A", 7)))
	require.Equal(t, "auth/ward/vat/0000000000000000000000000000000000000000", string(WardKey(" vat ", owner)))
}

func TestUpdateCommitsAtomically(t *testing.T) {
	mgr, db := newTestManager(t)
	owner := crypto.ModuleAddress("owner")

	require.ErrorIs(t, mgr.PutDai(owner, big.NewInt(1)), ErrNoTransaction)

	err := mgr.Update(func() error {
		require.NoError(t, mgr.PutDai(owner, fixed.Rad("5")))
		got, err := mgr.GetDai(owner)
		require.NoError(t, err)
		require.Equal(t, 0, got.Cmp(fixed.Rad("5")), "overlay must be visible inside the update")
		require.Equal(t, 0, db.Len(), "nothing reaches the database before commit")
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, db.Len())

	got, err := mgr.GetDai(owner)
	require.NoError(t, err)
	require.Equal(t, 0, got.Cmp(fixed.Rad("5")))
}

func TestUpdateRollsBackOnError(t *testing.T) {
	mgr, _ := newTestManager(t)
	owner := crypto.ModuleAddress("owner")
	require.NoError(t, mgr.Update(func() error { return mgr.PutDai(owner, fixed.Rad("5")) }))

	boom := errors.New("boom")
	err := mgr.Update(func() error {
		require.NoError(t, mgr.PutDai(owner, fixed.Rad("1")))
		require.NoError(t, mgr.PutSin(owner, fixed.Rad("1")))
		return boom
	})
	require.ErrorIs(t, err, boom)

	dai, err := mgr.GetDai(owner)
	require.NoError(t, err)
	require.Equal(t, 0, dai.Cmp(fixed.Rad("5")))
	sin, err := mgr.GetSin(owner)
	require.NoError(t, err)
	require.Equal(t, 0, sin.Sign())
}

func TestUpdateThenRunsHookOnlyAfterCommit(t *testing.T) {
	mgr, db := newTestManager(t)
	owner := crypto.ModuleAddress("owner")

	calls := 0
	boom := errors.New("boom")
	err := mgr.UpdateThen(func() error {
		require.NoError(t, mgr.PutDai(owner, fixed.Rad("1")))
		return boom
	}, func() { calls++ })
	require.ErrorIs(t, err, boom)
	require.Zero(t, calls, "a failed transition must not run the hook")

	err = mgr.UpdateThen(func() error {
		return mgr.PutDai(owner, fixed.Rad("2"))
	}, func() {
		calls++
		require.Equal(t, 1, db.Len(), "the batch is written before the hook")
		require.ErrorIs(t, mgr.PutDai(owner, fixed.Rad("3")), ErrNoTransaction)
		locked := mgr.mu.TryLock()
		if locked {
			mgr.mu.Unlock()
		}
		require.False(t, locked, "the hook runs under the writer lock")
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)

	got, err := mgr.GetDai(owner)
	require.NoError(t, err)
	require.Equal(t, 0, got.Cmp(fixed.Rad("2")))
}

func TestViewRejectsWrites(t *testing.T) {
	mgr, _ := newTestManager(t)
	err := mgr.View(func() error { return mgr.SetWard("vat", crypto.ModuleAddress("x"), true) })
	require.ErrorIs(t, err, ErrNoTransaction)
}

func TestDeleteInsideUpdate(t *testing.T) {
	mgr, db := newTestManager(t)
	owner := crypto.ModuleAddress("owner")
	require.NoError(t, mgr.Update(func() error { return mgr.PutCan(owner, owner, true) }))
	require.Equal(t, 1, db.Len())

	require.NoError(t, mgr.Update(func() error {
		require.NoError(t, mgr.PutCan(owner, owner, false))
		ok, err := mgr.GetCan(owner, owner)
		require.NoError(t, err)
		require.False(t, ok)
		return nil
	}))
	require.Equal(t, 0, db.Len())
}

func TestLedgerRecordsRoundTrip(t *testing.T) {
	mgr, _ := newTestManager(t)
	owner := crypto.ModuleAddress("owner")

	ilk, err := mgr.GetIlk("ETH-A")
	require.NoError(t, err)
	require.Nil(t, ilk, "uninitialised type reads as nil")
	urn, err := mgr.GetUrn("ETH-A", owner)
	require.NoError(t, err)
	require.True(t, urn.IsEmpty())
	globals, err := mgr.GetGlobals()
	require.NoError(t, err)
	require.Nil(t, globals)

	require.NoError(t, mgr.Update(func() error {
		if err := mgr.PutIlk("ETH-A", &vat.Ilk{
			Art: fixed.Wad("550"), Rate: fixed.Ray("1.05"), Spot: fixed.Ray("1.6"),
			Line: fixed.Rad("20000"), Dust: fixed.Rad("500"),
		}); err != nil {
			return err
		}
		if err := mgr.PutUrn("ETH-A", owner, &vat.Urn{Ink: fixed.Wad("400"), Art: fixed.Wad("550")}); err != nil {
			return err
		}
		return mgr.PutGlobals(&vat.Globals{Debt: fixed.Rad("577.5"), Vice: fixed.Zero(), Line: fixed.Rad("20000"), Live: true})
	}))

	ilk, err = mgr.GetIlk("ETH-A")
	require.NoError(t, err)
	require.Equal(t, 0, ilk.Rate.Cmp(fixed.Ray("1.05")))
	require.Equal(t, 0, ilk.Dust.Cmp(fixed.Rad("500")))
	urn, err = mgr.GetUrn("ETH-A", owner)
	require.NoError(t, err)
	require.Equal(t, 0, urn.Ink.Cmp(fixed.Wad("400")))
	globals, err = mgr.GetGlobals()
	require.NoError(t, err)
	require.True(t, globals.Live)
	require.Equal(t, 0, globals.Debt.Cmp(fixed.Rad("577.5")))
}

func TestWordOverflowRejected(t *testing.T) {
	mgr, _ := newTestManager(t)
	owner := crypto.ModuleAddress("owner")
	tooBig := new(big.Int).Add(fixed.MaxUint256, big.NewInt(1))
	err := mgr.Update(func() error { return mgr.PutDai(owner, tooBig) })
	require.ErrorIs(t, err, ErrWordOverflow)
	err = mgr.Update(func() error { return mgr.PutGem("ETH-A", owner, big.NewInt(-1)) })
	require.ErrorIs(t, err, ErrWordOverflow)
}

func TestModuleRecordsRoundTrip(t *testing.T) {
	mgr, _ := newTestManager(t)
	vow := crypto.ModuleAddress("vow")
	usr := crypto.ModuleAddress("usr")
	clipper := crypto.ModuleAddress(clip.ModuleName("ETH-A"))

	require.NoError(t, mgr.Update(func() error {
		require.NoError(t, mgr.PutIlkRate("ETH-A", &jug.IlkRate{Duty: fixed.Ray("1.000000001"), Rho: 42}))
		require.NoError(t, mgr.PutJugGlobals(&jug.Globals{Base: fixed.Zero(), Vow: vow}))
		require.NoError(t, mgr.PutSpotIlk("ETH-A", &spot.IlkConfig{Mat: fixed.Ray("1.5")}))
		require.NoError(t, mgr.PutSpotGlobals(&spot.Globals{Par: fixed.Clone(fixed.RAY), Live: true}))
		require.NoError(t, mgr.PutDogIlk("ETH-A", &dog.IlkParams{Clip: clipper, Chop: fixed.Wad("1.13"), Hole: fixed.Rad("1000"), Dirt: fixed.Zero()}))
		require.NoError(t, mgr.PutDogGlobals(&dog.Globals{Hole: fixed.Rad("5000"), Dirt: fixed.Zero(), Vow: vow, Live: true}))
		params := clip.DefaultParams()
		params.Tail = 3600
		params.Stopped = 2
		params.Vow = vow
		params.Calc = clip.CalcConfig{Kind: clip.CalcStairstep, Step: 90, Cut: fixed.Ray("0.99")}
		require.NoError(t, mgr.PutClipParams("ETH-A", params))
		require.NoError(t, mgr.PutSale("ETH-A", &clip.Sale{ID: 3, Pos: 0, Tab: fixed.Rad("10"), Lot: fixed.Wad("1"), Usr: usr, Tic: 9, Top: fixed.Ray("2000")}))
		require.NoError(t, mgr.PutActive("ETH-A", []uint64{3}))
		require.NoError(t, mgr.PutKicks("ETH-A", 3))
		require.NoError(t, mgr.PutToken("USDX", &token.Metadata{Symbol: "USDX", Name: "Stable", Decimals: 18, MintAuthority: vow}))
		return mgr.PutTokenList([]string{"USDX"})
	}))

	rate, err := mgr.GetIlkRate("ETH-A")
	require.NoError(t, err)
	require.Equal(t, uint64(42), rate.Rho)
	jg, err := mgr.GetJugGlobals()
	require.NoError(t, err)
	require.True(t, jg.Vow.Equal(vow))
	require.Equal(t, crypto.ModulePrefix, jg.Vow.Prefix())

	dogIlk, err := mgr.GetDogIlk("ETH-A")
	require.NoError(t, err)
	require.True(t, dogIlk.Clip.Equal(clipper))
	require.Equal(t, 0, dogIlk.Chop.Cmp(fixed.Wad("1.13")))

	params, err := mgr.GetClipParams("ETH-A")
	require.NoError(t, err)
	require.Equal(t, uint8(2), params.Stopped)
	require.Equal(t, clip.CalcStairstep, params.Calc.Kind)
	require.Equal(t, 0, params.Calc.Cut.Cmp(fixed.Ray("0.99")))
	require.Equal(t, 0, params.Buf.Cmp(fixed.RAY))

	sale, err := mgr.GetSale("ETH-A", 3)
	require.NoError(t, err)
	require.True(t, sale.Usr.Equal(usr))
	require.Equal(t, 0, sale.Top.Cmp(fixed.Ray("2000")))
	missing, err := mgr.GetSale("ETH-A", 4)
	require.NoError(t, err)
	require.Nil(t, missing)

	active, err := mgr.GetActive("ETH-A")
	require.NoError(t, err)
	require.Equal(t, []uint64{3}, active)
	kicks, err := mgr.GetKicks("ETH-A")
	require.NoError(t, err)
	require.Equal(t, uint64(3), kicks)

	require.NoError(t, mgr.Update(func() error {
		require.NoError(t, mgr.DeleteSale("ETH-A", 3))
		return mgr.PutActive("ETH-A", nil)
	}))
	active, err = mgr.GetActive("ETH-A")
	require.NoError(t, err)
	require.Empty(t, active)

	meta, err := mgr.GetToken("USDX")
	require.NoError(t, err)
	require.True(t, meta.MintAuthority.Equal(vow))
	list, err := mgr.GetTokenList()
	require.NoError(t, err)
	require.Equal(t, []string{"USDX"}, list)
}

func TestStateVersionStamp(t *testing.T) {
	mgr, _ := newTestManager(t)
	require.NoError(t, mgr.EnsureStateVersion(false))
	version, ok, err := mgr.StateVersion()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, StateVersion, version)

	require.NoError(t, mgr.Update(func() error { return mgr.SetStateVersion(StateVersion + 1) }))
	require.ErrorIs(t, mgr.EnsureStateVersion(false), ErrStateVersionMismatch)
	require.NoError(t, mgr.EnsureStateVersion(true))
}
