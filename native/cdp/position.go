package cdp

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"nhbcdp/core/events"
	"nhbcdp/crypto"
	"nhbcdp/native/fixed"
	"nhbcdp/native/vat"
)

// Deposit escrows wad collateral tokens held by caller and locks them in the
// position of participant.
func (i *Interaction) Deposit(ctx context.Context, caller, participant crypto.Address, tok string, wad *big.Int) error {
	tok = normalizeToken(tok)
	return i.run(ctx, "deposit", tok, func() (string, error) {
		ct, rec, err := i.live(tok)
		if err != nil {
			return ilkOf(ct), err
		}
		if err := i.requireWhitelisted(caller); err != nil {
			return ct.Ilk, err
		}
		if !positive(wad) {
			return ct.Ilk, ErrInvalidAmount
		}
		self := i.address
		if err := ct.Escrow.Join(caller, participant, wad); err != nil {
			return ct.Ilk, err
		}
		if err := i.vat.Behalf(self, participant, self, true); err != nil {
			return ct.Ilk, err
		}
		if err := i.vat.Frob(self, ct.Ilk, participant, participant, participant, wad, fixed.Zero()); err != nil {
			return ct.Ilk, err
		}
		rec.Deposits = new(big.Int).Add(rec.Deposits, wad)
		if err := i.putRecord(rec); err != nil {
			return ct.Ilk, err
		}
		return ct.Ilk, i.emitPosition("deposit", ct, participant, wad)
	})
}

// Borrow draws wad stable tokens against the caller's position. The
// normalized debt is rounded up so the position always covers the minted
// amount.
func (i *Interaction) Borrow(ctx context.Context, caller crypto.Address, tok string, wad *big.Int) error {
	tok = normalizeToken(tok)
	return i.run(ctx, "borrow", tok, func() (string, error) {
		ct, _, err := i.live(tok)
		if err != nil {
			return ilkOf(ct), err
		}
		if err := i.requireWhitelisted(caller); err != nil {
			return ct.Ilk, err
		}
		if !positive(wad) {
			return ct.Ilk, ErrInvalidAmount
		}
		rate, err := i.jug.Drip(ct.Ilk)
		if err != nil {
			return ct.Ilk, err
		}
		self := i.address
		dart := fixed.DivUp(fixed.Mul(wad, fixed.RAY), rate)
		if err := i.vat.Behalf(self, caller, self, true); err != nil {
			return ct.Ilk, err
		}
		if err := i.vat.Frob(self, ct.Ilk, caller, caller, self, fixed.Zero(), dart); err != nil {
			return ct.Ilk, err
		}
		if err := i.stable.Exit(self, caller, wad); err != nil {
			return ct.Ilk, err
		}
		if err := i.sweep(); err != nil {
			return ct.Ilk, err
		}
		return ct.Ilk, i.emitPosition("borrow", ct, caller, wad)
	})
}

// Payback burns up to wad stable tokens of caller against their debt. An
// amount covering the whole debt closes it and only the debt, rounded up,
// is burned. A partial payback must leave at least the floor.
func (i *Interaction) Payback(ctx context.Context, caller crypto.Address, tok string, wad *big.Int) error {
	tok = normalizeToken(tok)
	return i.run(ctx, "payback", tok, func() (string, error) {
		ct, err := i.binding(tok)
		if err != nil {
			return "", err
		}
		if err := i.requireWhitelisted(caller); err != nil {
			return ct.Ilk, err
		}
		if !positive(wad) {
			return ct.Ilk, ErrInvalidAmount
		}
		rate, err := i.jug.Drip(ct.Ilk)
		if err != nil {
			return ct.Ilk, err
		}
		urn, err := i.vat.Urn(ct.Ilk, caller)
		if err != nil {
			return ct.Ilk, err
		}
		if urn.Art.Sign() == 0 {
			return ct.Ilk, ErrNoDebt
		}
		burn, dart := repayment(wad, urn.Art, rate)
		self := i.address
		if err := i.stable.Join(caller, self, burn); err != nil {
			return ct.Ilk, err
		}
		err = i.vat.Frob(self, ct.Ilk, caller, caller, self, fixed.Zero(), new(big.Int).Neg(dart))
		if errors.Is(err, vat.ErrDust) {
			return ct.Ilk, fmt.Errorf("%w: %w", ErrBelowFloor, err)
		}
		if err != nil {
			return ct.Ilk, err
		}
		if err := i.sweep(); err != nil {
			return ct.Ilk, err
		}
		return ct.Ilk, i.emitPosition("payback", ct, caller, burn)
	})
}

// repayment returns the stable amount to burn and the normalized debt it
// retires. Amounts at or above the debt close the position.
func repayment(wad, art, rate *big.Int) (burn, dart *big.Int) {
	debt := fixed.Mul(art, rate)
	if fixed.Mul(wad, fixed.RAY).Cmp(debt) >= 0 {
		return fixed.DivUp(debt, fixed.RAY), fixed.Clone(art)
	}
	return fixed.Clone(wad), fixed.Div(fixed.Mul(wad, fixed.RAY), rate)
}

// Withdraw unlocks wad collateral of participant and releases the tokens to
// them. caller must be participant or hold their delegation.
func (i *Interaction) Withdraw(ctx context.Context, caller, participant crypto.Address, tok string, wad *big.Int) error {
	tok = normalizeToken(tok)
	return i.run(ctx, "withdraw", tok, func() (string, error) {
		ct, rec, err := i.liveOrRemoved(tok)
		if err != nil {
			return ilkOf(ct), err
		}
		if err := i.requireWhitelisted(caller); err != nil {
			return ct.Ilk, err
		}
		if !positive(wad) {
			return ct.Ilk, ErrInvalidAmount
		}
		if !caller.Equal(participant) {
			ok, err := i.vat.Can(participant, caller)
			if err != nil {
				return ct.Ilk, err
			}
			if !ok {
				return ct.Ilk, ErrNotDelegated
			}
		}
		self := i.address
		if err := i.vat.Behalf(self, participant, self, true); err != nil {
			return ct.Ilk, err
		}
		if err := i.vat.Frob(self, ct.Ilk, participant, participant, participant, new(big.Int).Neg(wad), fixed.Zero()); err != nil {
			return ct.Ilk, err
		}
		if err := ct.Escrow.Exit(participant, participant, wad); err != nil {
			return ct.Ilk, err
		}
		rec.Deposits = subFloor(rec.Deposits, wad)
		if err := i.putRecord(rec); err != nil {
			return ct.Ilk, err
		}
		return ct.Ilk, i.emitPosition("withdraw", ct, participant, wad)
	})
}

// Drip accrues stability fees of token up to now and returns the new rate.
func (i *Interaction) Drip(ctx context.Context, tok string) (*big.Int, error) {
	tok = normalizeToken(tok)
	var rate *big.Int
	err := i.run(ctx, "drip", tok, func() (string, error) {
		ct, err := i.binding(tok)
		if err != nil {
			return "", err
		}
		rate, err = i.jug.Drip(ct.Ilk)
		return ct.Ilk, err
	})
	return rate, err
}

// Poke pushes the current feed price of token into the ledger and returns
// the new spot.
func (i *Interaction) Poke(ctx context.Context, tok string) (*big.Int, error) {
	tok = normalizeToken(tok)
	var spot *big.Int
	err := i.run(ctx, "poke", tok, func() (string, error) {
		ct, err := i.binding(tok)
		if err != nil {
			return "", err
		}
		spot, err = i.spot.Poke(ct.Ilk)
		return ct.Ilk, err
	})
	return spot, err
}

// liveOrRemoved resolves token whether or not it still accepts new
// positions.
func (i *Interaction) liveOrRemoved(tok string) (*CollateralType, *Record, error) {
	ct, rec, err := i.live(tok)
	if errors.Is(err, ErrCollateralInactive) {
		return ct, rec, nil
	}
	return ct, rec, err
}

func (i *Interaction) emitPosition(action string, ct *CollateralType, owner crypto.Address, amount *big.Int) error {
	urn, err := i.vat.Urn(ct.Ilk, owner)
	if err != nil {
		return err
	}
	i.pending.Emit(events.PositionModified{
		Action: action,
		Token:  ct.Token,
		Ilk:    ct.Ilk,
		Owner:  owner,
		Amount: fixed.Clone(amount),
		Ink:    urn.Ink,
		Art:    urn.Art,
	})
	return nil
}

func ilkOf(ct *CollateralType) string {
	if ct == nil {
		return ""
	}
	return ct.Ilk
}

func subFloor(x, y *big.Int) *big.Int {
	out, ok := fixed.Sub(x, y)
	if !ok {
		return fixed.Zero()
	}
	return out
}

// WithdrawFree releases unlocked collateral of caller, such as the lot
// remainder an auction returned, as tokens.
func (i *Interaction) WithdrawFree(ctx context.Context, caller crypto.Address, tok string, wad *big.Int) error {
	tok = normalizeToken(tok)
	return i.run(ctx, "withdraw_free", tok, func() (string, error) {
		ct, rec, err := i.liveOrRemoved(tok)
		if err != nil {
			return ilkOf(ct), err
		}
		if !positive(wad) {
			return ct.Ilk, ErrInvalidAmount
		}
		if err := ct.Escrow.Exit(caller, caller, wad); err != nil {
			return ct.Ilk, err
		}
		rec.Deposits = subFloor(rec.Deposits, wad)
		if err := i.putRecord(rec); err != nil {
			return ct.Ilk, err
		}
		return ct.Ilk, i.emitPosition("withdraw_free", ct, caller, wad)
	})
}
