package cdp

import (
	"context"
	"math/big"

	"nhbcdp/crypto"
	nativecommon "nhbcdp/native/common"
	"nhbcdp/native/fixed"
	"nhbcdp/native/vat"
)

// The readers below never write. Debt figures use the accumulated rate
// projected to now, so they match what a drip at this instant would book.

// Locked returns the collateral locked in the position of usr [wad].
func (i *Interaction) Locked(ctx context.Context, tok string, usr crypto.Address) (*big.Int, error) {
	p, err := i.Position(ctx, tok, usr)
	if err != nil {
		return nil, err
	}
	return p.Locked, nil
}

// Borrowed returns the debt of usr in stable tokens, rounded up [wad].
func (i *Interaction) Borrowed(ctx context.Context, tok string, usr crypto.Address) (*big.Int, error) {
	p, err := i.Position(ctx, tok, usr)
	if err != nil {
		return nil, err
	}
	return p.Borrowed, nil
}

// Free returns the unlocked collateral usr holds in the ledger [wad].
func (i *Interaction) Free(ctx context.Context, tok string, usr crypto.Address) (*big.Int, error) {
	p, err := i.Position(ctx, tok, usr)
	if err != nil {
		return nil, err
	}
	return p.Free, nil
}

// Position gathers the user facing view of one position.
func (i *Interaction) Position(ctx context.Context, tok string, usr crypto.Address) (*Position, error) {
	tok = normalizeToken(tok)
	var out *Position
	err := i.view(ctx, "position", tok, func() error {
		snap, err := i.snapshot(tok, usr)
		if err != nil {
			return err
		}
		out = &Position{
			Token:            tok,
			Ilk:              snap.ilk,
			Owner:            usr,
			Locked:           fixed.Clone(snap.urn.Ink),
			Borrowed:         fixed.DivUp(snap.debt(), fixed.RAY),
			Free:             snap.gem,
			LiquidationPrice: snap.liquidationPrice(snap.urn.Ink, snap.debt()),
		}
		return nil
	})
	return out, err
}

// CollateralPrice returns the feed price of token over the peg [wad].
func (i *Interaction) CollateralPrice(ctx context.Context, tok string) (*big.Int, error) {
	tok = normalizeToken(tok)
	var out *big.Int
	err := i.view(ctx, "collateral_price", tok, func() error {
		ct, err := i.binding(tok)
		if err != nil {
			return err
		}
		price, err := i.spot.FeedPrice(ct.Ilk)
		if err != nil {
			return err
		}
		out = fixed.Div(price, fixed.BLN)
		return nil
	})
	return out, err
}

// CollateralRate returns the share of collateral value that may be borrowed,
// the inverse of the liquidation ratio [wad].
func (i *Interaction) CollateralRate(ctx context.Context, tok string) (*big.Int, error) {
	tok = normalizeToken(tok)
	var out *big.Int
	err := i.view(ctx, "collateral_rate", tok, func() error {
		ct, err := i.binding(tok)
		if err != nil {
			return err
		}
		cfg, err := i.spot.IlkConfig(ct.Ilk)
		if err != nil {
			return err
		}
		out = fixed.Div(fixed.Mul(fixed.WAD, fixed.RAY), cfg.Mat)
		return nil
	})
	return out, err
}

// DepositTVL returns the collateral escrowed through the facade [wad].
func (i *Interaction) DepositTVL(ctx context.Context, tok string) (*big.Int, error) {
	tok = normalizeToken(tok)
	var out *big.Int
	err := i.view(ctx, "deposit_tvl", tok, func() error {
		rec, err := i.requireRecord(tok)
		if err != nil {
			return err
		}
		out = rec.Deposits
		return nil
	})
	return out, err
}

// CollateralTVL values the escrowed collateral at the feed price [wad].
func (i *Interaction) CollateralTVL(ctx context.Context, tok string) (*big.Int, error) {
	tok = normalizeToken(tok)
	var out *big.Int
	err := i.view(ctx, "collateral_tvl", tok, func() error {
		ct, err := i.binding(tok)
		if err != nil {
			return err
		}
		rec, err := i.requireRecord(tok)
		if err != nil {
			return err
		}
		price, err := i.spot.FeedPrice(ct.Ilk)
		if err != nil {
			return err
		}
		out = fixed.Div(fixed.Mul(rec.Deposits, price), fixed.RAY)
		return nil
	})
	return out, err
}

// TotalDebt returns the debt drawn against token across all positions [rad].
func (i *Interaction) TotalDebt(ctx context.Context, tok string) (*big.Int, error) {
	tok = normalizeToken(tok)
	var out *big.Int
	err := i.view(ctx, "total_debt", tok, func() error {
		ct, err := i.binding(tok)
		if err != nil {
			return err
		}
		record, err := i.vat.Ilk(ct.Ilk)
		if err != nil {
			return err
		}
		rate, err := i.projectedRate(ct.Ilk, record.Rate)
		if err != nil {
			return err
		}
		out = fixed.Mul(record.Art, rate)
		return nil
	})
	return out, err
}

// AvailableToBorrow returns how many more stable tokens usr may draw. A
// negative value is the shortfall of an unsafe position [wad].
func (i *Interaction) AvailableToBorrow(ctx context.Context, tok string, usr crypto.Address) (*big.Int, error) {
	return i.WillBorrow(ctx, tok, usr, fixed.Zero())
}

// WillBorrow is AvailableToBorrow after locking dink more collateral, or
// unlocking it when dink is negative [wad].
func (i *Interaction) WillBorrow(ctx context.Context, tok string, usr crypto.Address, dink *big.Int) (*big.Int, error) {
	tok = normalizeToken(tok)
	var out *big.Int
	err := i.view(ctx, "will_borrow", tok, func() error {
		snap, err := i.snapshot(tok, usr)
		if err != nil {
			return err
		}
		ink := new(big.Int).Add(snap.urn.Ink, orZero(dink))
		room := new(big.Int).Sub(fixed.Mul(ink, snap.ilkRecord.Spot), snap.debt())
		out = fixed.Div(room, fixed.RAY)
		return nil
	})
	return out, err
}

// CurrentLiquidationPrice is the feed price at which the position of usr
// becomes unsafe [wad]. Positions without collateral report zero.
func (i *Interaction) CurrentLiquidationPrice(ctx context.Context, tok string, usr crypto.Address) (*big.Int, error) {
	return i.EstimatedLiquidationPrice(ctx, tok, usr, fixed.Zero(), fixed.Zero())
}

// EstimatedLiquidationPrice is CurrentLiquidationPrice after changing the
// collateral by dink and the debt by dwad stable tokens.
func (i *Interaction) EstimatedLiquidationPrice(ctx context.Context, tok string, usr crypto.Address, dink, dwad *big.Int) (*big.Int, error) {
	tok = normalizeToken(tok)
	var out *big.Int
	err := i.view(ctx, "liquidation_price", tok, func() error {
		snap, err := i.snapshot(tok, usr)
		if err != nil {
			return err
		}
		ink := new(big.Int).Add(snap.urn.Ink, orZero(dink))
		debt := new(big.Int).Add(snap.debt(), fixed.Mul(orZero(dwad), fixed.RAY))
		out = snap.liquidationPrice(ink, debt)
		return nil
	})
	return out, err
}

// BorrowAPR returns the yearly stability fee of token as a percentage [wad].
func (i *Interaction) BorrowAPR(ctx context.Context, tok string) (*big.Int, error) {
	tok = normalizeToken(tok)
	var out *big.Int
	err := i.view(ctx, "borrow_apr", tok, func() error {
		ct, err := i.binding(tok)
		if err != nil {
			return err
		}
		rate, err := i.jug.IlkRate(ct.Ilk)
		if err != nil {
			return err
		}
		g, err := i.jug.Globals()
		if err != nil {
			return err
		}
		yearly := fixed.RPow(new(big.Int).Add(g.Base, rate.Duty), secondsPerYear, fixed.RAY)
		out = fixed.Div(fixed.Mul(new(big.Int).Sub(yearly, fixed.RAY), big.NewInt(100)), fixed.BLN)
		return nil
	})
	return out, err
}

// positionSnapshot holds everything the readers derive their figures from.
type positionSnapshot struct {
	ilk       string
	ilkRecord *vat.Ilk
	urn       *vat.Urn
	gem       *big.Int
	rate      *big.Int
	mat       *big.Int
	par       *big.Int
}

func (s *positionSnapshot) debt() *big.Int {
	return fixed.Mul(s.urn.Art, s.rate)
}

// liquidationPrice solves ink * price / (par * mat) = debt for price.
func (s *positionSnapshot) liquidationPrice(ink, debt *big.Int) *big.Int {
	if ink.Sign() <= 0 || debt.Sign() <= 0 {
		return fixed.Zero()
	}
	num := fixed.Mul(fixed.Mul(debt, s.mat), s.par)
	den := fixed.Mul(fixed.Mul(ink, fixed.RAY), fixed.Mul(fixed.RAY, fixed.BLN))
	return fixed.Div(num, den)
}

func (i *Interaction) snapshot(tok string, usr crypto.Address) (*positionSnapshot, error) {
	ct, err := i.binding(tok)
	if err != nil {
		return nil, err
	}
	record, err := i.vat.Ilk(ct.Ilk)
	if err != nil {
		return nil, err
	}
	urn, err := i.vat.Urn(ct.Ilk, usr)
	if err != nil {
		return nil, err
	}
	gem, err := i.vat.Gem(ct.Ilk, usr)
	if err != nil {
		return nil, err
	}
	rate, err := i.projectedRate(ct.Ilk, record.Rate)
	if err != nil {
		return nil, err
	}
	cfg, err := i.spot.IlkConfig(ct.Ilk)
	if err != nil {
		return nil, err
	}
	g, err := i.spot.Globals()
	if err != nil {
		return nil, err
	}
	return &positionSnapshot{
		ilk:       ct.Ilk,
		ilkRecord: record,
		urn:       urn,
		gem:       gem,
		rate:      rate,
		mat:       cfg.Mat,
		par:       g.Par,
	}, nil
}

// projectedRate compounds current up to now without booking the fee.
func (i *Interaction) projectedRate(ilk string, current *big.Int) (*big.Int, error) {
	record, err := i.jug.IlkRate(ilk)
	if err != nil {
		return nil, err
	}
	now := nativecommon.Unix(i.clock)
	if now <= record.Rho {
		return fixed.Clone(current), nil
	}
	g, err := i.jug.Globals()
	if err != nil {
		return nil, err
	}
	factor := fixed.RPow(new(big.Int).Add(g.Base, record.Duty), now-record.Rho, fixed.RAY)
	return fixed.RMul(factor, current), nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return fixed.Zero()
	}
	return v
}
