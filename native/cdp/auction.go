package cdp

import (
	"context"
	"math/big"

	"nhbcdp/crypto"
	"nhbcdp/native/fixed"
)

// StartAuction liquidates the unsafe position of usr and returns the id of
// the sale. kpr receives the keeper incentive.
func (i *Interaction) StartAuction(ctx context.Context, caller crypto.Address, tok string, usr, kpr crypto.Address) (uint64, error) {
	tok = normalizeToken(tok)
	var (
		id     uint64
		active int
	)
	err := i.run(ctx, "start_auction", tok, func() (string, error) {
		ct, err := i.binding(tok)
		if err != nil {
			return "", err
		}
		id, err = i.dog.Bark(caller, ct.Ilk, usr, kpr)
		if err != nil {
			return ct.Ilk, err
		}
		active, err = ct.Clip.Count()
		return ct.Ilk, err
	})
	if err != nil {
		return 0, err
	}
	i.metrics.RecordLiquidation(tok)
	i.metrics.SetActiveAuctions(tok, active)
	return id, nil
}

// BuyFromAuction buys up to amt collateral from sale id at no more than
// maxPrice [ray] per unit. The caller funds the purchase with stable
// tokens and the collateral goes to receiver. When a partial buy would
// leave a remainder below the auction floor the whole lot is taken, so the
// caller may receive more than amt. Whatever the sale did not consume is
// minted back to the caller.
func (i *Interaction) BuyFromAuction(ctx context.Context, caller crypto.Address, tok string, id uint64, amt, maxPrice *big.Int, receiver crypto.Address) (*Purchase, error) {
	tok = normalizeToken(tok)
	var (
		out    *Purchase
		active int
	)
	err := i.run(ctx, "buy_from_auction", tok, func() (string, error) {
		ct, rec, err := i.liveOrRemoved(tok)
		if err != nil {
			return ilkOf(ct), err
		}
		if !positive(amt) || !positive(maxPrice) {
			return ct.Ilk, ErrInvalidAmount
		}
		sale, err := ct.Clip.Sale(id)
		if err != nil {
			return ct.Ilk, err
		}
		self := i.address
		// A partial take that would leave a tab below chost sells the whole
		// lot, so fund the most the sale can charge.
		budget := fixed.DivUp(fixed.Min(fixed.Mul(sale.Lot, maxPrice), sale.Tab), fixed.RAY)
		if err := i.stable.Join(caller, self, budget); err != nil {
			return ct.Ilk, err
		}
		owe, slice, err := ct.Clip.Take(self, id, amt, maxPrice, self)
		if err != nil {
			return ct.Ilk, err
		}
		if err := ct.Escrow.Exit(self, receiver, slice); err != nil {
			return ct.Ilk, err
		}
		refund := fixed.Div(new(big.Int).Sub(fixed.Mul(budget, fixed.RAY), owe), fixed.RAY)
		if refund.Sign() > 0 {
			if err := i.stable.Exit(self, caller, refund); err != nil {
				return ct.Ilk, err
			}
		}
		if err := i.sweep(); err != nil {
			return ct.Ilk, err
		}
		rec.Deposits = subFloor(rec.Deposits, slice)
		if err := i.putRecord(rec); err != nil {
			return ct.Ilk, err
		}
		out = &Purchase{Owe: owe, Slice: slice, Refunded: refund}
		active, err = ct.Clip.Count()
		return ct.Ilk, err
	})
	if err != nil {
		return nil, err
	}
	i.metrics.SetActiveAuctions(tok, active)
	return out, nil
}

// ResetAuction restarts a stale sale at a fresh starting price.
func (i *Interaction) ResetAuction(ctx context.Context, caller crypto.Address, tok string, id uint64, kpr crypto.Address) error {
	tok = normalizeToken(tok)
	return i.run(ctx, "reset_auction", tok, func() (string, error) {
		ct, err := i.binding(tok)
		if err != nil {
			return "", err
		}
		return ct.Ilk, ct.Clip.Redo(caller, id, kpr)
	})
}

// YankAuction cancels sale id and hands its collateral to caller, who must
// be a ward of the auction engine.
func (i *Interaction) YankAuction(ctx context.Context, caller crypto.Address, tok string, id uint64) error {
	tok = normalizeToken(tok)
	var active int
	err := i.run(ctx, "yank_auction", tok, func() (string, error) {
		ct, err := i.binding(tok)
		if err != nil {
			return "", err
		}
		if err := ct.Clip.Yank(caller, id); err != nil {
			return ct.Ilk, err
		}
		active, err = ct.Clip.Count()
		return ct.Ilk, err
	})
	if err != nil {
		return err
	}
	i.metrics.SetActiveAuctions(tok, active)
	return nil
}

// AuctionStatus returns sale id with its current price and reset flag.
func (i *Interaction) AuctionStatus(ctx context.Context, tok string, id uint64) (*Auction, error) {
	tok = normalizeToken(tok)
	var out *Auction
	err := i.view(ctx, "auction_status", tok, func() error {
		ct, err := i.binding(tok)
		if err != nil {
			return err
		}
		out, err = auctionView(ct, id)
		return err
	})
	return out, err
}

// ActiveAuctions lists the running sales of token in active index order.
func (i *Interaction) ActiveAuctions(ctx context.Context, tok string) ([]*Auction, error) {
	tok = normalizeToken(tok)
	var out []*Auction
	err := i.view(ctx, "active_auctions", tok, func() error {
		ct, err := i.binding(tok)
		if err != nil {
			return err
		}
		ids, err := ct.Clip.List()
		if err != nil {
			return err
		}
		out = make([]*Auction, 0, len(ids))
		for _, id := range ids {
			a, err := auctionView(ct, id)
			if err != nil {
				return err
			}
			out = append(out, a)
		}
		return nil
	})
	return out, err
}

func auctionView(ct *CollateralType, id uint64) (*Auction, error) {
	sale, err := ct.Clip.Sale(id)
	if err != nil {
		return nil, err
	}
	status, err := ct.Clip.Status(id)
	if err != nil {
		return nil, err
	}
	return &Auction{
		ID:        sale.ID,
		Token:     ct.Token,
		Ilk:       ct.Ilk,
		Usr:       sale.Usr,
		Tic:       sale.Tic,
		Top:       sale.Top,
		Tab:       sale.Tab,
		Lot:       sale.Lot,
		Price:     status.Price,
		NeedsRedo: status.NeedsRedo,
	}, nil
}

// sweep hands the facade's leftover internal stable balance, the rounding
// remainder of conversions, to the surplus sink.
func (i *Interaction) sweep() error {
	dai, err := i.vat.Dai(i.address)
	if err != nil {
		return err
	}
	if dai.Sign() == 0 {
		return nil
	}
	return i.vat.Move(i.address, i.address, i.vow, dai)
}
