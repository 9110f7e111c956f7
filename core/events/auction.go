package events

import (
	"math/big"
	"strings"

	"nhbcdp/core/types"
	"nhbcdp/crypto"
)

const (
	TypeAuctionKicked = "clip.kick"
	TypeAuctionTaken  = "clip.take"
	TypeAuctionReset  = "clip.redo"
	TypeAuctionYanked = "clip.yank"
)

// AuctionKicked is emitted when a sale starts. Coin is the keeper incentive.
type AuctionKicked struct {
	Ilk  string
	ID   uint64
	Top  *big.Int
	Tab  *big.Int
	Lot  *big.Int
	Usr  crypto.Address
	Kpr  crypto.Address
	Coin *big.Int
}

func (AuctionKicked) EventType() string { return TypeAuctionKicked }

func (e AuctionKicked) Event() *types.Event {
	return &types.Event{Type: TypeAuctionKicked, Attributes: saleAttributes(e.Ilk, e.ID, e.Top, e.Tab, e.Lot, e.Usr, e.Kpr, e.Coin)}
}

// AuctionReset is emitted when a stale sale restarts at a fresh price.
type AuctionReset struct {
	Ilk  string
	ID   uint64
	Top  *big.Int
	Tab  *big.Int
	Lot  *big.Int
	Usr  crypto.Address
	Kpr  crypto.Address
	Coin *big.Int
}

func (AuctionReset) EventType() string { return TypeAuctionReset }

func (e AuctionReset) Event() *types.Event {
	return &types.Event{Type: TypeAuctionReset, Attributes: saleAttributes(e.Ilk, e.ID, e.Top, e.Tab, e.Lot, e.Usr, e.Kpr, e.Coin)}
}

// AuctionTaken is emitted for every purchase. Tab and Lot are the amounts
// left after the purchase.
type AuctionTaken struct {
	Ilk   string
	ID    uint64
	Max   *big.Int
	Price *big.Int
	Owe   *big.Int
	Slice *big.Int
	Tab   *big.Int
	Lot   *big.Int
	Usr   crypto.Address
	Buyer crypto.Address
}

func (AuctionTaken) EventType() string { return TypeAuctionTaken }

func (e AuctionTaken) Event() *types.Event {
	return &types.Event{
		Type: TypeAuctionTaken,
		Attributes: map[string]string{
			"ilk":   strings.TrimSpace(e.Ilk),
			"id":    uintString(e.ID),
			"max":   amount(e.Max),
			"price": amount(e.Price),
			"owe":   amount(e.Owe),
			"slice": amount(e.Slice),
			"tab":   amount(e.Tab),
			"lot":   amount(e.Lot),
			"usr":   address(e.Usr),
			"buyer": address(e.Buyer),
		},
	}
}

// AuctionYanked is emitted when an authorised module removes a sale.
type AuctionYanked struct {
	Ilk string
	ID  uint64
}

func (AuctionYanked) EventType() string { return TypeAuctionYanked }

func (e AuctionYanked) Event() *types.Event {
	return &types.Event{
		Type: TypeAuctionYanked,
		Attributes: map[string]string{
			"ilk": strings.TrimSpace(e.Ilk),
			"id":  uintString(e.ID),
		},
	}
}

func saleAttributes(ilk string, id uint64, top, tab, lot *big.Int, usr, kpr crypto.Address, coin *big.Int) map[string]string {
	return map[string]string{
		"ilk":  strings.TrimSpace(ilk),
		"id":   uintString(id),
		"top":  amount(top),
		"tab":  amount(tab),
		"lot":  amount(lot),
		"usr":  address(usr),
		"kpr":  address(kpr),
		"coin": amount(coin),
	}
}
