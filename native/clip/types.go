package clip

import (
	"math/big"

	"nhbcdp/crypto"
	"nhbcdp/native/fixed"
)

// Params configures the auctions of one collateral type.
type Params struct {
	Buf     *big.Int // starting price multiplier over the feed [ray]
	Tail    uint64   // seconds before a sale must be reset
	Cusp    *big.Int // price drop ratio before a sale must be reset [ray]
	Chip    *big.Int // proportional keeper incentive [wad]
	Tip     *big.Int // flat keeper incentive [rad]
	Chost   *big.Int // smallest tab a partial purchase may leave [rad]
	Stopped uint8
	Vow     crypto.Address
	Calc    CalcConfig
}

func (p *Params) Clone() *Params {
	if p == nil {
		return nil
	}
	return &Params{
		Buf:     fixed.Clone(p.Buf),
		Tail:    p.Tail,
		Cusp:    fixed.Clone(p.Cusp),
		Chip:    fixed.Clone(p.Chip),
		Tip:     fixed.Clone(p.Tip),
		Chost:   fixed.Clone(p.Chost),
		Stopped: p.Stopped,
		Vow:     p.Vow,
		Calc:    p.Calc.Clone(),
	}
}

// DefaultParams mirrors a freshly deployed auction engine: no premium, no
// incentives and no reset triggers.
func DefaultParams() *Params {
	return &Params{
		Buf:   fixed.Clone(fixed.RAY),
		Cusp:  fixed.Zero(),
		Chip:  fixed.Zero(),
		Tip:   fixed.Zero(),
		Chost: fixed.Zero(),
	}
}

// Sale is a running auction.
type Sale struct {
	ID  uint64
	Pos uint64   // index in the active list
	Tab *big.Int // debt to raise [rad]
	Lot *big.Int // collateral for sale [wad]
	Usr crypto.Address
	Tic uint64   // start time [unix seconds]
	Top *big.Int // starting price [ray]
}

func (s *Sale) Clone() *Sale {
	if s == nil {
		return nil
	}
	return &Sale{
		ID:  s.ID,
		Pos: s.Pos,
		Tab: fixed.Clone(s.Tab),
		Lot: fixed.Clone(s.Lot),
		Usr: s.Usr,
		Tic: s.Tic,
		Top: fixed.Clone(s.Top),
	}
}

// Status is the lazily evaluated view of a sale.
type Status struct {
	NeedsRedo bool
	Price     *big.Int
	Lot       *big.Int
	Tab       *big.Int
}
