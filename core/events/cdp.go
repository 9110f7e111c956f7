package events

import (
	"math/big"
	"strings"

	"nhbcdp/core/types"
	"nhbcdp/crypto"
)

const (
	// TypeCollateralRegistered marks a new collateral type being listed.
	TypeCollateralRegistered = "cdp.collateral.registered"
	// TypeCollateralRemoved marks a collateral type being deactivated.
	TypeCollateralRemoved = "cdp.collateral.removed"
	// TypePositionModified is emitted for every deposit, borrow, payback and
	// withdrawal routed through the facade.
	TypePositionModified = "cdp.position.modified"
	// TypeRateAccrued is emitted when stability fees are folded into a type.
	TypeRateAccrued = "jug.drip"
	// TypeSpotUpdated is emitted when a fresh price reaches the ledger.
	TypeSpotUpdated = "spot.poke"
	// TypeLiquidated is emitted when an unsafe position is seized.
	TypeLiquidated = "dog.bark"
	// TypeSystemCaged marks the ledger being shut down for good.
	TypeSystemCaged = "cdp.caged"
)

// CollateralRegistered records the binding of a token to a ledger type.
type CollateralRegistered struct {
	Token string
	Ilk   string
}

func (CollateralRegistered) EventType() string { return TypeCollateralRegistered }

func (e CollateralRegistered) Event() *types.Event {
	return &types.Event{
		Type: TypeCollateralRegistered,
		Attributes: map[string]string{
			"token": normalizeAsset(e.Token),
			"ilk":   strings.TrimSpace(e.Ilk),
		},
	}
}

// CollateralRemoved records a collateral type being switched off.
type CollateralRemoved struct {
	Token string
	Ilk   string
}

func (CollateralRemoved) EventType() string { return TypeCollateralRemoved }

func (e CollateralRemoved) Event() *types.Event {
	return &types.Event{
		Type: TypeCollateralRemoved,
		Attributes: map[string]string{
			"token": normalizeAsset(e.Token),
			"ilk":   strings.TrimSpace(e.Ilk),
		},
	}
}

// SystemCaged records a global shutdown and the collateral adapters it
// closed.
type SystemCaged struct {
	Caller crypto.Address
	Tokens []string
}

func (SystemCaged) EventType() string { return TypeSystemCaged }

func (e SystemCaged) Event() *types.Event {
	return &types.Event{
		Type: TypeSystemCaged,
		Attributes: map[string]string{
			"caller": address(e.Caller),
			"tokens": strings.Join(e.Tokens, ","),
		},
	}
}

// PositionModified captures a user facing position change together with the
// resulting position.
type PositionModified struct {
	Action string
	Token  string
	Ilk    string
	Owner  crypto.Address
	Amount *big.Int
	Ink    *big.Int
	Art    *big.Int
}

func (PositionModified) EventType() string { return TypePositionModified }

func (e PositionModified) Event() *types.Event {
	return &types.Event{
		Type: TypePositionModified,
		Attributes: map[string]string{
			"action": strings.TrimSpace(e.Action),
			"token":  normalizeAsset(e.Token),
			"ilk":    strings.TrimSpace(e.Ilk),
			"owner":  address(e.Owner),
			"amount": amount(e.Amount),
			"ink":    amount(e.Ink),
			"art":    amount(e.Art),
		},
	}
}

// RateAccrued captures a drip: the new cumulative rate and the fee minted to
// the surplus sink.
type RateAccrued struct {
	Ilk       string
	Rate      *big.Int
	Fee       *big.Int
	Timestamp uint64
}

func (RateAccrued) EventType() string { return TypeRateAccrued }

func (e RateAccrued) Event() *types.Event {
	return &types.Event{
		Type: TypeRateAccrued,
		Attributes: map[string]string{
			"ilk":       strings.TrimSpace(e.Ilk),
			"rate":      amount(e.Rate),
			"fee":       amount(e.Fee),
			"timestamp": uintString(e.Timestamp),
		},
	}
}

// SpotUpdated captures the feed value and the derived risk adjusted price.
type SpotUpdated struct {
	Ilk   string
	Price *big.Int
	Spot  *big.Int
}

func (SpotUpdated) EventType() string { return TypeSpotUpdated }

func (e SpotUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeSpotUpdated,
		Attributes: map[string]string{
			"ilk":   strings.TrimSpace(e.Ilk),
			"price": amount(e.Price),
			"spot":  amount(e.Spot),
		},
	}
}

// Liquidated captures a bark: the seized collateral and normalized debt, the
// debt due before penalty and the auction that took over the lot.
type Liquidated struct {
	Ilk       string
	Owner     crypto.Address
	Ink       *big.Int
	Art       *big.Int
	Due       *big.Int
	Clip      crypto.Address
	AuctionID uint64
}

func (Liquidated) EventType() string { return TypeLiquidated }

func (e Liquidated) Event() *types.Event {
	return &types.Event{
		Type: TypeLiquidated,
		Attributes: map[string]string{
			"ilk":       strings.TrimSpace(e.Ilk),
			"owner":     address(e.Owner),
			"ink":       amount(e.Ink),
			"art":       amount(e.Art),
			"due":       amount(e.Due),
			"clip":      address(e.Clip),
			"auctionId": uintString(e.AuctionID),
		},
	}
}
