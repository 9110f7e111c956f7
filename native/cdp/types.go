package cdp

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"nhbcdp/crypto"
	nativecommon "nhbcdp/native/common"
	"nhbcdp/native/clip"
	"nhbcdp/native/fixed"
	"nhbcdp/native/join"
	"nhbcdp/native/spot"
)

const moduleName = "cdp"

// secondsPerYear is the compounding horizon of BorrowAPR.
const secondsPerYear = 365 * 24 * 60 * 60

var (
	errNilManager = errors.New("cdp: state manager not configured")

	ErrAlreadyInitialized = fmt.Errorf("cdp: collateral already initialized: %w", nativecommon.ErrState)
	ErrUnknownCollateral  = fmt.Errorf("cdp: collateral not registered: %w", nativecommon.ErrState)
	ErrCollateralInactive = fmt.Errorf("cdp: collateral not live: %w", nativecommon.ErrState)
	ErrNotWhitelisted     = fmt.Errorf("cdp: not whitelisted: %w", nativecommon.ErrUnauthorized)
	ErrNotOperator        = fmt.Errorf("cdp: caller is not the whitelist operator: %w", nativecommon.ErrUnauthorized)
	ErrNotDelegated       = fmt.Errorf("cdp: caller may not act for participant: %w", nativecommon.ErrUnauthorized)
	ErrBelowFloor         = fmt.Errorf("cdp: below floor: %w", nativecommon.ErrSolvency)
	ErrNoDebt             = fmt.Errorf("cdp: position has no debt: %w", nativecommon.ErrState)
	ErrInvalidAmount      = fmt.Errorf("cdp: amount out of range: %w", nativecommon.ErrInvalidInput)
	ErrInvalidParams      = fmt.Errorf("cdp: invalid collateral parameters: %w", nativecommon.ErrInvalidInput)
	ErrCaged              = fmt.Errorf("cdp: system caged: %w", nativecommon.ErrState)
)

// CollateralParams lists everything needed to list a token as collateral.
// Scales follow the ledger: mat, duty, buf and cusp are rays; line, dust,
// hole and tip are rads; chop and chip are wads.
type CollateralParams struct {
	Token string
	Ilk   string
	Mat   *big.Int
	Line  *big.Int
	Dust  *big.Int
	Duty  *big.Int
	Chop  *big.Int
	Hole  *big.Int
	Buf   *big.Int
	Tail  uint64
	Cusp  *big.Int
	Chip  *big.Int
	Tip   *big.Int
	Calc  clip.CalcConfig
	Feed  spot.PriceFeed
}

func (p CollateralParams) normalize() (CollateralParams, error) {
	p.Token = normalizeToken(p.Token)
	p.Ilk = strings.TrimSpace(p.Ilk)
	if p.Token == "" || p.Ilk == "" {
		return p, fmt.Errorf("%w: token and ilk are required", ErrInvalidParams)
	}
	if p.Mat == nil || p.Mat.Cmp(fixed.RAY) < 0 {
		return p, fmt.Errorf("%w: mat must be at least one", ErrInvalidParams)
	}
	if p.Duty == nil {
		p.Duty = fixed.Clone(fixed.RAY)
	}
	if p.Chop == nil {
		p.Chop = fixed.Clone(fixed.WAD)
	}
	if p.Buf == nil {
		p.Buf = fixed.Clone(fixed.RAY)
	}
	for _, v := range []*big.Int{p.Line, p.Dust, p.Hole, p.Cusp, p.Chip, p.Tip} {
		if v != nil && v.Sign() < 0 {
			return p, fmt.Errorf("%w: negative value", ErrInvalidParams)
		}
	}
	if p.Calc.Kind == "" {
		p.Calc = clip.CalcConfig{Kind: clip.CalcLinear, Tau: p.Tail}
	}
	return p, p.Calc.Validate()
}

// SystemParams are the system wide knobs an administrator sets once.
// Nil values are left untouched.
type SystemParams struct {
	Line *big.Int // total debt ceiling [rad]
	Base *big.Int // base fee added to every duty [ray]
	Par  *big.Int // peg [ray]
	Hole *big.Int // total liquidation budget [rad]
}

// CollateralType is the runtime binding of a registered token.
type CollateralType struct {
	Token  string
	Ilk    string
	Live   bool
	Escrow *join.GemJoin
	Clip   *clip.Engine
}

// Record is the persisted registry entry of a collateral token.
type Record struct {
	Token    string
	Ilk      string
	Live     bool
	Deposits *big.Int // collateral escrowed through the facade [wad]
}

type storedRecord struct {
	Token    string
	Ilk      string
	Live     bool
	Deposits *big.Int
}

func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	return &Record{Token: r.Token, Ilk: r.Ilk, Live: r.Live, Deposits: fixed.Clone(r.Deposits)}
}

// Position is the view of one position in user facing units.
type Position struct {
	Token            string
	Ilk              string
	Owner            crypto.Address
	Locked           *big.Int // [wad]
	Borrowed         *big.Int // rounded up [wad]
	Free             *big.Int // unlocked collateral held by the ledger [wad]
	LiquidationPrice *big.Int // [wad]
}

// Auction is a running sale with its lazily evaluated status.
type Auction struct {
	ID        uint64
	Token     string
	Ilk       string
	Usr       crypto.Address
	Tic       uint64
	Top       *big.Int
	Tab       *big.Int
	Lot       *big.Int
	Price     *big.Int
	NeedsRedo bool
}

// Purchase reports the outcome of BuyFromAuction.
type Purchase struct {
	Owe      *big.Int // stable paid [rad]
	Slice    *big.Int // collateral received [wad]
	Refunded *big.Int // unspent stable returned to the buyer [wad]
}

// OpError annotates a failed facade operation with the collateral it
// targeted. The wrapped error keeps its kind for errors.Is.
type OpError struct {
	Op    string
	Token string
	Ilk   string
	Err   error
}

func (e *OpError) Error() string {
	if e == nil {
		return ""
	}
	target := e.Token
	if e.Ilk != "" {
		target = fmt.Sprintf("%s (%s)", e.Token, e.Ilk)
	}
	if target == "" {
		return fmt.Sprintf("cdp: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("cdp: %s %s: %v", e.Op, target, e.Err)
}

func (e *OpError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func normalizeToken(token string) string {
	return strings.ToUpper(strings.TrimSpace(token))
}

func positive(v *big.Int) bool {
	return v != nil && v.Sign() > 0 && fixed.InUint256(v)
}
