package config

import (
	"fmt"
	"math/big"
	"strings"

	"nhbcdp/crypto"
	"nhbcdp/native/cdp"
	"nhbcdp/native/clip"
	"nhbcdp/native/fixed"
	"nhbcdp/native/spot"
)

const (
	wadDecimals = 18
	rayDecimals = 27
	radDecimals = 45
)

// SystemParams parses the system section into ledger units.
func (s System) SystemParams() (cdp.SystemParams, error) {
	var (
		out cdp.SystemParams
		err error
	)
	if out.Line, err = parseAmount("system.line", s.Line, radDecimals); err != nil {
		return out, err
	}
	if out.Base, err = parseAmount("system.base", s.Base, rayDecimals); err != nil {
		return out, err
	}
	if out.Par, err = parseAmount("system.par", s.Par, rayDecimals); err != nil {
		return out, err
	}
	if out.Hole, err = parseAmount("system.hole", s.Hole, radDecimals); err != nil {
		return out, err
	}
	return out, nil
}

// AdminAddress decodes the configured administrator. An empty value yields
// the zero address.
func (s System) AdminAddress() (crypto.Address, error) {
	return parseAddress("system.admin", s.Admin)
}

// OperatorAddress decodes the configured whitelist operator.
func (s System) OperatorAddress() (crypto.Address, error) {
	return parseAddress("system.whitelist_operator", s.Operator)
}

// CollateralParams parses one collateral entry. The returned feed serves the
// configured initial price and is nil when no price is set.
func (c Collateral) CollateralParams() (cdp.CollateralParams, *spot.StaticFeed, error) {
	out := cdp.CollateralParams{Token: c.Token, Ilk: c.Ilk, Tail: c.Tail}
	prefix := "collateral " + c.Token
	fields := []struct {
		name     string
		raw      string
		decimals int
		dst      **big.Int
	}{
		{"mat", c.Mat, rayDecimals, &out.Mat},
		{"line", c.Line, radDecimals, &out.Line},
		{"dust", c.Dust, radDecimals, &out.Dust},
		{"duty", c.Duty, rayDecimals, &out.Duty},
		{"chop", c.Chop, wadDecimals, &out.Chop},
		{"hole", c.Hole, radDecimals, &out.Hole},
		{"buf", c.Buf, rayDecimals, &out.Buf},
		{"cusp", c.Cusp, rayDecimals, &out.Cusp},
		{"chip", c.Chip, wadDecimals, &out.Chip},
		{"tip", c.Tip, radDecimals, &out.Tip},
	}
	for _, f := range fields {
		v, err := parseAmount(prefix+"."+f.name, f.raw, f.decimals)
		if err != nil {
			return out, nil, err
		}
		*f.dst = v
	}
	if c.Calc.Kind != "" {
		cut, err := parseAmount(prefix+".calc.cut", c.Calc.Cut, rayDecimals)
		if err != nil {
			return out, nil, err
		}
		out.Calc = clip.CalcConfig{Kind: c.Calc.Kind, Tau: c.Calc.Tau, Step: c.Calc.Step, Cut: cut}
	}
	price, err := parseAmount(prefix+".price", c.Price, wadDecimals)
	if err != nil {
		return out, nil, err
	}
	var feed *spot.StaticFeed
	if price != nil {
		feed = spot.NewStaticFeed(price)
		out.Feed = feed
	}
	return out, feed, nil
}

func parseAmount(field, raw string, decimals int) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	v, err := fixed.Parse(raw, decimals)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", field, err)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("invalid %s: must not be negative", field)
	}
	return v, nil
}

func parseAddress(field, raw string) (crypto.Address, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return crypto.Address{}, nil
	}
	addr, err := crypto.DecodeAddress(raw)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("invalid %s: %w", field, err)
	}
	return addr, nil
}
