// Package fixed implements the integer fixed-point arithmetic shared by the
// ledger modules. Three scales are used throughout:
//
//	WAD  1e18  collateral and debt amounts
//	RAY  1e27  rates, prices and ratios
//	RAD  1e45  ledger-internal balances (WAD × RAY)
//
// All helpers allocate fresh results and never mutate their inputs. Div
// floors for a positive divisor, so a negative quotient rounds away from
// zero; DivUp rounds up.
package fixed

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

var (
	BLN = mustBigInt("1000000000")
	WAD = mustBigInt("1000000000000000000")
	RAY = mustBigInt("1000000000000000000000000000")
	RAD = mustBigInt("1000000000000000000000000000000000000000000000")

	// MaxInt256 bounds signed deltas so they remain representable on the
	// fixed-width persistence layer.
	MaxInt256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 255), big.NewInt(1))
	// MaxUint256 bounds every persisted quantity.
	MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

var (
	errEmptyDecimal   = errors.New("fixed: empty decimal")
	errInvalidDecimal = errors.New("fixed: invalid decimal")
	errTooPrecise     = errors.New("fixed: too many fractional digits")
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// Zero returns a fresh zero value.
func Zero() *big.Int { return new(big.Int) }

// Clone copies x, mapping nil to zero.
func Clone(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(x)
}

// IsZero treats nil as zero.
func IsZero(x *big.Int) bool {
	return x == nil || x.Sign() == 0
}

// Add returns x + y where y may be negative. ok is false when the result
// would fall below zero, which callers treat as an underflow.
func Add(x, y *big.Int) (*big.Int, bool) {
	out := new(big.Int).Add(Clone(x), Clone(y))
	return out, out.Sign() >= 0
}

// Sub returns x - y; ok is false on underflow.
func Sub(x, y *big.Int) (*big.Int, bool) {
	out := new(big.Int).Sub(Clone(x), Clone(y))
	return out, out.Sign() >= 0
}

// Mul returns x × y with no rescaling.
func Mul(x, y *big.Int) *big.Int {
	return new(big.Int).Mul(Clone(x), Clone(y))
}

// Div returns x / y floored for a positive divisor; a zero divisor yields
// zero.
func Div(x, y *big.Int) *big.Int {
	if IsZero(y) {
		return new(big.Int)
	}
	return new(big.Int).Div(Clone(x), y)
}

// DivUp returns x / y rounded away from zero for positive operands.
func DivUp(x, y *big.Int) *big.Int {
	if IsZero(y) {
		return new(big.Int)
	}
	q, r := new(big.Int).QuoRem(Clone(x), y, new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

// WMul multiplies a WAD-scaled value into the scale of the other operand.
func WMul(x, y *big.Int) *big.Int {
	return Div(Mul(x, y), WAD)
}

// RMul multiplies a RAY-scaled value into the scale of the other operand.
func RMul(x, y *big.Int) *big.Int {
	return Div(Mul(x, y), RAY)
}

// RDiv divides keeping RAY precision: x × RAY / y.
func RDiv(x, y *big.Int) *big.Int {
	return Div(Mul(x, RAY), y)
}

// WDiv divides keeping WAD precision: x × WAD / y.
func WDiv(x, y *big.Int) *big.Int {
	return Div(Mul(x, WAD), y)
}

// Min returns the smaller operand (copied).
func Min(x, y *big.Int) *big.Int {
	if Clone(x).Cmp(Clone(y)) <= 0 {
		return Clone(x)
	}
	return Clone(y)
}

// Max returns the larger operand (copied).
func Max(x, y *big.Int) *big.Int {
	if Clone(x).Cmp(Clone(y)) >= 0 {
		return Clone(x)
	}
	return Clone(y)
}

// RPow raises x (scaled by base) to the n-th power using exponentiation by
// squaring. Every intermediate product is rounded half up before being
// rescaled so repeated compounding does not drift downward.
func RPow(x *big.Int, n uint64, base *big.Int) *big.Int {
	if IsZero(x) {
		if n == 0 {
			return Clone(base)
		}
		return new(big.Int)
	}
	half := new(big.Int).Rsh(base, 1)
	z := Clone(base)
	if n%2 == 1 {
		z = Clone(x)
	}
	acc := Clone(x)
	for n /= 2; n > 0; n /= 2 {
		sq := new(big.Int).Mul(acc, acc)
		sq.Add(sq, half)
		acc = sq.Quo(sq, base)
		if n%2 == 1 {
			zx := new(big.Int).Mul(z, acc)
			zx.Add(zx, half)
			z = zx.Quo(zx, base)
		}
	}
	return z
}

// InInt256 reports whether |x| fits a signed 256-bit integer.
func InInt256(x *big.Int) bool {
	return new(big.Int).Abs(Clone(x)).Cmp(MaxInt256) <= 0
}

// InUint256 reports whether x is a non-negative 256-bit integer.
func InUint256(x *big.Int) bool {
	return x != nil && x.Sign() >= 0 && x.Cmp(MaxUint256) <= 0
}

// Parse converts a decimal string such as "1.6" or "-20000" into an integer
// carrying the requested number of fractional digits.
func Parse(value string, decimals int) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, errEmptyDecimal
	}
	negative := false
	switch trimmed[0] {
	case '-':
		negative = true
		trimmed = trimmed[1:]
	case '+':
		trimmed = trimmed[1:]
	}
	whole, frac, _ := strings.Cut(trimmed, ".")
	if whole == "" {
		whole = "0"
	}
	frac = strings.TrimRight(frac, "0")
	if len(frac) > decimals {
		return nil, fmt.Errorf("%w: %q", errTooPrecise, value)
	}
	digits := whole + frac + strings.Repeat("0", decimals-len(frac))
	for _, r := range digits {
		if r < '0' || r > '9' {
			return nil, fmt.Errorf("%w: %q", errInvalidDecimal, value)
		}
	}
	out, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", errInvalidDecimal, value)
	}
	if negative {
		out.Neg(out)
	}
	return out, nil
}

// MustParse is Parse for constants in tests and defaults.
func MustParse(value string, decimals int) *big.Int {
	out, err := Parse(value, decimals)
	if err != nil {
		panic(err)
	}
	return out
}

// Format renders x with the given number of fractional digits, trimming
// trailing zeros.
func Format(x *big.Int, decimals int) string {
	v := Clone(x)
	sign := ""
	if v.Sign() < 0 {
		sign = "-"
		v.Neg(v)
	}
	s := v.String()
	if decimals <= 0 {
		return sign + s
	}
	if len(s) <= decimals {
		s = strings.Repeat("0", decimals-len(s)+1) + s
	}
	whole, frac := s[:len(s)-decimals], strings.TrimRight(s[len(s)-decimals:], "0")
	if frac == "" {
		return sign + whole
	}
	return sign + whole + "." + frac
}

// Wad, Ray and Rad are shorthands for Parse at the matching scale.
func Wad(value string) *big.Int { return MustParse(value, 18) }
func Ray(value string) *big.Int { return MustParse(value, 27) }
func Rad(value string) *big.Int { return MustParse(value, 45) }
