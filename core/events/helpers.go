package events

import (
	"math/big"
	"strconv"
	"strings"

	"nhbcdp/crypto"
)

func normalizeAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return ""
	}
	return strings.ToUpper(trimmed)
}

func amount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func address(addr crypto.Address) string {
	if addr.IsZero() {
		return ""
	}
	return addr.String()
}

func uintString(v uint64) string {
	return strconv.FormatUint(v, 10)
}
