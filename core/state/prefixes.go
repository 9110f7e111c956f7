package state

import (
	"encoding/hex"
	"fmt"
	"strings"

	"nhbcdp/crypto"
)

var (
	wardPrefix        = "auth/ward/"
	vatIlkPrefix      = "vat/ilk/"
	vatUrnPrefix      = "vat/urn/"
	vatGemPrefix      = "vat/gem/"
	vatDaiPrefix      = "vat/dai/"
	vatSinPrefix      = "vat/sin/"
	vatCanPrefix      = "vat/can/"
	vatGlobalsKey     = []byte("vat/globals")
	jugIlkPrefix      = "jug/ilk/"
	jugGlobalsKey     = []byte("jug/globals")
	spotIlkPrefix     = "spot/ilk/"
	spotGlobalsKey    = []byte("spot/globals")
	dogIlkPrefix      = "dog/ilk/"
	dogGlobalsKey     = []byte("dog/globals")
	clipParamsPrefix  = "clip/params/"
	clipSalePrefix    = "clip/sale/"
	clipActivePrefix  = "clip/active/"
	clipKicksPrefix   = "clip/kicks/"
	tokenMetaPrefix   = "token/meta/"
	tokenListKey      = []byte("token/list")
	tokenBalPrefix    = "token/balance/"
	tokenSupplyPrefix = "token/supply/"
	joinCagedPrefix   = "join/caged/"
)

func addrHex(addr crypto.Address) string { return hex.EncodeToString(addr.Bytes()) }

// WardKey namespaces the ward relation of module for addr.
func WardKey(module string, addr crypto.Address) []byte {
	return []byte(wardPrefix + strings.TrimSpace(module) + "/" + addrHex(addr))
}

func joinCagedKey(module string) []byte {
	return []byte(joinCagedPrefix + strings.TrimSpace(module))
}

func VatIlkKey(ilk string) []byte { return []byte(vatIlkPrefix + ilk) }

// VatUrnKey namespaces the position of owner in ilk.
func VatUrnKey(ilk string, owner crypto.Address) []byte {
	return []byte(vatUrnPrefix + ilk + "/" + addrHex(owner))
}

func vatGemKey(ilk string, owner crypto.Address) []byte {
	return []byte(vatGemPrefix + ilk + "/" + addrHex(owner))
}

func vatDaiKey(owner crypto.Address) []byte { return []byte(vatDaiPrefix + addrHex(owner)) }
func vatSinKey(owner crypto.Address) []byte { return []byte(vatSinPrefix + addrHex(owner)) }

func vatCanKey(owner, delegate crypto.Address) []byte {
	return []byte(vatCanPrefix + addrHex(owner) + "/" + addrHex(delegate))
}

func jugIlkKey(ilk string) []byte  { return []byte(jugIlkPrefix + ilk) }
func spotIlkKey(ilk string) []byte { return []byte(spotIlkPrefix + ilk) }
func dogIlkKey(ilk string) []byte  { return []byte(dogIlkPrefix + ilk) }

func clipParamsKey(ilk string) []byte { return []byte(clipParamsPrefix + ilk) }

// ClipSaleKey namespaces auction id of ilk.
func ClipSaleKey(ilk string, id uint64) []byte {
	return []byte(fmt.Sprintf("%s%s/%d", clipSalePrefix, ilk, id))
}

func clipActiveKey(ilk string) []byte { return []byte(clipActivePrefix + ilk) }
func clipKicksKey(ilk string) []byte  { return []byte(clipKicksPrefix + ilk) }

func tokenMetaKey(symbol string) []byte { return []byte(tokenMetaPrefix + symbol) }

func tokenBalanceKey(symbol string, owner crypto.Address) []byte {
	return []byte(tokenBalPrefix + symbol + "/" + addrHex(owner))
}

func tokenSupplyKey(symbol string) []byte { return []byte(tokenSupplyPrefix + symbol) }
