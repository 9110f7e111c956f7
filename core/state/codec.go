package state

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"nhbcdp/crypto"
)

// ErrWordOverflow is returned when a quantity does not fit the 256-bit
// unsigned word every persisted amount is stored as.
var ErrWordOverflow = errors.New("state: value outside uint256 range")

// toWord encodes x as a 32-byte big-endian word. Nil encodes as zero.
func toWord(x *big.Int) ([]byte, error) {
	if x == nil {
		x = new(big.Int)
	}
	if x.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative %s", ErrWordOverflow, x)
	}
	word, overflow := uint256.FromBig(x)
	if overflow {
		return nil, fmt.Errorf("%w: %s", ErrWordOverflow, x)
	}
	out := word.Bytes32()
	return out[:], nil
}

func fromWord(b []byte) *big.Int {
	if len(b) == 0 {
		return new(big.Int)
	}
	return new(uint256.Int).SetBytes(b).ToBig()
}

// words encodes a list of quantities, stopping at the first overflow.
func words(values ...*big.Int) ([][]byte, error) {
	out := make([][]byte, len(values))
	for i, v := range values {
		w, err := toWord(v)
		if err != nil {
			return nil, err
		}
		out[i] = w
	}
	return out, nil
}

type storedAddress struct {
	Prefix string
	Bytes  []byte
}

func encodeAddress(addr crypto.Address) storedAddress {
	if addr.IsZero() {
		return storedAddress{}
	}
	return storedAddress{Prefix: string(addr.Prefix()), Bytes: append([]byte(nil), addr.Bytes()...)}
}

func (s storedAddress) decode() crypto.Address {
	return crypto.AddressFromBytes(crypto.AddressPrefix(s.Prefix), s.Bytes)
}

func (m *Manager) getWord(key []byte) (*big.Int, error) {
	var raw []byte
	if _, err := m.KVGet(key, &raw); err != nil {
		return nil, err
	}
	return fromWord(raw), nil
}

// putWord stores x, deleting the key when x is zero so empty balances do not
// accumulate.
func (m *Manager) putWord(key []byte, x *big.Int) error {
	if x == nil || x.Sign() == 0 {
		return m.KVDelete(key)
	}
	w, err := toWord(x)
	if err != nil {
		return err
	}
	return m.KVPut(key, w)
}

func (m *Manager) getFlag(key []byte) (bool, error) {
	var flag bool
	ok, err := m.KVGet(key, &flag)
	if err != nil || !ok {
		return false, err
	}
	return flag, nil
}

func (m *Manager) putFlag(key []byte, flag bool) error {
	if !flag {
		return m.KVDelete(key)
	}
	return m.KVPut(key, true)
}
