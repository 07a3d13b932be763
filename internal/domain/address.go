package domain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// AddressLength is the byte length of an entity address.
const AddressLength = 32

// Address identifies a stored entity. It is derived from stable seeds and
// never allocated, see package address.
type Address [AddressLength]byte

// ParseAddress decodes a 0x-prefixed hex string into an Address.
func ParseAddress(s string) (Address, error) {
	var a Address
	b, err := hexutil.Decode(s)
	if err != nil {
		return a, fmt.Errorf("parse address %q: %w", s, ErrInvalidInput)
	}
	if len(b) != AddressLength {
		return a, fmt.Errorf("parse address %q: want %d bytes, got %d: %w", s, AddressLength, len(b), ErrInvalidInput)
	}
	copy(a[:], b)
	return a, nil
}

// Bytes returns the address as a byte slice.
func (a Address) Bytes() []byte { return a[:] }

// Hex returns the 0x-prefixed hex encoding.
func (a Address) Hex() string { return hexutil.Encode(a[:]) }

func (a Address) String() string { return a.Hex() }

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool { return a == Address{} }

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
