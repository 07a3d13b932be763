// Package address derives entity addresses from stable seeds. The same seeds
// always produce the same address, so clients can locate a record before it
// exists and creation onto an occupied address is detectable.
package address

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/polysettle/internal/domain"
)

// Seed tags.
const (
	OracleTag   = "price_feed_config"
	MarketTag   = "market"
	PositionTag = "user_position"
)

// MaxSeedLen bounds a single seed component.
const MaxSeedLen = 32

// ErrSeedTooLong is returned when a seed component exceeds MaxSeedLen.
var ErrSeedTooLong = errors.New("address: seed longer than 32 bytes")

// Derive hashes tag and seeds with Keccak-256. Each component is prefixed
// with its length so ("ab","c") and ("a","bc") never collide.
func Derive(tag string, seeds ...[]byte) (domain.Address, error) {
	buf := make([]byte, 0, 1+len(tag)+len(seeds)*(1+MaxSeedLen))
	buf = append(buf, byte(len(tag)))
	buf = append(buf, tag...)
	for _, s := range seeds {
		if len(s) > MaxSeedLen {
			return domain.Address{}, fmt.Errorf("%w: %d bytes", ErrSeedTooLong, len(s))
		}
		buf = append(buf, byte(len(s)))
		buf = append(buf, s...)
	}

	var out domain.Address
	copy(out[:], ethcrypto.Keccak256(buf))
	return out, nil
}

// Oracle returns the address of the binding created by owner for reference.
func Oracle(owner common.Address, reference string) (domain.Address, error) {
	return Derive(OracleTag, owner.Bytes(), []byte(reference))
}

// Market returns the address of the market authority creates for symbol.
func Market(authority common.Address, symbol string) (domain.Address, error) {
	return Derive(MarketTag, authority.Bytes(), []byte(symbol))
}

// Position returns the address of user's position in market. It cannot fail
// since both seeds have fixed lengths within the limit.
func Position(market domain.Address, user common.Address) domain.Address {
	addr, _ := Derive(PositionTag, market.Bytes(), user.Bytes())
	return addr
}
