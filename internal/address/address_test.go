package address

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func TestMarketIsDeterministic(t *testing.T) {
	a1, err := Market(alice, "BONK")
	require.NoError(t, err)
	a2, err := Market(alice, "BONK")
	require.NoError(t, err)
	require.Equal(t, a1, a2)
	require.False(t, a1.IsZero())
}

func TestSeedChangesGiveIndependentAddresses(t *testing.T) {
	base, err := Market(alice, "BONK")
	require.NoError(t, err)

	otherSymbol, err := Market(alice, "WIF")
	require.NoError(t, err)
	otherAuthority, err := Market(bob, "BONK")
	require.NoError(t, err)
	oracle, err := Oracle(alice, "BONK")
	require.NoError(t, err)

	require.NotEqual(t, base, otherSymbol)
	require.NotEqual(t, base, otherAuthority)
	require.NotEqual(t, base, oracle, "tags separate entity types")
}

func TestLengthPrefixPreventsConcatenationCollisions(t *testing.T) {
	a, err := Derive("t", []byte("ab"), []byte("c"))
	require.NoError(t, err)
	b, err := Derive("t", []byte("a"), []byte("bc"))
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestPositionDependsOnMarketAndUser(t *testing.T) {
	m1, err := Market(alice, "BONK")
	require.NoError(t, err)
	m2, err := Market(alice, "WIF")
	require.NoError(t, err)

	require.Equal(t, Position(m1, bob), Position(m1, bob))
	require.NotEqual(t, Position(m1, bob), Position(m1, alice))
	require.NotEqual(t, Position(m1, bob), Position(m2, bob))
}

func TestSeedTooLong(t *testing.T) {
	_, err := Market(alice, strings.Repeat("x", MaxSeedLen+1))
	require.ErrorIs(t, err, ErrSeedTooLong)

	_, err = Market(alice, strings.Repeat("x", MaxSeedLen))
	require.NoError(t, err)
}
