package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// OracleBinding records which external price feed markets resolve against.
type OracleBinding struct {
	Address   Address        `json:"address"`
	Owner     common.Address `json:"owner"`
	Reference string         `json:"reference"`
	CreatedAt time.Time      `json:"created_at"`
}

// Price is a fixed-point oracle reading: Value * 10^Expo.
type Price struct {
	Value       int64     `json:"value"`
	Expo        int32     `json:"expo"`
	PublishedAt time.Time `json:"published_at"`
}

// PriceSource returns the latest reading for an oracle reference.
type PriceSource interface {
	Latest(ctx context.Context, reference string) (Price, error)
}

// Clock supplies the logical time of a transition.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now calls f.
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads wall-clock time truncated to whole seconds in UTC.
var SystemClock Clock = ClockFunc(func() time.Time {
	return time.Now().UTC().Truncate(time.Second)
})
