package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventType names a committed settlement transition.
type EventType string

const (
	EventOracleRegistered EventType = "oracle_registered"
	EventPricePublished   EventType = "price_published"
	EventMarketCreated    EventType = "market_created"
	EventPositionEnrolled EventType = "position_enrolled"
	EventBetPlaced        EventType = "bet_placed"
	EventMarketResolved   EventType = "market_resolved"
	EventWinningsClaimed  EventType = "winnings_claimed"
	EventFeeWithdrawn     EventType = "fee_withdrawn"
	EventAccountFunded    EventType = "account_funded"
)

// Bus channel and stream names.
const (
	ChannelSettlement = "ch:settlement"
	StreamSettlement  = "settlement:log"
)

// MarketChannel is the per-market pub/sub channel.
func MarketChannel(addr Address) string { return "ch:market:" + addr.Hex() }

// PriceChannel is the per-reference price channel.
func PriceChannel(reference string) string { return "ch:price:" + reference }

// Event is the JSON envelope published for every committed transition.
type Event struct {
	Type    EventType      `json:"type"`
	Market  *Address       `json:"market,omitempty"`
	Actor   common.Address `json:"actor"`
	Data    map[string]any `json:"data,omitempty"`
	Emitted time.Time      `json:"emitted"`
}
