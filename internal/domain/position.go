package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Position is one user's stake in one market.
type Position struct {
	Address   Address        `json:"address"`
	Market    Address        `json:"market"`
	User      common.Address `json:"user"`
	YesShares uint64         `json:"yes_shares"`
	NoShares  uint64         `json:"no_shares"`
	Staked    uint64         `json:"staked"`
	Claimed   bool           `json:"claimed"`
	Payout    uint64         `json:"payout"`
	CreatedAt time.Time      `json:"created_at"`
}

// Shares returns the position's shares on the given side.
func (p Position) Shares(o Outcome) uint64 {
	if o == OutcomeYes {
		return p.YesShares
	}
	return p.NoShares
}
