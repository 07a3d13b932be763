package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Outcome is one side of a binary market.
type Outcome string

const (
	OutcomeYes Outcome = "yes"
	OutcomeNo  Outcome = "no"
)

// ParseOutcome accepts "yes"/"no" in any case.
func ParseOutcome(s string) (Outcome, error) {
	switch Outcome(strings.ToLower(strings.TrimSpace(s))) {
	case OutcomeYes:
		return OutcomeYes, nil
	case OutcomeNo:
		return OutcomeNo, nil
	default:
		return "", fmt.Errorf("outcome %q: %w", s, ErrInvalidInput)
	}
}

// Valid reports whether o is Yes or No.
func (o Outcome) Valid() bool {
	return o == OutcomeYes || o == OutcomeNo
}

// Market is the central aggregate: betting window, share totals, escrowed
// pool and resolution record.
type Market struct {
	Address         Address        `json:"address"`
	Authority       common.Address `json:"authority"`
	Symbol          string         `json:"symbol"`
	Oracle          Address        `json:"oracle"`
	OracleReference string         `json:"oracle_reference"`
	ReferencePrice  Price          `json:"reference_price"`
	FinalPrice      *Price         `json:"final_price,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	Duration        time.Duration  `json:"duration"`
	Resolved        bool           `json:"resolved"`
	WinningOutcome  *Outcome       `json:"winning_outcome,omitempty"`
	ResolvedAt      *time.Time     `json:"resolved_at,omitempty"`
	TotalYesShares  uint64         `json:"total_yes_shares"`
	TotalNoShares   uint64         `json:"total_no_shares"`
	TotalFunds      uint64         `json:"total_funds"`
	Pool            uint64         `json:"pool"`
	PaidOut         uint64         `json:"paid_out"`
	FeeWithdrawn    bool           `json:"fee_withdrawn"`
}

// ClosesAt is the last instant at which bets are accepted.
func (m Market) ClosesAt() time.Time {
	return m.CreatedAt.Add(m.Duration)
}

// SideShares returns the aggregate shares issued on the given side.
func (m Market) SideShares(o Outcome) uint64 {
	if o == OutcomeYes {
		return m.TotalYesShares
	}
	return m.TotalNoShares
}
