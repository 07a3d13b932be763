// Package service wraps the settlement engine with the concerns around a
// committed transition: per-entity locks, event publication, the audit log,
// operator notifications and metrics.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/polysettle/internal/address"
	"github.com/alanyoungcy/polysettle/internal/domain"
	"github.com/alanyoungcy/polysettle/internal/engine"
	"github.com/alanyoungcy/polysettle/internal/instrumentation"
	"github.com/alanyoungcy/polysettle/internal/notify"
)

// DefaultLockTTL bounds how long a crashed holder can block an entity.
const DefaultLockTTL = 10 * time.Second

// SettlementDeps are the collaborators of a SettlementService. Cache,
// Notifier and Metrics are optional.
type SettlementDeps struct {
	Engine   *engine.Engine
	Locks    domain.LockManager
	Bus      domain.SignalBus
	Audit    domain.AuditStore
	Prices   domain.PriceCache
	Cache    domain.MarketCache
	Notifier *notify.Notifier
	Metrics  *instrumentation.Metrics
	Clock    domain.Clock
	LockTTL  time.Duration
}

// SettlementService applies engine transitions one at a time per entity and
// announces each committed transition.
type SettlementService struct {
	engine   *engine.Engine
	locks    domain.LockManager
	bus      domain.SignalBus
	audit    domain.AuditStore
	prices   domain.PriceCache
	cache    domain.MarketCache
	notifier *notify.Notifier
	metrics  *instrumentation.Metrics
	clock    domain.Clock
	lockTTL  time.Duration
	logger   *slog.Logger
}

// NewSettlementService creates a SettlementService.
func NewSettlementService(deps SettlementDeps, logger *slog.Logger) *SettlementService {
	if deps.Clock == nil {
		deps.Clock = domain.SystemClock
	}
	if deps.LockTTL <= 0 {
		deps.LockTTL = DefaultLockTTL
	}
	return &SettlementService{
		engine:   deps.Engine,
		locks:    deps.Locks,
		bus:      deps.Bus,
		audit:    deps.Audit,
		prices:   deps.Prices,
		cache:    deps.Cache,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		clock:    deps.Clock,
		lockTTL:  deps.LockTTL,
		logger:   logger,
	}
}

// Policy returns the engine configuration.
func (s *SettlementService) Policy() engine.Policy {
	return s.engine.Policy()
}

// RegisterOracle binds a price reference for the privileged caller.
func (s *SettlementService) RegisterOracle(ctx context.Context, caller common.Address, reference string) (domain.OracleBinding, error) {
	var binding domain.OracleBinding
	key := "oracle:" + caller.Hex() + ":" + reference
	err := s.transition(ctx, "register_oracle", key, func() (domain.Event, error) {
		var err error
		binding, err = s.engine.RegisterOracle(ctx, caller, reference)
		if err != nil {
			return domain.Event{}, err
		}
		return domain.Event{
			Type:  domain.EventOracleRegistered,
			Actor: caller,
			Data: map[string]any{
				"oracle":    binding.Address.Hex(),
				"reference": binding.Reference,
			},
		}, nil
	})
	return binding, err
}

// PublishPrice records a new reading for reference. Only the privileged
// identity may publish.
func (s *SettlementService) PublishPrice(ctx context.Context, caller common.Address, reference string, value int64, expo int32) (domain.Price, error) {
	price := domain.Price{Value: value, Expo: expo}
	err := s.transition(ctx, "publish_price", "price:"+reference, func() (domain.Event, error) {
		if caller != s.engine.Policy().Admin {
			return domain.Event{}, fmt.Errorf("publish price: %w", domain.ErrUnauthorized)
		}
		if len(reference) == 0 || len(reference) > engine.MaxReferenceLen {
			return domain.Event{}, fmt.Errorf("publish price: reference must be 1..%d bytes: %w",
				engine.MaxReferenceLen, domain.ErrInvalidInput)
		}
		price.PublishedAt = s.clock.Now()
		if err := s.prices.SetPrice(ctx, reference, price); err != nil {
			return domain.Event{}, fmt.Errorf("publish price: %w", err)
		}
		return domain.Event{
			Type:  domain.EventPricePublished,
			Actor: caller,
			Data: map[string]any{
				"reference": reference,
				"value":     value,
				"expo":      expo,
			},
		}, nil
	})
	return price, err
}

// CreateMarket opens a market for the privileged caller.
func (s *SettlementService) CreateMarket(ctx context.Context, caller common.Address, params engine.CreateMarketParams) (domain.Market, error) {
	addr, err := address.Market(caller, params.Symbol)
	if err != nil {
		return domain.Market{}, fmt.Errorf("settlement_service: create market: %w: %w", err, domain.ErrInvalidInput)
	}

	var m domain.Market
	err = s.transition(ctx, "create_market", marketKey(addr), func() (domain.Event, error) {
		var err error
		m, err = s.engine.CreateMarket(ctx, caller, params)
		if err != nil {
			return domain.Event{}, err
		}
		s.refreshCache(ctx, m)
		if s.metrics != nil {
			s.metrics.MarketsOpened.Inc()
		}
		return domain.Event{
			Type:   domain.EventMarketCreated,
			Market: &m.Address,
			Actor:  caller,
			Data: map[string]any{
				"symbol":          m.Symbol,
				"reference":       m.OracleReference,
				"reference_price": m.ReferencePrice.Value,
				"expo":            m.ReferencePrice.Expo,
				"closes_at":       m.ClosesAt().Format(time.RFC3339),
			},
		}, nil
	})
	return m, err
}

// EnrollPosition opens the caller's position in a market.
func (s *SettlementService) EnrollPosition(ctx context.Context, caller common.Address, market domain.Address) (domain.Position, error) {
	var pos domain.Position
	err := s.transition(ctx, "enroll_position", marketKey(market), func() (domain.Event, error) {
		var err error
		pos, err = s.engine.EnrollPosition(ctx, caller, market)
		if err != nil {
			return domain.Event{}, err
		}
		return domain.Event{
			Type:   domain.EventPositionEnrolled,
			Market: &market,
			Actor:  caller,
			Data:   map[string]any{"position": pos.Address.Hex()},
		}, nil
	})
	return pos, err
}

// PlaceBet stakes amount on outcome for the caller's position.
func (s *SettlementService) PlaceBet(ctx context.Context, caller common.Address, market domain.Address, amount uint64, outcome domain.Outcome) (engine.BetReceipt, error) {
	var receipt engine.BetReceipt
	err := s.transition(ctx, "place_bet", marketKey(market), func() (domain.Event, error) {
		var err error
		receipt, err = s.engine.PlaceBet(ctx, caller, market, amount, outcome)
		if err != nil {
			return domain.Event{}, err
		}
		s.refreshCache(ctx, receipt.Market)
		if s.metrics != nil {
			s.metrics.RecordBet(receipt.Amount, receipt.Shares)
		}
		return domain.Event{
			Type:   domain.EventBetPlaced,
			Market: &market,
			Actor:  caller,
			Data: map[string]any{
				"outcome":     string(outcome),
				"amount":      receipt.Amount,
				"shares":      receipt.Shares,
				"total_funds": receipt.Market.TotalFunds,
			},
		}, nil
	})
	return receipt, err
}

// ResolveMarket settles a market whose window has elapsed.
func (s *SettlementService) ResolveMarket(ctx context.Context, caller common.Address, market domain.Address) (domain.Market, error) {
	var m domain.Market
	err := s.transition(ctx, "resolve_market", marketKey(market), func() (domain.Event, error) {
		var err error
		m, err = s.engine.ResolveMarket(ctx, caller, market)
		if err != nil {
			return domain.Event{}, err
		}
		s.refreshCache(ctx, m)
		if s.metrics != nil {
			s.metrics.MarketsSettled.Inc()
		}
		data := map[string]any{
			"symbol":      m.Symbol,
			"total_funds": m.TotalFunds,
		}
		if m.WinningOutcome != nil {
			data["winning_outcome"] = string(*m.WinningOutcome)
		}
		if m.FinalPrice != nil {
			data["final_price"] = m.FinalPrice.Value
		}
		return domain.Event{
			Type:   domain.EventMarketResolved,
			Market: &market,
			Actor:  caller,
			Data:   data,
		}, nil
	})
	return m, err
}

// ClaimWinnings closes the caller's position and pays out its share.
func (s *SettlementService) ClaimWinnings(ctx context.Context, caller common.Address, market domain.Address) (engine.ClaimReceipt, error) {
	var receipt engine.ClaimReceipt
	err := s.transition(ctx, "claim_winnings", marketKey(market), func() (domain.Event, error) {
		var err error
		receipt, err = s.engine.ClaimWinnings(ctx, caller, market)
		if err != nil {
			return domain.Event{}, err
		}
		s.refreshCache(ctx, receipt.Market)
		if s.metrics != nil {
			s.metrics.RecordPayout(receipt.Payout)
		}
		return domain.Event{
			Type:   domain.EventWinningsClaimed,
			Market: &market,
			Actor:  caller,
			Data: map[string]any{
				"position": receipt.Position.Address.Hex(),
				"payout":   receipt.Payout,
			},
		}, nil
	})
	return receipt, err
}

// WithdrawFee releases a resolved market's fee to the team wallet.
func (s *SettlementService) WithdrawFee(ctx context.Context, caller common.Address, market domain.Address) (engine.FeeReceipt, error) {
	var receipt engine.FeeReceipt
	err := s.transition(ctx, "withdraw_fee", marketKey(market), func() (domain.Event, error) {
		var err error
		receipt, err = s.engine.WithdrawFee(ctx, caller, market)
		if err != nil {
			return domain.Event{}, err
		}
		s.refreshCache(ctx, receipt.Market)
		if s.metrics != nil {
			s.metrics.RecordFee(receipt.Amount)
		}
		return domain.Event{
			Type:   domain.EventFeeWithdrawn,
			Market: &market,
			Actor:  caller,
			Data: map[string]any{
				"amount": receipt.Amount,
				"wallet": receipt.Wallet.Hex(),
			},
		}, nil
	})
	return receipt, err
}

// Fund credits owner's balance on behalf of the privileged caller.
func (s *SettlementService) Fund(ctx context.Context, caller, owner common.Address, amount uint64) (uint64, error) {
	var balance uint64
	err := s.transition(ctx, "fund", "account:"+owner.Hex(), func() (domain.Event, error) {
		var err error
		balance, err = s.engine.Fund(ctx, caller, owner, amount)
		if err != nil {
			return domain.Event{}, err
		}
		return domain.Event{
			Type:  domain.EventAccountFunded,
			Actor: caller,
			Data: map[string]any{
				"owner":   owner.Hex(),
				"amount":  amount,
				"balance": balance,
			},
		}, nil
	})
	return balance, err
}

// transition runs apply under the lock for key, then records and publishes
// the event it returns. Failures after commit are logged, never returned.
func (s *SettlementService) transition(ctx context.Context, op, key string, apply func() (domain.Event, error)) error {
	unlock, err := s.locks.Acquire(ctx, key, s.lockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) && s.metrics != nil {
			s.metrics.LockContention.Inc()
		}
		s.record(op, err, 0)
		return fmt.Errorf("settlement_service: %s: %w", op, err)
	}
	defer unlock()

	start := time.Now()
	ev, err := apply()
	s.record(op, err, time.Since(start))
	if err != nil {
		s.logger.DebugContext(ctx, "settlement_service: transition rejected",
			slog.String("op", op),
			slog.String("kind", domain.Kind(err)),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("settlement_service: %s: %w", op, err)
	}

	ev.Emitted = s.clock.Now()
	attrs := []any{
		slog.String("op", op),
		slog.String("actor", ev.Actor.Hex()),
	}
	if ev.Market != nil {
		attrs = append(attrs, slog.String("market", ev.Market.Hex()))
	}
	s.logger.InfoContext(ctx, "settlement_service: "+string(ev.Type), attrs...)

	s.publish(ctx, ev)
	s.auditEvent(ctx, ev)
	if err := s.notifier.NotifyEvent(ctx, ev); err != nil {
		s.warn(ctx, "notify", "settlement_service: notify failed", err)
	}
	return nil
}

func (s *SettlementService) record(op string, err error, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = domain.Kind(err)
	}
	s.metrics.RecordTransition(op, result, elapsed)
}

func (s *SettlementService) publish(ctx context.Context, ev domain.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		s.warn(ctx, "publish", "settlement_service: marshal event failed", err)
		return
	}
	for _, ch := range channelsFor(ev) {
		if err := s.bus.Publish(ctx, ch, payload); err != nil {
			s.warn(ctx, "publish", "settlement_service: publish event failed", err, slog.String("channel", ch))
		}
	}
	if err := s.bus.StreamAppend(ctx, domain.StreamSettlement, payload); err != nil {
		s.warn(ctx, "publish", "settlement_service: stream append failed", err)
	}
}

func (s *SettlementService) auditEvent(ctx context.Context, ev domain.Event) {
	detail := map[string]any{"actor": ev.Actor.Hex()}
	if ev.Market != nil {
		detail["market"] = ev.Market.Hex()
	}
	for k, v := range ev.Data {
		detail[k] = v
	}
	if err := s.audit.Log(ctx, string(ev.Type), detail); err != nil {
		s.warn(ctx, "audit", "settlement_service: audit log failed", err)
	}
}

func (s *SettlementService) refreshCache(ctx context.Context, m domain.Market) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, m); err != nil {
		s.warn(ctx, "cache", "settlement_service: cache set failed", err, slog.String("market", m.Address.Hex()))
		// A stale snapshot must not outlive the write.
		if err := s.cache.Invalidate(ctx, m.Address); err != nil {
			s.warn(ctx, "cache", "settlement_service: cache invalidate failed", err)
		}
	}
}

func (s *SettlementService) warn(ctx context.Context, component, msg string, err error, attrs ...any) {
	if s.metrics != nil {
		s.metrics.RecordError(component, domain.Kind(err))
	}
	s.logger.WarnContext(ctx, msg, append(attrs, slog.String("error", err.Error()))...)
}

// channelsFor lists the pub/sub channels an event is broadcast on.
func channelsFor(ev domain.Event) []string {
	if ev.Type == domain.EventPricePublished {
		if ref, ok := ev.Data["reference"].(string); ok {
			return []string{domain.PriceChannel(ref)}
		}
	}
	chans := []string{domain.ChannelSettlement}
	if ev.Market != nil {
		chans = append(chans, domain.MarketChannel(*ev.Market))
	}
	return chans
}

func marketKey(addr domain.Address) string {
	return "market:" + addr.Hex()
}
