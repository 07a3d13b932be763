// Package notify forwards settlement events to operator chat channels
// (Telegram, Discord). Each Notifier filters by event type so operators only
// receive the alerts they subscribed to.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/polysettle/internal/domain"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches notifications to every registered Sender.
type Notifier struct {
	senders []Sender
	events  map[domain.EventType]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. Only events whose type appears in events
// are forwarded by NotifyEvent; an empty list forwards everything.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventType]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[domain.EventType(e)] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.senders) > 0
}

// NotifyEvent renders ev and sends it if its type passes the filter.
func (n *Notifier) NotifyEvent(ctx context.Context, ev domain.Event) error {
	if !n.Enabled() {
		return nil
	}
	if len(n.events) > 0 && !n.events[ev.Type] {
		n.logger.DebugContext(ctx, "notifier: event filtered out", slog.String("event", string(ev.Type)))
		return nil
	}
	title, message := Render(ev)
	return n.dispatch(ctx, title, message)
}

// NotifyAll sends a free-form message regardless of the filter.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	if !n.Enabled() {
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// dispatch delivers to every sender; one failing sender does not stop the
// others.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.WarnContext(ctx, "notifier: sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notifier: sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

var titles = map[domain.EventType]string{
	domain.EventOracleRegistered: "Oracle registered",
	domain.EventPricePublished:   "Price published",
	domain.EventMarketCreated:    "Market created",
	domain.EventPositionEnrolled: "Position enrolled",
	domain.EventBetPlaced:        "Bet placed",
	domain.EventMarketResolved:   "Market resolved",
	domain.EventWinningsClaimed:  "Winnings claimed",
	domain.EventFeeWithdrawn:     "Fee withdrawn",
	domain.EventAccountFunded:    "Account funded",
}

// Render formats ev as a title and a "key: value" body with stable ordering.
func Render(ev domain.Event) (string, string) {
	title, ok := titles[ev.Type]
	if !ok {
		title = string(ev.Type)
	}

	var b strings.Builder
	if ev.Market != nil {
		fmt.Fprintf(&b, "market: %s\n", ev.Market.Hex())
	}
	if ev.Actor != (common.Address{}) {
		fmt.Fprintf(&b, "actor: %s\n", ev.Actor.Hex())
	}
	keys := make([]string, 0, len(ev.Data))
	for k := range ev.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, ev.Data[k])
	}
	return title, strings.TrimRight(b.String(), "\n")
}
