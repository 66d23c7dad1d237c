// Package notify delivers revenue change events to wherever the
// operator is watching from.
package notify

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"raceops-backend/lib/scrapers/myrace"
)

// RevenueChange is one observed change in a race's revenue, together
// with the optional goal it is tracked against.
type RevenueChange struct {
	RaceID       string
	Title        string
	Participants int
	Previous     decimal.Decimal
	Current      decimal.Decimal
	// nil when no goal is set for this race
	Goal *decimal.Decimal
}

func (c RevenueChange) Delta() decimal.Decimal {
	return c.Current.Sub(c.Previous)
}

// Remaining reports how much revenue is still missing to the goal;
// ok is false when no goal is set.
func (c RevenueChange) Remaining() (decimal.Decimal, bool) {
	if c.Goal == nil {
		return decimal.Decimal{}, false
	}
	return c.Goal.Sub(c.Current), true
}

// Message renders the change as the HTML-formatted text notifications
// carry.
func (c RevenueChange) Message() string {
	delta := c.Delta()
	direction := "⬆️"
	switch {
	case delta.IsZero():
		direction = "➖"
	case delta.IsNegative():
		direction = "⬇️"
	}

	lines := []string{
		fmt.Sprintf("💰 Revenue changed for race <b>%s</b> (ID %s).", html.EscapeString(c.Title), c.RaceID),
		fmt.Sprintf("%s Was: %s → Now: %s ₽ (Δ %s).",
			direction,
			myrace.FormatMoney(c.Previous),
			myrace.FormatMoney(c.Current),
			myrace.FormatMoney(delta.Abs())),
		fmt.Sprintf("👥 Participants: %d", c.Participants),
	}
	if remaining, ok := c.Remaining(); ok {
		if remaining.IsPositive() {
			lines = append(lines, fmt.Sprintf("🎯 Goal: %s ₽ (%s ₽ remaining).",
				myrace.FormatMoney(*c.Goal), myrace.FormatMoney(remaining)))
		} else {
			lines = append(lines, fmt.Sprintf("🎯 Goal: %s ₽ reached!", myrace.FormatMoney(*c.Goal)))
		}
	}
	return strings.Join(lines, "\n")
}

// Notifier delivers revenue changes to the operator.
type Notifier interface {
	NotifyRevenueChange(ctx context.Context, change RevenueChange) error
}

// Multi fans a change out to several notifiers. Delivery failures are
// logged, not propagated: one broken channel must not silence the
// others.
type Multi []Notifier

func (m Multi) NotifyRevenueChange(ctx context.Context, change RevenueChange) error {
	for _, n := range m {
		if err := n.NotifyRevenueChange(ctx, change); err != nil {
			slog.WarnContext(ctx, "notifier failed", "err", err)
		}
	}
	return nil
}
