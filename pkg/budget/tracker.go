// Package budget is the daily-spend circuit breaker. The ledger lives in
// Redis under date-scoped keys so every process instance sees the same
// running total, and all mutation goes through atomic increments.
package budget

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tollgate-ai/tollgate/pkg/cache"
)

// ErrBudgetExceeded is returned when a spend would push the active period
// over its ceiling. Callers must surface it explicitly; it is not a
// generic failure.
var ErrBudgetExceeded = errors.New("daily budget exceeded")

// Ledger is the spend state for one period.
type Ledger struct {
	Period        string  `json:"period"` // YYYY-MM-DD, reset-hour adjusted
	TotalSpentUSD float64 `json:"total_spent_usd"`
	DailyLimitUSD float64 `json:"daily_limit_usd"`
	CallCount     int64   `json:"call_count"`
}

// Remaining reports the unspent headroom, floored at zero.
func (l Ledger) Remaining() float64 {
	r := l.DailyLimitUSD - l.TotalSpentUSD
	if r < 0 {
		return 0
	}
	return r
}

// Tracker caps daily spend. The period rolls over when wall clock crosses
// the configured reset hour; rollover needs no explicit reset step because
// the ledger key embeds the period date: a new period simply starts
// counting from an absent (zero) key, and old keys age out on TTL.
type Tracker struct {
	rdb       *cache.Client
	limitUSD  float64
	resetHour int
	ledgerTTL time.Duration
	now       func() time.Time
}

// New creates the tracker. ledgerTTLDays bounds ledger key growth to weeks
// or months, not forever.
func New(rdb *cache.Client, dailyLimitUSD float64, resetHour, ledgerTTLDays int) *Tracker {
	if ledgerTTLDays <= 0 {
		ledgerTTLDays = 45
	}
	if resetHour < 0 || resetHour > 23 {
		resetHour = 0
	}
	return &Tracker{
		rdb:       rdb,
		limitUSD:  dailyLimitUSD,
		resetHour: resetHour,
		ledgerTTL: time.Duration(ledgerTTLDays) * 24 * time.Hour,
		now:       time.Now,
	}
}

// periodKey maps the current wall clock to a period date: the day "starts"
// at resetHour, so 01:00 with resetHour=2 still belongs to yesterday.
func (t *Tracker) periodKey() string {
	day := t.now().UTC().Add(-time.Duration(t.resetHour) * time.Hour)
	return day.Format("2006-01-02")
}

func spentKey(period string) string { return "budget:" + period + ":spent" }
func callsKey(period string) string { return "budget:" + period + ":calls" }

// CanSpend reports whether estimatedCostUSD fits under the ceiling for the
// active period.
func (t *Tracker) CanSpend(ctx context.Context, estimatedCostUSD float64) (bool, error) {
	spent, err := t.spent(ctx, t.periodKey())
	if err != nil {
		return false, err
	}
	return spent+estimatedCostUSD <= t.limitUSD, nil
}

// RecordSpend atomically adds to the active period's total and call count.
// INCRBYFLOAT on the shared store is what keeps concurrent spends from
// under-counting; there is deliberately no read-modify-write here.
func (t *Tracker) RecordSpend(ctx context.Context, spendUSD float64) error {
	if spendUSD <= 0 {
		return nil
	}
	period := t.periodKey()

	if _, err := t.rdb.IncrByFloat(ctx, spentKey(period), spendUSD); err != nil {
		return fmt.Errorf("record spend: %w", err)
	}

	pipe := t.rdb.Redis().Pipeline()
	pipe.Incr(ctx, callsKey(period))
	pipe.Expire(ctx, spentKey(period), t.ledgerTTL)
	pipe.Expire(ctx, callsKey(period), t.ledgerTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Ledger returns the active period's state.
func (t *Tracker) Ledger(ctx context.Context) (Ledger, error) {
	period := t.periodKey()

	spent, err := t.spent(ctx, period)
	if err != nil {
		return Ledger{}, err
	}

	calls, err := t.rdb.Redis().Get(ctx, callsKey(period)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Ledger{}, err
	}

	return Ledger{
		Period:        period,
		TotalSpentUSD: spent,
		DailyLimitUSD: t.limitUSD,
		CallCount:     calls,
	}, nil
}

func (t *Tracker) spent(ctx context.Context, period string) (float64, error) {
	data, err := t.rdb.Get(ctx, spentKey(period))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("read ledger: %w", err)
	}
	spent, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt ledger value: %w", err)
	}
	return spent, nil
}
