// Package collect implements the idempotent petal-collection wrapper used by
// engagement call sites (homepage petal clicks, daily visits, quest rewards).
//
// The wrapper is best-effort by design: petals are a reward currency, so a
// result-store outage fails open and the credit proceeds. The per-user unique
// constraint on the collect key in the ledger store is the strict backstop
// that keeps a double-submit from double-crediting.
package collect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/otakumori/petals/pkg/petals"
)

const dailyWindowLayout = "2006-01-02"

// Ledger is the credit surface the collector drives.
type Ledger interface {
	Credit(ctx context.Context, userID petals.UserID, amount petals.Amount, reason petals.Reason, collectKey *petals.CollectKey, metadata petals.MetadataJSON) (petals.Receipt, error)
}

// ResultStore caches previously recorded collection results by key. A nil or
// failing store only costs a round-trip to the ledger, never correctness.
type ResultStore interface {
	Get(key string) (petals.Receipt, bool, error)
	Put(key string, receipt petals.Receipt) error
}

// Collector wraps ledger credits with duplicate suppression.
type Collector struct {
	ledger  Ledger
	results ResultStore
	logger  *zap.Logger
}

// Option configures a Collector.
type Option func(*Collector)

// WithLogger wires a zap logger for fail-open events.
func WithLogger(logger *zap.Logger) Option {
	return func(collector *Collector) {
		collector.logger = logger
	}
}

// New wires a Collector.
func New(ledger Ledger, results ResultStore, options ...Option) (*Collector, error) {
	if ledger == nil {
		return nil, fmt.Errorf("%w: ledger dependency is nil", petals.ErrInvalidServiceConfig)
	}
	if results == nil {
		return nil, fmt.Errorf("%w: result store dependency is nil", petals.ErrInvalidServiceConfig)
	}
	collector := &Collector{ledger: ledger, results: results, logger: zap.NewNop()}
	for _, option := range options {
		if option != nil {
			option(collector)
		}
	}
	return collector, nil
}

// Collect credits the user exactly once per key. A repeat submission returns
// the previously recorded receipt with replayed set to true.
func (collector *Collector) Collect(ctx context.Context, userID petals.UserID, amount petals.Amount, reason petals.Reason, key petals.CollectKey, metadata petals.MetadataJSON) (petals.Receipt, bool, error) {
	if cached, found, err := collector.results.Get(key.String()); err != nil {
		collector.logger.Warn("collect result store read failed, proceeding",
			zap.String("collect_key", key.String()),
			zap.Error(err))
	} else if found {
		return cached, true, nil
	}

	receipt, err := collector.ledger.Credit(ctx, userID, amount, reason, &key, metadata)
	if err != nil {
		if errors.Is(err, petals.ErrDuplicateCollect) {
			collector.record(key, receipt)
			return receipt, true, nil
		}
		return petals.Receipt{}, false, err
	}
	collector.record(key, receipt)
	return receipt, false, nil
}

func (collector *Collector) record(key petals.CollectKey, receipt petals.Receipt) {
	if err := collector.results.Put(key.String(), receipt); err != nil {
		collector.logger.Warn("collect result store write failed",
			zap.String("collect_key", key.String()),
			zap.Error(err))
	}
}

// DailyKey derives the idempotency key for a once-per-day action,
// e.g. "daily:2024-01-01:userA".
func DailyKey(action string, userID petals.UserID, at time.Time) (petals.CollectKey, error) {
	return petals.NewCollectKey(fmt.Sprintf("%s:%s:%s", action, at.UTC().Format(dailyWindowLayout), userID.String()))
}

// ActionKey derives the idempotency key for a one-shot action,
// e.g. "quest:first_visit:userA".
func ActionKey(action string, userID petals.UserID) (petals.CollectKey, error) {
	return petals.NewCollectKey(fmt.Sprintf("%s:%s", action, userID.String()))
}
