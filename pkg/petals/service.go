package petals

import (
	"context"
	"errors"
	"fmt"
)

// Service contains the petal ledger domain logic over a Store.
//
// Every balance mutation runs as a single read-check-write inside one store
// transaction: the user row is locked, the new balance computed, the ledger
// entry appended with its balance snapshot, and the denormalized balance
// updated. The balance field is a cache of the ledger sum, never updated
// without a matching entry.
type Service struct {
	store  Store
	nowFn  func() int64
	logger OperationLogger
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Credit appends an earn entry and increments the user's balance, creating
// the user row on first use. An optional collect key makes the credit
// idempotent: a duplicate key returns the previously recorded receipt along
// with ErrDuplicateCollect.
func (service *Service) Credit(ctx context.Context, userID UserID, amount Amount, reason Reason, collectKey *CollectKey, metadata MetadataJSON) (Receipt, error) {
	var receipt Receipt
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		user, err := transactionStore.GetOrCreateUser(ctx, userID)
		if err != nil {
			return err
		}
		newBalance := user.PetalBalance + amount.Int64()
		entry, err := transactionStore.InsertEntry(ctx, EntryInput{
			UserID:         userID,
			Kind:           EntryEarn,
			Amount:         amount.Int64(),
			BalanceAfter:   newBalance,
			Reason:         reason,
			CollectKey:     collectKey,
			Metadata:       metadata,
			CreatedUnixUTC: service.nowFn(),
		})
		if err != nil {
			return err
		}
		if err := transactionStore.UpdateUserBalance(ctx, userID, newBalance, user.LifetimeEarned+amount.Int64()); err != nil {
			return err
		}
		receipt = receiptFromEntry(entry)
		return nil
	})
	if operationError != nil && errors.Is(operationError, ErrDuplicateCollect) && collectKey != nil {
		if prior, lookupErr := service.store.FindEntryByCollectKey(ctx, userID, *collectKey); lookupErr == nil {
			receipt = receiptFromEntry(prior)
		}
	}
	service.logOperation(ctx, OperationLog{
		Operation:    operationCredit,
		UserID:       userID,
		Amount:       amount.Int64(),
		Reason:       reason,
		CollectKey:   collectKeyString(collectKey),
		BalanceAfter: receipt.BalanceAfter,
		Error:        operationError,
	})
	return receipt, operationError
}

// Debit checks the balance inside the transaction and, when sufficient,
// appends a spend entry and decrements the balance. Insufficient funds is
// rejected with ErrInsufficientFunds before any mutation.
func (service *Service) Debit(ctx context.Context, userID UserID, amount Amount, reason Reason, metadata MetadataJSON) (Receipt, error) {
	var receipt Receipt
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		user, err := transactionStore.GetOrCreateUser(ctx, userID)
		if err != nil {
			return err
		}
		if user.PetalBalance < amount.Int64() {
			return ErrInsufficientFunds
		}
		newBalance := user.PetalBalance - amount.Int64()
		entry, err := transactionStore.InsertEntry(ctx, EntryInput{
			UserID:         userID,
			Kind:           EntrySpend,
			Amount:         amount.Int64(),
			BalanceAfter:   newBalance,
			Reason:         reason,
			Metadata:       metadata,
			CreatedUnixUTC: service.nowFn(),
		})
		if err != nil {
			return err
		}
		if err := transactionStore.UpdateUserBalance(ctx, userID, newBalance, user.LifetimeEarned); err != nil {
			return err
		}
		receipt = receiptFromEntry(entry)
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:    operationDebit,
		UserID:       userID,
		Amount:       amount.Int64(),
		Reason:       reason,
		BalanceAfter: receipt.BalanceAfter,
		Error:        operationError,
	})
	return receipt, operationError
}

// Adjust appends a signed correction entry. History is never edited; a
// mistaken credit or debit is compensated by a new adjust entry. An
// adjustment that would drive the balance negative is rejected.
func (service *Service) Adjust(ctx context.Context, userID UserID, delta Delta, reason Reason, metadata MetadataJSON) (Receipt, error) {
	var receipt Receipt
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		user, err := transactionStore.GetOrCreateUser(ctx, userID)
		if err != nil {
			return err
		}
		newBalance := user.PetalBalance + delta.Int64()
		if newBalance < 0 {
			return ErrInsufficientFunds
		}
		lifetimeEarned := user.LifetimeEarned
		if delta.Int64() > 0 {
			lifetimeEarned += delta.Int64()
		}
		entry, err := transactionStore.InsertEntry(ctx, EntryInput{
			UserID:         userID,
			Kind:           EntryAdjust,
			Amount:         delta.Magnitude(),
			Negative:       delta.Int64() < 0,
			BalanceAfter:   newBalance,
			Reason:         reason,
			Metadata:       metadata,
			CreatedUnixUTC: service.nowFn(),
		})
		if err != nil {
			return err
		}
		if err := transactionStore.UpdateUserBalance(ctx, userID, newBalance, lifetimeEarned); err != nil {
			return err
		}
		receipt = receiptFromEntry(entry)
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:    operationAdjust,
		UserID:       userID,
		Amount:       delta.Int64(),
		Reason:       reason,
		BalanceAfter: receipt.BalanceAfter,
		Error:        operationError,
	})
	return receipt, operationError
}

// Balance returns the current petal balance, creating the user row on first use.
func (service *Service) Balance(ctx context.Context, userID UserID) (int64, error) {
	user, err := service.store.GetOrCreateUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return user.PetalBalance, nil
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func receiptFromEntry(entry Entry) Receipt {
	return Receipt{
		EntryID:        entry.EntryID,
		Kind:           entry.Kind,
		Amount:         entry.Amount,
		BalanceAfter:   entry.BalanceAfter,
		Reason:         entry.Reason,
		CreatedUnixUTC: entry.CreatedUnixUTC,
	}
}

func collectKeyString(key *CollectKey) string {
	if key == nil {
		return ""
	}
	return key.String()
}
