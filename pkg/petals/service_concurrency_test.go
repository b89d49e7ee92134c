package petals

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestConcurrentDebitsAllowExactlyOneSuccess(test *testing.T) {
	test.Parallel()
	store := newMemStore()
	service := mustNewService(test, store)
	user := mustUserID(test, testUserValue)
	metadata := mustMetadata(test, "")

	if _, err := service.Credit(context.Background(), user, mustAmount(test, 100), mustReason(test, testReasonQuest), nil, metadata); err != nil {
		test.Fatalf("credit failed: %v", err)
	}

	var waitGroup sync.WaitGroup
	results := make([]error, 2)
	for index := 0; index < 2; index++ {
		waitGroup.Add(1)
		go func(slot int) {
			defer waitGroup.Done()
			_, results[slot] = service.Debit(context.Background(), user, mustAmount(test, 60), mustReason(test, testReasonShop), metadata)
		}(index)
	}
	waitGroup.Wait()

	successes := 0
	insufficient := 0
	for _, err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrInsufficientFunds):
			insufficient++
		default:
			test.Fatalf("unexpected debit error: %v", err)
		}
	}
	if successes != 1 || insufficient != 1 {
		test.Fatalf("expected one success and one insufficient-funds failure, got %d/%d", successes, insufficient)
	}
	if balance := store.userBalance(test, testUserValue); balance != 40 {
		test.Fatalf(balanceFormatWant, 40, balance)
	}
}

func TestConcurrentCreditsLoseNoUpdates(test *testing.T) {
	test.Parallel()
	store := newMemStore()
	service := mustNewService(test, store)
	user := mustUserID(test, testUserValue)
	metadata := mustMetadata(test, "")

	const workers = 8
	const perWorker = 5
	var waitGroup sync.WaitGroup
	for worker := 0; worker < workers; worker++ {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			for iteration := 0; iteration < perWorker; iteration++ {
				if _, err := service.Credit(context.Background(), user, mustAmount(test, 3), mustReason(test, testReasonQuest), nil, metadata); err != nil {
					test.Errorf("credit failed: %v", err)
					return
				}
			}
		}()
	}
	waitGroup.Wait()

	wantBalance := int64(workers * perWorker * 3)
	if balance := store.userBalance(test, testUserValue); balance != wantBalance {
		test.Fatalf(balanceFormatWant, wantBalance, balance)
	}

	replayed := int64(0)
	for _, entry := range store.entrySnapshot(test) {
		replayed += entry.Kind.Signed(entry.Amount, entry.Negative)
	}
	if replayed != wantBalance {
		test.Fatalf("ledger replay %d does not match balance %d", replayed, wantBalance)
	}
}
