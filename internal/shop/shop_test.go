package shop

import (
	"context"
	"errors"
	"testing"

	"github.com/otakumori/petals/pkg/petals"
)

const testUserValue = "user-a"

// fakeLedger tracks a single balance and simulates credit dedup.
type fakeLedger struct {
	balance  int64
	seenKeys map[string]petals.Receipt
	debits   []string
}

func newFakeLedger(balance int64) *fakeLedger {
	return &fakeLedger{balance: balance, seenKeys: make(map[string]petals.Receipt)}
}

func (ledger *fakeLedger) Credit(_ context.Context, _ petals.UserID, amount petals.Amount, reason petals.Reason, collectKey *petals.CollectKey, _ petals.MetadataJSON) (petals.Receipt, error) {
	if collectKey != nil {
		if prior, exists := ledger.seenKeys[collectKey.String()]; exists {
			return prior, petals.ErrDuplicateCollect
		}
	}
	ledger.balance += amount.Int64()
	receipt := petals.Receipt{
		Kind:         petals.EntryEarn,
		Amount:       amount.Int64(),
		BalanceAfter: ledger.balance,
		Reason:       reason.String(),
	}
	if collectKey != nil {
		ledger.seenKeys[collectKey.String()] = receipt
	}
	return receipt, nil
}

func (ledger *fakeLedger) Debit(_ context.Context, _ petals.UserID, amount petals.Amount, reason petals.Reason, _ petals.MetadataJSON) (petals.Receipt, error) {
	if ledger.balance < amount.Int64() {
		return petals.Receipt{}, petals.ErrInsufficientFunds
	}
	ledger.balance -= amount.Int64()
	ledger.debits = append(ledger.debits, reason.String())
	return petals.Receipt{
		Kind:         petals.EntrySpend,
		Amount:       amount.Int64(),
		BalanceAfter: ledger.balance,
		Reason:       reason.String(),
	}, nil
}

func (ledger *fakeLedger) Balance(context.Context, petals.UserID) (int64, error) {
	return ledger.balance, nil
}

// fakeVoucherStore enforces redeem-once in memory.
type fakeVoucherStore struct {
	redeemed map[string]bool
}

func newFakeVoucherStore() *fakeVoucherStore {
	return &fakeVoucherStore{redeemed: make(map[string]bool)}
}

func (store *fakeVoucherStore) RedeemVoucher(_ context.Context, voucherCode string, userID petals.UserID) error {
	key := voucherCode + ":" + userID.String()
	if store.redeemed[key] {
		return ErrVoucherAlreadyRedeemed
	}
	store.redeemed[key] = true
	return nil
}

func mustShop(test *testing.T, ledger Ledger) *Service {
	test.Helper()
	service, err := NewService(ledger, newFakeVoucherStore(), DefaultItems(), DefaultVouchers(), DefaultTiers())
	if err != nil {
		test.Fatalf("shop init failed: %v", err)
	}
	return service
}

func mustUser(test *testing.T) petals.UserID {
	test.Helper()
	userID, err := petals.NewUserID(testUserValue)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return userID
}

func TestPurchaseDebitsItemPrice(test *testing.T) {
	test.Parallel()
	ledger := newFakeLedger(100)
	service := mustShop(test, ledger)

	receipt, err := service.Purchase(context.Background(), mustUser(test), "sku_frame")
	if err != nil {
		test.Fatalf("purchase failed: %v", err)
	}
	if receipt.Amount != 30 || receipt.BalanceAfter != 70 {
		test.Fatalf("unexpected receipt: %+v", receipt)
	}
	if len(ledger.debits) != 1 || ledger.debits[0] != "shop:sku_frame" {
		test.Fatalf("unexpected debit reasons: %v", ledger.debits)
	}
}

func TestPurchaseInsufficientFundsPassesThrough(test *testing.T) {
	test.Parallel()
	service := mustShop(test, newFakeLedger(10))

	_, err := service.Purchase(context.Background(), mustUser(test), "sku_trail")
	if !errors.Is(err, petals.ErrInsufficientFunds) {
		test.Fatalf("expected %v, got %v", petals.ErrInsufficientFunds, err)
	}
}

func TestPurchaseUnknownSKURejected(test *testing.T) {
	test.Parallel()
	service := mustShop(test, newFakeLedger(1000))

	_, err := service.Purchase(context.Background(), mustUser(test), "sku_missing")
	if !errors.Is(err, ErrUnknownSKU) {
		test.Fatalf("expected %v, got %v", ErrUnknownSKU, err)
	}
}

func TestRedeemVoucherGrantsOnce(test *testing.T) {
	test.Parallel()
	ledger := newFakeLedger(0)
	service := mustShop(test, ledger)
	user := mustUser(test)

	receipt, err := service.RedeemVoucher(context.Background(), user, "WELCOME10")
	if err != nil {
		test.Fatalf("redeem failed: %v", err)
	}
	if receipt.Amount != 100 || ledger.balance != 100 {
		test.Fatalf("unexpected grant: receipt=%+v balance=%d", receipt, ledger.balance)
	}

	_, err = service.RedeemVoucher(context.Background(), user, "WELCOME10")
	if !errors.Is(err, ErrVoucherAlreadyRedeemed) {
		test.Fatalf("expected %v, got %v", ErrVoucherAlreadyRedeemed, err)
	}
	if ledger.balance != 100 {
		test.Fatalf("repeat redemption must not re-grant, balance=%d", ledger.balance)
	}
}

// flakyLedger fails a set number of credits before delegating.
type flakyLedger struct {
	*fakeLedger
	failures int
}

func (ledger *flakyLedger) Credit(ctx context.Context, userID petals.UserID, amount petals.Amount, reason petals.Reason, collectKey *petals.CollectKey, metadata petals.MetadataJSON) (petals.Receipt, error) {
	if ledger.failures > 0 {
		ledger.failures--
		return petals.Receipt{}, petals.ErrStoreUnavailable
	}
	return ledger.fakeLedger.Credit(ctx, userID, amount, reason, collectKey, metadata)
}

func TestRedeemVoucherRetryHealsPartialFailure(test *testing.T) {
	test.Parallel()
	ledger := &flakyLedger{fakeLedger: newFakeLedger(0), failures: 1}
	service, err := NewService(ledger, newFakeVoucherStore(), DefaultItems(), DefaultVouchers(), DefaultTiers())
	if err != nil {
		test.Fatalf("shop init failed: %v", err)
	}
	user := mustUser(test)

	// The redemption row lands but the credit fails.
	_, err = service.RedeemVoucher(context.Background(), user, "WELCOME10")
	if !errors.Is(err, petals.ErrStoreUnavailable) {
		test.Fatalf("expected %v, got %v", petals.ErrStoreUnavailable, err)
	}
	if ledger.balance != 0 {
		test.Fatalf("failed credit must not move the balance, got %d", ledger.balance)
	}

	// Retry reaches the keyed credit despite the duplicate redemption row.
	receipt, err := service.RedeemVoucher(context.Background(), user, "WELCOME10")
	if err != nil {
		test.Fatalf("retry must heal the lost grant: %v", err)
	}
	if receipt.Amount != 100 || ledger.balance != 100 {
		test.Fatalf("unexpected healed grant: receipt=%+v balance=%d", receipt, ledger.balance)
	}

	// A further attempt is a genuine repeat redemption.
	_, err = service.RedeemVoucher(context.Background(), user, "WELCOME10")
	if !errors.Is(err, ErrVoucherAlreadyRedeemed) {
		test.Fatalf("expected %v, got %v", ErrVoucherAlreadyRedeemed, err)
	}
	if ledger.balance != 100 {
		test.Fatalf("repeat redemption must not re-grant, balance=%d", ledger.balance)
	}
}

func TestRedeemUnknownVoucherRejected(test *testing.T) {
	test.Parallel()
	service := mustShop(test, newFakeLedger(0))

	_, err := service.RedeemVoucher(context.Background(), mustUser(test), "NOPE")
	if !errors.Is(err, ErrUnknownVoucher) {
		test.Fatalf("expected %v, got %v", ErrUnknownVoucher, err)
	}
}

func TestDiscountTierBrackets(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name     string
		balance  int64
		wantTier string
		wantBps  int64
	}{
		{name: "below every bracket", balance: 100, wantTier: "", wantBps: 0},
		{name: "bronze", balance: 500, wantTier: "bronze", wantBps: 500},
		{name: "silver", balance: 2500, wantTier: "silver", wantBps: 1000},
		{name: "gold", balance: 9000, wantTier: "gold", wantBps: 1500},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			service := mustShop(test, newFakeLedger(testCase.balance))
			tier, err := service.DiscountTier(context.Background(), mustUser(test))
			if err != nil {
				test.Fatalf("discount tier failed: %v", err)
			}
			if tier.Name != testCase.wantTier || tier.DiscountBps != testCase.wantBps {
				test.Fatalf("expected %s/%d, got %s/%d", testCase.wantTier, testCase.wantBps, tier.Name, tier.DiscountBps)
			}
		})
	}
}
