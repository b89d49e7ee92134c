// Package shop holds the spending call sites: cosmetic purchases debit the
// petal ledger, discount tiers read the balance without mutating it, and
// voucher redemption is a redeem-once upsert followed by an idempotent grant.
package shop

import (
	"context"
	"errors"
	"fmt"

	"github.com/otakumori/petals/pkg/petals"
)

var (
	ErrUnknownSKU             = errors.New("unknown sku")
	ErrUnknownVoucher         = errors.New("unknown voucher")
	ErrVoucherAlreadyRedeemed = errors.New("voucher already redeemed")
)

const (
	reasonPrefixShop    = "shop"
	reasonPrefixVoucher = "voucher"
)

// Item is a petal-priced catalog entry (cosmetics, frames, mini-game perks).
type Item struct {
	SKU         string
	Name        string
	PricePetals int64
}

// Voucher grants petals once per user when redeemed.
type Voucher struct {
	Code        string
	GrantPetals int64
}

// Tier is a discount bracket unlocked by petal balance.
type Tier struct {
	Name        string
	MinBalance  int64
	DiscountBps int64
}

// Ledger is the petal surface the shop drives (satisfied by *petals.Service).
type Ledger interface {
	Credit(ctx context.Context, userID petals.UserID, amount petals.Amount, reason petals.Reason, collectKey *petals.CollectKey, metadata petals.MetadataJSON) (petals.Receipt, error)
	Debit(ctx context.Context, userID petals.UserID, amount petals.Amount, reason petals.Reason, metadata petals.MetadataJSON) (petals.Receipt, error)
	Balance(ctx context.Context, userID petals.UserID) (int64, error)
}

// VoucherStore persists redeem-once records (satisfied by gormstore.Store).
type VoucherStore interface {
	RedeemVoucher(ctx context.Context, voucherCode string, userID petals.UserID) error
}

// Service resolves SKUs and voucher codes against the catalog.
type Service struct {
	ledger   Ledger
	vouchers VoucherStore
	items    map[string]Item
	itemList []Item
	codes    map[string]Voucher
	tiers    []Tier
}

// NewService wires a shop Service over a catalog. Tiers must be ordered from
// highest MinBalance to lowest.
func NewService(ledger Ledger, vouchers VoucherStore, items []Item, codes []Voucher, tiers []Tier) (*Service, error) {
	if ledger == nil {
		return nil, fmt.Errorf("%w: ledger dependency is nil", petals.ErrInvalidServiceConfig)
	}
	if vouchers == nil {
		return nil, fmt.Errorf("%w: voucher store dependency is nil", petals.ErrInvalidServiceConfig)
	}
	itemIndex := make(map[string]Item, len(items))
	for _, item := range items {
		itemIndex[item.SKU] = item
	}
	codeIndex := make(map[string]Voucher, len(codes))
	for _, voucher := range codes {
		codeIndex[voucher.Code] = voucher
	}
	return &Service{
		ledger:   ledger,
		vouchers: vouchers,
		items:    itemIndex,
		itemList: append([]Item(nil), items...),
		codes:    codeIndex,
		tiers:    tiers,
	}, nil
}

// DefaultItems is the storefront's built-in cosmetic catalog.
func DefaultItems() []Item {
	return []Item{
		{SKU: "sku_frame", Name: "Sakura Avatar Frame", PricePetals: 30},
		{SKU: "sku_trail", Name: "Petal Cursor Trail", PricePetals: 120},
		{SKU: "sku_theme_midnight", Name: "Midnight Shrine Theme", PricePetals: 400},
		{SKU: "sku_game_runner_skin", Name: "Runner Mini-Game Skin", PricePetals: 250},
	}
}

// DefaultVouchers is the storefront's built-in voucher list.
func DefaultVouchers() []Voucher {
	return []Voucher{
		{Code: "WELCOME10", GrantPetals: 100},
		{Code: "MATSURI", GrantPetals: 300},
	}
}

// DefaultTiers are the balance-gated discount brackets, highest first.
func DefaultTiers() []Tier {
	return []Tier{
		{Name: "gold", MinBalance: 5000, DiscountBps: 1500},
		{Name: "silver", MinBalance: 2000, DiscountBps: 1000},
		{Name: "bronze", MinBalance: 500, DiscountBps: 500},
	}
}

// Purchase debits the item's price. Insufficient balance surfaces as
// petals.ErrInsufficientFunds so the handler can answer with a specific
// payment-required response.
func (service *Service) Purchase(ctx context.Context, userID petals.UserID, sku string) (petals.Receipt, error) {
	item, exists := service.items[sku]
	if !exists {
		return petals.Receipt{}, fmt.Errorf("%w: %q", ErrUnknownSKU, sku)
	}
	price, err := petals.NewAmount(item.PricePetals)
	if err != nil {
		return petals.Receipt{}, err
	}
	reason, err := petals.NewReason(reasonPrefixShop + ":" + item.SKU)
	if err != nil {
		return petals.Receipt{}, err
	}
	metadata, err := petals.NewMetadataJSON(fmt.Sprintf(`{"sku":%q,"name":%q}`, item.SKU, item.Name))
	if err != nil {
		return petals.Receipt{}, err
	}
	return service.ledger.Debit(ctx, userID, price, reason, metadata)
}

// RedeemVoucher records the redemption and grants the voucher's petals. The
// redemption row and the credit are separate writes, so a duplicate row does
// not short-circuit: the keyed credit still runs, healing a redemption whose
// grant failed mid-way. Only a redemption whose grant already landed surfaces
// as ErrVoucherAlreadyRedeemed.
func (service *Service) RedeemVoucher(ctx context.Context, userID petals.UserID, code string) (petals.Receipt, error) {
	voucher, exists := service.codes[code]
	if !exists {
		return petals.Receipt{}, fmt.Errorf("%w: %q", ErrUnknownVoucher, code)
	}
	redeemErr := service.vouchers.RedeemVoucher(ctx, voucher.Code, userID)
	if redeemErr != nil && !errors.Is(redeemErr, ErrVoucherAlreadyRedeemed) {
		return petals.Receipt{}, redeemErr
	}
	amount, err := petals.NewAmount(voucher.GrantPetals)
	if err != nil {
		return petals.Receipt{}, err
	}
	reason, err := petals.NewReason(reasonPrefixVoucher + ":" + voucher.Code)
	if err != nil {
		return petals.Receipt{}, err
	}
	key, err := petals.NewCollectKey(fmt.Sprintf("%s:%s:%s", reasonPrefixVoucher, voucher.Code, userID.String()))
	if err != nil {
		return petals.Receipt{}, err
	}
	metadata, err := petals.NewMetadataJSON(fmt.Sprintf(`{"voucher":%q}`, voucher.Code))
	if err != nil {
		return petals.Receipt{}, err
	}
	receipt, err := service.ledger.Credit(ctx, userID, amount, reason, &key, metadata)
	if err != nil && errors.Is(err, petals.ErrDuplicateCollect) {
		if redeemErr != nil {
			return receipt, redeemErr
		}
		return receipt, nil
	}
	return receipt, err
}

// DiscountTier returns the discount bracket the user's balance qualifies
// for. The read never mutates the ledger; a user below every bracket gets
// the zero Tier.
func (service *Service) DiscountTier(ctx context.Context, userID petals.UserID) (Tier, error) {
	balance, err := service.ledger.Balance(ctx, userID)
	if err != nil {
		return Tier{}, err
	}
	for _, tier := range service.tiers {
		if balance >= tier.MinBalance {
			return tier, nil
		}
	}
	return Tier{}, nil
}

// Items exposes the catalog for the storefront listing endpoint.
func (service *Service) Items() []Item {
	return append([]Item(nil), service.itemList...)
}
