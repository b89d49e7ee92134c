package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/otakumori/petals/internal/rewards"
	"github.com/otakumori/petals/internal/shop"
	"github.com/otakumori/petals/internal/webhook"
	"github.com/otakumori/petals/pkg/petals"
)

// Stable error kinds surfaced in the response envelope.
const (
	errorKindInvalidAmount      = "INVALID_AMOUNT"
	errorKindInvalidUser        = "INVALID_USER"
	errorKindInvalidPayload     = "INVALID_PAYLOAD"
	errorKindInsufficientFunds  = "INSUFFICIENT_FUNDS"
	errorKindVoucherRedeemed    = "VOUCHER_ALREADY_REDEEMED"
	errorKindUnknownSKU         = "UNKNOWN_SKU"
	errorKindUnknownVoucher     = "UNKNOWN_VOUCHER"
	errorKindUnknownQuest       = "UNKNOWN_QUEST"
	errorKindUnknownAchievement = "UNKNOWN_ACHIEVEMENT"
	errorKindStoreUnavailable   = "STORE_UNAVAILABLE"
	errorKindUnauthorized       = "UNAUTHORIZED"
	errorKindForbidden          = "FORBIDDEN"
	errorKindBadSignature       = "BAD_SIGNATURE"
	errorKindRateLimited        = "RATE_LIMITED"
)

// success builds the ok half of the discriminated envelope.
func success(data any) gin.H {
	return gin.H{"ok": true, "data": data}
}

// failure builds the error half of the discriminated envelope.
func failure(kind string, message string) gin.H {
	return gin.H{
		"ok":      false,
		"error":   kind,
		"message": message,
	}
}

// respondDomainError translates a domain error into its envelope and status.
// Anything unmatched is treated as a store failure and surfaced as a generic
// try-again, never a stack trace.
func respondDomainError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, petals.ErrInsufficientFunds):
		ctx.JSON(http.StatusPaymentRequired, failure(errorKindInsufficientFunds, "not enough petals"))
	case errors.Is(err, petals.ErrInvalidAmount):
		ctx.JSON(http.StatusBadRequest, failure(errorKindInvalidAmount, "amount must be a positive integer"))
	case errors.Is(err, petals.ErrInvalidUserID):
		ctx.JSON(http.StatusBadRequest, failure(errorKindInvalidUser, "invalid user"))
	case errors.Is(err, petals.ErrInvalidReason), errors.Is(err, petals.ErrInvalidCollectKey), errors.Is(err, petals.ErrInvalidMetadataJSON):
		ctx.JSON(http.StatusBadRequest, failure(errorKindInvalidPayload, "invalid request"))
	case errors.Is(err, shop.ErrVoucherAlreadyRedeemed):
		ctx.JSON(http.StatusConflict, failure(errorKindVoucherRedeemed, "voucher already redeemed"))
	case errors.Is(err, shop.ErrUnknownSKU):
		ctx.JSON(http.StatusNotFound, failure(errorKindUnknownSKU, "unknown item"))
	case errors.Is(err, shop.ErrUnknownVoucher):
		ctx.JSON(http.StatusNotFound, failure(errorKindUnknownVoucher, "unknown voucher"))
	case errors.Is(err, rewards.ErrUnknownQuest):
		ctx.JSON(http.StatusNotFound, failure(errorKindUnknownQuest, "unknown quest"))
	case errors.Is(err, rewards.ErrUnknownAchievement):
		ctx.JSON(http.StatusNotFound, failure(errorKindUnknownAchievement, "unknown achievement"))
	case errors.Is(err, webhook.ErrBadSignature):
		ctx.JSON(http.StatusUnauthorized, failure(errorKindBadSignature, "signature mismatch"))
	case errors.Is(err, webhook.ErrUnsupportedEvent):
		ctx.JSON(http.StatusBadRequest, failure(errorKindInvalidPayload, "unsupported event"))
	case errors.Is(err, webhook.ErrMissingOrderID):
		ctx.JSON(http.StatusBadRequest, failure(errorKindInvalidPayload, "missing order id"))
	default:
		ctx.JSON(http.StatusServiceUnavailable, failure(errorKindStoreUnavailable, "try again in a moment"))
	}
}

type receiptPayload struct {
	EntryID        string `json:"entry_id"`
	Kind           string `json:"kind"`
	Amount         int64  `json:"amount"`
	BalanceAfter   int64  `json:"balance_after"`
	Reason         string `json:"reason"`
	CreatedUnixUTC int64  `json:"created_unix_utc"`
}

func receiptFromDomain(receipt petals.Receipt) receiptPayload {
	return receiptPayload{
		EntryID:        receipt.EntryID,
		Kind:           receipt.Kind.String(),
		Amount:         receipt.Amount,
		BalanceAfter:   receipt.BalanceAfter,
		Reason:         receipt.Reason,
		CreatedUnixUTC: receipt.CreatedUnixUTC,
	}
}

type entryPayload struct {
	EntryID        string `json:"entry_id"`
	Kind           string `json:"kind"`
	Amount         int64  `json:"amount"`
	Negative       bool   `json:"negative,omitempty"`
	BalanceAfter   int64  `json:"balance_after"`
	Reason         string `json:"reason"`
	CreatedUnixUTC int64  `json:"created_unix_utc"`
}

type walletPayload struct {
	Balance        int64          `json:"balance"`
	LifetimeEarned int64          `json:"lifetime_earned"`
	Entries        []entryPayload `json:"entries"`
}

func walletFromDomain(wallet petals.Wallet) walletPayload {
	entries := make([]entryPayload, 0, len(wallet.Entries))
	for _, entry := range wallet.Entries {
		entries = append(entries, entryPayload{
			EntryID:        entry.EntryID,
			Kind:           entry.Kind.String(),
			Amount:         entry.Amount,
			Negative:       entry.Negative,
			BalanceAfter:   entry.BalanceAfter,
			Reason:         entry.Reason,
			CreatedUnixUTC: entry.CreatedUnixUTC,
		})
	}
	return walletPayload{
		Balance:        wallet.Balance,
		LifetimeEarned: wallet.LifetimeEarned,
		Entries:        entries,
	}
}
