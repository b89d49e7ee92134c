// Package webhook verifies and processes callbacks from the print-on-demand
// fulfillment provider. A completed order rewards the buyer with petals,
// keyed by order so provider retries never double-award.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/otakumori/petals/pkg/petals"
)

var (
	ErrBadSignature     = errors.New("bad webhook signature")
	ErrUnsupportedEvent = errors.New("unsupported webhook event")
	ErrMissingOrderID   = errors.New("missing order id")
)

const (
	signaturePrefix     = "sha256="
	eventOrderCompleted = "order:completed"
	reasonPrefixOrder   = "order"
	// One petal per 10 cents of order value.
	centsPerPetal = 10
)

// Verifier checks the provider's HMAC-SHA256 request signatures.
type Verifier struct {
	secret []byte
}

// NewVerifier wires a Verifier with the shared webhook secret.
func NewVerifier(secret string) (*Verifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("%w: webhook secret is empty", petals.ErrInvalidServiceConfig)
	}
	return &Verifier{secret: []byte(secret)}, nil
}

// Verify reports whether signature matches the body. The provider sends the
// hex digest with an optional "sha256=" prefix; comparison is constant-time.
func (verifier *Verifier) Verify(body []byte, signature string) bool {
	trimmed := strings.TrimPrefix(strings.TrimSpace(signature), signaturePrefix)
	expected, err := hex.DecodeString(trimmed)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, verifier.secret)
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}

// OrderEvent is the provider's callback payload.
type OrderEvent struct {
	Type       string `json:"type"`
	OrderID    string `json:"order_id"`
	UserID     string `json:"user_id"`
	TotalCents int64  `json:"total_cents"`
}

// Granter is the collection surface the processor drives (satisfied by
// collect.Collector).
type Granter interface {
	Collect(ctx context.Context, userID petals.UserID, amount petals.Amount, reason petals.Reason, key petals.CollectKey, metadata petals.MetadataJSON) (petals.Receipt, bool, error)
}

// Processor turns verified order events into petal rewards.
type Processor struct {
	granter Granter
}

// NewProcessor wires a Processor.
func NewProcessor(granter Granter) (*Processor, error) {
	if granter == nil {
		return nil, fmt.Errorf("%w: granter dependency is nil", petals.ErrInvalidServiceConfig)
	}
	return &Processor{granter: granter}, nil
}

// Process rewards the buyer for a completed order. Orders too small to earn
// a petal are acknowledged without a grant.
func (processor *Processor) Process(ctx context.Context, event OrderEvent) (petals.Receipt, bool, error) {
	if event.Type != eventOrderCompleted {
		return petals.Receipt{}, false, fmt.Errorf("%w: %q", ErrUnsupportedEvent, event.Type)
	}
	// A blank order id would collapse every such order onto one collect key.
	if strings.TrimSpace(event.OrderID) == "" {
		return petals.Receipt{}, false, ErrMissingOrderID
	}
	userID, err := petals.NewUserID(event.UserID)
	if err != nil {
		return petals.Receipt{}, false, err
	}
	petalReward := event.TotalCents / centsPerPetal
	if petalReward <= 0 {
		return petals.Receipt{}, false, nil
	}
	amount, err := petals.NewAmount(petalReward)
	if err != nil {
		return petals.Receipt{}, false, err
	}
	reason, err := petals.NewReason(reasonPrefixOrder + ":" + strings.TrimSpace(event.OrderID))
	if err != nil {
		return petals.Receipt{}, false, err
	}
	key, err := petals.NewCollectKey(fmt.Sprintf("%s:%s:%s", reasonPrefixOrder, event.OrderID, userID.String()))
	if err != nil {
		return petals.Receipt{}, false, err
	}
	metadata, err := petals.NewMetadataJSON(fmt.Sprintf(`{"order_id":%q,"total_cents":%d}`, event.OrderID, event.TotalCents))
	if err != nil {
		return petals.Receipt{}, false, err
	}
	return processor.granter.Collect(ctx, userID, amount, reason, key, metadata)
}
