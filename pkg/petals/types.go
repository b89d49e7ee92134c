package petals

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// UserID identifies a wallet owner. The value is the external identity
// provider's subject string.
type UserID struct {
	value string
}

// Amount is a strictly positive petal magnitude.
type Amount struct {
	value int64
}

// Delta is a signed, non-zero petal correction applied by Adjust.
type Delta struct {
	value int64
}

// Reason is a coded description of why a transaction occurred,
// e.g. "quest:daily" or "shop:sku_frame".
type Reason struct {
	value string
}

// CollectKey scopes duplicate detection for engagement-driven credits.
type CollectKey struct {
	value string
}

// MetadataJSON stores arbitrary structured context for an entry.
type MetadataJSON struct {
	value string
}

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return UserID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// NewAmount validates a petal amount and ensures it is strictly positive.
func NewAmount(raw int64) (Amount, error) {
	if raw <= 0 {
		return Amount{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return Amount{value: raw}, nil
}

// Int64 returns the raw magnitude.
func (amount Amount) Int64() int64 {
	return amount.value
}

// NewDelta validates a signed correction amount.
func NewDelta(raw int64) (Delta, error) {
	if raw == 0 {
		return Delta{}, fmt.Errorf("%w: must be non-zero", ErrInvalidAmount)
	}
	return Delta{value: raw}, nil
}

// Int64 returns the signed value.
func (delta Delta) Int64() int64 {
	return delta.value
}

// Magnitude returns the absolute value recorded on the ledger entry.
func (delta Delta) Magnitude() int64 {
	if delta.value < 0 {
		return -delta.value
	}
	return delta.value
}

// NewReason validates and normalizes a reason tag.
func NewReason(raw string) (Reason, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Reason{}, fmt.Errorf("%w: empty value", ErrInvalidReason)
	}
	return Reason{value: trimmed}, nil
}

// String returns the normalized reason.
func (reason Reason) String() string {
	return reason.value
}

// NewCollectKey validates and normalizes an idempotency key.
func NewCollectKey(raw string) (CollectKey, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return CollectKey{}, fmt.Errorf("%w: empty value", ErrInvalidCollectKey)
	}
	return CollectKey{value: trimmed}, nil
}

// String returns the normalized key.
func (key CollectKey) String() string {
	return key.value
}

// NewMetadataJSON validates metadata (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	return metadata.value
}

// EntryKind enumerates ledger entry kinds.
type EntryKind string

const (
	EntryEarn   EntryKind = "earn"
	EntrySpend  EntryKind = "spend"
	EntryAdjust EntryKind = "adjust"
)

// ParseEntryKind validates a stored kind string.
func ParseEntryKind(raw string) (EntryKind, error) {
	switch EntryKind(raw) {
	case EntryEarn, EntrySpend, EntryAdjust:
		return EntryKind(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidEntryKind, raw)
}

// String returns the kind as stored.
func (kind EntryKind) String() string {
	return string(kind)
}

// Signed returns the magnitude with the sign the kind contributes to the
// balance: earn adds, spend subtracts, adjust carries its own sign.
func (kind EntryKind) Signed(magnitude int64, negative bool) int64 {
	switch kind {
	case EntrySpend:
		return -magnitude
	case EntryAdjust:
		if negative {
			return -magnitude
		}
		return magnitude
	default:
		return magnitude
	}
}

// EntryInput carries the fields the service computes for a new ledger row.
type EntryInput struct {
	UserID         UserID
	Kind           EntryKind
	Amount         int64
	Negative       bool
	BalanceAfter   int64
	Reason         Reason
	CollectKey     *CollectKey
	Metadata       MetadataJSON
	CreatedUnixUTC int64
}

// A single immutable line in the petal ledger.
type Entry struct {
	EntryID        string
	UserID         string
	Kind           EntryKind
	Amount         int64
	Negative       bool
	BalanceAfter   int64
	Reason         string
	CollectKey     string
	MetadataJSON   string
	CreatedUnixUTC int64
}

// UserRecord is the denormalized balance row for a user.
type UserRecord struct {
	UserID         string
	PetalBalance   int64
	LifetimeEarned int64
}

// Receipt describes the outcome of a successful ledger operation.
type Receipt struct {
	EntryID        string
	Kind           EntryKind
	Amount         int64
	BalanceAfter   int64
	Reason         string
	CreatedUnixUTC int64
}

// Wallet is the read view served to the storefront UI.
type Wallet struct {
	Balance        int64
	LifetimeEarned int64
	Entries        []Entry
}

// Store is the persistence contract used by Service. All balance mutation
// happens inside WithTx so the read-check-write is a single atomic unit.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	// GetOrCreateUser upserts the user row; inside WithTx the returned row is
	// locked for the remainder of the transaction.
	GetOrCreateUser(ctx context.Context, userID UserID) (UserRecord, error)
	UpdateUserBalance(ctx context.Context, userID UserID, balance int64, lifetimeEarned int64) error
	InsertEntry(ctx context.Context, input EntryInput) (Entry, error)
	FindEntryByCollectKey(ctx context.Context, userID UserID, key CollectKey) (Entry, error)
	ListEntries(ctx context.Context, userID UserID, limit int) ([]Entry, error)
}
