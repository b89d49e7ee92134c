package gormstore

import (
	"context"
	"errors"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/otakumori/petals/internal/shop"
	"github.com/otakumori/petals/pkg/petals"
)

const (
	constraintCollectKey   = "uniq_petal_collect"
	constraintVoucherPK    = "voucher_redemptions_pkey"
	defaultMetadataJSON    = "{}"
	pgUniqueViolationCode  = "23505"
	sqliteConstraintCode   = 19
	dialectPostgres        = "postgres"
	errorOperationStore    = "store"
	errorSubjectUser       = "user"
	errorSubjectEntry      = "entry"
	errorSubjectVoucher    = "voucher"
	errorCodeCreate        = "create"
	errorCodeDuplicate     = "duplicate"
	errorCodeInsert        = "insert"
	errorCodeInvalid       = "invalid"
	errorCodeList          = "list"
	errorCodeLookup        = "lookup"
	errorCodeUpdateBalance = "update_balance"
)

// Store implements petals.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the schema. Production postgres deployments run managed
// migrations instead; this covers sqlite and tests.
func (store *Store) Migrate() error {
	return store.db.AutoMigrate(&User{}, &PetalLedgerEntry{}, &VoucherRedemption{})
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore petals.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

// GetOrCreateUser upserts the user row and returns it. Inside a transaction
// on postgres the returned row is locked FOR UPDATE so a concurrent
// credit/debit for the same user serializes behind it; sqlite serializes
// writing transactions on its own.
func (store *Store) GetOrCreateUser(ctx context.Context, userID petals.UserID) (petals.UserRecord, error) {
	seed := User{UserID: userID.String()}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(&seed).Error
	if err != nil {
		return petals.UserRecord{}, wrapStoreError(errorSubjectUser, errorCodeCreate, err)
	}
	query := store.db.WithContext(ctx)
	if store.db.Dialector.Name() == dialectPostgres {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var row User
	if err := query.Where("user_id = ?", userID.String()).Take(&row).Error; err != nil {
		return petals.UserRecord{}, wrapStoreError(errorSubjectUser, errorCodeLookup, err)
	}
	return petals.UserRecord{
		UserID:         row.UserID,
		PetalBalance:   row.PetalBalance,
		LifetimeEarned: row.LifetimeEarned,
	}, nil
}

// UpdateUserBalance writes the denormalized balance fields.
func (store *Store) UpdateUserBalance(ctx context.Context, userID petals.UserID, balance int64, lifetimeEarned int64) error {
	result := store.db.WithContext(ctx).
		Model(&User{}).
		Where("user_id = ?", userID.String()).
		Updates(map[string]interface{}{
			"petal_balance":   balance,
			"lifetime_earned": lifetimeEarned,
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectUser, errorCodeUpdateBalance, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectUser, errorCodeUpdateBalance, gorm.ErrRecordNotFound)
	}
	return nil
}

// InsertEntry appends a ledger row, surfacing collect-key duplicates as
// petals.ErrDuplicateCollect.
func (store *Store) InsertEntry(ctx context.Context, input petals.EntryInput) (petals.Entry, error) {
	var collectKey *string
	if input.CollectKey != nil {
		value := input.CollectKey.String()
		collectKey = &value
	}
	row := PetalLedgerEntry{
		UserID:       input.UserID.String(),
		Kind:         input.Kind.String(),
		Amount:       input.Amount,
		Negative:     input.Negative,
		BalanceAfter: input.BalanceAfter,
		Reason:       input.Reason.String(),
		CollectKey:   collectKey,
		Metadata:     datatypesJSON(input.Metadata.String()),
		CreatedAt:    time.Unix(input.CreatedUnixUTC, 0).UTC(),
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err, constraintCollectKey) {
		return petals.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeDuplicate, petals.ErrDuplicateCollect)
	}
	if err != nil {
		return petals.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	entry, err := mapLedgerEntry(row)
	if err != nil {
		return petals.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	return entry, nil
}

// FindEntryByCollectKey returns the entry previously recorded for a key.
func (store *Store) FindEntryByCollectKey(ctx context.Context, userID petals.UserID, key petals.CollectKey) (petals.Entry, error) {
	var row PetalLedgerEntry
	err := store.db.WithContext(ctx).
		Where("user_id = ? AND collect_key = ?", userID.String(), key.String()).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return petals.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeLookup, petals.ErrEntryNotFound)
		}
		return petals.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeLookup, err)
	}
	entry, err := mapLedgerEntry(row)
	if err != nil {
		return petals.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	return entry, nil
}

// ListEntries returns the newest entries for a user.
func (store *Store) ListEntries(ctx context.Context, userID petals.UserID, limit int) ([]petals.Entry, error) {
	var rows []PetalLedgerEntry
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Order("seq DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	entries := make([]petals.Entry, 0, len(rows))
	for _, row := range rows {
		entry, err := mapLedgerEntry(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// RedeemVoucher records a redemption, surfacing repeats as
// shop.ErrVoucherAlreadyRedeemed.
func (store *Store) RedeemVoucher(ctx context.Context, voucherCode string, userID petals.UserID) error {
	row := VoucherRedemption{
		VoucherCode: voucherCode,
		UserID:      userID.String(),
		CreatedAt:   time.Now().UTC(),
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err, constraintVoucherPK) {
		return wrapStoreError(errorSubjectVoucher, errorCodeDuplicate, shop.ErrVoucherAlreadyRedeemed)
	}
	if err != nil {
		return wrapStoreError(errorSubjectVoucher, errorCodeCreate, err)
	}
	return nil
}

func wrapStoreError(subject string, code string, err error) error {
	return petals.WrapError(errorOperationStore, subject, code, err)
}

func mapLedgerEntry(row PetalLedgerEntry) (petals.Entry, error) {
	kind, err := petals.ParseEntryKind(row.Kind)
	if err != nil {
		return petals.Entry{}, err
	}
	collectKey := ""
	if row.CollectKey != nil {
		collectKey = *row.CollectKey
	}
	return petals.Entry{
		EntryID:        row.EntryID,
		UserID:         row.UserID,
		Kind:           kind,
		Amount:         row.Amount,
		Negative:       row.Negative,
		BalanceAfter:   row.BalanceAfter,
		Reason:         row.Reason,
		CollectKey:     collectKey,
		MetadataJSON:   string(row.Metadata),
		CreatedUnixUTC: row.CreatedAt.Unix(),
	}, nil
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintName
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
