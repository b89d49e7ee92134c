package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// User represents the users table. PetalBalance is a denormalized cache of
// the ledger sum and is only ever written inside a ledger transaction.
type User struct {
	UserID         string    `gorm:"primaryKey"`
	PetalBalance   int64     `gorm:"not null;default:0"`
	LifetimeEarned int64     `gorm:"not null;default:0"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

func (User) TableName() string { return "users" }

// PetalLedgerEntry mirrors the petal_ledger_entries table. Rows are
// append-only; there is no update path. Seq is the insertion-ordered key
// (second-resolution timestamps alone cannot break ties); EntryID is the
// identifier exposed outside the store.
type PetalLedgerEntry struct {
	Seq          int64          `gorm:"primaryKey;autoIncrement"`
	EntryID      string         `gorm:"type:uuid;not null;uniqueIndex"`
	UserID       string         `gorm:"not null;index:idx_petal_entries_user_created,priority:1;index:uniq_petal_collect,unique,priority:1"`
	Kind         string         `gorm:"not null"`
	Amount       int64          `gorm:"not null"`
	Negative     bool           `gorm:"not null;default:false"`
	BalanceAfter int64          `gorm:"not null"`
	Reason       string         `gorm:"not null"`
	CollectKey   *string        `gorm:"index:uniq_petal_collect,unique,priority:2"`
	Metadata     datatypes.JSON `gorm:"not null"`
	CreatedAt    time.Time      `gorm:"not null;index:idx_petal_entries_user_created,priority:2"`
}

func (PetalLedgerEntry) TableName() string { return "petal_ledger_entries" }

func (entry *PetalLedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	return nil
}

// VoucherRedemption records a redeemed voucher code. The composite primary
// key enforces redeem-once per user.
type VoucherRedemption struct {
	VoucherCode string    `gorm:"primaryKey"`
	UserID      string    `gorm:"primaryKey"`
	CreatedAt   time.Time `gorm:"not null"`
}

func (VoucherRedemption) TableName() string { return "voucher_redemptions" }
