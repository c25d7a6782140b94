package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CreditAccount represents the credit_accounts table, one row per parent.
type CreditAccount struct {
	AccountID string    `gorm:"type:uuid;primaryKey"`
	OwnerID   string    `gorm:"not null;uniqueIndex:uniq_credit_accounts_owner"`
	CreatedAt time.Time `gorm:"not null"`
}

func (CreditAccount) TableName() string { return "credit_accounts" }

func (account *CreditAccount) BeforeCreate(tx *gorm.DB) error {
	if account.AccountID == "" {
		account.AccountID = uuid.NewString()
	}
	return nil
}

// CreditBatch mirrors the credit_batches table. Batches keep their own
// expiry and are never merged.
type CreditBatch struct {
	BatchID        string    `gorm:"type:uuid;primaryKey"`
	AccountID      string    `gorm:"type:uuid;not null;index:idx_credit_batches_account_expiry,priority:1"`
	Source         string    `gorm:"not null"`
	Quantity       int       `gorm:"not null"`
	Remaining      int       `gorm:"not null"`
	PricePaidCents int64     `gorm:"not null"`
	PurchasedAt    time.Time `gorm:"not null"`
	ExpiresAt      time.Time `gorm:"not null;index:idx_credit_batches_account_expiry,priority:2"`
}

func (CreditBatch) TableName() string { return "credit_batches" }

func (batch *CreditBatch) BeforeCreate(tx *gorm.DB) error {
	if batch.BatchID == "" {
		batch.BatchID = uuid.NewString()
	}
	return nil
}

// CreditEntry mirrors the credit_entries table, the append-only history.
type CreditEntry struct {
	EntryID    string    `gorm:"type:uuid;primaryKey"`
	AccountID  string    `gorm:"type:uuid;not null;index:idx_credit_entries_account_created,priority:1"`
	Type       string    `gorm:"not null"`
	Quantity   int       `gorm:"not null"`
	BatchID    string    `gorm:"type:uuid"`
	BookingRef string    `gorm:"index:idx_credit_entries_booking_ref"`
	CreatedAt  time.Time `gorm:"not null;index:idx_credit_entries_account_created,priority:2"`
}

func (CreditEntry) TableName() string { return "credit_entries" }

func (entry *CreditEntry) BeforeCreate(tx *gorm.DB) error {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	return nil
}

// BookingRecord mirrors the bookings table. Day duplicates Date's weekday
// so standing-slot queries need no portable weekday SQL.
type BookingRecord struct {
	BookingID     string    `gorm:"type:uuid;primaryKey"`
	PlayerID      string    `gorm:"not null;index:idx_bookings_player_created,priority:1"`
	OwnerID       string    `gorm:"not null"`
	Program       string    `gorm:"not null"`
	Pool          string    `gorm:"not null;index:idx_bookings_slot,priority:1"`
	Date          time.Time `gorm:"not null;index:idx_bookings_slot,priority:2"`
	Day           int       `gorm:"not null"`
	StartMinutes  int       `gorm:"not null;index:idx_bookings_slot,priority:3"`
	DurationHours int       `gorm:"not null"`
	CreditCost    int       `gorm:"not null"`
	Status        string    `gorm:"not null"`
	CreatedAt     time.Time `gorm:"not null;index:idx_bookings_player_created,priority:2"`
	CancelledAt   *time.Time
}

func (BookingRecord) TableName() string { return "bookings" }

func (record *BookingRecord) BeforeCreate(tx *gorm.DB) error {
	if record.BookingID == "" {
		record.BookingID = uuid.NewString()
	}
	return nil
}

// SlotOccupancy is the explicit per-slot counter the reservation boundary
// locks. One row per (pool, date, start).
type SlotOccupancy struct {
	Pool         string    `gorm:"primaryKey"`
	Date         time.Time `gorm:"primaryKey"`
	StartMinutes int       `gorm:"primaryKey"`
	Booked       int       `gorm:"not null"`
}

func (SlotOccupancy) TableName() string { return "slot_occupancy" }

// RecurringScheduleRecord mirrors the recurring_schedules table.
type RecurringScheduleRecord struct {
	ScheduleID    string    `gorm:"type:uuid;primaryKey"`
	PlayerID      string    `gorm:"not null;index:idx_recurring_player"`
	OwnerID       string    `gorm:"not null"`
	Program       string    `gorm:"not null"`
	Day           int       `gorm:"not null"`
	StartMinutes  int       `gorm:"not null"`
	DurationHours int       `gorm:"not null"`
	Active        bool      `gorm:"not null;index:idx_recurring_due,priority:1"`
	PausedReason  string    `gorm:""`
	NextDate      time.Time `gorm:"not null;index:idx_recurring_due,priority:2"`
	CreatedAt     time.Time `gorm:"not null"`
}

func (RecurringScheduleRecord) TableName() string { return "recurring_schedules" }

func (record *RecurringScheduleRecord) BeforeCreate(tx *gorm.DB) error {
	if record.ScheduleID == "" {
		record.ScheduleID = uuid.NewString()
	}
	return nil
}

// UnpairedPlayerRecord mirrors the unpaired_players table. Days holds
// weekday numbers and Times start minutes, both as JSON arrays.
type UnpairedPlayerRecord struct {
	PlayerID     string         `gorm:"primaryKey"`
	Category     string         `gorm:"not null;index:idx_unpaired_category_status,priority:1"`
	Days         datatypes.JSON `gorm:"not null"`
	Times        datatypes.JSON `gorm:"not null"`
	Status       string         `gorm:"not null;index:idx_unpaired_category_status,priority:2"`
	WaitingSince time.Time      `gorm:"not null"`
}

func (UnpairedPlayerRecord) TableName() string { return "unpaired_players" }

// PairingRecord mirrors the pairings table.
type PairingRecord struct {
	PairingID      string    `gorm:"type:uuid;primaryKey"`
	PlayerOneID    string    `gorm:"not null;index:idx_pairings_player_one"`
	PlayerTwoID    string    `gorm:"not null;index:idx_pairings_player_two"`
	Category       string    `gorm:"not null"`
	Day            int       `gorm:"not null;index:idx_pairings_slot,priority:1"`
	StartMinutes   int       `gorm:"not null;index:idx_pairings_slot,priority:2"`
	Status         string    `gorm:"not null;index:idx_pairings_slot,priority:3"`
	CreatedAt      time.Time `gorm:"not null"`
	DissolvedAt    *time.Time
	DissolveReason string `gorm:""`
	DissolveActor  string `gorm:""`
}

func (PairingRecord) TableName() string { return "pairings" }

func (record *PairingRecord) BeforeCreate(tx *gorm.DB) error {
	if record.PairingID == "" {
		record.PairingID = uuid.NewString()
	}
	return nil
}

// ScheduleChangeRecord mirrors the schedule_changes table.
type ScheduleChangeRecord struct {
	ChangeID        string    `gorm:"type:uuid;primaryKey"`
	PlayerID        string    `gorm:"not null;index:idx_changes_player"`
	Kind            string    `gorm:"not null"`
	Status          string    `gorm:"not null"`
	Reason          string    `gorm:""`
	ScheduleID      string    `gorm:""`
	Date            time.Time `gorm:""`
	StartMinutes    int       `gorm:"not null"`
	Skip            bool      `gorm:"not null"`
	NewDate         time.Time `gorm:""`
	NewDay          int       `gorm:"not null"`
	NewStartMinutes int       `gorm:"not null"`
	ApproverID      string    `gorm:""`
	RequestedAt     time.Time `gorm:"not null"`
	DecidedAt       *time.Time
	AppliedAt       *time.Time
}

func (ScheduleChangeRecord) TableName() string { return "schedule_changes" }

func (record *ScheduleChangeRecord) BeforeCreate(tx *gorm.DB) error {
	if record.ChangeID == "" {
		record.ChangeID = uuid.NewString()
	}
	return nil
}
