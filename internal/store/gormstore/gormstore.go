// Package gormstore persists the booking core with GORM. Each domain
// contract gets its own store type so every transaction closure stays
// typed to its package; the booking store hands out a credit store bound
// to the same transaction for the reserve boundary.
package gormstore

import (
	"errors"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/rinkbook/internal/schedule"
	"github.com/MarkoPoloResearchLab/rinkbook/pkg/credits"
)

const (
	pgUniqueViolationCode = "23505"
	sqliteConstraintCode  = 19

	errorOperationStore    = "store"
	errorSubjectAccount    = "account"
	errorSubjectBatch      = "batch"
	errorSubjectEntry      = "entry"
	errorSubjectBooking    = "booking"
	errorSubjectOccupancy  = "occupancy"
	errorSubjectSchedule   = "schedule"
	errorSubjectUnpaired   = "unpaired_player"
	errorSubjectPairing    = "pairing"
	errorSubjectChange     = "change"
	errorCodeCreate        = "create"
	errorCodeGet           = "get"
	errorCodeInsert        = "insert"
	errorCodeInvalid       = "invalid"
	errorCodeList          = "list"
	errorCodeLookup        = "lookup"
	errorCodeCount         = "count"
	errorCodeSumRemaining  = "sum_remaining"
	errorCodeUpdate        = "update"
	errorCodeUpdateStatus  = "update_status"
	errorCodeDelete        = "delete"
)

// Migrate creates or updates every table the booking core persists.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&CreditAccount{},
		&CreditBatch{},
		&CreditEntry{},
		&BookingRecord{},
		&SlotOccupancy{},
		&RecurringScheduleRecord{},
		&UnpairedPlayerRecord{},
		&PairingRecord{},
		&ScheduleChangeRecord{},
	)
}

func wrapStoreError(subject string, code string, err error) error {
	return credits.WrapError(errorOperationStore, subject, code, err)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}

func slotDate(value time.Time) time.Time {
	return schedule.DateOf(value)
}

func timeOfDayOrZero(minutes int) schedule.TimeOfDay {
	value, err := schedule.TimeOfDayFromMinutes(minutes)
	if err != nil {
		return schedule.TimeOfDay{}
	}
	return value
}
