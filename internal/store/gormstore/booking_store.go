package gormstore

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MarkoPoloResearchLab/rinkbook/internal/booking"
	"github.com/MarkoPoloResearchLab/rinkbook/internal/pairing"
	"github.com/MarkoPoloResearchLab/rinkbook/internal/schedule"
	"github.com/MarkoPoloResearchLab/rinkbook/pkg/credits"
)

// BookingStore implements booking.Store using GORM.
type BookingStore struct {
	db *gorm.DB
}

// NewBookingStore returns a BookingStore backed by gorm.DB.
func NewBookingStore(db *gorm.DB) *BookingStore {
	return &BookingStore{db: db}
}

// WithTx executes fn within a transaction.
func (store *BookingStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore booking.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &BookingStore{db: transaction})
	})
}

// Credits returns a credit store bound to the same database handle, so a
// reserve transaction debits credits atomically with the slot counters.
func (store *BookingStore) Credits() credits.Store {
	return NewCreditStore(store.db)
}

func (store *BookingStore) InsertBooking(ctx context.Context, record booking.Booking) (booking.Booking, error) {
	model := BookingRecord{
		BookingID:     record.BookingID,
		PlayerID:      record.PlayerID,
		OwnerID:       record.Owner.String(),
		Program:       record.Program.String(),
		Pool:          record.Program.Pool().String(),
		Date:          slotDate(record.Date),
		Day:           int(slotDate(record.Date).Weekday()),
		StartMinutes:  record.Start.Minutes(),
		DurationHours: record.DurationHours,
		CreditCost:    record.CreditCost,
		Status:        string(record.Status),
		CreatedAt:     record.CreatedAt.UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return booking.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeInsert, err)
	}
	return mapBooking(model)
}

func (store *BookingStore) GetBooking(ctx context.Context, bookingID string) (booking.Booking, error) {
	var model BookingRecord
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("booking_id = ?", bookingID).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return booking.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeGet, booking.ErrUnknownBooking)
		}
		return booking.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeGet, err)
	}
	return mapBooking(model)
}

func (store *BookingStore) UpdateBookingStatus(ctx context.Context, bookingID string, from booking.Status, to booking.Status, at time.Time) error {
	updates := map[string]interface{}{"status": string(to)}
	if to == booking.StatusCancelled {
		cancelledAt := at.UTC()
		updates["cancelled_at"] = &cancelledAt
	}
	result := store.db.WithContext(ctx).
		Model(&BookingRecord{}).
		Where("booking_id = ? AND status = ?", bookingID, string(from)).
		Updates(updates)
	if result.Error != nil {
		return wrapStoreError(errorSubjectBooking, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectBooking, errorCodeUpdateStatus, booking.ErrBookingClosed)
	}
	return nil
}

func (store *BookingStore) UpdateBookingSlot(ctx context.Context, bookingID string, date time.Time, start schedule.TimeOfDay) error {
	normalized := slotDate(date)
	result := store.db.WithContext(ctx).
		Model(&BookingRecord{}).
		Where("booking_id = ?", bookingID).
		Updates(map[string]interface{}{
			"date":          normalized,
			"day":           int(normalized.Weekday()),
			"start_minutes": start.Minutes(),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectBooking, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectBooking, errorCodeUpdate, booking.ErrUnknownBooking)
	}
	return nil
}

func (store *BookingStore) ListBookingsByPlayer(ctx context.Context, playerID string, limit int) ([]booking.Booking, error) {
	var rows []BookingRecord
	query := store.db.WithContext(ctx).
		Where("player_id = ?", playerID).
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectBooking, errorCodeList, err)
	}
	bookings := make([]booking.Booking, 0, len(rows))
	for _, row := range rows {
		mapped, err := mapBooking(row)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, mapped)
	}
	return bookings, nil
}

// LockSlotCount upserts the counter row for the slot and reads it under a
// row lock, serializing concurrent reservations per (pool, date, start).
func (store *BookingStore) LockSlotCount(ctx context.Context, pool schedule.Pool, date time.Time, start schedule.TimeOfDay) (int, error) {
	row := SlotOccupancy{Pool: pool.String(), Date: slotDate(date), StartMinutes: start.Minutes()}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
	if err != nil && !isUniqueViolation(err) {
		return 0, wrapStoreError(errorSubjectOccupancy, errorCodeCreate, err)
	}
	var locked SlotOccupancy
	err = store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("pool = ? AND date = ? AND start_minutes = ?", pool.String(), slotDate(date), start.Minutes()).
		Take(&locked).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectOccupancy, errorCodeGet, err)
	}
	return locked.Booked, nil
}

func (store *BookingStore) AddSlotCount(ctx context.Context, pool schedule.Pool, date time.Time, start schedule.TimeOfDay, delta int) error {
	result := store.db.WithContext(ctx).
		Model(&SlotOccupancy{}).
		Where("pool = ? AND date = ? AND start_minutes = ?", pool.String(), slotDate(date), start.Minutes()).
		UpdateColumn("booked", gorm.Expr("booked + ?", delta))
	if result.Error != nil {
		return wrapStoreError(errorSubjectOccupancy, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		row := SlotOccupancy{Pool: pool.String(), Date: slotDate(date), StartMinutes: start.Minutes(), Booked: delta}
		if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
			return wrapStoreError(errorSubjectOccupancy, errorCodeCreate, err)
		}
	}
	return nil
}

func (store *BookingStore) SlotCount(ctx context.Context, pool schedule.Pool, date time.Time, start schedule.TimeOfDay) (int, error) {
	var row SlotOccupancy
	err := store.db.WithContext(ctx).
		Where("pool = ? AND date = ? AND start_minutes = ?", pool.String(), slotDate(date), start.Minutes()).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, wrapStoreError(errorSubjectOccupancy, errorCodeGet, err)
	}
	return row.Booked, nil
}

func (store *BookingStore) CountActivePairingsAt(ctx context.Context, day time.Weekday, start schedule.TimeOfDay) (int, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&PairingRecord{}).
		Where("day = ? AND start_minutes = ? AND status = ?", int(day), start.Minutes(), string(pairing.PairActive)).
		Count(&count).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectPairing, errorCodeCount, err)
	}
	return int(count), nil
}

func mapBooking(row BookingRecord) (booking.Booking, error) {
	owner, err := credits.NewOwnerID(row.OwnerID)
	if err != nil {
		return booking.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeInvalid, err)
	}
	program, err := schedule.ParseProgram(row.Program)
	if err != nil {
		return booking.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeInvalid, err)
	}
	start, err := schedule.TimeOfDayFromMinutes(row.StartMinutes)
	if err != nil {
		return booking.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeInvalid, err)
	}
	return booking.Booking{
		BookingID:     row.BookingID,
		PlayerID:      row.PlayerID,
		Owner:         owner,
		Program:       program,
		Date:          row.Date,
		Start:         start,
		DurationHours: row.DurationHours,
		CreditCost:    row.CreditCost,
		Status:        booking.Status(row.Status),
		CreatedAt:     row.CreatedAt,
		CancelledAt:   row.CancelledAt,
	}, nil
}
