package gormstore

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/rinkbook/internal/booking"
	"github.com/MarkoPoloResearchLab/rinkbook/internal/reschedule"
	"github.com/MarkoPoloResearchLab/rinkbook/internal/schedule"
)

// ChangeStore implements reschedule.Store using GORM.
type ChangeStore struct {
	db *gorm.DB
}

// NewChangeStore returns a ChangeStore backed by gorm.DB.
func NewChangeStore(db *gorm.DB) *ChangeStore {
	return &ChangeStore{db: db}
}

// WithTx executes fn within a transaction.
func (store *ChangeStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore reschedule.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &ChangeStore{db: transaction})
	})
}

func (store *ChangeStore) InsertChange(ctx context.Context, record reschedule.Change) (reschedule.Change, error) {
	model := ScheduleChangeRecord{
		ChangeID:        record.ChangeID,
		PlayerID:        record.PlayerID,
		Kind:            string(record.Kind),
		Status:          string(record.Status),
		Reason:          record.Reason,
		ScheduleID:      record.ScheduleID,
		Date:            record.Date.UTC(),
		StartMinutes:    record.Start.Minutes(),
		Skip:            record.Skip,
		NewDate:         record.NewDate.UTC(),
		NewDay:          int(record.NewDay),
		NewStartMinutes: record.NewStart.Minutes(),
		ApproverID:      record.ApproverID,
		RequestedAt:     record.RequestedAt.UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return reschedule.Change{}, wrapStoreError(errorSubjectChange, errorCodeInsert, err)
	}
	return mapChange(model), nil
}

func (store *ChangeStore) GetChange(ctx context.Context, changeID string) (reschedule.Change, error) {
	var model ScheduleChangeRecord
	err := store.db.WithContext(ctx).
		Where("change_id = ?", changeID).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return reschedule.Change{}, wrapStoreError(errorSubjectChange, errorCodeGet, reschedule.ErrUnknownChange)
		}
		return reschedule.Change{}, wrapStoreError(errorSubjectChange, errorCodeGet, err)
	}
	return mapChange(model), nil
}

func (store *ChangeStore) UpdateChangeStatus(ctx context.Context, changeID string, from reschedule.Status, to reschedule.Status, at time.Time, approverID string) error {
	stamp := at.UTC()
	updates := map[string]interface{}{"status": string(to)}
	switch to {
	case reschedule.StatusApplied:
		updates["applied_at"] = &stamp
	default:
		updates["decided_at"] = &stamp
	}
	if approverID != "" {
		updates["approver_id"] = approverID
	}
	result := store.db.WithContext(ctx).
		Model(&ScheduleChangeRecord{}).
		Where("change_id = ? AND status = ?", changeID, string(from)).
		Updates(updates)
	if result.Error != nil {
		return wrapStoreError(errorSubjectChange, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectChange, errorCodeUpdateStatus, reschedule.ErrInvalidTransition)
	}
	return nil
}

func (store *ChangeStore) ListChangesByPlayer(ctx context.Context, playerID string) ([]reschedule.Change, error) {
	var rows []ScheduleChangeRecord
	err := store.db.WithContext(ctx).
		Where("player_id = ?", playerID).
		Order("requested_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectChange, errorCodeList, err)
	}
	changes := make([]reschedule.Change, 0, len(rows))
	for _, row := range rows {
		changes = append(changes, mapChange(row))
	}
	return changes, nil
}

// FindBookingID resolves the open booking a one-time exception targets.
func (store *ChangeStore) FindBookingID(ctx context.Context, playerID string, date time.Time, start schedule.TimeOfDay) (string, error) {
	var model BookingRecord
	err := store.db.WithContext(ctx).
		Where("player_id = ? AND date = ? AND start_minutes = ? AND status IN ?",
			playerID, slotDate(date), start.Minutes(),
			[]string{string(booking.StatusBooked), string(booking.StatusProvisional)}).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", wrapStoreError(errorSubjectChange, errorCodeLookup, reschedule.ErrUnknownTargetBooking)
		}
		return "", wrapStoreError(errorSubjectChange, errorCodeLookup, err)
	}
	return model.BookingID, nil
}

func mapChange(row ScheduleChangeRecord) reschedule.Change {
	return reschedule.Change{
		ChangeID:    row.ChangeID,
		PlayerID:    row.PlayerID,
		Kind:        reschedule.Kind(row.Kind),
		Status:      reschedule.Status(row.Status),
		Reason:      row.Reason,
		ScheduleID:  row.ScheduleID,
		Date:        row.Date,
		Start:       timeOfDayOrZero(row.StartMinutes),
		Skip:        row.Skip,
		NewDate:     row.NewDate,
		NewDay:      time.Weekday(row.NewDay),
		NewStart:    timeOfDayOrZero(row.NewStartMinutes),
		ApproverID:  row.ApproverID,
		RequestedAt: row.RequestedAt,
		DecidedAt:   row.DecidedAt,
		AppliedAt:   row.AppliedAt,
	}
}
