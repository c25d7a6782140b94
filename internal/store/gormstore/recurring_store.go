package gormstore

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/rinkbook/internal/recurring"
	"github.com/MarkoPoloResearchLab/rinkbook/internal/schedule"
	"github.com/MarkoPoloResearchLab/rinkbook/pkg/credits"
)

// RecurringStore implements recurring.Store using GORM.
type RecurringStore struct {
	db *gorm.DB
}

// NewRecurringStore returns a RecurringStore backed by gorm.DB.
func NewRecurringStore(db *gorm.DB) *RecurringStore {
	return &RecurringStore{db: db}
}

// WithTx executes fn within a transaction.
func (store *RecurringStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore recurring.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &RecurringStore{db: transaction})
	})
}

func (store *RecurringStore) InsertSchedule(ctx context.Context, record recurring.Schedule) (recurring.Schedule, error) {
	model := RecurringScheduleRecord{
		ScheduleID:    record.ScheduleID,
		PlayerID:      record.PlayerID,
		OwnerID:       record.Owner.String(),
		Program:       record.Program.String(),
		Day:           int(record.Day),
		StartMinutes:  record.Start.Minutes(),
		DurationHours: record.DurationHours,
		Active:        record.Active,
		PausedReason:  record.PausedReason,
		NextDate:      record.NextDate.UTC(),
		CreatedAt:     record.CreatedAt.UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return recurring.Schedule{}, wrapStoreError(errorSubjectSchedule, errorCodeInsert, err)
	}
	return mapSchedule(model)
}

func (store *RecurringStore) GetSchedule(ctx context.Context, scheduleID string) (recurring.Schedule, error) {
	var model RecurringScheduleRecord
	err := store.db.WithContext(ctx).
		Where("schedule_id = ?", scheduleID).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return recurring.Schedule{}, wrapStoreError(errorSubjectSchedule, errorCodeGet, recurring.ErrUnknownSchedule)
		}
		return recurring.Schedule{}, wrapStoreError(errorSubjectSchedule, errorCodeGet, err)
	}
	return mapSchedule(model)
}

func (store *RecurringStore) ListDueSchedules(ctx context.Context, at time.Time) ([]recurring.Schedule, error) {
	var rows []RecurringScheduleRecord
	err := store.db.WithContext(ctx).
		Where("active = ? AND next_date <= ?", true, at.UTC()).
		Order("next_date ASC, schedule_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectSchedule, errorCodeList, err)
	}
	return mapSchedules(rows)
}

func (store *RecurringStore) ListSchedulesByPlayer(ctx context.Context, playerID string) ([]recurring.Schedule, error) {
	var rows []RecurringScheduleRecord
	err := store.db.WithContext(ctx).
		Where("player_id = ?", playerID).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectSchedule, errorCodeList, err)
	}
	return mapSchedules(rows)
}

func (store *RecurringStore) UpdateNextDate(ctx context.Context, scheduleID string, nextDate time.Time) error {
	result := store.db.WithContext(ctx).
		Model(&RecurringScheduleRecord{}).
		Where("schedule_id = ?", scheduleID).
		UpdateColumn("next_date", nextDate.UTC())
	if result.Error != nil {
		return wrapStoreError(errorSubjectSchedule, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectSchedule, errorCodeUpdate, recurring.ErrUnknownSchedule)
	}
	return nil
}

func (store *RecurringStore) SetScheduleActive(ctx context.Context, scheduleID string, active bool, pausedReason string) error {
	result := store.db.WithContext(ctx).
		Model(&RecurringScheduleRecord{}).
		Where("schedule_id = ?", scheduleID).
		Updates(map[string]interface{}{"active": active, "paused_reason": pausedReason})
	if result.Error != nil {
		return wrapStoreError(errorSubjectSchedule, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectSchedule, errorCodeUpdateStatus, recurring.ErrUnknownSchedule)
	}
	return nil
}

func (store *RecurringStore) UpdateScheduleSlot(ctx context.Context, scheduleID string, day time.Weekday, start schedule.TimeOfDay, nextDate time.Time) error {
	result := store.db.WithContext(ctx).
		Model(&RecurringScheduleRecord{}).
		Where("schedule_id = ?", scheduleID).
		Updates(map[string]interface{}{
			"day":           int(day),
			"start_minutes": start.Minutes(),
			"next_date":     nextDate.UTC(),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectSchedule, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectSchedule, errorCodeUpdate, recurring.ErrUnknownSchedule)
	}
	return nil
}

func (store *RecurringStore) DeleteSchedule(ctx context.Context, scheduleID string) error {
	result := store.db.WithContext(ctx).
		Where("schedule_id = ?", scheduleID).
		Delete(&RecurringScheduleRecord{})
	if result.Error != nil {
		return wrapStoreError(errorSubjectSchedule, errorCodeDelete, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectSchedule, errorCodeDelete, recurring.ErrUnknownSchedule)
	}
	return nil
}

func mapSchedule(row RecurringScheduleRecord) (recurring.Schedule, error) {
	owner, err := credits.NewOwnerID(row.OwnerID)
	if err != nil {
		return recurring.Schedule{}, wrapStoreError(errorSubjectSchedule, errorCodeInvalid, err)
	}
	program, err := schedule.ParseProgram(row.Program)
	if err != nil {
		return recurring.Schedule{}, wrapStoreError(errorSubjectSchedule, errorCodeInvalid, err)
	}
	return recurring.Schedule{
		ScheduleID:    row.ScheduleID,
		PlayerID:      row.PlayerID,
		Owner:         owner,
		Program:       program,
		Day:           time.Weekday(row.Day),
		Start:         timeOfDayOrZero(row.StartMinutes),
		DurationHours: row.DurationHours,
		Active:        row.Active,
		PausedReason:  row.PausedReason,
		NextDate:      row.NextDate,
		CreatedAt:     row.CreatedAt,
	}, nil
}

func mapSchedules(rows []RecurringScheduleRecord) ([]recurring.Schedule, error) {
	schedules := make([]recurring.Schedule, 0, len(rows))
	for _, row := range rows {
		record, err := mapSchedule(row)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, record)
	}
	return schedules, nil
}
