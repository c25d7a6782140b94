package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MarkoPoloResearchLab/rinkbook/internal/booking"
	"github.com/MarkoPoloResearchLab/rinkbook/internal/pairing"
	"github.com/MarkoPoloResearchLab/rinkbook/internal/schedule"
)

// PairingStore implements pairing.Store using GORM.
type PairingStore struct {
	db *gorm.DB
}

// NewPairingStore returns a PairingStore backed by gorm.DB.
func NewPairingStore(db *gorm.DB) *PairingStore {
	return &PairingStore{db: db}
}

// WithTx executes fn within a transaction.
func (store *PairingStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore pairing.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &PairingStore{db: transaction})
	})
}

func (store *PairingStore) UpsertUnpairedPlayer(ctx context.Context, player pairing.UnpairedPlayer) error {
	days, err := marshalDays(player.Days)
	if err != nil {
		return wrapStoreError(errorSubjectUnpaired, errorCodeInvalid, err)
	}
	times, err := marshalTimes(player.Times)
	if err != nil {
		return wrapStoreError(errorSubjectUnpaired, errorCodeInvalid, err)
	}
	model := UnpairedPlayerRecord{
		PlayerID:     player.PlayerID,
		Category:     player.Category,
		Days:         days,
		Times:        times,
		Status:       string(player.Status),
		WaitingSince: player.WaitingSince.UTC(),
	}
	err = store.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&model).Error
	if err != nil {
		return wrapStoreError(errorSubjectUnpaired, errorCodeCreate, err)
	}
	return nil
}

func (store *PairingStore) GetUnpairedPlayer(ctx context.Context, playerID string) (pairing.UnpairedPlayer, error) {
	var model UnpairedPlayerRecord
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("player_id = ?", playerID).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pairing.UnpairedPlayer{}, wrapStoreError(errorSubjectUnpaired, errorCodeGet, pairing.ErrUnknownPlayer)
		}
		return pairing.UnpairedPlayer{}, wrapStoreError(errorSubjectUnpaired, errorCodeGet, err)
	}
	return mapUnpairedPlayer(model)
}

func (store *PairingStore) ListWaitingPlayers(ctx context.Context, category string) ([]pairing.UnpairedPlayer, error) {
	var rows []UnpairedPlayerRecord
	err := store.db.WithContext(ctx).
		Where("category = ? AND status = ?", category, string(pairing.StatusWaiting)).
		Order("waiting_since ASC, player_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectUnpaired, errorCodeList, err)
	}
	players := make([]pairing.UnpairedPlayer, 0, len(rows))
	for _, row := range rows {
		player, err := mapUnpairedPlayer(row)
		if err != nil {
			return nil, err
		}
		players = append(players, player)
	}
	return players, nil
}

func (store *PairingStore) SetUnpairedStatus(ctx context.Context, playerID string, status pairing.UnpairedStatus, waitingSince time.Time) error {
	updates := map[string]interface{}{"status": string(status)}
	if status == pairing.StatusWaiting {
		updates["waiting_since"] = waitingSince.UTC()
	}
	result := store.db.WithContext(ctx).
		Model(&UnpairedPlayerRecord{}).
		Where("player_id = ?", playerID).
		Updates(updates)
	if result.Error != nil {
		return wrapStoreError(errorSubjectUnpaired, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectUnpaired, errorCodeUpdateStatus, pairing.ErrUnknownPlayer)
	}
	return nil
}

func (store *PairingStore) InsertPairing(ctx context.Context, record pairing.Pairing) (pairing.Pairing, error) {
	model := PairingRecord{
		PairingID:    record.PairingID,
		PlayerOneID:  record.PlayerOneID,
		PlayerTwoID:  record.PlayerTwoID,
		Category:     record.Category,
		Day:          int(record.Day),
		StartMinutes: record.Start.Minutes(),
		Status:       string(record.Status),
		CreatedAt:    record.CreatedAt.UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return pairing.Pairing{}, wrapStoreError(errorSubjectPairing, errorCodeInsert, err)
	}
	return mapPairing(model), nil
}

func (store *PairingStore) GetPairing(ctx context.Context, pairingID string) (pairing.Pairing, error) {
	var model PairingRecord
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("pairing_id = ?", pairingID).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pairing.Pairing{}, wrapStoreError(errorSubjectPairing, errorCodeGet, pairing.ErrUnknownPairing)
		}
		return pairing.Pairing{}, wrapStoreError(errorSubjectPairing, errorCodeGet, err)
	}
	return mapPairing(model), nil
}

func (store *PairingStore) GetActivePairingForPlayer(ctx context.Context, playerID string) (pairing.Pairing, error) {
	var model PairingRecord
	err := store.db.WithContext(ctx).
		Where("status = ? AND (player_one_id = ? OR player_two_id = ?)", string(pairing.PairActive), playerID, playerID).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pairing.Pairing{}, wrapStoreError(errorSubjectPairing, errorCodeGet, pairing.ErrUnknownPairing)
		}
		return pairing.Pairing{}, wrapStoreError(errorSubjectPairing, errorCodeGet, err)
	}
	return mapPairing(model), nil
}

func (store *PairingStore) UpdatePairingStatus(ctx context.Context, pairingID string, from pairing.PairStatus, to pairing.PairStatus, at time.Time, reason string, actor string) error {
	updates := map[string]interface{}{"status": string(to)}
	if to == pairing.PairDissolved {
		dissolvedAt := at.UTC()
		updates["dissolved_at"] = &dissolvedAt
		updates["dissolve_reason"] = reason
		updates["dissolve_actor"] = actor
	}
	result := store.db.WithContext(ctx).
		Model(&PairingRecord{}).
		Where("pairing_id = ? AND status = ?", pairingID, string(from)).
		Updates(updates)
	if result.Error != nil {
		return wrapStoreError(errorSubjectPairing, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectPairing, errorCodeUpdateStatus, pairing.ErrPairingClosed)
	}
	return nil
}

func (store *PairingStore) CountActivePairingsAt(ctx context.Context, day time.Weekday, start schedule.TimeOfDay) (int, error) {
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

// CountUpcomingBookingsAt counts open shared-pool bookings standing on the
// weekly slot a new pairing would occupy.
func (store *PairingStore) CountUpcomingBookingsAt(ctx context.Context, day time.Weekday, start schedule.TimeOfDay, from time.Time) (int, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&BookingRecord{}).
		Where("pool = ? AND day = ? AND start_minutes = ? AND date >= ? AND status IN ?",
			schedule.PoolShared.String(), int(day), start.Minutes(), slotDate(from),
			[]string{string(booking.StatusBooked), string(booking.StatusProvisional)}).
		Count(&count).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectBooking, errorCodeCount, err)
	}
	return int(count), nil
}

func mapPairing(row PairingRecord) pairing.Pairing {
	return pairing.Pairing{
		PairingID:      row.PairingID,
		PlayerOneID:    row.PlayerOneID,
		PlayerTwoID:    row.PlayerTwoID,
		Category:       row.Category,
		Day:            time.Weekday(row.Day),
		Start:          timeOfDayOrZero(row.StartMinutes),
		Status:         pairing.PairStatus(row.Status),
		CreatedAt:      row.CreatedAt,
		DissolvedAt:    row.DissolvedAt,
		DissolveReason: row.DissolveReason,
		DissolveActor:  row.DissolveActor,
	}
}

func mapUnpairedPlayer(row UnpairedPlayerRecord) (pairing.UnpairedPlayer, error) {
	days, err := unmarshalDays(row.Days)
	if err != nil {
		return pairing.UnpairedPlayer{}, wrapStoreError(errorSubjectUnpaired, errorCodeInvalid, err)
	}
	times, err := unmarshalTimes(row.Times)
	if err != nil {
		return pairing.UnpairedPlayer{}, wrapStoreError(errorSubjectUnpaired, errorCodeInvalid, err)
	}
	return pairing.UnpairedPlayer{
		PlayerID:     row.PlayerID,
		Category:     row.Category,
		Days:         days,
		Times:        times,
		Status:       pairing.UnpairedStatus(row.Status),
		WaitingSince: row.WaitingSince,
	}, nil
}

func marshalDays(days []time.Weekday) (datatypes.JSON, error) {
	values := make([]int, 0, len(days))
	for _, day := range days {
		values = append(values, int(day))
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

func unmarshalDays(raw datatypes.JSON) ([]time.Weekday, error) {
	var values []int
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, err
	}
	days := make([]time.Weekday, 0, len(values))
	for _, value := range values {
		days = append(days, time.Weekday(value))
	}
	return days, nil
}

func marshalTimes(times []schedule.TimeOfDay) (datatypes.JSON, error) {
	values := make([]int, 0, len(times))
	for _, start := range times {
		values = append(values, start.Minutes())
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

func unmarshalTimes(raw datatypes.JSON) ([]schedule.TimeOfDay, error) {
	var values []int
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, err
	}
	times := make([]schedule.TimeOfDay, 0, len(values))
	for _, value := range values {
		start, err := schedule.TimeOfDayFromMinutes(value)
		if err != nil {
			return nil, err
		}
		times = append(times, start)
	}
	return times, nil
}
