package gormstore

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MarkoPoloResearchLab/rinkbook/pkg/credits"
)

// CreditStore implements credits.Store using GORM.
type CreditStore struct {
	db *gorm.DB
}

// NewCreditStore returns a CreditStore backed by gorm.DB.
func NewCreditStore(db *gorm.DB) *CreditStore {
	return &CreditStore{db: db}
}

// WithTx executes fn within a transaction.
func (store *CreditStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore credits.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &CreditStore{db: transaction})
	})
}

func (store *CreditStore) GetOrCreateAccountID(ctx context.Context, owner credits.OwnerID) (string, error) {
	var account CreditAccount
	err := store.db.WithContext(ctx).
		Where("owner_id = ?", owner.String()).
		Take(&account).Error
	if err == nil {
		return account.AccountID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", wrapStoreError(errorSubjectAccount, errorCodeLookup, err)
	}
	account = CreditAccount{OwnerID: owner.String(), CreatedAt: time.Now().UTC()}
	createError := store.db.WithContext(ctx).Create(&account).Error
	if isUniqueViolation(createError) {
		// Lost the race to a concurrent first purchase; the row exists now.
		err = store.db.WithContext(ctx).
			Where("owner_id = ?", owner.String()).
			Take(&account).Error
		if err != nil {
			return "", wrapStoreError(errorSubjectAccount, errorCodeLookup, err)
		}
		return account.AccountID, nil
	}
	if createError != nil {
		return "", wrapStoreError(errorSubjectAccount, errorCodeCreate, createError)
	}
	return account.AccountID, nil
}

func (store *CreditStore) InsertBatch(ctx context.Context, batch credits.Batch) (credits.Batch, error) {
	model := CreditBatch{
		BatchID:        batch.BatchID,
		AccountID:      batch.AccountID,
		Source:         string(batch.Source),
		Quantity:       batch.Quantity,
		Remaining:      batch.Remaining,
		PricePaidCents: batch.PricePaidCents,
		PurchasedAt:    batch.PurchasedAt.UTC(),
		ExpiresAt:      batch.ExpiresAt.UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return credits.Batch{}, wrapStoreError(errorSubjectBatch, errorCodeInsert, err)
	}
	return mapCreditBatch(model), nil
}

func (store *CreditStore) ListOpenBatches(ctx context.Context, accountID string, at time.Time) ([]credits.Batch, error) {
	var rows []CreditBatch
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("account_id = ? AND remaining > 0 AND expires_at > ?", accountID, at.UTC()).
		Order("expires_at ASC, batch_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectBatch, errorCodeList, err)
	}
	batches := make([]credits.Batch, 0, len(rows))
	for _, row := range rows {
		batches = append(batches, mapCreditBatch(row))
	}
	return batches, nil
}

func (store *CreditStore) GetBatch(ctx context.Context, batchID string) (credits.Batch, error) {
	var model CreditBatch
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("batch_id = ?", batchID).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return credits.Batch{}, wrapStoreError(errorSubjectBatch, errorCodeGet, credits.ErrUnknownBatch)
		}
		return credits.Batch{}, wrapStoreError(errorSubjectBatch, errorCodeGet, err)
	}
	return mapCreditBatch(model), nil
}

func (store *CreditStore) AddBatchRemaining(ctx context.Context, batchID string, delta int) error {
	result := store.db.WithContext(ctx).
		Model(&CreditBatch{}).
		Where("batch_id = ?", batchID).
		UpdateColumn("remaining", gorm.Expr("remaining + ?", delta))
	if result.Error != nil {
		return wrapStoreError(errorSubjectBatch, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectBatch, errorCodeUpdate, credits.ErrUnknownBatch)
	}
	return nil
}

func (store *CreditStore) SumRemaining(ctx context.Context, accountID string, at time.Time) (int, error) {
	var sum sqlSum
	err := store.db.WithContext(ctx).
		Model(&CreditBatch{}).
		Select("coalesce(sum(remaining),0) as total").
		Where("account_id = ? AND expires_at > ?", accountID, at.UTC()).
		Scan(&sum).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectBatch, errorCodeSumRemaining, err)
	}
	return int(sum.Total), nil
}

func (store *CreditStore) InsertEntry(ctx context.Context, entry credits.Entry) error {
	model := CreditEntry{
		EntryID:    entry.EntryID,
		AccountID:  entry.AccountID,
		Type:       string(entry.Type),
		Quantity:   entry.Quantity,
		BatchID:    entry.BatchID,
		BookingRef: entry.BookingRef,
		CreatedAt:  entry.CreatedAt.UTC(),
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	return nil
}

func (store *CreditStore) ListEntries(ctx context.Context, accountID string, before time.Time, limit int) ([]credits.Entry, error) {
	var rows []CreditEntry
	err := store.db.WithContext(ctx).
		Where("account_id = ? AND created_at < ?", accountID, before.UTC()).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	return mapCreditEntries(rows), nil
}

func (store *CreditStore) ListConsumeEntries(ctx context.Context, accountID string, bookingRef string) ([]credits.Entry, error) {
	var rows []CreditEntry
	err := store.db.WithContext(ctx).
		Where("account_id = ? AND type = ? AND booking_ref = ?", accountID, string(credits.EntryConsume), bookingRef).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	return mapCreditEntries(rows), nil
}

type sqlSum struct {
	Total int64
}

func mapCreditBatch(row CreditBatch) credits.Batch {
	return credits.Batch{
		BatchID:        row.BatchID,
		AccountID:      row.AccountID,
		Source:         credits.BatchSource(row.Source),
		Quantity:       row.Quantity,
		Remaining:      row.Remaining,
		PricePaidCents: row.PricePaidCents,
		PurchasedAt:    row.PurchasedAt,
		ExpiresAt:      row.ExpiresAt,
	}
}

func mapCreditEntries(rows []CreditEntry) []credits.Entry {
	entries := make([]credits.Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, credits.Entry{
			EntryID:    row.EntryID,
			AccountID:  row.AccountID,
			Type:       credits.EntryType(row.Type),
			Quantity:   row.Quantity,
			BatchID:    row.BatchID,
			BookingRef: row.BookingRef,
			CreatedAt:  row.CreatedAt,
		})
	}
	return entries
}
