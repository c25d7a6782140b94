package credits

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// OwnerID identifies the parent account that owns a credit balance.
type OwnerID struct {
	value string
}

// NewOwnerID validates and normalizes an owner id.
func NewOwnerID(raw string) (OwnerID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return OwnerID{}, fmt.Errorf("%w: empty value", ErrInvalidOwnerID)
	}
	return OwnerID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id OwnerID) String() string {
	return id.value
}

// BatchSource records how a batch came to exist.
type BatchSource string

const (
	BatchSourcePurchase BatchSource = "purchase"
	BatchSourceRefund   BatchSource = "refund"
)

// Batch is one purchased (or refunded) block of credits with its own expiry.
// Batches are never merged; distinct expiries stay distinct so consumption
// can drain the nearest expiry first.
type Batch struct {
	BatchID        string
	AccountID      string
	Source         BatchSource
	Quantity       int
	Remaining      int
	PricePaidCents int64
	PurchasedAt    time.Time
	ExpiresAt      time.Time
}

// Expired reports whether the batch contributes nothing at the given time.
func (batch Batch) Expired(at time.Time) bool {
	return !batch.ExpiresAt.After(at)
}

// EntryType enumerates credit history entry kinds.
type EntryType string

const (
	EntryPurchase EntryType = "purchase"
	EntryConsume  EntryType = "consume"
	EntryRefund   EntryType = "refund"
)

// Entry is a single immutable line in the credit history. Quantity is
// positive for purchases and refunds, negative for consumption.
type Entry struct {
	EntryID    string
	AccountID  string
	Type       EntryType
	Quantity   int
	BatchID    string
	BookingRef string
	CreatedAt  time.Time
}

// Draw records how many credits one consumption took from one batch.
type Draw struct {
	BatchID  string
	Quantity int
}

// Consumption reports which batches a consume debited, for refund
// traceability.
type Consumption struct {
	Draws    []Draw
	Quantity int
}

// RefundBatchValidity is the lifetime of a refund batch created when the
// originating batch has already expired.
const RefundBatchValidity = 365 * 24 * time.Hour

// Store is the persistence contract used by Service. All reads performed
// inside WithTx observe and lock the latest committed state, so the
// check-then-write sequences in Service serialize per account.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	GetOrCreateAccountID(ctx context.Context, owner OwnerID) (string, error)
	InsertBatch(ctx context.Context, batch Batch) (Batch, error)
	ListOpenBatches(ctx context.Context, accountID string, at time.Time) ([]Batch, error)
	GetBatch(ctx context.Context, batchID string) (Batch, error)
	AddBatchRemaining(ctx context.Context, batchID string, delta int) error
	SumRemaining(ctx context.Context, accountID string, at time.Time) (int, error)
	InsertEntry(ctx context.Context, entry Entry) error
	ListEntries(ctx context.Context, accountID string, before time.Time, limit int) ([]Entry, error)
	ListConsumeEntries(ctx context.Context, accountID string, bookingRef string) ([]Entry, error)
}
