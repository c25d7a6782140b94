package credits

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Service contains the credit ledger logic over a Store.
type Service struct {
	store  Store
	nowFn  func() time.Time
	logger OperationLogger
}

// NewService wires a Service.
func NewService(store Store, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Purchase appends a new batch. Batches are never merged so each keeps its
// own expiry. The account is created on first purchase.
func (service *Service) Purchase(ctx context.Context, owner OwnerID, quantity int, pricePaidCents int64, expiresAt time.Time) (Batch, error) {
	var created Batch
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if err := validateQuantity(quantity); err != nil {
			return err
		}
		now := service.nowFn()
		if !expiresAt.After(now) {
			return fmt.Errorf("%w: expiry %s is not in the future", ErrInvalidExpiry, expiresAt.UTC())
		}
		accountID, err := transactionStore.GetOrCreateAccountID(ctx, owner)
		if err != nil {
			return err
		}
		batch, err := transactionStore.InsertBatch(ctx, Batch{
			AccountID:      accountID,
			Source:         BatchSourcePurchase,
			Quantity:       quantity,
			Remaining:      quantity,
			PricePaidCents: pricePaidCents,
			PurchasedAt:    now,
			ExpiresAt:      expiresAt.UTC(),
		})
		if err != nil {
			return err
		}
		created = batch
		return transactionStore.InsertEntry(ctx, Entry{
			AccountID: accountID,
			Type:      EntryPurchase,
			Quantity:  quantity,
			BatchID:   batch.BatchID,
			CreatedAt: now,
		})
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationPurchase,
		Owner:     owner,
		Quantity:  quantity,
		Error:     operationError,
	})
	if operationError != nil {
		return Batch{}, operationError
	}
	return created, nil
}

// Consume debits credits inside its own transaction. See ConsumeTx for the
// draw rules.
func (service *Service) Consume(ctx context.Context, owner OwnerID, quantity int, bookingRef string) (Consumption, error) {
	var consumption Consumption
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		result, err := service.ConsumeTx(ctx, transactionStore, owner, quantity, bookingRef)
		if err != nil {
			return err
		}
		consumption = result
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:  operationConsume,
		Owner:      owner,
		Quantity:   quantity,
		BookingRef: bookingRef,
		Error:      operationError,
	})
	if operationError != nil {
		return Consumption{}, operationError
	}
	return consumption, nil
}

// ConsumeTx debits credits against the transaction-bound store, drawing
// from the unexpired batch with the nearest expiry first and advancing to
// the next once a batch is fully drawn. The whole draw is rejected with
// ErrInsufficientCredits when the unexpired remainder falls short; no
// partial debit is ever written. Callers that need the debit inside a
// larger transaction (the booking reservation) pass their own txStore.
func (service *Service) ConsumeTx(ctx context.Context, transactionStore Store, owner OwnerID, quantity int, bookingRef string) (Consumption, error) {
	if err := validateQuantity(quantity); err != nil {
		return Consumption{}, err
	}
	if strings.TrimSpace(bookingRef) == "" {
		return Consumption{}, fmt.Errorf("%w: empty value", ErrInvalidBookingRef)
	}
	accountID, err := transactionStore.GetOrCreateAccountID(ctx, owner)
	if err != nil {
		return Consumption{}, err
	}
	now := service.nowFn()
	batches, err := transactionStore.ListOpenBatches(ctx, accountID, now)
	if err != nil {
		return Consumption{}, err
	}
	available := 0
	for _, batch := range batches {
		available += batch.Remaining
	}
	if available < quantity {
		return Consumption{}, ErrInsufficientCredits
	}
	consumption := Consumption{Quantity: quantity}
	left := quantity
	for _, batch := range batches {
		if left == 0 {
			break
		}
		draw := batch.Remaining
		if draw > left {
			draw = left
		}
		if err := transactionStore.AddBatchRemaining(ctx, batch.BatchID, -draw); err != nil {
			return Consumption{}, err
		}
		if err := transactionStore.InsertEntry(ctx, Entry{
			AccountID:  accountID,
			Type:       EntryConsume,
			Quantity:   -draw,
			BatchID:    batch.BatchID,
			BookingRef: bookingRef,
			CreatedAt:  now,
		}); err != nil {
			return Consumption{}, err
		}
		consumption.Draws = append(consumption.Draws, Draw{BatchID: batch.BatchID, Quantity: draw})
		left -= draw
	}
	return consumption, nil
}

// Refund re-credits inside its own transaction. See RefundTx.
func (service *Service) Refund(ctx context.Context, owner OwnerID, quantity int, bookingRef string) error {
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		return service.RefundTx(ctx, transactionStore, owner, quantity, bookingRef)
	})
	service.logOperation(ctx, OperationLog{
		Operation:  operationRefund,
		Owner:      owner,
		Quantity:   quantity,
		BookingRef: bookingRef,
		Error:      operationError,
	})
	return operationError
}

// RefundTx restores credits drawn for a booking. Each draw goes back to its
// originating batch while that batch is still unexpired; whatever cannot be
// restored in place lands in a fresh refund batch expiring
// RefundBatchValidity from now. Credits can neither vanish nor duplicate:
// the restored plus re-batched quantities always sum to the requested
// refund.
func (service *Service) RefundTx(ctx context.Context, transactionStore Store, owner OwnerID, quantity int, bookingRef string) error {
	if err := validateQuantity(quantity); err != nil {
		return err
	}
	if strings.TrimSpace(bookingRef) == "" {
		return fmt.Errorf("%w: empty value", ErrInvalidBookingRef)
	}
	accountID, err := transactionStore.GetOrCreateAccountID(ctx, owner)
	if err != nil {
		return err
	}
	now := service.nowFn()
	consumeEntries, err := transactionStore.ListConsumeEntries(ctx, accountID, bookingRef)
	if err != nil {
		return err
	}
	left := quantity
	rebatched := 0
	for _, entry := range consumeEntries {
		if left == 0 {
			break
		}
		drawn := -entry.Quantity
		if drawn <= 0 {
			continue
		}
		restore := drawn
		if restore > left {
			restore = left
		}
		left -= restore
		batch, err := transactionStore.GetBatch(ctx, entry.BatchID)
		if err != nil {
			return err
		}
		if batch.Expired(now) {
			rebatched += restore
			continue
		}
		if err := transactionStore.AddBatchRemaining(ctx, batch.BatchID, restore); err != nil {
			return err
		}
		if err := transactionStore.InsertEntry(ctx, Entry{
			AccountID:  accountID,
			Type:       EntryRefund,
			Quantity:   restore,
			BatchID:    batch.BatchID,
			BookingRef: bookingRef,
			CreatedAt:  now,
		}); err != nil {
			return err
		}
	}
	// Draws that left no usable trace (expired batches, or history older
	// than the refund) still come back as a fresh batch.
	rebatched += left
	if rebatched == 0 {
		return nil
	}
	batch, err := transactionStore.InsertBatch(ctx, Batch{
		AccountID:   accountID,
		Source:      BatchSourceRefund,
		Quantity:    rebatched,
		Remaining:   rebatched,
		PurchasedAt: now,
		ExpiresAt:   now.Add(RefundBatchValidity).UTC(),
	})
	if err != nil {
		return err
	}
	return transactionStore.InsertEntry(ctx, Entry{
		AccountID:  accountID,
		Type:       EntryRefund,
		Quantity:   rebatched,
		BatchID:    batch.BatchID,
		BookingRef: bookingRef,
		CreatedAt:  now,
	})
}

// Balance returns the remaining credits across unexpired batches. Expired
// batches contribute zero but stay stored for history queries.
func (service *Service) Balance(ctx context.Context, owner OwnerID) (int, error) {
	accountID, err := service.store.GetOrCreateAccountID(ctx, owner)
	if err != nil {
		return 0, err
	}
	return service.store.SumRemaining(ctx, accountID, service.nowFn())
}

// History lists credit entries for an owner before a cutoff time.
func (service *Service) History(ctx context.Context, owner OwnerID, before time.Time, limit int) ([]Entry, error) {
	accountID, err := service.store.GetOrCreateAccountID(ctx, owner)
	if err != nil {
		return nil, err
	}
	if before.IsZero() {
		before = service.nowFn().Add(time.Second)
	}
	return service.store.ListEntries(ctx, accountID, before, limit)
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func validateQuantity(quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("%w: must be greater than zero", ErrInvalidQuantity)
	}
	return nil
}
