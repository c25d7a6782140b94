package credits

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"
)

func TestPurchaseCreatesBatchAndEntry(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	service := mustNewService(test, store, fixedClock(baseTime))
	owner := mustOwnerID(test, "parent-1")

	batch, err := service.Purchase(context.Background(), owner, 10, 25000, baseTime.Add(90*24*time.Hour))
	if err != nil {
		test.Fatalf("purchase: %v", err)
	}
	if batch.Remaining != 10 || batch.Source != BatchSourcePurchase {
		test.Fatalf("unexpected batch: %+v", batch)
	}
	if len(store.entries) != 1 || store.entries[0].Type != EntryPurchase || store.entries[0].Quantity != 10 {
		test.Fatalf("unexpected entries: %+v", store.entries)
	}
}

func TestPurchaseRejectsPastExpiry(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	service := mustNewService(test, store, fixedClock(baseTime))
	owner := mustOwnerID(test, "parent-1")

	_, err := service.Purchase(context.Background(), owner, 5, 1000, baseTime.Add(-time.Hour))
	if !errors.Is(err, ErrInvalidExpiry) {
		test.Fatalf("expected ErrInvalidExpiry, got %v", err)
	}
}

func TestConsumeDrainsNearestExpiryFirst(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	service := mustNewService(test, store, fixedClock(baseTime))
	owner := mustOwnerID(test, "parent-1")

	early := mustPurchase(test, service, owner, 5, baseTime.Add(10*24*time.Hour))
	late := mustPurchase(test, service, owner, 5, baseTime.Add(90*24*time.Hour))

	consumption, err := service.Consume(context.Background(), owner, 7, "booking-1")
	if err != nil {
		test.Fatalf("consume: %v", err)
	}
	if len(consumption.Draws) != 2 {
		test.Fatalf("expected draws from two batches, got %+v", consumption.Draws)
	}
	if consumption.Draws[0].BatchID != early.BatchID || consumption.Draws[0].Quantity != 5 {
		test.Fatalf("expected 5 from the early batch, got %+v", consumption.Draws[0])
	}
	if consumption.Draws[1].BatchID != late.BatchID || consumption.Draws[1].Quantity != 2 {
		test.Fatalf("expected 2 from the late batch, got %+v", consumption.Draws[1])
	}
	if store.batches[early.BatchID].Remaining != 0 {
		test.Fatalf("expected early batch drained, got %d", store.batches[early.BatchID].Remaining)
	}
	if store.batches[late.BatchID].Remaining != 3 {
		test.Fatalf("expected 3 left in the late batch, got %d", store.batches[late.BatchID].Remaining)
	}
}

func TestConsumeInsufficientCreditsWritesNothing(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	service := mustNewService(test, store, fixedClock(baseTime))
	owner := mustOwnerID(test, "parent-1")
	mustPurchase(test, service, owner, 3, baseTime.Add(30*24*time.Hour))
	entriesBefore := len(store.entries)

	_, err := service.Consume(context.Background(), owner, 4, "booking-1")
	if !errors.Is(err, ErrInsufficientCredits) {
		test.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
	if len(store.entries) != entriesBefore {
		test.Fatalf("expected no new entries, got %d", len(store.entries)-entriesBefore)
	}
	balance, err := service.Balance(context.Background(), owner)
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	if balance != 3 {
		test.Fatalf("expected untouched balance 3, got %d", balance)
	}
}

func TestConsumeIgnoresExpiredBatches(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	service := mustNewService(test, store, fixedClock(baseTime))
	owner := mustOwnerID(test, "parent-1")
	mustPurchase(test, service, owner, 5, baseTime.Add(time.Minute))

	later, err := NewService(store, fixedClock(baseTime.Add(time.Hour)))
	if err != nil {
		test.Fatalf("service: %v", err)
	}
	if _, err := later.Consume(context.Background(), owner, 1, "booking-1"); !errors.Is(err, ErrInsufficientCredits) {
		test.Fatalf("expected ErrInsufficientCredits against expired batch, got %v", err)
	}
}

func TestRefundRestoresOriginatingBatch(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	service := mustNewService(test, store, fixedClock(baseTime))
	owner := mustOwnerID(test, "parent-1")
	batch := mustPurchase(test, service, owner, 5, baseTime.Add(60*24*time.Hour))

	if _, err := service.Consume(context.Background(), owner, 2, "booking-1"); err != nil {
		test.Fatalf("consume: %v", err)
	}
	if err := service.Refund(context.Background(), owner, 2, "booking-1"); err != nil {
		test.Fatalf("refund: %v", err)
	}
	if store.batches[batch.BatchID].Remaining != 5 {
		test.Fatalf("expected batch restored to 5, got %d", store.batches[batch.BatchID].Remaining)
	}
	if len(store.batches) != 1 {
		test.Fatalf("expected no refund batch, got %d batches", len(store.batches))
	}
}

func TestRefundCreatesNewBatchWhenOriginExpired(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	service := mustNewService(test, store, fixedClock(baseTime))
	owner := mustOwnerID(test, "parent-1")
	origin := mustPurchase(test, service, owner, 5, baseTime.Add(time.Hour))
	if _, err := service.Consume(context.Background(), owner, 3, "booking-1"); err != nil {
		test.Fatalf("consume: %v", err)
	}

	afterExpiry := baseTime.Add(2 * time.Hour)
	later, err := NewService(store, fixedClock(afterExpiry))
	if err != nil {
		test.Fatalf("service: %v", err)
	}
	if err := later.Refund(context.Background(), owner, 3, "booking-1"); err != nil {
		test.Fatalf("refund: %v", err)
	}
	if store.batches[origin.BatchID].Remaining != 2 {
		test.Fatalf("expired origin must stay drained, got %d", store.batches[origin.BatchID].Remaining)
	}
	var refundBatch *Batch
	for _, candidate := range store.batches {
		if candidate.Source == BatchSourceRefund {
			copied := *candidate
			refundBatch = &copied
		}
	}
	if refundBatch == nil {
		test.Fatalf("expected a refund batch")
	}
	if refundBatch.Remaining != 3 {
		test.Fatalf("expected refund batch of 3, got %d", refundBatch.Remaining)
	}
	expectedExpiry := afterExpiry.Add(RefundBatchValidity).UTC()
	if !refundBatch.ExpiresAt.Equal(expectedExpiry) {
		test.Fatalf("expected refund expiry %s, got %s", expectedExpiry, refundBatch.ExpiresAt)
	}
	balance, err := later.Balance(context.Background(), owner)
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	if balance != 3 {
		test.Fatalf("expected balance 3 after refund, got %d", balance)
	}
}

func TestBalanceExcludesExpiredBatches(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	service := mustNewService(test, store, fixedClock(baseTime))
	owner := mustOwnerID(test, "parent-1")
	mustPurchase(test, service, owner, 4, baseTime.Add(time.Minute))
	mustPurchase(test, service, owner, 6, baseTime.Add(48*time.Hour))

	later, err := NewService(store, fixedClock(baseTime.Add(time.Hour)))
	if err != nil {
		test.Fatalf("service: %v", err)
	}
	balance, err := later.Balance(context.Background(), owner)
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	if balance != 6 {
		test.Fatalf("expected balance 6, got %d", balance)
	}
}

func TestCreditConservationAgainstHistory(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	service := mustNewService(test, store, fixedClock(baseTime))
	owner := mustOwnerID(test, "parent-1")
	farExpiry := baseTime.Add(365 * 24 * time.Hour)

	mustPurchase(test, service, owner, 10, farExpiry)
	mustPurchase(test, service, owner, 5, farExpiry.Add(time.Hour))
	if _, err := service.Consume(context.Background(), owner, 8, "booking-1"); err != nil {
		test.Fatalf("consume: %v", err)
	}
	if _, err := service.Consume(context.Background(), owner, 3, "booking-2"); err != nil {
		test.Fatalf("consume: %v", err)
	}
	if err := service.Refund(context.Background(), owner, 3, "booking-2"); err != nil {
		test.Fatalf("refund: %v", err)
	}

	history, err := service.History(context.Background(), owner, time.Time{}, 100)
	if err != nil {
		test.Fatalf("history: %v", err)
	}
	independentSum := 0
	for _, entry := range history {
		independentSum += entry.Quantity
	}
	balance, err := service.Balance(context.Background(), owner)
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	if balance != independentSum {
		test.Fatalf("balance %d diverged from history sum %d", balance, independentSum)
	}
	if balance != 7 {
		test.Fatalf("expected balance 7, got %d", balance)
	}
}

func TestConcurrentConsumesNeverOverspend(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	service := mustNewService(test, store, fixedClock(baseTime))
	owner := mustOwnerID(test, "parent-1")
	mustPurchase(test, service, owner, 1, baseTime.Add(24*time.Hour))

	const attempts = 8
	results := make(chan error, attempts)
	for index := 0; index < attempts; index++ {
		go func(attempt int) {
			_, err := service.Consume(context.Background(), owner, 1, fmt.Sprintf("booking-%d", attempt))
			results <- err
		}(index)
	}
	successes := 0
	for index := 0; index < attempts; index++ {
		err := <-results
		if err == nil {
			successes++
			continue
		}
		if !errors.Is(err, ErrInsufficientCredits) {
			test.Fatalf("unexpected consume error: %v", err)
		}
	}
	if successes != 1 {
		test.Fatalf("expected exactly one winning consume, got %d", successes)
	}
}

func TestNewServiceRequiresDependencies(test *testing.T) {
	test.Parallel()
	if _, err := NewService(nil, fixedClock(baseTime)); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected invalid service config error, got %v", err)
	}
	if _, err := NewService(newStubStore(), nil); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected invalid service config error, got %v", err)
	}
}

func TestServiceLogsOperations(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	logger := &recorderLogger{}
	service, err := NewService(store, fixedClock(baseTime), WithOperationLogger(logger))
	if err != nil {
		test.Fatalf("service: %v", err)
	}
	owner := mustOwnerID(test, "parent-1")
	if _, err := service.Purchase(context.Background(), owner, 2, 500, baseTime.Add(time.Hour)); err != nil {
		test.Fatalf("purchase: %v", err)
	}
	_, err = service.Consume(context.Background(), owner, 9, "booking-1")
	if !errors.Is(err, ErrInsufficientCredits) {
		test.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
	if len(logger.entries) != 2 {
		test.Fatalf("expected two log entries, got %d", len(logger.entries))
	}
	if logger.entries[0].Status != operationStatusOK || logger.entries[0].Operation != operationPurchase {
		test.Fatalf("unexpected first log entry: %+v", logger.entries[0])
	}
	if logger.entries[1].Status != operationStatusError || logger.entries[1].Operation != operationConsume {
		test.Fatalf("unexpected second log entry: %+v", logger.entries[1])
	}
}

var baseTime = time.Date(2026, time.January, 5, 12, 0, 0, 0, time.UTC)

type recorderLogger struct {
	entries []OperationLog
}

func (logger *recorderLogger) LogOperation(_ context.Context, entry OperationLog) {
	logger.entries = append(logger.entries, entry)
}

// stubStore keeps the ledger in memory. WithTx serializes through a mutex,
// matching the per-account serialization the real store provides.
type stubStore struct {
	mu       sync.Mutex
	accounts map[string]string
	batches  map[string]*Batch
	order    []string
	entries  []Entry
	nextID   int
}

func newStubStore() *stubStore {
	return &stubStore{
		accounts: make(map[string]string),
		batches:  make(map[string]*Batch),
	}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	return fn(ctx, (*lockedStubStore)(store))
}

// lockedStubStore is the transaction-bound view; it assumes the mutex is
// already held.
type lockedStubStore stubStore

func (store *lockedStubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, store)
}

func (store *stubStore) GetOrCreateAccountID(ctx context.Context, owner OwnerID) (string, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return (*lockedStubStore)(store).GetOrCreateAccountID(ctx, owner)
}

func (store *lockedStubStore) GetOrCreateAccountID(_ context.Context, owner OwnerID) (string, error) {
	if accountID, ok := store.accounts[owner.String()]; ok {
		return accountID, nil
	}
	store.nextID++
	accountID := fmt.Sprintf("acct-%d", store.nextID)
	store.accounts[owner.String()] = accountID
	return accountID, nil
}

func (store *stubStore) InsertBatch(ctx context.Context, batch Batch) (Batch, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return (*lockedStubStore)(store).InsertBatch(ctx, batch)
}

func (store *lockedStubStore) InsertBatch(_ context.Context, batch Batch) (Batch, error) {
	store.nextID++
	batch.BatchID = fmt.Sprintf("batch-%d", store.nextID)
	copied := batch
	store.batches[batch.BatchID] = &copied
	store.order = append(store.order, batch.BatchID)
	return batch, nil
}

func (store *stubStore) ListOpenBatches(ctx context.Context, accountID string, at time.Time) ([]Batch, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return (*lockedStubStore)(store).ListOpenBatches(ctx, accountID, at)
}

func (store *lockedStubStore) ListOpenBatches(_ context.Context, accountID string, at time.Time) ([]Batch, error) {
	open := make([]Batch, 0)
	for _, batchID := range store.order {
		batch := store.batches[batchID]
		if batch.AccountID != accountID || batch.Remaining <= 0 || batch.Expired(at) {
			continue
		}
		open = append(open, *batch)
	}
	sort.SliceStable(open, func(i, j int) bool { return open[i].ExpiresAt.Before(open[j].ExpiresAt) })
	return open, nil
}

func (store *stubStore) GetBatch(ctx context.Context, batchID string) (Batch, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return (*lockedStubStore)(store).GetBatch(ctx, batchID)
}

func (store *lockedStubStore) GetBatch(_ context.Context, batchID string) (Batch, error) {
	batch, ok := store.batches[batchID]
	if !ok {
		return Batch{}, ErrUnknownBatch
	}
	return *batch, nil
}

func (store *stubStore) AddBatchRemaining(ctx context.Context, batchID string, delta int) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	return (*lockedStubStore)(store).AddBatchRemaining(ctx, batchID, delta)
}

func (store *lockedStubStore) AddBatchRemaining(_ context.Context, batchID string, delta int) error {
	batch, ok := store.batches[batchID]
	if !ok {
		return ErrUnknownBatch
	}
	batch.Remaining += delta
	return nil
}

func (store *stubStore) SumRemaining(ctx context.Context, accountID string, at time.Time) (int, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return (*lockedStubStore)(store).SumRemaining(ctx, accountID, at)
}

func (store *lockedStubStore) SumRemaining(_ context.Context, accountID string, at time.Time) (int, error) {
	sum := 0
	for _, batch := range store.batches {
		if batch.AccountID != accountID || batch.Expired(at) {
			continue
		}
		sum += batch.Remaining
	}
	return sum, nil
}

func (store *stubStore) InsertEntry(ctx context.Context, entry Entry) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	return (*lockedStubStore)(store).InsertEntry(ctx, entry)
}

func (store *lockedStubStore) InsertEntry(_ context.Context, entry Entry) error {
	store.nextID++
	entry.EntryID = fmt.Sprintf("entry-%d", store.nextID)
	store.entries = append(store.entries, entry)
	return nil
}

func (store *stubStore) ListEntries(ctx context.Context, accountID string, before time.Time, limit int) ([]Entry, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return (*lockedStubStore)(store).ListEntries(ctx, accountID, before, limit)
}

func (store *lockedStubStore) ListEntries(_ context.Context, accountID string, before time.Time, limit int) ([]Entry, error) {
	entries := make([]Entry, 0)
	for _, entry := range store.entries {
		if entry.AccountID != accountID || !entry.CreatedAt.Before(before) {
			continue
		}
		entries = append(entries, entry)
		if limit > 0 && len(entries) == limit {
			break
		}
	}
	return entries, nil
}

func (store *stubStore) ListConsumeEntries(ctx context.Context, accountID string, bookingRef string) ([]Entry, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return (*lockedStubStore)(store).ListConsumeEntries(ctx, accountID, bookingRef)
}

func (store *lockedStubStore) ListConsumeEntries(_ context.Context, accountID string, bookingRef string) ([]Entry, error) {
	entries := make([]Entry, 0)
	for _, entry := range store.entries {
		if entry.AccountID != accountID || entry.Type != EntryConsume || entry.BookingRef != bookingRef {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func mustNewService(test *testing.T, store Store, now func() time.Time) *Service {
	test.Helper()
	service, err := NewService(store, now)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustOwnerID(test *testing.T, raw string) OwnerID {
	test.Helper()
	owner, err := NewOwnerID(raw)
	if err != nil {
		test.Fatalf("owner id: %v", err)
	}
	return owner
}

func mustPurchase(test *testing.T, service *Service, owner OwnerID, quantity int, expiresAt time.Time) Batch {
	test.Helper()
	batch, err := service.Purchase(context.Background(), owner, quantity, int64(quantity)*2500, expiresAt)
	if err != nil {
		test.Fatalf("purchase: %v", err)
	}
	return batch
}
