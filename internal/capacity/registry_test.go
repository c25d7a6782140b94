package capacity

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/rinkbook/internal/schedule"
)

var monday = time.Date(2026, time.January, 5, 0, 0, 0, 0, time.UTC)

func TestOccupancyCountsPairingsOnceForSharedPool(test *testing.T) {
	test.Parallel()
	store := newStubCountStore()
	registry := mustRegistry(test, store)
	start := mustTime(test, "15:00")
	store.setCount(schedule.PoolShared, monday, start, 0)
	store.setPairings(time.Monday, start, 1)

	occupancy, err := registry.Occupancy(context.Background(), schedule.PoolShared, monday, start)
	if err != nil {
		test.Fatalf("occupancy: %v", err)
	}
	if occupancy.Booked != 1 || occupancy.Capacity != 1 {
		test.Fatalf("pairing must hold the shared seat, got %+v", occupancy)
	}
}

func TestOccupancyIgnoresPairingsForFixedPools(test *testing.T) {
	test.Parallel()
	store := newStubCountStore()
	registry := mustRegistry(test, store)
	start := mustTime(test, "16:30")
	store.setCount(schedule.PoolGroup, monday, start, 2)
	store.setPairings(time.Monday, start, 3)

	occupancy, err := registry.Occupancy(context.Background(), schedule.PoolGroup, monday, start)
	if err != nil {
		test.Fatalf("occupancy: %v", err)
	}
	if occupancy.Booked != 2 || occupancy.Capacity != 6 {
		test.Fatalf("group pool must not count pairings, got %+v", occupancy)
	}
}

func TestIsAvailableForTwoHourReservation(test *testing.T) {
	test.Parallel()
	store := newStubCountStore()
	registry := mustRegistry(test, store)
	fifteen := mustTime(test, "15:00")
	sixteen := mustTime(test, "16:00")

	available, err := registry.IsAvailable(context.Background(), schedule.PoolShared, monday, fifteen, 2)
	if err != nil {
		test.Fatalf("is available: %v", err)
	}
	if !available {
		test.Fatalf("empty consecutive slots must be available")
	}

	store.setCount(schedule.PoolShared, monday, sixteen, 1)
	available, err = registry.IsAvailable(context.Background(), schedule.PoolShared, monday, fifteen, 2)
	if err != nil {
		test.Fatalf("is available: %v", err)
	}
	if available {
		test.Fatalf("occupied successor must block a two-hour reservation")
	}
}

func TestIsAvailableAtEndOfCatalogIsFalseNotError(test *testing.T) {
	test.Parallel()
	registry := mustRegistry(test, newStubCountStore())
	available, err := registry.IsAvailable(context.Background(), schedule.PoolShared, monday, mustTime(test, "19:00"), 2)
	if err != nil {
		test.Fatalf("is available: %v", err)
	}
	if available {
		test.Fatalf("missing successor must make the slot unavailable")
	}
}

func TestReservedStartsValidatesDuration(test *testing.T) {
	test.Parallel()
	registry := mustRegistry(test, newStubCountStore())
	start := mustTime(test, "15:00")

	starts, err := registry.ReservedStarts(schedule.PoolShared, monday, start, 2)
	if err != nil {
		test.Fatalf("reserved starts: %v", err)
	}
	if len(starts) != 2 || starts[1].String() != "16:00" {
		test.Fatalf("expected the start and its successor, got %v", starts)
	}

	if _, err := registry.ReservedStarts(schedule.PoolShared, monday, start, 3); !errors.Is(err, ErrInvalidDuration) {
		test.Fatalf("expected ErrInvalidDuration, got %v", err)
	}
	if _, err := registry.ReservedStarts(schedule.PoolShared, monday, mustTime(test, "19:00"), 2); !errors.Is(err, ErrNoSuccessor) {
		test.Fatalf("expected ErrNoSuccessor, got %v", err)
	}
}

func TestNewRegistryRejectsNilDependencies(test *testing.T) {
	test.Parallel()
	if _, err := NewRegistry(nil, schedule.DefaultCatalog()); !errors.Is(err, ErrInvalidRegistryConfig) {
		test.Fatalf("expected ErrInvalidRegistryConfig, got %v", err)
	}
	if _, err := NewRegistry(newStubCountStore(), nil); !errors.Is(err, ErrInvalidRegistryConfig) {
		test.Fatalf("expected ErrInvalidRegistryConfig, got %v", err)
	}
}

func mustRegistry(test *testing.T, store Store) *Registry {
	test.Helper()
	registry, err := NewRegistry(store, schedule.DefaultCatalog())
	if err != nil {
		test.Fatalf("registry: %v", err)
	}
	return registry
}

func mustTime(test *testing.T, raw string) schedule.TimeOfDay {
	test.Helper()
	value, err := schedule.ParseTimeOfDay(raw)
	if err != nil {
		test.Fatalf("time of day: %v", err)
	}
	return value
}

type stubCountStore struct {
	counts   map[string]int
	pairings map[string]int
}

func newStubCountStore() *stubCountStore {
	return &stubCountStore{counts: make(map[string]int), pairings: make(map[string]int)}
}

func (store *stubCountStore) setCount(pool schedule.Pool, date time.Time, start schedule.TimeOfDay, count int) {
	store.counts[countKey(pool, date, start)] = count
}

func (store *stubCountStore) setPairings(day time.Weekday, start schedule.TimeOfDay, count int) {
	store.pairings[pairingKey(day, start)] = count
}

func (store *stubCountStore) SlotCount(_ context.Context, pool schedule.Pool, date time.Time, start schedule.TimeOfDay) (int, error) {
	return store.counts[countKey(pool, date, start)], nil
}

func (store *stubCountStore) CountActivePairingsAt(_ context.Context, day time.Weekday, start schedule.TimeOfDay) (int, error) {
	return store.pairings[pairingKey(day, start)], nil
}

func countKey(pool schedule.Pool, date time.Time, start schedule.TimeOfDay) string {
	return fmt.Sprintf("%s|%s|%s", pool, schedule.DateOf(date).Format("2006-01-02"), start)
}

func pairingKey(day time.Weekday, start schedule.TimeOfDay) string {
	return fmt.Sprintf("%s|%s", day, start)
}
