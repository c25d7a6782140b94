// Package capacity answers "how full is this slot" against the explicit
// per-slot occupancy counters maintained by the booking layer. The group
// and Sunday pools are fixed catalogs; the shared pool holds one contested
// seat where private bookings and standing semi-private pairings are
// fungible.
package capacity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/rinkbook/internal/schedule"
)

// Domain-level error values returned by the registry.
var (
	ErrInvalidDuration       = errors.New("invalid duration")
	ErrInvalidRegistryConfig = errors.New("invalid registry config")
	ErrNoSuccessor           = errors.New("no successor slot")
)

// Occupancy reports a slot's booked count against its pool capacity.
type Occupancy struct {
	Booked   int
	Capacity int
}

// Store is the read contract the registry needs. The booking store
// satisfies it both outside and inside a reservation transaction, so
// availability can be re-checked under the same lock scope that writes the
// counters.
type Store interface {
	SlotCount(ctx context.Context, pool schedule.Pool, date time.Time, start schedule.TimeOfDay) (int, error)
	CountActivePairingsAt(ctx context.Context, day time.Weekday, start schedule.TimeOfDay) (int, error)
}

// Registry computes occupancy and availability over a Store and the static
// slot catalog.
type Registry struct {
	store   Store
	catalog *schedule.Catalog
}

// NewRegistry wires a Registry.
func NewRegistry(store Store, catalog *schedule.Catalog) (*Registry, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidRegistryConfig)
	}
	if catalog == nil {
		return nil, fmt.Errorf("%w: catalog dependency is nil", ErrInvalidRegistryConfig)
	}
	return &Registry{store: store, catalog: catalog}, nil
}

// Catalog exposes the timetable the registry validates against.
func (registry *Registry) Catalog() *schedule.Catalog {
	return registry.catalog
}

// Occupancy returns the committed occupancy for one slot on a concrete
// date. Reads outside a transaction are advisory; the reservation path
// re-reads through OccupancyTx under its own lock.
func (registry *Registry) Occupancy(ctx context.Context, pool schedule.Pool, date time.Time, start schedule.TimeOfDay) (Occupancy, error) {
	return registry.OccupancyTx(ctx, registry.store, pool, date, start)
}

// OccupancyTx computes occupancy through the supplied (possibly
// transaction-bound) store. Active pairings hold the shared pool's seat on
// their weekday and count once, never per player.
func (registry *Registry) OccupancyTx(ctx context.Context, store Store, pool schedule.Pool, date time.Time, start schedule.TimeOfDay) (Occupancy, error) {
	booked, err := store.SlotCount(ctx, pool, schedule.DateOf(date), start)
	if err != nil {
		return Occupancy{}, err
	}
	if pool == schedule.PoolShared {
		pairings, err := store.CountActivePairingsAt(ctx, schedule.DateOf(date).Weekday(), start)
		if err != nil {
			return Occupancy{}, err
		}
		booked += pairings
	}
	return Occupancy{Booked: booked, Capacity: pool.Capacity()}, nil
}

// IsAvailable reports whether a reservation of the given duration fits.
// Duration 2 needs the start slot and its immediate catalog successor both
// free; a missing successor makes the slot unavailable, not an error.
func (registry *Registry) IsAvailable(ctx context.Context, pool schedule.Pool, date time.Time, start schedule.TimeOfDay, durationHours int) (bool, error) {
	return registry.IsAvailableTx(ctx, registry.store, pool, date, start, durationHours)
}

// IsAvailableTx is IsAvailable through a caller-supplied store.
func (registry *Registry) IsAvailableTx(ctx context.Context, store Store, pool schedule.Pool, date time.Time, start schedule.TimeOfDay, durationHours int) (bool, error) {
	starts, err := registry.ReservedStarts(pool, date, start, durationHours)
	if err != nil {
		if errors.Is(err, ErrNoSuccessor) {
			return false, nil
		}
		return false, err
	}
	for _, slotStart := range starts {
		occupancy, err := registry.OccupancyTx(ctx, store, pool, date, slotStart)
		if err != nil {
			return false, err
		}
		if occupancy.Booked >= occupancy.Capacity {
			return false, nil
		}
	}
	return true, nil
}

// ReservedStarts expands a reservation into the catalog start times it
// consumes: one for a single hour, the start and its successor for two. A
// two-hour reservation always holds both or neither, so the caller
// increments every returned start inside one transaction.
func (registry *Registry) ReservedStarts(pool schedule.Pool, date time.Time, start schedule.TimeOfDay, durationHours int) ([]schedule.TimeOfDay, error) {
	if durationHours != 1 && durationHours != 2 {
		return nil, fmt.Errorf("%w: %d hours", ErrInvalidDuration, durationHours)
	}
	slot := schedule.Slot{Pool: pool, Day: schedule.DateOf(date).Weekday(), Start: start}
	starts := []schedule.TimeOfDay{start}
	if durationHours == 2 {
		successor, ok := registry.catalog.Successor(slot)
		if !ok {
			return nil, ErrNoSuccessor
		}
		starts = append(starts, successor.Start)
	}
	return starts, nil
}
