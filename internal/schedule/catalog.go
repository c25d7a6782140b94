package schedule

import (
	"fmt"
	"sort"
	"time"
)

// CatalogEntry lists the start times a pool offers on one weekday.
type CatalogEntry struct {
	Pool   Pool
	Day    time.Weekday
	Starts []TimeOfDay
}

// Catalog is the static timetable of bookable slots per pool. It is
// configuration, not runtime data: pools only ever admit slots listed here.
type Catalog struct {
	starts map[Pool]map[time.Weekday][]TimeOfDay
}

// NewCatalog builds a catalog from entries, sorting each day's start times.
// Duplicate start times within one (pool, day) are rejected.
func NewCatalog(entries ...CatalogEntry) (*Catalog, error) {
	catalog := &Catalog{starts: make(map[Pool]map[time.Weekday][]TimeOfDay)}
	for _, entry := range entries {
		if len(entry.Starts) == 0 {
			return nil, fmt.Errorf("%w: %s %s has no start times", ErrInvalidCatalog, entry.Pool, entry.Day)
		}
		days, ok := catalog.starts[entry.Pool]
		if !ok {
			days = make(map[time.Weekday][]TimeOfDay)
			catalog.starts[entry.Pool] = days
		}
		starts := append(days[entry.Day], entry.Starts...)
		sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })
		for i := 1; i < len(starts); i++ {
			if starts[i] == starts[i-1] {
				return nil, fmt.Errorf("%w: duplicate %s %s %s", ErrInvalidCatalog, entry.Pool, entry.Day, starts[i])
			}
		}
		days[entry.Day] = starts
	}
	return catalog, nil
}

// Starts returns the ordered start times for a pool on a weekday.
func (catalog *Catalog) Starts(pool Pool, day time.Weekday) []TimeOfDay {
	days, ok := catalog.starts[pool]
	if !ok {
		return nil
	}
	return append([]TimeOfDay(nil), days[day]...)
}

// Contains reports whether the slot appears in the catalog.
func (catalog *Catalog) Contains(slot Slot) bool {
	for _, start := range catalog.starts[slot.Pool][slot.Day] {
		if start == slot.Start {
			return true
		}
	}
	return false
}

// Successor returns the slot immediately after the given one in the same
// (pool, day) ordering. ok is false at the end of the catalog or when the
// slot itself is not listed.
func (catalog *Catalog) Successor(slot Slot) (Slot, bool) {
	starts := catalog.starts[slot.Pool][slot.Day]
	for index, start := range starts {
		if start == slot.Start {
			if index+1 >= len(starts) {
				return Slot{}, false
			}
			return Slot{Pool: slot.Pool, Day: slot.Day, Start: starts[index+1]}, true
		}
	}
	return Slot{}, false
}

// DefaultCatalog returns the rink's standing timetable: weekday group
// training blocks, a contested private/semi-private hour grid, and Sunday
// ice times.
func DefaultCatalog() *Catalog {
	groupStarts := mustStarts("16:30", "17:30", "18:30")
	sharedStarts := mustStarts("15:00", "16:00", "17:00", "18:00", "19:00")
	sundayStarts := mustStarts("08:00", "09:00", "10:00", "11:00")

	entries := make([]CatalogEntry, 0, 12)
	for day := time.Monday; day <= time.Friday; day++ {
		entries = append(entries, CatalogEntry{Pool: PoolGroup, Day: day, Starts: groupStarts})
	}
	for day := time.Monday; day <= time.Saturday; day++ {
		entries = append(entries, CatalogEntry{Pool: PoolShared, Day: day, Starts: sharedStarts})
	}
	entries = append(entries, CatalogEntry{Pool: PoolSunday, Day: time.Sunday, Starts: sundayStarts})

	catalog, err := NewCatalog(entries...)
	if err != nil {
		panic(err)
	}
	return catalog
}

func mustStarts(values ...string) []TimeOfDay {
	starts := make([]TimeOfDay, 0, len(values))
	for _, value := range values {
		start, err := ParseTimeOfDay(value)
		if err != nil {
			panic(err)
		}
		starts = append(starts, start)
	}
	return starts
}
