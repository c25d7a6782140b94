package schedule

import (
	"fmt"
	"strings"
	"time"
)

// Program enumerates the bookable program types.
type Program string

const (
	ProgramGroup       Program = "group"
	ProgramPrivate     Program = "private"
	ProgramSemiPrivate Program = "semi_private"
	ProgramSundayIce   Program = "sunday_ice"
)

// ParseProgram validates and normalizes a program name.
func ParseProgram(raw string) (Program, error) {
	switch Program(strings.TrimSpace(strings.ToLower(raw))) {
	case ProgramGroup:
		return ProgramGroup, nil
	case ProgramPrivate:
		return ProgramPrivate, nil
	case ProgramSemiPrivate:
		return ProgramSemiPrivate, nil
	case ProgramSundayIce:
		return ProgramSundayIce, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidProgram, raw)
}

// String returns the normalized program name.
func (program Program) String() string {
	return string(program)
}

// Pool returns the capacity pool the program books against. Private and
// semi-private share one exclusive pool and compete for its single seat.
func (program Program) Pool() Pool {
	switch program {
	case ProgramPrivate, ProgramSemiPrivate:
		return PoolShared
	case ProgramSundayIce:
		return PoolSunday
	default:
		return PoolGroup
	}
}

// CreditCost returns the number of credits one session debits. Externally
// paid programs cost zero credits and start as provisional bookings.
func (program Program) CreditCost() int {
	switch program {
	case ProgramGroup, ProgramSemiPrivate:
		return 1
	default:
		return 0
	}
}

// Pool identifies a capacity domain.
type Pool string

const (
	PoolGroup  Pool = "group"
	PoolShared Pool = "shared"
	PoolSunday Pool = "sunday"
)

// ParsePool validates and normalizes a pool name.
func ParsePool(raw string) (Pool, error) {
	switch Pool(strings.TrimSpace(strings.ToLower(raw))) {
	case PoolGroup:
		return PoolGroup, nil
	case PoolShared:
		return PoolShared, nil
	case PoolSunday:
		return PoolSunday, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPool, raw)
}

// String returns the normalized pool name.
func (pool Pool) String() string {
	return string(pool)
}

// Capacity returns the number of concurrent bookings the pool admits per
// slot. The shared pool holds exactly one seat contested by private and
// semi-private bookings.
func (pool Pool) Capacity() int {
	if pool == PoolShared {
		return 1
	}
	return fixedPoolCapacity
}

const fixedPoolCapacity = 6

// TimeOfDay is a wall-clock start time expressed in minutes since midnight.
type TimeOfDay struct {
	minutes int
}

// NewTimeOfDay validates an hour/minute pair.
func NewTimeOfDay(hour int, minute int) (TimeOfDay, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return TimeOfDay{}, fmt.Errorf("%w: %02d:%02d", ErrInvalidTimeOfDay, hour, minute)
	}
	return TimeOfDay{minutes: hour*60 + minute}, nil
}

// ParseTimeOfDay parses a "15:04" formatted string.
func ParseTimeOfDay(raw string) (TimeOfDay, error) {
	parsed, err := time.Parse("15:04", strings.TrimSpace(raw))
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, raw)
	}
	return NewTimeOfDay(parsed.Hour(), parsed.Minute())
}

// TimeOfDayFromMinutes rebuilds a TimeOfDay from stored minutes.
func TimeOfDayFromMinutes(minutes int) (TimeOfDay, error) {
	if minutes < 0 || minutes >= 24*60 {
		return TimeOfDay{}, fmt.Errorf("%w: %d minutes", ErrInvalidTimeOfDay, minutes)
	}
	return TimeOfDay{minutes: minutes}, nil
}

// Minutes returns minutes since midnight.
func (timeOfDay TimeOfDay) Minutes() int {
	return timeOfDay.minutes
}

// String formats the time as "15:04".
func (timeOfDay TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", timeOfDay.minutes/60, timeOfDay.minutes%60)
}

// Before reports whether the time precedes other.
func (timeOfDay TimeOfDay) Before(other TimeOfDay) bool {
	return timeOfDay.minutes < other.minutes
}

// Slot identifies one bookable unit within a pool.
type Slot struct {
	Pool  Pool
	Day   time.Weekday
	Start TimeOfDay
}

// Key returns a stable string form used in events and log fields.
func (slot Slot) Key() string {
	return fmt.Sprintf("%s/%s/%s", slot.Pool, slot.Day, slot.Start)
}

// DateOf truncates a timestamp to its UTC calendar date.
func DateOf(value time.Time) time.Time {
	utc := value.UTC()
	return time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
}

// SessionStart combines a calendar date with a start time.
func SessionStart(date time.Time, start TimeOfDay) time.Time {
	day := DateOf(date)
	return day.Add(time.Duration(start.Minutes()) * time.Minute)
}
