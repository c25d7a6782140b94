package recurring

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/rinkbook/internal/schedule"
	"github.com/MarkoPoloResearchLab/rinkbook/pkg/credits"
)

// PausedReasonInsufficientCredits marks a schedule the sweep paused on
// credit shortfall. Resume clears it.
const PausedReasonInsufficientCredits = "insufficient_credits"

// Schedule is a standing weekly booking intent. The sweep materializes it
// into a concrete booking every week at NextDate; deleting a schedule never
// removes already-materialized bookings.
type Schedule struct {
	ScheduleID    string
	PlayerID      string
	Owner         credits.OwnerID
	Program       schedule.Program
	Day           time.Weekday
	Start         schedule.TimeOfDay
	DurationHours int
	Active        bool
	PausedReason  string
	NextDate      time.Time
	CreatedAt     time.Time
}

// Domain-level error values returned by the processor.
var (
	ErrUnknownSchedule        = errors.New("unknown schedule")
	ErrInvalidSchedule        = errors.New("invalid schedule")
	ErrScheduleNotPaused      = errors.New("schedule not paused")
	ErrInvalidProcessorConfig = errors.New("invalid processor config")
)

// Store is the persistence contract used by Processor. Sweep state changes
// happen per schedule; only the slot update used by permanent reschedules
// needs WithTx.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error

	InsertSchedule(ctx context.Context, record Schedule) (Schedule, error)
	GetSchedule(ctx context.Context, scheduleID string) (Schedule, error)
	ListDueSchedules(ctx context.Context, at time.Time) ([]Schedule, error)
	ListSchedulesByPlayer(ctx context.Context, playerID string) ([]Schedule, error)
	UpdateNextDate(ctx context.Context, scheduleID string, nextDate time.Time) error
	SetScheduleActive(ctx context.Context, scheduleID string, active bool, pausedReason string) error
	UpdateScheduleSlot(ctx context.Context, scheduleID string, day time.Weekday, start schedule.TimeOfDay, nextDate time.Time) error
	DeleteSchedule(ctx context.Context, scheduleID string) error
}

// NextOccurrence returns the first date on or after from that falls on the
// given weekday.
func NextOccurrence(from time.Time, day time.Weekday) time.Time {
	date := schedule.DateOf(from)
	offset := (int(day) - int(date.Weekday()) + 7) % 7
	return date.AddDate(0, 0, offset)
}
