package recurring

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/rinkbook/internal/booking"
	"github.com/MarkoPoloResearchLab/rinkbook/internal/events"
	"github.com/MarkoPoloResearchLab/rinkbook/internal/schedule"
)

// Reserver is the booking boundary the sweep funnels through. Every
// materialization races parent bookings inside Reserve's own transaction,
// so the sweep needs no locking of its own.
type Reserver interface {
	Reserve(ctx context.Context, request booking.ReserveRequest) (booking.Booking, error)
}

// SweepReport summarizes one sweep pass.
type SweepReport struct {
	Materialized int
	Skipped      int
	Paused       int
}

// Processor materializes standing weekly schedules into concrete bookings.
type Processor struct {
	store     Store
	reserver  Reserver
	catalog   *schedule.Catalog
	publisher events.Publisher
	nowFn     func() time.Time
}

// NewProcessor wires a Processor.
func NewProcessor(store Store, reserver Reserver, catalog *schedule.Catalog, publisher events.Publisher, now func() time.Time) (*Processor, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidProcessorConfig)
	}
	if reserver == nil {
		return nil, fmt.Errorf("%w: reserver dependency is nil", ErrInvalidProcessorConfig)
	}
	if catalog == nil {
		return nil, fmt.Errorf("%w: catalog dependency is nil", ErrInvalidProcessorConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidProcessorConfig)
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Processor{store: store, reserver: reserver, catalog: catalog, publisher: publisher, nowFn: now}, nil
}

// Create registers a standing weekly schedule. NextDate defaults to the
// first occurrence of Day on or after now.
func (processor *Processor) Create(ctx context.Context, record Schedule) (Schedule, error) {
	if strings.TrimSpace(record.PlayerID) == "" {
		return Schedule{}, fmt.Errorf("%w: empty player id", ErrInvalidSchedule)
	}
	if record.DurationHours == 0 {
		record.DurationHours = 1
	}
	slot := schedule.Slot{Pool: record.Program.Pool(), Day: record.Day, Start: record.Start}
	if !processor.catalog.Contains(slot) {
		return Schedule{}, fmt.Errorf("%w: %s is not a %s slot", ErrInvalidSchedule, slot.Key(), record.Program)
	}
	now := processor.nowFn()
	if record.NextDate.IsZero() {
		record.NextDate = NextOccurrence(now, record.Day)
	} else {
		record.NextDate = schedule.DateOf(record.NextDate)
		if record.NextDate.Weekday() != record.Day {
			return Schedule{}, fmt.Errorf("%w: next date %s is not a %s", ErrInvalidSchedule, record.NextDate.Format("2006-01-02"), record.Day)
		}
	}
	record.Active = true
	record.PausedReason = ""
	record.CreatedAt = now
	return processor.store.InsertSchedule(ctx, record)
}

// Sweep materializes every active schedule whose next date has arrived.
// Outcomes per schedule:
//   - reserved: advance the next date one week;
//   - insufficient credits: pause the schedule and leave the next date
//     unchanged, so a manual resume retries the same occurrence;
//   - slot full: the occurrence is lost, advance one week and notify.
//
// Infrastructure failures stop the pass and are returned.
func (processor *Processor) Sweep(ctx context.Context) (SweepReport, error) {
	now := processor.nowFn()
	due, err := processor.store.ListDueSchedules(ctx, now)
	if err != nil {
		return SweepReport{}, err
	}
	var report SweepReport
	for _, record := range due {
		outcomeError := processor.materialize(ctx, record, &report)
		if outcomeError != nil {
			return report, outcomeError
		}
	}
	return report, nil
}

func (processor *Processor) materialize(ctx context.Context, record Schedule, report *SweepReport) error {
	_, err := processor.reserver.Reserve(ctx, booking.ReserveRequest{
		PlayerID:      record.PlayerID,
		Owner:         record.Owner,
		Program:       record.Program,
		Date:          record.NextDate,
		Start:         record.Start,
		DurationHours: record.DurationHours,
	})
	switch {
	case err == nil:
		report.Materialized++
		return processor.store.UpdateNextDate(ctx, record.ScheduleID, record.NextDate.AddDate(0, 0, 7))
	case errors.Is(err, booking.ErrInsufficientCredits):
		report.Paused++
		if err := processor.store.SetScheduleActive(ctx, record.ScheduleID, false, PausedReasonInsufficientCredits); err != nil {
			return err
		}
		_ = processor.publisher.Publish(ctx, events.QueueCreditsInsufficient, events.CreditsInsufficientEvent{
			ScheduleID: record.ScheduleID,
			PlayerID:   record.PlayerID,
			Owner:      record.Owner.String(),
		})
		return nil
	case errors.Is(err, booking.ErrSlotFull):
		report.Skipped++
		if err := processor.store.UpdateNextDate(ctx, record.ScheduleID, record.NextDate.AddDate(0, 0, 7)); err != nil {
			return err
		}
		_ = processor.publisher.Publish(ctx, events.QueueRecurringSkipped, events.RecurringSkippedEvent{
			ScheduleID: record.ScheduleID,
			PlayerID:   record.PlayerID,
			Program:    record.Program.String(),
			Date:       record.NextDate.Format("2006-01-02"),
			Start:      record.Start.String(),
		})
		return nil
	default:
		return err
	}
}

// Resume reactivates a paused schedule. The next date is untouched, so the
// occurrence the pause interrupted is retried on the next sweep. Missed
// occurrences are never backfilled.
func (processor *Processor) Resume(ctx context.Context, scheduleID string) error {
	record, err := processor.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		return err
	}
	if record.Active {
		return ErrScheduleNotPaused
	}
	return processor.store.SetScheduleActive(ctx, scheduleID, true, "")
}

// Pause deactivates a schedule with an operator-supplied reason.
func (processor *Processor) Pause(ctx context.Context, scheduleID string, reason string) error {
	if _, err := processor.store.GetSchedule(ctx, scheduleID); err != nil {
		return err
	}
	return processor.store.SetScheduleActive(ctx, scheduleID, false, reason)
}

// MoveSlot updates a schedule's standing day and time going forward. The
// new slot must exist in the program's pool; the next date realigns to the
// new weekday. Past bookings stay untouched.
func (processor *Processor) MoveSlot(ctx context.Context, scheduleID string, day time.Weekday, start schedule.TimeOfDay) (Schedule, error) {
	var updated Schedule
	operationError := processor.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		record, err := transactionStore.GetSchedule(ctx, scheduleID)
		if err != nil {
			return err
		}
		slot := schedule.Slot{Pool: record.Program.Pool(), Day: day, Start: start}
		if !processor.catalog.Contains(slot) {
			return fmt.Errorf("%w: %s is not a %s slot", ErrInvalidSchedule, slot.Key(), record.Program)
		}
		nextDate := NextOccurrence(processor.nowFn(), day)
		if err := transactionStore.UpdateScheduleSlot(ctx, scheduleID, day, start, nextDate); err != nil {
			return err
		}
		record.Day = day
		record.Start = start
		record.NextDate = nextDate
		updated = record
		return nil
	})
	if operationError != nil {
		return Schedule{}, operationError
	}
	return updated, nil
}

// Get returns one schedule.
func (processor *Processor) Get(ctx context.Context, scheduleID string) (Schedule, error) {
	return processor.store.GetSchedule(ctx, scheduleID)
}

// ListByPlayer returns a player's standing schedules.
func (processor *Processor) ListByPlayer(ctx context.Context, playerID string) ([]Schedule, error) {
	if strings.TrimSpace(playerID) == "" {
		return nil, fmt.Errorf("%w: empty player id", ErrInvalidSchedule)
	}
	return processor.store.ListSchedulesByPlayer(ctx, playerID)
}

// Delete removes a schedule. Already-materialized bookings stay.
func (processor *Processor) Delete(ctx context.Context, scheduleID string) error {
	if _, err := processor.store.GetSchedule(ctx, scheduleID); err != nil {
		return err
	}
	return processor.store.DeleteSchedule(ctx, scheduleID)
}
