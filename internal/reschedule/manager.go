package reschedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/rinkbook/internal/booking"
	"github.com/MarkoPoloResearchLab/rinkbook/internal/pairing"
	"github.com/MarkoPoloResearchLab/rinkbook/internal/recurring"
	"github.com/MarkoPoloResearchLab/rinkbook/internal/schedule"
)

// BookingMover is the slice of the reservation service Apply needs for
// one-time exceptions.
type BookingMover interface {
	Move(ctx context.Context, bookingID string, newDate time.Time, newStart schedule.TimeOfDay) (booking.Booking, error)
	Skip(ctx context.Context, bookingID string) (booking.RefundOutcome, error)
}

// ScheduleUpdater is the slice of the recurring processor Apply needs for
// permanent changes.
type ScheduleUpdater interface {
	MoveSlot(ctx context.Context, scheduleID string, day time.Weekday, start schedule.TimeOfDay) (recurring.Schedule, error)
}

// Pairer is the slice of the pairing matcher Apply needs when a
// semi-private player moves off their pairing's slot.
type Pairer interface {
	ActivePairingFor(ctx context.Context, playerID string) (pairing.Pairing, error)
	Dissolve(ctx context.Context, pairingID string, reason string, actor string, options ...pairing.DissolveOption) error
	Enroll(ctx context.Context, player pairing.UnpairedPlayer) error
	FindOpportunities(ctx context.Context, category string) ([]pairing.Opportunity, error)
}

// ApplyOutcome reports what applying a change did.
type ApplyOutcome struct {
	// MovedBooking is set when a one-time exception relocated a booking.
	MovedBooking *booking.Booking
	// Refund is set when a one-time exception skipped a booking.
	Refund *booking.RefundOutcome
	// UpdatedSchedule is set for permanent changes.
	UpdatedSchedule *recurring.Schedule
	// Opportunities lists fresh pairing candidates for a semi-private
	// player whose pairing was dissolved by the change.
	Opportunities []pairing.Opportunity
}

// Manager runs the reschedule state machine and applies approved changes
// against the booking, recurring, and pairing services.
type Manager struct {
	store     Store
	bookings  BookingMover
	schedules ScheduleUpdater
	pairer    Pairer
	nowFn     func() time.Time
}

// NewManager wires a Manager.
func NewManager(store Store, bookings BookingMover, schedules ScheduleUpdater, pairer Pairer, now func() time.Time) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidManagerConfig)
	}
	if bookings == nil {
		return nil, fmt.Errorf("%w: bookings dependency is nil", ErrInvalidManagerConfig)
	}
	if schedules == nil {
		return nil, fmt.Errorf("%w: schedules dependency is nil", ErrInvalidManagerConfig)
	}
	if pairer == nil {
		return nil, fmt.Errorf("%w: pairer dependency is nil", ErrInvalidManagerConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidManagerConfig)
	}
	return &Manager{store: store, bookings: bookings, schedules: schedules, pairer: pairer, nowFn: now}, nil
}

// Request files a new change in pending status.
func (manager *Manager) Request(ctx context.Context, record Change) (Change, error) {
	if strings.TrimSpace(record.PlayerID) == "" {
		return Change{}, fmt.Errorf("%w: empty player id", ErrInvalidChange)
	}
	switch record.Kind {
	case KindOneTime:
		if record.Date.IsZero() {
			return Change{}, fmt.Errorf("%w: one-time change needs a concrete date", ErrInvalidChange)
		}
		if !record.Skip && record.NewDate.IsZero() {
			return Change{}, fmt.Errorf("%w: a move needs a replacement date", ErrInvalidChange)
		}
		record.Date = schedule.DateOf(record.Date)
		if !record.NewDate.IsZero() {
			record.NewDate = schedule.DateOf(record.NewDate)
		}
	case KindPermanent:
		if strings.TrimSpace(record.ScheduleID) == "" {
			return Change{}, fmt.Errorf("%w: permanent change needs a schedule id", ErrInvalidChange)
		}
	default:
		return Change{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidChange, record.Kind)
	}
	record.Status = StatusPending
	record.RequestedAt = manager.nowFn()
	record.ApproverID = ""
	record.DecidedAt = nil
	record.AppliedAt = nil
	return manager.store.InsertChange(ctx, record)
}

// Approve moves a pending change to approved.
func (manager *Manager) Approve(ctx context.Context, changeID string, approverID string) error {
	return manager.transition(ctx, changeID, StatusPending, StatusApproved, approverID)
}

// Reject moves a pending change to rejected.
func (manager *Manager) Reject(ctx context.Context, changeID string, approverID string) error {
	return manager.transition(ctx, changeID, StatusPending, StatusRejected, approverID)
}

// CancelChange withdraws a change that has not been applied yet.
func (manager *Manager) CancelChange(ctx context.Context, changeID string) error {
	return manager.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		record, err := transactionStore.GetChange(ctx, changeID)
		if err != nil {
			return err
		}
		if record.Status != StatusPending && record.Status != StatusApproved {
			return fmt.Errorf("%w: %s cannot be cancelled", ErrInvalidTransition, record.Status)
		}
		return transactionStore.UpdateChangeStatus(ctx, changeID, record.Status, StatusCancelled, manager.nowFn(), "")
	})
}

func (manager *Manager) transition(ctx context.Context, changeID string, from Status, to Status, approverID string) error {
	return manager.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		record, err := transactionStore.GetChange(ctx, changeID)
		if err != nil {
			return err
		}
		if record.Status != from {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, record.Status, to)
		}
		return transactionStore.UpdateChangeStatus(ctx, changeID, from, to, manager.nowFn(), approverID)
	})
}

// Apply executes an approved change.
//
// One-time: the booking at (player, date, start) is skipped with a forced
// refund, or moved to the replacement date and time after the target slot
// re-validates against its pool.
//
// Permanent: the standing schedule moves to the new day and time going
// forward; past bookings are untouched.
//
// Either way, a semi-private player moved off their active pairing's slot
// dissolves that pairing. The partner returns to the unpaired pool, the
// moved player re-enters with their new availability, and fresh candidates
// are returned in the outcome.
func (manager *Manager) Apply(ctx context.Context, changeID string) (ApplyOutcome, error) {
	record, err := manager.store.GetChange(ctx, changeID)
	if err != nil {
		return ApplyOutcome{}, err
	}
	if record.Status != StatusApproved {
		return ApplyOutcome{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, record.Status, StatusApplied)
	}

	var outcome ApplyOutcome
	switch record.Kind {
	case KindOneTime:
		outcome, err = manager.applyOneTime(ctx, record)
	case KindPermanent:
		outcome, err = manager.applyPermanent(ctx, record)
	default:
		err = fmt.Errorf("%w: unknown kind %q", ErrInvalidChange, record.Kind)
	}
	if err != nil {
		return ApplyOutcome{}, err
	}

	if err := manager.store.UpdateChangeStatus(ctx, changeID, StatusApproved, StatusApplied, manager.nowFn(), record.ApproverID); err != nil {
		return ApplyOutcome{}, err
	}
	return outcome, nil
}

func (manager *Manager) applyOneTime(ctx context.Context, record Change) (ApplyOutcome, error) {
	bookingID, err := manager.store.FindBookingID(ctx, record.PlayerID, record.Date, record.Start)
	if err != nil {
		return ApplyOutcome{}, err
	}
	var outcome ApplyOutcome
	if record.Skip {
		refund, err := manager.bookings.Skip(ctx, bookingID)
		if err != nil {
			return ApplyOutcome{}, err
		}
		outcome.Refund = &refund
	} else {
		moved, err := manager.bookings.Move(ctx, bookingID, record.NewDate, record.NewStart)
		if err != nil {
			return ApplyOutcome{}, err
		}
		outcome.MovedBooking = &moved
		if err := manager.repair(ctx, record, moved.Date.Weekday(), moved.Start, &outcome); err != nil {
			return ApplyOutcome{}, err
		}
	}
	return outcome, nil
}

func (manager *Manager) applyPermanent(ctx context.Context, record Change) (ApplyOutcome, error) {
	updated, err := manager.schedules.MoveSlot(ctx, record.ScheduleID, record.NewDay, record.NewStart)
	if err != nil {
		return ApplyOutcome{}, err
	}
	outcome := ApplyOutcome{UpdatedSchedule: &updated}
	if err := manager.repair(ctx, record, updated.Day, updated.Start, &outcome); err != nil {
		return ApplyOutcome{}, err
	}
	return outcome, nil
}

// repair dissolves the player's pairing when the change moved them off its
// slot, re-enrolls them under the new availability, and collects fresh
// candidates.
func (manager *Manager) repair(ctx context.Context, record Change, newDay time.Weekday, newStart schedule.TimeOfDay, outcome *ApplyOutcome) error {
	paired, err := manager.pairer.ActivePairingFor(ctx, record.PlayerID)
	if err != nil {
		if errors.Is(err, pairing.ErrUnknownPairing) {
			return nil
		}
		return err
	}
	if paired.Day == newDay && paired.Start == newStart {
		return nil
	}
	if err := manager.pairer.Dissolve(ctx, paired.PairingID, "schedule change", record.ApproverID, pairing.WithoutRequeue(record.PlayerID)); err != nil {
		return err
	}
	if err := manager.pairer.Enroll(ctx, pairing.UnpairedPlayer{
		PlayerID: record.PlayerID,
		Category: paired.Category,
		Days:     []time.Weekday{newDay},
		Times:    []schedule.TimeOfDay{newStart},
	}); err != nil {
		return err
	}
	opportunities, err := manager.pairer.FindOpportunities(ctx, paired.Category)
	if err != nil {
		return err
	}
	for _, opportunity := range opportunities {
		if opportunity.PlayerOne.PlayerID == record.PlayerID || opportunity.PlayerTwo.PlayerID == record.PlayerID {
			outcome.Opportunities = append(outcome.Opportunities, opportunity)
		}
	}
	return nil
}

// Get returns one change.
func (manager *Manager) Get(ctx context.Context, changeID string) (Change, error) {
	return manager.store.GetChange(ctx, changeID)
}

// ListByPlayer returns a player's change requests.
func (manager *Manager) ListByPlayer(ctx context.Context, playerID string) ([]Change, error) {
	if strings.TrimSpace(playerID) == "" {
		return nil, fmt.Errorf("%w: empty player id", ErrInvalidChange)
	}
	return manager.store.ListChangesByPlayer(ctx, playerID)
}
