package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/rinkbook/internal/capacity"
	"github.com/MarkoPoloResearchLab/rinkbook/internal/events"
	"github.com/MarkoPoloResearchLab/rinkbook/internal/schedule"
	"github.com/MarkoPoloResearchLab/rinkbook/pkg/credits"
)

// DefaultCancellationWindow is the no-show deterrence boundary: cancelling
// with at least this much lead time refunds the credit, anything less
// forfeits it.
const DefaultCancellationWindow = 24 * time.Hour

// Service orchestrates "reserve slot + debit credit" as one unit. It is the
// single transactional boundary every booking path funnels through: parent
// actions, the recurring sweep, and reschedule moves.
type Service struct {
	store        Store
	registry     *capacity.Registry
	ledger       *credits.Service
	publisher    events.Publisher
	nowFn        func() time.Time
	cancelWindow time.Duration
}

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// WithCancellationWindow overrides the refund boundary.
func WithCancellationWindow(window time.Duration) ServiceOption {
	return func(service *Service) {
		if window > 0 {
			service.cancelWindow = window
		}
	}
}

// NewService wires a Service.
func NewService(store Store, registry *capacity.Registry, ledger *credits.Service, publisher events.Publisher, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if registry == nil {
		return nil, fmt.Errorf("%w: registry dependency is nil", ErrInvalidServiceConfig)
	}
	if ledger == nil {
		return nil, fmt.Errorf("%w: ledger dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	service := &Service{
		store:        store,
		registry:     registry,
		ledger:       ledger,
		publisher:    publisher,
		nowFn:        now,
		cancelWindow: DefaultCancellationWindow,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Reserve atomically claims the slot and, for credit-funded programs,
// debits the parent's credits. The counter lock, availability re-check,
// booking insert, and credit debit share one transaction: a debit failure
// rolls the slot increments back entirely, so there is never a booking
// without its credit nor a stranded occupancy unit. Capacity exhaustion
// returns ErrSlotFull synchronously with no retry.
func (service *Service) Reserve(ctx context.Context, request ReserveRequest) (Booking, error) {
	if strings.TrimSpace(request.PlayerID) == "" {
		return Booking{}, fmt.Errorf("%w: empty value", ErrInvalidPlayerID)
	}
	pool := request.Program.Pool()
	date := schedule.DateOf(request.Date)
	slot := schedule.Slot{Pool: pool, Day: date.Weekday(), Start: request.Start}
	if !service.registry.Catalog().Contains(slot) {
		return Booking{}, fmt.Errorf("%w: %s is not a %s slot", ErrInvalidSlotForProgram, slot.Key(), request.Program)
	}
	starts, err := service.registry.ReservedStarts(pool, date, request.Start, request.DurationHours)
	if err != nil {
		if errors.Is(err, capacity.ErrNoSuccessor) {
			// A two-hour request past the end of the catalog can never fit.
			return Booking{}, ErrSlotFull
		}
		return Booking{}, err
	}

	cost := request.Program.CreditCost()
	status := StatusBooked
	if cost == 0 {
		status = StatusProvisional
	}

	var created Booking
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		for _, start := range starts {
			if err := service.checkSlotLocked(ctx, transactionStore, pool, date, start); err != nil {
				return err
			}
		}
		for _, start := range starts {
			if err := transactionStore.AddSlotCount(ctx, pool, date, start, 1); err != nil {
				return err
			}
		}
		record, err := transactionStore.InsertBooking(ctx, Booking{
			PlayerID:      request.PlayerID,
			Owner:         request.Owner,
			Program:       request.Program,
			Date:          date,
			Start:         request.Start,
			DurationHours: request.DurationHours,
			CreditCost:    cost,
			Status:        status,
			CreatedAt:     service.nowFn(),
		})
		if err != nil {
			return err
		}
		if cost > 0 {
			if _, err := service.ledger.ConsumeTx(ctx, transactionStore.Credits(), request.Owner, cost, record.BookingID); err != nil {
				return err
			}
		}
		created = record
		return nil
	})
	if operationError != nil {
		return Booking{}, operationError
	}

	service.publishOccupancy(ctx, pool, date, starts)
	if created.Status == StatusBooked {
		service.publishConfirmed(ctx, created)
	}
	return created, nil
}

// Cancel releases a booking's slot and applies the refund rule: a full
// credit refund with at least the cancellation window of lead time,
// forfeiture inside it. The comparison is exact at the boundary (>=).
func (service *Service) Cancel(ctx context.Context, bookingID string) (RefundOutcome, error) {
	return service.cancel(ctx, bookingID, false)
}

// Skip cancels a booking with an unconditional refund. Used for
// business-initiated removals (one-time schedule exceptions), where the
// no-show deterrence rule does not apply.
func (service *Service) Skip(ctx context.Context, bookingID string) (RefundOutcome, error) {
	return service.cancel(ctx, bookingID, true)
}

func (service *Service) cancel(ctx context.Context, bookingID string, forceRefund bool) (RefundOutcome, error) {
	now := service.nowFn()
	var outcome RefundOutcome
	var record Booking
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		found, err := transactionStore.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if found.Status != StatusBooked && found.Status != StatusProvisional {
			return ErrBookingClosed
		}
		record = found
		starts, err := service.registry.ReservedStarts(found.Program.Pool(), found.Date, found.Start, found.DurationHours)
		if err != nil {
			return err
		}
		if err := transactionStore.UpdateBookingStatus(ctx, bookingID, found.Status, StatusCancelled, now); err != nil {
			return err
		}
		for _, start := range starts {
			if err := transactionStore.AddSlotCount(ctx, found.Program.Pool(), found.Date, start, -1); err != nil {
				return err
			}
		}
		refundable := forceRefund || schedule.SessionStart(found.Date, found.Start).Sub(now) >= service.cancelWindow
		if refundable && found.CreditCost > 0 && found.Status == StatusBooked {
			if err := service.ledger.RefundTx(ctx, transactionStore.Credits(), found.Owner, found.CreditCost, found.BookingID); err != nil {
				return err
			}
			outcome.Refunded = true
			outcome.Quantity = found.CreditCost
		}
		outcome.CancelledAt = now
		return nil
	})
	if operationError != nil {
		return RefundOutcome{}, operationError
	}
	starts, err := service.registry.ReservedStarts(record.Program.Pool(), record.Date, record.Start, record.DurationHours)
	if err == nil {
		service.publishOccupancy(ctx, record.Program.Pool(), record.Date, starts)
	}
	return outcome, nil
}

// ConfirmPayment promotes a provisional booking to booked once the payment
// provider reports success.
func (service *Service) ConfirmPayment(ctx context.Context, bookingID string) (Booking, error) {
	var record Booking
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		found, err := transactionStore.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if found.Status != StatusProvisional {
			return ErrBookingClosed
		}
		if err := transactionStore.UpdateBookingStatus(ctx, bookingID, StatusProvisional, StatusBooked, service.nowFn()); err != nil {
			return err
		}
		found.Status = StatusBooked
		record = found
		return nil
	})
	if operationError != nil {
		return Booking{}, operationError
	}
	service.publishConfirmed(ctx, record)
	return record, nil
}

// ReleasePayment frees a provisional booking after a failed payment. The
// slot returns to the pool; no credits were ever involved.
func (service *Service) ReleasePayment(ctx context.Context, bookingID string) error {
	now := service.nowFn()
	var record Booking
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		found, err := transactionStore.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if found.Status != StatusProvisional {
			return ErrBookingClosed
		}
		record = found
		starts, err := service.registry.ReservedStarts(found.Program.Pool(), found.Date, found.Start, found.DurationHours)
		if err != nil {
			return err
		}
		if err := transactionStore.UpdateBookingStatus(ctx, bookingID, StatusProvisional, StatusCancelled, now); err != nil {
			return err
		}
		for _, start := range starts {
			if err := transactionStore.AddSlotCount(ctx, found.Program.Pool(), found.Date, start, -1); err != nil {
				return err
			}
		}
		return nil
	})
	if operationError != nil {
		return operationError
	}
	starts, err := service.registry.ReservedStarts(record.Program.Pool(), record.Date, record.Start, record.DurationHours)
	if err == nil {
		service.publishOccupancy(ctx, record.Program.Pool(), record.Date, starts)
	}
	return nil
}

// MarkAttendance records the session outcome for a booked session.
func (service *Service) MarkAttendance(ctx context.Context, bookingID string, outcome Status) error {
	if outcome != StatusCompleted && outcome != StatusNoShow {
		return fmt.Errorf("%w: %s is not an attendance outcome", ErrInvalidStatus, outcome)
	}
	return service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		found, err := transactionStore.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if found.Status != StatusBooked {
			return ErrBookingClosed
		}
		return transactionStore.UpdateBookingStatus(ctx, bookingID, StatusBooked, outcome, service.nowFn())
	})
}

// Move relocates a booking to a new date and start time, re-validating the
// target against the pool before releasing the original slots. The credit
// follows the booking; nothing is debited or refunded.
func (service *Service) Move(ctx context.Context, bookingID string, newDate time.Time, newStart schedule.TimeOfDay) (Booking, error) {
	date := schedule.DateOf(newDate)
	var record Booking
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		found, err := transactionStore.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if found.Status != StatusBooked && found.Status != StatusProvisional {
			return ErrBookingClosed
		}
		pool := found.Program.Pool()
		slot := schedule.Slot{Pool: pool, Day: date.Weekday(), Start: newStart}
		if !service.registry.Catalog().Contains(slot) {
			return fmt.Errorf("%w: %s is not a %s slot", ErrInvalidSlotForProgram, slot.Key(), found.Program)
		}
		newStarts, err := service.registry.ReservedStarts(pool, date, newStart, found.DurationHours)
		if err != nil {
			if errors.Is(err, capacity.ErrNoSuccessor) {
				return ErrSlotFull
			}
			return err
		}
		oldStarts, err := service.registry.ReservedStarts(pool, found.Date, found.Start, found.DurationHours)
		if err != nil {
			return err
		}
		for _, start := range newStarts {
			if err := service.checkSlotLocked(ctx, transactionStore, pool, date, start); err != nil {
				return err
			}
		}
		for _, start := range newStarts {
			if err := transactionStore.AddSlotCount(ctx, pool, date, start, 1); err != nil {
				return err
			}
		}
		for _, start := range oldStarts {
			if err := transactionStore.AddSlotCount(ctx, pool, found.Date, start, -1); err != nil {
				return err
			}
		}
		if err := transactionStore.UpdateBookingSlot(ctx, bookingID, date, newStart); err != nil {
			return err
		}
		found.Date = date
		found.Start = newStart
		record = found
		return nil
	})
	if operationError != nil {
		return Booking{}, operationError
	}
	service.publishOccupancy(ctx, record.Program.Pool(), record.Date, []schedule.TimeOfDay{record.Start})
	return record, nil
}

// Get returns one booking.
func (service *Service) Get(ctx context.Context, bookingID string) (Booking, error) {
	return service.store.GetBooking(ctx, bookingID)
}

// ListByPlayer returns a player's bookings, newest first.
func (service *Service) ListByPlayer(ctx context.Context, playerID string, limit int) ([]Booking, error) {
	if strings.TrimSpace(playerID) == "" {
		return nil, fmt.Errorf("%w: empty value", ErrInvalidPlayerID)
	}
	return service.store.ListBookingsByPlayer(ctx, playerID, limit)
}

// checkSlotLocked locks the slot counter and verifies there is room,
// counting standing pairings once for the shared pool. Must run inside the
// reservation transaction.
func (service *Service) checkSlotLocked(ctx context.Context, transactionStore Store, pool schedule.Pool, date time.Time, start schedule.TimeOfDay) error {
	booked, err := transactionStore.LockSlotCount(ctx, pool, date, start)
	if err != nil {
		return err
	}
	if pool == schedule.PoolShared {
		pairings, err := transactionStore.CountActivePairingsAt(ctx, date.Weekday(), start)
		if err != nil {
			return err
		}
		booked += pairings
	}
	if booked >= pool.Capacity() {
		return ErrSlotFull
	}
	return nil
}

func (service *Service) publishOccupancy(ctx context.Context, pool schedule.Pool, date time.Time, starts []schedule.TimeOfDay) {
	for _, start := range starts {
		occupancy, err := service.registry.Occupancy(ctx, pool, date, start)
		if err != nil {
			continue
		}
		_ = service.publisher.Publish(ctx, events.QueueOccupancyChanged, events.OccupancyChangedEvent{
			Pool:     pool.String(),
			Date:     date.Format("2006-01-02"),
			Day:      date.Weekday().String(),
			Start:    start.String(),
			Booked:   occupancy.Booked,
			Capacity: occupancy.Capacity,
		})
	}
}

func (service *Service) publishConfirmed(ctx context.Context, record Booking) {
	_ = service.publisher.Publish(ctx, events.QueueBookingConfirmed, events.BookingConfirmedEvent{
		BookingID: record.BookingID,
		PlayerID:  record.PlayerID,
		Program:   record.Program.String(),
		Date:      record.Date.Format("2006-01-02"),
		Start:     record.Start.String(),
	})
}
