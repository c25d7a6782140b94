package booking

import (
	"context"
	"time"

	"github.com/MarkoPoloResearchLab/rinkbook/internal/schedule"
	"github.com/MarkoPoloResearchLab/rinkbook/pkg/credits"
)

// Status defines the booking lifecycle.
type Status string

const (
	// StatusProvisional marks a paid-program booking awaiting external
	// payment confirmation. It holds its slot but can still be released.
	StatusProvisional Status = "provisional"
	StatusBooked      Status = "booked"
	StatusCancelled   Status = "cancelled"
	StatusCompleted   Status = "completed"
	StatusNoShow      Status = "no_show"
)

// Booking is one confirmed occupation of a slot by one player for one
// program on one concrete calendar date.
type Booking struct {
	BookingID     string
	PlayerID      string
	Owner         credits.OwnerID
	Program       schedule.Program
	Date          time.Time
	Start         schedule.TimeOfDay
	DurationHours int
	CreditCost    int
	Status        Status
	CreatedAt     time.Time
	CancelledAt   *time.Time
}

// ReserveRequest carries everything Reserve needs. Owner is the parent
// credit account supplied by the registration directory.
type ReserveRequest struct {
	PlayerID      string
	Owner         credits.OwnerID
	Program       schedule.Program
	Date          time.Time
	Start         schedule.TimeOfDay
	DurationHours int
}

// RefundOutcome reports what a cancellation did with the booking's credits.
type RefundOutcome struct {
	Refunded    bool
	Quantity    int
	CancelledAt time.Time
}

// Store is the persistence contract used by Service. WithTx scopes the
// reserve boundary: counter locks, the booking insert, and the credit debit
// all commit or roll back together. Credits exposes the credit store bound
// to the same transaction.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	Credits() credits.Store

	InsertBooking(ctx context.Context, record Booking) (Booking, error)
	GetBooking(ctx context.Context, bookingID string) (Booking, error)
	UpdateBookingStatus(ctx context.Context, bookingID string, from Status, to Status, at time.Time) error
	UpdateBookingSlot(ctx context.Context, bookingID string, date time.Time, start schedule.TimeOfDay) error
	ListBookingsByPlayer(ctx context.Context, playerID string, limit int) ([]Booking, error)

	LockSlotCount(ctx context.Context, pool schedule.Pool, date time.Time, start schedule.TimeOfDay) (int, error)
	AddSlotCount(ctx context.Context, pool schedule.Pool, date time.Time, start schedule.TimeOfDay, delta int) error
	SlotCount(ctx context.Context, pool schedule.Pool, date time.Time, start schedule.TimeOfDay) (int, error)
	CountActivePairingsAt(ctx context.Context, day time.Weekday, start schedule.TimeOfDay) (int, error)
}
