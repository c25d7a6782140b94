package reschedule

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/rinkbook/internal/schedule"
)

// Kind distinguishes a single-date exception from a permanent change to the
// standing schedule.
type Kind string

const (
	KindOneTime   Kind = "one_time"
	KindPermanent Kind = "permanent"
)

// Status is the change-request state machine: pending moves to approved or
// rejected; approved moves to applied; anything not yet applied can be
// cancelled.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusApplied   Status = "applied"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

// Change is one reschedule request with its audit trail.
//
// One-time changes name the concrete Date and original Start of the booking
// to touch; Skip drops that occurrence (with refund), otherwise it moves to
// NewDate/NewStart. Permanent changes name the recurring ScheduleID and the
// NewDay/NewStart it should hold going forward; past bookings stay as they
// are.
type Change struct {
	ChangeID    string
	PlayerID    string
	Kind        Kind
	Status      Status
	Reason      string
	ScheduleID  string
	Date        time.Time
	Start       schedule.TimeOfDay
	Skip        bool
	NewDate     time.Time
	NewDay      time.Weekday
	NewStart    schedule.TimeOfDay
	ApproverID  string
	RequestedAt time.Time
	DecidedAt   *time.Time
	AppliedAt   *time.Time
}

// Domain-level error values returned by the manager.
var (
	ErrUnknownChange        = errors.New("unknown change")
	ErrInvalidChange        = errors.New("invalid change")
	ErrInvalidTransition    = errors.New("invalid change transition")
	ErrUnknownTargetBooking = errors.New("no booking at the changed slot")
	ErrInvalidManagerConfig = errors.New("invalid manager config")
)

// Store is the persistence contract used by Manager.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error

	InsertChange(ctx context.Context, record Change) (Change, error)
	GetChange(ctx context.Context, changeID string) (Change, error)
	UpdateChangeStatus(ctx context.Context, changeID string, from Status, to Status, at time.Time, approverID string) error
	ListChangesByPlayer(ctx context.Context, playerID string) ([]Change, error)

	// FindBookingID resolves the open booking a one-time exception targets.
	FindBookingID(ctx context.Context, playerID string, date time.Time, start schedule.TimeOfDay) (string, error)
}
