package booking

import (
	"errors"

	"github.com/MarkoPoloResearchLab/rinkbook/pkg/credits"
)

// Domain-level error values returned by the reservation service. All are
// expected, recoverable rejections surfaced to the caller; none is retried
// by the core.
var (
	ErrInvalidSlotForProgram = errors.New("slot does not belong to program pool")
	ErrSlotFull              = errors.New("slot full")
	ErrUnknownBooking        = errors.New("unknown booking")
	ErrBookingClosed         = errors.New("booking closed")
	ErrInvalidPlayerID       = errors.New("invalid player id")
	ErrInvalidStatus         = errors.New("invalid status")
	ErrInvalidServiceConfig  = errors.New("invalid service config")
)

// ErrInsufficientCredits is the ledger's rejection, re-exported so callers
// match one error regardless of which layer raised it.
var ErrInsufficientCredits = credits.ErrInsufficientCredits
