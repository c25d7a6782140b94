package pairing

import "errors"

// Domain-level error values returned by the matcher. Category mismatch is
// rejected at validation and never reaches the capacity check; a stale
// opportunity tells the caller to re-discover.
var (
	ErrCategoryMismatch     = errors.New("category mismatch")
	ErrStaleOpportunity     = errors.New("stale opportunity")
	ErrUnknownPlayer        = errors.New("unknown unpaired player")
	ErrUnknownPairing       = errors.New("unknown pairing")
	ErrPairingClosed        = errors.New("pairing closed")
	ErrInvalidPlayer        = errors.New("invalid unpaired player")
	ErrInvalidSlotChoice    = errors.New("invalid slot choice")
	ErrInvalidMatcherConfig = errors.New("invalid matcher config")
)
