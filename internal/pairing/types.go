package pairing

import (
	"context"
	"time"

	"github.com/MarkoPoloResearchLab/rinkbook/internal/schedule"
)

// UnpairedStatus tracks a semi-private registrant's place in the pool.
type UnpairedStatus string

const (
	StatusWaiting UnpairedStatus = "waiting"
	StatusPaired  UnpairedStatus = "paired"
)

// UnpairedPlayer is a semi-private registrant without an active partner.
// Days and Times are the player's stated availability; a candidate partner
// must overlap on both.
type UnpairedPlayer struct {
	PlayerID     string
	Category     string
	Days         []time.Weekday
	Times        []schedule.TimeOfDay
	Status       UnpairedStatus
	WaitingSince time.Time
}

// PairStatus tracks a pairing's lifecycle.
type PairStatus string

const (
	PairActive    PairStatus = "active"
	PairDissolved PairStatus = "dissolved"
)

// Pairing binds two players to one standing weekly shared-pool slot. It
// counts once against that slot's capacity, never per player.
type Pairing struct {
	PairingID      string
	PlayerOneID    string
	PlayerTwoID    string
	Category       string
	Day            time.Weekday
	Start          schedule.TimeOfDay
	Status         PairStatus
	CreatedAt      time.Time
	DissolvedAt    *time.Time
	DissolveReason string
	DissolveActor  string
}

// Opportunity is one scored candidate pair. The common sets are the
// intersections of the two players' stated days and times; both are
// non-empty by construction.
type Opportunity struct {
	PlayerOne   UnpairedPlayer
	PlayerTwo   UnpairedPlayer
	CommonDays  []time.Weekday
	CommonTimes []schedule.TimeOfDay
	Score       int
}

// Store is the persistence contract used by Matcher. WithTx scopes the
// commit boundary: the availability re-check, the pairing insert, and both
// player status flips commit or roll back together.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error

	UpsertUnpairedPlayer(ctx context.Context, player UnpairedPlayer) error
	GetUnpairedPlayer(ctx context.Context, playerID string) (UnpairedPlayer, error)
	ListWaitingPlayers(ctx context.Context, category string) ([]UnpairedPlayer, error)
	SetUnpairedStatus(ctx context.Context, playerID string, status UnpairedStatus, waitingSince time.Time) error

	InsertPairing(ctx context.Context, record Pairing) (Pairing, error)
	GetPairing(ctx context.Context, pairingID string) (Pairing, error)
	GetActivePairingForPlayer(ctx context.Context, playerID string) (Pairing, error)
	UpdatePairingStatus(ctx context.Context, pairingID string, from PairStatus, to PairStatus, at time.Time, reason string, actor string) error

	CountActivePairingsAt(ctx context.Context, day time.Weekday, start schedule.TimeOfDay) (int, error)
	CountUpcomingBookingsAt(ctx context.Context, day time.Weekday, start schedule.TimeOfDay, from time.Time) (int, error)
}
