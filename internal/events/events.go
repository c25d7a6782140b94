// Package events defines the payloads handed to the notification
// collaborator and the publisher contract used by the booking core.
// Publishing is fire-and-forget: a failed delivery is logged, never retried,
// and never fails the originating operation.
package events

import "context"

// Queue names, one per event kind.
const (
	QueueOccupancyChanged    = "capacity.occupancy_changed"
	QueueBookingConfirmed    = "booking.confirmed"
	QueuePairingFound        = "pairing.found"
	QueuePairingDissolved    = "pairing.dissolved"
	QueueRecurringSkipped    = "recurring.skipped"
	QueueCreditsInsufficient = "credits.insufficient"
)

// Publisher delivers one event payload to a named queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, payload any) error
}

// OccupancyChangedEvent announces that a slot's occupancy moved, so
// interested readers can refresh that slot instead of re-fetching whole
// lists.
type OccupancyChangedEvent struct {
	Pool     string `json:"pool"`
	Date     string `json:"date"`
	Day      string `json:"day"`
	Start    string `json:"start"`
	Booked   int    `json:"booked"`
	Capacity int    `json:"capacity"`
}

// BookingConfirmedEvent is published when a booking lands in booked status.
type BookingConfirmedEvent struct {
	BookingID string `json:"booking_id"`
	PlayerID  string `json:"player_id"`
	Program   string `json:"program"`
	Date      string `json:"date"`
	Start     string `json:"start"`
}

// PairingFoundEvent is published when two semi-private players are paired.
type PairingFoundEvent struct {
	PairingID string `json:"pairing_id"`
	PlayerOne string `json:"player_one"`
	PlayerTwo string `json:"player_two"`
	Day       string `json:"day"`
	Start     string `json:"start"`
}

// PairingDissolvedEvent is published when a pairing ends.
type PairingDissolvedEvent struct {
	PairingID string `json:"pairing_id"`
	PlayerOne string `json:"player_one"`
	PlayerTwo string `json:"player_two"`
	Reason    string `json:"reason"`
	Actor     string `json:"actor"`
}

// RecurringSkippedEvent is published when a weekly materialization loses
// its seat to another booking. The occurrence is lost, not retried.
type RecurringSkippedEvent struct {
	ScheduleID string `json:"schedule_id"`
	PlayerID   string `json:"player_id"`
	Program    string `json:"program"`
	Date       string `json:"date"`
	Start      string `json:"start"`
}

// CreditsInsufficientEvent is published when a recurring schedule pauses on
// credit shortfall.
type CreditsInsufficientEvent struct {
	ScheduleID string `json:"schedule_id"`
	PlayerID   string `json:"player_id"`
	Owner      string `json:"owner"`
}
