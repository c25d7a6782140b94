package httpapi

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/MarkoPoloResearchLab/rinkbook/internal/booking"
	"github.com/MarkoPoloResearchLab/rinkbook/internal/pairing"
	"github.com/MarkoPoloResearchLab/rinkbook/internal/recurring"
	"github.com/MarkoPoloResearchLab/rinkbook/internal/reschedule"
	"github.com/MarkoPoloResearchLab/rinkbook/internal/schedule"
	"github.com/MarkoPoloResearchLab/rinkbook/pkg/credits"
)

type batchPayload struct {
	BatchID        string `json:"batch_id"`
	Quantity       int    `json:"quantity"`
	Remaining      int    `json:"remaining"`
	PricePaidCents int64  `json:"price_paid_cents"`
	PurchasedAt    string `json:"purchased_at"`
	ExpiresAt      string `json:"expires_at"`
}

func batchPayloadFrom(batch credits.Batch) batchPayload {
	return batchPayload{
		BatchID:        batch.BatchID,
		Quantity:       batch.Quantity,
		Remaining:      batch.Remaining,
		PricePaidCents: batch.PricePaidCents,
		PurchasedAt:    batch.PurchasedAt.UTC().Format(time.RFC3339),
		ExpiresAt:      batch.ExpiresAt.UTC().Format(time.RFC3339),
	}
}

type entryPayload struct {
	EntryID    string `json:"entry_id"`
	Type       string `json:"type"`
	Quantity   int    `json:"quantity"`
	BatchID    string `json:"batch_id,omitempty"`
	BookingRef string `json:"booking_ref,omitempty"`
	CreatedAt  string `json:"created_at"`
}

func entryPayloadFrom(entry credits.Entry) entryPayload {
	return entryPayload{
		EntryID:    entry.EntryID,
		Type:       string(entry.Type),
		Quantity:   entry.Quantity,
		BatchID:    entry.BatchID,
		BookingRef: entry.BookingRef,
		CreatedAt:  entry.CreatedAt.UTC().Format(time.RFC3339),
	}
}

type bookingPayload struct {
	BookingID     string  `json:"booking_id"`
	PlayerID      string  `json:"player_id"`
	Owner         string  `json:"owner"`
	Program       string  `json:"program"`
	Date          string  `json:"date"`
	Start         string  `json:"start"`
	DurationHours int     `json:"duration_hours"`
	CreditCost    int     `json:"credit_cost"`
	Status        string  `json:"status"`
	CreatedAt     string  `json:"created_at"`
	CancelledAt   *string `json:"cancelled_at,omitempty"`
}

func bookingPayloadFrom(record booking.Booking) bookingPayload {
	payload := bookingPayload{
		BookingID:     record.BookingID,
		PlayerID:      record.PlayerID,
		Owner:         record.Owner.String(),
		Program:       record.Program.String(),
		Date:          record.Date.Format(dateLayout),
		Start:         record.Start.String(),
		DurationHours: record.DurationHours,
		CreditCost:    record.CreditCost,
		Status:        string(record.Status),
		CreatedAt:     record.CreatedAt.UTC().Format(time.RFC3339),
	}
	if record.CancelledAt != nil {
		cancelledAt := record.CancelledAt.UTC().Format(time.RFC3339)
		payload.CancelledAt = &cancelledAt
	}
	return payload
}

type refundPayload struct {
	Refunded    bool   `json:"refunded"`
	Quantity    int    `json:"quantity"`
	CancelledAt string `json:"cancelled_at"`
}

func refundPayloadFrom(outcome booking.RefundOutcome) refundPayload {
	return refundPayload{
		Refunded:    outcome.Refunded,
		Quantity:    outcome.Quantity,
		CancelledAt: outcome.CancelledAt.UTC().Format(time.RFC3339),
	}
}

type opportunityPayload struct {
	PlayerOneID string   `json:"player_one_id"`
	PlayerTwoID string   `json:"player_two_id"`
	Category    string   `json:"category"`
	CommonDays  []string `json:"common_days"`
	CommonTimes []string `json:"common_times"`
	Score       int      `json:"score"`
}

func opportunityPayloadFrom(opportunity pairing.Opportunity) opportunityPayload {
	return opportunityPayload{
		PlayerOneID: opportunity.PlayerOne.PlayerID,
		PlayerTwoID: opportunity.PlayerTwo.PlayerID,
		Category:    opportunity.PlayerOne.Category,
		CommonDays:  weekdayNames(opportunity.CommonDays),
		CommonTimes: timeNames(opportunity.CommonTimes),
		Score:       opportunity.Score,
	}
}

type pairingPayload struct {
	PairingID      string  `json:"pairing_id"`
	PlayerOneID    string  `json:"player_one_id"`
	PlayerTwoID    string  `json:"player_two_id"`
	Category       string  `json:"category"`
	Day            string  `json:"day"`
	Start          string  `json:"start"`
	Status         string  `json:"status"`
	CreatedAt      string  `json:"created_at"`
	DissolvedAt    *string `json:"dissolved_at,omitempty"`
	DissolveReason string  `json:"dissolve_reason,omitempty"`
}

func pairingPayloadFrom(record pairing.Pairing) pairingPayload {
	payload := pairingPayload{
		PairingID:      record.PairingID,
		PlayerOneID:    record.PlayerOneID,
		PlayerTwoID:    record.PlayerTwoID,
		Category:       record.Category,
		Day:            weekdayName(record.Day),
		Start:          record.Start.String(),
		Status:         string(record.Status),
		CreatedAt:      record.CreatedAt.UTC().Format(time.RFC3339),
		DissolveReason: record.DissolveReason,
	}
	if record.DissolvedAt != nil {
		dissolvedAt := record.DissolvedAt.UTC().Format(time.RFC3339)
		payload.DissolvedAt = &dissolvedAt
	}
	return payload
}

type schedulePayload struct {
	ScheduleID    string `json:"schedule_id"`
	PlayerID      string `json:"player_id"`
	Owner         string `json:"owner"`
	Program       string `json:"program"`
	Day           string `json:"day"`
	Start         string `json:"start"`
	DurationHours int    `json:"duration_hours"`
	Active        bool   `json:"active"`
	PausedReason  string `json:"paused_reason,omitempty"`
	NextDate      string `json:"next_date"`
	CreatedAt     string `json:"created_at"`
}

func schedulePayloadFrom(record recurring.Schedule) schedulePayload {
	return schedulePayload{
		ScheduleID:    record.ScheduleID,
		PlayerID:      record.PlayerID,
		Owner:         record.Owner.String(),
		Program:       record.Program.String(),
		Day:           weekdayName(record.Day),
		Start:         record.Start.String(),
		DurationHours: record.DurationHours,
		Active:        record.Active,
		PausedReason:  record.PausedReason,
		NextDate:      record.NextDate.Format(dateLayout),
		CreatedAt:     record.CreatedAt.UTC().Format(time.RFC3339),
	}
}

type changePayload struct {
	ChangeID    string  `json:"change_id"`
	PlayerID    string  `json:"player_id"`
	Kind        string  `json:"kind"`
	Status      string  `json:"status"`
	Reason      string  `json:"reason,omitempty"`
	ScheduleID  string  `json:"schedule_id,omitempty"`
	Date        string  `json:"date,omitempty"`
	Start       string  `json:"start,omitempty"`
	Skip        bool    `json:"skip"`
	NewDate     string  `json:"new_date,omitempty"`
	NewDay      string  `json:"new_day,omitempty"`
	NewStart    string  `json:"new_start,omitempty"`
	ApproverID  string  `json:"approver_id,omitempty"`
	RequestedAt string  `json:"requested_at"`
	DecidedAt   *string `json:"decided_at,omitempty"`
	AppliedAt   *string `json:"applied_at,omitempty"`
}

func changePayloadFrom(record reschedule.Change) changePayload {
	payload := changePayload{
		ChangeID:    record.ChangeID,
		PlayerID:    record.PlayerID,
		Kind:        string(record.Kind),
		Status:      string(record.Status),
		Reason:      record.Reason,
		ScheduleID:  record.ScheduleID,
		Skip:        record.Skip,
		ApproverID:  record.ApproverID,
		RequestedAt: record.RequestedAt.UTC().Format(time.RFC3339),
	}
	if !record.Date.IsZero() {
		payload.Date = record.Date.Format(dateLayout)
		payload.Start = record.Start.String()
	}
	if !record.NewDate.IsZero() {
		payload.NewDate = record.NewDate.Format(dateLayout)
	}
	if record.Kind == reschedule.KindPermanent || (record.Kind == reschedule.KindOneTime && !record.Skip) {
		payload.NewStart = record.NewStart.String()
	}
	if record.Kind == reschedule.KindPermanent {
		payload.NewDay = weekdayName(record.NewDay)
	}
	if record.DecidedAt != nil {
		decidedAt := record.DecidedAt.UTC().Format(time.RFC3339)
		payload.DecidedAt = &decidedAt
	}
	if record.AppliedAt != nil {
		appliedAt := record.AppliedAt.UTC().Format(time.RFC3339)
		payload.AppliedAt = &appliedAt
	}
	return payload
}

func applyOutcomePayloadFrom(outcome reschedule.ApplyOutcome) gin.H {
	payload := gin.H{"status": string(reschedule.StatusApplied)}
	if outcome.MovedBooking != nil {
		payload["moved_booking"] = bookingPayloadFrom(*outcome.MovedBooking)
	}
	if outcome.Refund != nil {
		payload["refund"] = refundPayloadFrom(*outcome.Refund)
	}
	if outcome.UpdatedSchedule != nil {
		payload["updated_schedule"] = schedulePayloadFrom(*outcome.UpdatedSchedule)
	}
	if len(outcome.Opportunities) > 0 {
		opportunities := make([]opportunityPayload, 0, len(outcome.Opportunities))
		for _, opportunity := range outcome.Opportunities {
			opportunities = append(opportunities, opportunityPayloadFrom(opportunity))
		}
		payload["opportunities"] = opportunities
	}
	return payload
}

func weekdayName(day time.Weekday) string {
	return strings.ToLower(day.String())
}

func weekdayNames(days []time.Weekday) []string {
	names := make([]string, 0, len(days))
	for _, day := range days {
		names = append(names, weekdayName(day))
	}
	return names
}

func timeNames(times []schedule.TimeOfDay) []string {
	names := make([]string, 0, len(times))
	for _, start := range times {
		names = append(names, start.String())
	}
	return names
}
