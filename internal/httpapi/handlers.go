package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
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

const dateLayout = "2006-01-02"

// --- credits ---

type purchaseRequest struct {
	Owner          string `json:"owner"`
	Quantity       int    `json:"quantity"`
	PricePaidCents int64  `json:"price_paid_cents"`
	ExpiresAt      string `json:"expires_at"`
}

func (server *Server) handlePurchase(ctx *gin.Context) {
	var request purchaseRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		respondBadRequest(ctx, "expected JSON body")
		return
	}
	owner, err := credits.NewOwnerID(request.Owner)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	expiresAt, err := time.Parse(time.RFC3339, request.ExpiresAt)
	if err != nil {
		respondBadRequest(ctx, "expires_at must be RFC 3339")
		return
	}
	batch, err := server.deps.Ledger.Purchase(ctx.Request.Context(), owner, request.Quantity, request.PricePaidCents, expiresAt)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"batch": batchPayloadFrom(batch)})
}

func (server *Server) handleBalance(ctx *gin.Context) {
	owner, err := credits.NewOwnerID(ctx.Param("owner"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	balance, err := server.deps.Ledger.Balance(ctx.Request.Context(), owner)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"owner": owner.String(), "balance": balance})
}

func (server *Server) handleHistory(ctx *gin.Context) {
	owner, err := credits.NewOwnerID(ctx.Param("owner"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	before := time.Now().UTC().Add(time.Second)
	if raw := ctx.Query("before"); raw != "" {
		before, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			respondBadRequest(ctx, "before must be RFC 3339")
			return
		}
	}
	limit := server.cfg.HistoryLimit
	if raw := ctx.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			respondBadRequest(ctx, "limit must be a positive integer")
			return
		}
	}
	entries, err := server.deps.Ledger.History(ctx.Request.Context(), owner, before, limit)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	payload := make([]entryPayload, 0, len(entries))
	for _, entry := range entries {
		payload = append(payload, entryPayloadFrom(entry))
	}
	ctx.JSON(http.StatusOK, gin.H{"entries": payload})
}

// --- bookings ---

type reserveRequest struct {
	PlayerID      string `json:"player_id"`
	Owner         string `json:"owner"`
	Program       string `json:"program"`
	Date          string `json:"date"`
	Start         string `json:"start"`
	DurationHours int    `json:"duration_hours"`
}

func (server *Server) handleReserve(ctx *gin.Context) {
	var request reserveRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		respondBadRequest(ctx, "expected JSON body")
		return
	}
	owner, err := credits.NewOwnerID(request.Owner)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	program, err := schedule.ParseProgram(request.Program)
	if err != nil {
		respondBadRequest(ctx, err.Error())
		return
	}
	date, start, ok := parseSlot(ctx, request.Date, request.Start)
	if !ok {
		return
	}
	record, err := server.deps.Bookings.Reserve(ctx.Request.Context(), booking.ReserveRequest{
		PlayerID:      request.PlayerID,
		Owner:         owner,
		Program:       program,
		Date:          date,
		Start:         start,
		DurationHours: request.DurationHours,
	})
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"booking": bookingPayloadFrom(record)})
}

func (server *Server) handleGetBooking(ctx *gin.Context) {
	record, err := server.deps.Bookings.Get(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"booking": bookingPayloadFrom(record)})
}

func (server *Server) handleCancel(ctx *gin.Context) {
	outcome, err := server.deps.Bookings.Cancel(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"refund": refundPayloadFrom(outcome)})
}

func (server *Server) handleConfirmPayment(ctx *gin.Context) {
	record, err := server.deps.Bookings.ConfirmPayment(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"booking": bookingPayloadFrom(record)})
}

func (server *Server) handleReleasePayment(ctx *gin.Context) {
	if err := server.deps.Bookings.ReleasePayment(ctx.Request.Context(), ctx.Param("id")); err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "released"})
}

type attendanceRequest struct {
	Outcome string `json:"outcome"`
}

func (server *Server) handleAttendance(ctx *gin.Context) {
	var request attendanceRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		respondBadRequest(ctx, "expected JSON body")
		return
	}
	var outcome booking.Status
	switch request.Outcome {
	case string(booking.StatusCompleted):
		outcome = booking.StatusCompleted
	case string(booking.StatusNoShow):
		outcome = booking.StatusNoShow
	default:
		respondBadRequest(ctx, "outcome must be completed or no_show")
		return
	}
	if err := server.deps.Bookings.MarkAttendance(ctx.Request.Context(), ctx.Param("id"), outcome); err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": string(outcome)})
}

type moveBookingRequest struct {
	Date  string `json:"date"`
	Start string `json:"start"`
}

func (server *Server) handleMoveBooking(ctx *gin.Context) {
	var request moveBookingRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		respondBadRequest(ctx, "expected JSON body")
		return
	}
	date, start, ok := parseSlot(ctx, request.Date, request.Start)
	if !ok {
		return
	}
	record, err := server.deps.Bookings.Move(ctx.Request.Context(), ctx.Param("id"), date, start)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"booking": bookingPayloadFrom(record)})
}

func (server *Server) handleListBookings(ctx *gin.Context) {
	records, err := server.deps.Bookings.ListByPlayer(ctx.Request.Context(), ctx.Param("id"), server.cfg.HistoryLimit)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	payload := make([]bookingPayload, 0, len(records))
	for _, record := range records {
		payload = append(payload, bookingPayloadFrom(record))
	}
	ctx.JSON(http.StatusOK, gin.H{"bookings": payload})
}

// --- pairing ---

type enrollRequest struct {
	PlayerID string   `json:"player_id"`
	Category string   `json:"category"`
	Days     []string `json:"days"`
	Times    []string `json:"times"`
}

func (server *Server) handleEnroll(ctx *gin.Context) {
	var request enrollRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		respondBadRequest(ctx, "expected JSON body")
		return
	}
	days, ok := parseWeekdays(ctx, request.Days)
	if !ok {
		return
	}
	times, ok := parseTimes(ctx, request.Times)
	if !ok {
		return
	}
	err := server.deps.Matcher.Enroll(ctx.Request.Context(), pairing.UnpairedPlayer{
		PlayerID: request.PlayerID,
		Category: request.Category,
		Days:     days,
		Times:    times,
	})
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"status": "waiting"})
}

func (server *Server) handleOpportunities(ctx *gin.Context) {
	category := ctx.Query("category")
	if strings.TrimSpace(category) == "" {
		respondBadRequest(ctx, "category query parameter is required")
		return
	}
	opportunities, err := server.deps.Matcher.FindOpportunities(ctx.Request.Context(), category)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	payload := make([]opportunityPayload, 0, len(opportunities))
	for _, opportunity := range opportunities {
		payload = append(payload, opportunityPayloadFrom(opportunity))
	}
	ctx.JSON(http.StatusOK, gin.H{"opportunities": payload})
}

type commitRequest struct {
	Category    string `json:"category"`
	PlayerOneID string `json:"player_one_id"`
	PlayerTwoID string `json:"player_two_id"`
	Day         string `json:"day"`
	Start       string `json:"start"`
}

// handleCommitPairing re-discovers the named opportunity before committing,
// so a pair that no longer scores reads as stale rather than being forced.
func (server *Server) handleCommitPairing(ctx *gin.Context) {
	var request commitRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		respondBadRequest(ctx, "expected JSON body")
		return
	}
	day, ok := parseWeekday(ctx, request.Day)
	if !ok {
		return
	}
	start, err := schedule.ParseTimeOfDay(request.Start)
	if err != nil {
		respondBadRequest(ctx, err.Error())
		return
	}
	opportunities, err := server.deps.Matcher.FindOpportunities(ctx.Request.Context(), request.Category)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	for _, opportunity := range opportunities {
		if !matchesPair(opportunity, request.PlayerOneID, request.PlayerTwoID) {
			continue
		}
		record, commitErr := server.deps.Matcher.Commit(ctx.Request.Context(), opportunity, day, start)
		if commitErr != nil {
			server.respondError(ctx, commitErr)
			return
		}
		ctx.JSON(http.StatusCreated, gin.H{"pairing": pairingPayloadFrom(record)})
		return
	}
	server.respondError(ctx, pairing.ErrStaleOpportunity)
}

type dissolveRequest struct {
	Reason string `json:"reason"`
	Actor  string `json:"actor"`
}

func (server *Server) handleDissolvePairing(ctx *gin.Context) {
	var request dissolveRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		respondBadRequest(ctx, "expected JSON body")
		return
	}
	if err := server.deps.Matcher.Dissolve(ctx.Request.Context(), ctx.Param("id"), request.Reason, request.Actor); err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "dissolved"})
}

// --- recurring schedules ---

type createScheduleRequest struct {
	PlayerID      string `json:"player_id"`
	Owner         string `json:"owner"`
	Program       string `json:"program"`
	Day           string `json:"day"`
	Start         string `json:"start"`
	DurationHours int    `json:"duration_hours"`
	NextDate      string `json:"next_date"`
}

func (server *Server) handleCreateSchedule(ctx *gin.Context) {
	var request createScheduleRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		respondBadRequest(ctx, "expected JSON body")
		return
	}
	owner, err := credits.NewOwnerID(request.Owner)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	program, err := schedule.ParseProgram(request.Program)
	if err != nil {
		respondBadRequest(ctx, err.Error())
		return
	}
	day, ok := parseWeekday(ctx, request.Day)
	if !ok {
		return
	}
	start, err := schedule.ParseTimeOfDay(request.Start)
	if err != nil {
		respondBadRequest(ctx, err.Error())
		return
	}
	var nextDate time.Time
	if request.NextDate != "" {
		nextDate, err = time.Parse(dateLayout, request.NextDate)
		if err != nil {
			respondBadRequest(ctx, "next_date must be YYYY-MM-DD")
			return
		}
	}
	record, err := server.deps.Schedules.Create(ctx.Request.Context(), recurring.Schedule{
		PlayerID:      request.PlayerID,
		Owner:         owner,
		Program:       program,
		Day:           day,
		Start:         start,
		DurationHours: request.DurationHours,
		NextDate:      nextDate,
	})
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"schedule": schedulePayloadFrom(record)})
}

func (server *Server) handleGetSchedule(ctx *gin.Context) {
	record, err := server.deps.Schedules.Get(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"schedule": schedulePayloadFrom(record)})
}

type pauseRequest struct {
	Reason string `json:"reason"`
}

func (server *Server) handlePauseSchedule(ctx *gin.Context) {
	var request pauseRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		respondBadRequest(ctx, "expected JSON body")
		return
	}
	if err := server.deps.Schedules.Pause(ctx.Request.Context(), ctx.Param("id"), request.Reason); err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "paused"})
}

func (server *Server) handleResumeSchedule(ctx *gin.Context) {
	if err := server.deps.Schedules.Resume(ctx.Request.Context(), ctx.Param("id")); err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "active"})
}

type moveScheduleRequest struct {
	Day   string `json:"day"`
	Start string `json:"start"`
}

func (server *Server) handleMoveSchedule(ctx *gin.Context) {
	var request moveScheduleRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		respondBadRequest(ctx, "expected JSON body")
		return
	}
	day, ok := parseWeekday(ctx, request.Day)
	if !ok {
		return
	}
	start, err := schedule.ParseTimeOfDay(request.Start)
	if err != nil {
		respondBadRequest(ctx, err.Error())
		return
	}
	record, err := server.deps.Schedules.MoveSlot(ctx.Request.Context(), ctx.Param("id"), day, start)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"schedule": schedulePayloadFrom(record)})
}

func (server *Server) handleDeleteSchedule(ctx *gin.Context) {
	if err := server.deps.Schedules.Delete(ctx.Request.Context(), ctx.Param("id")); err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (server *Server) handleListSchedules(ctx *gin.Context) {
	records, err := server.deps.Schedules.ListByPlayer(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	payload := make([]schedulePayload, 0, len(records))
	for _, record := range records {
		payload = append(payload, schedulePayloadFrom(record))
	}
	ctx.JSON(http.StatusOK, gin.H{"schedules": payload})
}

// --- reschedule changes ---

type changeRequest struct {
	PlayerID   string `json:"player_id"`
	Kind       string `json:"kind"`
	Reason     string `json:"reason"`
	ScheduleID string `json:"schedule_id"`
	Date       string `json:"date"`
	Start      string `json:"start"`
	Skip       bool   `json:"skip"`
	NewDate    string `json:"new_date"`
	NewDay     string `json:"new_day"`
	NewStart   string `json:"new_start"`
}

func (server *Server) handleRequestChange(ctx *gin.Context) {
	var request changeRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		respondBadRequest(ctx, "expected JSON body")
		return
	}
	record := reschedule.Change{
		PlayerID:   request.PlayerID,
		Kind:       reschedule.Kind(request.Kind),
		Reason:     request.Reason,
		ScheduleID: request.ScheduleID,
		Skip:       request.Skip,
	}
	var err error
	if request.Date != "" {
		record.Date, err = time.Parse(dateLayout, request.Date)
		if err != nil {
			respondBadRequest(ctx, "date must be YYYY-MM-DD")
			return
		}
	}
	if request.Start != "" {
		record.Start, err = schedule.ParseTimeOfDay(request.Start)
		if err != nil {
			respondBadRequest(ctx, err.Error())
			return
		}
	}
	if request.NewDate != "" {
		record.NewDate, err = time.Parse(dateLayout, request.NewDate)
		if err != nil {
			respondBadRequest(ctx, "new_date must be YYYY-MM-DD")
			return
		}
	}
	if request.NewDay != "" {
		day, ok := parseWeekday(ctx, request.NewDay)
		if !ok {
			return
		}
		record.NewDay = day
	}
	if request.NewStart != "" {
		record.NewStart, err = schedule.ParseTimeOfDay(request.NewStart)
		if err != nil {
			respondBadRequest(ctx, err.Error())
			return
		}
	}
	created, err := server.deps.Changes.Request(ctx.Request.Context(), record)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"change": changePayloadFrom(created)})
}

func (server *Server) handleGetChange(ctx *gin.Context) {
	record, err := server.deps.Changes.Get(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"change": changePayloadFrom(record)})
}

type decisionRequest struct {
	ApproverID string `json:"approver_id"`
}

func (server *Server) handleApproveChange(ctx *gin.Context) {
	var request decisionRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		respondBadRequest(ctx, "expected JSON body")
		return
	}
	if err := server.deps.Changes.Approve(ctx.Request.Context(), ctx.Param("id"), request.ApproverID); err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": string(reschedule.StatusApproved)})
}

func (server *Server) handleRejectChange(ctx *gin.Context) {
	var request decisionRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		respondBadRequest(ctx, "expected JSON body")
		return
	}
	if err := server.deps.Changes.Reject(ctx.Request.Context(), ctx.Param("id"), request.ApproverID); err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": string(reschedule.StatusRejected)})
}

func (server *Server) handleCancelChange(ctx *gin.Context) {
	if err := server.deps.Changes.CancelChange(ctx.Request.Context(), ctx.Param("id")); err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": string(reschedule.StatusCancelled)})
}

func (server *Server) handleApplyChange(ctx *gin.Context) {
	outcome, err := server.deps.Changes.Apply(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, applyOutcomePayloadFrom(outcome))
}

func (server *Server) handleListChanges(ctx *gin.Context) {
	records, err := server.deps.Changes.ListByPlayer(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	payload := make([]changePayload, 0, len(records))
	for _, record := range records {
		payload = append(payload, changePayloadFrom(record))
	}
	ctx.JSON(http.StatusOK, gin.H{"changes": payload})
}

// --- parsing helpers ---

func respondBadRequest(ctx *gin.Context, message string) {
	ctx.JSON(http.StatusBadRequest, gin.H{
		"error": gin.H{"code": "invalid_request", "message": message},
	})
}

func parseSlot(ctx *gin.Context, rawDate string, rawStart string) (time.Time, schedule.TimeOfDay, bool) {
	date, err := time.Parse(dateLayout, rawDate)
	if err != nil {
		respondBadRequest(ctx, "date must be YYYY-MM-DD")
		return time.Time{}, schedule.TimeOfDay{}, false
	}
	start, err := schedule.ParseTimeOfDay(rawStart)
	if err != nil {
		respondBadRequest(ctx, err.Error())
		return time.Time{}, schedule.TimeOfDay{}, false
	}
	return date, start, true
}

var weekdaysByName = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

func parseWeekday(ctx *gin.Context, raw string) (time.Weekday, bool) {
	day, ok := weekdaysByName[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		respondBadRequest(ctx, fmt.Sprintf("unknown weekday %q", raw))
		return 0, false
	}
	return day, true
}

func parseWeekdays(ctx *gin.Context, raw []string) ([]time.Weekday, bool) {
	days := make([]time.Weekday, 0, len(raw))
	for _, name := range raw {
		day, ok := parseWeekday(ctx, name)
		if !ok {
			return nil, false
		}
		days = append(days, day)
	}
	return days, true
}

func parseTimes(ctx *gin.Context, raw []string) ([]schedule.TimeOfDay, bool) {
	times := make([]schedule.TimeOfDay, 0, len(raw))
	for _, value := range raw {
		start, err := schedule.ParseTimeOfDay(value)
		if err != nil {
			respondBadRequest(ctx, err.Error())
			return nil, false
		}
		times = append(times, start)
	}
	return times, true
}

func matchesPair(opportunity pairing.Opportunity, playerOneID string, playerTwoID string) bool {
	if opportunity.PlayerOne.PlayerID == playerOneID && opportunity.PlayerTwo.PlayerID == playerTwoID {
		return true
	}
	return opportunity.PlayerOne.PlayerID == playerTwoID && opportunity.PlayerTwo.PlayerID == playerOneID
}
