package recurring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/rinkbook/internal/booking"
	"github.com/MarkoPoloResearchLab/rinkbook/internal/events"
	"github.com/MarkoPoloResearchLab/rinkbook/internal/schedule"
	"github.com/MarkoPoloResearchLab/rinkbook/pkg/credits"
)

// baseTime is a Monday.
var baseTime = time.Date(2026, time.January, 5, 12, 0, 0, 0, time.UTC)

func TestNextOccurrence(test *testing.T) {
	test.Parallel()
	// From Monday noon, the next Tuesday is tomorrow and the next Monday is
	// today (the sweep decides whether today's slot is still bookable).
	tuesday := NextOccurrence(baseTime, time.Tuesday)
	if tuesday.Weekday() != time.Tuesday || tuesday.Day() != 6 {
		test.Fatalf("unexpected next Tuesday: %v", tuesday)
	}
	monday := NextOccurrence(baseTime, time.Monday)
	if monday.Day() != 5 {
		test.Fatalf("same weekday must resolve to today, got %v", monday)
	}
}

func TestCreateDefaultsNextDate(test *testing.T) {
	test.Parallel()
	harness := newHarness(test, nil)
	created, err := harness.processor.Create(context.Background(), Schedule{
		PlayerID: "player-1",
		Owner:    mustOwner(test, "parent-1"),
		Program:  schedule.ProgramGroup,
		Day:      time.Wednesday,
		Start:    mustTime(test, "16:30"),
	})
	if err != nil {
		test.Fatalf("create: %v", err)
	}
	if !created.Active || created.NextDate.Weekday() != time.Wednesday {
		test.Fatalf("unexpected schedule: %+v", created)
	}
	if created.NextDate.Day() != 7 {
		test.Fatalf("expected first Wednesday after Monday Jan 5, got %v", created.NextDate)
	}
}

func TestCreateRejectsSlotOutsideProgramPool(test *testing.T) {
	test.Parallel()
	harness := newHarness(test, nil)
	_, err := harness.processor.Create(context.Background(), Schedule{
		PlayerID: "player-1",
		Owner:    mustOwner(test, "parent-1"),
		Program:  schedule.ProgramGroup,
		Day:      time.Wednesday,
		Start:    mustTime(test, "15:00"),
	})
	if !errors.Is(err, ErrInvalidSchedule) {
		test.Fatalf("expected ErrInvalidSchedule, got %v", err)
	}
}

func TestSweepAdvancesOneWeekOnSuccess(test *testing.T) {
	test.Parallel()
	harness := newHarness(test, nil)
	created := harness.create(test)

	report, err := harness.processor.Sweep(context.Background())
	if err != nil {
		test.Fatalf("sweep: %v", err)
	}
	if report.Materialized != 1 || report.Skipped != 0 || report.Paused != 0 {
		test.Fatalf("unexpected report: %+v", report)
	}
	updated := harness.store.get(test, created.ScheduleID)
	if !updated.NextDate.Equal(created.NextDate.AddDate(0, 0, 7)) {
		test.Fatalf("expected next date one week later, got %v", updated.NextDate)
	}
	if len(harness.reserver.requests) != 1 {
		test.Fatalf("expected one reservation attempt, got %d", len(harness.reserver.requests))
	}
	request := harness.reserver.requests[0]
	if !request.Date.Equal(created.NextDate) || request.Start != created.Start {
		test.Fatalf("unexpected reservation request: %+v", request)
	}
}

func TestSweepPausesOnInsufficientCredits(test *testing.T) {
	test.Parallel()
	harness := newHarness(test, []error{booking.ErrInsufficientCredits})
	created := harness.create(test)

	report, err := harness.processor.Sweep(context.Background())
	if err != nil {
		test.Fatalf("sweep: %v", err)
	}
	if report.Paused != 1 {
		test.Fatalf("unexpected report: %+v", report)
	}
	updated := harness.store.get(test, created.ScheduleID)
	if updated.Active || updated.PausedReason != PausedReasonInsufficientCredits {
		test.Fatalf("expected paused schedule, got %+v", updated)
	}
	if !updated.NextDate.Equal(created.NextDate) {
		test.Fatalf("pause must leave the next date unchanged, got %v", updated.NextDate)
	}
	if harness.publisher.count(events.QueueCreditsInsufficient) != 1 {
		test.Fatalf("expected a credits.insufficient event")
	}
}

func TestSweepSkipsLostOccurrenceOnSlotFull(test *testing.T) {
	test.Parallel()
	harness := newHarness(test, []error{booking.ErrSlotFull})
	created := harness.create(test)

	report, err := harness.processor.Sweep(context.Background())
	if err != nil {
		test.Fatalf("sweep: %v", err)
	}
	if report.Skipped != 1 {
		test.Fatalf("unexpected report: %+v", report)
	}
	updated := harness.store.get(test, created.ScheduleID)
	if !updated.Active {
		test.Fatalf("slot full must not pause the schedule")
	}
	if !updated.NextDate.Equal(created.NextDate.AddDate(0, 0, 7)) {
		test.Fatalf("lost occurrence must still advance one week, got %v", updated.NextDate)
	}
	if harness.publisher.count(events.QueueRecurringSkipped) != 1 {
		test.Fatalf("expected a recurring.skipped event")
	}
}

func TestSweepIgnoresFutureAndPausedSchedules(test *testing.T) {
	test.Parallel()
	harness := newHarness(test, nil)
	created := harness.create(test)
	if err := harness.processor.Pause(context.Background(), created.ScheduleID, "vacation"); err != nil {
		test.Fatalf("pause: %v", err)
	}

	report, err := harness.processor.Sweep(context.Background())
	if err != nil {
		test.Fatalf("sweep: %v", err)
	}
	if report != (SweepReport{}) {
		test.Fatalf("paused schedule must not materialize, got %+v", report)
	}
}

func TestResumeRetriesTheSameOccurrence(test *testing.T) {
	test.Parallel()
	harness := newHarness(test, []error{booking.ErrInsufficientCredits, nil})
	created := harness.create(test)

	if _, err := harness.processor.Sweep(context.Background()); err != nil {
		test.Fatalf("sweep: %v", err)
	}
	if err := harness.processor.Resume(context.Background(), created.ScheduleID); err != nil {
		test.Fatalf("resume: %v", err)
	}
	resumed := harness.store.get(test, created.ScheduleID)
	if !resumed.Active || resumed.PausedReason != "" {
		test.Fatalf("expected cleared pause, got %+v", resumed)
	}

	report, err := harness.processor.Sweep(context.Background())
	if err != nil {
		test.Fatalf("second sweep: %v", err)
	}
	if report.Materialized != 1 {
		test.Fatalf("resume must retry the interrupted occurrence, got %+v", report)
	}
	last := harness.reserver.requests[len(harness.reserver.requests)-1]
	if !last.Date.Equal(created.NextDate) {
		test.Fatalf("retried occurrence must keep its date, got %v", last.Date)
	}
	if err := harness.processor.Resume(context.Background(), created.ScheduleID); !errors.Is(err, ErrScheduleNotPaused) {
		test.Fatalf("expected ErrScheduleNotPaused, got %v", err)
	}
}

func TestMoveSlotRealignsNextDate(test *testing.T) {
	test.Parallel()
	harness := newHarness(test, nil)
	created := harness.create(test)

	updated, err := harness.processor.MoveSlot(context.Background(), created.ScheduleID, time.Friday, mustTime(test, "17:30"))
	if err != nil {
		test.Fatalf("move slot: %v", err)
	}
	if updated.Day != time.Friday || updated.NextDate.Weekday() != time.Friday {
		test.Fatalf("unexpected schedule after move: %+v", updated)
	}
	if _, err := harness.processor.MoveSlot(context.Background(), created.ScheduleID, time.Saturday, mustTime(test, "17:30")); !errors.Is(err, ErrInvalidSchedule) {
		test.Fatalf("expected ErrInvalidSchedule for a non-catalog slot, got %v", err)
	}
}

func TestDeleteLeavesNoSchedule(test *testing.T) {
	test.Parallel()
	harness := newHarness(test, nil)
	created := harness.create(test)
	if err := harness.processor.Delete(context.Background(), created.ScheduleID); err != nil {
		test.Fatalf("delete: %v", err)
	}
	if _, err := harness.processor.Get(context.Background(), created.ScheduleID); !errors.Is(err, ErrUnknownSchedule) {
		test.Fatalf("expected ErrUnknownSchedule, got %v", err)
	}
}

type harness struct {
	store     *stubStore
	reserver  *stubReserver
	publisher *recordingPublisher
	processor *Processor
}

func newHarness(test *testing.T, outcomes []error) *harness {
	test.Helper()
	store := newStubStore()
	reserver := &stubReserver{outcomes: outcomes}
	publisher := &recordingPublisher{}
	processor, err := NewProcessor(store, reserver, schedule.DefaultCatalog(), publisher, func() time.Time { return baseTime })
	if err != nil {
		test.Fatalf("processor: %v", err)
	}
	return &harness{store: store, reserver: reserver, publisher: publisher, processor: processor}
}

// create registers the Wednesday 16:30 group schedule used across tests.
func (h *harness) create(test *testing.T) Schedule {
	test.Helper()
	created, err := h.processor.Create(context.Background(), Schedule{
		PlayerID: "player-1",
		Owner:    mustOwner(test, "parent-1"),
		Program:  schedule.ProgramGroup,
		Day:      time.Wednesday,
		Start:    mustTime(test, "16:30"),
	})
	if err != nil {
		test.Fatalf("create: %v", err)
	}
	// Make the schedule due now instead of waiting for Wednesday.
	if err := h.store.UpdateNextDate(context.Background(), created.ScheduleID, schedule.DateOf(baseTime)); err != nil {
		test.Fatalf("update next date: %v", err)
	}
	created.NextDate = schedule.DateOf(baseTime)
	return created
}

func mustOwner(test *testing.T, raw string) credits.OwnerID {
	test.Helper()
	owner, err := credits.NewOwnerID(raw)
	if err != nil {
		test.Fatalf("owner id: %v", err)
	}
	return owner
}

func mustTime(test *testing.T, raw string) schedule.TimeOfDay {
	test.Helper()
	value, err := schedule.ParseTimeOfDay(raw)
	if err != nil {
		test.Fatalf("time of day: %v", err)
	}
	return value
}

// stubReserver replays scripted outcomes, then succeeds.
type stubReserver struct {
	outcomes []error
	requests []booking.ReserveRequest
}

func (reserver *stubReserver) Reserve(_ context.Context, request booking.ReserveRequest) (booking.Booking, error) {
	reserver.requests = append(reserver.requests, request)
	index := len(reserver.requests) - 1
	if index < len(reserver.outcomes) && reserver.outcomes[index] != nil {
		return booking.Booking{}, reserver.outcomes[index]
	}
	return booking.Booking{BookingID: fmt.Sprintf("bk-%d", index+1), Status: booking.StatusBooked}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	queues []string
}

func (publisher *recordingPublisher) Publish(_ context.Context, queue string, _ any) error {
	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	publisher.queues = append(publisher.queues, queue)
	return nil
}

func (publisher *recordingPublisher) count(queue string) int {
	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	count := 0
	for _, name := range publisher.queues {
		if name == queue {
			count++
		}
	}
	return count
}

type stubStore struct {
	mu        sync.Mutex
	schedules map[string]Schedule
	nextID    int
}

func newStubStore() *stubStore {
	return &stubStore{schedules: make(map[string]Schedule)}
}

func (store *stubStore) get(test *testing.T, scheduleID string) Schedule {
	test.Helper()
	record, err := store.GetSchedule(context.Background(), scheduleID)
	if err != nil {
		test.Fatalf("get schedule: %v", err)
	}
	return record
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, store)
}

func (store *stubStore) InsertSchedule(_ context.Context, record Schedule) (Schedule, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.nextID++
	record.ScheduleID = fmt.Sprintf("sched-%d", store.nextID)
	store.schedules[record.ScheduleID] = record
	return record, nil
}

func (store *stubStore) GetSchedule(_ context.Context, scheduleID string) (Schedule, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	record, ok := store.schedules[scheduleID]
	if !ok {
		return Schedule{}, ErrUnknownSchedule
	}
	return record, nil
}

func (store *stubStore) ListDueSchedules(_ context.Context, at time.Time) ([]Schedule, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	due := make([]Schedule, 0)
	for _, record := range store.schedules {
		if record.Active && !record.NextDate.After(at) {
			due = append(due, record)
		}
	}
	return due, nil
}

func (store *stubStore) ListSchedulesByPlayer(_ context.Context, playerID string) ([]Schedule, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	records := make([]Schedule, 0)
	for _, record := range store.schedules {
		if record.PlayerID == playerID {
			records = append(records, record)
		}
	}
	return records, nil
}

func (store *stubStore) UpdateNextDate(_ context.Context, scheduleID string, nextDate time.Time) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	record, ok := store.schedules[scheduleID]
	if !ok {
		return ErrUnknownSchedule
	}
	record.NextDate = nextDate
	store.schedules[scheduleID] = record
	return nil
}

func (store *stubStore) SetScheduleActive(_ context.Context, scheduleID string, active bool, pausedReason string) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	record, ok := store.schedules[scheduleID]
	if !ok {
		return ErrUnknownSchedule
	}
	record.Active = active
	record.PausedReason = pausedReason
	store.schedules[scheduleID] = record
	return nil
}

func (store *stubStore) UpdateScheduleSlot(_ context.Context, scheduleID string, day time.Weekday, start schedule.TimeOfDay, nextDate time.Time) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	record, ok := store.schedules[scheduleID]
	if !ok {
		return ErrUnknownSchedule
	}
	record.Day = day
	record.Start = start
	record.NextDate = nextDate
	store.schedules[scheduleID] = record
	return nil
}

func (store *stubStore) DeleteSchedule(_ context.Context, scheduleID string) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if _, ok := store.schedules[scheduleID]; !ok {
		return ErrUnknownSchedule
	}
	delete(store.schedules, scheduleID)
	return nil
}
