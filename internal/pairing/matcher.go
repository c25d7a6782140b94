package pairing

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/rinkbook/internal/events"
	"github.com/MarkoPoloResearchLab/rinkbook/internal/schedule"
)

// Scoring weights. The category bonus is constant because cross-category
// candidates are excluded before scoring; it is kept so scores stay
// comparable with historical values.
const (
	scorePerCommonDay  = 20
	scorePerCommonTime = 20
	scoreCategoryBonus = 30
)

// Matcher finds and commits semi-private partnerships from the
// unpaired-player pool. Discovery is a pure computation over a snapshot;
// Commit re-validates everything inside one transaction because the
// snapshot can go stale between computation and user action.
type Matcher struct {
	store     Store
	catalog   *schedule.Catalog
	publisher events.Publisher
	nowFn     func() time.Time
}

// NewMatcher wires a Matcher.
func NewMatcher(store Store, catalog *schedule.Catalog, publisher events.Publisher, now func() time.Time) (*Matcher, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidMatcherConfig)
	}
	if catalog == nil {
		return nil, fmt.Errorf("%w: catalog dependency is nil", ErrInvalidMatcherConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidMatcherConfig)
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Matcher{store: store, catalog: catalog, publisher: publisher, nowFn: now}, nil
}

// Enroll adds (or refreshes) a player in the unpaired pool with waiting
// status. Days and times must be non-empty and every time must be a
// shared-pool start on at least one of the stated days.
func (matcher *Matcher) Enroll(ctx context.Context, player UnpairedPlayer) error {
	if strings.TrimSpace(player.PlayerID) == "" {
		return fmt.Errorf("%w: empty player id", ErrInvalidPlayer)
	}
	if strings.TrimSpace(player.Category) == "" {
		return fmt.Errorf("%w: empty category", ErrInvalidPlayer)
	}
	if len(player.Days) == 0 || len(player.Times) == 0 {
		return fmt.Errorf("%w: empty availability", ErrInvalidPlayer)
	}
	for _, start := range player.Times {
		listed := false
		for _, day := range player.Days {
			if matcher.catalog.Contains(schedule.Slot{Pool: schedule.PoolShared, Day: day, Start: start}) {
				listed = true
				break
			}
		}
		if !listed {
			return fmt.Errorf("%w: %s is not a shared-pool start on any stated day", ErrInvalidPlayer, start)
		}
	}
	player.Status = StatusWaiting
	if player.WaitingSince.IsZero() {
		player.WaitingSince = matcher.nowFn()
	}
	sortDays(player.Days)
	sortTimes(player.Times)
	return matcher.store.UpsertUnpairedPlayer(ctx, player)
}

// FindOpportunities scores every waiting pair within one category. A pair
// qualifies only when both the day and time intersections are non-empty.
// Output is sorted by score descending; ties go to the pair that has
// waited longest combined, then to player ids, so the ordering is
// deterministic.
func (matcher *Matcher) FindOpportunities(ctx context.Context, category string) ([]Opportunity, error) {
	if strings.TrimSpace(category) == "" {
		return nil, fmt.Errorf("%w: empty category", ErrInvalidPlayer)
	}
	waiting, err := matcher.store.ListWaitingPlayers(ctx, category)
	if err != nil {
		return nil, err
	}
	sort.Slice(waiting, func(i, j int) bool { return waiting[i].PlayerID < waiting[j].PlayerID })

	opportunities := make([]Opportunity, 0)
	for first := 0; first < len(waiting); first++ {
		for second := first + 1; second < len(waiting); second++ {
			opportunity, ok := score(waiting[first], waiting[second])
			if !ok {
				continue
			}
			opportunities = append(opportunities, opportunity)
		}
	}
	sort.SliceStable(opportunities, func(i, j int) bool {
		if opportunities[i].Score != opportunities[j].Score {
			return opportunities[i].Score > opportunities[j].Score
		}
		left := combinedWait(opportunities[i])
		right := combinedWait(opportunities[j])
		if left != right {
			return left < right
		}
		if opportunities[i].PlayerOne.PlayerID != opportunities[j].PlayerOne.PlayerID {
			return opportunities[i].PlayerOne.PlayerID < opportunities[j].PlayerOne.PlayerID
		}
		return opportunities[i].PlayerTwo.PlayerID < opportunities[j].PlayerTwo.PlayerID
	})
	return opportunities, nil
}

// Commit turns an opportunity into a Pairing at the chosen day and time.
// Everything discovered earlier is re-validated under the transaction:
// both players must still be waiting and the shared slot must still be
// free of pairings and upcoming bookings. Any of those having changed
// returns ErrStaleOpportunity and the caller must re-discover.
func (matcher *Matcher) Commit(ctx context.Context, opportunity Opportunity, day time.Weekday, start schedule.TimeOfDay) (Pairing, error) {
	if opportunity.PlayerOne.Category != opportunity.PlayerTwo.Category {
		return Pairing{}, fmt.Errorf("%w: %s vs %s", ErrCategoryMismatch, opportunity.PlayerOne.Category, opportunity.PlayerTwo.Category)
	}
	if !containsDay(opportunity.CommonDays, day) || !containsTime(opportunity.CommonTimes, start) {
		return Pairing{}, fmt.Errorf("%w: %s %s is not common to both players", ErrInvalidSlotChoice, day, start)
	}
	if !matcher.catalog.Contains(schedule.Slot{Pool: schedule.PoolShared, Day: day, Start: start}) {
		return Pairing{}, fmt.Errorf("%w: %s %s is not a shared-pool slot", ErrInvalidSlotChoice, day, start)
	}

	now := matcher.nowFn()
	var created Pairing
	operationError := matcher.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		for _, playerID := range []string{opportunity.PlayerOne.PlayerID, opportunity.PlayerTwo.PlayerID} {
			player, err := transactionStore.GetUnpairedPlayer(ctx, playerID)
			if err != nil {
				return err
			}
			if player.Status != StatusWaiting {
				return fmt.Errorf("%w: %s is no longer waiting", ErrStaleOpportunity, playerID)
			}
		}
		pairings, err := transactionStore.CountActivePairingsAt(ctx, day, start)
		if err != nil {
			return err
		}
		bookings, err := transactionStore.CountUpcomingBookingsAt(ctx, day, start, now)
		if err != nil {
			return err
		}
		if pairings+bookings >= schedule.PoolShared.Capacity() {
			return fmt.Errorf("%w: %s %s is taken", ErrStaleOpportunity, day, start)
		}
		record, err := transactionStore.InsertPairing(ctx, Pairing{
			PlayerOneID: opportunity.PlayerOne.PlayerID,
			PlayerTwoID: opportunity.PlayerTwo.PlayerID,
			Category:    opportunity.PlayerOne.Category,
			Day:         day,
			Start:       start,
			Status:      PairActive,
			CreatedAt:   now,
		})
		if err != nil {
			return err
		}
		for _, playerID := range []string{opportunity.PlayerOne.PlayerID, opportunity.PlayerTwo.PlayerID} {
			if err := transactionStore.SetUnpairedStatus(ctx, playerID, StatusPaired, now); err != nil {
				return err
			}
		}
		created = record
		return nil
	})
	if operationError != nil {
		return Pairing{}, operationError
	}

	_ = matcher.publisher.Publish(ctx, events.QueuePairingFound, events.PairingFoundEvent{
		PairingID: created.PairingID,
		PlayerOne: created.PlayerOneID,
		PlayerTwo: created.PlayerTwoID,
		Day:       created.Day.String(),
		Start:     created.Start.String(),
	})
	return created, nil
}

// DissolveOption adjusts how Dissolve treats the two players afterwards.
type DissolveOption func(*dissolveSettings)

type dissolveSettings struct {
	skipRequeue map[string]bool
}

// WithoutRequeue keeps the named player out of the unpaired pool after the
// dissolution. Used when that player changed schedule and re-enters through
// a fresh enrollment instead.
func WithoutRequeue(playerID string) DissolveOption {
	return func(settings *dissolveSettings) {
		settings.skipRequeue[playerID] = true
	}
}

// Dissolve ends a pairing, freeing its standing slot, and returns both
// players to the unpaired pool with a fresh waiting-since timestamp unless
// excluded via WithoutRequeue.
func (matcher *Matcher) Dissolve(ctx context.Context, pairingID string, reason string, actor string, options ...DissolveOption) error {
	settings := dissolveSettings{skipRequeue: make(map[string]bool)}
	for _, option := range options {
		if option != nil {
			option(&settings)
		}
	}
	now := matcher.nowFn()
	var record Pairing
	operationError := matcher.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		found, err := transactionStore.GetPairing(ctx, pairingID)
		if err != nil {
			return err
		}
		if found.Status != PairActive {
			return ErrPairingClosed
		}
		record = found
		if err := transactionStore.UpdatePairingStatus(ctx, pairingID, PairActive, PairDissolved, now, reason, actor); err != nil {
			return err
		}
		for _, playerID := range []string{found.PlayerOneID, found.PlayerTwoID} {
			if settings.skipRequeue[playerID] {
				continue
			}
			if err := transactionStore.SetUnpairedStatus(ctx, playerID, StatusWaiting, now); err != nil {
				return err
			}
		}
		return nil
	})
	if operationError != nil {
		return operationError
	}

	_ = matcher.publisher.Publish(ctx, events.QueuePairingDissolved, events.PairingDissolvedEvent{
		PairingID: record.PairingID,
		PlayerOne: record.PlayerOneID,
		PlayerTwo: record.PlayerTwoID,
		Reason:    reason,
		Actor:     actor,
	})
	return nil
}

// ActivePairingFor returns a player's current pairing, if any.
func (matcher *Matcher) ActivePairingFor(ctx context.Context, playerID string) (Pairing, error) {
	if strings.TrimSpace(playerID) == "" {
		return Pairing{}, fmt.Errorf("%w: empty player id", ErrInvalidPlayer)
	}
	return matcher.store.GetActivePairingForPlayer(ctx, playerID)
}

func score(playerOne UnpairedPlayer, playerTwo UnpairedPlayer) (Opportunity, bool) {
	commonDays := intersectDays(playerOne.Days, playerTwo.Days)
	commonTimes := intersectTimes(playerOne.Times, playerTwo.Times)
	if len(commonDays) == 0 || len(commonTimes) == 0 {
		return Opportunity{}, false
	}
	return Opportunity{
		PlayerOne:   playerOne,
		PlayerTwo:   playerTwo,
		CommonDays:  commonDays,
		CommonTimes: commonTimes,
		Score:       scorePerCommonDay*len(commonDays) + scorePerCommonTime*len(commonTimes) + scoreCategoryBonus,
	}, true
}

// combinedWait orders ties: the pair that has waited longest combined
// sorts first.
func combinedWait(opportunity Opportunity) int64 {
	return opportunity.PlayerOne.WaitingSince.UnixNano() + opportunity.PlayerTwo.WaitingSince.UnixNano()
}

func intersectDays(left []time.Weekday, right []time.Weekday) []time.Weekday {
	members := make(map[time.Weekday]bool, len(right))
	for _, day := range right {
		members[day] = true
	}
	common := make([]time.Weekday, 0)
	for _, day := range left {
		if members[day] {
			common = append(common, day)
			members[day] = false
		}
	}
	sortDays(common)
	return common
}

func intersectTimes(left []schedule.TimeOfDay, right []schedule.TimeOfDay) []schedule.TimeOfDay {
	members := make(map[schedule.TimeOfDay]bool, len(right))
	for _, start := range right {
		members[start] = true
	}
	common := make([]schedule.TimeOfDay, 0)
	for _, start := range left {
		if members[start] {
			common = append(common, start)
			members[start] = false
		}
	}
	sortTimes(common)
	return common
}

func containsDay(days []time.Weekday, day time.Weekday) bool {
	for _, candidate := range days {
		if candidate == day {
			return true
		}
	}
	return false
}

func containsTime(times []schedule.TimeOfDay, start schedule.TimeOfDay) bool {
	for _, candidate := range times {
		if candidate == start {
			return true
		}
	}
	return false
}

func sortDays(days []time.Weekday) {
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })
}

func sortTimes(times []schedule.TimeOfDay) {
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
}
