package availability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vetlink/teleconsult/internal/clock"
)

var ErrNoFreeVet = errors.New("no vet is free for the requested slot")

// Schedule is one window of a vet's weekly template: minutes-of-day on a
// weekday. A weekday with no rows yields no windows that day.
type Schedule struct {
	VetID       uuid.UUID
	Weekday     time.Weekday
	StartMinute int
	EndMinute   int
}

// Booking is an existing non-cancelled reservation against a vet's
// calendar. Each booking occupies one slot from its start.
type Booking struct {
	VetID       uuid.UUID
	ScheduledAt time.Time
}

// Source provides the reads the resolver needs. Only schedule-eligible
// vets' rows are returned (verified and accepting bookings).
type Source interface {
	ListSchedules(ctx context.Context) ([]Schedule, error)
	ListBookingsBetween(ctx context.Context, from, to time.Time) ([]Booking, error)
}

// DaySlots is one day's bookable slot start times. A slot is bookable when
// at least one eligible vet is free for its full duration.
type DaySlots struct {
	Date    time.Time
	Weekday time.Weekday
	Slots   []time.Time
}

type Resolver struct {
	src         Source
	clk         clock.Clock
	leadTime    time.Duration
	horizon     time.Duration
	slotMinutes int
}

func NewResolver(src Source, clk clock.Clock, leadTime, horizon time.Duration, slotMinutes int) *Resolver {
	if slotMinutes <= 0 {
		slotMinutes = 30
	}
	return &Resolver{
		src:         src,
		clk:         clk,
		leadTime:    leadTime,
		horizon:     horizon,
		slotMinutes: slotMinutes,
	}
}

// Resolve computes bookable slots for [from, to). Zero bounds default to
// now+leadTime and from+horizon. Slots that would start before `from` are
// excluded, so same-day windows never offer starts in the past.
func (r *Resolver) Resolve(ctx context.Context, from, to time.Time) ([]DaySlots, error) {
	now := r.clk.Now()
	if from.IsZero() {
		from = now.Add(r.leadTime)
	}
	if to.IsZero() {
		to = from.Add(r.horizon)
	}
	if !to.After(from) {
		return nil, fmt.Errorf("invalid range: %s is not before %s", from, to)
	}

	schedules, err := r.src.ListSchedules(ctx)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}

	bookings, err := r.src.ListBookingsBetween(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}

	byVetDay := make(map[uuid.UUID]map[time.Weekday][]Schedule)
	for _, s := range schedules {
		if byVetDay[s.VetID] == nil {
			byVetDay[s.VetID] = make(map[time.Weekday][]Schedule)
		}
		byVetDay[s.VetID][s.Weekday] = append(byVetDay[s.VetID][s.Weekday], s)
	}

	slotDur := time.Duration(r.slotMinutes) * time.Minute

	var result []DaySlots
	day := startOfDay(from)
	for day.Before(to) {
		seen := make(map[time.Time]bool)

		for vetID, days := range byVetDay {
			for _, w := range days[day.Weekday()] {
				// First slot boundary at or after the window opens.
				startMin := ((w.StartMinute + r.slotMinutes - 1) / r.slotMinutes) * r.slotMinutes
				for m := startMin; m+r.slotMinutes <= w.EndMinute; m += r.slotMinutes {
					slot := day.Add(time.Duration(m) * time.Minute)
					if slot.Before(from) || slot.Add(slotDur).After(to) {
						continue
					}
					if seen[slot] {
						continue
					}
					if vetBooked(bookings, vetID, slot, slotDur) {
						continue
					}
					seen[slot] = true
				}
			}
		}

		if len(seen) > 0 {
			slots := make([]time.Time, 0, len(seen))
			for t := range seen {
				slots = append(slots, t)
			}
			sort.Slice(slots, func(i, j int) bool { return slots[i].Before(slots[j]) })
			result = append(result, DaySlots{
				Date:    day,
				Weekday: day.Weekday(),
				Slots:   slots,
			})
		}

		day = day.AddDate(0, 0, 1)
	}

	return result, nil
}

// FreeVetFor picks a vet whose template covers [start, start+duration) and
// who has no overlapping booking. The lowest vet id wins; this is a
// deterministic ordering, not a fairness policy.
func (r *Resolver) FreeVetFor(ctx context.Context, start time.Time, durationMinutes int) (uuid.UUID, error) {
	if durationMinutes <= 0 {
		durationMinutes = r.slotMinutes
	}
	dur := time.Duration(durationMinutes) * time.Minute

	schedules, err := r.src.ListSchedules(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("list schedules: %w", err)
	}

	bookings, err := r.src.ListBookingsBetween(ctx, start.Add(-dur), start.Add(dur))
	if err != nil {
		return uuid.Nil, fmt.Errorf("list bookings: %w", err)
	}

	startMinute := start.Hour()*60 + start.Minute()

	candidates := make(map[uuid.UUID]bool)
	for _, s := range schedules {
		if s.Weekday != start.Weekday() {
			continue
		}
		if s.StartMinute <= startMinute && startMinute+durationMinutes <= s.EndMinute {
			candidates[s.VetID] = true
		}
	}

	ids := make([]uuid.UUID, 0, len(candidates))
	for id := range candidates {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	for _, id := range ids {
		if !vetBooked(bookings, id, start, dur) {
			return id, nil
		}
	}

	return uuid.Nil, ErrNoFreeVet
}

func vetBooked(bookings []Booking, vetID uuid.UUID, slot time.Time, slotDur time.Duration) bool {
	for _, b := range bookings {
		if b.VetID != vetID {
			continue
		}
		if b.ScheduledAt.Before(slot.Add(slotDur)) && b.ScheduledAt.Add(slotDur).After(slot) {
			return true
		}
	}
	return false
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
