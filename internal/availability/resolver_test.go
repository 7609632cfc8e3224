package availability

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vetlink/teleconsult/internal/clock"
)

type fakeSource struct {
	schedules []Schedule
	bookings  []Booking
}

func (f *fakeSource) ListSchedules(context.Context) ([]Schedule, error) {
	return f.schedules, nil
}

func (f *fakeSource) ListBookingsBetween(context.Context, time.Time, time.Time) ([]Booking, error) {
	return f.bookings, nil
}

// 2026-03-09 is a Monday.
var monday = time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)

func newTestResolver(src *fakeSource) (*Resolver, *clock.Fake) {
	clk := clock.NewFake(monday.Add(8 * time.Hour))
	return NewResolver(src, clk, 15*time.Minute, 7*24*time.Hour, 30), clk
}

func TestResolveSlotsFromTemplate(t *testing.T) {
	vetID := uuid.New()
	src := &fakeSource{schedules: []Schedule{
		{VetID: vetID, Weekday: time.Monday, StartMinute: 9 * 60, EndMinute: 11 * 60},
	}}
	r, _ := newTestResolver(src)

	days, err := r.Resolve(context.Background(), monday, monday.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, days, 1)

	assert.Equal(t, time.Monday, days[0].Weekday)
	assert.Equal(t, []time.Time{
		monday.Add(9 * time.Hour),
		monday.Add(9*time.Hour + 30*time.Minute),
		monday.Add(10 * time.Hour),
		monday.Add(10*time.Hour + 30*time.Minute),
	}, days[0].Slots)
}

func TestResolveAlignsOffGridWindows(t *testing.T) {
	vetID := uuid.New()
	// 9:10-10:40: first aligned start is 9:30, and 10:30 does not fit.
	src := &fakeSource{schedules: []Schedule{
		{VetID: vetID, Weekday: time.Monday, StartMinute: 9*60 + 10, EndMinute: 10*60 + 40},
	}}
	r, _ := newTestResolver(src)

	days, err := r.Resolve(context.Background(), monday, monday.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, days, 1)
	assert.Equal(t, []time.Time{
		monday.Add(9*time.Hour + 30*time.Minute),
		monday.Add(10 * time.Hour),
	}, days[0].Slots)
}

func TestResolveExcludesBookedSlots(t *testing.T) {
	vetID := uuid.New()
	src := &fakeSource{
		schedules: []Schedule{
			{VetID: vetID, Weekday: time.Monday, StartMinute: 9 * 60, EndMinute: 10 * 60},
		},
		bookings: []Booking{
			{VetID: vetID, ScheduledAt: monday.Add(9 * time.Hour)},
		},
	}
	r, _ := newTestResolver(src)

	days, err := r.Resolve(context.Background(), monday, monday.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, days, 1)
	assert.Equal(t, []time.Time{monday.Add(9*time.Hour + 30*time.Minute)}, days[0].Slots)
}

func TestResolveUnionsAcrossVets(t *testing.T) {
	vetA := uuid.New()
	vetB := uuid.New()
	src := &fakeSource{
		schedules: []Schedule{
			{VetID: vetA, Weekday: time.Monday, StartMinute: 9 * 60, EndMinute: 10 * 60},
			{VetID: vetB, Weekday: time.Monday, StartMinute: 9 * 60, EndMinute: 10 * 60},
		},
		// Vet A is booked at 9:00 but vet B is free, so the slot stays.
		bookings: []Booking{
			{VetID: vetA, ScheduledAt: monday.Add(9 * time.Hour)},
		},
	}
	r, _ := newTestResolver(src)

	days, err := r.Resolve(context.Background(), monday, monday.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, days, 1)
	assert.Equal(t, []time.Time{
		monday.Add(9 * time.Hour),
		monday.Add(9*time.Hour + 30*time.Minute),
	}, days[0].Slots)
}

func TestResolveSkipsSlotsBeforeFrom(t *testing.T) {
	vetID := uuid.New()
	src := &fakeSource{schedules: []Schedule{
		{VetID: vetID, Weekday: time.Monday, StartMinute: 9 * 60, EndMinute: 11 * 60},
	}}
	r, _ := newTestResolver(src)

	days, err := r.Resolve(context.Background(), monday.Add(10*time.Hour), monday.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, days, 1)
	assert.Equal(t, []time.Time{
		monday.Add(10 * time.Hour),
		monday.Add(10*time.Hour + 30*time.Minute),
	}, days[0].Slots)
}

func TestResolveRejectsInvertedRange(t *testing.T) {
	r, _ := newTestResolver(&fakeSource{})
	_, err := r.Resolve(context.Background(), monday.AddDate(0, 0, 1), monday)
	assert.Error(t, err)
}

func TestResolveDefaultsToLeadAndHorizon(t *testing.T) {
	vetID := uuid.New()
	src := &fakeSource{schedules: []Schedule{
		{VetID: vetID, Weekday: time.Monday, StartMinute: 8 * 60, EndMinute: 9 * 60},
	}}
	r, _ := newTestResolver(src)

	// now is 8:00 Monday; with a 15 minute lead the 8:00 slot is gone and
	// 8:30 is the first offer.
	days, err := r.Resolve(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)
	require.NotEmpty(t, days)
	assert.Equal(t, []time.Time{monday.Add(8*time.Hour + 30*time.Minute)}, days[0].Slots)
}

func TestFreeVetFor(t *testing.T) {
	vetA := uuid.New()
	vetB := uuid.New()
	src := &fakeSource{
		schedules: []Schedule{
			{VetID: vetA, Weekday: time.Monday, StartMinute: 9 * 60, EndMinute: 17 * 60},
			{VetID: vetB, Weekday: time.Monday, StartMinute: 9 * 60, EndMinute: 17 * 60},
		},
	}
	r, _ := newTestResolver(src)

	start := monday.Add(10 * time.Hour)
	picked, err := r.FreeVetFor(context.Background(), start, 30)
	require.NoError(t, err)
	assert.Contains(t, []uuid.UUID{vetA, vetB}, picked)

	// Book the picked vet; the other one is chosen next.
	src.bookings = append(src.bookings, Booking{VetID: picked, ScheduledAt: start})
	second, err := r.FreeVetFor(context.Background(), start, 30)
	require.NoError(t, err)
	assert.NotEqual(t, picked, second)

	src.bookings = append(src.bookings, Booking{VetID: second, ScheduledAt: start})
	_, err = r.FreeVetFor(context.Background(), start, 30)
	assert.ErrorIs(t, err, ErrNoFreeVet)
}

func TestFreeVetForOutsideTemplate(t *testing.T) {
	vetID := uuid.New()
	src := &fakeSource{schedules: []Schedule{
		{VetID: vetID, Weekday: time.Monday, StartMinute: 9 * 60, EndMinute: 17 * 60},
	}}
	r, _ := newTestResolver(src)

	// Sunday: no template rows.
	_, err := r.FreeVetFor(context.Background(), monday.AddDate(0, 0, -1).Add(10*time.Hour), 30)
	assert.ErrorIs(t, err, ErrNoFreeVet)

	// Slot would run past the end of the working day.
	_, err = r.FreeVetFor(context.Background(), monday.Add(16*time.Hour+45*time.Minute), 30)
	assert.ErrorIs(t, err, ErrNoFreeVet)
}

func TestFreeVetForOverlapDetection(t *testing.T) {
	vetID := uuid.New()
	src := &fakeSource{
		schedules: []Schedule{
			{VetID: vetID, Weekday: time.Monday, StartMinute: 9 * 60, EndMinute: 17 * 60},
		},
		bookings: []Booking{
			{VetID: vetID, ScheduledAt: monday.Add(10 * time.Hour)},
		},
	}
	r, _ := newTestResolver(src)

	// Adjacent slots do not overlap the 10:00 booking.
	_, err := r.FreeVetFor(context.Background(), monday.Add(9*time.Hour+30*time.Minute), 30)
	assert.NoError(t, err)
	_, err = r.FreeVetFor(context.Background(), monday.Add(10*time.Hour+30*time.Minute), 30)
	assert.NoError(t, err)

	_, err = r.FreeVetFor(context.Background(), monday.Add(10*time.Hour), 30)
	assert.ErrorIs(t, err, ErrNoFreeVet)
}
