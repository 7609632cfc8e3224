package availability

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type PgSource struct {
	pool *pgxpool.Pool
}

func NewPgSource(pool *pgxpool.Pool) *PgSource {
	return &PgSource{pool: pool}
}

func (s *PgSource) ListSchedules(ctx context.Context) ([]Schedule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT vs.vet_id, vs.weekday, vs.start_minute, vs.end_minute
		FROM vet_schedules vs
		JOIN vets v ON v.id = vs.vet_id
		WHERE v.is_verified = true
		  AND v.accepts_bookings = true
		ORDER BY vs.vet_id, vs.weekday, vs.start_minute
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Schedule
	for rows.Next() {
		var sc Schedule
		var weekday int16
		if err := rows.Scan(&sc.VetID, &weekday, &sc.StartMinute, &sc.EndMinute); err != nil {
			return nil, err
		}
		sc.Weekday = time.Weekday(weekday)
		result = append(result, sc)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// ListBookingsBetween returns reservations still holding calendar time:
// paid bookings and pending checkouts. Cancelled, missed and completed
// rows release their slots.
func (s *PgSource) ListBookingsBetween(ctx context.Context, from, to time.Time) ([]Booking, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT vet_id, scheduled_at
		FROM consultations
		WHERE vet_id IS NOT NULL
		  AND scheduled_at IS NOT NULL
		  AND status IN ('pending', 'scheduled')
		  AND scheduled_at >= $1
		  AND scheduled_at < $2
		ORDER BY scheduled_at
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Booking
	for rows.Next() {
		var b Booking
		if err := rows.Scan(&b.VetID, &b.ScheduledAt); err != nil {
			return nil, err
		}
		result = append(result, b)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}
