package consultation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const consultationCols = `id, seq, type, status, customer_id, vet_id, pet_id,
	concern, symptoms, scheduled_at, started_at, ended_at, duration_minutes,
	was_extended, is_follow_up, parent_consultation_id, follow_up_expires_at,
	room_name, room_url, recording_id, recording_url,
	payment_ref, amount_cents, is_priority, is_free, created_at, updated_at`

// Helpers

func scanCustomer(row pgx.Row) (*Customer, error) {
	var c Customer
	err := row.Scan(&c.ID, &c.Name, &c.Email, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCustomerNotFound
		}
		return nil, err
	}
	return &c, nil
}

func scanVet(row pgx.Row) (*Vet, error) {
	var v Vet
	err := row.Scan(
		&v.ID,
		&v.Name,
		&v.Email,
		&v.IsVerified,
		&v.IsAvailable,
		&v.AcceptsBookings,
		&v.CreatedAt,
		&v.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVetNotFound
		}
		return nil, err
	}
	return &v, nil
}

func scanPet(row pgx.Row) (*Pet, error) {
	var p Pet
	err := row.Scan(&p.ID, &p.CustomerID, &p.Name, &p.Species, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPetNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanConsultation(row pgx.Row) (*Consultation, error) {
	var c Consultation
	err := row.Scan(
		&c.ID,
		&c.Seq,
		&c.Type,
		&c.Status,
		&c.CustomerID,
		&c.VetID,
		&c.PetID,
		&c.Concern,
		&c.Symptoms,
		&c.ScheduledAt,
		&c.StartedAt,
		&c.EndedAt,
		&c.DurationMinutes,
		&c.WasExtended,
		&c.IsFollowUp,
		&c.ParentConsultationID,
		&c.FollowUpExpiresAt,
		&c.RoomName,
		&c.RoomURL,
		&c.RecordingID,
		&c.RecordingURL,
		&c.PaymentRef,
		&c.AmountCents,
		&c.IsPriority,
		&c.IsFree,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConsultationNotFound
		}
		return nil, err
	}
	return &c, nil
}

func scanFlag(row pgx.Row) (*Flag, error) {
	var f Flag
	err := row.Scan(&f.ID, &f.ConsultationID, &f.VetID, &f.Reason, &f.Status, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFlagNotFound
		}
		return nil, err
	}
	return &f, nil
}

func scanThread(row pgx.Row) (*FollowUpThread, error) {
	var t FollowUpThread
	err := row.Scan(&t.ID, &t.ConsultationID, &t.CustomerID, &t.VetID, &t.Status, &t.ExpiresAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrThreadNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (r *PgRepository) collectConsultations(rows pgx.Rows) ([]Consultation, error) {
	defer rows.Close()

	var result []Consultation
	for rows.Next() {
		c, err := scanConsultation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *c)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Interface methods

func (r *PgRepository) GetCustomerByID(ctx context.Context, id uuid.UUID) (*Customer, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM customers
		WHERE id = $1
	`, id)
	return scanCustomer(row)
}

func (r *PgRepository) GetVetByID(ctx context.Context, id uuid.UUID) (*Vet, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, is_verified, is_available, accepts_bookings, created_at, updated_at
		FROM vets
		WHERE id = $1
	`, id)
	return scanVet(row)
}

func (r *PgRepository) GetPetByID(ctx context.Context, id uuid.UUID) (*Pet, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, customer_id, name, species, created_at, updated_at
		FROM pets
		WHERE id = $1
	`, id)
	return scanPet(row)
}

func (r *PgRepository) CreateConsultation(ctx context.Context, c *Consultation) (*Consultation, error) {
	id := c.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO consultations (
			id, type, status, customer_id, vet_id, pet_id, concern, symptoms,
			scheduled_at, is_follow_up, parent_consultation_id, follow_up_expires_at,
			amount_cents, is_priority, is_free, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, now(), now())
		RETURNING `+consultationCols+`
	`, id, c.Type, c.Status, c.CustomerID, c.VetID, c.PetID, c.Concern, c.Symptoms,
		c.ScheduledAt, c.IsFollowUp, c.ParentConsultationID, c.FollowUpExpiresAt,
		c.AmountCents, c.IsPriority, c.IsFree)

	created, err := scanConsultation(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// The vet-slot unique index: another booking claimed the slot
			// between the availability read and this insert.
			return nil, ErrStateConflict
		}
		return nil, err
	}
	return created, nil
}

func (r *PgRepository) GetConsultationByID(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+consultationCols+`
		FROM consultations
		WHERE id = $1
	`, id)
	return scanConsultation(row)
}

func (r *PgRepository) GetConsultationByRoom(ctx context.Context, roomName string) (*Consultation, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+consultationCols+`
		FROM consultations
		WHERE room_name = $1
	`, roomName)
	return scanConsultation(row)
}

func (r *PgRepository) ListConsultationsByCustomer(ctx context.Context, customerID uuid.UUID, limit, offset int) ([]Consultation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+consultationCols+`
		FROM consultations
		WHERE customer_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, customerID, limit, offset)
	if err != nil {
		return nil, err
	}
	return r.collectConsultations(rows)
}

func (r *PgRepository) CompareAndTransition(ctx context.Context, id uuid.UUID, from, to Status, upd TransitionUpdate) (*Consultation, error) {
	if !CanTransition(from, to) {
		return nil, ErrInvalidTransition
	}

	set := []string{"status = $1", "updated_at = now()"}
	args := []any{to}

	add := func(column string, v any) {
		args = append(args, v)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	switch {
	case upd.VetID != nil:
		add("vet_id", *upd.VetID)
	case upd.ClearVetID:
		set = append(set, "vet_id = NULL")
	}
	if upd.StartedAt != nil {
		add("started_at", *upd.StartedAt)
	}
	if upd.EndedAt != nil {
		add("ended_at", *upd.EndedAt)
	}
	if upd.DurationMinutes != nil {
		add("duration_minutes", *upd.DurationMinutes)
	}
	if upd.WasExtended != nil {
		add("was_extended", *upd.WasExtended)
	}
	if upd.RoomName != nil {
		add("room_name", *upd.RoomName)
	}
	if upd.RoomURL != nil {
		add("room_url", *upd.RoomURL)
	}
	if upd.PaymentRef != nil {
		add("payment_ref", *upd.PaymentRef)
	}

	args = append(args, id)
	where := fmt.Sprintf("id = $%d", len(args))
	args = append(args, from)
	where += fmt.Sprintf(" AND status = $%d", len(args))
	if upd.ExpectVetID != nil {
		args = append(args, *upd.ExpectVetID)
		where += fmt.Sprintf(" AND vet_id = $%d", len(args))
	}
	if upd.ExpectNotExtended {
		where += " AND was_extended = false"
	}

	query := "UPDATE consultations SET " + strings.Join(set, ", ") +
		" WHERE " + where + " RETURNING " + consultationCols

	row := r.pool.QueryRow(ctx, query, args...)
	c, err := scanConsultation(row)
	if err != nil {
		if errors.Is(err, ErrConsultationNotFound) {
			// Row exists but the guard no longer holds, or the row is gone.
			// Either way a concurrent writer won.
			return nil, ErrStateConflict
		}
		return nil, err
	}
	return c, nil
}

func (r *PgRepository) SetRecording(ctx context.Context, id uuid.UUID, recordingID, recordingURL string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE consultations
		SET recording_id = $2,
		    recording_url = $3
		WHERE id = $1
	`, id, recordingID, recordingURL)
	if err != nil {
		return fmt.Errorf("set recording: %w", err)
	}
	return nil
}

func (r *PgRepository) ListEligibleVets(ctx context.Context, excluded []uuid.UUID) ([]Vet, error) {
	if excluded == nil {
		excluded = []uuid.UUID{}
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, name, email, is_verified, is_available, accepts_bookings, created_at, updated_at
		FROM vets
		WHERE is_verified = true
		  AND is_available = true
		  AND NOT (id = ANY($1))
		ORDER BY id
	`, excluded)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Vet
	for rows.Next() {
		v, err := scanVet(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *v)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) VetActiveSince(ctx context.Context, vetID uuid.UUID, since time.Time) (bool, error) {
	var active bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM consultations
			WHERE vet_id = $1
			  AND status IN ('matched', 'accepted', 'in_progress')
			  AND updated_at > $2
		)
	`, vetID, since).Scan(&active)
	if err != nil {
		return false, err
	}
	return active, nil
}

func (r *PgRepository) ListMatchedUpdatedBefore(ctx context.Context, cutoff time.Time) ([]Consultation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+consultationCols+`
		FROM consultations
		WHERE status = 'matched'
		  AND updated_at < $1
		ORDER BY updated_at
	`, cutoff)
	if err != nil {
		return nil, err
	}
	return r.collectConsultations(rows)
}

func (r *PgRepository) ListScheduledStartedBefore(ctx context.Context, cutoff time.Time) ([]Consultation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+consultationCols+`
		FROM consultations
		WHERE status = 'scheduled'
		  AND scheduled_at IS NOT NULL
		  AND scheduled_at < $1
		ORDER BY scheduled_at
	`, cutoff)
	if err != nil {
		return nil, err
	}
	return r.collectConsultations(rows)
}

func (r *PgRepository) ListPendingCreatedBefore(ctx context.Context, cutoff time.Time) ([]Consultation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+consultationCols+`
		FROM consultations
		WHERE status = 'pending'
		  AND created_at < $1
		ORDER BY created_at
	`, cutoff)
	if err != nil {
		return nil, err
	}
	return r.collectConsultations(rows)
}

func (r *PgRepository) CreateFlag(ctx context.Context, f *Flag) (*Flag, error) {
	id := f.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO flags (id, consultation_id, vet_id, reason, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'pending', now(), now())
		RETURNING id, consultation_id, vet_id, reason, status, created_at, updated_at
	`, id, f.ConsultationID, f.VetID, f.Reason)

	return scanFlag(row)
}

func (r *PgRepository) GetFlagByID(ctx context.Context, id uuid.UUID) (*Flag, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, consultation_id, vet_id, reason, status, created_at, updated_at
		FROM flags
		WHERE id = $1
	`, id)
	return scanFlag(row)
}

func (r *PgRepository) WithdrawFlag(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE flags
		SET status = 'withdrawn',
		    updated_at = now()
		WHERE id = $1
		  AND status = 'pending'
	`, id)
	if err != nil {
		return fmt.Errorf("withdraw flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStateConflict
	}
	return nil
}

func (r *PgRepository) CreateFollowUpThread(ctx context.Context, t *FollowUpThread) (*FollowUpThread, error) {
	id := t.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO follow_up_threads (id, consultation_id, customer_id, vet_id, status, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'active', $5, now(), now())
		RETURNING id, consultation_id, customer_id, vet_id, status, expires_at, created_at, updated_at
	`, id, t.ConsultationID, t.CustomerID, t.VetID, t.ExpiresAt)

	return scanThread(row)
}

func (r *PgRepository) GetActiveThreadForConsultation(ctx context.Context, consultationID uuid.UUID) (*FollowUpThread, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, consultation_id, customer_id, vet_id, status, expires_at, created_at, updated_at
		FROM follow_up_threads
		WHERE consultation_id = $1
		  AND status = 'active'
	`, consultationID)
	return scanThread(row)
}

func (r *PgRepository) ListActiveThreadsExpiredBefore(ctx context.Context, cutoff time.Time) ([]FollowUpThread, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, consultation_id, customer_id, vet_id, status, expires_at, created_at, updated_at
		FROM follow_up_threads
		WHERE status = 'active'
		  AND expires_at < $1
		ORDER BY expires_at
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []FollowUpThread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) ExpireThread(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE follow_up_threads
		SET status = 'expired',
		    updated_at = now()
		WHERE id = $1
		  AND status = 'active'
	`, id)
	if err != nil {
		return fmt.Errorf("expire thread: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStateConflict
	}
	return nil
}
