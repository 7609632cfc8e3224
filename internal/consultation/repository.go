package consultation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrCustomerNotFound     = errors.New("customer not found")
	ErrVetNotFound          = errors.New("vet not found")
	ErrPetNotFound          = errors.New("pet not found")
	ErrConsultationNotFound = errors.New("consultation not found")
	ErrFlagNotFound         = errors.New("flag not found")
	ErrThreadNotFound       = errors.New("follow-up thread not found")

	// ErrStateConflict means a conditional update matched zero rows: a
	// concurrent writer already moved the state. Interactive callers get a
	// 409; sweeps treat it as already-handled and move on.
	ErrStateConflict = errors.New("state conflict: consultation was modified concurrently")
)

// TransitionUpdate carries the optional field writes applied atomically with
// a status transition. Nil pointers leave columns untouched.
type TransitionUpdate struct {
	// ExpectVetID additionally guards the update on the currently assigned
	// vet. Used by stale-match reassignment so two sweeps racing on the same
	// row cannot both swap the vet.
	ExpectVetID *uuid.UUID

	// ExpectNotExtended additionally guards on was_extended = false, so a
	// consultation can be extended at most once even under concurrent
	// extend calls.
	ExpectNotExtended bool

	VetID      *uuid.UUID
	ClearVetID bool

	StartedAt       *time.Time
	EndedAt         *time.Time
	DurationMinutes *int
	WasExtended     *bool

	RoomName *string
	RoomURL  *string

	PaymentRef *string
}

// Repository contains all store interactions needed by the core.
type Repository interface {
	GetCustomerByID(ctx context.Context, id uuid.UUID) (*Customer, error)
	GetVetByID(ctx context.Context, id uuid.UUID) (*Vet, error)
	GetPetByID(ctx context.Context, id uuid.UUID) (*Pet, error)

	// CreateConsultation inserts a new row. An insert colliding with an
	// existing active reservation on the same vet and slot yields
	// ErrStateConflict (vet-slot unique index).
	CreateConsultation(ctx context.Context, c *Consultation) (*Consultation, error)
	GetConsultationByID(ctx context.Context, id uuid.UUID) (*Consultation, error)
	GetConsultationByRoom(ctx context.Context, roomName string) (*Consultation, error)
	ListConsultationsByCustomer(ctx context.Context, customerID uuid.UUID, limit, offset int) ([]Consultation, error)

	// CompareAndTransition is the core's sole concurrency-control primitive:
	// UPDATE ... WHERE id = $id AND status = $from (AND vet_id = $expect),
	// refreshing updated_at. Zero rows affected yields ErrStateConflict.
	// An edge outside the transitions table yields ErrInvalidTransition
	// before the store is touched.
	CompareAndTransition(ctx context.Context, id uuid.UUID, from, to Status, upd TransitionUpdate) (*Consultation, error)

	// SetRecording attaches recording metadata outside the status machine.
	// Idempotent: re-delivered recording events write the same values.
	SetRecording(ctx context.Context, id uuid.UUID, recordingID, recordingURL string) error

	// Matching reads.
	ListEligibleVets(ctx context.Context, excluded []uuid.UUID) ([]Vet, error)
	VetActiveSince(ctx context.Context, vetID uuid.UUID, since time.Time) (bool, error)

	// Sweep candidate selections.
	ListMatchedUpdatedBefore(ctx context.Context, cutoff time.Time) ([]Consultation, error)
	ListScheduledStartedBefore(ctx context.Context, cutoff time.Time) ([]Consultation, error)
	ListPendingCreatedBefore(ctx context.Context, cutoff time.Time) ([]Consultation, error)

	// Flags.
	CreateFlag(ctx context.Context, f *Flag) (*Flag, error)
	GetFlagByID(ctx context.Context, id uuid.UUID) (*Flag, error)
	WithdrawFlag(ctx context.Context, id uuid.UUID) error

	// Follow-up threads.
	CreateFollowUpThread(ctx context.Context, t *FollowUpThread) (*FollowUpThread, error)
	GetActiveThreadForConsultation(ctx context.Context, consultationID uuid.UUID) (*FollowUpThread, error)
	ListActiveThreadsExpiredBefore(ctx context.Context, cutoff time.Time) ([]FollowUpThread, error)
	ExpireThread(ctx context.Context, id uuid.UUID) error
}
