package consultation

import (
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeDirectConnect Type = "direct_connect"
	TypeScheduled     Type = "scheduled"
	TypeFollowUp      Type = "follow_up"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleVet      Role = "vet"
)

type Customer struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Vet struct {
	ID              uuid.UUID
	Name            string
	Email           *string
	IsVerified      bool
	IsAvailable     bool
	AcceptsBookings bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Pet struct {
	ID         uuid.UUID
	CustomerID uuid.UUID
	Name       string
	Species    string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Consultation struct {
	ID  uuid.UUID
	Seq int64

	Type   Type
	Status Status

	CustomerID uuid.UUID
	VetID      *uuid.UUID
	PetID      uuid.UUID

	Concern  string
	Symptoms []string

	ScheduledAt     *time.Time
	StartedAt       *time.Time
	EndedAt         *time.Time
	DurationMinutes *int
	WasExtended     bool

	IsFollowUp           bool
	ParentConsultationID *uuid.UUID
	FollowUpExpiresAt    *time.Time

	RoomName     *string
	RoomURL      *string
	RecordingID  *string
	RecordingURL *string

	PaymentRef  *string
	AmountCents int
	IsPriority  bool
	IsFree      bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

type FlagStatus string

const (
	FlagPending   FlagStatus = "pending"
	FlagWithdrawn FlagStatus = "withdrawn"
)

// Flag is a report a vet attaches to one of their consultations.
type Flag struct {
	ID             uuid.UUID
	ConsultationID uuid.UUID
	VetID          uuid.UUID
	Reason         string
	Status         FlagStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type ThreadStatus string

const (
	ThreadActive  ThreadStatus = "active"
	ThreadExpired ThreadStatus = "expired"
)

// FollowUpThread is the time-bounded messaging channel opened when a
// consultation completes.
type FollowUpThread struct {
	ID             uuid.UUID
	ConsultationID uuid.UUID
	CustomerID     uuid.UUID
	VetID          uuid.UUID
	Status         ThreadStatus
	ExpiresAt      time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
