package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/vetlink/teleconsult/internal/consultation"
)

type CreateConsultationRequest struct {
	PetID       string   `json:"pet_id"`
	Concern     string   `json:"concern"`
	Symptoms    []string `json:"symptoms"`
	AmountCents int      `json:"amount_cents"`
	IsPriority  bool     `json:"is_priority"`
}

type BookConsultationRequest struct {
	PetID       string   `json:"pet_id"`
	ScheduledAt string   `json:"scheduled_at"` // RFC 3339
	Concern     string   `json:"concern"`
	Symptoms    []string `json:"symptoms"`
	AmountCents int      `json:"amount_cents"`
}

type ConfirmPaymentRequest struct {
	OrderID     string `json:"order_id"`
	AmountCents int    `json:"amount_cents"`
}

type FlagRequest struct {
	Reason string `json:"reason"`
}

type ConsultationResponse struct {
	ID              uuid.UUID  `json:"id"`
	Seq             int64      `json:"seq"`
	Type            string     `json:"type"`
	Status          string     `json:"status"`
	CustomerID      uuid.UUID  `json:"customer_id"`
	VetID           *uuid.UUID `json:"vet_id,omitempty"`
	PetID           uuid.UUID  `json:"pet_id"`
	Concern         string     `json:"concern,omitempty"`
	Symptoms        []string   `json:"symptoms,omitempty"`
	ScheduledAt     *time.Time `json:"scheduled_at,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DurationMinutes *int       `json:"duration_minutes,omitempty"`
	WasExtended     bool       `json:"was_extended"`
	IsFollowUp      bool       `json:"is_follow_up"`
	RoomURL         *string    `json:"room_url,omitempty"`
	RecordingURL    *string    `json:"recording_url,omitempty"`
	AmountCents     int        `json:"amount_cents"`
	IsFree          bool       `json:"is_free"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func toConsultationResponse(c *consultation.Consultation) ConsultationResponse {
	return ConsultationResponse{
		ID:              c.ID,
		Seq:             c.Seq,
		Type:            string(c.Type),
		Status:          string(c.Status),
		CustomerID:      c.CustomerID,
		VetID:           c.VetID,
		PetID:           c.PetID,
		Concern:         c.Concern,
		Symptoms:        c.Symptoms,
		ScheduledAt:     c.ScheduledAt,
		StartedAt:       c.StartedAt,
		EndedAt:         c.EndedAt,
		DurationMinutes: c.DurationMinutes,
		WasExtended:     c.WasExtended,
		IsFollowUp:      c.IsFollowUp,
		RoomURL:         c.RoomURL,
		RecordingURL:    c.RecordingURL,
		AmountCents:     c.AmountCents,
		IsFree:          c.IsFree,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
}

type BookingResponse struct {
	Consultation ConsultationResponse `json:"consultation"`
	OrderID      string               `json:"order_id"`
	OrderStatus  string               `json:"order_status"`
}

type JoinResponse struct {
	Status  string `json:"status"`
	RoomURL string `json:"room_url"`
	Token   string `json:"token"`
}

type JoinDeniedResponse struct {
	Error             string `json:"error"`
	Reason            string `json:"reason"`
	MinutesUntilStart int    `json:"minutes_until_start,omitempty"`
}

type FlagResponse struct {
	ID             uuid.UUID `json:"id"`
	ConsultationID uuid.UUID `json:"consultation_id"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

type SlotsResponse struct {
	Days []DaySlotsResponse `json:"days"`
}

type DaySlotsResponse struct {
	Date    string      `json:"date"`
	Weekday string      `json:"weekday"`
	Slots   []time.Time `json:"slots"`
}

type SweepResponse struct {
	Sweep   string `json:"sweep"`
	Changed int    `json:"changed"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
