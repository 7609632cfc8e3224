package consultation

import (
	"errors"
	"fmt"
)

var (
	// Authorization: the caller is not the expected party for the action.
	ErrNotAssignedVet       = errors.New("caller is not the assigned vet")
	ErrNotConsultationOwner = errors.New("caller is not the consultation's customer")
	ErrNotFlagAuthor        = errors.New("caller is not the flag's author")

	// Validation.
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrAmountMismatch      = errors.New("payment amount does not match the quoted price")
	ErrPaymentNotConfirmed = errors.New("payment gateway has not confirmed the order")
	ErrAlreadyExtended     = errors.New("consultation was already extended once")
	ErrFlagWindowClosed    = errors.New("flag withdrawal window has closed")
	ErrFollowUpUnavailable = errors.New("no active follow-up thread for this consultation")
	ErrPetOwnership        = errors.New("pet does not belong to the customer")
	ErrSlotOutOfRange      = errors.New("requested slot is outside the bookable range")
	ErrSlotTaken           = errors.New("slot was claimed by a concurrent booking")
)

// JoinDeniedError is returned when the join window rejects a participant.
type JoinDeniedError struct {
	Reason            string
	MinutesUntilStart int
}

func (e *JoinDeniedError) Error() string {
	if e.Reason == JoinReasonTooEarly {
		return fmt.Sprintf("join window not open yet, starts in %d minutes", e.MinutesUntilStart)
	}
	return "join window has expired"
}
