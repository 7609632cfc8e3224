package consultation

// Status is the canonical consultation lifecycle state. The portal's older
// records used a second vocabulary; readers normalize it on the way in:
// "searching" collapses into pending (assignment is synchronous within a
// matching attempt, so the transient state is never persisted),
// "closed" with outcome missed/cancelled/no_vet maps to missed, cancelled
// and no_vet_available respectively.
type Status string

const (
	StatusPending        Status = "pending"
	StatusScheduled      Status = "scheduled"
	StatusMatched        Status = "matched"
	StatusAccepted       Status = "accepted"
	StatusInProgress     Status = "in_progress"
	StatusCompleted      Status = "completed"
	StatusCancelled      Status = "cancelled"
	StatusMissed         Status = "missed"
	StatusNoVetAvailable Status = "no_vet_available"
)

// transitions holds every legal edge. CompareAndTransition rejects any
// move outside this table before touching the store; the conditional
// update keyed on the expected current status then serializes the winners.
var transitions = map[Status][]Status{
	StatusPending:   {StatusScheduled, StatusMatched, StatusCancelled, StatusNoVetAvailable},
	StatusScheduled: {StatusInProgress, StatusCancelled, StatusMissed},
	// matched -> matched is the stale-match reassignment, guarded on the
	// previously assigned vet. in_progress -> in_progress is the one-shot
	// extension flip, guarded on was_extended.
	StatusMatched:    {StatusMatched, StatusAccepted, StatusInProgress, StatusNoVetAvailable},
	StatusAccepted:   {StatusInProgress},
	StatusInProgress: {StatusInProgress, StatusCompleted},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no edges leave the status.
func IsTerminal(s Status) bool {
	return len(transitions[s]) == 0
}

// vetRequired lists the statuses in which a consultation must carry an
// assigned vet. A scheduled booking also carries its vet (the slot was
// reserved against that vet's calendar), as do the terminal audit states
// reached from vet-holding ones.
var vetRequired = map[Status]bool{
	StatusMatched:    true,
	StatusAccepted:   true,
	StatusInProgress: true,
	StatusCompleted:  true,
}

// CheckVetInvariant reports whether the consultation's vet assignment is
// consistent with its status. Direct-connect requests have no vet until
// matched; booked consultations hold the vet whose slot they reserved from
// creation, so their pending/scheduled states carry one.
func CheckVetInvariant(c *Consultation) bool {
	if vetRequired[c.Status] {
		return c.VetID != nil
	}
	switch c.Status {
	case StatusNoVetAvailable:
		return c.VetID == nil
	case StatusPending:
		if c.Type == TypeDirectConnect {
			return c.VetID == nil
		}
		return true
	case StatusScheduled:
		return c.VetID != nil
	}
	return true
}
