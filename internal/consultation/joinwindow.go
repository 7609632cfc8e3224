package consultation

import (
	"math"
	"time"
)

const (
	// CustomerJoinEarly is how long before the scheduled start a customer
	// may enter the room. Vets have no lower bound.
	CustomerJoinEarly = 5 * time.Minute

	// JoinGrace is how long after the scheduled start either party may
	// still join. At exactly scheduledAt+JoinGrace the window is closed.
	JoinGrace = 45 * time.Minute
)

const (
	JoinReasonTooEarly = "too_early"
	JoinReasonExpired  = "window_expired"
)

type JoinDecision struct {
	Allowed           bool
	Reason            string
	MinutesUntilStart int
}

// CanJoin decides whether a participant may enter the session at `now`.
// It is pure and must be re-evaluated on every join attempt; the missed
// sweep independently closes sessions nobody joined.
func CanJoin(scheduledAt time.Time, role Role, now time.Time) JoinDecision {
	end := scheduledAt.Add(JoinGrace)
	if !now.Before(end) {
		return JoinDecision{Allowed: false, Reason: JoinReasonExpired}
	}

	if role == RoleVet {
		return JoinDecision{Allowed: true}
	}

	start := scheduledAt.Add(-CustomerJoinEarly)
	if now.Before(start) {
		until := int(math.Ceil(scheduledAt.Sub(now).Minutes()))
		return JoinDecision{Allowed: false, Reason: JoinReasonTooEarly, MinutesUntilStart: until}
	}

	return JoinDecision{Allowed: true}
}
