package sweep

import (
	"time"

	"github.com/vetlink/teleconsult/internal/consultation"
)

// Pure per-row decisions, separated from their I/O shells so they can be
// tested against a simulated clock. Candidate selection already happens in
// the store queries; these re-check the predicate against `now` so a row
// fetched just before the boundary is not acted on early.

// IsStaleMatch reports whether a matched consultation has waited on a vet
// accept for longer than staleAfter.
func IsStaleMatch(c *consultation.Consultation, now time.Time, staleAfter time.Duration) bool {
	return c.Status == consultation.StatusMatched &&
		now.Sub(c.UpdatedAt) > staleAfter
}

// IsMissed reports whether a scheduled consultation's join window has fully
// elapsed with nobody joining.
func IsMissed(c *consultation.Consultation, now time.Time) bool {
	return c.Status == consultation.StatusScheduled &&
		c.ScheduledAt != nil &&
		now.After(c.ScheduledAt.Add(consultation.JoinGrace))
}

// IsAbandoned reports whether a pending consultation is an abandoned
// checkout.
func IsAbandoned(c *consultation.Consultation, now time.Time, abandonAfter time.Duration) bool {
	return c.Status == consultation.StatusPending &&
		now.Sub(c.CreatedAt) > abandonAfter
}

// IsThreadExpired reports whether an active follow-up thread is past its
// expiry.
func IsThreadExpired(t *consultation.FollowUpThread, now time.Time) bool {
	return t.Status == consultation.ThreadActive &&
		!t.ExpiresAt.After(now)
}
