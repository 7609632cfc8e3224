package sweep

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vetlink/teleconsult/internal/clock"
	"github.com/vetlink/teleconsult/internal/consultation"
	"github.com/vetlink/teleconsult/internal/matching"
	"github.com/vetlink/teleconsult/internal/redisclient"
)

// Sweep names, used both as HTTP path segments and guard keys.
const (
	NameStaleMatches     = "stale-matches"
	NameMissed           = "missed"
	NameAbandonedPending = "abandoned-pending"
	NameThreadExpiry     = "thread-expiry"
)

const (
	NotifyConsultMissed = "consultation_missed"
	NotifyThreadExpired = "thread_expired"
)

var ErrUnknownSweep = errors.New("unknown sweep")

// Store is the slice of the consultation repository the sweeps need.
type Store interface {
	ListMatchedUpdatedBefore(ctx context.Context, cutoff time.Time) ([]consultation.Consultation, error)
	ListScheduledStartedBefore(ctx context.Context, cutoff time.Time) ([]consultation.Consultation, error)
	ListPendingCreatedBefore(ctx context.Context, cutoff time.Time) ([]consultation.Consultation, error)
	ListActiveThreadsExpiredBefore(ctx context.Context, cutoff time.Time) ([]consultation.FollowUpThread, error)
	CompareAndTransition(ctx context.Context, id uuid.UUID, from, to consultation.Status, upd consultation.TransitionUpdate) (*consultation.Consultation, error)
	ExpireThread(ctx context.Context, id uuid.UUID) error
	GetCustomerByID(ctx context.Context, id uuid.UUID) (*consultation.Customer, error)
}

type Config struct {
	MatchStaleAfter     time.Duration
	PendingAbandonAfter time.Duration
}

// Sweeper runs the four reconciliation jobs. Every sweep is idempotent and
// safe under overlapping invocations: each row mutation is a conditional
// update, and a zero-row result means a concurrent run already handled it.
type Sweeper struct {
	store    Store
	matcher  *matching.Engine
	notifier consultation.Notifier
	guard    redisclient.OverlapGuard
	clk      clock.Clock
	cfg      Config
	logger   *zap.Logger
}

func NewSweeper(store Store, matcher *matching.Engine, notifier consultation.Notifier, guard redisclient.OverlapGuard, clk clock.Clock, cfg Config, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		store:    store,
		matcher:  matcher,
		notifier: notifier,
		guard:    guard,
		clk:      clk,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run executes the named sweep behind the best-effort overlap guard and
// returns the number of rows actually changed. A held guard is reported as
// zero changes, not an error.
func (s *Sweeper) Run(ctx context.Context, name string) (int, error) {
	var fn func(context.Context) (int, error)
	switch name {
	case NameStaleMatches:
		fn = s.ReassignStaleMatches
	case NameMissed:
		fn = s.CloseMissedAppointments
	case NameAbandonedPending:
		fn = s.CleanupAbandonedPending
	case NameThreadExpiry:
		fn = s.ExpireFollowUpThreads
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownSweep, name)
	}

	var changed int
	err := s.guard.WithGuard(ctx, "sweep:"+name, func(ctx context.Context) error {
		var runErr error
		changed, runErr = fn(ctx)
		return runErr
	})
	if errors.Is(err, redisclient.ErrGuardHeld) {
		s.logger.Info("sweep overlap, skipping run", zap.String("sweep", name))
		return 0, nil
	}
	return changed, err
}

// ReassignStaleMatches hands consultations stuck in matched to another vet,
// excluding the one who never accepted. Exhaustion closes the row as
// no_vet_available; both outcomes count as a change.
func (s *Sweeper) ReassignStaleMatches(ctx context.Context) (int, error) {
	now := s.clk.Now()
	candidates, err := s.store.ListMatchedUpdatedBefore(ctx, now.Add(-s.cfg.MatchStaleAfter))
	if err != nil {
		return 0, fmt.Errorf("list stale matches: %w", err)
	}

	changed := 0
	for i := range candidates {
		c := candidates[i]
		if !IsStaleMatch(&c, now, s.cfg.MatchStaleAfter) {
			continue
		}

		var excluded []uuid.UUID
		if c.VetID != nil {
			excluded = append(excluded, *c.VetID)
		}

		_, err := s.matcher.Match(ctx, &c, excluded)
		switch {
		case err == nil:
			changed++
		case errors.Is(err, matching.ErrNoVetAvailable):
			// Row moved to no_vet_available and the customer was told.
			changed++
		case errors.Is(err, consultation.ErrStateConflict):
			s.logger.Debug("stale match already handled",
				zap.String("consultation_id", c.ID.String()))
		default:
			s.logger.Error("reassign stale match",
				zap.String("consultation_id", c.ID.String()),
				zap.Error(err))
		}
	}

	s.logger.Info("stale-match sweep complete",
		zap.Int("candidates", len(candidates)),
		zap.Int("changed", changed))
	return changed, nil
}

// CloseMissedAppointments closes scheduled consultations whose join window
// elapsed with nobody joining, and tells both parties.
func (s *Sweeper) CloseMissedAppointments(ctx context.Context) (int, error) {
	now := s.clk.Now()
	candidates, err := s.store.ListScheduledStartedBefore(ctx, now.Add(-consultation.JoinGrace))
	if err != nil {
		return 0, fmt.Errorf("list missed appointments: %w", err)
	}

	changed := 0
	for i := range candidates {
		c := candidates[i]
		if !IsMissed(&c, now) {
			continue
		}

		updated, err := s.store.CompareAndTransition(ctx, c.ID, consultation.StatusScheduled, consultation.StatusMissed, consultation.TransitionUpdate{})
		if err != nil {
			if errors.Is(err, consultation.ErrStateConflict) {
				continue
			}
			s.logger.Error("close missed appointment",
				zap.String("consultation_id", c.ID.String()),
				zap.Error(err))
			continue
		}
		changed++

		s.notifier.Notify(ctx, updated.CustomerID, NotifyConsultMissed,
			"Missed appointment",
			"Your scheduled consultation was closed because nobody joined.",
			map[string]any{"consultation_id": updated.ID.String()})
		if updated.VetID != nil {
			s.notifier.Notify(ctx, *updated.VetID, NotifyConsultMissed,
				"Missed appointment",
				"A scheduled consultation was closed because nobody joined.",
				map[string]any{"consultation_id": updated.ID.String()})
		}

		s.emailMissed(ctx, updated)
	}

	s.logger.Info("missed sweep complete",
		zap.Int("candidates", len(candidates)),
		zap.Int("changed", changed))
	return changed, nil
}

func (s *Sweeper) emailMissed(ctx context.Context, c *consultation.Consultation) {
	customer, err := s.store.GetCustomerByID(ctx, c.CustomerID)
	if err != nil {
		s.logger.Warn("load customer for missed email",
			zap.String("consultation_id", c.ID.String()),
			zap.Error(err))
		return
	}
	if customer.Email == nil {
		return
	}

	body := fmt.Sprintf(`
		<p>Dear %s,</p>
		<p>Your scheduled consultation (#%d) was closed because nobody joined
		within 45 minutes of the start time.</p>
		<p>You can rebook at any time from your dashboard.</p>
		<p>— The VetLink team</p>
	`, customer.Name, c.Seq)

	s.notifier.Email(ctx, *customer.Email, "Missed consultation", body)
}

// CleanupAbandonedPending cancels pending consultations whose checkout was
// never completed, releasing any slot they held.
func (s *Sweeper) CleanupAbandonedPending(ctx context.Context) (int, error) {
	now := s.clk.Now()
	candidates, err := s.store.ListPendingCreatedBefore(ctx, now.Add(-s.cfg.PendingAbandonAfter))
	if err != nil {
		return 0, fmt.Errorf("list abandoned pending: %w", err)
	}

	changed := 0
	for i := range candidates {
		c := candidates[i]
		if !IsAbandoned(&c, now, s.cfg.PendingAbandonAfter) {
			continue
		}

		_, err := s.store.CompareAndTransition(ctx, c.ID, consultation.StatusPending, consultation.StatusCancelled, consultation.TransitionUpdate{})
		if err != nil {
			if errors.Is(err, consultation.ErrStateConflict) {
				continue
			}
			s.logger.Error("cancel abandoned pending",
				zap.String("consultation_id", c.ID.String()),
				zap.Error(err))
			continue
		}
		changed++
	}

	s.logger.Info("abandoned-pending sweep complete",
		zap.Int("candidates", len(candidates)),
		zap.Int("changed", changed))
	return changed, nil
}

// ExpireFollowUpThreads flips follow-up threads past their expiry to
// expired and tells the customer.
func (s *Sweeper) ExpireFollowUpThreads(ctx context.Context) (int, error) {
	now := s.clk.Now()
	candidates, err := s.store.ListActiveThreadsExpiredBefore(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list expired threads: %w", err)
	}

	changed := 0
	for i := range candidates {
		t := candidates[i]
		if !IsThreadExpired(&t, now) {
			continue
		}

		if err := s.store.ExpireThread(ctx, t.ID); err != nil {
			if errors.Is(err, consultation.ErrStateConflict) {
				continue
			}
			s.logger.Error("expire follow-up thread",
				zap.String("thread_id", t.ID.String()),
				zap.Error(err))
			continue
		}
		changed++

		s.notifier.Notify(ctx, t.CustomerID, NotifyThreadExpired,
			"Follow-up window closed",
			"The follow-up window for your consultation has ended.",
			map[string]any{"thread_id": t.ID.String()})
	}

	s.logger.Info("thread-expiry sweep complete",
		zap.Int("candidates", len(candidates)),
		zap.Int("changed", changed))
	return changed, nil
}
