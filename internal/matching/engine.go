package matching

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vetlink/teleconsult/internal/clock"
	"github.com/vetlink/teleconsult/internal/consultation"
)

const NotifyNewConsultation = "new_consultation"
const NotifyNoVetAvailable = "no_vet_available"

var (
	// ErrNoVetAvailable means every eligible vet was excluded or busy; the
	// consultation has been moved to no_vet_available.
	ErrNoVetAvailable = errors.New("no eligible vet available")
)

// Store is the slice of the consultation repository the engine needs.
type Store interface {
	ListEligibleVets(ctx context.Context, excluded []uuid.UUID) ([]consultation.Vet, error)
	VetActiveSince(ctx context.Context, vetID uuid.UUID, since time.Time) (bool, error)
	CompareAndTransition(ctx context.Context, id uuid.UUID, from, to consultation.Status, upd consultation.TransitionUpdate) (*consultation.Consultation, error)
}

type Engine struct {
	store      Store
	notifier   consultation.Notifier
	clk        clock.Clock
	busyWindow time.Duration
	logger     *zap.Logger
}

func NewEngine(store Store, notifier consultation.Notifier, clk clock.Clock, busyWindow time.Duration, logger *zap.Logger) *Engine {
	return &Engine{
		store:      store,
		notifier:   notifier,
		clk:        clk,
		busyWindow: busyWindow,
		logger:     logger,
	}
}

// Match assigns a vet to a pending or stale-matched consultation. Selection
// is the first eligible, non-busy candidate in the store's return order —
// deterministic but deliberately not a fairness policy.
//
// The busy check is a heuristic read, not a lock: a vet that picks up other
// work between the read and the assignment simply makes this row stale
// again, and the next sweep retries.
func (e *Engine) Match(ctx context.Context, c *consultation.Consultation, excluded []uuid.UUID) (*consultation.Vet, error) {
	vets, err := e.store.ListEligibleVets(ctx, excluded)
	if err != nil {
		return nil, fmt.Errorf("list eligible vets: %w", err)
	}

	since := e.clk.Now().Add(-e.busyWindow)

	for i := range vets {
		vet := &vets[i]

		busy, err := e.store.VetActiveSince(ctx, vet.ID, since)
		if err != nil {
			return nil, fmt.Errorf("check vet activity: %w", err)
		}
		if busy {
			continue
		}

		if err := e.assign(ctx, c, vet.ID); err != nil {
			return nil, err
		}

		e.notifier.Notify(ctx, vet.ID, NotifyNewConsultation,
			"New consultation",
			"A customer is waiting for a consultation.",
			map[string]any{"consultation_id": c.ID.String()})

		e.logger.Info("vet matched",
			zap.String("consultation_id", c.ID.String()),
			zap.String("vet_id", vet.ID.String()))

		return vet, nil
	}

	if err := e.exhaust(ctx, c); err != nil {
		return nil, err
	}
	return nil, ErrNoVetAvailable
}

// assign moves the consultation to matched with the chosen vet. A
// reassignment additionally guards on the previously assigned vet so two
// concurrent sweeps cannot both swap it. Assignment refreshes updated_at,
// restarting the staleness clock.
func (e *Engine) assign(ctx context.Context, c *consultation.Consultation, vetID uuid.UUID) error {
	upd := consultation.TransitionUpdate{VetID: &vetID}
	from := c.Status
	if from == consultation.StatusMatched {
		upd.ExpectVetID = c.VetID
	}

	updated, err := e.store.CompareAndTransition(ctx, c.ID, from, consultation.StatusMatched, upd)
	if err != nil {
		return err
	}
	*c = *updated
	return nil
}

// exhaust closes the consultation as no_vet_available and tells the
// customer. The vet reference is cleared: nobody holds this request.
func (e *Engine) exhaust(ctx context.Context, c *consultation.Consultation) error {
	upd := consultation.TransitionUpdate{ClearVetID: true}
	if c.Status == consultation.StatusMatched {
		upd.ExpectVetID = c.VetID
	}

	updated, err := e.store.CompareAndTransition(ctx, c.ID, c.Status, consultation.StatusNoVetAvailable, upd)
	if err != nil {
		return err
	}
	*c = *updated

	e.notifier.Notify(ctx, c.CustomerID, NotifyNoVetAvailable,
		"No vet available",
		"We couldn't find an available vet right now. Please try again in a few minutes.",
		map[string]any{"consultation_id": c.ID.String()})

	return nil
}
