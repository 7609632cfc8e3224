package consultation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vetlink/teleconsult/internal/clock"
)

// memRepo mirrors the store's conditional-update semantics in memory so the
// service and window logic can be exercised without postgres.
type memRepo struct {
	mu sync.Mutex

	clk clock.Clock

	customers map[uuid.UUID]Customer
	vets      map[uuid.UUID]Vet
	pets      map[uuid.UUID]Pet
	consults  map[uuid.UUID]Consultation
	flags     map[uuid.UUID]Flag
	threads   map[uuid.UUID]FollowUpThread

	vetActivity map[uuid.UUID]time.Time

	nextSeq int64
}

func newMemRepo(clk clock.Clock) *memRepo {
	return &memRepo{
		clk:         clk,
		customers:   map[uuid.UUID]Customer{},
		vets:        map[uuid.UUID]Vet{},
		pets:        map[uuid.UUID]Pet{},
		consults:    map[uuid.UUID]Consultation{},
		flags:       map[uuid.UUID]Flag{},
		threads:     map[uuid.UUID]FollowUpThread{},
		vetActivity: map[uuid.UUID]time.Time{},
	}
}

func (r *memRepo) addCustomer(name string) Customer {
	r.mu.Lock()
	defer r.mu.Unlock()
	email := name + "@example.com"
	c := Customer{ID: uuid.New(), Name: name, Email: &email, CreatedAt: r.clk.Now(), UpdatedAt: r.clk.Now()}
	r.customers[c.ID] = c
	return c
}

func (r *memRepo) addVet(name string, verified, available bool) Vet {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := Vet{ID: uuid.New(), Name: name, IsVerified: verified, IsAvailable: available, AcceptsBookings: true, CreatedAt: r.clk.Now(), UpdatedAt: r.clk.Now()}
	r.vets[v.ID] = v
	return v
}

func (r *memRepo) addPet(customerID uuid.UUID, name string) Pet {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := Pet{ID: uuid.New(), CustomerID: customerID, Name: name, Species: "dog", CreatedAt: r.clk.Now(), UpdatedAt: r.clk.Now()}
	r.pets[p.ID] = p
	return p
}

func (r *memRepo) markVetActive(vetID uuid.UUID, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vetActivity[vetID] = at
}

func (r *memRepo) GetCustomerByID(_ context.Context, id uuid.UUID) (*Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.customers[id]
	if !ok {
		return nil, ErrCustomerNotFound
	}
	return &c, nil
}

func (r *memRepo) GetVetByID(_ context.Context, id uuid.UUID) (*Vet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.vets[id]
	if !ok {
		return nil, ErrVetNotFound
	}
	return &v, nil
}

func (r *memRepo) GetPetByID(_ context.Context, id uuid.UUID) (*Pet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pets[id]
	if !ok {
		return nil, ErrPetNotFound
	}
	return &p, nil
}

func (r *memRepo) CreateConsultation(_ context.Context, c *Consultation) (*Consultation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *c
	// Mirror the vet-slot unique index: one active reservation per vet
	// per slot.
	if stored.VetID != nil && stored.ScheduledAt != nil &&
		(stored.Status == StatusPending || stored.Status == StatusScheduled) {
		for _, existing := range r.consults {
			if existing.VetID != nil && *existing.VetID == *stored.VetID &&
				existing.ScheduledAt != nil && existing.ScheduledAt.Equal(*stored.ScheduledAt) &&
				(existing.Status == StatusPending || existing.Status == StatusScheduled) {
				return nil, ErrStateConflict
			}
		}
	}
	stored.ID = uuid.New()
	r.nextSeq++
	stored.Seq = r.nextSeq
	stored.CreatedAt = r.clk.Now()
	stored.UpdatedAt = r.clk.Now()
	r.consults[stored.ID] = stored
	out := stored
	return &out, nil
}

func (r *memRepo) GetConsultationByID(_ context.Context, id uuid.UUID) (*Consultation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.consults[id]
	if !ok {
		return nil, ErrConsultationNotFound
	}
	out := c
	return &out, nil
}

func (r *memRepo) GetConsultationByRoom(_ context.Context, roomName string) (*Consultation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.consults {
		if c.RoomName != nil && *c.RoomName == roomName {
			out := c
			return &out, nil
		}
	}
	return nil, ErrConsultationNotFound
}

func (r *memRepo) ListConsultationsByCustomer(_ context.Context, customerID uuid.UUID, limit, offset int) ([]Consultation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Consultation
	for _, c := range r.consults {
		if c.CustomerID == customerID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *memRepo) CompareAndTransition(_ context.Context, id uuid.UUID, from, to Status, upd TransitionUpdate) (*Consultation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !CanTransition(from, to) {
		return nil, ErrInvalidTransition
	}
	c, ok := r.consults[id]
	if !ok || c.Status != from {
		return nil, ErrStateConflict
	}
	if upd.ExpectVetID != nil && (c.VetID == nil || *c.VetID != *upd.ExpectVetID) {
		return nil, ErrStateConflict
	}
	if upd.ExpectNotExtended && c.WasExtended {
		return nil, ErrStateConflict
	}

	c.Status = to
	if upd.VetID != nil {
		v := *upd.VetID
		c.VetID = &v
	}
	if upd.ClearVetID {
		c.VetID = nil
	}
	if upd.StartedAt != nil {
		t := *upd.StartedAt
		c.StartedAt = &t
	}
	if upd.EndedAt != nil {
		t := *upd.EndedAt
		c.EndedAt = &t
	}
	if upd.DurationMinutes != nil {
		n := *upd.DurationMinutes
		c.DurationMinutes = &n
	}
	if upd.WasExtended != nil {
		c.WasExtended = *upd.WasExtended
	}
	if upd.RoomName != nil {
		s := *upd.RoomName
		c.RoomName = &s
	}
	if upd.RoomURL != nil {
		s := *upd.RoomURL
		c.RoomURL = &s
	}
	if upd.PaymentRef != nil {
		s := *upd.PaymentRef
		c.PaymentRef = &s
	}
	c.UpdatedAt = r.clk.Now()

	r.consults[id] = c
	out := c
	return &out, nil
}

func (r *memRepo) SetRecording(_ context.Context, id uuid.UUID, recordingID, recordingURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.consults[id]
	if !ok {
		return ErrConsultationNotFound
	}
	c.RecordingID = &recordingID
	c.RecordingURL = &recordingURL
	r.consults[id] = c
	return nil
}

func (r *memRepo) ListEligibleVets(_ context.Context, excluded []uuid.UUID) ([]Vet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	skip := map[uuid.UUID]bool{}
	for _, id := range excluded {
		skip[id] = true
	}
	var out []Vet
	for _, v := range r.vets {
		if v.IsVerified && v.IsAvailable && !skip[v.ID] {
			out = append(out, v)
		}
	}
	return out, nil
}

func (r *memRepo) VetActiveSince(_ context.Context, vetID uuid.UUID, since time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	at, ok := r.vetActivity[vetID]
	return ok && at.After(since), nil
}

func (r *memRepo) ListMatchedUpdatedBefore(_ context.Context, cutoff time.Time) ([]Consultation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Consultation
	for _, c := range r.consults {
		if c.Status == StatusMatched && c.UpdatedAt.Before(cutoff) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *memRepo) ListScheduledStartedBefore(_ context.Context, cutoff time.Time) ([]Consultation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Consultation
	for _, c := range r.consults {
		if c.Status == StatusScheduled && c.ScheduledAt != nil && c.ScheduledAt.Before(cutoff) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *memRepo) ListPendingCreatedBefore(_ context.Context, cutoff time.Time) ([]Consultation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Consultation
	for _, c := range r.consults {
		if c.Status == StatusPending && c.CreatedAt.Before(cutoff) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *memRepo) CreateFlag(_ context.Context, f *Flag) (*Flag, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *f
	stored.ID = uuid.New()
	stored.Status = FlagPending
	stored.CreatedAt = r.clk.Now()
	stored.UpdatedAt = r.clk.Now()
	r.flags[stored.ID] = stored
	out := stored
	return &out, nil
}

func (r *memRepo) GetFlagByID(_ context.Context, id uuid.UUID) (*Flag, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.flags[id]
	if !ok {
		return nil, ErrFlagNotFound
	}
	return &f, nil
}

func (r *memRepo) WithdrawFlag(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.flags[id]
	if !ok || f.Status != FlagPending {
		return ErrStateConflict
	}
	f.Status = FlagWithdrawn
	f.UpdatedAt = r.clk.Now()
	r.flags[id] = f
	return nil
}

func (r *memRepo) CreateFollowUpThread(_ context.Context, t *FollowUpThread) (*FollowUpThread, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *t
	stored.ID = uuid.New()
	stored.Status = ThreadActive
	stored.CreatedAt = r.clk.Now()
	stored.UpdatedAt = r.clk.Now()
	r.threads[stored.ID] = stored
	out := stored
	return &out, nil
}

func (r *memRepo) GetActiveThreadForConsultation(_ context.Context, consultationID uuid.UUID) (*FollowUpThread, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.threads {
		if t.ConsultationID == consultationID && t.Status == ThreadActive {
			out := t
			return &out, nil
		}
	}
	return nil, ErrThreadNotFound
}

func (r *memRepo) ListActiveThreadsExpiredBefore(_ context.Context, cutoff time.Time) ([]FollowUpThread, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []FollowUpThread
	for _, t := range r.threads {
		if t.Status == ThreadActive && !t.ExpiresAt.After(cutoff) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *memRepo) ExpireThread(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.threads[id]
	if !ok || t.Status != ThreadActive {
		return ErrStateConflict
	}
	t.Status = ThreadExpired
	t.UpdatedAt = r.clk.Now()
	r.threads[id] = t
	return nil
}
