package consultation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vetlink/teleconsult/internal/clock"
	"github.com/vetlink/teleconsult/internal/payment"
	"github.com/vetlink/teleconsult/internal/redisclient"
	"github.com/vetlink/teleconsult/internal/video"
)

const (
	NotifyBookingConfirmed  = "booking_confirmed"
	NotifyVetAccepted       = "vet_accepted"
	NotifyConsultCancelled  = "consultation_cancelled"
	NotifyConsultCompleted  = "consultation_completed"
	NotifyFollowUpRequested = "follow_up_requested"
)

// Notifier is the fire-and-forget notification collaborator. Both methods
// swallow failures; a transition never rolls back because a notification
// could not be delivered.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, typ, title, body string, data map[string]any)
	Email(ctx context.Context, to, subject, htmlBody string)
}

// SlotChecker answers whether a vet is free for a requested booking slot.
// Implemented by the availability resolver.
type SlotChecker interface {
	FreeVetFor(ctx context.Context, start time.Time, durationMinutes int) (uuid.UUID, error)
}

// SlotGuard serializes booking attempts on one slot so the availability
// read and the insert run without a concurrent twin in between. Best
// effort: the vet-slot unique index is the durable backstop when redis
// is unavailable. Satisfied by redisclient.OverlapGuard.
type SlotGuard interface {
	WithGuard(ctx context.Context, name string, fn func(ctx context.Context) error) error
}

type ServiceConfig struct {
	BookingLeadTime        time.Duration
	BookingHorizon         time.Duration
	SlotMinutes            int
	FollowUpTTL            time.Duration
	DefaultDurationMinutes int
	ExtensionMinutes       int
	TokenTTL               time.Duration
}

type Service struct {
	repo     Repository
	clk      clock.Clock
	video    video.Client
	payments payment.Client
	notifier Notifier
	slots    SlotChecker
	guard    SlotGuard
	cfg      ServiceConfig
	logger   *zap.Logger
}

func NewService(repo Repository, clk clock.Clock, videoClient video.Client, payments payment.Client, notifier Notifier, slots SlotChecker, guard SlotGuard, cfg ServiceConfig, logger *zap.Logger) *Service {
	if cfg.DefaultDurationMinutes == 0 {
		cfg.DefaultDurationMinutes = 30
	}
	if cfg.ExtensionMinutes == 0 {
		cfg.ExtensionMinutes = 15
	}
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = time.Hour
	}
	return &Service{
		repo:     repo,
		clk:      clk,
		video:    videoClient,
		payments: payments,
		notifier: notifier,
		slots:    slots,
		guard:    guard,
		cfg:      cfg,
		logger:   logger,
	}
}

type CreateDirectRequest struct {
	CustomerID  uuid.UUID
	PetID       uuid.UUID
	Concern     string
	Symptoms    []string
	AmountCents int
	IsPriority  bool
}

// CreateDirectRequest opens a direct-connect consultation in pending. The
// caller hands the result to the matching engine.
func (s *Service) CreateDirectRequest(ctx context.Context, req CreateDirectRequest) (*Consultation, error) {
	if _, err := s.repo.GetCustomerByID(ctx, req.CustomerID); err != nil {
		return nil, fmt.Errorf("load customer: %w", err)
	}
	if err := s.checkPet(ctx, req.PetID, req.CustomerID); err != nil {
		return nil, err
	}

	c := &Consultation{
		Type:        TypeDirectConnect,
		Status:      StatusPending,
		CustomerID:  req.CustomerID,
		PetID:       req.PetID,
		Concern:     req.Concern,
		Symptoms:    req.Symptoms,
		AmountCents: req.AmountCents,
		IsPriority:  req.IsPriority,
	}

	created, err := s.repo.CreateConsultation(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("create consultation: %w", err)
	}

	return created, nil
}

type BookSlotRequest struct {
	CustomerID  uuid.UUID
	PetID       uuid.UUID
	ScheduledAt time.Time
	Concern     string
	Symptoms    []string
	AmountCents int
}

type BookingResult struct {
	Consultation *Consultation
	Order        *payment.Order
}

// BookSlot reserves a slot against a free vet's calendar and opens the
// payment order. The consultation stays pending until payment succeeds;
// abandoned checkouts are reclaimed by the pending-cleanup sweep.
// Attempts on the same slot serialize through the slot guard so the
// availability read and the insert see each other; when the guard is
// skipped the vet-slot unique index rejects the loser's insert.
func (s *Service) BookSlot(ctx context.Context, req BookSlotRequest) (*BookingResult, error) {
	if _, err := s.repo.GetCustomerByID(ctx, req.CustomerID); err != nil {
		return nil, fmt.Errorf("load customer: %w", err)
	}
	if err := s.checkPet(ctx, req.PetID, req.CustomerID); err != nil {
		return nil, err
	}

	now := s.clk.Now()
	if req.ScheduledAt.Before(now.Add(s.cfg.BookingLeadTime)) {
		return nil, ErrSlotOutOfRange
	}
	if req.ScheduledAt.After(now.Add(s.cfg.BookingLeadTime + s.cfg.BookingHorizon)) {
		return nil, ErrSlotOutOfRange
	}
	if req.ScheduledAt.Second() != 0 || req.ScheduledAt.Minute()%s.cfg.SlotMinutes != 0 {
		return nil, ErrSlotOutOfRange
	}

	var created *Consultation
	guardName := fmt.Sprintf("book:%d", req.ScheduledAt.Unix())
	err := s.guard.WithGuard(ctx, guardName, func(ctx context.Context) error {
		vetID, err := s.slots.FreeVetFor(ctx, req.ScheduledAt, s.cfg.SlotMinutes)
		if err != nil {
			return err
		}

		scheduledAt := req.ScheduledAt
		c := &Consultation{
			Type:        TypeScheduled,
			Status:      StatusPending,
			CustomerID:  req.CustomerID,
			VetID:       &vetID,
			PetID:       req.PetID,
			Concern:     req.Concern,
			Symptoms:    req.Symptoms,
			ScheduledAt: &scheduledAt,
			AmountCents: req.AmountCents,
		}

		created, err = s.repo.CreateConsultation(ctx, c)
		if err != nil {
			if errors.Is(err, ErrStateConflict) {
				// Unique index: a concurrent booking claimed the vet's
				// slot between the availability read and this insert.
				return ErrSlotTaken
			}
			return fmt.Errorf("create consultation: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrGuardHeld) {
			return nil, ErrSlotTaken
		}
		return nil, err
	}

	order, err := s.payments.CreateOrder(ctx, created.ID, created.AmountCents)
	if err != nil {
		// The pending row stays behind for the customer to retry; the
		// cleanup sweep reclaims it if they never do.
		return nil, fmt.Errorf("create payment order: %w", err)
	}

	if order.Status == payment.StatusPaid {
		confirmed, err := s.confirmBooking(ctx, created, order.ID)
		if err != nil {
			return nil, err
		}
		created = confirmed
	}

	return &BookingResult{Consultation: created, Order: order}, nil
}

// HandlePaymentSucceeded moves a pending booking to scheduled once the
// gateway reports the order paid for the quoted amount.
func (s *Service) HandlePaymentSucceeded(ctx context.Context, id uuid.UUID, orderID string, amountCents int) (*Consultation, error) {
	c, err := s.repo.GetConsultationByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load consultation: %w", err)
	}

	if amountCents != c.AmountCents {
		return nil, ErrAmountMismatch
	}

	status, err := s.payments.GetStatus(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("verify payment: %w", err)
	}
	if status != payment.StatusPaid {
		return nil, ErrPaymentNotConfirmed
	}

	return s.confirmBooking(ctx, c, orderID)
}

func (s *Service) confirmBooking(ctx context.Context, c *Consultation, orderID string) (*Consultation, error) {
	updated, err := s.repo.CompareAndTransition(ctx, c.ID, StatusPending, StatusScheduled, TransitionUpdate{
		PaymentRef: &orderID,
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, updated.CustomerID, NotifyBookingConfirmed,
		"Booking confirmed",
		"Your consultation is booked.",
		map[string]any{"consultation_id": updated.ID.String()})
	if updated.VetID != nil {
		s.notifier.Notify(ctx, *updated.VetID, NotifyBookingConfirmed,
			"New booking",
			"A customer booked a consultation with you.",
			map[string]any{"consultation_id": updated.ID.String()})
	}

	return updated, nil
}

// Accept records the assigned vet taking a matched consultation.
func (s *Service) Accept(ctx context.Context, id, vetID uuid.UUID) (*Consultation, error) {
	c, err := s.repo.GetConsultationByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load consultation: %w", err)
	}

	if c.VetID == nil || *c.VetID != vetID {
		return nil, ErrNotAssignedVet
	}

	updated, err := s.repo.CompareAndTransition(ctx, id, StatusMatched, StatusAccepted, TransitionUpdate{})
	if err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, updated.CustomerID, NotifyVetAccepted,
		"Vet is ready",
		"A vet accepted your consultation and will join shortly.",
		map[string]any{"consultation_id": updated.ID.String()})

	return updated, nil
}

type JoinResult struct {
	Consultation *Consultation
	RoomURL      string
	Token        string
}

// Join admits a participant to the video session, creating the room on
// first entry and moving the consultation to in_progress. The join window
// is re-evaluated on every attempt.
func (s *Service) Join(ctx context.Context, id, userID uuid.UUID, role Role) (*JoinResult, error) {
	c, err := s.repo.GetConsultationByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load consultation: %w", err)
	}

	displayName, err := s.authorizeParticipant(ctx, c, userID, role)
	if err != nil {
		return nil, err
	}

	if c.ScheduledAt != nil {
		decision := CanJoin(*c.ScheduledAt, role, s.clk.Now())
		if !decision.Allowed {
			return nil, &JoinDeniedError{
				Reason:            decision.Reason,
				MinutesUntilStart: decision.MinutesUntilStart,
			}
		}
	}

	switch c.Status {
	case StatusInProgress:
		// Already live, hand out a token for the existing room.
	case StatusMatched, StatusAccepted:
		if role != RoleVet {
			return nil, ErrInvalidTransition
		}
		c, err = s.startSession(ctx, c)
		if err != nil {
			return nil, err
		}
	case StatusScheduled:
		c, err = s.startSession(ctx, c)
		if err != nil {
			return nil, err
		}
	default:
		return nil, ErrInvalidTransition
	}

	if c.RoomName == nil || c.RoomURL == nil {
		return nil, fmt.Errorf("consultation %s is in_progress without a room", c.ID)
	}

	token, err := s.video.GenerateToken(ctx, *c.RoomName, userID.String(), displayName, role == RoleVet, s.cfg.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("generate meeting token: %w", err)
	}

	return &JoinResult{Consultation: c, RoomURL: *c.RoomURL, Token: token}, nil
}

// startSession provisions the room (if needed) and flips the consultation
// to in_progress. Room creation happens before the transition so a video
// upstream failure commits no partial state.
func (s *Service) startSession(ctx context.Context, c *Consultation) (*Consultation, error) {
	upd := TransitionUpdate{}
	now := s.clk.Now()
	upd.StartedAt = &now

	if c.RoomName == nil {
		roomMinutes := s.cfg.DefaultDurationMinutes + int(JoinGrace.Minutes())
		room, err := s.video.CreateRoom(ctx, fmt.Sprintf("consult-%d", c.Seq), roomMinutes)
		if err != nil {
			return nil, fmt.Errorf("create video room: %w", err)
		}
		upd.RoomName = &room.Name
		upd.RoomURL = &room.URL
	}

	updated, err := s.repo.CompareAndTransition(ctx, c.ID, c.Status, StatusInProgress, upd)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, ErrStateConflict) {
		return nil, err
	}

	// Lost the race. If the winner already started the session the join
	// can still proceed; anything else is a real conflict.
	current, loadErr := s.repo.GetConsultationByID(ctx, c.ID)
	if loadErr != nil {
		return nil, fmt.Errorf("reload after conflict: %w", loadErr)
	}
	if current.Status == StatusInProgress {
		return current, nil
	}
	return nil, ErrStateConflict
}

func (s *Service) authorizeParticipant(ctx context.Context, c *Consultation, userID uuid.UUID, role Role) (string, error) {
	switch role {
	case RoleCustomer:
		if c.CustomerID != userID {
			return "", ErrNotConsultationOwner
		}
		customer, err := s.repo.GetCustomerByID(ctx, userID)
		if err != nil {
			return "", fmt.Errorf("load customer: %w", err)
		}
		return customer.Name, nil
	case RoleVet:
		if c.VetID == nil || *c.VetID != userID {
			return "", ErrNotAssignedVet
		}
		vet, err := s.repo.GetVetByID(ctx, userID)
		if err != nil {
			return "", fmt.Errorf("load vet: %w", err)
		}
		return vet.Name, nil
	default:
		return "", fmt.Errorf("unknown role %q", role)
	}
}

// HandleMeetingEnded completes a live consultation when the video
// collaborator reports the session over. Safe under redelivery: a
// consultation that already left in_progress is a no-op.
func (s *Service) HandleMeetingEnded(ctx context.Context, roomName string, endedAt time.Time) error {
	c, err := s.repo.GetConsultationByRoom(ctx, roomName)
	if err != nil {
		return fmt.Errorf("load consultation for room %q: %w", roomName, err)
	}

	if c.Status != StatusInProgress {
		s.logger.Info("meeting.ended for non-live consultation, skipping",
			zap.String("consultation_id", c.ID.String()),
			zap.String("status", string(c.Status)))
		return nil
	}

	upd := TransitionUpdate{EndedAt: &endedAt}
	if c.StartedAt != nil {
		minutes := int(endedAt.Sub(*c.StartedAt).Round(time.Minute).Minutes())
		upd.DurationMinutes = &minutes
	}

	updated, err := s.repo.CompareAndTransition(ctx, c.ID, StatusInProgress, StatusCompleted, upd)
	if err != nil {
		if errors.Is(err, ErrStateConflict) {
			s.logger.Info("meeting.ended lost the race, already handled",
				zap.String("consultation_id", c.ID.String()))
			return nil
		}
		return err
	}

	if !updated.IsFollowUp && updated.VetID != nil {
		expiresAt := s.clk.Now().Add(s.cfg.FollowUpTTL)
		_, err := s.repo.CreateFollowUpThread(ctx, &FollowUpThread{
			ConsultationID: updated.ID,
			CustomerID:     updated.CustomerID,
			VetID:          *updated.VetID,
			ExpiresAt:      expiresAt,
		})
		if err != nil {
			s.logger.Error("open follow-up thread",
				zap.String("consultation_id", updated.ID.String()),
				zap.Error(err))
		}
	}

	s.notifier.Notify(ctx, updated.CustomerID, NotifyConsultCompleted,
		"Consultation complete",
		"Thanks for using VetLink. You can message your vet with follow-up questions for a limited time.",
		map[string]any{"consultation_id": updated.ID.String()})

	return nil
}

// HandleRecordingReady attaches recording metadata. Idempotent under
// webhook redelivery.
func (s *Service) HandleRecordingReady(ctx context.Context, roomName, recordingID, recordingURL string) error {
	c, err := s.repo.GetConsultationByRoom(ctx, roomName)
	if err != nil {
		return fmt.Errorf("load consultation for room %q: %w", roomName, err)
	}
	return s.repo.SetRecording(ctx, c.ID, recordingID, recordingURL)
}

// Cancel is customer-initiated and only valid before the session starts.
func (s *Service) Cancel(ctx context.Context, id, customerID uuid.UUID) (*Consultation, error) {
	c, err := s.repo.GetConsultationByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load consultation: %w", err)
	}

	if c.CustomerID != customerID {
		return nil, ErrNotConsultationOwner
	}
	if c.Status != StatusPending && c.Status != StatusScheduled {
		return nil, ErrInvalidTransition
	}

	updated, err := s.repo.CompareAndTransition(ctx, id, c.Status, StatusCancelled, TransitionUpdate{})
	if err != nil {
		return nil, err
	}

	if updated.VetID != nil {
		s.notifier.Notify(ctx, *updated.VetID, NotifyConsultCancelled,
			"Consultation cancelled",
			"The customer cancelled the consultation.",
			map[string]any{"consultation_id": updated.ID.String()})
	}

	return updated, nil
}

// Extend lengthens a live session once. The room expiry is pushed first;
// the was_extended guard makes the flip single-shot under races.
func (s *Service) Extend(ctx context.Context, id, vetID uuid.UUID) (*Consultation, error) {
	c, err := s.repo.GetConsultationByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load consultation: %w", err)
	}

	if c.VetID == nil || *c.VetID != vetID {
		return nil, ErrNotAssignedVet
	}
	if c.Status != StatusInProgress {
		return nil, ErrInvalidTransition
	}
	if c.WasExtended {
		return nil, ErrAlreadyExtended
	}
	if c.RoomName == nil {
		return nil, fmt.Errorf("consultation %s has no room to extend", c.ID)
	}

	if _, err := s.video.ExtendRoomExpiry(ctx, *c.RoomName, s.cfg.ExtensionMinutes); err != nil {
		return nil, fmt.Errorf("extend video room: %w", err)
	}

	extended := true
	updated, err := s.repo.CompareAndTransition(ctx, id, StatusInProgress, StatusInProgress, TransitionUpdate{
		WasExtended:       &extended,
		ExpectNotExtended: true,
	})
	if err != nil {
		if errors.Is(err, ErrStateConflict) {
			return nil, ErrAlreadyExtended
		}
		return nil, err
	}

	return updated, nil
}

// CreateFollowUp opens a free follow-up consultation with the same vet,
// valid only while the parent's thread is alive.
func (s *Service) CreateFollowUp(ctx context.Context, parentID, customerID uuid.UUID) (*Consultation, error) {
	parent, err := s.repo.GetConsultationByID(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("load parent consultation: %w", err)
	}

	if parent.CustomerID != customerID {
		return nil, ErrNotConsultationOwner
	}
	if parent.Status != StatusCompleted || parent.VetID == nil {
		return nil, ErrFollowUpUnavailable
	}

	thread, err := s.repo.GetActiveThreadForConsultation(ctx, parentID)
	if err != nil {
		if errors.Is(err, ErrThreadNotFound) {
			return nil, ErrFollowUpUnavailable
		}
		return nil, fmt.Errorf("load follow-up thread: %w", err)
	}
	if !thread.ExpiresAt.After(s.clk.Now()) {
		return nil, ErrFollowUpUnavailable
	}

	parentRef := parent.ID
	expiresAt := thread.ExpiresAt
	c := &Consultation{
		Type:                 TypeFollowUp,
		Status:               StatusMatched,
		CustomerID:           parent.CustomerID,
		VetID:                parent.VetID,
		PetID:                parent.PetID,
		Concern:              parent.Concern,
		IsFollowUp:           true,
		ParentConsultationID: &parentRef,
		FollowUpExpiresAt:    &expiresAt,
		IsFree:               true,
	}

	created, err := s.repo.CreateConsultation(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("create follow-up consultation: %w", err)
	}

	s.notifier.Notify(ctx, *created.VetID, NotifyFollowUpRequested,
		"Follow-up requested",
		"A customer requested a follow-up on a recent consultation.",
		map[string]any{"consultation_id": created.ID.String()})

	return created, nil
}

// FlagWithdrawWindow bounds how long a vet may retract their own flag.
const FlagWithdrawWindow = 24 * time.Hour

// FlagConsultation files a report by the assigned vet.
func (s *Service) FlagConsultation(ctx context.Context, consultationID, vetID uuid.UUID, reason string) (*Flag, error) {
	if reason == "" {
		return nil, errors.New("flag reason is required")
	}

	c, err := s.repo.GetConsultationByID(ctx, consultationID)
	if err != nil {
		return nil, fmt.Errorf("load consultation: %w", err)
	}
	if c.VetID == nil || *c.VetID != vetID {
		return nil, ErrNotAssignedVet
	}

	return s.repo.CreateFlag(ctx, &Flag{
		ConsultationID: consultationID,
		VetID:          vetID,
		Reason:         reason,
	})
}

// WithdrawFlag retracts a pending flag, by its author only, within 24h of
// creation.
func (s *Service) WithdrawFlag(ctx context.Context, flagID, vetID uuid.UUID) error {
	flag, err := s.repo.GetFlagByID(ctx, flagID)
	if err != nil {
		return fmt.Errorf("load flag: %w", err)
	}

	if flag.VetID != vetID {
		return ErrNotFlagAuthor
	}
	if s.clk.Now().Sub(flag.CreatedAt) >= FlagWithdrawWindow {
		return ErrFlagWindowClosed
	}

	return s.repo.WithdrawFlag(ctx, flagID)
}

func (s *Service) GetConsultation(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	return s.repo.GetConsultationByID(ctx, id)
}

func (s *Service) ListByCustomer(ctx context.Context, customerID uuid.UUID, limit, offset int) ([]Consultation, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListConsultationsByCustomer(ctx, customerID, limit, offset)
}

func (s *Service) checkPet(ctx context.Context, petID, customerID uuid.UUID) error {
	pet, err := s.repo.GetPetByID(ctx, petID)
	if err != nil {
		return fmt.Errorf("load pet: %w", err)
	}
	if pet.CustomerID != customerID {
		return ErrPetOwnership
	}
	return nil
}
