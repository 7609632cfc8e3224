package consultation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vetlink/teleconsult/internal/clock"
	"github.com/vetlink/teleconsult/internal/payment"
	"github.com/vetlink/teleconsult/internal/redisclient"
	"github.com/vetlink/teleconsult/internal/video"
)

type fakeVideo struct {
	mu        sync.Mutex
	rooms     []string
	extended  []string
	extendErr error
	createErr error
}

func (f *fakeVideo) CreateRoom(_ context.Context, name string, _ int) (*video.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.rooms = append(f.rooms, name)
	return &video.Room{Name: name, URL: "https://video.test/" + name}, nil
}

func (f *fakeVideo) GenerateToken(_ context.Context, _, userID, _ string, _ bool, _ time.Duration) (string, error) {
	return "tok-" + userID, nil
}

func (f *fakeVideo) ExtendRoomExpiry(_ context.Context, roomName string, minutes int) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.extendErr != nil {
		return time.Time{}, f.extendErr
	}
	f.extended = append(f.extended, roomName)
	return time.Now().Add(time.Duration(minutes) * time.Minute), nil
}

type fakePayments struct {
	orderStatus string
	statuses    map[string]string
}

func (f *fakePayments) CreateOrder(_ context.Context, consultationID uuid.UUID, amountCents int) (*payment.Order, error) {
	status := f.orderStatus
	if status == "" {
		status = payment.StatusCreated
	}
	return &payment.Order{ID: "order-" + consultationID.String(), Status: status, AmountCents: amountCents}, nil
}

func (f *fakePayments) GetStatus(_ context.Context, orderID string) (string, error) {
	if s, ok := f.statuses[orderID]; ok {
		return s, nil
	}
	return payment.StatusPaid, nil
}

type sentNotification struct {
	UserID uuid.UUID
	Type   string
}

type fakeNotifier struct {
	mu     sync.Mutex
	sent   []sentNotification
	emails []string
}

func (f *fakeNotifier) Notify(_ context.Context, userID uuid.UUID, typ, _, _ string, _ map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentNotification{UserID: userID, Type: typ})
}

func (f *fakeNotifier) Email(_ context.Context, to, _, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emails = append(f.emails, to)
}

func (f *fakeNotifier) sentTo(userID uuid.UUID, typ string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range f.sent {
		if n.UserID == userID && n.Type == typ {
			return true
		}
	}
	return false
}

type fakeSlots struct {
	vetID uuid.UUID
	err   error
}

func (f *fakeSlots) FreeVetFor(context.Context, time.Time, int) (uuid.UUID, error) {
	if f.err != nil {
		return uuid.Nil, f.err
	}
	return f.vetID, nil
}

type serviceFixture struct {
	svc      *Service
	repo     *memRepo
	clk      *clock.Fake
	videoAPI *fakeVideo
	payments *fakePayments
	notifier *fakeNotifier
	slots    *fakeSlots

	customer Customer
	pet      Pet
	vet      Vet
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	clk := clock.NewFake(time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC))
	repo := newMemRepo(clk)

	f := &serviceFixture{
		repo:     repo,
		clk:      clk,
		videoAPI: &fakeVideo{},
		payments: &fakePayments{},
		notifier: &fakeNotifier{},
		slots:    &fakeSlots{},
	}

	f.customer = repo.addCustomer("dana")
	f.pet = repo.addPet(f.customer.ID, "rex")
	f.vet = repo.addVet("dr. wu", true, true)
	f.slots.vetID = f.vet.ID

	f.svc = NewService(repo, clk, f.videoAPI, f.payments, f.notifier, f.slots, redisclient.NoopGuard{}, ServiceConfig{
		BookingLeadTime: 15 * time.Minute,
		BookingHorizon:  7 * 24 * time.Hour,
		SlotMinutes:     30,
		FollowUpTTL:     72 * time.Hour,
	}, zap.NewNop())

	return f
}

func (f *serviceFixture) bookScheduled(t *testing.T, scheduledAt time.Time) *Consultation {
	t.Helper()
	f.payments.orderStatus = payment.StatusPaid
	result, err := f.svc.BookSlot(context.Background(), BookSlotRequest{
		CustomerID:  f.customer.ID,
		PetID:       f.pet.ID,
		ScheduledAt: scheduledAt,
		Concern:     "limping",
		AmountCents: 4500,
	})
	require.NoError(t, err)
	require.Equal(t, StatusScheduled, result.Consultation.Status)
	return result.Consultation
}

func TestCreateDirectRequest(t *testing.T) {
	f := newServiceFixture(t)

	c, err := f.svc.CreateDirectRequest(context.Background(), CreateDirectRequest{
		CustomerID: f.customer.ID,
		PetID:      f.pet.ID,
		Concern:    "vomiting",
		Symptoms:   []string{"vomiting", "lethargy"},
	})
	require.NoError(t, err)

	assert.Equal(t, StatusPending, c.Status)
	assert.Equal(t, TypeDirectConnect, c.Type)
	assert.Nil(t, c.VetID)
	assert.True(t, CheckVetInvariant(c))
}

func TestCreateDirectRequestRejectsForeignPet(t *testing.T) {
	f := newServiceFixture(t)
	other := f.repo.addCustomer("eve")
	otherPet := f.repo.addPet(other.ID, "whiskers")

	_, err := f.svc.CreateDirectRequest(context.Background(), CreateDirectRequest{
		CustomerID: f.customer.ID,
		PetID:      otherPet.ID,
	})
	assert.ErrorIs(t, err, ErrPetOwnership)
}

func TestBookSlotConfirmsWhenPaid(t *testing.T) {
	f := newServiceFixture(t)
	scheduledAt := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

	c := f.bookScheduled(t, scheduledAt)

	assert.Equal(t, TypeScheduled, c.Type)
	require.NotNil(t, c.VetID)
	assert.Equal(t, f.vet.ID, *c.VetID)
	require.NotNil(t, c.PaymentRef)
	assert.True(t, f.notifier.sentTo(f.customer.ID, NotifyBookingConfirmed))
	assert.True(t, f.notifier.sentTo(f.vet.ID, NotifyBookingConfirmed))
}

func TestBookSlotStaysPendingUntilPayment(t *testing.T) {
	f := newServiceFixture(t)
	scheduledAt := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

	result, err := f.svc.BookSlot(context.Background(), BookSlotRequest{
		CustomerID:  f.customer.ID,
		PetID:       f.pet.ID,
		ScheduledAt: scheduledAt,
		AmountCents: 4500,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, result.Consultation.Status)
	assert.Equal(t, payment.StatusCreated, result.Order.Status)

	confirmed, err := f.svc.HandlePaymentSucceeded(context.Background(), result.Consultation.ID, result.Order.ID, 4500)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, confirmed.Status)
}

func TestBookSlotValidation(t *testing.T) {
	f := newServiceFixture(t)
	now := f.clk.Now()

	tests := []struct {
		name        string
		scheduledAt time.Time
	}{
		{"inside lead time", now.Add(10 * time.Minute)},
		{"beyond horizon", now.Add(8 * 24 * time.Hour)},
		{"off the slot grid", time.Date(2026, 3, 10, 14, 10, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.BookSlot(context.Background(), BookSlotRequest{
				CustomerID:  f.customer.ID,
				PetID:       f.pet.ID,
				ScheduledAt: tt.scheduledAt,
			})
			assert.ErrorIs(t, err, ErrSlotOutOfRange)
		})
	}
}

func TestBookSlotRejectsConcurrentDoubleBooking(t *testing.T) {
	f := newServiceFixture(t)
	scheduledAt := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	first := f.bookScheduled(t, scheduledAt)

	rival := f.repo.addCustomer("noah")
	rivalPet := f.repo.addPet(rival.ID, "bella")

	// The availability fake still reports the vet free, as a stale read
	// does when two bookings interleave; the insert must refuse the
	// second claim on the slot.
	_, err := f.svc.BookSlot(context.Background(), BookSlotRequest{
		CustomerID:  rival.ID,
		PetID:       rivalPet.ID,
		ScheduledAt: scheduledAt,
		AmountCents: 4500,
	})
	assert.ErrorIs(t, err, ErrSlotTaken)

	f.repo.mu.Lock()
	var reservations int
	for _, c := range f.repo.consults {
		if c.VetID != nil && *c.VetID == f.vet.ID &&
			c.ScheduledAt != nil && c.ScheduledAt.Equal(scheduledAt) {
			reservations++
		}
	}
	f.repo.mu.Unlock()
	assert.Equal(t, 1, reservations)
	assert.Equal(t, StatusScheduled, first.Status)
}

type busySlotGuard struct{}

func (busySlotGuard) WithGuard(context.Context, string, func(ctx context.Context) error) error {
	return redisclient.ErrGuardHeld
}

func TestBookSlotReportsContendedSlot(t *testing.T) {
	f := newServiceFixture(t)
	f.svc.guard = busySlotGuard{}

	_, err := f.svc.BookSlot(context.Background(), BookSlotRequest{
		CustomerID:  f.customer.ID,
		PetID:       f.pet.ID,
		ScheduledAt: time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC),
		AmountCents: 4500,
	})
	assert.ErrorIs(t, err, ErrSlotTaken)
}

func TestCompareAndTransitionRejectsUnknownEdge(t *testing.T) {
	f := newServiceFixture(t)
	c := f.bookScheduled(t, time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC))

	// scheduled -> accepted is not a legal edge; the repository refuses
	// it before touching the row.
	_, err := f.repo.CompareAndTransition(context.Background(), c.ID, StatusScheduled, StatusAccepted, TransitionUpdate{})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	current, err := f.repo.GetConsultationByID(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, current.Status)
}

func TestHandlePaymentSucceededAmountMismatch(t *testing.T) {
	f := newServiceFixture(t)
	result, err := f.svc.BookSlot(context.Background(), BookSlotRequest{
		CustomerID:  f.customer.ID,
		PetID:       f.pet.ID,
		ScheduledAt: time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC),
		AmountCents: 4500,
	})
	require.NoError(t, err)

	_, err = f.svc.HandlePaymentSucceeded(context.Background(), result.Consultation.ID, result.Order.ID, 100)
	assert.ErrorIs(t, err, ErrAmountMismatch)
}

func TestHandlePaymentSucceededUnpaidOrder(t *testing.T) {
	f := newServiceFixture(t)
	result, err := f.svc.BookSlot(context.Background(), BookSlotRequest{
		CustomerID:  f.customer.ID,
		PetID:       f.pet.ID,
		ScheduledAt: time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC),
		AmountCents: 4500,
	})
	require.NoError(t, err)

	f.payments.statuses = map[string]string{result.Order.ID: payment.StatusCreated}
	_, err = f.svc.HandlePaymentSucceeded(context.Background(), result.Consultation.ID, result.Order.ID, 4500)
	assert.ErrorIs(t, err, ErrPaymentNotConfirmed)
}

func TestAccept(t *testing.T) {
	f := newServiceFixture(t)
	vetID := f.vet.ID
	created, err := f.repo.CreateConsultation(context.Background(), &Consultation{
		Type: TypeDirectConnect, Status: StatusMatched,
		CustomerID: f.customer.ID, VetID: &vetID, PetID: f.pet.ID,
	})
	require.NoError(t, err)

	updated, err := f.svc.Accept(context.Background(), created.ID, vetID)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, updated.Status)
	assert.True(t, f.notifier.sentTo(f.customer.ID, NotifyVetAccepted))

	// Accepting again hits the conditional update with a stale expectation.
	_, err = f.svc.Accept(context.Background(), created.ID, vetID)
	assert.ErrorIs(t, err, ErrStateConflict)
}

func TestAcceptByWrongVet(t *testing.T) {
	f := newServiceFixture(t)
	vetID := f.vet.ID
	intruder := f.repo.addVet("dr. sim", true, true)
	created, err := f.repo.CreateConsultation(context.Background(), &Consultation{
		Type: TypeDirectConnect, Status: StatusMatched,
		CustomerID: f.customer.ID, VetID: &vetID, PetID: f.pet.ID,
	})
	require.NoError(t, err)

	_, err = f.svc.Accept(context.Background(), created.ID, intruder.ID)
	assert.ErrorIs(t, err, ErrNotAssignedVet)
}

func TestJoinWindowEnforcedForCustomer(t *testing.T) {
	f := newServiceFixture(t)
	scheduledAt := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	c := f.bookScheduled(t, scheduledAt)

	f.clk.Set(scheduledAt.Add(-10 * time.Minute))
	_, err := f.svc.Join(context.Background(), c.ID, f.customer.ID, RoleCustomer)
	var denied *JoinDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, JoinReasonTooEarly, denied.Reason)
	assert.Equal(t, 10, denied.MinutesUntilStart)

	f.clk.Set(scheduledAt.Add(45 * time.Minute))
	_, err = f.svc.Join(context.Background(), c.ID, f.customer.ID, RoleCustomer)
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, JoinReasonExpired, denied.Reason)
}

func TestJoinStartsSessionOnce(t *testing.T) {
	f := newServiceFixture(t)
	scheduledAt := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	c := f.bookScheduled(t, scheduledAt)

	f.clk.Set(scheduledAt)
	vetJoin, err := f.svc.Join(context.Background(), c.ID, f.vet.ID, RoleVet)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, vetJoin.Consultation.Status)
	assert.NotEmpty(t, vetJoin.RoomURL)
	assert.Equal(t, "tok-"+f.vet.ID.String(), vetJoin.Token)

	// Second participant reuses the live room, no second create.
	custJoin, err := f.svc.Join(context.Background(), c.ID, f.customer.ID, RoleCustomer)
	require.NoError(t, err)
	assert.Equal(t, vetJoin.RoomURL, custJoin.RoomURL)
	assert.Len(t, f.videoAPI.rooms, 1)
}

func TestJoinMatchedCustomerMustWaitForVet(t *testing.T) {
	f := newServiceFixture(t)
	vetID := f.vet.ID
	created, err := f.repo.CreateConsultation(context.Background(), &Consultation{
		Type: TypeDirectConnect, Status: StatusMatched,
		CustomerID: f.customer.ID, VetID: &vetID, PetID: f.pet.ID,
	})
	require.NoError(t, err)

	_, err = f.svc.Join(context.Background(), created.ID, f.customer.ID, RoleCustomer)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	joined, err := f.svc.Join(context.Background(), created.ID, vetID, RoleVet)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, joined.Consultation.Status)
}

func TestLifecycleDurationRecorded(t *testing.T) {
	f := newServiceFixture(t)
	scheduledAt := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	c := f.bookScheduled(t, scheduledAt)

	f.clk.Set(scheduledAt)
	joined, err := f.svc.Join(context.Background(), c.ID, f.vet.ID, RoleVet)
	require.NoError(t, err)
	require.NotNil(t, joined.Consultation.RoomName)

	endedAt := scheduledAt.Add(32 * time.Minute)
	f.clk.Set(endedAt)
	require.NoError(t, f.svc.HandleMeetingEnded(context.Background(), *joined.Consultation.RoomName, endedAt))

	final, err := f.repo.GetConsultationByID(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, final.Status)
	require.NotNil(t, final.DurationMinutes)
	assert.Equal(t, 32, *final.DurationMinutes)

	// A follow-up thread opened for the customer.
	thread, err := f.repo.GetActiveThreadForConsultation(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, endedAt.Add(72*time.Hour), thread.ExpiresAt)
	assert.True(t, f.notifier.sentTo(f.customer.ID, NotifyConsultCompleted))

	// Redelivered end event is a no-op.
	require.NoError(t, f.svc.HandleMeetingEnded(context.Background(), *joined.Consultation.RoomName, endedAt.Add(time.Minute)))
	again, err := f.repo.GetConsultationByID(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, 32, *again.DurationMinutes)
}

func TestCancel(t *testing.T) {
	f := newServiceFixture(t)
	scheduledAt := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	c := f.bookScheduled(t, scheduledAt)

	updated, err := f.svc.Cancel(context.Background(), c.ID, f.customer.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, updated.Status)
	assert.True(t, f.notifier.sentTo(f.vet.ID, NotifyConsultCancelled))
}

func TestCancelRejectedOnceLive(t *testing.T) {
	f := newServiceFixture(t)
	scheduledAt := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	c := f.bookScheduled(t, scheduledAt)

	f.clk.Set(scheduledAt)
	_, err := f.svc.Join(context.Background(), c.ID, f.vet.ID, RoleVet)
	require.NoError(t, err)

	_, err = f.svc.Cancel(context.Background(), c.ID, f.customer.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCancelByNonOwner(t *testing.T) {
	f := newServiceFixture(t)
	c := f.bookScheduled(t, time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC))
	other := f.repo.addCustomer("eve")

	_, err := f.svc.Cancel(context.Background(), c.ID, other.ID)
	assert.ErrorIs(t, err, ErrNotConsultationOwner)
}

func TestExtendOnce(t *testing.T) {
	f := newServiceFixture(t)
	scheduledAt := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	c := f.bookScheduled(t, scheduledAt)

	f.clk.Set(scheduledAt)
	joined, err := f.svc.Join(context.Background(), c.ID, f.vet.ID, RoleVet)
	require.NoError(t, err)

	updated, err := f.svc.Extend(context.Background(), c.ID, f.vet.ID)
	require.NoError(t, err)
	assert.True(t, updated.WasExtended)
	assert.Equal(t, []string{*joined.Consultation.RoomName}, f.videoAPI.extended)

	_, err = f.svc.Extend(context.Background(), c.ID, f.vet.ID)
	assert.ErrorIs(t, err, ErrAlreadyExtended)
}

func TestExtendRequiresLiveSession(t *testing.T) {
	f := newServiceFixture(t)
	c := f.bookScheduled(t, time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC))

	_, err := f.svc.Extend(context.Background(), c.ID, f.vet.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCreateFollowUp(t *testing.T) {
	f := newServiceFixture(t)
	scheduledAt := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	c := f.bookScheduled(t, scheduledAt)

	f.clk.Set(scheduledAt)
	joined, err := f.svc.Join(context.Background(), c.ID, f.vet.ID, RoleVet)
	require.NoError(t, err)
	endedAt := scheduledAt.Add(30 * time.Minute)
	f.clk.Set(endedAt)
	require.NoError(t, f.svc.HandleMeetingEnded(context.Background(), *joined.Consultation.RoomName, endedAt))

	follow, err := f.svc.CreateFollowUp(context.Background(), c.ID, f.customer.ID)
	require.NoError(t, err)
	assert.Equal(t, TypeFollowUp, follow.Type)
	assert.Equal(t, StatusMatched, follow.Status)
	assert.True(t, follow.IsFree)
	require.NotNil(t, follow.VetID)
	assert.Equal(t, f.vet.ID, *follow.VetID)
	require.NotNil(t, follow.ParentConsultationID)
	assert.Equal(t, c.ID, *follow.ParentConsultationID)
	assert.True(t, f.notifier.sentTo(f.vet.ID, NotifyFollowUpRequested))

	// Past the thread expiry the offer is gone.
	f.clk.Set(endedAt.Add(72*time.Hour + time.Minute))
	_, err = f.svc.CreateFollowUp(context.Background(), c.ID, f.customer.ID)
	assert.ErrorIs(t, err, ErrFollowUpUnavailable)
}

func TestCreateFollowUpRequiresCompletedParent(t *testing.T) {
	f := newServiceFixture(t)
	c := f.bookScheduled(t, time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC))

	_, err := f.svc.CreateFollowUp(context.Background(), c.ID, f.customer.ID)
	assert.ErrorIs(t, err, ErrFollowUpUnavailable)
}

func TestFlagWithdrawWindow(t *testing.T) {
	f := newServiceFixture(t)
	vetID := f.vet.ID
	created, err := f.repo.CreateConsultation(context.Background(), &Consultation{
		Type: TypeDirectConnect, Status: StatusCompleted,
		CustomerID: f.customer.ID, VetID: &vetID, PetID: f.pet.ID,
	})
	require.NoError(t, err)

	flag, err := f.svc.FlagConsultation(context.Background(), created.ID, vetID, "aggressive behavior")
	require.NoError(t, err)
	assert.Equal(t, FlagPending, flag.Status)

	other := f.repo.addVet("dr. sim", true, true)
	assert.ErrorIs(t, f.svc.WithdrawFlag(context.Background(), flag.ID, other.ID), ErrNotFlagAuthor)

	f.clk.Advance(23 * time.Hour)
	require.NoError(t, f.svc.WithdrawFlag(context.Background(), flag.ID, vetID))

	// A second withdraw finds no pending flag.
	assert.ErrorIs(t, f.svc.WithdrawFlag(context.Background(), flag.ID, vetID), ErrStateConflict)
}

func TestFlagWithdrawClosedAfter24h(t *testing.T) {
	f := newServiceFixture(t)
	vetID := f.vet.ID
	created, err := f.repo.CreateConsultation(context.Background(), &Consultation{
		Type: TypeDirectConnect, Status: StatusCompleted,
		CustomerID: f.customer.ID, VetID: &vetID, PetID: f.pet.ID,
	})
	require.NoError(t, err)

	flag, err := f.svc.FlagConsultation(context.Background(), created.ID, vetID, "no-show")
	require.NoError(t, err)

	f.clk.Advance(24 * time.Hour)
	assert.ErrorIs(t, f.svc.WithdrawFlag(context.Background(), flag.ID, vetID), ErrFlagWindowClosed)
}

func TestHandleRecordingReady(t *testing.T) {
	f := newServiceFixture(t)
	scheduledAt := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	c := f.bookScheduled(t, scheduledAt)

	f.clk.Set(scheduledAt)
	joined, err := f.svc.Join(context.Background(), c.ID, f.vet.ID, RoleVet)
	require.NoError(t, err)
	room := *joined.Consultation.RoomName

	require.NoError(t, f.svc.HandleRecordingReady(context.Background(), room, "rec-1", "https://rec.test/1"))
	require.NoError(t, f.svc.HandleRecordingReady(context.Background(), room, "rec-1", "https://rec.test/1"))

	final, err := f.repo.GetConsultationByID(context.Background(), c.ID)
	require.NoError(t, err)
	require.NotNil(t, final.RecordingURL)
	assert.Equal(t, "https://rec.test/1", *final.RecordingURL)
}
