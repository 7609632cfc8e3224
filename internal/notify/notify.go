package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Notification is a fire-and-forget side effect record consumed by the
// delivery pipeline. The core only writes rows; delivery is external.
type Notification struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Type      string
	Title     string
	Body      string
	Data      []byte
	CreatedAt time.Time
}

type Store interface {
	Insert(ctx context.Context, n Notification) error
}

type Mailer interface {
	Send(to, subject, htmlBody string) error
}

// Service records notifications and sends email. Both paths are
// fire-and-forget: failures are logged and never propagate to the
// transition that triggered them.
type Service struct {
	store  Store
	mailer Mailer
	logger *zap.Logger
}

func NewService(store Store, mailer Mailer, logger *zap.Logger) *Service {
	return &Service{
		store:  store,
		mailer: mailer,
		logger: logger,
	}
}

func (s *Service) Notify(ctx context.Context, userID uuid.UUID, typ, title, body string, data map[string]any) {
	var payload []byte
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			s.logger.Warn("marshal notification payload",
				zap.String("type", typ),
				zap.Error(err))
		} else {
			payload = b
		}
	}

	n := Notification{
		ID:        uuid.New(),
		UserID:    userID,
		Type:      typ,
		Title:     title,
		Body:      body,
		Data:      payload,
		CreatedAt: time.Now(),
	}

	if err := s.store.Insert(ctx, n); err != nil {
		s.logger.Warn("insert notification",
			zap.String("type", typ),
			zap.String("user_id", userID.String()),
			zap.Error(err))
	}
}

func (s *Service) Email(ctx context.Context, to, subject, htmlBody string) {
	if to == "" {
		return
	}
	if err := s.mailer.Send(to, subject, htmlBody); err != nil {
		s.logger.Warn("send email",
			zap.String("to", to),
			zap.String("subject", subject),
			zap.Error(err))
	}
}
