package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/vetlink/teleconsult/internal/clock"
	"github.com/vetlink/teleconsult/internal/consultation"
	"github.com/vetlink/teleconsult/internal/redisclient"
	"github.com/vetlink/teleconsult/internal/video"
)

const (
	webhookEventMeetingEnded   = "meeting.ended"
	webhookEventRecordingReady = "recording.ready"

	webhookDedupWindow = 24 * time.Hour
	webhookMaxBody     = 1 << 20
)

type videoWebhookEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Payload struct {
		RoomName     string `json:"room_name"`
		EndedAt      int64  `json:"ended_at"`
		RecordingID  string `json:"recording_id"`
		RecordingURL string `json:"recording_url"`
	} `json:"payload"`
}

// videoWebhookHandler ingests provider callbacks. Authenticity comes from the
// HMAC signature, freshness from the timestamp header, and the redis dedup is
// a fast path only: both downstream handlers tolerate redelivery.
func videoWebhookHandler(svc *consultation.Service, guard redisclient.OverlapGuard, secret string, clk clock.Clock, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, webhookMaxBody))
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable_body", "could not read request body")
			return
		}

		timestamp := r.Header.Get("X-Webhook-Timestamp")
		signature := r.Header.Get("X-Webhook-Signature")
		if !video.WebhookTimestampFresh(timestamp, clk.Now()) {
			writeError(w, http.StatusUnauthorized, "stale_timestamp", "webhook timestamp missing or outside the accepted window")
			return
		}
		if !video.VerifyWebhookSignature(secret, timestamp, body, signature) {
			writeError(w, http.StatusUnauthorized, "invalid_signature", "webhook signature mismatch")
			return
		}

		var event videoWebhookEvent
		if err := json.Unmarshal(body, &event); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		if event.ID != "" {
			fresh, err := guard.ClaimEvent(r.Context(), event.ID, webhookDedupWindow)
			if err != nil {
				// Dedup is advisory; process the event anyway.
				logger.Warn("webhook dedup unavailable", zap.Error(err))
			} else if !fresh {
				writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
				return
			}
		}

		switch event.Type {
		case webhookEventMeetingEnded:
			endedAt := clk.Now()
			if event.Payload.EndedAt > 0 {
				endedAt = time.Unix(event.Payload.EndedAt, 0).UTC()
			}
			err = svc.HandleMeetingEnded(r.Context(), event.Payload.RoomName, endedAt)
		case webhookEventRecordingReady:
			err = svc.HandleRecordingReady(r.Context(), event.Payload.RoomName, event.Payload.RecordingID, event.Payload.RecordingURL)
		default:
			logger.Info("ignoring unhandled webhook event", zap.String("type", event.Type))
			writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}

		if err != nil {
			if errors.Is(err, consultation.ErrConsultationNotFound) {
				// Unknown room, likely a test event from the provider.
				writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
				return
			}
			logger.Error("handle video webhook",
				zap.String("type", event.Type),
				zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal_error", "event processing failed")
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": "processed"})
	}
}
