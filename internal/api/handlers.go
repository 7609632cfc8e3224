package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vetlink/teleconsult/internal/availability"
	"github.com/vetlink/teleconsult/internal/consultation"
	"github.com/vetlink/teleconsult/internal/matching"
)

func createConsultationHandler(svc *consultation.Service, engine *matching.Engine, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, role := callerIdentity(r.Context())
		if role != consultation.RoleCustomer {
			writeError(w, http.StatusForbidden, "customer_only", "only customers may request consultations")
			return
		}

		var req CreateConsultationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		petID, err := uuid.Parse(req.PetID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_pet_id", "pet_id must be a valid UUID")
			return
		}

		created, err := svc.CreateDirectRequest(r.Context(), consultation.CreateDirectRequest{
			CustomerID:  userID,
			PetID:       petID,
			Concern:     req.Concern,
			Symptoms:    req.Symptoms,
			AmountCents: req.AmountCents,
			IsPriority:  req.IsPriority,
		})
		if err != nil {
			handleServiceError(w, err)
			return
		}

		// Matching runs inline; exhaustion is a valid outcome reflected in
		// the returned status, not a request failure.
		if _, err := engine.Match(r.Context(), created, nil); err != nil && !errors.Is(err, matching.ErrNoVetAvailable) {
			logger.Error("match after create",
				zap.String("consultation_id", created.ID.String()),
				zap.Error(err))
		}

		writeJSON(w, http.StatusCreated, toConsultationResponse(created))
	}
}

func bookConsultationHandler(svc *consultation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, role := callerIdentity(r.Context())
		if role != consultation.RoleCustomer {
			writeError(w, http.StatusForbidden, "customer_only", "only customers may book consultations")
			return
		}

		var req BookConsultationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		petID, err := uuid.Parse(req.PetID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_pet_id", "pet_id must be a valid UUID")
			return
		}

		scheduledAt, err := time.Parse(time.RFC3339, req.ScheduledAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_scheduled_at", "scheduled_at must be RFC 3339")
			return
		}

		result, err := svc.BookSlot(r.Context(), consultation.BookSlotRequest{
			CustomerID:  userID,
			PetID:       petID,
			ScheduledAt: scheduledAt,
			Concern:     req.Concern,
			Symptoms:    req.Symptoms,
			AmountCents: req.AmountCents,
		})
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, BookingResponse{
			Consultation: toConsultationResponse(result.Consultation),
			OrderID:      result.Order.ID,
			OrderStatus:  result.Order.Status,
		})
	}
}

func getConsultationHandler(svc *consultation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		c, err := svc.GetConsultation(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		userID, role := callerIdentity(r.Context())
		owner := role == consultation.RoleCustomer && c.CustomerID == userID
		assigned := role == consultation.RoleVet && c.VetID != nil && *c.VetID == userID
		if !owner && !assigned {
			writeError(w, http.StatusForbidden, "not_participant", "only the customer or assigned vet may view this consultation")
			return
		}

		writeJSON(w, http.StatusOK, toConsultationResponse(c))
	}
}

func listConsultationsHandler(svc *consultation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, role := callerIdentity(r.Context())
		if role != consultation.RoleCustomer {
			writeError(w, http.StatusForbidden, "customer_only", "listing is customer-scoped")
			return
		}

		list, err := svc.ListByCustomer(r.Context(), userID, queryInt(r, "limit", 20), queryInt(r, "offset", 0))
		if err != nil {
			handleServiceError(w, err)
			return
		}

		resp := make([]ConsultationResponse, 0, len(list))
		for i := range list {
			resp = append(resp, toConsultationResponse(&list[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func confirmPaymentHandler(svc *consultation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		var req ConfirmPaymentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if req.OrderID == "" {
			writeError(w, http.StatusBadRequest, "missing_order_id", "order_id is required")
			return
		}

		updated, err := svc.HandlePaymentSucceeded(r.Context(), id, req.OrderID, req.AmountCents)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toConsultationResponse(updated))
	}
}

func acceptConsultationHandler(svc *consultation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		userID, role := callerIdentity(r.Context())
		if role != consultation.RoleVet {
			writeError(w, http.StatusForbidden, "vet_only", "only vets may accept consultations")
			return
		}

		updated, err := svc.Accept(r.Context(), id, userID)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toConsultationResponse(updated))
	}
}

func joinConsultationHandler(svc *consultation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		userID, role := callerIdentity(r.Context())

		result, err := svc.Join(r.Context(), id, userID, role)
		if err != nil {
			var denied *consultation.JoinDeniedError
			if errors.As(err, &denied) {
				writeJSON(w, http.StatusForbidden, JoinDeniedResponse{
					Error:             "join_denied",
					Reason:            denied.Reason,
					MinutesUntilStart: denied.MinutesUntilStart,
				})
				return
			}
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, JoinResponse{
			Status:  string(result.Consultation.Status),
			RoomURL: result.RoomURL,
			Token:   result.Token,
		})
	}
}

func cancelConsultationHandler(svc *consultation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		userID, role := callerIdentity(r.Context())
		if role != consultation.RoleCustomer {
			writeError(w, http.StatusForbidden, "customer_only", "only the customer may cancel")
			return
		}

		updated, err := svc.Cancel(r.Context(), id, userID)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toConsultationResponse(updated))
	}
}

func extendConsultationHandler(svc *consultation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		userID, role := callerIdentity(r.Context())
		if role != consultation.RoleVet {
			writeError(w, http.StatusForbidden, "vet_only", "only the assigned vet may extend")
			return
		}

		updated, err := svc.Extend(r.Context(), id, userID)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toConsultationResponse(updated))
	}
}

func createFollowUpHandler(svc *consultation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		userID, role := callerIdentity(r.Context())
		if role != consultation.RoleCustomer {
			writeError(w, http.StatusForbidden, "customer_only", "only the customer may request a follow-up")
			return
		}

		created, err := svc.CreateFollowUp(r.Context(), id, userID)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toConsultationResponse(created))
	}
}

func createFlagHandler(svc *consultation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		userID, role := callerIdentity(r.Context())
		if role != consultation.RoleVet {
			writeError(w, http.StatusForbidden, "vet_only", "only the assigned vet may flag")
			return
		}

		var req FlagRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		flag, err := svc.FlagConsultation(r.Context(), id, userID, req.Reason)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, FlagResponse{
			ID:             flag.ID,
			ConsultationID: flag.ConsultationID,
			Status:         string(flag.Status),
			CreatedAt:      flag.CreatedAt,
		})
	}
}

func withdrawFlagHandler(svc *consultation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		userID, role := callerIdentity(r.Context())
		if role != consultation.RoleVet {
			writeError(w, http.StatusForbidden, "vet_only", "only the flag author may withdraw")
			return
		}

		if err := svc.WithdrawFlag(r.Context(), id, userID); err != nil {
			handleServiceError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func listSlotsHandler(resolver *availability.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var from, to time.Time
		if raw := r.URL.Query().Get("from"); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_from", "from must be RFC 3339")
				return
			}
			from = t
		}
		if raw := r.URL.Query().Get("to"); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_to", "to must be RFC 3339")
				return
			}
			to = t
		}

		days, err := resolver.Resolve(r.Context(), from, to)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		resp := SlotsResponse{Days: make([]DaySlotsResponse, 0, len(days))}
		for _, d := range days {
			resp.Days = append(resp.Days, DaySlotsResponse{
				Date:    d.Date.Format("2006-01-02"),
				Weekday: d.Weekday.String(),
				Slots:   d.Slots,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func parseIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, consultation.ErrConsultationNotFound),
		errors.Is(err, consultation.ErrCustomerNotFound),
		errors.Is(err, consultation.ErrVetNotFound),
		errors.Is(err, consultation.ErrPetNotFound),
		errors.Is(err, consultation.ErrFlagNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, consultation.ErrNotAssignedVet):
		writeError(w, http.StatusForbidden, "not_assigned_vet", err.Error())
	case errors.Is(err, consultation.ErrNotConsultationOwner):
		writeError(w, http.StatusForbidden, "not_owner", err.Error())
	case errors.Is(err, consultation.ErrNotFlagAuthor):
		writeError(w, http.StatusForbidden, "not_flag_author", err.Error())
	case errors.Is(err, consultation.ErrPetOwnership):
		writeError(w, http.StatusForbidden, "pet_ownership", err.Error())
	case errors.Is(err, consultation.ErrStateConflict):
		writeError(w, http.StatusConflict, "state_conflict", "the consultation was modified concurrently, retry")
	case errors.Is(err, consultation.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, consultation.ErrAlreadyExtended):
		writeError(w, http.StatusConflict, "already_extended", err.Error())
	case errors.Is(err, consultation.ErrFlagWindowClosed):
		writeError(w, http.StatusConflict, "flag_window_closed", err.Error())
	case errors.Is(err, consultation.ErrFollowUpUnavailable):
		writeError(w, http.StatusConflict, "follow_up_unavailable", err.Error())
	case errors.Is(err, availability.ErrNoFreeVet),
		errors.Is(err, consultation.ErrSlotTaken):
		writeError(w, http.StatusConflict, "slot_unavailable", err.Error())
	case errors.Is(err, consultation.ErrSlotOutOfRange):
		writeError(w, http.StatusBadRequest, "slot_out_of_range", err.Error())
	case errors.Is(err, consultation.ErrAmountMismatch):
		writeError(w, http.StatusBadRequest, "amount_mismatch", err.Error())
	case errors.Is(err, consultation.ErrPaymentNotConfirmed):
		writeError(w, http.StatusPaymentRequired, "payment_not_confirmed", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
