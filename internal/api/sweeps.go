package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/vetlink/teleconsult/internal/sweep"
)

// runSweepHandler triggers a named reconciliation sweep on demand. The same
// sweeps run on the worker's cron; this endpoint exists for operators and for
// external schedulers that prefer HTTP.
func runSweepHandler(sweeper *sweep.Sweeper, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")

		changed, err := sweeper.Run(r.Context(), name)
		if err != nil {
			if errors.Is(err, sweep.ErrUnknownSweep) {
				writeError(w, http.StatusNotFound, "unknown_sweep", err.Error())
				return
			}
			logger.Error("run sweep", zap.String("sweep", name), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		writeJSON(w, http.StatusOK, SweepResponse{Sweep: name, Changed: changed})
	}
}
