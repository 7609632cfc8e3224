package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vetlink/teleconsult/internal/availability"
	"github.com/vetlink/teleconsult/internal/clock"
	"github.com/vetlink/teleconsult/internal/consultation"
	"github.com/vetlink/teleconsult/internal/matching"
	"github.com/vetlink/teleconsult/internal/redisclient"
	"github.com/vetlink/teleconsult/internal/sweep"
)

type RouterDeps struct {
	Service     *consultation.Service
	Engine      *matching.Engine
	Sweeper     *sweep.Sweeper
	Resolver    *availability.Resolver
	Guard       redisclient.OverlapGuard
	Clock       clock.Clock
	Pool        *pgxpool.Pool
	Redis       *redis.Client
	VideoSecret string
	SweepSecret string
	Logger      *zap.Logger
}

func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(deps.Logger))

	health := &healthChecker{pool: deps.Pool, redis: deps.Redis}
	r.Get("/healthz", health.livenessHandler)
	r.Get("/readyz", health.readinessHandler)

	// Provider callbacks authenticate with an HMAC signature, not a caller
	// identity.
	r.Post("/webhooks/video", videoWebhookHandler(deps.Service, deps.Guard, deps.VideoSecret, deps.Clock, deps.Logger))

	r.Route("/internal/sweeps", func(r chi.Router) {
		r.Use(SharedSecretMiddleware(deps.SweepSecret))
		r.Post("/{name}", runSweepHandler(deps.Sweeper, deps.Logger))
	})

	r.Group(func(r chi.Router) {
		r.Use(IdentityMiddleware)

		r.Get("/availability/slots", listSlotsHandler(deps.Resolver))

		r.Route("/consultations", func(r chi.Router) {
			r.Post("/", createConsultationHandler(deps.Service, deps.Engine, deps.Logger))
			r.Post("/book", bookConsultationHandler(deps.Service))
			r.Get("/", listConsultationsHandler(deps.Service))

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", getConsultationHandler(deps.Service))
				r.Post("/payment", confirmPaymentHandler(deps.Service))
				r.Post("/accept", acceptConsultationHandler(deps.Service))
				r.Post("/join", joinConsultationHandler(deps.Service))
				r.Post("/cancel", cancelConsultationHandler(deps.Service))
				r.Post("/extend", extendConsultationHandler(deps.Service))
				r.Post("/follow-up", createFollowUpHandler(deps.Service))
				r.Post("/flags", createFlagHandler(deps.Service))
			})
		})

		r.Delete("/flags/{id}", withdrawFlagHandler(deps.Service))
	})

	return r
}
