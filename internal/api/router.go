package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/noxfi/nox-indexer/internal/metrics"
)

// RequestTimeout bounds every non-streaming request.
const RequestTimeout = 30 * time.Second

// NewRouter builds the HTTP routes for svc. hub may be nil, in which case
// /ws is not mounted.
func NewRouter(svc *Service, hub *Hub) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors)

	r.Handle("/metrics", metrics.Handler())

	// Live feed; kept outside the request timeout.
	if hub != nil {
		r.Get("/ws", hub.HandleWS)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(RequestTimeout))

		r.Get("/health", svc.Health)

		r.Get("/positions/{id}", svc.GetPosition)
		r.Get("/positions/open/{address}", svc.GetOpenPositions)
		r.Get("/positions/history/{address}", svc.GetHistory)

		r.Route("/private", func(r chi.Router) {
			r.Get("/notes/unspent", svc.GetUnspentNotes)

			r.Group(func(r chi.Router) {
				r.Use(svc.RequireCapability)
				r.Get("/positions/open", svc.PrivateOpenPositions)
				r.Get("/positions/history", svc.PrivateHistory)
				r.Get("/metadata", svc.GetMetadata)
			})

			// Size is checked before the capability.
			r.With(LimitMetadata, svc.RequireCapability).Post("/metadata", svc.SetMetadata)
		})
	})

	return r
}
