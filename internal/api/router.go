package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"

	"github.com/rpattn/formkeep/internal/export"
	"github.com/rpattn/formkeep/internal/middleware"
)

// NewRouter wires the JSON API under /api/v1 and wraps it in CORS handling for allowedOrigins.
func NewRouter(h *Handler, exporter *export.Service, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RecoveryMiddleware)
	r.Use(middleware.LoggingMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.DataLoaderMiddleware(h.store))

		// History
		r.Get("/history", h.ListHistory)
		r.Method(http.MethodGet, "/history/export", export.NewHTTPHandler(exporter))

		// Stored documents
		r.Get("/forms/{key}", h.GetForm)
		r.Delete("/forms/{key}", h.DeleteForm)

		// Autosave sessions
		r.Route("/sessions/{formType}", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Delete("/", h.DiscardDraft)
			r.Put("/payload", h.PutPayload)
			r.Post("/draft", h.SaveDraft)
			r.Post("/submit", h.Submit)
		})
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
	})
	return corsHandler.Handler(r)
}
