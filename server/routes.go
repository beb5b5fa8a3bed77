package server

import (
	"github.com/go-chi/chi/v5"
)

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	r := s.router

	r.Get("/healthz", s.health)

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", s.listSessions)
		r.Post("/turns", s.submitTurn) // Streaming response

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Delete("/", s.deleteSession)
			r.Post("/turns", s.submitTurn) // Streaming response
			r.Get("/events", s.sessionEvents)
		})
	})

	r.Post("/turns/{turnID}/cancel", s.cancelTurn)
}
