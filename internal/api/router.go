package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(middleware.RequestSize(maxRequestBodySize))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/device", s.handleDevice)

		r.Route("/readings", func(r chi.Router) {
			r.Get("/", s.handleReadings)
			r.Get("/{sensor}", s.handleReading)
			r.Get("/{sensor}/history", s.handleReadingHistory)
		})

		r.Route("/raw", func(r chi.Router) {
			r.Post("/read", s.handleRawRead)
			r.Post("/write", s.handleRawWrite)
		})

		r.Get("/commands", s.handleCommands)
		r.Post("/poll", s.handlePoll)
	})

	return r
}
