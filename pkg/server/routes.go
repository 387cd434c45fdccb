package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(s.metrics.middleware)
	r.Use(loggingMiddleware)
	r.Use(s.corsMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.metrics.Handler().ServeHTTP)

	r.Get("/config", s.handleGetConfig)
	r.Post("/config", s.handlePostConfig)
	r.Get("/config/schema", s.handleGetSchema)

	r.Route("/agent", func(r chi.Router) {
		r.Post("/plan", s.handlePlan)
		r.Post("/refine", s.handleRefine)
		r.Post("/replan", s.handleReplan)
		r.Post("/verify-state", s.handleVerifyState)
		r.Post("/report-execution", s.handleReportExecution)
		r.Post("/validate", s.handleValidate)
	})

	r.Route("/chat", func(r chi.Router) {
		r.Post("/message", s.handleChatMessage)
		r.Post("/stream", s.handleChatStream)
	})

	r.Route("/keys", func(r chi.Router) {
		r.Get("/", s.handleListKeys)
		r.Post("/", s.handleAddKey)
		r.Post("/test", s.handleTestKeys)
		r.Delete("/{id}", s.handleDeleteKey)
		r.Post("/{id}/toggle", s.handleToggleKey)
	})

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", s.handleListSessions)
		r.Delete("/", s.handleClearSessions)
		r.Delete("/{id}", s.handleDeleteSession)
	})

	return r
}

// loggingMiddleware logs requests without wrapping the ResponseWriter, which
// would break http.Flusher on the SSE paths.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// corsMiddleware adds CORS headers. An empty allowlist is permissive, which
// suits local notebook extensions.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed := s.Config().Server.AllowedOrigins

		origin := r.Header.Get("Origin")
		switch {
		case len(allowed) == 0:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "":
			for _, a := range allowed {
				if a == "*" || a == origin {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
