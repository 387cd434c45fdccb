package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/invopop/jsonschema"

	"github.com/lks21c/hdsp-agent/pkg/config"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   s.version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Config().Masked())
}

// handlePostConfig replaces the configuration. Masked secret placeholders in
// the submitted document are substituted with the stored originals, so a
// round-trip of GET /config does not wipe credentials.
func (s *Server) handlePostConfig(w http.ResponseWriter, r *http.Request) {
	incoming := &config.Config{}
	if !decodeBody(w, r, incoming) {
		return
	}

	config.MergeMasked(incoming, s.Config())
	incoming.SetDefaults()
	if err := incoming.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation failed: "+err.Error())
		return
	}

	if err := s.persistAndApply(incoming); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, incoming.Masked())
}

// persistAndApply saves the config when a path is configured, then swaps it
// into the running server.
func (s *Server) persistAndApply(cfg *config.Config) error {
	if s.configPath != "" {
		if err := config.Save(cfg, s.configPath); err != nil {
			return err
		}
	}
	return s.ApplyConfig(cfg)
}

// handleGetSchema serves the JSON Schema of the configuration for editor UIs.
func (s *Server) handleGetSchema(w http.ResponseWriter, r *http.Request) {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	schema := reflector.Reflect(&config.Config{})
	schema.Title = "HDSP Agent Configuration Schema"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	w.Header().Set("Cache-Control", "no-cache")
	writeJSON(w, http.StatusOK, schema)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.sessions.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"total":    len(sessions),
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.sessions.Delete(id) {
		writeError(w, http.StatusNotFound, "session not found: "+id)
		return
	}
	slog.Info("Session deleted", "session_id", id)
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

func (s *Server) handleClearSessions(w http.ResponseWriter, r *http.Request) {
	count := s.sessions.ClearAll()
	slog.Info("All sessions cleared", "count", count)
	writeJSON(w, http.StatusOK, map[string]any{"cleared": count})
}
