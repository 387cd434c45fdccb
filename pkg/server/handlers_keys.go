package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lks21c/hdsp-agent/pkg/config"
	"github.com/lks21c/hdsp-agent/pkg/llms"
)

// keyView is the wire representation of a pool entry. The key itself never
// leaves the server unmasked.
type keyView struct {
	ID        string `json:"id"`
	MaskedKey string `json:"maskedKey"`
	Enabled   bool   `json:"enabled"`
}

func keyViews(keys []config.GeminiKey) []keyView {
	views := make([]keyView, len(keys))
	for i, k := range keys {
		views[i] = keyView{ID: k.ID, MaskedKey: k.MaskedKey(), Enabled: k.Enabled}
	}
	return views
}

func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	keys := s.Config().LLM.GeminiKeys
	writeJSON(w, http.StatusOK, map[string]any{
		"keys":  keyViews(keys),
		"total": len(keys),
	})
}

type addKeyRequest struct {
	ID  string `json:"id,omitempty"`
	Key string `json:"key"`
}

// handleAddKey validates a key against the live API before admitting it to
// the rotation pool.
func (s *Server) handleAddKey(w http.ResponseWriter, r *http.Request) {
	var req addKeyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Key = strings.TrimSpace(req.Key)
	if req.Key == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return
	}

	current := s.Config()
	if len(current.LLM.GeminiKeys) >= config.MaxGeminiKeys {
		writeError(w, http.StatusBadRequest, "key pool is full")
		return
	}
	for _, k := range current.LLM.GeminiKeys {
		if k.Key == req.Key {
			writeError(w, http.StatusBadRequest, "key already registered")
			return
		}
	}

	status, err := llms.ValidateGeminiKey(r.Context(), current.LLM.Endpoint, req.Key)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	if status != llms.KeyStatusValid {
		writeError(w, http.StatusBadRequest, "key validation failed: "+string(status))
		return
	}

	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}

	next := cloneConfig(current)
	next.LLM.GeminiKeys = append(next.LLM.GeminiKeys, config.GeminiKey{ID: id, Key: req.Key, Enabled: true})
	if err := s.persistAndApply(next); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, keyView{ID: id, MaskedKey: config.MaskSecret(req.Key), Enabled: true})
}

func (s *Server) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	current := s.Config()

	next := cloneConfig(current)
	keys := next.LLM.GeminiKeys[:0]
	found := false
	for _, k := range next.LLM.GeminiKeys {
		if k.ID == id {
			found = true
			continue
		}
		keys = append(keys, k)
	}
	if !found {
		writeError(w, http.StatusNotFound, "key not found: "+id)
		return
	}
	next.LLM.GeminiKeys = keys

	if err := s.persistAndApply(next); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

func (s *Server) handleToggleKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	current := s.Config()

	next := cloneConfig(current)
	var toggled *config.GeminiKey
	for i := range next.LLM.GeminiKeys {
		if next.LLM.GeminiKeys[i].ID == id {
			next.LLM.GeminiKeys[i].Enabled = !next.LLM.GeminiKeys[i].Enabled
			toggled = &next.LLM.GeminiKeys[i]
			break
		}
	}
	if toggled == nil {
		writeError(w, http.StatusNotFound, "key not found: "+id)
		return
	}

	if err := s.persistAndApply(next); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, keyView{ID: toggled.ID, MaskedKey: toggled.MaskedKey(), Enabled: toggled.Enabled})
}

type keyTestResult struct {
	ID        string `json:"id"`
	MaskedKey string `json:"maskedKey"`
	Status    string `json:"status"`
}

// handleTestKeys probes every pooled key in parallel against the live API.
func (s *Server) handleTestKeys(w http.ResponseWriter, r *http.Request) {
	current := s.Config()
	keys := current.LLM.GeminiKeys
	endpoint := current.LLM.Endpoint

	results := make([]keyTestResult, len(keys))
	g, ctx := errgroup.WithContext(r.Context())
	g.SetLimit(4)

	for i, k := range keys {
		i, k := i, k
		g.Go(func() error {
			status, err := llms.ValidateGeminiKey(ctx, endpoint, k.Key)
			if err != nil {
				status = llms.KeyStatusError
			}
			results[i] = keyTestResult{ID: k.ID, MaskedKey: k.MaskedKey(), Status: string(status)}
			return nil
		})
	}
	_ = g.Wait()

	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"total":   len(results),
	})
}

// cloneConfig copies the config deeply enough for key-pool edits.
func cloneConfig(cfg *config.Config) *config.Config {
	next := *cfg
	next.LLM.GeminiKeys = append([]config.GeminiKey(nil), cfg.LLM.GeminiKeys...)
	return &next
}
