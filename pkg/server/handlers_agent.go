package server

import (
	"net/http"

	"github.com/lks21c/hdsp-agent/pkg/orchestrator"
	"github.com/lks21c/hdsp-agent/pkg/plan"
	"github.com/lks21c/hdsp-agent/pkg/validator"
	"github.com/lks21c/hdsp-agent/pkg/verifier"
)

type planRequest struct {
	Request         string               `json:"request"`
	SessionID       string               `json:"sessionId,omitempty"`
	NotebookContext plan.NotebookContext `json:"notebookContext"`
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if !decodeBody(w, r, &req) {
		return
	}

	s.mu.RLock()
	orch := s.orch
	s.mu.RUnlock()

	result, err := orch.PlanForSession(r.Context(), req.SessionID, req.Request, req.NotebookContext)
	s.metrics.ObserveLLMCall("plan", err)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type refineRequest struct {
	Step         plan.Step      `json:"step"`
	Error        plan.ErrorInfo `json:"error"`
	Attempt      int            `json:"attempt"`
	PreviousCode string         `json:"previousCode,omitempty"`
}

func (s *Server) handleRefine(w http.ResponseWriter, r *http.Request) {
	var req refineRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Attempt < 1 {
		req.Attempt = 1
	}

	s.mu.RLock()
	orch := s.orch
	s.mu.RUnlock()

	result, err := orch.Refine(r.Context(), req.Step, req.Error, req.Attempt, req.PreviousCode)
	s.metrics.ObserveLLMCall("refine", err)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleReplan(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.ReplanRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Error.Type == "" && req.Error.Message == "" {
		writeError(w, http.StatusBadRequest, "error information is required")
		return
	}

	s.mu.RLock()
	orch := s.orch
	s.mu.RUnlock()

	result, err := orch.Replan(r.Context(), req)
	s.metrics.ObserveLLMCall("replan", err)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type verifyStateRequest struct {
	Result            verifier.ExecutionResult `json:"result"`
	Expectations      verifier.Expectations    `json:"expectations"`
	PreviousVariables []string                 `json:"previousVariables,omitempty"`
	CurrentVariables  []string                 `json:"currentVariables,omitempty"`
}

func (s *Server) handleVerifyState(w http.ResponseWriter, r *http.Request) {
	var req verifyStateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	s.mu.RLock()
	orch := s.orch
	s.mu.RUnlock()

	result := orch.VerifyState(req.Result, req.Expectations, req.PreviousVariables, req.CurrentVariables)
	writeJSON(w, http.StatusOK, map[string]any{
		"verification": result,
		"trend":        orch.Verifier().ConfidenceTrend(),
	})
}

type reportExecutionRequest struct {
	StepNumber int `json:"stepNumber"`
	orchestrator.ExecutionReport
}

// handleReportExecution accepts the executor's per-step report, runs
// verification, and acknowledges with the recommendation the client should
// act on.
func (s *Server) handleReportExecution(w http.ResponseWriter, r *http.Request) {
	var req reportExecutionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	s.mu.RLock()
	orch := s.orch
	s.mu.RUnlock()

	verification := orch.VerifyState(req.Result, req.Expectations, req.PreviousVariables, req.CurrentVariables)
	writeJSON(w, http.StatusOK, map[string]any{
		"acknowledged": true,
		"stepNumber":   req.StepNumber,
		"verification": verification,
	})
}

type validateRequest struct {
	Code            string               `json:"code"`
	NotebookContext plan.NotebookContext `json:"notebookContext"`
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	v := validator.New(&validator.NotebookContext{
		DefinedVariables:  req.NotebookContext.DefinedVariables,
		ImportedLibraries: req.NotebookContext.ImportedLibraries,
	})
	writeJSON(w, http.StatusOK, v.FullValidation(req.Code))
}
