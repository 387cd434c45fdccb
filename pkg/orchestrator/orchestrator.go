// Package orchestrator drives the plan-and-execute state machine: plan
// generation, per-step validation and verification, and error recovery
// through refinement and replanning.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lks21c/hdsp-agent/pkg/classifier"
	"github.com/lks21c/hdsp-agent/pkg/config"
	"github.com/lks21c/hdsp-agent/pkg/jsonx"
	"github.com/lks21c/hdsp-agent/pkg/knowledge"
	"github.com/lks21c/hdsp-agent/pkg/llms"
	"github.com/lks21c/hdsp-agent/pkg/memory"
	"github.com/lks21c/hdsp-agent/pkg/plan"
	"github.com/lks21c/hdsp-agent/pkg/prompts"
	"github.com/lks21c/hdsp-agent/pkg/session"
	"github.com/lks21c/hdsp-agent/pkg/verifier"
)

var (
	ErrEmptyRequest  = errors.New("request is required")
	ErrPlanParse     = errors.New("failed to parse plan from model response")
	ErrRefineParse   = errors.New("failed to generate refined code")
	ErrRunInProgress = errors.New("a run is already in progress for this session")
)

// Orchestrator composes the LLM gateway, classifier, validator, verifier,
// knowledge base, and session store into the agent's control loop.
type Orchestrator struct {
	cfg       *config.Config
	provider  llms.Provider
	clf       *classifier.Classifier
	verifier  *verifier.Verifier
	kb        *knowledge.Base
	detector  *knowledge.Detector
	sessions  *session.Store
	condenser *memory.Condenser
	packages  func(ctx context.Context) []string
	logger    *slog.Logger

	mu     sync.Mutex
	active map[string]bool
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithSessionStore wires conversational persistence.
func WithSessionStore(store *session.Store) Option {
	return func(o *Orchestrator) { o.sessions = store }
}

// WithCondenser wires context compression for session history.
func WithCondenser(c *memory.Condenser) Option {
	return func(o *Orchestrator) { o.condenser = c }
}

// WithKnowledgeBase wires library guide injection.
func WithKnowledgeBase(kb *knowledge.Base) Option {
	return func(o *Orchestrator) { o.kb = kb }
}

// WithInstalledPackages overrides package discovery, mainly for tests.
func WithInstalledPackages(fn func(ctx context.Context) []string) Option {
	return func(o *Orchestrator) { o.packages = fn }
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// New creates an orchestrator over a configured LLM provider.
func New(cfg *config.Config, provider llms.Provider, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		provider: provider,
		clf:      classifier.New(&cfg.Agent),
		verifier: verifier.New(),
		detector: knowledge.NewDetector(),
		packages: InstalledPackages,
		logger:   slog.Default(),
		active:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Verifier exposes the state verifier for the HTTP surface.
func (o *Orchestrator) Verifier() *verifier.Verifier {
	return o.verifier
}

// PlanResult is the outcome of plan generation.
type PlanResult struct {
	Plan              plan.Plan `json:"plan"`
	Reasoning         string    `json:"reasoning"`
	DetectedLibraries []string  `json:"detectedLibraries,omitempty"`
}

// Plan generates an execution plan for a natural language request.
func (o *Orchestrator) Plan(ctx context.Context, request string, nbCtx plan.NotebookContext) (*PlanResult, error) {
	return o.plan(ctx, request, nbCtx, "")
}

// PlanForSession generates a plan with the session's condensed conversation
// history as context.
func (o *Orchestrator) PlanForSession(ctx context.Context, sessionID, request string, nbCtx plan.NotebookContext) (*PlanResult, error) {
	return o.plan(ctx, request, nbCtx, o.sessionContext(sessionID))
}

func (o *Orchestrator) plan(ctx context.Context, request string, nbCtx plan.NotebookContext, contextText string) (*PlanResult, error) {
	if strings.TrimSpace(request) == "" {
		return nil, ErrEmptyRequest
	}

	detected := o.detectLibraries(ctx, request, nbCtx.ImportedLibraries)
	o.logger.Info("Generating plan", "request_len", len(request), "detected_libraries", detected)

	section := ""
	if o.kb != nil {
		section = o.kb.FormatKnowledgeSection(detected)
	}

	prompt := prompts.FormatPlanPrompt(request, nbCtx, o.packages(ctx), section)

	response, err := o.provider.Generate(ctx, prompt, contextText)
	if err != nil {
		return nil, fmt.Errorf("plan generation failed: %w", err)
	}

	doc, ok := jsonx.Salvage(response)
	if !ok || doc["plan"] == nil {
		return nil, fmt.Errorf("%w: %s", ErrPlanParse, preview(response, 200))
	}
	doc = jsonx.SanitizeToolCalls(doc)

	var parsed struct {
		Reasoning string    `json:"reasoning"`
		Plan      plan.Plan `json:"plan"`
	}
	if err := remarshal(doc, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlanParse, err)
	}
	normalizePlan(&parsed.Plan)
	if len(parsed.Plan.Steps) == 0 {
		return nil, fmt.Errorf("%w: plan has no steps", ErrPlanParse)
	}

	o.logger.Info("Plan generated", "steps", parsed.Plan.TotalSteps)
	return &PlanResult{
		Plan:              parsed.Plan,
		Reasoning:         parsed.Reasoning,
		DetectedLibraries: detected,
	}, nil
}

// RefineResult carries the corrected tool calls after a failure.
type RefineResult struct {
	ToolCalls []plan.ToolCall `json:"toolCalls"`
	Reasoning string          `json:"reasoning"`
}

// Refine asks the model for corrected code after an execution error.
func (o *Orchestrator) Refine(ctx context.Context, step plan.Step, errInfo plan.ErrorInfo, attempt int, previousCode string) (*RefineResult, error) {
	if previousCode == "" {
		previousCode = step.FirstCode()
	}

	prompt := prompts.FormatRefinePrompt(previousCode, errInfo, attempt, o.cfg.Agent.MaxRefineAttempts, o.packages(ctx), nil)

	response, err := o.provider.Generate(ctx, prompt, "")
	if err != nil {
		return nil, fmt.Errorf("refine failed: %w", err)
	}

	doc, ok := jsonx.Salvage(response)
	if !ok || doc["toolCalls"] == nil {
		// The model sometimes answers with bare code instead of the JSON
		// envelope.
		code, found := prompts.ExtractCode(response)
		if !found {
			return nil, ErrRefineParse
		}
		doc = map[string]any{
			"toolCalls": []any{
				map[string]any{
					"tool":       plan.ToolJupyterCell,
					"parameters": map[string]any{"code": code},
				},
			},
			"reasoning": "",
		}
	}
	doc = jsonx.SanitizeToolCalls(doc)

	var parsed RefineResult
	if err := remarshal(doc, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRefineParse, err)
	}
	if len(parsed.ToolCalls) == 0 {
		return nil, ErrRefineParse
	}
	return &parsed, nil
}

// ReplanRequest describes a failed step needing a recovery decision.
type ReplanRequest struct {
	OriginalRequest  string         `json:"originalRequest"`
	ExecutedSteps    []plan.Step    `json:"executedSteps"`
	FailedStep       plan.Step      `json:"failedStep"`
	Error            plan.ErrorInfo `json:"error"`
	ExecutionOutput  string         `json:"executionOutput"`
	PriorOccurrences int            `json:"priorOccurrences"`
}

// ReplanResult is the recovery decision with its supporting analysis.
type ReplanResult struct {
	Decision  classifier.Decision `json:"decision"`
	Analysis  map[string]any      `json:"analysis"`
	Reasoning string              `json:"reasoning"`
	Changes   map[string]any      `json:"changes"`
	Source    string              `json:"source"`
}

var validDecisions = map[classifier.Decision]bool{
	classifier.DecisionRefine:          true,
	classifier.DecisionInsertSteps:     true,
	classifier.DecisionReplaceStep:     true,
	classifier.DecisionReplanRemaining: true,
}

// Replan decides how to recover from a failed step. Classification is
// deterministic; the model is consulted only for ambiguous failures, and its
// decision is overridden for module errors where insert_steps is mandatory.
func (o *Orchestrator) Replan(ctx context.Context, req ReplanRequest) (*ReplanResult, error) {
	traceback := req.Error.TracebackString()
	analysis := o.clf.Classify(req.Error.Type, req.Error.Message, traceback, o.packages(ctx))
	deterministic := resultFromAnalysis(analysis)

	if !o.clf.ShouldUseLLM(req.Error.Type, traceback, req.PriorOccurrences) {
		return deterministic, nil
	}

	prompt := prompts.FormatReplanPrompt(req.OriginalRequest, req.ExecutedSteps, req.FailedStep, req.Error, req.ExecutionOutput, o.packages(ctx))

	response, err := o.provider.Generate(ctx, prompt, "")
	if err != nil {
		o.logger.Warn("Replan LLM call failed, using deterministic decision", "error", err)
		return deterministic, nil
	}

	doc, ok := jsonx.Salvage(response)
	if !ok {
		o.logger.Warn("Replan response unparseable, using deterministic decision")
		return deterministic, nil
	}
	doc = jsonx.SanitizeToolCalls(doc)

	decision, _ := doc["decision"].(string)
	if !validDecisions[classifier.Decision(decision)] {
		o.logger.Warn("Replan response carried invalid decision, using deterministic decision", "decision", decision)
		return deterministic, nil
	}

	if isModuleError(req.Error.Type) && classifier.Decision(decision) != classifier.DecisionInsertSteps {
		o.logger.Warn("Overriding replan decision for module error",
			"llm_decision", decision,
			"override", classifier.DecisionInsertSteps,
			"missing_package", analysis.MissingPackage)
		return deterministic, nil
	}

	result := &ReplanResult{
		Decision: classifier.Decision(decision),
		Source:   "llm",
	}
	result.Analysis, _ = doc["analysis"].(map[string]any)
	result.Reasoning, _ = doc["reasoning"].(string)
	result.Changes, _ = doc["changes"].(map[string]any)
	return result, nil
}

// VerifyState checks an execution report against step expectations.
func (o *Orchestrator) VerifyState(result verifier.ExecutionResult, expected verifier.Expectations, previousVariables, currentVariables []string) verifier.Result {
	return o.verifier.Verify(result, expected, previousVariables, currentVariables)
}

func resultFromAnalysis(a classifier.Analysis) *ReplanResult {
	return &ReplanResult{
		Decision: a.Decision,
		Analysis: map[string]any{
			"root_cause":            a.RootCause,
			"is_approach_problem":   a.IsApproachProblem(),
			"missing_prerequisites": a.MissingPrerequisites(),
		},
		Reasoning: a.Reasoning,
		Changes:   a.Changes,
		Source:    "classifier",
	}
}

func isModuleError(errorType string) bool {
	normalized := classifier.NormalizeErrorType(errorType)
	return normalized == "ModuleNotFoundError" || normalized == "ImportError"
}

// detectLibraries resolves which guides a request needs. The deterministic
// detector decides first; the model is asked only when it finds nothing.
func (o *Orchestrator) detectLibraries(ctx context.Context, request string, imported []string) []string {
	if o.kb == nil {
		return nil
	}
	available := o.kb.AvailableLibraries()
	if len(available) == 0 {
		return nil
	}
	if detected := o.detector.Detect(request, available, imported); len(detected) > 0 {
		return detected
	}
	return o.detectLibrariesWithLLM(ctx, request, available, imported)
}

func (o *Orchestrator) detectLibrariesWithLLM(ctx context.Context, request string, available, imported []string) []string {
	response, err := o.provider.Generate(ctx, o.kb.DetectionPrompt(request, imported), "")
	if err != nil {
		o.logger.Warn("Library detection LLM call failed", "error", err)
		return nil
	}

	doc, ok := jsonx.Salvage(response)
	if !ok {
		return nil
	}
	raw, _ := doc["libraries"].([]any)

	availSet := make(map[string]bool, len(available))
	for _, lib := range available {
		availSet[lib] = true
	}

	seen := map[string]bool{}
	var libs []string
	for _, v := range raw {
		name, ok := v.(string)
		if !ok {
			continue
		}
		name = strings.ToLower(name)
		if availSet[name] && !seen[name] {
			seen[name] = true
			libs = append(libs, name)
		}
	}
	sort.Strings(libs)
	return libs
}

// sessionContext builds compressed conversational context for a session.
func (o *Orchestrator) sessionContext(sessionID string) string {
	if o.sessions == nil || sessionID == "" {
		return ""
	}
	limit := o.cfg.Session.ContextLimit
	msgs := o.sessions.RecentMessages(sessionID, limit)
	if len(msgs) == 0 {
		return ""
	}

	chat := make([]llms.Message, len(msgs))
	for i, m := range msgs {
		chat[i] = llms.Message{Role: m.Role, Content: m.Content}
	}
	if o.condenser != nil {
		chat, _ = o.condenser.Condense(chat, 0, memory.StrategyAdaptive)
	}

	var lines []string
	for _, m := range chat {
		switch m.Role {
		case "assistant":
			lines = append(lines, "Assistant: "+m.Content)
		case "system":
			lines = append(lines, m.Content)
		default:
			lines = append(lines, "User: "+m.Content)
		}
	}
	return strings.Join(lines, "\n")
}

// normalizePlan enforces structural invariants: sequential step numbers,
// dependencies that point strictly backwards, final_answer only on the last
// step, and a consistent totalSteps.
func normalizePlan(p *plan.Plan) {
	for i := range p.Steps {
		step := &p.Steps[i]
		step.StepNumber = i + 1
		if step.Status == "" {
			step.Status = plan.StatusPending
		}

		deps := step.Dependencies[:0]
		for _, d := range step.Dependencies {
			if d > 0 && d < step.StepNumber {
				deps = append(deps, d)
			}
		}
		step.Dependencies = deps

		if i != len(p.Steps)-1 {
			calls := step.ToolCalls[:0]
			for _, tc := range step.ToolCalls {
				if tc.Tool != plan.ToolFinalAnswer {
					calls = append(calls, tc)
				}
			}
			step.ToolCalls = calls
		}
	}
	p.TotalSteps = len(p.Steps)
}

func remarshal(doc any, out any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// InstalledPackages lists installed pip packages, lowercased and capped to
// keep prompts bounded. Best effort: failures return nil.
func InstalledPackages(ctx context.Context) []string {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, "pip", "list", "--format=freeze").Output()
	if err != nil {
		return nil
	}

	var packages []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		name, _, found := strings.Cut(line, "==")
		if !found {
			continue
		}
		packages = append(packages, strings.ToLower(name))
		if len(packages) == 100 {
			break
		}
	}
	return packages
}
