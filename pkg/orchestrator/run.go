package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/lks21c/hdsp-agent/pkg/classifier"
	"github.com/lks21c/hdsp-agent/pkg/jsonx"
	"github.com/lks21c/hdsp-agent/pkg/plan"
	"github.com/lks21c/hdsp-agent/pkg/prompts"
	"github.com/lks21c/hdsp-agent/pkg/validator"
	"github.com/lks21c/hdsp-agent/pkg/verifier"
)

// ExecutionReport is what the external executor returns for one step.
type ExecutionReport struct {
	Result            verifier.ExecutionResult `json:"result"`
	PreviousVariables []string                 `json:"previousVariables,omitempty"`
	CurrentVariables  []string                 `json:"currentVariables,omitempty"`
	Expectations      verifier.Expectations    `json:"expectations,omitempty"`
}

// Dispatcher executes a step's tool calls outside the server (typically the
// IDE extension driving a kernel) and reports the outcome.
type Dispatcher interface {
	Dispatch(ctx context.Context, step plan.Step) (ExecutionReport, error)
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, step plan.Step) (ExecutionReport, error)

func (f DispatcherFunc) Dispatch(ctx context.Context, step plan.Step) (ExecutionReport, error) {
	return f(ctx, step)
}

// Event types emitted during a run.
const (
	EventPlan        = "plan"
	EventStepStarted = "step_started"
	EventStepDone    = "step_completed"
	EventStepFailed  = "step_failed"
	EventRefined     = "refined"
	EventReplanned   = "replanned"
	EventFinalAnswer = "final_answer"
)

// Event reports run progress to a listener.
type Event struct {
	Type    string     `json:"type"`
	Step    *plan.Step `json:"step,omitempty"`
	Message string     `json:"message,omitempty"`
}

// RunResult summarizes a completed run.
type RunResult struct {
	Plan          plan.Plan   `json:"plan"`
	ExecutedSteps []plan.Step `json:"executedSteps"`
	Outputs       []string    `json:"outputs,omitempty"`
	FinalAnswer   string      `json:"finalAnswer"`
	ReplanEvents  int         `json:"replanEvents"`
	Escalated     bool        `json:"escalated"`
}

// Run executes a full plan-and-execute cycle for one request. At most one run
// per session id may be in flight.
func (o *Orchestrator) Run(ctx context.Context, sessionID, request string, nbCtx plan.NotebookContext, dispatcher Dispatcher, onEvent func(Event)) (*RunResult, error) {
	if sessionID != "" {
		if !o.acquire(sessionID) {
			return nil, ErrRunInProgress
		}
		defer o.release(sessionID)
	}
	emit := func(ev Event) {
		if onEvent != nil {
			onEvent(ev)
		}
	}

	pr, err := o.plan(ctx, request, nbCtx, o.sessionContext(sessionID))
	if err != nil {
		return nil, err
	}
	emit(Event{Type: EventPlan, Message: pr.Reasoning})

	result := &RunResult{Plan: pr.Plan}
	steps := pr.Plan.Steps
	completed := make(map[int]bool)
	errorCounts := make(map[string]int)

	i := 0
	refineAttempts := 0
	for i < len(steps) {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		step := &steps[i]
		if !depsSatisfied(*step, completed) {
			step.Status = plan.StatusSkipped
			o.logger.Warn("Skipping step with unmet dependencies", "step", step.StepNumber, "deps", step.Dependencies)
			i++
			refineAttempts = 0
			continue
		}

		step.Status = plan.StatusRunning
		emit(Event{Type: EventStepStarted, Step: step})

		// Pre-execution validation catches broken code before it reaches
		// the kernel.
		if errInfo, bad := o.preValidate(*step, nbCtx); bad {
			step.Status = plan.StatusFailed
			errorCounts[classifier.NormalizeErrorType(errInfo.Type)]++
			emit(Event{Type: EventStepFailed, Step: step, Message: errInfo.Message})
			if done := o.recover(ctx, request, result, &steps, &i, &refineAttempts, errInfo, "", errorCounts, emit); done {
				break
			}
			continue
		}

		sanitizeStepCode(step)

		report, err := dispatcher.Dispatch(ctx, *step)
		if err != nil {
			return result, fmt.Errorf("dispatch of step %d failed: %w", step.StepNumber, err)
		}
		if out := strings.TrimSpace(report.Result.Output); out != "" {
			result.Outputs = append(result.Outputs, out)
		}

		ver := o.verifier.Verify(report.Result, expectationsFor(*step, report), report.PreviousVariables, report.CurrentVariables)

		switch ver.Recommendation {
		case verifier.RecommendProceed, verifier.RecommendWarning:
			if ver.Recommendation == verifier.RecommendWarning {
				o.logger.Warn("Step verified with warnings", "step", step.StepNumber, "confidence", ver.Confidence)
			}
			step.Status = plan.StatusCompleted
			completed[step.StepNumber] = true
			result.ExecutedSteps = append(result.ExecutedSteps, *step)
			emit(Event{Type: EventStepDone, Step: step})

			if answer, ok := finalAnswerOf(*step); ok {
				result.FinalAnswer = answer
			}
			i++
			refineAttempts = 0

		default:
			step.Status = plan.StatusFailed
			errInfo := errorFromResult(report.Result)
			errorCounts[classifier.NormalizeErrorType(errInfo.Type)]++
			emit(Event{Type: EventStepFailed, Step: step, Message: errInfo.Message})

			if done := o.recover(ctx, request, result, &steps, &i, &refineAttempts, errInfo, report.Result.Output, errorCounts, emit); done {
				break
			}
		}
	}

	if result.FinalAnswer == "" {
		result.FinalAnswer = o.finalAnswer(ctx, request, result.ExecutedSteps, result.Outputs)
	}
	emit(Event{Type: EventFinalAnswer, Message: result.FinalAnswer})

	if o.sessions != nil && sessionID != "" {
		o.sessions.StoreExchange(sessionID, request, result.FinalAnswer)
	}
	return result, nil
}

// recover applies the classifier/replanner decision to the step at *i.
// It returns true when the run must stop with a terminal answer.
func (o *Orchestrator) recover(ctx context.Context, request string, result *RunResult, steps *[]plan.Step, i *int, refineAttempts *int, errInfo plan.ErrorInfo, output string, errorCounts map[string]int, emit func(Event)) bool {
	step := (*steps)[*i]
	prior := errorCounts[classifier.NormalizeErrorType(errInfo.Type)] - 1
	if prior < 0 {
		prior = 0
	}

	decision, err := o.Replan(ctx, ReplanRequest{
		OriginalRequest:  request,
		ExecutedSteps:    result.ExecutedSteps,
		FailedStep:       step,
		Error:            errInfo,
		ExecutionOutput:  output,
		PriorOccurrences: prior,
	})
	if err != nil {
		o.logger.Error("Recovery decision failed", "step", step.StepNumber, "error", err)
		result.Escalated = true
		return true
	}
	o.logger.Info("Recovery decision", "step", step.StepNumber, "decision", decision.Decision, "source", decision.Source)

	switch decision.Decision {
	case classifier.DecisionRefine:
		*refineAttempts++
		if *refineAttempts > o.cfg.Agent.MaxRefineAttempts {
			o.logger.Warn("Refine attempts exhausted, escalating", "step", step.StepNumber)
			result.Escalated = true
			return true
		}
		refined, err := o.Refine(ctx, step, errInfo, *refineAttempts, "")
		if err != nil {
			o.logger.Error("Refine failed, escalating", "step", step.StepNumber, "error", err)
			result.Escalated = true
			return true
		}
		(*steps)[*i].ToolCalls = refined.ToolCalls
		(*steps)[*i].Status = plan.StatusPending
		emit(Event{Type: EventRefined, Step: &(*steps)[*i], Message: refined.Reasoning})
		return false

	case classifier.DecisionInsertSteps:
		if o.replanExhausted(result) {
			return true
		}
		newSteps := stepsFromChanges(decision.Changes, "new_steps")
		if len(newSteps) == 0 {
			o.logger.Warn("insert_steps decision carried no steps, escalating", "step", step.StepNumber)
			result.Escalated = true
			return true
		}
		*steps = spliceSteps(*steps, *i, newSteps)
		result.ReplanEvents++
		result.Plan.Steps = *steps
		result.Plan.TotalSteps = len(*steps)
		*refineAttempts = 0
		emit(Event{Type: EventReplanned, Message: decision.Reasoning})
		return false

	case classifier.DecisionReplaceStep:
		if o.replanExhausted(result) {
			return true
		}
		replacement := stepsFromChanges(decision.Changes, "replacement")
		if len(replacement) == 0 {
			result.Escalated = true
			return true
		}
		replacement[0].StepNumber = step.StepNumber
		replacement[0].Status = plan.StatusPending
		(*steps)[*i] = replacement[0]
		result.ReplanEvents++
		*refineAttempts = 0
		emit(Event{Type: EventReplanned, Step: &(*steps)[*i], Message: decision.Reasoning})
		return false

	case classifier.DecisionReplanRemaining:
		if o.replanExhausted(result) {
			return true
		}
		remaining := stepsFromChanges(decision.Changes, "new_plan")
		if len(remaining) == 0 {
			result.Escalated = true
			return true
		}
		kept := append([]plan.Step(nil), (*steps)[:*i]...)
		*steps = renumber(append(kept, remaining...))
		result.ReplanEvents++
		result.Plan.Steps = *steps
		result.Plan.TotalSteps = len(*steps)
		*refineAttempts = 0
		emit(Event{Type: EventReplanned, Message: decision.Reasoning})
		return false
	}

	result.Escalated = true
	return true
}

func (o *Orchestrator) replanExhausted(result *RunResult) bool {
	if result.ReplanEvents >= o.cfg.Agent.MaxReplanEvents {
		o.logger.Warn("Replan events exhausted, emitting terminal answer", "events", result.ReplanEvents)
		result.Escalated = true
		return true
	}
	return false
}

// preValidate runs the static checker on the step's code. Only hard errors
// block dispatch.
func (o *Orchestrator) preValidate(step plan.Step, nbCtx plan.NotebookContext) (plan.ErrorInfo, bool) {
	code := step.FirstCode()
	if code == "" {
		return plan.ErrorInfo{}, false
	}

	v := validator.New(&validator.NotebookContext{
		DefinedVariables:  nbCtx.DefinedVariables,
		ImportedLibraries: nbCtx.ImportedLibraries,
	})
	res := v.FullValidation(code)
	if !res.HasErrors {
		return plan.ErrorInfo{}, false
	}

	kind := "SyntaxError"
	for _, issue := range res.Issues {
		if issue.Category == validator.CategoryUndefinedName && issue.Severity == validator.SeverityError {
			kind = "NameError"
			break
		}
	}
	return plan.ErrorInfo{
		Type:    kind,
		Message: res.Summary,
	}, true
}

func (o *Orchestrator) finalAnswer(ctx context.Context, request string, executed []plan.Step, outputs []string) string {
	prompt := prompts.FormatFinalAnswerPrompt(request, executed, outputs)
	answer, err := o.provider.Generate(ctx, prompt, "")
	if err != nil || strings.TrimSpace(answer) == "" {
		o.logger.Warn("Final answer generation failed, using fallback", "error", err)
		return fmt.Sprintf("작업이 완료되었습니다. %d개 단계가 실행되었습니다.", len(executed))
	}
	return strings.TrimSpace(answer)
}

func depsSatisfied(step plan.Step, completed map[int]bool) bool {
	for _, d := range step.Dependencies {
		if !completed[d] {
			return false
		}
	}
	return true
}

func sanitizeStepCode(step *plan.Step) {
	for idx := range step.ToolCalls {
		tc := &step.ToolCalls[idx]
		if tc.Tool == plan.ToolJupyterCell {
			tc.SetCode(jsonx.SanitizeCode(tc.Code()))
		}
	}
}

// expectationsFor derives verifier expectations: the executor's explicit
// expectations win, otherwise checkpoint success indicators act as output
// patterns.
func expectationsFor(step plan.Step, report ExecutionReport) verifier.Expectations {
	exp := report.Expectations
	if len(exp.Variables) == 0 && len(exp.OutputPatterns) == 0 && len(exp.Imports) == 0 && step.Checkpoint != nil {
		exp.OutputPatterns = step.Checkpoint.SuccessIndicators
	}
	return exp
}

func finalAnswerOf(step plan.Step) (string, bool) {
	for _, tc := range step.ToolCalls {
		if tc.Tool == plan.ToolFinalAnswer && tc.Parameters != nil {
			answer, _ := tc.Parameters["answer"].(string)
			return answer, true
		}
	}
	return "", false
}

func errorFromResult(result verifier.ExecutionResult) plan.ErrorInfo {
	info := plan.ErrorInfo{Type: "RuntimeError", Message: "execution did not meet expectations"}
	if result.Error != nil {
		info.Type = result.Error.Ename
		info.Message = result.Error.Evalue
		info.Traceback = []string{result.Error.Evalue}
	}
	return info
}

// stepsFromChanges converts the loosely typed changes payload into steps.
func stepsFromChanges(changes map[string]any, key string) []plan.Step {
	if changes == nil {
		return nil
	}
	raw, ok := changes[key]
	if !ok || raw == nil {
		return nil
	}
	if key == "replacement" {
		raw = []any{raw}
	}

	var steps []plan.Step
	if err := remarshal(raw, &steps); err != nil {
		return nil
	}
	out := steps[:0]
	for _, s := range steps {
		if len(s.ToolCalls) == 0 {
			continue
		}
		s.Status = plan.StatusPending
		out = append(out, s)
	}
	return out
}

// spliceSteps inserts newSteps before index i and renumbers.
func spliceSteps(steps []plan.Step, i int, newSteps []plan.Step) []plan.Step {
	out := make([]plan.Step, 0, len(steps)+len(newSteps))
	out = append(out, steps[:i]...)
	out = append(out, newSteps...)
	out = append(out, steps[i:]...)
	return renumber(out)
}

func renumber(steps []plan.Step) []plan.Step {
	for i := range steps {
		steps[i].StepNumber = i + 1

		deps := steps[i].Dependencies[:0]
		for _, d := range steps[i].Dependencies {
			if d > 0 && d < steps[i].StepNumber {
				deps = append(deps, d)
			}
		}
		steps[i].Dependencies = deps
	}
	return steps
}

func (o *Orchestrator) acquire(sessionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active[sessionID] {
		return false
	}
	o.active[sessionID] = true
	return true
}

func (o *Orchestrator) release(sessionID string) {
	o.mu.Lock()
	delete(o.active, sessionID)
	o.mu.Unlock()
}
