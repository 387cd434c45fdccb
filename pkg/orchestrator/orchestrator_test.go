package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lks21c/hdsp-agent/pkg/classifier"
	"github.com/lks21c/hdsp-agent/pkg/config"
	"github.com/lks21c/hdsp-agent/pkg/knowledge"
	"github.com/lks21c/hdsp-agent/pkg/llms"
	"github.com/lks21c/hdsp-agent/pkg/plan"
	"github.com/lks21c/hdsp-agent/pkg/session"
	"github.com/lks21c/hdsp-agent/pkg/verifier"
)

// scriptedProvider answers prompts from a routing function.
type scriptedProvider struct {
	mu      sync.Mutex
	prompts []string
	respond func(prompt string) (string, error)
}

func (p *scriptedProvider) Generate(_ context.Context, prompt, _ string) (string, error) {
	p.mu.Lock()
	p.prompts = append(p.prompts, prompt)
	p.mu.Unlock()
	return p.respond(prompt)
}

func (p *scriptedProvider) GenerateStreaming(context.Context, string, string) (<-chan llms.StreamChunk, error) {
	ch := make(chan llms.StreamChunk)
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) ModelName() string { return "scripted" }
func (p *scriptedProvider) Close() error      { return nil }

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.prompts)
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.SetDefaults()
	return cfg
}

func newTestOrchestrator(t *testing.T, respond func(prompt string) (string, error), opts ...Option) (*Orchestrator, *scriptedProvider) {
	t.Helper()
	provider := &scriptedProvider{respond: respond}
	opts = append(opts, WithInstalledPackages(func(context.Context) []string {
		return []string{"pandas", "numpy"}
	}))
	return New(testConfig(), provider, opts...), provider
}

const planResponse = "```json\n" + `{
  "reasoning": "two steps suffice",
  "plan": {
    "totalSteps": 2,
    "steps": [
      {
        "stepNumber": 1,
        "description": "load data",
        "toolCalls": [{"tool": "jupyter_cell", "parameters": {"code": "import pandas as pd\ndf = pd.read_csv('data.csv')"}}],
        "dependencies": []
      },
      {
        "stepNumber": 2,
        "description": "finish",
        "toolCalls": [{"tool": "final_answer", "parameters": {"answer": "done loading"}}],
        "dependencies": [1]
      }
    ]
  }
}` + "\n```"

func TestPlan(t *testing.T) {
	o, _ := newTestOrchestrator(t, func(string) (string, error) { return planResponse, nil })

	pr, err := o.Plan(context.Background(), "load the csv", plan.NotebookContext{CellCount: 1})
	require.NoError(t, err)

	assert.Equal(t, 2, pr.Plan.TotalSteps)
	assert.Equal(t, "two steps suffice", pr.Reasoning)
	assert.Equal(t, 1, pr.Plan.Steps[0].StepNumber)
	assert.True(t, pr.Plan.Steps[1].HasFinalAnswer())
}

func newGuidesBase(t *testing.T, libs ...string) *knowledge.Base {
	t.Helper()
	dir := t.TempDir()
	for _, lib := range libs {
		require.NoError(t, os.WriteFile(filepath.Join(dir, lib+".md"), []byte("# "+lib+" guide"), 0o600))
	}
	return knowledge.NewBase(dir)
}

func TestPlan_DeterministicDetectionSkipsLLM(t *testing.T) {
	kb := newGuidesBase(t, "dask")
	respond := func(prompt string) (string, error) {
		if strings.Contains(prompt, "라이브러리를 판단하세요") {
			t.Fatal("deterministic detection must not consult the model")
		}
		return planResponse, nil
	}
	o, provider := newTestOrchestrator(t, respond, WithKnowledgeBase(kb))

	pr, err := o.Plan(context.Background(), "use dask to load the csv", plan.NotebookContext{})
	require.NoError(t, err)

	assert.Equal(t, []string{"dask"}, pr.DetectedLibraries)
	assert.Equal(t, 1, provider.callCount(), "only the plan call")
}

func TestPlan_LLMDetectionFallback(t *testing.T) {
	kb := newGuidesBase(t, "dask")
	respond := func(prompt string) (string, error) {
		if strings.Contains(prompt, "라이브러리를 판단하세요") {
			return `{"libraries": ["dask", "made_up_lib"]}`, nil
		}
		return planResponse, nil
	}
	o, provider := newTestOrchestrator(t, respond, WithKnowledgeBase(kb))

	// Nothing here matches a pattern or keyword, so the model is asked.
	pr, err := o.Plan(context.Background(), "process the file the smart way", plan.NotebookContext{})
	require.NoError(t, err)

	assert.Equal(t, []string{"dask"}, pr.DetectedLibraries,
		"only libraries with an on-disk guide count")
	assert.Equal(t, 2, provider.callCount(), "detection call plus plan call")
}

func TestPlan_LLMDetectionFailureIsNonFatal(t *testing.T) {
	kb := newGuidesBase(t, "dask")
	respond := func(prompt string) (string, error) {
		if strings.Contains(prompt, "라이브러리를 판단하세요") {
			return "", errors.New("model unavailable")
		}
		return planResponse, nil
	}
	o, _ := newTestOrchestrator(t, respond, WithKnowledgeBase(kb))

	pr, err := o.Plan(context.Background(), "process the file the smart way", plan.NotebookContext{})
	require.NoError(t, err)
	assert.Empty(t, pr.DetectedLibraries)
}

func TestPlan_EmptyRequest(t *testing.T) {
	o, _ := newTestOrchestrator(t, func(string) (string, error) { return planResponse, nil })

	_, err := o.Plan(context.Background(), "  ", plan.NotebookContext{})
	assert.ErrorIs(t, err, ErrEmptyRequest)
}

func TestPlan_UnparseableResponse(t *testing.T) {
	o, _ := newTestOrchestrator(t, func(string) (string, error) { return "I cannot help with that.", nil })

	_, err := o.Plan(context.Background(), "do something", plan.NotebookContext{})
	assert.ErrorIs(t, err, ErrPlanParse)
}

func TestPlan_StripsEarlyFinalAnswerAndBadDeps(t *testing.T) {
	response := `{"plan": {"totalSteps": 2, "steps": [
		{"stepNumber": 1, "description": "a",
		 "toolCalls": [{"tool": "jupyter_cell", "parameters": {"code": "x = 1"}},
		               {"tool": "final_answer", "parameters": {"answer": "early"}}],
		 "dependencies": [2]},
		{"stepNumber": 2, "description": "b",
		 "toolCalls": [{"tool": "final_answer", "parameters": {"answer": "ok"}}],
		 "dependencies": [1]}
	]}}`
	o, _ := newTestOrchestrator(t, func(string) (string, error) { return response, nil })

	pr, err := o.Plan(context.Background(), "req", plan.NotebookContext{})
	require.NoError(t, err)

	assert.False(t, pr.Plan.Steps[0].HasFinalAnswer(), "final_answer is only allowed on the last step")
	assert.Empty(t, pr.Plan.Steps[0].Dependencies, "forward dependencies are dropped")
	assert.Equal(t, []int{1}, pr.Plan.Steps[1].Dependencies)
}

func TestPlan_SanitizesFencedCode(t *testing.T) {
	response := `{"plan": {"totalSteps": 1, "steps": [
		{"stepNumber": 1, "description": "a",
		 "toolCalls": [{"tool": "jupyter_cell", "parameters": {"code": "` + "```python\\nx = 1\\n```" + `"}}]}
	]}}`
	o, _ := newTestOrchestrator(t, func(string) (string, error) { return response, nil })

	pr, err := o.Plan(context.Background(), "req", plan.NotebookContext{})
	require.NoError(t, err)
	assert.Equal(t, "x = 1", pr.Plan.Steps[0].FirstCode())
}

func TestRefine(t *testing.T) {
	response := `{"reasoning": "fixed the name", "toolCalls": [
		{"tool": "jupyter_cell", "parameters": {"code": "df = pd.DataFrame()\nprint(df)"}}
	]}`
	o, _ := newTestOrchestrator(t, func(string) (string, error) { return response, nil })

	res, err := o.Refine(context.Background(), plan.Step{StepNumber: 1}, plan.ErrorInfo{Type: "NameError", Message: "name 'df' is not defined"}, 1, "print(df)")
	require.NoError(t, err)

	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, "df = pd.DataFrame()\nprint(df)", res.ToolCalls[0].Code())
	assert.Equal(t, "fixed the name", res.Reasoning)
}

func TestRefine_PureCodeFallback(t *testing.T) {
	response := "Here is the fix:\n```python\nprint('fixed')\n```"
	o, _ := newTestOrchestrator(t, func(string) (string, error) { return response, nil })

	res, err := o.Refine(context.Background(), plan.Step{}, plan.ErrorInfo{Type: "TypeError"}, 2, "old")
	require.NoError(t, err)

	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, plan.ToolJupyterCell, res.ToolCalls[0].Tool)
	assert.Equal(t, "print('fixed')", res.ToolCalls[0].Code())
}

func TestRefine_NoCode(t *testing.T) {
	o, _ := newTestOrchestrator(t, func(string) (string, error) { return "sorry, no idea", nil })

	_, err := o.Refine(context.Background(), plan.Step{}, plan.ErrorInfo{Type: "TypeError"}, 1, "old")
	assert.ErrorIs(t, err, ErrRefineParse)
}

func TestReplan_ModuleErrorIsDeterministic(t *testing.T) {
	o, provider := newTestOrchestrator(t, func(string) (string, error) {
		t.Fatal("module errors must not reach the LLM")
		return "", nil
	})

	res, err := o.Replan(context.Background(), ReplanRequest{
		Error: plan.ErrorInfo{
			Type:      "ModuleNotFoundError",
			Message:   "No module named 'pyarrow'",
			Traceback: []string{"ModuleNotFoundError: No module named 'pyarrow'"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, classifier.DecisionInsertSteps, res.Decision)
	assert.Equal(t, "classifier", res.Source)
	assert.Equal(t, 0, provider.callCount())

	steps := stepsFromChanges(res.Changes, "new_steps")
	require.Len(t, steps, 1)
	assert.Contains(t, steps[0].FirstCode(), "pip install")
	assert.Contains(t, steps[0].FirstCode(), "pyarrow")
}

func TestReplan_OverridesLLMForModuleError(t *testing.T) {
	// A repeat offender forces the LLM path, but its decision may not
	// contradict insert_steps for module errors.
	o, provider := newTestOrchestrator(t, func(string) (string, error) {
		return `{"decision": "replan_remaining", "reasoning": "switch library", "changes": {}}`, nil
	})

	res, err := o.Replan(context.Background(), ReplanRequest{
		Error: plan.ErrorInfo{
			Type:    "ModuleNotFoundError",
			Message: "No module named 'pyarrow'",
		},
		PriorOccurrences: 2,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, provider.callCount())
	assert.Equal(t, classifier.DecisionInsertSteps, res.Decision)
	assert.Equal(t, "classifier", res.Source)
}

func TestReplan_LLMDecisionForUnknownError(t *testing.T) {
	o, provider := newTestOrchestrator(t, func(string) (string, error) {
		return `{"decision": "replace_step",
			"analysis": {"root_cause": "wrong approach"},
			"reasoning": "use a streaming read",
			"changes": {"replacement": {"description": "stream it", "toolCalls": [{"tool": "jupyter_cell", "parameters": {"code": "pass"}}]}}}`, nil
	})

	res, err := o.Replan(context.Background(), ReplanRequest{
		Error: plan.ErrorInfo{Type: "SomeCustomError", Message: "boom"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, provider.callCount())
	assert.Equal(t, classifier.DecisionReplaceStep, res.Decision)
	assert.Equal(t, "llm", res.Source)
	assert.Equal(t, "use a streaming read", res.Reasoning)
}

func TestReplan_LLMFailureFallsBackToClassifier(t *testing.T) {
	o, _ := newTestOrchestrator(t, func(string) (string, error) {
		return "", errors.New("upstream down")
	})

	res, err := o.Replan(context.Background(), ReplanRequest{
		Error: plan.ErrorInfo{Type: "SomeCustomError", Message: "boom"},
	})
	require.NoError(t, err)

	assert.Equal(t, "classifier", res.Source)
	assert.Equal(t, classifier.DecisionRefine, res.Decision)
}

func TestVerifyState(t *testing.T) {
	o, _ := newTestOrchestrator(t, func(string) (string, error) { return "", nil })

	res := o.VerifyState(verifier.ExecutionResult{Status: "ok"}, verifier.Expectations{}, nil, nil)
	assert.True(t, res.IsValid)
	assert.Len(t, o.Verifier().RecentHistory(0), 1)
}

func okDispatcher() Dispatcher {
	return DispatcherFunc(func(_ context.Context, step plan.Step) (ExecutionReport, error) {
		return ExecutionReport{Result: verifier.ExecutionResult{Status: "ok", Output: "step " + step.Description + " ok"}}, nil
	})
}

func TestRun_HappyPath(t *testing.T) {
	o, _ := newTestOrchestrator(t, func(prompt string) (string, error) {
		return planResponse, nil
	})

	var events []Event
	res, err := o.Run(context.Background(), "", "load the csv", plan.NotebookContext{}, okDispatcher(), func(ev Event) {
		events = append(events, ev)
	})
	require.NoError(t, err)

	assert.Equal(t, "done loading", res.FinalAnswer)
	assert.Len(t, res.ExecutedSteps, 2)
	assert.Equal(t, 0, res.ReplanEvents)
	assert.False(t, res.Escalated)

	var types []string
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{
		EventPlan,
		EventStepStarted, EventStepDone,
		EventStepStarted, EventStepDone,
		EventFinalAnswer,
	}, types)
}

func TestRun_ModuleErrorInsertsInstallStep(t *testing.T) {
	o, _ := newTestOrchestrator(t, func(prompt string) (string, error) {
		return planResponse, nil
	})

	var dispatched []string
	failedOnce := false
	dispatcher := DispatcherFunc(func(_ context.Context, step plan.Step) (ExecutionReport, error) {
		dispatched = append(dispatched, step.FirstCode())
		if strings.Contains(step.FirstCode(), "read_csv") && !failedOnce {
			failedOnce = true
			return ExecutionReport{Result: verifier.ExecutionResult{
				Status: "error",
				Error:  &verifier.ExecutionError{Ename: "ModuleNotFoundError", Evalue: "No module named 'pyarrow'"},
			}}, nil
		}
		return ExecutionReport{Result: verifier.ExecutionResult{Status: "ok"}}, nil
	})

	res, err := o.Run(context.Background(), "", "load the csv", plan.NotebookContext{}, dispatcher, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, res.ReplanEvents)
	assert.Len(t, res.ExecutedSteps, 3, "install step plus the original two")

	// The spliced install step runs before the retried original step.
	require.GreaterOrEqual(t, len(dispatched), 3)
	assert.Contains(t, dispatched[1], "pip install")
	assert.Contains(t, dispatched[1], "pyarrow")
	assert.Contains(t, dispatched[2], "read_csv")
}

func TestRun_RefineExhaustionEscalates(t *testing.T) {
	refineResponse := `{"toolCalls": [{"tool": "jupyter_cell", "parameters": {"code": "still_broken()"}}]}`
	o, _ := newTestOrchestrator(t, func(prompt string) (string, error) {
		if strings.Contains(prompt, "오류로 실패했습니다") {
			return refineResponse, nil
		}
		if strings.Contains(prompt, "결과를 요약해주세요") {
			return "작업을 완료하지 못했습니다.", nil
		}
		return planResponse, nil
	})

	dispatcher := DispatcherFunc(func(_ context.Context, step plan.Step) (ExecutionReport, error) {
		if step.HasFinalAnswer() {
			return ExecutionReport{Result: verifier.ExecutionResult{Status: "ok"}}, nil
		}
		return ExecutionReport{Result: verifier.ExecutionResult{
			Status: "error",
			Error:  &verifier.ExecutionError{Ename: "TypeError", Evalue: "unsupported operand"},
		}}, nil
	})

	res, err := o.Run(context.Background(), "", "load the csv", plan.NotebookContext{}, dispatcher, nil)
	require.NoError(t, err)

	assert.True(t, res.Escalated)
	assert.Equal(t, "작업을 완료하지 못했습니다.", res.FinalAnswer)
}

func TestRun_OneInFlightPerSession(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{})

	o, _ := newTestOrchestrator(t, func(string) (string, error) { return planResponse, nil })
	dispatcher := DispatcherFunc(func(_ context.Context, step plan.Step) (ExecutionReport, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-block
		return ExecutionReport{Result: verifier.ExecutionResult{Status: "ok"}}, nil
	})

	done := make(chan error, 1)
	go func() {
		_, err := o.Run(context.Background(), "sess", "load the csv", plan.NotebookContext{}, dispatcher, nil)
		done <- err
	}()

	<-started
	_, err := o.Run(context.Background(), "sess", "another request", plan.NotebookContext{}, okDispatcher(), nil)
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(block)
	require.NoError(t, <-done)
}

func newSessionStore(t *testing.T) *session.Store {
	t.Helper()
	return session.NewStore(filepath.Join(t.TempDir(), "sessions.json"))
}

func TestRun_StoresExchange(t *testing.T) {
	o, _ := newTestOrchestrator(t, func(string) (string, error) { return planResponse, nil })

	store := newSessionStore(t)
	WithSessionStore(store)(o)

	_, err := o.Run(context.Background(), "conv-1", "load the csv", plan.NotebookContext{}, okDispatcher(), nil)
	require.NoError(t, err)

	sess := store.Get("conv-1")
	require.NotNil(t, sess)
	require.Len(t, sess.Messages, 2)
	assert.Equal(t, "load the csv", sess.Messages[0].Content)
	assert.Equal(t, "done loading", sess.Messages[1].Content)
}
