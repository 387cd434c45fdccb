// Package plan defines the execution plan structures shared by the prompt
// assembler, the orchestrator, and the HTTP surface.
package plan

import "strings"

// Tool names the LLM may call.
const (
	ToolJupyterCell = "jupyter_cell"
	ToolMarkdown    = "markdown"
	ToolFinalAnswer = "final_answer"
)

// Step lifecycle states.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// ToolCall is one tool invocation within a step.
type ToolCall struct {
	Tool       string         `json:"tool"`
	Parameters map[string]any `json:"parameters"`
}

// Code returns the code parameter of a jupyter_cell call.
func (tc ToolCall) Code() string {
	if tc.Parameters == nil {
		return ""
	}
	code, _ := tc.Parameters["code"].(string)
	return code
}

// SetCode replaces the code parameter.
func (tc *ToolCall) SetCode(code string) {
	if tc.Parameters == nil {
		tc.Parameters = make(map[string]any)
	}
	tc.Parameters["code"] = code
}

// Checkpoint declares how a step's success can be verified.
type Checkpoint struct {
	ExpectedOutcome    string   `json:"expectedOutcome,omitempty"`
	ValidationCriteria []string `json:"validationCriteria,omitempty"`
	SuccessIndicators  []string `json:"successIndicators,omitempty"`
}

// Step is one unit of an execution plan.
type Step struct {
	StepNumber   int         `json:"stepNumber"`
	Description  string      `json:"description"`
	ToolCalls    []ToolCall  `json:"toolCalls"`
	Dependencies []int       `json:"dependencies,omitempty"`
	Checkpoint   *Checkpoint `json:"checkpoint,omitempty"`
	RiskLevel    string      `json:"riskLevel,omitempty"`
	Status       string      `json:"status,omitempty"`
}

// FirstCode returns the code of the step's first jupyter_cell call.
func (s Step) FirstCode() string {
	for _, tc := range s.ToolCalls {
		if tc.Tool == ToolJupyterCell {
			return tc.Code()
		}
	}
	return ""
}

// HasFinalAnswer reports whether the step calls final_answer.
func (s Step) HasFinalAnswer() bool {
	for _, tc := range s.ToolCalls {
		if tc.Tool == ToolFinalAnswer {
			return true
		}
	}
	return false
}

// Plan is an ordered list of steps.
type Plan struct {
	TotalSteps int    `json:"totalSteps"`
	Steps      []Step `json:"steps"`
}

// ErrorInfo describes a failed execution as reported by the client.
type ErrorInfo struct {
	Type      string   `json:"type"`
	Message   string   `json:"message"`
	Traceback []string `json:"traceback,omitempty"`
}

// TracebackString joins traceback frames into one block.
func (e ErrorInfo) TracebackString() string {
	return strings.Join(e.Traceback, "\n")
}

// Cell is a notebook cell snapshot sent with a request.
type Cell struct {
	Index  int    `json:"index"`
	Type   string `json:"type"`
	Source string `json:"source"`
}

// NotebookContext is the client's snapshot of notebook state.
type NotebookContext struct {
	CellCount         int      `json:"cellCount"`
	ImportedLibraries []string `json:"importedLibraries,omitempty"`
	DefinedVariables  []string `json:"definedVariables,omitempty"`
	RecentCells       []Cell   `json:"recentCells,omitempty"`
}
