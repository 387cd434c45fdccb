// Package verifier checks notebook execution results against the expectations
// a plan step declared, producing a confidence score and a recommendation for
// the orchestrator's recovery loop.
package verifier

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
)

// MismatchType identifies what kind of expectation failed.
type MismatchType string

const (
	MismatchException       MismatchType = "exception_occurred"
	MismatchVariableMissing MismatchType = "variable_missing"
	MismatchOutput          MismatchType = "output_mismatch"
	MismatchImportFailed    MismatchType = "import_failed"
)

// Severity ranks a mismatch. A critical mismatch invalidates the step.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
)

// Confidence factor weights. They sum to 1.0.
const (
	weightOutputMatch       = 0.30
	weightVariableCreation  = 0.30
	weightNoExceptions      = 0.25
	weightExecutionComplete = 0.15
)

// Recommendation thresholds.
const (
	proceedThreshold = 0.80
	warningThreshold = 0.60
	replanThreshold  = 0.40
)

// maxHistory bounds the per-verifier result history.
const maxHistory = 50

// Recommendation tells the orchestrator how to treat a verified step.
type Recommendation string

const (
	RecommendProceed  Recommendation = "proceed"
	RecommendWarning  Recommendation = "proceed_with_warning"
	RecommendReplan   Recommendation = "replan"
	RecommendEscalate Recommendation = "escalate"
)

// ExecutionError carries the exception raised by a failed cell.
type ExecutionError struct {
	Ename  string `json:"ename"`
	Evalue string `json:"evalue"`
}

// ExecutionResult is the outcome of running one cell.
type ExecutionResult struct {
	Status string          `json:"status"`
	Output string          `json:"output"`
	Result string          `json:"result"`
	Error  *ExecutionError `json:"error,omitempty"`
}

// Expectations declare what a step should have produced.
type Expectations struct {
	Variables      []string `json:"expectedVariables,omitempty"`
	OutputPatterns []string `json:"expectedOutputPatterns,omitempty"`
	Imports        []string `json:"expectedImports,omitempty"`
}

// Mismatch records one failed expectation.
type Mismatch struct {
	Type        MismatchType `json:"type"`
	Severity    Severity     `json:"severity"`
	Description string       `json:"description"`
	Expected    string       `json:"expected"`
	Actual      string       `json:"actual"`
	Suggestion  string       `json:"suggestion"`
}

// Result is the verdict for one verification.
type Result struct {
	IsValid        bool           `json:"isValid"`
	Confidence     float64        `json:"confidence"`
	Mismatches     []Mismatch     `json:"mismatches"`
	Recommendation Recommendation `json:"recommendation"`
	VerifiedAt     time.Time      `json:"verifiedAt"`
}

// Trend summarizes recent verification quality.
type Trend struct {
	Average       float64 `json:"average"`
	Direction     string  `json:"direction"`
	CriticalCount int     `json:"criticalCount"`
}

var moduleNameRe = regexp.MustCompile(`No module named '([^']+)'`)

// errorSuggestions map exception names to a recovery hint.
var errorSuggestions = map[string]string{
	"ModuleNotFoundError": "install the missing module with pip or conda before retrying",
	"NameError":           "make sure the variable or function is defined before it is used",
	"SyntaxError":         "fix the syntax error in the generated code",
	"TypeError":           "check the argument types passed to the failing call",
	"ValueError":          "check the values passed to the failing call",
	"KeyError":            "check that the dictionary key or column name exists",
	"IndexError":          "check that the index is within the sequence bounds",
	"FileNotFoundError":   "check that the file path exists and is readable",
	"AttributeError":      "check that the object actually has that attribute or method",
}

const defaultSuggestion = "review the error message and traceback, then adjust the code"

// Verifier scores execution results against step expectations and keeps a
// bounded history for trend reporting. Safe for concurrent use.
type Verifier struct {
	mu      sync.Mutex
	history []Result
}

// New creates a verifier with empty history.
func New() *Verifier {
	return &Verifier{}
}

// Verify checks an execution result against the step's expectations.
// previousVariables and currentVariables are kernel namespace snapshots taken
// before and after the cell ran.
func (v *Verifier) Verify(result ExecutionResult, expected Expectations, previousVariables, currentVariables []string) Result {
	outputMatch := 1.0
	variableCreation := 1.0
	noExceptions := 1.0
	executionComplete := 1.0

	var mismatches []Mismatch

	failed := result.Status == "error"
	if failed {
		noExceptions = 0
		executionComplete = 0
		mismatches = append(mismatches, v.exceptionMismatch(result.Error))
	}

	if len(expected.Variables) > 0 {
		score, missing := checkVariables(expected.Variables, previousVariables, currentVariables)
		variableCreation = score
		mismatches = append(mismatches, missing...)
	}

	if len(expected.OutputPatterns) > 0 {
		score, missing := checkOutputPatterns(expected.OutputPatterns, result)
		outputMatch = score
		mismatches = append(mismatches, missing...)
	}

	// An import failure is always worth surfacing, whether or not the step
	// declared expected imports.
	if failed {
		if m, ok := importMismatch(result.Error); ok {
			mismatches = append(mismatches, m)
		}
	}

	confidence := clamp01(weightOutputMatch*outputMatch +
		weightVariableCreation*variableCreation +
		weightNoExceptions*noExceptions +
		weightExecutionComplete*executionComplete)

	res := Result{
		IsValid:        !hasCritical(mismatches),
		Confidence:     confidence,
		Mismatches:     mismatches,
		Recommendation: recommend(confidence, mismatches),
		VerifiedAt:     time.Now(),
	}

	v.mu.Lock()
	v.history = append(v.history, res)
	if len(v.history) > maxHistory {
		v.history = v.history[len(v.history)-maxHistory:]
	}
	v.mu.Unlock()

	return res
}

func (v *Verifier) exceptionMismatch(execErr *ExecutionError) Mismatch {
	ename := "UnknownError"
	evalue := ""
	if execErr != nil {
		if execErr.Ename != "" {
			ename = execErr.Ename
		}
		evalue = execErr.Evalue
	}

	suggestion, ok := errorSuggestions[ename]
	if !ok {
		suggestion = defaultSuggestion
	}

	return Mismatch{
		Type:        MismatchException,
		Severity:    SeverityCritical,
		Description: fmt.Sprintf("execution raised %s", ename),
		Expected:    "successful execution",
		Actual:      evalue,
		Suggestion:  suggestion,
	}
}

func checkVariables(expected, previous, current []string) (float64, []Mismatch) {
	before := make(map[string]bool, len(previous))
	for _, name := range previous {
		before[name] = true
	}
	created := make(map[string]bool)
	for _, name := range current {
		if !before[name] {
			created[name] = true
		}
	}

	matches := 0
	var mismatches []Mismatch
	for _, name := range expected {
		if created[name] {
			matches++
			continue
		}
		mismatches = append(mismatches, Mismatch{
			Type:        MismatchVariableMissing,
			Severity:    SeverityMajor,
			Description: fmt.Sprintf("expected variable '%s' was not created", name),
			Expected:    name,
			Actual:      "not present in kernel namespace",
			Suggestion:  fmt.Sprintf("check that the code creating variable '%s' ran correctly", name),
		})
	}

	return float64(matches) / float64(len(expected)), mismatches
}

func checkOutputPatterns(patterns []string, result ExecutionResult) (float64, []Mismatch) {
	combined := result.Output + result.Result

	matches := 0
	var mismatches []Mismatch
	for _, pattern := range patterns {
		if matchesPattern(pattern, combined) {
			matches++
			continue
		}
		mismatches = append(mismatches, Mismatch{
			Type:        MismatchOutput,
			Severity:    SeverityMinor,
			Description: fmt.Sprintf("output does not match pattern '%s'", pattern),
			Expected:    pattern,
			Actual:      truncate(combined, 100),
			Suggestion:  "check that the code produces the expected output",
		})
	}

	return float64(matches) / float64(len(patterns)), mismatches
}

// matchesPattern tries the pattern as a case-insensitive regular expression,
// falling back to a substring check when it does not compile.
func matchesPattern(pattern, text string) bool {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return strings.Contains(strings.ToLower(text), strings.ToLower(pattern))
	}
	return re.MatchString(text)
}

func importMismatch(execErr *ExecutionError) (Mismatch, bool) {
	if execErr == nil {
		return Mismatch{}, false
	}
	if execErr.Ename != "ModuleNotFoundError" && execErr.Ename != "ImportError" {
		return Mismatch{}, false
	}

	module := "unknown"
	if m := moduleNameRe.FindStringSubmatch(execErr.Evalue); m != nil {
		module = m[1]
	}

	return Mismatch{
		Type:        MismatchImportFailed,
		Severity:    SeverityCritical,
		Description: fmt.Sprintf("import of '%s' failed", module),
		Expected:    fmt.Sprintf("module '%s' available", module),
		Actual:      execErr.Evalue,
		Suggestion:  fmt.Sprintf("pip install %s or conda install %s", module, module),
	}, true
}

func hasCritical(mismatches []Mismatch) bool {
	for _, m := range mismatches {
		if m.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

func recommend(confidence float64, mismatches []Mismatch) Recommendation {
	switch {
	case confidence >= proceedThreshold && !hasCritical(mismatches):
		return RecommendProceed
	case confidence >= warningThreshold && !hasCritical(mismatches):
		return RecommendWarning
	case confidence >= replanThreshold:
		return RecommendReplan
	default:
		return RecommendEscalate
	}
}

// RecentHistory returns the last n verification results, newest last.
func (v *Verifier) RecentHistory(n int) []Result {
	v.mu.Lock()
	defer v.mu.Unlock()

	if n <= 0 || n > len(v.history) {
		n = len(v.history)
	}
	out := make([]Result, n)
	copy(out, v.history[len(v.history)-n:])
	return out
}

// ConfidenceTrend reports whether verification quality is improving,
// declining, or stable over the recorded history.
func (v *Verifier) ConfidenceTrend() Trend {
	v.mu.Lock()
	defer v.mu.Unlock()

	criticalCount := 0
	for _, r := range v.history {
		if !r.IsValid {
			criticalCount++
		}
	}

	if len(v.history) < 2 {
		average := 1.0
		if len(v.history) == 1 {
			average = v.history[0].Confidence
		}
		return Trend{Average: average, Direction: "stable", CriticalCount: criticalCount}
	}

	total := 0.0
	for _, r := range v.history {
		total += r.Confidence
	}
	average := total / float64(len(v.history))

	recentN := len(v.history)
	if recentN > 3 {
		recentN = 3
	}
	recentSum := 0.0
	for _, r := range v.history[len(v.history)-recentN:] {
		recentSum += r.Confidence
	}
	recentAvg := recentSum / float64(recentN)

	previous := v.history[:len(v.history)-recentN]
	previousAvg := average
	if len(previous) > 0 {
		sum := 0.0
		for _, r := range previous {
			sum += r.Confidence
		}
		previousAvg = sum / float64(len(previous))
	}

	direction := "stable"
	switch {
	case recentAvg > previousAvg+0.1:
		direction = "improving"
	case recentAvg < previousAvg-0.1:
		direction = "declining"
	}

	return Trend{Average: average, Direction: direction, CriticalCount: criticalCount}
}

// ClearHistory drops all recorded results.
func (v *Verifier) ClearHistory() {
	v.mu.Lock()
	v.history = nil
	v.mu.Unlock()
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
