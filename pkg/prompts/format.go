package prompts

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/lks21c/hdsp-agent/pkg/plan"
)

// defaultLibraries is assumed when the caller has no package inventory.
var defaultLibraries = []string{"pandas", "numpy", "matplotlib"}

var (
	pythonFenceRe  = regexp.MustCompile("```python\\s*([\\s\\S]*?)\\s*```")
	genericFenceRe = regexp.MustCompile("```\\s*([\\s\\S]*?)\\s*```")
)

// FormatPlanPrompt builds the plan generation prompt. knowledgeSection is the
// optional library API guide block produced by the knowledge base.
func FormatPlanPrompt(request string, ctx plan.NotebookContext, installedPackages []string, knowledgeSection string) string {
	return fmt.Sprintf(planTemplate,
		ctx.CellCount,
		joinOrNone(ctx.ImportedLibraries),
		joinOrNone(ctx.DefinedVariables),
		formatPackages(installedPackages),
		formatRecentCells(ctx.RecentCells),
		knowledgeBlock(knowledgeSection),
		request,
	)
}

// FormatStructuredPlanPrompt builds the checkpoint-aware plan prompt.
func FormatStructuredPlanPrompt(request string, ctx plan.NotebookContext, installedPackages []string, knowledgeSection string) string {
	return fmt.Sprintf(structuredPlanTemplate,
		ctx.CellCount,
		joinOrNone(ctx.ImportedLibraries),
		joinOrNone(ctx.DefinedVariables),
		formatPackages(installedPackages),
		formatRecentCells(ctx.RecentCells),
		knowledgeBlock(knowledgeSection),
		request,
	)
}

// FormatRefinePrompt builds the error correction prompt.
func FormatRefinePrompt(originalCode string, errInfo plan.ErrorInfo, attempt, maxAttempts int, availableLibraries, definedVariables []string) string {
	libs := availableLibraries
	if len(libs) == 0 {
		libs = defaultLibraries
	}
	return fmt.Sprintf(refineTemplate,
		originalCode,
		errInfo.Type,
		errInfo.Message,
		errInfo.TracebackString(),
		attempt,
		maxAttempts,
		strings.Join(libs, ", "),
		joinOrNone(definedVariables),
	)
}

// FormatReplanPrompt builds the adaptive replanning prompt.
func FormatReplanPrompt(originalRequest string, executedSteps []plan.Step, failedStep plan.Step, errInfo plan.ErrorInfo, executionOutput string, installedPackages []string) string {
	stepNumber := "?"
	if failedStep.StepNumber > 0 {
		stepNumber = fmt.Sprintf("%d", failedStep.StepNumber)
	}

	return fmt.Sprintf(replanTemplate,
		originalRequest,
		formatExecutedSteps(executedSteps),
		stepNumber,
		failedStep.Description,
		failedStep.FirstCode(),
		errInfo.Type,
		errInfo.Message,
		errInfo.TracebackString(),
		orNone(executionOutput),
		formatPackages(installedPackages),
	)
}

// FormatReflectionPrompt builds the step self-evaluation prompt.
func FormatReflectionPrompt(step plan.Step, executedCode, executionStatus, executionOutput, errorMessage string, remainingSteps []plan.Step) string {
	expectedOutcome := "성공적 실행"
	criteria := none
	if step.Checkpoint != nil {
		if step.Checkpoint.ExpectedOutcome != "" {
			expectedOutcome = step.Checkpoint.ExpectedOutcome
		}
		if len(step.Checkpoint.ValidationCriteria) > 0 {
			var lines []string
			for _, c := range step.Checkpoint.ValidationCriteria {
				lines = append(lines, "- "+c)
			}
			criteria = strings.Join(lines, "\n")
		}
	}

	return fmt.Sprintf(reflectionTemplate,
		step.StepNumber,
		step.Description,
		executedCode,
		executionStatus,
		orNone(executionOutput),
		orNone(errorMessage),
		expectedOutcome,
		criteria,
		formatStepList(remainingSteps),
	)
}

// FormatFinalAnswerPrompt builds the run summary prompt.
func FormatFinalAnswerPrompt(originalRequest string, executedSteps []plan.Step, outputs []string) string {
	outputsText := none
	if len(outputs) > 0 {
		var lines []string
		for i, o := range outputs {
			if len(o) > maxOutputChars {
				o = o[:maxOutputChars]
			}
			lines = append(lines, fmt.Sprintf("[출력 %d]: %s", i+1, o))
		}
		outputsText = strings.Join(lines, "\n")
	}

	return fmt.Sprintf(finalAnswerTemplate,
		originalRequest,
		formatStepList(executedSteps),
		outputsText,
	)
}

// ExtractCode pulls a Python code block out of a free-form response, for the
// case where the LLM answered with raw code instead of the JSON envelope.
func ExtractCode(response string) (string, bool) {
	if m := pythonFenceRe.FindStringSubmatch(response); m != nil {
		return strings.TrimSpace(m[1]), true
	}
	if m := genericFenceRe.FindStringSubmatch(response); m != nil {
		return strings.TrimSpace(m[1]), true
	}
	return "", false
}

func formatRecentCells(cells []plan.Cell) string {
	if len(cells) == 0 {
		return none
	}

	var b strings.Builder
	for _, cell := range cells {
		cellType := cell.Type
		if cellType == "" {
			cellType = "code"
		}
		source := cell.Source
		if len(source) > maxRecentCellChars {
			source = source[:maxRecentCellChars]
		}
		fmt.Fprintf(&b, "\n[셀 %d] (%s):\n```\n%s\n```\n", cell.Index, cellType, source)
	}
	return b.String()
}

func formatExecutedSteps(steps []plan.Step) string {
	if len(steps) == 0 {
		return none
	}
	var lines []string
	for _, s := range steps {
		lines = append(lines, fmt.Sprintf("- Step %d: %s ✅", s.StepNumber, s.Description))
	}
	return strings.Join(lines, "\n")
}

func formatStepList(steps []plan.Step) string {
	if len(steps) == 0 {
		return none
	}
	var lines []string
	for _, s := range steps {
		lines = append(lines, fmt.Sprintf("- Step %d: %s", s.StepNumber, s.Description))
	}
	return strings.Join(lines, "\n")
}

func formatPackages(packages []string) string {
	if len(packages) == 0 {
		return none
	}
	if len(packages) > maxPackages {
		packages = packages[:maxPackages]
	}
	return strings.Join(packages, ", ")
}

func knowledgeBlock(section string) string {
	if section == "" {
		return ""
	}
	return section + "\n"
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return none
	}
	return strings.Join(items, ", ")
}

func orNone(s string) string {
	if s == "" {
		return none
	}
	return s
}
