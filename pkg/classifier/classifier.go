// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package classifier decides how to recover from a failed notebook step
// without calling an LLM. Missing modules get an install step, system library
// failures force a replan, everything else gets a code refinement.
package classifier

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/lks21c/hdsp-agent/pkg/config"
)

// Decision is the recovery action for a failed step.
type Decision string

const (
	// DecisionRefine fixes the code with the same approach.
	DecisionRefine Decision = "refine"
	// DecisionInsertSteps adds prerequisite steps (package installs).
	DecisionInsertSteps Decision = "insert_steps"
	// DecisionReplaceStep swaps in a different approach for one step.
	DecisionReplaceStep Decision = "replace_step"
	// DecisionReplanRemaining replans every step that has not run yet.
	DecisionReplanRemaining Decision = "replan_remaining"
)

// Analysis is the classification outcome.
type Analysis struct {
	Decision       Decision       `json:"decision"`
	RootCause      string         `json:"root_cause"`
	Reasoning      string         `json:"reasoning"`
	MissingPackage string         `json:"missing_package,omitempty"`
	Changes        map[string]any `json:"changes"`
}

// IsApproachProblem reports whether the failure indicts the approach rather
// than the code.
func (a *Analysis) IsApproachProblem() bool {
	return a.Decision == DecisionReplaceStep || a.Decision == DecisionReplanRemaining
}

// MissingPrerequisites lists packages the plan needs installed first.
func (a *Analysis) MissingPrerequisites() []string {
	if a.MissingPackage == "" {
		return []string{}
	}
	return []string{a.MissingPackage}
}

// packageAliases maps import names to pip package names where they differ.
var packageAliases = map[string]string{
	"sklearn":  "scikit-learn",
	"cv2":      "opencv-python",
	"PIL":      "pillow",
	"yaml":     "pyyaml",
	"bs4":      "beautifulsoup4",
	"skimage":  "scikit-image",
	"dotenv":   "python-dotenv",
	"dateutil": "python-dateutil",
}

// errorDecisionMap maps normalized error types to recovery decisions. Module
// and OS errors are special-cased before this table is consulted.
var errorDecisionMap = map[string]Decision{
	"ModuleNotFoundError": DecisionInsertSteps,
	"ImportError":         DecisionInsertSteps,
	"SyntaxError":         DecisionRefine,
	"TypeError":           DecisionRefine,
	"ValueError":          DecisionRefine,
	"KeyError":            DecisionRefine,
	"IndexError":          DecisionRefine,
	"AttributeError":      DecisionRefine,
	"NameError":           DecisionRefine,
	"ZeroDivisionError":   DecisionRefine,
	"FileNotFoundError":   DecisionRefine,
	"PermissionError":     DecisionRefine,
	"RuntimeError":        DecisionRefine,
	"AssertionError":      DecisionRefine,
	"StopIteration":       DecisionRefine,
	"RecursionError":      DecisionRefine,
	"MemoryError":         DecisionRefine,
	"OverflowError":       DecisionRefine,
	"FloatingPointError":  DecisionRefine,
	"UnicodeError":        DecisionRefine,
	"UnicodeDecodeError":  DecisionRefine,
	"UnicodeEncodeError":  DecisionRefine,
	"OSError":             DecisionRefine,
}

// dlopenPatterns detect missing system libraries on macOS, Linux and Windows.
var dlopenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)dlopen\([^)]+\).*Library not loaded.*?(\w+\.dylib)`),
	regexp.MustCompile(`(?is)cannot open shared object file.*?lib(\w+)\.so`),
	regexp.MustCompile(`(?is)DLL load failed.*?(\w+\.dll)`),
}

// moduleErrorPatterns extract the missing module name from error text.
var moduleErrorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ModuleNotFoundError: No module named ['"]([^'"]+)['"]`),
	regexp.MustCompile(`(?i)ImportError: No module named ['"]([^'"]+)['"]`),
	regexp.MustCompile(`(?i)ImportError: cannot import name ['"]([^'"]+)['"]`),
	regexp.MustCompile(`(?i)No module named ['"]([^'"]+)['"]`),
}

var errorDescriptions = map[string]string{
	"SyntaxError":       "syntax error",
	"TypeError":         "type mismatch",
	"ValueError":        "invalid value",
	"KeyError":          "missing dict/dataframe key",
	"IndexError":        "index out of range",
	"AttributeError":    "missing attribute or method",
	"NameError":         "undefined variable",
	"FileNotFoundError": "file not found",
	"ZeroDivisionError": "division by zero",
	"PermissionError":   "permission denied",
	"RuntimeError":      "runtime error",
	"MemoryError":       "out of memory",
}

// Classifier performs deterministic error classification.
type Classifier struct {
	agent *config.AgentConfig
}

// New creates a classifier that synthesizes install commands from the agent
// configuration.
func New(agent *config.AgentConfig) *Classifier {
	return &Classifier{agent: agent}
}

// Classify inspects a failed step's error and returns a recovery decision.
// installedPackages lets an import failure for an already-installed package
// fall back to refinement instead of a pointless reinstall.
func (c *Classifier) Classify(errorType, errorMessage, traceback string, installedPackages []string) Analysis {
	installed := make(map[string]bool, len(installedPackages))
	for _, pkg := range installedPackages {
		installed[strings.ToLower(pkg)] = true
	}

	normalized := NormalizeErrorType(errorType)

	if normalized == "ModuleNotFoundError" || normalized == "ImportError" {
		return c.classifyModuleError(errorMessage, traceback, installed)
	}

	if normalized == "OSError" {
		return c.classifyOSError(errorMessage, traceback)
	}

	decision, ok := errorDecisionMap[normalized]
	if !ok {
		decision = DecisionRefine
	}

	return Analysis{
		Decision:  decision,
		RootCause: describeError(normalized, errorMessage),
		Reasoning: fmt.Sprintf("%s can be resolved by fixing the code.", normalized),
		Changes:   map[string]any{"refined_code": nil},
	}
}

// ShouldUseLLM reports whether the failure is too ambiguous for the
// deterministic tables: an unrecognized error type, a repeat offender, or a
// chained traceback spanning multiple exceptions.
func (c *Classifier) ShouldUseLLM(errorType, traceback string, priorOccurrences int) bool {
	normalized := NormalizeErrorType(errorType)

	if _, known := errorDecisionMap[normalized]; !known {
		return true
	}
	if priorOccurrences >= 2 {
		return true
	}
	if strings.Count(traceback, "Traceback (most recent call last)") >= 2 {
		return true
	}
	return false
}

func (c *Classifier) classifyModuleError(errorMessage, traceback string, installed map[string]bool) Analysis {
	fullText := errorMessage + "\n" + traceback

	missing := extractMissingPackage(fullText)
	if missing == "" {
		return Analysis{
			Decision:  DecisionRefine,
			RootCause: "import error, could not extract package name",
			Reasoning: "Package name could not be determined; attempting a code fix instead.",
			Changes:   map[string]any{"refined_code": nil},
		}
	}

	pipPkg := PipPackageName(missing)

	if installed[strings.ToLower(pipPkg)] {
		return Analysis{
			Decision:  DecisionRefine,
			RootCause: fmt.Sprintf("'%s' import failed (package already installed)", missing),
			Reasoning: "The package is installed, so the import statement or code needs fixing.",
			Changes:   map[string]any{"refined_code": nil},
		}
	}

	return Analysis{
		Decision:       DecisionInsertSteps,
		RootCause:      fmt.Sprintf("module '%s' is not installed", missing),
		Reasoning:      "ModuleNotFoundError is always resolved by installing the package.",
		MissingPackage: pipPkg,
		Changes: map[string]any{
			"new_steps": []map[string]any{
				{
					"description": fmt.Sprintf("Install %s package", pipPkg),
					"toolCalls": []map[string]any{
						{
							"tool":       "jupyter_cell",
							"parameters": map[string]any{"code": c.agent.InstallCommand(pipPkg)},
						},
					},
				},
			},
		},
	}
}

func (c *Classifier) classifyOSError(errorMessage, traceback string) Analysis {
	fullText := errorMessage + "\n" + traceback

	for _, pattern := range dlopenPatterns {
		if m := pattern.FindStringSubmatch(fullText); m != nil {
			missingLib := "unknown"
			if len(m) > 1 {
				missingLib = m[1]
			}
			return Analysis{
				Decision:  DecisionReplanRemaining,
				RootCause: fmt.Sprintf("missing system library: %s", missingLib),
				Reasoning: "dlopen failures are system library problems. pip cannot fix them; a system package manager (brew/apt) install is required.",
				Changes:   map[string]any{"system_dependency": missingLib},
			}
		}
	}

	return Analysis{
		Decision:  DecisionRefine,
		RootCause: "OSError: " + truncate(errorMessage, 150),
		Reasoning: "A generic OSError gets a code fix attempt.",
		Changes:   map[string]any{"refined_code": nil},
	}
}

// NormalizeErrorType reduces an error type to its bare class name. Empty
// input defaults to RuntimeError.
func NormalizeErrorType(errorType string) string {
	if errorType == "" {
		return "RuntimeError"
	}

	if idx := strings.Index(errorType, ":"); idx >= 0 {
		errorType = strings.TrimSpace(errorType[:idx])
	}
	if idx := strings.LastIndex(errorType, "."); idx >= 0 {
		errorType = errorType[idx+1:]
	}

	return errorType
}

// PipPackageName maps an import name to its pip package name.
func PipPackageName(importName string) string {
	if pip, ok := packageAliases[importName]; ok {
		return pip
	}
	return importName
}

func extractMissingPackage(text string) string {
	for _, pattern := range moduleErrorPatterns {
		if m := pattern.FindStringSubmatch(text); m != nil {
			// Only the top-level package matters (pyarrow.lib -> pyarrow)
			return strings.SplitN(m[1], ".", 2)[0]
		}
	}
	return ""
}

func describeError(errorType, errorMsg string) string {
	base, ok := errorDescriptions[errorType]
	if !ok {
		base = errorType
	}
	return base + ": " + truncate(errorMsg, 150)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
