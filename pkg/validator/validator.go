// Package validator performs pre-execution checks on generated notebook
// code: delimiter balance, undefined name detection, dependency extraction,
// a lightweight lint pass and per-library API anti-pattern rules. It is a
// lexical approximation, not a full parser; names rooted in attribute access
// are downgraded to warnings because an import in an earlier cell can
// satisfy them.
package validator

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Severity of a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Category of a validation issue.
type Category string

const (
	CategorySyntax         Category = "syntax"
	CategoryUndefinedName  Category = "undefined_name"
	CategoryUnusedImport   Category = "unused_import"
	CategoryUnusedVariable Category = "unused_variable"
	CategoryRedefinition   Category = "redefinition"
	CategoryAPIPattern     Category = "api_pattern"
)

// Issue is one problem found in the code.
type Issue struct {
	Severity Severity `json:"severity"`
	Category Category `json:"category"`
	Message  string   `json:"message"`
	Line     int      `json:"line,omitempty"`
	Column   int      `json:"column,omitempty"`
}

// Dependencies summarizes what the code defines and uses.
type Dependencies struct {
	Imports        []string            `json:"imports"`
	FromImports    map[string][]string `json:"from_imports"`
	DefinedNames   []string            `json:"defined_names"`
	UsedNames      []string            `json:"used_names"`
	UndefinedNames []string            `json:"undefined_names"`
}

// Result is the aggregate validation outcome.
type Result struct {
	IsValid      bool          `json:"is_valid"`
	Issues       []Issue       `json:"issues"`
	Dependencies *Dependencies `json:"dependencies,omitempty"`
	HasErrors    bool          `json:"has_errors"`
	HasWarnings  bool          `json:"has_warnings"`
	Summary      string        `json:"summary"`
}

// NotebookContext carries names the notebook already has in scope.
type NotebookContext struct {
	DefinedVariables  []string
	ImportedLibraries []string
}

var builtinNames = map[string]bool{}

func init() {
	for _, name := range []string{
		"True", "False", "None", "print", "len", "range", "str", "int", "float",
		"list", "dict", "set", "tuple", "bool", "type", "object", "super",
		"open", "input", "sorted", "reversed", "enumerate", "zip", "map", "filter",
		"sum", "min", "max", "abs", "round", "pow", "divmod",
		"isinstance", "issubclass", "hasattr", "getattr", "setattr", "delattr",
		"callable", "iter", "next", "id", "hash", "repr", "ascii", "bin", "hex", "oct",
		"ord", "chr", "format", "vars", "dir", "help", "locals", "globals",
		"staticmethod", "classmethod", "property", "frozenset", "bytes", "bytearray",
		"slice", "complex", "memoryview", "exec", "eval", "compile",
		"Exception", "BaseException", "ValueError", "TypeError", "KeyError",
		"IndexError", "AttributeError", "ImportError", "ModuleNotFoundError",
		"RuntimeError", "FileNotFoundError", "ZeroDivisionError", "OSError",
		"StopIteration", "GeneratorExit", "AssertionError", "NotImplementedError",
		"KeyboardInterrupt", "NotImplemented", "Ellipsis",
		"__name__", "__file__", "__doc__", "__package__",
		"In", "Out", "get_ipython", "display",
	} {
		builtinNames[name] = true
	}
}

// commonLibraryNames are aliases data science code assumes without defining.
var commonLibraryNames = map[string]bool{}

func init() {
	for _, name := range []string{
		"pd", "np", "dd", "da", "xr",
		"plt", "sns", "px", "go", "fig", "ax",
		"tf", "torch", "sk", "nn", "F", "optim",
		"scipy", "cv2", "PIL", "Image", "requests", "json", "os", "sys", "re",
		"datetime", "time", "math", "random", "collections", "itertools", "functools",
		"tqdm", "glob", "Path", "pickle", "csv", "io", "logging", "warnings",
		"gc", "subprocess", "shutil", "pathlib", "typing", "copy", "multiprocessing",
	} {
		commonLibraryNames[name] = true
	}
}

var pythonKeywords = map[string]bool{}

func init() {
	for _, kw := range []string{
		"and", "as", "assert", "async", "await", "break", "class", "continue",
		"def", "del", "elif", "else", "except", "finally", "for", "from",
		"global", "if", "import", "in", "is", "lambda", "nonlocal", "not",
		"or", "pass", "raise", "return", "try", "while", "with", "yield",
		"match", "case", "self", "cls",
	} {
		pythonKeywords[kw] = true
	}
}

var (
	identRe      = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)
	importRe     = regexp.MustCompile(`^\s*import\s+(.+)$`)
	fromImportRe = regexp.MustCompile(`^\s*from\s+([\w.]+)\s+import\s+(.+)$`)
	defRe        = regexp.MustCompile(`^\s*(?:async\s+)?def\s+([A-Za-z_]\w*)`)
	classRe      = regexp.MustCompile(`^\s*class\s+([A-Za-z_]\w*)`)
	assignRe     = regexp.MustCompile(`^\s*([A-Za-z_]\w*(?:\s*,\s*[A-Za-z_]\w*)*)\s*(?::\s*[\w\[\], .]+)?\s*=[^=]`)
	augAssignRe  = regexp.MustCompile(`^\s*([A-Za-z_]\w*)\s*(?:\+|-|\*|/|//|%|\*\*|&|\||\^|>>|<<)=`)
	forRe        = regexp.MustCompile(`\bfor\s+([A-Za-z_]\w*(?:\s*,\s*[A-Za-z_]\w*)*)\s+in\b`)
	exceptRe     = regexp.MustCompile(`\bexcept\b[^:]*\bas\s+([A-Za-z_]\w*)`)
	withAsRe     = regexp.MustCompile(`\bas\s+([A-Za-z_]\w*)`)
	lambdaRe     = regexp.MustCompile(`\blambda\s+([A-Za-z_][\w, ]*):`)
)

// Validator checks generated code against a notebook context.
type Validator struct {
	knownNames   map[string]bool
	importedLibs []string
}

// New creates a validator. Names defined or imported by earlier cells are
// treated as in scope.
func New(ctx *NotebookContext) *Validator {
	known := make(map[string]bool, len(builtinNames)+len(commonLibraryNames))
	for name := range builtinNames {
		known[name] = true
	}
	for name := range commonLibraryNames {
		known[name] = true
	}
	v := &Validator{knownNames: known}
	if ctx != nil {
		for _, name := range ctx.DefinedVariables {
			known[name] = true
		}
		for _, name := range ctx.ImportedLibraries {
			known[name] = true
		}
		v.importedLibs = ctx.ImportedLibraries
	}
	return v
}

// PreprocessMagic replaces shell (!) and magic (%) lines with pass statements
// so the rest of the analysis sees plain code.
func PreprocessMagic(code string) string {
	lines := strings.Split(code, "\n")
	for i, line := range lines {
		stripped := strings.TrimLeft(line, " \t")
		indent := line[:len(line)-len(stripped)]
		if strings.HasPrefix(stripped, "!") {
			lines[i] = indent + "pass  # shell command"
		} else if strings.HasPrefix(stripped, "%") {
			lines[i] = indent + "pass  # magic command"
		}
	}
	return strings.Join(lines, "\n")
}

// ValidateSyntax checks delimiter balance and unterminated strings.
func (v *Validator) ValidateSyntax(code string) Result {
	issues := checkDelimiters(PreprocessMagic(code))

	hasErrors := len(issues) > 0
	summary := "no syntax errors"
	if hasErrors {
		summary = fmt.Sprintf("%d syntax error(s) found", len(issues))
	}

	return Result{
		IsValid:   !hasErrors,
		Issues:    issues,
		HasErrors: hasErrors,
		Summary:   summary,
	}
}

// AnalyzeDependencies extracts imports, definitions and used names.
func (v *Validator) AnalyzeDependencies(code string) *Dependencies {
	deps := &Dependencies{
		Imports:        []string{},
		FromImports:    map[string][]string{},
		DefinedNames:   []string{},
		UsedNames:      []string{},
		UndefinedNames: []string{},
	}

	stripped := stripStringsAndComments(PreprocessMagic(code))
	lines := strings.Split(stripped, "\n")

	defined := map[string]bool{}
	used := map[string]bool{}

	for _, line := range lines {
		if m := importRe.FindStringSubmatch(line); m != nil {
			for _, clause := range strings.Split(m[1], ",") {
				clause = strings.TrimSpace(clause)
				if clause == "" {
					continue
				}
				name := clause
				if parts := strings.SplitN(clause, " as ", 2); len(parts) == 2 {
					name = strings.TrimSpace(parts[1])
				}
				deps.Imports = append(deps.Imports, name)
				defined[strings.SplitN(name, ".", 2)[0]] = true
			}
			continue
		}

		if m := fromImportRe.FindStringSubmatch(line); m != nil {
			module := m[1]
			var names []string
			for _, clause := range strings.Split(strings.Trim(m[2], "() "), ",") {
				clause = strings.TrimSpace(clause)
				if clause == "" || clause == "*" {
					continue
				}
				name := clause
				if parts := strings.SplitN(clause, " as ", 2); len(parts) == 2 {
					name = strings.TrimSpace(parts[1])
				}
				names = append(names, name)
				defined[name] = true
			}
			deps.FromImports[module] = names
			continue
		}

		if m := defRe.FindStringSubmatch(line); m != nil {
			defined[m[1]] = true
		}
		if m := classRe.FindStringSubmatch(line); m != nil {
			defined[m[1]] = true
		}
		if m := assignRe.FindStringSubmatch(line); m != nil {
			for _, target := range strings.Split(m[1], ",") {
				defined[strings.TrimSpace(target)] = true
			}
		}
		if m := augAssignRe.FindStringSubmatch(line); m != nil {
			defined[m[1]] = true
		}
		for _, m := range forRe.FindAllStringSubmatch(line, -1) {
			for _, target := range strings.Split(m[1], ",") {
				defined[strings.TrimSpace(target)] = true
			}
		}
		for _, m := range exceptRe.FindAllStringSubmatch(line, -1) {
			defined[m[1]] = true
		}
		for _, m := range withAsRe.FindAllStringSubmatch(line, -1) {
			defined[m[1]] = true
		}
		for _, m := range lambdaRe.FindAllStringSubmatch(line, -1) {
			for _, param := range strings.Split(m[1], ",") {
				defined[strings.TrimSpace(param)] = true
			}
		}
	}

	for _, ident := range identRe.FindAllString(stripped, -1) {
		if !pythonKeywords[ident] {
			used[ident] = true
		}
	}

	for name := range defined {
		if name != "" {
			deps.DefinedNames = append(deps.DefinedNames, name)
		}
	}
	for name := range used {
		deps.UsedNames = append(deps.UsedNames, name)
	}

	return deps
}

// CheckUndefinedNames reports used names with no visible definition. Names
// only seen as attribute roots (xxx.yyy) are warnings since they may be
// modules imported elsewhere.
func (v *Validator) CheckUndefinedNames(code string) []Issue {
	stripped := stripStringsAndComments(PreprocessMagic(code))
	deps := v.AnalyzeDependencies(code)

	defined := make(map[string]bool, len(deps.DefinedNames))
	for _, name := range deps.DefinedNames {
		defined[name] = true
	}

	attributeRoots := map[string]bool{}
	for _, m := range regexp.MustCompile(`([A-Za-z_]\w*)\s*\.`).FindAllStringSubmatch(stripped, -1) {
		attributeRoots[m[1]] = true
	}

	var issues []Issue
	seen := map[string]bool{}

	lines := strings.Split(stripped, "\n")
	for lineNo, line := range lines {
		for _, loc := range identRe.FindAllStringIndex(line, -1) {
			name := line[loc[0]:loc[1]]

			if pythonKeywords[name] || defined[name] || v.knownNames[name] ||
				strings.HasPrefix(name, "_") || seen[name] {
				continue
			}
			// Skip attribute members: anything directly preceded by a dot
			if loc[0] > 0 && line[loc[0]-1] == '.' {
				continue
			}
			// Skip keyword arguments (name=value inside a call)
			rest := strings.TrimLeft(line[loc[1]:], " ")
			if strings.HasPrefix(rest, "=") && !strings.HasPrefix(rest, "==") && loc[0] > 0 {
				if open := strings.LastIndexByte(line[:loc[0]], '('); open >= 0 &&
					strings.IndexByte(line[open:loc[0]], ')') < 0 {
					continue
				}
			}

			seen[name] = true
			severity := SeverityError
			message := fmt.Sprintf("'%s' is not defined", name)
			if attributeRoots[name] {
				severity = SeverityWarning
				message += " (may require a module import)"
			}
			issues = append(issues, Issue{
				Severity: severity,
				Category: CategoryUndefinedName,
				Message:  message,
				Line:     lineNo + 1,
				Column:   loc[0],
			})
		}
	}

	return issues
}

var importLineRe = regexp.MustCompile(`^\s*(?:import|from)\s`)

// StaticLint reports unused imports, unused variables and redefinitions.
// Module-level unused variables are informational only: a notebook cell often
// assigns a name for a later cell to consume.
func (v *Validator) StaticLint(code string) []Issue {
	stripped := stripStringsAndComments(PreprocessMagic(code))
	lines := strings.Split(stripped, "\n")

	type binding struct {
		line     int
		isImport bool
	}
	bindings := map[string][]binding{}
	uses := map[string]int{}

	for lineNo, line := range lines {
		if !importLineRe.MatchString(line) {
			for _, ident := range identRe.FindAllString(line, -1) {
				if !pythonKeywords[ident] {
					uses[ident]++
				}
			}
		}

		if m := importRe.FindStringSubmatch(line); m != nil {
			for _, clause := range strings.Split(m[1], ",") {
				clause = strings.TrimSpace(clause)
				if clause == "" {
					continue
				}
				name := clause
				if parts := strings.SplitN(clause, " as ", 2); len(parts) == 2 {
					name = strings.TrimSpace(parts[1])
				}
				root := strings.SplitN(name, ".", 2)[0]
				bindings[root] = append(bindings[root], binding{lineNo + 1, true})
			}
			continue
		}
		if m := fromImportRe.FindStringSubmatch(line); m != nil {
			for _, clause := range strings.Split(strings.Trim(m[2], "() "), ",") {
				clause = strings.TrimSpace(clause)
				if clause == "" || clause == "*" {
					continue
				}
				name := clause
				if parts := strings.SplitN(clause, " as ", 2); len(parts) == 2 {
					name = strings.TrimSpace(parts[1])
				}
				bindings[name] = append(bindings[name], binding{lineNo + 1, true})
			}
			continue
		}
		if m := assignRe.FindStringSubmatch(line); m != nil {
			for _, target := range strings.Split(m[1], ",") {
				target = strings.TrimSpace(target)
				bindings[target] = append(bindings[target], binding{lineNo + 1, false})
			}
		}
	}

	var issues []Issue
	for name, binds := range bindings {
		if strings.HasPrefix(name, "_") {
			continue
		}

		importCount := 0
		firstImportLine := 0
		for _, b := range binds {
			if b.isImport {
				importCount++
				if firstImportLine == 0 {
					firstImportLine = b.line
				}
			}
		}

		switch {
		case importCount > 0 && uses[name] == 0:
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Category: CategoryUnusedImport,
				Message:  fmt.Sprintf("'%s' imported but unused", name),
				Line:     firstImportLine,
			})
		case importCount == 0 && uses[name] <= len(binds):
			// Every occurrence is an assignment target, so the value is
			// never read.
			issues = append(issues, Issue{
				Severity: SeverityInfo,
				Category: CategoryUnusedVariable,
				Message:  fmt.Sprintf("'%s' is assigned but never used", name),
				Line:     binds[0].line,
			})
		}

		if importCount > 1 || (importCount > 0 && len(binds) > importCount) {
			last := binds[len(binds)-1]
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Category: CategoryRedefinition,
				Message:  fmt.Sprintf("redefinition of '%s'", name),
				Line:     last.line,
			})
		}
	}

	sort.Slice(issues, func(i, j int) bool {
		if issues[i].Line != issues[j].Line {
			return issues[i].Line < issues[j].Line
		}
		return issues[i].Message < issues[j].Message
	})
	return issues
}

type apiRule struct {
	library  string
	when     *regexp.Regexp
	unless   *regexp.Regexp
	severity Severity
	message  string
}

// apiRules flag known misuse of data libraries before the kernel hits it.
var apiRules = []apiRule{
	{
		library:  "dask",
		when:     regexp.MustCompile(`\.plot\(|plt\.(?:plot|hist|scatter|bar)\(`),
		unless:   regexp.MustCompile(`\.compute\(`),
		severity: SeverityWarning,
		message:  "dask objects are lazy; call .compute() before plotting",
	},
	{
		library:  "dask",
		when:     regexp.MustCompile(`\.iterrows\(`),
		severity: SeverityWarning,
		message:  "iterrows is not supported on dask dataframes; use map_partitions",
	},
	{
		library:  "polars",
		when:     regexp.MustCompile(`\.iterrows\(`),
		severity: SeverityError,
		message:  "polars dataframes have no iterrows; use iter_rows",
	},
	{
		library:  "polars",
		when:     regexp.MustCompile(`\binplace\s*=\s*True`),
		severity: SeverityWarning,
		message:  "polars operations are not in-place; assign the returned frame",
	},
	{
		library:  "pyspark",
		when:     regexp.MustCompile(`\.collect\(\)`),
		severity: SeverityWarning,
		message:  "collect() pulls the entire dataset to the driver; prefer take(n) or limit",
	},
	{
		library:  "matplotlib",
		when:     regexp.MustCompile(`(?s)plt\.show\(\).*plt\.savefig\(`),
		severity: SeverityWarning,
		message:  "savefig after show writes an empty figure; call savefig before show",
	},
}

var importModuleRe = regexp.MustCompile(`(?m)^\s*(?:import|from)\s+([\w.]+)`)

// CheckAPIPatterns applies per-library anti-pattern rules. A library is in
// play when the snippet imports it or the notebook already has.
func (v *Validator) CheckAPIPatterns(code string) []Issue {
	stripped := stripStringsAndComments(PreprocessMagic(code))

	libs := map[string]bool{}
	for _, m := range importModuleRe.FindAllStringSubmatch(stripped, -1) {
		libs[strings.ToLower(strings.SplitN(m[1], ".", 2)[0])] = true
	}
	for _, lib := range v.importedLibs {
		libs[strings.ToLower(lib)] = true
	}

	var issues []Issue
	for _, rule := range apiRules {
		if !libs[rule.library] {
			continue
		}
		if !rule.when.MatchString(stripped) {
			continue
		}
		if rule.unless != nil && rule.unless.MatchString(stripped) {
			continue
		}
		issues = append(issues, Issue{
			Severity: rule.severity,
			Category: CategoryAPIPattern,
			Message:  rule.message,
		})
	}
	return issues
}

func dedupeByMessage(issues []Issue) []Issue {
	seen := map[string]bool{}
	out := issues[:0]
	for _, issue := range issues {
		if seen[issue.Message] {
			continue
		}
		seen[issue.Message] = true
		out = append(out, issue)
	}
	return out
}

// FullValidation runs the syntax gate, then dependency, undefined name, lint
// and API-pattern analysis.
func (v *Validator) FullValidation(code string) Result {
	syntaxResult := v.ValidateSyntax(code)
	if syntaxResult.HasErrors {
		syntaxResult.Summary = fmt.Sprintf("validation stopped on syntax errors: %d error(s)", len(syntaxResult.Issues))
		return syntaxResult
	}

	deps := v.AnalyzeDependencies(code)
	issues := v.CheckUndefinedNames(code)
	issues = append(issues, v.StaticLint(code)...)
	issues = append(issues, v.CheckAPIPatterns(code)...)
	issues = dedupeByMessage(issues)

	undefined := map[string]bool{}
	for _, issue := range issues {
		if issue.Category == CategoryUndefinedName {
			if name := extractQuoted(issue.Message); name != "" {
				undefined[name] = true
			}
		}
	}
	deps.UndefinedNames = deps.UndefinedNames[:0]
	for name := range undefined {
		deps.UndefinedNames = append(deps.UndefinedNames, name)
	}

	hasErrors := false
	hasWarnings := false
	errorCount := 0
	warningCount := 0
	for _, issue := range issues {
		switch issue.Severity {
		case SeverityError:
			hasErrors = true
			errorCount++
		case SeverityWarning:
			hasWarnings = true
			warningCount++
		}
	}

	summary := "validation passed"
	if hasErrors {
		summary = fmt.Sprintf("validation failed: %d error(s), %d warning(s)", errorCount, warningCount)
	} else if hasWarnings {
		summary = fmt.Sprintf("validation passed (%d warning(s))", warningCount)
	}

	return Result{
		IsValid:      !hasErrors,
		Issues:       issues,
		Dependencies: deps,
		HasErrors:    hasErrors,
		HasWarnings:  hasWarnings,
		Summary:      summary,
	}
}

func extractQuoted(message string) string {
	start := strings.IndexByte(message, '\'')
	if start < 0 {
		return ""
	}
	end := strings.IndexByte(message[start+1:], '\'')
	if end < 0 {
		return ""
	}
	return message[start+1 : start+1+end]
}

// checkDelimiters verifies bracket balance and string termination.
func checkDelimiters(code string) []Issue {
	type openDelim struct {
		char byte
		line int
	}
	var stack []openDelim
	var issues []Issue

	closerFor := map[byte]byte{')': '(', ']': '[', '}': '{'}

	inString := byte(0)
	inTriple := ""
	stringLine := 0

	lines := strings.Split(code, "\n")
	for lineNo, line := range lines {
		i := 0
		for i < len(line) {
			c := line[i]

			if inTriple != "" {
				if strings.HasPrefix(line[i:], inTriple) {
					i += 3
					inTriple = ""
					continue
				}
				i++
				continue
			}
			if inString != 0 {
				if c == '\\' {
					i += 2
					continue
				}
				if c == inString {
					inString = 0
				}
				i++
				continue
			}

			switch c {
			case '#':
				i = len(line)
			case '\'', '"':
				if i+2 < len(line) && line[i+1] == c && line[i+2] == c {
					inTriple = string([]byte{c, c, c})
					stringLine = lineNo + 1
					i += 3
					continue
				}
				inString = c
				stringLine = lineNo + 1
				i++
			case '(', '[', '{':
				stack = append(stack, openDelim{c, lineNo + 1})
				i++
			case ')', ']', '}':
				if len(stack) == 0 || stack[len(stack)-1].char != closerFor[c] {
					issues = append(issues, Issue{
						Severity: SeverityError,
						Category: CategorySyntax,
						Message:  fmt.Sprintf("unmatched '%c'", c),
						Line:     lineNo + 1,
						Column:   i,
					})
					return issues
				}
				stack = stack[:len(stack)-1]
				i++
			default:
				i++
			}
		}

		// Single-quoted strings cannot span lines
		if inString != 0 {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Category: CategorySyntax,
				Message:  "unterminated string literal",
				Line:     stringLine,
			})
			return issues
		}
	}

	if inTriple != "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Category: CategorySyntax,
			Message:  "unterminated triple-quoted string",
			Line:     stringLine,
		})
	}
	for _, open := range stack {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Category: CategorySyntax,
			Message:  fmt.Sprintf("unclosed '%c'", open.char),
			Line:     open.line,
		})
		break
	}

	return issues
}

// stripStringsAndComments blanks out string literals and comments so name
// analysis does not pick identifiers out of text.
func stripStringsAndComments(code string) string {
	var sb strings.Builder
	sb.Grow(len(code))

	inString := byte(0)
	inTriple := ""

	lines := strings.Split(code, "\n")
	for lineNo, line := range lines {
		if lineNo > 0 {
			sb.WriteByte('\n')
		}
		i := 0
		for i < len(line) {
			c := line[i]

			if inTriple != "" {
				if strings.HasPrefix(line[i:], inTriple) {
					i += 3
					inTriple = ""
					continue
				}
				i++
				continue
			}
			if inString != 0 {
				if c == '\\' {
					i += 2
					continue
				}
				if c == inString {
					inString = 0
				}
				i++
				continue
			}

			switch c {
			case '#':
				i = len(line)
			case '\'', '"':
				if i+2 < len(line) && line[i+1] == c && line[i+2] == c {
					inTriple = string([]byte{c, c, c})
					i += 3
					continue
				}
				inString = c
				i++
			default:
				sb.WriteByte(c)
				i++
			}
		}
		inString = 0
	}

	return sb.String()
}
