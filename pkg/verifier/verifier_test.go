package verifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerify_CleanExecution(t *testing.T) {
	v := New()

	res := v.Verify(ExecutionResult{Status: "ok", Output: "done"}, Expectations{}, nil, nil)

	assert.True(t, res.IsValid)
	assert.InDelta(t, 1.0, res.Confidence, 1e-9)
	assert.Empty(t, res.Mismatches)
	assert.Equal(t, RecommendProceed, res.Recommendation)
}

func TestVerify_ErrorWithoutExpectations(t *testing.T) {
	v := New()

	res := v.Verify(ExecutionResult{
		Status: "error",
		Error:  &ExecutionError{Ename: "ValueError", Evalue: "could not convert string to float"},
	}, Expectations{}, nil, nil)

	// Only the exception and completion factors drop, 0.30 + 0.30 remain.
	assert.InDelta(t, 0.6, res.Confidence, 1e-9)
	assert.False(t, res.IsValid)
	assert.Equal(t, RecommendEscalate, res.Recommendation)

	require.Len(t, res.Mismatches, 1)
	m := res.Mismatches[0]
	assert.Equal(t, MismatchException, m.Type)
	assert.Equal(t, SeverityCritical, m.Severity)
	assert.Contains(t, m.Description, "ValueError")
	assert.Equal(t, "could not convert string to float", m.Actual)
	assert.Contains(t, m.Suggestion, "values")
}

func TestVerify_UnknownErrorGetsDefaultSuggestion(t *testing.T) {
	v := New()

	res := v.Verify(ExecutionResult{
		Status: "error",
		Error:  &ExecutionError{Ename: "WeirdCustomError", Evalue: "boom"},
	}, Expectations{}, nil, nil)

	require.Len(t, res.Mismatches, 1)
	assert.Equal(t, defaultSuggestion, res.Mismatches[0].Suggestion)
}

func TestVerify_ExpectedVariables(t *testing.T) {
	v := New()

	previous := []string{"pd", "np"}
	current := []string{"pd", "np", "df"}

	res := v.Verify(ExecutionResult{Status: "ok"},
		Expectations{Variables: []string{"df", "summary"}}, previous, current)

	// df created, summary missing: variableCreation = 0.5
	assert.InDelta(t, 0.30+0.30*0.5+0.25+0.15, res.Confidence, 1e-9)
	assert.True(t, res.IsValid, "a missing variable is major, not critical")
	assert.Equal(t, RecommendWarning, res.Recommendation)

	require.Len(t, res.Mismatches, 1)
	m := res.Mismatches[0]
	assert.Equal(t, MismatchVariableMissing, m.Type)
	assert.Equal(t, SeverityMajor, m.Severity)
	assert.Equal(t, "summary", m.Expected)
	assert.Contains(t, m.Suggestion, "'summary'")
}

func TestVerify_PreexistingVariableDoesNotCount(t *testing.T) {
	v := New()

	// df existed before the cell ran, so it was not created by this step.
	res := v.Verify(ExecutionResult{Status: "ok"},
		Expectations{Variables: []string{"df"}}, []string{"df"}, []string{"df"})

	require.Len(t, res.Mismatches, 1)
	assert.Equal(t, MismatchVariableMissing, res.Mismatches[0].Type)
}

func TestVerify_OutputPatterns(t *testing.T) {
	v := New()

	res := v.Verify(ExecutionResult{Status: "ok", Output: "Rows: 1500\nDone"},
		Expectations{OutputPatterns: []string{`rows: \d+`, "missing marker"}}, nil, nil)

	// One of two patterns matched: outputMatch = 0.5
	assert.InDelta(t, 0.30*0.5+0.30+0.25+0.15, res.Confidence, 1e-9)
	assert.True(t, res.IsValid)

	require.Len(t, res.Mismatches, 1)
	m := res.Mismatches[0]
	assert.Equal(t, MismatchOutput, m.Type)
	assert.Equal(t, SeverityMinor, m.Severity)
	assert.Equal(t, "missing marker", m.Expected)
}

func TestVerify_InvalidRegexFallsBackToSubstring(t *testing.T) {
	v := New()

	res := v.Verify(ExecutionResult{Status: "ok", Output: "shape is (10, 3)"},
		Expectations{OutputPatterns: []string{"(10, 3)"}}, nil, nil)

	// "(10, 3)" is a valid regex but matches literally via group; use a truly
	// broken pattern to force the substring path.
	assert.Empty(t, res.Mismatches)

	res = v.Verify(ExecutionResult{Status: "ok", Output: "count [unclosed"},
		Expectations{OutputPatterns: []string{"[unclosed"}}, nil, nil)
	assert.Empty(t, res.Mismatches)
}

func TestVerify_OutputTruncatedInMismatch(t *testing.T) {
	v := New()

	long := make([]byte, 200)
	for i := range long {
		long[i] = 'x'
	}

	res := v.Verify(ExecutionResult{Status: "ok", Output: string(long)},
		Expectations{OutputPatterns: []string{"needle"}}, nil, nil)

	require.Len(t, res.Mismatches, 1)
	assert.Len(t, res.Mismatches[0].Actual, 103)
	assert.Equal(t, "...", res.Mismatches[0].Actual[100:])
}

func TestVerify_ImportFailure(t *testing.T) {
	v := New()

	res := v.Verify(ExecutionResult{
		Status: "error",
		Error:  &ExecutionError{Ename: "ModuleNotFoundError", Evalue: "No module named 'pyarrow'"},
	}, Expectations{Imports: []string{"pyarrow"}}, nil, nil)

	assert.False(t, res.IsValid)
	require.Len(t, res.Mismatches, 2)

	var imp *Mismatch
	for i := range res.Mismatches {
		if res.Mismatches[i].Type == MismatchImportFailed {
			imp = &res.Mismatches[i]
		}
	}
	require.NotNil(t, imp)
	assert.Equal(t, SeverityCritical, imp.Severity)
	assert.Contains(t, imp.Description, "pyarrow")
	assert.Equal(t, "pip install pyarrow or conda install pyarrow", imp.Suggestion)
}

func TestVerify_ImportFailureWithoutExpectations(t *testing.T) {
	v := New()

	res := v.Verify(ExecutionResult{
		Status: "error",
		Error:  &ExecutionError{Ename: "ModuleNotFoundError", Evalue: "No module named 'dask'"},
	}, Expectations{}, nil, nil)

	require.Len(t, res.Mismatches, 2)

	var imp *Mismatch
	for i := range res.Mismatches {
		if res.Mismatches[i].Type == MismatchImportFailed {
			imp = &res.Mismatches[i]
		}
	}
	require.NotNil(t, imp, "import_failed must not depend on declared expectations")
	assert.Contains(t, imp.Description, "dask")
}

func TestVerify_ImportFailureUnknownModule(t *testing.T) {
	v := New()

	res := v.Verify(ExecutionResult{
		Status: "error",
		Error:  &ExecutionError{Ename: "ImportError", Evalue: "cannot import name 'Window'"},
	}, Expectations{Imports: []string{"pyspark"}}, nil, nil)

	var imp *Mismatch
	for i := range res.Mismatches {
		if res.Mismatches[i].Type == MismatchImportFailed {
			imp = &res.Mismatches[i]
		}
	}
	require.NotNil(t, imp)
	assert.Contains(t, imp.Description, "unknown")
}

func TestRecommendationThresholds(t *testing.T) {
	assert.Equal(t, RecommendProceed, recommend(0.85, nil))
	assert.Equal(t, RecommendProceed, recommend(0.80, nil))
	assert.Equal(t, RecommendWarning, recommend(0.70, nil))
	assert.Equal(t, RecommendReplan, recommend(0.50, nil))
	assert.Equal(t, RecommendEscalate, recommend(0.30, nil))

	critical := []Mismatch{{Severity: SeverityCritical}}
	assert.Equal(t, RecommendEscalate, recommend(0.30, critical))
	assert.Equal(t, RecommendReplan, recommend(0.50, critical))
}

func TestRecentHistory(t *testing.T) {
	v := New()

	for i := 0; i < 8; i++ {
		v.Verify(ExecutionResult{Status: "ok"}, Expectations{}, nil, nil)
	}

	assert.Len(t, v.RecentHistory(5), 5)
	assert.Len(t, v.RecentHistory(0), 8)
	assert.Len(t, v.RecentHistory(20), 8)
}

func TestHistoryBounded(t *testing.T) {
	v := New()

	for i := 0; i < maxHistory+10; i++ {
		v.Verify(ExecutionResult{Status: "ok"}, Expectations{}, nil, nil)
	}

	assert.Len(t, v.RecentHistory(0), maxHistory)
}

func TestConfidenceTrend_Empty(t *testing.T) {
	v := New()

	trend := v.ConfidenceTrend()
	assert.InDelta(t, 1.0, trend.Average, 1e-9)
	assert.Equal(t, "stable", trend.Direction)
	assert.Equal(t, 0, trend.CriticalCount)
}

func TestConfidenceTrend_SingleEntry(t *testing.T) {
	v := New()

	v.Verify(ExecutionResult{
		Status: "error",
		Error:  &ExecutionError{Ename: "NameError", Evalue: "name 'df' is not defined"},
	}, Expectations{}, nil, nil)

	trend := v.ConfidenceTrend()
	assert.InDelta(t, 0.6, trend.Average, 1e-9)
	assert.Equal(t, "stable", trend.Direction)
	assert.Equal(t, 1, trend.CriticalCount)
}

func TestConfidenceTrend_Improving(t *testing.T) {
	v := New()

	failing := ExecutionResult{
		Status: "error",
		Error:  &ExecutionError{Ename: "TypeError", Evalue: "bad"},
	}
	for i := 0; i < 3; i++ {
		v.Verify(failing, Expectations{}, nil, nil)
	}
	for i := 0; i < 3; i++ {
		v.Verify(ExecutionResult{Status: "ok"}, Expectations{}, nil, nil)
	}

	trend := v.ConfidenceTrend()
	assert.Equal(t, "improving", trend.Direction)
	assert.Equal(t, 3, trend.CriticalCount)
}

func TestConfidenceTrend_Declining(t *testing.T) {
	v := New()

	for i := 0; i < 3; i++ {
		v.Verify(ExecutionResult{Status: "ok"}, Expectations{}, nil, nil)
	}
	failing := ExecutionResult{
		Status: "error",
		Error:  &ExecutionError{Ename: "TypeError", Evalue: "bad"},
	}
	for i := 0; i < 3; i++ {
		v.Verify(failing, Expectations{}, nil, nil)
	}

	assert.Equal(t, "declining", v.ConfidenceTrend().Direction)
}

func TestClearHistory(t *testing.T) {
	v := New()

	v.Verify(ExecutionResult{Status: "ok"}, Expectations{}, nil, nil)
	v.ClearHistory()

	assert.Empty(t, v.RecentHistory(0))
	assert.InDelta(t, 1.0, v.ConfidenceTrend().Average, 1e-9)
}
