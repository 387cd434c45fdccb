package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreprocessMagic(t *testing.T) {
	code := "!pip install pandas\n%matplotlib inline\n    !ls\nx = 1"
	got := PreprocessMagic(code)

	assert.Equal(t,
		"pass  # shell command\npass  # magic command\n    pass  # shell command\nx = 1",
		got)
}

func TestValidateSyntax_Valid(t *testing.T) {
	v := New(nil)

	result := v.ValidateSyntax("import pandas as pd\ndf = pd.read_csv('data.csv')\nprint(df.head())")
	assert.True(t, result.IsValid)
	assert.Empty(t, result.Issues)
}

func TestValidateSyntax_UnbalancedBrackets(t *testing.T) {
	v := New(nil)

	result := v.ValidateSyntax("print(df.head()")
	require.False(t, result.IsValid)
	assert.Equal(t, CategorySyntax, result.Issues[0].Category)

	result = v.ValidateSyntax("x = [1, 2, 3))")
	assert.False(t, result.IsValid)
}

func TestValidateSyntax_UnterminatedString(t *testing.T) {
	v := New(nil)

	result := v.ValidateSyntax("s = 'hello")
	require.False(t, result.IsValid)
	assert.Contains(t, result.Issues[0].Message, "unterminated")
}

func TestValidateSyntax_MagicLinesPass(t *testing.T) {
	v := New(nil)

	result := v.ValidateSyntax("!pip install dask[complete]\ndf = dd.read_csv('x.csv')")
	assert.True(t, result.IsValid, "shell command brackets must not count")
}

func TestAnalyzeDependencies(t *testing.T) {
	v := New(nil)

	code := `import pandas as pd
from pathlib import Path
from sklearn.model_selection import train_test_split as tts

def load(path):
    return pd.read_csv(path)

df = load('data.csv')
a, b = 1, 2
for i, row in df.iterrows():
    pass
with open('f.txt') as fh:
    pass
try:
    pass
except ValueError as err:
    pass
squares = [n * n for n in range(10)]
`

	deps := v.AnalyzeDependencies(code)

	assert.Contains(t, deps.Imports, "pd")
	assert.Equal(t, []string{"Path"}, deps.FromImports["pathlib"])
	assert.Equal(t, []string{"tts"}, deps.FromImports["sklearn.model_selection"])

	for _, name := range []string{"pd", "Path", "tts", "load", "df", "a", "b", "i", "row", "fh", "err", "n", "squares"} {
		assert.Contains(t, deps.DefinedNames, name, "expected %s to be defined", name)
	}
}

func TestCheckUndefinedNames(t *testing.T) {
	v := New(nil)

	issues := v.CheckUndefinedNames("result = undefined_thing + 1")
	require.Len(t, issues, 1)
	assert.Equal(t, SeverityError, issues[0].Severity)
	assert.Contains(t, issues[0].Message, "undefined_thing")
}

func TestCheckUndefinedNames_AttributeRootIsWarning(t *testing.T) {
	v := New(nil)

	// mystery_module is only used as an attribute root, so an earlier cell
	// may have imported it
	issues := v.CheckUndefinedNames("data = mystery_module.load()")
	require.Len(t, issues, 1)
	assert.Equal(t, SeverityWarning, issues[0].Severity)
	assert.Contains(t, issues[0].Message, "module import")
}

func TestCheckUndefinedNames_KnownAliasesPass(t *testing.T) {
	v := New(nil)

	issues := v.CheckUndefinedNames("fig, ax = plt.subplots()\narr = np.zeros(3)\ndf2 = pd.DataFrame()")
	assert.Empty(t, issues)
}

func TestCheckUndefinedNames_NotebookContext(t *testing.T) {
	v := New(&NotebookContext{
		DefinedVariables:  []string{"df"},
		ImportedLibraries: []string{"dask"},
	})

	issues := v.CheckUndefinedNames("summary = df.describe()\nclient = dask.distributed")
	assert.Empty(t, issues)
}

func TestCheckUndefinedNames_UnderscorePrefixedSkipped(t *testing.T) {
	v := New(nil)

	issues := v.CheckUndefinedNames("x = _internal + 1")
	assert.Empty(t, issues)
}

func TestCheckUndefinedNames_DedupedByName(t *testing.T) {
	v := New(nil)

	issues := v.CheckUndefinedNames("a = ghost\nb = ghost\nc = ghost")
	assert.Len(t, issues, 1)
}

func TestCheckUndefinedNames_StringsIgnored(t *testing.T) {
	v := New(nil)

	issues := v.CheckUndefinedNames("msg = 'call nonexistent_fn now'\n# nonexistent_fn here too")
	assert.Empty(t, issues)
}

func TestStaticLint_UnusedImport(t *testing.T) {
	v := New(nil)

	issues := v.StaticLint("import os\nx = 1\nprint(x)\n")
	require.Len(t, issues, 1)
	assert.Equal(t, CategoryUnusedImport, issues[0].Category)
	assert.Equal(t, SeverityWarning, issues[0].Severity)
	assert.Contains(t, issues[0].Message, "'os'")
	assert.Equal(t, 1, issues[0].Line)
}

func TestStaticLint_UsedImportNotFlagged(t *testing.T) {
	v := New(nil)

	issues := v.StaticLint("import os\nprint(os.getcwd())")
	assert.Empty(t, issues)
}

func TestStaticLint_UnusedFromImport(t *testing.T) {
	v := New(nil)

	issues := v.StaticLint("from pathlib import Path, PurePath\np = Path('.')\nprint(p)")
	require.Len(t, issues, 1)
	assert.Equal(t, CategoryUnusedImport, issues[0].Category)
	assert.Contains(t, issues[0].Message, "'PurePath'")
}

func TestStaticLint_Redefinition(t *testing.T) {
	v := New(nil)

	issues := v.StaticLint("import json\nimport json\nprint(json.dumps({}))")
	require.Len(t, issues, 1)
	assert.Equal(t, CategoryRedefinition, issues[0].Category)
	assert.Contains(t, issues[0].Message, "'json'")
	assert.Equal(t, 2, issues[0].Line)
}

func TestStaticLint_ImportShadowedByAssignment(t *testing.T) {
	v := New(nil)

	issues := v.StaticLint("import csv\ncsv = 'data.csv'\nprint(csv)")
	require.Len(t, issues, 1)
	assert.Equal(t, CategoryRedefinition, issues[0].Category)
}

func TestStaticLint_UnusedVariableIsInfo(t *testing.T) {
	v := New(nil)

	issues := v.StaticLint("result = 42")
	require.Len(t, issues, 1)
	assert.Equal(t, CategoryUnusedVariable, issues[0].Category)
	assert.Equal(t, SeverityInfo, issues[0].Severity, "an unused module-level variable must not invalidate")
}

func TestCheckAPIPatterns_DaskPlotWithoutCompute(t *testing.T) {
	v := New(nil)

	code := "import dask.dataframe as dd\nddf = dd.read_csv('data.csv')\nddf['x'].plot()"
	issues := v.CheckAPIPatterns(code)
	require.Len(t, issues, 1)
	assert.Equal(t, CategoryAPIPattern, issues[0].Category)
	assert.Contains(t, issues[0].Message, ".compute()")

	withCompute := "import dask.dataframe as dd\nddf = dd.read_csv('data.csv')\nddf['x'].compute().plot()"
	assert.Empty(t, v.CheckAPIPatterns(withCompute))
}

func TestCheckAPIPatterns_NotebookContextLibraries(t *testing.T) {
	// dask was imported in an earlier cell, not in this snippet.
	v := New(&NotebookContext{ImportedLibraries: []string{"dask"}})

	issues := v.CheckAPIPatterns("ddf['x'].plot()")
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0].Message, "lazy")
}

func TestCheckAPIPatterns_PolarsIterrows(t *testing.T) {
	v := New(nil)

	issues := v.CheckAPIPatterns("import polars as pl\ndf = pl.read_csv('x.csv')\nfor row in df.iterrows():\n    pass")
	require.Len(t, issues, 1)
	assert.Equal(t, SeverityError, issues[0].Severity)
	assert.Contains(t, issues[0].Message, "iter_rows")
}

func TestCheckAPIPatterns_UnrelatedLibraryIgnored(t *testing.T) {
	v := New(nil)

	// pandas iterrows is legal; no dask or polars in sight.
	issues := v.CheckAPIPatterns("import pandas as pd\ndf = pd.read_csv('x.csv')\nfor i, row in df.iterrows():\n    pass")
	assert.Empty(t, issues)
}

func TestFullValidation_ReportsUnusedImport(t *testing.T) {
	v := New(nil)

	result := v.FullValidation("import os\nx = 1\nprint(x)\n")
	assert.True(t, result.IsValid)
	assert.True(t, result.HasWarnings)

	var found bool
	for _, issue := range result.Issues {
		if issue.Category == CategoryUnusedImport {
			found = true
		}
	}
	assert.True(t, found, "unused_import issue expected")
}

func TestFullValidation_DaskAntiPatternSurfaces(t *testing.T) {
	v := New(nil)

	result := v.FullValidation("import dask.dataframe as dd\nddf = dd.read_csv('data.csv')\nddf['x'].plot()")
	assert.True(t, result.HasWarnings)

	var found bool
	for _, issue := range result.Issues {
		if issue.Category == CategoryAPIPattern {
			found = true
		}
	}
	assert.True(t, found, "api_pattern issue expected")
}

func TestFullValidation_SyntaxGate(t *testing.T) {
	v := New(nil)

	result := v.FullValidation("print(broken")
	assert.False(t, result.IsValid)
	assert.True(t, result.HasErrors)
	assert.Nil(t, result.Dependencies)
}

func TestFullValidation_Passing(t *testing.T) {
	v := New(nil)

	result := v.FullValidation("import numpy as np\nvalues = np.arange(10)\ntotal = values.sum()")
	assert.True(t, result.IsValid)
	assert.False(t, result.HasErrors)
	assert.Equal(t, "validation passed", result.Summary)
	require.NotNil(t, result.Dependencies)
	assert.Contains(t, result.Dependencies.DefinedNames, "values")
}

func TestFullValidation_WarningsStillValid(t *testing.T) {
	v := New(nil)

	result := v.FullValidation("out = maybe_module.transform()")
	assert.True(t, result.IsValid, "warnings alone must not invalidate")
	assert.True(t, result.HasWarnings)
	assert.Contains(t, result.Dependencies.UndefinedNames, "maybe_module")
}
