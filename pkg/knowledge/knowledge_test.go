package knowledge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allGuides = []string{"dask", "matplotlib", "modin", "polars", "pyspark", "ray", "vaex"}

func TestDetector_ExplicitMention(t *testing.T) {
	d := NewDetector()

	assert.Equal(t, []string{"dask"},
		d.Detect("apply dask to this dataframe", allGuides, nil))
	assert.Equal(t, []string{"polars"},
		d.Detect("use pl.read_csv for speed", allGuides, nil))
	assert.Equal(t, []string{"matplotlib"},
		d.Detect("draw it with seaborn", allGuides, nil))
	assert.Equal(t, []string{"matplotlib"},
		d.Detect("plt.plot(x, y)", allGuides, nil))
}

func TestDetector_KeywordScoring(t *testing.T) {
	d := NewDetector()

	// "histogram" scores 0.8, above the threshold
	assert.Equal(t, []string{"matplotlib"},
		d.Detect("show a histogram of ages", allGuides, nil))

	// "graph" alone scores 0.6, below the threshold
	assert.Empty(t, d.Detect("make a graph", allGuides, nil))

	// Korean keywords work the same way
	assert.Equal(t, []string{"matplotlib"},
		d.Detect("나이 분포를 히스토그램으로 보여줘", allGuides, nil))
	assert.Equal(t, []string{"dask"},
		d.Detect("대용량 데이터를 처리해줘", allGuides, nil))
}

func TestDetector_RestrictedToAvailableGuides(t *testing.T) {
	d := NewDetector()

	assert.Empty(t, d.Detect("apply dask here", []string{"matplotlib"}, nil))
}

func TestDetector_ImportedLibraries(t *testing.T) {
	d := NewDetector()

	assert.Equal(t, []string{"dask"},
		d.Detect("continue the analysis", allGuides, []string{"dask"}))

	// seaborn import pulls in the matplotlib guide
	assert.Equal(t, []string{"matplotlib"},
		d.Detect("continue the analysis", allGuides, []string{"seaborn"}))
}

func TestDetector_MultipleLibrariesSorted(t *testing.T) {
	d := NewDetector()

	got := d.Detect("use dask and visualize results with matplotlib", allGuides, nil)
	assert.Equal(t, []string{"dask", "matplotlib"}, got)
}

func writeGuides(t *testing.T, guides map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range guides {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name+".md"), []byte(content), 0o644))
	}
	return dir
}

func TestBase_LoadGuides(t *testing.T) {
	dir := writeGuides(t, map[string]string{
		"dask":   "use dd.read_csv",
		"polars": "use pl.read_csv",
	})
	b := NewBase(dir)

	assert.Equal(t, []string{"dask", "polars"}, b.AvailableLibraries())

	joined := b.LoadGuides([]string{"polars", "dask"})
	assert.Contains(t, joined, "## DASK 라이브러리 API 가이드\n\nuse dd.read_csv")
	assert.Contains(t, joined, "## POLARS 라이브러리 API 가이드\n\nuse pl.read_csv")
	assert.Contains(t, joined, "\n\n---\n\n")

	// Sorted regardless of input order
	assert.Less(t,
		indexOf(joined, "DASK"), indexOf(joined, "POLARS"))
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func TestBase_MissingGuide(t *testing.T) {
	b := NewBase(writeGuides(t, map[string]string{"dask": "guide"}))

	_, ok := b.LoadGuide("polars")
	assert.False(t, ok)

	assert.Equal(t, "", b.LoadGuides([]string{"polars"}))
	assert.Equal(t, "", b.FormatKnowledgeSection(nil))
}

func TestBase_FormatKnowledgeSection(t *testing.T) {
	b := NewBase(writeGuides(t, map[string]string{"dask": "guide body"}))

	section := b.FormatKnowledgeSection([]string{"dask"})
	assert.Contains(t, section, "라이브러리 API 참조")
	assert.Contains(t, section, "guide body")
}

func TestBase_DetectionPrompt(t *testing.T) {
	b := NewBase(writeGuides(t, map[string]string{"dask": "guide"}))

	prompt := b.DetectionPrompt("analyze this", []string{"pandas"})
	assert.Contains(t, prompt, "- **dask**:")
	assert.Contains(t, prompt, "analyze this")
	assert.Contains(t, prompt, "pandas")
}
