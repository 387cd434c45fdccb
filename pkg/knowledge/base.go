package knowledge

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// libraryDescriptions describe each guide for the LLM detection prompt.
var libraryDescriptions = map[string]string{
	"matplotlib": "시각화, 그래프, 차트, plot, 히스토그램, 산점도, EDA, 데이터 시각화, seaborn과 함께 사용",
	"dask":       "대용량 데이터 처리, pandas 대체, 분산 처리, lazy evaluation, dd.read_csv",
	"polars":     "고성능 DataFrame, pandas 대체, Rust 기반, pl.read_csv",
	"pyspark":    "Spark 기반 분산 처리, 빅데이터, SparkSession",
	"vaex":       "대용량 데이터 탐색, out-of-core 처리",
	"modin":      "pandas 가속화, 병렬 처리",
	"ray":        "분산 컴퓨팅, 병렬 처리 프레임워크",
}

const detectionPromptTemplate = `사용자의 요청을 분석하여, 코드 작성 시 사용할 라이브러리를 판단하세요.

## 사용 가능한 라이브러리 API 가이드 목록:
%s

## 사용자 요청:
%s

## 노트북 컨텍스트:
- 이미 import된 라이브러리: %s

## 지시사항:
1. 사용자 요청을 **의미적으로** 분석하세요
2. 코드 작성 시 실제로 사용할 라이브러리만 선택하세요
3. 예: "dask를 적용해줘" → dask 선택
4. 예: "시각화 포함 EDA" → matplotlib 선택
5. 예: "pandas 대신 dask 사용" → dask 선택

## 출력 형식 (JSON만 출력):
{"libraries": ["library1", "library2"]}

빈 배열도 가능: {"libraries": []}
`

// Base loads per-library markdown guides from a directory, caching contents.
type Base struct {
	dir string

	mu    sync.RWMutex
	cache map[string]string
}

// NewBase creates a knowledge base over a guides directory. One markdown file
// per library, named after it.
func NewBase(dir string) *Base {
	return &Base{
		dir:   dir,
		cache: make(map[string]string),
	}
}

// LoadGuide returns a library's guide content.
func (b *Base) LoadGuide(library string) (string, bool) {
	b.mu.RLock()
	if content, ok := b.cache[library]; ok {
		b.mu.RUnlock()
		return content, true
	}
	b.mu.RUnlock()

	data, err := os.ReadFile(filepath.Join(b.dir, library+".md"))
	if err != nil {
		return "", false
	}

	content := string(data)
	b.mu.Lock()
	b.cache[library] = content
	b.mu.Unlock()

	return content, true
}

// LoadGuides joins the guides for the given libraries into one document.
func (b *Base) LoadGuides(libraries []string) string {
	if len(libraries) == 0 {
		return ""
	}

	sorted := append([]string(nil), libraries...)
	sort.Strings(sorted)

	var guides []string
	for _, lib := range sorted {
		if guide, ok := b.LoadGuide(lib); ok {
			guides = append(guides, fmt.Sprintf("## %s 라이브러리 API 가이드\n\n%s",
				strings.ToUpper(lib), guide))
		}
	}

	return strings.Join(guides, "\n\n---\n\n")
}

// FormatKnowledgeSection wraps the loaded guides into the section injected
// into planning prompts. Empty when no guides exist.
func (b *Base) FormatKnowledgeSection(libraries []string) string {
	knowledge := b.LoadGuides(libraries)
	if knowledge == "" {
		return ""
	}

	return fmt.Sprintf(`
## 📚 라이브러리 API 참조 (반드시 준수!)

아래 가이드의 API 사용법을 **반드시** 따르세요. 특히 ❌ 표시된 잘못된 코드를 피하고 ✅ 올바른 코드를 사용하세요.

%s

---
`, knowledge)
}

// AvailableLibraries lists libraries with a guide on disk, sorted.
func (b *Base) AvailableLibraries() []string {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil
	}

	var libs []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		libs = append(libs, strings.TrimSuffix(entry.Name(), ".md"))
	}
	sort.Strings(libs)
	return libs
}

// DetectionPrompt builds the LLM fallback prompt for library selection.
func (b *Base) DetectionPrompt(request string, importedLibraries []string) string {
	var lines []string
	for _, lib := range b.AvailableLibraries() {
		desc, ok := libraryDescriptions[lib]
		if !ok {
			desc = "기타 라이브러리"
		}
		lines = append(lines, fmt.Sprintf("- **%s**: %s", lib, desc))
	}

	imported := "없음"
	if len(importedLibraries) > 0 {
		imported = strings.Join(importedLibraries, ", ")
	}

	return fmt.Sprintf(detectionPromptTemplate, strings.Join(lines, "\n"), request, imported)
}
