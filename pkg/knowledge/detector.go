// Package knowledge detects which data libraries a user request calls for and
// loads the matching API guides for prompt injection.
package knowledge

import (
	"regexp"
	"sort"
	"strings"
)

// scoreThreshold is the minimum keyword score that counts as a detection.
const scoreThreshold = 0.7

type explicitPattern struct {
	re      *regexp.Regexp
	library string
}

// Explicit library mentions win over keyword scoring. seaborn maps to the
// matplotlib guide.
var explicitPatterns = []explicitPattern{
	{regexp.MustCompile(`(?i)\bdask\b`), "dask"},
	{regexp.MustCompile(`(?i)\bpolars\b`), "polars"},
	{regexp.MustCompile(`(?i)\bpyspark\b`), "pyspark"},
	{regexp.MustCompile(`(?i)\bvaex\b`), "vaex"},
	{regexp.MustCompile(`(?i)\bmodin\b`), "modin"},
	{regexp.MustCompile(`(?i)\bray\b`), "ray"},
	{regexp.MustCompile(`(?i)\bmatplotlib\b`), "matplotlib"},
	{regexp.MustCompile(`(?i)\bseaborn\b`), "matplotlib"},
	{regexp.MustCompile(`(?i)\bplt\.`), "matplotlib"},
	{regexp.MustCompile(`(?i)\bdd\.read`), "dask"},
	{regexp.MustCompile(`(?i)\bpl\.read`), "polars"},
	{regexp.MustCompile(`(?i)\bpl\.DataFrame`), "polars"},
}

// keywordScores holds per-library keyword weights, Korean and English.
var keywordScores = map[string]map[string]float64{
	"dask": {
		"대용량":                0.7,
		"big data":           0.7,
		"bigdata":            0.7,
		"빅데이터":               0.7,
		"lazy":               0.8,
		"lazy evaluation":    0.9,
		"out-of-core":        0.9,
		"out of core":        0.9,
		"분산 처리":              0.6,
		"distributed":        0.6,
		"parallel dataframe": 0.8,
		"병렬 데이터프레임":          0.8,
	},
	"polars": {
		"rust 기반":          0.9,
		"rust-based":       0.9,
		"fast dataframe":   0.7,
		"고성능 dataframe":    0.7,
		"빠른 데이터프레임":        0.7,
	},
	"matplotlib": {
		"시각화":           0.7,
		"visualization": 0.7,
		"visualize":     0.7,
		"plot":          0.7,
		"chart":         0.7,
		"graph":         0.6,
		"그래프":           0.6,
		"차트":            0.7,
		"histogram":     0.8,
		"히스토그램":         0.8,
		"scatter":       0.8,
		"산점도":           0.8,
		"line plot":     0.8,
		"라인 플롯":         0.8,
		"bar chart":     0.8,
		"막대 그래프":        0.8,
		"eda":           0.5,
		"탐색적 데이터 분석":    0.6,
		"figure":        0.5,
		"subplot":       0.8,
		"heatmap":       0.7,
		"히트맵":           0.7,
	},
	"pyspark": {
		"spark":         0.9,
		"sparksession":  0.95,
		"spark session": 0.95,
		"rdd":           0.9,
		"hadoop":        0.7,
		"클러스터":          0.6,
		"cluster":       0.6,
	},
	"vaex": {
		"vaex":           1.0,
		"memory mapping": 0.8,
		"메모리 매핑":         0.8,
	},
	"modin": {
		"modin":                1.0,
		"pandas 가속":           0.8,
		"pandas acceleration": 0.8,
	},
	"ray": {
		"ray":                   0.9,
		"분산 컴퓨팅":               0.7,
		"distributed computing": 0.7,
	},
}

// Detector performs deterministic library detection without LLM calls.
type Detector struct{}

// NewDetector creates a detector.
func NewDetector() *Detector {
	return &Detector{}
}

// Detect returns the libraries (sorted) a request needs, restricted to those
// with an available guide. Libraries the notebook already imports are always
// included so their guides inform refinements.
func (d *Detector) Detect(request string, availableLibraries, importedLibraries []string) []string {
	available := make(map[string]bool, len(availableLibraries))
	for _, lib := range availableLibraries {
		available[lib] = true
	}

	requestLower := strings.ToLower(request)
	detected := make(map[string]bool)

	for _, p := range explicitPatterns {
		if available[p.library] && p.re.MatchString(request) {
			detected[p.library] = true
		}
	}

	for lib, keywords := range keywordScores {
		if detected[lib] || !available[lib] {
			continue
		}
		maxScore := 0.0
		for keyword, score := range keywords {
			if strings.Contains(requestLower, strings.ToLower(keyword)) && score > maxScore {
				maxScore = score
			}
		}
		if maxScore >= scoreThreshold {
			detected[lib] = true
		}
	}

	for _, lib := range importedLibraries {
		libLower := strings.ToLower(lib)
		if libLower == "seaborn" && available["matplotlib"] {
			detected["matplotlib"] = true
		} else if available[libLower] {
			detected[libLower] = true
		}
	}

	result := make([]string, 0, len(detected))
	for lib := range detected {
		result = append(result, lib)
	}
	sort.Strings(result)
	return result
}
