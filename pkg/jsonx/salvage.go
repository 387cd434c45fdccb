// Package jsonx extracts structured JSON from LLM responses that are almost,
// but not quite, valid JSON: fenced blocks, truncated objects, code fields
// with raw braces and bare key-value fragments.
package jsonx

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	fencedJSONRe   = regexp.MustCompile("(?s)```json\\s*(.+?)\\s*```")
	unclosedJSONRe = regexp.MustCompile("(?s)```json\\s*(.+)$")
	pythonFenceRe  = regexp.MustCompile("(?s)```python\\s*(.*?)\\s*```")
	anyFenceRe     = regexp.MustCompile("(?s)```\\s*(.*?)\\s*```")
)

// Salvage extracts a JSON object from an LLM response, trying progressively
// more forgiving strategies. Returns false when nothing parseable remains.
func Salvage(response string) (map[string]any, bool) {
	// Complete fenced block
	fenced := fencedJSONRe.FindStringSubmatch(response)
	if fenced != nil {
		jsonStr := strings.TrimSpace(fenced[1])

		if doc, ok := tryParse(jsonStr); ok {
			return doc, true
		}

		// Raw braces inside code fields break parsing. Escape them, parse,
		// then restore.
		if doc, ok := tryParse(escapeCodeBraces(jsonStr)); ok {
			unescapeCodeBraces(doc)
			return doc, true
		}

		if doc, ok := recoverIncomplete(jsonStr); ok {
			return doc, true
		}
	}

	// Fenced block that never closed (response was cut off)
	if fenced == nil {
		if unclosed := unclosedJSONRe.FindStringSubmatch(response); unclosed != nil {
			if doc, ok := recoverIncomplete(strings.TrimSpace(unclosed[1])); ok {
				return doc, true
			}
		}
	}

	// Whole response as JSON
	if doc, ok := tryParse(response); ok {
		return doc, true
	}

	// Everything from the first opening brace
	if first := strings.Index(response, "{"); first >= 0 {
		jsonStr := response[first:]
		if doc, ok := tryParse(jsonStr); ok {
			return doc, true
		}
		if doc, ok := recoverIncomplete(jsonStr); ok {
			return doc, true
		}
	}

	// Bare `"key": ...` fragment missing its enclosing braces
	stripped := strings.TrimSpace(response)
	if strings.HasPrefix(stripped, `"`) && strings.Contains(stripped, ":") && strings.Contains(stripped, "{") {
		wrapped := "{" + stripped
		if !strings.HasSuffix(strings.TrimRight(wrapped, " \t\n\r"), "}") {
			wrapped = strings.TrimRight(wrapped, " \t\n\r") + "}"
		}
		if doc, ok := tryParse(wrapped); ok {
			return doc, true
		}
		if doc, ok := recoverIncomplete(wrapped); ok {
			return doc, true
		}
	}

	return nil, false
}

func tryParse(s string) (map[string]any, bool) {
	var doc map[string]any
	if err := json.Unmarshal([]byte(s), &doc); err != nil {
		return nil, false
	}
	return doc, true
}

// recoverIncomplete truncates a cut-off JSON document at the last position
// where braces balanced, ignoring braces inside string literals.
func recoverIncomplete(jsonStr string) (map[string]any, bool) {
	braceCount := 0
	lastValidPos := -1
	inString := false
	escapeNext := false

	for i := 0; i < len(jsonStr); i++ {
		c := jsonStr[i]

		if escapeNext {
			escapeNext = false
			continue
		}
		if c == '\\' && inString {
			escapeNext = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch c {
		case '{':
			braceCount++
		case '}':
			braceCount--
			if braceCount == 0 {
				lastValidPos = i
			}
		}
	}

	if lastValidPos > 0 {
		return tryParse(jsonStr[:lastValidPos+1])
	}
	return nil, false
}

// escapeCodeBraces rewrites braces inside "code" string values as unicode
// escapes so a subsequent parse does not trip over them.
func escapeCodeBraces(jsonStr string) string {
	const marker = `"code": `

	var result strings.Builder
	result.Grow(len(jsonStr))

	i := 0
	n := len(jsonStr)

	for i < n {
		if i+len(marker) <= n && jsonStr[i:i+len(marker)] == marker {
			result.WriteString(marker)
			i += len(marker)

			for i < n && (jsonStr[i] == ' ' || jsonStr[i] == '\t' || jsonStr[i] == '\n') {
				result.WriteByte(jsonStr[i])
				i++
			}

			if i < n && jsonStr[i] == '"' {
				result.WriteByte('"')
				i++

				for i < n {
					c := jsonStr[i]
					if c == '\\' && i+1 < n {
						result.WriteString(jsonStr[i : i+2])
						i += 2
						continue
					}
					if c == '"' {
						result.WriteByte('"')
						i++
						break
					}
					if c == '{' {
						result.WriteString("\\u007b")
						i++
						continue
					}
					if c == '}' {
						result.WriteString("\\u007d")
						i++
						continue
					}
					result.WriteByte(c)
					i++
				}
			}
			continue
		}

		result.WriteByte(jsonStr[i])
		i++
	}

	return result.String()
}

// unescapeCodeBraces restores braces in "code" values that survived parsing
// as literal escape sequences.
func unescapeCodeBraces(v any) {
	switch node := v.(type) {
	case map[string]any:
		for key, value := range node {
			if key == "code" {
				if s, ok := value.(string); ok {
					s = strings.ReplaceAll(s, "\\u007b", "{")
					s = strings.ReplaceAll(s, "\\u007d", "}")
					node[key] = s
					continue
				}
			}
			unescapeCodeBraces(value)
		}
	case []any:
		for _, item := range node {
			unescapeCodeBraces(item)
		}
	}
}

// SanitizeCode strips a markdown code fence wrapper from generated code.
func SanitizeCode(code string) string {
	if code == "" {
		return code
	}

	if m := pythonFenceRe.FindStringSubmatch(code); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := anyFenceRe.FindStringSubmatch(code); m != nil {
		return strings.TrimSpace(m[1])
	}
	return code
}

// SanitizeToolCalls strips fence wrappers from notebook cell code embedded in
// a parsed response, covering both plan steps and top-level tool calls.
func SanitizeToolCalls(doc map[string]any) map[string]any {
	if doc == nil {
		return doc
	}

	if plan, ok := doc["plan"].(map[string]any); ok {
		if steps, ok := plan["steps"].([]any); ok {
			for _, rawStep := range steps {
				step, ok := rawStep.(map[string]any)
				if !ok {
					continue
				}
				sanitizeToolCallList(step["toolCalls"])
			}
		}
	}

	sanitizeToolCallList(doc["toolCalls"])

	return doc
}

func sanitizeToolCallList(raw any) {
	calls, ok := raw.([]any)
	if !ok {
		return
	}
	for _, rawCall := range calls {
		call, ok := rawCall.(map[string]any)
		if !ok || call["tool"] != "jupyter_cell" {
			continue
		}
		params, ok := call["parameters"].(map[string]any)
		if !ok {
			continue
		}
		if code, ok := params["code"].(string); ok {
			params["code"] = SanitizeCode(code)
		}
	}
}
