package evaluator

import (
	"strings"
)

// Labels models like to put in front of a rewritten prompt.
var promptPrefixes = []string{"System Prompt:", "New Prompt:", "Updated Prompt:"}

// StripFences removes a surrounding markdown code fence, including its
// language tag, and trims whitespace.
func StripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// NormalizePrompt cleans a prompt written by the teacher: whitespace is
// trimmed, a leading label such as "System Prompt:" is dropped, and double
// quotes and code fences are removed wherever they appear.
func NormalizePrompt(raw string) string {
	s := strings.TrimSpace(raw)
	for _, prefix := range promptPrefixes {
		if strings.HasPrefix(s, prefix) {
			s = strings.TrimSpace(s[len(prefix):])
		}
	}
	s = strings.ReplaceAll(s, `"`, "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

// CleanJSON extracts the JSON object from a model response, dropping code
// fences and any prose around the outermost braces.
func CleanJSON(response string) string {
	response = StripFences(response)
	if strings.HasPrefix(response, "{") {
		return response
	}

	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start != -1 && end != -1 && end > start {
		return response[start : end+1]
	}

	return response
}
