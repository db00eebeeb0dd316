package vision

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/raysh454/miru/internal/model"
)

// parseAssessment extracts the JSON object from a model's reply and decodes
// it. Models frequently wrap the object in prose or markdown fences, so the
// text is scanned for the first balanced object that decodes cleanly.
func parseAssessment(text string) (*model.VisionAssessment, error) {
	raw := extractEmbeddedJSON(text)
	if raw == "" {
		return nil, fmt.Errorf("%w: no JSON object in response", model.ErrResponseParse)
	}

	var a model.VisionAssessment
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrResponseParse, err)
	}

	switch a.Severity {
	case model.AISeverityNone, model.AISeverityMinor, model.AISeverityModerate, model.AISeverityBreaking:
	case "":
		return nil, fmt.Errorf("%w: missing severity", model.ErrResponseParse)
	default:
		return nil, fmt.Errorf("%w: unknown severity %q", model.ErrResponseParse, a.Severity)
	}

	if a.Confidence < 0 {
		a.Confidence = 0
	}
	if a.Confidence > 1 {
		a.Confidence = 1
	}
	return &a, nil
}

// extractEmbeddedJSON returns the first balanced {...} object found in text,
// or "" when there is none. Brace counting ignores braces inside JSON
// strings.
func extractEmbeddedJSON(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
