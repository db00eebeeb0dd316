package vision

import (
	"errors"
	"testing"

	"github.com/raysh454/miru/internal/model"
)

func TestParseAssessmentBareJSON(t *testing.T) {
	a, err := parseAssessment(`{"severity":"moderate","categories":["layout"],"confidence":0.85,"reasoning":"nav bar shifted"}`)
	if err != nil {
		t.Fatalf("parseAssessment: %v", err)
	}
	if a.Severity != model.AISeverityModerate {
		t.Fatalf("severity = %q, want moderate", a.Severity)
	}
	if len(a.Categories) != 1 || a.Categories[0] != "layout" {
		t.Fatalf("categories = %v", a.Categories)
	}
	if a.Confidence != 0.85 {
		t.Fatalf("confidence = %v", a.Confidence)
	}
}

func TestParseAssessmentWrappedInProse(t *testing.T) {
	text := "Here is my analysis:\n```json\n{\"severity\":\"minor\",\"confidence\":0.7}\n```\nLet me know if you need more detail."
	a, err := parseAssessment(text)
	if err != nil {
		t.Fatalf("parseAssessment: %v", err)
	}
	if a.Severity != model.AISeverityMinor {
		t.Fatalf("severity = %q, want minor", a.Severity)
	}
}

func TestParseAssessmentBracesInStrings(t *testing.T) {
	a, err := parseAssessment(`{"severity":"none","reasoning":"the {button} element is unchanged","confidence":1}`)
	if err != nil {
		t.Fatalf("parseAssessment: %v", err)
	}
	if a.Reasoning != "the {button} element is unchanged" {
		t.Fatalf("reasoning = %q", a.Reasoning)
	}
}

func TestParseAssessmentConfidenceClamped(t *testing.T) {
	a, err := parseAssessment(`{"severity":"breaking","confidence":1.7}`)
	if err != nil {
		t.Fatalf("parseAssessment: %v", err)
	}
	if a.Confidence != 1 {
		t.Fatalf("confidence = %v, want clamped to 1", a.Confidence)
	}
}

func TestParseAssessmentErrors(t *testing.T) {
	cases := []struct {
		name string
		text string
	}{
		{"no json", "I could not compare the images."},
		{"unterminated", `{"severity":"minor"`},
		{"missing severity", `{"confidence":0.5}`},
		{"unknown severity", `{"severity":"catastrophic"}`},
		{"not valid json", `{"severity":moderate}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := parseAssessment(tc.text); !errors.Is(err, model.ErrResponseParse) {
				t.Fatalf("err = %v, want ErrResponseParse", err)
			}
		})
	}
}

func TestExtractEmbeddedJSONPicksFirstObject(t *testing.T) {
	got := extractEmbeddedJSON(`prefix {"a":1} suffix {"b":2}`)
	if got != `{"a":1}` {
		t.Fatalf("extracted %q", got)
	}
}
