package pipeline

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"termscan/internal/db"
)

func TestBuildPromptIncludesAbstractOnlyWhenPresent(t *testing.T) {
	t.Parallel()

	withAbstract := db.Candidate{Article: db.Article{
		Title:    "Population structure in Finland",
		Abstract: "We sampled individuals of European ancestry.",
	}}
	got := buildPrompt(withAbstract)
	if !strings.HasPrefix(got, `Does this article use any terms like "Caucasian"`) {
		t.Fatalf("prompt lost its question: %q", got)
	}
	if !strings.Contains(got, "\n\nTITLE: Population structure in Finland\n") {
		t.Fatalf("prompt missing title line: %q", got)
	}
	if !strings.Contains(got, "ABSTRACT: We sampled individuals of European ancestry.\n") {
		t.Fatalf("prompt missing abstract line: %q", got)
	}

	titleOnly := db.Candidate{Article: db.Article{Title: "A short communication"}}
	got = buildPrompt(titleOnly)
	if strings.Contains(got, "ABSTRACT:") {
		t.Fatalf("title-only prompt should omit the abstract line: %q", got)
	}
}

func TestEncodeManifestLineShape(t *testing.T) {
	t.Parallel()

	line, err := encodeManifestLine(db.Candidate{Article: db.Article{
		ID:    42,
		Title: "Admixture mapping",
	}}, "gpt-5-mini")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if bytes.ContainsRune(line, '\n') {
		t.Fatalf("manifest line must be single-line JSON: %q", line)
	}

	var decoded struct {
		CustomID string `json:"custom_id"`
		Method   string `json:"method"`
		URL      string `json:"url"`
		Body     struct {
			Tools []struct {
				Type     string `json:"type"`
				Function struct {
					Name        string `json:"name"`
					Description string `json:"description"`
					Parameters  struct {
						Required   []string `json:"required"`
						Properties map[string]struct {
							Type string `json:"type"`
						} `json:"properties"`
					} `json:"parameters"`
				} `json:"function"`
			} `json:"tools"`
			ToolChoice struct {
				Type     string `json:"type"`
				Function struct {
					Name string `json:"name"`
				} `json:"function"`
			} `json:"tool_choice"`
		} `json:"body"`
	}
	if err := json.Unmarshal(line, &decoded); err != nil {
		t.Fatalf("decode line: %v", err)
	}
	if decoded.CustomID != "42" || decoded.Method != "POST" || decoded.URL != "/v1/chat/completions" {
		t.Fatalf("unexpected envelope: %+v", decoded)
	}
	if len(decoded.Body.Tools) != 1 {
		t.Fatalf("expected one tool, got %d", len(decoded.Body.Tools))
	}
	fn := decoded.Body.Tools[0].Function
	if fn.Name != "analyze_text" || fn.Description != "Analyze text for racial/ethnic terminology" {
		t.Fatalf("unexpected tool function: %+v", fn)
	}
	if len(fn.Parameters.Required) != 6 || len(fn.Parameters.Properties) != 6 {
		t.Fatalf("schema should require all six fields: %+v", fn.Parameters)
	}
	if fn.Parameters.Properties["european_phrase_used"].Type != "string" ||
		fn.Parameters.Properties["caucasian"].Type != "boolean" {
		t.Fatalf("unexpected property types: %+v", fn.Parameters.Properties)
	}
	if decoded.Body.ToolChoice.Type != "function" || decoded.Body.ToolChoice.Function.Name != "analyze_text" {
		t.Fatalf("tool choice must force analyze_text: %+v", decoded.Body.ToolChoice)
	}
}

func TestParseVerdict(t *testing.T) {
	t.Parallel()

	v, err := ParseVerdict(`{"caucasian":true,"white":false,"european":true,"european_phrase_used":"European ancestry","other":false,"other_phrase_used":""}`)
	if err != nil {
		t.Fatalf("parse valid verdict: %v", err)
	}
	if !v.Caucasian || v.White || !v.European || v.EuropeanPhraseUsed != "European ancestry" {
		t.Fatalf("unexpected verdict: %+v", v)
	}

	cases := []struct {
		name string
		args string
	}{
		{"not json", `verdict: yes`},
		{"missing required field", `{"caucasian":true,"white":false,"european":false,"european_phrase_used":"","other":false}`},
		{"wrong type", `{"caucasian":"yes","white":false,"european":false,"european_phrase_used":"","other":false,"other_phrase_used":""}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := ParseVerdict(tc.args); err == nil {
				t.Fatalf("expected error for %s", tc.name)
			}
		})
	}

	// Extra fields are tolerated, the schema only pins the six we use.
	if _, err := ParseVerdict(`{"caucasian":true,"white":false,"european":false,"european_phrase_used":"","other":false,"other_phrase_used":"","confidence":0.9}`); err != nil {
		t.Fatalf("extra fields should pass validation: %v", err)
	}
}
