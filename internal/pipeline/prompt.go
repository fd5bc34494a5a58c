package pipeline

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"termscan/internal/batchapi"
	"termscan/internal/db"
)

// taskPrompt is the fixed question put to the model ahead of each
// article's metadata block.
const taskPrompt = `Does this article use any terms like "Caucasian" or "white" or "European ancestry" in a way that refers to race, ancestry, ethnicity or population?`

// verdictToolName is the function the model is forced to call.
const verdictToolName = "analyze_text"

// verdictSchemaJSON serves double duty: it goes out as the parameter
// schema of the analyze_text tool, and results are validated against it
// when they come back.
const verdictSchemaJSON = `{
	"type": "object",
	"properties": {
		"caucasian": {
			"type": "boolean",
			"description": "uses the word Caucasian, or similar"
		},
		"white": {
			"type": "boolean",
			"description": "uses the word 'white' to refer to race, ancestry, ethnicity, population or equivalent"
		},
		"european": {
			"type": "boolean",
			"description": "uses a phrase like 'European ancestry'"
		},
		"european_phrase_used": {
			"type": "string",
			"description": "the actual phrase used if european is true, blank otherwise"
		},
		"other": {
			"type": "boolean",
			"description": "uses some other phrase to describe someone with European/Caucasian/white ancestry, race, ethnicity or population"
		},
		"other_phrase_used": {
			"type": "string",
			"description": "what phrase was used if 'other' is true, blank otherwise"
		}
	},
	"required": ["caucasian", "white", "european", "european_phrase_used", "other", "other_phrase_used"]
}`

var verdictSchema = jsonschema.MustCompileString("verdict.json", verdictSchemaJSON)

// Verdict is the model's answer for one article.
type Verdict struct {
	Caucasian          bool   `json:"caucasian"`
	White              bool   `json:"white"`
	European           bool   `json:"european"`
	EuropeanPhraseUsed string `json:"european_phrase_used"`
	Other              bool   `json:"other"`
	OtherPhraseUsed    string `json:"other_phrase_used"`
}

// ParseVerdict decodes the arguments of an analyze_text tool call,
// rejecting anything that strays from the tool's own schema.
func ParseVerdict(arguments string) (Verdict, error) {
	var raw any
	if err := json.Unmarshal([]byte(arguments), &raw); err != nil {
		return Verdict{}, fmt.Errorf("parse tool arguments: %w", err)
	}
	if err := verdictSchema.Validate(raw); err != nil {
		return Verdict{}, fmt.Errorf("tool arguments do not match schema: %w", err)
	}
	var v Verdict
	if err := json.Unmarshal([]byte(arguments), &v); err != nil {
		return Verdict{}, fmt.Errorf("decode tool arguments: %w", err)
	}
	return v, nil
}

// buildPrompt renders the question plus the candidate's metadata block.
// The abstract line is omitted entirely when the article has none.
func buildPrompt(a db.Candidate) string {
	s := taskPrompt + "\n\nTITLE: " + a.Title + "\n"
	if a.Abstract != "" {
		s += "ABSTRACT: " + a.Abstract + "\n"
	}
	return s
}

// Wire shapes of one line of the batch input file.

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type toolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type requestTool struct {
	Type     string       `json:"type"`
	Function toolFunction `json:"function"`
}

type toolChoiceFunction struct {
	Name string `json:"name"`
}

type requestToolChoice struct {
	Type     string             `json:"type"`
	Function toolChoiceFunction `json:"function"`
}

type requestBody struct {
	Model      string            `json:"model"`
	Messages   []chatMessage     `json:"messages"`
	Tools      []requestTool     `json:"tools"`
	ToolChoice requestToolChoice `json:"tool_choice"`
}

type manifestLine struct {
	CustomID string      `json:"custom_id"`
	Method   string      `json:"method"`
	URL      string      `json:"url"`
	Body     requestBody `json:"body"`
}

// encodeManifestLine renders one request line of the batch input file.
// The article id rides along as the custom id and comes back on the
// matching output line.
func encodeManifestLine(a db.Candidate, model string) ([]byte, error) {
	line := manifestLine{
		CustomID: strconv.FormatInt(a.ID, 10),
		Method:   "POST",
		URL:      batchapi.ChatEndpoint,
		Body: requestBody{
			Model:    model,
			Messages: []chatMessage{{Role: "user", Content: buildPrompt(a)}},
			Tools: []requestTool{{
				Type: "function",
				Function: toolFunction{
					Name:        verdictToolName,
					Description: "Analyze text for racial/ethnic terminology",
					Parameters:  json.RawMessage(verdictSchemaJSON),
				},
			}},
			ToolChoice: requestToolChoice{
				Type:     "function",
				Function: toolChoiceFunction{Name: verdictToolName},
			},
		},
	}
	return json.Marshal(line)
}
