package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

// CodeHint is one billing code offered to the model as a candidate.
type CodeHint struct {
	Code        string
	Description string
}

// Result is the outcome of a note analysis. SuggestedCodes only ever holds
// codes that were offered as hints.
type Result struct {
	SuggestedCodes []string `json:"suggested_codes"`
	Summary        string   `json:"summary"`
}

type completer interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Analyzer suggests billing codes for a free-text lab note and summarizes it.
// An Analyzer without an API key is disabled and returns empty results.
type Analyzer struct {
	client completer
	model  string
	logger zerolog.Logger
}

func NewAnalyzer(apiKey, model string, logger zerolog.Logger) *Analyzer {
	a := &Analyzer{model: model, logger: logger.With().Str("component", "analysis").Logger()}
	if apiKey != "" {
		a.client = openai.NewClient(apiKey)
	}
	if a.model == "" {
		a.model = "gpt-4o-mini"
	}
	return a
}

func (a *Analyzer) Enabled() bool { return a.client != nil }

const systemPrompt = `You assist a laboratory billing clerk. Given a list of billing codes and a clinical note, ` +
	`pick the codes from the list that best match the note and write a short formal summary of the note. ` +
	`Answer with a JSON object {"suggested_codes": [string], "summary": string}. Only use codes from the list.`

// Analyze returns suggested codes and a summary for note. Model failures are
// logged and produce an empty result; they never fail the caller.
func (a *Analyzer) Analyze(ctx context.Context, note string, codes []CodeHint) Result {
	empty := Result{SuggestedCodes: []string{}}
	note = strings.TrimSpace(note)
	if !a.Enabled() || note == "" {
		return empty
	}

	var b strings.Builder
	b.WriteString("Billing codes:\n")
	for _, c := range codes {
		fmt.Fprintf(&b, "%s: %s\n", c.Code, c.Description)
	}
	b.WriteString("\nNote:\n")
	b.WriteString(note)

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: b.String()},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		Temperature:    0.2,
	})
	if err != nil {
		a.logger.Warn().Err(err).Msg("note analysis failed")
		return empty
	}
	if len(resp.Choices) == 0 {
		return empty
	}

	var raw Result
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &raw); err != nil {
		a.logger.Warn().Err(err).Msg("note analysis returned malformed json")
		return empty
	}
	return Result{
		SuggestedCodes: filterKnown(raw.SuggestedCodes, codes),
		Summary:        strings.TrimSpace(raw.Summary),
	}
}

func filterKnown(suggested []string, codes []CodeHint) []string {
	known := make(map[string]bool, len(codes))
	for _, c := range codes {
		known[c.Code] = true
	}
	out := []string{}
	seen := make(map[string]bool)
	for _, s := range suggested {
		s = strings.TrimSpace(s)
		if known[s] && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
