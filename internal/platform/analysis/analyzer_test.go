package analysis

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

type fakeCompleter struct {
	content string
	err     error
	lastReq openai.ChatCompletionRequest
}

func (f *fakeCompleter) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.lastReq = req
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: f.content}}},
	}, nil
}

var hints = []CodeHint{
	{Code: "530.1", Description: "Karyotype analysis"},
	{Code: "530.2", Description: "FISH panel"},
}

func newFakeAnalyzer(f *fakeCompleter) *Analyzer {
	return &Analyzer{client: f, model: "test-model", logger: zerolog.Nop()}
}

func TestAnalyze_DisabledWithoutKey(t *testing.T) {
	a := NewAnalyzer("", "", zerolog.Nop())
	if a.Enabled() {
		t.Fatal("expected analyzer to be disabled")
	}
	res := a.Analyze(context.Background(), "some note", hints)
	if len(res.SuggestedCodes) != 0 || res.Summary != "" {
		t.Errorf("expected empty result, got %+v", res)
	}
}

func TestAnalyze_FiltersUnknownCodes(t *testing.T) {
	f := &fakeCompleter{content: `{"suggested_codes":["530.2","999.9","530.2"],"summary":" Follow-up FISH. "}`}
	res := newFakeAnalyzer(f).Analyze(context.Background(), "FISH repeated", hints)

	if len(res.SuggestedCodes) != 1 || res.SuggestedCodes[0] != "530.2" {
		t.Errorf("expected [530.2], got %v", res.SuggestedCodes)
	}
	if res.Summary != "Follow-up FISH." {
		t.Errorf("unexpected summary %q", res.Summary)
	}
	if f.lastReq.Model != "test-model" {
		t.Errorf("expected model test-model, got %s", f.lastReq.Model)
	}
	if !strings.Contains(f.lastReq.Messages[1].Content, "530.1: Karyotype analysis") {
		t.Error("expected code catalog in prompt")
	}
}

func TestAnalyze_ModelErrorYieldsEmpty(t *testing.T) {
	f := &fakeCompleter{err: errors.New("rate limited")}
	res := newFakeAnalyzer(f).Analyze(context.Background(), "note", hints)
	if len(res.SuggestedCodes) != 0 || res.Summary != "" {
		t.Errorf("expected empty result, got %+v", res)
	}
}

func TestAnalyze_MalformedJSON(t *testing.T) {
	f := &fakeCompleter{content: "not json"}
	res := newFakeAnalyzer(f).Analyze(context.Background(), "note", hints)
	if len(res.SuggestedCodes) != 0 {
		t.Errorf("expected no codes, got %v", res.SuggestedCodes)
	}
}

func TestAnalyze_BlankNoteSkipsModel(t *testing.T) {
	f := &fakeCompleter{content: `{"suggested_codes":["530.1"]}`}
	newFakeAnalyzer(f).Analyze(context.Background(), "   ", hints)
	if f.lastReq.Model != "" {
		t.Error("model should not be called for a blank note")
	}
}
