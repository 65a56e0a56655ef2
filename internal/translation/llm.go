package translation

import (
	"context"
	"encoding/json"
	"fmt"

	"avsrt/internal/language"
	"avsrt/internal/services"
	"avsrt/internal/services/llm"
)

const subtitlePrompt = `You translate subtitle lines for a video.
Translate every entry of "lines" from the source language to the target language.
Keep each entry short enough to read on screen. Do not merge, split, reorder or skip entries.
Respond with JSON only: {"translations": ["..."]} with exactly one string per input line, in the same order.`

// Completer is the chat surface the LLM backend needs.
type Completer interface {
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// LLM translates through a JSON chat completion.
type LLM struct {
	client Completer
}

// NewLLM wraps client. *llm.Client satisfies Completer.
func NewLLM(client Completer) *LLM {
	return &LLM{client: client}
}

type llmRequest struct {
	Source string   `json:"source"`
	Target string   `json:"target"`
	Lines  []string `json:"lines"`
}

type llmReply struct {
	Translations []string `json:"translations"`
}

func (l *LLM) Translate(ctx context.Context, texts []string, source, target string) ([]string, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	prompt, err := json.Marshal(llmRequest{
		Source: language.DisplayName(source),
		Target: language.DisplayName(target),
		Lines:  texts,
	})
	if err != nil {
		return nil, services.Wrap(services.ErrTranslation, "translate", "llm", "encode prompt", err)
	}
	content, err := l.client.CompleteJSON(ctx, subtitlePrompt, string(prompt))
	if err != nil {
		return nil, services.Wrap(services.ErrTranslation, "translate", "llm", "", err)
	}
	var reply llmReply
	if err := llm.DecodeLLMJSON(content, &reply); err != nil {
		return nil, services.Wrap(services.ErrTranslation, "translate", "llm", "parse reply", err)
	}
	if len(reply.Translations) != len(texts) {
		return nil, services.Wrap(services.ErrTranslation, "translate", "llm",
			fmt.Sprintf("expected %d translations, got %d", len(texts), len(reply.Translations)), nil)
	}
	return reply.Translations, nil
}
