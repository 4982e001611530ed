// Package llm answers free-form customer questions once the lead has been handed off.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/chative-lead-dispatch/agent/contract"
	openrouterx "github.com/tanpawarit/chative-lead-dispatch/pkg/openrouter"
)

const (
	BackendEino        = "eino"
	BackendCompletions = "completions"
	BackendNone        = "none"
)

// New builds the generator for backend. A missing API key or the "none" backend yields
// a nil Generator; the engine then always answers with the apology text.
func New(ctx context.Context, backend string, cfg openrouterx.Config, systemPrompt string) (contractx.Generator, error) {
	backend = strings.ToLower(strings.TrimSpace(backend))
	if backend == BackendNone || !cfg.Enabled() {
		log.Info().Str("backend", backend).Msg("generative fallback disabled")
		return nil, nil
	}

	switch backend {
	case "", BackendEino:
		chatModel, err := cfg.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", contractx.ErrModelInvoke, err)
		}
		gen, err := NewGraphGenerator(ctx, chatModel, systemPrompt, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		return gen, nil
	case BackendCompletions:
		client := openrouterx.NewClient(cfg)
		gen, err := NewCompletions(client, cfg.Model, cfg.Temperature, cfg.MaxCompletionToken, systemPrompt, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		return gen, nil
	default:
		return nil, fmt.Errorf("%w: unknown generator backend %q", contractx.ErrValidation, backend)
	}
}

// userInput is the user turn sent to the model: the customer's text plus what we know.
func userInput(prompt string, gc contractx.GenerationContext) (string, error) {
	payload := map[string]any{
		"message": strings.TrimSpace(prompt),
		"stage":   gc.Stage,
		"lead": map[string]any{
			"name":          gc.Lead.Name,
			"purchase_type": gc.Lead.PurchaseType,
			"category":      gc.Lead.Category,
			"model":         gc.Lead.Model,
		},
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: marshal generation payload: %v", contractx.ErrValidation, err)
	}
	return string(raw), nil
}
