package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	openaisdk "github.com/openai/openai-go"

	contractx "github.com/tanpawarit/chative-lead-dispatch/agent/contract"
	"github.com/tanpawarit/chative-lead-dispatch/pkg/metrics"
)

// Completions calls the chat completions API directly, without an eino graph.
type Completions struct {
	client       *openaisdk.Client
	model        string
	temperature  float64
	maxTokens    int64
	systemPrompt string
	timeout      time.Duration
}

var _ contractx.Generator = (*Completions)(nil)

func NewCompletions(client *openaisdk.Client, model string, temperature float32, maxTokens int, systemPrompt string, timeout time.Duration) (*Completions, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: openai client is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("%w: model is required", contractx.ErrValidation)
	}
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Completions{
		client:       client,
		model:        strings.TrimSpace(model),
		temperature:  float64(temperature),
		maxTokens:    int64(maxTokens),
		systemPrompt: systemPrompt,
		timeout:      timeout,
	}, nil
}

func (c *Completions) Generate(ctx context.Context, prompt string, gc contractx.GenerationContext) (text string, err error) {
	defer func() { metrics.GeneratorCalls.WithLabelValues(metrics.Result(err)).Inc() }()

	input, err := userInput(prompt, gc)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := openaisdk.ChatCompletionNewParams{
		Model: openaisdk.ChatModel(c.model),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.SystemMessage(c.systemPrompt),
			openaisdk.UserMessage(input),
		},
		Temperature: openaisdk.Float(c.temperature),
	}
	if c.maxTokens > 0 {
		params.MaxTokens = openaisdk.Int(c.maxTokens)
	}

	res, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("%w: completions: %v", contractx.ErrModelInvoke, err)
	}
	if len(res.Choices) == 0 || strings.TrimSpace(res.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("%w: completions returned no text", contractx.ErrModelInvoke)
	}
	return strings.TrimSpace(res.Choices[0].Message.Content), nil
}
