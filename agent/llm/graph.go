package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	contractx "github.com/tanpawarit/chative-lead-dispatch/agent/contract"
	"github.com/tanpawarit/chative-lead-dispatch/pkg/metrics"
)

// GraphGenerator runs a prompt -> chat model eino graph.
type GraphGenerator struct {
	runner  compose.Runnable[map[string]any, *schema.Message]
	timeout time.Duration
}

var _ contractx.Generator = (*GraphGenerator)(nil)

func NewGraphGenerator(ctx context.Context, chatModel einomodel.BaseChatModel, systemPrompt string, timeout time.Duration) (*GraphGenerator, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("%w: chat model is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(systemPrompt) == "" {
		return nil, fmt.Errorf("%w: generator system prompt", contractx.ErrPromptMissing)
	}
	runner, err := compileGeneratorGraph(ctx, chatModel, systemPrompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrModelInvoke, err)
	}
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &GraphGenerator{runner: runner, timeout: timeout}, nil
}

func (g *GraphGenerator) Generate(ctx context.Context, prompt string, gc contractx.GenerationContext) (text string, err error) {
	defer func() { metrics.GeneratorCalls.WithLabelValues(metrics.Result(err)).Inc() }()

	input, err := userInput(prompt, gc)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	msg, err := g.runner.Invoke(ctx, map[string]any{"input": input})
	if err != nil {
		return "", fmt.Errorf("%w: generator invoke: %v", contractx.ErrModelInvoke, err)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return "", fmt.Errorf("%w: generator returned no text", contractx.ErrModelInvoke)
	}
	return strings.TrimSpace(msg.Content), nil
}

func compileGeneratorGraph(
	ctx context.Context,
	chatModel einomodel.BaseChatModel,
	systemPrompt string,
) (compose.Runnable[map[string]any, *schema.Message], error) {
	template := einoprompt.FromMessages(
		schema.FString,
		schema.SystemMessage(systemPrompt),
		schema.UserMessage("{input}"),
	)

	graph := compose.NewGraph[map[string]any, *schema.Message]()
	if err := graph.AddChatTemplateNode("prompt", template); err != nil {
		return nil, fmt.Errorf("add generator prompt node: %w", err)
	}
	if err := graph.AddChatModelNode("model", chatModel); err != nil {
		return nil, fmt.Errorf("add generator model node: %w", err)
	}
	if err := graph.AddEdge(compose.START, "prompt"); err != nil {
		return nil, fmt.Errorf("add generator edge start->prompt: %w", err)
	}
	if err := graph.AddEdge("prompt", "model"); err != nil {
		return nil, fmt.Errorf("add generator edge prompt->model: %w", err)
	}
	if err := graph.AddEdge("model", compose.END); err != nil {
		return nil, fmt.Errorf("add generator edge model->end: %w", err)
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("fallback.generator_graph"))
	if err != nil {
		return nil, fmt.Errorf("compile generator graph: %w", err)
	}
	return runner, nil
}
