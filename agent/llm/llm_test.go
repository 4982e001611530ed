package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/openai/openai-go/option"

	contractx "github.com/tanpawarit/chative-lead-dispatch/agent/contract"
	statex "github.com/tanpawarit/chative-lead-dispatch/agent/state"
	openrouterx "github.com/tanpawarit/chative-lead-dispatch/pkg/openrouter"
)

type fakeChatModel struct {
	reply string
	err   error
	delay time.Duration
	seen  []*schema.Message
}

func (f *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	f.seen = input
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream not implemented in fake model")
}

var leadContext = contractx.GenerationContext{
	ClientID: "c1",
	Stage:    statex.StageDispatched,
	Lead:     contractx.Lead{Name: "Ana", PurchaseType: statex.PurchaseNew, Model: "Tiguan"},
}

func TestGraphGeneratorSendsSystemAndContext(t *testing.T) {
	t.Parallel()

	fake := &fakeChatModel{reply: "  El Tiguan tiene 7 plazas.  "}
	gen, err := NewGraphGenerator(context.Background(), fake, "Eres Alex.", time.Second)
	if err != nil {
		t.Fatalf("NewGraphGenerator() error = %v", err)
	}

	out, err := gen.Generate(context.Background(), "¿cuántos asientos tiene?", leadContext)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if out != "El Tiguan tiene 7 plazas." {
		t.Fatalf("Generate() = %q", out)
	}

	if len(fake.seen) != 2 || fake.seen[0].Role != schema.System || fake.seen[0].Content != "Eres Alex." {
		t.Fatalf("messages = %+v", fake.seen)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(fake.seen[1].Content), &payload); err != nil {
		t.Fatalf("user turn is not JSON: %v", err)
	}
	if payload["message"] != "¿cuántos asientos tiene?" {
		t.Fatalf("payload = %v", payload)
	}
	lead, _ := payload["lead"].(map[string]any)
	if lead["model"] != "Tiguan" || lead["name"] != "Ana" {
		t.Fatalf("lead payload = %v", lead)
	}
}

func TestGraphGeneratorErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		model *fakeChatModel
	}{
		{name: "model error", model: &fakeChatModel{err: errors.New("502")}},
		{name: "empty reply", model: &fakeChatModel{reply: "   "}},
		{name: "timeout", model: &fakeChatModel{reply: "tarde", delay: time.Second}},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			gen, err := NewGraphGenerator(context.Background(), tc.model, "sys", 20*time.Millisecond)
			if err != nil {
				t.Fatalf("NewGraphGenerator() error = %v", err)
			}
			_, err = gen.Generate(context.Background(), "hola", leadContext)
			if !errors.Is(err, contractx.ErrModelInvoke) {
				t.Fatalf("Generate() error = %v, want ErrModelInvoke", err)
			}
		})
	}
}

func TestNewGraphGeneratorRequiresPrompt(t *testing.T) {
	t.Parallel()
	_, err := NewGraphGenerator(context.Background(), &fakeChatModel{}, " ", time.Second)
	if !errors.Is(err, contractx.ErrPromptMissing) {
		t.Fatalf("NewGraphGenerator() error = %v", err)
	}
}

func TestCompletionsGenerate(t *testing.T) {
	t.Parallel()

	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"test-model",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"Claro, con gusto."}}]}`))
	}))
	defer srv.Close()

	client := openrouterx.NewClient(openrouterx.Config{APIKey: "k", BaseURL: srv.URL + "/api/v1"}, option.WithMaxRetries(0))
	gen, err := NewCompletions(client, "test-model", 0.2, 100, "Eres Alex.", time.Second)
	if err != nil {
		t.Fatalf("NewCompletions() error = %v", err)
	}

	out, err := gen.Generate(context.Background(), "hola", leadContext)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if out != "Claro, con gusto." {
		t.Fatalf("Generate() = %q", out)
	}
	if body["model"] != "test-model" {
		t.Fatalf("request body = %v", body)
	}
	msgs, _ := body["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("messages = %v", body["messages"])
	}
}

func TestCompletionsFailureIsModelInvoke(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := openrouterx.NewClient(openrouterx.Config{APIKey: "k", BaseURL: srv.URL + "/api/v1"}, option.WithMaxRetries(0))
	gen, _ := NewCompletions(client, "test-model", 0.2, 0, "sys", time.Second)
	if _, err := gen.Generate(context.Background(), "hola", leadContext); !errors.Is(err, contractx.ErrModelInvoke) {
		t.Fatalf("Generate() error = %v", err)
	}
}

func TestNewDisabledWithoutKey(t *testing.T) {
	t.Parallel()

	gen, err := New(context.Background(), BackendEino, openrouterx.Config{}, "sys")
	if err != nil || gen != nil {
		t.Fatalf("New() = %v, %v; want nil generator", gen, err)
	}
	_, err = New(context.Background(), "bogus", openrouterx.Config{APIKey: "k"}, "sys")
	if !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("New(bogus) error = %v", err)
	}
}
