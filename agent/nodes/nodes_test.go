package orchestratornode

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	contractx "github.com/tanpawarit/chative-lead-dispatch/agent/contract"
	dialoguex "github.com/tanpawarit/chative-lead-dispatch/agent/dialogue"
	statex "github.com/tanpawarit/chative-lead-dispatch/agent/state"
)

func TestValidateRequestTrimsAndBounds(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("MST", -7*3600))
	in, err := ValidateRequest(GraphInput{ClientID: " c1 ", Text: "  " + strings.Repeat("á", maxMessageLength+10)}, func() time.Time { return now })
	if err != nil {
		t.Fatalf("ValidateRequest() error = %v", err)
	}
	if in.ClientID != "c1" || len([]rune(in.Text)) != maxMessageLength {
		t.Fatalf("state = client %q, %d runes", in.ClientID, len([]rune(in.Text)))
	}
	if in.Now.Location() != time.UTC {
		t.Fatalf("Now = %v, want UTC", in.Now)
	}
}

type countingModels struct{ calls int }

func (c *countingModels) Get(context.Context, statex.PurchaseType, bool) []string {
	c.calls++
	return []string{"Jetta"}
}

func TestLoadCatalogWaitsForPurchaseType(t *testing.T) {
	t.Parallel()

	models := &countingModels{}
	in := &GraphState{Session: statex.NewSession("c1", time.Now())}
	if _, err := LoadCatalog(context.Background(), in, models); err != nil {
		t.Fatalf("LoadCatalog() error = %v", err)
	}
	if models.calls != 0 {
		t.Fatalf("catalog fetched before purchase type was known")
	}

	in.Session.Name = "Ana"
	in.Session.PurchaseType = statex.PurchaseUsed
	if _, err := LoadCatalog(context.Background(), in, models); err != nil {
		t.Fatalf("LoadCatalog() error = %v", err)
	}
	if models.calls != 1 || len(in.Snapshot.Models) != 1 {
		t.Fatalf("snapshot = %v after %d calls", in.Snapshot.Models, models.calls)
	}
}

type failingGenerator struct{}

func (failingGenerator) Generate(context.Context, string, contractx.GenerationContext) (string, error) {
	return "", contractx.ErrModelInvoke
}

func TestGenerateFallbackKeepsApologyOnFailure(t *testing.T) {
	t.Parallel()

	in := &GraphState{
		Session:  statex.NewSession("c1", time.Now()),
		Decision: dialoguex.Decision{Fallback: true},
		Reply:    contractx.Reply{Text: "Lo siento"},
	}
	out, err := GenerateFallback(context.Background(), in, failingGenerator{})
	if err != nil {
		t.Fatalf("GenerateFallback() error = %v", err)
	}
	if out.Reply.Text != "Lo siento" {
		t.Fatalf("reply = %q", out.Reply.Text)
	}
}

func TestFinalizeReply(t *testing.T) {
	t.Parallel()

	st := statex.NewSession("c1", time.Now())
	out, err := FinalizeReply(&GraphState{Session: st, Reply: contractx.Reply{Text: "  hola  "}})
	if err != nil {
		t.Fatalf("FinalizeReply() error = %v", err)
	}
	if out.Reply.Text != "hola" || out.Reply.QuickReplies == nil || out.Stage != statex.StageAwaitName {
		t.Fatalf("output = %+v", out)
	}

	_, err = FinalizeReply(&GraphState{Session: st, Reply: contractx.Reply{Text: " "}})
	if !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("empty reply error = %v", err)
	}
}
