package ledger

import (
	"context"
	"errors"
	"testing"

	contractx "github.com/tanpawarit/chative-lead-dispatch/agent/contract"
)

func TestParseRoster(t *testing.T) {
	t.Parallel()

	got, err := ParseRoster(" ana:Ana López=5216670000001, beto=5216670000002 ,")
	if err != nil {
		t.Fatalf("ParseRoster() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != "ana" || got[0].Name != "Ana López" || got[0].Contact != "5216670000001" || !got[0].Active {
		t.Fatalf("first = %+v", got[0])
	}
	if got[1].ID != "beto" || got[1].Name != "" {
		t.Fatalf("second = %+v", got[1])
	}

	dir := NewStaticDirectory(got)
	active, _ := dir.ListActiveAdvisors(context.Background())
	if len(active) != 2 || active[0].ID != "ana" {
		t.Fatalf("active = %+v", active)
	}
}

func TestParseRosterRejectsMalformed(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"ana", "=123", "ana=", "ana=1,ana=2"} {
		if _, err := ParseRoster(raw); !errors.Is(err, contractx.ErrValidation) {
			t.Errorf("ParseRoster(%q) error = %v, want ErrValidation", raw, err)
		}
	}
}
