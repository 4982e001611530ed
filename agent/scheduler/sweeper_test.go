package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	contractx "github.com/tanpawarit/chative-lead-dispatch/agent/contract"
	"github.com/tanpawarit/chative-lead-dispatch/agent/ledger"
	statex "github.com/tanpawarit/chative-lead-dispatch/agent/state"
)

type recordingScheduler struct {
	mu     sync.Mutex
	events []contractx.DispatchEvent
}

func (r *recordingScheduler) Schedule(_ context.Context, ev contractx.DispatchEvent, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func TestSweepEmitsOverdueTimeouts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store, err := ledger.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	mustCreate := func(a *statex.Assignment) {
		if err := store.CreateAssignment(ctx, a); err != nil {
			t.Fatalf("CreateAssignment(%s) error = %v", a.ID, err)
		}
	}
	mustCreate(statex.NewAssignment("old", "c1", "A", 0, now.Add(-10*time.Minute)))
	mustCreate(statex.NewAssignment("fresh", "c2", "A", 0, now.Add(-time.Minute)))
	mustCreate(statex.NewAssignment("done", "c3", "B", 0, now.Add(-time.Hour)))
	if err := store.ResolveAssignment(ctx, "done", statex.AssignmentAccepted, now.Add(-50*time.Minute)); err != nil {
		t.Fatalf("ResolveAssignment() error = %v", err)
	}

	rec := &recordingScheduler{}
	s := NewSweeper(store, rec, 5*time.Minute, time.Minute)
	s.now = func() time.Time { return now }

	n, err := s.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if n != 1 || len(rec.events) != 1 {
		t.Fatalf("swept %d, events %+v; want only the overdue assignment", n, rec.events)
	}
	ev := rec.events[0]
	if ev.AssignmentID != "old" || ev.Kind != contractx.EventTimedOut || ev.ClientID != "c1" {
		t.Fatalf("event = %+v", ev)
	}
	if !ev.At.Equal(now.Add(-5 * time.Minute)) {
		t.Fatalf("At = %v, want the due time", ev.At)
	}
}
