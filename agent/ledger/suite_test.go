package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	contractx "github.com/tanpawarit/chative-lead-dispatch/agent/contract"
	statex "github.com/tanpawarit/chative-lead-dispatch/agent/state"
)

var t0 = time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

// runStoreSuite exercises a Store implementation against the shared ledger contract.
func runStoreSuite(t *testing.T, open func(t *testing.T) Store) {
	t.Run("one pending assignment per client", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		require.NoError(t, s.CreateAssignment(ctx, statex.NewAssignment("a1", "c1", "adv-a", 0, t0)))
		err := s.CreateAssignment(ctx, statex.NewAssignment("a2", "c1", "adv-b", 0, t0.Add(time.Second)))
		require.ErrorIs(t, err, contractx.ErrPendingAssignmentExists)

		require.NoError(t, s.CreateAssignment(ctx, statex.NewAssignment("a3", "c2", "adv-a", 0, t0)))

		p, err := s.PendingAssignment(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, "a1", p.ID)
		assert.Equal(t, "adv-a", p.AdvisorID)
		assert.Equal(t, statex.AssignmentPending, p.Status)
	})

	t.Run("resolve moves only pending rows", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		require.NoError(t, s.CreateAssignment(ctx, statex.NewAssignment("a1", "c1", "adv-a", 0, t0)))
		require.NoError(t, s.ResolveAssignment(ctx, "a1", statex.AssignmentAccepted, t0.Add(time.Minute)))

		err := s.ResolveAssignment(ctx, "a1", statex.AssignmentTimedOut, t0.Add(5*time.Minute))
		require.ErrorIs(t, err, contractx.ErrAssignmentResolved)

		got, err := s.GetAssignment(ctx, "a1")
		require.NoError(t, err)
		assert.Equal(t, statex.AssignmentAccepted, got.Status)
		require.NotNil(t, got.ResolvedAt)
		assert.True(t, got.ResolvedAt.Equal(t0.Add(time.Minute)))

		_, err = s.PendingAssignment(ctx, "c1")
		require.ErrorIs(t, err, contractx.ErrAssignmentNotFound)

		// the client may be offered again once nothing is pending
		require.NoError(t, s.CreateAssignment(ctx, statex.NewAssignment("a2", "c1", "adv-b", 0, t0.Add(time.Hour))))

		err = s.ResolveAssignment(ctx, "missing", statex.AssignmentDeclined, t0)
		require.ErrorIs(t, err, contractx.ErrAssignmentNotFound)

		err = s.ResolveAssignment(ctx, "a2", statex.AssignmentPending, t0)
		require.ErrorIs(t, err, statex.ErrInvalidTransition)
	})

	t.Run("concurrent resolution has one winner", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		require.NoError(t, s.CreateAssignment(ctx, statex.NewAssignment("a1", "c1", "adv-a", 0, t0)))

		var wg sync.WaitGroup
		results := make(chan error, 2)
		for _, to := range []statex.AssignmentStatus{statex.AssignmentAccepted, statex.AssignmentTimedOut} {
			wg.Add(1)
			go func(to statex.AssignmentStatus) {
				defer wg.Done()
				results <- s.ResolveAssignment(ctx, "a1", to, t0.Add(time.Minute))
			}(to)
		}
		wg.Wait()
		close(results)

		var ok, resolved int
		for err := range results {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, contractx.ErrAssignmentResolved):
				resolved++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, ok)
		assert.Equal(t, 1, resolved)
	})

	t.Run("lists keep asked order", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		require.NoError(t, s.CreateAssignment(ctx, statex.NewAssignment("a1", "c1", "adv-a", 0, t0)))
		require.NoError(t, s.ResolveAssignment(ctx, "a1", statex.AssignmentTimedOut, t0.Add(5*time.Minute)))
		require.NoError(t, s.CreateAssignment(ctx, statex.NewAssignment("a2", "c1", "adv-b", 0, t0.Add(5*time.Minute))))
		require.NoError(t, s.CreateAssignment(ctx, statex.NewAssignment("b1", "c2", "adv-a", 0, t0.Add(10*time.Minute))))

		all, err := s.ListAssignments(ctx, "c1")
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "a1", all[0].ID)
		assert.Equal(t, "a2", all[1].ID)

		due, err := s.ListPendingBefore(ctx, t0.Add(6*time.Minute))
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, "a2", due[0].ID)
	})

	t.Run("audit log", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		require.NoError(t, s.Append(ctx, contractx.AuditEvent{ClientID: "c1", AdvisorID: "adv-a", AssignmentID: "a1", Kind: contractx.AuditAsked, At: t0}))
		require.NoError(t, s.Append(ctx, contractx.AuditEvent{ClientID: "c1", Kind: contractx.AuditExhausted, Detail: "roster empty", At: t0.Add(time.Minute)}))
		require.NoError(t, s.Append(ctx, contractx.AuditEvent{ClientID: "c2", Kind: contractx.AuditSessionReset, At: t0}))

		events, err := s.ListAudit(ctx, "c1")
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, contractx.AuditAsked, events[0].Kind)
		assert.Equal(t, "a1", events[0].AssignmentID)
		assert.Equal(t, contractx.AuditExhausted, events[1].Kind)
		assert.Equal(t, "roster empty", events[1].Detail)
	})

	t.Run("roster", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		require.NoError(t, s.UpsertAdvisor(ctx, contractx.Advisor{ID: "b", Contact: "+52 2", Active: true}, -1))
		require.NoError(t, s.UpsertAdvisor(ctx, contractx.Advisor{ID: "a", Name: "Ana", Contact: "+52 1", Active: true}, -1))
		require.NoError(t, s.UpsertAdvisor(ctx, contractx.Advisor{ID: "c", Contact: "+52 3", Active: true}, -1))

		active, err := s.ListActiveAdvisors(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "a", "c"}, advisorIDs(active))

		require.NoError(t, s.SetAdvisorActive(ctx, "a", false))
		active, err = s.ListActiveAdvisors(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "c"}, advisorIDs(active))

		// updating keeps the roster position
		require.NoError(t, s.UpsertAdvisor(ctx, contractx.Advisor{ID: "b", Contact: "+52 9", Active: true}, -1))
		all, err := s.ListAdvisors(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "a", "c"}, advisorIDs(all))
		assert.Equal(t, "+52 9", all[0].Contact)
		assert.False(t, all[1].Active)

		require.ErrorIs(t, s.SetAdvisorActive(ctx, "zzz", true), ErrAdvisorNotFound)
		require.ErrorIs(t, s.UpsertAdvisor(ctx, contractx.Advisor{ID: "d"}, -1), contractx.ErrValidation)
	})

	t.Run("outbox", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		require.NoError(t, s.Enqueue(ctx, contractx.OutboundMessage{ID: "m1", RecipientKind: contractx.RecipientAdvisor, Recipient: "+52 1", Text: "nuevo prospecto", CreatedAt: t0}))
		require.NoError(t, s.Enqueue(ctx, contractx.OutboundMessage{ID: "m2", RecipientKind: contractx.RecipientCustomer, Recipient: "c1", Text: "listo", CreatedAt: t0.Add(time.Second)}))

		pending, err := s.PendingOutbox(ctx, 10)
		require.NoError(t, err)
		require.Len(t, pending, 2)
		assert.Equal(t, "m1", pending[0].ID)
		assert.Equal(t, contractx.RecipientAdvisor, pending[0].RecipientKind)

		require.NoError(t, s.AckOutbox(ctx, "m1"))
		require.NoError(t, s.AckOutbox(ctx, "m1"))
		require.ErrorIs(t, s.AckOutbox(ctx, "nope"), ErrOutboxNotFound)

		pending, err = s.PendingOutbox(ctx, 10)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, "m2", pending[0].ID)
	})
}

func advisorIDs(advisors []contractx.Advisor) []string {
	out := make([]string, 0, len(advisors))
	for _, a := range advisors {
		out = append(out, a.ID)
	}
	return out
}
