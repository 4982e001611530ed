package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	contractx "github.com/tanpawarit/chative-lead-dispatch/agent/contract"
	qstashx "github.com/tanpawarit/chative-lead-dispatch/pkg/qstash"
)

type fakePublisher struct {
	req qstashx.PublishRequest
	err error
}

func (f *fakePublisher) Publish(_ context.Context, req qstashx.PublishRequest) (qstashx.PublishResponse, error) {
	f.req = req
	return qstashx.PublishResponse{MessageID: "m1"}, f.err
}

func TestQStashSchedulePublishesDelayedEvent(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	q, err := NewQStash(pub, "https://lead.example.com/internal/timeouts")
	if err != nil {
		t.Fatalf("NewQStash() error = %v", err)
	}
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return now }

	ev := contractx.DispatchEvent{Kind: contractx.EventTimedOut, ClientID: "c1", AdvisorID: "A", AssignmentID: "as-1", At: now.Add(5 * time.Minute)}
	if err := q.Schedule(context.Background(), ev, ev.At); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	if pub.req.Delay != 5*time.Minute || pub.req.DeduplicationID != "as-1-timed_out" {
		t.Fatalf("request = %+v", pub.req)
	}
	var decoded contractx.DispatchEvent
	if err := json.Unmarshal(pub.req.Body, &decoded); err != nil {
		t.Fatalf("body not JSON: %v", err)
	}
	if decoded.AssignmentID != "as-1" || !decoded.At.Equal(ev.At) {
		t.Fatalf("decoded = %+v", decoded)
	}
}

func TestQStashScheduleWrapsFailures(t *testing.T) {
	t.Parallel()

	q, _ := NewQStash(&fakePublisher{err: errors.New("boom")}, "https://x")
	err := q.Schedule(context.Background(), contractx.DispatchEvent{}, time.Now().Add(-time.Minute))
	if !errors.Is(err, contractx.ErrCollaboratorUnavailable) {
		t.Fatalf("Schedule() error = %v", err)
	}
}
