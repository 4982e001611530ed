package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	contractx "github.com/tanpawarit/chative-lead-dispatch/agent/contract"
	qstashx "github.com/tanpawarit/chative-lead-dispatch/pkg/qstash"
)

type publisher interface {
	Publish(ctx context.Context, req qstashx.PublishRequest) (qstashx.PublishResponse, error)
}

// QStash hands timeouts to Upstash QStash, which calls CallbackURL back when they are due.
// Events survive restarts of this process.
type QStash struct {
	client      publisher
	callbackURL string
	now         func() time.Time
}

var _ contractx.TimeoutScheduler = (*QStash)(nil)

func NewQStash(client publisher, callbackURL string) (*QStash, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: qstash client is required", contractx.ErrValidation)
	}
	if callbackURL == "" {
		return nil, fmt.Errorf("%w: qstash callback url is required", contractx.ErrValidation)
	}
	return &QStash{client: client, callbackURL: callbackURL, now: time.Now}, nil
}

func (q *QStash) Schedule(ctx context.Context, ev contractx.DispatchEvent, fireAt time.Time) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	delay := fireAt.Sub(q.now())
	if delay < 0 {
		delay = 0
	}
	dedup := ""
	if ev.AssignmentID != "" {
		dedup = ev.AssignmentID + "-" + string(ev.Kind)
	}
	_, err = q.client.Publish(ctx, qstashx.PublishRequest{
		Destination:     q.callbackURL,
		Body:            body,
		Delay:           delay,
		DeduplicationID: dedup,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", contractx.ErrCollaboratorUnavailable, err)
	}
	return nil
}
