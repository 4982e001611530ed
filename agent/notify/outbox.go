package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	contractx "github.com/tanpawarit/chative-lead-dispatch/agent/contract"
)

// Outbox enqueues messages in the ledger; the transport polls and acks them.
type Outbox struct {
	box   contractx.Outbox
	now   func() time.Time
	newID func() string
}

func NewOutbox(box contractx.Outbox) (*Outbox, error) {
	if box == nil {
		return nil, fmt.Errorf("%w: outbox is required", contractx.ErrValidation)
	}
	return &Outbox{box: box, now: time.Now, newID: uuid.NewString}, nil
}

func (o *Outbox) OfferLead(ctx context.Context, advisor contractx.Advisor, offer contractx.Offer) error {
	return o.enqueue(ctx, contractx.RecipientAdvisor, advisorAddress(advisor), offer.Text)
}

func (o *Outbox) NotifyAdvisor(ctx context.Context, advisor contractx.Advisor, text string) error {
	return o.enqueue(ctx, contractx.RecipientAdvisor, advisorAddress(advisor), text)
}

func (o *Outbox) NotifyCustomer(ctx context.Context, clientID, text string) error {
	return o.enqueue(ctx, contractx.RecipientCustomer, clientID, text)
}

func (o *Outbox) enqueue(ctx context.Context, kind contractx.RecipientKind, recipient, text string) error {
	if recipient == "" || text == "" {
		return fmt.Errorf("%w: outbound message needs recipient and text", contractx.ErrValidation)
	}
	return o.box.Enqueue(ctx, contractx.OutboundMessage{
		ID:            o.newID(),
		RecipientKind: kind,
		Recipient:     recipient,
		Text:          text,
		CreatedAt:     o.now().UTC(),
	})
}
