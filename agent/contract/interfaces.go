package contract

import (
	"context"
	"time"

	statex "github.com/tanpawarit/chative-lead-dispatch/agent/state"
)

// Catalog returns the raw model list for a purchase type.
type Catalog interface {
	FetchModels(ctx context.Context, purchaseType statex.PurchaseType) ([]string, error)
}

// Directory lists active advisors in stable roster order.
type Directory interface {
	ListActiveAdvisors(ctx context.Context) ([]Advisor, error)
}

type Generator interface {
	Generate(ctx context.Context, prompt string, gc GenerationContext) (string, error)
}

type AuditSink interface {
	Append(ctx context.Context, ev AuditEvent) error
}

// AssignmentStore persists assignments. ResolveAssignment only moves PENDING rows and
// returns ErrAssignmentResolved when the row already left PENDING.
type AssignmentStore interface {
	CreateAssignment(ctx context.Context, a *statex.Assignment) error
	GetAssignment(ctx context.Context, id string) (*statex.Assignment, error)
	PendingAssignment(ctx context.Context, clientID string) (*statex.Assignment, error)
	ResolveAssignment(ctx context.Context, id string, to statex.AssignmentStatus, at time.Time) error
	ListAssignments(ctx context.Context, clientID string) ([]*statex.Assignment, error)
	ListPendingBefore(ctx context.Context, cutoff time.Time) ([]*statex.Assignment, error)
}

type Outbox interface {
	Enqueue(ctx context.Context, msg OutboundMessage) error
	PendingOutbox(ctx context.Context, limit int) ([]OutboundMessage, error)
	AckOutbox(ctx context.Context, id string) error
}

// Notifier delivers messages outside the synchronous reply.
type Notifier interface {
	OfferLead(ctx context.Context, advisor Advisor, offer Offer) error
	NotifyAdvisor(ctx context.Context, advisor Advisor, text string) error
	NotifyCustomer(ctx context.Context, clientID string, text string) error
}

// TimeoutScheduler arranges for ev to be delivered back to the dispatcher at fireAt.
type TimeoutScheduler interface {
	Schedule(ctx context.Context, ev DispatchEvent, fireAt time.Time) error
}

type LeadDispatcher interface {
	Dispatch(ctx context.Context, clientID string) (bool, error)
	Retry(ctx context.Context, clientID string) (bool, error)
	Cancel(ctx context.Context, clientID string, epoch int) error
	Handle(ctx context.Context, ev DispatchEvent) (Ack, error)
}
