// Package notify delivers dispatch messages outside the synchronous reply: to the ledger
// outbox polled by the transport, straight to advisors on Slack or Discord, or to the log.
package notify

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/chative-lead-dispatch/agent/contract"
)

// Multi sends every message through each notifier and joins their errors.
type Multi []contractx.Notifier

var _ contractx.Notifier = Multi(nil)

func (m Multi) OfferLead(ctx context.Context, advisor contractx.Advisor, offer contractx.Offer) error {
	var errs []error
	for _, n := range m {
		errs = append(errs, n.OfferLead(ctx, advisor, offer))
	}
	return errors.Join(errs...)
}

func (m Multi) NotifyAdvisor(ctx context.Context, advisor contractx.Advisor, text string) error {
	var errs []error
	for _, n := range m {
		errs = append(errs, n.NotifyAdvisor(ctx, advisor, text))
	}
	return errors.Join(errs...)
}

func (m Multi) NotifyCustomer(ctx context.Context, clientID, text string) error {
	var errs []error
	for _, n := range m {
		errs = append(errs, n.NotifyCustomer(ctx, clientID, text))
	}
	return errors.Join(errs...)
}

// Log only writes messages to the structured log. Useful when no transport is wired.
type Log struct{}

func (Log) OfferLead(_ context.Context, advisor contractx.Advisor, offer contractx.Offer) error {
	log.Info().
		Str("advisor_id", advisor.ID).
		Str("assignment_id", offer.AssignmentID).
		Str("client_id", offer.Lead.ClientID).
		Str("text", offer.Text).
		Msg("lead offered")
	return nil
}

func (Log) NotifyAdvisor(_ context.Context, advisor contractx.Advisor, text string) error {
	log.Info().Str("advisor_id", advisor.ID).Str("text", text).Msg("advisor notified")
	return nil
}

func (Log) NotifyCustomer(_ context.Context, clientID, text string) error {
	log.Info().Str("client_id", clientID).Str("text", text).Msg("customer notified")
	return nil
}

// advisorAddress is where advisor messages go; the roster contact, falling back to the id.
func advisorAddress(advisor contractx.Advisor) string {
	if advisor.Contact != "" {
		return advisor.Contact
	}
	return advisor.ID
}
