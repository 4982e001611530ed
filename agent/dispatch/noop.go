package dispatch

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/chative-lead-dispatch/agent/contract"
)

type logAudit struct{}

func (logAudit) Append(_ context.Context, ev contractx.AuditEvent) error {
	log.Info().
		Str("client_id", ev.ClientID).
		Str("advisor_id", ev.AdvisorID).
		Str("assignment_id", ev.AssignmentID).
		Str("kind", string(ev.Kind)).
		Str("detail", ev.Detail).
		Msg("audit")
	return nil
}

type noopNotifier struct{}

func (noopNotifier) OfferLead(context.Context, contractx.Advisor, contractx.Offer) error { return nil }
func (noopNotifier) NotifyAdvisor(context.Context, contractx.Advisor, string) error      { return nil }
func (noopNotifier) NotifyCustomer(context.Context, string, string) error                { return nil }

type noopScheduler struct{}

func (noopScheduler) Schedule(context.Context, contractx.DispatchEvent, time.Time) error { return nil }
