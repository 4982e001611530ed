package orchestratornode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/chative-lead-dispatch/agent/contract"
	dialoguex "github.com/tanpawarit/chative-lead-dispatch/agent/dialogue"
)

// DispatchLead hands the turn's dispatch work to the dispatcher. Dispatcher failures are
// logged and never replace the customer's reply with an error.
func DispatchLead(
	ctx context.Context,
	in *GraphState,
	dispatcher contractx.LeadDispatcher,
	audit contractx.AuditSink,
	controller *dialoguex.Controller,
) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}
	logger := log.With().Str("client_id", in.ClientID).Logger()

	if in.IdleReset || in.Decision.Reset {
		detail := "customer asked to start over"
		if in.IdleReset {
			detail = "inactivity window elapsed"
		}
		if err := audit.Append(ctx, contractx.AuditEvent{
			ClientID: in.ClientID,
			Kind:     contractx.AuditSessionReset,
			Detail:   detail,
			At:       in.Now,
		}); err != nil {
			logger.Warn().Err(err).Msg("audit session reset failed")
		}
		if err := dispatcher.Cancel(ctx, in.ClientID, in.PrevEpoch); err != nil {
			logger.Error().Err(err).Int("epoch", in.PrevEpoch).Msg("cancel pending assignment failed")
		}
	}

	switch {
	case in.Decision.Dispatch:
		asked, err := dispatcher.Dispatch(ctx, in.ClientID)
		if err != nil {
			logger.Error().Err(err).Msg("dispatch failed")
			return in, nil
		}
		if !asked {
			in.Reply.Text = render(controller, "no_advisor", in, in.Reply.Text)
		}

	case in.Decision.RetryDispatch:
		asked, err := dispatcher.Retry(ctx, in.ClientID)
		if err != nil {
			logger.Error().Err(err).Msg("dispatch retry failed")
			return in, nil
		}
		if in.Decision.Intent != "" {
			return in, nil
		}
		name := "no_advisor"
		if asked {
			name = "dispatched"
		}
		in.Reply.Text = render(controller, name, in, in.Reply.Text)
		in.Decision.Fallback = false
	}
	return in, nil
}

func render(controller *dialoguex.Controller, name string, in *GraphState, fallback string) string {
	text, err := controller.Render(name, in.Session, contractx.Advisor{})
	if err != nil {
		log.Error().Err(err).Str("message", name).Msg("render failed")
		return fallback
	}
	return text
}
