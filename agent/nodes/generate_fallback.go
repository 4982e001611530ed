package orchestratornode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/chative-lead-dispatch/agent/contract"
)

// GenerateFallback answers free-form post-dispatch questions. The apology already in the
// reply stays when no generator is wired or the call fails.
func GenerateFallback(ctx context.Context, in *GraphState, gen contractx.Generator) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}
	if !in.Decision.Fallback || gen == nil {
		return in, nil
	}

	text, err := gen.Generate(ctx, in.Text, contractx.GenerationContext{
		ClientID: in.ClientID,
		Stage:    in.Session.Stage(),
		Lead:     contractx.LeadFromSession(in.Session),
	})
	if err != nil {
		log.Warn().Err(err).Str("client_id", in.ClientID).Msg("generative fallback failed, sending apology")
		return in, nil
	}
	in.Reply.Text = text
	return in, nil
}
