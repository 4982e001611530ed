package orchestratornode

import (
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/chative-lead-dispatch/agent/contract"
)

func FinalizeReply(in *GraphState) (GraphOutput, error) {
	if in == nil || in.Session == nil {
		return GraphOutput{}, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	text := strings.TrimSpace(in.Reply.Text)
	if text == "" {
		return GraphOutput{}, fmt.Errorf("%w: empty reply", contractx.ErrValidation)
	}
	quick := in.Reply.QuickReplies
	if quick == nil {
		quick = []string{}
	}
	return GraphOutput{
		Reply: contractx.Reply{Text: text, QuickReplies: quick},
		Stage: in.Session.Stage(),
	}, nil
}
