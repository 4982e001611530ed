package orchestratornode

import (
	"context"
	"errors"
	"fmt"

	contractx "github.com/tanpawarit/chative-lead-dispatch/agent/contract"
	statex "github.com/tanpawarit/chative-lead-dispatch/agent/state"
)

// LoadOrCreateState reads the session for a first look; the write happens in ApplyDialogue.
func LoadOrCreateState(ctx context.Context, in *GraphState, store statex.Store) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	st, err := store.Load(ctx, in.ClientID)
	switch {
	case errors.Is(err, statex.ErrStateNotFound):
		st = statex.NewSession(in.ClientID, in.Now)
	case err != nil:
		return nil, err
	}
	in.Session = st
	in.PrevEpoch = st.Epoch
	return in, nil
}
