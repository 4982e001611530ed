package orchestratornode

import (
	"context"
	"fmt"
	"time"

	contractx "github.com/tanpawarit/chative-lead-dispatch/agent/contract"
	dialoguex "github.com/tanpawarit/chative-lead-dispatch/agent/dialogue"
	extractx "github.com/tanpawarit/chative-lead-dispatch/agent/extract"
	statex "github.com/tanpawarit/chative-lead-dispatch/agent/state"
)

// ApplyDialogue runs extraction and the dialogue step against the stored session and saves
// it with a version check. On a conflict the turn is replayed on the fresh copy.
//
// The catalog snapshot follows the purchase type in effect for this message: the stored one,
// or the one the message itself sets ("una camioneta nueva"), so slots after it can be
// filled from the same message.
func ApplyDialogue(
	ctx context.Context,
	in *GraphState,
	store statex.Store,
	models ModelSource,
	extractor *extractx.Extractor,
	controller *dialoguex.Controller,
	inactivity time.Duration,
) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	snapshots := make(map[statex.PurchaseType]extractx.Snapshot, 2)
	if in.Session != nil && in.Session.PurchaseType.Valid() && len(in.Snapshot.Models) > 0 {
		snapshots[in.Session.PurchaseType] = in.Snapshot
	}
	snapshotFor := func(pt statex.PurchaseType) extractx.Snapshot {
		if !pt.Valid() || models == nil {
			return extractx.Snapshot{}
		}
		if snap, ok := snapshots[pt]; ok {
			return snap
		}
		snap := extractx.Snapshot{Models: models.Get(ctx, pt, false)}
		snapshots[pt] = snap
		return snap
	}

	st, err := statex.Mutate(ctx, store, in.ClientID, in.Now, func(st *statex.Session) error {
		in.PrevEpoch = st.Epoch
		in.IdleReset = false
		if st.Name != "" && st.Idle(in.Now, inactivity) {
			st.Reset(in.Now)
			st.Contact = extractx.ContactFromClientID(st.ClientID)
			in.IdleReset = true
		}

		in.Snapshot = snapshotFor(st.PurchaseType)
		in.Update = extractor.Extract(in.Text, st, in.Snapshot)
		if st.PurchaseType == "" && in.Update.PurchaseType.Valid() {
			in.Snapshot = snapshotFor(in.Update.PurchaseType)
			in.Update = extractor.Extract(in.Text, st, in.Snapshot)
		}
		d, err := controller.Step(st, in.Update, in.Snapshot, in.Now)
		if err != nil {
			return err
		}
		in.Decision = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	in.Session = st
	in.Reply = in.Decision.Reply
	return in, nil
}
