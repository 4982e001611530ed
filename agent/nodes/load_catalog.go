package orchestratornode

import (
	"context"
	"fmt"

	contractx "github.com/tanpawarit/chative-lead-dispatch/agent/contract"
	statex "github.com/tanpawarit/chative-lead-dispatch/agent/state"
)

// ModelSource is the inventory cache as seen by the engine. It never fails.
type ModelSource interface {
	Get(ctx context.Context, pt statex.PurchaseType, force bool) []string
}

// LoadCatalog fetches the model snapshot once the purchase type is known.
func LoadCatalog(ctx context.Context, in *GraphState, models ModelSource) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}
	if models == nil || !in.Session.PurchaseType.Valid() {
		return in, nil
	}
	in.Snapshot.Models = models.Get(ctx, in.Session.PurchaseType, false)
	return in, nil
}
