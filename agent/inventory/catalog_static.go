package inventory

import (
	"context"

	contractx "github.com/tanpawarit/chative-lead-dispatch/agent/contract"
	statex "github.com/tanpawarit/chative-lead-dispatch/agent/state"
)

// StaticCatalog serves fixed lists, for offline runs and tests.
type StaticCatalog struct {
	models map[statex.PurchaseType][]string
}

var _ contractx.Catalog = (*StaticCatalog)(nil)

func NewStaticCatalog(newModels, usedModels []string) *StaticCatalog {
	return &StaticCatalog{models: map[statex.PurchaseType][]string{
		statex.PurchaseNew:  clone(newModels),
		statex.PurchaseUsed: clone(usedModels),
	}}
}

func (c *StaticCatalog) FetchModels(_ context.Context, pt statex.PurchaseType) ([]string, error) {
	return clone(c.models[pt]), nil
}
