package inventory

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	statex "github.com/tanpawarit/chative-lead-dispatch/agent/state"
	logx "github.com/tanpawarit/chative-lead-dispatch/pkg/logger"
)

// Refresher forces a refresh of every purchase type once per interval, independent of traffic.
type Refresher struct {
	cache    *Cache
	interval time.Duration
	cron     *cron.Cron
}

func NewRefresher(cache *Cache, interval time.Duration) *Refresher {
	if interval <= 0 {
		interval = defaultTTL
	}
	logger := logx.Cron("catalog-refresher")
	return &Refresher{
		cache:    cache,
		interval: interval,
		cron:     cron.New(cron.WithLogger(logger), cron.WithChain(cron.SkipIfStillRunning(logger))),
	}
}

// Start schedules the refresh job. ctx bounds every run; cancel it together with Stop.
func (r *Refresher) Start(ctx context.Context) {
	r.cron.Schedule(cron.Every(r.interval), cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		models := r.cache.RefreshAll(ctx)
		log.Debug().Int("new", len(models[statex.PurchaseNew])).Int("used", len(models[statex.PurchaseUsed])).Msg("scheduled catalog refresh done")
	}))
	r.cron.Start()
}

// Stop halts the schedule and returns a context done when a running refresh has finished.
func (r *Refresher) Stop() context.Context {
	return r.cron.Stop()
}
