package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/chative-lead-dispatch/agent/contract"
	logx "github.com/tanpawarit/chative-lead-dispatch/pkg/logger"
)

// Sweeper re-emits timeouts for PENDING assignments that are overdue, so offers whose timer
// was lost still expire.
type Sweeper struct {
	assignments contractx.AssignmentStore
	scheduler   contractx.TimeoutScheduler
	timeout     time.Duration
	interval    time.Duration
	now         func() time.Time
	cron        *cron.Cron
}

func NewSweeper(assignments contractx.AssignmentStore, scheduler contractx.TimeoutScheduler, timeout, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	logger := logx.Cron("assignment-sweeper")
	return &Sweeper{
		assignments: assignments,
		scheduler:   scheduler,
		timeout:     timeout,
		interval:    interval,
		now:         time.Now,
		cron:        cron.New(cron.WithLogger(logger), cron.WithChain(cron.SkipIfStillRunning(logger))),
	}
}

// Sweep schedules an immediate timeout for every overdue assignment and returns how many.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	overdue, err := s.assignments.ListPendingBefore(ctx, now.Add(-s.timeout))
	if err != nil {
		return 0, err
	}
	n := 0
	for _, a := range overdue {
		ev := contractx.DispatchEvent{
			Kind:         contractx.EventTimedOut,
			ClientID:     a.ClientID,
			AdvisorID:    a.AdvisorID,
			AssignmentID: a.ID,
			At:           a.DueAt(s.timeout),
		}
		if err := s.scheduler.Schedule(ctx, ev, now); err != nil {
			log.Warn().Err(err).Str("assignment_id", a.ID).Msg("sweeper could not schedule timeout")
			continue
		}
		n++
	}
	if n > 0 {
		log.Info().Int("overdue", n).Msg("overdue assignments swept")
	}
	return n, nil
}

func (s *Sweeper) Start(ctx context.Context) {
	s.cron.Schedule(cron.Every(s.interval), cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.Sweep(ctx); err != nil {
			log.Error().Err(err).Msg("assignment sweep failed")
		}
	}))
	s.cron.Start()
}

func (s *Sweeper) Stop() context.Context {
	return s.cron.Stop()
}
