package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/chative-lead-dispatch/agent/contract"
	statex "github.com/tanpawarit/chative-lead-dispatch/agent/state"
	"github.com/tanpawarit/chative-lead-dispatch/pkg/metrics"
)

const (
	DefaultTimeout     = 300 * time.Second
	DefaultRetryWindow = 30 * time.Minute
)

// Renderer turns a named message template into text for one lead.
type Renderer interface {
	Render(name string, st *statex.Session, advisor contractx.Advisor) (string, error)
}

type Deps struct {
	Sessions    statex.Store
	Assignments contractx.AssignmentStore
	Directory   contractx.Directory
	Audit       contractx.AuditSink
	Notifier    contractx.Notifier
	Scheduler   contractx.TimeoutScheduler
	Renderer    Renderer
}

type Config struct {
	// Timeout is how long an advisor has to answer an offer.
	Timeout time.Duration
	// RetryWindow is how long an exhausted lead waits before advisors already asked are asked again.
	RetryWindow time.Duration
}

type Option func(*Dispatcher)

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(d *Dispatcher) {
		if newID != nil {
			d.newID = newID
		}
	}
}

// Dispatcher runs the advisor assignment state machine. Advisor replies and timeouts
// both enter through Handle; the PENDING -> terminal move of an Assignment decides who wins.
type Dispatcher struct {
	sessions    statex.Store
	assignments contractx.AssignmentStore
	directory   contractx.Directory
	audit       contractx.AuditSink
	notifier    contractx.Notifier
	scheduler   contractx.TimeoutScheduler
	renderer    Renderer

	timeout     time.Duration
	retryWindow time.Duration

	now   func() time.Time
	newID func() string
}

var _ contractx.LeadDispatcher = (*Dispatcher)(nil)

func New(deps Deps, cfg Config, opts ...Option) (*Dispatcher, error) {
	switch {
	case deps.Sessions == nil:
		return nil, errors.New("session store is required")
	case deps.Assignments == nil:
		return nil, errors.New("assignment store is required")
	case deps.Directory == nil:
		return nil, errors.New("advisor directory is required")
	case deps.Renderer == nil:
		return nil, errors.New("message renderer is required")
	}
	if deps.Audit == nil {
		deps.Audit = logAudit{}
	}
	if deps.Notifier == nil {
		deps.Notifier = noopNotifier{}
	}
	if deps.Scheduler == nil {
		deps.Scheduler = noopScheduler{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RetryWindow <= 0 {
		cfg.RetryWindow = DefaultRetryWindow
	}

	d := &Dispatcher{
		sessions:    deps.Sessions,
		assignments: deps.Assignments,
		directory:   deps.Directory,
		audit:       deps.Audit,
		notifier:    deps.Notifier,
		scheduler:   deps.Scheduler,
		renderer:    deps.Renderer,
		timeout:     cfg.Timeout,
		retryWindow: cfg.RetryWindow,
		now:         time.Now,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

func (d *Dispatcher) Timeout() time.Duration {
	return d.timeout
}

// Dispatch offers a freshly confirmed lead to the first untried active advisor.
// It reports false when nobody could be asked; the session is then EXHAUSTED.
func (d *Dispatcher) Dispatch(ctx context.Context, clientID string) (bool, error) {
	res, err := d.askNext(ctx, clientID, d.now(), false)
	if err != nil {
		return false, err
	}
	return res.outcome == outcomeAsked || res.outcome == outcomePending, nil
}

// Retry re-dispatches a confirmed lead that nobody holds. A lead still at NONE never got its
// first offer out and is dispatched as new. For an EXHAUSTED lead untried advisors come first;
// once the retry window has passed since exhaustion a new round starts with everybody.
func (d *Dispatcher) Retry(ctx context.Context, clientID string) (bool, error) {
	st, err := d.sessions.Load(ctx, clientID)
	if err != nil {
		return false, err
	}
	switch st.DispatchStatus {
	case statex.DispatchPending, statex.DispatchAccepted:
		return true, nil
	case statex.DispatchNone:
		if !st.Confirmed {
			return false, nil
		}
		return d.Dispatch(ctx, clientID)
	}

	res, err := d.askNext(ctx, clientID, d.now(), true)
	if err != nil {
		return false, err
	}
	return res.outcome == outcomeAsked || res.outcome == outcomePending, nil
}

// Cancel times out the pending assignment of an epoch that was reset away.
func (d *Dispatcher) Cancel(ctx context.Context, clientID string, epoch int) error {
	p, err := d.assignments.PendingAssignment(ctx, clientID)
	if errors.Is(err, contractx.ErrAssignmentNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if p.Epoch > epoch {
		return nil
	}
	now := d.now()
	err = d.assignments.ResolveAssignment(ctx, p.ID, statex.AssignmentTimedOut, now)
	if errors.Is(err, contractx.ErrAssignmentResolved) {
		return nil
	}
	if err != nil {
		return err
	}
	d.record(ctx, contractx.AuditEvent{
		ClientID:     clientID,
		AdvisorID:    p.AdvisorID,
		AssignmentID: p.ID,
		Kind:         contractx.AuditCancelled,
		Detail:       fmt.Sprintf("session reset from epoch %d", p.Epoch),
		At:           now,
	})
	return nil
}

// Handle applies one advisor reply or timeout. Events for assignments that already left
// PENDING are acknowledged as ignored and change nothing.
func (d *Dispatcher) Handle(ctx context.Context, ev contractx.DispatchEvent) (contractx.Ack, error) {
	if ev.ClientID == "" && ev.AssignmentID == "" {
		return contractx.Ack{}, fmt.Errorf("%w: event needs a client or assignment id", contractx.ErrValidation)
	}
	to, err := terminalFor(ev.Kind)
	if err != nil {
		return contractx.Ack{}, err
	}
	at := ev.At
	if at.IsZero() {
		at = d.now()
	}
	logger := log.With().
		Str("client_id", ev.ClientID).
		Str("advisor_id", ev.AdvisorID).
		Str("event", string(ev.Kind)).
		Logger()

	a, err := d.target(ctx, ev)
	if errors.Is(err, contractx.ErrAssignmentNotFound) {
		logger.Info().Msg("dispatch event without matching assignment ignored")
		return contractx.Ack{Status: contractx.AckIgnored, Detail: "no matching assignment"}, nil
	}
	if err != nil {
		return contractx.Ack{}, err
	}
	logger = logger.With().Str("assignment_id", a.ID).Logger()

	if a.Status != statex.AssignmentPending {
		d.duplicate(ctx, logger, a, ev, at)
		return contractx.Ack{Status: contractx.AckIgnored, AssignmentID: a.ID, Detail: "assignment already " + string(a.Status)}, nil
	}

	err = d.assignments.ResolveAssignment(ctx, a.ID, to, at)
	if errors.Is(err, contractx.ErrAssignmentResolved) {
		d.duplicate(ctx, logger, a, ev, at)
		return contractx.Ack{Status: contractx.AckIgnored, AssignmentID: a.ID, Detail: "assignment already resolved"}, nil
	}
	if err != nil {
		return contractx.Ack{}, err
	}

	d.record(ctx, contractx.AuditEvent{
		ClientID:     a.ClientID,
		AdvisorID:    a.AdvisorID,
		AssignmentID: a.ID,
		Kind:         auditKindFor(to),
		At:           at,
	})
	logger.Info().Str("status", string(to)).Msg("assignment resolved")

	ack := contractx.Ack{Status: contractx.AckApplied, AssignmentID: a.ID}
	if to == statex.AssignmentAccepted {
		return ack, d.accept(ctx, logger, a, at)
	}

	res, err := d.askNext(ctx, a.ClientID, d.now(), false)
	if err != nil {
		return ack, err
	}
	if res.outcome == outcomeExhausted && res.newlyExhausted {
		d.notifyCustomer(ctx, logger, res.session, "no_advisor", contractx.Advisor{})
	}
	return ack, nil
}

// Consume applies events from ch until it is closed or ctx ends.
func (d *Dispatcher) Consume(ctx context.Context, ch <-chan contractx.DispatchEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if _, err := d.Handle(ctx, ev); err != nil {
				log.Error().Err(err).
					Str("client_id", ev.ClientID).
					Str("assignment_id", ev.AssignmentID).
					Str("event", string(ev.Kind)).
					Msg("dispatch event failed")
			}
		}
	}
}

func (d *Dispatcher) target(ctx context.Context, ev contractx.DispatchEvent) (*statex.Assignment, error) {
	if ev.AssignmentID != "" {
		a, err := d.assignments.GetAssignment(ctx, ev.AssignmentID)
		if err != nil {
			return nil, err
		}
		if ev.AdvisorID != "" && a.AdvisorID != ev.AdvisorID {
			return nil, fmt.Errorf("%w: assignment %s belongs to %s", contractx.ErrAssignmentNotFound, a.ID, a.AdvisorID)
		}
		return a, nil
	}

	p, err := d.assignments.PendingAssignment(ctx, ev.ClientID)
	if err == nil && (ev.AdvisorID == "" || p.AdvisorID == ev.AdvisorID) {
		return p, nil
	}
	if err != nil && !errors.Is(err, contractx.ErrAssignmentNotFound) {
		return nil, err
	}

	// A late reply from an advisor whose offer was already closed.
	all, err := d.assignments.ListAssignments(ctx, ev.ClientID)
	if err != nil {
		return nil, err
	}
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].AdvisorID == ev.AdvisorID {
			return all[i], nil
		}
	}
	return nil, fmt.Errorf("%w: client=%s advisor=%s", contractx.ErrAssignmentNotFound, ev.ClientID, ev.AdvisorID)
}

func (d *Dispatcher) accept(ctx context.Context, logger zerolog.Logger, a *statex.Assignment, at time.Time) error {
	st, err := statex.Mutate(ctx, d.sessions, a.ClientID, at, func(s *statex.Session) error {
		if s.Epoch != a.Epoch || !s.Confirmed {
			return statex.ErrNoChange
		}
		if !s.HasTried(a.AdvisorID) {
			s.AssignedAdvisors = append(s.AssignedAdvisors, a.AdvisorID)
		}
		s.CurrentAdvisor = a.AdvisorID
		s.SetDispatchStatus(statex.DispatchAccepted, at)
		return nil
	})
	if err != nil {
		return err
	}
	if st.Epoch != a.Epoch || st.DispatchStatus != statex.DispatchAccepted {
		logger.Info().Msg("accepted assignment belongs to a reset session")
		return nil
	}

	advisor := d.advisor(ctx, a.AdvisorID)
	d.notifyCustomer(ctx, logger, st, "advisor_assigned", advisor)
	if text, err := d.renderer.Render("advisor_confirmed", st, advisor); err != nil {
		logger.Error().Err(err).Msg("render advisor confirmation")
	} else if err := d.notifier.NotifyAdvisor(ctx, advisor, text); err != nil {
		logger.Warn().Err(err).Msg("advisor confirmation not delivered")
	}
	return nil
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeAsked
	outcomePending
	outcomeExhausted
)

type askResult struct {
	outcome        outcome
	session        *statex.Session
	newlyExhausted bool
}

var errStaleEpoch = errors.New("session epoch moved on")

func (d *Dispatcher) askNext(ctx context.Context, clientID string, now time.Time, allowNewRound bool) (askResult, error) {
	logger := log.With().Str("client_id", clientID).Logger()

	if _, err := d.assignments.PendingAssignment(ctx, clientID); err == nil {
		return askResult{outcome: outcomePending}, nil
	} else if !errors.Is(err, contractx.ErrAssignmentNotFound) {
		return askResult{}, err
	}

	st, err := d.sessions.Load(ctx, clientID)
	if err != nil {
		return askResult{}, err
	}
	if !st.Confirmed || st.DispatchStatus == statex.DispatchAccepted {
		return askResult{outcome: outcomeSkipped, session: st}, nil
	}

	roster, err := d.directory.ListActiveAdvisors(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("advisor directory unavailable")
		return d.exhaust(ctx, st, now, "advisor directory unavailable")
	}

	newRound := false
	next, ok := nextAdvisor(roster, st)
	if !ok && allowNewRound && len(roster) > 0 &&
		st.DispatchStatus == statex.DispatchExhausted && now.Sub(st.DispatchUpdatedAt) >= d.retryWindow {
		newRound = true
		next, ok = roster[0], true
	}
	if !ok {
		return d.exhaust(ctx, st, now, fmt.Sprintf("%d active advisors, all asked", len(roster)))
	}

	a := statex.NewAssignment(d.newID(), clientID, next.ID, st.Epoch, now)
	if err := d.assignments.CreateAssignment(ctx, a); err != nil {
		if errors.Is(err, contractx.ErrPendingAssignmentExists) {
			return askResult{outcome: outcomePending, session: st}, nil
		}
		return askResult{}, err
	}

	st, err = statex.Mutate(ctx, d.sessions, clientID, now, func(s *statex.Session) error {
		if s.Epoch != a.Epoch || !s.Confirmed {
			return errStaleEpoch
		}
		if newRound {
			s.AssignedAdvisors = nil
			s.CurrentAdvisor = ""
		}
		return s.MarkAsked(next.ID, now)
	})
	if err != nil {
		if rerr := d.assignments.ResolveAssignment(ctx, a.ID, statex.AssignmentTimedOut, now); rerr != nil {
			logger.Error().Err(rerr).Str("assignment_id", a.ID).Msg("withdraw assignment")
		}
		if errors.Is(err, errStaleEpoch) {
			d.record(ctx, contractx.AuditEvent{ClientID: clientID, AdvisorID: next.ID, AssignmentID: a.ID, Kind: contractx.AuditCancelled, Detail: "session reset during dispatch", At: now})
			return askResult{outcome: outcomeSkipped}, nil
		}
		return askResult{}, err
	}

	if newRound {
		d.record(ctx, contractx.AuditEvent{ClientID: clientID, Kind: contractx.AuditRoundRestarted, At: now})
	}
	d.record(ctx, contractx.AuditEvent{ClientID: clientID, AdvisorID: next.ID, AssignmentID: a.ID, Kind: contractx.AuditAsked, At: now})
	logger.Info().Str("advisor_id", next.ID).Str("assignment_id", a.ID).Msg("lead offered to advisor")

	due := a.DueAt(d.timeout)
	timeout := contractx.DispatchEvent{
		Kind:         contractx.EventTimedOut,
		ClientID:     clientID,
		AdvisorID:    next.ID,
		AssignmentID: a.ID,
		At:           due,
	}
	if err := d.scheduler.Schedule(ctx, timeout, due); err != nil {
		// the sweeper still finds the assignment once it is overdue
		logger.Warn().Err(err).Str("assignment_id", a.ID).Msg("timeout not scheduled")
	}

	text, err := d.renderer.Render("advisor_offer", st, next)
	if err != nil {
		logger.Error().Err(err).Msg("render advisor offer")
	}
	offer := contractx.Offer{AssignmentID: a.ID, Lead: contractx.LeadFromSession(st), Text: text}
	if err := d.notifier.OfferLead(ctx, next, offer); err != nil {
		logger.Warn().Err(err).Str("advisor_id", next.ID).Msg("advisor offer not delivered")
	}
	return askResult{outcome: outcomeAsked, session: st}, nil
}

func (d *Dispatcher) exhaust(ctx context.Context, st *statex.Session, now time.Time, detail string) (askResult, error) {
	newly := false
	out, err := statex.Mutate(ctx, d.sessions, st.ClientID, now, func(s *statex.Session) error {
		newly = false
		if s.Epoch != st.Epoch || !s.Confirmed || s.DispatchStatus == statex.DispatchExhausted {
			return statex.ErrNoChange
		}
		s.CurrentAdvisor = ""
		s.SetDispatchStatus(statex.DispatchExhausted, now)
		newly = true
		return nil
	})
	if err != nil {
		return askResult{}, err
	}
	if newly {
		d.record(ctx, contractx.AuditEvent{ClientID: st.ClientID, Kind: contractx.AuditExhausted, Detail: detail, At: now})
		log.Warn().Str("client_id", st.ClientID).Str("detail", detail).Msg("advisor roster exhausted")
	}
	return askResult{outcome: outcomeExhausted, session: out, newlyExhausted: newly}, nil
}

func (d *Dispatcher) duplicate(ctx context.Context, logger zerolog.Logger, a *statex.Assignment, ev contractx.DispatchEvent, at time.Time) {
	logger.Info().Str("status", string(a.Status)).Msg("duplicate transition dropped")
	d.record(ctx, contractx.AuditEvent{
		ClientID:     a.ClientID,
		AdvisorID:    a.AdvisorID,
		AssignmentID: a.ID,
		Kind:         contractx.AuditDuplicateTransition,
		Detail:       fmt.Sprintf("%s after %s", ev.Kind, a.Status),
		At:           at,
	})
}

func (d *Dispatcher) record(ctx context.Context, ev contractx.AuditEvent) {
	metrics.DispatchEvents.WithLabelValues(string(ev.Kind)).Inc()
	if err := d.audit.Append(ctx, ev); err != nil {
		log.Error().Err(err).Str("client_id", ev.ClientID).Str("kind", string(ev.Kind)).Msg("audit append failed")
	}
}

func (d *Dispatcher) notifyCustomer(ctx context.Context, logger zerolog.Logger, st *statex.Session, message string, advisor contractx.Advisor) {
	if st == nil {
		return
	}
	text, err := d.renderer.Render(message, st, advisor)
	if err != nil {
		logger.Error().Err(err).Str("message", message).Msg("render customer notification")
		return
	}
	if err := d.notifier.NotifyCustomer(ctx, st.ClientID, text); err != nil {
		logger.Warn().Err(err).Str("message", message).Msg("customer notification not delivered")
	}
}

// advisor looks the id up in the roster; an advisor deactivated meanwhile keeps just the id.
func (d *Dispatcher) advisor(ctx context.Context, id string) contractx.Advisor {
	roster, err := d.directory.ListActiveAdvisors(ctx)
	if err == nil {
		for _, a := range roster {
			if a.ID == id {
				return a
			}
		}
	}
	return contractx.Advisor{ID: id}
}

func nextAdvisor(roster []contractx.Advisor, st *statex.Session) (contractx.Advisor, bool) {
	for _, a := range roster {
		if a.ID != "" && !st.HasTried(a.ID) {
			return a, true
		}
	}
	return contractx.Advisor{}, false
}

func terminalFor(kind contractx.EventKind) (statex.AssignmentStatus, error) {
	switch kind {
	case contractx.EventAccepted:
		return statex.AssignmentAccepted, nil
	case contractx.EventDeclined:
		return statex.AssignmentDeclined, nil
	case contractx.EventTimedOut:
		return statex.AssignmentTimedOut, nil
	default:
		return "", fmt.Errorf("%w: unknown dispatch event %q", contractx.ErrValidation, kind)
	}
}

func auditKindFor(to statex.AssignmentStatus) contractx.AuditKind {
	switch to {
	case statex.AssignmentAccepted:
		return contractx.AuditAccepted
	case statex.AssignmentDeclined:
		return contractx.AuditDeclined
	default:
		return contractx.AuditTimedOut
	}
}
