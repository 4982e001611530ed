package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/chative-lead-dispatch/agent/contract"
	dialoguex "github.com/tanpawarit/chative-lead-dispatch/agent/dialogue"
	extractx "github.com/tanpawarit/chative-lead-dispatch/agent/extract"
	nodex "github.com/tanpawarit/chative-lead-dispatch/agent/nodes"
	statex "github.com/tanpawarit/chative-lead-dispatch/agent/state"
	"github.com/tanpawarit/chative-lead-dispatch/pkg/metrics"
)

var (
	ErrInvalidMessage = nodex.ErrInvalidMessage
	ErrInvalidClient  = nodex.ErrInvalidClient
)

const DefaultInactivityWindow = 24 * time.Hour

type Deps struct {
	Sessions   statex.Store
	Models     nodex.ModelSource
	Extractor  *extractx.Extractor
	Controller *dialoguex.Controller
	Dispatcher contractx.LeadDispatcher
	// Generator and Audit are optional.
	Generator contractx.Generator
	Audit     contractx.AuditSink
}

type Config struct {
	InactivityWindow time.Duration
}

// Orchestrator runs one customer message through the engine graph and routes advisor replies
// to the dispatcher.
type Orchestrator struct {
	deps       Deps
	inactivity time.Duration

	graphRunner compose.Runnable[nodex.GraphInput, nodex.GraphOutput]

	now func() time.Time
}

func New(deps Deps, cfg Config) (*Orchestrator, error) {
	switch {
	case deps.Sessions == nil:
		return nil, errors.New("session store is required")
	case deps.Extractor == nil:
		return nil, errors.New("slot extractor is required")
	case deps.Controller == nil:
		return nil, errors.New("dialogue controller is required")
	case deps.Dispatcher == nil:
		return nil, errors.New("dispatcher is required")
	}
	if deps.Audit == nil {
		deps.Audit = logAudit{}
	}
	inactivity := cfg.InactivityWindow
	if inactivity <= 0 {
		inactivity = DefaultInactivityWindow
	}

	o := &Orchestrator{
		deps:       deps,
		inactivity: inactivity,
		now:        time.Now,
	}

	graphRunner, err := o.compileHandleMessageGraph(context.Background())
	if err != nil {
		return nil, err
	}
	o.graphRunner = graphRunner

	return o, nil
}

func (o *Orchestrator) HandleMessage(ctx context.Context, msg contractx.InboundMessage) (contractx.Reply, error) {
	out, err := o.graphRunner.Invoke(ctx, nodex.GraphInput{
		ClientID: msg.ClientID,
		Text:     msg.Text,
	})
	if err != nil {
		return contractx.Reply{}, err
	}
	metrics.InboundMessages.WithLabelValues(string(out.Stage)).Inc()
	return out.Reply, nil
}

// HandleAdvisorReply turns an advisor's accept/decline into a dispatch event.
func (o *Orchestrator) HandleAdvisorReply(ctx context.Context, r contractx.AdvisorReply) (contractx.Ack, error) {
	r.ClientID = strings.TrimSpace(r.ClientID)
	r.AdvisorID = strings.TrimSpace(r.AdvisorID)
	if r.ClientID == "" || r.AdvisorID == "" {
		return contractx.Ack{}, fmt.Errorf("%w: client_id and advisor_id are required", contractx.ErrValidation)
	}
	decision, err := contractx.ParseDecision(string(r.Decision))
	if err != nil {
		return contractx.Ack{}, err
	}
	r.Decision = decision

	ack, err := o.deps.Dispatcher.Handle(ctx, contractx.EventFromReply(r, o.now().UTC()))
	if err != nil {
		return contractx.Ack{}, err
	}
	log.Info().
		Str("client_id", r.ClientID).
		Str("advisor_id", r.AdvisorID).
		Str("decision", string(r.Decision)).
		Str("ack", string(ack.Status)).
		Msg("advisor reply handled")
	return ack, nil
}

type logAudit struct{}

func (logAudit) Append(_ context.Context, ev contractx.AuditEvent) error {
	log.Info().Str("client_id", ev.ClientID).Str("kind", string(ev.Kind)).Str("detail", ev.Detail).Msg("audit")
	return nil
}
