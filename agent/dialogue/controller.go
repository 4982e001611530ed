package dialogue

import (
	"fmt"
	"time"

	contractx "github.com/tanpawarit/chative-lead-dispatch/agent/contract"
	extractx "github.com/tanpawarit/chative-lead-dispatch/agent/extract"
	matcherx "github.com/tanpawarit/chative-lead-dispatch/agent/matcher"
	promptx "github.com/tanpawarit/chative-lead-dispatch/agent/prompt"
	statex "github.com/tanpawarit/chative-lead-dispatch/agent/state"
)

const maxQuickReplies = 10

// Decision is the controller's verdict for one message.
type Decision struct {
	Reply contractx.Reply

	// Dispatch is set on the single AWAIT_CONFIRM -> DISPATCHED transition of an epoch.
	Dispatch bool
	// RetryDispatch is set when a message arrives for a dispatched lead nobody holds:
	// exhausted, or still NONE because the first dispatch failed.
	RetryDispatch bool
	// Fallback asks for a generated answer to a free-form post-dispatch message.
	Fallback bool
	Reset    bool
	Intent   string
	Stage    statex.Stage
}

// Controller owns the linear slot-filling machine. It never performs I/O.
type Controller struct {
	pack      *promptx.Pack
	extractor *extractx.Extractor
}

func New(pack *promptx.Pack, extractor *extractx.Extractor) *Controller {
	return &Controller{pack: pack, extractor: extractor}
}

// Step applies u to st in place and returns the reply for the new state.
func (c *Controller) Step(st *statex.Session, u extractx.Update, snap extractx.Snapshot, now time.Time) (Decision, error) {
	if st == nil {
		return Decision{}, statex.ErrNilSessionState
	}
	st.Touch(now)
	if st.Contact == "" {
		st.Contact = u.Contact
	}

	if u.Reset {
		st.Reset(now)
		st.Contact = extractx.ContactFromClientID(st.ClientID)
		reply, err := c.stageReply(st, snap)
		if err != nil {
			return Decision{}, err
		}
		return Decision{Reply: reply, Reset: true, Stage: st.Stage()}, nil
	}

	was := st.Stage()
	if was == statex.StageDispatched {
		return c.afterDispatch(st, u)
	}

	var d Decision
	progressed := false

	if u.Name != "" && st.Name == "" {
		st.Name = u.Name
		progressed = true
	}
	if u.PurchaseType.Valid() && st.Name != "" && st.PurchaseType == "" {
		st.PurchaseType = u.PurchaseType
		progressed = true
	}
	if u.Category.Valid() && st.PurchaseType != "" && st.VehicleCategory == "" {
		st.VehicleCategory = u.Category
		progressed = true
	}

	offered := c.extractor.ModelsFor(st.VehicleCategory, snap.Models)
	var notice string
	var err error
	if st.VehicleCategory != "" && st.Model == "" {
		switch {
		case u.Model != "":
			if idx := matcherx.IndexFold(offered, u.Model); idx >= 0 {
				st.Model = offered[idx]
				progressed = true
			} else {
				notice, err = c.pack.RenderMessage("model_unavailable", c.data(st, offered, u.Model, nil))
			}
		case len(u.ModelCandidates) > 0:
			notice, err = c.pack.RenderMessage("model_ambiguous", c.data(st, offered, "", u.ModelCandidates))
		case u.ModelUnavailable != "":
			notice, err = c.pack.RenderMessage("model_unavailable", c.data(st, offered, u.ModelUnavailable, nil))
		}
		if err != nil {
			return Decision{}, err
		}
	}

	if was == statex.StageAwaitConfirm {
		switch u.Confirmation {
		case extractx.ConfirmYes:
			st.Confirmed = true
			d.Dispatch = true
			progressed = true
			notice, err = c.pack.RenderMessage("dispatched", c.data(st, offered, "", nil))
		case extractx.ConfirmNo:
			st.ClearModel()
			progressed = true
			notice, err = c.pack.RenderMessage("model_rejected", c.data(st, offered, "", nil))
		}
		if err != nil {
			return Decision{}, err
		}
	}

	switch {
	case progressed:
		st.FailedAttempts = 0
	case notice == "" && !u.SmallTalk:
		st.FailedAttempts++
	}

	d.Stage = st.Stage()
	if notice != "" {
		d.Reply = contractx.Reply{Text: notice, QuickReplies: c.quickReplies(d.Stage, offered)}
		return d, nil
	}
	d.Reply, err = c.stageReply(st, snap)
	if err != nil {
		return Decision{}, err
	}
	return d, nil
}

func (c *Controller) afterDispatch(st *statex.Session, u extractx.Update) (Decision, error) {
	d := Decision{
		Stage:         statex.StageDispatched,
		Intent:        u.Intent,
		RetryDispatch: st.DispatchStatus == statex.DispatchExhausted || st.DispatchStatus == statex.DispatchNone,
	}

	if u.Intent != "" {
		for _, in := range c.pack.PostDispatch {
			if in.Intent == u.Intent {
				d.Reply = contractx.Reply{Text: in.Reply, QuickReplies: []string{}}
				return d, nil
			}
		}
	}

	apology, err := c.pack.RenderMessage("apology", c.data(st, nil, "", nil))
	if err != nil {
		return Decision{}, err
	}
	d.Fallback = true
	d.Reply = contractx.Reply{Text: apology, QuickReplies: []string{}}
	return d, nil
}

// Render renders a named message for st; the engine uses it for dispatch outcomes.
func (c *Controller) Render(name string, st *statex.Session, advisor contractx.Advisor) (string, error) {
	data := c.data(st, nil, "", nil)
	data.AdvisorName = advisor.Name
	if data.AdvisorName == "" {
		data.AdvisorName = advisor.ID
	}
	data.AdvisorContact = advisor.Contact
	return c.pack.RenderMessage(name, data)
}

func (c *Controller) stageReply(st *statex.Session, snap extractx.Snapshot) (contractx.Reply, error) {
	stage := st.Stage()
	if stage == statex.StageDispatched {
		return contractx.Reply{}, fmt.Errorf("%w: no prompt after dispatch", contractx.ErrInvariantViolation)
	}
	offered := c.extractor.ModelsFor(st.VehicleCategory, snap.Models)
	text, err := c.pack.RenderStage(stage, st.FailedAttempts, c.data(st, offered, "", nil))
	if err != nil {
		return contractx.Reply{}, err
	}
	return contractx.Reply{Text: text, QuickReplies: c.quickReplies(stage, offered)}, nil
}

func (c *Controller) quickReplies(stage statex.Stage, offered []string) []string {
	if stage == statex.StageAwaitModel {
		if len(offered) > maxQuickReplies {
			offered = offered[:maxQuickReplies]
		}
		return append([]string{}, offered...)
	}
	qr := c.pack.QuickReplies(stage)
	if qr == nil {
		qr = []string{}
	}
	return qr
}

func (c *Controller) data(st *statex.Session, offered []string, requested string, candidates []string) promptx.Data {
	d := promptx.Data{
		Name:       st.Name,
		Contact:    st.Contact,
		Model:      st.Model,
		Requested:  requested,
		Models:     offered,
		Candidates: candidates,
	}
	if st.PurchaseType != "" {
		d.PurchaseLabel = c.pack.PurchaseLabel(st.PurchaseType)
	}
	if st.VehicleCategory != "" {
		d.CategoryLabel = c.pack.CategoryLabel(st.VehicleCategory)
	}
	return d
}
