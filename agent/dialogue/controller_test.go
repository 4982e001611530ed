package dialogue

import (
	"strings"
	"testing"
	"time"

	extractx "github.com/tanpawarit/chative-lead-dispatch/agent/extract"
	matcherx "github.com/tanpawarit/chative-lead-dispatch/agent/matcher"
	promptx "github.com/tanpawarit/chative-lead-dispatch/agent/prompt"
	statex "github.com/tanpawarit/chative-lead-dispatch/agent/state"
)

var snapshot = extractx.Snapshot{Models: []string{"Jetta", "Virtus", "Polo", "T-Cross", "Taos", "Tiguan", "Teramont"}}

type harness struct {
	t          *testing.T
	extractor  *extractx.Extractor
	controller *Controller
	st         *statex.Session
	now        time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	pack := promptx.MustLoad()
	ex := extractx.New(pack, matcherx.New(matcherx.Config{MaxDistance: 2, StopWords: pack.Vocabulary.StopWords}))
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &harness{
		t:          t,
		extractor:  ex,
		controller: New(pack, ex),
		st:         statex.NewSession("5216671234567@s.whatsapp.net", now),
		now:        now,
	}
}

func (h *harness) say(text string) Decision {
	h.t.Helper()
	h.now = h.now.Add(time.Minute)
	u := h.extractor.Extract(text, h.st, snapshot)
	d, err := h.controller.Step(h.st, u, snapshot, h.now)
	if err != nil {
		h.t.Fatalf("Step(%q) error = %v", text, err)
	}
	if err := h.st.Validate(); err != nil {
		h.t.Fatalf("Validate() after %q error = %v", text, err)
	}
	return d
}

func TestControllerHappyPath(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	d := h.say("hola")
	if d.Stage != statex.StageAwaitName || !strings.Contains(d.Reply.Text, "Alex") {
		t.Fatalf("greeting = %+v", d)
	}
	if h.st.FailedAttempts != 0 {
		t.Fatalf("FailedAttempts = %d after a greeting, want 0", h.st.FailedAttempts)
	}

	d = h.say("me llamo Ana")
	if d.Stage != statex.StageAwaitPurchaseType || !strings.Contains(d.Reply.Text, "Ana") {
		t.Fatalf("after name = %+v", d)
	}
	if len(d.Reply.QuickReplies) != 2 {
		t.Fatalf("QuickReplies = %v, want purchase options", d.Reply.QuickReplies)
	}

	d = h.say("nuevo")
	if d.Stage != statex.StageAwaitCategory {
		t.Fatalf("after purchase = %+v", d)
	}

	d = h.say("SUV")
	if d.Stage != statex.StageAwaitModel {
		t.Fatalf("after category = %+v", d)
	}
	if strings.Join(d.Reply.QuickReplies, ",") != "T-Cross,Taos,Tiguan,Teramont" {
		t.Fatalf("QuickReplies = %v, want SUV models in catalog order", d.Reply.QuickReplies)
	}

	d = h.say("la tiguan")
	if d.Stage != statex.StageAwaitConfirm || !strings.Contains(d.Reply.Text, "5216671234567") {
		t.Fatalf("after model = %+v", d)
	}

	d = h.say("sí")
	if !d.Dispatch || d.Stage != statex.StageDispatched {
		t.Fatalf("after confirm = %+v", d)
	}
	if !h.st.Confirmed || h.st.Model != "Tiguan" {
		t.Fatalf("session = %+v", h.st)
	}

	d = h.say("gracias")
	if d.Dispatch || d.Intent != "thanks" || d.Fallback {
		t.Fatalf("post-dispatch = %+v", d)
	}
}

func TestControllerNegativeConfirmationReopensModel(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.say("Soy Luis, busco un sedán nuevo, el Jetta")
	if h.st.Stage() != statex.StageAwaitConfirm {
		t.Fatalf("Stage() = %s, want AWAIT_CONFIRM", h.st.Stage())
	}

	d := h.say("no")
	if d.Dispatch {
		t.Fatal("Dispatch = true after a negative answer")
	}
	if h.st.Model != "" || h.st.Confirmed {
		t.Fatalf("model not cleared: %+v", h.st)
	}
	if d.Stage != statex.StageAwaitModel {
		t.Fatalf("Stage = %s, want AWAIT_MODEL", d.Stage)
	}
	if h.st.Name != "Luis" || h.st.VehicleCategory != statex.CategorySedan {
		t.Fatalf("upstream slots lost: %+v", h.st)
	}
}

func TestControllerUnavailableModelReprompts(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.say("Soy Luis, quiero una camioneta nueva")

	d := h.say("una Amarok")
	if h.st.Model != "" {
		t.Fatalf("Model = %q, want empty", h.st.Model)
	}
	if !strings.Contains(d.Reply.Text, "Amarok") || !strings.Contains(d.Reply.Text, "Tiguan") {
		t.Fatalf("reply = %q, want unavailable notice with the valid list", d.Reply.Text)
	}
	if h.st.FailedAttempts != 0 {
		t.Fatalf("FailedAttempts = %d, want 0 for an understood request", h.st.FailedAttempts)
	}
}

func TestControllerEscalatesOnRepeatedMisunderstanding(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.say("me llamo Ana")

	first := h.say("???")
	second := h.say("???")
	third := h.say("???")

	if h.st.FailedAttempts != 3 {
		t.Fatalf("FailedAttempts = %d, want 3", h.st.FailedAttempts)
	}
	if first.Reply.Text == second.Reply.Text {
		t.Fatalf("prompts did not escalate: %q / %q", first.Reply.Text, second.Reply.Text)
	}
	if second.Reply.Text != third.Reply.Text {
		t.Fatalf("escalated prompt changed: %q / %q", second.Reply.Text, third.Reply.Text)
	}

	h.say("usado")
	if h.st.FailedAttempts != 0 {
		t.Fatalf("FailedAttempts = %d after progress, want 0", h.st.FailedAttempts)
	}
}

func TestControllerDispatchHappensOncePerEpoch(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.say("Soy Luis, busco un sedán nuevo, el Jetta")

	dispatches := 0
	for _, text := range []string{"sí", "sí", "claro", "ok"} {
		if h.say(text).Dispatch {
			dispatches++
		}
	}
	if dispatches != 1 {
		t.Fatalf("dispatches = %d, want 1", dispatches)
	}
}

func TestControllerResetKeepsOnlyClientID(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.say("Soy Luis, busco un sedán nuevo, el Jetta")
	h.say("sí")

	d := h.say("reiniciar")
	if !d.Reset || d.Stage != statex.StageAwaitName {
		t.Fatalf("reset decision = %+v", d)
	}
	if h.st.Name != "" || h.st.Confirmed || h.st.Epoch != 1 {
		t.Fatalf("session after reset = %+v", h.st)
	}
	if h.st.ClientID != "5216671234567@s.whatsapp.net" || h.st.Contact != "5216671234567" {
		t.Fatalf("identity lost after reset: %+v", h.st)
	}
}

func TestControllerExhaustedLeadAsksForRetry(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.say("Soy Luis, busco un sedán nuevo, el Jetta")
	h.say("sí")
	h.st.SetDispatchStatus(statex.DispatchExhausted, h.now)

	d := h.say("¿tienen financiamiento?")
	if !d.RetryDispatch || !d.Fallback {
		t.Fatalf("decision = %+v, want retry and fallback", d)
	}
}

func TestControllerUndispatchedLeadAsksForRetry(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.say("Soy Luis, busco un sedán nuevo, el Jetta")
	h.say("sí")

	d := h.say("¿ya me van a llamar?")
	if h.st.DispatchStatus != statex.DispatchNone || !d.RetryDispatch {
		t.Fatalf("decision = %+v status=%s, want a retry for a lead nobody holds", d, h.st.DispatchStatus)
	}

	h.st.SetDispatchStatus(statex.DispatchPending, h.now)
	h.st.CurrentAdvisor = "A"
	h.st.AssignedAdvisors = []string{"A"}
	if d := h.say("¿ya me van a llamar?"); d.RetryDispatch {
		t.Fatalf("decision = %+v, a pending lead must not be retried", d)
	}
}
