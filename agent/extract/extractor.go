package extract

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	matcherx "github.com/tanpawarit/chative-lead-dispatch/agent/matcher"
	promptx "github.com/tanpawarit/chative-lead-dispatch/agent/prompt"
	statex "github.com/tanpawarit/chative-lead-dispatch/agent/state"
)

type Confirmation int

const (
	ConfirmUnresolved Confirmation = iota
	ConfirmYes
	ConfirmNo
)

// Update is what one message contributes. Zero values mean "not resolved".
type Update struct {
	Reset   bool
	Contact string

	Name         string
	PurchaseType statex.PurchaseType
	Category     statex.VehicleCategory
	Model        string
	Confirmation Confirmation

	// ModelCandidates is set when the model mention was ambiguous.
	ModelCandidates []string
	// ModelUnavailable names a recognised model that is not on offer right now.
	ModelUnavailable string

	// Intent is the post-dispatch intent, empty when none matched.
	Intent string
	// SmallTalk marks a message made only of filler words such as a greeting.
	SmallTalk bool
}

// Resolved reports whether the update moves the dialogue forward.
func (u Update) Resolved() bool {
	return u.Reset || u.Name != "" || u.PurchaseType != "" || u.Category != "" ||
		u.Model != "" || u.Confirmation != ConfirmUnresolved
}

// Snapshot is the catalog view extraction runs against.
type Snapshot struct {
	Models []string
}

var (
	namePhrase = regexp.MustCompile(`(?i)(?:mi nombre es|me llamo|soy)\s+([\p{L}]+)(?:\s+([\p{L}]+))?`)
	jidPhone   = regexp.MustCompile(`^(\d{10,15})(?:@s\.whatsapp\.net)?$`)
)

type Extractor struct {
	pack       *promptx.Pack
	matcher    *matcherx.Matcher
	purchase   map[string][]string
	categories map[string][]string
	confirm    map[string][]string
	reserved   map[string]struct{}
}

func New(pack *promptx.Pack, m *matcherx.Matcher) *Extractor {
	e := &Extractor{
		pack:       pack,
		matcher:    m,
		purchase:   pack.Vocabulary.Purchase,
		categories: make(map[string][]string, len(pack.Categories)),
		confirm: map[string][]string{
			"yes": pack.Vocabulary.Affirmative,
			"no":  pack.Vocabulary.Negative,
		},
		reserved: make(map[string]struct{}),
	}

	reserve := func(words ...string) {
		for _, w := range words {
			for _, tok := range matcherx.Tokens(matcherx.Fold(w)) {
				e.reserved[tok] = struct{}{}
			}
		}
	}
	for _, c := range pack.Categories {
		e.categories[string(c.ID)] = append([]string{c.Label}, c.Keywords...)
		reserve(c.Keywords...)
		reserve(c.Models...)
	}
	for _, kws := range pack.Vocabulary.Purchase {
		reserve(kws...)
	}
	reserve(pack.KnownModels...)
	reserve(pack.Vocabulary.Affirmative...)
	reserve(pack.Vocabulary.Negative...)
	return e
}

// Extract reads text against st without mutating it. Filled slots are never overwritten and a
// slot is only considered once every slot before it is filled, before or by this message.
func (e *Extractor) Extract(text string, st *statex.Session, snap Snapshot) Update {
	var u Update
	if st.Contact == "" {
		u.Contact = ContactFromClientID(st.ClientID)
	}
	if e.isReset(text) {
		u.Reset = true
		return u
	}

	stage := st.Stage()
	if stage == statex.StageDispatched {
		u.Intent = e.intent(text)
		return u
	}

	u.SmallTalk = e.smallTalk(text)

	name := st.Name
	if name == "" {
		name = e.name(text)
		u.Name = name
	}
	if name == "" {
		return u
	}

	pt := st.PurchaseType
	if pt == "" {
		if r := e.matcher.Classify(text, e.purchase, false); r.Outcome == matcherx.Matched {
			pt = statex.PurchaseType(r.Value)
			u.PurchaseType = pt
		}
	}
	if pt == "" {
		return u
	}

	cat := st.VehicleCategory
	if cat == "" {
		if r := e.matcher.Classify(text, e.categories, true); r.Outcome == matcherx.Matched {
			cat = statex.VehicleCategory(r.Value)
			u.Category = cat
		}
	}

	if st.Model == "" {
		e.model(text, cat, snap, &u)
		return u
	}

	if stage == statex.StageAwaitConfirm {
		switch e.matcher.Earliest(text, e.confirm).Value {
		case "yes":
			u.Confirmation = ConfirmYes
		case "no":
			u.Confirmation = ConfirmNo
		}
	}
	return u
}

func (e *Extractor) model(text string, cat statex.VehicleCategory, snap Snapshot, u *Update) {
	if cat == "" {
		// A model named before the category implies the category.
		r := e.matcher.Match(text, snap.Models, e.pack.ModelAliases)
		if r.Outcome != matcherx.Matched {
			return
		}
		if inferred, ok := e.CategoryOf(r.Value); ok {
			u.Category = inferred
			u.Model = r.Value
		}
		return
	}

	offered := e.ModelsFor(cat, snap.Models)
	r := e.matcher.Match(text, offered, e.pack.ModelAliases)
	switch r.Outcome {
	case matcherx.Matched:
		u.Model = r.Value
	case matcherx.Ambiguous:
		u.ModelCandidates = r.Candidates
	default:
		known := append(append([]string(nil), e.pack.KnownModels...), snap.Models...)
		if k := e.matcher.Match(text, known, e.pack.ModelAliases); k.Outcome == matcherx.Matched {
			u.ModelUnavailable = k.Value
		}
	}
}

// ModelsFor filters the snapshot by the category's model list, keeping snapshot order.
// An empty intersection offers the whole snapshot.
func (e *Extractor) ModelsFor(cat statex.VehicleCategory, models []string) []string {
	c, ok := e.pack.Category(cat)
	if !ok {
		return append([]string(nil), models...)
	}
	var out []string
	for _, m := range models {
		if matcherx.IndexFold(c.Models, m) >= 0 {
			out = append(out, m)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), models...)
	}
	return out
}

func (e *Extractor) CategoryOf(model string) (statex.VehicleCategory, bool) {
	for _, c := range e.pack.Categories {
		if matcherx.IndexFold(c.Models, model) >= 0 {
			return c.ID, true
		}
	}
	return "", false
}

func (e *Extractor) isReset(text string) bool {
	ft := matcherx.Fold(text)
	for _, phrase := range e.pack.Vocabulary.Reset {
		if matcherx.ContainsPhrase(ft, matcherx.Fold(phrase)) {
			return true
		}
	}
	return false
}

func (e *Extractor) intent(text string) string {
	ft := matcherx.Fold(text)
	for _, in := range e.pack.PostDispatch {
		for _, kw := range in.Keywords {
			if matcherx.ContainsPhrase(ft, matcherx.Fold(kw)) {
				return in.Intent
			}
		}
	}
	return ""
}

func (e *Extractor) smallTalk(text string) bool {
	toks := matcherx.Tokens(matcherx.Fold(text))
	if len(toks) == 0 {
		return false
	}
	for _, tok := range toks {
		if !e.matcher.IsStopWord(tok) {
			return false
		}
	}
	return true
}

func (e *Extractor) name(text string) string {
	if m := namePhrase.FindStringSubmatch(text); m != nil {
		if !e.nameCandidate(m[1]) {
			return ""
		}
		parts := []string{m[1]}
		if m[2] != "" && e.nameCandidate(m[2]) {
			parts = append(parts, m[2])
		}
		return titleCase(strings.Join(parts, " "))
	}

	words := strings.FieldsFunc(text, func(r rune) bool { return !unicode.IsLetter(r) })
	for i, w := range words {
		if !e.nameCandidate(w) {
			continue
		}
		// Two capitalized tokens in a row are one compound name: "Ana María".
		if i+1 < len(words) && capitalized(w) && capitalized(words[i+1]) && e.nameCandidate(words[i+1]) {
			return titleCase(w + " " + words[i+1])
		}
		return titleCase(w)
	}
	return ""
}

func capitalized(word string) bool {
	for _, r := range word {
		return unicode.IsUpper(r)
	}
	return false
}

func (e *Extractor) nameCandidate(word string) bool {
	if len([]rune(word)) <= 2 {
		return false
	}
	folded := matcherx.Fold(word)
	if e.matcher.IsStopWord(folded) {
		return false
	}
	_, reserved := e.reserved[folded]
	return !reserved
}

// titleCase builds a Caser per call; Casers carry state and are not safe to share.
func titleCase(s string) string {
	return cases.Title(language.Spanish).String(strings.ToLower(s))
}

// ContactFromClientID returns the phone number carried by a WhatsApp JID or a bare number.
func ContactFromClientID(clientID string) string {
	m := jidPhone.FindStringSubmatch(strings.TrimSpace(clientID))
	if m == nil {
		return ""
	}
	return m[1]
}
