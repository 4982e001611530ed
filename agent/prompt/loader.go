package prompt

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	statex "github.com/tanpawarit/chative-lead-dispatch/agent/state"
)

//go:embed template/dialogue.yaml
var defaultPackRaw []byte

var ErrPromptMissing = errors.New("required prompt is missing")

// Pack is the wording and vocabulary of the dialogue. Everything a customer reads lives here.
type Pack struct {
	Agency            string                  `yaml:"agency"`
	BotName           string                  `yaml:"bot_name"`
	MaxFailedAttempts int                     `yaml:"max_failed_attempts"`
	Stages            map[string]StagePrompts `yaml:"stages"`
	Messages          map[string]string       `yaml:"messages"`
	PostDispatch      []PostDispatchIntent    `yaml:"post_dispatch"`
	Vocabulary        Vocabulary              `yaml:"vocabulary"`
	Categories        []Category              `yaml:"categories"`
	ModelAliases      map[string]string       `yaml:"model_aliases"`
	KnownModels       []string                `yaml:"known_models"`
	FallbackModels    []string                `yaml:"fallback_models"`

	templates map[string]*template.Template
}

type StagePrompts struct {
	Prompt       string   `yaml:"prompt"`
	Retry        string   `yaml:"retry"`
	Escalate     string   `yaml:"escalate"`
	QuickReplies []string `yaml:"quick_replies"`
}

type PostDispatchIntent struct {
	Intent   string   `yaml:"intent"`
	Keywords []string `yaml:"keywords"`
	Reply    string   `yaml:"reply"`
}

type Vocabulary struct {
	Affirmative    []string            `yaml:"affirmative"`
	Negative       []string            `yaml:"negative"`
	Reset          []string            `yaml:"reset"`
	Purchase       map[string][]string `yaml:"purchase"`
	PurchaseLabels map[string]string   `yaml:"purchase_labels"`
	StopWords      []string            `yaml:"stop_words"`
}

type Category struct {
	ID       statex.VehicleCategory `yaml:"id"`
	Label    string                 `yaml:"label"`
	Keywords []string               `yaml:"keywords"`
	Models   []string               `yaml:"models"`
}

// Data feeds every template; unused fields are ignored.
type Data struct {
	Bot            string
	Agency         string
	Name           string
	Contact        string
	PurchaseLabel  string
	CategoryLabel  string
	Model          string
	Requested      string
	Models         []string
	Candidates     []string
	AdvisorName    string
	AdvisorContact string
}

var funcs = template.FuncMap{
	"join": strings.Join,
}

// Load returns the embedded pack.
func Load() (*Pack, error) {
	return Parse(defaultPackRaw)
}

// LoadFile reads a pack from path; an empty path falls back to the embedded one.
func LoadFile(path string) (*Pack, error) {
	if strings.TrimSpace(path) == "" {
		return Load()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt pack %s: %w", path, err)
	}
	return Parse(raw)
}

func MustLoad() *Pack {
	p, err := Load()
	if err != nil {
		panic(err)
	}
	return p
}

func Parse(raw []byte) (*Pack, error) {
	var p Pack
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parse prompt pack: %w", err)
	}
	if p.MaxFailedAttempts <= 0 {
		p.MaxFailedAttempts = 3
	}
	if err := p.compile(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Pack) compile() error {
	p.templates = make(map[string]*template.Template)

	for _, stage := range []statex.Stage{
		statex.StageAwaitName,
		statex.StageAwaitPurchaseType,
		statex.StageAwaitCategory,
		statex.StageAwaitModel,
		statex.StageAwaitConfirm,
	} {
		sp, ok := p.Stages[string(stage)]
		if !ok || strings.TrimSpace(sp.Prompt) == "" {
			return fmt.Errorf("%w: stage %s", ErrPromptMissing, stage)
		}
		variants := map[string]string{"prompt": sp.Prompt, "retry": sp.Retry, "escalate": sp.Escalate}
		for variant, text := range variants {
			if strings.TrimSpace(text) == "" {
				text = sp.Prompt
			}
			if err := p.add(stageKey(stage, variant), text); err != nil {
				return err
			}
		}
	}

	for _, name := range requiredMessages {
		if strings.TrimSpace(p.Messages[name]) == "" {
			return fmt.Errorf("%w: message %s", ErrPromptMissing, name)
		}
	}
	for name, text := range p.Messages {
		if err := p.add("msg/"+name, text); err != nil {
			return err
		}
	}
	return nil
}

var requiredMessages = []string{
	"model_unavailable", "model_ambiguous", "model_rejected", "dispatched",
	"no_advisor", "advisor_assigned", "advisor_offer", "advisor_confirmed", "apology",
}

func (p *Pack) add(key, text string) error {
	tmpl, err := template.New(key).Funcs(funcs).Parse(text)
	if err != nil {
		return fmt.Errorf("parse template %s: %w", key, err)
	}
	p.templates[key] = tmpl
	return nil
}

func stageKey(stage statex.Stage, variant string) string {
	return "stage/" + string(stage) + "/" + variant
}

// Variant picks the prompt wording for the number of consecutive misunderstandings.
func (p *Pack) Variant(failedAttempts int) string {
	switch {
	case failedAttempts <= 0:
		return "prompt"
	case failedAttempts < p.MaxFailedAttempts-1:
		return "retry"
	default:
		return "escalate"
	}
}

func (p *Pack) RenderStage(stage statex.Stage, failedAttempts int, data Data) (string, error) {
	return p.render(stageKey(stage, p.Variant(failedAttempts)), data)
}

func (p *Pack) QuickReplies(stage statex.Stage) []string {
	return append([]string(nil), p.Stages[string(stage)].QuickReplies...)
}

func (p *Pack) RenderMessage(name string, data Data) (string, error) {
	return p.render("msg/"+name, data)
}

func (p *Pack) render(key string, data Data) (string, error) {
	tmpl, ok := p.templates[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrPromptMissing, key)
	}
	if data.Bot == "" {
		data.Bot = p.BotName
	}
	if data.Agency == "" {
		data.Agency = p.Agency
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render %s: %w", key, err)
	}
	return strings.TrimSpace(sb.String()), nil
}

func (p *Pack) PurchaseLabel(pt statex.PurchaseType) string {
	if label, ok := p.Vocabulary.PurchaseLabels[string(pt)]; ok {
		return label
	}
	return strings.ToLower(string(pt))
}

func (p *Pack) Category(id statex.VehicleCategory) (Category, bool) {
	for _, c := range p.Categories {
		if c.ID == id {
			return c, true
		}
	}
	return Category{}, false
}

func (p *Pack) CategoryLabel(id statex.VehicleCategory) string {
	if c, ok := p.Category(id); ok {
		return c.Label
	}
	return strings.ToLower(string(id))
}
