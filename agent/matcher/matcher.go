package matcher

import (
	"slices"
	"strings"

	"github.com/agnivade/levenshtein"
)

type Outcome int

const (
	NoMatch Outcome = iota
	Matched
	Ambiguous
)

func (o Outcome) String() string {
	switch o {
	case Matched:
		return "matched"
	case Ambiguous:
		return "ambiguous"
	default:
		return "no_match"
	}
}

type Result struct {
	Outcome    Outcome
	Value      string
	Candidates []string
	Distance   int
}

type Config struct {
	// MaxDistance caps the edit distance accepted for long candidates.
	MaxDistance int
	StopWords   []string
}

// Matcher is the single place free text is compared to closed vocabularies.
type Matcher struct {
	maxDistance int
	stopWords   map[string]struct{}
}

func New(cfg Config) *Matcher {
	maxDistance := cfg.MaxDistance
	if maxDistance <= 0 {
		maxDistance = 2
	}
	stop := make(map[string]struct{}, len(cfg.StopWords))
	for _, w := range cfg.StopWords {
		if f := Fold(w); f != "" {
			stop[f] = struct{}{}
		}
	}
	return &Matcher{maxDistance: maxDistance, stopWords: stop}
}

func (m *Matcher) IsStopWord(token string) bool {
	_, ok := m.stopWords[Fold(token)]
	return ok
}

// allowed is the edit distance tolerated for a folded candidate of this length.
func (m *Matcher) allowed(folded string) int {
	n := len([]rune(folded))
	switch {
	case n <= 3:
		return 0
	case n <= 5:
		return min(1, m.maxDistance)
	default:
		return m.maxDistance
	}
}

// Match resolves text to one of candidates. Whole-phrase hits win, longest first; aliases
// (folded alias -> candidate) count as whole-phrase hits. Otherwise the closest candidate
// within the edit threshold wins; ties and near misses come back Ambiguous.
func (m *Matcher) Match(text string, candidates []string, aliases map[string]string) Result {
	ft := Fold(text)
	if ft == "" || len(candidates) == 0 {
		return Result{Outcome: NoMatch}
	}

	if best, ok := m.exact(ft, candidates, aliases); ok {
		return Result{Outcome: Matched, Value: best}
	}
	return m.fuzzy(ft, candidates)
}

func (m *Matcher) exact(ft string, candidates []string, aliases map[string]string) (string, bool) {
	best, bestLen := "", 0
	for _, c := range candidates {
		fc := Fold(c)
		if ContainsPhrase(ft, fc) && len(fc) > bestLen {
			best, bestLen = c, len(fc)
		}
	}
	names := make([]string, 0, len(aliases))
	for alias := range aliases {
		names = append(names, alias)
	}
	slices.Sort(names)
	for _, alias := range names {
		target := aliases[alias]
		fa := Fold(alias)
		if !ContainsPhrase(ft, fa) || len(fa) <= bestLen {
			continue
		}
		if idx := IndexFold(candidates, target); idx >= 0 {
			best, bestLen = candidates[idx], len(fa)
		}
	}
	return best, bestLen > 0
}

func (m *Matcher) fuzzy(ft string, candidates []string) Result {
	tokens := Tokens(ft)
	bestDist := -1
	var winners, near []string

	for _, c := range candidates {
		fc := Fold(c)
		words := len(Tokens(fc))
		if words == 0 || words > len(tokens) {
			continue
		}
		allowed := m.allowed(fc)
		d := -1
		for i := 0; i+words <= len(tokens); i++ {
			window := tokens[i : i+words]
			if words == 1 && m.IsStopWord(window[0]) {
				continue
			}
			phrase := strings.Join(window, " ")
			if phrase[0] != fc[0] {
				continue
			}
			wd := levenshtein.ComputeDistance(phrase, fc)
			if d < 0 || wd < d {
				d = wd
			}
		}
		switch {
		case d < 0:
		case d <= allowed:
			if bestDist < 0 || d < bestDist {
				bestDist, winners = d, []string{c}
			} else if d == bestDist {
				winners = append(winners, c)
			}
		case d == allowed+1 && len(fc) >= 5:
			near = append(near, c)
		}
	}

	switch {
	case len(winners) == 1:
		return Result{Outcome: Matched, Value: winners[0], Distance: bestDist}
	case len(winners) > 1:
		return Result{Outcome: Ambiguous, Candidates: winners, Distance: bestDist}
	case len(near) > 0:
		return Result{Outcome: Ambiguous, Candidates: near}
	default:
		return Result{Outcome: NoMatch}
	}
}

// Classify returns the key whose keywords occur in text. Keywords from two different keys
// make the result Ambiguous, unless one sits inside a longer keyword of the other key
// ("nuevo" in "semi nuevo"); the longer one wins. With fuzzy set, single tokens within
// distance 1 of a keyword of five or more letters also count.
func (m *Matcher) Classify(text string, keywords map[string][]string, fuzzy bool) Result {
	ft := Fold(text)
	if ft == "" {
		return Result{Outcome: NoMatch}
	}

	keys := make([]string, 0, len(keywords))
	for k := range keywords {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	matched := make(map[string][]string, len(keys))
	for _, k := range keys {
		for _, kw := range keywords[k] {
			if fk := Fold(kw); ContainsPhrase(ft, fk) {
				matched[k] = append(matched[k], fk)
			}
		}
	}
	var hits []string
	for _, k := range keys {
		if len(matched[k]) > 0 && !shadowed(ft, k, matched) {
			hits = append(hits, k)
		}
	}
	if len(hits) == 0 && fuzzy {
		hits = m.fuzzyClassify(Tokens(ft), keys, keywords)
	}

	switch len(hits) {
	case 0:
		return Result{Outcome: NoMatch}
	case 1:
		return Result{Outcome: Matched, Value: hits[0]}
	default:
		return Result{Outcome: Ambiguous, Candidates: hits}
	}
}

// shadowed reports whether every keyword hit of key lies inside a longer keyword matched
// for another key.
func shadowed(ft, key string, matched map[string][]string) bool {
	masked := " " + ft + " "
	for other, phrases := range matched {
		if other == key {
			continue
		}
		for _, p := range phrases {
			for _, own := range matched[key] {
				if len(p) > len(own) && ContainsPhrase(p, own) {
					for strings.Contains(masked, " "+p+" ") {
						masked = strings.Replace(masked, " "+p+" ", " | ", 1)
					}
					break
				}
			}
		}
	}
	for _, own := range matched[key] {
		if strings.Contains(masked, " "+own+" ") {
			return false
		}
	}
	return true
}

func (m *Matcher) fuzzyClassify(tokens []string, keys []string, keywords map[string][]string) []string {
	var hits []string
	for _, k := range keys {
	search:
		for _, kw := range keywords[k] {
			fk := Fold(kw)
			if strings.Contains(fk, " ") || len([]rune(fk)) < 5 {
				continue
			}
			for _, tok := range tokens {
				if m.IsStopWord(tok) || tok[0] != fk[0] {
					continue
				}
				if levenshtein.ComputeDistance(tok, fk) <= 1 {
					hits = append(hits, k)
					break search
				}
			}
		}
	}
	return hits
}

// IndexFold returns the index of the value equal to target after folding, or -1.
func IndexFold(values []string, target string) int {
	ft := Fold(target)
	for i, v := range values {
		if Fold(v) == ft {
			return i
		}
	}
	return -1
}

// Earliest returns the key whose keyword occurs first in text, so "no, no es correcto"
// resolves to the key holding "no" even though "correcto" appears later.
func (m *Matcher) Earliest(text string, keywords map[string][]string) Result {
	ft := " " + Fold(text) + " "
	bestKey, bestPos := "", -1
	for key, kws := range keywords {
		for _, kw := range kws {
			fk := Fold(kw)
			if fk == "" {
				continue
			}
			idx := strings.Index(ft, " "+fk+" ")
			if idx < 0 {
				continue
			}
			if bestPos < 0 || idx < bestPos || (idx == bestPos && key < bestKey) {
				bestKey, bestPos = key, idx
			}
		}
	}
	if bestPos < 0 {
		return Result{Outcome: NoMatch}
	}
	return Result{Outcome: Matched, Value: bestKey}
}
