// Package transcript post-processes engine text before it is emitted.
//
// Engines regularly mishear domain vocabulary: product names, people,
// jargon. [Vocabulary] aligns such phrases with a configured term list using
// a [PhoneticMatcher], so "cooper netties" becomes "Kubernetes". Every
// substitution is reported as a [Correction] for auditing.
package transcript

import (
	"strings"
	"unicode"

	"github.com/MrWong99/livescribe/internal/transcript/phonetic"
)

// Correction captures a single phrase substitution.
type Correction struct {
	// Original is the phrase as produced by the engine.
	Original string

	// Corrected is the vocabulary term that replaced it.
	Corrected string

	// Confidence is the matcher's similarity score (0.0–1.0).
	Confidence float64
}

// PhoneticMatcher resolves a phrase to a known term by pronunciation
// similarity. It must be fast enough to run on every engine result.
//
// Implementations must be safe for concurrent use.
type PhoneticMatcher interface {
	// Match returns the best term for phrase. When matched is false,
	// corrected equals phrase and confidence is 0.
	Match(phrase string, terms []string) (corrected string, confidence float64, matched bool)
}

// Vocabulary corrects transcript text against a fixed term list. It is
// immutable after construction and safe for concurrent use.
type Vocabulary struct {
	terms    []string
	maxWords int
	match    func(string) (string, float64, bool)
}

// NewVocabulary builds a corrector for terms. A nil matcher selects
// [phonetic.New] with default thresholds. Returns nil when terms holds no
// usable entry, and a nil *Vocabulary leaves text unchanged.
func NewVocabulary(terms []string, matcher PhoneticMatcher) *Vocabulary {
	if matcher == nil {
		matcher = phonetic.New()
	}
	clean := make([]string, 0, len(terms))
	for _, t := range terms {
		if t = strings.TrimSpace(t); t != "" {
			clean = append(clean, t)
		}
	}
	if len(clean) == 0 {
		return nil
	}

	v := &Vocabulary{terms: clean}
	if pm, ok := matcher.(*phonetic.Matcher); ok {
		prepared := phonetic.Prepare(clean)
		v.maxWords = prepared.MaxWords()
		v.match = func(phrase string) (string, float64, bool) {
			return pm.MatchPrepared(phrase, prepared)
		}
		return v
	}
	for _, t := range clean {
		v.maxWords = max(v.maxWords, len(strings.Fields(t)))
	}
	v.match = func(phrase string) (string, float64, bool) {
		return matcher.Match(phrase, clean)
	}
	return v
}

// Terms returns a copy of the configured terms.
func (v *Vocabulary) Terms() []string {
	if v == nil {
		return nil
	}
	return append([]string(nil), v.terms...)
}

// Correct returns text with vocabulary substitutions applied.
func (v *Vocabulary) Correct(text string) string {
	out, _ := v.Apply(text)
	return out
}

// Apply corrects text and reports every substitution.
//
// Text is split on whitespace. At each position, windows from one word more
// than the longest term down to one token are tried and the longest match
// wins, so a single-word term can still replace a two-word mishearing. A
// window never matches a term with more words than itself.
// Punctuation trailing a window is kept after the replacement. Corrected text
// is re-joined with single spaces; uncorrected text is returned as is.
func (v *Vocabulary) Apply(text string) (string, []Correction) {
	if v == nil || v.maxWords == 0 {
		return text, nil
	}
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return text, nil
	}

	var (
		output      []string
		corrections []Correction
	)
	for i := 0; i < len(tokens); {
		n := v.matchAt(tokens[i:], &output, &corrections)
		if n == 0 {
			output = append(output, tokens[i])
			n = 1
		}
		i += n
	}
	if len(corrections) == 0 {
		return text, nil
	}
	return strings.Join(output, " "), corrections
}

// matchAt tries windows starting at tokens[0] and returns how many tokens the
// accepted match consumed, or 0.
func (v *Vocabulary) matchAt(tokens []string, output *[]string, corrections *[]Correction) int {
	for n := min(v.maxWords+1, len(tokens)); n >= 1; n-- {
		window := strings.Join(tokens[:n], " ")
		phrase, trailing := splitTrailingPunct(window)
		if phrase == "" {
			continue
		}
		term, conf, ok := v.match(phrase)
		if !ok || n < len(strings.Fields(term)) {
			continue
		}
		if n > 1 && v.edgeRedundant(tokens[:n], term, conf) {
			continue
		}
		*output = append(*output, term+trailing)
		if term != phrase {
			*corrections = append(*corrections, Correction{
				Original:   phrase,
				Corrected:  term,
				Confidence: conf,
			})
		}
		return n
	}
	return 0
}

// edgeRedundant reports whether dropping the first or last token of window
// still yields term at least as confidently. Such a window would swallow an
// unrelated neighbour ("the grafana" → "Grafana").
func (v *Vocabulary) edgeRedundant(window []string, term string, conf float64) bool {
	for _, sub := range [][]string{window[1:], window[:len(window)-1]} {
		phrase, _ := splitTrailingPunct(strings.Join(sub, " "))
		if got, c, ok := v.match(phrase); ok && got == term && c >= conf {
			return true
		}
	}
	return false
}

// splitTrailingPunct separates trailing punctuation such as ".", "," or "?!"
// from s.
func splitTrailingPunct(s string) (body, punct string) {
	body = strings.TrimRightFunc(s, unicode.IsPunct)
	return body, s[len(body):]
}
