package flow

import (
	"strings"
	"unicode"

	"github.com/spapperi/configurator/internal/models"
)

// Row type labels, matching the options of the row type question.
const (
	RowTypeSingle = "Singole"
	RowTypeTwin   = "Binate"
)

// rowTypeWords reports whether text names single rows and whether it names
// twin rows, matching word prefixes so "File singole" and "bine" count.
func rowTypeWords(text string) (single, twin bool) {
	for _, w := range words(text) {
		switch {
		case strings.HasPrefix(w, "singol"), strings.HasPrefix(w, "single"):
			single = true
		case strings.HasPrefix(w, "bin"):
			twin = true
		}
	}
	return single, twin
}

// IsSingleRow reports whether the stored row type describes single rows.
// Anything else, including a missing or ambiguous answer, is treated as twin
// rows, which asks for the superset of measurements.
func IsSingleRow(rowType *string) bool {
	if rowType == nil {
		return false
	}
	single, twin := rowTypeWords(*rowType)
	return single && !twin
}

// canonicalRowType maps a free-text row type onto its option label. Text
// naming neither or both kinds is returned unchanged.
func canonicalRowType(text string) string {
	switch single, twin := rowTypeWords(text); {
	case single && !twin:
		return RowTypeSingle
	case twin && !single:
		return RowTypeTwin
	}
	return text
}

// ResolvePrompt returns the question text of p for the collected data.
func ResolvePrompt(p Phase, data *models.ConfigurationData) string {
	return p.Prompt.Resolve(derefData(data))
}

// ResolveFormat returns the expected-answer description of p for the collected data.
func ResolveFormat(p Phase, data *models.ConfigurationData) string {
	return p.Format.Resolve(derefData(data))
}

// transitionRule routes a phase away from its default next phase when When
// holds for the extracted answer.
type transitionRule struct {
	Name  string
	Phase string
	When  func(extracted map[string]any, data models.ConfigurationData) bool
	Next  string
}

// transitionRules is the complete list of non-default transitions.
var transitionRules = []transitionRule{
	{
		Name:  "not_interested_skips_contact",
		Phase: "phase_6_2",
		When: func(extracted map[string]any, _ models.ConfigurationData) bool {
			interested, _ := extractInterest(extracted)
			return !interested
		},
		Next: PhaseComplete,
	},
}

// ResolveNextPhase returns the phase that follows current after a complete
// answer. Declared transition rules win over the catalog's default.
func ResolveNextPhase(current string, extracted map[string]any, data *models.ConfigurationData) (string, error) {
	p, err := Lookup(current)
	if err != nil {
		return "", err
	}
	d := derefData(data)
	for _, rule := range transitionRules {
		if rule.Phase == current && rule.When(extracted, d) {
			return rule.Next, nil
		}
	}
	return p.Next, nil
}

var affirmativeTokens = map[string]bool{
	"sì":            true,
	"si":            true,
	"sí":            true,
	"yes":           true,
	"certo":         true,
	"certamente":    true,
	"volentieri":    true,
	"assolutamente": true,
}

// answerNegatives are negative words that answer the question on their own.
var answerNegatives = map[string]bool{
	"no":   true,
	"nope": true,
}

// phraseNegatives negate only when they come before any affirmative word,
// so "Certo, nessun problema" stays a yes.
var phraseNegatives = map[string]bool{
	"non":     true,
	"nessun":  true,
	"nessuno": true,
	"nessuna": true,
	"niente":  true,
	"not":     true,
}

// IsAffirmative reports whether text is a yes-answer. Matching is per word
// and case-insensitive. A standalone "no" anywhere makes the answer negative;
// otherwise the first affirmative or negating word decides. Text with no
// such word is negative.
func IsAffirmative(text string) bool {
	ws := words(text)
	for _, w := range ws {
		if answerNegatives[w] {
			return false
		}
	}
	for _, w := range ws {
		if affirmativeTokens[w] {
			return true
		}
		if phraseNegatives[w] {
			return false
		}
	}
	return false
}

// words splits lowercased text into letter runs.
func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
}

func derefData(data *models.ConfigurationData) models.ConfigurationData {
	if data == nil {
		return models.ConfigurationData{}
	}
	return *data
}
