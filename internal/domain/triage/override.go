package triage

import "strings"

// Rule is a hard escalation rule. When Predicate holds for the normalized
// text, Outcome replaces the computed assessment outright.
type Rule struct {
	Name      string
	Predicate func(normalized string) bool
	Outcome   RiskAssessment
}

// PhraseRule builds a Rule that fires when any phrase is a substring of the
// normalized text. Phrases are normalized at construction.
func PhraseRule(name string, outcome RiskAssessment, phrases ...string) Rule {
	normalized := make([]string, 0, len(phrases))
	for _, p := range phrases {
		if np := Normalize(p); np != "" {
			normalized = append(normalized, np)
		}
	}
	return Rule{
		Name: name,
		Predicate: func(text string) bool {
			for _, p := range normalized {
				if strings.Contains(text, p) {
					return true
				}
			}
			return false
		},
		Outcome: outcome,
	}
}

// CardiacOutcome is the fixed profile applied when chest pain is reported.
var CardiacOutcome = RiskAssessment{
	IsEmergency: true,
	Risk:        85,
	Reasons: []string{
		"Chest pain can indicate a cardiac emergency",
		"Immediate medical evaluation is recommended",
	},
}

// CardiacPhrases are the chest-pain phrases in every supported locale.
var CardiacPhrases = []string{
	"chest pain",
	"heart pain",
	"heart attack",
	"सीने में दर्द",
	"छाती में दर्द",
	"ఛాతిలో నొప్పి",
	"ఛాతీ నొప్పి",
	"நெஞ்சு வலி",
	"நெஞ்சுவலி",
	"ಎದೆ ನೋವು",
	"നെഞ്ചുവേദന",
	"നെഞ്ച് വേദന",
}

// DefaultRules returns the built-in override rules in evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		PhraseRule("cardiac-chest-pain", CardiacOutcome, CardiacPhrases...),
	}
}

// OverrideEngine evaluates override rules in order; the first match wins.
type OverrideEngine struct {
	rules []Rule
}

// NewOverrideEngine returns an engine over rules, evaluated in the given order.
func NewOverrideEngine(rules []Rule) *OverrideEngine {
	return &OverrideEngine{rules: append([]Rule(nil), rules...)}
}

// Apply returns the final assessment for normalized text and the rule that
// fired, if any. The computed assessment is returned untouched when no rule
// matches.
func (e *OverrideEngine) Apply(normalized string, computed RiskAssessment) (RiskAssessment, *Rule) {
	if normalized == "" {
		return computed, nil
	}
	for i := range e.rules {
		r := &e.rules[i]
		if r.Predicate != nil && r.Predicate(normalized) {
			return r.Outcome.clone(), r
		}
	}
	return computed, nil
}

// Rules lists the rule names in evaluation order.
func (e *OverrideEngine) Rules() []string {
	names := make([]string, len(e.rules))
	for i, r := range e.rules {
		names[i] = r.Name
	}
	return names
}
