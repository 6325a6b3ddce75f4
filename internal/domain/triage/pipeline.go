package triage

import "strings"

// Result is the outcome of running the escalation pipeline on one input.
type Result struct {
	Normalized   string         `json:"normalized"`
	Assessment   RiskAssessment `json:"assessment"`
	Computed     RiskAssessment `json:"computed"`
	OverrideRule string         `json:"overrideRule,omitempty"`
}

// Overridden reports whether a hard rule replaced the computed score.
func (r Result) Overridden() bool { return r.OverrideRule != "" }

// Pipeline chains normalization, scoring and override evaluation.
type Pipeline struct {
	assessor *Assessor
	override *OverrideEngine
}

// NewPipeline wires an assessor and override engine together.
func NewPipeline(assessor *Assessor, override *OverrideEngine) *Pipeline {
	return &Pipeline{assessor: assessor, override: override}
}

// DefaultPipeline uses the built-in model, rules and threshold.
func DefaultPipeline(threshold int) *Pipeline {
	return NewPipeline(NewAssessor(DefaultModel(), threshold), NewOverrideEngine(DefaultRules()))
}

// Assess runs the pipeline. Blank input yields the zero assessment.
func (p *Pipeline) Assess(in SymptomText) Result {
	normalized := Normalize(in.Text)
	computed := p.assessor.Assess(normalized)
	final, rule := p.override.Apply(normalized, computed)

	res := Result{Normalized: normalized, Assessment: final, Computed: computed}
	if rule != nil {
		res.OverrideRule = rule.Name
	}
	return res
}

// CanContinue reports whether text is worth submitting. Blank input disables
// the continue action instead of producing an error.
func CanContinue(text string) bool {
	return strings.TrimSpace(text) != ""
}
