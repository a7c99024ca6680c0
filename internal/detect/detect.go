// Package detect flags quality problems in a single agent utterance while the
// call is still live. Findings are observational and never stop the call.
package detect

import (
	"unicode/utf8"

	"patientbot/internal/scenario"
)

const maxResponseChars = 400

const (
	LabelVerbose       = "Response too verbose"
	LabelUncertainty   = "Agent expressed uncertainty"
	LabelHallucination = "May be hallucinating specific details"
)

var UncertaintyPhrases = []string{"i don't know", "not sure", "i can't", "unable to"}

// SpecificDetails are tokens an agent should not volunteer before the patient
// has said anything that warrants them.
var SpecificDetails = []string{"2pm", "3pm", "monday", "tuesday", "dr.", "doctor"}

type Rule struct {
	Label string
	Match func(text string, turnCount int) bool
}

var Rules = []Rule{
	{
		Label: LabelVerbose,
		Match: func(text string, _ int) bool { return utf8.RuneCountInString(text) > maxResponseChars },
	},
	{
		Label: LabelUncertainty,
		Match: func(text string, _ int) bool { return scenario.ContainsAny(text, UncertaintyPhrases) },
	},
	{
		Label: LabelHallucination,
		Match: func(text string, turnCount int) bool {
			return turnCount == 1 && scenario.ContainsAny(text, SpecificDetails)
		},
	},
}

// Detect evaluates every rule; each match contributes its label once.
func Detect(text string, turnCount int) []string {
	return DetectWith(Rules, text, turnCount)
}

func DetectWith(rules []Rule, text string, turnCount int) []string {
	var labels []string
	for _, r := range rules {
		if r.Match(text, turnCount) {
			labels = append(labels, r.Label)
		}
	}
	return labels
}
