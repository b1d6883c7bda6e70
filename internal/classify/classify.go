// Package classify turns raw engine verdicts into tagged scan outcomes.
package classify

import (
	"strings"

	"github.com/FairForge/vaultscan/internal/engine"
)

// HeuristicPrefix marks detections raised by a heuristic rather than a
// named signature
const HeuristicPrefix = "Heuristics."

// Kind is the tag of an Outcome
type Kind int

const (
	Clean Kind = iota
	Infected
	Heuristic
	Error
)

func (k Kind) String() string {
	switch k {
	case Clean:
		return "clean"
	case Infected:
		return "infected"
	case Heuristic:
		return "heuristic"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Outcome is the classified result for one file
type Outcome struct {
	Kind     Kind
	Threat   string
	Category Category
	// Unmapped is set for heuristic names with no specific category
	Unmapped bool
	Reason   string
}

type rule struct {
	name     string
	prefix   bool
	category Category
}

// Order matters: exact names are listed before the prefix that would
// otherwise swallow them.
var heuristicRules = []rule{
	{name: "Heuristics.Limits.Exceeded", category: ExceedsMaximum},
	{name: "Heuristics.Broken.", prefix: true, category: BrokenExecutable},
	{name: "Heuristics.Encrypted.Zip", category: EncryptedArchive},
	{name: "Heuristics.OLE2.ContainsMacros", category: OleMacros},
	{name: "Heuristics.OLE2.", prefix: true, category: OleGeneric},
	{name: "Heuristics.Phishing.Email.SpoofedDomain", category: PhishingEmailSpoofedDomain},
	{name: "Heuristics.Phishing.", prefix: true, category: PhishingGeneric},
	{name: "Heuristics.Structured.CreditCardNumber", category: StructuredCreditCardNumber},
	{name: "Heuristics.Structured.SSN", category: StructuredSsnNormal},
	{name: "Heuristics.Structured.", prefix: true, category: StructuredGeneric},
}

// Classify maps a verdict to an outcome. It has no side effects; callers
// decide how to report unmapped heuristics.
func Classify(v engine.Verdict) Outcome {
	switch v := v.(type) {
	case engine.Clean:
		return Outcome{Kind: Clean}
	case engine.Detected:
		if !IsHeuristic(v.Name) {
			return Outcome{Kind: Infected, Threat: v.Name}
		}
		category, ok := HeuristicCategory(v.Name)
		return Outcome{
			Kind:     Heuristic,
			Threat:   v.Name,
			Category: category,
			Unmapped: !ok,
		}
	case engine.Failed:
		return Outcome{Kind: Error, Reason: v.Reason}
	default:
		return Outcome{Kind: Error, Reason: "unrecognised verdict"}
	}
}

// IsHeuristic reports whether a detection name carries the heuristic prefix
func IsHeuristic(name string) bool {
	return strings.HasPrefix(name, HeuristicPrefix)
}

// HeuristicCategory looks a heuristic name up in the category table. The
// second result is false when the name falls back to Generic.
func HeuristicCategory(name string) (Category, bool) {
	for _, r := range heuristicRules {
		if r.prefix && strings.HasPrefix(name, r.name) {
			return r.category, true
		}
		if !r.prefix && name == r.name {
			return r.category, true
		}
	}
	return Generic, false
}
