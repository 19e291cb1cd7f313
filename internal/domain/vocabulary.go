package domain

import (
	"strings"
	"time"
	"unicode"
)

// DirectionSemantics describes how an edge type reads across its direction:
// outward (subject acts on object), inward (object acts on subject), or
// bidirectional (symmetric).
type DirectionSemantics string

const (
	DirectionOutward       DirectionSemantics = "outward"
	DirectionInward        DirectionSemantics = "inward"
	DirectionBidirectional DirectionSemantics = "bidirectional"
)

// Vocabulary categories. Non-builtin types created by auto-expansion are
// assigned the best-scoring category; CategoryLLMGenerated marks types whose
// category could not be scored (no embedding available yet).
const (
	CategoryLogical      = "logical"
	CategoryCausal       = "causal"
	CategoryStructural   = "structural"
	CategoryEvidential   = "evidential"
	CategorySimilarity   = "similarity"
	CategoryTemporal     = "temporal"
	CategoryFunctional   = "functional"
	CategoryMeta         = "meta"
	CategoryLLMGenerated = "llm_generated"
)

// Categories lists the eight seed categories in display order.
var Categories = []string{
	CategoryLogical,
	CategoryCausal,
	CategoryStructural,
	CategoryEvidential,
	CategorySimilarity,
	CategoryTemporal,
	CategoryFunctional,
	CategoryMeta,
}

// TypeAction is one entry in a vocabulary type's history trail.
type TypeAction struct {
	Action string    `json:"action"` // seeded | created | merged_into | retyped_target | reactivated
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// VocabularyType is one relationship type in the dynamic vocabulary. The
// description reads as "A <relation> B" and feeds both the type embedding
// and the consolidation adjudicator.
type VocabularyType struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Active      bool               `json:"active"`
	Builtin     bool               `json:"builtin"`
	Category    string             `json:"category"`
	Ambiguous   bool               `json:"ambiguous,omitempty"`
	Direction   DirectionSemantics `json:"direction_semantics"`
	Embedding   []float32          `json:"embedding,omitempty"`
	UsageCount  int                `json:"usage_count"`
	MergedInto  string             `json:"merged_into,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	History     []TypeAction       `json:"history,omitempty"`
}

// Record appends a history action with the given timestamp.
func (t *VocabularyType) Record(action, detail string, at time.Time) {
	t.History = append(t.History, TypeAction{Action: action, Detail: detail, At: at})
}

// builtinSeed defines the 30 builtin types. Builtins are never deleted and,
// under the default policy, never deactivated.
var builtinSeed = []VocabularyType{
	{Name: "IMPLIES", Description: "A logically implies B", Category: CategoryLogical, Direction: DirectionOutward},
	{Name: "CONTRADICTS", Description: "A and B cannot both hold", Category: CategoryLogical, Direction: DirectionBidirectional},
	{Name: "PRESUPPOSES", Description: "A takes B for granted", Category: CategoryLogical, Direction: DirectionOutward},
	{Name: "EQUIVALENT_TO", Description: "A and B state the same thing", Category: CategoryLogical, Direction: DirectionBidirectional},

	{Name: "CAUSES", Description: "A brings about B", Category: CategoryCausal, Direction: DirectionOutward},
	{Name: "ENABLES", Description: "A makes B possible", Category: CategoryCausal, Direction: DirectionOutward},
	{Name: "PREVENTS", Description: "A stops B from happening", Category: CategoryCausal, Direction: DirectionOutward},
	{Name: "INFLUENCES", Description: "A affects B without fully determining it", Category: CategoryCausal, Direction: DirectionOutward},
	{Name: "RESULTS_FROM", Description: "A is an outcome of B", Category: CategoryCausal, Direction: DirectionInward},

	{Name: "PART_OF", Description: "A is a component of B", Category: CategoryStructural, Direction: DirectionInward},
	{Name: "CONTAINS", Description: "A has B as a component", Category: CategoryStructural, Direction: DirectionOutward},
	{Name: "COMPOSED_OF", Description: "A is made up of B", Category: CategoryStructural, Direction: DirectionOutward},
	{Name: "SUBSET_OF", Description: "every A is also a B", Category: CategoryStructural, Direction: DirectionInward},
	{Name: "INSTANCE_OF", Description: "A is a concrete example of the class B", Category: CategoryStructural, Direction: DirectionInward},

	{Name: "SUPPORTS", Description: "A is evidence in favor of B", Category: CategoryEvidential, Direction: DirectionOutward},
	{Name: "REFUTES", Description: "A is evidence against B", Category: CategoryEvidential, Direction: DirectionOutward},
	{Name: "EXEMPLIFIES", Description: "A illustrates B by example", Category: CategoryEvidential, Direction: DirectionOutward},
	{Name: "MEASURED_BY", Description: "A is quantified using B", Category: CategoryEvidential, Direction: DirectionOutward},

	{Name: "SIMILAR_TO", Description: "A and B resemble each other", Category: CategorySimilarity, Direction: DirectionBidirectional},
	{Name: "ANALOGOUS_TO", Description: "A and B share structure across domains", Category: CategorySimilarity, Direction: DirectionBidirectional},
	{Name: "CONTRASTS_WITH", Description: "A and B differ in an instructive way", Category: CategorySimilarity, Direction: DirectionBidirectional},
	{Name: "OPPOSITE_OF", Description: "A and B are opposite poles of one scale", Category: CategorySimilarity, Direction: DirectionBidirectional},

	{Name: "PRECEDES", Description: "A happens before B", Category: CategoryTemporal, Direction: DirectionOutward},
	{Name: "CONCURRENT_WITH", Description: "A and B happen together", Category: CategoryTemporal, Direction: DirectionBidirectional},
	{Name: "EVOLVES_INTO", Description: "A develops into B over time", Category: CategoryTemporal, Direction: DirectionOutward},

	{Name: "USED_FOR", Description: "A serves the purpose B", Category: CategoryFunctional, Direction: DirectionOutward},
	{Name: "REQUIRES", Description: "A depends on B", Category: CategoryFunctional, Direction: DirectionOutward},
	{Name: "PRODUCES", Description: "A yields B", Category: CategoryFunctional, Direction: DirectionOutward},
	{Name: "REGULATES", Description: "A controls the rate or level of B", Category: CategoryFunctional, Direction: DirectionOutward},

	{Name: "DEFINED_AS", Description: "A has the definition B", Category: CategoryMeta, Direction: DirectionOutward},
	{Name: "CATEGORIZED_AS", Description: "A belongs to the category B", Category: CategoryMeta, Direction: DirectionOutward},
}

// BuiltinTypes returns fresh copies of the 30 builtin seed types, active and
// stamped at the given time.
func BuiltinTypes(now time.Time) []VocabularyType {
	out := make([]VocabularyType, len(builtinSeed))
	for i, t := range builtinSeed {
		t.Active = true
		t.Builtin = true
		t.CreatedAt = now
		t.History = []TypeAction{{Action: "seeded", At: now}}
		out[i] = t
	}
	return out
}

// Zone is the qualitative size band of the active vocabulary.
type Zone string

const (
	ZoneOptimal  Zone = "OPTIMAL"
	ZoneMixed    Zone = "MIXED"
	ZoneTooLarge Zone = "TOO_LARGE"
	ZoneCritical Zone = "CRITICAL"
)

// ZoneFor maps an active-type count to its zone.
func ZoneFor(n int) Zone {
	switch {
	case n <= 90:
		return ZoneOptimal
	case n <= 120:
		return ZoneMixed
	case n <= 200:
		return ZoneTooLarge
	default:
		return ZoneCritical
	}
}

// NormalizeTypeName converts an arbitrary LLM-emitted type name to
// UPPER_SNAKE form: letters and digits kept, every other run collapses to a
// single underscore.
func NormalizeTypeName(name string) string {
	var b strings.Builder
	lastUnderscore := true // swallow leading separators
	for _, r := range strings.TrimSpace(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToUpper(r))
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimRight(b.String(), "_")
}
