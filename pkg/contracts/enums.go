package contracts

import "fmt"

// Severity grades a single violation.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityRank is the only source of ordering for severities.
var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// Rank returns the numeric rank of s. Unknown severities rank below low.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// Blocking reports whether a violation of this severity blocks the handoff.
func (s Severity) Blocking() bool {
	return s.Rank() >= severityRank[SeverityHigh]
}

func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// AuthorityLevel is an agent's permission tier.
type AuthorityLevel string

const (
	AuthorityReadOnly  AuthorityLevel = "read_only"
	AuthorityReadWrite AuthorityLevel = "read_write"
	AuthorityExecute   AuthorityLevel = "execute"
	AuthorityAdmin     AuthorityLevel = "admin"
)

var authorityRank = map[AuthorityLevel]int{
	AuthorityReadOnly:  0,
	AuthorityReadWrite: 1,
	AuthorityExecute:   2,
	AuthorityAdmin:     3,
}

// Rank returns the position of a on the authority scale. Unknown levels rank as read_only.
func (a AuthorityLevel) Rank() int {
	return authorityRank[a]
}

// AtLeast reports whether a is at or above other on the authority scale.
func (a AuthorityLevel) AtLeast(other AuthorityLevel) bool {
	return a.Rank() >= other.Rank()
}

func (a AuthorityLevel) Valid() bool {
	_, ok := authorityRank[a]
	return ok
}

// DataClassification is an ordered sensitivity tier.
type DataClassification string

const (
	ClassificationPublic       DataClassification = "public"
	ClassificationInternal     DataClassification = "internal"
	ClassificationConfidential DataClassification = "confidential"
	ClassificationRestricted   DataClassification = "restricted"
)

var classificationRank = map[DataClassification]int{
	ClassificationPublic:       0,
	ClassificationInternal:     1,
	ClassificationConfidential: 2,
	ClassificationRestricted:   3,
}

// Rank returns the position of c on the sensitivity scale. Unknown tiers rank as public.
func (c DataClassification) Rank() int {
	return classificationRank[c]
}

func (c DataClassification) Valid() bool {
	_, ok := classificationRank[c]
	return ok
}

// Direction selects which schema of a contract governs a handoff.
type Direction string

const (
	DirectionRequest  Direction = "request"  // consumer -> provider
	DirectionResponse Direction = "response" // provider -> consumer
)

// ParseDirection accepts "request" or "response"; empty means request.
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case "", DirectionRequest:
		return DirectionRequest, nil
	case DirectionResponse:
		return DirectionResponse, nil
	default:
		return "", fmt.Errorf("unknown handoff direction %q", s)
	}
}

// Outcome is the overall verdict of one validation.
type Outcome string

const (
	OutcomePass Outcome = "pass"
	OutcomeWarn Outcome = "warn"
	OutcomeFail Outcome = "fail"
)

// FieldType is the primitive type a field contract expects.
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldNumber  FieldType = "number"
	FieldBoolean FieldType = "boolean"
	FieldObject  FieldType = "object"
	FieldArray   FieldType = "array"
)

func (t FieldType) Valid() bool {
	switch t {
	case FieldString, FieldNumber, FieldBoolean, FieldObject, FieldArray:
		return true
	}
	return false
}
