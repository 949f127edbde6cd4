package models

// Severity is the ordered severity scale of an adverse event.
type Severity string

const (
	SeverityMild            Severity = "mild"
	SeverityModerate        Severity = "moderate"
	SeveritySevere          Severity = "severe"
	SeverityLifeThreatening Severity = "life_threatening"
	SeverityUnknown         Severity = "unknown"
)

// DefinedSeverities are the labels a classifier distributes probability over.
var DefinedSeverities = []Severity{
	SeverityMild,
	SeverityModerate,
	SeveritySevere,
	SeverityLifeThreatening,
}

// RequiresAttention reports whether the severity warrants immediate attention.
func (s Severity) RequiresAttention() bool {
	return s == SeveritySevere || s == SeverityLifeThreatening
}

// Rank orders severities from mild (1) to life_threatening (4); unknown is 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityMild:
		return 1
	case SeverityModerate:
		return 2
	case SeveritySevere:
		return 3
	case SeverityLifeThreatening:
		return 4
	default:
		return 0
	}
}

func ParseSeverity(value string) (Severity, bool) {
	switch s := Severity(value); s {
	case SeverityMild, SeverityModerate, SeveritySevere, SeverityLifeThreatening, SeverityUnknown:
		return s, true
	}
	return SeverityUnknown, false
}

// EntityLabel is the tag assigned to an extracted span.
type EntityLabel string

const (
	LabelADE      EntityLabel = "ADE"
	LabelDrug     EntityLabel = "DRUG"
	LabelModifier EntityLabel = "MODIFIER"
)

// AlertLevel classifies an alert for batch aggregation.
type AlertLevel string

const (
	AlertCritical AlertLevel = "critical"
	AlertWarning  AlertLevel = "warning"
	AlertInfo     AlertLevel = "info"
)

// AgeGroup buckets patient age.
type AgeGroup string

const (
	AgeGroupChild   AgeGroup = "child_3_12"
	AgeGroupTeen    AgeGroup = "teen_13_17"
	AgeGroupAdult   AgeGroup = "adult_18_64"
	AgeGroupElderly AgeGroup = "elderly_65_plus"
	AgeGroupUnknown AgeGroup = "unknown"
)

// AgeGroupFor returns the group that contains age.
func AgeGroupFor(age int) AgeGroup {
	switch {
	case age >= 3 && age <= 12:
		return AgeGroupChild
	case age >= 13 && age <= 17:
		return AgeGroupTeen
	case age >= 18 && age <= 64:
		return AgeGroupAdult
	case age >= 65 && age <= 120:
		return AgeGroupElderly
	default:
		return AgeGroupUnknown
	}
}
