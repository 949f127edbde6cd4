package models

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

const (
	MinSymptomTextLength = 10
	MaxSymptomTextLength = 10000
	MinSymptomWords      = 3
)

var validVaccineTypes = map[string]bool{
	"covid19_mrna":         true,
	"covid19_viral_vector": true,
	"influenza":            true,
	"hpv":                  true,
	"hepatitis_b":          true,
	"mmr":                  true,
	"tdap":                 true,
	"pneumococcal":         true,
	"meningococcal":        true,
	"other":                true,
}

var validGenders = map[string]bool{
	"male":    true,
	"female":  true,
	"other":   true,
	"unknown": true,
}

var stateCodePattern = regexp.MustCompile(`^[A-Z]{2}$`)

// ReportRequest is a single adverse event report submitted for analysis.
type ReportRequest struct {
	SymptomText string `json:"symptom_text"`

	PatientAge    *int     `json:"patient_age,omitempty"`
	AgeGroup      AgeGroup `json:"age_group,omitempty"`
	PatientGender string   `json:"patient_gender,omitempty"`
	PatientState  string   `json:"patient_state,omitempty"`

	VaccineName         string `json:"vaccine_name,omitempty"`
	VaccineType         string `json:"vaccine_type,omitempty"`
	VaccineManufacturer string `json:"vaccine_manufacturer,omitempty"`
	VaccineLot          string `json:"vaccine_lot,omitempty"`
	DoseNumber          *int   `json:"dose_number,omitempty"`

	IncludeExplainability bool     `json:"include_explainability"`
	IncludeClustering     bool     `json:"include_clustering"`
	ConfidenceThreshold   *float64 `json:"confidence_threshold,omitempty"`
	EnableAlerts          bool     `json:"enable_alerts"`
}

// NewReportRequest returns a request with the default processing flags.
func NewReportRequest(text string) ReportRequest {
	return ReportRequest{
		SymptomText:           text,
		IncludeExplainability: true,
		IncludeClustering:     true,
		EnableAlerts:          true,
	}
}

// UnmarshalJSON applies the default processing flags for omitted fields.
func (r *ReportRequest) UnmarshalJSON(data []byte) error {
	type plain ReportRequest
	req := plain(NewReportRequest(""))
	if err := json.Unmarshal(data, &req); err != nil {
		return err
	}
	*r = ReportRequest(req)
	return nil
}

// CountWords returns the number of whitespace separated words in text.
func CountWords(text string) int {
	return len(strings.Fields(text))
}

// ValidateText checks the minimum content a report needs to be analysed.
func ValidateText(text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return &ValidationError{Field: "symptom_text", Message: "symptom text cannot be empty"}
	}
	if CountWords(trimmed) < MinSymptomWords {
		return &ValidationError{Field: "symptom_text", Message: fmt.Sprintf("symptom text must contain at least %d words", MinSymptomWords)}
	}
	return nil
}

// Validate checks every field of the request, including length limits and
// age group consistency.
func (r *ReportRequest) Validate() error {
	if err := ValidateText(r.SymptomText); err != nil {
		return err
	}
	trimmed := strings.TrimSpace(r.SymptomText)
	if len(trimmed) < MinSymptomTextLength {
		return &ValidationError{Field: "symptom_text", Message: fmt.Sprintf("symptom text must be at least %d characters", MinSymptomTextLength)}
	}
	if len(trimmed) > MaxSymptomTextLength {
		return &ValidationError{Field: "symptom_text", Message: fmt.Sprintf("symptom text must be at most %d characters", MaxSymptomTextLength)}
	}

	if r.PatientAge != nil {
		if *r.PatientAge < 0 || *r.PatientAge > 120 {
			return &ValidationError{Field: "patient_age", Message: "patient age must be between 0 and 120"}
		}
		if r.AgeGroup != "" && r.AgeGroup != AgeGroupUnknown && AgeGroupFor(*r.PatientAge) != r.AgeGroup {
			return &ValidationError{Field: "age_group", Message: fmt.Sprintf("age group %s does not match patient age %d", r.AgeGroup, *r.PatientAge)}
		}
	}
	switch r.AgeGroup {
	case "", AgeGroupChild, AgeGroupTeen, AgeGroupAdult, AgeGroupElderly, AgeGroupUnknown:
	default:
		return &ValidationError{Field: "age_group", Message: fmt.Sprintf("unknown age group %q", r.AgeGroup)}
	}

	if r.PatientGender != "" && !validGenders[r.PatientGender] {
		return &ValidationError{Field: "patient_gender", Message: fmt.Sprintf("unknown gender %q", r.PatientGender)}
	}
	if r.PatientState != "" && !stateCodePattern.MatchString(r.PatientState) {
		return &ValidationError{Field: "patient_state", Message: "patient state must be a two letter code"}
	}
	if r.VaccineType != "" && !validVaccineTypes[r.VaccineType] {
		return &ValidationError{Field: "vaccine_type", Message: fmt.Sprintf("unknown vaccine type %q", r.VaccineType)}
	}
	if r.DoseNumber != nil && (*r.DoseNumber < 1 || *r.DoseNumber > 10) {
		return &ValidationError{Field: "dose_number", Message: "dose number must be between 1 and 10"}
	}
	if r.ConfidenceThreshold != nil && (*r.ConfidenceThreshold < 0 || *r.ConfidenceThreshold > 1) {
		return &ValidationError{Field: "confidence_threshold", Message: "confidence threshold must be between 0 and 1"}
	}
	return nil
}

// QuickReportRequest is the reduced form used by the quick prediction endpoint.
type QuickReportRequest struct {
	SymptomText string `json:"symptom_text"`
	PatientAge  *int   `json:"patient_age,omitempty"`
	VaccineName string `json:"vaccine_name,omitempty"`
	Urgent      bool   `json:"urgent"`
}

// ToReportRequest expands a quick request. Explainability is always off;
// urgent requests also skip clustering and use a lower entity threshold.
func (q QuickReportRequest) ToReportRequest() ReportRequest {
	req := NewReportRequest(q.SymptomText)
	req.PatientAge = q.PatientAge
	req.VaccineName = q.VaccineName
	req.IncludeExplainability = false
	req.IncludeClustering = !q.Urgent
	threshold := 0.7
	if q.Urgent {
		threshold = 0.6
	}
	req.ConfidenceThreshold = &threshold
	return req
}
