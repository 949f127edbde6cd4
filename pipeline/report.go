package pipeline

import (
	"fmt"

	"adeguard/models"

	"github.com/shopspring/decimal"
)

const (
	lowConfidence  = 0.6
	highConfidence = 0.9
)

const (
	alertLifeThreatening = "🚨 CRITICAL: Life-threatening ADE detected - Immediate medical attention required"
	alertSevere          = "⚠️ SEVERE: Severe ADE detected - Medical evaluation recommended"
)

var (
	urgentRecommendations = []string{
		"Immediately assess patient vital signs",
		"Consider discontinuation of suspected medication",
		"Document all symptoms and timeline thoroughly",
		"Report to pharmacovigilance system",
	}
	moderateRecommendations = []string{
		"Monitor patient closely for symptom progression",
		"Consider dose adjustment or alternative medication",
		"Schedule follow-up within 24-48 hours",
	}
	routineRecommendations = []string{
		"Continue monitoring for symptom changes",
		"Patient education on symptom recognition",
		"Document for future reference",
	}
)

// Summarize counts entities by label and flags reports that need attention.
func Summarize(entities []models.EntitySpan, severity models.Severity) models.ReportSummary {
	summary := models.ReportSummary{
		ADEEntitiesFound:      []string{},
		DrugEntitiesFound:     []string{},
		ModifierEntitiesFound: []string{},
		EntityCounts: map[models.EntityLabel]int{
			models.LabelADE:      0,
			models.LabelDrug:     0,
			models.LabelModifier: 0,
		},
		TotalEntities:     len(entities),
		SeverityLevel:     severity,
		RequiresAttention: severity.RequiresAttention(),
	}
	for _, e := range entities {
		summary.EntityCounts[e.Label]++
		switch e.Label {
		case models.LabelADE:
			summary.ADEEntitiesFound = append(summary.ADEEntitiesFound, e.Text)
		case models.LabelDrug:
			summary.DrugEntitiesFound = append(summary.DrugEntitiesFound, e.Text)
		case models.LabelModifier:
			summary.ModifierEntitiesFound = append(summary.ModifierEntitiesFound, e.Text)
		}
	}
	return summary
}

// Alerts derives alerts from a severity result. Severity and confidence
// alerts are independent of each other.
func Alerts(result models.SeverityResult) []models.Alert {
	alerts := []models.Alert{}
	switch result.PredictedSeverity {
	case models.SeverityLifeThreatening:
		alerts = append(alerts, models.Alert{Level: models.AlertCritical, Message: alertLifeThreatening})
	case models.SeveritySevere:
		alerts = append(alerts, models.Alert{Level: models.AlertWarning, Message: alertSevere})
	}

	switch {
	case result.Confidence > highConfidence:
		alerts = append(alerts, models.Alert{
			Level:   models.AlertInfo,
			Message: fmt.Sprintf("🎯 HIGH CONFIDENCE: Prediction confidence %s", percent(result.Confidence)),
		})
	case result.Confidence < lowConfidence:
		alerts = append(alerts, models.Alert{
			Level:   models.AlertInfo,
			Message: fmt.Sprintf("⚠️ LOW CONFIDENCE: Prediction confidence %s - Manual review recommended", percent(result.Confidence)),
		})
	}
	return alerts
}

// Recommendations returns the clinical actions for a severity band.
func Recommendations(severity models.Severity) []string {
	var recs []string
	switch severity {
	case models.SeveritySevere, models.SeverityLifeThreatening:
		recs = urgentRecommendations
	case models.SeverityModerate:
		recs = moderateRecommendations
	default:
		recs = routineRecommendations
	}
	return append([]string(nil), recs...)
}

func percent(v float64) string {
	return decimal.NewFromFloat(v).Shift(2).StringFixed(1) + "%"
}
