package handlers

import (
	"errors"
	"net/http"
	"time"

	"adeguard/batch"
	"adeguard/middleware"
	"adeguard/models"
	"adeguard/pipeline"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
)

// PredictSingle analyses one report.
func (h *Handlers) PredictSingle(c *gin.Context) {
	var report models.ReportRequest
	if err := c.ShouldBindJSON(&report); err != nil {
		writeError(c, http.StatusUnprocessableEntity, CodeValidationFailed, "invalid request body: "+err.Error())
		return
	}
	h.predict(c, report, CodePredictionFailed)
}

// PredictQuick analyses a reduced report with fast defaults.
func (h *Handlers) PredictQuick(c *gin.Context) {
	var quick models.QuickReportRequest
	if err := c.ShouldBindJSON(&quick); err != nil {
		writeError(c, http.StatusUnprocessableEntity, CodeValidationFailed, "invalid request body: "+err.Error())
		return
	}
	h.predict(c, quick.ToReportRequest(), CodeQuickPredictionFailed)
}

func (h *Handlers) predict(c *gin.Context, report models.ReportRequest, failureCode string) {
	userID := c.GetString(middleware.ContextUserID)

	result, err := h.svc.AnalyzeReport(c.Request.Context(), report, userID)
	if err != nil {
		var verr *models.ValidationError
		if errors.As(err, &verr) {
			writeError(c, http.StatusUnprocessableEntity, CodeValidationFailed, verr.Error())
			return
		}
		log.WithFields(log.Fields{"user_id": userID, "error": err.Error()}).Error("http.prediction_failed")
		writeError(c, http.StatusInternalServerError, failureCode, "Prediction failed: "+err.Error())
		return
	}

	log.WithFields(log.Fields{
		"request_id": result.RequestID,
		"user_id":    userID,
		"severity":   result.SeverityAnalysis.PredictedSeverity,
	}).Info("report.processed")
	c.JSON(http.StatusOK, result)
}

// PredictBatch analyses a batch of reports.
func (h *Handlers) PredictBatch(c *gin.Context) {
	var req models.BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusUnprocessableEntity, CodeValidationFailed, "invalid request body: "+err.Error())
		return
	}
	userID := c.GetString(middleware.ContextUserID)

	result, err := h.svc.AnalyzeBatch(c.Request.Context(), &req, userID)
	if err != nil {
		var (
			verr     *models.ValidationError
			tooLarge *batch.BatchTooLargeError
		)
		switch {
		case errors.As(err, &tooLarge):
			writeError(c, http.StatusRequestEntityTooLarge, CodeBatchTooLarge, tooLarge.Error())
		case errors.As(err, &verr):
			writeError(c, http.StatusUnprocessableEntity, CodeValidationFailed, verr.Error())
		default:
			log.WithFields(log.Fields{"user_id": userID, "error": err.Error()}).Error("http.batch_prediction_failed")
			writeError(c, http.StatusInternalServerError, CodeBatchPredictionFailed, "Batch prediction failed: "+err.Error())
		}
		return
	}

	log.WithFields(log.Fields{
		"batch_id":   result.BatchID,
		"user_id":    userID,
		"status":     result.BatchStatus,
		"successful": result.SuccessfulReports,
		"failed":     result.FailedReports,
	}).Info("batch.completed")
	c.JSON(http.StatusOK, result)
}

// PredictionHealth exercises every analysis stage.
func (h *Handlers) PredictionHealth(c *gin.Context) {
	stages := h.svc.Health(c.Request.Context())

	status, code := "healthy", http.StatusOK
	if !pipeline.Healthy(stages) {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":         status,
		"timestamp":      time.Now().UTC(),
		"version":        apiVersion,
		"uptime_seconds": int64(h.svc.Uptime().Seconds()),
		"services":       stages,
	})
}

// ModelInfo describes the implementation behind each stage.
func (h *Handlers) ModelInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"user":          c.GetString(middleware.ContextUserID),
		"timestamp":     time.Now().UTC(),
		"api_version":   apiVersion,
		"rules_version": h.svc.RulesVersion(),
		"models":        h.svc.Models(),
	})
}

// PredictionStats returns stored prediction counts.
func (h *Handlers) PredictionStats(c *gin.Context) {
	db := h.svc.DB()
	if db == nil {
		writeError(c, http.StatusServiceUnavailable, CodePersistenceDisabled, "Statistics require persistence to be enabled")
		return
	}
	ctx := c.Request.Context()

	counts, err := db.GetSeverityCounts(ctx)
	if err != nil {
		log.Errorf("Failed to get severity counts: %v", err)
		writeError(c, http.StatusInternalServerError, CodeDatabaseError, "Failed to load statistics")
		return
	}
	totals, err := db.GetTotals(ctx, time.Now())
	if err != nil {
		log.Errorf("Failed to get totals: %v", err)
		writeError(c, http.StatusInternalServerError, CodeDatabaseError, "Failed to load statistics")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user":                  c.GetString(middleware.ContextUserID),
		"timestamp":             time.Now().UTC(),
		"severity_distribution": counts,
		"totals":                totals,
	})
}
