package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"adeguard/database"
	"adeguard/middleware"
	"adeguard/models"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
	dateLayout       = "2006-01-02"
)

// ListReports returns stored reports with filtering and pagination.
func (h *Handlers) ListReports(c *gin.Context) {
	db := h.svc.DB()
	if db == nil {
		writeError(c, http.StatusServiceUnavailable, CodePersistenceDisabled, "Report listing requires persistence to be enabled")
		return
	}

	filter, err := parseReportFilter(c)
	if err != nil {
		writeError(c, http.StatusUnprocessableEntity, CodeValidationFailed, err.Error())
		return
	}

	reports, err := db.ListReports(c.Request.Context(), filter)
	if err != nil {
		log.Errorf("Failed to list reports: %v", err)
		writeError(c, http.StatusInternalServerError, CodeDatabaseError, "Failed to list reports")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user":      c.GetString(middleware.ContextUserID),
		"timestamp": time.Now().UTC(),
		"pagination": gin.H{
			"skip":  filter.Skip,
			"limit": filter.Limit,
			"count": len(reports),
		},
		"filters": gin.H{
			"severity":   c.Query("severity"),
			"start_date": c.Query("start_date"),
			"end_date":   c.Query("end_date"),
		},
		"reports": reports,
	})
}

func parseReportFilter(c *gin.Context) (database.ReportFilter, error) {
	filter := database.ReportFilter{Limit: defaultListLimit}

	if v := c.Query("skip"); v != "" {
		skip, err := strconv.Atoi(v)
		if err != nil || skip < 0 {
			return filter, &models.ValidationError{Field: "skip", Message: "must be a non-negative integer"}
		}
		filter.Skip = skip
	}
	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 || limit > maxListLimit {
			return filter, &models.ValidationError{Field: "limit", Message: "must be between 1 and 1000"}
		}
		filter.Limit = limit
	}
	if v := c.Query("severity"); v != "" {
		severity, ok := models.ParseSeverity(v)
		if !ok {
			return filter, &models.ValidationError{Field: "severity", Message: "unknown severity " + strconv.Quote(v)}
		}
		filter.Severity = severity
	}
	if v := c.Query("start_date"); v != "" {
		start, err := time.Parse(dateLayout, v)
		if err != nil {
			return filter, &models.ValidationError{Field: "start_date", Message: "must be YYYY-MM-DD"}
		}
		filter.StartDate = &start
	}
	if v := c.Query("end_date"); v != "" {
		end, err := time.Parse(dateLayout, v)
		if err != nil {
			return filter, &models.ValidationError{Field: "end_date", Message: "must be YYYY-MM-DD"}
		}
		// inclusive of the whole day
		end = end.Add(24*time.Hour - time.Nanosecond)
		filter.EndDate = &end
	}
	if filter.StartDate != nil && filter.EndDate != nil && filter.EndDate.Before(*filter.StartDate) {
		return filter, &models.ValidationError{Field: "end_date", Message: "must not be before start_date"}
	}
	return filter, nil
}

// GetReport returns the stored analysis of one report.
func (h *Handlers) GetReport(c *gin.Context) {
	db := h.svc.DB()
	if db == nil {
		writeError(c, http.StatusServiceUnavailable, CodePersistenceDisabled, "Report lookup requires persistence to be enabled")
		return
	}

	requestID := c.Param("request_id")
	result, err := db.GetReportResult(c.Request.Context(), requestID)
	if errors.Is(err, database.ErrNotFound) {
		writeError(c, http.StatusNotFound, CodeReportNotFound, "Report "+requestID+" not found")
		return
	}
	if err != nil {
		log.Errorf("Failed to get report %s: %v", requestID, err)
		writeError(c, http.StatusInternalServerError, CodeDatabaseError, "Failed to load report")
		return
	}
	c.JSON(http.StatusOK, result)
}
