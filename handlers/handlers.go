// Package handlers exposes the analysis service over HTTP.
package handlers

import (
	"net/http"
	"time"

	"adeguard/auth"
	"adeguard/service"
	"adeguard/version"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const apiVersion = "1.0.0"

// Error codes returned in ErrorResponse.
const (
	CodeValidationFailed      = "VALIDATION_FAILED"
	CodePredictionFailed      = "PREDICTION_FAILED"
	CodeBatchPredictionFailed = "BATCH_PREDICTION_FAILED"
	CodeQuickPredictionFailed = "QUICK_PREDICTION_FAILED"
	CodeBatchTooLarge         = "BATCH_TOO_LARGE"
	CodeReportNotFound        = "REPORT_NOT_FOUND"
	CodeUnauthorized          = "UNAUTHORIZED"
	CodePersistenceDisabled   = "PERSISTENCE_DISABLED"
	CodeDatabaseError         = "DATABASE_ERROR"
	CodeRulesReloadFailed     = "RULES_RELOAD_FAILED"
	CodeDashboardUnavailable  = "DASHBOARD_UNAVAILABLE"
)

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	ErrorCode string    `json:"error_code"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Handlers represents the HTTP handlers
type Handlers struct {
	svc      *service.Service
	auth     *auth.Service
	upgrader websocket.Upgrader
}

// NewHandlers creates new HTTP handlers. allowedOrigins also governs
// dashboard websocket upgrades; "*" accepts any origin.
func NewHandlers(svc *service.Service, authService *auth.Service, allowedOrigins []string) *Handlers {
	return &Handlers{
		svc:  svc,
		auth: authService,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

func writeError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		ErrorCode: code,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}

// Root describes the service.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":       "ADEGuard Backend API",
		"status":        "operational",
		"version":       apiVersion,
		"rules_version": h.svc.RulesVersion(),
		"timestamp":     time.Now().UTC(),
	})
}

// HealthCheck handles liveness probes.
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "adeguard",
	})
}

func (h *Handlers) Version(c *gin.Context) {
	c.JSON(http.StatusOK, version.Get("adeguard"))
}
