package handlers

import (
	"net/http"
	"time"

	"adeguard/middleware"

	"github.com/gin-gonic/gin"
)

// SystemStatus reports stage health and backend connectivity.
func (h *Handlers) SystemStatus(c *gin.Context) {
	status := h.svc.Status(c.Request.Context())

	systemStatus := "operational"
	if !status.PipelineHealthy {
		systemStatus = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"system_status": systemStatus,
		"admin_user":    c.GetString(middleware.ContextUserID),
		"timestamp":     time.Now().UTC(),
		"status":        status,
	})
}

// ReloadRules re-reads the rule tables.
func (h *Handlers) ReloadRules(c *gin.Context) {
	version, err := h.svc.ReloadRules()
	if err != nil {
		writeError(c, http.StatusInternalServerError, CodeRulesReloadFailed, "Failed to reload rules: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":       "Rules reloaded successfully",
		"rules_version": version,
		"admin_user":    c.GetString(middleware.ContextUserID),
		"timestamp":     time.Now().UTC(),
	})
}
