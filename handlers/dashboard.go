package handlers

import (
	"net/http"
	"time"

	"adeguard/middleware"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
)

// DashboardSummary returns severity counts and recent activity.
func (h *Handlers) DashboardSummary(c *gin.Context) {
	db := h.svc.DB()
	if db == nil {
		writeError(c, http.StatusServiceUnavailable, CodePersistenceDisabled, "Dashboard summary requires persistence to be enabled")
		return
	}
	ctx := c.Request.Context()

	counts, err := db.GetSeverityCounts(ctx)
	if err != nil {
		log.Errorf("Failed to get severity counts: %v", err)
		writeError(c, http.StatusInternalServerError, CodeDatabaseError, "Failed to load dashboard summary")
		return
	}
	totals, err := db.GetTotals(ctx, time.Now())
	if err != nil {
		log.Errorf("Failed to get totals: %v", err)
		writeError(c, http.StatusInternalServerError, CodeDatabaseError, "Failed to load dashboard summary")
		return
	}

	clients := 0
	if hub := h.svc.Hub(); hub != nil {
		clients = hub.ClientCount()
	}
	c.JSON(http.StatusOK, gin.H{
		"timestamp":             time.Now().UTC(),
		"severity_distribution": counts,
		"totals":                totals,
		"rules_version":         h.svc.RulesVersion(),
		"live_clients":          clients,
	})
}

// DashboardFeed upgrades to a websocket streaming analysis events.
func (h *Handlers) DashboardFeed(c *gin.Context) {
	hub := h.svc.Hub()
	if hub == nil {
		writeError(c, http.StatusServiceUnavailable, CodeDashboardUnavailable, "Live feed is not enabled")
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Errorf("Failed to upgrade dashboard connection: %v", err)
		return
	}
	hub.Register(conn, c.GetString(middleware.ContextUserID))
}
