package handlers

import (
	"time"

	"adeguard/config"
	"adeguard/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter registers every route of the API.
func SetupRouter(h *Handlers, cfg *config.Config) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.SecurityHeaders())
	router.Use(cors.New(corsConfig(cfg.AllowedOrigins)))
	// the live feed is a hijacked connection and must not be compressed
	router.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/api/v1/dashboard/ws"})))

	router.GET("/", h.Root)
	router.GET("/health", h.HealthCheck)
	router.GET("/version", h.Version)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	requireAuth := middleware.AuthMiddleware(h.auth)
	api := router.Group("/api/v1")

	authGroup := api.Group("/auth")
	{
		authGroup.POST("/login", h.Login)
		authGroup.POST("/refresh", h.Refresh)
		authGroup.POST("/logout", requireAuth, h.Logout)
		authGroup.GET("/me", requireAuth, h.Me)
	}

	predict := api.Group("/predict")
	predict.GET("/health", h.PredictionHealth)
	predict.Use(requireAuth, middleware.RateLimit("predict", cfg.RateLimitPerMinute))
	{
		predict.POST("/single", h.PredictSingle)
		predict.POST("/batch", middleware.RateLimit("batch", cfg.BatchRateLimit), h.PredictBatch)
		predict.POST("/quick", h.PredictQuick)
		predict.GET("/models/info", h.ModelInfo)
		predict.GET("/stats", h.PredictionStats)
	}

	reports := api.Group("/reports", requireAuth)
	{
		reports.GET("", h.ListReports)
		reports.GET("/:request_id", h.GetReport)
	}

	admin := api.Group("/admin", requireAuth, middleware.RequireAdmin())
	{
		admin.GET("/system/status", h.SystemStatus)
		admin.POST("/rules/reload", h.ReloadRules)
	}

	dashboard := api.Group("/dashboard", requireAuth)
	{
		dashboard.GET("/summary", h.DashboardSummary)
		dashboard.GET("/ws", h.DashboardFeed)
	}

	return router
}

func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:       12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			c.AllowAllOrigins = true
			return c
		}
	}
	if len(origins) == 0 {
		c.AllowAllOrigins = true
		return c
	}
	c.AllowOrigins = origins
	c.AllowCredentials = true
	return c
}
