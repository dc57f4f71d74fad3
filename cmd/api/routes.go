package main

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"voicemetrics/internal/auth"
	"voicemetrics/internal/httpapi"
	"voicemetrics/internal/metrics"
	"voicemetrics/pkg/utils"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, cronSecret string, collector *metrics.Collector, db *sql.DB) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), db, 2*time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(collector.Handler()))

	// Cron-triggered sync jobs, guarded by the shared secret. The secret check
	// runs before any upstream fetch or write.
	jobs := r.Group("/jobs")
	jobs.Use(auth.RequireCronSecret(cronSecret))
	{
		jobs.POST("/sync-twilio-hourly", h.SyncTwilioHourly)
		jobs.POST("/sync-elevenlabs-hourly", h.SyncElevenLabsHourly)
		jobs.POST("/resync-twilio-historical", h.ResyncTwilioHistorical)
		jobs.POST("/resync-elevenlabs-historical", h.ResyncElevenLabsHistorical)
	}

	// AUTH routes (token issuance).
	// NOTE: This is a placeholder login route; real credential validation is not implemented.
	r.POST("/auth/login", h.Login)

	// Operator dashboard API.
	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(h.Auth))
	{
		v1.GET("/stats/combined", h.CombinedStats)
		v1.GET("/stats/twilio", h.TwilioStats)
		v1.GET("/stats/elevenlabs", h.ElevenLabsStats)

		v1.GET("/workspaces", h.ListWorkspaces)
		v1.GET("/workspaces/:id/history", h.WorkspaceHistory)
	}
}
