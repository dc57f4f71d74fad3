// Package httpapi holds the gin handlers. Keep these thin: parse/validate
// input, call internal services, return JSON.
package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"voicemetrics/internal/auth"
	"voicemetrics/internal/stats"
	"voicemetrics/internal/storage"
	"voicemetrics/internal/syncjob"
	"voicemetrics/pkg/logger"
	"voicemetrics/pkg/utils"
)

// Handlers groups HTTP handlers for dependency injection.
type Handlers struct {
	Auth  *auth.Manager
	Stats *stats.Service
	Jobs  *syncjob.Service
	Store storage.Store

	// Redis backs the per-job single-flight lock; nil disables locking
	// (acceptable for tests and single-instance deployments).
	Redis      *redis.Client
	JobLockTTL time.Duration
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Login issues an access token.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, role required"})
		return
	}
	tok, err := h.Auth.Issue(time.Now(), req.UserID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": tok})
}

// --- Sync jobs ---

// runJob executes one sync job under its single-flight lock. An overlapping
// trigger gets 409 instead of a second concurrent run.
func (h Handlers) runJob(c *gin.Context, name string, run func(ctx context.Context) (syncjob.Summary, error)) {
	log := logger.FromGin(c)
	ctx := c.Request.Context()

	if h.Redis != nil {
		key := "jobs:lock:" + name
		ttl := h.JobLockTTL
		if ttl <= 0 {
			ttl = 15 * time.Minute
		}
		ok, err := utils.AcquireJobLock(ctx, h.Redis, key, ttl)
		if err != nil {
			// Lock trouble must not block billing syncs; proceed unlocked.
			log.Warn("job lock unavailable, running unlocked", "job", name, "err", err)
		} else if !ok {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "job already running"})
			return
		} else {
			defer func() {
				if err := utils.ReleaseJobLock(context.WithoutCancel(ctx), h.Redis, key); err != nil {
					log.Warn("job lock release failed", "job", name, "err", err)
				}
			}()
		}
	}

	sum, err := run(ctx)
	if err != nil {
		log.Error("sync job failed", "job", name, "err", err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{
			"success": false,
			"message": "sync failed: " + err.Error(),
			"summary": sum,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "summary": sum})
}

func (h Handlers) SyncTwilioHourly(c *gin.Context) {
	h.runJob(c, "twilio_hourly", h.Jobs.SyncTwilioHourly)
}

func (h Handlers) SyncElevenLabsHourly(c *gin.Context) {
	h.runJob(c, "elevenlabs_hourly", h.Jobs.SyncElevenLabsHourly)
}

type resyncRequest struct {
	Days int `json:"days"`
}

// bindResyncDays reads the optional resync body. A bodiless cron POST means
// the default window, not a bad request.
func bindResyncDays(c *gin.Context) (int, bool) {
	var req resyncRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return 0, false
	}
	return req.Days, true
}

func (h Handlers) ResyncTwilioHistorical(c *gin.Context) {
	days, ok := bindResyncDays(c)
	if !ok {
		return
	}
	h.runJob(c, "twilio_historical", func(ctx context.Context) (syncjob.Summary, error) {
		return h.Jobs.ResyncTwilioHistorical(ctx, days)
	})
}

func (h Handlers) ResyncElevenLabsHistorical(c *gin.Context) {
	days, ok := bindResyncDays(c)
	if !ok {
		return
	}
	h.runJob(c, "elevenlabs_historical", func(ctx context.Context) (syncjob.Summary, error) {
		return h.Jobs.ResyncElevenLabsHistorical(ctx, days)
	})
}

// --- Stats ---

// queryFilter reads the shared stats query shape: optional start_date and
// end_date (YYYY-MM-DD) plus workspace_id ("all", empty, or an id).
func queryFilter(c *gin.Context) stats.Filter {
	var workspaceID int64
	if raw := c.Query("workspace_id"); raw != "" && raw != "all" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil && id > 0 {
			workspaceID = id
		}
	}
	return stats.ParseDateFilter(c.Query("start_date"), c.Query("end_date"), workspaceID)
}

func (h Handlers) CombinedStats(c *gin.Context) {
	out, err := h.Stats.Combined(c.Request.Context(), queryFilter(c))
	if err != nil {
		logger.FromGin(c).Error("combined stats failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "stats query failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) TwilioStats(c *gin.Context) {
	out, err := h.Stats.Twilio(c.Request.Context(), queryFilter(c))
	if err != nil {
		logger.FromGin(c).Error("twilio stats failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "stats query failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) ElevenLabsStats(c *gin.Context) {
	out, err := h.Stats.ElevenLabs(c.Request.Context(), queryFilter(c))
	if err != nil {
		logger.FromGin(c).Error("elevenlabs stats failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "stats query failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}

// --- Workspaces ---

func (h Handlers) ListWorkspaces(c *gin.Context) {
	workspaces, err := h.Store.ListWorkspaces(c.Request.Context())
	if err != nil {
		logger.FromGin(c).Error("workspace list failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "workspace list failed"})
		return
	}
	if workspaces == nil {
		workspaces = []storage.Workspace{}
	}
	c.JSON(http.StatusOK, gin.H{"workspaces": workspaces})
}

func (h Handlers) WorkspaceHistory(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "workspace id must be an integer"})
		return
	}
	out, err := h.Stats.WorkspaceHistory(c.Request.Context(), id)
	if errors.Is(err, stats.ErrInvalidRequest) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid workspace id"})
		return
	}
	if err != nil {
		logger.FromGin(c).Error("workspace history failed", "err", err, "workspace_id", id)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "history query failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}
