package stocksync

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"bitbucket.org/mmdatafocus/stocksync_backend/config"
	"bitbucket.org/mmdatafocus/stocksync_backend/models"
	"bitbucket.org/mmdatafocus/stocksync_backend/utils"
)

// RegisterRoutes mounts the sync API and the Pub/Sub push endpoint.
func RegisterRoutes(r *gin.Engine, syncer *Syncer, monitor *SessionMonitor, log *logrus.Logger) {
	api := r.Group("/api/sync")
	api.GET("/status", StatusHandler(syncer))
	api.GET("/inventory", InventoryHandler(syncer))
	api.GET("/sessions", ListSessionsHandler(syncer))
	api.GET("/sessions/:id", SessionDetailHandler(syncer))
	api.POST("/sessions", StartSessionHandler(syncer, log))
	api.POST("/sessions/continue", ContinueHandler(syncer, log))
	api.POST("/sessions/:id/reset", ResetSessionHandler(monitor, log))
	api.POST("/sessions/:id/cancel", CancelSessionHandler(syncer))
	api.POST("/monitor/check", MonitorCheckHandler(monitor))

	r.POST("/pubsub/sync-batch", PubSubPushHandler(syncer, log))
}

func StatusHandler(syncer *Syncer) gin.HandlerFunc {
	return func(c *gin.Context) {
		status, err := syncer.Status(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

// InventoryHandler exposes the diagnostic inventory rows persisted during the
// fetch pass, so "why did this sku push zero" is answerable without reaching
// into the warehouse system.
func InventoryHandler(syncer *Syncer) gin.HandlerFunc {
	return func(c *gin.Context) {
		skus := utils.SplitAndTrim(c.Query("skus"))
		if len(skus) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "skus query parameter is required"})
			return
		}
		records, err := syncer.Inventory(c.Request.Context(), skus)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": records})
	}
}

func StartSessionHandler(syncer *Syncer, log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req StartSessionRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
				return
			}
		}
		if req.BatchSize < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "batchSize must be positive"})
			return
		}

		ctx := c.Request.Context()
		session, err := syncer.StartSession(ctx, req.BatchSize, models.SyncTriggeredManual)
		if err != nil {
			if IsSessionStateError(err) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			config.LogError(log, "stocksync", "StartSessionHandler", "start session", req, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, toSessionResponse(session))
	}
}

// ContinueHandler drives the next batch over HTTP. It exists for operators
// and local runs; production continuation arrives via the Pub/Sub push
// endpoint. A session already being advanced elsewhere comes back as 409.
func ContinueHandler(syncer *Syncer, log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, err := syncer.ProcessNext(c.Request.Context())
		if err != nil {
			if IsSessionStateError(err) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			config.LogError(log, "stocksync", "ContinueHandler", "process batch", nil, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, toSessionResponse(session))
	}
}

func ListSessionsHandler(syncer *Syncer) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 20
		if v := c.Query("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 || n > 100 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 100"})
				return
			}
			limit = n
		}

		sessions, err := syncer.stores.Sessions.List(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		out := make([]SessionResponse, 0, len(sessions))
		for i := range sessions {
			out = append(out, *toSessionResponse(&sessions[i]))
		}
		c.JSON(http.StatusOK, gin.H{"sessions": out})
	}
}

func SessionDetailHandler(syncer *Syncer) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := sessionIdParam(c)
		if !ok {
			return
		}
		detail, err := syncer.SessionDetail(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, detail)
	}
}

func ResetSessionHandler(monitor *SessionMonitor, log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := sessionIdParam(c)
		if !ok {
			return
		}
		session, err := monitor.Reset(c.Request.Context(), id)
		if err != nil {
			if IsSessionStateError(err) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			config.LogError(log, "stocksync", "ResetSessionHandler", "reset session", id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, toSessionResponse(session))
	}
}

func CancelSessionHandler(syncer *Syncer) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := sessionIdParam(c)
		if !ok {
			return
		}
		if err := syncer.Cancel(c.Request.Context(), id); err != nil {
			if IsSessionStateError(err) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"message": "cancellation requested, session stops at the next batch boundary"})
	}
}

func MonitorCheckHandler(monitor *SessionMonitor) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp, err := monitor.Check(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

func sessionIdParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return 0, false
	}
	return uint(id), true
}
