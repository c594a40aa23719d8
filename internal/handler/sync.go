package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"fleetsync/internal/repository"
	"fleetsync/internal/service"
)

type SyncHandler struct {
	Orchestrator *service.Orchestrator
	Batch        *service.BatchOrchestrator
	Repo         repository.Repository
	Logger       *zap.Logger
}

func (h *SyncHandler) Register(r *gin.Engine) {
	group := r.Group("/api/sync")
	group.POST("/:provider", h.runSync)
	group.GET("/:provider/status", h.syncStatus)
}

func (h *SyncHandler) runSync(c *gin.Context) {
	if h.Orchestrator == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	provider := c.Param("provider")
	orgID := strings.TrimSpace(c.Query("org_id"))
	if orgID == "" {
		Error(c, http.StatusBadRequest, "org_id is required", nil)
		return
	}
	resource := strings.TrimSpace(c.Query("resource"))
	from := timeQuery(c, "from")
	to := timeQuery(c, "to")
	batch := boolQueryDefault(c, "batch", false)

	if batch {
		if resource == "" || from.IsZero() {
			Error(c, http.StatusBadRequest, "batch sync requires resource and from", nil)
			return
		}
		end := to
		if end.IsZero() {
			end = time.Now().UTC()
		}
		if err := h.Batch.Submit(orgID, provider, resource, from, end); err != nil {
			Error(c, http.StatusServiceUnavailable, err.Error(), nil)
			return
		}
		Ok(c, nil, map[string]any{"queued": true})
		return
	}

	if resource == "" {
		reports, err := h.Orchestrator.SyncAll(c.Request.Context(), orgID, provider)
		if err != nil {
			h.Logger.Warn("sync all failed",
				zap.String("org_id", orgID), zap.String("provider", provider), zap.Error(err))
			Error(c, syncStatusCode(err), err.Error(), map[string]any{"reports": reports})
			return
		}
		Ok(c, reports, nil)
		return
	}

	var tr *service.TimeRange
	if !from.IsZero() || !to.IsZero() {
		tr = &service.TimeRange{Start: from, End: to}
	}
	report, err := h.Orchestrator.Sync(c.Request.Context(), orgID, provider, resource, tr)
	if err != nil {
		h.Logger.Warn("sync failed",
			zap.String("org_id", orgID), zap.String("provider", provider),
			zap.String("resource", resource), zap.Error(err))
		Error(c, syncStatusCode(err), err.Error(), map[string]any{"report": report})
		return
	}
	Ok(c, report, nil)
}

func (h *SyncHandler) syncStatus(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	provider := c.Param("provider")
	orgID := strings.TrimSpace(c.Query("org_id"))
	if orgID == "" {
		Error(c, http.StatusBadRequest, "org_id is required", nil)
		return
	}
	cursors, err := h.Repo.ListSyncCursors(c.Request.Context(), orgID)
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	filtered := cursors[:0:0]
	for _, cur := range cursors {
		if cur.Provider == provider {
			filtered = append(filtered, cur)
		}
	}
	Ok(c, filtered, map[string]any{"count": len(filtered)})
}

func syncStatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrUnknownProvider), errors.Is(err, service.ErrUnknownResource):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrSessionExpired):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrDateRangeRejected):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

func timeQuery(c *gin.Context, name string) time.Time {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC()
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t.UTC()
	}
	if ts, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(ts, 0).UTC()
	}
	return time.Time{}
}

func boolQueryDefault(c *gin.Context, name string, def bool) bool {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}
