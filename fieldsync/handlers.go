package fieldsync

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/agrinova/fieldops-backend/models"
	"github.com/agrinova/fieldops-backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// Handlers exposes the sync engine over HTTP. Device identity comes from the
// scope resolver installed by the device auth middleware, never from the
// request body alone.
type Handlers struct {
	Coordinator *Coordinator
	// ScopeFromRequest pulls the authenticated device scope out of the gin
	// context; the middleware package owns how it got there.
	ScopeFromRequest func(c *gin.Context) (*DeviceScope, bool)
}

func NewHandlers(co *Coordinator, scopeFromRequest func(c *gin.Context) (*DeviceScope, bool)) *Handlers {
	return &Handlers{Coordinator: co, ScopeFromRequest: scopeFromRequest}
}

func bindingError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": utils.ProcessValidationErrors(verrs)})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func (h *Handlers) Register(r gin.IRoutes) {
	r.POST("/sync/harvest", h.syncBatch(models.RecordKindHarvest))
	r.POST("/sync/gatelogs", h.syncBatch(models.RecordKindGateLog))
	r.POST("/sync/photos", h.syncPhotos())
	r.POST("/sync/photos/sign", h.signPhoto())
	r.POST("/sync/photos/confirm", h.confirmPhoto())
	r.GET("/sync/pull", h.pull())
	r.POST("/sync/ack", h.ack())
	r.GET("/sync/pending", h.pending())
	r.GET("/sync/stream", h.stream())
}

// RegisterReview mounts the conflict review endpoints, normally behind the
// staff auth middleware rather than device auth.
func (h *Handlers) RegisterReview(r gin.IRoutes) {
	r.GET("/conflicts", h.listConflicts())
	r.POST("/conflicts/:id/resolve", h.resolveConflict())
	r.DELETE("/photos/:id", h.deletePhoto())
}

func (h *Handlers) scope(c *gin.Context) (*DeviceScope, bool) {
	scope, ok := h.ScopeFromRequest(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "device not authenticated"})
		return nil, false
	}
	return scope, true
}

func (h *Handlers) syncBatch(kind models.RecordKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		scope, ok := h.scope(c)
		if !ok {
			return
		}
		var req SyncRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			bindingError(c, err)
			return
		}
		resp, err := h.Coordinator.SyncBatch(c.Request.Context(), scope, kind, &req)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

func (h *Handlers) syncPhotos() gin.HandlerFunc {
	return func(c *gin.Context) {
		scope, ok := h.scope(c)
		if !ok {
			return
		}
		var req PhotoSyncRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			bindingError(c, err)
			return
		}
		if req.Kind == "" {
			req.Kind = models.RecordKindHarvest
		}
		resp, err := h.Coordinator.SyncPhotos(c.Request.Context(), scope, &req)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

func (h *Handlers) signPhoto() gin.HandlerFunc {
	return func(c *gin.Context) {
		scope, ok := h.scope(c)
		if !ok {
			return
		}
		var req SignPhotoRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			bindingError(c, err)
			return
		}
		if req.Kind == "" {
			req.Kind = models.RecordKindHarvest
		}
		signed, perr := h.Coordinator.SignPhotoUpload(c.Request.Context(), scope, &req)
		if perr != nil {
			c.JSON(http.StatusBadRequest, perr)
			return
		}
		c.JSON(http.StatusOK, signed)
	}
}

func (h *Handlers) confirmPhoto() gin.HandlerFunc {
	return func(c *gin.Context) {
		scope, ok := h.scope(c)
		if !ok {
			return
		}
		var req ConfirmPhotoRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			bindingError(c, err)
			return
		}
		if req.Kind == "" {
			req.Kind = models.RecordKindHarvest
		}
		if perr := h.Coordinator.ConfirmPhotoUpload(c.Request.Context(), scope, &req); perr != nil {
			c.JSON(http.StatusBadRequest, perr)
			return
		}
		c.JSON(http.StatusOK, gin.H{"linked": true, "objectKey": req.ObjectKey})
	}
}

func (h *Handlers) pull() gin.HandlerFunc {
	return func(c *gin.Context) {
		scope, ok := h.scope(c)
		if !ok {
			return
		}
		kind := models.RecordKind(c.Query("kind"))
		if !kind.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be HARVEST or GATE_LOG"})
			return
		}

		var since time.Time
		if raw := c.Query("since"); raw != "" {
			parsed, err := time.Parse(time.RFC3339Nano, raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
				return
			}
			since = parsed
		}
		limit, _ := strconv.Atoi(c.Query("limit"))

		records, err := h.Coordinator.ServerUpdatesSince(c.Request.Context(), scope, kind, since, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"serverTimestamp": time.Now().UTC(),
			"count":           len(records),
			"records":         records,
		})
	}
}

type ackRequest struct {
	AckedAt       time.Time `json:"ackedAt" binding:"required"`
	TransactionId *string   `json:"transactionId"`
}

func (h *Handlers) ack() gin.HandlerFunc {
	return func(c *gin.Context) {
		scope, ok := h.scope(c)
		if !ok {
			return
		}
		var req ackRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			bindingError(c, err)
			return
		}
		if err := h.Coordinator.AckPull(c.Request.Context(), scope, req.AckedAt, req.TransactionId); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ackedAt": req.AckedAt})
	}
}

func (h *Handlers) pending() gin.HandlerFunc {
	return func(c *gin.Context) {
		scope, ok := h.scope(c)
		if !ok {
			return
		}
		items, err := h.Coordinator.PendingSyncItems(c.Request.Context(), scope)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"count": len(items), "transactions": items})
	}
}

// stream pushes live change events as server-sent events. Delivery is best
// effort; clients reconcile gaps through /sync/pull.
func (h *Handlers) stream() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := h.scope(c); !ok {
			return
		}
		if h.Coordinator.Hub == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event stream unavailable"})
			return
		}
		kind := models.RecordKind(c.Query("kind"))

		events, cancel := h.Coordinator.Hub.Subscribe()
		defer cancel()

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Stream(func(w io.Writer) bool {
			select {
			case event, open := <-events:
				if !open {
					return false
				}
				if kind != "" && event.Kind != kind {
					return true
				}
				c.SSEvent("change", event)
				return true
			case <-c.Request.Context().Done():
				return false
			}
		})
	}
}

func (h *Handlers) listConflicts() gin.HandlerFunc {
	return func(c *gin.Context) {
		status := models.ConflictStatus(c.DefaultQuery("status", string(models.ConflictStatusPending)))
		kind := models.RecordKind(c.Query("kind"))
		limit, _ := strconv.Atoi(c.Query("limit"))

		conflicts, err := h.Coordinator.ListConflicts(c.Request.Context(), status, kind, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"count": len(conflicts), "conflicts": conflicts})
	}
}

type resolveConflictRequest struct {
	Choice     string `json:"choice" binding:"required"`
	ResolvedBy string `json:"resolvedBy" binding:"required"`
}

func (h *Handlers) deletePhoto() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid photo id"})
			return
		}
		if err := h.Coordinator.DeletePhoto(c.Request.Context(), id); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": true})
	}
}

func (h *Handlers) resolveConflict() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conflict id"})
			return
		}
		var req resolveConflictRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			bindingError(c, err)
			return
		}
		conflict, err := h.Coordinator.ResolveConflict(c.Request.Context(), id, req.Choice, req.ResolvedBy)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, conflict)
	}
}
