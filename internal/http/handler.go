package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/okeeper/vpn-access-service/internal/client"
	"github.com/okeeper/vpn-access-service/internal/models"
	"github.com/okeeper/vpn-access-service/internal/registry"
	"github.com/okeeper/vpn-access-service/internal/repository"
	"github.com/okeeper/vpn-access-service/internal/service"
	"github.com/okeeper/vpn-access-service/internal/sweep"
)

type Handler struct {
	grants    *service.GrantService
	users     repository.UserStore
	registry  *registry.Registry
	outline   *client.OutlineClient
	reconcile *sweep.ReconcileSweep
}

func NewHandler(
	grants *service.GrantService,
	users repository.UserStore,
	reg *registry.Registry,
	outline *client.OutlineClient,
	reconcile *sweep.ReconcileSweep,
) *Handler {
	return &Handler{
		grants:    grants,
		users:     users,
		registry:  reg,
		outline:   outline,
		reconcile: reconcile,
	}
}

// ==================== Grant lifecycle ====================

// CreateGrant provisions a key for a user. 409 when an active grant exists.
func (h *Handler) CreateGrant(c *gin.Context) {
	var req models.GrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	grant, err := h.grants.Grant(c.Request.Context(), req.TelegramID, req.Username, req.ServerID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, grantResponse(grant))
}

// RenewGrant replaces the user's key (new key first, old key torn down after).
func (h *Handler) RenewGrant(c *gin.Context) {
	telegramID := c.Param("telegram_id")

	grant, err := h.grants.Renew(c.Request.Context(), telegramID, c.Query("username"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, grantResponse(grant))
}

// RevokeGrant tears down the user's active grant. Revoking twice is a no-op
// and both calls answer 204.
func (h *Handler) RevokeGrant(c *gin.Context) {
	user, err := h.users.GetByTelegramID(c.Request.Context(), c.Param("telegram_id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	if err := h.grants.Revoke(c.Request.Context(), user.ID); err != nil {
		h.writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// GetGrant returns the user's active grant.
func (h *Handler) GetGrant(c *gin.Context) {
	user, err := h.users.GetByTelegramID(c.Request.Context(), c.Param("telegram_id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	grant, err := h.grants.GetActiveGrant(c.Request.Context(), user.ID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, grantResponse(grant))
}

// GetUsage returns the usage ledger for the user's active grant.
func (h *Handler) GetUsage(c *gin.Context) {
	user, err := h.users.GetByTelegramID(c.Request.Context(), c.Param("telegram_id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	usage, err := h.grants.GetUsage(c.Request.Context(), user.ID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, usage)
}

// SetDataLimit caps the user's key traffic.
func (h *Handler) SetDataLimit(c *gin.Context) {
	var req models.DataLimitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.users.GetByTelegramID(c.Request.Context(), c.Param("telegram_id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	if err := h.grants.SetDataLimit(c.Request.Context(), user.ID, req.Bytes); err != nil {
		h.writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// RemoveDataLimit lifts the user's key traffic cap.
func (h *Handler) RemoveDataLimit(c *gin.Context) {
	user, err := h.users.GetByTelegramID(c.Request.Context(), c.Param("telegram_id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	if err := h.grants.RemoveDataLimit(c.Request.Context(), user.ID); err != nil {
		h.writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// ==================== Server registry ====================

func (h *Handler) ListServers(c *gin.Context) {
	servers := h.registry.ListActive()

	out := make([]gin.H, 0, len(servers))
	for _, s := range servers {
		out = append(out, gin.H{
			"id":       s.ID,
			"name":     s.Name,
			"location": s.Location,
			"api_url":  s.APIURL,
		})
	}
	c.JSON(http.StatusOK, gin.H{"servers": out})
}

func (h *Handler) AddServer(c *gin.Context) {
	var req models.AddServerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	server, err := h.registry.Add(c.Request.Context(), req.Name, req.Location, req.APIURL, req.CertSHA256)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":       server.ID,
		"name":     server.Name,
		"location": server.Location,
	})
}

func (h *Handler) RemoveServer(c *gin.Context) {
	if err := h.registry.Deactivate(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetServerStatus probes every active server. An unreachable server is
// reported, not an error for the whole endpoint.
func (h *Handler) GetServerStatus(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	var entries []models.ServerStatusEntry
	for _, s := range h.registry.ListActive() {
		entry := models.ServerStatusEntry{
			ServerID: s.ID,
			Name:     s.Name,
			Location: s.Location,
		}

		info, err := h.outline.GetServerInfo(ctx, s.ID)
		if err != nil {
			entry.Error = err.Error()
			entries = append(entries, entry)
			continue
		}
		entry.Reachable = true
		entry.Version = info.Version

		if keys, err := h.outline.ListKeys(ctx, s.ID); err == nil {
			entry.KeyCount = len(keys)
		}
		entries = append(entries, entry)
	}

	c.JSON(http.StatusOK, gin.H{"servers": entries})
}

// ==================== Reconciliation ====================

// RunReconciliation triggers one reconciliation tick and returns its summary.
func (h *Handler) RunReconciliation(c *gin.Context) {
	summary, err := h.reconcile.Run(c.Request.Context())
	if err != nil {
		if errors.Is(err, sweep.ErrSweepRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": "reconciliation already running"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, summary)
}

// ==================== helpers ====================

func grantResponse(g *models.AccessGrant) *models.GrantResponse {
	return &models.GrantResponse{
		GrantID:    g.ID,
		ConfigID:   g.ConfigID,
		ServerID:   g.ServerID,
		ConfigData: g.ConfigData,
		CreatedAt:  g.CreatedAt.Format(time.RFC3339),
	}
}

// writeError maps the structured error kinds onto HTTP statuses.
func (h *Handler) writeError(c *gin.Context, err error) {
	var apiErr *client.RemoteAPIError

	switch {
	case errors.Is(err, service.ErrGrantConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "user already has an active grant"})
	case errors.Is(err, service.ErrUserDisabled):
		c.JSON(http.StatusForbidden, gin.H{"error": "user is disabled"})
	case errors.Is(err, service.ErrNoActiveGrant):
		c.JSON(http.StatusNotFound, gin.H{"error": "no active grant"})
	case errors.Is(err, registry.ErrServerNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "vpn server not registered"})
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, client.ErrServerUnreachable):
		c.JSON(http.StatusBadGateway, gin.H{"error": "vpn server unreachable"})
	case errors.As(err, &apiErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": apiErr.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
