package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/comfortage/dataintegrity/internal/identity"
	"github.com/comfortage/dataintegrity/internal/integrity/model"
	"github.com/comfortage/dataintegrity/internal/integrity/service"
)

// RoleHandler exposes the capability registry endpoints.
type RoleHandler struct {
	roles  *service.RoleRegistry
	tokens *identity.TokenIssuer
	logger *zap.Logger
}

// NewRoleHandler creates a RoleHandler.
func NewRoleHandler(roles *service.RoleRegistry, tokens *identity.TokenIssuer, logger *zap.Logger) *RoleHandler {
	return &RoleHandler{roles: roles, tokens: tokens, logger: logger}
}

// Register mounts the role routes. Grants and revocations require a
// session token; the holder must additionally be a ledger admin, which
// the service enforces against the backend's grants.
func (h *RoleHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/roles/:identity/:capability", h.Has)

	auth := rg.Group("/roles", RequireToken(h.tokens))
	{
		auth.POST("", h.Grant)
		auth.DELETE("", h.Revoke)
	}
}

// Grant handles POST /roles.
func (h *RoleHandler) Grant(c *gin.Context) {
	var req model.GrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.roles.Grant(c.Request.Context(), IdentityFromCtx(c), req.Identity, req.Capability); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"identity":   req.Identity,
		"capability": req.Capability,
		"granted":    true,
	})
}

// Revoke handles DELETE /roles.
func (h *RoleHandler) Revoke(c *gin.Context) {
	var req model.GrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.roles.Revoke(c.Request.Context(), IdentityFromCtx(c), req.Identity, req.Capability); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"identity":   req.Identity,
		"capability": req.Capability,
		"granted":    false,
	})
}

// Has handles GET /roles/:identity/:capability.
func (h *RoleHandler) Has(c *gin.Context) {
	cap := model.Capability(c.Param("capability"))
	if !cap.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown capability"})
		return
	}

	held, err := h.roles.Has(c.Request.Context(), c.Param("identity"), cap)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"identity":   c.Param("identity"),
		"capability": cap,
		"held":       held,
	})
}
