package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/comfortage/dataintegrity/internal/identity"
)

const ctxIdentity = "ledger_identity"

// RequireToken returns a Gin middleware that enforces a valid session
// Bearer token. On success it injects the caller's ledger identity into
// the context.
func RequireToken(tokens *identity.TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer token required",
			})
			return
		}

		claims, err := tokens.Verify(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid token: " + err.Error(),
			})
			return
		}

		c.Set(ctxIdentity, claims.Identity)
		c.Next()
	}
}

// IdentityFromCtx retrieves the ledger identity injected by RequireToken.
// Returns "" if the request carried no valid token.
func IdentityFromCtx(c *gin.Context) string {
	v, _ := c.Get(ctxIdentity)
	id, _ := v.(string)
	return id
}

// AuthHandler exchanges credentials for session tokens.
type AuthHandler struct {
	gate   *identity.AdminGate
	logger *zap.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(gate *identity.AdminGate, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{gate: gate, logger: logger}
}

// Register mounts the auth routes on the given router group.
func (h *AuthHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/auth/admin-token", h.AdminToken)
}

type adminTokenRequest struct {
	Secret string `json:"secret" binding:"required"`
}

// AdminToken handles POST /auth/admin-token — exchanges the static admin
// secret for a session token bound to the genesis admin identity.
func (h *AuthHandler) AdminToken(c *gin.Context) {
	var req adminTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token, err := h.gate.Exchange(req.Secret)
	if err != nil {
		h.logger.Warn("admin token exchange refused", zap.String("ip", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid admin secret"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}
