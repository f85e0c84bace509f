// Package handler exposes the integrity ledger over HTTP.
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/comfortage/dataintegrity/internal/chain"
	"github.com/comfortage/dataintegrity/internal/identity"
	"github.com/comfortage/dataintegrity/internal/integrity/model"
	"github.com/comfortage/dataintegrity/internal/integrity/service"
)

// RecordHandler exposes the record endpoints.
type RecordHandler struct {
	ledger *service.Ledger
	tokens *identity.TokenIssuer
	logger *zap.Logger
}

// NewRecordHandler creates a RecordHandler.
func NewRecordHandler(ledger *service.Ledger, tokens *identity.TokenIssuer, logger *zap.Logger) *RecordHandler {
	return &RecordHandler{ledger: ledger, tokens: tokens, logger: logger}
}

// Register mounts the record routes on the given router group.
// Reads and the quick check are open; mutations and the audited
// validation require a session token.
func (h *RecordHandler) Register(rg *gin.RouterGroup) {
	r := rg.Group("/records")
	{
		r.GET("/:id", h.Get)
		r.GET("/:id/history", h.History)
		r.GET("/:id/exists", h.Exists)
		r.GET("/:id/audit", h.Audit)
		r.POST("/:id/check", h.QuickCheck)
	}

	auth := rg.Group("/records", RequireToken(h.tokens))
	{
		auth.POST("", h.Store)
		auth.PUT("/:id", h.Update)
		auth.POST("/:id/validate", h.Validate)
	}

	rg.GET("/audit", h.Audit)
}

// Store handles POST /records — registers a fingerprint for a new id.
func (h *RecordHandler) Store(c *gin.Context) {
	var req model.StoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.ledger.Store(c.Request.Context(), IdentityFromCtx(c), &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	RecordCommit(chain.MethodStoreRecord)
	c.JSON(http.StatusCreated, res)
}

// Update handles PUT /records/:id — appends a new fingerprint.
func (h *RecordHandler) Update(c *gin.Context) {
	var req model.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.ledger.Update(c.Request.Context(), IdentityFromCtx(c), c.Param("id"), &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	RecordCommit(chain.MethodUpdateRecord)
	c.JSON(http.StatusOK, res)
}

// Validate handles POST /records/:id/validate — the audited check.
func (h *RecordHandler) Validate(c *gin.Context) {
	var req model.ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.ledger.Validate(c.Request.Context(), IdentityFromCtx(c), c.Param("id"), req.Fingerprint)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	RecordCommit(chain.MethodValidateRecord)
	RecordValidation("audited", res.IsValid)
	c.JSON(http.StatusOK, res)
}

// QuickCheck handles POST /records/:id/check — the free, un-audited check.
func (h *RecordHandler) QuickCheck(c *gin.Context) {
	var req model.ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.ledger.QuickCheck(c.Request.Context(), c.Param("id"), req.Fingerprint)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	RecordValidation("quick", res.IsValid)
	c.JSON(http.StatusOK, res)
}

// Get handles GET /records/:id.
func (h *RecordHandler) Get(c *gin.Context) {
	rec, err := h.ledger.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// History handles GET /records/:id/history.
func (h *RecordHandler) History(c *gin.Context) {
	history, err := h.ledger.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"record_id": c.Param("id"),
		"history":   history,
	})
}

// Exists handles GET /records/:id/exists.
func (h *RecordHandler) Exists(c *gin.Context) {
	exists, err := h.ledger.Exists(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"record_id": c.Param("id"),
		"exists":    exists,
	})
}

// Audit handles GET /records/:id/audit and GET /audit — the decoded
// audit trail for one record, or the whole ledger when no id is bound.
func (h *RecordHandler) Audit(c *gin.Context) {
	events, err := h.ledger.AuditTrail(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}
