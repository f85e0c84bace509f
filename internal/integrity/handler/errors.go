package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/comfortage/dataintegrity/internal/integrity/model"
)

// respondError translates a service error into the HTTP status the API
// contract promises for it. Unknown errors become 500 without leaking
// their message.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, model.ErrInvalidIdentifier), errors.Is(err, model.ErrInvalidFingerprint):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, model.ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, model.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, model.ErrAlreadyExists):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, model.ErrMalformedReceipt):
		logger.Error("malformed backend receipt", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "backend returned a malformed receipt"})
	case errors.Is(err, model.ErrNotReady):
		c.Header("Retry-After", "5")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ledger backend is not ready"})
	default:
		var terr *model.TransportError
		if errors.As(err, &terr) {
			logger.Warn("backend transport failure",
				zap.String("op", terr.Op),
				zap.String("record_id", terr.RecordID),
				zap.Uint64("last_sequence", terr.LastSequence),
				zap.Error(terr.Err),
			)
			c.Header("Retry-After", "5")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ledger backend unavailable"})
			return
		}
		logger.Error("unhandled error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
