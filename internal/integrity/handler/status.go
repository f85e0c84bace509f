package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/comfortage/dataintegrity/internal/chain"
)

// StatusHandler reports the transport lifecycle and commit height.
type StatusHandler struct {
	lifecycle *chain.Lifecycle
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(lifecycle *chain.Lifecycle) *StatusHandler {
	return &StatusHandler{lifecycle: lifecycle}
}

// Register mounts the status routes.
func (h *StatusHandler) Register(r gin.IRoutes) {
	r.GET("/healthz", h.Healthz)
	r.GET("/status", h.Status)
}

// Healthz handles GET /healthz — liveness only; it succeeds whenever the
// process can answer, regardless of backend state.
func (h *StatusHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Status handles GET /status — the lifecycle phase, last observed commit
// sequence, and the last initialisation error if any.
func (h *StatusHandler) Status(c *gin.Context) {
	state := h.lifecycle.State()
	body := gin.H{
		"state":    state,
		"sequence": h.lifecycle.LastSequence(),
	}
	if err := h.lifecycle.LastError(); err != nil {
		body["last_error"] = err.Error()
	}

	code := http.StatusOK
	if state != chain.StateReady && state != chain.StateReadyDegraded {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, body)
}
