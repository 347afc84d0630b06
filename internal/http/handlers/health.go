package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type HealthHandler struct {
	pings map[string]func() error
}

// NewHealthHandler takes named dependency pings (db, redis) that Readyz
// runs before reporting ready.
func NewHealthHandler(pings map[string]func() error) *HealthHandler {
	return &HealthHandler{pings: pings}
}

func (h *HealthHandler) Healthz(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *HealthHandler) Readyz(ctx *gin.Context) {
	failures := gin.H{}

	for name, ping := range h.pings {
		if ping == nil {
			continue
		}
		if err := ping(); err != nil {
			failures[name] = err.Error()
		}
	}

	if len(failures) > 0 {
		ctx.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "not_ready",
			"failures": failures,
		})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"status": "ready"})
}
