package worker

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (w *Worker) HealthHandler() http.Handler {
	r := gin.New()

	r.Use(gin.Recovery())

	// liveness: process is up
	r.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{
			"ok": true,
		})
	})

	// readiness: flips false during shutdown so the orchestrator stops
	// routing before the drain starts
	r.GET("/readyz", func(c *gin.Context) {
		w.readyMu.RLock()
		ready := w.ready
		w.readyMu.RUnlock()

		if !ready {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, w.metrics.Snapshot())
	})

	if w.PromRegistry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(w.PromRegistry, promhttp.HandlerOpts{})))
	}

	// Breaker state is process-local, so the controls live here on the
	// internal port rather than on the public API.
	if w.Guard != nil {
		r.GET("/breakers", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"breakers": w.Guard.Snapshots()})
		})
		r.POST("/breakers/force-open", w.forceBreaker(func(country, provider string) {
			w.Guard.ForceOpen(country, provider)
		}, "open"))
		r.POST("/breakers/force-close", w.forceBreaker(func(country, provider string) {
			w.Guard.ForceClose(country, provider)
		}, "closed"))
	}

	return r
}

type breakerRequest struct {
	Country  string `json:"country" binding:"required,len=2"`
	Provider string `json:"provider" binding:"required"`
}

func (w *Worker) forceBreaker(apply func(country, provider string), state string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req breakerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		apply(req.Country, req.Provider)
		w.logger.Warn("worker.breaker_forced",
			"country", req.Country, "provider", req.Provider, "state", state)
		c.JSON(http.StatusOK, gin.H{"status": state})
	}
}
