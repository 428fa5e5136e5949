package controllers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthReporter summarises dependency health.
type HealthReporter interface {
	GetHealthStatus(ctx context.Context) (map[string]interface{}, bool)
}

// HealthController handles liveness, readiness and metrics requests
type HealthController struct {
	checker        HealthReporter
	metricsHandler http.Handler
}

// NewHealthController creates a new health controller
func NewHealthController(checker HealthReporter, metricsHandler http.Handler) *HealthController {
	return &HealthController{
		checker:        checker,
		metricsHandler: metricsHandler,
	}
}

// RegisterRoutes registers the health routes with Gin
func (c *HealthController) RegisterRoutes(router *gin.Engine) {
	router.GET("/health/live", c.HealthLive)
	router.GET("/health/ready", c.HealthReady)
	if c.metricsHandler != nil {
		router.GET("/metrics", gin.WrapH(c.metricsHandler))
	}
}

func (c *HealthController) HealthLive(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

func (c *HealthController) HealthReady(ctx *gin.Context) {
	status, ready := c.checker.GetHealthStatus(ctx.Request.Context())
	if !ready {
		ctx.JSON(http.StatusServiceUnavailable, status)
		return
	}
	ctx.JSON(http.StatusOK, status)
}
