package controllers

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.ApiService/middleware"
	logger "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Logger"
)

// maxBodyBytes bounds a single submitted reading.
const maxBodyBytes = 1 << 20

// Ingester persists one raw reading payload.
type Ingester interface {
	Ingest(ctx context.Context, raw []byte) error
}

// SensorDataController handles reading submissions
type SensorDataController struct {
	ingester Ingester
	logger   *logger.Logger
}

// NewSensorDataController creates a new sensor data controller
func NewSensorDataController(ingester Ingester, logger *logger.Logger) *SensorDataController {
	return &SensorDataController{
		ingester: ingester,
		logger:   logger,
	}
}

// RegisterRoutes registers the submission routes with Gin
func (c *SensorDataController) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	{
		api.POST("/sensor-data", c.PostSensorData)
		api.POST("/test", c.Test)
	}
}

func (c *SensorDataController) PostSensorData(ctx *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(ctx.Request.Body, maxBodyBytes))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "unable to read request body"})
		return
	}

	if err := c.ingester.Ingest(ctx.Request.Context(), body); err != nil {
		respondError(ctx, c.logger, err, "Failed to store sensor data")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"success": true})
}

// Test is a diagnostic no-op that logs what it received.
func (c *SensorDataController) Test(ctx *gin.Context) {
	log := middleware.RequestLogger(ctx, c.logger)
	body, err := io.ReadAll(io.LimitReader(ctx.Request.Body, maxBodyBytes))
	if err != nil {
		log.Logger.Warn().Err(err).Msg("Test endpoint body unreadable")
	}
	log.Logger.Info().
		Str("body", string(body)).
		Msg("Test endpoint hit")
	ctx.JSON(http.StatusOK, gin.H{"success": true})
}
