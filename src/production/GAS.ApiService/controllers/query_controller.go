package controllers

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.ApiService/middleware"
	logger "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Logger"
	interfaces "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Repository/Interfaces"
)

// QueryController serves stored readings and aggregates
type QueryController struct {
	readingRepo interfaces.ReadingRepository
	latestCache interfaces.LatestReadingCache
	logger      *logger.Logger
}

// NewQueryController creates a new query controller. latestCache may be nil.
func NewQueryController(readingRepo interfaces.ReadingRepository, latestCache interfaces.LatestReadingCache, logger *logger.Logger) *QueryController {
	return &QueryController{
		readingRepo: readingRepo,
		latestCache: latestCache,
		logger:      logger,
	}
}

// RegisterRoutes registers the query routes with Gin
func (c *QueryController) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	{
		api.GET("/sensor-data", c.GetSensorData)
		api.GET("/statistics", c.GetStatistics)
		api.GET("/devices/:device_id/latest", c.GetLatestReading)
	}
}

func (c *QueryController) GetSensorData(ctx *gin.Context) {
	query := interfaces.ReadingQuery{
		Limit:    parseLimit(ctx.Query("limit")),
		From:     parseTime(ctx.Query("from")),
		To:       parseTime(ctx.Query("to")),
		DeviceID: ctx.Query("device_id"),
	}

	readings, err := c.readingRepo.ListReadings(ctx.Request.Context(), query)
	if err != nil {
		respondError(ctx, c.logger, err, "Failed to fetch sensor data")
		return
	}

	ctx.JSON(http.StatusOK, readings)
}

func (c *QueryController) GetStatistics(ctx *gin.Context) {
	stats, err := c.readingRepo.GetStatistics(ctx.Request.Context())
	if err != nil {
		respondError(ctx, c.logger, err, "Failed to compute statistics")
		return
	}

	ctx.JSON(http.StatusOK, stats)
}

func (c *QueryController) GetLatestReading(ctx *gin.Context) {
	deviceID := ctx.Param("device_id")

	if c.latestCache != nil {
		reading, err := c.latestCache.GetLatest(ctx.Request.Context(), deviceID)
		if err != nil {
			middleware.RequestLogger(ctx, c.logger).Logger.Warn().Err(err).
				Str("device_id", deviceID).
				Msg("Latest reading cache unavailable, falling back to store")
		} else if reading != nil {
			ctx.JSON(http.StatusOK, reading)
			return
		}
	}

	readings, err := c.readingRepo.ListReadings(ctx.Request.Context(), interfaces.ReadingQuery{
		Limit:    1,
		DeviceID: deviceID,
	})
	if err != nil {
		respondError(ctx, c.logger, err, "Failed to fetch latest reading")
		return
	}
	if len(readings) == 0 {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "no readings for device"})
		return
	}

	ctx.JSON(http.StatusOK, readings[0])
}

// parseLimit keeps the default for missing or non-integer values. A negative
// limit counts like its absolute value, as Mongo's limit(-n) does. Zero means
// no limit.
func parseLimit(raw string) int {
	if raw == "" {
		return interfaces.DefaultListLimit
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return interfaces.DefaultListLimit
	}
	switch {
	case limit == math.MinInt:
		return math.MaxInt
	case limit < 0:
		return -limit
	}
	return limit
}

var dateLayouts = []string{time.RFC3339Nano, "2006-01-02"}

// parseTime accepts RFC 3339, YYYY-MM-DD or epoch milliseconds. Anything
// else yields nil so the bound is ignored.
func parseTime(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		t := time.UnixMilli(ms).UTC()
		return &t
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
