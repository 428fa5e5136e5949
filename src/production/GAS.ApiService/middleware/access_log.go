package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	logger "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Logger"
	metrics "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Metrics"
)

// AccessLog writes one structured line per request.
func AccessLog(log *logger.Logger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()

		status := ctx.Writer.Status()
		level := zerolog.InfoLevel
		switch {
		case status >= 500:
			level = zerolog.ErrorLevel
		case status >= 400:
			level = zerolog.WarnLevel
		}

		RequestLogger(ctx, log).Logger.WithLevel(level).
			Str("method", ctx.Request.Method).
			Str("path", ctx.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", ctx.ClientIP()).
			Msg("HTTP request")
	}
}

// Instrument records request counts and latencies per route.
func Instrument(m *metrics.Metrics) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()

		handler := ctx.FullPath()
		if handler == "" {
			handler = "unmatched"
		}
		m.HTTPRequestLatency.WithLabelValues(handler, ctx.Request.Method).Observe(time.Since(start).Seconds())
		m.HTTPRequestsTotal.WithLabelValues(handler, ctx.Request.Method, strconv.Itoa(ctx.Writer.Status())).Inc()
	}
}
