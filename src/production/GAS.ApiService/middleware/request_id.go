package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	logger "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Logger"
)

const (
	RequestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
)

// RequestID tags every request with an id, reusing the caller's X-Request-ID when present.
func RequestID() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		id := ctx.GetHeader(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		ctx.Set(requestIDKey, id)
		ctx.Header(RequestIDHeader, id)
		ctx.Next()
	}
}

// GetRequestID returns the id assigned by RequestID, or "" outside it.
func GetRequestID(ctx *gin.Context) string {
	return ctx.GetString(requestIDKey)
}

// RequestLogger returns log scoped to the current request.
func RequestLogger(ctx *gin.Context, log *logger.Logger) *logger.Logger {
	if id := GetRequestID(ctx); id != "" {
		return log.WithRequestID(id)
	}
	return log
}
