package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.ApiService/middleware"
	logger "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Logger"
	normalizer "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Normalizer"
)

// respondError maps client errors to 400 with their message and everything
// else to 500 with a generic one. Details of server errors stay in the logs.
func respondError(ctx *gin.Context, log *logger.Logger, err error, serverMsg string) {
	if normalizer.IsClientError(err) {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	middleware.RequestLogger(ctx, log).Logger.Error().Err(err).
		Str("path", ctx.FullPath()).
		Msg(serverMsg)
	ctx.JSON(http.StatusInternalServerError, gin.H{"error": serverMsg})
}
