package server

import (
	"net/http"
	"os"
	"path"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.ApiService/controllers"
	"gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.ApiService/middleware"
	config "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Config"
	logger "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Logger"
	metrics "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Metrics"
	interfaces "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Repository/Interfaces"
)

// Dependencies are the collaborators the HTTP surface is built from.
// Cache may be nil.
type Dependencies struct {
	Config     *config.Config
	Logger     *logger.Logger
	Metrics    *metrics.Metrics
	Ingester   controllers.Ingester
	Readings   interfaces.ReadingRepository
	Cache      interfaces.LatestReadingCache
	TopicAdmin controllers.TopicEnsurer
	Health     controllers.HealthReporter
}

// NewRouter wires middleware, controllers and static files into a Gin engine.
func NewRouter(deps Dependencies) *gin.Engine {
	log := deps.Logger.WithComponent("http")
	cfg := deps.Config

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.AccessLog(log))
	if deps.Metrics != nil {
		router.Use(middleware.Instrument(deps.Metrics))
	}

	router.Use(cors.New(cors.Config{
		AllowOrigins:  cfg.CORS.AllowedOrigins,
		AllowMethods:  cfg.CORS.AllowedMethods,
		AllowHeaders:  cfg.CORS.AllowedHeaders,
		ExposeHeaders: []string{middleware.RequestIDHeader},
		MaxAge:        time.Duration(cfg.CORS.MaxAge) * time.Second,
	}))

	var metricsHandler http.Handler
	if deps.Metrics != nil {
		metricsHandler = deps.Metrics.Handler()
	}

	controllers.NewSensorDataController(deps.Ingester, log).RegisterRoutes(router)
	controllers.NewQueryController(deps.Readings, deps.Cache, log).RegisterRoutes(router)
	controllers.NewTopicController(deps.TopicAdmin, log).RegisterRoutes(router)
	controllers.NewHealthController(deps.Health, metricsHandler).RegisterRoutes(router)

	router.NoRoute(staticFiles(cfg.Server.StaticDir))

	return router
}

// staticFiles serves the dashboard from dir for unmatched GET and HEAD
// requests. "/" resolves to index.html.
func staticFiles(dir string) gin.HandlerFunc {
	if dir != "" {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			dir = ""
		}
	}
	fs := http.Dir(dir)

	return func(ctx *gin.Context) {
		method := ctx.Request.Method
		if dir == "" || (method != http.MethodGet && method != http.MethodHead) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}

		name := path.Clean("/" + ctx.Request.URL.Path)
		f, err := fs.Open(name)
		if err != nil {
			ctx.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		f.Close()

		ctx.FileFromFS(name, fs)
	}
}
