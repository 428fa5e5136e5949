package container

import (
	"context"
	"fmt"
	"sync"

	"gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.ApiService/health"
	broker "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Broker"
	cache "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Cache"
	config "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Config"
	ingestion "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Ingestion"
	logger "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Logger"
	metrics "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Metrics"
	implementation "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Repository/Implementation"
	interfaces "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Repository/Interfaces"
	startup "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Startup/health"
)

type subscriber interface {
	Run(ctx context.Context) error
	State() broker.State
}

// Container manages dependencies and their lifecycle
type Container struct {
	config  *config.Config
	logger  *logger.Logger
	metrics *metrics.Metrics

	readings    interfaces.ReadingRepository
	latestCache interfaces.LatestReadingCache
	publisher   *broker.Publisher
	topicAdmin  *broker.TopicAdmin
	subscriber  subscriber
	bridge      *broker.Bridge
	gateway     *ingestion.Gateway
	checker     *health.HealthChecker

	// Background workers started by Start
	wg         sync.WaitGroup
	cancelRun  context.CancelFunc
	workerErrs chan error

	// Cleanup functions
	cleanupFuncs []func(ctx context.Context) error
}

// NewContainer loads configuration and builds the logger and metrics.
// Connections are opened by Initialize.
func NewContainer() (*Container, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return &Container{
		config:     cfg,
		logger:     logger.NewLogger(&cfg.Logging),
		metrics:    metrics.New(),
		workerErrs: make(chan error, 2),
	}, nil
}

// Initialize connects the store and cache and builds the ingestion pipeline.
func (c *Container) Initialize(ctx context.Context) error {
	if err := c.initializeStore(ctx); err != nil {
		return err
	}

	if c.config.CacheEnabled() {
		latest, err := cache.NewRedisLatestCache(ctx, c.config.Cache)
		if err != nil {
			return fmt.Errorf("failed to connect to cache: %w", err)
		}
		c.latestCache = latest
		c.AddCleanupFunc(func(context.Context) error { return latest.Close() })
		c.logger.Logger.Info().Str("addr", c.config.Cache.Addr).Msg("Latest reading cache connected")
	}

	c.publisher = broker.NewPublisher(c.config.Kafka, c.logger, c.metrics)
	c.AddCleanupFunc(func(context.Context) error { return c.publisher.Close() })
	c.topicAdmin = broker.NewTopicAdmin(c.config.Kafka, c.logger)

	recorder := ingestion.NewRecorder(c.readings, c.latestCache, ingestion.NewClock(), c.metrics, c.logger.WithComponent("recorder"))
	c.gateway = ingestion.NewGateway(recorder, c.publisher, c.logger)

	c.checker = health.NewHealthChecker(c.readings)
	if c.latestCache != nil {
		c.checker.WithCache(c.latestCache)
	}

	if c.config.Kafka.SubscriberEnabled {
		sub := broker.NewSubscriber(c.config.Kafka, ingestion.NewMessageProcessor(recorder), c.logger, c.metrics)
		c.subscriber = sub
		c.checker.WithSubscriber(sub)
	}

	if c.config.BridgeEnabled() {
		c.bridge = broker.NewBridge(c.config.MQTT, c.publisher, c.logger)
		c.checker.WithBridge(c.bridge)
	}

	return nil
}

func (c *Container) initializeStore(ctx context.Context) error {
	backend, err := c.config.Store.Backend()
	if err != nil {
		return err
	}

	switch backend {
	case config.StorePostgres:
		db, err := startup.ConnectPostgresWithTimeout(ctx, c.config.Store)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		repo := implementation.NewPostgresReadingRepository(db, c.config.Store.OpTimeout)
		if err := repo.CreateTables(ctx); err != nil {
			db.Close()
			return fmt.Errorf("failed to create tables: %w", err)
		}
		c.readings = repo
	default:
		client, err := startup.ConnectMongoWithTimeout(ctx, c.config.Store)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		repo := implementation.NewMongoReadingRepository(startup.GetCollection(client, c.config.Store), c.config.Store.OpTimeout)
		if err := repo.EnsureIndexes(ctx); err != nil {
			c.logger.Logger.Warn().Err(err).Msg("Failed to create reading indexes")
		}
		c.readings = repo
	}

	c.AddCleanupFunc(c.readings.Close)
	c.logger.Logger.Info().Str("backend", string(backend)).Msg("Database initialized successfully")
	return nil
}

// Start launches the subscriber and the MQTT bridge. A subscriber failure is
// logged and shows up as a disconnected subscriber in readiness; it is sent
// on Errors only when SubscriberFailFast is set.
func (c *Container) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancelRun = cancel

	if c.bridge != nil {
		if err := c.bridge.Start(runCtx); err != nil {
			cancel()
			return fmt.Errorf("failed to start MQTT bridge: %w", err)
		}
		c.logger.Logger.Info().Str("broker", c.config.GetMQTTBrokerURL()).Msg("MQTT bridge started")
	}

	if c.subscriber != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			err := c.subscriber.Run(runCtx)
			if err == nil {
				return
			}
			c.logger.Logger.Error().Err(err).Msg("Kafka subscriber stopped, HTTP ingestion continues")
			if c.config.Kafka.SubscriberFailFast {
				c.workerErrs <- err
			}
		}()
	}

	return nil
}

// Errors delivers background worker failures that should stop the service.
func (c *Container) Errors() <-chan error {
	return c.workerErrs
}

// GetConfig returns the configuration
func (c *Container) GetConfig() *config.Config {
	return c.config
}

// GetLogger returns the logger
func (c *Container) GetLogger() *logger.Logger {
	return c.logger
}

func (c *Container) GetMetrics() *metrics.Metrics {
	return c.metrics
}

func (c *Container) GetReadingRepository() interfaces.ReadingRepository {
	return c.readings
}

func (c *Container) GetLatestCache() interfaces.LatestReadingCache {
	return c.latestCache
}

func (c *Container) GetGateway() *ingestion.Gateway {
	return c.gateway
}

func (c *Container) GetTopicAdmin() *broker.TopicAdmin {
	return c.topicAdmin
}

func (c *Container) GetHealthChecker() *health.HealthChecker {
	return c.checker
}

// AddCleanupFunc adds a cleanup function
func (c *Container) AddCleanupFunc(fn func(ctx context.Context) error) {
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}

// Shutdown drains the MQTT bridge, stops the subscriber, then releases
// resources in reverse order of acquisition. The publisher is still open
// while the bridge drains.
func (c *Container) Shutdown(ctx context.Context) error {
	c.logger.Info("Shutting down container...")

	if c.bridge != nil {
		c.bridge.Stop()
	}
	if c.cancelRun != nil {
		c.cancelRun()
	}
	c.wg.Wait()

	// Execute cleanup functions in reverse order
	for i := len(c.cleanupFuncs) - 1; i >= 0; i-- {
		if err := c.cleanupFuncs[i](ctx); err != nil {
			c.logger.ErrorWithError(err, "Error during cleanup")
		}
	}

	c.logger.Info("Container shutdown complete")
	return nil
}
