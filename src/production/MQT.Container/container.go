package container

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	config "gitlab.com/maplesense1/mpt.hive_bridge/src/production/MQT.Config"
	"gitlab.com/maplesense1/mpt.hive_bridge/src/production/MQT.IngestorService/broker"
	"gitlab.com/maplesense1/mpt.hive_bridge/src/production/MQT.IngestorService/changefeed"
	"gitlab.com/maplesense1/mpt.hive_bridge/src/production/MQT.IngestorService/client"
	logger "gitlab.com/maplesense1/mpt.hive_bridge/src/production/MQT.Logger"
	metrics "gitlab.com/maplesense1/mpt.hive_bridge/src/production/MQT.Metrics"
	mqtmodels "gitlab.com/maplesense1/mpt.hive_bridge/src/production/MQT.Models"
	implementation "gitlab.com/maplesense1/mpt.hive_bridge/src/production/MQT.Repository/Implementation"
	interfaces "gitlab.com/maplesense1/mpt.hive_bridge/src/production/MQT.Repository/Interfaces"
)

// BridgeContainer manages the bridge worker's dependencies and their lifecycle
type BridgeContainer struct {
	config   *config.BridgeConfig
	logger   *logger.Logger
	registry *prometheus.Registry
	metrics  *metrics.BridgeMetrics

	db     *sql.DB
	broker *broker.Client
	sink   *client.SinkClient

	// Mutex for thread-safe access
	mu sync.Mutex

	// Cleanup functions, run in reverse order
	cleanupFuncs []func() error
}

// NewBridgeContainer loads configuration and builds the logger and metrics registry
func NewBridgeContainer() (*BridgeContainer, error) {
	cfg, err := config.LoadBridgeConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return NewBridgeContainerWithConfig(cfg, logger.NewLogger(&cfg.Logging)), nil
}

// NewBridgeContainerWithConfig builds a container around an already loaded configuration
func NewBridgeContainerWithConfig(cfg *config.BridgeConfig, log *logger.Logger) *BridgeContainer {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &BridgeContainer{
		config:   cfg,
		logger:   log,
		registry: registry,
		metrics:  metrics.NewBridgeMetrics(registry),
	}
}

func (c *BridgeContainer) GetConfig() *config.BridgeConfig {
	return c.config
}

func (c *BridgeContainer) GetLogger() *logger.Logger {
	return c.logger
}

func (c *BridgeContainer) GetMetrics() *metrics.BridgeMetrics {
	return c.metrics
}

func (c *BridgeContainer) GetRegistry() *prometheus.Registry {
	return c.registry
}

// GetDatabase returns the query pool, connecting on first use
func (c *BridgeContainer) GetDatabase() (*sql.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db == nil {
		db, err := implementation.ConnectPostgresWithTimeout(c.config, 20*time.Second)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		c.db = db
		c.cleanupFuncs = append(c.cleanupFuncs, db.Close)
	}
	return c.db, nil
}

// GetSubscriptionRepository returns the desired-subscription repository
func (c *BridgeContainer) GetSubscriptionRepository() (interfaces.SubscriptionTopicRepository, error) {
	db, err := c.GetDatabase()
	if err != nil {
		return nil, err
	}
	scheme, err := mqtmodels.ParseTopicScheme(string(c.config.Worker.TopicScheme))
	if err != nil {
		return nil, err
	}
	return implementation.NewPostgresSubscriptionTopicRepository(db, c.config.Worker.SubscriptionsTable, scheme), nil
}

// GetBroker returns the shared broker client. Connect is left to the caller.
func (c *BridgeContainer) GetBroker() (*broker.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broker == nil {
		b, err := broker.New(c.config.MQTT, c.config.GetMQTTBrokerURL(), c.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create broker client: %w", err)
		}
		c.broker = b
		c.cleanupFuncs = append(c.cleanupFuncs, func() error {
			b.Disconnect()
			return nil
		})
	}
	return c.broker, nil
}

// GetSink returns the time-series sink client
func (c *BridgeContainer) GetSink() (*client.SinkClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sink == nil {
		s, err := client.NewSinkClient(c.config.Influx)
		if err != nil {
			return nil, fmt.Errorf("failed to create sink client: %w", err)
		}
		c.sink = s
	}
	return c.sink, nil
}

// NewChangeFeed opens the dedicated notification connection and wraps it in a Listener
func (c *BridgeContainer) NewChangeFeed() *changefeed.Listener {
	w := c.config.Worker
	source, lost := changefeed.DialPostgresListener(c.config.GetDatabaseDSN(), w.MinReconnect, w.MaxReconnect, c.logger)
	c.AddCleanupFunc(source.Close)
	return changefeed.NewListener(source, lost, w.NotificationChannel, w.StrictDecode, c.metrics, c.logger)
}

// NewEventQueue builds the queue between the change feed and the reconciler
func (c *BridgeContainer) NewEventQueue() *changefeed.EventQueue {
	return changefeed.NewEventQueue(c.config.Worker.QueueCapacity, c.config.Worker.QueuePolicy, c.metrics)
}

// AddCleanupFunc adds a cleanup function
func (c *BridgeContainer) AddCleanupFunc(fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}

// Shutdown releases every dependency in reverse order of creation
func (c *BridgeContainer) Shutdown(ctx context.Context) error {
	c.logger.Info("Shutting down container...")

	c.mu.Lock()
	funcs := c.cleanupFuncs
	c.cleanupFuncs = nil
	c.mu.Unlock()

	for i := len(funcs) - 1; i >= 0; i-- {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := funcs[i](); err != nil {
			c.logger.ErrorWithError(err, "Error during cleanup")
		}
	}

	c.logger.Info("Container shutdown complete")
	return nil
}
