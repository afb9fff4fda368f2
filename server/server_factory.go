package server

import (
	"context"
	"log"

	"github.com/lordbasex/dbopscore/pressure"
)

// ServerFactory provides a convenient way to create and configure a complete server
type ServerFactory struct {
	config *ServerConfig
}

// NewServerFactory creates a new server factory with the given configuration
func NewServerFactory(config *ServerConfig) *ServerFactory {
	return &ServerFactory{
		config: config,
	}
}

// CreateServer creates a fully configured server with all components
func (sf *ServerFactory) CreateServer() (*Handler, *MonitoringManager, error) {
	// Create handler with advanced configuration
	handler := NewHandler(
		sf.config.DeviceID,
		sf.config.AMQPURL,
		sf.config.MySQLDSN,
		"open",
		sf.config.ToPoolConfig(),
	)

	// Configure the memory pressure bus first: cache and task engine wiring
	// both want to subscribe to it as they're built.
	handler.SetPressureConfig(sf.config.ToPressureConfig())

	// Configure the cache manager (schema/table-existence/index/query-result)
	handler.SetCacheConfig(sf.config.ToCacheManagerConfig())

	// Re-subscribe the cache manager now that it exists; SetPressureConfig
	// ran before it did, so its initial subscribe attempt was a no-op.
	handler.pressureBus.Subscribe(pressure.ObserverFunc(handler.cacheManager.OnPressureChange))

	// Configure the background task engine for backup/export/report jobs
	handler.SetTaskEngineConfig(sf.config.ToTaskEngineConfig())

	// Configure SQL validation
	handler.SetSQLValidationConfig(sf.config.ToSQLValidationConfig())

	// Configure worker pool
	handler.SetWorkerPoolConfig(sf.config.ToWorkerPoolConfig())
	if handler.pressureBus != nil {
		handler.workerPool.SetPressureSource(handler.pressureBus.GetCurrentPressure)
	}

	// Configure rate limiter
	handler.SetRateLimiterConfig(sf.config.ToRateLimiterConfig())

	handler.sensitiveMask = sf.config.SensitiveDataEnabled

	// Configure heartbeat manager with custom configuration
	heartbeatConfig := sf.config.ToHeartbeatConfig()
	handler.heartbeatManager = NewServerHeartbeatManager(sf.config.DeviceID, heartbeatConfig)
	if handler.pressureBus != nil {
		handler.heartbeatManager.SetPressureSource(handler.pressureBus.GetCurrentPressure)
	}

	// Create monitoring manager
	monitoringManager := NewMonitoringManager(handler, sf.config)

	// Register comprehensive monitoring functions
	monitoringManager.RegisterMonitoringFunctions()

	return handler, monitoringManager, nil
}

// StartServer creates and starts a complete server
func (sf *ServerFactory) StartServer(ctx context.Context) error {
	// Create server components
	handler, monitoringManager, err := sf.CreateServer()
	if err != nil {
		return err
	}

	// Display configuration
	monitoringManager.DisplayConfiguration()

	// Start monitoring
	monitoringManager.Start()

	// Start server
	log.Printf("🚀 Starting Full-Featured Enterprise Server...")
	return handler.Start(ctx)
}

// CreateAndConfigureServer is a convenience function that creates a server with default configuration
func CreateAndConfigureServer() (*Handler, *MonitoringManager, error) {
	config := LoadConfigFromFlags()
	factory := NewServerFactory(config)
	return factory.CreateServer()
}

// StartServerWithDefaults is a convenience function that starts a server with default configuration
func StartServerWithDefaults(ctx context.Context) error {
	config := LoadConfigFromFlags()
	factory := NewServerFactory(config)
	return factory.StartServer(ctx)
}
