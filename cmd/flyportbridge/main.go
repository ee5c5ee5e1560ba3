// Flyport bridge - relay and sensor board gateway
//
// This is the main entry point of the Flyport bridge. It polls the
// configured Flyport boards for line changes, publishes them on the MQTT
// bus, executes relay commands arriving over MQTT or HTTP, and keeps a
// local history of both.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/gray-logic-flyport/migrations"

	"github.com/nerrad567/gray-logic-flyport/internal/api"
	"github.com/nerrad567/gray-logic-flyport/internal/bridges/flyport"
	"github.com/nerrad567/gray-logic-flyport/internal/history"
	"github.com/nerrad567/gray-logic-flyport/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-flyport/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-flyport/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-flyport/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-flyport/internal/infrastructure/mqtt"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

const (
	// Default configuration file path
	defaultConfigPath = "configs/config.yaml"

	// pruneInterval is how often expired history rows are removed.
	pruneInterval = time.Hour
)

func main() {
	// Cancel on Ctrl+C and SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup sequence
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Flyport bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	if !cfg.Protocols.Flyport.Enabled {
		log.Info("Flyport bridge disabled, nothing to run")
		return nil
	}

	bridgeCfg, err := flyport.LoadConfig(cfg.Protocols.Flyport.ConfigFile)
	if err != nil {
		return fmt.Errorf("loading Flyport bridge config: %w", err)
	}
	log.Info("Flyport bridge config loaded",
		"path", cfg.Protocols.Flyport.ConfigFile,
		"boards", len(bridgeCfg.Boards),
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	historyRepo := history.NewRepository(db.DB)

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	observers := []flyport.EventObserver{historyRepo}
	checks := map[string]api.HealthChecker{
		"database": db,
		"mqtt":     mqttClient,
	}

	// Connect to InfluxDB (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		observers = append(observers, &influxObserver{client: influxClient})
		checks["influxdb"] = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}

	bridge, err := flyport.NewBridge(flyport.BridgeOptions{
		Config:     bridgeCfg,
		MQTTClient: &mqttBridgeAdapter{client: mqttClient},
		Observers:  observers,
		Recorder:   historyRepo,
		Version:    version,
		Logger:     log.Component("flyport"),
	})
	if err != nil {
		return fmt.Errorf("creating Flyport bridge: %w", err)
	}

	// The API registers its WebSocket hub on the bridge, so it is built
	// before the bridge starts emitting.
	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer, err = api.New(api.Deps{
			Config:  cfg.API,
			WS:      cfg.WebSocket,
			Logger:  log.Component("api"),
			Bridge:  bridge,
			History: historyRepo,
			DB:      db,
			Checks:  checks,
			Version: version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
	}

	if err := bridge.Start(ctx); err != nil {
		return fmt.Errorf("starting Flyport bridge: %w", err)
	}
	defer func() {
		log.Info("stopping Flyport bridge")
		bridge.Stop()
	}()
	log.Info("Flyport bridge started",
		"boards", len(bridge.Boards()),
		"rejected", len(bridge.RegistrationErrors()),
		"polling", bridge.PollDescription(),
	)

	if apiServer != nil {
		if err := apiServer.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API server disabled")
	}

	if retention := cfg.Retention(); retention > 0 {
		go pruneHistory(ctx, historyRepo, retention, log)
	}

	if err := healthCheck(ctx, checks); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse: API, bridge, InfluxDB, MQTT, database.
	return nil
}

// getConfigPath returns the configuration file path.
// Uses GRAYLOGIC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck returns the first failing dependency.
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	for _, name := range []string{"database", "mqtt", "influxdb"} {
		c, ok := checks[name]
		if !ok {
			continue
		}
		if err := c.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// pruner is the part of the history store the retention loop uses.
type pruner interface {
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// pruneHistory removes history older than retention once at start and then
// every pruneInterval until ctx is done.
func pruneHistory(ctx context.Context, repo pruner, retention time.Duration, log *logging.Logger) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		n, err := repo.Prune(ctx, retention)
		switch {
		case err != nil && ctx.Err() == nil:
			log.Warn("history prune failed", "error", err)
		case n > 0:
			log.Info("history pruned", "rows", n, "retention", retention.String())
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// influxObserver writes every line change to InfluxDB.
type influxObserver struct {
	client *influxdb.Client
}

// ObserveEvent implements flyport.EventObserver. Writes are batched by the
// client and never block the emitter.
func (o *influxObserver) ObserveEvent(_ context.Context, e flyport.Event) error {
	o.client.WriteLineChange(influxdb.LineSample{
		Board: e.Board,
		Alias: e.Alias,
		Line:  e.Line,
		Kind:  e.LineKind,
		IsOn:  e.IsOn(),
		Time:  e.Time,
	})
	return nil
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the Flyport
// bridge's MQTTClient interface. The difference is the Subscribe handler
// signature:
//   - infrastructure mqtt: func(topic, payload []byte) error
//   - flyport bridge expects: func(topic, payload []byte)
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements flyport.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements flyport.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements flyport.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
