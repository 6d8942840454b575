// Fleetcore - IoT fleet device management core
//
// This is the main entry point for the fleetcore service. It wires the
// provisioning workflow, telemetry router, offline sweeper, command
// dispatcher, and HTTP/WebSocket API against SQLite, MQTT, and an optional
// InfluxDB telemetry mirror.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/ironvale/fleetcore/migrations"

	"github.com/ironvale/fleetcore/internal/api"
	"github.com/ironvale/fleetcore/internal/audit"
	"github.com/ironvale/fleetcore/internal/command"
	"github.com/ironvale/fleetcore/internal/device"
	"github.com/ironvale/fleetcore/internal/events"
	"github.com/ironvale/fleetcore/internal/infrastructure/config"
	"github.com/ironvale/fleetcore/internal/infrastructure/database"
	"github.com/ironvale/fleetcore/internal/infrastructure/influxdb"
	"github.com/ironvale/fleetcore/internal/infrastructure/logging"
	"github.com/ironvale/fleetcore/internal/infrastructure/mqtt"
	"github.com/ironvale/fleetcore/internal/provisioning"
	"github.com/ironvale/fleetcore/internal/telemetry"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// eventHubBuffer is the per-subscriber buffer for internal events.
const eventHubBuffer = 64

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting fleetcore",
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

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(ctx, database.Config{
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

	// Repositories and device store
	deviceRepo := device.NewSQLiteRepository(db.DB)
	deviceStore := device.NewStore(deviceRepo, cfg.Telemetry.LockShards)
	deviceStore.SetLogger(log)

	if refreshErr := deviceStore.Refresh(ctx); refreshErr != nil {
		return fmt.Errorf("loading device store: %w", refreshErr)
	}

	ledger := device.NewSQLiteStateLedger(db.DB)
	auditRepo := audit.NewSQLiteRepository(db.DB)

	workflow, err := provisioning.NewWorkflow(
		provisioning.NewSQLiteRepository(db.DB, deviceRepo), auditRepo, log)
	if err != nil {
		return fmt.Errorf("creating provisioning workflow: %w", err)
	}

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT, cfg.Fleet.Namespace)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
		"namespace", cfg.Fleet.Namespace,
	)

	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Internal event hub feeds the WebSocket relay
	hub := events.NewHub(eventHubBuffer)

	// Telemetry router consumes device telemetry topics
	router := telemetry.NewRouter(telemetry.Config{
		Store:          deviceStore,
		Repo:           deviceRepo,
		Ledger:         ledger,
		Hub:            hub,
		Influx:         influxClient,
		Logger:         log,
		Topics:         mqttClient.Topics(),
		MessageTimeout: cfg.MessageTimeout(),
	})
	if err := router.Start(mqttClient, byte(cfg.MQTT.QoS)); err != nil {
		return fmt.Errorf("starting telemetry router: %w", err)
	}
	log.Info("telemetry router started", "namespace", cfg.Fleet.Namespace)

	// Offline sweeper owns the silence-based offline transition
	sweeper := telemetry.NewSweeper(telemetry.SweeperConfig{
		Repo:         deviceRepo,
		Store:        deviceStore,
		Hub:          hub,
		Audits:       auditRepo,
		Logger:       log,
		OfflineAfter: cfg.OfflineAfter(),
		Interval:     cfg.SweepInterval(),
	})
	go sweeper.Run(ctx)
	log.Info("offline sweeper started",
		"offline_after_s", cfg.Telemetry.OfflineAfter,
		"interval_s", cfg.Telemetry.SweepInterval,
	)

	dispatcher := command.NewDispatcher(
		mqttClient, mqttClient.Topics(), auditRepo, log, byte(cfg.MQTT.QoS))

	// HTTP API
	server, err := api.New(api.Deps{
		Config:     cfg.API,
		Security:   cfg.Security,
		Logger:     log,
		Store:      deviceStore,
		Ledger:     ledger,
		Workflow:   workflow,
		Dispatcher: dispatcher,
		AuditRepo:  auditRepo,
		Events:     hub,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient, server); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. InfluxDB (if enabled)
	// 3. MQTT
	// 4. Database

	log.Info("fleetcore stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses FLEETCORE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("FLEETCORE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
// influxClient may be nil when the mirror is disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client, server *api.Server) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	if err := server.HealthCheck(ctx); err != nil {
		return fmt.Errorf("api: %w", err)
	}

	return nil
}
