// SODS Identity Core - BLE identity resolution service.
//
// This is the main entry point for the identity core. It consumes BLE
// observation streams from scanner nodes over MQTT, correlates sightings
// across scanners, resolves them into stable device identities, and
// maintains the identity registry in SQLite. A read-mostly HTTP API
// exposes the registry, and optional InfluxDB telemetry records
// per-sighting resolution activity.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/strangelab/sods-identity-core/migrations"

	"github.com/strangelab/sods-identity-core/internal/api"
	"github.com/strangelab/sods-identity-core/internal/fingerprint"
	"github.com/strangelab/sods-identity-core/internal/infrastructure/config"
	"github.com/strangelab/sods-identity-core/internal/infrastructure/database"
	"github.com/strangelab/sods-identity-core/internal/infrastructure/influxdb"
	"github.com/strangelab/sods-identity-core/internal/infrastructure/logging"
	"github.com/strangelab/sods-identity-core/internal/infrastructure/mqtt"
	"github.com/strangelab/sods-identity-core/internal/registry"
	"github.com/strangelab/sods-identity-core/internal/resolve"
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
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting SODS Identity Core",
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

	// Open registry database
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

	store := registry.NewStore(db)
	candidates := registry.NewCandidateSet(cfg.CandidateTTL(), cfg.Resolver.MaxCandidates)

	deviceCount, err := store.CountDevices(ctx)
	if err != nil {
		return fmt.Errorf("loading identity registry: %w", err)
	}
	log.Info("identity registry loaded", "devices", deviceCount)

	// Vendor mask table: built-in rules, optionally extended from file
	masker, err := loadMasker(cfg, log)
	if err != nil {
		return fmt.Errorf("loading mask rules: %w", err)
	}

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

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Resolution engine
	engine := resolve.NewEngine(resolve.EngineConfig{
		Workers:       cfg.Resolver.Workers,
		MergeWindowMS: cfg.MergeWindow().Milliseconds(),
		MaxClusters:   cfg.Resolver.MaxClusters,
	}, store, candidates, masker, log)
	if influxClient != nil {
		engine.SetMetrics(&sightingRecorder{influx: influxClient})
	}

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	topics := mqtt.Topics{}
	qos := byte(cfg.MQTT.QoS)

	engine.SetEmitter(&mqttEmitter{client: mqttClient, topics: topics, qos: qos})
	engine.Start(ctx)

	// Engine must outlive the observation feed, so the MQTT client is
	// closed (unsubscribing the feed) before the engine is stopped.
	defer func() {
		log.Info("stopping resolution engine")
		engine.Stop()
	}()
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()

	if err := mqttClient.Subscribe(topics.AllObservations(), qos, func(_ string, payload []byte) error {
		return engine.Submit(payload)
	}); err != nil {
		return fmt.Errorf("subscribing to observations: %w", err)
	}
	log.Info("observation feed subscribed", "topic", topics.AllObservations())

	// HTTP API (optional)
	if cfg.API.Enabled {
		apiServer, err := api.New(api.Deps{
			Config:     cfg.API,
			Logger:     log,
			Store:      store,
			Candidates: candidates,
			Summary:    engine,
			Version:    version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := apiServer.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. MQTT (stops the observation feed)
	// 3. Resolution engine (drains and flushes open clusters)
	// 4. InfluxDB (if enabled)
	// 5. Database

	log.Info("SODS Identity Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses SODS_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("SODS_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// loadMasker builds the vendor mask table, extending the built-in rules
// from the configured rules file when one is set.
func loadMasker(cfg *config.Config, log *logging.Logger) (fingerprint.Masker, error) {
	if cfg.Masking.RulesFile == "" {
		return fingerprint.NewTable(), nil
	}

	table, err := fingerprint.LoadTable(cfg.Masking.RulesFile)
	if err != nil {
		return nil, err
	}
	log.Info("vendor mask rules loaded", "path", cfg.Masking.RulesFile)
	return table, nil
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
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

	return nil
}

// mqttEmitter adapts the infrastructure MQTT client to the resolution
// engine's Emitter interface, publishing events on the event topics.
type mqttEmitter struct {
	client *mqtt.Client
	topics mqtt.Topics
	qos    byte
}

// Emit implements resolve.Emitter.
func (e *mqttEmitter) Emit(evt resolve.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	return e.client.Publish(e.topics.Event(evt.Type), payload, e.qos, false)
}

// sightingRecorder adapts the InfluxDB client to the resolution engine's
// MetricsSink interface.
type sightingRecorder struct {
	influx *influxdb.Client
}

// RecordSighting implements resolve.MetricsSink.
func (r *sightingRecorder) RecordSighting(deviceID, scannerID, decision string, rssi, score int, ts time.Time) {
	r.influx.WriteSighting(deviceID, scannerID, decision, rssi, score, ts)
}
