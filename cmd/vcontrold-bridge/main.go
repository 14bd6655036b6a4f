// vcontrold-bridge polls a Viessmann heating controller through vcontrold
// and mirrors it to MQTT with Home Assistant discovery.
//
// Readings can additionally be kept in SQLite, written to InfluxDB, cached
// in Valkey and streamed to Kafka. A small HTTP API exposes the latest
// values, history and raw daemon access.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/vcontrold-bridge/migrations"

	"github.com/nerrad567/vcontrold-bridge/internal/api"
	"github.com/nerrad567/vcontrold-bridge/internal/audit"
	"github.com/nerrad567/vcontrold-bridge/internal/bridge"
	"github.com/nerrad567/vcontrold-bridge/internal/daemon"
	"github.com/nerrad567/vcontrold-bridge/internal/heating"
	"github.com/nerrad567/vcontrold-bridge/internal/history"
	"github.com/nerrad567/vcontrold-bridge/internal/infrastructure/config"
	"github.com/nerrad567/vcontrold-bridge/internal/infrastructure/database"
	"github.com/nerrad567/vcontrold-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/vcontrold-bridge/internal/infrastructure/kafka"
	"github.com/nerrad567/vcontrold-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/vcontrold-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/vcontrold-bridge/internal/infrastructure/valkey"
	"github.com/nerrad567/vcontrold-bridge/internal/vcontrold"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	configFlag := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, getConfigPath(*configFlag)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component and blocks until ctx is cancelled. Deferred
// cleanups run in reverse order of construction.
func run(ctx context.Context, configPath string) error {
	log := logging.Default()
	log.Info("starting vcontrold bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

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

	heatingType, err := heating.ParseHeatingType(cfg.Heating.Type)
	if err != nil {
		return fmt.Errorf("heating type: %w", err)
	}

	// Database holds the inventory id and, when enabled, reading history.
	var (
		db         *database.DB
		repo       *history.Repository
		commandLog *audit.SQLiteRepository
	)
	if cfg.Database.Path != "" {
		db, err = database.Open(cfg.Database)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		if migrateErr := db.Migrate(ctx); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		repo = history.NewRepository(db.DB)
		if cfg.History.AuditCommands {
			commandLog = audit.NewSQLiteRepository(db.DB)
		}
		log.Info("database ready", "path", db.Path(), "command_log", commandLog != nil)
	}

	var sinks []bridge.Sink
	if repo != nil && cfg.History.Enabled {
		sinks = append(sinks, bridge.NewHistorySink(repo, cfg.GetRetention()))
		log.Info("history enabled", "retention_days", cfg.History.RetentionDays)
	}

	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(ctx, cfg.InfluxDB)
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
		sinks = append(sinks, bridge.NewInfluxSink(influxClient))
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	if cfg.Valkey.Enabled {
		pub := valkey.NewPublisher(cfg.Valkey)
		if startErr := pub.Start(ctx); startErr != nil {
			return fmt.Errorf("connecting to Valkey: %w", startErr)
		}
		defer func() {
			log.Info("stopping Valkey publisher")
			if stopErr := pub.Stop(); stopErr != nil {
				log.Error("error stopping Valkey publisher", "error", stopErr)
			}
		}()
		sinks = append(sinks, bridge.NewValkeySink(pub))
		log.Info("Valkey connected", "address", pub.Address())
	}

	if cfg.Kafka.Enabled {
		producer, kafkaErr := kafka.NewProducer(cfg.Kafka)
		if kafkaErr != nil {
			return fmt.Errorf("creating Kafka producer: %w", kafkaErr)
		}
		defer func() {
			log.Info("closing Kafka producer")
			if closeErr := producer.Close(); closeErr != nil {
				log.Error("error closing Kafka producer", "error", closeErr)
			}
		}()
		sinks = append(sinks, bridge.NewKafkaSink(producer))
		log.Info("Kafka producer ready", "topic", producer.Topic(), "brokers", cfg.Kafka.Brokers)
	}

	var manager *daemon.Manager
	if cfg.Daemon.Managed.Enabled {
		var mgrErr error
		manager, mgrErr = daemon.NewManager(daemon.ConfigFrom(cfg.Daemon))
		if mgrErr != nil {
			return mgrErr
		}
		manager.SetLogger(log.With("component", "daemon"))
		if startErr := manager.Start(ctx); startErr != nil {
			return startErr
		}
		defer func() {
			log.Info("stopping managed vcontrold")
			manager.Stop()
		}()
		log.Info("managed vcontrold started", "pid", manager.Stats().PID, "port", cfg.Daemon.Port)
	}

	device := vcontrold.New(daemonConfig(cfg.Daemon))
	device.SetLogger(log.With("component", "vcontrold"))
	defer func() {
		log.Info("closing vcontrold connection")
		if closeErr := device.Close(); closeErr != nil {
			log.Error("error closing vcontrold", "error", closeErr)
		}
	}()

	opts := bridge.Options{
		Device:         device,
		Topics:         mqtt.NewTopics(cfg.MQTT.TopicPrefix, cfg.MQTT.DiscoveryPrefix),
		QoS:            byte(cfg.MQTT.QoS), //nolint:gosec // validated to 0..2
		HeatingType:    heatingType,
		Name:           cfg.Heating.Name,
		DeviceID:       cfg.Heating.DeviceID,
		PollInterval:   cfg.GetPollInterval(),
		HealthInterval: healthInterval(cfg.MQTT),
		Version:        version,
		Sinks:          sinks,
		Logger:         log.With("component", "bridge"),
	}
	if repo != nil {
		opts.Inventory = repo
	}
	if commandLog != nil {
		opts.CommandLog = commandLog
	}

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.With("component", "mqtt"))
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		opts.MQTT = mqttClient
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	b, err := bridge.New(opts)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	if mqttClient != nil {
		// Retained state may be gone after a broker restart.
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
			go b.Resync()
		})
	}

	if startErr := b.Start(ctx); startErr != nil {
		return fmt.Errorf("starting bridge: %w", startErr)
	}
	defer func() {
		log.Info("stopping bridge")
		b.Stop()
	}()

	if cfg.API.Enabled {
		deps := api.Deps{
			Config:  cfg.API,
			Logger:  log.With("component", "api"),
			Bridge:  b,
			Daemon:  device,
			Version: version,
		}
		if repo != nil {
			deps.History = repo
		}
		if commandLog != nil {
			deps.Commands = commandLog
		}
		if manager != nil {
			deps.Managed = manager
		}
		if mqttClient != nil {
			deps.MQTT = mqttClient
		}
		if db != nil {
			deps.DB = db
		}
		srv, apiErr := api.New(deps)
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := srv.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns the configuration file path: the -config flag, then
// VCONTROLD_CONFIG, then the default.
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv("VCONTROLD_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// daemonConfig converts the YAML daemon section to a client config. Zero
// values fall back to the client's defaults.
func daemonConfig(c config.DaemonConfig) vcontrold.Config {
	return vcontrold.Config{
		Host:            c.Host,
		Port:            c.Port,
		Prompt:          c.Prompt,
		DialTimeout:     config.Milliseconds(c.DialTimeoutMS),
		WriteTimeout:    config.Milliseconds(c.WriteTimeoutMS),
		ReadTimeout:     config.Milliseconds(c.ReadTimeoutMS),
		SyncTimeout:     config.Milliseconds(c.SyncTimeoutMS),
		ConnectAttempts: c.ConnectAttempts,
		ConnectBackoff:  config.Milliseconds(c.ConnectBackoffMS),
		CommandAttempts: c.CommandAttempts,
	}
}

func healthInterval(c config.MQTTConfig) time.Duration {
	return time.Duration(c.HealthInterval) * time.Second
}
