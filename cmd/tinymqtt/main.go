// TinyMQTT is a small interactive MQTT client.
//
// It connects to one broker at a time (MQTT 5 or 3.1.1), subscribes to a
// default topic on every connect, and prints received messages and publish
// confirmations as a running log. Connection settings are edited from the
// shell and saved between runs; every logged event can also be kept in a
// SQLite history and sent to InfluxDB.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/nerrad567/tinymqtt/internal/controller"
	"github.com/nerrad567/tinymqtt/internal/coordinator"
	"github.com/nerrad567/tinymqtt/internal/display"
	"github.com/nerrad567/tinymqtt/internal/history"
	"github.com/nerrad567/tinymqtt/internal/infrastructure/config"
	"github.com/nerrad567/tinymqtt/internal/infrastructure/database"
	"github.com/nerrad567/tinymqtt/internal/infrastructure/influxdb"
	"github.com/nerrad567/tinymqtt/internal/infrastructure/logging"
	"github.com/nerrad567/tinymqtt/internal/infrastructure/mqtt"
	"github.com/nerrad567/tinymqtt/internal/settings"
	"github.com/nerrad567/tinymqtt/internal/shell"
	"github.com/nerrad567/tinymqtt/internal/telemetry"
	"github.com/nerrad567/tinymqtt/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	// defaultConfigPath is used when TINYMQTT_CONFIG is unset and the file exists.
	defaultConfigPath = "configs/config.yaml"

	// shutdownTimeout bounds session teardown and draining the event log.
	shutdownTimeout = 5 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the application and blocks in the shell until quit, end of
// input or ctx is cancelled. The session is always torn down before return.
func run(ctx context.Context, in io.Reader, out, errOut io.Writer) error { //nolint:gocognit,gocyclo // linear startup sequence
	log := logging.Default()

	if err := loadDotEnv(); err != nil {
		return err
	}

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("starting TinyMQTT",
		"version", version,
		"commit", commit,
		"build_date", date,
		"config", configPath,
		"protocol", cfg.MQTT.Protocol,
	)

	dialer, err := mqtt.NewDialer(cfg.MQTT.Protocol, log.With("component", "mqtt"))
	if err != nil {
		return fmt.Errorf("creating MQTT dialer: %w", err)
	}

	coord := coordinator.New(dialer)
	coord.SetLogger(log.With("component", "coordinator"))
	coord.SetShutdownTimeout(shutdownTimeout)

	sink := display.NewConsole(out, errOut)
	store := settings.NewFileStore(cfg.Settings.Path)

	ctl, err := controller.New(coord, store, sink, baseSessionConfig(cfg))
	if err != nil {
		coord.Close(ctx) //nolint:errcheck // no session started yet
		return err
	}
	ctl.SetLogger(log.With("component", "controller"))

	// Stores are closed after the coordinator below has been drained.
	if cfg.History.Enabled {
		db, dbErr := database.Open(database.Config{
			Path:        cfg.History.Path,
			WALMode:     cfg.History.WALMode,
			BusyTimeout: cfg.History.BusyTimeout,
		})
		if dbErr != nil {
			coord.Close(ctx) //nolint:errcheck // no session started yet
			return fmt.Errorf("opening history database: %w", dbErr)
		}
		defer func() {
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing history database", "error", closeErr)
			}
		}()

		if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
			coord.Close(ctx) //nolint:errcheck // no session started yet
			return fmt.Errorf("running history migrations: %w", migrateErr)
		}
		ctl.SetHistory(history.NewRecorder(history.NewSQLiteRepository(db.DB)))
		ctl.AddComponent("history", db.Path(), db)
		log.Info("message history enabled", "path", cfg.History.Path)
	}

	influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
	case err != nil:
		log.Warn("InfluxDB unavailable, telemetry disabled", "error", err)
	default:
		influxClient.SetOnError(func(err error) {
			log.Warn("InfluxDB write failed", "error", err)
		})
		defer influxClient.Close() //nolint:errcheck // Close never fails
		ctl.AddRecorder(telemetry.NewRecorder(influxClient))
		ctl.AddComponent("influxdb", cfg.InfluxDB.URL, influxClient)
		log.Info("InfluxDB telemetry enabled", "url", cfg.InfluxDB.URL)
	}

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		ctl.Run(context.Background())
	}()

	sh := shell.New(ctl, in, out)
	sh.SetHistoryLimit(cfg.History.Limit)
	shellErr := sh.Run(ctx)

	log.Info("shutting down")
	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	closeErr := coord.Close(closeCtx)
	select {
	case <-consumerDone:
	case <-closeCtx.Done():
		log.Warn("event log did not drain before shutdown timeout")
	}

	if shellErr != nil {
		return shellErr
	}
	if closeErr != nil {
		return fmt.Errorf("closing session: %w", closeErr)
	}
	return nil
}

// baseSessionConfig maps the application config onto the transport fields
// of a session. Broker and credentials come from the settings store.
func baseSessionConfig(cfg *config.Config) coordinator.Config {
	initial, maxDelay := cfg.GetReconnectDelays()
	return coordinator.Config{
		DefaultTopic:          cfg.MQTT.DefaultTopic,
		ClientID:              cfg.MQTT.ClientID,
		QoS:                   byte(cfg.MQTT.QoS), //nolint:gosec // validated to 0-2
		TLS:                   cfg.MQTT.TLS,
		ConnectTimeout:        cfg.GetConnectTimeout(),
		ReconnectInitialDelay: initial,
		ReconnectMaxDelay:     maxDelay,
	}
}

// getConfigPath returns TINYMQTT_CONFIG when set, otherwise the default path
// if that file exists, otherwise "" (built-in defaults).
func getConfigPath() string {
	if path := os.Getenv("TINYMQTT_CONFIG"); path != "" {
		return path
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return defaultConfigPath
	}
	return ""
}

// loadDotEnv loads ./.env into the environment without overriding
// variables that are already set. A missing file is not an error.
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}
	return nil
}
