// PLC Remote - remote control for MQTT-connected PLCs
//
// plcremote binds one PLC over MQTT, mirrors its status into memory and
// serves relay control over HTTP and WebSocket.
//
//	plcremote                 run the service
//	plcremote -probe <ID>     probe one device and exit
//	plcremote -migrate status list applied and pending migrations
//	plcremote -migrate down   roll back the latest migration
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/plc-remote/migrations"

	"github.com/nerrad567/plc-remote/internal/api"
	"github.com/nerrad567/plc-remote/internal/device"
	"github.com/nerrad567/plc-remote/internal/infrastructure/config"
	"github.com/nerrad567/plc-remote/internal/infrastructure/database"
	"github.com/nerrad567/plc-remote/internal/infrastructure/influxdb"
	"github.com/nerrad567/plc-remote/internal/infrastructure/logging"
	"github.com/nerrad567/plc-remote/internal/infrastructure/mqtt"
	"github.com/nerrad567/plc-remote/internal/onboarding"
	"github.com/nerrad567/plc-remote/internal/session"
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

// Commands accepted by -migrate.
const (
	migrateStatus = "status"
	migrateDown   = "down"
)

// errProbeFailed is returned by -probe when the device cannot be reached.
var errProbeFailed = errors.New("probe failed")

// options are the parsed command line flags.
type options struct {
	configPath   string
	probeID      string
	probeTimeout time.Duration
	migrate      string
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	switch {
	case opts.probeID != "":
		err = runProbe(ctx, opts, os.Stdout)
	case opts.migrate != "":
		err = runMigrate(ctx, opts, os.Stdout)
	default:
		err = run(ctx, opts)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string, errOut io.Writer) (options, error) {
	fs := flag.NewFlagSet("plcremote", flag.ContinueOnError)
	fs.SetOutput(errOut)

	opts := options{}
	fs.StringVar(&opts.configPath, "config", getConfigPath(), "path to the YAML configuration file")
	fs.StringVar(&opts.probeID, "probe", "", "probe the device with this MAC address and exit")
	fs.DurationVar(&opts.probeTimeout, "timeout", 0, "probe timeout (default from probe.timeout_ms)")
	fs.StringVar(&opts.migrate, "migrate", "", "run a migration command (status or down) and exit")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(errOut, "unexpected arguments: %v\n", fs.Args())
		return options{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	switch opts.migrate {
	case "", migrateStatus, migrateDown:
	default:
		fmt.Fprintf(errOut, "-migrate must be %q or %q\n", migrateStatus, migrateDown)
		return options{}, fmt.Errorf("unknown migrate command %q", opts.migrate)
	}
	if opts.migrate != "" && opts.probeID != "" {
		fmt.Fprintln(errOut, "-probe and -migrate are mutually exclusive")
		return options{}, errors.New("-probe and -migrate are mutually exclusive")
	}
	return opts, nil
}

// getConfigPath returns the configuration file path.
// Uses PLCREMOTE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("PLCREMOTE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// layoutFromConfig converts the configured arities into a device layout.
func layoutFromConfig(cfg config.DeviceLayoutConfig) device.Layout {
	return device.Layout{
		DigitalInputs: cfg.DigitalInputs,
		AnalogInputs:  cfg.AnalogInputs,
		Relays:        cfg.Relays,
	}
}

// managerOptions builds session options from configuration, with every
// session and probe transport backed by paho.
func managerOptions(cfg *config.Config, log *logging.Logger) session.ManagerOptions {
	return session.ManagerOptions{
		Topics:         mqtt.Topics{Prefix: cfg.MQTT.TopicPrefix},
		Layout:         layoutFromConfig(cfg.Device.Layout),
		QoS:            byte(cfg.MQTT.QoS), //nolint:gosec // validated to 0..2
		ClientIDPrefix: cfg.MQTT.Broker.ClientIDPrefix,
		ConnectTimeout: cfg.MQTT.ConnectTimeout(),
		ReconnectDelay: cfg.MQTT.ReconnectDelay(),
		ProbeTimeout:   cfg.Probe.Timeout(),
		NewTransport:   session.MQTTTransportFactory(cfg.MQTT, log),
		Logger:         log,
	}
}

func loadConfig(path string) (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, logging.New(cfg.Logging, version), nil
}

// probeOutput is printed by -probe.
type probeOutput struct {
	DeviceID device.Identifier `json:"device_id"`
	session.ProbeResult
}

// runProbe runs one presence probe and prints the result as JSON. It
// returns errProbeFailed when the broker is unreachable or the device is
// silent.
func runProbe(ctx context.Context, opts options, out io.Writer) error {
	cfg, log, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}

	id, err := device.ParseIdentifier(opts.probeID)
	if err != nil {
		return err
	}

	manager, err := session.NewManager(managerOptions(cfg, log))
	if err != nil {
		return fmt.Errorf("creating session manager: %w", err)
	}
	defer manager.Close()

	result, err := manager.Probe(ctx, id.String(), opts.probeTimeout)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(probeOutput{DeviceID: id, ProbeResult: result}); err != nil {
		return fmt.Errorf("writing probe result: %w", err)
	}

	switch {
	case !result.BrokerReachable:
		return fmt.Errorf("%w: broker %s unreachable", errProbeFailed, cfg.MQTT.BrokerURL())
	case !result.DeviceOnline:
		return fmt.Errorf("%w: device %s offline", errProbeFailed, id)
	}
	return nil
}

// runMigrate reports migration status or rolls back the latest migration,
// then prints the resulting status.
func runMigrate(ctx context.Context, opts options, out io.Writer) error {
	cfg, log, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}

	db, err := database.Open(database.FromConfig(cfg.Database))
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close() //nolint:errcheck // read-mostly command

	if opts.migrate == migrateDown {
		if err := db.MigrateDown(ctx); err != nil {
			return fmt.Errorf("rolling back migration: %w", err)
		}
		log.Info("latest migration rolled back", "path", cfg.Database.Path)
	}

	applied, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("reading migration status: %w", err)
	}
	for _, r := range applied {
		fmt.Fprintf(out, "applied  %s  %s\n", r.Version, r.AppliedAt.UTC().Format(time.RFC3339))
	}
	for _, m := range pending {
		fmt.Fprintf(out, "pending  %s  %s\n", m.Version, m.Name)
	}
	return nil
}

// run is the service, separated from main for testability. It returns nil
// on clean shutdown.
func run(ctx context.Context, opts options) error {
	log := logging.Default()
	log.Info("starting PLC Remote",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, log, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	log.Info("configuration loaded", "path", opts.configPath)

	// Open database
	db, err := database.Open(database.FromConfig(cfg.Database))
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

	// Session manager
	manager, err := session.NewManager(managerOptions(cfg, log))
	if err != nil {
		return fmt.Errorf("creating session manager: %w", err)
	}
	defer func() {
		log.Info("closing MQTT session")
		manager.Close()
	}()

	// Connect to InfluxDB (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, connErr := influxdb.Connect(cfg.InfluxDB)
		if connErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", connErr)
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

		unwatch := manager.OnChange(influxdb.NewRecorder(influxClient).Observe)
		defer unwatch()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	recent := onboarding.NewSQLiteRecentRepository(db.DB)
	onboard := onboarding.NewService(manager, recent, log)

	// Bind the configured device without probing. A device that is offline
	// at startup is still bound; the session retries until it appears.
	if cfg.Device.ID != "" {
		res, bindErr := onboard.Connect(ctx, cfg.Device.ID, onboarding.ConnectOptions{SkipProbe: true})
		if bindErr != nil {
			return fmt.Errorf("binding configured device: %w", bindErr)
		}
		log.Info("configured device bound", "device_id", res.DeviceID)
	}

	server, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Logger:     log,
		Controller: manager,
		Onboarding: onboard,
		Database:   db,
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

	log.Info("initialisation complete, waiting for shutdown signal", "api", server.Addr())

	<-ctx.Done()

	// Deferred calls run in reverse: API, InfluxDB, MQTT session, database.
	log.Info("shutdown signal received, cleaning up")
	return nil
}
