package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"io"
	"os"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/plc-remote/internal/device"
	"github.com/nerrad567/plc-remote/internal/infrastructure/config"
	"github.com/nerrad567/plc-remote/internal/infrastructure/database"
	"github.com/nerrad567/plc-remote/internal/infrastructure/logging"
)

// writeConfig writes a minimal config pointing at the given broker port and
// returns its path.
func writeConfig(t *testing.T, brokerPort int, dbPath string) string {
	t.Helper()
	content := `
mqtt:
  broker:
    host: "127.0.0.1"
    port: ` + strconv.Itoa(brokerPort) + `
    client_id_prefix: "plcremote-test"
  topic_prefix: "plc"
  connect_timeout_ms: 300
  reconnect:
    delay_ms: 200

probe:
  timeout_ms: 500

database:
  path: "` + dbPath + `"
  wal_mode: true
  busy_timeout: 5

api:
  host: "127.0.0.1"
  port: ` + strconv.Itoa(freePort(t)) + `

logging:
  level: error
  format: text
  output: discard
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// freePort returns a TCP port that was free a moment ago.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, options{configPath: "/nonexistent/path/config.yaml"}); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_MissingDatabasePath verifies config validation rejects an empty path.
func TestRun_MissingDatabasePath(t *testing.T) {
	path := writeConfig(t, 1883, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, options{configPath: path})
	if err == nil || !strings.Contains(err.Error(), "database.path") {
		t.Fatalf("run() error = %v, want database.path validation failure", err)
	}
}

// TestRun_StartAndShutdown starts the service against a closed broker port.
// Binding is lazy, so startup succeeds, migrations are applied and
// cancellation shuts it down cleanly.
func TestRun_StartAndShutdown(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "plcremote.db")
	path := writeConfig(t, 1, dbPath)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if err := run(ctx, options{configPath: path}); err != nil {
		t.Fatalf("run() error = %v", err)
	}

	db, err := database.Open(database.Config{Path: dbPath})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	defer db.Close()
	_, pending, err := db.GetMigrationStatus(context.Background())
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending migrations after run = %d, want 0", len(pending))
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("PLCREMOTE_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv("PLCREMOTE_CONFIG", "/custom/path/config.yaml")
	if got := getConfigPath(); got != "/custom/path/config.yaml" {
		t.Errorf("getConfigPath() = %q, want env override", got)
	}
}

func TestParseFlags(t *testing.T) {
	t.Setenv("PLCREMOTE_CONFIG", "")

	tests := []struct {
		name    string
		args    []string
		want    options
		wantErr bool
	}{
		{"defaults", nil, options{configPath: defaultConfigPath}, false},
		{"probe", []string{"-probe", "AA:BB:CC:DD:EE:FF"}, options{configPath: defaultConfigPath, probeID: "AA:BB:CC:DD:EE:FF"}, false},
		{"probe with timeout", []string{"-probe", "AABBCCDDEEFF", "-timeout", "2s"}, options{configPath: defaultConfigPath, probeID: "AABBCCDDEEFF", probeTimeout: 2 * time.Second}, false},
		{"config", []string{"-config", "/etc/plcremote.yaml"}, options{configPath: "/etc/plcremote.yaml"}, false},
		{"migrate status", []string{"-migrate", "status"}, options{configPath: defaultConfigPath, migrate: migrateStatus}, false},
		{"migrate down", []string{"-migrate", "down"}, options{configPath: defaultConfigPath, migrate: migrateDown}, false},
		{"unknown migrate command", []string{"-migrate", "up"}, options{}, true},
		{"probe and migrate", []string{"-probe", "AABBCCDDEEFF", "-migrate", "status"}, options{}, true},
		{"unknown flag", []string{"-bogus"}, options{}, true},
		{"stray argument", []string{"extra"}, options{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFlags(tt.args, io.Discard)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseFlags() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseFlags_Help(t *testing.T) {
	var out bytes.Buffer
	_, err := parseFlags([]string{"-h"}, &out)
	if !errors.Is(err, flag.ErrHelp) {
		t.Fatalf("parseFlags(-h) error = %v, want flag.ErrHelp", err)
	}
	if !strings.Contains(out.String(), "-probe") {
		t.Errorf("usage should mention -probe: %q", out.String())
	}
}

func TestManagerOptions(t *testing.T) {
	cfg := &config.Config{
		MQTT: config.MQTTConfig{
			Broker:           config.MQTTBrokerConfig{Host: "broker", Port: 1883, ClientIDPrefix: "panel"},
			QoS:              1,
			TopicPrefix:      "site",
			ConnectTimeoutMS: 1500,
			Reconnect:        config.MQTTReconnectConfig{DelayMS: 2500},
		},
		Device: config.DeviceConfig{Layout: config.DeviceLayoutConfig{DigitalInputs: 4, AnalogInputs: 2, Relays: 6}},
		Probe:  config.ProbeConfig{TimeoutMS: 800},
	}

	opts := managerOptions(cfg, logging.Discard())
	if opts.Topics.Prefix != "site" || opts.QoS != 1 || opts.ClientIDPrefix != "panel" {
		t.Errorf("opts = %+v", opts)
	}
	if opts.ConnectTimeout != 1500*time.Millisecond || opts.ReconnectDelay != 2500*time.Millisecond || opts.ProbeTimeout != 800*time.Millisecond {
		t.Errorf("durations = %v %v %v", opts.ConnectTimeout, opts.ReconnectDelay, opts.ProbeTimeout)
	}
	if want := (device.Layout{DigitalInputs: 4, AnalogInputs: 2, Relays: 6}); opts.Layout != want {
		t.Errorf("layout = %+v, want %+v", opts.Layout, want)
	}
	if opts.NewTransport == nil {
		t.Error("transport factory must be set")
	}
}

func TestRunProbe_InvalidIdentifier(t *testing.T) {
	path := writeConfig(t, 1, filepath.Join(t.TempDir(), "db"))
	var out bytes.Buffer

	err := runProbe(context.Background(), options{configPath: path, probeID: "not-a-mac"}, &out)
	if !errors.Is(err, device.ErrInvalidIdentifier) {
		t.Fatalf("runProbe() error = %v, want ErrInvalidIdentifier", err)
	}
	if out.Len() != 0 {
		t.Errorf("nothing should be printed, got %q", out.String())
	}
}

func TestRunProbe_BrokerUnreachable(t *testing.T) {
	path := writeConfig(t, 1, filepath.Join(t.TempDir(), "db"))
	var out bytes.Buffer

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := runProbe(ctx, options{configPath: path, probeID: "aa:bb:cc:dd:ee:ff"}, &out)
	if !errors.Is(err, errProbeFailed) {
		t.Fatalf("runProbe() error = %v, want errProbeFailed", err)
	}

	var got map[string]any
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("probe output is not JSON: %v (%q)", err, out.String())
	}
	if got["device_id"] != "AABBCCDDEEFF" || got["broker_reachable"] != false || got["device_online"] != false {
		t.Errorf("output = %v", got)
	}
}

func TestRunMigrate(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "plcremote.db")
	path := writeConfig(t, 1, dbPath)
	ctx := context.Background()

	migrate := func(cmd string) string {
		t.Helper()
		var out bytes.Buffer
		if err := runMigrate(ctx, options{configPath: path, migrate: cmd}, &out); err != nil {
			t.Fatalf("runMigrate(%s) error = %v", cmd, err)
		}
		return out.String()
	}

	if got := migrate(migrateStatus); !strings.Contains(got, "pending  20260101_000000  recent_devices") {
		t.Errorf("status on fresh database = %q, want recent_devices pending", got)
	}

	db, err := database.Open(database.Config{Path: dbPath})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	db.Close()

	if got := migrate(migrateStatus); !strings.HasPrefix(got, "applied  20260101_000000") {
		t.Errorf("status after Migrate = %q, want recent_devices applied", got)
	}
	if got := migrate(migrateDown); !strings.Contains(got, "pending  20260101_000000") || strings.Contains(got, "applied") {
		t.Errorf("status after down = %q, want recent_devices pending again", got)
	}
}
