// Package config provides dynamic configuration management for CNCMate.
// It uses Viper to load settings from files, environment variables, and CLI flags.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration for CNCMate.
type Config struct {
	// ── Server ───────────────────────────────────────────────────────────────
	ServerHost string `mapstructure:"server_host"`
	// ControlPort: dashboard UI, JWT-protected REST API, /ws and /metrics
	ControlPort int `mapstructure:"control_port"`
	// DataPort: telemetry ingestion from edge agents, Bearer token protected
	DataPort int    `mapstructure:"data_port"`
	DBDriver string `mapstructure:"db_driver"` // "sqlite", "mysql" or "postgres"
	DBPath   string `mapstructure:"db_path"`   // used when db_driver = sqlite
	DBDSN    string `mapstructure:"db_dsn"`    // used when db_driver = mysql | postgres

	// ── Security ──────────────────────────────────────────────────────────────
	// JWTSecret: HS256 signing key for control-plane tokens.
	JWTSecret string        `mapstructure:"jwt_secret"`
	JWTTTL    time.Duration `mapstructure:"jwt_ttl"`
	// AgentToken: pre-shared key for data-plane telemetry requests.
	// Format on wire: "Authorization: Bearer <agent_token>"
	AgentToken string `mapstructure:"agent_token"`
	// AdminUser / AdminPass seed the owner account on first start.
	AdminUser string `mapstructure:"admin_user"`
	AdminPass string `mapstructure:"admin_pass"`

	// ── MQTT ingestion ────────────────────────────────────────────────────────
	MQTTEnabled      bool   `mapstructure:"mqtt_enabled"`
	MQTTBroker       string `mapstructure:"mqtt_broker"`
	MQTTNamespace    string `mapstructure:"mqtt_namespace"`
	MQTTClientPrefix string `mapstructure:"mqtt_client_prefix"`
	MQTTUsername     string `mapstructure:"mqtt_username"`
	MQTTPassword     string `mapstructure:"mqtt_password"`

	// ── NATS ingestion ────────────────────────────────────────────────────────
	NATSEnabled       bool   `mapstructure:"nats_enabled"`
	NATSURL           string `mapstructure:"nats_url"`
	NATSSubjectPrefix string `mapstructure:"nats_subject_prefix"`

	// ── Simulator ─────────────────────────────────────────────────────────────
	SimulatorEnabled      bool          `mapstructure:"simulator_enabled"`
	SimulatorSchedule     string        `mapstructure:"simulator_schedule"`
	SimulatorInitialDelay time.Duration `mapstructure:"simulator_initial_delay"`
	// SimulatorStatusRate is the chance per tick that a machine also gets a status sample.
	SimulatorStatusRate float64 `mapstructure:"simulator_status_rate"`

	// ── Aggregation ───────────────────────────────────────────────────────────
	AggregatorSchedule     string `mapstructure:"aggregator_schedule"`
	AggregatorLegacyEvents bool   `mapstructure:"aggregator_legacy_events"`
	ShiftReportSchedule    string `mapstructure:"shift_report_schedule"`

	// ── Applier ───────────────────────────────────────────────────────────────
	ApplierShards int `mapstructure:"applier_shards"`
	ApplierQueue  int `mapstructure:"applier_queue"`

	// ── WebSocket fan-out ─────────────────────────────────────────────────────
	WSSendBuffer     int           `mapstructure:"ws_send_buffer"`
	WSOverflowPolicy string        `mapstructure:"ws_overflow_policy"` // drop_oldest | disconnect
	WSWriteTimeout   time.Duration `mapstructure:"ws_write_timeout"`
	WSPingInterval   time.Duration `mapstructure:"ws_ping_interval"`
	WSRequireAuth    bool          `mapstructure:"ws_require_auth"`

	MetricsEnabled bool `mapstructure:"metrics_enabled"`

	// ── Agent ────────────────────────────────────────────────────────────────
	AgentJoinAddr  string `mapstructure:"agent_join_addr"`
	AgentInterval  int    `mapstructure:"agent_interval_seconds"`
	AgentMachineID string `mapstructure:"agent_machine_id"`
	AgentTransport string `mapstructure:"agent_transport"` // http | mqtt
	// AgentOutboundToken for outbound requests (overridden by --token CLI flag)
	AgentOutboundToken string `mapstructure:"agent_outbound_token"`
}

// Load reads config from file (./config.yaml or ~/.cncmate/config.yaml)
// and falls back to smart defaults. Environment variables with prefix CNCMATE_
// override file values.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// --- Config file ---
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.cncmate")
	if err := v.ReadInConfig(); err != nil {
		// config file is optional; ignore "not found" errors
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	// --- Environment Variables ---
	v.SetEnvPrefix("CNCMATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server_host", "0.0.0.0")
	v.SetDefault("control_port", 5000)
	v.SetDefault("data_port", 5001)
	v.SetDefault("db_driver", "sqlite")
	v.SetDefault("db_path", "cncmate.db")
	v.SetDefault("db_dsn", "")

	// Security defaults. MUST be overridden in production via config.yaml or env vars.
	v.SetDefault("jwt_secret", "cnc-Qm4$e8!vRw2#Lp7^zT5&yK1*hD9")
	v.SetDefault("jwt_ttl", 24*time.Hour)
	v.SetDefault("agent_token", "cncmate-agent-key")
	v.SetDefault("admin_user", "admin")
	v.SetDefault("admin_pass", "admin")

	v.SetDefault("mqtt_enabled", false)
	v.SetDefault("mqtt_broker", "tcp://test.mosquitto.org:1883")
	v.SetDefault("mqtt_namespace", "cncmate")
	v.SetDefault("mqtt_client_prefix", "cncmate_")
	v.SetDefault("mqtt_username", "")
	v.SetDefault("mqtt_password", "")

	v.SetDefault("nats_enabled", false)
	v.SetDefault("nats_url", "nats://127.0.0.1:4222")
	v.SetDefault("nats_subject_prefix", "cncmate")

	v.SetDefault("simulator_enabled", true)
	v.SetDefault("simulator_schedule", "@every 60s")
	v.SetDefault("simulator_initial_delay", 2*time.Second)
	v.SetDefault("simulator_status_rate", 0.1)

	v.SetDefault("aggregator_schedule", "@every 5s")
	v.SetDefault("aggregator_legacy_events", false)
	v.SetDefault("shift_report_schedule", "0 0 * * *")

	v.SetDefault("applier_shards", 8)
	v.SetDefault("applier_queue", 256)

	v.SetDefault("ws_send_buffer", 64)
	v.SetDefault("ws_overflow_policy", "drop_oldest")
	v.SetDefault("ws_write_timeout", 10*time.Second)
	v.SetDefault("ws_ping_interval", 30*time.Second)
	v.SetDefault("ws_require_auth", false)

	v.SetDefault("metrics_enabled", true)

	v.SetDefault("agent_join_addr", "127.0.0.1:5001")
	v.SetDefault("agent_interval_seconds", 30)
	v.SetDefault("agent_machine_id", "")
	v.SetDefault("agent_transport", "http")
	v.SetDefault("agent_outbound_token", "cncmate-agent-key")
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "sqlite", "mysql", "postgres", "":
	default:
		return fmt.Errorf("unsupported db_driver %q (use 'sqlite', 'mysql' or 'postgres')", c.DBDriver)
	}
	switch c.WSOverflowPolicy {
	case "drop_oldest", "disconnect", "":
	default:
		return fmt.Errorf("unsupported ws_overflow_policy %q (use 'drop_oldest' or 'disconnect')", c.WSOverflowPolicy)
	}
	switch c.AgentTransport {
	case "http", "mqtt", "":
	default:
		return fmt.Errorf("unsupported agent_transport %q (use 'http' or 'mqtt')", c.AgentTransport)
	}
	if c.SimulatorStatusRate < 0 || c.SimulatorStatusRate > 1 {
		return fmt.Errorf("simulator_status_rate must be within [0,1], got %v", c.SimulatorStatusRate)
	}
	return nil
}
