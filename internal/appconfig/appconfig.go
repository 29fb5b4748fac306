// Package appconfig loads the process-level bootstrap configuration shared by
// the controller and module binaries: network addresses, broker URLs, and
// filesystem roots. It is deliberately flat and env-driven — the layered,
// hot-reloadable module configuration tree described in the recording spec
// lives in package configtree, not here.
package appconfig

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds settings common to both the controller and module processes.
// Role-specific fields are grouped and simply left at zero value for the
// other role.
type Config struct {
	Role string `env:"SAVIOUR_ROLE" envDefault:"module"` // "controller" or "module"

	// Identity
	ModuleType string `env:"MODULE_TYPE" envDefault:"generic"`
	ModuleName string `env:"MODULE_NAME"`
	Group      string `env:"MODULE_GROUP"`

	// Transport
	MQTTBrokerURL   string `env:"MQTT_BROKER_URL"`
	MQTTClientID    string `env:"MQTT_CLIENT_ID"`
	MQTTUsername    string `env:"MQTT_USERNAME"`
	MQTTPassword    string `env:"MQTT_PASSWORD"`
	EmbedBroker     bool   `env:"EMBED_BROKER" envDefault:"false"` // controller only
	EmbedBrokerAddr string `env:"EMBED_BROKER_ADDR" envDefault:":1883"`

	// Discovery
	PrivateRangeCIDRs string        `env:"PRIVATE_RANGE_CIDRS" envDefault:"10.0.0.0/8,172.16.0.0/12,192.168.0.0/16"`
	DiscoveryRetry    time.Duration `env:"DISCOVERY_RETRY_INTERVAL" envDefault:"5s"`

	// Recording
	RecordingRoot        string        `env:"RECORDING_ROOT" envDefault:"./recordings"`
	SegmentLengthSeconds  int           `env:"SEGMENT_LENGTH_SECONDS" envDefault:"300"`
	RequiredDiskSpaceMB  int           `env:"REQUIRED_DISK_SPACE_MB" envDefault:"1024"`
	HealthCSVInterval    time.Duration `env:"HEALTH_CSV_INTERVAL" envDefault:"5s"`

	// Export
	ShareMountPoint string        `env:"SHARE_MOUNT_POINT" envDefault:"/mnt/saviour-share"`
	ExportPort      int           `env:"EXPORT_PORT" envDefault:"9000"`
	ExportMaxBPS    int64         `env:"EXPORT_MAX_BPS" envDefault:"125000000"` // 1 Gbps default
	ExportBurstB    int64         `env:"EXPORT_BURST_BYTES" envDefault:"16777216"`
	ManifestEnabled bool          `env:"MANIFEST_ENABLED" envDefault:"true"`
	DeleteOnExport  bool          `env:"DELETE_ON_EXPORT" envDefault:"true"`

	// Health / lifecycle
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"30s"`
	HeartbeatTimeout  time.Duration `env:"HEARTBEAT_TIMEOUT" envDefault:"90s"`
	MonitorPeriod     time.Duration `env:"MONITOR_PERIOD" envDefault:"30s"`
	ReadyTTL          time.Duration `env:"READY_TTL" envDefault:"120s"`

	// TimeSync
	OffsetThresholdUS int           `env:"OFFSET_THRESHOLD_US" envDefault:"5000"`
	FreqThresholdPPB  int           `env:"FREQ_THRESHOLD_PPB" envDefault:"100000"`
	BaseRestartDelay  time.Duration `env:"TIMESYNC_BASE_DELAY" envDefault:"10s"`
	StabilizeWindow   time.Duration `env:"TIMESYNC_STABILIZE_WINDOW" envDefault:"60s"`
	TimesyncRole      string        `env:"TIMESYNC_ROLE" envDefault:"slave"` // "grandmaster" or "slave"

	// Controller-only: durable audit store
	DatabaseURL string `env:"DATABASE_URL"`

	// HTTP status/operator API (controller only)
	HTTPAddr       string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout    time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout   time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout    time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	AuthToken      string        `env:"AUTH_TOKEN"`
	AuthGenerated  bool          // set true when auto-generated
	RateLimitRPS   float64       `env:"RATE_LIMIT_RPS" envDefault:"20"`
	RateLimitBurst int           `env:"RATE_LIMIT_BURST" envDefault:"40"`
	MetricsEnabled bool          `env:"METRICS_ENABLED" envDefault:"true"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Overrides holds CLI flag values that take priority over environment variables.
type Overrides struct {
	EnvFile     string
	HTTPAddr    string
	LogLevel    string
	DatabaseURL string
	MQTTBrokerURL string
	ModuleName  string
	ModuleType  string
}

// Load reads configuration from an optional .env file, environment
// variables, and CLI overrides. Priority: CLI flags > environment variables
// > .env file > struct defaults — the same layering the teacher's
// config.Load implements.
func Load(overrides Overrides) (*Config, error) {
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}
	if overrides.MQTTBrokerURL != "" {
		cfg.MQTTBrokerURL = overrides.MQTTBrokerURL
	}
	if overrides.ModuleName != "" {
		cfg.ModuleName = overrides.ModuleName
	}
	if overrides.ModuleType != "" {
		cfg.ModuleType = overrides.ModuleType
	}

	if cfg.Role == "controller" && cfg.AuthToken == "" {
		b := make([]byte, 32)
		if _, err := rand.Read(b); err == nil {
			cfg.AuthToken = base64.URLEncoding.EncodeToString(b)
			cfg.AuthGenerated = true
		}
	}

	return cfg, nil
}

// Validate checks role-specific requirements.
func (c *Config) Validate() error {
	switch c.Role {
	case "controller":
		if !c.EmbedBroker && c.MQTTBrokerURL == "" {
			return fmt.Errorf("controller requires MQTT_BROKER_URL unless EMBED_BROKER=true")
		}
	case "module":
		if c.MQTTBrokerURL == "" {
			return fmt.Errorf("module requires MQTT_BROKER_URL")
		}
		if c.ModuleType == "" {
			return fmt.Errorf("module requires MODULE_TYPE")
		}
	default:
		return fmt.Errorf("SAVIOUR_ROLE must be \"controller\" or \"module\", got %q", c.Role)
	}
	return nil
}
