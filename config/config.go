package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const (
	KeyBackendInstance        = "backend.instance"
	KeyBackendTempoURL        = "backend.tempo_url"
	KeyStorageDB              = "storage.db"
	KeyDaemonListen           = "daemon.listen"
	KeyDaemonTickInterval     = "daemon.tick_interval"
	KeyDaemonLogFile          = "daemon.log_file"
	KeyDaemonLogMaxSizeMB     = "daemon.log_max_size_mb"
	KeyDaemonLogLevel         = "daemon.log_level"
	KeySyncReservationTimeout = "sync.reservation_timeout"
	KeySyncGuardWait          = "sync.guard_wait"
	KeySyncCacheTTL           = "sync.cache_ttl"
	KeySyncResponseTimeout    = "sync.response_timeout"
)

type Config struct {
	Backend BackendConfig `mapstructure:"backend" validate:"required"`
	Storage StorageConfig `mapstructure:"storage"`
	Daemon  DaemonConfig  `mapstructure:"daemon"`
	Sync    SyncConfig    `mapstructure:"sync"`
}

type BackendConfig struct {
	Instance string `mapstructure:"instance" validate:"required,oneof=cloud datacenter"`
	JiraURL  string `mapstructure:"jira_url" validate:"required,url"`
	TempoURL string `mapstructure:"tempo_url" validate:"omitempty,url"`
	// User is the Atlassian account id on cloud and the Jira user name on datacenter.
	User       string `mapstructure:"user" validate:"required"`
	Email      string `mapstructure:"email" validate:"required_if=Instance cloud"`
	APIToken   string `mapstructure:"api_token" validate:"required"`
	TempoToken string `mapstructure:"tempo_token" validate:"required_if=Instance cloud"`
	Timezone   string `mapstructure:"timezone"`
}

type StorageConfig struct {
	DB string `mapstructure:"db" validate:"required"`
}

type DaemonConfig struct {
	Listen       string        `mapstructure:"listen" validate:"required,hostname_port"`
	TickInterval time.Duration `mapstructure:"tick_interval" validate:"min=1s"`
	LogFile      string        `mapstructure:"log_file"`
	LogMaxSizeMB int           `mapstructure:"log_max_size_mb" validate:"min=1"`
	LogLevel     string        `mapstructure:"log_level" validate:"oneof=debug info warn error"`
}

type SyncConfig struct {
	ReservationTimeout time.Duration `mapstructure:"reservation_timeout" validate:"min=1s"`
	GuardWait          time.Duration `mapstructure:"guard_wait" validate:"min=10ms"`
	CacheTTL           time.Duration `mapstructure:"cache_ttl" validate:"min=1s"`
	ResponseTimeout    time.Duration `mapstructure:"response_timeout" validate:"min=1s"`
}

// Location resolves backend.timezone, falling back to the local zone.
func (c Config) Location() *time.Location {
	if strings.TrimSpace(c.Backend.Timezone) == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(strings.TrimSpace(c.Backend.Timezone))
	if err != nil {
		return time.Local
	}
	return loc
}

// DBPath returns storage.db with a leading ~ expanded.
func (c Config) DBPath() string {
	return ExpandPath(c.Storage.DB)
}

// SetDefaults sets default values if not provided
func SetDefaults() {
	setDefaults(viper.GetViper())
}

// LoadAndValidate loads config from Viper and validates it
func LoadAndValidate() (*Config, error) {
	return loadAndValidateFromViper(viper.GetViper())
}

// ValidateYAMLContent validates configuration from raw YAML content.
func ValidateYAMLContent(content []byte) (*Config, error) {
	local := viper.New()
	setDefaults(local)
	local.SetConfigType("yaml")
	if err := local.ReadConfig(bytes.NewReader(content)); err != nil {
		return nil, fmt.Errorf("read config content: %w", err)
	}
	return loadAndValidateFromViper(local)
}

// ExampleYAML returns the default configuration template.
func ExampleYAML() string {
	return `# gotrack configuration
backend:
  # cloud: Tempo Cloud + Jira Cloud, datacenter: Tempo Timesheets on Jira Data Center
  instance: "cloud"
  jira_url: "https://your-company.atlassian.net"
  # Atlassian account id (cloud) or Jira user name (datacenter)
  user: ""
  # Jira login e-mail, cloud only
  email: ""
  # Jira API token (cloud) or password / personal access token (datacenter)
  api_token: ""
  # Tempo API token, cloud only
  tempo_token: ""
  timezone: ""

storage:
  db: "~/.gotrack.db"

daemon:
  listen: "127.0.0.1:47615"
  tick_interval: "1m"
  log_file: "~/.gotrack/daemon.log"
  log_max_size_mb: 10
  log_level: "info"

sync:
  reservation_timeout: "60s"
  guard_wait: "5s"
  cache_ttl: "15m"
  response_timeout: "60s"
`
}

func loadAndValidateFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.Backend.Instance = strings.ToLower(strings.TrimSpace(cfg.Backend.Instance))

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	if tz := strings.TrimSpace(cfg.Backend.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return nil, fmt.Errorf("validation failed: backend.timezone %q: %w", tz, err)
		}
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyBackendInstance, "cloud")
	v.SetDefault(KeyBackendTempoURL, "https://api.tempo.io/4")
	v.SetDefault(KeyStorageDB, "~/.gotrack.db")
	v.SetDefault(KeyDaemonListen, "127.0.0.1:47615")
	v.SetDefault(KeyDaemonTickInterval, time.Minute)
	v.SetDefault(KeyDaemonLogFile, "")
	v.SetDefault(KeyDaemonLogMaxSizeMB, 10)
	v.SetDefault(KeyDaemonLogLevel, "info")
	v.SetDefault(KeySyncReservationTimeout, 60*time.Second)
	v.SetDefault(KeySyncGuardWait, 5*time.Second)
	v.SetDefault(KeySyncCacheTTL, 15*time.Minute)
	v.SetDefault(KeySyncResponseTimeout, 60*time.Second)
}

// ExpandPath expands a leading ~ in user supplied paths.
func ExpandPath(path string) string {
	path = strings.TrimSpace(path)
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
