package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hochfrequenz/posterbadge/internal/sweeper"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "POSTERBADGE_"

// Config holds all application configuration
type Config struct {
	General       GeneralConfig       `toml:"general"`
	Web           WebConfig           `toml:"web"`
	Engine        EngineConfig        `toml:"engine"`
	MediaServer   MediaServerConfig   `toml:"media_server"`
	Orchestrator  OrchestratorConfig  `toml:"orchestrator"`
	Progress      ProgressConfig      `toml:"progress"`
	Maintenance   MaintenanceConfig   `toml:"maintenance"`
	Notifications NotificationsConfig `toml:"notifications"`
	Badges        BadgesConfig        `toml:"badges"`
}

// GeneralConfig holds general settings
type GeneralConfig struct {
	DatabasePath string `toml:"database_path"`
	DebugDir     string `toml:"debug_dir"`
}

// WebConfig holds the HTTP server settings
type WebConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// EngineConfig points at the badge rendering service
type EngineConfig struct {
	URL     string   `toml:"url"`
	Token   string   `toml:"token"`
	Timeout Duration `toml:"timeout"`
}

// MediaServerConfig points at the media server holding the libraries
type MediaServerConfig struct {
	URL    string `toml:"url"`
	Token  string `toml:"token"`
	Marker string `toml:"marker_label"`
	// TagConcurrency bounds parallel label lookups while reconciling
	TagConcurrency int `toml:"tag_concurrency"`
}

// OrchestratorConfig controls job dispatch and recovery
type OrchestratorConfig struct {
	MaxConcurrentJobs int      `toml:"max_concurrent_jobs"`
	PollInterval      Duration `toml:"poll_interval"`
	HeartbeatInterval Duration `toml:"heartbeat_interval"`
	PickupWindow      Duration `toml:"pickup_window"`
	OrphanWindow      Duration `toml:"orphan_window"`
}

// ProgressConfig controls the live progress channels
type ProgressConfig struct {
	ReconcileInterval Duration `toml:"reconcile_interval"`
	PingInterval      Duration `toml:"ping_interval"`
	SubscriberBuffer  int      `toml:"subscriber_buffer"`
	RetryDelay        Duration `toml:"retry_delay"`
	RetryAttempts     int      `toml:"retry_attempts"`
}

// MaintenanceConfig holds the sweeper schedules
type MaintenanceConfig struct {
	StuckCheck         string `toml:"stuck_check"`
	DebugCleanup       string `toml:"debug_cleanup"`
	AutoRestartStuck   bool   `toml:"auto_restart_stuck"`
	DebugRetentionDays int    `toml:"debug_retention_days"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// BadgesConfig locates the preset file
type BadgesConfig struct {
	PresetsFile string `toml:"presets_file"`
	Watch       bool   `toml:"watch"`
}

// Duration is a time.Duration written as a string such as "30s" or "5m"
type Duration struct {
	time.Duration
}

// UnmarshalText parses a duration string
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText formats the duration
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".posterbadge")
	return &Config{
		General: GeneralConfig{
			DatabasePath: filepath.Join(dataDir, "jobs.db"),
			DebugDir:     filepath.Join(dataDir, "debug"),
		},
		Web: WebConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
		Engine: EngineConfig{
			URL:     "http://127.0.0.1:8090",
			Timeout: Duration{60 * time.Second},
		},
		MediaServer: MediaServerConfig{
			Marker:         "posterbadge",
			TagConcurrency: 8,
		},
		Orchestrator: OrchestratorConfig{
			MaxConcurrentJobs: 2,
			PollInterval:      Duration{5 * time.Second},
			HeartbeatInterval: Duration{30 * time.Second},
			PickupWindow:      Duration{5 * time.Minute},
			OrphanWindow:      Duration{10 * time.Minute},
		},
		Progress: ProgressConfig{
			ReconcileInterval: Duration{10 * time.Second},
			PingInterval:      Duration{30 * time.Second},
			SubscriberBuffer:  64,
			RetryDelay:        Duration{3 * time.Second},
			RetryAttempts:     5,
		},
		Maintenance: MaintenanceConfig{
			StuckCheck:         "*/5 * * * *",
			DebugCleanup:       "0 3 * * *",
			DebugRetentionDays: 7,
		},
		Notifications: NotificationsConfig{
			Desktop: true,
		},
		Badges: BadgesConfig{
			PresetsFile: filepath.Join(home, ".config", "posterbadge", "presets.yaml"),
			Watch:       true,
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults, and
// applies POSTERBADGE_* environment overrides
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	// Expand paths
	cfg.General.DatabasePath = ExpandPath(cfg.General.DatabasePath)
	cfg.General.DebugDir = ExpandPath(cfg.General.DebugDir)
	cfg.Badges.PresetsFile = ExpandPath(cfg.Badges.PresetsFile)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that have no usable fallback
func (c *Config) Validate() error {
	if c.Web.Port <= 0 || c.Web.Port > 65535 {
		return fmt.Errorf("web.port %d out of range", c.Web.Port)
	}
	if c.Orchestrator.MaxConcurrentJobs < 1 {
		return fmt.Errorf("orchestrator.max_concurrent_jobs must be at least 1")
	}
	if c.General.DatabasePath == "" {
		return fmt.Errorf("general.database_path is required")
	}
	if c.Maintenance.StuckCheck != "" {
		if _, err := sweeper.ParseCron(c.Maintenance.StuckCheck); err != nil {
			return fmt.Errorf("maintenance.stuck_check: %w", err)
		}
	}
	if c.Maintenance.DebugCleanup != "" {
		if _, err := sweeper.ParseCron(c.Maintenance.DebugCleanup); err != nil {
			return fmt.Errorf("maintenance.debug_cleanup: %w", err)
		}
	}
	return nil
}

// Addr returns the listen address of the HTTP server
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Web.Host, strconv.Itoa(c.Web.Port))
}

// ServerURL returns the base URL clients use to reach the server
func (c *Config) ServerURL() string {
	host := c.Web.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(c.Web.Port))
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"DATABASE_PATH":      &c.General.DatabasePath,
		"DEBUG_DIR":          &c.General.DebugDir,
		"WEB_HOST":           &c.Web.Host,
		"ENGINE_URL":         &c.Engine.URL,
		"ENGINE_TOKEN":       &c.Engine.Token,
		"MEDIA_SERVER_URL":   &c.MediaServer.URL,
		"MEDIA_SERVER_TOKEN": &c.MediaServer.Token,
		"SLACK_WEBHOOK":      &c.Notifications.SlackWebhook,
		"PRESETS_FILE":       &c.Badges.PresetsFile,
	}
	for key, dst := range strs {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"WEB_PORT":            &c.Web.Port,
		"MAX_CONCURRENT_JOBS": &c.Orchestrator.MaxConcurrentJobs,
	}
	for key, dst := range ints {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = n
	}
	return nil
}

// LoadDotEnv loads the first .env file found in dir or up to four parent
// directories. Variables already set in the environment win.
func LoadDotEnv(dir string) (string, error) {
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			return envPath, godotenv.Load(envPath)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", nil
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "posterbadge", "config.toml")
}
