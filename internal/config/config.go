package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration
type Config struct {
	General       GeneralConfig       `toml:"general"`
	Tool          ToolConfig          `toml:"tool"`
	Conversion    ConversionConfig    `toml:"conversion"`
	Visualization VisualizationConfig `toml:"visualization"`
	Host          HostConfig          `toml:"host"`
	Batch         BatchConfig         `toml:"batch"`
	Notifications NotificationsConfig `toml:"notifications"`
}

// GeneralConfig holds general settings
type GeneralConfig struct {
	WorkRoot     string `toml:"work_root"`
	StoreDir     string `toml:"store_dir"`
	DatabasePath string `toml:"database_path"`
	AuditLogPath string `toml:"audit_log_path"`
	CatalogPath  string `toml:"catalog_path"`
}

// ToolConfig holds segmentation tool settings
type ToolConfig struct {
	Interpreter    string `toml:"interpreter"`
	VirtualEnv     string `toml:"virtual_env"`
	Task           string `toml:"task"`
	Device         string `toml:"device"`
	UseFast        bool   `toml:"use_fast"`
	LicenseKey     string `toml:"license_key"`
	AdditionalArgs string `toml:"additional_args"`
}

// ConversionConfig gates the NIfTI to RT-Struct branch
type ConversionConfig struct {
	EnableNIfTI bool `toml:"enable_nifti"`
}

// VisualizationConfig controls the host task completion poll
type VisualizationConfig struct {
	PollIntervalMs int `toml:"poll_interval_ms"`
	PollTimeoutS   int `toml:"poll_timeout_s"`
}

// PollInterval returns the interval as a duration.
func (c VisualizationConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// PollTimeout returns the timeout as a duration.
func (c VisualizationConfig) PollTimeout() time.Duration {
	return time.Duration(c.PollTimeoutS) * time.Second
}

// HostConfig points at the imaging host's plugin socket. Empty means
// headless: imports land in a local file store.
type HostConfig struct {
	BridgeURL string `toml:"bridge_url"`
}

// BatchConfig holds watch-folder settings
type BatchConfig struct {
	WatchDir     string `toml:"watch_dir"`
	CronSchedule string `toml:"cron_schedule"`
	SettleMs     int    `toml:"settle_ms"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".segrunner")
	return &Config{
		General: GeneralConfig{
			WorkRoot:     os.TempDir(),
			StoreDir:     filepath.Join(base, "store"),
			DatabasePath: filepath.Join(base, "runs.db"),
			AuditLogPath: filepath.Join(base, "audit.ndjson"),
			CatalogPath:  filepath.Join(base, "classes.yaml"),
		},
		Tool: ToolConfig{
			Task: "total",
		},
		Visualization: VisualizationConfig{
			PollIntervalMs: 250,
			PollTimeoutS:   30,
		},
		Batch: BatchConfig{
			CronSchedule: "@every 1m",
			SettleMs:     2000,
		},
		Notifications: NotificationsConfig{
			Desktop: true,
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// Expand paths
	cfg.General.WorkRoot = ExpandPath(cfg.General.WorkRoot)
	cfg.General.StoreDir = ExpandPath(cfg.General.StoreDir)
	cfg.General.DatabasePath = ExpandPath(cfg.General.DatabasePath)
	cfg.General.AuditLogPath = ExpandPath(cfg.General.AuditLogPath)
	cfg.General.CatalogPath = ExpandPath(cfg.General.CatalogPath)
	cfg.Tool.Interpreter = ExpandPath(cfg.Tool.Interpreter)
	cfg.Tool.VirtualEnv = ExpandPath(cfg.Tool.VirtualEnv)
	cfg.Batch.WatchDir = ExpandPath(cfg.Batch.WatchDir)

	return cfg, nil
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
	return filepath.Join(home, ".config", "segrunner", "config.toml")
}
