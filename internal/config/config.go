// Package config loads bimsync settings from an optional YAML file and
// BIMSYNC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// EnvConfigPath overrides the config file location.
const EnvConfigPath = "BIMSYNC_CONFIG"

// Config holds all settings of the command line client.
type Config struct {
	ServerURL        string        `yaml:"server_url" env:"BIMSYNC_SERVER_URL" env-default:"http://localhost:8080" env-description:"BINA cloud API base URL"`
	UserAgent        string        `yaml:"user_agent" env:"BIMSYNC_USER_AGENT" env-default:"NavisBinaSync/1.0" env-description:"client identifier sent on every request"`
	SkipProxyWarning bool          `yaml:"skip_proxy_warning" env:"BIMSYNC_SKIP_PROXY_WARNING" env-default:"true" env-description:"send the tunnelling proxy bypass header"`
	APITimeout       time.Duration `yaml:"api_timeout" env:"BIMSYNC_API_TIMEOUT" env-default:"30s" env-description:"timeout of listing and metadata calls"`
	TransferTimeout  time.Duration `yaml:"transfer_timeout" env:"BIMSYNC_TRANSFER_TIMEOUT" env-default:"5m" env-description:"timeout of one file download or report upload"`

	LogLevel  string `yaml:"log_level" env:"BIMSYNC_LOG_LEVEL" env-default:"info" env-description:"debug, info, warn or error"`
	LogFormat string `yaml:"log_format" env:"BIMSYNC_LOG_FORMAT" env-default:"console" env-description:"console or json"`
	LogFile   string `yaml:"log_file" env:"BIMSYNC_LOG_FILE" env-description:"log destination, stderr when empty"`

	StatePath   string `yaml:"state_path" env:"BIMSYNC_STATE_PATH" env-description:"session state file, defaults to the user config dir"`
	HistoryPath string `yaml:"history_path" env:"BIMSYNC_HISTORY_PATH" env-description:"run history database, defaults to the user config dir"`

	MetricsAddr   string        `yaml:"metrics_addr" env:"BIMSYNC_METRICS_ADDR" env-default:":9090" env-description:"listen address of /metrics and /events in watch mode"`
	WatchInterval time.Duration `yaml:"watch_interval" env:"BIMSYNC_WATCH_INTERVAL" env-default:"15m" env-description:"interval between runs in watch mode"`

	Mirror MirrorConfig `yaml:"mirror" env-prefix:"BIMSYNC_MIRROR_"`
}

// MirrorConfig selects where successfully downloaded files are replicated.
// An empty Type disables mirroring.
type MirrorConfig struct {
	Type       string   `yaml:"type" env:"TYPE" env-description:"empty, local or s3"`
	LocalRoot  string   `yaml:"local_root" env:"LOCAL_ROOT" env-description:"root directory of the local mirror"`
	CreateDirs bool     `yaml:"create_dirs" env:"CREATE_DIRS" env-default:"true" env-description:"create the local mirror root when missing"`
	S3         S3Config `yaml:"s3" env-prefix:"S3_"`
}

// S3Config holds S3-compatible mirror settings.
type S3Config struct {
	Endpoint  string `yaml:"endpoint" env:"ENDPOINT" env-description:"S3 endpoint URL, AWS when empty"`
	Bucket    string `yaml:"bucket" env:"BUCKET" env-description:"bucket name"`
	AccessKey string `yaml:"access_key" env:"ACCESS_KEY" env-description:"static access key, default chain when empty"`
	SecretKey string `yaml:"secret_key" env:"SECRET_KEY" env-description:"static secret key"`
	Region    string `yaml:"region" env:"REGION" env-default:"us-east-1" env-description:"bucket region"`
	Prefix    string `yaml:"prefix" env:"PREFIX" env-default:"bimsync" env-description:"key prefix"`
}

// DefaultPath returns the config file location: $BIMSYNC_CONFIG, or
// config.yaml in the user config directory.
func DefaultPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return filepath.Join(Dir(), "config.yaml")
}

// Dir returns the bimsync directory under the user config directory.
func Dir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "bimsync")
}

// Load reads path when it exists, applies environment overrides and
// defaults, and validates the result. A missing file is not an error.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := cleanenv.ReadConfig(path, &cfg); err != nil {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat config %s: %w", path, err)
		} else if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("read config from env: %w", err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read config from env: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.StatePath == "" {
		c.StatePath = filepath.Join(Dir(), "state.json")
	}
	if c.HistoryPath == "" {
		c.HistoryPath = filepath.Join(Dir(), "history.db")
	}
}

// Validate checks the settings that cannot be defaulted.
func (c *Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid server_url %q", c.ServerURL)
	}
	if c.APITimeout <= 0 {
		return fmt.Errorf("api_timeout must be positive")
	}
	if c.TransferTimeout <= 0 {
		return fmt.Errorf("transfer_timeout must be positive")
	}
	if c.WatchInterval <= 0 {
		return fmt.Errorf("watch_interval must be positive")
	}
	switch c.Mirror.Type {
	case "":
	case "local":
		if c.Mirror.LocalRoot == "" {
			return fmt.Errorf("mirror.local_root is required for the local mirror")
		}
	case "s3":
		if c.Mirror.S3.Bucket == "" {
			return fmt.Errorf("mirror.s3.bucket is required for the s3 mirror")
		}
	default:
		return fmt.Errorf("unknown mirror type %q", c.Mirror.Type)
	}
	return nil
}

// Describe returns the environment variable reference.
func Describe() string {
	var cfg Config
	text, err := cleanenv.GetDescription(&cfg, nil)
	if err != nil {
		return err.Error()
	}
	return text
}
