package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"examcal/internal/fsutil"
	"examcal/internal/ics"
	appLog "examcal/internal/log"
)

// SourceConfig describes where the exam schedule comes from.
type SourceConfig struct {
	// Location is a local file path or an http(s) URL.
	Location string `yaml:"location" json:"location"`
	// Delimiter is the single field separator character (default ",").
	Delimiter string `yaml:"delimiter" json:"delimiter"`
	// CacheDir holds the last fetched copy of a remote source.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`
	// Refresh is a standard 5-field cron expression for reloading the
	// source (e.g. "0 */6 * * *"). Empty disables periodic reloads.
	Refresh string `yaml:"refresh" json:"refresh"`
}

// StoreConfig selects the selection store backend.
type StoreConfig struct {
	// Driver is "sqlite" (default) or "file".
	Driver string `yaml:"driver" json:"driver"`
	Path   string `yaml:"path" json:"path"`
}

// ExportConfig controls the calendar export.
type ExportConfig struct {
	ProductID string `yaml:"prod_id" json:"prod_id"`
	// PathPrefix is the URL prefix of export links, e.g. "/ics-export/".
	PathPrefix string `yaml:"path_prefix" json:"path_prefix"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the /api endpoints.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone in which exam times are read (e.g.
	// "Europe/Berlin").
	Timezone string `yaml:"timezone" json:"timezone"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	Source SourceConfig `yaml:"source" json:"source"`
	Store  StoreConfig  `yaml:"store" json:"store"`
	Export ExportConfig `yaml:"export" json:"export"`

	// BasicAuth, if set, guards /api/*. Health and export links stay open
	// so calendar clients can subscribe.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen     = "127.0.0.1:8080"
	defaultTimezone   = "Europe/Berlin"
	defaultLogLevel   = "info"
	defaultSource     = "./data/klausuren.csv"
	defaultCacheDir   = "./var/source-cache"
	defaultStorePath  = "./data/users-storage.db"
	defaultPathPrefix = "/ics-export/"
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:   defaultListen,
		Timezone: defaultTimezone,
		LogLevel: defaultLogLevel,
		Source: SourceConfig{
			Location:  defaultSource,
			Delimiter: ",",
			CacheDir:  defaultCacheDir,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   defaultStorePath,
		},
		Export: ExportConfig{
			ProductID:  ics.DefaultProductID,
			PathPrefix: defaultPathPrefix,
		},
	}
}

// Normalize fills in missing values so that partially filled configs still
// behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.Source.Location == "" {
		c.Source.Location = defaultSource
	}
	if c.Source.Delimiter == "" {
		c.Source.Delimiter = ","
	}
	if c.Source.CacheDir == "" {
		c.Source.CacheDir = defaultCacheDir
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	if c.Store.Path == "" {
		c.Store.Path = defaultStorePath
	}
	if c.Export.ProductID == "" {
		c.Export.ProductID = ics.DefaultProductID
	}
	if c.Export.PathPrefix == "" {
		c.Export.PathPrefix = defaultPathPrefix
	}
	c.Export.PathPrefix = NormalizePathPrefix(c.Export.PathPrefix)
}

// NormalizePathPrefix makes p an absolute URL path ending in "/", so that
// "ics-export" and "/ics-export" both become "/ics-export/".
func NormalizePathPrefix(p string) string {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// Validate reports settings that cannot be defaulted away.
func (c *Config) Validate() error {
	if utf8.RuneCountInString(c.Source.Delimiter) != 1 {
		return fmt.Errorf("source.delimiter must be a single character, got %q", c.Source.Delimiter)
	}
	if c.Source.Refresh != "" {
		if _, err := cron.ParseStandard(c.Source.Refresh); err != nil {
			return fmt.Errorf("source.refresh: %w", err)
		}
	}
	switch c.Store.Driver {
	case "sqlite", "file":
	default:
		return fmt.Errorf("store.driver must be sqlite or file, got %q", c.Store.Driver)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone: %w", err)
	}
	return nil
}

// DelimiterRune returns the configured field separator.
func (c *Config) DelimiterRune() rune {
	r, _ := utf8.DecodeRuneInString(c.Source.Delimiter)
	if r == utf8.RuneError {
		return ','
	}
	return r
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", c.Timezone)
		return time.Local
	}
	return loc
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written there
//     (0600) and returned.
//   - Otherwise the YAML is decoded, normalized and validated.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Still hand back the defaults so the caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save normalizes cfg and writes it atomically with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(path, data, 0o600)
}
