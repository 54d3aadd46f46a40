package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"freecal/internal/ics"
)

// NOTE: the YAML file is the source of truth; FREECAL_* environment
// variables (optionally from a .env file) override it at load time and are
// never written back by Save.

// SourceConfig describes one calendar to import.
type SourceConfig struct {
	// ID is an internal identifier used in logs and error reports.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
	// Path is a local .ics file. Takes precedence over URL.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
	// URL is an ICS subscription endpoint.
	URL string `yaml:"url,omitempty" json:"url,omitempty"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone labels the computed day (e.g. "America/New_York"). It is
	// written into emitted calendars and used to pick "today"; no
	// conversion is applied to event times.
	Timezone string `yaml:"timezone" json:"timezone"`

	// Env selects the log format: "production" or "development".
	Env string `yaml:"env" json:"env"`

	// LogLevel is DEBUG, INFO or ERROR.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *")
	// for rewriting Output in serve mode.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// Output is where the free-time calendar is written.
	Output string `yaml:"output" json:"output"`

	// CacheDir holds cached subscription bodies.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// ProdID is written as PRODID in emitted calendars.
	ProdID string `yaml:"prod_id" json:"prod_id"`

	// StrictDate skips events dated on another day than the one computed.
	StrictDate bool `yaml:"strict_date" json:"strict_date"`

	// Sources is the list of calendars to import.
	Sources []SourceConfig `yaml:"sources" json:"sources"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      "127.0.0.1:8080",
		Timezone:    "UTC",
		Env:         "development",
		LogLevel:    "INFO",
		RefreshCron: "*/15 * * * *",
		Output:      "./var/free.ics",
		CacheDir:    "./var/ics-cache",
		ProdID:      ics.DefaultProdID,
		Sources:     []SourceConfig{},
		BasicAuth:   nil,
	}
}

// Normalize fills in missing/zero values with defaults so that partially
// filled configs still behave.
func (c *Config) Normalize() {
	d := DefaultConfig()
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	switch c.Env {
	case "production", "development":
	default:
		c.Env = d.Env
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.RefreshCron == "" {
		c.RefreshCron = d.RefreshCron
	}
	if c.Output == "" {
		c.Output = d.Output
	}
	if c.CacheDir == "" {
		c.CacheDir = d.CacheDir
	}
	if c.ProdID == "" {
		c.ProdID = d.ProdID
	}
	if c.Sources == nil {
		c.Sources = []SourceConfig{}
	}
}

// ApplyEnv loads envFile (if it exists) into the process environment and
// overrides fields from FREECAL_* variables.
func (c *Config) ApplyEnv(envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	overrides := map[string]*string{
		"FREECAL_LISTEN":    &c.Listen,
		"FREECAL_TIMEZONE":  &c.Timezone,
		"FREECAL_ENV":       &c.Env,
		"FREECAL_LOG_LEVEL": &c.LogLevel,
		"FREECAL_OUTPUT":    &c.Output,
		"FREECAL_REFRESH":   &c.RefreshCron,
	}
	for key, field := range overrides {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*field = v
		}
	}
	c.Normalize()
	return nil
}

// IcsSources converts the configured sources for the loader, deriving
// missing IDs from name, path or URL.
func (c *Config) IcsSources() []ics.Source {
	out := make([]ics.Source, 0, len(c.Sources))
	for _, s := range c.Sources {
		if s.Path == "" && s.URL == "" {
			continue
		}
		id := s.ID
		switch {
		case id != "":
		case s.Name != "":
			id = s.Name
		case s.Path != "":
			id = s.Path
		default:
			id = s.URL
		}
		out = append(out, ics.Source{ID: id, Name: s.Name, Path: s.Path, URL: s.URL})
	}
	return out
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the YAML is read, unmarshalled and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
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

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory (0700) if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".freecal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method delegating to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
