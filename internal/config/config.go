// Package config loads welletl settings from an optional YAML file with
// environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config is the full welletl configuration. Environment variables override
// YAML values; CLI flags override both.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Source   SourceConfig   `yaml:"source"`
	Mirror   MirrorConfig   `yaml:"mirror"`
	Curated  CuratedConfig  `yaml:"curated"`
	Link     LinkConfig     `yaml:"link"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
}

// DatabaseConfig selects the storage backend.
type DatabaseConfig struct {
	// Kind is postgres, sqlite or mssql (mssql: mirror only).
	Kind           string        `yaml:"kind" env:"WELLETL_DB_KIND" env-default:"postgres"`
	URL            string        `yaml:"-" env:"WELLETL_DATABASE_URL"` // Secret - not in YAML
	MaxConnections int32         `yaml:"max_connections" env:"WELLETL_DB_MAX_CONNECTIONS" env-default:"4"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"WELLETL_DB_CONNECT_TIMEOUT" env-default:"30s"`
}

// SourceConfig describes the input directory and its text format.
type SourceConfig struct {
	Dir       string `yaml:"dir" env:"WELLETL_SOURCE_DIR"`
	Encoding  string `yaml:"encoding" env:"WELLETL_SOURCE_ENCODING" env-default:"latin1"`
	Delimiter string `yaml:"delimiter" env:"WELLETL_SOURCE_DELIMITER" env-default:"|"`
}

type MirrorConfig struct {
	Schema string `yaml:"schema" env:"WELLETL_MIRROR_SCHEMA" env-default:"sdr_raw"`
}

// CuratedConfig controls the curated load.
type CuratedConfig struct {
	Aliases   string `yaml:"aliases" env:"WELLETL_ALIASES"`
	BatchSize int    `yaml:"batch_size" env:"WELLETL_BATCH_SIZE" env-default:"1000"`

	// Coordinates outside this box are stored as null. Defaults cover Texas.
	MinLat float64 `yaml:"min_lat" env:"WELLETL_MIN_LAT" env-default:"25"`
	MaxLat float64 `yaml:"max_lat" env:"WELLETL_MAX_LAT" env-default:"37"`
	MinLon float64 `yaml:"min_lon" env:"WELLETL_MIN_LON" env-default:"-107"`
	MaxLon float64 `yaml:"max_lon" env:"WELLETL_MAX_LON" env-default:"-93"`
}

type LinkConfig struct {
	RadiusM float64 `yaml:"radius_m" env:"WELLETL_LINK_RADIUS_M" env-default:"50"`
}

// MetricsConfig selects the metrics backend: none, datadog or pushgateway.
type MetricsConfig struct {
	Backend        string `yaml:"backend" env:"METRICS_BACKEND" env-default:"none"`
	PushgatewayURL string `yaml:"pushgateway_url" env:"PUSHGATEWAY_URL" env-default:"http://localhost:9091"`
	Tags           string `yaml:"tags" env:"METRICS_TAGS"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"WELLETL_LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"WELLETL_LOG_FORMAT" env-default:"json"`
}

// Load reads path (YAML) with environment overrides. An empty path reads the
// environment and defaults only.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path == "" {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("config: read env: %w", err)
		}
		return cfg, nil
	}
	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return cfg, nil
}

// DelimiterRune returns the delimiter as a rune, or '|' when it is not a single
// character (Validate reports that case).
func (s SourceConfig) DelimiterRune() rune {
	r := []rune(s.Delimiter)
	if len(r) != 1 {
		return '|'
	}
	return r[0]
}

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding; Path is the YAML path of the field.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string { return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message) }

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Validate checks the fields every command relies on. Command-specific
// requirements (source dir, aliases path) are checked by the command.
func (c *Config) Validate() []Issue {
	var out []Issue
	add := func(sev Severity, path, format string, args ...any) {
		out = append(out, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, args...)})
	}

	switch c.Database.Kind {
	case "postgres", "sqlite", "mssql":
	default:
		add(SeverityError, "database.kind", "unknown kind %q (want postgres, sqlite or mssql)", c.Database.Kind)
	}
	if c.Database.MaxConnections < 0 {
		add(SeverityError, "database.max_connections", "must be >= 0")
	}
	if c.Database.ConnectTimeout <= 0 {
		add(SeverityWarning, "database.connect_timeout", "non-positive timeout disables the connect deadline")
	}

	switch strings.ToLower(c.Source.Encoding) {
	case "latin1", "windows-1252", "utf-8":
	default:
		add(SeverityError, "source.encoding", "unsupported encoding %q", c.Source.Encoding)
	}
	if len([]rune(c.Source.Delimiter)) != 1 {
		add(SeverityError, "source.delimiter", "must be exactly one character, got %q", c.Source.Delimiter)
	}

	if strings.TrimSpace(c.Mirror.Schema) == "" {
		add(SeverityError, "mirror.schema", "must not be empty")
	}

	if c.Curated.BatchSize <= 0 {
		add(SeverityError, "curated.batch_size", "must be > 0")
	} else if c.Curated.BatchSize > 10000 {
		add(SeverityWarning, "curated.batch_size", "%d is unusually large", c.Curated.BatchSize)
	}
	if c.Curated.MinLat >= c.Curated.MaxLat || c.Curated.MinLon >= c.Curated.MaxLon {
		add(SeverityError, "curated", "coordinate bounding box is empty")
	}

	if c.Link.RadiusM <= 0 {
		add(SeverityError, "link.radius_m", "must be > 0")
	}

	switch c.Metrics.Backend {
	case "", "none", "datadog":
	case "pushgateway":
		if c.Metrics.PushgatewayURL == "" {
			add(SeverityError, "metrics.pushgateway_url", "required for the pushgateway backend")
		}
	default:
		add(SeverityError, "metrics.backend", "unknown backend %q", c.Metrics.Backend)
	}

	switch strings.ToLower(c.Log.Format) {
	case "", "json", "console":
	default:
		add(SeverityError, "log.format", "unknown format %q", c.Log.Format)
	}
	return out
}
