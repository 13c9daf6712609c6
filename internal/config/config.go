// Package config holds the JSON configuration of an import run.
//
// A config file is decoded into Import, environment placeholders in the DSN
// are expanded (after loading an optional .env file), defaults are applied
// and Validate reports problems as a list of issues rather than failing on
// the first one.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Import is the top-level configuration of one import run.
type Import struct {
	Job     string  `json:"job"`
	Source  Source  `json:"source"`
	Storage Storage `json:"storage"`
	Logging Logging `json:"logging"`
	Metrics Metrics `json:"metrics"`
}

// Source describes the order-history file.
type Source struct {
	Path       string `json:"path"`
	Comma      string `json:"comma,omitempty"`
	LazyQuotes bool   `json:"lazy_quotes,omitempty"`

	// DateLayout is a Go time layout; empty means day-month-year.
	DateLayout string `json:"date_layout,omitempty"`

	// NullMarkers replaces the default null-like strings when non-nil.
	NullMarkers []string `json:"null_markers,omitempty"`
}

type Storage struct {
	// Kind is one of "postgres", "sqlite", "mysql", "mssql".
	Kind string `json:"kind"`
	DSN  string `json:"dsn"`

	// AutoCreateSchema creates missing tables before the run. Existing
	// tables are never altered.
	AutoCreateSchema bool `json:"auto_create_schema,omitempty"`
}

type Logging struct {
	File  string `json:"file,omitempty"`
	Level string `json:"level,omitempty"`
}

type Metrics struct {
	// Backend is "pushgateway", "datadog" or "none".
	Backend        string   `json:"backend,omitempty"`
	PushgatewayURL string   `json:"pushgateway_url,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	FlushEvery     Duration `json:"flush_every,omitempty"`
}

// Duration decodes from a Go duration string ("30s") or a number of seconds.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if s == "" {
			*d = 0
			return nil
		}
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}
	var secs float64
	if err := json.Unmarshal(b, &secs); err != nil {
		return fmt.Errorf("duration must be a string or number of seconds: %s", string(b))
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Defaults.
const (
	DefaultJob            = "lemon_import"
	DefaultMetricsBackend = "none"
	DefaultPushgatewayURL = "http://localhost:9091"
	DefaultFlushEvery     = 60 * time.Second
)

// KnownStorageKinds lists the storage backends the binary is built with.
var KnownStorageKinds = []string{"postgres", "sqlite", "mysql", "mssql"}

// KnownMetricsBackends lists the accepted values of metrics.backend.
var KnownMetricsBackends = []string{"pushgateway", "datadog", "none"}

// Load reads the JSON file at path.
//
// envFile is loaded first (a missing file is ignored) so that ${VAR}
// placeholders in storage.dsn resolve from it; variables already set in the
// process environment win. Defaults are applied to the result.
func Load(path, envFile string) (Import, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Import{}, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return Import{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	var cfg Import
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Import{}, fmt.Errorf("decode config %s: %w", path, err)
	}

	cfg.Storage.DSN = os.ExpandEnv(cfg.Storage.DSN)
	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults fills unset optional fields.
func (c *Import) ApplyDefaults() {
	if c.Job == "" {
		c.Job = DefaultJob
	}
	c.Storage.Kind = strings.ToLower(strings.TrimSpace(c.Storage.Kind))
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Metrics.Backend == "" {
		c.Metrics.Backend = DefaultMetricsBackend
	}
	if c.Metrics.Backend == "pushgateway" && c.Metrics.PushgatewayURL == "" {
		c.Metrics.PushgatewayURL = DefaultPushgatewayURL
	}
	if c.Metrics.FlushEvery <= 0 {
		c.Metrics.FlushEvery = Duration(DefaultFlushEvery)
	}
}

// CommaRune returns the field delimiter; empty means ','.
func (s Source) CommaRune() rune {
	if s.Comma == "" {
		return ','
	}
	if s.Comma == `\t` {
		return '\t'
	}
	return []rune(s.Comma)[0]
}
