package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/cognicore/sfindex/internal/logger"
	"github.com/cognicore/sfindex/pkg/sfindex/internalerr"
	"github.com/cognicore/sfindex/pkg/sfindex/stoplist"
)

// EnvPrefix prefixes every environment override, e.g. SFINDEX_ENDPOINT.
const EnvPrefix = "SFINDEX_"

// Load builds a configuration from defaults, an optional YAML file, an
// optional .env file and the process environment, in increasing precedence.
// Command-line flags are applied by the caller on top of the result.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		var err error
		if cfg, err = LoadFile(path, cfg); err != nil {
			return Config{}, err
		}
	}

	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, using system environment variables")
	}
	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile overlays the YAML file at path on base. Keys absent from the
// file keep their value from base.
func LoadFile(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %s: %v", internalerr.ErrInvalidConfig, path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with SFINDEX_* variables found through lookup.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	var errs []error
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(EnvPrefix + key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %v", EnvPrefix, key, err))
				return
			}
			*dst = b
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(EnvPrefix + key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %v", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := lookup(EnvPrefix + key); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %v", EnvPrefix, key, err))
				return
			}
			*dst = f
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %v", EnvPrefix, key, err))
				return
			}
			*dst = d
		}
	}

	str("BASE_DIR", &cfg.BaseDir)
	str("INDEX_DIR", &cfg.IndexDir)
	str("ENDPOINT", &cfg.Endpoint)
	str("GRAPH", &cfg.Graph)
	str("LANGUAGE", &cfg.Language)
	str("CANONICAL_LANGUAGE", &cfg.CanonicalLanguage)
	str("STOPLIST", &cfg.StoplistPath)
	str("METRICS_FILE", &cfg.MetricsFile)
	boolean("OVERWRITE_INDEX", &cfg.OverwriteIndex)
	boolean("FILTER_ONLY", &cfg.FilterOnly)
	boolean("REUSE_SURFACE_FORMS", &cfg.ReuseSurfaceForms)
	boolean("DEBUG", &cfg.Debug)
	float("RAM_BUFFER_MB", &cfg.RAMBufferMB)
	float("REQUESTS_PER_SECOND", &cfg.RequestsPerSecond)
	integer("BATCH_SIZE", &cfg.BatchSize)
	integer("MAX_ATTEMPTS", &cfg.MaxAttempts)
	integer("WORKERS", &cfg.Workers)
	integer("SCORE_CACHE_SIZE", &cfg.ScoreCacheSize)
	duration("RETRY_DELAY", &cfg.RetryDelay)
	duration("REMOTE_BACKOFF", &cfg.RemoteBackoff)
	duration("HTTP_TIMEOUT", &cfg.HTTPTimeout)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %v", internalerr.ErrInvalidConfig, errs)
	}
	return nil
}

// Stoplist represents the stopword list configuration
type Stoplist struct {
	Terms []string `yaml:"terms"`
}

// LoadStoplist loads stopwords from a YAML file
func LoadStoplist(path string) (*Stoplist, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var sl Stoplist
	if err := yaml.Unmarshal(data, &sl); err != nil {
		return nil, err
	}

	return &sl, nil
}

// Stopwords returns the built-in stoplist extended with the terms of
// StoplistPath, if set.
func (c Config) Stopwords() (*stoplist.Manager, error) {
	if c.StoplistPath == "" {
		return stoplist.NewDefault(), nil
	}
	sl, err := LoadStoplist(c.StoplistPath)
	if err != nil {
		return nil, fmt.Errorf("load stoplist: %w", err)
	}
	return stoplist.NewDefault(sl.Terms...), nil
}
