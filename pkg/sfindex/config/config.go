package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/cognicore/sfindex/pkg/sfindex/internalerr"
)

// Config is the complete, immutable description of one run. Build it once
// and pass it by value.
type Config struct {
	BaseDir           string        `yaml:"base_dir" validate:"required"`
	IndexDir          string        `yaml:"index_dir" validate:"required_unless=FilterOnly true"`
	Endpoint          string        `yaml:"endpoint" validate:"required_unless=FilterOnly true"`
	Graph             string        `yaml:"graph"`
	Language          string        `yaml:"language" validate:"required,min=2,max=12"`
	CanonicalLanguage string        `yaml:"canonical_language" validate:"required,min=2,max=12"`
	OverwriteIndex    bool          `yaml:"overwrite_index"`
	RAMBufferMB       float64       `yaml:"ram_buffer_mb" validate:"gte=0"`
	FilterOnly        bool          `yaml:"filter_only"`
	ReuseSurfaceForms bool          `yaml:"reuse_surface_forms"`
	StoplistPath      string        `yaml:"stoplist"`
	BatchSize         int           `yaml:"batch_size" validate:"gt=0"`
	MaxAttempts       int           `yaml:"max_attempts" validate:"gt=0"`
	RetryDelay        time.Duration `yaml:"retry_delay" validate:"gte=0"`
	RemoteBackoff     time.Duration `yaml:"remote_backoff" validate:"gte=0"`
	Workers           int           `yaml:"workers" validate:"gte=1,lte=64"`
	RequestsPerSecond float64       `yaml:"requests_per_second" validate:"gte=0"`
	HTTPTimeout       time.Duration `yaml:"http_timeout" validate:"gt=0"`
	ScoreCacheSize    int           `yaml:"score_cache_size" validate:"gte=0"`
	MetricsFile       string        `yaml:"metrics_file"`
	Debug             bool          `yaml:"debug"`
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() Config {
	return Config{
		BaseDir:           ".",
		Endpoint:          "http://localhost:8890/sparql",
		Graph:             "http://dbpedia.org",
		Language:          "en",
		CanonicalLanguage: "en",
		OverwriteIndex:    true,
		RAMBufferMB:       128,
		BatchSize:         10000,
		MaxAttempts:       10,
		RetryDelay:        5 * time.Millisecond,
		RemoteBackoff:     10 * time.Second,
		Workers:           1,
		HTTPTimeout:       60 * time.Second,
		ScoreCacheSize:    100000,
	}
}

var validate = validator.New()

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", internalerr.ErrInvalidConfig, err)
	}
	if c.Endpoint != "" {
		if err := validate.Var(c.Endpoint, "url"); err != nil {
			return fmt.Errorf("%w: endpoint %q is not a URL", internalerr.ErrInvalidConfig, c.Endpoint)
		}
	}
	return nil
}

// Files are the dump and side files of one language.
type Files struct {
	Redirects          string
	Labels             string
	Disambiguations    string
	SurfaceForms       string
	FilteredLabels     string
	InterlanguageLinks string
}

// Files derives the file paths for the configured language under BaseDir.
func (c Config) Files() Files {
	lang := c.Language
	at := func(name string) string { return filepath.Join(c.BaseDir, name) }
	return Files{
		Redirects:          at("redirects_" + lang + ".ttl"),
		Labels:             at("labels_" + lang + ".ttl"),
		Disambiguations:    at("disambiguations_" + lang + ".ttl"),
		SurfaceForms:       at(lang + "_surface_forms.tsv"),
		FilteredLabels:     at("labels_" + lang + "_filtered.ttl"),
		InterlanguageLinks: at("interlanguage_links_" + lang + ".ttl"),
	}
}

// String renders the settings worth logging at startup.
func (c Config) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "language=%s base_dir=%s", c.Language, c.BaseDir)
	if c.FilterOnly {
		b.WriteString(" mode=filter")
		return b.String()
	}
	fmt.Fprintf(&b, " index=%s overwrite=%t ram_buffer_mb=%g endpoint=%s graph=%s workers=%d",
		c.IndexDir, c.OverwriteIndex, c.RAMBufferMB, c.Endpoint, c.Graph, c.Workers)
	return b.String()
}
