package internal

import (
	"fmt"
	"log/slog"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/a11yledger/internal/emit"
	"github.com/starford/a11yledger/internal/identity"
	"github.com/starford/a11yledger/internal/ingest"
	"github.com/starford/a11yledger/internal/output"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Reports ReportsConfig     `yaml:"reports"`
	SQLite  SQLiteConfig      `yaml:"sqlite"`
	Ingest  IngestConfig      `yaml:"ingest"`
	Output  OutputConfig      `yaml:"output"`
	Auth    AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if err := c.Reports.Validate(); err != nil {
		return fmt.Errorf("reports: %w", err)
	}
	if err := c.SQLite.Validate(); err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}
	if err := c.Ingest.Validate(); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	if err := c.Output.Validate(); err != nil {
		return fmt.Errorf("output: %w", err)
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// ReportsConfig holds the path to the directory of defect report files.
type ReportsConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the reports configuration.
func (c *ReportsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// IngestConfig controls batch ingestion and identity resolution.
type IngestConfig struct {
	OnInvalid           string  `yaml:"on_invalid"`
	Workers             int     `yaml:"workers"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	AmbiguityMargin     float64 `yaml:"ambiguity_margin"`
}

// Validate validates the ingest configuration.
func (c *IngestConfig) Validate() error {
	if c.OnInvalid == "" {
		c.OnInvalid = string(ingest.PolicySkip)
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.OnInvalid, validation.By(func(v any) error {
			_, err := ingest.ParsePolicy(v.(string))
			return err
		})),
		validation.Field(&c.Workers, validation.Min(1), validation.Max(64)),
		validation.Field(&c.SimilarityThreshold, validation.Required, validation.Min(0.0).Exclusive(), validation.Max(1.0)),
		validation.Field(&c.AmbiguityMargin, validation.Min(0.0), validation.Max(0.5)),
	)
}

// Options converts the section into pipeline options.
func (c *IngestConfig) Options() (ingest.Options, error) {
	policy, err := ingest.ParsePolicy(c.OnInvalid)
	if err != nil {
		return ingest.Options{}, err
	}
	return ingest.Options{
		Workers:   c.Workers,
		OnInvalid: policy,
		Resolver:  identity.NewResolver(c.SimilarityThreshold, c.AmbiguityMargin),
	}, nil
}

// OutputConfig holds defaults for rendering the canonical document.
type OutputConfig struct {
	Format  string `yaml:"format"`
	OrderBy string `yaml:"order_by"`
	// Path is where render writes the document; empty means stdout.
	Path string `yaml:"path"`
}

// Validate validates the output configuration.
func (c *OutputConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Format, validation.In(
			string(output.FormatMarkdown), string(output.FormatJSON), string(output.FormatTerminal))),
		validation.Field(&c.OrderBy, validation.In(
			string(emit.OrderByPage), string(emit.OrderByPriority), string(emit.OrderByFirstSeen))),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Reports: ReportsConfig{
			Path: "./reports",
		},
		SQLite: SQLiteConfig{
			Path: "./a11yledger.db",
		},
		Ingest: IngestConfig{
			OnInvalid:           string(ingest.PolicySkip),
			Workers:             ingest.DefaultWorkers,
			SimilarityThreshold: identity.DefaultThreshold,
			AmbiguityMargin:     identity.DefaultMargin,
		},
		Output: OutputConfig{
			Format:  string(output.FormatMarkdown),
			OrderBy: string(emit.OrderByPage),
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
