package internal

import (
	"io"
	"log/slog"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config *Config
	logger *slog.Logger
	watch  bool
	force  bool
	paths  []string
	out    io.Writer
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithLogger replaces the default logger of the selected mode.
func WithLogger(logger *slog.Logger) Option {
	return func(a *application) {
		a.logger = logger
	}
}

// WithWatch makes Run re-ingest report files as they change.
func WithWatch(watch bool) Option {
	return func(a *application) {
		a.watch = watch
	}
}

// WithForce makes Ingest re-read files whose content is unchanged.
func WithForce(force bool) Option {
	return func(a *application) {
		a.force = force
	}
}

// WithPaths limits Ingest to the given report paths.
func WithPaths(paths ...string) Option {
	return func(a *application) {
		a.paths = paths
	}
}

// WithOutput sets where Render writes when no output path is configured.
func WithOutput(w io.Writer) Option {
	return func(a *application) {
		a.out = w
	}
}
