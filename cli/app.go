package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"github.com/sokinpui/revise/internal/config"
	"github.com/sokinpui/revise/internal/logging"
	"github.com/sokinpui/revise/internal/metrics"
	"github.com/sokinpui/revise/internal/nvim"
	"github.com/sokinpui/revise/internal/oracle"
	"github.com/sokinpui/revise/revise"
)

// maxRetryDelay caps the backoff between oracle retries.
const maxRetryDelay = 30 * time.Second

// App is one configured revise session with its process-level plumbing.
type App struct {
	Config   *config.Config
	Session  *revise.Session
	Registry *prometheus.Registry

	closeLog func() error
}

// NewApp loads configuration for the root named in flags, applies the flag
// overrides, and builds a session backed by Gemini.
func NewApp(ctx context.Context, flags *Config, fs *pflag.FlagSet) (*App, error) {
	root, err := filepath.Abs(flags.Root)
	if err != nil {
		return nil, fmt.Errorf("could not resolve project root: %w", err)
	}

	cfg, err := config.Load(root, flags.ConfigFile)
	if err != nil {
		return nil, err
	}
	flags.Overlay(cfg, fs)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	closeLog, err := logging.Setup(logging.Options{
		Level:  cfg.Logging.Level,
		File:   cfg.Logging.File,
		Stderr: flags.Verbose,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}

	client, err := oracle.NewGemini(ctx, oracle.GeminiConfig{
		APIKey:      cfg.Model.APIKey,
		Model:       cfg.Model.Name,
		Temperature: cfg.Model.Temperature,
		Retry: oracle.RetryConfig{
			MaxRetries: cfg.Model.MaxRetries,
			RetryDelay: cfg.Model.RetryDelay,
			MaxDelay:   maxRetryDelay,
		},
	})
	if err != nil {
		_ = closeLog()
		return nil, err
	}

	return newApp(cfg, root, client, closeLog)
}

func newApp(cfg *config.Config, root string, client oracle.Client, closeLog func() error) (*App, error) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	session, err := revise.New(cfg, root, revise.Deps{
		Oracle:   oracle.NewCapabilities(client, cfg.Model.Timeout, m),
		Metrics:  m,
		Notifier: nvim.FromEnv(root),
	})
	if err != nil {
		_ = closeLog()
		return nil, err
	}
	logging.Info("session started", "root", session.Root(), "model", cfg.Model.Name, "strict", cfg.Safety.Strict)

	return &App{
		Config:   cfg,
		Session:  session,
		Registry: reg,
		closeLog: closeLog,
	}, nil
}

// Close ends the session and closes the log file.
func (a *App) Close() error {
	err := a.Session.Close()
	if cerr := a.closeLog(); err == nil {
		err = cerr
	}
	return err
}
