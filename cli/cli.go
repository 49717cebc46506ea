package cli

import (
	"time"

	"github.com/spf13/pflag"

	"github.com/sokinpui/revise/internal/config"
)

// Config holds all the command-line flag values.
type Config struct {
	Root        string
	ConfigFile  string
	Yes         bool
	Model       string
	Timeout     time.Duration
	Parallel    int
	Strict      bool
	AutoPatch   bool
	KeepBackups bool
	NoAnimation bool
	CopyPreview bool
	Verbose     bool
	LogLevel    string
	Addr        string
}

// BindFlags defines the flags shared by every command on fs.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&c.Root, "root", "C", ".", "Project root to operate on.")
	fs.StringVar(&c.ConfigFile, "config", "", "Config file loaded after the global and project files.")
	fs.BoolVarP(&c.Yes, "yes", "y", false, "Apply proposals without asking for confirmation.")
	fs.StringVarP(&c.Model, "model", "m", "", "Model used for every oracle call.")
	fs.DurationVar(&c.Timeout, "timeout", 0, "Timeout for each oracle call (e.g. 90s).")
	fs.IntVarP(&c.Parallel, "parallel", "p", 0, "Synthesize up to this many files at once.")
	fs.BoolVar(&c.Strict, "strict", false, "Drop files that remain flagged by the safety scan instead of applying them.")
	fs.BoolVar(&c.AutoPatch, "auto-patch", false, "Request a patched version of every flagged file without asking.")
	fs.BoolVar(&c.KeepBackups, "keep-backups", false, "Leave backups on disk when the process exits.")
	fs.BoolVar(&c.NoAnimation, "no-animation", false, "Disable loading spinner and progress updates.")
	fs.BoolVar(&c.CopyPreview, "copy-preview", false, "Copy the proposed diff to the clipboard before confirming.")
	fs.BoolVarP(&c.Verbose, "verbose", "v", false, "Log to stderr at debug level.")
	fs.StringVar(&c.LogLevel, "log-level", "", "Log level for the log file (debug, info, warn, error).")
}

// Overlay applies the flags that were set explicitly on fs to cfg. Unset
// flags leave the loaded configuration alone.
func (c *Config) Overlay(cfg *config.Config, fs *pflag.FlagSet) {
	changed := func(name string) bool {
		f := fs.Lookup(name)
		return f != nil && f.Changed
	}

	if changed("model") {
		cfg.Model.Name = c.Model
	}
	if changed("timeout") {
		cfg.Model.Timeout = c.Timeout
	}
	if changed("parallel") {
		cfg.Pipeline.Parallel = c.Parallel
	}
	if changed("strict") {
		cfg.Safety.Strict = c.Strict
	}
	if changed("auto-patch") {
		cfg.Safety.AutoPatch = c.AutoPatch
	}
	if changed("keep-backups") {
		cfg.Backup.Keep = c.KeepBackups
	}
	if changed("log-level") {
		cfg.Logging.Level = c.LogLevel
	}
	if changed("addr") {
		cfg.Server.Addr = c.Addr
	}
	if c.Verbose {
		cfg.Logging.Level = "debug"
	}
}
