// Package config loads lockshift.toml and resolves named environments into
// connection strings.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/lockplane/lockshift/database/pgxdb"
	"github.com/lockplane/lockshift/database/sqldb"
	"github.com/lockplane/lockshift/internal/errs"
	"github.com/lockplane/lockshift/internal/logger"
)

// FileName is the configuration file looked up from the working directory.
const FileName = "lockshift.toml"

// EnvironmentConfig describes a single named environment from lockshift.toml.
type EnvironmentConfig struct {
	DatabaseURL string `toml:"database_url"`
	Driver      string `toml:"driver"`
	Dotenv      string `toml:"dotenv"`
}

// ExecutionConfig holds defaults for apply and rollback. CLI flags win.
type ExecutionConfig struct {
	DryRun       bool `toml:"dry_run"`
	StopOnError  bool `toml:"stop_on_error"`
	ValidateOnly bool `toml:"validate_only"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// PoolConfig bounds database connection pools.
type PoolConfig struct {
	MaxOpenConns    int    `toml:"max_open_conns"`
	MaxIdleConns    int    `toml:"max_idle_conns"`
	ConnMaxLifetime string `toml:"conn_max_lifetime"`
}

type Config struct {
	Environments   map[string]EnvironmentConfig `toml:"environments"`
	Execution      ExecutionConfig              `toml:"execution"`
	Logging        LoggingConfig                `toml:"logging"`
	Pool           PoolConfig                   `toml:"pool"`
	ConfigFilePath string                       `toml:"-"`
}

// Default returns the configuration used when no file is found.
func Default() *Config {
	return &Config{
		Environments: map[string]EnvironmentConfig{},
		Execution:    ExecutionConfig{StopOnError: true},
		Logging:      LoggingConfig{Level: "info", Format: "console"},
	}
}

// Parse decodes a lockshift.toml document over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, errs.Wrap(errs.KindInvalidInput, "invalid "+FileName, err)
	}
	if cfg.Environments == nil {
		cfg.Environments = map[string]EnvironmentConfig{}
	}
	if _, err := cfg.Pool.lifetime(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig searches for lockshift.toml from the working directory.
func LoadConfig() (*Config, error) {
	startDir, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return LoadFrom(startDir)
}

// LoadFrom searches for lockshift.toml starting at dir and walking up until a
// project root or the filesystem root. A missing file yields Default.
func LoadFrom(dir string) (*Config, error) {
	for {
		configPath := filepath.Join(dir, FileName)
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, err
			}
			cfg, err := Parse(data)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", configPath, err)
			}
			cfg.ConfigFilePath = configPath
			return cfg, nil
		}

		if isProjectRoot(dir) {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return Default(), nil
}

// ConfigDir is the directory holding the config file, or "" without one.
func (c *Config) ConfigDir() string {
	if c == nil || c.ConfigFilePath == "" {
		return ""
	}
	return filepath.Dir(c.ConfigFilePath)
}

// Logger builds the process logger from the [logging] table.
func (c *Config) Logger(out io.Writer) *logger.Logger {
	cfg := logger.DefaultConfig()
	if c.Logging.Level != "" {
		cfg.Level = c.Logging.Level
	}
	if c.Logging.Format != "" {
		cfg.Format = c.Logging.Format
	}
	if out != nil {
		cfg.Output = out
	}
	return logger.New(cfg)
}

func (p PoolConfig) lifetime() (time.Duration, error) {
	if p.ConnMaxLifetime == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(p.ConnMaxLifetime)
	if err != nil {
		return 0, errs.Wrap(errs.KindInvalidInput, "invalid pool.conn_max_lifetime", err)
	}
	return d, nil
}

// SQL returns database/sql pool limits, filling zero values from the
// sqldb defaults.
func (p PoolConfig) SQL() sqldb.PoolConfig {
	out := sqldb.DefaultPoolConfig()
	if p.MaxOpenConns > 0 {
		out.MaxOpenConns = p.MaxOpenConns
	}
	if p.MaxIdleConns > 0 {
		out.MaxIdleConns = p.MaxIdleConns
	}
	if d, err := p.lifetime(); err == nil && d > 0 {
		out.ConnMaxLifetime = d
	}
	return out
}

// PGX returns pgxpool limits. Idle connections map to the pool minimum.
func (p PoolConfig) PGX() pgxdb.PoolConfig {
	out := pgxdb.PoolConfig{
		MaxConns: int32(p.MaxOpenConns),
		MinConns: int32(p.MaxIdleConns),
	}
	if d, err := p.lifetime(); err == nil {
		out.MaxConnIdleTime = d
	}
	return out
}

// isProjectRoot checks if the directory is a project root based on common markers
func isProjectRoot(dir string) bool {
	for _, marker := range []string{".git", "go.mod", "package.json"} {
		if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
			return true
		}
	}
	return false
}
