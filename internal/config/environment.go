package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joho/godotenv"

	"github.com/lockplane/lockshift/internal/errs"
)

// Environment is a named environment resolved to a concrete connection.
type Environment struct {
	Name        string
	DatabaseURL string
	Driver      string
	DotenvPath  string
	FromConfig  bool
	FromDotenv  bool
}

// Names lists the environments defined in lockshift.toml.
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.Environments))
	for name := range c.Environments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve turns an environment name into a connection string. Values set in
// lockshift.toml take precedence; .env.<name> (or the configured dotenv path)
// only fills what the TOML leaves empty.
func (c *Config) Resolve(name string) (*Environment, error) {
	envName := strings.TrimSpace(name)
	if envName == "" {
		return nil, errs.New(errs.KindInvalidInput, "environment name is required")
	}

	envConfig, envExists := c.Environments[envName]
	resolved := &Environment{
		Name:        envName,
		DatabaseURL: envConfig.DatabaseURL,
		Driver:      envConfig.Driver,
		FromConfig:  envExists,
	}

	path, err := c.dotenvPath(envName, envConfig.Dotenv)
	if err != nil {
		return nil, err
	}
	resolved.DotenvPath = path

	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		values, err := godotenv.Read(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		resolved.FromDotenv = true
		if resolved.DatabaseURL == "" {
			resolved.DatabaseURL, resolved.Driver = fromDotenv(values, resolved.Driver)
		}
	} else if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to access %s: %w", path, err)
	} else if envConfig.Dotenv != "" {
		return nil, errs.Newf(errs.KindNotFound, "dotenv file %s for environment %q not found", path, envName)
	}

	if resolved.DatabaseURL == "" {
		if !envExists && !resolved.FromDotenv {
			return nil, errs.Newf(errs.KindNotFound, "environment %q not defined in %s and %s not found", envName, FileName, path)
		}
		return nil, errs.Newf(errs.KindInvalidInput, "environment %q has no database_url", envName)
	}
	return resolved, nil
}

// ResolveAll resolves each distinct name once, in order.
func (c *Config) ResolveAll(names ...string) ([]*Environment, error) {
	seen := map[string]bool{}
	var out []*Environment
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		env, err := c.Resolve(name)
		if err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	return out, nil
}

func (c *Config) dotenvPath(envName, configured string) (string, error) {
	baseDir := c.ConfigDir()
	if baseDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		baseDir = cwd
	}
	if configured == "" {
		return filepath.Join(baseDir, ".env."+envName), nil
	}
	if filepath.IsAbs(configured) {
		return configured, nil
	}
	return filepath.Join(baseDir, configured), nil
}

// fromDotenv picks the first connection variable that is set. A driver set in
// the TOML is kept; otherwise the variable implies one where it can.
func fromDotenv(values map[string]string, driver string) (url, drv string) {
	pick := func(implied string) string {
		if driver != "" {
			return driver
		}
		return implied
	}

	if v := values["DATABASE_URL"]; v != "" {
		return v, driver
	}
	if v := values["POSTGRES_URL"]; v != "" {
		return v, pick("postgres")
	}
	if v := values["SQLITE_DB_PATH"]; v != "" {
		return v, pick("sqlite")
	}
	if v := values["LIBSQL_URL"]; v != "" {
		if token := values["LIBSQL_AUTH_TOKEN"]; token != "" {
			v = fmt.Sprintf("%s?authToken=%s", v, token)
		}
		return v, pick("libsql")
	}
	if v := values["MYSQL_DSN"]; v != "" {
		return v, pick("mysql")
	}
	return "", driver
}
