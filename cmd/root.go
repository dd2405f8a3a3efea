// Package cmd implements the lockshift command line.
package cmd

import (
	"context"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/lockplane/lockshift/database"
	"github.com/lockplane/lockshift/internal/config"
	"github.com/lockplane/lockshift/internal/logger"
)

// connectFunc opens a gateway serving the named environments. The returned
// function releases every connection.
type connectFunc func(ctx context.Context, a *app, envs ...string) (database.Gateway, func(), error)

// app is the state shared by every command of one invocation.
type app struct {
	cfg       *config.Config
	log       *logger.Logger
	connect   connectFunc
	registry  prometheus.Registerer
	workDir   string
	logLevel  string
	logFormat string
}

func newApp() *app {
	return &app{
		connect:  openGateway,
		registry: prometheus.DefaultRegisterer,
	}
}

// newRootCommand builds the command tree around a.
func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "lockshift",
		Short:         "Plan, assess and execute DDL migrations",
		Long:          `lockshift turns schema differences into ordered, risk-assessed migration plans with rollback scripts, and executes them step by step with pre- and post-condition checks.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides lockshift.toml)")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "Log format: console or json (overrides lockshift.toml)")

	root.AddCommand(
		newPlanCmd(a),
		newApplyCmd(a),
		newRollbackCmd(a),
		newImpactCmd(a),
		newValidateCmd(a),
		newVersionCmd(),
	)
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	if a.cfg == nil {
		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}
		a.cfg = cfg
	}
	if a.logLevel != "" {
		a.cfg.Logging.Level = a.logLevel
	}
	if a.logFormat != "" {
		a.cfg.Logging.Format = a.logFormat
	}
	if a.log == nil {
		a.log = a.cfg.Logger(cmd.ErrOrStderr())
	}
	if a.workDir == "" {
		a.workDir = a.cfg.ConfigDir()
	}
	if a.workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		a.workDir = wd
	}
	return nil
}

// Execute runs the command line and exits 1 on any failure.
func Execute() {
	root := newRootCommand(newApp())
	if err := root.Execute(); err != nil {
		printError(root.ErrOrStderr(), err)
		os.Exit(1)
	}
}
