package cmd

import (
	"github.com/spf13/cobra"

	"github.com/lockplane/lockshift/internal/errs"
	"github.com/lockplane/lockshift/internal/executor"
	"github.com/lockplane/lockshift/internal/migration"
	"github.com/lockplane/lockshift/internal/state"
)

type rollbackOptions struct {
	plan       string
	connection string
	dryRun     bool
	force      bool
	json       bool
}

func newRollbackCmd(a *app) *cobra.Command {
	opts := &rollbackOptions{}
	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Execute the rollback script of a plan",
		Long: `Execute the rollback script of a saved plan, undoing its steps in reverse
order. Without --plan and --connection, the last execution recorded in
.lockshift-state.json is rolled back. Steps that have no automatic rollback
fail visibly instead of being skipped.`,
		Example: `  # Undo the last apply
  lockshift rollback

  # Preview the rollback of a specific plan
  lockshift rollback --plan plan.json --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRollback(cmd, a, opts)
		},
	}
	addExecutionFlags(cmd, &opts.connection, &opts.dryRun, &opts.force, &opts.json)
	cmd.Flags().StringVarP(&opts.plan, "plan", "p", "", "Path to the plan file (default: the last applied plan)")
	return cmd
}

func runRollback(cmd *cobra.Command, a *app, opts *rollbackOptions) error {
	if opts.plan == "" || opts.connection == "" {
		st, err := state.Load(a.workDir)
		if err != nil {
			return err
		}
		last := st.LastExecution
		if last == nil || last.Rollback {
			if opts.plan == "" {
				return errs.New(errs.KindInvalidInput, "--plan is required: no applied plan is recorded")
			}
		} else {
			if opts.plan == "" {
				opts.plan = last.PlanPath
			}
			if opts.connection == "" {
				opts.connection = last.Connection
			}
		}
	}
	if !cmd.Flags().Changed("dry-run") {
		opts.dryRun = a.cfg.Execution.DryRun
	}

	script, err := migration.LoadScript(opts.plan)
	if err != nil {
		return err
	}
	plan := script.RollbackPlan()

	return execute(cmd, a, plan, state.Execution{
		ScriptID:   plan.ID,
		PlanPath:   opts.plan,
		Connection: connectionFor(opts.connection, plan),
		Rollback:   true,
		DryRun:     opts.dryRun,
	}, executor.Options{
		ConnectionID: opts.connection,
		DryRun:       opts.dryRun,
		StopOnError:  true,
	}, opts.force, opts.json)
}
