package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lockplane/lockshift/internal/executor"
	"github.com/lockplane/lockshift/internal/migration"
	"github.com/lockplane/lockshift/internal/state"
	"github.com/lockplane/lockshift/internal/validation"
)

type applyOptions struct {
	plan         string
	connection   string
	dryRun       bool
	validateOnly bool
	stopOnError  bool
	force        bool
	json         bool
}

func newApplyCmd(a *app) *cobra.Command {
	opts := &applyOptions{}
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Execute a saved migration plan",
		Long: `Execute a saved migration plan step by step.

Pre-conditions must hold before a step runs; post-conditions are checked
afterwards and only produce warnings. With --stop-on-error the run ends at the
first failed step; otherwise it continues and is reported as failed at the end.
The outcome is recorded in .lockshift-state.json.`,
		Example: `  # Check conditions without changing anything
  lockshift apply --plan plan.json --dry-run

  # Run the validation probes only
  lockshift apply --plan plan.json --validate-only

  # Execute against another environment than the plan's source
  lockshift apply --plan plan.json --connection staging`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(cmd, a, opts)
		},
	}
	addExecutionFlags(cmd, &opts.connection, &opts.dryRun, &opts.force, &opts.json)
	cmd.Flags().StringVarP(&opts.plan, "plan", "p", "", "Path to the plan file")
	cmd.Flags().BoolVar(&opts.validateOnly, "validate-only", false, "Run validation probes and rules only")
	cmd.Flags().BoolVar(&opts.stopOnError, "stop-on-error", true, "Stop at the first failed step")
	_ = cmd.MarkFlagRequired("plan")
	return cmd
}

func addExecutionFlags(cmd *cobra.Command, connection *string, dryRun, force, asJSON *bool) {
	cmd.Flags().StringVarP(connection, "connection", "c", "", "Environment to execute against (default: the plan's source)")
	cmd.Flags().BoolVar(dryRun, "dry-run", false, "Evaluate conditions without executing step SQL")
	cmd.Flags().BoolVar(force, "force", false, "Start even if the state file shows a running execution")
	cmd.Flags().BoolVar(asJSON, "json", false, "Print the execution result as JSON")
}

func runApply(cmd *cobra.Command, a *app, opts *applyOptions) error {
	if !cmd.Flags().Changed("dry-run") {
		opts.dryRun = a.cfg.Execution.DryRun
	}
	if !cmd.Flags().Changed("validate-only") {
		opts.validateOnly = a.cfg.Execution.ValidateOnly
	}
	if !cmd.Flags().Changed("stop-on-error") {
		opts.stopOnError = a.cfg.Execution.StopOnError
	}

	script, err := migration.LoadScript(opts.plan)
	if err != nil {
		return err
	}
	plan := script.ExecutionPlan()

	return execute(cmd, a, plan, state.Execution{
		ScriptID:   script.ID,
		PlanPath:   opts.plan,
		Connection: connectionFor(opts.connection, plan),
		DryRun:     opts.dryRun,
	}, executor.Options{
		ConnectionID: opts.connection,
		DryRun:       opts.dryRun,
		ValidateOnly: opts.validateOnly,
		StopOnError:  opts.stopOnError,
	}, opts.force, opts.json)
}

func connectionFor(override string, plan *executor.Plan) string {
	if override != "" {
		return override
	}
	return plan.Connection
}

// execute runs plan and journals it. Dry runs and validate-only runs are not
// journaled. A failed execution is returned as an error so the process exits 1.
func execute(cmd *cobra.Command, a *app, plan *executor.Plan, entry state.Execution, opts executor.Options, force, asJSON bool) error {
	journal := !opts.DryRun && !opts.ValidateOnly

	var st *state.State
	if journal {
		var err error
		if st, err = state.Load(a.workDir); err != nil {
			return err
		}
		if err := st.Begin(entry, force); err != nil {
			return err
		}
	}

	ctx := cmd.Context()
	gw, closeGateway, err := a.connect(ctx, a, entry.Connection)
	if err != nil {
		if journal {
			_ = st.Clear()
		}
		return err
	}
	defer closeGateway()

	metrics, err := executor.NewMetrics(a.registry)
	if err != nil {
		return err
	}
	engine := executor.NewEngine(gw, a.log).
		WithFramework(validation.NewRuleEngine(a.log)).
		WithMetrics(metrics)

	result, execErr := engine.Execute(ctx, plan, opts)
	if result == nil {
		if journal {
			_ = st.Clear()
		}
		return execErr
	}
	if journal {
		if err := st.Finish(result); err != nil {
			a.log.Warnf("Failed to record execution state: %v", err)
		}
	}

	out := cmd.OutOrStdout()
	if asJSON {
		if err := writeJSON(out, result); err != nil {
			return err
		}
	} else {
		printResult(out, result)
	}

	switch {
	case execErr != nil:
		return execErr
	case result.Status == executor.StatusFailed:
		return fmt.Errorf("execution failed: %d of %d steps failed", result.FailedSteps, len(plan.Steps))
	case opts.ValidateOnly && !result.ValidationPassed():
		return fmt.Errorf("validation failed")
	}
	return nil
}
