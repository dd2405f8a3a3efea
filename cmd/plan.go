package cmd

import (
	"github.com/spf13/cobra"

	"github.com/lockplane/lockshift/internal/errs"
	"github.com/lockplane/lockshift/internal/migration"
	"github.com/lockplane/lockshift/internal/schema"
)

type planOptions struct {
	differences string
	source      string
	target      string
	name        string
	output      string
	json        bool
}

func newPlanCmd(a *app) *cobra.Command {
	opts := &planOptions{}
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Build a migration plan from schema differences",
		Long: `Build a migration plan from a differences file.

Every difference becomes one step with forward SQL, rollback SQL and pre- and
post-conditions. Steps are ordered by their dependencies, assessed for risk,
and paired with a rollback script and validation probes. The source
environment is the database being migrated; the target environment is the
reference whose shape is desired.`,
		Example: `  # Print the plan
  lockshift plan --differences diff.json --source production --target staging

  # Save it for apply
  lockshift plan --differences diff.yaml --source production --target staging --output plan.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd, a, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.differences, "differences", "d", "", "Path to the differences file (JSON or YAML)")
	cmd.Flags().StringVar(&opts.source, "source", "", "Environment being migrated")
	cmd.Flags().StringVar(&opts.target, "target", "", "Reference environment")
	cmd.Flags().StringVar(&opts.name, "name", "", "Plan name (default migration-<timestamp>)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Write the plan to this file")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Print the plan as JSON")
	_ = cmd.MarkFlagRequired("differences")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}

func runPlan(cmd *cobra.Command, a *app, opts *planOptions) error {
	if opts.source == opts.target {
		return errs.New(errs.KindInvalidInput, "--source and --target must name different environments")
	}
	diffs, err := schema.LoadDifferences(opts.differences)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	gw, closeGateway, err := a.connect(ctx, a, opts.source, opts.target)
	if err != nil {
		return err
	}
	defer closeGateway()

	script, err := migration.NewBuilder(gw, a.log).Build(ctx, diffs, migration.BuildOptions{
		Name:             opts.name,
		SourceConnection: opts.source,
		TargetConnection: opts.target,
	})
	if err != nil {
		return err
	}

	if opts.output != "" {
		if err := script.Save(opts.output); err != nil {
			return err
		}
		a.log.With().Str("path", opts.output).Str("script", script.ID).Logger().Info("Plan saved")
	}

	out := cmd.OutOrStdout()
	if opts.json {
		return writeJSON(out, script)
	}
	printScript(out, script)
	return nil
}
