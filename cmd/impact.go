package cmd

import (
	"github.com/spf13/cobra"

	"github.com/lockplane/lockshift/database"
	"github.com/lockplane/lockshift/internal/impact"
	"github.com/lockplane/lockshift/internal/schema"
)

type impactOptions struct {
	differences string
	connection  string
	advanced    bool
	json        bool
}

func newImpactCmd(a *app) *cobra.Command {
	opts := &impactOptions{}
	cmd := &cobra.Command{
		Use:   "impact",
		Short: "Assess the impact of schema differences",
		Long: `Assess what a set of schema differences means before planning it.

The basic report scores operational, financial, compliance and user
experience impact. --advanced adds lock analysis, a phased migration path,
a rollback estimate and mitigations. With --connection, row estimates for
the affected tables are read from that environment.`,
		Example: `  lockshift impact --differences diff.json
  lockshift impact --differences diff.json --advanced --connection production`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImpact(cmd, a, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.differences, "differences", "d", "", "Path to the differences file (JSON or YAML)")
	cmd.Flags().StringVarP(&opts.connection, "connection", "c", "", "Environment to read row estimates from")
	cmd.Flags().BoolVar(&opts.advanced, "advanced", false, "Include locks, migration path, rollback estimate and mitigations")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Print the report as JSON")
	_ = cmd.MarkFlagRequired("differences")
	return cmd
}

func runImpact(cmd *cobra.Command, a *app, opts *impactOptions) error {
	diffs, err := schema.LoadDifferences(opts.differences)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if !opts.advanced && opts.connection == "" {
		b, err := impact.NewAnalyzer(nil, a.log).Basic(diffs)
		if err != nil {
			return err
		}
		if opts.json {
			return writeJSON(out, b)
		}
		printBasic(out, b)
		return nil
	}

	var gw database.Gateway
	if opts.connection != "" {
		var closeGateway func()
		gw, closeGateway, err = a.connect(cmd.Context(), a, opts.connection)
		if err != nil {
			return err
		}
		defer closeGateway()
	}

	adv, err := impact.NewAnalyzer(gw, a.log).Advanced(cmd.Context(), diffs, opts.connection)
	if err != nil {
		return err
	}
	if opts.json {
		return writeJSON(out, adv)
	}
	printAdvanced(out, adv)
	return nil
}
