package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lockplane/lockshift/internal/migration"
	"github.com/lockplane/lockshift/internal/schema"
	"github.com/lockplane/lockshift/internal/validation"
)

func newValidateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate differences and plan files",
		Long: `Validate differences and plan files.

Subcommands:
  differences - Check a differences file against its JSON schema
  plan        - Check a plan file against its JSON schema, parse its SQL and run the validation rules`,
		Example: `  lockshift validate differences diff.yaml
  lockshift validate plan plan.json`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "differences FILE",
		Short: "Validate a differences file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			diffs, err := schema.LoadDifferences(args[0])
			if err != nil {
				return err
			}
			_, _ = green.Fprintf(cmd.OutOrStdout(), "✓ %s is valid (%d differences)\n", args[0], len(diffs))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "plan FILE",
		Short: "Validate a plan file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidatePlan(cmd, a, args[0])
		},
	})
	return cmd
}

func runValidatePlan(cmd *cobra.Command, a *app, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read plan %s: %w", path, err)
	}
	out := cmd.OutOrStdout()

	problems, err := migration.ValidatePlanDocument(data)
	if err != nil {
		return err
	}
	if len(problems) > 0 {
		for _, p := range problems {
			_, _ = red.Fprintf(out, "  - %s\n", p)
		}
		return fmt.Errorf("%s does not match the plan schema (%d problems)", path, len(problems))
	}

	script, err := migration.ParseScript(data)
	if err != nil {
		return err
	}
	plan := script.ExecutionPlan()
	report, err := validation.NewRuleEngine(a.log).ExecuteValidation(cmd.Context(), validation.Request{
		Context: validation.PlanContext{
			ScriptID:     plan.ID,
			Connection:   plan.Connection,
			RiskLevel:    plan.RiskLevel,
			Steps:        plan.Steps,
			Dependencies: plan.Dependencies,
		},
	})
	if err != nil {
		return err
	}

	for _, rr := range report.Results {
		mark := green.Sprint("✓")
		if !rr.Passed {
			mark = red.Sprint("✗")
		}
		fmt.Fprintf(out, "%s %s\n", mark, rr.Rule)
		for _, f := range rr.Findings {
			fmt.Fprintf(out, "    [%s] %s\n", f.Severity, f.Message)
		}
	}
	if !report.CanProceed {
		return fmt.Errorf("%s failed %d of %d rules", path, report.FailedRules, report.TotalRules)
	}
	_, _ = green.Fprintf(out, "✓ %s is valid (%s)\n", path, report.OverallStatus)
	return nil
}
