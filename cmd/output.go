package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/lockplane/lockshift/internal/executor"
	"github.com/lockplane/lockshift/internal/impact"
	"github.com/lockplane/lockshift/internal/migration"
	"github.com/lockplane/lockshift/internal/risk"
)

var (
	bold    = color.New(color.Bold)
	green   = color.New(color.FgGreen)
	yellow  = color.New(color.FgYellow)
	red     = color.New(color.FgRed)
	dimmed  = color.New(color.Faint)
	alarmed = color.New(color.FgRed, color.Bold)
)

func riskColor(l risk.Level) *color.Color {
	switch l {
	case risk.Low:
		return green
	case risk.Medium:
		return yellow
	case risk.High:
		return red
	default:
		return alarmed
	}
}

func riskLabel(l risk.Level) string {
	return riskColor(l).Sprint(strings.ToUpper(l.String()))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printError(w io.Writer, err error) {
	_, _ = red.Fprintf(w, "✗ %v\n", err)
}

func seconds(n int) string {
	return (time.Duration(n) * time.Second).String()
}

func printScript(w io.Writer, s *migration.Script) {
	_, _ = bold.Fprintf(w, "Migration plan %s\n", s.Name)
	_, _ = dimmed.Fprintf(w, "  id %s, %s -> %s\n", s.ID, s.SourceConnection, s.TargetConnection)
	fmt.Fprintf(w, "  Risk: %s   Steps: %d   Estimated: %s\n\n", riskLabel(s.RiskLevel), len(s.Steps), seconds(s.EstimatedDurationSeconds))

	for _, step := range s.Steps {
		fmt.Fprintf(w, "  %2d. [%s] %s\n", step.Order, riskLabel(step.RiskLevel), step.Name)
		_, _ = dimmed.Fprintf(w, "      %s\n", step.ID)
		if len(step.Dependencies) > 0 {
			_, _ = dimmed.Fprintf(w, "      after %s\n", strings.Join(step.Dependencies, ", "))
		}
	}

	if rb := s.Rollback; rb != nil {
		fmt.Fprintln(w)
		if rb.IsComplete {
			_, _ = green.Fprintf(w, "  Rollback: complete (%d steps)\n", len(rb.Steps))
		} else {
			_, _ = yellow.Fprintf(w, "  Rollback: incomplete, %d%% expected success (%d of %d steps need manual work)\n",
				rb.SuccessRatePercent, rb.PartialSteps(), len(rb.Steps))
		}
	}

	if len(s.Warnings) > 0 {
		fmt.Fprintln(w)
		_, _ = yellow.Fprintln(w, "  Warnings:")
		for _, warning := range s.Warnings {
			fmt.Fprintf(w, "    - %s\n", warning)
		}
	}
}

func printResult(w io.Writer, r *executor.Result) {
	mode := ""
	if r.DryRun {
		mode = " (dry run)"
	}
	switch r.Status {
	case executor.StatusCompleted:
		_, _ = green.Fprintf(w, "✓ Execution %s completed%s\n", r.ExecutionID, mode)
	default:
		_, _ = red.Fprintf(w, "✗ Execution %s %s%s\n", r.ExecutionID, r.Status, mode)
	}
	fmt.Fprintf(w, "  Completed steps: %d   Failed steps: %d   Time: %dms\n",
		r.CompletedSteps, r.FailedSteps, r.PerformanceMetrics.TotalExecutionTimeMs)

	for _, entry := range r.ExecutionLog {
		switch entry.Level {
		case "error":
			_, _ = red.Fprintf(w, "  %s\n", entry.Message)
		case "warn":
			_, _ = yellow.Fprintf(w, "  %s\n", entry.Message)
		}
	}

	if len(r.ValidationResults) > 0 {
		passed := 0
		for _, vr := range r.ValidationResults {
			if vr.Passed {
				passed++
			}
		}
		fmt.Fprintf(w, "  Validation: %d/%d probes passed\n", passed, len(r.ValidationResults))
	}
	if rep := r.ValidationReport; rep != nil {
		c := green
		if !rep.CanProceed {
			c = red
		}
		_, _ = c.Fprintf(w, "  Rules: %s (%d/%d passed)\n", rep.OverallStatus, rep.PassedRules, rep.TotalRules)
		for _, rec := range rep.Recommendations {
			fmt.Fprintf(w, "    - %s\n", rec)
		}
	}
}

func printBasic(w io.Writer, b *impact.Basic) {
	_, _ = bold.Fprintf(w, "Impact of %d changes\n", b.TotalChanges)
	fmt.Fprintf(w, "  Risk: %s   Estimated: %s\n", riskLabel(b.RiskLevel), seconds(b.EstimatedDurationSeconds))
	fmt.Fprintf(w, "  Operational: %s   Financial: %s   Compliance: %s   User experience: %s\n",
		riskLabel(b.Operational), riskLabel(b.Financial), riskLabel(b.Compliance), riskLabel(b.UserExperience))
	if b.DataLossPossible {
		_, _ = red.Fprintln(w, "  Data loss is possible")
	}
	if b.RequiresDowntime {
		_, _ = yellow.Fprintln(w, "  Some changes block reads or writes while they run")
	}
	if len(b.AffectedTables) > 0 {
		fmt.Fprintf(w, "  Tables: %s\n", strings.Join(b.AffectedTables, ", "))
	}
}

func printAdvanced(w io.Writer, adv *impact.Advanced) {
	printBasic(w, &adv.Basic)

	for _, ti := range adv.Tables {
		rows := "rows unknown"
		if ti.Probed {
			rows = fmt.Sprintf("~%d rows", ti.RowEstimate)
		}
		fmt.Fprintf(w, "    %s: %d changes, %s lock, %s\n", ti.Table, ti.Changes, ti.LockMode, rows)
	}

	fmt.Fprintln(w)
	_, _ = bold.Fprintln(w, "  Migration path:")
	for _, p := range adv.Path.Phases {
		marker := ""
		if p.RollbackPoint {
			marker = green.Sprint(" (rollback point)")
		}
		fmt.Fprintf(w, "    Phase %d: %s [%s] %s%s\n", p.Number, p.Name, riskLabel(p.RiskLevel), seconds(p.EstimatedDurationSeconds), marker)
		for _, c := range p.Changes {
			_, _ = dimmed.Fprintf(w, "      %s\n", c)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Rollback: %s (%d reversible, %d irreversible)\n",
		adv.Rollback.Strategy, adv.Rollback.ReversibleChanges, adv.Rollback.IrreversibleChanges)
	for _, n := range adv.Rollback.Notes {
		_, _ = dimmed.Fprintf(w, "    %s\n", n)
	}

	if len(adv.Mitigations) > 0 {
		fmt.Fprintln(w)
		_, _ = bold.Fprintln(w, "  Mitigations:")
		for _, m := range adv.Mitigations {
			fmt.Fprintf(w, "    - %s: %s\n", m.Concern, m.Action)
			if m.SQL != "" {
				_, _ = dimmed.Fprintf(w, "      %s\n", m.SQL)
			}
			if m.Rewrite != nil {
				for _, sql := range m.Rewrite.SQL {
					_, _ = dimmed.Fprintf(w, "      %s\n", sql)
				}
			}
		}
	}
	for _, warning := range adv.Warnings {
		_, _ = yellow.Fprintf(w, "  ! %s\n", warning)
	}
}
