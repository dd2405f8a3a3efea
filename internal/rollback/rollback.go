// Package rollback assembles the reverse plan for a set of migration steps.
package rollback

import (
	"fmt"
	"strings"

	"github.com/lockplane/lockshift/internal/errs"
	"github.com/lockplane/lockshift/internal/logger"
	"github.com/lockplane/lockshift/internal/planner"
	"github.com/lockplane/lockshift/internal/risk"
)

// Success rate model, in percent.
const (
	fullSuccessRate    = 100
	partialStepPenalty = 20
	warningPenalty     = 10
	minSuccessRate     = 30
)

// lossyPrefix marks a per-step rollback that restores structure but not data.
const lossyPrefix = "-- WARNING: restores structure only"

// Step undoes one forward step.
type Step struct {
	ForwardStepID            string     `json:"forward_step_id"`
	Order                    int        `json:"order"`
	Name                     string     `json:"name"`
	SQL                      string     `json:"sql"`
	RiskLevel                risk.Level `json:"risk_level"`
	EstimatedDurationSeconds int        `json:"estimated_duration_seconds"`
	// Partial is set when the forward step has no genuine inverse and SQL is
	// only a placeholder.
	Partial bool `json:"partial"`
}

// Script is the best-effort reverse plan.
type Script struct {
	IsComplete               bool     `json:"is_complete"`
	Steps                    []Step   `json:"steps"`
	EstimatedRollbackMinutes int      `json:"estimated_rollback_minutes"`
	SuccessRatePercent       int      `json:"success_rate_percent"`
	Warnings                 []string `json:"warnings"`
	Limitations              []string `json:"limitations"`
}

// PartialSteps counts steps without a genuine inverse.
func (s *Script) PartialSteps() int {
	n := 0
	for _, st := range s.Steps {
		if st.Partial {
			n++
		}
	}
	return n
}

// DurationSeconds sums the step estimates.
func (s *Script) DurationSeconds() int {
	total := 0
	for _, st := range s.Steps {
		total += st.EstimatedDurationSeconds
	}
	return total
}

// Planner builds rollback scripts.
type Planner struct {
	log *logger.Logger
}

// NewPlanner creates a planner. log may be nil.
func NewPlanner(log *logger.Logger) *Planner {
	return &Planner{log: logger.OrNop(log)}
}

// Plan walks steps in reverse and emits one rollback step per forward step.
func (p *Planner) Plan(steps []*planner.MigrationStep) (*Script, error) {
	script := &Script{
		IsComplete:  true,
		Steps:       make([]Step, 0, len(steps)),
		Warnings:    []string{},
		Limitations: []string{},
	}

	for i := len(steps) - 1; i >= 0; i-- {
		fwd := steps[i]
		if fwd == nil {
			return nil, errs.Newf(errs.KindInvalidInput, "migration step %d is nil", i)
		}

		st := Step{
			ForwardStepID: fwd.ID,
			Order:         len(script.Steps) + 1,
			Name:          "Rollback: " + fwd.Name,
			SQL:           fwd.RollbackSQL,
		}

		if fwd.HasGenuineRollback() {
			st.RiskLevel = fwd.RiskLevel
			st.EstimatedDurationSeconds = fwd.EstimatedDurationSeconds
			if strings.HasPrefix(strings.TrimSpace(fwd.RollbackSQL), lossyPrefix) {
				script.Warnings = append(script.Warnings,
					fmt.Sprintf("Rollback of %s restores structure but not data", fwd.ID))
			}
		} else {
			st.Partial = true
			st.RiskLevel = risk.High
			st.EstimatedDurationSeconds = fwd.EstimatedDurationSeconds / 2
			script.IsComplete = false
			script.Warnings = append(script.Warnings,
				fmt.Sprintf("Step %s has no automatic rollback", fwd.ID))
			script.Limitations = append(script.Limitations,
				fmt.Sprintf("%s must be reverted manually: %s", fwd.Name, placeholderReason(fwd.RollbackSQL)))
		}

		script.Steps = append(script.Steps, st)
	}

	script.EstimatedRollbackMinutes = minutes(script.DurationSeconds())
	script.SuccessRatePercent = SuccessRate(script.PartialSteps(), len(script.Warnings))

	p.log.With().
		Int("steps", len(script.Steps)).
		Int("partial", script.PartialSteps()).
		Int("success_rate", script.SuccessRatePercent).
		Logger().
		Debug("planned rollback")

	return script, nil
}

// PlanSafely never fails: a generation error or panic yields Empty.
func (p *Planner) PlanSafely(steps []*planner.MigrationStep) (script *Script) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Errorf("rollback planning panicked: %v", r)
			script = Empty(fmt.Sprintf("Rollback planning failed: %v", r))
		}
	}()

	script, err := p.Plan(steps)
	if err != nil {
		p.log.ErrorWith("rollback planning failed", err, nil)
		return Empty(fmt.Sprintf("Rollback planning failed: %v", err))
	}
	return script
}

// Empty returns a degenerate script with no steps.
func Empty(reasons ...string) *Script {
	warnings := append([]string{}, reasons...)
	warnings = append(warnings, "No rollback steps could be generated; the migration must be reverted manually")
	return &Script{
		IsComplete:         false,
		Steps:              []Step{},
		SuccessRatePercent: minSuccessRate,
		Warnings:           warnings,
		Limitations:        []string{"Automatic rollback is unavailable"},
	}
}

// SuccessRate is 100, minus 20 per partial step and 10 per warning, floored
// at 30.
func SuccessRate(partialSteps, warnings int) int {
	rate := fullSuccessRate - partialStepPenalty*partialSteps - warningPenalty*warnings
	if rate < minSuccessRate {
		return minSuccessRate
	}
	return rate
}

func minutes(seconds int) int {
	return (seconds + 59) / 60
}

// placeholderReason extracts the explanation from a placeholder comment.
func placeholderReason(sql string) string {
	text := strings.TrimSpace(sql)
	for _, marker := range []string{planner.CannotRollbackMarker, planner.ManualDefinitionMarker} {
		if strings.HasPrefix(text, marker) {
			text = strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(text, marker), ":"))
			break
		}
	}
	if text == "" {
		return "no rollback SQL was generated"
	}
	return strings.TrimPrefix(text, "-- ")
}
