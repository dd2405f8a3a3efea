// Package impact summarizes what a set of schema differences means for the
// people running and depending on the database, before anything executes.
package impact

import (
	"sort"
	"strings"

	"github.com/lockplane/lockshift/internal/planner"
	"github.com/lockplane/lockshift/internal/risk"
	"github.com/lockplane/lockshift/internal/schema"
)

// Basic is the impact that can be derived from the differences alone.
type Basic struct {
	TotalChanges             int                       `json:"total_changes"`
	ByChangeKind             map[schema.ChangeKind]int `json:"by_change_kind"`
	ByObjectType             map[schema.ObjectType]int `json:"by_object_type"`
	RiskLevel                risk.Level                `json:"risk_level"`
	RiskSummary              risk.Summary              `json:"risk_summary"`
	DataLossPossible         bool                      `json:"data_loss_possible"`
	RequiresDowntime         bool                      `json:"requires_downtime"`
	EstimatedDurationSeconds int                       `json:"estimated_duration_seconds"`
	AffectedTables           []string                  `json:"affected_tables"`
	Operational              risk.Level                `json:"operational"`
	Financial                risk.Level                `json:"financial"`
	Compliance               risk.Level                `json:"compliance"`
	UserExperience           risk.Level                `json:"user_experience"`
}

// Name fragments that raise business weight. Matching is case-insensitive on
// the qualified object name.
var (
	financialTerms  = []string{"payment", "invoice", "billing", "transaction", "order", "price", "ledger", "refund"}
	complianceTerms = []string{"audit", "consent", "gdpr", "pii", "personal", "customer", "history"}
	customerTerms   = []string{"customer", "user", "account", "profile", "session", "login"}
)

// manyChanges is the change count at which operational impact is at least medium.
const manyChanges = 10

// Assess computes the basic impact of diffs.
func Assess(diffs []schema.SchemaDifference) *Basic {
	b := &Basic{
		TotalChanges:   len(diffs),
		ByChangeKind:   map[schema.ChangeKind]int{},
		ByObjectType:   map[schema.ObjectType]int{},
		AffectedTables: []string{},
	}

	tables := map[string]bool{}
	levels := make([]risk.Level, 0, len(diffs))
	for _, d := range diffs {
		b.ByChangeKind[d.ChangeKind]++
		b.ByObjectType[d.ObjectType]++
		levels = append(levels, risk.ForChange(d.ObjectType, d.ChangeKind))
		b.EstimatedDurationSeconds += planner.EstimateDuration(d)

		if dataLoss(d) {
			b.DataLossPossible = true
		}
		if lockOf(d).IsHighImpact() {
			b.RequiresDowntime = true
		}
		if t := d.OwningTable(); t != "" {
			tables[d.SchemaName()+"."+t] = true
		}
	}
	for t := range tables {
		b.AffectedTables = append(b.AffectedTables, t)
	}
	sort.Strings(b.AffectedTables)

	b.RiskSummary = risk.Summarize(levels)
	b.RiskLevel = b.RiskSummary.Overall
	b.Operational = operational(b)
	b.Financial = weighted(diffs, financialTerms)
	b.Compliance = weighted(diffs, complianceTerms)
	b.UserExperience = userExperience(diffs, b.RequiresDowntime)
	return b
}

func dataLoss(d schema.SchemaDifference) bool {
	if d.ChangeKind != schema.Removed {
		return false
	}
	switch d.ObjectType {
	case schema.ObjectTable, schema.ObjectColumn, schema.ObjectSequence:
		return true
	}
	return false
}

func operational(b *Basic) risk.Level {
	level := risk.Low
	if b.TotalChanges >= manyChanges || b.RiskLevel >= risk.Medium {
		level = risk.Medium
	}
	if b.RequiresDowntime {
		level = risk.Max(level, risk.High)
	}
	if b.RiskLevel == risk.Critical {
		level = risk.Critical
	}
	return level
}

// weighted scores diffs touching objects whose names contain any of terms:
// removal is critical, modification high, and addition medium. More than
// three matching changes of any kind are at least high.
func weighted(diffs []schema.SchemaDifference, terms []string) risk.Level {
	level := risk.Low
	matches := 0
	for _, d := range diffs {
		if !matchesAny(d, terms) {
			continue
		}
		matches++
		switch d.ChangeKind {
		case schema.Removed:
			level = risk.Max(level, risk.Critical)
		case schema.Modified:
			level = risk.Max(level, risk.High)
		default:
			level = risk.Max(level, risk.Medium)
		}
	}
	if matches > 3 {
		level = risk.Max(level, risk.High)
	}
	return level
}

func userExperience(diffs []schema.SchemaDifference, downtime bool) risk.Level {
	level := risk.Low
	for _, d := range diffs {
		visible := d.ObjectType == schema.ObjectView || matchesAny(d, customerTerms)
		if !visible {
			continue
		}
		if d.ChangeKind == schema.Removed {
			level = risk.Max(level, risk.High)
		} else {
			level = risk.Max(level, risk.Medium)
		}
	}
	if downtime {
		level = risk.Max(level, risk.Medium)
		if matchesAnyOf(diffs, customerTerms) {
			level = risk.Max(level, risk.High)
		}
	}
	return level
}

func matchesAny(d schema.SchemaDifference, terms []string) bool {
	name := strings.ToLower(d.QualifiedName())
	for _, t := range terms {
		if strings.Contains(name, t) {
			return true
		}
	}
	return false
}

func matchesAnyOf(diffs []schema.SchemaDifference, terms []string) bool {
	for _, d := range diffs {
		if matchesAny(d, terms) {
			return true
		}
	}
	return false
}
