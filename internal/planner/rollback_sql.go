package planner

import (
	"fmt"
	"strings"

	"github.com/lockplane/lockshift/internal/schema"
)

// rollbackSQL derives the per-step inverse. When no real inverse exists the
// result carries CannotRollbackMarker.
func (s *Synthesizer) rollbackSQL(diff schema.SchemaDifference, fwd forward) string {
	if fwd.failed {
		return cannotRollback("forward SQL for %s could not be generated", diff)
	}

	switch diff.ChangeKind {
	case schema.Added:
		return s.dropSQL(diff)

	case schema.Removed:
		if diff.SourceDefinition == "" {
			return cannotRollback("no source definition is available to recreate %s", diff)
		}
		return terminate(diff.SourceDefinition)

	case schema.Modified:
		if fwd.inverse != nil {
			if len(fwd.inverse) == 0 {
				return NoopMarker + ": nothing to undo for " + diff.String()
			}
			sql := strings.Join(fwd.inverse, "\n")
			if len(fwd.irreversible) > 0 {
				sql = fmt.Sprintf("-- WARNING: restores structure only; lost: %s\n%s", strings.Join(fwd.irreversible, ", "), sql)
			}
			return sql
		}
		if diff.SourceDefinition == "" {
			return cannotRollback("no source definition is available to restore %s", diff)
		}
		switch diff.ObjectType {
		case schema.ObjectIndex, schema.ObjectTrigger, schema.ObjectConstraint, schema.ObjectSequence:
			return s.dropSQL(diff) + "\n" + terminate(diff.SourceDefinition)
		default:
			return terminate(diff.SourceDefinition)
		}
	}
	return cannotRollback("unsupported change kind for %s", diff)
}

func cannotRollback(format string, diff schema.SchemaDifference) string {
	return CannotRollbackMarker + ": " + fmt.Sprintf(format, diff)
}
