package planner

import (
	"sort"

	"github.com/lockplane/lockshift/internal/schema"
)

// bucketRank orders change kinds: drops free names before creates run, and
// alters assume the object exists in its pre-change shape.
func bucketRank(kind schema.ChangeKind) int {
	switch kind {
	case schema.Removed:
		return 0
	case schema.Added:
		return 1
	default:
		return 2
	}
}

// Triage returns the differences ordered Removed, Added, Modified, keeping
// input order within each bucket. The input slice is not modified.
func Triage(diffs []schema.SchemaDifference) []schema.SchemaDifference {
	out := make([]schema.SchemaDifference, len(diffs))
	copy(out, diffs)
	sort.SliceStable(out, func(i, j int) bool {
		return bucketRank(out[i].ChangeKind) < bucketRank(out[j].ChangeKind)
	})
	return out
}

// SameBucket reports whether two change kinds share a triage bucket.
func SameBucket(a, b schema.ChangeKind) bool {
	return bucketRank(a) == bucketRank(b)
}

// BucketBefore reports whether kind a's bucket runs before kind b's.
func BucketBefore(a, b schema.ChangeKind) bool {
	return bucketRank(a) < bucketRank(b)
}

// Renumber assigns dense 1-based orders following slice order.
func Renumber(steps []*MigrationStep) {
	for i, s := range steps {
		s.Order = i + 1
	}
}
