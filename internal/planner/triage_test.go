package planner

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/lockplane/lockshift/internal/schema"
)

func TestTriageOrdersBuckets(t *testing.T) {
	diffs := []schema.SchemaDifference{
		{ObjectType: schema.ObjectTable, ObjectName: "a", ChangeKind: schema.Modified},
		{ObjectType: schema.ObjectTable, ObjectName: "b", ChangeKind: schema.Added},
		{ObjectType: schema.ObjectTable, ObjectName: "c", ChangeKind: schema.Removed},
		{ObjectType: schema.ObjectTable, ObjectName: "d", ChangeKind: schema.Added},
		{ObjectType: schema.ObjectTable, ObjectName: "e", ChangeKind: schema.Removed},
	}

	got := Triage(diffs)

	want := []string{"c", "e", "b", "d", "a"}
	for i, name := range want {
		if got[i].ObjectName != name {
			t.Fatalf("Position %d: expected %s, got %s", i, name, got[i].ObjectName)
		}
	}
	if diffs[0].ObjectName != "a" {
		t.Error("Triage must not reorder its input")
	}
}

func TestRenumberIsDense(t *testing.T) {
	steps := []*MigrationStep{{Order: 7}, {Order: 2}, {Order: 9}}
	Renumber(steps)
	for i, s := range steps {
		if s.Order != i+1 {
			t.Errorf("Step %d: expected order %d, got %d", i, i+1, s.Order)
		}
	}
}

var changeKinds = []schema.ChangeKind{schema.Added, schema.Removed, schema.Modified}

func TestTriageProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	toDiffs := func(kinds []int) []schema.SchemaDifference {
		diffs := make([]schema.SchemaDifference, len(kinds))
		for i, k := range kinds {
			diffs[i] = schema.SchemaDifference{
				ObjectType: schema.ObjectTable,
				ObjectName: fmt.Sprintf("t%d", i),
				ChangeKind: changeKinds[k],
			}
		}
		return diffs
	}

	properties.Property("buckets never run out of order", prop.ForAll(
		func(kinds []int) bool {
			out := Triage(toDiffs(kinds))
			for i := 1; i < len(out); i++ {
				if BucketBefore(out[i].ChangeKind, out[i-1].ChangeKind) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, len(changeKinds)-1)),
	))

	properties.Property("input order is kept within a bucket", prop.ForAll(
		func(kinds []int) bool {
			in := toDiffs(kinds)
			out := Triage(in)
			pos := make(map[string]int, len(in))
			for i, d := range in {
				pos[d.ObjectName] = i
			}
			for i := 1; i < len(out); i++ {
				if SameBucket(out[i].ChangeKind, out[i-1].ChangeKind) && pos[out[i].ObjectName] < pos[out[i-1].ObjectName] {
					return false
				}
			}
			return len(out) == len(in)
		},
		gen.SliceOf(gen.IntRange(0, len(changeKinds)-1)),
	))

	properties.TestingRun(t)
}
