// Package schema defines the schema differences the planner consumes and
// loads them from JSON or YAML documents.
package schema

import (
	"fmt"
	"strings"

	"github.com/lockplane/lockshift/internal/errs"
)

// ObjectType is the kind of database object a difference touches.
type ObjectType string

const (
	ObjectTable      ObjectType = "table"
	ObjectColumn     ObjectType = "column"
	ObjectIndex      ObjectType = "index"
	ObjectView       ObjectType = "view"
	ObjectFunction   ObjectType = "function"
	ObjectTrigger    ObjectType = "trigger"
	ObjectSequence   ObjectType = "sequence"
	ObjectConstraint ObjectType = "constraint"
	ObjectSchema     ObjectType = "schema"
	ObjectUserType   ObjectType = "type"
)

// KnownObjectTypes lists every object type the planner has specific handling for.
var KnownObjectTypes = []ObjectType{
	ObjectTable, ObjectColumn, ObjectIndex, ObjectView, ObjectFunction,
	ObjectTrigger, ObjectSequence, ObjectConstraint, ObjectSchema, ObjectUserType,
}

// Known reports whether t has specific handling.
func (t ObjectType) Known() bool {
	for _, k := range KnownObjectTypes {
		if k == t {
			return true
		}
	}
	return false
}

// Nested reports whether objects of this type are named "table.object".
func (t ObjectType) Nested() bool {
	return t == ObjectColumn || t == ObjectConstraint || t == ObjectTrigger
}

// ChangeKind says how an object differs between source and target.
type ChangeKind string

const (
	Added    ChangeKind = "Added"
	Removed  ChangeKind = "Removed"
	Modified ChangeKind = "Modified"
)

// Valid reports whether k is one of the three change kinds.
func (k ChangeKind) Valid() bool {
	return k == Added || k == Removed || k == Modified
}

// SchemaDifference is one detected structural delta. It is produced by an
// external differ and never mutated by the planner.
type SchemaDifference struct {
	ObjectType        ObjectType `json:"object_type" yaml:"object_type"`
	Schema            string     `json:"schema" yaml:"schema"`
	ObjectName        string     `json:"object_name" yaml:"object_name"`
	ChangeKind        ChangeKind `json:"change_kind" yaml:"change_kind"`
	SourceDefinition  string     `json:"source_definition,omitempty" yaml:"source_definition,omitempty"`
	TargetDefinition  string     `json:"target_definition,omitempty" yaml:"target_definition,omitempty"`
	DifferenceDetails []string   `json:"difference_details,omitempty" yaml:"difference_details,omitempty"`
}

// Validate checks the fields every consumer relies on.
func (d SchemaDifference) Validate() error {
	if d.ObjectType == "" {
		return errs.New(errs.KindInvalidInput, "difference has no object type")
	}
	if strings.TrimSpace(d.ObjectName) == "" {
		return errs.Newf(errs.KindInvalidInput, "%s difference has no object name", d.ObjectType)
	}
	if !d.ChangeKind.Valid() {
		return errs.Newf(errs.KindInvalidInput, "difference %s has invalid change kind %q", d.ObjectName, d.ChangeKind)
	}
	if d.ObjectType.Nested() {
		if table, _ := d.Parent(); table == "" {
			return errs.Newf(errs.KindInvalidInput, "%s %q must be named table.%s", d.ObjectType, d.ObjectName, d.ObjectType)
		}
	}
	return nil
}

// SchemaName returns the schema, defaulting to public.
func (d SchemaDifference) SchemaName() string {
	if d.Schema == "" {
		return "public"
	}
	return d.Schema
}

// Parent splits a nested object name into its table and own name. For
// non-nested types, or names without a dot, table is "".
func (d SchemaDifference) Parent() (table, name string) {
	if !d.ObjectType.Nested() {
		return "", d.ObjectName
	}
	i := strings.LastIndex(d.ObjectName, ".")
	if i <= 0 || i == len(d.ObjectName)-1 {
		return "", d.ObjectName
	}
	return d.ObjectName[:i], d.ObjectName[i+1:]
}

// LocalName is the object's own name without its table prefix.
func (d SchemaDifference) LocalName() string {
	_, name := d.Parent()
	return name
}

// OwningTable returns the table a difference belongs to: the table itself for
// table differences, the parent table for nested objects, else "".
func (d SchemaDifference) OwningTable() string {
	if d.ObjectType == ObjectTable {
		return d.ObjectName
	}
	table, _ := d.Parent()
	return table
}

// QualifiedName renders schema.objectName.
func (d SchemaDifference) QualifiedName() string {
	return d.SchemaName() + "." + d.ObjectName
}

func (d SchemaDifference) String() string {
	return fmt.Sprintf("%s %s %s", d.ChangeKind, d.ObjectType, d.QualifiedName())
}
