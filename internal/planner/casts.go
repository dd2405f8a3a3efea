package planner

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/lockplane/lockshift/database/postgres"
)

type typeFamily int

const (
	familyOther typeFamily = iota
	familyInteger
	familyNumeric
	familyText
	familyBoolean
	familyDate
	familyTimestamp
	familyTime
	familyJSON
	familyUUID
)

var typeModifier = regexp.MustCompile(`\s*\(.*\)`)

func familyOf(dataType string) typeFamily {
	t := strings.ToLower(strings.TrimSpace(dataType))
	t = typeModifier.ReplaceAllString(t, "")
	switch t {
	case "smallint", "integer", "int", "bigint", "int2", "int4", "int8", "smallserial", "serial", "bigserial":
		return familyInteger
	case "numeric", "decimal", "real", "double precision", "float4", "float8", "money":
		return familyNumeric
	case "text", "character varying", "varchar", "character", "char", "bpchar", "citext", "name":
		return familyText
	case "boolean", "bool":
		return familyBoolean
	case "date":
		return familyDate
	case "timestamp", "timestamp without time zone", "timestamp with time zone", "timestamptz":
		return familyTimestamp
	case "time", "time without time zone", "time with time zone", "timetz":
		return familyTime
	case "json", "jsonb":
		return familyJSON
	case "uuid":
		return familyUUID
	default:
		return familyOther
	}
}

// sameType compares two type names ignoring case and spacing.
func sameType(a, b string) bool {
	norm := func(s string) string { return strings.Join(strings.Fields(strings.ToLower(s)), " ") }
	return norm(a) == norm(b)
}

// Patterns used to guard text conversions. Non-conforming values become NULL
// instead of failing the ALTER. Dates are checked for month and day ranges
// only, so a value such as 2024-02-30 still reaches the cast.
const (
	integerPattern   = `^[[:space:]]*[-+]?[0-9]+[[:space:]]*$`
	numericPattern   = `^[[:space:]]*[-+]?([0-9]+[.]?[0-9]*|[.][0-9]+)([eE][-+]?[0-9]+)?[[:space:]]*$`
	datePattern      = `^[[:space:]]*[0-9]{4}-(0[1-9]|1[0-2])-(0[1-9]|[12][0-9]|3[01])[[:space:]]*$`
	timestampPattern = `^[[:space:]]*[0-9]{4}-(0[1-9]|1[0-2])-(0[1-9]|[12][0-9]|3[01])([ T][0-9]{2}:[0-9]{2}(:[0-9]{2}([.][0-9]+)?)?)?([+-][0-9]{2}(:?[0-9]{2})?|Z)?[[:space:]]*$`
	uuidPattern      = `^[[:space:]]*[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}[[:space:]]*$`
)

func integerWidth(dataType string) int {
	switch strings.ToLower(strings.TrimSpace(dataType)) {
	case "smallint", "int2", "smallserial":
		return 2
	case "bigint", "int8", "bigserial":
		return 8
	default:
		return 4
	}
}

// CastExpression returns the USING expression for changing column from one
// type to another and whether the conversion can lose data. An empty
// expression means Postgres converts implicitly without loss.
func CastExpression(column, fromType, toType string) (using string, lossy bool) {
	col := postgres.QuoteIdent(column)
	from, to := familyOf(fromType), familyOf(toType)

	guarded := func(pattern string) string {
		return fmt.Sprintf("CASE WHEN %s ~ %s THEN trim(%s)::%s ELSE NULL END",
			col, postgres.QuoteLiteral(pattern), col, toType)
	}

	switch {
	case sameType(fromType, toType):
		return "", false
	case from == to && from == familyText:
		// widening or narrowing a string type truncates at worst
		return fmt.Sprintf("%s::%s", col, toType), false
	case from == to && from == familyInteger:
		return fmt.Sprintf("%s::%s", col, toType), integerWidth(toType) < integerWidth(fromType)
	case from == to && from != familyOther:
		return fmt.Sprintf("%s::%s", col, toType), from == familyNumeric
	case from == familyInteger && to == familyNumeric:
		return fmt.Sprintf("%s::%s", col, toType), false
	case from == familyNumeric && to == familyInteger:
		return fmt.Sprintf("round(%s)::%s", col, toType), true
	case to == familyText:
		return fmt.Sprintf("%s::%s", col, toType), false
	case from == familyText && to == familyInteger:
		return guarded(integerPattern), true
	case from == familyText && to == familyNumeric:
		return guarded(numericPattern), true
	case from == familyText && to == familyDate:
		return guarded(datePattern), true
	case from == familyText && to == familyTimestamp:
		return guarded(timestampPattern), true
	case from == familyText && to == familyUUID:
		return guarded(uuidPattern), true
	case from == familyText && to == familyBoolean:
		return fmt.Sprintf("CASE WHEN lower(trim(%[1]s)) IN ('t', 'true', 'y', 'yes', 'on', '1') THEN true "+
			"WHEN lower(trim(%[1]s)) IN ('f', 'false', 'n', 'no', 'off', '0') THEN false ELSE NULL END", col), true
	case from == familyBoolean && to == familyInteger:
		return fmt.Sprintf("CASE WHEN %s THEN 1 ELSE 0 END", col), false
	case from == familyInteger && to == familyBoolean:
		return fmt.Sprintf("%s <> 0", col), true
	case from == familyTimestamp && to == familyDate:
		return fmt.Sprintf("%s::date", col), true
	case from == familyDate && to == familyTimestamp:
		return fmt.Sprintf("%s::%s", col, toType), false
	default:
		return fmt.Sprintf("%s::%s", col, toType), true
	}
}
