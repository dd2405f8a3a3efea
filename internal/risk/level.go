// Package risk scores schema changes and migration plans on a four-level
// ordinal scale.
package risk

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lockplane/lockshift/internal/schema"
)

// Level is an ordinal risk classification. Higher values are riskier.
type Level int

const (
	Low Level = iota
	Medium
	High
	Critical
)

// Levels lists every level from lowest to highest.
var Levels = []Level{Low, Medium, High, Critical}

func (l Level) String() string {
	switch l {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	case Critical:
		return "critical"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// ParseLevel parses the lowercase names produced by String.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return Low, nil
	case "medium":
		return Medium, nil
	case "high":
		return High, nil
	case "critical":
		return Critical, nil
	default:
		return Low, fmt.Errorf("unknown risk level %q", s)
	}
}

func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

func (l *Level) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseLevel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Max returns the higher of two levels.
func Max(a, b Level) Level {
	if a > b {
		return a
	}
	return b
}

// ForChange scores a single difference:
// table removal is critical, column removal and table modification are high,
// any addition is medium, and everything else is low.
func ForChange(objectType schema.ObjectType, kind schema.ChangeKind) Level {
	switch {
	case objectType == schema.ObjectTable && kind == schema.Removed:
		return Critical
	case objectType == schema.ObjectColumn && kind == schema.Removed:
		return High
	case objectType == schema.ObjectTable && kind == schema.Modified:
		return High
	case kind == schema.Added:
		return Medium
	default:
		return Low
	}
}

// highThreshold is the number of high steps above which a plan is high.
const highThreshold = 3

// Aggregate folds step levels into a plan level: critical if any step is
// critical; high if more than three are high; medium if any is high; else low.
func Aggregate(levels []Level) Level {
	high := 0
	for _, l := range levels {
		if l >= Critical {
			return Critical
		}
		if l == High {
			high++
		}
	}
	switch {
	case high > highThreshold:
		return High
	case high > 0:
		return Medium
	default:
		return Low
	}
}

// Summary counts steps per level.
type Summary struct {
	Low      int   `json:"low"`
	Medium   int   `json:"medium"`
	High     int   `json:"high"`
	Critical int   `json:"critical"`
	Overall  Level `json:"overall"`
}

// Summarize counts levels and computes the aggregate.
func Summarize(levels []Level) Summary {
	var s Summary
	for _, l := range levels {
		switch {
		case l >= Critical:
			s.Critical++
		case l == High:
			s.High++
		case l == Medium:
			s.Medium++
		default:
			s.Low++
		}
	}
	s.Overall = Aggregate(levels)
	return s
}
