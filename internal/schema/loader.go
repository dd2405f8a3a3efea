package schema

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/lockplane/lockshift/internal/errs"
)

//go:embed differences.schema.json
var differencesJSONSchema string

type differencesDocument struct {
	Differences []SchemaDifference `json:"differences"`
}

// LoadDifferences reads a differences document. Files ending in .yaml or .yml
// are parsed as YAML, everything else as JSON. The document may be an object
// with a "differences" array or a bare array.
func LoadDifferences(path string) ([]SchemaDifference, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read differences file %s: %w", path, err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		return ParseDifferencesYAML(data)
	}
	return ParseDifferencesJSON(data)
}

// ParseDifferencesYAML converts YAML to JSON and parses it.
func ParseDifferencesYAML(data []byte) ([]SchemaDifference, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errs.Wrap(errs.KindInvalidInput, "invalid YAML differences document", err)
	}
	jsonData, err := json.Marshal(doc)
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidInput, "differences document is not JSON-compatible", err)
	}
	return ParseDifferencesJSON(jsonData)
}

// ParseDifferencesJSON validates data against the differences JSON schema and
// decodes it.
func ParseDifferencesJSON(data []byte) ([]SchemaDifference, error) {
	data, err := wrapBareArray(data)
	if err != nil {
		return nil, err
	}

	problems, err := ValidateDifferencesDocument(data)
	if err != nil {
		return nil, err
	}
	if len(problems) > 0 {
		return nil, errs.Newf(errs.KindInvalidInput, "differences document is invalid: %s", strings.Join(problems, "; "))
	}

	var doc differencesDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errs.Wrap(errs.KindInvalidInput, "failed to decode differences", err)
	}
	for i, d := range doc.Differences {
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("difference %d: %w", i, err)
		}
	}
	return doc.Differences, nil
}

// ValidateDifferencesDocument returns one message per schema violation.
func ValidateDifferencesDocument(data []byte) ([]string, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(differencesJSONSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidInput, "differences document could not be validated", err)
	}
	var problems []string
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return problems, nil
}

func wrapBareArray(data []byte) ([]byte, error) {
	trimmed := strings.TrimSpace(string(data))
	if !strings.HasPrefix(trimmed, "[") {
		return data, nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		return nil, errs.Wrap(errs.KindInvalidInput, "invalid differences array", err)
	}
	return json.Marshal(map[string]any{"differences": raw})
}
