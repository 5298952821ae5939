package takeoff

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema.json
var schemaJSON []byte

// maxSchemaIssues caps how many validation messages a report carries.
const maxSchemaIssues = 20

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

// SchemaJSON returns the JSON schema describing the canonical batch payload.
func SchemaJSON() []byte {
	return schemaJSON
}

func resultSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("takeoff.json", bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("failed to load result schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile("takeoff.json")
		if schemaErr != nil {
			schemaErr = fmt.Errorf("failed to compile result schema: %w", schemaErr)
		}
	})
	return compiledSchema, schemaErr
}

// validateDocument checks a decoded model document against the schema and
// returns the leaf violations. Violations are informational; coerce repairs
// them.
func validateDocument(doc any) []string {
	schema, err := resultSchema()
	if err != nil {
		return []string{err.Error()}
	}
	err = schema.Validate(doc)
	if err == nil {
		return nil
	}

	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []string{err.Error()}
	}
	var issues []string
	collectIssues(ve, &issues)
	return issues
}

func collectIssues(ve *jsonschema.ValidationError, issues *[]string) {
	if len(*issues) >= maxSchemaIssues {
		return
	}
	if len(ve.Causes) == 0 {
		loc := ve.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		*issues = append(*issues, fmt.Sprintf("%s: %s", loc, ve.Message))
		return
	}
	for _, cause := range ve.Causes {
		collectIssues(cause, issues)
	}
}
