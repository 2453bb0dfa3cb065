// Package schema validates candidate job outputs against a declared
// JSON Schema. An absent schema means every output is valid.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

type Schema struct {
	compiled *jsonschema.Schema
}

type Outcome struct {
	Valid  bool
	Errors []string
}

// Compile parses and compiles a raw JSON Schema document. A malformed schema
// is a configuration error surfaced here, at submission time, never during
// validation. Compile(nil) returns a nil schema, which validates everything.
func Compile(raw []byte) (*Schema, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	compiled, err := jsonschema.CompileString("job-schema.json", string(raw))
	if err != nil {
		return nil, fmt.Errorf("compiling schema: %w", err)
	}
	return &Schema{compiled: compiled}, nil
}

// Validate checks one candidate output. Output that is not parseable JSON is
// invalid whenever a schema is declared.
func (s *Schema) Validate(output string) Outcome {
	if s == nil || s.compiled == nil {
		return Outcome{Valid: true}
	}

	dec := json.NewDecoder(strings.NewReader(output))
	dec.UseNumber()
	var instance any
	if err := dec.Decode(&instance); err != nil {
		return Outcome{Errors: []string{fmt.Sprintf("output is not valid JSON: %v", err)}}
	}

	if err := s.compiled.Validate(instance); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return Outcome{Errors: flatten(ve)}
		}
		return Outcome{Errors: []string{err.Error()}}
	}
	return Outcome{Valid: true}
}

func flatten(ve *jsonschema.ValidationError) []string {
	out := ve.BasicOutput()
	var msgs []string
	for _, e := range out.Errors {
		if e.Error == "" {
			continue
		}
		loc := e.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		msgs = append(msgs, fmt.Sprintf("%s: %s", loc, e.Error))
	}
	if len(msgs) == 0 {
		msgs = []string{ve.Error()}
	}
	return msgs
}
