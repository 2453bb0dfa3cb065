package schema_test

import (
	"testing"

	"github.com/signalnine/frugal/internal/schema"
)

const invoiceSchema = `{
  "type": "object",
  "required": ["vendor", "total"],
  "properties": {
    "vendor": {"type": "string"},
    "total": {"type": "number"}
  }
}`

func TestValidateAccepts(t *testing.T) {
	s, err := schema.Compile([]byte(invoiceSchema))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	out := s.Validate(`{"vendor": "Acme", "total": 12.50}`)
	if !out.Valid {
		t.Errorf("expected valid, got errors: %v", out.Errors)
	}
}

func TestValidateRejects(t *testing.T) {
	s, err := schema.Compile([]byte(invoiceSchema))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	tests := []struct {
		name   string
		output string
	}{
		{"null total", `{"vendor": "Acme", "total": null}`},
		{"missing field", `{"vendor": "Acme"}`},
		{"wrong type", `{"vendor": 7, "total": 1}`},
		{"not json", `the total is 12.50`},
		{"empty", ``},
	}
	for _, tt := range tests {
		out := s.Validate(tt.output)
		if out.Valid {
			t.Errorf("%s: expected invalid", tt.name)
		}
		if len(out.Errors) == 0 {
			t.Errorf("%s: expected validation errors", tt.name)
		}
	}
}

func TestNilSchemaAlwaysValid(t *testing.T) {
	s, err := schema.Compile(nil)
	if err != nil {
		t.Fatalf("Compile(nil): %v", err)
	}
	if out := s.Validate("any free text at all"); !out.Valid {
		t.Error("nil schema must accept everything")
	}
}

func TestMalformedSchema(t *testing.T) {
	if _, err := schema.Compile([]byte(`{"type": 42}`)); err == nil {
		t.Error("expected compile error for malformed schema")
	}
	if _, err := schema.Compile([]byte(`not json`)); err == nil {
		t.Error("expected compile error for non-JSON schema")
	}
}

func TestEnumAndRange(t *testing.T) {
	s, err := schema.Compile([]byte(`{
	  "type": "object",
	  "properties": {
	    "kind": {"enum": ["a", "b"]},
	    "score": {"type": "number", "minimum": 0, "maximum": 1}
	  }
	}`))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if out := s.Validate(`{"kind": "a", "score": 0.5}`); !out.Valid {
		t.Errorf("expected valid, got %v", out.Errors)
	}
	if out := s.Validate(`{"kind": "c"}`); out.Valid {
		t.Error("expected enum violation")
	}
	if out := s.Validate(`{"score": 1.5}`); out.Valid {
		t.Error("expected range violation")
	}
}
