package command

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/ehr/voicedb/internal/domain/schema"
)

type pipelineFront struct {
	normalizer *Normalizer
	extractor  *Extractor
}

func newFront(t *testing.T) pipelineFront {
	t.Helper()
	reg := schema.MustDefault()
	rules, err := DefaultRuleSet(reg)
	if err != nil {
		t.Fatalf("default rule set: %v", err)
	}
	return pipelineFront{normalizer: NewNormalizer(reg, rules), extractor: NewExtractor(rules)}
}

func (f pipelineFront) extract(text string) []ExtractedParameter {
	return f.extractor.Extract(f.normalizer.Normalize(text))
}

type rv struct {
	Role  Role
	Value string
}

func roleValues(params []ExtractedParameter) []rv {
	out := make([]rv, 0, len(params))
	for _, p := range params {
		out = append(out, rv{p.Role, p.Value})
	}
	return out
}

func TestExtract_Scenarios(t *testing.T) {
	f := newFront(t)

	tests := []struct {
		name  string
		input string
		want  []rv
	}{
		{
			name:  "insert patient",
			input: "add patient name John Smith born 1985-06-15 phone 555-123-4567",
			want: []rv{
				{RolePersonName, "John Smith"},
				{RoleDateOfBirth, "1985-06-15"},
				{RolePhone, "555-123-4567"},
			},
		},
		{
			name:  "insert patient with email",
			input: "add patient name Mary Jane Watson email mj@example.org",
			want: []rv{
				{RolePersonName, "Mary Jane Watson"},
				{RoleEmail, "mj@example.org"},
			},
		},
		{
			name:  "accented name",
			input: "add patient name José García born 1985-06-15",
			want: []rv{
				{RolePersonName, "José García"},
				{RoleDateOfBirth, "1985-06-15"},
			},
		},
		{
			name:  "apostrophe and hyphen in name",
			input: "add patient name Siobhán O'Neil-Ruiz",
			want:  []rv{{RolePersonName, "Siobhán O'Neil-Ruiz"}},
		},
		{
			name:  "lower case mrn is folded",
			input: "delete patient mrn00001234",
			want:  []rv{{RoleIdentifier, "MRN00001234"}},
		},
		{
			name:  "lower case icd code is folded",
			input: "show diagnoses for patient mrn00001234 code e11.9",
			want: []rv{
				{RoleIdentifier, "MRN00001234"},
				{RoleCode, "E11.9"},
			},
		},
		{
			name:  "delete by mrn",
			input: "delete patient MRN00001234",
			want:  []rv{{RoleIdentifier, "MRN00001234"}},
		},
		{
			name:  "read by name and dob",
			input: "find patients named John born 06/15/1985",
			want: []rv{
				{RolePersonName, "John"},
				{RoleDateOfBirth, "06/15/1985"},
			},
		},
		{
			name:  "appointment by mrn and date",
			input: "show appointments for patient MRN00001234 on 2025-01-10",
			want: []rv{
				{RoleIdentifier, "MRN00001234"},
				{RoleDate, "2025-01-10"},
			},
		},
		{
			name:  "repeated role keeps order",
			input: "show patients MRN00000002 and MRN00000001",
			want: []rv{
				{RoleIdentifier, "MRN00000002"},
				{RoleIdentifier, "MRN00000001"},
			},
		},
		{
			name:  "provider npi",
			input: "delete provider npi 1234567890",
			want:  []rv{{RoleNPI, "1234567890"}},
		},
		{
			name:  "diagnosis code",
			input: "show diagnoses for patient MRN00001234 code E11.9",
			want: []rv{
				{RoleIdentifier, "MRN00001234"},
				{RoleCode, "E11.9"},
			},
		},
		{
			name:  "medication filter",
			input: "find medications containing aspirin",
			want:  []rv{{RoleFilterClause, "aspirin"}},
		},
		{
			name:  "nothing to extract",
			input: "show me the weather",
			want:  []rv{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := roleValues(f.extract(tt.input))
			if diff := cmp.Diff(tt.want, got, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("parameters mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestExtract_RulesGatedByOperation(t *testing.T) {
	f := newFront(t)
	// Phone and email rules only apply to Insert and Update.
	got := f.extract("find patients named John phone 555-123-4567")
	for _, p := range got {
		if p.Role == RolePhone {
			t.Errorf("phone should not be extracted for Read, got %+v", p)
		}
	}
}

func TestExtract_SpansPointIntoRawText(t *testing.T) {
	f := newFront(t)
	text := "add patient name John Smith born 1985-06-15"
	for _, p := range f.extract(text) {
		if text[p.SourceSpan.Start:p.SourceSpan.End] != p.Value {
			t.Errorf("span %+v does not cover %q", p.SourceSpan, p.Value)
		}
	}
}

func TestExtract_NoSpanClaimedTwice(t *testing.T) {
	reg := schema.MustDefault()
	rules, err := CompileRuleSet(reg, DefaultSignatureSpecs(), []RuleSpec{
		{Role: "identifier", Pattern: `(MRN\d+)`, Operations: []string{"read"}},
		{Role: "code", Pattern: `(\d{4,})`, Operations: []string{"read"}},
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	n := NewNormalizer(reg, rules)
	x := NewExtractor(rules)

	got := roleValues(x.Extract(n.Normalize("show patient MRN12345 and 99999")))
	want := []rv{{RoleIdentifier, "MRN12345"}, {RoleCode, "99999"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("parameters mismatch (-want +got):\n%s", diff)
	}
}

func TestExtract_Idempotent(t *testing.T) {
	f := newFront(t)
	in := "add patient name John Smith born 1985-06-15 phone 555-123-4567 email js@example.com"
	if diff := cmp.Diff(f.extract(in), f.extract(in)); diff != "" {
		t.Errorf("extract not idempotent:\n%s", diff)
	}
}

func TestExtract_NilCommand(t *testing.T) {
	f := newFront(t)
	if got := f.extractor.Extract(nil); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
}

func TestByRole(t *testing.T) {
	params := []ExtractedParameter{
		{Role: RoleIdentifier, Value: "a"},
		{Role: RolePhone, Value: "b"},
		{Role: RoleIdentifier, Value: "c"},
	}
	got := ByRole(params, RoleIdentifier)
	if len(got) != 2 || got[0].Value != "a" || got[1].Value != "c" {
		t.Errorf("unexpected ByRole result: %+v", got)
	}
}
