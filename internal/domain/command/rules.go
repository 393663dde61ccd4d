package command

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ehr/voicedb/internal/domain/schema"
)

// entitiesToken in a signature pattern expands to an alternation of every
// spoken entity form known to the registry.
const entitiesToken = "{entities}"

// OperationSignature classifies normalized text into an operation. The first
// signature in table order that matches wins.
type OperationSignature struct {
	Operation Operation
	Pattern   *regexp.Regexp
}

// ExtractionRule pulls one role out of the raw text. Pattern must have
// exactly one capture group, which becomes the value. The rule is only tried
// for the listed operations and, when Entities is non-empty, only when one
// of those entities was mentioned. Upper folds the value to upper case for
// identifiers stored that way whatever case the transcript used.
type ExtractionRule struct {
	Role       Role
	Pattern    *regexp.Regexp
	Operations []Operation
	Entities   []schema.EntityName
	Upper      bool
}

func (r ExtractionRule) appliesTo(cmd *ParsedCommand) bool {
	opOK := false
	for _, op := range r.Operations {
		if op == cmd.Operation {
			opOK = true
			break
		}
	}
	if !opOK {
		return false
	}
	if len(r.Entities) == 0 {
		return true
	}
	for _, e := range r.Entities {
		if cmd.HasEntity(e) {
			return true
		}
	}
	return false
}

// RuleSet holds the two immutable pattern tables the front of the pipeline
// runs on. It is built once and injected, never read from globals.
type RuleSet struct {
	Signatures []OperationSignature
	Extraction []ExtractionRule
}

// SignatureSpec and RuleSpec are the uncompiled forms of the tables, shared
// by the built-in defaults and the YAML loader.
type SignatureSpec struct {
	Operation string `yaml:"operation"`
	Pattern   string `yaml:"pattern"`
}

type RuleSpec struct {
	Role       string   `yaml:"role"`
	Pattern    string   `yaml:"pattern"`
	Operations []string `yaml:"operations"`
	Entities   []string `yaml:"entities"`
	Upper      bool     `yaml:"upper"`
}

const (
	objectNouns = `records?|entry|entries|data`
	isoDate     = `\d{4}-\d{2}-\d{2}`
	usDate      = `\d{1,2}/\d{1,2}/\d{4}`
)

// DefaultSignatureSpecs is the built-in operation table in tie-break order.
// Asking for the structure or columns of something is a Describe even though
// it also reads like a Read, so that narrower signature is tried first.
func DefaultSignatureSpecs() []SignatureSpec {
	return []SignatureSpec{
		{"describe", `\b(?:show|list|display|get|what\s+are)\b.*\b(?:structure|columns)\b`},
		{"create", `\b(?:create|make|build|set\s+up)\b.*\b(?:tables?|database|schema)\b`},
		{"read", `\b(?:show|get|find|select|retrieve|display|list|search|fetch|look\s+up|pull\s+up)\b.*\b(?:` + entitiesToken + `|` + objectNouns + `)\b`},
		{"insert", `\b(?:add|insert|create|save|register|enroll)\b.*\b(?:` + entitiesToken + `|` + objectNouns + `)\b`},
		{"update", `\b(?:update|modify|change|edit|correct)\b.*\b(?:` + entitiesToken + `|` + objectNouns + `)\b`},
		{"delete", `\b(?:delete|remove|drop|erase|purge)\b.*\b(?:` + entitiesToken + `|` + objectNouns + `)\b`},
		{"describe", `\b(?:describe|explain)\b`},
	}
}

// DefaultRuleSpecs is the built-in extraction table. Order matters: earlier
// rules claim their spans first.
func DefaultRuleSpecs() []RuleSpec {
	patientScoped := []string{"patient", "appointment", "allergy", "diagnosis", "lab_result"}
	return []RuleSpec{
		{
			Role:       string(RoleIdentifier),
			Pattern:    `\b(MRN\d{4,12})\b`,
			Operations: []string{"read", "insert", "update", "delete"},
			Entities:   patientScoped,
			Upper:      true,
		},
		{
			Role:       string(RoleNPI),
			Pattern:    `\bnpi\s*(?:number|no\.?|#)?\s*[:=]?\s*(\d{10})\b`,
			Operations: []string{"read", "insert", "update", "delete"},
			Entities:   []string{"provider"},
		},
		{
			Role:       string(RoleEmail),
			Pattern:    `\be-?mail\b.*?([\w.+-]+@[\w-]+(?:\.[\w-]+)+)`,
			Operations: []string{"insert", "update"},
			Entities:   []string{"patient", "provider"},
		},
		{
			Role:       string(RolePhone),
			Pattern:    `\bphone\b.*?(\d{3}[-.]?\d{3}[-.]?\d{4})\b`,
			Operations: []string{"insert", "update"},
			Entities:   []string{"patient", "provider"},
		},
		{
			Role:       string(RoleDateOfBirth),
			Pattern:    `\b(?:born|dob|date\s+of\s+birth|birth\s*date)\b.*?(` + isoDate + `|` + usDate + `)`,
			Operations: []string{"read", "insert", "update"},
			Entities:   []string{"patient"},
		},
		{
			Role:       string(RoleDate),
			Pattern:    `\b(?:on|for|at|dated?)\s+(` + isoDate + `(?:[ T]\d{1,2}:\d{2})?|` + usDate + `)`,
			Operations: []string{"read", "insert", "delete"},
			Entities:   []string{"appointment"},
		},
		{
			Role:       string(RoleCode),
			Pattern:    `\b(?:code|icd(?:-?10)?)\s*[:=]?\s*([A-TV-Z]\d{2}(?:\.[A-Z0-9]{1,4})?)\b`,
			Operations: []string{"read", "delete"},
			Entities:   []string{"diagnosis"},
			Upper:      true,
		},
		{
			Role:       string(RolePersonName),
			Pattern:    `\b(?:name|named|called)\s+(?:is\s+)?(\p{L}[\p{L}'-]*(?:\s+\p{L}[\p{L}'-]*)*?)(?:\s+(?:born|dob|phone|email|npi|mrn|with|and|on|who)\b|\s*[,.;]|\s*$)`,
			Operations: []string{"read", "insert"},
			Entities:   []string{"patient", "provider"},
		},
		{
			Role:       string(RoleFilterClause),
			Pattern:    `\b(?:matching|containing|like|about|named|called|where)\s+["']?(.+?)["']?\s*$`,
			Operations: []string{"read"},
			Entities:   []string{"medication", "lab_result"},
		},
	}
}

// DefaultRuleSet compiles the built-in tables against reg.
func DefaultRuleSet(reg *schema.Registry) (*RuleSet, error) {
	return CompileRuleSet(reg, DefaultSignatureSpecs(), DefaultRuleSpecs())
}

// CompileRuleSet validates and compiles the given tables. Every operation,
// role and entity named must be known; an unregistered entity is a startup
// error rather than something discovered per request.
func CompileRuleSet(reg *schema.Registry, sigs []SignatureSpec, rules []RuleSpec) (*RuleSet, error) {
	alternation := entityAlternation(reg)
	rs := &RuleSet{}

	for i, s := range sigs {
		op, err := ParseOperation(s.Operation)
		if err != nil {
			return nil, fmt.Errorf("signature %d: %w", i, err)
		}
		if op == OpUnknown {
			return nil, fmt.Errorf("signature %d: operation must not be Unknown", i)
		}
		src := strings.ReplaceAll(s.Pattern, entitiesToken, alternation)
		re, err := regexp.Compile("(?i)" + src)
		if err != nil {
			return nil, fmt.Errorf("signature %d (%s): %w", i, op, err)
		}
		rs.Signatures = append(rs.Signatures, OperationSignature{Operation: op, Pattern: re})
	}

	for i, r := range rules {
		role := Role(r.Role)
		if !role.Valid() {
			return nil, fmt.Errorf("rule %d: unknown role %q", i, r.Role)
		}
		re, err := regexp.Compile("(?i)" + r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, role, err)
		}
		if re.NumSubexp() != 1 {
			return nil, fmt.Errorf("rule %d (%s): pattern must have exactly one capture group, has %d", i, role, re.NumSubexp())
		}
		if len(r.Operations) == 0 {
			return nil, fmt.Errorf("rule %d (%s): no operations listed", i, role)
		}
		rule := ExtractionRule{Role: role, Pattern: re, Upper: r.Upper}
		for _, o := range r.Operations {
			op, err := ParseOperation(o)
			if err != nil {
				return nil, fmt.Errorf("rule %d (%s): %w", i, role, err)
			}
			rule.Operations = append(rule.Operations, op)
		}
		for _, e := range r.Entities {
			name := schema.EntityName(e)
			if !reg.Has(name) {
				return nil, fmt.Errorf("rule %d (%s): %w: %s", i, role, schema.ErrNotFound, e)
			}
			rule.Entities = append(rule.Entities, name)
		}
		rs.Extraction = append(rs.Extraction, rule)
	}

	return rs, nil
}

// entityAlternation joins every spoken form of every registered entity.
func entityAlternation(reg *schema.Registry) string {
	var parts []string
	for _, name := range reg.Names() {
		for _, f := range reg.Forms(name) {
			parts = append(parts, formPattern(f))
		}
	}
	return strings.Join(parts, "|")
}

// formPattern quotes a spoken form and lets its words be separated by any
// run of whitespace.
func formPattern(form string) string {
	words := strings.Fields(form)
	for i, w := range words {
		words[i] = regexp.QuoteMeta(w)
	}
	return strings.Join(words, `\s+`)
}
