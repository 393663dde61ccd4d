package command

import (
	"fmt"
	"strings"

	"github.com/ehr/voicedb/internal/domain/schema"
)

// Operation is the verb a command asks for.
type Operation int

const (
	OpUnknown Operation = iota
	OpCreate
	OpRead
	OpInsert
	OpUpdate
	OpDelete
	OpDescribe
)

var operationNames = map[Operation]string{
	OpUnknown:  "Unknown",
	OpCreate:   "Create",
	OpRead:     "Read",
	OpInsert:   "Insert",
	OpUpdate:   "Update",
	OpDelete:   "Delete",
	OpDescribe: "Describe",
}

func (o Operation) String() string {
	if s, ok := operationNames[o]; ok {
		return s
	}
	return fmt.Sprintf("Operation(%d)", int(o))
}

// MarshalText renders the operation name for JSON output.
func (o Operation) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// ParseOperation accepts an operation name in any case.
func ParseOperation(s string) (Operation, error) {
	for op, name := range operationNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return op, nil
		}
	}
	return OpUnknown, fmt.Errorf("unknown operation %q", s)
}

// Role names the meaning of an extracted value.
type Role string

const (
	RolePersonName   Role = "personName"
	RoleDateOfBirth  Role = "dateOfBirth"
	RolePhone        Role = "phone"
	RoleEmail        Role = "email"
	RoleIdentifier   Role = "identifier"
	RoleNPI          Role = "npi"
	RoleDate         Role = "date"
	RoleCode         Role = "code"
	RoleFilterClause Role = "filterClause"
)

var knownRoles = map[Role]bool{
	RolePersonName: true, RoleDateOfBirth: true, RolePhone: true, RoleEmail: true,
	RoleIdentifier: true, RoleNPI: true, RoleDate: true, RoleCode: true, RoleFilterClause: true,
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool { return knownRoles[r] }

// ParsedCommand is the normalizer's view of one utterance.
type ParsedCommand struct {
	RawText    string    `json:"raw_text"`
	Normalized string    `json:"normalized"`
	Operation  Operation `json:"operation"`
	// MatchedEntities holds each matched entity once, in registry order.
	MatchedEntities []schema.EntityName `json:"matched_entities"`
	// PrimaryEntity is the matched entity mentioned earliest in the text.
	PrimaryEntity schema.EntityName `json:"primary_entity,omitempty"`
	IsPhiContext  bool              `json:"is_phi_context"`
	Confidence    float64           `json:"confidence"`
}

// HasEntity reports whether name was mentioned.
func (p *ParsedCommand) HasEntity(name schema.EntityName) bool {
	for _, e := range p.MatchedEntities {
		if e == name {
			return true
		}
	}
	return false
}

// Span is a byte range within the raw text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (s Span) overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

// ExtractedParameter is one typed value pulled out of the raw text.
type ExtractedParameter struct {
	Role       Role   `json:"role"`
	Value      string `json:"value"`
	SourceSpan Span   `json:"source_span"`
}
