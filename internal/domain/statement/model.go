package statement

import (
	"errors"

	"github.com/ehr/voicedb/internal/domain/command"
	"github.com/ehr/voicedb/internal/domain/schema"
)

var (
	// ErrPlaceholderMismatch means a template body and its bound values
	// disagree on the number of positional parameters.
	ErrPlaceholderMismatch = errors.New("placeholder count does not match bound parameters")

	// ErrUnknownEntity means a template was authored for an entity the
	// registry does not know.
	ErrUnknownEntity = errors.New("template references unregistered entity")
)

// Caller-facing reasons for a declined synthesis.
const (
	ReasonNoMatch      = "no matching operation/entity"
	reasonNotSupported = "operation not supported for entity: "
	reasonMissingParam = "missing required parameter: "
)

// Part selects which piece of a bound value a slot receives.
type Part int

const (
	PartWhole Part = iota
	// PartFirst is the text before the first run of whitespace.
	PartFirst
	// PartRest is the text after it, or "" for a single word.
	PartRest
)

// Slot is one positional parameter of a template. Slot i binds $i+1.
type Slot struct {
	Column     string
	Role       command.Role
	Occurrence int
	Part       Part
	Required   bool
	// AnyOf names a group of optional slots of which at least one must be
	// bound. The group name doubles as the reported parameter.
	AnyOf string
}

// Template is a pre-authored statement shape. User text never reaches Body.
type Template struct {
	ID            string
	Operation     command.Operation
	Entity        schema.EntityName
	Body          string
	Slots         []Slot
	IsDestructive bool
	ReturnsRows   bool
}

// Statement is the synthesized, still unapproved, statement for one request.
type Statement struct {
	Operation       command.Operation `json:"operation"`
	TargetEntity    schema.EntityName `json:"target_entity"`
	TemplateID      string            `json:"template_id"`
	Body            string            `json:"-"`
	BoundParameters []any             `json:"-"`
	TouchesPhi      bool              `json:"touches_phi"`
	IsDestructive   bool              `json:"is_destructive"`
	ReturnsRows     bool              `json:"returns_rows"`
	// SuspectParameters lists positions of bound values that look like SQL
	// injection attempts. Informational only.
	SuspectParameters []int `json:"suspect_parameters,omitempty"`
}

// Declined is the expected result when a command cannot be turned into a
// statement.
type Declined struct {
	Reason string `json:"reason"`
}
