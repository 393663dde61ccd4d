package statement

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ehr/voicedb/internal/domain/command"
	"github.com/ehr/voicedb/internal/domain/schema"
)

// DefaultReadLimit caps the rows a read template returns.
const DefaultReadLimit = 50

type templateKey struct {
	op     command.Operation
	entity schema.EntityName
}

// Catalog holds one template per (operation, entity). It is built at
// startup and read-only afterwards.
type Catalog struct {
	byKey map[templateKey]*Template
	byID  map[string]*Template
}

// TemplateID names the template for an operation on an entity.
func TemplateID(op command.Operation, entity schema.EntityName) string {
	return string(entity) + "." + strings.ToLower(op.String())
}

// NewCatalog builds the standard catalog: Create and Describe for every
// registered entity plus the hand-written read and write shapes.
func NewCatalog(reg *schema.Registry, readLimit int) (*Catalog, error) {
	if readLimit <= 0 {
		readLimit = DefaultReadLimit
	}
	var templates []Template
	for _, e := range reg.AllEntities() {
		ddl, err := reg.DDL(e.Name)
		if err != nil {
			return nil, err
		}
		templates = append(templates,
			Template{Operation: command.OpCreate, Entity: e.Name, Body: ddl},
			Template{Operation: command.OpDescribe, Entity: e.Name, Body: describeBody(e.Table), ReturnsRows: true},
		)
	}
	templates = append(templates, readTemplates(readLimit)...)
	templates = append(templates, writeTemplates()...)
	return NewCatalogFrom(reg, templates)
}

// NewCatalogFrom validates and indexes an explicit template list.
func NewCatalogFrom(reg *schema.Registry, templates []Template) (*Catalog, error) {
	c := &Catalog{
		byKey: make(map[templateKey]*Template, len(templates)),
		byID:  make(map[string]*Template, len(templates)),
	}
	for i := range templates {
		t := templates[i]
		if !reg.Has(t.Entity) {
			return nil, fmt.Errorf("template %s: %w: %s", TemplateID(t.Operation, t.Entity), ErrUnknownEntity, t.Entity)
		}
		if t.Operation == command.OpUnknown {
			return nil, fmt.Errorf("template for %s: operation must not be Unknown", t.Entity)
		}
		if t.ID == "" {
			t.ID = TemplateID(t.Operation, t.Entity)
		}
		key := templateKey{t.Operation, t.Entity}
		if _, dup := c.byKey[key]; dup {
			return nil, fmt.Errorf("template %s defined twice", t.ID)
		}
		n, err := countPlaceholders(t.Body)
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", t.ID, err)
		}
		if n != len(t.Slots) {
			return nil, fmt.Errorf("template %s: %w: body has %d, slots %d", t.ID, ErrPlaceholderMismatch, n, len(t.Slots))
		}
		for _, s := range t.Slots {
			if !s.Role.Valid() {
				return nil, fmt.Errorf("template %s: slot %s has unknown role %q", t.ID, s.Column, s.Role)
			}
		}
		c.byKey[key] = &t
		c.byID[t.ID] = &t
	}
	return c, nil
}

// Lookup returns the template for op on entity.
func (c *Catalog) Lookup(op command.Operation, entity schema.EntityName) (*Template, bool) {
	t, ok := c.byKey[templateKey{op, entity}]
	return t, ok
}

// ByID returns the template with the given id.
func (c *Catalog) ByID(id string) (*Template, bool) {
	t, ok := c.byID[id]
	return t, ok
}

// Templates returns every template sorted by id.
func (c *Catalog) Templates() []*Template {
	out := make([]*Template, 0, len(c.byID))
	for _, t := range c.byID {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func describeBody(table string) string {
	return `SELECT column_name::text, data_type::text, is_nullable::text, column_default::text
FROM information_schema.columns
WHERE table_schema = current_schema() AND table_name = '` + table + `'
ORDER BY ordinal_position`
}

func optional(column string, role command.Role) Slot {
	return Slot{Column: column, Role: role}
}

func required(column string, role command.Role) Slot {
	return Slot{Column: column, Role: role, Required: true}
}

func readTemplates(limit int) []Template {
	lim := fmt.Sprintf("\nLIMIT %d", limit)
	return []Template{
		{
			Operation: command.OpRead, Entity: schema.Patient, ReturnsRows: true,
			Body: `SELECT id, medical_record_number, first_name, last_name, date_of_birth, phone, email
FROM patients
WHERE ($1::text IS NULL OR first_name ILIKE '%' || $1::text || '%' OR last_name ILIKE '%' || $1::text || '%'
       OR (first_name || ' ' || last_name) ILIKE '%' || $1::text || '%')
  AND ($2::text IS NULL OR date_of_birth = $2::text::date)
  AND ($3::text IS NULL OR medical_record_number = $3::text)
ORDER BY last_name, first_name` + lim,
			Slots: []Slot{
				optional("name", command.RolePersonName),
				optional("date_of_birth", command.RoleDateOfBirth),
				optional("medical_record_number", command.RoleIdentifier),
			},
		},
		{
			Operation: command.OpRead, Entity: schema.Provider, ReturnsRows: true,
			Body: `SELECT id, npi, first_name, last_name, specialty, phone, email
FROM providers
WHERE ($1::text IS NULL OR first_name ILIKE '%' || $1::text || '%' OR last_name ILIKE '%' || $1::text || '%'
       OR (first_name || ' ' || last_name) ILIKE '%' || $1::text || '%')
  AND ($2::text IS NULL OR npi = $2::text)
ORDER BY last_name, first_name` + lim,
			Slots: []Slot{
				optional("name", command.RolePersonName),
				optional("npi", command.RoleNPI),
			},
		},
		{
			Operation: command.OpRead, Entity: schema.Appointment, ReturnsRows: true,
			Body: `SELECT a.id, p.medical_record_number, a.provider_id, a.scheduled_at, a.status, a.type
FROM appointments a
JOIN patients p ON p.id = a.patient_id
WHERE ($1::text IS NULL OR p.medical_record_number = $1::text)
  AND ($2::text IS NULL OR a.scheduled_at::date = $2::text::date)
ORDER BY a.scheduled_at` + lim,
			Slots: []Slot{
				optional("medical_record_number", command.RoleIdentifier),
				optional("scheduled_at", command.RoleDate),
			},
		},
		{
			Operation: command.OpRead, Entity: schema.Medication, ReturnsRows: true,
			Body: `SELECT id, name, generic_name, strength, form, ndc_number
FROM medications
WHERE ($1::text IS NULL OR name ILIKE '%' || $1::text || '%' OR generic_name ILIKE '%' || $1::text || '%')
ORDER BY name` + lim,
			Slots: []Slot{
				optional("name", command.RoleFilterClause),
			},
		},
		{
			Operation: command.OpRead, Entity: schema.Allergy, ReturnsRows: true,
			Body: `SELECT al.id, p.medical_record_number, al.allergen, al.reaction, al.severity, al.onset_date
FROM allergies al
JOIN patients p ON p.id = al.patient_id
WHERE ($1::text IS NULL OR p.medical_record_number = $1::text)
ORDER BY al.allergen` + lim,
			Slots: []Slot{
				optional("medical_record_number", command.RoleIdentifier),
			},
		},
		{
			Operation: command.OpRead, Entity: schema.Diagnosis, ReturnsRows: true,
			Body: `SELECT d.id, p.medical_record_number, d.icd10_code, d.description, d.date_diagnosed
FROM diagnoses d
JOIN patients p ON p.id = d.patient_id
WHERE ($1::text IS NULL OR p.medical_record_number = $1::text)
  AND ($2::text IS NULL OR d.icd10_code = upper($2::text))
ORDER BY d.date_diagnosed DESC NULLS LAST` + lim,
			Slots: []Slot{
				optional("medical_record_number", command.RoleIdentifier),
				optional("icd10_code", command.RoleCode),
			},
		},
		{
			Operation: command.OpRead, Entity: schema.LabResult, ReturnsRows: true,
			Body: `SELECT l.id, p.medical_record_number, l.test_name, l.result_value, l.reference_range, l.date_collected
FROM lab_results l
JOIN patients p ON p.id = l.patient_id
WHERE ($1::text IS NULL OR p.medical_record_number = $1::text)
  AND ($2::text IS NULL OR l.test_name ILIKE '%' || $2::text || '%')
ORDER BY l.date_collected DESC NULLS LAST` + lim,
			Slots: []Slot{
				optional("medical_record_number", command.RoleIdentifier),
				optional("test_name", command.RoleFilterClause),
			},
		},
	}
}

func writeTemplates() []Template {
	contact := func(column string, role command.Role) Slot {
		return Slot{Column: column, Role: role, AnyOf: "phone or email"}
	}
	return []Template{
		{
			Operation: command.OpInsert, Entity: schema.Patient,
			Body: `INSERT INTO patients (medical_record_number, first_name, last_name, date_of_birth, phone, email)
VALUES (CONCAT('MRN', LPAD(nextval('mrn_sequence')::TEXT, 8, '0')), $1, $2, $3::text::date, $4, $5)`,
			Slots: []Slot{
				{Column: "first_name", Role: command.RolePersonName, Part: PartFirst, Required: true},
				{Column: "last_name", Role: command.RolePersonName, Part: PartRest, Required: true},
				optional("date_of_birth", command.RoleDateOfBirth),
				optional("phone", command.RolePhone),
				optional("email", command.RoleEmail),
			},
		},
		{
			Operation: command.OpInsert, Entity: schema.Provider,
			Body: `INSERT INTO providers (first_name, last_name, npi, phone, email)
VALUES ($1, $2, $3, $4, $5)`,
			Slots: []Slot{
				{Column: "first_name", Role: command.RolePersonName, Part: PartFirst, Required: true},
				{Column: "last_name", Role: command.RolePersonName, Part: PartRest, Required: true},
				optional("npi", command.RoleNPI),
				optional("phone", command.RolePhone),
				optional("email", command.RoleEmail),
			},
		},
		{
			Operation: command.OpInsert, Entity: schema.Appointment,
			Body: `INSERT INTO appointments (patient_id, scheduled_at)
SELECT id, $2::text::timestamptz FROM patients WHERE medical_record_number = $1`,
			Slots: []Slot{
				required("patient_id", command.RoleIdentifier),
				required("scheduled_at", command.RoleDate),
			},
		},
		{
			Operation: command.OpUpdate, Entity: schema.Patient,
			Body: `UPDATE patients
SET phone = COALESCE($2, phone), email = COALESCE($3, email), updated_at = now()
WHERE medical_record_number = $1`,
			Slots: []Slot{
				required("medical_record_number", command.RoleIdentifier),
				contact("phone", command.RolePhone),
				contact("email", command.RoleEmail),
			},
		},
		{
			Operation: command.OpUpdate, Entity: schema.Provider,
			Body: `UPDATE providers
SET phone = COALESCE($2, phone), email = COALESCE($3, email), updated_at = now()
WHERE npi = $1`,
			Slots: []Slot{
				required("npi", command.RoleNPI),
				contact("phone", command.RolePhone),
				contact("email", command.RoleEmail),
			},
		},
		{
			Operation: command.OpDelete, Entity: schema.Patient, IsDestructive: true,
			Body:  `DELETE FROM patients WHERE medical_record_number = $1`,
			Slots: []Slot{required("medical_record_number", command.RoleIdentifier)},
		},
		{
			Operation: command.OpDelete, Entity: schema.Provider, IsDestructive: true,
			Body:  `DELETE FROM providers WHERE npi = $1`,
			Slots: []Slot{required("npi", command.RoleNPI)},
		},
		{
			Operation: command.OpDelete, Entity: schema.Appointment, IsDestructive: true,
			Body: `DELETE FROM appointments
WHERE patient_id IN (SELECT id FROM patients WHERE medical_record_number = $1)
  AND scheduled_at::date = $2::text::date`,
			Slots: []Slot{
				required("patient_id", command.RoleIdentifier),
				required("scheduled_at", command.RoleDate),
			},
		},
		{
			Operation: command.OpDelete, Entity: schema.Allergy, IsDestructive: true,
			Body: `DELETE FROM allergies
WHERE patient_id IN (SELECT id FROM patients WHERE medical_record_number = $1)`,
			Slots: []Slot{required("patient_id", command.RoleIdentifier)},
		},
		{
			Operation: command.OpDelete, Entity: schema.Diagnosis, IsDestructive: true,
			Body: `DELETE FROM diagnoses
WHERE patient_id IN (SELECT id FROM patients WHERE medical_record_number = $1)
  AND icd10_code = upper($2::text)`,
			Slots: []Slot{
				required("patient_id", command.RoleIdentifier),
				required("icd10_code", command.RoleCode),
			},
		},
	}
}
