package schema

import "time"

// EntityName identifies a registered healthcare entity. The set is closed:
// only the constants below are accepted by the registry.
type EntityName string

const (
	Patient     EntityName = "patient"
	Provider    EntityName = "provider"
	Appointment EntityName = "appointment"
	Medication  EntityName = "medication"
	Allergy     EntityName = "allergy"
	Diagnosis   EntityName = "diagnosis"
	LabResult   EntityName = "lab_result"
)

// KnownEntities lists every entity name in registry order.
var KnownEntities = []EntityName{Patient, Provider, Appointment, Medication, Allergy, Diagnosis, LabResult}

// Valid reports whether n is one of the closed set of entity names.
func (n EntityName) Valid() bool {
	for _, k := range KnownEntities {
		if k == n {
			return true
		}
	}
	return false
}

func (n EntityName) String() string { return string(n) }

// ColumnDef describes one column of an entity table.
type ColumnDef struct {
	Name         string     `json:"name"`
	Type         string     `json:"type"`
	Nullable     bool       `json:"nullable"`
	Unique       bool       `json:"unique"`
	IsPrimaryKey bool       `json:"is_primary_key"`
	ForeignKeyOf EntityName `json:"foreign_key_of,omitempty"`
	Default      string     `json:"default,omitempty"`
}

// EntitySchema is the registry entry for a single entity.
type EntitySchema struct {
	Name                  EntityName    `json:"name"`
	Table                 string        `json:"table"`
	Columns               []ColumnDef   `json:"columns"`
	IsPhiSensitive        bool          `json:"is_phi_sensitive"`
	DefaultAuditRetention time.Duration `json:"default_audit_retention"`
	// Aliases are extra spoken forms ("doctor" for provider). Plurals are
	// derived automatically.
	Aliases []string `json:"aliases,omitempty"`
	// Sequences are created ahead of the table by the DDL.
	Sequences []string `json:"sequences,omitempty"`
}

// Column returns the named column definition.
func (e *EntitySchema) Column(name string) (ColumnDef, bool) {
	for _, c := range e.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnDef{}, false
}

const (
	day            = 24 * time.Hour
	phiRetention   = 2555 * day // 7 years
	basicRetention = 365 * day
)

// DefaultEntities returns the built-in healthcare entity definitions.
func DefaultEntities() []EntitySchema {
	return []EntitySchema{
		{
			Name:                  Patient,
			Table:                 "patients",
			IsPhiSensitive:        true,
			DefaultAuditRetention: phiRetention,
			Sequences:             []string{"mrn_sequence"},
			Columns: []ColumnDef{
				idColumn(),
				{Name: "medical_record_number", Type: "VARCHAR(50)", Unique: true},
				{Name: "first_name", Type: "VARCHAR(100)"},
				{Name: "last_name", Type: "VARCHAR(100)"},
				{Name: "date_of_birth", Type: "DATE", Nullable: true},
				{Name: "phone", Type: "VARCHAR(20)", Nullable: true},
				{Name: "email", Type: "VARCHAR(255)", Nullable: true},
				{Name: "address", Type: "TEXT", Nullable: true},
				{Name: "consent_given", Type: "BOOLEAN", Default: "FALSE"},
				{Name: "consent_date", Type: "TIMESTAMPTZ", Nullable: true},
				{Name: "data_retention_until", Type: "DATE", Nullable: true},
				createdAtColumn(),
				{Name: "updated_at", Type: "TIMESTAMPTZ", Default: "now()"},
			},
		},
		{
			Name:                  Provider,
			Table:                 "providers",
			DefaultAuditRetention: basicRetention,
			Aliases:               []string{"doctor", "physician", "practitioner"},
			Columns: []ColumnDef{
				idColumn(),
				{Name: "npi", Type: "VARCHAR(10)", Nullable: true, Unique: true},
				{Name: "first_name", Type: "VARCHAR(100)"},
				{Name: "last_name", Type: "VARCHAR(100)"},
				{Name: "specialty", Type: "VARCHAR(100)", Nullable: true},
				{Name: "license_number", Type: "VARCHAR(50)", Nullable: true},
				{Name: "phone", Type: "VARCHAR(20)", Nullable: true},
				{Name: "email", Type: "VARCHAR(255)", Nullable: true},
				createdAtColumn(),
				{Name: "updated_at", Type: "TIMESTAMPTZ", Default: "now()"},
			},
		},
		{
			Name:                  Appointment,
			Table:                 "appointments",
			IsPhiSensitive:        true,
			DefaultAuditRetention: phiRetention,
			Aliases:               []string{"visit"},
			Columns: []ColumnDef{
				idColumn(),
				{Name: "patient_id", Type: "UUID", ForeignKeyOf: Patient},
				{Name: "provider_id", Type: "UUID", Nullable: true, ForeignKeyOf: Provider},
				{Name: "scheduled_at", Type: "TIMESTAMPTZ"},
				{Name: "status", Type: "VARCHAR(20)", Default: "'scheduled'"},
				{Name: "type", Type: "VARCHAR(50)", Nullable: true},
				{Name: "notes", Type: "TEXT", Nullable: true},
				createdAtColumn(),
			},
		},
		{
			Name:                  Medication,
			Table:                 "medications",
			DefaultAuditRetention: basicRetention,
			Aliases:               []string{"drug", "prescription"},
			Columns: []ColumnDef{
				idColumn(),
				{Name: "name", Type: "VARCHAR(200)"},
				{Name: "generic_name", Type: "VARCHAR(200)", Nullable: true},
				{Name: "strength", Type: "VARCHAR(50)", Nullable: true},
				{Name: "form", Type: "VARCHAR(50)", Nullable: true},
				{Name: "ndc_number", Type: "VARCHAR(20)", Nullable: true, Unique: true},
				createdAtColumn(),
			},
		},
		{
			Name:                  Allergy,
			Table:                 "allergies",
			IsPhiSensitive:        true,
			DefaultAuditRetention: phiRetention,
			Columns: []ColumnDef{
				idColumn(),
				{Name: "patient_id", Type: "UUID", ForeignKeyOf: Patient},
				{Name: "allergen", Type: "VARCHAR(200)"},
				{Name: "reaction", Type: "VARCHAR(200)", Nullable: true},
				{Name: "severity", Type: "VARCHAR(20)", Nullable: true},
				{Name: "onset_date", Type: "DATE", Nullable: true},
				createdAtColumn(),
			},
		},
		{
			Name:                  Diagnosis,
			Table:                 "diagnoses",
			IsPhiSensitive:        true,
			DefaultAuditRetention: phiRetention,
			Aliases:               []string{"condition"},
			Columns: []ColumnDef{
				idColumn(),
				{Name: "patient_id", Type: "UUID", ForeignKeyOf: Patient},
				{Name: "icd10_code", Type: "VARCHAR(10)"},
				{Name: "description", Type: "TEXT", Nullable: true},
				{Name: "date_diagnosed", Type: "DATE", Nullable: true},
				createdAtColumn(),
			},
		},
		{
			Name:                  LabResult,
			Table:                 "lab_results",
			IsPhiSensitive:        true,
			DefaultAuditRetention: phiRetention,
			Aliases:               []string{"lab", "test result"},
			Columns: []ColumnDef{
				idColumn(),
				{Name: "patient_id", Type: "UUID", ForeignKeyOf: Patient},
				{Name: "test_name", Type: "VARCHAR(200)"},
				{Name: "result_value", Type: "VARCHAR(100)", Nullable: true},
				{Name: "reference_range", Type: "VARCHAR(100)", Nullable: true},
				{Name: "date_collected", Type: "TIMESTAMPTZ", Nullable: true},
				createdAtColumn(),
			},
		},
	}
}

func idColumn() ColumnDef {
	return ColumnDef{Name: "id", Type: "UUID", IsPrimaryKey: true, Default: "gen_random_uuid()"}
}

func createdAtColumn() ColumnDef {
	return ColumnDef{Name: "created_at", Type: "TIMESTAMPTZ", Default: "now()"}
}
