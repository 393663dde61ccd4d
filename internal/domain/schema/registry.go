package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jinzhu/inflection"
)

// ErrNotFound is returned by Lookup for entities that are not registered.
var ErrNotFound = errors.New("entity not registered")

// Registry maps entity names to their schema. It is built once at startup
// and is read-only afterwards, so it is safe for concurrent use without
// locking.
type Registry struct {
	order    []EntityName
	entities map[EntityName]EntitySchema
	forms    map[EntityName][]string
}

// NewRegistry validates the entity definitions and builds a registry.
// Foreign keys must point at entities present in the same set, every entity
// needs exactly one primary key, and no spoken form may belong to two
// entities.
func NewRegistry(entities []EntitySchema) (*Registry, error) {
	r := &Registry{
		entities: make(map[EntityName]EntitySchema, len(entities)),
		forms:    make(map[EntityName][]string, len(entities)),
	}

	for _, e := range entities {
		if !e.Name.Valid() {
			return nil, fmt.Errorf("schema: unknown entity name %q", e.Name)
		}
		if _, dup := r.entities[e.Name]; dup {
			return nil, fmt.Errorf("schema: entity %q registered twice", e.Name)
		}
		if e.Table == "" {
			return nil, fmt.Errorf("schema: entity %q has no table", e.Name)
		}
		if len(e.Columns) == 0 {
			return nil, fmt.Errorf("schema: entity %q has no columns", e.Name)
		}
		pks := 0
		for _, c := range e.Columns {
			if c.IsPrimaryKey {
				pks++
			}
		}
		if pks != 1 {
			return nil, fmt.Errorf("schema: entity %q must have exactly one primary key, has %d", e.Name, pks)
		}
		r.order = append(r.order, e.Name)
		r.entities[e.Name] = e
	}

	owner := make(map[string]EntityName)
	for _, name := range r.order {
		e := r.entities[name]
		for _, c := range e.Columns {
			if c.ForeignKeyOf == "" {
				continue
			}
			if _, ok := r.entities[c.ForeignKeyOf]; !ok {
				return nil, fmt.Errorf("schema: %s.%s references unregistered entity %q", name, c.Name, c.ForeignKeyOf)
			}
		}
		for _, f := range spokenForms(e) {
			if prev, taken := owner[f]; taken && prev != name {
				return nil, fmt.Errorf("schema: spoken form %q claimed by both %q and %q", f, prev, name)
			}
			owner[f] = name
			r.forms[name] = append(r.forms[name], f)
		}
	}

	return r, nil
}

// MustDefault builds the registry from DefaultEntities and panics on error.
// The built-in definitions are static, so a failure is a programming error.
func MustDefault() *Registry {
	r, err := NewRegistry(DefaultEntities())
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup returns the schema for name, or ErrNotFound.
func (r *Registry) Lookup(name EntityName) (*EntitySchema, error) {
	e, ok := r.entities[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return &e, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name EntityName) bool {
	_, ok := r.entities[name]
	return ok
}

// AllEntities returns every registered entity in registration order.
func (r *Registry) AllEntities() []EntitySchema {
	out := make([]EntitySchema, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.entities[n])
	}
	return out
}

// Names returns the registered entity names in registration order.
func (r *Registry) Names() []EntityName {
	return append([]EntityName(nil), r.order...)
}

// Forms returns the spoken forms (name, aliases and their plurals) that
// refer to an entity, longest first.
func (r *Registry) Forms(name EntityName) []string {
	return append([]string(nil), r.forms[name]...)
}

// DDL renders the CREATE statement for an entity. Everything in the output
// comes from the registry; no caller text is involved.
func (r *Registry) DDL(name EntityName) (string, error) {
	e, err := r.Lookup(name)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, seq := range e.Sequences {
		fmt.Fprintf(&b, "CREATE SEQUENCE IF NOT EXISTS %s;\n", seq)
	}
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", e.Table)
	for i, c := range e.Columns {
		b.WriteString("    ")
		b.WriteString(c.Name)
		b.WriteByte(' ')
		b.WriteString(c.Type)
		if c.IsPrimaryKey {
			b.WriteString(" PRIMARY KEY")
		}
		if c.Default != "" {
			b.WriteString(" DEFAULT ")
			b.WriteString(c.Default)
		}
		if !c.Nullable && !c.IsPrimaryKey {
			b.WriteString(" NOT NULL")
		}
		if c.Unique {
			b.WriteString(" UNIQUE")
		}
		if c.ForeignKeyOf != "" {
			ref := r.entities[c.ForeignKeyOf]
			fmt.Fprintf(&b, " REFERENCES %s(id)", ref.Table)
		}
		if i < len(e.Columns)-1 {
			b.WriteByte(',')
		}
		b.WriteByte('\n')
	}
	b.WriteString(");")
	return b.String(), nil
}

// spokenForms expands an entity into the lower-case phrases a speaker may
// use for it: the name with underscores as spaces, each alias, and the
// plural of every one of those.
func spokenForms(e EntitySchema) []string {
	base := append([]string{strings.ReplaceAll(string(e.Name), "_", " ")}, e.Aliases...)

	seen := make(map[string]bool)
	var forms []string
	add := func(s string) {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		forms = append(forms, s)
	}
	for _, b := range base {
		add(b)
		add(inflection.Plural(b))
	}

	sort.SliceStable(forms, func(i, j int) bool { return len(forms[i]) > len(forms[j]) })
	return forms
}
