package core

import (
	"fmt"
	"log"
	"strings"

	"backend/internal/core/domain"
)

// RolePermissions is one role's CRUD grant on a model, with an optional
// domain expression applied as an implicit row filter for that role.
type RolePermissions struct {
	Create bool
	Read   bool
	Write  bool
	Delete bool
	Domain string
}

// ComputeFunc derives a field value from a record's current state.
type ComputeFunc func(env *Environment, rec *Record) (any, error)

// accessKind is the per-field access strategy decided once at model
// construction.
type accessKind int

const (
	accessColumn accessKind = iota
	accessComputed
	accessMany2one
	accessOne2many
	accessMany2many
	accessAttachment
)

// ModelDef is the declarative input to Define.
type ModelDef struct {
	Name        string
	Table       string // derived from Name when empty (dots to underscores)
	Description string
	NameField   string // display-name field; guessed when empty
	StatusField string
	Transient   bool
	// TransientMaxAgeHours bounds how long transient records survive before
	// the GC sweep removes them. Zero means the 24h default.
	TransientMaxAgeHours int

	Fields      []FieldDef
	Permissions map[string]RolePermissions
	Views       map[string]any
	Computes    map[string]ComputeFunc
	// Filters are named search filters: filter name to domain expression.
	Filters map[string]string
}

// Model is a constructed, registered model. All lookup tables are built once
// by Define and read-only afterwards.
type Model struct {
	Name                 string
	Table                string
	Description          string
	NameField            string
	StatusField          string
	Transient            bool
	TransientMaxAgeHours int
	Permissions          map[string]RolePermissions
	Views                map[string]any
	Filters              map[string]string

	fields     map[string]Field
	fieldOrder []string
	columns    []Column
	relations  map[string]RelationshipSpec
	// m2oRelAttr maps a many2one field name to the attribute exposing the
	// resolved record (team_id -> team); relAttrField is the reverse.
	m2oRelAttr   map[string]string
	relAttrField map[string]string
	access       map[string]accessKind
	computes     map[string]ComputeFunc
	computeOrder []string
	uniqueFields []string
}

// Define constructs a model from its declaration, synthesizes its storage
// and dispatch tables, and registers it.
func Define(def ModelDef) (*Model, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("model definition requires a name")
	}
	m := &Model{
		Name:                 def.Name,
		Table:                def.Table,
		Description:          def.Description,
		NameField:            def.NameField,
		StatusField:          def.StatusField,
		Transient:            def.Transient,
		TransientMaxAgeHours: def.TransientMaxAgeHours,
		Permissions:          def.Permissions,
		Views:                def.Views,
		Filters:              def.Filters,
		fields:               make(map[string]Field, len(def.Fields)),
		relations:            make(map[string]RelationshipSpec),
		m2oRelAttr:           make(map[string]string),
		relAttrField:         make(map[string]string),
		access:               make(map[string]accessKind),
		computes:             def.Computes,
	}
	if m.Table == "" {
		m.Table = defaultTableName(def.Name)
	}
	if m.Transient && m.TransientMaxAgeHours == 0 {
		m.TransientMaxAgeHours = 24
	}
	if m.computes == nil {
		m.computes = map[string]ComputeFunc{}
	}

	for _, fd := range def.Fields {
		name, f := fd.Name, fd.Field
		if name == "" || name == "id" {
			return nil, fmt.Errorf("%s: invalid field name %q", def.Name, name)
		}
		if _, dup := m.fields[name]; dup {
			return nil, fmt.Errorf("%s: duplicate field %q", def.Name, name)
		}
		if f.IsRelational() && f.Relation == "" && !f.IsAttachment() {
			return nil, fmt.Errorf("%s.%s: relational field requires a target model", def.Name, name)
		}
		if f.Type == FieldOne2many && f.InverseName == "" {
			return nil, fmt.Errorf("%s.%s: one2many requires an inverse field", def.Name, name)
		}
		if f.IsAttachment() && f.Relation == "" {
			f.Relation = AttachmentModel
		}
		m.fields[name] = f
		m.fieldOrder = append(m.fieldOrder, name)

		if col, ok := f.StorageColumn(name); ok {
			m.columns = append(m.columns, col)
		}
		if spec, ok := f.Relationship(name, m.Table, modelTable(f.Relation)); ok {
			m.relations[name] = spec
			if spec.Kind == RelMany2one {
				m.m2oRelAttr[name] = spec.Attr
				m.relAttrField[spec.Attr] = name
			}
		}
		m.access[name] = accessStrategy(f)
		if f.Compute != "" {
			if _, ok := m.computes[f.Compute]; !ok {
				return nil, fmt.Errorf("%s.%s: compute %q has no registered function", def.Name, name, f.Compute)
			}
			m.computeOrder = append(m.computeOrder, name)
		}
		if f.Unique {
			if _, hasCol := f.StorageColumn(name); !hasCol {
				return nil, fmt.Errorf("%s.%s: unique requires a storage column", def.Name, name)
			}
			m.uniqueFields = append(m.uniqueFields, name)
		}
	}

	if m.NameField == "" {
		m.NameField = guessNameField(m.fields)
	}
	if m.StatusField == "" {
		if _, ok := m.fields["status"]; ok {
			m.StatusField = "status"
		} else if _, ok := m.fields["state"]; ok {
			m.StatusField = "state"
		}
	}

	if err := RegisterModel(m); err != nil {
		return nil, err
	}
	return m, nil
}

// MustDefine is Define for startup-time declarations, where a bad model
// definition is unrecoverable.
func MustDefine(def ModelDef) *Model {
	m, err := Define(def)
	if err != nil {
		panic(err)
	}
	return m
}

func accessStrategy(f Field) accessKind {
	switch f.Type {
	case FieldMany2one:
		return accessMany2one
	case FieldOne2many:
		return accessOne2many
	case FieldMany2many:
		return accessMany2many
	case FieldAttachment, FieldAttachments:
		return accessAttachment
	}
	if f.Compute != "" && !f.Stored() {
		return accessComputed
	}
	return accessColumn
}

func defaultTableName(name string) string {
	return strings.ReplaceAll(name, ".", "_")
}

func guessNameField(fields map[string]Field) string {
	for _, cand := range []string{"name", "full_name", "subject", "title", "label"} {
		if _, ok := fields[cand]; ok {
			return cand
		}
	}
	return "id"
}

// Field returns the descriptor for a declared field.
func (m *Model) Field(name string) (Field, bool) {
	f, ok := m.fields[name]
	return f, ok
}

// FieldNames returns field names in declaration order.
func (m *Model) FieldNames() []string {
	out := make([]string, len(m.fieldOrder))
	copy(out, m.fieldOrder)
	return out
}

// Columns returns the synthesized storage columns, excluding the implicit id.
func (m *Model) Columns() []Column {
	out := make([]Column, len(m.columns))
	copy(out, m.columns)
	return out
}

// Relationship returns the relational spec for a field.
func (m *Model) Relationship(name string) (RelationshipSpec, bool) {
	spec, ok := m.relations[name]
	return spec, ok
}

// RelationAttrField maps a relation attribute name (team) back to its
// many2one field (team_id), so both spellings read through Record.Get.
func (m *Model) RelationAttrField(attr string) (string, bool) {
	f, ok := m.relAttrField[attr]
	return f, ok
}

// RolePermission returns the permission entry declared for a role. Absence
// means denial, not error.
func (m *Model) RolePermission(role string) (RolePermissions, bool) {
	p, ok := m.Permissions[role]
	return p, ok
}

// HasColumn reports whether a name is a stored column of this model,
// including the implicit id and timestamp columns every table carries.
func (m *Model) HasColumn(name string) bool {
	switch name {
	case "id", "created_at", "updated_at":
		return true
	}
	for _, c := range m.columns {
		if c.Name == name {
			return true
		}
	}
	return false
}

// knownFieldSet returns the field names usable in this model's domain
// expressions.
func (m *Model) knownFieldSet() map[string]bool {
	out := make(map[string]bool, len(m.fieldOrder)+1)
	out["id"] = true
	for _, name := range m.fieldOrder {
		out[name] = true
	}
	return out
}

// UIMetadata builds the model-level metadata map: per-field metadata with
// validated modifier expressions and normalized image configuration, plus
// the view layout, display-name field, status field, and transient flag.
func (m *Model) UIMetadata() map[string]any {
	known := m.knownFieldSet()
	fields := make(map[string]any, len(m.fieldOrder))
	for _, name := range m.fieldOrder {
		f := m.fields[name]
		md := f.UIMetadata(name, m.Table, modelTable(f.Relation))
		for _, key := range []string{"invisible", "readonly", "required"} {
			expr, ok := md[key].(string)
			if !ok {
				continue
			}
			if res := domain.Validate(expr, known); !res.Valid {
				log.Printf("model %s field %s: invalid %s expression dropped: %v", m.Name, name, key, res.Errors)
				md[key] = false
			} else if len(res.Warnings) > 0 {
				log.Printf("model %s field %s: %s expression warnings: %v", m.Name, name, key, res.Warnings)
			}
		}
		if f.Type == FieldImage {
			normalizeImageConfig(m.Name, name, md)
		}
		if f.IsRelational() {
			if rel, ok := GetModel(f.Relation); ok {
				md["rec_name"] = rel.NameField
			}
		}
		fields[name] = md
	}
	return map[string]any{
		"description":  m.Description,
		"fields":       fields,
		"views":        m.Views,
		"rec_name":     m.NameField,
		"status_field": m.StatusField,
		"transient":    m.Transient,
	}
}

// MetadataWithContext is UIMetadata plus, per field, the three booleans
// is_visible/is_readonly/is_required evaluated against the supplied record
// context and user.
func (m *Model) MetadataWithContext(record map[string]any, user *domain.UserContext) map[string]any {
	md := m.UIMetadata()
	fields, _ := md["fields"].(map[string]any)
	for _, name := range m.fieldOrder {
		fieldMD, _ := fields[name].(map[string]any)
		if fieldMD == nil {
			continue
		}
		states := m.DomainStates(name, record, user)
		fieldMD["is_visible"] = states["is_visible"]
		fieldMD["is_readonly"] = states["is_readonly"]
		fieldMD["is_required"] = states["is_required"]
	}
	return md
}

// DomainStates evaluates a field's visibility, readonly, and required flags
// against a record context. Expression failures use safe defaults: the field
// stays visible, editable, optional.
func (m *Model) DomainStates(field string, record map[string]any, user *domain.UserContext) map[string]bool {
	f, ok := m.fields[field]
	if !ok {
		return map[string]bool{"is_visible": true, "is_readonly": false, "is_required": false}
	}
	return map[string]bool{
		"is_visible":  !f.Invisible.Evaluate(record, user, false),
		"is_readonly": f.Readonly.Evaluate(record, user, false),
		"is_required": f.Required.Evaluate(record, user, false),
	}
}

// computedFields returns computed field names in declaration order,
// storedOnly limiting to those that persist.
func (m *Model) computedFields(storedOnly bool) []string {
	var out []string
	for _, name := range m.computeOrder {
		if storedOnly && !m.fields[name].Stored() {
			continue
		}
		out = append(out, name)
	}
	return out
}
