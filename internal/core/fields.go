package core

import (
	"fmt"
	"sort"
	"strings"

	"backend/internal/core/domain"
)

// FieldType identifies the semantic type of a field. The string values are
// the wire values surfaced through UI metadata.
type FieldType string

const (
	FieldString      FieldType = "string"
	FieldText        FieldType = "text"
	FieldInteger     FieldType = "integer"
	FieldFloat       FieldType = "float"
	FieldBoolean     FieldType = "boolean"
	FieldDate        FieldType = "date"
	FieldDateTime    FieldType = "datetime"
	FieldJSON        FieldType = "json"
	FieldSelection   FieldType = "selection"
	FieldMany2one    FieldType = "many2one"
	FieldOne2many    FieldType = "one2many"
	FieldMany2many   FieldType = "many2many"
	FieldImage       FieldType = "image"
	FieldAttachment  FieldType = "attachment"
	FieldAttachments FieldType = "attachments"
)

// AttachmentModel is the framework model backing attachment fields.
const AttachmentModel = "ir.attachment"

// Modifier is a per-field flag that is either a literal boolean or a domain
// expression evaluated against the record's current values.
type Modifier struct {
	Bool   bool
	Domain string
}

// Evaluate resolves the modifier against a record. Expression failures fall
// back to def rather than erroring the caller.
func (m Modifier) Evaluate(record map[string]any, user *domain.UserContext, def bool) bool {
	if m.Domain == "" {
		return m.Bool
	}
	return domain.SafeEvaluate(m.Domain, record, user, def)
}

// UIValue renders the modifier the way model metadata exposes it: the raw
// expression string when dynamic, the boolean otherwise.
func (m Modifier) UIValue() any {
	if m.Domain != "" {
		return m.Domain
	}
	return m.Bool
}

func (m Modifier) isSet() bool { return m.Bool || m.Domain != "" }

// Flag builds a literal boolean modifier.
func Flag(b bool) Modifier { return Modifier{Bool: b} }

// FlagExpr builds an expression-valued modifier.
func FlagExpr(expr string) Modifier { return Modifier{Domain: expr} }

// SelectionOption is one entry of a selection field.
type SelectionOption struct {
	Value string
	Label string
}

// Field is a declarative field descriptor. A descriptor synthesizes up to
// three artifacts: a storage column, a relationship spec, and UI metadata.
// Relational fields other than many2one never produce a column.
type Field struct {
	Type      FieldType
	Label     string
	Required  Modifier
	Readonly  Modifier
	Invisible Modifier
	Help      string
	Default   any
	Widget    string
	OnChange  string
	Tracking  bool
	Unique    bool

	// Compute names the derivation routine registered on the model. Store
	// defaults to true, or false once Compute is set; an explicit Store
	// overrides either way. A computed field with no Depends is considered
	// always stale and recomputes on every read.
	Compute string
	Depends []string
	Store   *bool

	// Size bounds string columns (default 255).
	Size int

	Selection []SelectionOption

	// Relational configuration.
	Relation      string // target model name
	InverseName   string // one2many: the many2one field on the target
	RelationTable string // many2many: junction table override
	Column1       string // many2many: this side's junction column
	Column2       string // many2many: target side's junction column
	OnDelete      string // many2one: set null (default) or cascade

	// Image configuration.
	MaxSize        int
	AllowedFormats []string
	DisplayWidth   int
	DisplayHeight  int

	// Attachment configuration.
	AllowedTypes []string
	MaxFiles     int
}

// Bool is a convenience for the Store pointer.
func Bool(b bool) *bool { return &b }

// Stored reports whether the field persists to a column (or, for relational
// types, whether its links persist at all).
func (f Field) Stored() bool {
	if f.Store != nil {
		return *f.Store
	}
	return f.Compute == ""
}

// IsRelational reports whether the field resolves through related records
// rather than a scalar column value.
func (f Field) IsRelational() bool {
	switch f.Type {
	case FieldMany2one, FieldOne2many, FieldMany2many, FieldAttachment, FieldAttachments:
		return true
	}
	return false
}

// IsAttachment reports whether the field stores through the attachment side
// table.
func (f Field) IsAttachment() bool {
	return f.Type == FieldAttachment || f.Type == FieldAttachments
}

// Column describes a synthesized storage column.
type Column struct {
	Name     string
	SQLType  string
	NotNull  bool
	Default  any
	RefModel string // many2one target model, resolved to a table at sync time
	OnDelete string
}

// StorageColumn synthesizes the column for this field, or ok=false for
// non-stored and column-less relational fields.
func (f Field) StorageColumn(name string) (Column, bool) {
	if !f.Stored() {
		return Column{}, false
	}
	col := Column{Name: name, NotNull: f.Required.Bool && f.Required.Domain == "", Default: f.Default}
	switch f.Type {
	case FieldString:
		size := f.Size
		if size == 0 {
			size = 255
		}
		col.SQLType = fmt.Sprintf("varchar(%d)", size)
	case FieldText, FieldImage:
		col.SQLType = "text"
	case FieldInteger:
		col.SQLType = "integer"
	case FieldFloat:
		col.SQLType = "double precision"
	case FieldBoolean:
		col.SQLType = "boolean"
	case FieldDate:
		col.SQLType = "date"
	case FieldDateTime:
		col.SQLType = "timestamp"
	case FieldJSON:
		col.SQLType = "text"
	case FieldSelection:
		col.SQLType = "varchar(50)"
	case FieldMany2one:
		col.SQLType = "integer"
		col.RefModel = f.Relation
		col.OnDelete = f.OnDelete
		if col.OnDelete == "" {
			col.OnDelete = "set null"
		}
	default:
		return Column{}, false
	}
	return col, true
}

// RelationshipKind distinguishes the relational resolution strategies.
type RelationshipKind int

const (
	RelMany2one RelationshipKind = iota
	RelOne2many
	RelMany2many
	RelAttachment
)

// RelationshipSpec describes how a relational field resolves its related
// records.
type RelationshipSpec struct {
	Kind     RelationshipKind
	Attr     string // attribute name exposing the resolved object(s)
	Relation string // target model name
	// one2many
	InverseName string
	// many2many
	JunctionTable string
	Column1       string
	Column2       string
	// attachment
	Multiple bool
	MaxFiles int
}

// RelationAttr returns the attribute name that exposes the resolved related
// object for a many2one field: the column name minus its _id suffix, or the
// name with a _rel suffix when there is none.
func RelationAttr(fieldName string) string {
	if strings.HasSuffix(fieldName, "_id") {
		return strings.TrimSuffix(fieldName, "_id")
	}
	return fieldName + "_rel"
}

// JunctionTableName derives the deterministic junction table name for a
// many2many field between two tables: the table names sorted alphabetically,
// joined, with a _rel suffix.
func JunctionTableName(table, comodelTable string) string {
	tables := []string{table, comodelTable}
	sort.Strings(tables)
	return tables[0] + "_" + tables[1] + "_rel"
}

// Relationship synthesizes the relationship spec for this field, or
// ok=false for scalar fields. modelTable is the owning model's table;
// comodelTable resolves the target model's table (many2many needs it for
// junction naming).
func (f Field) Relationship(name, modelTable, comodelTable string) (RelationshipSpec, bool) {
	switch f.Type {
	case FieldMany2one:
		return RelationshipSpec{
			Kind:     RelMany2one,
			Attr:     RelationAttr(name),
			Relation: f.Relation,
		}, true
	case FieldOne2many:
		return RelationshipSpec{
			Kind:        RelOne2many,
			Attr:        name,
			Relation:    f.Relation,
			InverseName: f.InverseName,
		}, true
	case FieldMany2many:
		spec := RelationshipSpec{
			Kind:     RelMany2many,
			Attr:     name,
			Relation: f.Relation,
		}
		spec.JunctionTable = f.RelationTable
		if spec.JunctionTable == "" {
			spec.JunctionTable = JunctionTableName(modelTable, comodelTable)
		}
		spec.Column1 = f.Column1
		if spec.Column1 == "" {
			spec.Column1 = modelTable + "_id"
		}
		spec.Column2 = f.Column2
		if spec.Column2 == "" {
			spec.Column2 = comodelTable + "_id"
		}
		return spec, true
	case FieldAttachment, FieldAttachments:
		return RelationshipSpec{
			Kind:     RelAttachment,
			Attr:     name,
			Relation: AttachmentModel,
			Multiple: f.Type == FieldAttachments,
			MaxFiles: f.MaxFiles,
		}, true
	}
	return RelationshipSpec{}, false
}

// UIMetadata renders the descriptor as the metadata map the UI consumes.
// modelTable and comodelTable feed junction naming for many2many fields.
func (f Field) UIMetadata(name, modelTable, comodelTable string) map[string]any {
	label := f.Label
	if label == "" {
		label = titleCase(name)
	}
	md := map[string]any{
		"label":    label,
		"type":     string(f.Type),
		"required": f.Required.UIValue(),
	}
	if f.Readonly.isSet() {
		md["readonly"] = f.Readonly.UIValue()
	}
	if f.Invisible.isSet() {
		md["invisible"] = f.Invisible.UIValue()
	}
	if f.Help != "" {
		md["help"] = f.Help
	}
	if f.Default != nil {
		md["default"] = f.Default
	}
	if f.Widget != "" {
		md["widget"] = f.Widget
	}
	if f.Compute != "" {
		md["compute"] = f.Compute
		md["store"] = f.Stored()
	}
	if f.OnChange != "" {
		md["onchange"] = f.OnChange
	}
	if f.Tracking {
		md["tracking"] = true
	}

	switch f.Type {
	case FieldSelection:
		options := make(map[string]any, len(f.Selection))
		for _, opt := range f.Selection {
			options[opt.Value] = map[string]any{"label": opt.Label}
		}
		md["options"] = options
	case FieldMany2one:
		md["relation"] = f.Relation
		md["relation_attr"] = RelationAttr(name)
	case FieldOne2many:
		md["relation"] = f.Relation
		md["inverse_name"] = f.InverseName
	case FieldMany2many:
		spec, _ := f.Relationship(name, modelTable, comodelTable)
		md["relation"] = f.Relation
		md["relation_table"] = spec.JunctionTable
		md["column1"] = spec.Column1
		md["column2"] = spec.Column2
	case FieldImage:
		maxSize := f.MaxSize
		if maxSize == 0 {
			maxSize = 5 << 20
		}
		formats := f.AllowedFormats
		if len(formats) == 0 {
			formats = []string{"jpeg", "jpg", "png", "gif", "webp"}
		}
		w, h := f.DisplayWidth, f.DisplayHeight
		if w == 0 {
			w = 120
		}
		if h == 0 {
			h = 120
		}
		md["max_size"] = maxSize
		md["allowed_formats"] = formats
		md["display_width"] = w
		md["display_height"] = h
	case FieldAttachment, FieldAttachments:
		maxSize := f.MaxSize
		if maxSize == 0 {
			maxSize = 10 << 20
		}
		md["relation"] = AttachmentModel
		md["max_size"] = maxSize
		md["multiple"] = f.Type == FieldAttachments
		if len(f.AllowedTypes) > 0 {
			md["allowed_types"] = f.AllowedTypes
		}
		if f.Type == FieldAttachments && f.MaxFiles > 0 {
			md["max_files"] = f.MaxFiles
		}
	}
	return md
}

func titleCase(name string) string {
	parts := strings.Split(name, "_")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}

// FieldDef pairs a field name with its descriptor; models declare fields as
// an ordered slice so compute order and UI ordering follow declaration order.
type FieldDef struct {
	Name  string
	Field Field
}
