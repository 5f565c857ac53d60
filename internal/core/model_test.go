package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefineRejectsBadDeclarations(t *testing.T) {
	tests := []struct {
		name string
		def  ModelDef
	}{
		{"no name", ModelDef{}},
		{"id field", ModelDef{Name: "m_bad_id", Fields: []FieldDef{{Name: "id", Field: Field{Type: FieldInteger}}}}},
		{"duplicate field", ModelDef{Name: "m_bad_dup", Fields: []FieldDef{
			{Name: "name", Field: Field{Type: FieldString}},
			{Name: "name", Field: Field{Type: FieldText}},
		}}},
		{"relational without target", ModelDef{Name: "m_bad_rel", Fields: []FieldDef{
			{Name: "owner_id", Field: Field{Type: FieldMany2one}},
		}}},
		{"one2many without inverse", ModelDef{Name: "m_bad_o2m", Fields: []FieldDef{
			{Name: "lines", Field: Field{Type: FieldOne2many, Relation: "line"}},
		}}},
		{"compute without function", ModelDef{Name: "m_bad_compute", Fields: []FieldDef{
			{Name: "total", Field: Field{Type: FieldFloat, Compute: "total"}},
		}}},
		{"unique without column", ModelDef{Name: "m_bad_unique", Fields: []FieldDef{
			{Name: "tags", Field: Field{Type: FieldMany2many, Relation: "tag", Unique: true}},
		}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Define(tc.def)
			require.Error(t, err)
		})
	}
}

func TestDefineRejectsDuplicateRegistration(t *testing.T) {
	def := ModelDef{Name: "m_dup_reg", Fields: []FieldDef{
		{Name: "name", Field: Field{Type: FieldString}},
	}}
	_, err := Define(def)
	require.NoError(t, err)
	_, err = Define(def)
	require.Error(t, err)
}

func TestDefineDerivedNames(t *testing.T) {
	m, err := Define(ModelDef{
		Name: "maint.request",
		Fields: []FieldDef{
			{Name: "subject", Field: Field{Type: FieldString}},
			{Name: "state", Field: Field{Type: FieldSelection}},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "maint_request", m.Table)
	require.Equal(t, "subject", m.NameField)
	require.Equal(t, "state", m.StatusField)
}

func TestModelDispatchTables(t *testing.T) {
	registerFixtures(t)
	m := MustGetModel("vehicle")

	// Declaration order survives into field order.
	names := m.FieldNames()
	require.Equal(t, "name", names[0])
	require.Equal(t, "license_plate", names[1])

	// Column set excludes collection-valued and non-stored computed fields.
	colNames := map[string]bool{}
	for _, col := range m.Columns() {
		colNames[col.Name] = true
	}
	require.True(t, colNames["driver_id"])
	require.True(t, colNames["code"]) // stored compute
	require.False(t, colNames["summary"])
	require.False(t, colNames["tag_ids"])
	require.False(t, colNames["documents"])

	// Reverse relation-attr mapping for many2one spelling.
	field, ok := m.RelationAttrField("driver")
	require.True(t, ok)
	require.Equal(t, "driver_id", field)

	spec, ok := m.Relationship("tag_ids")
	require.True(t, ok)
	require.Equal(t, "tags_vehicles_rel", spec.JunctionTable)

	// Implicit columns are always addressable.
	require.True(t, m.HasColumn("id"))
	require.True(t, m.HasColumn("created_at"))
	require.True(t, m.HasColumn("updated_at"))
	require.False(t, m.HasColumn("summary"))
}

func TestModelUIMetadata(t *testing.T) {
	registerFixtures(t)
	m := MustGetModel("vehicle")
	md := m.UIMetadata()

	require.Equal(t, "Fleet Vehicle", md["description"])
	require.Equal(t, "name", md["rec_name"])
	require.Equal(t, "status", md["status_field"])
	require.Equal(t, false, md["transient"])

	fields, ok := md["fields"].(map[string]any)
	require.True(t, ok)
	status, ok := fields["status"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "selection", status["type"])

	wizard := MustGetModel("vehicle.assign.wizard").UIMetadata()
	require.Equal(t, true, wizard["transient"])
}

func TestDomainStatesDefaults(t *testing.T) {
	registerFixtures(t)
	m := MustGetModel("vehicle")

	// No modifiers declared: visible, editable, optional by default.
	states := m.DomainStates("odometer", map[string]any{}, nil)
	require.Equal(t, map[string]bool{
		"is_visible":  true,
		"is_readonly": false,
		"is_required": false,
	}, states)

	states = m.DomainStates("name", map[string]any{}, nil)
	require.True(t, states["is_required"])
}
