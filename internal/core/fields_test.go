package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStorageColumnTypes(t *testing.T) {
	tests := []struct {
		name    string
		field   Field
		sqlType string
	}{
		{"plate", Field{Type: FieldString, Size: 20}, "varchar(20)"},
		{"name", Field{Type: FieldString}, "varchar(255)"},
		{"notes", Field{Type: FieldText}, "text"},
		{"seats", Field{Type: FieldInteger}, "integer"},
		{"odometer", Field{Type: FieldFloat}, "double precision"},
		{"active", Field{Type: FieldBoolean}, "boolean"},
		{"acquired_on", Field{Type: FieldDate}, "date"},
		{"seen_at", Field{Type: FieldDateTime}, "timestamp"},
		{"config", Field{Type: FieldJSON}, "text"},
		{"status", Field{Type: FieldSelection}, "varchar(50)"},
		{"photo", Field{Type: FieldImage}, "text"},
	}
	for _, tc := range tests {
		col, ok := tc.field.StorageColumn(tc.name)
		require.True(t, ok, tc.name)
		require.Equal(t, tc.sqlType, col.SQLType, tc.name)
	}
}

func TestStorageColumnRelational(t *testing.T) {
	col, ok := Field{Type: FieldMany2one, Relation: "driver"}.StorageColumn("driver_id")
	require.True(t, ok)
	require.Equal(t, "integer", col.SQLType)
	require.Equal(t, "driver", col.RefModel)

	// Collection-valued fields never own a column.
	for _, f := range []Field{
		{Type: FieldOne2many, Relation: "vehicle", InverseName: "driver_id"},
		{Type: FieldMany2many, Relation: "tag"},
		{Type: FieldAttachment},
		{Type: FieldAttachments},
	} {
		_, ok := f.StorageColumn("x")
		require.False(t, ok)
	}
}

func TestStoredComputedColumn(t *testing.T) {
	// Computed fields are column-less unless explicitly stored.
	_, ok := Field{Type: FieldString, Compute: "code"}.StorageColumn("code")
	require.False(t, ok)

	col, ok := Field{Type: FieldString, Compute: "code", Store: Bool(true)}.StorageColumn("code")
	require.True(t, ok)
	require.Equal(t, "varchar(255)", col.SQLType)
}

func TestNotNullRequiresStaticFlag(t *testing.T) {
	col, _ := Field{Type: FieldString, Required: Flag(true)}.StorageColumn("name")
	require.True(t, col.NotNull)

	// Expression-valued required cannot become a static constraint.
	col, _ = Field{Type: FieldString, Required: FlagExpr("[('status', '=', 'active')]")}.StorageColumn("name")
	require.False(t, col.NotNull)
}

func TestRelationAttr(t *testing.T) {
	require.Equal(t, "driver", RelationAttr("driver_id"))
	require.Equal(t, "parent", RelationAttr("parent_id"))
	require.Equal(t, "manager_rel", RelationAttr("manager"))
}

func TestJunctionTableName(t *testing.T) {
	require.Equal(t, "tags_vehicles_rel", JunctionTableName("vehicles", "tags"))
	require.Equal(t, "tags_vehicles_rel", JunctionTableName("tags", "vehicles"))
}

func TestRelationshipSpecs(t *testing.T) {
	spec, ok := Field{Type: FieldMany2one, Relation: "driver"}.Relationship("driver_id", "vehicles", "drivers")
	require.True(t, ok)
	require.Equal(t, RelMany2one, spec.Kind)
	require.Equal(t, "driver", spec.Attr)

	spec, ok = Field{Type: FieldMany2many, Relation: "tag"}.Relationship("tag_ids", "vehicles", "tags")
	require.True(t, ok)
	require.Equal(t, "tags_vehicles_rel", spec.JunctionTable)
	require.Equal(t, "vehicles_id", spec.Column1)
	require.Equal(t, "tags_id", spec.Column2)

	spec, ok = Field{
		Type: FieldMany2many, Relation: "tag",
		RelationTable: "vehicle_tags", Column1: "vehicle_id", Column2: "tag_id",
	}.Relationship("tag_ids", "vehicles", "tags")
	require.True(t, ok)
	require.Equal(t, "vehicle_tags", spec.JunctionTable)
	require.Equal(t, "vehicle_id", spec.Column1)
	require.Equal(t, "tag_id", spec.Column2)

	spec, ok = Field{Type: FieldAttachments, MaxFiles: 3}.Relationship("documents", "vehicles", "ir_attachment")
	require.True(t, ok)
	require.Equal(t, RelAttachment, spec.Kind)
	require.True(t, spec.Multiple)
	require.Equal(t, 3, spec.MaxFiles)

	_, ok = Field{Type: FieldString}.Relationship("name", "vehicles", "")
	require.False(t, ok)
}

func TestModifierEvaluate(t *testing.T) {
	record := map[string]any{"status": "active"}

	require.True(t, Flag(true).Evaluate(record, nil, false))
	require.False(t, Modifier{}.Evaluate(record, nil, true))
	require.True(t, FlagExpr("[('status', '=', 'active')]").Evaluate(record, nil, false))
	require.False(t, FlagExpr("[('status', '=', 'draft')]").Evaluate(record, nil, true))
	// A broken expression falls back to the call-site default.
	require.True(t, FlagExpr("[('status',").Evaluate(record, nil, true))
	require.False(t, FlagExpr("[('status',").Evaluate(record, nil, false))
}

func TestFieldUIMetadata(t *testing.T) {
	f := Field{
		Type:     FieldSelection,
		Label:    "Status",
		Required: Flag(true),
		Default:  "draft",
		Tracking: true,
		Selection: []SelectionOption{
			{Value: "draft", Label: "Draft"},
			{Value: "active", Label: "Active"},
		},
	}
	md := f.UIMetadata("status", "vehicles", "")
	require.Equal(t, "Status", md["label"])
	require.Equal(t, "selection", md["type"])
	require.Equal(t, true, md["required"])
	require.Equal(t, "draft", md["default"])
	require.Equal(t, true, md["tracking"])
	require.Equal(t, map[string]any{
		"draft":  map[string]any{"label": "Draft"},
		"active": map[string]any{"label": "Active"},
	}, md["options"])

	m2o := Field{Type: FieldMany2one, Relation: "driver"}.UIMetadata("driver_id", "vehicles", "drivers")
	require.Equal(t, "driver", m2o["relation"])
	require.Equal(t, "driver", m2o["relation_attr"])

	img := Field{Type: FieldImage}.UIMetadata("photo", "vehicles", "")
	require.Equal(t, 5<<20, img["max_size"])
	require.Equal(t, 120, img["display_width"])
}

func TestLabelFallsBackToTitleCase(t *testing.T) {
	md := Field{Type: FieldString}.UIMetadata("license_plate", "vehicles", "")
	require.Equal(t, "License Plate", md["label"])
}
