package model

import "backend/internal/core"

// Role holds the per-model permission matrix and domain rules used by the
// access layer. The JSON blobs mirror what the admin UI edits; the effective
// checks run against the model definitions.
func defineRole() *core.Model {
	return core.MustDefine(core.ModelDef{
		Name:        "role",
		Table:       "roles",
		Description: "User Role",
		NameField:   "name",
		Fields: []core.FieldDef{
			{Name: "name", Field: core.Field{Type: core.FieldString, Label: "Role Name", Required: core.Flag(true), Size: 50, Unique: true}},
			{Name: "description", Field: core.Field{Type: core.FieldString, Label: "Description", Size: 200}},
			{Name: "permissions", Field: core.Field{Type: core.FieldJSON, Label: "Model Permissions"}},
			{Name: "domain_rules", Field: core.Field{Type: core.FieldJSON, Label: "Domain Rules"}},
			{Name: "users", Field: core.Field{Type: core.FieldOne2many, Label: "Users", Relation: "user", InverseName: "role_id"}},
		},
		Permissions: map[string]core.RolePermissions{
			"admin":             {Create: true, Read: true, Write: true, Delete: true},
			"fleet_manager":     {Read: true},
			"dispatcher":        {Read: true},
			"safety_officer":    {Read: true},
			"financial_analyst": {Read: true},
		},
	})
}
