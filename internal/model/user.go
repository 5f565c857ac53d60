package model

import "backend/internal/core"

// User is the account model. The password hash is declared invisible once the
// record exists so metadata-driven forms only show it at creation time.
// Non-admin roles are restricted to their own record through the row filter.
func defineUser() *core.Model {
	return core.MustDefine(core.ModelDef{
		Name:        "user",
		Table:       "users",
		Description: "User Account",
		NameField:   "full_name",
		StatusField: "theme",
		Fields: []core.FieldDef{
			{Name: "full_name", Field: core.Field{Type: core.FieldString, Label: "Full Name", Required: core.Flag(true), Size: 100, Tracking: true}},
			{Name: "email", Field: core.Field{Type: core.FieldString, Label: "Email Address", Required: core.Flag(true), Size: 100, Unique: true, Tracking: true, Help: "User's login email address"}},
			{Name: "hashed_password", Field: core.Field{Type: core.FieldString, Label: "Password", Required: core.Flag(true), Size: 200, Invisible: core.FlagExpr("[('id', '!=', False)]"), Tracking: true}},
			{Name: "is_active", Field: core.Field{Type: core.FieldBoolean, Label: "Active", Default: true, Tracking: true, Help: "Whether the user account is active"}},
			{Name: "role_id", Field: core.Field{Type: core.FieldMany2one, Label: "Role", Relation: "role", Required: core.Flag(true), Tracking: true, Help: "User's role determines their permissions"}},
			{Name: "image", Field: core.Field{Type: core.FieldImage, Label: "Profile Picture", MaxSize: 2 << 20, Tracking: true}},
			{Name: "last_login_at", Field: core.Field{Type: core.FieldDateTime, Label: "Last Login", Readonly: core.Flag(true)}},
			{Name: "show_notification_toasts", Field: core.Field{Type: core.FieldBoolean, Label: "Show Notification Toasts", Default: true, Tracking: true}},
			{Name: "theme", Field: core.Field{
				Type:    core.FieldSelection,
				Label:   "Theme",
				Default: "dark",
				Selection: []core.SelectionOption{
					{Value: "light", Label: "Light"},
					{Value: "dark", Label: "Dark"},
				},
				Tracking: true,
			}},
		},
		Permissions: map[string]core.RolePermissions{
			"admin":             {Create: true, Read: true, Write: true, Delete: true},
			"fleet_manager":     {Read: true, Domain: "[('id', '=', 'user.id')]"},
			"dispatcher":        {Read: true, Domain: "[('id', '=', 'user.id')]"},
			"safety_officer":    {Read: true, Domain: "[('id', '=', 'user.id')]"},
			"financial_analyst": {Read: true, Domain: "[('id', '=', 'user.id')]"},
		},
		Filters: map[string]string{
			"active": "[('is_active', '=', True)]",
		},
	})
}
