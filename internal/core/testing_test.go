package core

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"backend/internal/core/domain"

	"github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// The test fixture is a small fleet domain: drivers own vehicles, vehicles
// carry tags and trips reference vehicles with a restricting foreign key.
var fixtureOnce sync.Once

func registerFixtures(t *testing.T) {
	t.Helper()
	fixtureOnce.Do(func() {
		MustDefine(ModelDef{
			Name:  "driver",
			Table: "drivers",
			Fields: []FieldDef{
				{Name: "name", Field: Field{Type: FieldString, Label: "Name", Required: Flag(true), Tracking: true}},
				{Name: "email", Field: Field{Type: FieldString, Label: "Email", Unique: true}},
				{Name: "license_no", Field: Field{Type: FieldString, Label: "License Number", Size: 50}},
				{Name: "vehicles", Field: Field{Type: FieldOne2many, Label: "Vehicles", Relation: "vehicle", InverseName: "driver_id"}},
			},
			Permissions: map[string]RolePermissions{
				"admin":         {Create: true, Read: true, Write: true, Delete: true},
				"fleet_manager": {Read: true},
			},
		})

		MustDefine(ModelDef{
			Name:  "tag",
			Table: "tags",
			Fields: []FieldDef{
				{Name: "name", Field: Field{Type: FieldString, Label: "Name", Required: Flag(true), Unique: true}},
				{Name: "color", Field: Field{Type: FieldInteger, Label: "Color Index"}},
			},
			Permissions: map[string]RolePermissions{
				"admin": {Create: true, Read: true, Write: true, Delete: true},
			},
		})

		MustDefine(ModelDef{
			Name:        "vehicle",
			Table:       "vehicles",
			Description: "Fleet Vehicle",
			Fields: []FieldDef{
				{Name: "name", Field: Field{Type: FieldString, Label: "Name", Required: Flag(true), Tracking: true}},
				{Name: "license_plate", Field: Field{Type: FieldString, Label: "License Plate", Unique: true, Tracking: true}},
				{Name: "status", Field: Field{
					Type:    FieldSelection,
					Label:   "Status",
					Default: "draft",
					Selection: []SelectionOption{
						{Value: "draft", Label: "Draft"},
						{Value: "active", Label: "Active"},
						{Value: "maintenance", Label: "Maintenance"},
						{Value: "retired", Label: "Retired"},
					},
					Tracking: true,
				}},
				{Name: "odometer", Field: Field{Type: FieldFloat, Label: "Odometer (km)", Tracking: true}},
				{Name: "active", Field: Field{Type: FieldBoolean, Label: "Active", Default: true}},
				{Name: "acquired_on", Field: Field{Type: FieldDate, Label: "Acquired On", Tracking: true}},
				{Name: "driver_id", Field: Field{Type: FieldMany2one, Label: "Driver", Relation: "driver", Tracking: true}},
				{Name: "tag_ids", Field: Field{Type: FieldMany2many, Label: "Tags", Relation: "tag", Tracking: true}},
				{Name: "notes", Field: Field{Type: FieldText, Label: "Notes"}},
				{Name: "photo", Field: Field{Type: FieldImage, Label: "Photo", MaxSize: 1 << 20}},
				{Name: "registration", Field: Field{Type: FieldAttachment, Label: "Registration Card"}},
				{Name: "documents", Field: Field{Type: FieldAttachments, Label: "Documents", MaxFiles: 3}},
				{Name: "code", Field: Field{Type: FieldString, Label: "Code", Compute: "code", Depends: []string{"name", "license_plate"}, Store: Bool(true)}},
				{Name: "summary", Field: Field{Type: FieldString, Label: "Summary", Compute: "summary"}},
			},
			Computes: map[string]ComputeFunc{
				"code": func(env *Environment, rec *Record) (any, error) {
					name, _ := rec.Get("name")
					plate, _ := rec.Get("license_plate")
					if plate == nil || plate == "" {
						return fmt.Sprintf("%v", name), nil
					}
					return fmt.Sprintf("%v/%v", name, plate), nil
				},
				"summary": func(env *Environment, rec *Record) (any, error) {
					status, _ := rec.Get("status")
					return fmt.Sprintf("%s [%v]", rec.DisplayName(), status), nil
				},
			},
			Permissions: map[string]RolePermissions{
				"admin":         {Create: true, Read: true, Write: true, Delete: true},
				"fleet_manager": {Create: true, Read: true, Write: true, Domain: "[('driver_id', '=', 'user.id')]"},
				"dispatcher":    {Read: true},
			},
			Filters: map[string]string{
				"active":         "[('active', '=', True)]",
				"in_maintenance": "[('status', '=', 'maintenance')]",
			},
		})

		MustDefine(ModelDef{
			Name:  "trip",
			Table: "trips",
			Fields: []FieldDef{
				{Name: "name", Field: Field{Type: FieldString, Label: "Name", Required: Flag(true)}},
				{Name: "vehicle_id", Field: Field{Type: FieldMany2one, Label: "Vehicle", Relation: "vehicle", Required: Flag(true), OnDelete: "restrict"}},
				{Name: "distance", Field: Field{Type: FieldFloat, Label: "Distance (km)"}},
			},
			Permissions: map[string]RolePermissions{
				"admin": {Create: true, Read: true, Write: true, Delete: true},
			},
		})

		MustDefine(ModelDef{
			Name:                 "vehicle.assign.wizard",
			Transient:            true,
			TransientMaxAgeHours: 1,
			Fields: []FieldDef{
				{Name: "vehicle_id", Field: Field{Type: FieldMany2one, Label: "Vehicle", Relation: "vehicle"}},
				{Name: "driver_id", Field: Field{Type: FieldMany2one, Label: "Driver", Relation: "driver"}},
				{Name: "note", Field: Field{Type: FieldString, Label: "Note"}},
			},
			Permissions: map[string]RolePermissions{
				"admin": {Create: true, Read: true, Write: true, Delete: true},
			},
		})

		MustDefine(ModelDef{
			Name:  AttachmentModel,
			Table: "ir_attachment",
			Fields: []FieldDef{
				{Name: "name", Field: Field{Type: FieldString, Label: "Filename", Required: Flag(true)}},
				{Name: "datas", Field: Field{Type: FieldText, Label: "File Content"}},
				{Name: "file_size", Field: Field{Type: FieldInteger, Label: "File Size (bytes)"}},
				{Name: "mimetype", Field: Field{Type: FieldString, Label: "MIME Type"}},
				{Name: "res_model", Field: Field{Type: FieldString, Label: "Resource Model", Required: Flag(true)}},
				{Name: "res_id", Field: Field{Type: FieldInteger, Label: "Resource ID", Required: Flag(true)}},
				{Name: "res_field", Field: Field{Type: FieldString, Label: "Resource Field"}},
			},
			Permissions: map[string]RolePermissions{
				"admin": {Create: true, Read: true, Write: true, Delete: true},
			},
		})
	})
}

// openTestDB opens a fresh in-memory database. The pool is pinned to one
// connection so every statement sees the same memory database.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.Exec("PRAGMA foreign_keys = ON").Error)
	return db
}

// buildSchema creates the fixture tables from the registered descriptors.
func buildSchema(t *testing.T, db *gorm.DB) {
	t.Helper()
	registerFixtures(t)

	junctions := map[string][2]string{}
	for _, name := range ListModels() {
		m := MustGetModel(name)
		cols := []string{
			"id integer PRIMARY KEY AUTOINCREMENT",
			"created_at timestamp DEFAULT CURRENT_TIMESTAMP",
			"updated_at timestamp",
		}
		for _, col := range m.Columns() {
			ddl := fmt.Sprintf("%s %s", col.Name, col.SQLType)
			if col.NotNull {
				ddl += " NOT NULL"
			}
			if col.RefModel != "" {
				onDelete := col.OnDelete
				if onDelete == "" {
					onDelete = "set null"
				}
				ddl += fmt.Sprintf(" REFERENCES %s(id) ON DELETE %s",
					ModelTableName(col.RefModel), strings.ToUpper(onDelete))
			}
			cols = append(cols, ddl)
		}
		stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", m.Table, strings.Join(cols, ", "))
		require.NoError(t, db.Exec(stmt).Error)

		for _, field := range m.FieldNames() {
			if spec, ok := m.Relationship(field); ok && spec.Kind == RelMany2many {
				junctions[spec.JunctionTable] = [2]string{spec.Column1, spec.Column2}
			}
		}
	}
	for table, cols := range junctions {
		stmt := fmt.Sprintf(
			"CREATE TABLE IF NOT EXISTS %s (%s integer NOT NULL, %s integer NOT NULL, PRIMARY KEY (%s, %s))",
			table, cols[0], cols[1], cols[0], cols[1])
		require.NoError(t, db.Exec(stmt).Error)
	}

	require.NoError(t, db.AutoMigrate(&AuditLog{}))
}

// adminContext builds a verified admin user context the way the middleware
// would, from token claims.
func adminContext(id int64) *domain.UserContext {
	return domain.NewUserContext(jwt.MapClaims{
		"user_id":   float64(id),
		"email":     "admin@example.com",
		"full_name": "Admin",
		"role":      "admin",
		"is_active": true,
	})
}

func roleContext(id int64, role string) *domain.UserContext {
	return domain.NewUserContext(jwt.MapClaims{
		"user_id":   float64(id),
		"email":     fmt.Sprintf("%s%d@example.com", role, id),
		"full_name": titleCase(role),
		"role":      role,
		"is_active": true,
	})
}

// newTestEnv wires a fresh database plus an admin environment.
func newTestEnv(t *testing.T) *Environment {
	t.Helper()
	db := openTestDB(t)
	buildSchema(t, db)
	return NewEnvironment(db, 1, adminContext(1))
}
