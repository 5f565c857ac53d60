package database

import (
	"fmt"
	"log"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"backend/internal/core"
)

// NewConnection initializes a new connection pool using GORM.
func NewConnection(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}
	return db, nil
}

// SyncSchema reconciles the registered model descriptors against the actual
// storage schema: missing tables and junction tables are created, missing
// columns are added. Repair is additive only; nothing is dropped or
// retyped.
func SyncSchema(db *gorm.DB) error {
	for _, name := range core.ListModels() {
		m, _ := core.GetModel(name)
		if err := syncModelTable(db, m); err != nil {
			return err
		}
	}
	for _, name := range core.ListModels() {
		m, _ := core.GetModel(name)
		if err := syncJunctionTables(db, m); err != nil {
			return err
		}
	}
	if err := db.AutoMigrate(&core.AuditLog{}); err != nil {
		log.Println("WARNING: failed to migrate audit log table:", err)
	}
	return nil
}

func syncModelTable(db *gorm.DB, m *core.Model) error {
	if !db.Migrator().HasTable(m.Table) {
		return createModelTable(db, m)
	}
	existing, err := tableColumns(db, m.Table)
	if err != nil {
		return err
	}
	for _, col := range m.Columns() {
		if existing[col.Name] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %q ADD COLUMN %s", m.Table, columnDDL(col, false))
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("add column %s.%s: %w", m.Table, col.Name, err)
		}
		log.Printf("schema sync: added column %s.%s", m.Table, col.Name)
	}
	return nil
}

func createModelTable(db *gorm.DB, m *core.Model) error {
	defs := []string{
		idColumnDDL(db),
		"created_at timestamp DEFAULT CURRENT_TIMESTAMP",
		"updated_at timestamp",
	}
	for _, col := range m.Columns() {
		defs = append(defs, columnDDL(col, true))
	}
	stmt := fmt.Sprintf("CREATE TABLE %q (%s)", m.Table, strings.Join(defs, ", "))
	if err := db.Exec(stmt).Error; err != nil {
		return fmt.Errorf("create table %s: %w", m.Table, err)
	}
	log.Printf("schema sync: created table %s", m.Table)
	return nil
}

func syncJunctionTables(db *gorm.DB, m *core.Model) error {
	for _, field := range m.FieldNames() {
		spec, ok := m.Relationship(field)
		if !ok || spec.Kind != core.RelMany2many {
			continue
		}
		if db.Migrator().HasTable(spec.JunctionTable) {
			continue
		}
		target := core.ModelTableName(spec.Relation)
		stmt := fmt.Sprintf(
			"CREATE TABLE %q (%q integer NOT NULL REFERENCES %q(id) ON DELETE CASCADE, %q integer NOT NULL REFERENCES %q(id) ON DELETE CASCADE, PRIMARY KEY (%q, %q))",
			spec.JunctionTable, spec.Column1, m.Table, spec.Column2, target, spec.Column1, spec.Column2)
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create junction table %s: %w", spec.JunctionTable, err)
		}
		log.Printf("schema sync: created junction table %s", spec.JunctionTable)
	}
	return nil
}

func idColumnDDL(db *gorm.DB) string {
	if db.Dialector.Name() == "sqlite" {
		return "id integer PRIMARY KEY AUTOINCREMENT"
	}
	return "id serial PRIMARY KEY"
}

func columnDDL(col core.Column, inCreate bool) string {
	def := fmt.Sprintf("%q %s", col.Name, col.SQLType)
	if col.RefModel != "" {
		onDelete := strings.ToUpper(col.OnDelete)
		def += fmt.Sprintf(" REFERENCES %q(id) ON DELETE %s", core.ModelTableName(col.RefModel), onDelete)
	}
	// NOT NULL only at table creation; adding a non-nullable column to a
	// populated table would fail.
	if col.NotNull && inCreate {
		def += " NOT NULL"
	}
	return def
}

// tableColumns discovers a table's current column set portably by selecting
// zero rows.
func tableColumns(db *gorm.DB, table string) (map[string]bool, error) {
	rows, err := db.Raw(fmt.Sprintf("SELECT * FROM %q LIMIT 0", table)).Rows()
	if err != nil {
		return nil, fmt.Errorf("inspect table %s: %w", table, err)
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("inspect table %s: %w", table, err)
	}
	out := make(map[string]bool, len(cols))
	for _, c := range cols {
		out[c] = true
	}
	return out, nil
}
