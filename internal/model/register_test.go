package model

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"backend/internal/core"
	"backend/internal/database"
)

func openSyncedDB(t *testing.T) *gorm.DB {
	t.Helper()
	RegisterAll()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.SyncSchema(db))
	return db
}

func TestRegisterAllDefinesFrameworkModels(t *testing.T) {
	RegisterAll()

	user, ok := core.GetModel("user")
	require.True(t, ok)
	require.Equal(t, "users", user.Table)
	require.Equal(t, "full_name", user.NameField)
	require.True(t, user.HasColumn("role_id"))
	require.True(t, user.HasColumn("hashed_password"))

	role, ok := core.GetModel("role")
	require.True(t, ok)
	require.Equal(t, "roles", role.Table)
	_, hasUsers := role.Relationship("users")
	require.True(t, hasUsers)

	att, ok := core.GetModel(core.AttachmentModel)
	require.True(t, ok)
	require.Equal(t, "ir_attachment", att.Table)
}

func TestUserVisibilityPinnedToSelf(t *testing.T) {
	RegisterAll()
	user, _ := core.GetModel("user")

	perms, ok := user.RolePermission("dispatcher")
	require.True(t, ok)
	require.True(t, perms.Read)
	require.False(t, perms.Write)
	require.Equal(t, "[('id', '=', 'user.id')]", perms.Domain)

	admin, ok := user.RolePermission("admin")
	require.True(t, ok)
	require.True(t, admin.Delete)
	require.Empty(t, admin.Domain)
}

func TestAttachmentChecksumComputed(t *testing.T) {
	db := openSyncedDB(t)
	env := core.NewEnvironment(db, 0, nil)
	attachments, err := env.Model(core.AttachmentModel)
	require.NoError(t, err)

	vals := AttachmentVals("notes.txt", "text/plain", []byte("hello world"))
	vals["res_model"] = "user"
	vals["res_id"] = 1
	rec, err := attachments.Create(vals)
	require.NoError(t, err)

	sum, err := rec.Get("checksum")
	require.NoError(t, err)
	require.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", sum)

	size, err := rec.Get("file_size")
	require.NoError(t, err)
	n, ok := size.(int64)
	require.True(t, ok)
	require.EqualValues(t, 11, n)

	// Empty or undecodable payloads hash to nothing instead of failing.
	empty, err := attachments.Create(map[string]any{
		"name": "empty.txt", "res_model": "user", "res_id": 1,
	})
	require.NoError(t, err)
	sum, err = empty.Get("checksum")
	require.NoError(t, err)
	require.Nil(t, sum)

	bad, err := attachments.Create(map[string]any{
		"name": "bad.bin", "res_model": "user", "res_id": 1, "datas": "%%%",
	})
	require.NoError(t, err)
	sum, err = bad.Get("checksum")
	require.NoError(t, err)
	require.Nil(t, sum)
}
