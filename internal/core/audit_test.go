package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func auditEntries(t *testing.T, env *Environment, model string, id int64) []AuditLog {
	t.Helper()
	var logs []AuditLog
	require.NoError(t, env.DB().
		Where("res_model = ? AND res_id = ?", model, id).
		Order("id").
		Find(&logs).Error)
	return logs
}

func TestAuditTracksCreation(t *testing.T) {
	env := newTestEnv(t)
	rec := createVehicle(t, env, map[string]any{"name": "Audit Create"})

	logs := auditEntries(t, env, "vehicle", rec.ID())
	require.Len(t, logs, 1)
	require.Equal(t, "create", logs[0].ChangeType)
	require.Equal(t, "__record__", logs[0].FieldName)
	require.Equal(t, "Created", logs[0].NewValue)
	require.Equal(t, env.UserID, logs[0].UserID)
}

func TestAuditSingleFieldChangeUsesLegacyColumns(t *testing.T) {
	env := newTestEnv(t)
	rec := createVehicle(t, env, map[string]any{"name": "Audit One"})

	require.NoError(t, rec.Write(map[string]any{"status": "active"}))
	logs := auditEntries(t, env, "vehicle", rec.ID())
	require.Len(t, logs, 2)
	entry := logs[1]
	require.Equal(t, "write", entry.ChangeType)
	require.Equal(t, "status", entry.FieldName)
	require.Equal(t, "Status", entry.FieldLabel)
	// Selection values render as their labels.
	require.Equal(t, "Draft", entry.OldValue)
	require.Equal(t, "Active", entry.NewValue)
	require.Empty(t, entry.ChangesJSON)
}

func TestAuditGroupsMultiFieldChanges(t *testing.T) {
	env := newTestEnv(t)
	rec := createVehicle(t, env, map[string]any{"name": "Audit Multi"})

	require.NoError(t, rec.Write(map[string]any{"name": "Audit Multi 2", "odometer": 42}))
	logs := auditEntries(t, env, "vehicle", rec.ID())
	require.Len(t, logs, 2)
	entry := logs[1]
	require.Empty(t, entry.FieldName)
	require.NotEmpty(t, entry.ChangesJSON)

	var changes []FieldChange
	require.NoError(t, json.Unmarshal([]byte(entry.ChangesJSON), &changes))
	require.Len(t, changes, 2)
	byField := map[string]FieldChange{}
	for _, c := range changes {
		byField[c.FieldName] = c
	}
	require.Equal(t, "Audit Multi", byField["name"].OldValue)
	require.Equal(t, "Audit Multi 2", byField["name"].NewValue)
	require.Equal(t, "42", byField["odometer"].NewValue)
}

func TestAuditSkipsNoopWrites(t *testing.T) {
	env := newTestEnv(t)
	rec := createVehicle(t, env, map[string]any{"name": "Audit Noop", "odometer": 500})

	require.NoError(t, rec.Write(map[string]any{"name": "Audit Noop", "odometer": 500}))
	logs := auditEntries(t, env, "vehicle", rec.ID())
	require.Len(t, logs, 1) // only the creation entry

	// Untracked fields never produce entries either.
	require.NoError(t, rec.Write(map[string]any{"notes": "untracked"}))
	logs = auditEntries(t, env, "vehicle", rec.ID())
	require.Len(t, logs, 1)
}

func TestAuditRendersRelatedDisplayNames(t *testing.T) {
	env := newTestEnv(t)
	driver, err := modelSet(t, env, "driver").Create(map[string]any{"name": "Leila"})
	require.NoError(t, err)
	rec := createVehicle(t, env, map[string]any{"name": "Audit M2O"})

	require.NoError(t, rec.Write(map[string]any{"driver_id": driver.ID()}))
	logs := auditEntries(t, env, "vehicle", rec.ID())
	entry := logs[len(logs)-1]
	require.Equal(t, "driver_id", entry.FieldName)
	require.Empty(t, entry.OldValue)
	require.Equal(t, "Leila", entry.NewValue)
}

func TestAuditRendersMany2manyDiffs(t *testing.T) {
	env := newTestEnv(t)
	t1 := createTag(t, env, "audit alpha")
	t2 := createTag(t, env, "audit beta")
	rec := createVehicle(t, env, map[string]any{"name": "Audit M2M", "tag_ids": []any{t1}})

	require.NoError(t, rec.Write(map[string]any{"tag_ids": map[string]any{"add": []any{t2}}}))
	logs := auditEntries(t, env, "vehicle", rec.ID())
	entry := logs[len(logs)-1]
	require.Equal(t, "tag_ids", entry.FieldName)
	require.Contains(t, entry.NewValue, "Added: audit beta")

	require.NoError(t, rec.Write(map[string]any{"tag_ids": map[string]any{"remove": []any{t1}}}))
	logs = auditEntries(t, env, "vehicle", rec.ID())
	entry = logs[len(logs)-1]
	require.Contains(t, entry.NewValue, "Removed: audit alpha")
}

func TestAuditIgnoresMany2manyReorder(t *testing.T) {
	env := newTestEnv(t)
	t1 := createTag(t, env, "order one")
	t2 := createTag(t, env, "order two")
	rec := createVehicle(t, env, map[string]any{"name": "Audit Order", "tag_ids": []any{t1, t2}})
	before := auditEntries(t, env, "vehicle", rec.ID())

	// Links are a set: the same ids in another order change nothing.
	require.NoError(t, rec.Write(map[string]any{"tag_ids": []any{t2, t1}}))

	after := auditEntries(t, env, "vehicle", rec.ID())
	require.Len(t, after, len(before))

	ids, err := rec.many2manyIDs("tag_ids")
	require.NoError(t, err)
	require.ElementsMatch(t, []int64{t1, t2}, ids)
}

func TestAuditTracksDeletion(t *testing.T) {
	env := newTestEnv(t)
	rec := createVehicle(t, env, map[string]any{"name": "Audit Gone"})
	id := rec.ID()

	require.NoError(t, rec.Unlink())
	logs := auditEntries(t, env, "vehicle", id)
	last := logs[len(logs)-1]
	require.Equal(t, "delete", last.ChangeType)
	require.Equal(t, "Audit Gone", last.OldValue)
	require.Equal(t, "Deleted", last.NewValue)
}

func TestAuditSkippedWithoutActingUser(t *testing.T) {
	env := newTestEnv(t)
	system := NewEnvironment(env.DB(), 0, nil)

	rec, err := modelSet(t, system, "tag").Create(map[string]any{"name": "system tag"})
	require.NoError(t, err)
	logs := auditEntries(t, env, "tag", rec.ID())
	require.Empty(t, logs)
}
