package core

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AuditLog is one audit trail entry. A single-field change fills the legacy
// per-field columns; multiple fields changed in one write group into one
// entry with the structured changes list in ChangesJSON.
type AuditLog struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ResModel    string    `gorm:"column:res_model;index" json:"res_model"`
	ResID       int64     `gorm:"column:res_id;index" json:"res_id"`
	FieldName   string    `gorm:"column:field_name" json:"field_name"`
	FieldLabel  string    `gorm:"column:field_label" json:"field_label"`
	OldValue    string    `gorm:"column:old_value;type:text" json:"old_value"`
	NewValue    string    `gorm:"column:new_value;type:text" json:"new_value"`
	ChangesJSON string    `gorm:"column:changes_json;type:text" json:"changes_json"`
	UserID      int64     `gorm:"column:user_id" json:"user_id"`
	ChangedAt   time.Time `gorm:"column:changed_at" json:"changed_at"`
	ChangeType  string    `gorm:"column:change_type" json:"change_type"`
}

func (AuditLog) TableName() string { return "audit_log" }

// FieldChange is one field's entry inside a grouped audit record.
type FieldChange struct {
	FieldName  string `json:"field_name"`
	FieldLabel string `json:"field_label"`
	FieldType  string `json:"field_type"`
	OldValue   string `json:"old_value"`
	NewValue   string `json:"new_value"`
}

// trackCreation records a "record created" entry. Audit failures are logged
// and swallowed; they never abort the mutation they describe.
func trackCreation(env *Environment, rec *Record) {
	if env.UserID == 0 {
		return
	}
	entry := &AuditLog{
		ResModel:   rec.model.Name,
		ResID:      rec.id,
		FieldName:  "__record__",
		FieldLabel: "Record",
		NewValue:   "Created",
		UserID:     env.UserID,
		ChangedAt:  time.Now().UTC(),
		ChangeType: "create",
	}
	if err := env.db.Create(entry).Error; err != nil {
		log.Printf("audit: failed to track creation of %s(%d): %v", rec.model.Name, rec.id, err)
	}
}

// trackDeletion records a "record deleted" entry.
func trackDeletion(env *Environment, rec *Record) {
	if env.UserID == 0 {
		return
	}
	entry := &AuditLog{
		ResModel:   rec.model.Name,
		ResID:      rec.id,
		FieldName:  "__record__",
		FieldLabel: "Record",
		OldValue:   rec.DisplayName(),
		NewValue:   "Deleted",
		UserID:     env.UserID,
		ChangedAt:  time.Now().UTC(),
		ChangeType: "delete",
	}
	if err := env.db.Create(entry).Error; err != nil {
		log.Printf("audit: failed to track deletion of %s(%d): %v", rec.model.Name, rec.id, err)
	}
}

// trackChanges diffs tracked fields and writes at most one audit entry.
// Values equal after per-type normalization produce nothing: no-op writes
// must not pollute the trail.
func trackChanges(env *Environment, rec *Record, oldValues, newValues map[string]any) {
	if env.UserID == 0 {
		return
	}
	var changes []FieldChange
	for _, name := range rec.model.fieldOrder {
		f, _ := rec.model.Field(name)
		if !f.Tracking {
			continue
		}
		newValue, present := newValues[name]
		if !present {
			continue
		}
		change := diffField(env, rec, name, f, oldValues[name], newValue)
		if change != nil {
			changes = append(changes, *change)
		}
	}
	if len(changes) == 0 {
		return
	}

	entry := &AuditLog{
		ResModel:   rec.model.Name,
		ResID:      rec.id,
		UserID:     env.UserID,
		ChangedAt:  time.Now().UTC(),
		ChangeType: "write",
	}
	if len(changes) == 1 {
		entry.FieldName = changes[0].FieldName
		entry.FieldLabel = changes[0].FieldLabel
		entry.OldValue = changes[0].OldValue
		entry.NewValue = changes[0].NewValue
	} else {
		raw, err := json.Marshal(changes)
		if err != nil {
			log.Printf("audit: failed to encode changes for %s(%d): %v", rec.model.Name, rec.id, err)
			return
		}
		entry.ChangesJSON = string(raw)
	}
	if err := env.db.Create(entry).Error; err != nil {
		log.Printf("audit: failed to track changes of %s(%d): %v", rec.model.Name, rec.id, err)
	}
}

func diffField(env *Environment, rec *Record, name string, f Field, oldValue, newValue any) *FieldChange {
	label := f.Label
	if label == "" {
		label = titleCase(name)
	}
	change := &FieldChange{FieldName: name, FieldLabel: label, FieldType: string(f.Type)}

	switch f.Type {
	case FieldMany2one:
		oldID, _ := toInt64(oldValue)
		newID, _ := toInt64(newValue)
		if oldID == newID {
			return nil
		}
		change.OldValue = relatedDisplayName(env, f.Relation, oldID)
		change.NewValue = relatedDisplayName(env, f.Relation, newID)
	case FieldMany2many:
		oldIDs := idSet(oldValue)
		newIDs := idSet(newValue)
		if sameIDSet(oldIDs, newIDs) {
			return nil
		}
		var parts []string
		if removed := subtractIDSet(oldIDs, newIDs); len(removed) > 0 {
			parts = append(parts, "Removed: "+joinDisplayNames(env, f.Relation, removed))
		}
		if added := subtractIDSet(newIDs, oldIDs); len(added) > 0 {
			parts = append(parts, "Added: "+joinDisplayNames(env, f.Relation, added))
		}
		change.NewValue = strings.Join(parts, "\n")
	case FieldDate, FieldDateTime:
		oldT, oldOK := normalizeAuditTime(f.Type, oldValue)
		newT, newOK := normalizeAuditTime(f.Type, newValue)
		if oldOK && newOK && oldT.Equal(newT) {
			return nil
		}
		if !oldOK && !newOK && fmt.Sprintf("%v", oldValue) == fmt.Sprintf("%v", newValue) {
			return nil
		}
		change.OldValue = formatAuditTime(f.Type, oldT, oldOK, oldValue)
		change.NewValue = formatAuditTime(f.Type, newT, newOK, newValue)
	case FieldInteger, FieldFloat:
		oldD, oldOK := normalizeDecimal(oldValue)
		newD, newOK := normalizeDecimal(newValue)
		if oldOK && newOK && oldD.Equal(newD) {
			return nil
		}
		if !oldOK && !newOK {
			return nil
		}
		change.OldValue = formatAuditValue(f, oldValue)
		change.NewValue = formatAuditValue(f, newValue)
	default:
		oldStr := formatAuditValue(f, oldValue)
		newStr := formatAuditValue(f, newValue)
		if oldStr == newStr {
			return nil
		}
		change.OldValue = oldStr
		change.NewValue = newStr
	}
	return change
}

func formatAuditValue(f Field, v any) string {
	if v == nil {
		return ""
	}
	switch f.Type {
	case FieldBoolean:
		if b, ok := v.(bool); ok {
			if b {
				return "Yes"
			}
			return "No"
		}
	case FieldSelection:
		s := fmt.Sprintf("%v", v)
		for _, opt := range f.Selection {
			if opt.Value == s {
				return opt.Label
			}
		}
		return s
	case FieldDate, FieldDateTime:
		if t, ok := v.(time.Time); ok {
			if f.Type == FieldDate {
				return t.Format(dateLayout)
			}
			return t.Format(datetimeLayout)
		}
	}
	return fmt.Sprintf("%v", v)
}

func normalizeAuditTime(ft FieldType, v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		if ft == FieldDate {
			return t.Truncate(24 * time.Hour), true
		}
		return t, true
	case string:
		if ft == FieldDate {
			if parsed, err := parseDate(t); err == nil {
				return parsed, true
			}
			return time.Time{}, false
		}
		if parsed, err := parseDateTime(t); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

func formatAuditTime(ft FieldType, t time.Time, ok bool, raw any) string {
	if !ok {
		if raw == nil {
			return ""
		}
		return fmt.Sprintf("%v", raw)
	}
	if ft == FieldDate {
		return t.Format(dateLayout)
	}
	return t.Format(datetimeLayout)
}

func normalizeDecimal(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case nil:
		return decimal.Decimal{}, false
	case string:
		d, err := decimal.NewFromString(n)
		return d, err == nil
	default:
		if f, ok := toComparable(v); ok {
			return decimal.NewFromFloat(f), true
		}
	}
	return decimal.Decimal{}, false
}

func relatedDisplayName(env *Environment, relation string, id int64) string {
	if id == 0 {
		return ""
	}
	rs, err := env.Model(relation)
	if err != nil {
		return fmt.Sprintf("ID %d", id)
	}
	related, err := rs.Browse(id)
	if err != nil || related.Len() == 0 {
		return fmt.Sprintf("ID %d", id)
	}
	return related.records[0].DisplayName()
}

func joinDisplayNames(env *Environment, relation string, ids []int64) string {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		names = append(names, relatedDisplayName(env, relation, id))
	}
	return strings.Join(names, ", ")
}

func idSet(v any) map[int64]bool {
	out := make(map[int64]bool)
	switch list := v.(type) {
	case nil:
	case []int64:
		for _, id := range list {
			out[id] = true
		}
	case []any:
		for _, item := range list {
			if id, ok := toInt64(item); ok && id != 0 {
				out[id] = true
			}
		}
	}
	return out
}

func sameIDSet(a, b map[int64]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for id := range a {
		if !b[id] {
			return false
		}
	}
	return true
}

func subtractIDSet(a, b map[int64]bool) []int64 {
	var out []int64
	for id := range a {
		if !b[id] {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
