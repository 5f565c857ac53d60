package core

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Create inserts a new record from raw values. The whole pipeline — column
// insert, stored-compute flush, relational fan-out, audit — runs in one
// transaction; a failure partway rolls everything back.
func (rs *Recordset) Create(values map[string]any) (*Record, error) {
	var rec *Record
	err := rs.env.db.Transaction(func(tx *gorm.DB) error {
		var err error
		rec, err = createInTx(rs.env.withDB(tx), rs.model, values)
		return err
	})
	if err != nil {
		return nil, err
	}
	rec.env = rs.env
	if err := rec.Refresh(); err != nil {
		return nil, err
	}
	return rec, nil
}

// Write applies raw values to every record of the set, each in its own
// transaction.
func (rs *Recordset) Write(values map[string]any) error {
	for _, r := range rs.records {
		if err := r.Write(values); err != nil {
			return err
		}
	}
	return nil
}

// Unlink deletes every record of the set.
func (rs *Recordset) Unlink() error {
	for _, r := range rs.records {
		if err := r.Unlink(); err != nil {
			return err
		}
	}
	return nil
}

// Write updates the record from raw values, with the same split/coerce/
// uniqueness pipeline as create plus audit diff capture for tracked fields.
func (r *Record) Write(values map[string]any) error {
	err := r.env.db.Transaction(func(tx *gorm.DB) error {
		return writeInTx(r.env.withDB(tx), r, values)
	})
	if err != nil {
		return err
	}
	return r.Refresh()
}

// Unlink deletes the record. Junction rows and owned attachments are
// detached first so no orphaned links survive; a foreign key blocking the
// delete surfaces as a user error.
func (r *Record) Unlink() error {
	return r.env.db.Transaction(func(tx *gorm.DB) error {
		return unlinkInTx(r.env.withDB(tx), r)
	})
}

func createInTx(env *Environment, m *Model, values map[string]any) (*Record, error) {
	columnVals, relational := splitValues(m, values)
	data, err := coerceValues(m, columnVals)
	if err != nil {
		return nil, err
	}
	applyDefaults(m, data)
	if err := checkUnique(env, m, data, 0); err != nil {
		return nil, err
	}

	id, err := insertRow(env, m, data)
	if err != nil {
		return nil, err
	}
	rec := &Record{model: m, env: env, id: id, data: data}
	if err := rec.Refresh(); err != nil {
		return nil, err
	}
	// Stored computes run once the row exists and relationships resolve,
	// before relational sub-payloads that may read them.
	if err := recomputeStored(env, rec); err != nil {
		return nil, err
	}
	if err := processRelational(env, rec, relational, true); err != nil {
		return nil, err
	}
	trackCreation(env, rec)
	return rec, nil
}

func writeInTx(env *Environment, r *Record, values map[string]any) error {
	rec := &Record{model: r.model, env: env, id: r.id, data: r.data}
	columnVals, relational := splitValues(rec.model, values)
	data, err := coerceValues(rec.model, columnVals)
	if err != nil {
		return err
	}
	if err := checkUnique(env, rec.model, data, rec.id); err != nil {
		return err
	}

	oldValues, err := captureTracked(rec)
	if err != nil {
		return err
	}

	if len(data) > 0 {
		data["updated_at"] = time.Now().UTC()
		err := env.db.Table(rec.model.Table).Where("id = ?", rec.id).Updates(data).Error
		if err != nil {
			return fmt.Errorf("write %s(%d): %w", rec.model.Name, rec.id, translateDBError(err))
		}
	}
	if err := rec.Refresh(); err != nil {
		return err
	}
	if err := recomputeStored(env, rec); err != nil {
		return err
	}
	if err := processRelational(env, rec, relational, false); err != nil {
		return err
	}

	// Many2many diffs compare against the post-processing state.
	newValues := make(map[string]any, len(values))
	for k, v := range values {
		newValues[k] = v
	}
	for field := range relational {
		if f, ok := rec.model.Field(field); ok && f.Type == FieldMany2many && f.Tracking {
			if ids, err := rec.many2manyIDs(field); err == nil {
				newValues[field] = ids
			}
		}
	}
	trackChanges(env, rec, oldValues, newValues)
	return nil
}

func unlinkInTx(env *Environment, r *Record) error {
	rec := &Record{model: r.model, env: env, id: r.id, data: r.data}
	for _, name := range rec.model.fieldOrder {
		spec, ok := rec.model.Relationship(name)
		if !ok || spec.Kind != RelMany2many {
			continue
		}
		err := env.db.Exec(fmt.Sprintf("DELETE FROM %s WHERE %s = ?",
			quoteIdent(spec.JunctionTable), quoteIdent(spec.Column1)), rec.id).Error
		if err != nil {
			return fmt.Errorf("unlink %s(%d) junction cleanup: %w", rec.model.Name, rec.id, translateDBError(err))
		}
	}
	// Incoming many2many links live in junction tables declared by other
	// models; clear those too so no junction row outlives the record.
	for _, other := range ListModels() {
		m, ok := GetModel(other)
		if !ok {
			continue
		}
		for _, name := range m.fieldOrder {
			spec, ok := m.Relationship(name)
			if !ok || spec.Kind != RelMany2many || spec.Relation != rec.model.Name {
				continue
			}
			err := env.db.Exec(fmt.Sprintf("DELETE FROM %s WHERE %s = ?",
				quoteIdent(spec.JunctionTable), quoteIdent(spec.Column2)), rec.id).Error
			if err != nil {
				return fmt.Errorf("unlink %s(%d) junction cleanup: %w", rec.model.Name, rec.id, translateDBError(err))
			}
		}
	}
	if rec.model.Name != AttachmentModel {
		if _, registered := GetModel(AttachmentModel); registered {
			err := env.db.Exec(fmt.Sprintf("DELETE FROM %s WHERE res_model = ? AND res_id = ?",
				quoteIdent(modelTable(AttachmentModel))), rec.model.Name, rec.id).Error
			if err != nil {
				return fmt.Errorf("unlink %s(%d) attachment cleanup: %w", rec.model.Name, rec.id, translateDBError(err))
			}
		}
	}
	err := env.db.Exec(fmt.Sprintf("DELETE FROM %s WHERE id = ?", quoteIdent(rec.model.Table)), rec.id).Error
	if err != nil {
		if ue := translateDBError(err); ue != err {
			return ue
		}
		return fmt.Errorf("unlink %s(%d): %w", rec.model.Name, rec.id, err)
	}
	trackDeletion(env, rec)
	return nil
}

// splitValues separates column values from relational sub-payloads
// (one2many/many2many/attachment), which apply only once the row exists.
func splitValues(m *Model, values map[string]any) (map[string]any, map[string]any) {
	columnVals := make(map[string]any)
	relational := make(map[string]any)
	for k, v := range values {
		f, ok := m.Field(k)
		if ok {
			switch f.Type {
			case FieldOne2many, FieldMany2many, FieldAttachment, FieldAttachments:
				relational[k] = v
				continue
			}
		}
		columnVals[k] = v
	}
	return columnVals, relational
}

// coerceValues parses raw values into storage representation per field
// metadata: ISO date strings, many2one dict payloads reduced to ids,
// validated image data, decimal-parsed numerics, JSON-encoded maps.
func coerceValues(m *Model, values map[string]any) (map[string]any, error) {
	data := make(map[string]any, len(values))
	for key, value := range values {
		f, ok := m.Field(key)
		if !ok {
			return nil, NewUserError("model %s has no field %q", m.Name, key)
		}
		if !f.Stored() || !m.HasColumn(key) {
			return nil, NewUserError("field %s.%s is not writable", m.Name, key)
		}
		if value == nil || value == "" {
			data[key] = nil
			continue
		}
		coerced, err := coerceValue(m, key, f, value)
		if err != nil {
			return nil, err
		}
		data[key] = coerced
	}
	return data, nil
}

func coerceValue(m *Model, key string, f Field, value any) (any, error) {
	switch f.Type {
	case FieldMany2one:
		id, ok := toInt64(value)
		if !ok {
			return nil, fieldError(key, "expected a record id")
		}
		return id, nil
	case FieldDate:
		if s, ok := value.(string); ok {
			t, err := parseDate(s)
			if err != nil {
				return nil, fieldError(key, "invalid date %q", s)
			}
			return t, nil
		}
		return value, nil
	case FieldDateTime:
		if s, ok := value.(string); ok {
			t, err := parseDateTime(s)
			if err != nil {
				return nil, fieldError(key, "invalid datetime %q", s)
			}
			return t, nil
		}
		return value, nil
	case FieldImage:
		s, ok := value.(string)
		if !ok {
			return nil, fieldError(key, "image data must be a string")
		}
		return validateImageData(f, s)
	case FieldInteger:
		n, ok := toInt64(value)
		if !ok {
			return nil, fieldError(key, "expected an integer")
		}
		return n, nil
	case FieldFloat:
		switch v := value.(type) {
		case string:
			d, err := decimal.NewFromString(v)
			if err != nil {
				return nil, fieldError(key, "invalid number %q", v)
			}
			out, _ := d.Float64()
			return out, nil
		default:
			if fv, ok := toComparable(value); ok {
				return fv, nil
			}
			return nil, fieldError(key, "expected a number")
		}
	case FieldSelection:
		s := fmt.Sprintf("%v", value)
		if len(f.Selection) > 0 {
			for _, opt := range f.Selection {
				if opt.Value == s {
					return s, nil
				}
			}
			return nil, fieldError(key, "invalid selection value %q", s)
		}
		return s, nil
	case FieldJSON:
		switch value.(type) {
		case string:
			return value, nil
		default:
			raw, err := json.Marshal(value)
			if err != nil {
				return nil, fieldError(key, "value is not serializable")
			}
			return string(raw), nil
		}
	default:
		return value, nil
	}
}

func fieldError(field, format string, args ...any) error {
	e := NewValidationError(format, args...)
	e.FieldErrors = map[string]string{field: e.Message}
	return e
}

func parseDate(s string) (time.Time, error) {
	if idx := strings.IndexByte(s, 'T'); idx > 0 {
		s = s[:idx]
	}
	return time.Parse(dateLayout, s)
}

func parseDateTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, datetimeLayout, dateLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized datetime %q", s)
}

func applyDefaults(m *Model, data map[string]any) {
	for _, name := range m.fieldOrder {
		f, _ := m.Field(name)
		if f.Default == nil || !m.HasColumn(name) {
			continue
		}
		if _, set := data[name]; !set {
			data[name] = f.Default
		}
	}
}

// checkUnique pre-checks declared-unique columns so the usual duplicate gets
// a clear message instead of a raw constraint error; a genuine race is still
// caught by translateDBError at insert time.
func checkUnique(env *Environment, m *Model, data map[string]any, excludeID int64) error {
	for _, name := range m.uniqueFields {
		value, set := data[name]
		if !set || value == nil {
			continue
		}
		q := env.db.Table(m.Table).Where(quoteIdent(name)+" = ?", value)
		if excludeID != 0 {
			q = q.Where("id != ?", excludeID)
		}
		var count int64
		if err := q.Count(&count).Error; err != nil {
			return fmt.Errorf("uniqueness check %s.%s: %w", m.Name, name, translateDBError(err))
		}
		if count > 0 {
			f, _ := m.Field(name)
			label := f.Label
			if label == "" {
				label = titleCase(name)
			}
			return NewUserError("the %s '%v' already exists", label, value)
		}
	}
	return nil
}

func insertRow(env *Environment, m *Model, data map[string]any) (int64, error) {
	var cols []string
	var args []any
	for _, name := range m.fieldOrder {
		v, set := data[name]
		if !set || !m.HasColumn(name) {
			continue
		}
		cols = append(cols, quoteIdent(name))
		args = append(args, v)
	}
	var sql string
	if len(cols) == 0 {
		sql = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING id", quoteIdent(m.Table))
	} else {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",")
		sql = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id",
			quoteIdent(m.Table), strings.Join(cols, ", "), placeholders)
	}
	var id int64
	if err := env.db.Raw(sql, args...).Scan(&id).Error; err != nil {
		return 0, fmt.Errorf("create %s: %w", m.Name, translateDBError(err))
	}
	return id, nil
}

// processRelational applies the one2many/many2many/attachment sub-payloads
// once the owning row exists.
func processRelational(env *Environment, rec *Record, relational map[string]any, isCreate bool) error {
	for _, field := range rec.model.fieldOrder {
		payload, present := relational[field]
		if !present {
			continue
		}
		f, _ := rec.model.Field(field)
		var err error
		switch f.Type {
		case FieldOne2many:
			err = applyOne2many(env, rec, field, payload)
		case FieldMany2many:
			err = applyMany2many(env, rec, field, payload)
		case FieldAttachment, FieldAttachments:
			err = applyAttachments(env, rec, field, f, payload)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// applyOne2many handles the sub-operation map {create: [...], update: [...],
// delete: [...]} against the target model.
func applyOne2many(env *Environment, rec *Record, field string, payload any) error {
	ops, ok := payload.(map[string]any)
	if !ok {
		if payload == nil {
			return nil
		}
		return NewUserError("one2many %s.%s expects {create/update/delete} operations", rec.model.Name, field)
	}
	spec, _ := rec.model.Relationship(field)
	target, err := env.Model(spec.Relation)
	if err != nil {
		return err
	}

	if raw, ok := ops["create"]; ok {
		items, ok := raw.([]any)
		if !ok {
			return NewUserError("one2many %s.%s: create expects a list", rec.model.Name, field)
		}
		for _, item := range items {
			vals, ok := item.(map[string]any)
			if !ok {
				return NewUserError("one2many %s.%s: create expects value maps", rec.model.Name, field)
			}
			linked := make(map[string]any, len(vals)+1)
			for k, v := range vals {
				linked[k] = v
			}
			linked[spec.InverseName] = rec.id
			if _, err := createInTx(env, target.model, linked); err != nil {
				return err
			}
		}
	}
	if raw, ok := ops["update"]; ok {
		items, ok := raw.([]any)
		if !ok {
			return NewUserError("one2many %s.%s: update expects a list", rec.model.Name, field)
		}
		for _, item := range items {
			vals, ok := item.(map[string]any)
			if !ok {
				return NewUserError("one2many %s.%s: update expects value maps", rec.model.Name, field)
			}
			id, ok := toInt64(vals["id"])
			if !ok || id == 0 {
				return NewUserError("one2many %s.%s: update requires an id", rec.model.Name, field)
			}
			related, err := target.Browse(id)
			if err != nil {
				return err
			}
			relRec, err := related.EnsureOne()
			if err != nil {
				return err
			}
			updates := make(map[string]any, len(vals))
			for k, v := range vals {
				if k != "id" {
					updates[k] = v
				}
			}
			if err := writeInTx(env, relRec, updates); err != nil {
				return err
			}
		}
	}
	if raw, ok := ops["delete"]; ok {
		ids, err := valueList(raw)
		if err != nil {
			return NewUserError("one2many %s.%s: delete expects a list of ids", rec.model.Name, field)
		}
		for _, rawID := range ids {
			id, ok := toInt64(rawID)
			if !ok {
				continue
			}
			related, err := target.Browse(id)
			if err != nil {
				return err
			}
			for _, relRec := range related.records {
				if err := unlinkInTx(env, relRec); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// applyMany2many handles the three mutation shapes: a plain id list replaces
// the whole link set, {add: [...]} and {remove: [...]} mutate incrementally.
func applyMany2many(env *Environment, rec *Record, field string, payload any) error {
	spec, _ := rec.model.Relationship(field)
	jt := quoteIdent(spec.JunctionTable)
	col1, col2 := quoteIdent(spec.Column1), quoteIdent(spec.Column2)

	insertLink := func(targetID int64) error {
		var count int64
		err := env.db.Raw(fmt.Sprintf("SELECT count(*) FROM %s WHERE %s = ? AND %s = ?", jt, col1, col2),
			rec.id, targetID).Scan(&count).Error
		if err != nil {
			return fmt.Errorf("many2many %s.%s: %w", rec.model.Name, field, translateDBError(err))
		}
		if count > 0 {
			return nil
		}
		err = env.db.Exec(fmt.Sprintf("INSERT INTO %s (%s, %s) VALUES (?, ?)", jt, col1, col2),
			rec.id, targetID).Error
		if err != nil {
			return fmt.Errorf("many2many %s.%s: %w", rec.model.Name, field, translateDBError(err))
		}
		return nil
	}

	switch ops := payload.(type) {
	case nil:
		return nil
	case []any, []int64:
		ids, err := valueList(ops)
		if err != nil {
			return err
		}
		err = env.db.Exec(fmt.Sprintf("DELETE FROM %s WHERE %s = ?", jt, col1), rec.id).Error
		if err != nil {
			return fmt.Errorf("many2many %s.%s: %w", rec.model.Name, field, translateDBError(err))
		}
		for _, raw := range ids {
			id, ok := toInt64(raw)
			if !ok || id == 0 {
				continue
			}
			if err := insertLink(id); err != nil {
				return err
			}
		}
		return nil
	case map[string]any:
		if raw, ok := ops["add"]; ok {
			ids, err := valueList(raw)
			if err != nil {
				return err
			}
			for _, rawID := range ids {
				if id, ok := toInt64(rawID); ok && id != 0 {
					if err := insertLink(id); err != nil {
						return err
					}
				}
			}
		}
		if raw, ok := ops["remove"]; ok {
			ids, err := valueList(raw)
			if err != nil {
				return err
			}
			var removeIDs []int64
			for _, rawID := range ids {
				if id, ok := toInt64(rawID); ok {
					removeIDs = append(removeIDs, id)
				}
			}
			if len(removeIDs) > 0 {
				err := env.db.Exec(fmt.Sprintf("DELETE FROM %s WHERE %s = ? AND %s IN ?", jt, col1, col2),
					rec.id, removeIDs).Error
				if err != nil {
					return fmt.Errorf("many2many %s.%s: %w", rec.model.Name, field, translateDBError(err))
				}
			}
		}
		return nil
	default:
		return NewUserError("many2many %s.%s: unsupported payload", rec.model.Name, field)
	}
}

// applyAttachments reconciles the attachment side table with the payload:
// maps without id create, maps with id update, bare ids are kept and
// relinked, and anything previously attached but absent is deleted.
func applyAttachments(env *Environment, rec *Record, field string, f Field, payload any) error {
	target, err := env.Model(AttachmentModel)
	if err != nil {
		return err
	}
	current, err := rec.attachmentRows(field)
	if err != nil {
		return err
	}
	currentIDs := make(map[int64]bool, len(current))
	for _, row := range current {
		currentIDs[rowID(row)] = true
	}

	var items []any
	if f.Type == FieldAttachment {
		if payload != nil {
			items = []any{payload}
		}
	} else if list, ok := payload.([]any); ok {
		items = list
	}
	if f.Type == FieldAttachments && f.MaxFiles > 0 && len(items) > f.MaxFiles {
		return NewUserError("field %s accepts at most %d attachments", field, f.MaxFiles)
	}

	keep := make(map[int64]bool)
	linkVals := map[string]any{"res_model": rec.model.Name, "res_id": rec.id, "res_field": field}
	for _, item := range items {
		switch v := item.(type) {
		case map[string]any:
			if rawID, hasID := v["id"]; hasID {
				id, _ := toInt64(rawID)
				related, err := target.Browse(id)
				if err != nil {
					return err
				}
				attRec, err := related.EnsureOne()
				if err != nil {
					return err
				}
				updates := make(map[string]any, len(v))
				for k, val := range v {
					if k != "id" {
						updates[k] = val
					}
				}
				if err := writeInTx(env, attRec, updates); err != nil {
					return err
				}
				keep[id] = true
			} else {
				vals := make(map[string]any, len(v)+3)
				for k, val := range v {
					vals[k] = val
				}
				for k, val := range linkVals {
					vals[k] = val
				}
				created, err := createInTx(env, target.model, vals)
				if err != nil {
					return err
				}
				keep[created.id] = true
			}
		default:
			id, ok := toInt64(v)
			if !ok || id == 0 {
				continue
			}
			keep[id] = true
			if !currentIDs[id] {
				related, err := target.Browse(id)
				if err != nil {
					return err
				}
				if attRec, err := related.EnsureOne(); err == nil {
					if err := writeInTx(env, attRec, linkVals); err != nil {
						return err
					}
				}
			}
		}
	}

	for id := range currentIDs {
		if keep[id] {
			continue
		}
		related, err := target.Browse(id)
		if err != nil {
			return err
		}
		for _, attRec := range related.records {
			if err := unlinkInTx(env, attRec); err != nil {
				return err
			}
		}
	}
	return nil
}

// captureTracked snapshots the pre-mutation values of tracked fields so the
// audit layer can diff them: foreign keys for many2one, id sets for
// many2many, raw column values otherwise.
func captureTracked(rec *Record) (map[string]any, error) {
	old := make(map[string]any)
	for _, name := range rec.model.fieldOrder {
		f, _ := rec.model.Field(name)
		if !f.Tracking {
			continue
		}
		switch f.Type {
		case FieldMany2many:
			ids, err := rec.many2manyIDs(name)
			if err != nil {
				log.Printf("audit capture %s.%s: %v", rec.model.Name, name, err)
				continue
			}
			old[name] = ids
		case FieldOne2many, FieldAttachment, FieldAttachments:
			continue
		default:
			old[name] = rec.data[name]
		}
	}
	return old, nil
}
