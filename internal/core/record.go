package core

import (
	"fmt"
	"strings"
	"time"

	"backend/internal/core/domain"
)

// Record is one persisted row of a model. Field access dispatches through
// the model's construction-time accessor table: scalar columns read from the
// loaded row, many2one fields resolve to the related record, to-many fields
// query their junction or inverse side, computed fields run their function.
type Record struct {
	model *Model
	env   *Environment
	id    int64
	data  map[string]any
}

// ID returns the record's immutable identity.
func (r *Record) ID() int64 { return r.id }

// Model returns the record's model.
func (r *Record) Model() *Model { return r.model }

// Env returns the environment the record is bound to.
func (r *Record) Env() *Environment { return r.env }

// Get resolves a field by name. Many2one fields return the related *Record
// (nil when unset); the relation attribute spelling (team for team_id) works
// too. One2many and many2many return a *Recordset. RawID retrieves the
// foreign key itself.
func (r *Record) Get(field string) (any, error) {
	if field == "id" {
		return r.id, nil
	}
	name := field
	if mapped, ok := r.model.RelationAttrField(field); ok {
		name = mapped
	}
	f, declared := r.model.Field(name)
	if !declared {
		return nil, NewUserError("model %s has no field %q", r.model.Name, field)
	}
	// A compute with no declared dependencies is always stale.
	if f.Compute != "" && len(f.Depends) == 0 {
		return r.runCompute(name)
	}
	switch r.model.access[name] {
	case accessColumn:
		return r.data[name], nil
	case accessComputed:
		return r.runCompute(name)
	case accessMany2one:
		return r.resolveMany2one(name)
	case accessOne2many:
		return r.resolveOne2many(name)
	case accessMany2many:
		return r.resolveMany2many(name)
	case accessAttachment:
		return r.resolveAttachments(name, f)
	}
	return r.data[name], nil
}

// RawID returns a many2one field's stored foreign key without resolving the
// related record. Zero means unset.
func (r *Record) RawID(field string) (int64, error) {
	f, ok := r.model.Field(field)
	if !ok || f.Type != FieldMany2one {
		return 0, NewUserError("model %s has no many2one field %q", r.model.Name, field)
	}
	id, _ := toInt64(r.data[field])
	return id, nil
}

// GetPath resolves a dot path, traversing many2one relations.
func (r *Record) GetPath(path string) (any, error) {
	parts := strings.Split(path, ".")
	cur := r
	for i, part := range parts {
		v, err := cur.Get(part)
		if err != nil {
			return nil, err
		}
		if i == len(parts)-1 {
			return v, nil
		}
		next, ok := v.(*Record)
		if !ok || next == nil {
			return nil, nil
		}
		cur = next
	}
	return nil, nil
}

// DisplayName renders the record's display name from the model's name field.
func (r *Record) DisplayName() string {
	if r.model.NameField != "" && r.model.NameField != "id" {
		if v, ok := r.data[r.model.NameField]; ok && v != nil {
			if s := fmt.Sprintf("%v", v); s != "" {
				return s
			}
		}
	}
	return fmt.Sprintf("%s,%d", r.model.Name, r.id)
}

// Refresh reloads the record's row from storage.
func (r *Record) Refresh() error {
	var rows []map[string]any
	err := r.env.db.Table(r.model.Table).Where("id = ?", r.id).Limit(1).Find(&rows).Error
	if err != nil {
		return fmt.Errorf("refresh %s(%d): %w", r.model.Name, r.id, translateDBError(err))
	}
	if len(rows) == 0 {
		return NewUserError("%s record %d no longer exists", r.model.Name, r.id)
	}
	r.data = rows[0]
	return nil
}

func (r *Record) runCompute(field string) (any, error) {
	f, _ := r.model.Field(field)
	fn := r.model.computes[f.Compute]
	if fn == nil {
		return nil, NewUserError("model %s field %s: compute %q missing", r.model.Name, field, f.Compute)
	}
	return fn(r.env, r)
}

func (r *Record) resolveMany2one(field string) (*Record, error) {
	id, _ := toInt64(r.data[field])
	if id == 0 {
		return nil, nil
	}
	spec, _ := r.model.Relationship(field)
	rs, err := r.env.Model(spec.Relation)
	if err != nil {
		return nil, err
	}
	related, err := rs.Browse(id)
	if err != nil {
		return nil, err
	}
	if related.Len() == 0 {
		return nil, nil
	}
	return related.records[0], nil
}

func (r *Record) resolveOne2many(field string) (*Recordset, error) {
	spec, _ := r.model.Relationship(field)
	rs, err := r.env.Model(spec.Relation)
	if err != nil {
		return nil, err
	}
	var rows []map[string]any
	err = r.env.db.Table(modelTable(spec.Relation)).
		Where(quoteIdent(spec.InverseName)+" = ?", r.id).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("resolve %s.%s: %w", r.model.Name, field, translateDBError(err))
	}
	return rs.fromRows(rows), nil
}

func (r *Record) resolveMany2many(field string) (*Recordset, error) {
	ids, err := r.many2manyIDs(field)
	if err != nil {
		return nil, err
	}
	spec, _ := r.model.Relationship(field)
	rs, err := r.env.Model(spec.Relation)
	if err != nil {
		return nil, err
	}
	return rs.Browse(ids...)
}

// many2manyIDs fetches the related ids through the junction table.
func (r *Record) many2manyIDs(field string) ([]int64, error) {
	spec, ok := r.model.Relationship(field)
	if !ok || spec.Kind != RelMany2many {
		return nil, NewUserError("model %s has no many2many field %q", r.model.Name, field)
	}
	var ids []int64
	err := r.env.db.Raw(fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s = ? ORDER BY %s",
		quoteIdent(spec.Column2), quoteIdent(spec.JunctionTable), quoteIdent(spec.Column1), quoteIdent(spec.Column2),
	), r.id).Scan(&ids).Error
	if err != nil {
		return nil, fmt.Errorf("junction fetch %s.%s: %w", r.model.Name, field, translateDBError(err))
	}
	return ids, nil
}

// attachmentRows loads the attachment side-table rows for one field.
func (r *Record) attachmentRows(field string) ([]map[string]any, error) {
	var rows []map[string]any
	err := r.env.db.Table(modelTable(AttachmentModel)).
		Where("res_model = ? AND res_id = ? AND res_field = ?", r.model.Name, r.id, field).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("attachments %s.%s: %w", r.model.Name, field, translateDBError(err))
	}
	return rows, nil
}

// resolveAttachments collapses the side table per the field's cardinality:
// first-or-nil for single attachment fields, the full list otherwise.
func (r *Record) resolveAttachments(field string, f Field) (any, error) {
	rows, err := r.attachmentRows(field)
	if err != nil {
		return nil, err
	}
	if f.Type == FieldAttachment {
		if len(rows) == 0 {
			return nil, nil
		}
		return rows[0], nil
	}
	return rows, nil
}

// DictOptions bound a ToDict serialization.
type DictOptions struct {
	// Fields limits serialization to the named fields; nil means all.
	Fields []string
	// IncludeDomainStates attaches per-field visible/readonly/required
	// booleans under _domain_states.
	IncludeDomainStates bool
	// User is the verified context for user-relative expressions.
	User *domain.UserContext
	// MaxDepth bounds one2many recursion; at depth 0 related records
	// collapse to their ids. Zero value means depth 1.
	MaxDepth int

	depthSet bool
}

// ToDict serializes the record to a plain map: many2one as
// {id, display_name}, one2many recursively (depth-limited), many2many as an
// id list, attachments from the side table.
func (r *Record) ToDict(opts *DictOptions) (map[string]any, error) {
	if opts == nil {
		opts = &DictOptions{}
	}
	depth := opts.MaxDepth
	if depth == 0 && !opts.depthSet {
		depth = 1
	}
	fields := opts.Fields
	if fields == nil {
		fields = r.model.fieldOrder
	}

	out := map[string]any{"id": r.id}
	for _, name := range fields {
		f, ok := r.model.Field(name)
		if !ok {
			continue
		}
		if f.Compute != "" && len(f.Depends) == 0 {
			v, err := r.runCompute(name)
			if err != nil {
				return nil, err
			}
			out[name] = v
			continue
		}
		switch r.model.access[name] {
		case accessColumn:
			out[name] = formatScalar(f, r.data[name])
		case accessComputed:
			v, err := r.runCompute(name)
			if err != nil {
				return nil, err
			}
			out[name] = v
		case accessMany2one:
			related, err := r.resolveMany2one(name)
			if err != nil {
				return nil, err
			}
			if related == nil {
				out[name] = nil
			} else {
				out[name] = map[string]any{"id": related.id, "display_name": related.DisplayName()}
			}
		case accessOne2many:
			related, err := r.resolveOne2many(name)
			if err != nil {
				return nil, err
			}
			if depth <= 0 {
				out[name] = related.IDs()
				continue
			}
			items := make([]map[string]any, 0, related.Len())
			for _, rel := range related.records {
				item, err := rel.ToDict(&DictOptions{
					IncludeDomainStates: opts.IncludeDomainStates,
					User:                opts.User,
					MaxDepth:            depth - 1,
					depthSet:            true,
				})
				if err != nil {
					return nil, err
				}
				items = append(items, item)
			}
			out[name] = items
		case accessMany2many:
			ids, err := r.many2manyIDs(name)
			if err != nil {
				return nil, err
			}
			out[name] = ids
		case accessAttachment:
			v, err := r.resolveAttachments(name, f)
			if err != nil {
				return nil, err
			}
			out[name] = v
		}
	}
	if _, ok := out["display_name"]; !ok {
		out["display_name"] = r.DisplayName()
	}

	if opts.IncludeDomainStates {
		recordCtx := r.domainContext()
		states := make(map[string]any, len(fields))
		for _, name := range fields {
			if _, ok := r.model.Field(name); !ok {
				continue
			}
			states[name] = r.model.DomainStates(name, recordCtx, opts.User)
		}
		out["_domain_states"] = states
	}
	return out, nil
}

// domainContext builds the record context modifier expressions evaluate
// against: stored column values, with many2one values reduced to their ids.
func (r *Record) domainContext() map[string]any {
	ctx := make(map[string]any, len(r.data))
	for k, v := range r.data {
		ctx[k] = v
	}
	ctx["id"] = r.id
	return ctx
}

const (
	dateLayout     = "2006-01-02"
	datetimeLayout = "2006-01-02 15:04:05"
)

func formatScalar(f Field, v any) any {
	t, ok := v.(time.Time)
	if !ok {
		return v
	}
	if f.Type == FieldDate {
		return t.Format(dateLayout)
	}
	return t.Format(datetimeLayout)
}
