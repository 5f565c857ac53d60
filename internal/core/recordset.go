package core

import (
	"fmt"
	"sort"
	"strings"

	"backend/internal/core/domain"

	"gorm.io/gorm"
)

// Recordset is an ordered collection of records of one model, bound to an
// environment. The zero-record set is valid and most operations on it are
// no-ops.
type Recordset struct {
	model   *Model
	env     *Environment
	records []*Record
}

// Model returns the model this set is bound to.
func (rs *Recordset) Model() *Model { return rs.model }

// Env returns the environment this set operates in.
func (rs *Recordset) Env() *Environment { return rs.env }

// Len returns the record count.
func (rs *Recordset) Len() int { return len(rs.records) }

// Exists reports whether the set is non-empty.
func (rs *Recordset) Exists() bool { return len(rs.records) > 0 }

// IDs returns the record ids in set order.
func (rs *Recordset) IDs() []int64 {
	out := make([]int64, len(rs.records))
	for i, r := range rs.records {
		out[i] = r.id
	}
	return out
}

// Records returns the underlying records in set order.
func (rs *Recordset) Records() []*Record {
	out := make([]*Record, len(rs.records))
	copy(out, rs.records)
	return out
}

// EnsureOne returns the single record of the set, failing when the
// cardinality is not exactly one.
func (rs *Recordset) EnsureOne() (*Record, error) {
	if len(rs.records) != 1 {
		return nil, NewUserError("expected exactly one %s record, got %d", rs.model.Name, len(rs.records))
	}
	return rs.records[0], nil
}

// SearchOptions bound and order a search.
type SearchOptions struct {
	Limit  int
	Offset int
	Order  string // "field" or "field desc"
}

// Search runs a domain expression as a query filter and returns the
// matching records. An empty expression matches everything.
func (rs *Recordset) Search(expr string, opts *SearchOptions) (*Recordset, error) {
	ast, err := domain.Parse(expr)
	if err != nil {
		return nil, err
	}
	return rs.SearchExpr(ast, opts)
}

// SearchExpr is Search over an already-parsed expression.
func (rs *Recordset) SearchExpr(ast domain.AST, opts *SearchOptions) (*Recordset, error) {
	q := rs.env.db.Table(rs.model.Table)
	q, err := ApplyDomainExpr(q, rs.model, ast, rs.env.User)
	if err != nil {
		return nil, err
	}
	if opts != nil {
		if opts.Order != "" {
			order, err := rs.sanitizeOrder(opts.Order)
			if err != nil {
				return nil, err
			}
			q = q.Order(order)
		}
		if opts.Limit > 0 {
			q = q.Limit(opts.Limit)
		}
		if opts.Offset > 0 {
			q = q.Offset(opts.Offset)
		}
	}
	var rows []map[string]any
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("search %s: %w", rs.model.Name, translateDBError(err))
	}
	return rs.fromRows(rows), nil
}

// ListOptions parameterize the transport-facing read pipeline.
type ListOptions struct {
	Domain string // client-supplied domain expression, may be empty
	Filter string // named filter from the model's search config
	Order  string
	Limit  int
	Offset int
}

// List runs the full read pipeline: the acting user's row filter, then the
// client domain, then a named filter. Returns the requested page plus the
// total match count before paging.
func (rs *Recordset) List(opts ListOptions) (*Recordset, int64, error) {
	filtered := func() (*gorm.DB, error) {
		q := rs.env.db.Table(rs.model.Table)
		q, err := ApplyDomainFilter(q, rs.env.User, rs.model.Name)
		if err != nil {
			return nil, err
		}
		if opts.Domain != "" {
			ast, err := domain.Parse(opts.Domain)
			if err != nil {
				return nil, err
			}
			if q, err = ApplyDomainExpr(q, rs.model, ast, rs.env.User); err != nil {
				return nil, err
			}
		}
		if opts.Filter != "" {
			expr, ok := rs.model.Filters[opts.Filter]
			if !ok {
				return nil, NewUserError("model %s has no filter %q", rs.model.Name, opts.Filter)
			}
			ast, err := domain.Parse(expr)
			if err != nil {
				return nil, err
			}
			if q, err = ApplyDomainExpr(q, rs.model, ast, rs.env.User); err != nil {
				return nil, err
			}
		}
		return q, nil
	}

	q, err := filtered()
	if err != nil {
		return nil, 0, err
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count %s: %w", rs.model.Name, translateDBError(err))
	}

	if q, err = filtered(); err != nil {
		return nil, 0, err
	}
	order := opts.Order
	if order == "" {
		order = "id desc"
	}
	clause, err := rs.sanitizeOrder(order)
	if err != nil {
		return nil, 0, err
	}
	q = q.Order(clause)
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	var rows []map[string]any
	if err := q.Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("list %s: %w", rs.model.Name, translateDBError(err))
	}
	return rs.fromRows(rows), total, nil
}

// SearchDomain runs a programmatic Polish-notation domain (the token-list
// form) as a query filter.
func (rs *Recordset) SearchDomain(tokens []any, opts *SearchOptions) (*Recordset, error) {
	q := rs.env.db.Table(rs.model.Table)
	q, err := ApplyDomain(q, rs.model, tokens, rs.env.User)
	if err != nil {
		return nil, err
	}
	if opts != nil && opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	var rows []map[string]any
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("search %s: %w", rs.model.Name, translateDBError(err))
	}
	return rs.fromRows(rows), nil
}

// SearchFilter runs one of the model's named filters.
func (rs *Recordset) SearchFilter(name string, opts *SearchOptions) (*Recordset, error) {
	expr, ok := rs.model.Filters[name]
	if !ok {
		return nil, NewUserError("model %s has no filter %q", rs.model.Name, name)
	}
	return rs.Search(expr, opts)
}

// Browse fetches records by id. Missing ids are silently dropped; the
// result preserves the requested order for the ids that exist.
func (rs *Recordset) Browse(ids ...int64) (*Recordset, error) {
	if len(ids) == 0 {
		return &Recordset{model: rs.model, env: rs.env}, nil
	}
	var rows []map[string]any
	err := rs.env.db.Table(rs.model.Table).Where("id IN ?", ids).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("browse %s: %w", rs.model.Name, translateDBError(err))
	}
	byID := make(map[int64]map[string]any, len(rows))
	for _, row := range rows {
		byID[rowID(row)] = row
	}
	out := &Recordset{model: rs.model, env: rs.env}
	for _, id := range ids {
		if row, ok := byID[id]; ok {
			out.records = append(out.records, rs.newRecord(row))
		}
	}
	return out, nil
}

// Filtered returns the records satisfying pred, preserving order.
func (rs *Recordset) Filtered(pred func(*Record) bool) *Recordset {
	out := &Recordset{model: rs.model, env: rs.env}
	for _, r := range rs.records {
		if pred(r) {
			out.records = append(out.records, r)
		}
	}
	return out
}

// Mapped projects a field (or dot path through many2one relations) across
// the set.
func (rs *Recordset) Mapped(path string) []any {
	out := make([]any, 0, len(rs.records))
	for _, r := range rs.records {
		v, err := r.GetPath(path)
		if err != nil {
			v = nil
		}
		out = append(out, v)
	}
	return out
}

// SortedBy returns a copy of the set ordered by one field's value.
func (rs *Recordset) SortedBy(field string, reverse bool) *Recordset {
	out := &Recordset{model: rs.model, env: rs.env, records: rs.Records()}
	sort.SliceStable(out.records, func(i, j int) bool {
		less := lessValues(out.records[i].data[field], out.records[j].data[field])
		if reverse {
			return !less
		}
		return less
	})
	return out
}

func lessValues(a, b any) bool {
	if af, ok := toComparable(a); ok {
		if bf, ok := toComparable(b); ok {
			return af < bf
		}
	}
	return fmt.Sprintf("%v", a) < fmt.Sprintf("%v", b)
}

func toComparable(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func (rs *Recordset) fromRows(rows []map[string]any) *Recordset {
	out := &Recordset{model: rs.model, env: rs.env}
	for _, row := range rows {
		out.records = append(out.records, rs.newRecord(row))
	}
	return out
}

func (rs *Recordset) newRecord(row map[string]any) *Record {
	return &Record{model: rs.model, env: rs.env, id: rowID(row), data: row}
}

// sanitizeOrder accepts "field" or "field asc|desc" for declared columns
// only; anything else is rejected rather than interpolated into SQL.
func (rs *Recordset) sanitizeOrder(order string) (string, error) {
	parts := strings.Fields(order)
	if len(parts) == 0 || len(parts) > 2 {
		return "", NewUserError("invalid order %q", order)
	}
	if !rs.model.HasColumn(parts[0]) {
		return "", NewUserError("cannot order by unknown column %q", parts[0])
	}
	dir := ""
	if len(parts) == 2 {
		switch strings.ToLower(parts[1]) {
		case "asc":
			dir = " asc"
		case "desc":
			dir = " desc"
		default:
			return "", NewUserError("invalid order direction %q", parts[1])
		}
	}
	return quoteIdent(parts[0]) + dir, nil
}
