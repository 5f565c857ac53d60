package core

import (
	"fmt"
	"strings"

	"gorm.io/gorm"

	"backend/internal/core/domain"
)

// ApplyDomainExpr translates a parsed domain expression into a SQL filter on
// q. One routine serves every filter consumer: list queries, named filters,
// and policy row filters all come through here.
func ApplyDomainExpr(q *gorm.DB, m *Model, ast domain.AST, user *domain.UserContext) (*gorm.DB, error) {
	if ast.Empty() {
		return q, nil
	}
	sql, args, err := groupSQL(m, ast.Groups[0], user)
	if err != nil {
		return nil, err
	}
	for i, op := range ast.Operators {
		nextSQL, nextArgs, err := groupSQL(m, ast.Groups[i+1], user)
		if err != nil {
			return nil, err
		}
		joiner := " AND "
		if op == "|" {
			joiner = " OR "
		}
		sql = "(" + sql + ")" + joiner + "(" + nextSQL + ")"
		args = append(args, nextArgs...)
	}
	return q.Where(sql, args...), nil
}

// ApplyDomain translates the Polish-notation token-list form into a SQL
// filter: '&'/'|'/'!' prefix operators followed by their arguments, plus
// bare (field, op, value) conditions; leftover top-level terms are
// conjunctive.
func ApplyDomain(q *gorm.DB, m *Model, tokens []any, user *domain.UserContext) (*gorm.DB, error) {
	if len(tokens) == 0 {
		return q, nil
	}
	pos := 0
	var clauses []string
	var args []any
	for pos < len(tokens) {
		sql, clauseArgs, next, err := parsePolish(m, tokens, pos, user)
		if err != nil {
			return nil, err
		}
		pos = next
		clauses = append(clauses, sql)
		args = append(args, clauseArgs...)
	}
	sql := clauses[0]
	if len(clauses) > 1 {
		for i := range clauses {
			clauses[i] = "(" + clauses[i] + ")"
		}
		sql = strings.Join(clauses, " AND ")
	}
	return q.Where(sql, args...), nil
}

func parsePolish(m *Model, tokens []any, pos int, user *domain.UserContext) (string, []any, int, error) {
	if pos >= len(tokens) {
		return "", nil, pos, &domain.EvaluationError{Reason: "incomplete domain: operator missing its arguments"}
	}
	switch tok := tokens[pos].(type) {
	case string:
		switch tok {
		case "&", "|":
			left, leftArgs, next, err := parsePolish(m, tokens, pos+1, user)
			if err != nil {
				return "", nil, pos, err
			}
			right, rightArgs, next, err := parsePolish(m, tokens, next, user)
			if err != nil {
				return "", nil, pos, err
			}
			joiner := " AND "
			if tok == "|" {
				joiner = " OR "
			}
			return "(" + left + ")" + joiner + "(" + right + ")", append(leftArgs, rightArgs...), next, nil
		case "!":
			inner, innerArgs, next, err := parsePolish(m, tokens, pos+1, user)
			if err != nil {
				return "", nil, pos, err
			}
			return "NOT (" + inner + ")", innerArgs, next, nil
		default:
			return "", nil, pos, &domain.EvaluationError{Reason: fmt.Sprintf("unexpected domain token %q", tok)}
		}
	default:
		cond, err := conditionToken(tok)
		if err != nil {
			return "", nil, pos, err
		}
		sql, args, err := condSQL(m, cond, user)
		if err != nil {
			return "", nil, pos, err
		}
		return sql, args, pos + 1, nil
	}
}

func conditionToken(tok any) (domain.Condition, error) {
	var parts []any
	switch v := tok.(type) {
	case []any:
		parts = v
	case [3]any:
		parts = v[:]
	case domain.Condition:
		return v, nil
	default:
		return domain.Condition{}, &domain.EvaluationError{Reason: fmt.Sprintf("invalid domain condition %v", tok)}
	}
	if len(parts) != 3 {
		return domain.Condition{}, &domain.EvaluationError{Reason: fmt.Sprintf("domain condition must have 3 elements, got %v", parts)}
	}
	field, ok := parts[0].(string)
	if !ok {
		return domain.Condition{}, &domain.EvaluationError{Reason: "domain condition field must be a string"}
	}
	op, ok := parts[1].(string)
	if !ok || !domain.SupportedOperators[op] {
		return domain.Condition{}, &domain.EvaluationError{Reason: fmt.Sprintf("unsupported domain operator %v", parts[1])}
	}
	return domain.Condition{Field: field, Operator: op, Value: parts[2]}, nil
}

func groupSQL(m *Model, g domain.Group, user *domain.UserContext) (string, []any, error) {
	var clauses []string
	var args []any
	for _, c := range g.Conditions {
		sql, condArgs, err := condSQL(m, c, user)
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, sql)
		args = append(args, condArgs...)
	}
	if len(clauses) == 1 {
		return clauses[0], args, nil
	}
	for i := range clauses {
		clauses[i] = "(" + clauses[i] + ")"
	}
	return strings.Join(clauses, " AND "), args, nil
}

// condSQL renders a single condition. Relation fields get EXISTS subqueries
// against their junction or inverse table; the is-empty shorthand
// (field, '=', false) maps per field type.
func condSQL(m *Model, c domain.Condition, user *domain.UserContext) (string, []any, error) {
	value, err := resolveValue(c.Value, user)
	if err != nil {
		return "", nil, err
	}
	f, declared := m.Field(c.Field)
	if !declared && c.Field != "id" {
		return "", nil, &domain.EvaluationError{Reason: fmt.Sprintf("model %s has no field %q", m.Name, c.Field)}
	}

	switch f.Type {
	case FieldOne2many:
		return one2manySQL(m, c.Field, c.Operator, value)
	case FieldMany2many:
		return many2manySQL(m, c.Field, c.Operator, value)
	case FieldAttachment, FieldAttachments:
		return attachmentSQL(m, c.Operator, c.Field, value)
	}

	col := quoteIdent(c.Field)
	if !m.HasColumn(c.Field) {
		return "", nil, &domain.EvaluationError{Reason: fmt.Sprintf("field %q is not searchable", c.Field)}
	}

	switch c.Operator {
	case "=":
		if isFalseLiteral(value) {
			return emptyColumnSQL(col, f), nil, nil
		}
		return col + " = ?", []any{normalizeCondValue(f, value)}, nil
	case "!=":
		if isFalseLiteral(value) {
			return "NOT (" + emptyColumnSQL(col, f) + ")", nil, nil
		}
		return col + " != ?", []any{normalizeCondValue(f, value)}, nil
	case "<", ">", "<=", ">=":
		return col + " " + c.Operator + " ?", []any{value}, nil
	case "in":
		list, err := valueList(value)
		if err != nil {
			return "", nil, err
		}
		return col + " IN ?", []any{list}, nil
	case "not in":
		list, err := valueList(value)
		if err != nil {
			return "", nil, err
		}
		return col + " NOT IN ?", []any{list}, nil
	case "like":
		return col + " LIKE ?", []any{likePattern(value)}, nil
	case "ilike":
		// lower() keeps the generated SQL portable across backends.
		return "lower(" + col + ") LIKE lower(?)", []any{likePattern(value)}, nil
	default:
		return "", nil, &domain.EvaluationError{Reason: fmt.Sprintf("unsupported operator %q", c.Operator)}
	}
}

func one2manySQL(m *Model, field, op string, value any) (string, []any, error) {
	spec, ok := m.Relationship(field)
	if !ok {
		return "", nil, &domain.EvaluationError{Reason: fmt.Sprintf("field %q has no relationship", field)}
	}
	target := modelTable(spec.Relation)
	sub := fmt.Sprintf("SELECT 1 FROM %s WHERE %s.%s = %s.id",
		quoteIdent(target), quoteIdent(target), quoteIdent(spec.InverseName), quoteIdent(m.Table))
	switch op {
	case "=":
		if isFalseLiteral(value) {
			return "NOT EXISTS (" + sub + ")", nil, nil
		}
	case "!=":
		if isFalseLiteral(value) {
			return "EXISTS (" + sub + ")", nil, nil
		}
	case "in":
		list, err := valueList(value)
		if err != nil {
			return "", nil, err
		}
		return "EXISTS (" + sub + fmt.Sprintf(" AND %s.id IN ?)", quoteIdent(target)), []any{list}, nil
	case "not in":
		list, err := valueList(value)
		if err != nil {
			return "", nil, err
		}
		return "NOT EXISTS (" + sub + fmt.Sprintf(" AND %s.id IN ?)", quoteIdent(target)), []any{list}, nil
	}
	return "", nil, &domain.EvaluationError{Reason: fmt.Sprintf("operator %q not supported on one2many %q", op, field)}
}

func many2manySQL(m *Model, field, op string, value any) (string, []any, error) {
	spec, ok := m.Relationship(field)
	if !ok {
		return "", nil, &domain.EvaluationError{Reason: fmt.Sprintf("field %q has no relationship", field)}
	}
	jt := quoteIdent(spec.JunctionTable)
	sub := fmt.Sprintf("SELECT 1 FROM %s WHERE %s.%s = %s.id",
		jt, jt, quoteIdent(spec.Column1), quoteIdent(m.Table))
	switch op {
	case "=":
		if isFalseLiteral(value) {
			return "NOT EXISTS (" + sub + ")", nil, nil
		}
		return "EXISTS (" + sub + fmt.Sprintf(" AND %s.%s = ?)", jt, quoteIdent(spec.Column2)), []any{value}, nil
	case "!=":
		if isFalseLiteral(value) {
			return "EXISTS (" + sub + ")", nil, nil
		}
	case "in":
		list, err := valueList(value)
		if err != nil {
			return "", nil, err
		}
		return "EXISTS (" + sub + fmt.Sprintf(" AND %s.%s IN ?)", jt, quoteIdent(spec.Column2)), []any{list}, nil
	case "not in":
		list, err := valueList(value)
		if err != nil {
			return "", nil, err
		}
		return "NOT EXISTS (" + sub + fmt.Sprintf(" AND %s.%s IN ?)", jt, quoteIdent(spec.Column2)), []any{list}, nil
	}
	return "", nil, &domain.EvaluationError{Reason: fmt.Sprintf("operator %q not supported on many2many %q", op, field)}
}

func attachmentSQL(m *Model, op, field string, value any) (string, []any, error) {
	table := modelTable(AttachmentModel)
	sub := fmt.Sprintf("SELECT 1 FROM %s WHERE %s.res_model = ? AND %s.res_id = %s.id AND %s.res_field = ?",
		quoteIdent(table), quoteIdent(table), quoteIdent(table), quoteIdent(m.Table), quoteIdent(table))
	switch op {
	case "=":
		if isFalseLiteral(value) {
			return "NOT EXISTS (" + sub + ")", []any{m.Name, field}, nil
		}
	case "!=":
		if isFalseLiteral(value) {
			return "EXISTS (" + sub + ")", []any{m.Name, field}, nil
		}
	}
	return "", nil, &domain.EvaluationError{Reason: fmt.Sprintf("operator %q not supported on attachment field %q", op, field)}
}

// resolveValue substitutes user-relative references. An unresolvable
// reference is an error at the query layer; policy filtering drops such
// criteria before they reach here.
func resolveValue(v any, user *domain.UserContext) (any, error) {
	s, ok := v.(string)
	if !ok || !strings.HasPrefix(s, "user.") {
		return v, nil
	}
	resolved, found := user.Lookup(strings.TrimPrefix(s, "user."))
	if !found {
		return nil, &domain.EvaluationError{Reason: fmt.Sprintf("cannot resolve %q without a verified user context", s)}
	}
	return resolved, nil
}

func isFalseLiteral(v any) bool {
	b, ok := v.(bool)
	return ok && !b
}

func emptyColumnSQL(col string, f Field) string {
	switch f.Type {
	case FieldString, FieldText, FieldSelection, FieldImage:
		return "(" + col + " IS NULL OR " + col + " = '')"
	case FieldInteger, FieldFloat, FieldMany2one:
		return "(" + col + " IS NULL OR " + col + " = 0)"
	case FieldBoolean:
		return "(" + col + " IS NULL OR " + col + " = false)"
	default:
		return col + " IS NULL"
	}
}

// normalizeCondValue reduces relation payload shapes so many2one conditions
// accept both bare ids and {id: ...} maps.
func normalizeCondValue(f Field, v any) any {
	if f.Type != FieldMany2one {
		return v
	}
	if m, ok := v.(map[string]any); ok {
		if id, ok := m["id"]; ok {
			return id
		}
	}
	return v
}

func valueList(v any) ([]any, error) {
	switch list := v.(type) {
	case []any:
		return list, nil
	case []int64:
		out := make([]any, len(list))
		for i, n := range list {
			out[i] = n
		}
		return out, nil
	case []string:
		out := make([]any, len(list))
		for i, s := range list {
			out[i] = s
		}
		return out, nil
	default:
		return nil, &domain.EvaluationError{Reason: fmt.Sprintf("'in' requires a list value, got %v", v)}
	}
}

func likePattern(v any) string {
	s := fmt.Sprintf("%v", v)
	if !strings.ContainsAny(s, "%_") {
		return "%" + s + "%"
	}
	return s
}

// quoteIdent quotes an identifier after validating its character set;
// anything unexpected is neutralized rather than interpolated.
func quoteIdent(name string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		}
		return -1
	}, name)
	return `"` + clean + `"`
}

func rowID(row map[string]any) int64 {
	id, _ := toInt64(row["id"])
	return id
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float64:
		return int64(n), true
	case map[string]any:
		if id, ok := n["id"]; ok {
			return toInt64(id)
		}
		return 0, false
	default:
		return 0, false
	}
}
