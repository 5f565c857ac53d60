package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Evaluate parses and evaluates an expression against a record. Values of
// the form "user.xxx" are resolved against the supplied user context; a nil
// context leaves them unresolved and the owning condition evaluates false.
// Supplying a context that is not Verified is different: any expression
// touching user facts is refused outright with an *EvaluationError, so
// SafeEvaluate falls to the caller's default instead of silently answering
// false.
func Evaluate(expr string, record map[string]any, user *UserContext) (bool, error) {
	ast, err := Parse(expr)
	if err != nil {
		return false, err
	}
	return EvaluateExpr(ast, record, user)
}

// EvaluateExpr evaluates a parsed expression. An empty expression is
// vacuously true. Groups combine left to right with their logical operators;
// conditions within a group are conjunctive.
func EvaluateExpr(ast AST, record map[string]any, user *UserContext) (bool, error) {
	if ast.Empty() {
		return true, nil
	}
	if user != nil && !user.Verified() && referencesUser(ast) {
		return false, &EvaluationError{Reason: "user context lacks verified provenance"}
	}
	result := evalGroup(ast.Groups[0], record, user)
	for i, op := range ast.Operators {
		next := evalGroup(ast.Groups[i+1], record, user)
		switch op {
		case "&":
			result = result && next
		case "|":
			result = result || next
		default:
			return false, &EvaluationError{Reason: fmt.Sprintf("unknown logical operator %q", op)}
		}
	}
	return result, nil
}

// SafeEvaluate evaluates an expression and returns the caller's default on
// any parse or evaluation failure. Individual conditions that cannot be
// resolved still evaluate false; only engine-level failures hit the default.
func SafeEvaluate(expr string, record map[string]any, user *UserContext, defaultResult bool) bool {
	ok, err := Evaluate(expr, record, user)
	if err != nil {
		return defaultResult
	}
	return ok
}

// referencesUser reports whether any condition reads user facts, either as
// its field or as a "user.xxx" reference value.
func referencesUser(ast AST) bool {
	for _, g := range ast.Groups {
		for _, c := range g.Conditions {
			if strings.HasPrefix(c.Field, "user.") {
				return true
			}
			if s, ok := c.Value.(string); ok && strings.HasPrefix(s, "user.") {
				return true
			}
		}
	}
	return false
}

func evalGroup(g Group, record map[string]any, user *UserContext) bool {
	for _, c := range g.Conditions {
		if !evalCondition(c, record, user) {
			return false
		}
	}
	return len(g.Conditions) > 0
}

// evalCondition never errors: a condition that cannot be resolved (missing
// field, unresolvable user path, incomparable types) evaluates false.
func evalCondition(c Condition, record map[string]any, user *UserContext) bool {
	fieldVal, ok := lookupField(c.Field, record, user)
	if !ok {
		return false
	}
	condVal := c.Value
	if s, isStr := condVal.(string); isStr && strings.HasPrefix(s, "user.") {
		resolved, found := resolveUserPath(s, user)
		if !found {
			return false
		}
		condVal = resolved
	}

	switch c.Operator {
	case "=":
		return valuesEqual(fieldVal, condVal)
	case "!=":
		return !valuesEqual(fieldVal, condVal)
	case "<", ">", "<=", ">=":
		return compareOrdered(fieldVal, condVal, c.Operator)
	case "in":
		return valueIn(fieldVal, condVal)
	case "not in":
		return !valueIn(fieldVal, condVal)
	case "like":
		return matchLike(fieldVal, condVal, false)
	case "ilike":
		return matchLike(fieldVal, condVal, true)
	default:
		return false
	}
}

func lookupField(field string, record map[string]any, user *UserContext) (any, bool) {
	if strings.HasPrefix(field, "user.") {
		return resolveUserPath(field, user)
	}
	v, ok := record[field]
	return v, ok
}

func resolveUserPath(path string, user *UserContext) (any, bool) {
	if user == nil {
		return nil, false
	}
	return user.Lookup(strings.TrimPrefix(path, "user."))
}

// valuesEqual implements equality with the empty-value convention: comparing
// against false matches any "empty" value (nil, empty string, zero, empty
// collection, an unset relation), so ('parent_id', '=', False) reads as
// "has no parent".
func valuesEqual(a, b any) bool {
	if bb, ok := b.(bool); ok && !bb {
		if ab, isBool := a.(bool); isBool {
			return !ab
		}
		return valueIsEmpty(a)
	}
	if ab, ok := a.(bool); ok && !ab {
		if _, isBool := b.(bool); !isBool {
			return valueIsEmpty(b)
		}
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func valueIsEmpty(v any) bool {
	switch vv := v.(type) {
	case nil:
		return true
	case string:
		return vv == ""
	case bool:
		return !vv
	case []any:
		return len(vv) == 0
	case map[string]any:
		return len(vv) == 0
	default:
		if f, ok := toFloat(v); ok {
			return f == 0
		}
		return false
	}
}

func compareOrdered(a, b any, op string) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch op {
		case "<":
			return af < bf
		case ">":
			return af > bf
		case "<=":
			return af <= bf
		case ">=":
			return af >= bf
		}
		return false
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		switch op {
		case "<":
			return as < bs
		case ">":
			return as > bs
		case "<=":
			return as <= bs
		case ">=":
			return as >= bs
		}
	}
	return false
}

func valueIn(fieldVal, condVal any) bool {
	list, ok := condVal.([]any)
	if !ok {
		return false
	}
	// A list-valued field (e.g. a to-many relation) is "in" when any of its
	// members matches.
	if fieldList, isList := fieldVal.([]any); isList {
		for _, fv := range fieldList {
			for _, cv := range list {
				if valuesEqual(fv, cv) {
					return true
				}
			}
		}
		return false
	}
	for _, cv := range list {
		if valuesEqual(fieldVal, cv) {
			return true
		}
	}
	return false
}

// matchLike implements SQL-style pattern matching with % and _ wildcards.
// A pattern without wildcards matches as a substring.
func matchLike(fieldVal, condVal any, caseInsensitive bool) bool {
	fv, ok := fieldVal.(string)
	if !ok {
		if fieldVal == nil {
			return false
		}
		fv = fmt.Sprintf("%v", fieldVal)
	}
	pattern, ok := condVal.(string)
	if !ok {
		return false
	}
	if !strings.ContainsAny(pattern, "%_") {
		if caseInsensitive {
			return strings.Contains(strings.ToLower(fv), strings.ToLower(pattern))
		}
		return strings.Contains(fv, pattern)
	}
	quoted := regexp.QuoteMeta(pattern)
	quoted = strings.ReplaceAll(quoted, "%", ".*")
	quoted = strings.ReplaceAll(quoted, "_", ".")
	flags := ""
	if caseInsensitive {
		flags = "(?i)"
	}
	re, err := regexp.Compile("^" + flags + quoted + "$")
	if err != nil {
		return false
	}
	return re.MatchString(fv)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Validate checks an expression for well-formedness and, when knownFields is
// non-nil, flags references to fields the model does not declare. Unknown
// fields are warnings, not errors, so expressions can be authored ahead of
// the fields they reference.
func Validate(expr string, knownFields map[string]bool) ValidationResult {
	res := ValidationResult{Valid: true}
	ast, err := Parse(expr)
	if err != nil {
		res.Valid = false
		res.Errors = append(res.Errors, err.Error())
		return res
	}
	if knownFields == nil {
		return res
	}
	for _, g := range ast.Groups {
		for _, c := range g.Conditions {
			if strings.HasPrefix(c.Field, "user.") {
				continue
			}
			if !knownFields[c.Field] {
				res.Warnings = append(res.Warnings, fmt.Sprintf("unknown field %q", c.Field))
			}
		}
	}
	return res
}
