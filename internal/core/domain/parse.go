package domain

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// literal tree node kinds produced by the tokenizer/reader. Lists and tuples
// are distinguished so that shape checks can tell a condition ('a','=',1)
// apart from a nested group [('a','=',1)].
type listVal []any
type tupleVal []any

// Parse parses a domain expression string into an AST. The accepted syntax
// mirrors the declarative metadata format: bracketed lists of 3-tuples with
// single- or double-quoted strings, numbers, and the literals True/False/None
// (true/false/null are accepted as well). Any malformed token yields a
// *ParseError; no other error type escapes.
func Parse(expr string) (AST, error) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return AST{}, nil
	}
	if !strings.HasPrefix(trimmed, "[") || !strings.HasSuffix(trimmed, "]") {
		return AST{}, &ParseError{Expr: expr, Reason: "expression must be wrapped in brackets"}
	}

	r := &reader{src: trimmed}
	val, err := r.readValue()
	if err != nil {
		return AST{}, &ParseError{Expr: expr, Reason: err.Error()}
	}
	r.skipSpace()
	if !r.eof() {
		return AST{}, &ParseError{Expr: expr, Reason: fmt.Sprintf("unexpected trailing input at offset %d", r.pos)}
	}

	items, ok := val.(listVal)
	if !ok {
		return AST{}, &ParseError{Expr: expr, Reason: "expression must be a list"}
	}
	if len(items) == 0 {
		return AST{}, nil
	}

	complex := false
	for _, item := range items {
		if _, isList := item.(listVal); isList {
			complex = true
			break
		}
		if s, isStr := item.(string); isStr && LogicalOperators[s] {
			complex = true
			break
		}
	}

	var ast AST
	if complex {
		ast, err = parseComplex(items)
	} else {
		ast, err = parseSimple(items)
	}
	if err != nil {
		return AST{}, &ParseError{Expr: expr, Reason: err.Error()}
	}
	return ast, nil
}

func parseSimple(items listVal) (AST, error) {
	conds := make([]Condition, 0, len(items))
	for _, item := range items {
		c, err := parseCondition(item)
		if err != nil {
			return AST{}, err
		}
		conds = append(conds, c)
	}
	return AST{Groups: []Group{{Conditions: conds}}}, nil
}

func parseComplex(items listVal) (AST, error) {
	var groups []Group
	var operators []string

	for _, item := range items {
		switch v := item.(type) {
		case string:
			if !LogicalOperators[v] {
				return AST{}, fmt.Errorf("unexpected token %q, expected '&' or '|'", v)
			}
			operators = append(operators, v)
		case listVal:
			conds := make([]Condition, 0, len(v))
			for _, sub := range v {
				c, err := parseCondition(sub)
				if err != nil {
					return AST{}, err
				}
				conds = append(conds, c)
			}
			groups = append(groups, Group{Conditions: conds})
		case tupleVal:
			// A bare condition alongside groups acts as its own group.
			c, err := parseCondition(item)
			if err != nil {
				return AST{}, err
			}
			groups = append(groups, Group{Conditions: []Condition{c}})
		default:
			return AST{}, fmt.Errorf("invalid item in expression: %v", item)
		}
	}

	if len(operators) != len(groups)-1 {
		return AST{}, fmt.Errorf("expected %d logical operators for %d groups, got %d",
			len(groups)-1, len(groups), len(operators))
	}
	return AST{Groups: groups, Operators: operators}, nil
}

func parseCondition(item any) (Condition, error) {
	tup, ok := item.(tupleVal)
	if !ok || len(tup) != 3 {
		return Condition{}, fmt.Errorf("each condition must be a (field, operator, value) 3-tuple, got %v", item)
	}
	field, ok := tup[0].(string)
	if !ok {
		return Condition{}, fmt.Errorf("condition field name must be a string, got %v", tup[0])
	}
	op, ok := tup[1].(string)
	if !ok || !SupportedOperators[op] {
		return Condition{}, fmt.Errorf("unsupported operator %v", tup[1])
	}
	return Condition{Field: field, Operator: op, Value: normalizeLiteral(tup[2])}, nil
}

// normalizeLiteral flattens nested list/tuple values (e.g. the right-hand
// side of an 'in' condition) into plain []any slices.
func normalizeLiteral(v any) any {
	switch vv := v.(type) {
	case listVal:
		out := make([]any, len(vv))
		for i, e := range vv {
			out[i] = normalizeLiteral(e)
		}
		return out
	case tupleVal:
		out := make([]any, len(vv))
		for i, e := range vv {
			out[i] = normalizeLiteral(e)
		}
		return out
	default:
		return v
	}
}

// reader is a minimal recursive-descent reader over the literal syntax. It
// deliberately supports only the data shapes the expression language needs;
// it is not, and must never become, a code evaluator.
type reader struct {
	src string
	pos int
}

func (r *reader) eof() bool { return r.pos >= len(r.src) }

func (r *reader) peek() byte { return r.src[r.pos] }

func (r *reader) skipSpace() {
	for !r.eof() && unicode.IsSpace(rune(r.src[r.pos])) {
		r.pos++
	}
}

func (r *reader) readValue() (any, error) {
	r.skipSpace()
	if r.eof() {
		return nil, fmt.Errorf("unexpected end of expression")
	}
	switch c := r.peek(); {
	case c == '[':
		return r.readSequence('[', ']', false)
	case c == '(':
		return r.readSequence('(', ')', true)
	case c == '\'' || c == '"':
		return r.readString(c)
	case c == '-' || c == '+' || (c >= '0' && c <= '9'):
		return r.readNumber()
	default:
		return r.readIdent()
	}
}

func (r *reader) readSequence(open, close byte, tuple bool) (any, error) {
	r.pos++ // consume opener
	var items []any
	for {
		r.skipSpace()
		if r.eof() {
			return nil, fmt.Errorf("unterminated %q", string(open))
		}
		if r.peek() == close {
			r.pos++
			break
		}
		v, err := r.readValue()
		if err != nil {
			return nil, err
		}
		items = append(items, v)
		r.skipSpace()
		if r.eof() {
			return nil, fmt.Errorf("unterminated %q", string(open))
		}
		switch r.peek() {
		case ',':
			r.pos++
		case close:
		default:
			return nil, fmt.Errorf("expected ',' or %q at offset %d", string(close), r.pos)
		}
	}
	if tuple {
		return tupleVal(items), nil
	}
	return listVal(items), nil
}

func (r *reader) readString(quote byte) (any, error) {
	r.pos++ // consume quote
	var sb strings.Builder
	for {
		if r.eof() {
			return nil, fmt.Errorf("unterminated string literal")
		}
		c := r.src[r.pos]
		r.pos++
		switch c {
		case quote:
			return sb.String(), nil
		case '\\':
			if r.eof() {
				return nil, fmt.Errorf("unterminated escape in string literal")
			}
			sb.WriteByte(r.src[r.pos])
			r.pos++
		default:
			sb.WriteByte(c)
		}
	}
}

func (r *reader) readNumber() (any, error) {
	start := r.pos
	if c := r.peek(); c == '-' || c == '+' {
		r.pos++
	}
	isFloat := false
	for !r.eof() {
		c := r.peek()
		if c >= '0' && c <= '9' {
			r.pos++
			continue
		}
		if c == '.' || c == 'e' || c == 'E' {
			isFloat = true
			r.pos++
			continue
		}
		break
	}
	lit := r.src[start:r.pos]
	if isFloat {
		f, err := strconv.ParseFloat(lit, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number literal %q", lit)
		}
		return f, nil
	}
	n, err := strconv.ParseInt(lit, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number literal %q", lit)
	}
	return n, nil
}

func (r *reader) readIdent() (any, error) {
	start := r.pos
	for !r.eof() {
		c := rune(r.src[r.pos])
		if unicode.IsLetter(c) || unicode.IsDigit(c) || c == '_' {
			r.pos++
			continue
		}
		break
	}
	if start == r.pos {
		return nil, fmt.Errorf("unexpected character %q at offset %d", string(r.src[r.pos]), r.pos)
	}
	switch r.src[start:r.pos] {
	case "True", "true":
		return true, nil
	case "False", "false":
		return false, nil
	case "None", "null", "nil":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown identifier %q", r.src[start:r.pos])
	}
}
