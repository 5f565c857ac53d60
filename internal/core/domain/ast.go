// Package domain implements the expression language used for conditional
// field visibility, readonly/required state, and row-level filtering.
//
// Expressions come in two textual shapes:
//
//	Simple (implicit AND):
//	    [('status', '=', 'draft'), ('amount', '>', 100)]
//
//	Complex (explicit logical operators between groups):
//	    [[('amount', '>', 1000)], '&', [('status', '=', 'active')]]
//
// Evaluation is always performed against a record context plus an optional
// secure user context derived from server-validated JWT claims; expressions
// may reference the acting user with dotted paths rooted at "user".
package domain

import (
	"fmt"
	"strings"
)

// Condition is a single ('field', 'operator', value) triplet.
type Condition struct {
	Field    string
	Operator string
	Value    any
}

func (c Condition) String() string {
	return fmt.Sprintf("('%s', '%s', %v)", c.Field, c.Operator, c.Value)
}

// Group is a run of conditions combined with implicit AND.
type Group struct {
	Conditions []Condition
}

// AST is a parsed domain expression: one or more groups joined by explicit
// logical operators ('&' or '|'). len(Operators) == len(Groups)-1.
type AST struct {
	Groups    []Group
	Operators []string
}

// Empty reports whether the expression has no conditions at all. An empty
// expression always evaluates to true.
func (a AST) Empty() bool { return len(a.Groups) == 0 }

func (a AST) String() string {
	parts := make([]string, 0, len(a.Groups))
	for _, g := range a.Groups {
		conds := make([]string, 0, len(g.Conditions))
		for _, c := range g.Conditions {
			conds = append(conds, c.String())
		}
		parts = append(parts, strings.Join(conds, " AND "))
	}
	if len(parts) == 1 {
		return parts[0]
	}
	out := parts[0]
	for i, op := range a.Operators {
		sym := " AND "
		if op == "|" {
			sym = " OR "
		}
		out += sym + parts[i+1]
	}
	return "(" + out + ")"
}

// Comparison operators supported in conditions.
var SupportedOperators = map[string]bool{
	"=": true, "!=": true, "<": true, ">": true, "<=": true, ">=": true,
	"in": true, "not in": true, "like": true, "ilike": true,
}

// Logical operators allowed between groups.
var LogicalOperators = map[string]bool{"&": true, "|": true}

// ParseError is returned when an expression cannot be parsed.
type ParseError struct {
	Expr   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid domain expression %q: %s", e.Expr, e.Reason)
}

// EvaluationError is returned when an expression cannot be evaluated,
// including when the supplied user context fails the provenance check.
type EvaluationError struct {
	Reason string
}

func (e *EvaluationError) Error() string {
	return "domain evaluation failed: " + e.Reason
}

// ValidationResult reports the outcome of validating an expression against a
// set of known fields.
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}
