package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseSimpleExpression(t *testing.T) {
	ast, err := Parse("[('status', '=', 'active'), ('odometer', '>', 100)]")
	require.NoError(t, err)
	require.Len(t, ast.Groups, 1)
	require.Empty(t, ast.Operators)
	require.Equal(t, []Condition{
		{Field: "status", Operator: "=", Value: "active"},
		{Field: "odometer", Operator: ">", Value: int64(100)},
	}, ast.Groups[0].Conditions)
}

func TestParseComplexExpression(t *testing.T) {
	ast, err := Parse("[[('odometer', '>', 1000.5)], '&', [('status', '=', 'active')], '|', [('status', '=', 'draft')]]")
	require.NoError(t, err)
	require.Len(t, ast.Groups, 3)
	require.Equal(t, []string{"&", "|"}, ast.Operators)
	require.Equal(t, Condition{Field: "odometer", Operator: ">", Value: 1000.5}, ast.Groups[0].Conditions[0])
}

func TestParseLiterals(t *testing.T) {
	tests := []struct {
		name string
		expr string
		want any
	}{
		{"python true", "[('active', '=', True)]", true},
		{"lower true", "[('active', '=', true)]", true},
		{"python false", "[('active', '=', False)]", false},
		{"python none", "[('driver_id', '=', None)]", nil},
		{"null", "[('driver_id', '=', null)]", nil},
		{"negative int", "[('delta', '=', -3)]", int64(-3)},
		{"float", "[('rate', '=', 0.5)]", 0.5},
		{"double quoted", `[('name', '=', "Truck")]`, "Truck"},
		{"list value", "[('status', 'in', ['draft', 'active'])]", []any{"draft", "active"}},
		{"tuple value", "[('status', 'in', ('draft', 'active'))]", []any{"draft", "active"}},
		{"user path stays string", "[('driver_id', '=', 'user.id')]", "user.id"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ast, err := Parse(tc.expr)
			require.NoError(t, err)
			require.Len(t, ast.Groups, 1)
			require.Equal(t, tc.want, ast.Groups[0].Conditions[0].Value)
		})
	}
}

func TestParseEmptyExpression(t *testing.T) {
	for _, expr := range []string{"", "  ", "[]"} {
		ast, err := Parse(expr)
		require.NoError(t, err, expr)
		require.True(t, ast.Empty(), expr)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"not a list", "('status', '=', 'draft')"},
		{"unterminated list", "[('status', '=', 'draft')"},
		{"unterminated string", "[('status', '=', 'draft)]"},
		{"wrong arity", "[('status', '=')]"},
		{"unknown operator", "[('status', '~', 'draft')]"},
		{"field not a string", "[(1, '=', 'draft')]"},
		{"bad logical operator", "[[('a', '=', 1)], '^', [('b', '=', 2)]]"},
		{"operator count mismatch", "[[('a', '=', 1)], [('b', '=', 2)]]"},
		{"stray ident", "[('a', '=', draft)]"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.expr)
			require.Error(t, err)
			var pErr *ParseError
			require.ErrorAs(t, err, &pErr)
		})
	}
}
