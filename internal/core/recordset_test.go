package core

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSearchOperatorsAgainstStorage(t *testing.T) {
	env := newTestEnv(t)
	driver, err := modelSet(t, env, "driver").Create(map[string]any{"name": "Searcher"})
	require.NoError(t, err)
	tag := createTag(t, env, "search tag")

	v1 := createVehicle(t, env, map[string]any{
		"name": "Hauler One", "status": "active", "odometer": 500,
		"driver_id": driver.ID(), "tag_ids": []any{tag},
	})
	v2 := createVehicle(t, env, map[string]any{
		"name": "Hauler Two", "status": "maintenance", "odometer": 1500,
	})

	cases := []struct {
		name string
		expr string
		want []int64
	}{
		{"equals", "[('status', '=', 'active')]", []int64{v1.ID()}},
		{"not equals", "[('status', '!=', 'active')]", []int64{v2.ID()}},
		{"greater than", "[('odometer', '>', 1000)]", []int64{v2.ID()}},
		{"in list", "[('status', 'in', ['active', 'maintenance'])]", []int64{v1.ID(), v2.ID()}},
		{"ilike", "[('name', 'ilike', 'hauler')]", []int64{v1.ID(), v2.ID()}},
		{"like with wildcard", "[('name', 'like', 'Hauler %')]", []int64{v1.ID(), v2.ID()}},
		{"many2one unset", "[('driver_id', '=', False)]", []int64{v2.ID()}},
		{"many2one set", "[('driver_id', '!=', False)]", []int64{v1.ID()}},
		{"many2many contains", "", []int64{v1.ID()}},
		{"many2many empty", "[('tag_ids', '=', False)]", []int64{v2.ID()}},
		{"attachment empty", "[('documents', '=', False)]", []int64{v1.ID(), v2.ID()}},
		{"or groups", "[('status', '=', 'active'), '|', ('odometer', '>', 1000)]", []int64{v1.ID(), v2.ID()}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			expr := tc.expr
			if tc.name == "many2many contains" {
				expr = "[('tag_ids', 'in', [" + strconv.FormatInt(tag, 10) + "])]"
			}
			set, err := modelSet(t, env, "vehicle").Search(expr, nil)
			require.NoError(t, err)
			require.ElementsMatch(t, tc.want, set.IDs())
		})
	}
}

func TestSearchOrderingAndPaging(t *testing.T) {
	env := newTestEnv(t)
	createVehicle(t, env, map[string]any{"name": "Page C", "odometer": 30})
	createVehicle(t, env, map[string]any{"name": "Page A", "odometer": 10})
	createVehicle(t, env, map[string]any{"name": "Page B", "odometer": 20})

	set, err := modelSet(t, env, "vehicle").Search("[('name', 'like', 'Page ')]", &SearchOptions{
		Order: "odometer desc", Limit: 2,
	})
	require.NoError(t, err)
	require.Equal(t, []any{"Page C", "Page B"}, set.Mapped("name"))

	set, err = modelSet(t, env, "vehicle").Search("[('name', 'like', 'Page ')]", &SearchOptions{
		Order: "odometer", Limit: 2, Offset: 2,
	})
	require.NoError(t, err)
	require.Equal(t, []any{"Page C"}, set.Mapped("name"))

	_, err = modelSet(t, env, "vehicle").Search("", &SearchOptions{Order: "odometer; DROP TABLE vehicles"})
	var ue *UserError
	require.ErrorAs(t, err, &ue)
}

func TestSearchDomainPolishNotation(t *testing.T) {
	env := newTestEnv(t)
	v1 := createVehicle(t, env, map[string]any{"name": "Polish 1", "status": "active"})
	v2 := createVehicle(t, env, map[string]any{"name": "Polish 2", "status": "retired"})
	createVehicle(t, env, map[string]any{"name": "Other", "status": "retired"})

	set, err := modelSet(t, env, "vehicle").SearchDomain([]any{
		"&",
		[]any{"name", "like", "Polish "},
		"|",
		[]any{"status", "=", "active"},
		[]any{"status", "=", "retired"},
	}, nil)
	require.NoError(t, err)
	require.ElementsMatch(t, []int64{v1.ID(), v2.ID()}, set.IDs())

	set, err = modelSet(t, env, "vehicle").SearchDomain([]any{
		"!",
		[]any{"name", "like", "Polish "},
	}, nil)
	require.NoError(t, err)
	for _, r := range set.Records() {
		name, err := r.Get("name")
		require.NoError(t, err)
		require.NotContains(t, name.(string), "Polish")
	}
}

func TestSearchFilterRunsNamedFilter(t *testing.T) {
	env := newTestEnv(t)
	createVehicle(t, env, map[string]any{"name": "Filter ok"})
	down := createVehicle(t, env, map[string]any{"name": "Filter down", "status": "maintenance"})

	set, err := modelSet(t, env, "vehicle").SearchFilter("in_maintenance", nil)
	require.NoError(t, err)
	require.Equal(t, []int64{down.ID()}, set.IDs())

	_, err = modelSet(t, env, "vehicle").SearchFilter("no_such_filter", nil)
	var ue *UserError
	require.ErrorAs(t, err, &ue)
	require.Contains(t, ue.Message, "has no filter")
}

func TestListCombinesDomainFilterAndPaging(t *testing.T) {
	env := newTestEnv(t)
	for _, vals := range []map[string]any{
		{"name": "List 1", "status": "active"},
		{"name": "List 2", "status": "active"},
		{"name": "List 3", "status": "maintenance"},
		{"name": "List 4", "status": "retired", "active": false},
	} {
		createVehicle(t, env, vals)
	}

	page, total, err := modelSet(t, env, "vehicle").List(ListOptions{
		Domain: "[('name', 'like', 'List ')]",
		Filter: "active",
		Order:  "name",
		Limit:  2,
	})
	require.NoError(t, err)
	require.EqualValues(t, 3, total)
	require.Equal(t, []any{"List 1", "List 2"}, page.Mapped("name"))

	page, total, err = modelSet(t, env, "vehicle").List(ListOptions{
		Domain: "[('name', 'like', 'List ')]",
		Filter: "active",
		Order:  "name",
		Limit:  2,
		Offset: 2,
	})
	require.NoError(t, err)
	require.EqualValues(t, 3, total)
	require.Equal(t, []any{"List 3"}, page.Mapped("name"))

	_, _, err = modelSet(t, env, "vehicle").List(ListOptions{Filter: "bogus"})
	var ue *UserError
	require.ErrorAs(t, err, &ue)
}
