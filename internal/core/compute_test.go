package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecomputeAllDerivesCurrentValues(t *testing.T) {
	env := newTestEnv(t)
	rec := createVehicle(t, env, map[string]any{
		"name":          "Truck 13",
		"license_plate": "RC-100",
	})

	values, err := RecomputeAll(rec)
	require.NoError(t, err)
	require.Equal(t, "Truck 13/RC-100", values["code"])
	require.Equal(t, "Truck 13 [draft]", values["summary"])

	// Recomputation reads the record's current state, not a snapshot.
	require.NoError(t, rec.Write(map[string]any{"status": "active"}))
	values, err = RecomputeAll(rec)
	require.NoError(t, err)
	require.Equal(t, "Truck 13 [active]", values["summary"])
}
