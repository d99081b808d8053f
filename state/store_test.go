package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"interlude/types"
)

func TestStoreRoundTrip(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "nested", "state.json"))

	now := time.Now().UTC().Truncate(time.Second)
	original := &types.DeploymentState{
		Phase:        types.PhaseDeployed,
		ProfileID:    "studio",
		Version:      "1.0.0",
		StartedAt:    &now,
		FinishedAt:   &now,
		ServiceLinks: map[string]string{"dash": "https://dash.example.com"},
		RoutesStale:  true,
	}
	require.NoError(t, store.Save(original))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, original, loaded)
}

func TestStoreLoadMissingFile(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "state.json"))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestStoreRemove(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "state.json"))

	require.NoError(t, store.Save(&types.DeploymentState{Phase: types.PhaseIdle}))
	require.NoError(t, store.Remove())
	require.NoError(t, store.Remove())

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, loaded)
}
