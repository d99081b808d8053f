package secrets

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"interlude/types"
)

func testProfile() *types.Profile {
	return &types.Profile{
		ID:       "demo",
		Platform: types.PlatformCompose,
		Command:  []string{"true"},
		Inputs: []types.InputField{
			{ID: "db_password", EnvVar: "DB_PASSWORD", Required: true, Secret: true},
			{ID: "api_key", EnvVar: "API_KEY", Required: false, Secret: true},
		},
	}
}

func TestValidateRejectsUnknownField(t *testing.T) {
	err := Validate(testProfile(), map[string]string{"nope": "x"})
	require.Error(t, err)
	assert.Equal(t, types.KindUnknownField, types.KindOf(err))
	assert.NotContains(t, err.Error(), "x")
}

func TestValidateRejectsMissingRequiredField(t *testing.T) {
	err := Validate(testProfile(), map[string]string{"api_key": "k"})
	require.Error(t, err)
	assert.Equal(t, types.KindMissingRequiredField, types.KindOf(err))
}

func TestMaterializeWritesRestrictedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds", "deploy.env")
	m := NewMaterializer(path)

	err := m.Materialize(testProfile(), map[string]string{
		"db_password": "hunter2",
		"api_key":     "abc123",
	})
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "DB_PASSWORD=hunter2\nAPI_KEY=abc123\n", string(content))
}

func TestMaterializeOverwritesPriorFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deploy.env")
	m := NewMaterializer(path)
	profile := testProfile()

	require.NoError(t, m.Materialize(profile, map[string]string{"db_password": "first"}))
	require.NoError(t, m.Materialize(profile, map[string]string{"db_password": "second"}))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "DB_PASSWORD=second\n", string(content))
}

func TestRemoveIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deploy.env")
	m := NewMaterializer(path)

	require.NoError(t, m.Materialize(testProfile(), map[string]string{"db_password": "x"}))
	require.NoError(t, m.Remove())
	require.NoError(t, m.Remove())

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestMaskedEnvNeverContainsValues(t *testing.T) {
	masked := MaskedEnv(testProfile(), map[string]string{
		"db_password": "hunter2",
		"api_key":     "abc123",
	})

	assert.Equal(t, map[string]string{
		"DB_PASSWORD": MaskToken,
		"API_KEY":     MaskToken,
	}, masked)

	for _, v := range masked {
		assert.False(t, strings.Contains(v, "hunter2"))
		assert.False(t, strings.Contains(v, "abc123"))
	}
}
