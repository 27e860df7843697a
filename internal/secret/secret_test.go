package secret_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hybriddb/internal/secret"
)

func TestEnvName(t *testing.T) {
	assert.Equal(t, "HYBRIDDB_SECRET_SQL_PROD", secret.EnvName("sql-prod"))
	assert.Equal(t, "HYBRIDDB_SECRET_MONGO_ATLAS_1", secret.EnvName("mongo.atlas/1"))
}

func TestEnvStore(t *testing.T) {
	t.Setenv(secret.EnvName("sql-prod"), "")
	store := secret.NewEnvStore()

	v, err := store.Get("sql-prod")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, store.Set("sql-prod", []byte("hunter2")))
	v, err = store.Get("sql-prod")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", string(v))

	require.NoError(t, store.Delete("sql-prod"))
	v, _ = store.Get("sql-prod")
	assert.Empty(t, v)
}

func TestResolve(t *testing.T) {
	t.Setenv(secret.EnvName("mongo"), "s3cret")
	store := secret.NewEnvStore()

	got, err := secret.Resolve(store, "inline", "mongo")
	require.NoError(t, err)
	assert.Equal(t, "inline", got, "an explicit password wins")

	got, err = secret.Resolve(store, "", "mongo")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", got)

	got, err = secret.Resolve(store, "", "")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = secret.Resolve(store, "", "missing")
	assert.ErrorContains(t, err, `secret "missing" not found`)
}

func TestNew(t *testing.T) {
	s, err := secret.New("")
	require.NoError(t, err)
	assert.IsType(t, &secret.EnvStore{}, s)

	s, err = secret.New("keychain")
	require.NoError(t, err)
	assert.IsType(t, &secret.KeychainStore{}, s)

	_, err = secret.New("vault")
	assert.Error(t, err)
}
