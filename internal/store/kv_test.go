package store_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phnomcobra/stembot/internal/store"
)

func TestKVGetOrSetDefaultPersistsOnFirstCall(t *testing.T) {
	kv, err := store.OpenKV("")
	require.NoError(t, err)
	defer kv.Close()

	var got string
	require.NoError(t, kv.GetOrSetDefault("agtuuid", "generated-id", &got))
	assert.Equal(t, "generated-id", got)

	var again string
	require.NoError(t, kv.Get("agtuuid", &again))
	assert.Equal(t, "generated-id", again)
}

func TestKVGetOrSetDefaultDoesNotOverwriteExisting(t *testing.T) {
	kv, err := store.OpenKV("")
	require.NoError(t, err)
	defer kv.Close()

	require.NoError(t, kv.Set("socket_port", 53080))

	var port int
	require.NoError(t, kv.GetOrSetDefault("socket_port", 9999, &port))
	assert.Equal(t, 53080, port)
}

func TestKVGetMissingKeyReturnsErrNotFound(t *testing.T) {
	kv, err := store.OpenKV("")
	require.NoError(t, err)
	defer kv.Close()

	var out string
	err = kv.Get("missing", &out)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestKVDelete(t *testing.T) {
	kv, err := store.OpenKV("")
	require.NoError(t, err)
	defer kv.Close()

	require.NoError(t, kv.Set("k", "v"))
	require.NoError(t, kv.Delete("k"))

	var out string
	err = kv.Get("k", &out)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
