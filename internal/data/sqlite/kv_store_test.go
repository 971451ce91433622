package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKVStore(t *testing.T) {
	ctx := context.Background()
	store := NewKVStore(newTestDB(t))

	_, ok, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "otp_attempts_+911234567890", []byte("[1,2]")))
	require.NoError(t, store.Set(ctx, "otp_attempts_+911234567890", []byte("[3]")))

	value, ok, err := store.Get(ctx, "otp_attempts_+911234567890")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("[3]"), value)

	require.NoError(t, store.Delete(ctx, "otp_attempts_+911234567890"))
	require.NoError(t, store.Delete(ctx, "otp_attempts_+911234567890"))
	_, ok, err = store.Get(ctx, "otp_attempts_+911234567890")
	require.NoError(t, err)
	assert.False(t, ok)
}
