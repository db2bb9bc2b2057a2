package credential

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vibestyler/internal/kv"
)

func TestAPIKey_StoredWinsOverFallback(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemory()
	s := New(mem, " env-key ")

	key, err := s.APIKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, "env-key", key)

	require.NoError(t, s.Set(ctx, "stored-key"))
	key, err = s.APIKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, "stored-key", key)

	require.NoError(t, s.Clear(ctx))
	key, err = s.APIKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, "env-key", key)
}

func TestAPIKey_Missing(t *testing.T) {
	key, err := New(kv.NewMemory(), "").APIKey(context.Background())
	require.NoError(t, err)
	assert.Empty(t, key)
}

func TestAPIKey_StorageError(t *testing.T) {
	mem := kv.NewMemory()
	boom := errors.New("sync storage unavailable")
	mem.InjectFault(kv.OpGet, boom)

	_, err := New(mem, "").APIKey(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestSet_RejectsBlank(t *testing.T) {
	err := New(kv.NewMemory(), "").Set(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestMask(t *testing.T) {
	assert.Equal(t, "", Mask(""))
	assert.Equal(t, "***", Mask("abc"))
	assert.Equal(t, "******7890", Mask("1234567890"))
}
