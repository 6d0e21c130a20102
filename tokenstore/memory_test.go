package tokenstore

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRevoke(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	_, revoked, err := store.IsRevoked(ctx, "token-a")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, store.Revoke(ctx, "token-a", "2026-01-01T00:00:00Z"))

	stamp, revoked, err := store.IsRevoked(ctx, "token-a")
	require.NoError(t, err)
	assert.True(t, revoked)
	assert.Equal(t, "2026-01-01T00:00:00Z", stamp)

	_, revoked, err = store.IsRevoked(ctx, "token-b")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestMemoryConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = store.Revoke(ctx, "token-a", "2026-01-01T00:00:00Z")
		}()
		go func() {
			defer wg.Done()
			_, _, _ = store.IsRevoked(ctx, "token-a")
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, store.Len())
}
