package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorePutGet(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	store := NewStore(client, "tetbloom:test:")
	ctx := context.Background()

	type doc struct {
		Rows []string `json:"rows"`
	}
	require.NoError(t, store.Put(ctx, "a", doc{Rows: []string{"x", "y"}}, time.Minute))
	assert.True(t, mr.Exists("tetbloom:test:a"))

	var got doc
	ok, err := store.Get(ctx, "a", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"x", "y"}, got.Rows)

	mr.FastForward(2 * time.Minute)
	ok, err = store.Get(ctx, "a", &got)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewFailsWithoutServer(t *testing.T) {
	_, err := New(context.Background(), "127.0.0.1:1")
	assert.Error(t, err)
}
