package libkvstore_test

import (
	"context"
	"testing"
	"time"

	libkv "github.com/pairlink/pairlink/libkvstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnit_InMemCRUD(t *testing.T) {
	ctx := context.Background()
	kv, err := libkv.NewInMemManager().Executor(ctx)
	require.NoError(t, err)

	require.NoError(t, kv.Set(ctx, "k", []byte(`"v"`)))

	got, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte(`"v"`), got)

	exists, err := kv.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, kv.Delete(ctx, "k"))

	_, err = kv.Get(ctx, "k")
	assert.ErrorIs(t, err, libkv.ErrNotFound)
}

func TestUnit_InMemTTLExpiresWithClock(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	manager := libkv.NewInMemManager().WithClock(func() time.Time { return now })
	kv, err := manager.Executor(ctx)
	require.NoError(t, err)

	require.NoError(t, kv.SetWithTTL(ctx, "typing:a_b:alice", []byte("1"), 3*time.Second))

	exists, err := kv.Exists(ctx, "typing:a_b:alice")
	require.NoError(t, err)
	assert.True(t, exists)

	now = now.Add(3*time.Second + time.Millisecond)

	exists, err = kv.Exists(ctx, "typing:a_b:alice")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = kv.Get(ctx, "typing:a_b:alice")
	assert.ErrorIs(t, err, libkv.ErrNotFound)
}

func TestUnit_InMemKeysPattern(t *testing.T) {
	ctx := context.Background()
	kv, err := libkv.NewInMemManager().Executor(ctx)
	require.NoError(t, err)

	require.NoError(t, kv.Set(ctx, "presence:alice", []byte("x")))
	require.NoError(t, kv.Set(ctx, "presence:bob", []byte("x")))
	require.NoError(t, kv.Set(ctx, "other:carol", []byte("x")))

	keys, err := kv.Keys(ctx, "presence:*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"presence:alice", "presence:bob"}, keys)
}

func TestUnit_InMemListOperations(t *testing.T) {
	ctx := context.Background()
	kv, err := libkv.NewInMemManager().Executor(ctx)
	require.NoError(t, err)

	for _, v := range []string{"item1", "item2", "item3"} {
		require.NoError(t, kv.ListPush(ctx, "l", []byte(v)))
	}

	items, err := kv.ListRange(ctx, "l", 0, -1)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, []byte("item3"), items[0])
	assert.Equal(t, []byte("item1"), items[2])

	popped, err := kv.ListRPop(ctx, "l")
	require.NoError(t, err)
	assert.Equal(t, []byte("item1"), popped)

	length, err := kv.ListLength(ctx, "l")
	require.NoError(t, err)
	assert.Equal(t, int64(2), length)

	require.NoError(t, kv.ListTrim(ctx, "l", 0, 0))
	length, err = kv.ListLength(ctx, "l")
	require.NoError(t, err)
	assert.Equal(t, int64(1), length)
}

func TestUnit_InMemSetOperations(t *testing.T) {
	ctx := context.Background()
	kv, err := libkv.NewInMemManager().Executor(ctx)
	require.NoError(t, err)

	require.NoError(t, kv.SetAdd(ctx, "s", []byte("a")))
	require.NoError(t, kv.SetAdd(ctx, "s", []byte("a")))
	require.NoError(t, kv.SetAdd(ctx, "s", []byte("b")))

	members, err := kv.SetMembers(ctx, "s")
	require.NoError(t, err)
	assert.ElementsMatch(t, [][]byte{[]byte("a"), []byte("b")}, members)
}
