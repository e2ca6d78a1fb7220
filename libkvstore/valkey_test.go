package libkvstore_test

import (
	"context"
	"net/url"
	"testing"
	"time"

	libkv "github.com/pairlink/pairlink/libkvstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/valkey"
)

func SetupLocalValKeyInstance(ctx context.Context) (string, testcontainers.Container, func(), error) {
	cleanup := func() {}

	container, err := valkey.Run(ctx, "docker.io/valkey/valkey:7.2.5")
	if err != nil {
		return "", nil, cleanup, err
	}

	cleanup = func() {
		timeout := time.Second
		err := container.Stop(ctx, &timeout)
		if err != nil {
			panic(err)
		}
	}

	conn, err := container.ConnectionString(ctx)
	if err != nil {
		return "", nil, cleanup, err
	}
	return conn, container, cleanup, nil
}

func newTestExecutor(t *testing.T, ctx context.Context) libkv.KVExec {
	t.Helper()

	connStr, _, cleanup, err := SetupLocalValKeyInstance(ctx)
	require.NoError(t, err)
	t.Cleanup(cleanup)

	u, err := url.Parse(connStr)
	require.NoError(t, err)

	manager, err := libkv.NewManager(libkv.Config{KVAddr: u.Host}, 10*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	kv, err := manager.Executor(ctx)
	require.NoError(t, err)
	return kv
}

func TestSystem_ValkeyCRUD(t *testing.T) {
	ctx := context.Background()
	kv := newTestExecutor(t, ctx)

	key := "testkey"
	value := []byte(`"testvalue"`)

	err := kv.Set(ctx, key, value)
	require.NoError(t, err)

	retrieved, err := kv.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, value, retrieved)

	exists, err := kv.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	err = kv.Delete(ctx, key)
	require.NoError(t, err)

	_, err = kv.Get(ctx, key)
	assert.ErrorIs(t, err, libkv.ErrNotFound)

	exists, err = kv.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSystem_ValkeyTTL(t *testing.T) {
	ctx := context.Background()
	kv := newTestExecutor(t, ctx)

	err := kv.SetWithTTL(ctx, "ttlkey", []byte(`"ttlvalue"`), 2*time.Second)
	require.NoError(t, err)

	time.Sleep(3 * time.Second)

	_, err = kv.Get(ctx, "ttlkey")
	assert.ErrorIs(t, err, libkv.ErrNotFound)
}

func TestSystem_ValkeyKeys(t *testing.T) {
	ctx := context.Background()
	kv := newTestExecutor(t, ctx)

	keys := []string{"key1", "key2", "key3"}
	for _, key := range keys {
		require.NoError(t, kv.Set(ctx, key, []byte(`"value"`)))
	}

	listed, err := kv.Keys(ctx, "*")
	require.NoError(t, err)
	assert.ElementsMatch(t, keys, listed)
}

func TestSystem_ValkeyListOperations(t *testing.T) {
	ctx := context.Background()
	kv := newTestExecutor(t, ctx)

	listKey := "testlist"
	for _, v := range []string{"item1", "item2", "item3"} {
		require.NoError(t, kv.ListPush(ctx, listKey, []byte(v)))
	}

	items, err := kv.ListRange(ctx, listKey, 0, -1)
	require.NoError(t, err)
	require.Len(t, items, 3)
	for i, expected := range []string{"item3", "item2", "item1"} {
		assert.Equal(t, []byte(expected), items[i])
	}

	popped, err := kv.ListRPop(ctx, listKey)
	require.NoError(t, err)
	assert.Equal(t, []byte("item1"), popped)

	length, err := kv.ListLength(ctx, listKey)
	require.NoError(t, err)
	assert.Equal(t, int64(2), length)
}

func TestSystem_ValkeySetOperations(t *testing.T) {
	ctx := context.Background()
	kv := newTestExecutor(t, ctx)

	setKey := "testset"
	for _, m := range []string{"member1", "member2", "member3"} {
		require.NoError(t, kv.SetAdd(ctx, setKey, []byte(m)))
	}

	members, err := kv.SetMembers(ctx, setKey)
	require.NoError(t, err)
	assert.ElementsMatch(t, [][]byte{[]byte("member1"), []byte("member2"), []byte("member3")}, members)
}
