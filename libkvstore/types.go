// Package libkvstore abstracts key-value access behind a backend-agnostic
// executor. The Valkey backend serves server mode; an in-memory backend
// serves local single-process mode and tests. TTL support is load-bearing:
// typing flags and presence liveness both rely on server-side expiry.
package libkvstore

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("libkvstore: not found")

// Config carries key-value backend connection settings.
type Config struct {
	KVAddr     string
	KVPassword string
}

// KVExec is the operation surface services are written against.
type KVExec interface {
	Set(ctx context.Context, key string, value []byte) error
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, pattern string) ([]string, error)

	ListPush(ctx context.Context, key string, value []byte) error
	ListRPop(ctx context.Context, key string) ([]byte, error)
	ListRange(ctx context.Context, key string, start, stop int64) ([][]byte, error)
	ListLength(ctx context.Context, key string) (int64, error)
	ListTrim(ctx context.Context, key string, start, stop int64) error

	SetAdd(ctx context.Context, key string, member []byte) error
	SetMembers(ctx context.Context, key string) ([][]byte, error)
}

// KVManager owns a key-value connection and hands out executors.
type KVManager interface {
	Executor(ctx context.Context) (KVExec, error)
	Close() error
}
