package libkvstore

import (
	"context"
	"path"
	"sync"
	"time"
)

// InMemManager is an in-memory KVManager for single-process use: local mode
// and tests. TTL expiry is lazy (checked on access and key listing), which is
// sufficient for the self-expiring flags the chat core stores here.
type InMemManager struct {
	mu     sync.RWMutex
	values map[string]inmemEntry
	lists  map[string][][]byte
	sets   map[string]map[string]struct{}
	now    func() time.Time
}

type inmemEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

// NewInMemManager returns an empty in-memory key-value manager.
func NewInMemManager() *InMemManager {
	return &InMemManager{
		values: make(map[string]inmemEntry),
		lists:  make(map[string][][]byte),
		sets:   make(map[string]map[string]struct{}),
		now:    time.Now,
	}
}

// WithClock overrides the time source. Tests use this to force TTL expiry
// without sleeping.
func (m *InMemManager) WithClock(now func() time.Time) *InMemManager {
	m.now = now
	return m
}

func (m *InMemManager) Executor(ctx context.Context) (KVExec, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return (*inmemExec)(m), nil
}

func (m *InMemManager) Close() error { return nil }

type inmemExec InMemManager

func (e *inmemExec) expired(entry inmemEntry) bool {
	return !entry.expiresAt.IsZero() && !e.now().Before(entry.expiresAt)
}

func (e *inmemExec) Set(ctx context.Context, key string, value []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.values[key] = inmemEntry{value: append([]byte(nil), value...)}
	return nil
}

func (e *inmemExec) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.values[key] = inmemEntry{value: append([]byte(nil), value...), expiresAt: e.now().Add(ttl)}
	return nil
}

func (e *inmemExec) Get(ctx context.Context, key string) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	if e.expired(entry) {
		delete(e.values, key)
		return nil, ErrNotFound
	}
	return append([]byte(nil), entry.value...), nil
}

func (e *inmemExec) Exists(ctx context.Context, key string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.values[key]
	if !ok {
		return false, nil
	}
	if e.expired(entry) {
		delete(e.values, key)
		return false, nil
	}
	return true, nil
}

func (e *inmemExec) Delete(ctx context.Context, key string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.values, key)
	delete(e.lists, key)
	delete(e.sets, key)
	return nil
}

func (e *inmemExec) Keys(ctx context.Context, pattern string) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var keys []string
	for key, entry := range e.values {
		if e.expired(entry) {
			delete(e.values, key)
			continue
		}
		if ok, _ := path.Match(pattern, key); ok {
			keys = append(keys, key)
		}
	}
	for key := range e.lists {
		if ok, _ := path.Match(pattern, key); ok {
			keys = append(keys, key)
		}
	}
	for key := range e.sets {
		if ok, _ := path.Match(pattern, key); ok {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (e *inmemExec) ListPush(ctx context.Context, key string, value []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lists[key] = append([][]byte{append([]byte(nil), value...)}, e.lists[key]...)
	return nil
}

func (e *inmemExec) ListRPop(ctx context.Context, key string) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	list := e.lists[key]
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	last := list[len(list)-1]
	e.lists[key] = list[:len(list)-1]
	return last, nil
}

func (e *inmemExec) ListRange(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	list := e.lists[key]
	n := int64(len(list))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || n == 0 {
		return nil, nil
	}
	out := make([][]byte, 0, stop-start+1)
	for _, item := range list[start : stop+1] {
		out = append(out, append([]byte(nil), item...))
	}
	return out, nil
}

func (e *inmemExec) ListLength(ctx context.Context, key string) (int64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return int64(len(e.lists[key])), nil
}

func (e *inmemExec) ListTrim(ctx context.Context, key string, start, stop int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	list := e.lists[key]
	n := int64(len(list))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || n == 0 {
		e.lists[key] = nil
		return nil
	}
	e.lists[key] = list[start : stop+1]
	return nil
}

func (e *inmemExec) SetAdd(ctx context.Context, key string, member []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sets[key] == nil {
		e.sets[key] = make(map[string]struct{})
	}
	e.sets[key][string(member)] = struct{}{}
	return nil
}

func (e *inmemExec) SetMembers(ctx context.Context, key string) ([][]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	members := make([][]byte, 0, len(e.sets[key]))
	for member := range e.sets[key] {
		members = append(members, []byte(member))
	}
	return members, nil
}

var _ KVManager = (*InMemManager)(nil)
var _ KVExec = (*inmemExec)(nil)
