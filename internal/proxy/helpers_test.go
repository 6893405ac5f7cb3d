package proxy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/any-hub/catcache/internal/cache"
	"github.com/any-hub/catcache/internal/origin"
)

// memStore 是记录调用次数的内存 Store，readErr/writeErr 用于注入故障。
type memStore struct {
	mu       sync.Mutex
	entries  map[string][]byte
	readErr  error
	writeErr error

	reads   atomic.Int32
	writes  atomic.Int32
	deletes atomic.Int32
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[string][]byte)}
}

func (s *memStore) Exists(ctx context.Context, key cache.Key) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key.String()]
	return ok, nil
}

func (s *memStore) Read(ctx context.Context, key cache.Key) ([]byte, error) {
	s.reads.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	data, ok := s.entries[key.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", cache.ErrNotFound, key)
	}
	return append([]byte(nil), data...), nil
}

func (s *memStore) Write(ctx context.Context, key cache.Key, data []byte) error {
	s.writes.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.entries[key.String()] = append([]byte(nil), data...)
	return nil
}

func (s *memStore) Delete(ctx context.Context, key cache.Key) error {
	s.deletes.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key.String()]; !ok {
		return fmt.Errorf("%w: %s", cache.ErrNotFound, key)
	}
	delete(s.entries, key.String())
	return nil
}

func (s *memStore) get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.entries[key]
	return data, ok
}

func (s *memStore) calls() int32 {
	return s.reads.Load() + s.writes.Load() + s.deletes.Load()
}

// stubFetcher 按 key 返回预置正文，未预置的 key 返回 origin.ErrNotFound。
type stubFetcher struct {
	mu     sync.Mutex
	bodies map[string][]byte
	err    error
	calls  atomic.Int32
}

func newStubFetcher(bodies map[string][]byte) *stubFetcher {
	return &stubFetcher{bodies: bodies}
}

func (f *stubFetcher) Fetch(ctx context.Context, key cache.Key) ([]byte, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	body, ok := f.bodies[key.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", origin.ErrNotFound, key)
	}
	return body, nil
}

var errDiskFull = errors.New("no space left on device")
