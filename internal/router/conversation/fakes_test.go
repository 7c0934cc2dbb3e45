package conversation

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"chat-router/internal/shared/model"
)

var errTierDown = errors.New("tier down")

// memoryCache 内存缓存层，可注入错误
type memoryCache struct {
	mu    sync.Mutex
	data  map[string]*model.ConversationContext
	err   error
	gets  int
	sets  int
	delay time.Duration
	// onSet 在写入前调用（不持有锁），用于阻塞写入
	onSet func()
}

func newMemoryCache() *memoryCache {
	return &memoryCache{data: map[string]*model.ConversationContext{}}
}

func (c *memoryCache) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

func (c *memoryCache) setHook(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSet = fn
}

func (c *memoryCache) counts() (gets, sets int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gets, c.sets
}

func (c *memoryCache) GetContext(ctx context.Context, key string) (*model.ConversationContext, error) {
	c.mu.Lock()
	c.gets++
	delay, err := c.delay, c.err
	v := c.data[key].Clone()
	c.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (c *memoryCache) SetContext(ctx context.Context, conv *model.ConversationContext, ttl time.Duration) error {
	c.mu.Lock()
	hook := c.onSet
	c.mu.Unlock()
	if hook != nil {
		hook()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	if c.err != nil {
		return c.err
	}
	c.data[conv.ContextKey] = conv.Clone()
	return nil
}

func (c *memoryCache) DeleteContext(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	delete(c.data, key)
	return nil
}

func (c *memoryCache) ExistsContext(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return ok, c.err
}

func (c *memoryCache) ExpireContext(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.ExistsContext(ctx, key)
}

// memoryStore 内存持久层，记录读写次数
type memoryStore struct {
	mu     sync.Mutex
	data   map[string]*model.ConversationContext
	err    error
	reads  int
	writes int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: map[string]*model.ConversationContext{}}
}

func (s *memoryStore) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *memoryStore) counts() (reads, writes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads, s.writes
}

func (s *memoryStore) put(c *model.ConversationContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[c.ContextKey] = c.Clone()
}

func (s *memoryStore) GetContext(ctx context.Context, key string) (*model.ConversationContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.err != nil {
		return nil, s.err
	}
	c := s.data[key].Clone()
	if c != nil {
		c.DurableSynced = true
	}
	return c, nil
}

func (s *memoryStore) SaveContext(ctx context.Context, c *model.ConversationContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.err != nil {
		return s.err
	}
	s.data[c.ContextKey] = c.Clone()
	return nil
}

func (s *memoryStore) DeleteContext(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	delete(s.data, key)
	return nil
}

func (s *memoryStore) ListActiveContexts(ctx context.Context, tenantID string, now time.Time) ([]*model.ConversationContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.ConversationContext
	for _, c := range s.data {
		if c.TenantID == tenantID && c.IsActive(now) {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivity.After(out[j].LastActivity) })
	return out, s.err
}

func (s *memoryStore) expired(before time.Time) []*model.ConversationContext {
	var out []*model.ConversationContext
	for _, c := range s.data {
		if c.ExpiresAt != nil && !c.ExpiresAt.After(before) {
			out = append(out, c.Clone())
		}
	}
	return out
}

func (s *memoryStore) ListExpiredContexts(ctx context.Context, before time.Time, limit int) ([]*model.ConversationContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expired(before), s.err
}

func (s *memoryStore) DeleteExpiredContexts(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	list := s.expired(before)
	for _, c := range list {
		delete(s.data, c.ContextKey)
	}
	return int64(len(list)), nil
}

// memoryArchive 记录归档的上下文
type memoryArchive struct {
	mu       sync.Mutex
	archived []*model.ConversationContext
	err      error
}

func (a *memoryArchive) ArchiveContexts(ctx context.Context, contexts []*model.ConversationContext) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.archived = append(a.archived, contexts...)
	return nil
}
