// Package conversation 会话上下文管理
//
// Manager 是唯一同时知道两层存储的组件：
//
//	Load:   cache ──miss──▶ store ──miss──▶ 新建（写入两层）
//	          │                │
//	          └──hit           └──hit → 回填 cache
//
//	Update: cache 每次写入；store 每 N 条消息（或从未成功持久化时）写入一次
//
// 任一层的错误只记录日志并按未命中/跳过写入处理，Load 和 Update 不返回错误。
// 已存储记录的 context_id 不会被降级上下文覆盖。
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"chat-router/internal/shared/cache"
	"chat-router/internal/shared/model"
	"chat-router/internal/shared/storage"
	"chat-router/pkg/logging"
)

// 默认参数
const (
	DefaultCacheTTL           = 24 * time.Hour
	DefaultCheckpointInterval = 10
	DefaultSessionTimeout     = 30 * time.Minute
)

// Config Manager 配置
type Config struct {
	// CacheTTL 缓存层 TTL
	CacheTTL time.Duration
	// CheckpointInterval 每 N 条消息写一次持久层
	CheckpointInterval int
	// SessionTimeout 空闲超过该时长开始新会话
	SessionTimeout time.Duration
	// ContextTTL 每次更新把 expires_at 顺延到 now+ContextTTL，0 表示不过期
	ContextTTL time.Duration
}

// Archiver 过期上下文归档（MinIO 实现）
type Archiver interface {
	ArchiveContexts(ctx context.Context, contexts []*model.ConversationContext) error
}

// Stats 存储访问计数
type Stats struct {
	CacheHits     int64 `json:"cache_hits"`
	CacheMisses   int64 `json:"cache_misses"`
	DurableReads  int64 `json:"durable_reads"`
	DurableWrites int64 `json:"durable_writes"`
	TierErrors    int64 `json:"tier_errors"`
	Created       int64 `json:"created"`
	Degraded      int64 `json:"degraded"`
	Swept         int64 `json:"swept"`
}

type counters struct {
	cacheHits, cacheMisses, durableReads, durableWrites atomic.Int64
	tierErrors, created, degraded, swept              atomic.Int64
}

// Manager 会话上下文管理器
type Manager struct {
	cache   cache.ConversationCache
	store   storage.ContextStore
	archive Archiver
	config  Config

	loads singleflight.Group
	seq   *sequencer
	stats counters

	now    func() time.Time
	logger *logging.Logger
}

// NewManager 创建管理器，archive 可以为 nil
func NewManager(c cache.ConversationCache, store storage.ContextStore, archive Archiver, cfg Config, logger *logging.Logger) *Manager {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = DefaultCheckpointInterval
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = DefaultSessionTimeout
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Manager{
		cache:   c,
		store:   store,
		archive: archive,
		config:  cfg,
		seq:     newSequencer(),
		now:     time.Now,
		logger:  logger.Named("conversation"),
	}
}

// Key 会话上下文键
func Key(tenantID, userID, platform string) string {
	return model.ContextKey(tenantID, userID, platform)
}

// Stats 存储访问计数快照
func (m *Manager) Stats() Stats {
	return Stats{
		CacheHits:     m.stats.cacheHits.Load(),
		CacheMisses:   m.stats.cacheMisses.Load(),
		DurableReads:  m.stats.durableReads.Load(),
		DurableWrites: m.stats.durableWrites.Load(),
		TierErrors:    m.stats.tierErrors.Load(),
		Created:       m.stats.created.Load(),
		Degraded:      m.stats.degraded.Load(),
		Swept:         m.stats.swept.Load(),
	}
}

// ============================================================================
// Load
// ============================================================================

// Load 加载请求对应的会话上下文
//
// 同一个 key 的并发 Load 合并为一次存储查询，每个调用方拿到独立的副本。
// 缓存未命中且持久层出错时返回 status=minimal 的降级上下文，不写入任何一层。
func (m *Manager) Load(ctx context.Context, req *model.MiddlewareRequest) *model.ConversationContext {
	key := req.ContextKey()
	// 合并后的查询不受单个调用方取消的影响
	shared := context.WithoutCancel(ctx)
	v, _, _ := m.loads.Do(key, func() (interface{}, error) {
		return m.load(shared, req, key), nil
	})
	return v.(*model.ConversationContext).Clone()
}

func (m *Manager) load(ctx context.Context, req *model.MiddlewareRequest, key string) *model.ConversationContext {
	now := m.now()
	log := m.logger.WithContext(ctx).WithContextKey(key)

	start := time.Now()
	c, cacheErr := m.cache.GetContext(ctx, key)
	if cacheErr != nil {
		m.stats.tierErrors.Add(1)
		log.StoreOpLog("volatile", "get", key, time.Since(start), cacheErr)
		c = nil
	}
	if c != nil {
		m.stats.cacheHits.Add(1)
		return m.maybeResetSession(ctx, c, req, now)
	}
	m.stats.cacheMisses.Add(1)

	start = time.Now()
	m.stats.durableReads.Add(1)
	c, storeErr := m.store.GetContext(ctx, key)
	if storeErr != nil {
		m.stats.tierErrors.Add(1)
		log.StoreOpLog("durable", "get", key, time.Since(start), storeErr)
		c = nil
	}

	// 持久层读取失败时无法确认记录是否存在，不能新建并覆盖
	if storeErr != nil {
		m.stats.degraded.Add(1)
		log.Warn("Context lookup incomplete, using minimal context",
			slog.Bool("volatile_ok", cacheErr == nil))
		return model.NewMinimalContext(req, now)
	}

	if c != nil {
		c = m.maybeResetSession(ctx, c, req, now)
		m.setCache(ctx, c)
		return c
	}

	c = model.NewConversationContext(req, now)
	m.stats.created.Add(1)
	m.saveDurable(ctx, c)
	m.setCache(ctx, c)
	log.Info("Conversation context created", slog.String("context_id", c.ContextID))
	return c
}

// maybeResetSession 空闲超时或已过期的上下文开始新会话，并立即写回缓存
func (m *Manager) maybeResetSession(ctx context.Context, c *model.ConversationContext, req *model.MiddlewareRequest, now time.Time) *model.ConversationContext {
	if !c.IsExpired(now) && c.IdleTime(now) <= m.config.SessionTimeout {
		return c
	}
	m.logger.WithContext(ctx).WithContextKey(c.ContextKey).Info("Starting new session",
		slog.Duration("idle", c.IdleTime(now)),
		slog.Bool("expired", c.IsExpired(now)))
	c.ResetSession(req.SessionID, now)
	if m.config.ContextTTL > 0 {
		exp := now.Add(m.config.ContextTTL)
		c.ExpiresAt = &exp
	}
	m.setCache(ctx, c)
	return c
}

// ============================================================================
// Update
// ============================================================================

// Update 根据本轮响应更新会话上下文，返回更新后的上下文
//
// 同一个 key 的更新在内存中串行合并：以存储中或本实例最近合并的最新副本为基础，
// 并发的两轮对话不会丢失计数。存储已有记录时以其 context_id 为准，
// 降级上下文的本轮变更合并进该记录。
func (m *Manager) Update(ctx context.Context, c *model.ConversationContext, req *model.MiddlewareRequest, resp *model.MiddlewareResponse) *model.ConversationContext {
	key := c.ContextKey
	slot := m.seq.acquire(key)
	defer m.seq.release(key, slot)

	stored, persist := m.resolve(ctx, c)
	now := m.now()

	slot.mu.Lock()
	// 本实例已合并过该 key，身份已确定
	if slot.latest != nil {
		persist = true
	}
	base := pickBase(c, stored, slot.latest)
	m.apply(base, req, resp, now)
	checkpoint := base.MessageCount%m.config.CheckpointInterval == 0 || !base.DurableSynced
	result := base.Clone()
	flusher := false
	if persist {
		flusher = slot.stage(base, checkpoint)
	}
	slot.mu.Unlock()

	if !persist {
		m.logger.WithContext(ctx).WithContextKey(key).Warn("Context identity unresolved, skipping write")
		return result
	}
	if flusher {
		m.flush(ctx, slot)
		result.DurableSynced = slot.synced()
	}
	return result
}

// resolve 读取存储中的当前记录
//
// persist=false 表示无法确认存储中是否已有记录，本轮不写入。
// 只有降级上下文在缓存未命中时才回查持久层。
func (m *Manager) resolve(ctx context.Context, c *model.ConversationContext) (stored *model.ConversationContext, persist bool) {
	cached, err := m.cache.GetContext(ctx, c.ContextKey)
	if err != nil {
		m.stats.tierErrors.Add(1)
		m.logger.WithContext(ctx).StoreOpLog("volatile", "get", c.ContextKey, 0, err)
	}
	if cached != nil {
		return cached, true
	}
	if c.Status != model.ContextStatusMinimal {
		return nil, true
	}

	m.stats.durableReads.Add(1)
	durable, err := m.store.GetContext(ctx, c.ContextKey)
	if err != nil {
		m.stats.tierErrors.Add(1)
		m.logger.WithContext(ctx).StoreOpLog("durable", "get", c.ContextKey, 0, err)
		return nil, false
	}
	return durable, true
}

// pickBase 选择本轮更新的基础副本
//
// 身份优先级：本实例最近合并的状态 > 存储中的记录 > 调用方持有的副本；
// 同一身份下取 message_count 最大的副本。
func pickBase(c, stored, latest *model.ConversationContext) *model.ConversationContext {
	id := c.ContextID
	switch {
	case latest != nil:
		id = latest.ContextID
	case stored != nil:
		id = stored.ContextID
	}

	var base *model.ConversationContext
	for _, cand := range []*model.ConversationContext{latest, stored, c} {
		if cand == nil || cand.ContextID != id {
			continue
		}
		if base == nil || cand.MessageCount > base.MessageCount {
			base = cand
		}
	}
	if base == latest {
		return base
	}
	return base.Clone()
}

// flush 写出槽位中的最新状态，直到没有新的合并
func (m *Manager) flush(ctx context.Context, slot *keySlot) {
	for {
		snap, durable, ok := slot.next()
		if !ok {
			return
		}
		if durable {
			m.saveDurable(ctx, snap)
			slot.markSynced(snap.ContextID, snap.DurableSynced)
		}
		m.setCache(ctx, snap)
	}
}

// apply 把本轮请求和响应写入上下文
func (m *Manager) apply(c *model.ConversationContext, req *model.MiddlewareRequest, resp *model.MiddlewareResponse, now time.Time) {
	c.Normalize()

	if req != nil {
		if req.ConnectionID != "" {
			c.ConnectionID = req.ConnectionID
		}
		if req.BotID != "" {
			c.BotID = req.BotID
		}
		c.Metadata[model.MetaLastMessage] = req.Message
	}

	if resp != nil {
		if ia := resp.IntentAnalysis; ia != nil && ia.PrimaryIntent != "" {
			c.LastIntent = ia.PrimaryIntent
			c.PushIntent(ia.PrimaryIntent)
			if ia.Language != "" {
				c.Language = ia.Language
			}
		}

		if p := resp.ProviderUsed; p != "" {
			c.PushProvider(p)
			if resp.Status == model.ResponseStatusSuccess && !p.IsSynthetic() {
				c.LastSuccessfulProvider = p
			}
		}

		switch {
		case resp.NeedsEscalation():
			c.Status = model.ContextStatusEscalated
			c.EscalationLevel++
			c.NeedsHumanIntervention = true
		case resp.Status == model.ResponseStatusError:
			c.Status = model.ContextStatusError
		default:
			c.Status = model.ContextStatusActive
		}
		if resp.IsError() {
			c.ErrorCount++
		}

		var elapsed int64
		if resp.ProcessingMetrics != nil {
			elapsed = resp.ProcessingMetrics.ProcessingTimeMs
		}
		c.TotalProcessingTime += elapsed
		c.Metadata[model.MetaLastResponse] = resp.ResponseText
		c.Metadata[model.MetaLastProcessingTime] = elapsed
	}

	c.LastActivity = now
	if m.config.ContextTTL > 0 {
		exp := now.Add(m.config.ContextTTL)
		c.ExpiresAt = &exp
	}
	c.MessageCount++
	c.MessageCountInCurrentSession++
}

// ============================================================================
// 存储写入
// ============================================================================

func (m *Manager) setCache(ctx context.Context, c *model.ConversationContext) {
	start := time.Now()
	if err := m.cache.SetContext(ctx, c, m.config.CacheTTL); err != nil {
		m.stats.tierErrors.Add(1)
		m.logger.WithContext(ctx).StoreOpLog("volatile", "set", c.ContextKey, time.Since(start), err)
	}
}

// saveDurable 写入持久层并记录结果到 DurableSynced
func (m *Manager) saveDurable(ctx context.Context, c *model.ConversationContext) {
	start := time.Now()
	m.stats.durableWrites.Add(1)
	err := m.store.SaveContext(ctx, c)
	m.logger.WithContext(ctx).StoreOpLog("durable", "save", c.ContextKey, time.Since(start), err)
	if err != nil {
		m.stats.tierErrors.Add(1)
	}
	c.DurableSynced = err == nil
}

// ============================================================================
// 管理操作
// ============================================================================

// Clear 从两层删除上下文，重复调用不报错
func (m *Manager) Clear(ctx context.Context, key string) error {
	slot := m.seq.acquire(key)
	defer m.seq.release(key, slot)
	slot.reset()

	var errs []error
	if err := m.cache.DeleteContext(ctx, key); err != nil {
		errs = append(errs, fmt.Errorf("volatile: %w", err))
	}
	if err := m.store.DeleteContext(ctx, key); err != nil {
		errs = append(errs, fmt.Errorf("durable: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("clear context %s: %w", key, err)
	}
	m.logger.WithContext(ctx).WithContextKey(key).Info("Conversation context cleared")
	return nil
}

// ListActive 租户下的活跃上下文（只查持久层）
func (m *Manager) ListActive(ctx context.Context, tenantID string) ([]*model.ConversationContext, error) {
	list, err := m.store.ListActiveContexts(ctx, tenantID, m.now())
	if err != nil {
		return nil, fmt.Errorf("list active contexts: %w", err)
	}
	return list, nil
}

// SweepExpired 删除持久层中已过期的上下文，配置了归档时先归档
//
// 持久层只在检查点写入，行上的 expires_at 可能落后于缓存。缓存中仍未过期的副本
// 先写回持久层续期，不会被删除。缓存层依赖 TTL 自然过期，这里不做删除。
// 归档或续期失败时不删除，下一轮清理重试。
func (m *Manager) SweepExpired(ctx context.Context) (int64, error) {
	before := m.now()
	log := m.logger.WithContext(ctx)

	expired, err := m.store.ListExpiredContexts(ctx, before, 0)
	if err != nil {
		return 0, fmt.Errorf("list expired contexts: %w", err)
	}

	var stale []*model.ConversationContext
	for _, c := range expired {
		live, err := m.cache.GetContext(ctx, c.ContextKey)
		if err != nil {
			return 0, fmt.Errorf("check volatile copy %s: %w", c.ContextKey, err)
		}
		if live == nil || live.IsExpired(before) {
			stale = append(stale, c)
			continue
		}
		m.stats.durableWrites.Add(1)
		if err := m.store.SaveContext(ctx, live); err != nil {
			return 0, fmt.Errorf("refresh live context %s: %w", c.ContextKey, err)
		}
		log.WithContextKey(c.ContextKey).Debug("Durable row refreshed from live volatile copy")
	}

	if m.archive != nil && len(stale) > 0 {
		if err := m.archive.ArchiveContexts(ctx, stale); err != nil {
			return 0, fmt.Errorf("archive expired contexts: %w", err)
		}
	}

	n, err := m.store.DeleteExpiredContexts(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("delete expired contexts: %w", err)
	}
	m.stats.swept.Add(n)
	if n > 0 {
		log.Info("Expired contexts swept", slog.Int64("count", n))
	}
	return n, nil
}

// StartSweeper 周期性清理过期上下文，ctx 取消后返回
func (m *Manager) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.SweepExpired(ctx); err != nil {
				m.logger.WithError(err).Warn("Sweep expired contexts failed")
			}
		}
	}
}

// pinger 支持连通性检查的存储
type pinger interface {
	Ping(ctx context.Context) error
}

// Ping 两层存储的连通性，不支持 Ping 的实现视为正常
func (m *Manager) Ping(ctx context.Context) (volatileErr, durableErr error) {
	if p, ok := m.cache.(pinger); ok {
		volatileErr = p.Ping(ctx)
	}
	if p, ok := m.store.(pinger); ok {
		durableErr = p.Ping(ctx)
	}
	return volatileErr, durableErr
}
