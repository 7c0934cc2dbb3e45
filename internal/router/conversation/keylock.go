package conversation

import (
	"sync"

	"chat-router/internal/shared/model"
)

// sequencer 按 key 串行合并上下文更新，不同 key 互不阻塞
//
// 锁只保护内存中的合并状态，存储读写都在锁外进行：
// 每个 key 同一时间最多一个 flusher 负责写入，写入期间到达的更新
// 合并进 latest，由 flusher 在下一轮写出，最终写入的总是最新状态。
//
// 槽位在没有持有者时删除，map 不会随会话数量无限增长。
type sequencer struct {
	mu    sync.Mutex
	slots map[string]*keySlot
}

// keySlot 单个 key 的合并状态
type keySlot struct {
	refs int // sequencer.mu 保护

	mu       sync.Mutex
	latest   *model.ConversationContext
	dirty    bool
	durable  bool
	flushing bool
}

func newSequencer() *sequencer {
	return &sequencer{slots: make(map[string]*keySlot)}
}

// acquire 引用 key 的槽位，必须与 release 成对调用
func (q *sequencer) acquire(key string) *keySlot {
	q.mu.Lock()
	defer q.mu.Unlock()
	s, ok := q.slots[key]
	if !ok {
		s = &keySlot{}
		q.slots[key] = s
	}
	s.refs++
	return s
}

func (q *sequencer) release(key string, s *keySlot) {
	q.mu.Lock()
	defer q.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(q.slots, key)
	}
}

func (q *sequencer) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.slots)
}

// stage 记录合并后的状态，返回调用方是否需要成为 flusher
func (s *keySlot) stage(c *model.ConversationContext, durable bool) bool {
	s.latest = c
	s.dirty = true
	s.durable = s.durable || durable
	if s.flushing {
		return false
	}
	s.flushing = true
	return true
}

// next 取出待写入的快照，没有待写入内容时结束 flush
func (s *keySlot) next() (snap *model.ConversationContext, durable, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty || s.latest == nil {
		s.flushing = false
		s.dirty, s.durable = false, false
		return nil, false, false
	}
	snap = s.latest.Clone()
	durable = s.durable
	s.dirty, s.durable = false, false
	return snap, durable, true
}

// reset 丢弃合并状态（Clear 使用）
func (s *keySlot) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = nil
	s.dirty, s.durable = false, false
}

// markSynced 把持久层写入结果同步到合并状态
func (s *keySlot) markSynced(contextID string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest != nil && s.latest.ContextID == contextID {
		s.latest.DurableSynced = ok
	}
}

// synced 合并状态是否已写入过持久层
func (s *keySlot) synced() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest != nil && s.latest.DurableSynced
}
