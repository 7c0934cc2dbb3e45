package errhandler

import (
	"sort"
	"sync"
	"time"
)

// BreakerState 熔断器状态
type BreakerState string

const (
	StateClosed   BreakerState = "CLOSED"
	StateOpen     BreakerState = "OPEN"
	StateHalfOpen BreakerState = "HALF_OPEN"
)

// 默认参数
const (
	DefaultFailureThreshold = 5
	DefaultRecovery         = 60 * time.Second
)

// BreakerSnapshot 熔断器状态快照
type BreakerSnapshot struct {
	Name            string       `json:"name"`
	State           BreakerState `json:"state"`
	FailureCount    int          `json:"failure_count"`
	LastFailureTime *time.Time   `json:"last_failure_time,omitempty"`
	NextAttemptTime *time.Time   `json:"next_attempt_time,omitempty"`
}

// CircuitBreaker 单个资源的熔断器
//
//	CLOSED ──失败数≥阈值──▶ OPEN ──超过恢复窗口──▶ HALF_OPEN
//	   ▲                                              │
//	   └───────────────── RecordSuccess ◀─────────────┘
//
// HALF_OPEN 只放行一个调用，失败会重新进入 OPEN 并顺延恢复窗口。
type CircuitBreaker struct {
	name      string
	threshold int
	recovery  time.Duration
	now       func() time.Time

	mu           sync.Mutex
	state        BreakerState
	failureCount int
	lastFailure  time.Time
	nextAttempt  time.Time
}

// NewCircuitBreaker 创建熔断器，now 为 nil 时使用 time.Now
func NewCircuitBreaker(name string, threshold int, recovery time.Duration, now func() time.Time) *CircuitBreaker {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if recovery <= 0 {
		recovery = DefaultRecovery
	}
	if now == nil {
		now = time.Now
	}
	return &CircuitBreaker{
		name:      name,
		threshold: threshold,
		recovery:  recovery,
		now:       now,
		state:     StateClosed,
	}
}

// Name 资源名
func (b *CircuitBreaker) Name() string {
	return b.name
}

// RecordSuccess 失败计数归零，回到 CLOSED
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount = 0
	b.state = StateClosed
	b.lastFailure = time.Time{}
	b.nextAttempt = time.Time{}
}

// RecordFailure 失败计数加一，达到阈值进入 OPEN
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount++
	b.lastFailure = b.now()
	if b.failureCount >= b.threshold {
		b.state = StateOpen
		b.nextAttempt = b.lastFailure.Add(b.recovery)
	}
}

// IsOpen 是否拒绝调用
//
// OPEN 且已超过恢复窗口时转为 HALF_OPEN，只放行一个调用；
// HALF_OPEN 期间其余调用继续被拒绝，直到该调用的结果被记录，
// 或结果未回报且又过了一个恢复窗口。
func (b *CircuitBreaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateOpen, StateHalfOpen:
		now := b.now()
		if !now.After(b.nextAttempt) {
			return true
		}
		b.state = StateHalfOpen
		b.nextAttempt = now.Add(b.recovery)
		return false
	default:
		return false
	}
}

// State 当前状态（不触发状态转换）
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// FailureCount 当前失败计数
func (b *CircuitBreaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount
}

// Snapshot 状态快照
func (b *CircuitBreaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := BreakerSnapshot{Name: b.name, State: b.state, FailureCount: b.failureCount}
	if !b.lastFailure.IsZero() {
		t := b.lastFailure
		s.LastFailureTime = &t
	}
	if !b.nextAttempt.IsZero() {
		t := b.nextAttempt
		s.NextAttemptTime = &t
	}
	return s
}

// ============================================================================
// BreakerRegistry
// ============================================================================

// BreakerRegistry 按资源 key 管理熔断器
//
// map 锁只在查找和插入时持有，每个熔断器自带锁，不同资源互不阻塞。
type BreakerRegistry struct {
	threshold int
	recovery  time.Duration
	now       func() time.Time

	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

// NewBreakerRegistry 创建注册表
func NewBreakerRegistry(threshold int, recovery time.Duration, now func() time.Time) *BreakerRegistry {
	return &BreakerRegistry{
		threshold: threshold,
		recovery:  recovery,
		now:       now,
		breakers:  make(map[string]*CircuitBreaker),
	}
}

// Get 获取 key 对应的熔断器，不存在时创建
func (r *BreakerRegistry) Get(key string) *CircuitBreaker {
	r.mu.RLock()
	b, ok := r.breakers[key]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[key]; ok {
		return b
	}
	b = NewCircuitBreaker(key, r.threshold, r.recovery, r.now)
	r.breakers[key] = b
	return b
}

// Lookup 获取已存在的熔断器
func (r *BreakerRegistry) Lookup(key string) (*CircuitBreaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.breakers[key]
	return b, ok
}

// Snapshot 所有熔断器快照，按名称排序
func (r *BreakerRegistry) Snapshot() []BreakerSnapshot {
	r.mu.RLock()
	list := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		list = append(list, b)
	}
	r.mu.RUnlock()

	out := make([]BreakerSnapshot, 0, len(list))
	for _, b := range list {
		out = append(out, b.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
