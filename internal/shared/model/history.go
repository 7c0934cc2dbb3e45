package model

import "encoding/json"

// ============================================================================
// BoundedHistory - 固定容量的滑动窗口
// ============================================================================

// BoundedHistory 固定容量的有序历史记录
//
// 超出容量时丢弃最旧的记录（FIFO），intent_history 与 provider_history 共用。
// JSON 编码为普通数组，缓存层和持久层都可以直接存储。
type BoundedHistory struct {
	capacity int
	items    []string
}

// NewBoundedHistory 创建指定容量的历史记录
func NewBoundedHistory(capacity int) BoundedHistory {
	return BoundedHistory{capacity: capacity, items: make([]string, 0, capacity)}
}

// Push 追加一条记录，超出容量时淘汰最旧的记录
func (h *BoundedHistory) Push(v string) {
	h.items = append(h.items, v)
	h.trim()
}

// Items 返回记录副本（从旧到新）
func (h BoundedHistory) Items() []string {
	out := make([]string, len(h.items))
	copy(out, h.items)
	return out
}

// Len 当前记录数
func (h BoundedHistory) Len() int {
	return len(h.items)
}

// Capacity 容量，0 表示尚未绑定容量
func (h BoundedHistory) Capacity() int {
	return h.capacity
}

// Last 最新一条记录，为空时返回 ""
func (h BoundedHistory) Last() string {
	if len(h.items) == 0 {
		return ""
	}
	return h.items[len(h.items)-1]
}

// bind 绑定容量（反序列化后的值没有容量信息）
func (h *BoundedHistory) bind(capacity int) {
	if h.capacity != capacity {
		h.capacity = capacity
		h.trim()
	}
}

func (h *BoundedHistory) trim() {
	if h.capacity <= 0 || len(h.items) <= h.capacity {
		return
	}
	overflow := len(h.items) - h.capacity
	// 复制到新切片，避免底层数组无限增长
	kept := make([]string, h.capacity)
	copy(kept, h.items[overflow:])
	h.items = kept
}

func (h BoundedHistory) clone() BoundedHistory {
	return BoundedHistory{capacity: h.capacity, items: h.Items()}
}

// MarshalJSON 编码为数组
func (h BoundedHistory) MarshalJSON() ([]byte, error) {
	if h.items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(h.items)
}

// UnmarshalJSON 从数组解码，保留已绑定的容量
func (h *BoundedHistory) UnmarshalJSON(data []byte) error {
	var items []string
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	h.items = items
	h.trim()
	return nil
}
