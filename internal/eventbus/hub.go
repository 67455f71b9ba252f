// Package eventbus 进程内事件广播，供外部 UI 层订阅存档变化。
package eventbus

import (
	"context"
	"sync"
	"time"
)

// 事件类型
const (
	TypeSaveCommitted    = "save.committed"
	TypeSaveDeleted      = "save.deleted"
	TypeProfileCleared   = "profile.cleared"
	TypeStoreCleared     = "store.cleared"
	TypeImportCompleted  = "import.completed"
	TypeMigrationApplied = "migration.applied"
)

type Event struct {
	Type      string         `json:"type"`
	Timestamp int64          `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

type Hub struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

// Publish 非阻塞广播；nil Hub 上调用是空操作
func (h *Hub) Publish(evt Event) {
	if h == nil {
		return
	}
	if evt.Timestamp == 0 {
		evt.Timestamp = time.Now().UnixMilli()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subs {
		select {
		case ch <- evt:
		default:
			// 慢消费者直接丢弃，避免阻塞存档提交
		}
	}
}

// Subscribe 订阅全部事件，ctx 结束后自动退订并关闭通道
func (h *Hub) Subscribe(ctx context.Context, buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
		close(ch)
	}()

	return ch
}
