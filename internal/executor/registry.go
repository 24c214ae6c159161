package executor

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Handler 是任务绑定的可执行行为。payload 来自任务描述，
// 返回的输出会记入执行结果。
type Handler func(ctx context.Context, payload map[string]any) (map[string]any, error)

// Registry 维护 handler 标识到可执行函数的映射。
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry 创建空的 handler 注册表。
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register 注册或覆盖一个 handler。
func (r *Registry) Register(id string, handler Handler) {
	id = strings.TrimSpace(id)
	if id == "" || handler == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[id] = handler
}

// Resolve 返回 handler，未注册时返回 nil。
func (r *Registry) Resolve(id string) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[strings.TrimSpace(id)]
}

// Names 返回全部已注册的 handler 标识，按字典序排列。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
