package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	xerrors "AgentWarden/internal/errors"
)

// MemoryStore 以内存方式保存 packet，主要用于测试与单机运行。
type MemoryStore struct {
	mu       sync.RWMutex
	packets  []*Packet
	byType   map[string][]int
	byThread map[string][]int
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byType:   make(map[string][]int),
		byThread: make(map[string][]int),
	}
}

// Write 实现 Store 接口。
func (m *MemoryStore) Write(_ context.Context, packetType string, payload map[string]any, metadata map[string]string) (string, error) {
	if packetType == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "packet 类型不能为空")
	}

	p := &Packet{
		ID:        uuid.NewString(),
		Type:      packetType,
		Payload:   payload,
		Metadata:  metadata,
		CreatedAt: time.Now().Unix(),
	}
	if metadata != nil {
		p.ThreadID = metadata["thread_id"]
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	index := len(m.packets)
	m.packets = append(m.packets, clonePacket(p))
	m.byType[packetType] = append(m.byType[packetType], index)
	if p.ThreadID != "" {
		m.byThread[p.ThreadID] = append(m.byThread[p.ThreadID], index)
	}
	return p.ID, nil
}

// Search 实现 Store 接口。
func (m *MemoryStore) Search(_ context.Context, packetType string, filter map[string]string) ([]*Packet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	indexes := m.byType[packetType]
	results := make([]*Packet, 0, len(indexes))
	for _, index := range indexes {
		p := m.packets[index]
		if !matchesMetadata(p, filter) {
			continue
		}
		results = append(results, clonePacket(p))
	}
	return results, nil
}

// SearchByThread 实现 Store 接口。
func (m *MemoryStore) SearchByThread(_ context.Context, threadID string) ([]*Packet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	indexes := m.byThread[threadID]
	results := make([]*Packet, 0, len(indexes))
	for _, index := range indexes {
		results = append(results, clonePacket(m.packets[index]))
	}
	return results, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

// ensure interface compliance at compile time
var _ Store = (*MemoryStore)(nil)
