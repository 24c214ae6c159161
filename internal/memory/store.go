package memory

import "context"

// 常用的 packet 类型。存储层不限制类型取值，这里只是系统内的约定。
const (
	PacketExecutionResult = "execution_result"
	PacketApprovalRecord  = "approval_record"
	PacketPlanState       = "plan_state"
)

// Packet 是记忆基座中一条不可变的审计/结果记录。
type Packet struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	ThreadID  string            `json:"thread_id,omitempty"`
	Payload   map[string]any    `json:"payload,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt int64             `json:"created_at"`
}

// Store 抽象了追加写入、按类型与线索查询的记忆基座。
// 写入后的 packet 不可变更；保留与清理由存储后端自行负责。
type Store interface {
	// Write 追加一条 packet 并返回生成的 ID。
	// metadata 中的 thread_id 会被提升为 packet 的线索标识。
	Write(ctx context.Context, packetType string, payload map[string]any, metadata map[string]string) (string, error)
	// Search 返回指定类型且 metadata 包含全部 filter 键值的 packet，
	// 按写入顺序排列。
	Search(ctx context.Context, packetType string, filter map[string]string) ([]*Packet, error)
	// SearchByThread 返回同一线索下的全部 packet，按写入顺序排列。
	SearchByThread(ctx context.Context, threadID string) ([]*Packet, error)
	Close() error
}

func clonePacket(p *Packet) *Packet {
	clone := *p
	if p.Payload != nil {
		clone.Payload = make(map[string]any, len(p.Payload))
		for k, v := range p.Payload {
			clone.Payload[k] = v
		}
	}
	if p.Metadata != nil {
		clone.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}

func matchesMetadata(p *Packet, filter map[string]string) bool {
	for key, want := range filter {
		if p.Metadata[key] != want {
			return false
		}
	}
	return true
}
