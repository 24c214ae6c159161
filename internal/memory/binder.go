package memory

import (
	"context"
	"log/slog"

	xerrors "AgentWarden/internal/errors"
	"AgentWarden/internal/task"
	"AgentWarden/pkg/logger"
)

// CodeMemoryPersist 标记尽力而为的记忆写入失败，只记日志，不参与控制流。
const CodeMemoryPersist xerrors.Code = "MEMORY_PERSIST_FAILED"

func init() {
	xerrors.Register(CodeMemoryPersist, xerrors.Attributes{
		Message:   "memory persist failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
}

// Context 是执行前为任务装配的先验上下文。
type Context struct {
	TaskID  string    `json:"task_id"`
	AgentID string    `json:"agent_id,omitempty"`
	Thread  []*Packet `json:"thread,omitempty"`
	Recent  []*Packet `json:"recent,omitempty"`
}

// defaultRecentDepth 是装配上下文时回看的历史结果数量默认值。
const defaultRecentDepth = 5

// Binder 在执行前后衔接任务与记忆基座。所有操作都是尽力而为：
// 基座不可达时装配返回空上下文，落盘失败只记日志，绝不影响执行结果。
type Binder struct {
	store       Store
	recentDepth int
	logger      *slog.Logger
}

// BinderOption 定义可选配置。
type BinderOption func(*Binder)

// WithRecentDepth 设置装配上下文时回看的历史结果数量。
func WithRecentDepth(depth int) BinderOption {
	return func(b *Binder) {
		if depth > 0 {
			b.recentDepth = depth
		}
	}
}

// WithBinderLogger 指定日志输出。
func WithBinderLogger(log *slog.Logger) BinderOption {
	return func(b *Binder) {
		b.logger = log
	}
}

// NewBinder 创建 Binder。
func NewBinder(store Store, opts ...BinderOption) *Binder {
	b := &Binder{
		store:       store,
		recentDepth: defaultRecentDepth,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	if b.logger == nil {
		b.logger = logger.Named("memory_binder")
	}
	return b
}

// BindContext 装配任务的先验上下文。基座不可达时返回空上下文而非错误。
func (b *Binder) BindContext(ctx context.Context, taskID, agentID string) *Context {
	bound := &Context{TaskID: taskID, AgentID: agentID}
	if b == nil || b.store == nil {
		return bound
	}

	thread, err := b.store.SearchByThread(ctx, taskID)
	if err != nil {
		b.logger.Warn("加载任务线索失败，使用空上下文",
			slog.Any("error", err),
			slog.String("task_id", taskID),
		)
		return bound
	}
	bound.Thread = thread

	if agentID != "" {
		recent, err := b.store.Search(ctx, PacketExecutionResult, map[string]string{"agent_id": agentID})
		if err != nil {
			b.logger.Warn("加载历史执行结果失败",
				slog.Any("error", err),
				slog.String("agent_id", agentID),
			)
			return bound
		}
		if len(recent) > b.recentDepth {
			recent = recent[len(recent)-b.recentDepth:]
		}
		bound.Recent = recent
	}
	return bound
}

// PersistResult 将执行结果落入记忆基座。失败返回 false 并记日志，永不上抛。
func (b *Binder) PersistResult(ctx context.Context, result task.ExecutionResult) bool {
	payload := map[string]any{
		"task_id":      result.TaskID,
		"success":      result.Success,
		"output":       result.Output,
		"error":        result.Error,
		"duration_ms":  result.DurationMS,
		"retries_used": result.RetriesUsed,
		"completed_at": result.CompletedAt,
	}
	return b.PersistPacket(ctx, PacketExecutionResult, payload, map[string]string{
		"task_id":   result.TaskID,
		"thread_id": result.TaskID,
	})
}

// PersistPacket 尽力写入任意类型的审计 packet。
func (b *Binder) PersistPacket(ctx context.Context, packetType string, payload map[string]any, metadata map[string]string) bool {
	if b == nil || b.store == nil {
		return false
	}
	if _, err := b.store.Write(ctx, packetType, payload, metadata); err != nil {
		wrapped := xerrors.Wrap(CodeMemoryPersist, err, "写入记忆基座失败")
		b.logger.Warn("写入记忆基座失败",
			slog.Any("error", wrapped),
			slog.String("packet_type", packetType),
		)
		return false
	}
	return true
}
