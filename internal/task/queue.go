package task

import (
	"context"

	xerrors "AgentWarden/internal/errors"
)

// GateFunc 判断某个 handler 在执行前是否需要人工审批。
// 入队时用它决定任务的初始状态。
type GateFunc func(handler string) bool

// Queue 抽象了带审批生命周期的优先级任务队列。
// 所有状态变更都必须经过这组窄接口，出队与状态转移是唯一的临界区。
type Queue interface {
	// Enqueue 校验并创建任务。handler 缺失时返回 CodeTaskValidation。
	Enqueue(ctx context.Context, spec Spec) (*Task, error)
	// Dequeue 返回优先级最高、携带全部给定标签的就绪任务，并原子地
	// 将其置为 running。队列为空时返回 (nil, nil)，永不阻塞。
	Dequeue(ctx context.Context, tags ...string) (*Task, error)
	// Requeue 将 running 任务退回就绪队列，保留优先级与入队顺序。
	Requeue(ctx context.Context, id string) error
	// Release 将 running 任务退回等待审批状态（执行期闸门触发时使用）。
	Release(ctx context.Context, id string) error
	// CancelByTag 取消所有尚未开始执行、携带该标签的任务，返回数量。
	CancelByTag(ctx context.Context, tag string) (int, error)

	Get(ctx context.Context, id string) (*Task, error)
	List(ctx context.Context, opts ListOptions) ([]*Task, error)
	Stats(ctx context.Context, opts ListOptions) (Stats, error)

	// MarkApproved 与 MarkRejected 仅供审批管理器调用。
	MarkApproved(ctx context.Context, id, approver, reason string, ts int64) error
	MarkRejected(ctx context.Context, id, approver, reason string, ts int64) error
	// MarkCompleted 与 MarkFailed 仅供执行器调用。
	MarkCompleted(ctx context.Context, id string, result ExecutionResult) error
	MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string) error

	Close() error
}
