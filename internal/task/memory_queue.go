package task

import (
	"container/heap"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	xerrors "AgentWarden/internal/errors"
)

// queueItem 是任务在队列内部的持有形式。seq 记录入队顺序，
// 同优先级任务依 seq 先进先出。
type queueItem struct {
	task   *Task
	seq    uint64
	queued bool
}

// readyHeap 按 (priority 降序, seq 升序) 排列就绪任务。
type readyHeap []*queueItem

func (h readyHeap) Len() int { return len(h) }

func (h readyHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority > h[j].task.Priority
	}
	return h[i].seq < h[j].seq
}

func (h readyHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *readyHeap) Push(x any) { *h = append(*h, x.(*queueItem)) }

func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// MemoryQueue 以互斥锁保护的二叉堆实现任务队列。
// 出队是 O(log n) 的非阻塞操作，空队列立即返回。
type MemoryQueue struct {
	mu              sync.Mutex
	gate            GateFunc
	defaultPriority int
	tasks           map[string]*queueItem
	ready           readyHeap
	nextSeq         uint64
}

// QueueOption 定义可选配置。
type QueueOption func(*MemoryQueue)

// WithDefaultPriority 设置未显式指定优先级时使用的默认值。
func WithDefaultPriority(priority int) QueueOption {
	return func(q *MemoryQueue) {
		q.defaultPriority = priority
	}
}

// NewMemoryQueue 创建内存任务队列。gate 决定任务入队时是否需要审批。
func NewMemoryQueue(gate GateFunc, opts ...QueueOption) *MemoryQueue {
	q := &MemoryQueue{
		gate:  gate,
		tasks: make(map[string]*queueItem),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(q)
		}
	}
	return q
}

// Enqueue 校验并创建任务。
func (q *MemoryQueue) Enqueue(_ context.Context, spec Spec) (*Task, error) {
	if strings.TrimSpace(spec.Handler) == "" {
		return nil, xerrors.New(CodeTaskValidation, "任务 handler 不能为空")
	}

	priority := spec.Priority
	if priority == 0 {
		priority = q.defaultPriority
	}
	payload := clonePayload(spec.Payload)
	if payload == nil {
		payload = map[string]any{}
	}
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		name = spec.Handler
	}

	now := time.Now().Unix()
	t := &Task{
		ID:        uuid.NewString(),
		Name:      name,
		Handler:   spec.Handler,
		Payload:   payload,
		Priority:  priority,
		Tags:      append([]string(nil), spec.Tags...),
		Status:    StatusReady,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if q.gate != nil && q.gate(spec.Handler) {
		t.Status = StatusPendingApproval
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	item := &queueItem{task: t, seq: q.nextSeq}
	q.nextSeq++
	q.tasks[t.ID] = item
	if t.Status == StatusReady {
		item.queued = true
		heap.Push(&q.ready, item)
	}
	return cloneTask(t), nil
}

// Dequeue 取出优先级最高且匹配全部标签的就绪任务并置为 running。
func (q *MemoryQueue) Dequeue(_ context.Context, tags ...string) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var skipped []*queueItem
	defer func() {
		for _, item := range skipped {
			heap.Push(&q.ready, item)
		}
	}()

	for q.ready.Len() > 0 {
		item := heap.Pop(&q.ready).(*queueItem)
		if !item.queued || !dispatchable(item.task.Status) {
			// 已被取消、拒绝或重复入堆的残留条目。
			item.queued = false
			continue
		}
		if !item.task.HasAllTags(tags) {
			skipped = append(skipped, item)
			continue
		}
		item.queued = false
		item.task.Status = StatusRunning
		item.task.Attempts++
		item.task.UpdatedAt = time.Now().Unix()
		return cloneTask(item.task), nil
	}
	return nil, nil
}

// dispatchable 判断状态是否允许被调度执行。
func dispatchable(status Status) bool {
	return status == StatusReady || status == StatusApproved
}

// Requeue 将 running 任务退回就绪队列，优先级与入队顺序保持不变。
func (q *MemoryQueue) Requeue(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	if item.task.Status != StatusRunning {
		return ErrTaskConflict
	}
	item.task.Status = StatusReady
	item.task.UpdatedAt = time.Now().Unix()
	if !item.queued {
		item.queued = true
		heap.Push(&q.ready, item)
	}
	return nil
}

// Release 将 running 任务退回等待审批状态。
func (q *MemoryQueue) Release(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	if item.task.Status != StatusRunning {
		return ErrTaskConflict
	}
	item.task.Status = StatusPendingApproval
	item.task.UpdatedAt = time.Now().Unix()
	return nil
}

// CancelByTag 取消携带标签且尚未开始执行的任务。
func (q *MemoryQueue) CancelByTag(_ context.Context, tag string) (int, error) {
	if strings.TrimSpace(tag) == "" {
		return 0, xerrors.New(xerrors.CodeInvalidArgument, "标签不能为空")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	canceled := 0
	now := time.Now().Unix()
	for _, item := range q.tasks {
		switch item.task.Status {
		case StatusPendingApproval, StatusReady, StatusApproved:
		default:
			continue
		}
		if !item.task.HasAllTags([]string{tag}) {
			continue
		}
		item.task.Status = StatusFailed
		item.task.ErrorCode = string(CodeTaskCanceled)
		item.task.LastError = "canceled by tag " + tag
		item.task.UpdatedAt = now
		item.queued = false
		canceled++
	}
	return canceled, nil
}

// Get 返回任务副本。
func (q *MemoryQueue) Get(_ context.Context, id string) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return cloneTask(item.task), nil
}

// MarkApproved 由审批管理器调用，将等待审批的任务放行。
func (q *MemoryQueue) MarkApproved(_ context.Context, id, approver, reason string, ts int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	if item.task.Status != StatusPendingApproval {
		return ErrTaskConflict
	}
	item.task.Status = StatusApproved
	item.task.ApprovedBy = approver
	item.task.ApprovalReason = reason
	item.task.ApprovalTimestamp = ts
	item.task.UpdatedAt = time.Now().Unix()
	if !item.queued {
		item.queued = true
		heap.Push(&q.ready, item)
	}
	return nil
}

// MarkRejected 由审批管理器调用，任务进入终态。
func (q *MemoryQueue) MarkRejected(_ context.Context, id, approver, reason string, ts int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	if item.task.Status.IsTerminal() || item.task.Status == StatusRunning {
		return ErrTaskConflict
	}
	item.task.Status = StatusRejected
	item.task.ApprovedBy = approver
	item.task.ApprovalReason = reason
	item.task.ApprovalTimestamp = ts
	item.task.UpdatedAt = time.Now().Unix()
	item.queued = false
	return nil
}

// MarkCompleted 记录执行成功的结果。
func (q *MemoryQueue) MarkCompleted(_ context.Context, id string, result ExecutionResult) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	if item.task.Status != StatusRunning {
		return ErrTaskConflict
	}
	item.task.Status = StatusCompleted
	resultCopy := result
	item.task.Result = &resultCopy
	item.task.LastError = ""
	item.task.ErrorCode = ""
	item.task.UpdatedAt = time.Now().Unix()
	return nil
}

// MarkFailed 将任务标记为失败终态。
func (q *MemoryQueue) MarkFailed(_ context.Context, id string, code xerrors.Code, lastError string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	if item.task.Status.IsTerminal() {
		return ErrTaskConflict
	}
	item.task.Status = StatusFailed
	item.task.ErrorCode = string(code)
	item.task.LastError = lastError
	item.task.UpdatedAt = time.Now().Unix()
	item.queued = false
	return nil
}

// List 返回符合过滤条件的任务副本。
func (q *MemoryQueue) List(_ context.Context, opts ListOptions) ([]*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	opts.applyDefaults()

	results := make([]*Task, 0, len(q.tasks))
	for _, item := range q.tasks {
		if !matchesListFilters(item.task, opts) {
			continue
		}
		results = append(results, cloneTask(item.task))
	}
	sortTasks(results, opts.Order)
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Stats 统计符合过滤条件的任务数量与更新时间范围。
func (q *MemoryQueue) Stats(_ context.Context, opts ListOptions) (Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	opts.applyDefaults()

	stats := Stats{}
	for _, item := range q.tasks {
		if !matchesListFilters(item.task, opts) {
			continue
		}
		stats.observe(item.task)
	}
	if stats.Total == 0 {
		stats.OldestUpdatedAt = 0
		stats.NewestUpdatedAt = 0
	}
	return stats, nil
}

// Close 对内存队列无需操作。
func (q *MemoryQueue) Close() error {
	return nil
}

// ensure interface compliance at compile time
var _ Queue = (*MemoryQueue)(nil)
