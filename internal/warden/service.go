package warden

import (
	"context"
	"log/slog"
	"time"

	"AgentWarden/internal/approval"
	xerrors "AgentWarden/internal/errors"
	"AgentWarden/internal/memory"
	"AgentWarden/internal/observability/alerting"
	"AgentWarden/internal/plan"
	"AgentWarden/internal/reactive"
	"AgentWarden/internal/safety"
	"AgentWarden/internal/task"
	"AgentWarden/pkg/logger"
)

// Service 汇聚任务的创建、审批与查询入口，供上游接入层
//（HTTP、Slack、WebSocket 等）调用。所有提交路径最终都落到
// 同一个队列，保持全局唯一的优先级顺序。
type Service struct {
	queue      task.Queue
	approvals  *approval.Manager
	classifier *safety.Classifier
	extractor  *plan.Extractor
	generator  *reactive.Generator
	binder     *memory.Binder
	alerter    alerting.Dispatcher
}

// Option 定义可选配置。
type Option func(*Service)

// WithExtractor 配置计划拆解器。
func WithExtractor(extractor *plan.Extractor) Option {
	return func(s *Service) {
		s.extractor = extractor
	}
}

// WithGenerator 配置反应式任务生成器。
func WithGenerator(generator *reactive.Generator) Option {
	return func(s *Service) {
		s.generator = generator
	}
}

// WithBinder 配置记忆基座衔接器，启用任务上下文查询。
func WithBinder(binder *memory.Binder) Option {
	return func(s *Service) {
		s.binder = binder
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) Option {
	return func(s *Service) {
		s.alerter = dispatcher
	}
}

// NewService 构造任务服务。
func NewService(queue task.Queue, approvals *approval.Manager, classifier *safety.Classifier, opts ...Option) *Service {
	s := &Service{
		queue:      queue,
		approvals:  approvals,
		classifier: classifier,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Submit 创建一个新任务。需要审批的任务会通知授权人。
func (s *Service) Submit(ctx context.Context, spec task.Spec) (*task.Task, error) {
	if s.queue == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化")
	}
	t, err := s.queue.Enqueue(ctx, spec)
	if err != nil {
		return nil, err
	}
	logger.Audit().Info("任务入队成功",
		slog.String("task_id", t.ID),
		slog.String("handler", t.Handler),
		slog.String("status", string(t.Status)),
		slog.Int("priority", t.Priority),
	)
	if t.Status == task.StatusPendingApproval {
		s.notifyApprovalRequested(ctx, t)
	}
	return t, nil
}

// SubmitBatch 依次提交一批任务描述，保持切片顺序即入队顺序。
func (s *Service) SubmitBatch(ctx context.Context, specs []task.Spec) ([]*task.Task, error) {
	tasks := make([]*task.Task, 0, len(specs))
	for _, spec := range specs {
		t, err := s.Submit(ctx, spec)
		if err != nil {
			return tasks, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// SubmitQuery 将自由文本请求转换为任务并入队。
func (s *Service) SubmitQuery(ctx context.Context, query string) ([]*task.Task, error) {
	if s.generator == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置任务生成器")
	}
	return s.SubmitBatch(ctx, s.generator.Generate(query))
}

// ExtractPlan 拆解计划的待执行动作并全部入队。
func (s *Service) ExtractPlan(ctx context.Context, planID string) ([]*task.Task, error) {
	if s.extractor == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置计划拆解器")
	}
	specs, err := s.extractor.Extract(ctx, planID)
	if err != nil {
		return nil, err
	}
	return s.SubmitBatch(ctx, specs)
}

// CancelPlan 取消计划中尚未开始执行的任务，返回取消数量。
func (s *Service) CancelPlan(ctx context.Context, planID string) (int, error) {
	if s.queue == nil {
		return 0, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化")
	}
	return s.queue.CancelByTag(ctx, planID)
}

// Approve 批准任务。授权校验由审批管理器完成。
func (s *Service) Approve(ctx context.Context, taskID, approver, reason string) bool {
	if s.approvals == nil {
		return false
	}
	return s.approvals.Approve(ctx, taskID, approver, reason)
}

// Reject 拒绝任务。
func (s *Service) Reject(ctx context.Context, taskID, approver, reason string) bool {
	if s.approvals == nil {
		return false
	}
	return s.approvals.Reject(ctx, taskID, approver, reason)
}

// ApprovalRecords 返回任务的审批历史。
func (s *Service) ApprovalRecords(taskID string) []*approval.Record {
	if s.approvals == nil {
		return nil
	}
	return s.approvals.Records(taskID)
}

// Get 返回指定任务的状态。
func (s *Service) Get(ctx context.Context, id string) (*task.Task, error) {
	if s.queue == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化")
	}
	return s.queue.Get(ctx, id)
}

// TaskContext 装配任务的记忆上下文：同一线索下的历史 packet
// 与执行者最近的结果。任务必须存在；基座不可达时返回空上下文。
func (s *Service) TaskContext(ctx context.Context, id, agentID string) (*memory.Context, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.binder.BindContext(ctx, id, agentID), nil
}

// List 返回符合过滤条件的任务列表。
func (s *Service) List(ctx context.Context, opts task.ListOptions) ([]*task.Task, error) {
	if s.queue == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化")
	}
	return s.queue.List(ctx, opts)
}

// Stats 返回符合过滤条件的任务统计信息。
func (s *Service) Stats(ctx context.Context, opts task.ListOptions) (task.Stats, error) {
	if s.queue == nil {
		return task.Stats{}, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化")
	}
	return s.queue.Stats(ctx, opts)
}

// WaitUntilCompleted 在上下文超时前轮询任务，直到进入终态。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*task.Task, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		t, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if t.Status.IsTerminal() {
			return t, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close 释放队列资源。
func (s *Service) Close() error {
	if s.queue != nil {
		return s.queue.Close()
	}
	return nil
}

func (s *Service) notifyApprovalRequested(ctx context.Context, t *task.Task) {
	if s.alerter == nil {
		return
	}
	tier := safety.TierRequiresApproval
	if s.classifier != nil {
		tier = s.classifier.Classify(t.Handler)
	}
	event := alerting.Event{
		Kind:       alerting.KindApprovalRequested,
		Code:       task.CodeTaskPendingApproval,
		Message:    "任务等待授权人批准",
		Severity:   xerrors.SeverityInfo,
		TaskID:     t.ID,
		Handler:    t.Handler,
		Tier:       string(tier),
		OccurredAt: time.Now(),
	}
	if err := s.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("审批提醒发送失败",
			slog.Any("error", err),
			slog.String("task_id", t.ID),
		)
	}
}
