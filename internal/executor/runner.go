package executor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	xerrors "AgentWarden/internal/errors"
	"AgentWarden/internal/observability/alerting"
	"AgentWarden/internal/safety"
	"AgentWarden/internal/task"
	"AgentWarden/pkg/logger"
)

const defaultPollInterval = 200 * time.Millisecond

// Runner 是任务消费侧的工作池：多个 worker 轮询队列、
// 执行任务并回写终态。出队由队列保证线性化，worker 之间无共享状态。
type Runner struct {
	queue        task.Queue
	executor     *Executor
	workerCount  int
	pollInterval time.Duration
	tags         []string
	logger       *slog.Logger
	alerter      alerting.Dispatcher
}

// RunnerOption 定义可选配置。
type RunnerOption func(*Runner)

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) RunnerOption {
	return func(r *Runner) {
		if workers > 0 {
			r.workerCount = workers
		}
	}
}

// WithPollInterval 设置队列为空时的轮询间隔。
func WithPollInterval(interval time.Duration) RunnerOption {
	return func(r *Runner) {
		if interval > 0 {
			r.pollInterval = interval
		}
	}
}

// WithTagScope 限定本工作池只消费携带全部给定标签的任务。
func WithTagScope(tags ...string) RunnerOption {
	return func(r *Runner) {
		r.tags = append([]string(nil), tags...)
	}
}

// WithRunnerLogger 指定日志输出。
func WithRunnerLogger(log *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = log
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) RunnerOption {
	return func(r *Runner) {
		r.alerter = dispatcher
	}
}

// NewRunner 构造工作池。
func NewRunner(queue task.Queue, exec *Executor, opts ...RunnerOption) *Runner {
	r := &Runner{
		queue:        queue,
		executor:     exec,
		workerCount:  1,
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.workerCount <= 0 {
		r.workerCount = 1
	}
	if r.logger == nil {
		r.logger = logger.Named("runner")
	}
	return r
}

// Start 启动消费循环，直到上下文取消。
func (r *Runner) Start(ctx context.Context) error {
	if r.queue == nil || r.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "工作池未初始化")
	}

	var wg sync.WaitGroup
	for i := 0; i < r.workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.loop(ctx)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (r *Runner) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		t, err := r.queue.Dequeue(ctx, r.tags...)
		if err != nil {
			r.logger.Error("出队失败", slog.Any("error", err))
		}
		if t == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(r.pollInterval):
			}
			continue
		}
		r.handle(ctx, t)
	}
}

func (r *Runner) handle(ctx context.Context, t *task.Task) {
	result, execErr := r.executor.Execute(ctx, t)
	if execErr == nil {
		if err := r.queue.MarkCompleted(ctx, t.ID, *result); err != nil {
			r.logger.Error("标记任务完成失败", slog.Any("error", err), slog.String("task_id", t.ID))
			return
		}
		logger.Audit().Info("任务执行成功",
			slog.String("task_id", t.ID),
			slog.String("handler", t.Handler),
			slog.Int("retries_used", result.RetriesUsed),
			slog.Int64("duration_ms", result.DurationMS),
		)
		return
	}

	code := xerrors.CodeOf(execErr)
	switch code {
	case task.CodeTaskPendingApproval:
		// 入队后安全策略收紧才会走到这里：任务退回等待审批，不算失败。
		if err := r.queue.Release(ctx, t.ID); err != nil {
			r.logger.Error("退回等待审批失败", slog.Any("error", err), slog.String("task_id", t.ID))
			return
		}
		r.logger.Info("任务退回等待审批",
			slog.String("task_id", t.ID),
			slog.String("handler", t.Handler),
		)
		r.emitAlert(ctx, t, alerting.KindApprovalRequested, code, execErr)
		return
	case task.CodeTaskBlocked:
		if err := r.queue.MarkFailed(ctx, t.ID, code, execErr.Error()); err != nil {
			r.logger.Error("标记硬阻断失败", slog.Any("error", err), slog.String("task_id", t.ID))
			return
		}
		logger.Audit().Warn("任务被安全策略硬阻断",
			slog.String("task_id", t.ID),
			slog.String("handler", t.Handler),
		)
		r.emitAlert(ctx, t, alerting.KindBlocked, code, execErr)
		return
	}

	if err := r.queue.MarkFailed(ctx, t.ID, code, execErr.Error()); err != nil {
		r.logger.Error("标记任务失败状态出错", slog.Any("error", err), slog.String("task_id", t.ID))
		return
	}
	logger.Audit().Warn("任务执行失败",
		slog.String("task_id", t.ID),
		slog.String("handler", t.Handler),
		slog.String("error", execErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", t.Attempts),
	)
	r.emitAlert(ctx, t, alerting.KindExecutionFailed, code, execErr)
}

func (r *Runner) emitAlert(ctx context.Context, t *task.Task, kind alerting.Kind, code xerrors.Code, cause error) {
	if r == nil || r.alerter == nil || t == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	if cause != nil {
		message = cause.Error()
	}
	tier := ""
	if r.executor != nil && r.executor.classifier != nil {
		tier = string(r.executor.classifier.Classify(t.Handler))
	} else {
		tier = string(safety.TierSafe)
	}
	event := alerting.Event{
		Kind:       kind,
		Code:       code,
		Message:    message,
		Severity:   attrs.Severity,
		TaskID:     t.ID,
		Handler:    t.Handler,
		Tier:       tier,
		Attempts:   t.Attempts,
		OccurredAt: time.Now(),
	}
	if err := r.alerter.Notify(ctx, event); err != nil {
		r.logger.Error("告警通知失败",
			slog.Any("error", err),
			slog.String("task_id", t.ID),
			slog.String("kind", string(kind)),
		)
	}
}
