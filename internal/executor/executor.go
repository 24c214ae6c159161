package executor

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "AgentWarden/internal/errors"
	"AgentWarden/internal/memory"
	"AgentWarden/internal/safety"
	"AgentWarden/internal/task"
	"AgentWarden/pkg/logger"
)

// Approvals 定义执行闸门所需的审批查询能力。
type Approvals interface {
	IsApproved(ctx context.Context, taskID string) bool
}

// Classifier 定义执行闸门所需的安全分级能力。
type Classifier interface {
	Classify(handler string) safety.Tier
}

const (
	defaultMaxRetries     = 3
	defaultBackoffBase    = time.Second
	defaultHandlerTimeout = 30 * time.Second
)

// Executor 执行单个任务：校验、分级、闸门、带退避的重试，
// 最后尽力将结果写入记忆基座。
type Executor struct {
	registry       *Registry
	classifier     Classifier
	approvals      Approvals
	binder         *memory.Binder
	maxRetries     int
	backoffBase    time.Duration
	handlerTimeout time.Duration
	logger         *slog.Logger

	// sleep 可在测试中替换以避免真实等待。
	sleep func(ctx context.Context, d time.Duration) error
}

// Option 定义可选配置。
type Option func(*Executor)

// WithMaxRetries 设置瞬时失败的最大重试次数。
func WithMaxRetries(retries int) Option {
	return func(e *Executor) {
		if retries >= 0 {
			e.maxRetries = retries
		}
	}
}

// WithBackoffBase 设置指数退避的基准间隔。
func WithBackoffBase(base time.Duration) Option {
	return func(e *Executor) {
		if base > 0 {
			e.backoffBase = base
		}
	}
}

// WithHandlerTimeout 设置单次 handler 调用的超时时间。
func WithHandlerTimeout(timeout time.Duration) Option {
	return func(e *Executor) {
		if timeout > 0 {
			e.handlerTimeout = timeout
		}
	}
}

// WithLogger 指定日志输出。
func WithLogger(log *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = log
	}
}

// New 创建执行器。
func New(registry *Registry, classifier Classifier, approvals Approvals, binder *memory.Binder, opts ...Option) *Executor {
	e := &Executor{
		registry:       registry,
		classifier:     classifier,
		approvals:      approvals,
		binder:         binder,
		maxRetries:     defaultMaxRetries,
		backoffBase:    defaultBackoffBase,
		handlerTimeout: defaultHandlerTimeout,
		sleep:          sleepContext,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.logger == nil {
		e.logger = logger.Named("executor")
	}
	return e
}

// Execute 执行任务并返回结果。
// 校验失败、硬阻断与未获批准都会立即返回且不触发任何重试；
// 硬阻断的 handler 无论审批状态如何都绝不会被调用。
func (e *Executor) Execute(ctx context.Context, t *task.Task) (*task.ExecutionResult, error) {
	if t == nil {
		return nil, xerrors.New(task.CodeTaskValidation, "task 不能为空")
	}

	// 1. 校验
	handler := e.registry.Resolve(t.Handler)
	if handler == nil {
		return nil, xerrors.New(task.CodeTaskValidation,
			fmt.Sprintf("handler %q 未注册", t.Handler))
	}
	if t.Payload == nil {
		return nil, xerrors.New(task.CodeTaskValidation, "任务 payload 不能为空")
	}

	// 2. 分级：在执行时重新分级，不信任入队时的结论。
	tier := safety.TierSafe
	if e.classifier != nil {
		tier = e.classifier.Classify(t.Handler)
	}

	// 3. 闸门
	if tier == safety.TierDangerous {
		result := e.finish(ctx, t, time.Now(), nil, 0,
			xerrors.New(task.CodeTaskBlocked,
				fmt.Sprintf("handler %q 属于 DANGEROUS 分级，永不自动执行", t.Handler)))
		return result, xerrors.New(task.CodeTaskBlocked, "")
	}
	if tier == safety.TierRequiresApproval {
		if e.approvals == nil || !e.approvals.IsApproved(ctx, t.ID) {
			return nil, xerrors.New(task.CodeTaskPendingApproval,
				fmt.Sprintf("任务 %s 等待授权人批准", t.ID))
		}
	}

	// 4. 带退避的重试执行
	start := time.Now()
	var (
		output  map[string]any
		lastErr error
	)
	for attempt := 1; attempt <= e.maxRetries+1; attempt++ {
		output, lastErr = e.invoke(ctx, handler, t.Payload)
		if lastErr == nil {
			result := e.finish(ctx, t, start, output, attempt-1, nil)
			return result, nil
		}
		if !retryable(lastErr) {
			e.logger.Warn("任务失败且不可重试",
				slog.Any("error", lastErr),
				slog.String("task_id", t.ID),
				slog.Int("attempt", attempt),
			)
			result := e.finish(ctx, t, start, nil, attempt-1, lastErr)
			return result, xerrors.Wrap(task.CodeTaskExecution, lastErr, "任务执行失败",
				xerrors.WithRetryable(false))
		}
		if attempt > e.maxRetries {
			break
		}
		delay := e.backoffBase << (attempt - 1)
		e.logger.Debug("任务执行失败，准备重试",
			slog.Any("error", lastErr),
			slog.String("task_id", t.ID),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
		)
		if err := e.sleep(ctx, delay); err != nil {
			result := e.finish(ctx, t, start, nil, attempt-1, err)
			return result, xerrors.Wrap(task.CodeTaskExecution, err, "任务在重试等待期间被取消",
				xerrors.WithRetryable(false))
		}
	}

	result := e.finish(ctx, t, start, nil, e.maxRetries, lastErr)
	return result, xerrors.Wrap(task.CodeTaskExhausted, lastErr,
		fmt.Sprintf("任务 %s 重试 %d 次后仍然失败", t.ID, e.maxRetries))
}

// invoke 以单次调用超时执行 handler。
func (e *Executor) invoke(ctx context.Context, handler Handler, payload map[string]any) (map[string]any, error) {
	callCtx := ctx
	if e.handlerTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.handlerTimeout)
		defer cancel()
	}
	output, err := handler(callCtx, payload)
	if err != nil && stdErrors.Is(err, context.DeadlineExceeded) {
		return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "handler 调用超时")
	}
	return output, err
}

// finish 汇总执行结果并尽力写入记忆基座。写入失败不改变执行结论。
func (e *Executor) finish(ctx context.Context, t *task.Task, start time.Time, output map[string]any, retriesUsed int, execErr error) *task.ExecutionResult {
	result := &task.ExecutionResult{
		TaskID:      t.ID,
		Success:     execErr == nil,
		Output:      output,
		DurationMS:  time.Since(start).Milliseconds(),
		RetriesUsed: retriesUsed,
		CompletedAt: time.Now().Unix(),
	}
	if execErr != nil {
		result.Error = execErr.Error()
	}
	if e.binder != nil {
		e.binder.PersistResult(ctx, *result)
	}
	return result
}

// retryable 判断 handler 返回的错误是否值得重试。
// 外部 handler 的普通错误默认视为瞬时故障；只有显式标记
// 不可重试的统一错误才会短路。
func retryable(err error) bool {
	if e, ok := xerrors.From(err); ok {
		return e.Retryable()
	}
	return true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
