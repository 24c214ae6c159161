package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "AgentWarden/internal/errors"
	"AgentWarden/pkg/logger"
)

// Channel 表示通知渠道。
type Channel string

// 支持的通知渠道
const (
	ChannelLog  Channel = "log"
	ChannelAMQP Channel = "amqp"
)

// Kind 表示事件类别，供人工前端区分"等待审批"与"永不执行"。
type Kind string

const (
	KindApprovalRequested Kind = "approval_requested"
	KindBlocked           Kind = "blocked"
	KindExecutionFailed   Kind = "execution_failed"
)

// Event 描述一次需要通知人工的事件。
type Event struct {
	Kind       Kind              `json:"kind"`
	Code       xerrors.Code      `json:"code,omitempty"`
	Message    string            `json:"message"`
	Severity   xerrors.Severity  `json:"severity"`
	TaskID     string            `json:"task_id"`
	Handler    string            `json:"handler,omitempty"`
	Tier       string            `json:"tier,omitempty"`
	Attempts   int               `json:"attempts,omitempty"`
	MaxRetries int               `json:"max_retries,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Notifier 负责将事件发送到指定渠道。
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 将事件广播给多个通知器。
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher 实现将事件投递到多个通知器的逻辑。
type FanoutDispatcher struct {
	notifiers map[Channel]Notifier
}

// NewFanout 创建一个新的 FanoutDispatcher。
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	set := make(map[Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		set[n.Channel()] = n
	}
	return &FanoutDispatcher{notifiers: set}
}

// Notify 将事件广播至所有注册渠道。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", notifier.Channel(), err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// LogNotifier 将事件写入审计日志，是始终可用的兜底渠道。
type LogNotifier struct{}

// Channel 返回日志渠道。
func (n *LogNotifier) Channel() Channel { return ChannelLog }

// Notify 记录事件。
func (n *LogNotifier) Notify(_ context.Context, event Event) error {
	logger.Audit().Warn("任务事件",
		slog.String("kind", string(event.Kind)),
		slog.String("task_id", event.TaskID),
		slog.String("handler", event.Handler),
		slog.String("tier", event.Tier),
		slog.String("code", string(event.Code)),
		slog.String("severity", string(event.Severity)),
		slog.String("message", event.Message),
		slog.Int("attempts", event.Attempts),
	)
	return nil
}
