package approval

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	xerrors "AgentWarden/internal/errors"
	"AgentWarden/internal/memory"
	"AgentWarden/internal/task"
	"AgentWarden/pkg/logger"
)

// Decision 表示一次审批决定。
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// Record 是一条不可变的审批记录，按任务追加，后写覆盖先写的生效语义。
type Record struct {
	ID        string   `json:"id"`
	TaskID    string   `json:"task_id"`
	Decision  Decision `json:"decision"`
	Approver  string   `json:"approver"`
	Reason    string   `json:"reason"`
	Timestamp int64    `json:"timestamp"`
}

const CodeApprovalUnauthorized xerrors.Code = "APPROVAL_UNAUTHORIZED"

func init() {
	xerrors.Register(CodeApprovalUnauthorized, xerrors.Attributes{
		Message:   "approval attempted by non-privileged identity",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     true,
	})
}

// Manager 是审批状态的唯一写入方。
// 只有配置的授权人身份可以产生生效的批准或拒绝决定；
// 其他身份的尝试一律返回 false 并记入审计日志，不视为系统错误。
type Manager struct {
	mu         sync.RWMutex
	approver   [sha256.Size]byte
	records    map[string][]*Record
	queue      task.Queue
	binder     *memory.Binder
	auditLog   *slog.Logger
	runtimeLog *slog.Logger
}

// Option 定义可选配置。
type Option func(*Manager)

// WithBinder 配置记忆基座写入，审批记录会尽力落盘为审计 packet。
func WithBinder(binder *memory.Binder) Option {
	return func(m *Manager) {
		m.binder = binder
	}
}

// NewManager 创建审批管理器。privileged 是唯一可信的授权人身份。
func NewManager(privileged string, queue task.Queue, opts ...Option) *Manager {
	m := &Manager{
		approver:   sha256.Sum256([]byte(strings.TrimSpace(privileged))),
		records:    make(map[string][]*Record),
		queue:      queue,
		auditLog:   logger.Audit(),
		runtimeLog: logger.Named("approval"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Approve 批准任务。approver 不是授权人时返回 false，任务状态不变。
func (m *Manager) Approve(ctx context.Context, taskID, approver, reason string) bool {
	return m.decide(ctx, taskID, approver, reason, DecisionApproved)
}

// Reject 拒绝任务，任务进入终态。授权规则与 Approve 相同。
func (m *Manager) Reject(ctx context.Context, taskID, approver, reason string) bool {
	return m.decide(ctx, taskID, approver, reason, DecisionRejected)
}

func (m *Manager) decide(ctx context.Context, taskID, approver, reason string, decision Decision) bool {
	if !m.authorized(approver) {
		m.auditLog.Warn("非授权身份尝试审批",
			slog.String("task_id", taskID),
			slog.String("approver", approver),
			slog.String("decision", string(decision)),
			slog.String("error_code", string(CodeApprovalUnauthorized)),
		)
		return false
	}

	now := time.Now()
	var err error
	if decision == DecisionApproved {
		err = m.queue.MarkApproved(ctx, taskID, approver, reason, now.Unix())
	} else {
		err = m.queue.MarkRejected(ctx, taskID, approver, reason, now.Unix())
	}
	if err != nil {
		m.runtimeLog.Warn("审批状态转移失败",
			slog.Any("error", err),
			slog.String("task_id", taskID),
			slog.String("decision", string(decision)),
		)
		return false
	}

	record := &Record{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		Decision:  decision,
		Approver:  approver,
		Reason:    reason,
		Timestamp: now.Unix(),
	}

	m.mu.Lock()
	m.records[taskID] = append(m.records[taskID], record)
	m.mu.Unlock()

	m.auditLog.Info("审批决定已记录",
		slog.String("task_id", taskID),
		slog.String("decision", string(decision)),
		slog.String("approver", approver),
		slog.String("reason", reason),
	)

	if m.binder != nil {
		m.binder.PersistPacket(ctx, memory.PacketApprovalRecord, map[string]any{
			"record_id": record.ID,
			"task_id":   record.TaskID,
			"decision":  string(record.Decision),
			"approver":  record.Approver,
			"reason":    record.Reason,
			"timestamp": record.Timestamp,
		}, map[string]string{
			"task_id":   taskID,
			"thread_id": taskID,
		})
	}
	return true
}

// IsApproved 查询任务最近一次审批记录是否为批准。
func (m *Manager) IsApproved(_ context.Context, taskID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	log := m.records[taskID]
	if len(log) == 0 {
		return false
	}
	return log[len(log)-1].Decision == DecisionApproved
}

// Records 返回任务的全部审批记录副本，按时间先后排列。
func (m *Manager) Records(taskID string) []*Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	log := m.records[taskID]
	result := make([]*Record, len(log))
	for i, record := range log {
		clone := *record
		result[i] = &clone
	}
	return result
}

// authorized 用常数时间比较判断身份是否为授权人。
func (m *Manager) authorized(approver string) bool {
	digest := sha256.Sum256([]byte(strings.TrimSpace(approver)))
	return subtle.ConstantTimeCompare(digest[:], m.approver[:]) == 1
}
